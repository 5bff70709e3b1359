package feed

import (
	"reflect"
	"testing"
)

func projectionFixture() (map[string]*AggregateRecord, []string) {
	posts := []Post{
		{ID: "p1", Username: "alice", Body: "hello world", Tag: "Rant", CreatedAt: 300},
		{ID: "p2", Username: "bob", Body: "sunshine today", Tag: "Joy", CreatedAt: 200},
		{ID: "p3", Username: "carol", Body: "hello again", Tag: "Joy", CreatedAt: 100},
	}
	records := make(map[string]*AggregateRecord)
	order := make([]string, 0, len(posts))
	for _, p := range posts {
		records[p.ID] = &AggregateRecord{Post: p}
		order = append(order, p.ID)
	}
	return records, order
}

func TestProject(t *testing.T) {
	records, order := projectionFixture()

	tests := []struct {
		name     string
		category string
		search   string
		want     []string
	}{
		{"all", CategoryAll, "", []string{"p1", "p2", "p3"}},
		{"empty category passes everything", "", "", []string{"p1", "p2", "p3"}},
		{"category only", "Joy", "", []string{"p2", "p3"}},
		{"search only", CategoryAll, "hello", []string{"p1", "p3"}},
		{"search matches username", CategoryAll, "bob", []string{"p2"}},
		{"search is case insensitive", CategoryAll, "HELLO", []string{"p1", "p3"}},
		{"category and search conjunction", "Joy", "hello", []string{"p3"}},
		{"category excludes search match", "Rant", "sunshine", []string{}},
		{"no match", CategoryAll, "zzz", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project(records, order, tt.category, tt.search)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Project(%q, %q) = %v, want %v", tt.category, tt.search, got, tt.want)
			}
		})
	}
}

func TestProjectDoesNotReorder(t *testing.T) {
	records, order := projectionFixture()

	// Like counts must not influence projection order.
	records["p3"].LikeCount = 99

	got := Project(records, order, CategoryAll, "")
	want := []string{"p1", "p2", "p3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order changed under likes: got %v, want %v", got, want)
	}
}

func TestProjectSkipsMissingRecords(t *testing.T) {
	records, order := projectionFixture()
	delete(records, "p2")

	got := Project(records, order, CategoryAll, "")
	want := []string{"p1", "p3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
