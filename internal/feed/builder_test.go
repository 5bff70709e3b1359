package feed

import (
	"reflect"
	"testing"
)

func TestBuilderUpsertOrdering(t *testing.T) {
	b := NewBuilder("viewer")

	b.UpsertPost(&Post{ID: "old", CreatedAt: 100})
	b.UpsertPost(&Post{ID: "new", CreatedAt: 300})
	b.UpsertPost(&Post{ID: "mid", CreatedAt: 200})

	want := []string{"new", "mid", "old"}
	if got := b.OrderedIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("OrderedIDs() = %v, want %v", got, want)
	}
}

func TestBuilderUpsertIsIdempotent(t *testing.T) {
	b := NewBuilder("viewer")

	p := &Post{ID: "p1", CreatedAt: 100}
	if !b.UpsertPost(p) {
		t.Fatal("first upsert should report new")
	}
	if b.UpsertPost(p) {
		t.Error("second upsert should not report new")
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
	if got := len(b.OrderedIDs()); got != 1 {
		t.Errorf("order has %d entries, want 1", got)
	}
}

func TestBuilderLikeIdempotence(t *testing.T) {
	b := NewBuilder("viewer")
	b.UpsertPost(&Post{ID: "p1", CreatedAt: 100})

	// Optimistic apply followed by the live echo of the same edge.
	b.ApplyLikeCreated("p1", "viewer")
	b.ApplyLikeCreated("p1", "viewer")
	b.ApplyLikeCreated("p1", "other")

	rec := b.Get("p1")
	if rec.LikeCount != 2 {
		t.Errorf("LikeCount = %d, want 2", rec.LikeCount)
	}
	if !rec.IsLikedByViewer {
		t.Error("IsLikedByViewer = false, want true")
	}

	b.ApplyLikeDeleted("p1", "viewer")
	b.ApplyLikeDeleted("p1", "viewer")

	rec = b.Get("p1")
	if rec.LikeCount != 1 {
		t.Errorf("LikeCount after delete = %d, want 1", rec.LikeCount)
	}
	if rec.IsLikedByViewer {
		t.Error("IsLikedByViewer = true, want false")
	}
}

func TestBuilderStagedLikesFoldInOnPostArrival(t *testing.T) {
	b := NewBuilder("viewer")

	// Edges arrive before their post; any interleaving must converge.
	b.ApplyLikeCreated("p1", "u1")
	b.ApplyLikeCreated("p1", "u2")
	b.ApplyLikeDeleted("p1", "u2")

	b.UpsertPost(&Post{ID: "p1", CreatedAt: 100})

	rec := b.Get("p1")
	if rec.LikeCount != 1 {
		t.Errorf("LikeCount = %d, want 1", rec.LikeCount)
	}
	if !b.HasLike("p1", "u1") {
		t.Error("HasLike(p1, u1) = false, want true")
	}
	if b.HasLike("p1", "u2") {
		t.Error("HasLike(p1, u2) = true, want false")
	}
}

func TestBuilderRemovePost(t *testing.T) {
	b := NewBuilder("viewer")
	b.UpsertPost(&Post{ID: "p1", AuthorID: "author", CreatedAt: 100})
	b.ApplyLikeCreated("p1", "u1")

	if !b.RemovePost("p1") {
		t.Fatal("RemovePost should report existing record")
	}
	if b.RemovePost("p1") {
		t.Error("second RemovePost should report missing record")
	}
	if b.Get("p1") != nil {
		t.Error("record still present after removal")
	}
	if len(b.OrderedIDs()) != 0 {
		t.Error("order still holds removed post")
	}
}

func TestBuilderHasAuthorTracksRemoval(t *testing.T) {
	b := NewBuilder("viewer")
	b.UpsertPost(&Post{ID: "p1", AuthorID: "author", CreatedAt: 100})
	b.UpsertPost(&Post{ID: "p2", AuthorID: "author", CreatedAt: 200})

	if !b.HasAuthor("author") {
		t.Fatal("HasAuthor = false with two posts in view")
	}
	b.RemovePost("p1")
	if !b.HasAuthor("author") {
		t.Error("HasAuthor = false with one post remaining")
	}
	b.RemovePost("p2")
	if b.HasAuthor("author") {
		t.Error("HasAuthor = true after the last post left")
	}
	if b.HasAuthor("stranger") {
		t.Error("HasAuthor = true for unknown author")
	}
}

func TestBuilderProfileFanOut(t *testing.T) {
	b := NewBuilder("viewer")
	b.UpsertPost(&Post{ID: "p1", AuthorID: "author", CreatedAt: 400})
	b.UpsertPost(&Post{ID: "p2", AuthorID: "author", CreatedAt: 300})
	b.UpsertPost(&Post{ID: "p3", AuthorID: "author", CreatedAt: 200})
	b.UpsertPost(&Post{ID: "other", AuthorID: "someone-else", CreatedAt: 100})

	profile := &UserProfile{ID: "author", Username: "alice", Emoji: "🔥"}
	b.ApplyProfile(profile)

	for _, id := range []string{"p1", "p2", "p3"} {
		rec := b.Get(id)
		if rec.Author == nil || rec.Author.Username != "alice" {
			t.Errorf("post %s missing fanned-out profile", id)
		}
	}
	if b.Get("other").Author != nil {
		t.Error("unrelated post received the profile")
	}

	// A post arriving after the profile picks it up from the cache.
	b.UpsertPost(&Post{ID: "p4", AuthorID: "author", CreatedAt: 50})
	if rec := b.Get("p4"); rec.Author == nil || rec.Author.Emoji != "🔥" {
		t.Error("late post did not pick up cached profile")
	}
}

func TestBuilderCloneIsIndependent(t *testing.T) {
	b := NewBuilder("viewer")
	b.UpsertPost(&Post{ID: "p1", AuthorID: "author", CreatedAt: 100})
	b.ApplyProfile(&UserProfile{ID: "author", Username: "alice"})

	clone := b.Get("p1").Clone()
	clone.LikeCount = 42
	clone.Author.Username = "mallory"

	rec := b.Get("p1")
	if rec.LikeCount != 0 {
		t.Error("clone mutation leaked into live record")
	}
	if rec.Author.Username != "alice" {
		t.Error("clone author mutation leaked into live record")
	}
}
