package feed

import "strings"

// CategoryAll is the sentinel category that passes every post through.
const CategoryAll = "All"

// Project derives the rendered subset of the feed: post ids in canonical
// creation-time-descending order, filtered by category and search text.
// It is a pure function of its inputs — it never re-sorts, only filters —
// so recomputing on every input change is safe and cheap.
//
// Search is a case-insensitive substring match against the body OR the
// author username; the empty string matches everything.
func Project(records map[string]*AggregateRecord, orderedIDs []string, category, search string) []string {
	needle := strings.ToLower(search)

	out := make([]string, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		rec, ok := records[id]
		if !ok {
			continue
		}
		if category != CategoryAll && category != "" && rec.Post.Tag != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.Post.Body), needle) &&
			!strings.Contains(strings.ToLower(rec.Post.Username), needle) {
			continue
		}
		out = append(out, id)
	}
	return out
}
