package feed

import (
	"sort"

	"github.com/ventapp/ventfeed/internal/preview"
)

// Builder owns the post-id → AggregateRecord mapping and keeps it
// consistent as partial updates arrive in any interleaving. Every method
// must run on the engine's event loop; records are only handed out as
// clones.
//
// Application is commutative and idempotent: a like edge arriving before
// its post is staged and folded in on post arrival, and replaying any
// edge event converges because likes are tracked as (post, liker) sets,
// never as raw event counts.
type Builder struct {
	viewerID string

	records map[string]*AggregateRecord
	order   []string // post ids, created_at descending

	likes  map[string]map[string]struct{} // postID -> liker set
	staged map[string]map[string]struct{} // likes seen before their post

	profiles map[string]*UserProfile
	byAuthor map[string]map[string]struct{} // authorID -> post ids
}

// NewBuilder creates a builder for the given viewer identity.
func NewBuilder(viewerID string) *Builder {
	return &Builder{
		viewerID: viewerID,
		records:  make(map[string]*AggregateRecord),
		likes:    make(map[string]map[string]struct{}),
		staged:   make(map[string]map[string]struct{}),
		profiles: make(map[string]*UserProfile),
		byAuthor: make(map[string]map[string]struct{}),
	}
}

// UpsertPost inserts or refreshes a post's record, attaching the last
// cached author profile (may be nil until the profile resolve arrives)
// and folding in any staged like edges. Returns true when the post is new.
func (b *Builder) UpsertPost(p *Post) bool {
	rec, exists := b.records[p.ID]
	if exists {
		rec.Post = *p
		b.refreshLikes(p.ID)
		return false
	}

	rec = &AggregateRecord{
		Post:   *p,
		Author: b.profiles[p.AuthorID],
	}
	b.records[p.ID] = rec

	if stagedSet, ok := b.staged[p.ID]; ok {
		b.likes[p.ID] = stagedSet
		delete(b.staged, p.ID)
	}
	b.refreshLikes(p.ID)

	posts := b.byAuthor[p.AuthorID]
	if posts == nil {
		posts = make(map[string]struct{})
		b.byAuthor[p.AuthorID] = posts
	}
	posts[p.ID] = struct{}{}

	b.insertOrdered(p)
	return true
}

// RemovePost drops a post's record and its like state. Returns true when
// the record existed. The caller cancels any subscriptions scoped to the
// post.
func (b *Builder) RemovePost(postID string) bool {
	rec, ok := b.records[postID]
	if !ok {
		return false
	}
	delete(b.records, postID)
	delete(b.likes, postID)
	delete(b.staged, postID)

	if posts, ok := b.byAuthor[rec.Post.AuthorID]; ok {
		delete(posts, postID)
		if len(posts) == 0 {
			delete(b.byAuthor, rec.Post.AuthorID)
		}
	}

	for i, id := range b.order {
		if id == postID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

// ApplyLikeCreated registers a like edge. Idempotent by (post, liker)
// key: replays and the echo of a confirmed optimistic like are no-ops.
// Edges for posts not yet in view are staged.
func (b *Builder) ApplyLikeCreated(postID, likerID string) {
	target := b.likes
	if _, ok := b.records[postID]; !ok {
		target = b.staged
	}
	set := target[postID]
	if set == nil {
		set = make(map[string]struct{})
		target[postID] = set
	}
	set[likerID] = struct{}{}
	b.refreshLikes(postID)
}

// ApplyLikeDeleted removes a like edge; unknown edges are a no-op.
func (b *Builder) ApplyLikeDeleted(postID, likerID string) {
	for _, target := range []map[string]map[string]struct{}{b.likes, b.staged} {
		if set, ok := target[postID]; ok {
			delete(set, likerID)
			if len(set) == 0 {
				delete(target, postID)
			}
		}
	}
	b.refreshLikes(postID)
}

// HasLike reports whether the (post, liker) edge currently exists.
func (b *Builder) HasLike(postID, likerID string) bool {
	if set, ok := b.likes[postID]; ok {
		if _, liked := set[likerID]; liked {
			return true
		}
	}
	if set, ok := b.staged[postID]; ok {
		_, liked := set[likerID]
		return liked
	}
	return false
}

// ApplyProfile updates the cached profile and fans it out to every record
// currently authored by that user.
func (b *Builder) ApplyProfile(p *UserProfile) {
	b.profiles[p.ID] = p
	for postID := range b.byAuthor[p.ID] {
		b.records[postID].Author = p
	}
}

// Profile returns the cached profile for a user, or nil.
func (b *Builder) Profile(userID string) *UserProfile {
	return b.profiles[userID]
}

// HasAuthor reports whether any record in view is authored by the user.
func (b *Builder) HasAuthor(authorID string) bool {
	return len(b.byAuthor[authorID]) > 0
}

// SetPreview attaches a resolved link preview to a record; unknown posts
// are a no-op (deleted while resolving).
func (b *Builder) SetPreview(postID string, p *preview.Preview) {
	if rec, ok := b.records[postID]; ok {
		rec.Preview = p
	}
}

// SetReplyCount pins the recursively-counted reply total on a record.
func (b *Builder) SetReplyCount(postID string, n int) {
	if rec, ok := b.records[postID]; ok {
		rec.ReplyCount = n
	}
}

// Get returns the live record for a post, or nil. The pointer is only
// valid inside the event loop; use Clone to escape it.
func (b *Builder) Get(postID string) *AggregateRecord {
	return b.records[postID]
}

// Len returns the number of records in view.
func (b *Builder) Len() int { return len(b.records) }

// OrderedIDs returns post ids in canonical creation-time-descending
// order. The returned slice is a copy.
func (b *Builder) OrderedIDs() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// refreshLikes recomputes the derived like fields on one record from the
// edge set, atomically from the loop's point of view.
func (b *Builder) refreshLikes(postID string) {
	rec, ok := b.records[postID]
	if !ok {
		return
	}
	set := b.likes[postID]
	rec.LikeCount = len(set)
	_, rec.IsLikedByViewer = set[b.viewerID]
}

// insertOrdered places a new post id at its position in the descending
// creation-time order; ties break on id so the order is deterministic.
func (b *Builder) insertOrdered(p *Post) {
	i := sort.Search(len(b.order), func(i int) bool {
		other := b.records[b.order[i]].Post
		if other.CreatedAt != p.CreatedAt {
			return other.CreatedAt < p.CreatedAt
		}
		return other.ID > p.ID
	})
	b.order = append(b.order, "")
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = p.ID
}
