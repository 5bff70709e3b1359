package feed

import (
	"fmt"

	"github.com/ventapp/ventfeed/internal/errs"
)

type pendingKey struct {
	postID   string
	viewerID string
}

// Coordinator applies speculative like/unlike deltas to aggregate records
// ahead of the durable write, and reverts them exactly on failure. All
// methods run on the engine's event loop.
//
// At most one mutation per (post, viewer) pair may be in flight; a
// double-tap while the first attempt is unresolved gets
// ErrMutationPending and changes nothing.
type Coordinator struct {
	builder  *Builder
	viewerID string
	pending  map[pendingKey]struct{}
}

// NewCoordinator creates a coordinator bound to the builder and viewer.
func NewCoordinator(builder *Builder, viewerID string) *Coordinator {
	return &Coordinator{
		builder:  builder,
		viewerID: viewerID,
		pending:  make(map[pendingKey]struct{}),
	}
}

// InFlight reports whether a mutation is pending for the post.
func (c *Coordinator) InFlight(postID string) bool {
	_, ok := c.pending[pendingKey{postID: postID, viewerID: c.viewerID}]
	return ok
}

// BeginLike validates a like attempt and applies the optimistic delta:
// isLikedByViewer set, likeCount up one. Returns the edge to write
// durably, or nil when the viewer already likes the post (nothing to do).
func (c *Coordinator) BeginLike(postID string, createdAt int64) (*LikeEdge, error) {
	rec, err := c.checkAttempt(postID)
	if err != nil {
		return nil, err
	}
	if rec.Post.AuthorID == c.viewerID {
		return nil, errs.Forbidden("cannot like your own thought")
	}
	if c.builder.HasLike(postID, c.viewerID) {
		return nil, nil
	}

	c.pending[pendingKey{postID: postID, viewerID: c.viewerID}] = struct{}{}
	c.builder.ApplyLikeCreated(postID, c.viewerID)

	return &LikeEdge{
		ID:           LikeEdgeID(postID, c.viewerID),
		PostID:       postID,
		UserID:       c.viewerID,
		PostAuthorID: rec.Post.AuthorID,
		CreatedAt:    createdAt,
	}, nil
}

// ResolveLike finishes a like attempt. On write failure the optimistic
// delta is reverted exactly: count back down, flag cleared. On success
// the speculative edge stays; the eventual live event for the same
// (post, liker) pair deduplicates against it.
func (c *Coordinator) ResolveLike(postID string, writeErr error) error {
	delete(c.pending, pendingKey{postID: postID, viewerID: c.viewerID})
	if writeErr == nil {
		return nil
	}
	c.builder.ApplyLikeDeleted(postID, c.viewerID)
	return errs.Transient(fmt.Errorf("like failed: %w", writeErr))
}

// BeginUnlike validates an unlike attempt and applies the optimistic
// delta. Returns the edge id to delete durably, or "" when the viewer
// does not currently like the post.
func (c *Coordinator) BeginUnlike(postID string) (string, error) {
	if _, err := c.checkAttempt(postID); err != nil {
		return "", err
	}
	if !c.builder.HasLike(postID, c.viewerID) {
		return "", nil
	}

	c.pending[pendingKey{postID: postID, viewerID: c.viewerID}] = struct{}{}
	c.builder.ApplyLikeDeleted(postID, c.viewerID)
	return LikeEdgeID(postID, c.viewerID), nil
}

// ResolveUnlike finishes an unlike attempt, restoring the edge on write
// failure. A concurrent NotFound means the edge was already gone server
// side; the optimistic removal stands.
func (c *Coordinator) ResolveUnlike(postID string, writeErr error) error {
	delete(c.pending, pendingKey{postID: postID, viewerID: c.viewerID})
	if writeErr == nil {
		return nil
	}
	if isNotFound(writeErr) {
		return nil
	}
	c.builder.ApplyLikeCreated(postID, c.viewerID)
	return errs.Transient(fmt.Errorf("unlike failed: %w", writeErr))
}

// checkAttempt enforces the shared preconditions for both mutations.
func (c *Coordinator) checkAttempt(postID string) (*AggregateRecord, error) {
	if c.viewerID == "" {
		return nil, errs.Forbidden("sign in to react to thoughts")
	}
	rec := c.builder.Get(postID)
	if rec == nil {
		return nil, fmt.Errorf("post %s: %w", postID, errs.ErrNotFound)
	}
	if c.InFlight(postID) {
		return nil, errs.ErrMutationPending
	}
	return rec, nil
}
