// Package feed implements the client-side feed aggregation and live-sync
// engine: it merges independent real-time subscriptions (posts, like
// edges, reply trees, user profiles, notifications) into one consistent
// set of denormalized view records, applies optimistic like/unlike with
// rollback, and derives the rendered subset by category and search.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ventapp/ventfeed/internal/errs"
	"github.com/ventapp/ventfeed/internal/preview"
)

// Post is an immutable thought. Only deletion by its owner mutates it,
// and that arrives as a tombstone change.
type Post struct {
	ID        string `json:"id"`
	AuthorID  string `json:"user_id"`
	Username  string `json:"username"`
	Body      string `json:"text"`
	Tag       string `json:"tag"`
	CreatedAt int64  `json:"created_at"`
}

// LikeEdge is an existence-only (post, liker) pair.
type LikeEdge struct {
	ID           string `json:"id"`
	PostID       string `json:"post_id"`
	UserID       string `json:"user_id"`
	PostAuthorID string `json:"post_author_id"`
	CreatedAt    int64  `json:"created_at"`
}

// LikeEdgeID is the canonical identifier for a (post, liker) pair; the
// backend enforces at-most-one edge per pair through it.
func LikeEdgeID(postID, userID string) string {
	return postID + ":" + userID
}

// ReplyNode is one node of a post's reply tree. ParentID is the post for
// top-level replies and another reply otherwise.
type ReplyNode struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	ParentID  string `json:"parent_id"`
	AuthorID  string `json:"user_id"`
	Username  string `json:"username"`
	Body      string `json:"text"`
	CreatedAt int64  `json:"created_at"`

	// Deleted marks a tombstoned node: it stays in the tree so children
	// and notification references survive, but it is not counted.
	Deleted bool `json:"deleted,omitempty"`
}

// NotificationKind is the reason a notification was produced.
type NotificationKind string

const (
	NotificationReply NotificationKind = "reply"
	NotificationLike  NotificationKind = "like"
)

// Notification is produced by the backend as a side effect of a reply or
// like. The read flag only ever transitions false to true.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	SenderID    string           `json:"sender_id"`
	Kind        NotificationKind `json:"type"`
	PostID      string           `json:"post_id"`
	Read        bool             `json:"read"`
	CreatedAt   int64            `json:"created_at"`
}

// UserProfile is the public slice of a user record.
type UserProfile struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic,omitempty"`
	Emoji      string `json:"emoji,omitempty"`
	Public     bool   `json:"public"`
}

// Avatar returns the display avatar: picture URL if set, emoji fallback
// otherwise.
func (p *UserProfile) Avatar() string {
	if p == nil {
		return "🙂"
	}
	if p.ProfilePic != "" {
		return p.ProfilePic
	}
	if p.Emoji != "" {
		return p.Emoji
	}
	return "🙂"
}

// AggregateRecord is the denormalized, never-persisted view of one post:
// the post plus its live counters and resolved author snapshot. Author is
// nil until the asynchronous profile resolve lands; render with the
// fallback avatar until then.
type AggregateRecord struct {
	Post            Post
	LikeCount       int
	IsLikedByViewer bool
	ReplyCount      int
	Author          *UserProfile
	Preview         *preview.Preview
}

// Clone returns an independent copy safe to hand outside the event loop.
func (r *AggregateRecord) Clone() *AggregateRecord {
	out := *r
	if r.Author != nil {
		a := *r.Author
		out.Author = &a
	}
	if r.Preview != nil {
		p := *r.Preview
		out.Preview = &p
	}
	return &out
}

// ValidateBody checks post/reply text against the configured limits.
func ValidateBody(body string, maxLen int) error {
	if strings.TrimSpace(body) == "" {
		return errs.Validation("body must not be empty")
	}
	if maxLen > 0 && len(body) > maxLen {
		return errs.Validation("body exceeds %d bytes", maxLen)
	}
	return nil
}

func decode[T any](data []byte, label string) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", label, err)
	}
	return &v, nil
}

// DecodePost decodes a post payload.
func DecodePost(data []byte) (*Post, error) { return decode[Post](data, "post") }

// DecodeLikeEdge decodes a like edge payload.
func DecodeLikeEdge(data []byte) (*LikeEdge, error) { return decode[LikeEdge](data, "like edge") }

// DecodeReplyNode decodes a reply payload.
func DecodeReplyNode(data []byte) (*ReplyNode, error) { return decode[ReplyNode](data, "reply") }

// DecodeNotification decodes a notification payload.
func DecodeNotification(data []byte) (*Notification, error) {
	return decode[Notification](data, "notification")
}

// DecodeUserProfile decodes a user payload.
func DecodeUserProfile(data []byte) (*UserProfile, error) {
	return decode[UserProfile](data, "user profile")
}
