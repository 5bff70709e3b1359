// Package backend defines the external change-source collaborator the feed
// engine runs against. Implementations own durability, querying and
// real-time fan-out; the engine only consumes this interface.
package backend

import (
	"context"
	"io"
)

// Collection names used by the feed engine.
const (
	CollectionPosts         = "posts"
	CollectionLikes         = "likes"
	CollectionReplies       = "replies"
	CollectionNotifications = "notifications"
	CollectionUsers         = "users"
)

// ChangeType identifies what happened to an entity.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is a single live event from a subscription. Data carries the
// entity's JSON payload; a deleted change carries no payload and acts as
// a tombstone.
type Change struct {
	Type       ChangeType
	Collection string
	ID         string
	Data       []byte
}

// Filter is a single equality constraint on a JSON field.
type Filter struct {
	Field string
	Value string
}

// Query describes a one-shot read or the scope of a live subscription.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Record is one entity returned by Query.
type Record struct {
	ID   string
	Data []byte
}

// WriteMode selects the durable write operation.
type WriteMode string

const (
	WriteInsert WriteMode = "insert"
	WriteUpdate WriteMode = "update"
	WriteDelete WriteMode = "delete"
)

// Backend is the generic change-source collaborator.
//
// Subscribe returns a channel of changes scoped by the query. The channel
// is closed when the context is cancelled or the transport fails; after a
// transport failure the final receive yields ok=false and the caller
// decides whether to reopen. Changes on one subscription are delivered in
// arrival order; no ordering is guaranteed across subscriptions.
type Backend interface {
	Query(ctx context.Context, q Query) ([]Record, error)
	Subscribe(ctx context.Context, q Query) (<-chan Change, error)
	Write(ctx context.Context, collection, id string, data []byte, mode WriteMode) error
	Close() error
}

// BlobStore uploads opaque blobs (profile pictures) and returns public URLs.
type BlobStore interface {
	UploadBlob(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	RemoveBlob(ctx context.Context, key string) error
}
