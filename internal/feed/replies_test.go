package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ventapp/ventfeed/internal/cache"
)

func newTestTree() *ReplyTree {
	return NewReplyTree(cache.NewMemory(time.Minute), 256)
}

func addReply(t *testing.T, tree *ReplyTree, id, postID, parentID string) {
	t.Helper()
	root := tree.Add(context.Background(), &ReplyNode{
		ID:       id,
		PostID:   postID,
		ParentID: parentID,
		AuthorID: "u-" + id,
		Body:     "reply " + id,
	})
	if root != postID {
		t.Fatalf("Add(%s) root = %q, want %q", id, root, postID)
	}
}

func TestCountDescendantsNested(t *testing.T) {
	tree := newTestTree()
	ctx := context.Background()

	// Two top-level replies, each with three children: 2 + 6 = 8.
	for i := 0; i < 2; i++ {
		parent := fmt.Sprintf("r%d", i)
		addReply(t, tree, parent, "p1", "p1")
		for j := 0; j < 3; j++ {
			addReply(t, tree, fmt.Sprintf("%s-c%d", parent, j), "p1", parent)
		}
	}

	if got := tree.CountDescendants(ctx, "p1"); got != 8 {
		t.Errorf("CountDescendants(p1) = %d, want 8", got)
	}
	if got := tree.CountDescendants(ctx, "r0"); got != 3 {
		t.Errorf("CountDescendants(r0) = %d, want 3", got)
	}
}

func TestCountDescendantsDeepChain(t *testing.T) {
	tree := newTestTree()
	ctx := context.Background()

	// A degenerate deep chain must count without stack growth.
	const depth = 2000
	parent := "p1"
	for i := 0; i < depth; i++ {
		id := fmt.Sprintf("r%d", i)
		addReply(t, tree, id, "p1", parent)
		parent = id
	}

	if got := tree.CountDescendants(ctx, "p1"); got != depth {
		t.Errorf("CountDescendants(p1) = %d, want %d", got, depth)
	}
}

func TestCountDescendantsMemoInvalidation(t *testing.T) {
	tree := newTestTree()
	ctx := context.Background()

	addReply(t, tree, "r1", "p1", "p1")
	addReply(t, tree, "r1-c1", "p1", "r1")

	if got := tree.CountDescendants(ctx, "p1"); got != 2 {
		t.Fatalf("initial count = %d, want 2", got)
	}

	// A new grandchild must invalidate the whole ancestor chain.
	addReply(t, tree, "r1-c1-g1", "p1", "r1-c1")
	if got := tree.CountDescendants(ctx, "p1"); got != 3 {
		t.Errorf("count after add = %d, want 3", got)
	}
	if got := tree.CountDescendants(ctx, "r1"); got != 2 {
		t.Errorf("CountDescendants(r1) = %d, want 2", got)
	}
}

func TestTombstoneKeepsChildrenCounting(t *testing.T) {
	tree := newTestTree()
	ctx := context.Background()

	addReply(t, tree, "r1", "p1", "p1")
	addReply(t, tree, "r1-c1", "p1", "r1")
	addReply(t, tree, "r1-c2", "p1", "r1")

	if root := tree.Tombstone(ctx, "r1"); root != "p1" {
		t.Fatalf("Tombstone root = %q, want p1", root)
	}

	// The tombstoned node stops counting; its subtree survives.
	if got := tree.CountDescendants(ctx, "p1"); got != 2 {
		t.Errorf("count after tombstone = %d, want 2", got)
	}
	node := tree.Get("r1")
	if node == nil || !node.Deleted {
		t.Fatal("tombstoned node missing or not marked deleted")
	}
	if node.Body != "" {
		t.Errorf("tombstoned node kept body %q", node.Body)
	}
	if tree.Get("r1-c1") == nil {
		t.Error("child vanished with tombstoned parent")
	}
}

func TestCountDescendantsStopsOnCancel(t *testing.T) {
	tree := NewReplyTree(cache.NewMemory(time.Minute), 1)
	for i := 0; i < 5; i++ {
		addReply(t, tree, fmt.Sprintf("r%d", i), "p1", "p1")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if got := tree.CountDescendants(cancelled, "p1"); got >= 5 {
		t.Errorf("cancelled count = %d, want partial", got)
	}
	// The partial result must not poison the memo.
	if got := tree.CountDescendants(context.Background(), "p1"); got != 5 {
		t.Errorf("count after cancel = %d, want 5", got)
	}
}

func TestTombstoneUnknownNode(t *testing.T) {
	tree := newTestTree()
	if root := tree.Tombstone(context.Background(), "missing"); root != "" {
		t.Errorf("Tombstone(missing) = %q, want empty", root)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	tree := newTestTree()
	ctx := context.Background()

	node := &ReplyNode{ID: "r1", PostID: "p1", ParentID: "p1", Body: "hi"}
	if root := tree.Add(ctx, node); root != "p1" {
		t.Fatalf("first Add root = %q, want p1", root)
	}
	// Redelivery of the identical node changes nothing.
	if root := tree.Add(ctx, &ReplyNode{ID: "r1", PostID: "p1", ParentID: "p1", Body: "hi"}); root != "" {
		t.Errorf("duplicate Add root = %q, want empty", root)
	}
	if got := tree.CountDescendants(ctx, "p1"); got != 1 {
		t.Errorf("count after duplicate = %d, want 1", got)
	}
}

func TestDropPost(t *testing.T) {
	tree := newTestTree()
	ctx := context.Background()

	addReply(t, tree, "r1", "p1", "p1")
	addReply(t, tree, "r1-c1", "p1", "r1")
	addReply(t, tree, "other", "p2", "p2")

	tree.DropPost(ctx, "p1")

	if tree.Get("r1") != nil || tree.Get("r1-c1") != nil {
		t.Error("nodes of dropped post survive")
	}
	if got := tree.CountDescendants(ctx, "p1"); got != 0 {
		t.Errorf("count after drop = %d, want 0", got)
	}
	if got := tree.CountDescendants(ctx, "p2"); got != 1 {
		t.Errorf("unrelated post count = %d, want 1", got)
	}
}
