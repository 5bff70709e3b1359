package feed

import (
	"context"

	"github.com/ventapp/ventfeed/internal/cache"
)

// ReplyTree holds every known reply node, indexed by parent, and serves
// memoized descendant counts. Nodes are append-only and acyclic; deletes
// tombstone in place (children survive, the node stops counting), so no
// cycle protection is needed but depth is unbounded.
type ReplyTree struct {
	nodes    map[string]*ReplyNode
	children map[string][]string // parent ref (post or reply id) -> child ids
	counts   cache.Counts
	budget   int // nodes visited between cancellation checks
}

// NewReplyTree creates an empty tree backed by the given counts cache.
// budget caps how many nodes a count visits between cancellation checks;
// zero or negative disables the check.
func NewReplyTree(counts cache.Counts, budget int) *ReplyTree {
	return &ReplyTree{
		nodes:    make(map[string]*ReplyNode),
		children: make(map[string][]string),
		counts:   counts,
		budget:   budget,
	}
}

// Add inserts or refreshes a reply node and invalidates the memoized
// counts along its ancestor chain. Returns the root post id, or "" when
// the node was already known unchanged.
func (t *ReplyTree) Add(ctx context.Context, node *ReplyNode) string {
	if prev, ok := t.nodes[node.ID]; ok {
		if prev.Deleted == node.Deleted && prev.Body == node.Body {
			return ""
		}
		t.nodes[node.ID] = node
		t.invalidate(ctx, node)
		return node.PostID
	}

	t.nodes[node.ID] = node
	t.children[node.ParentID] = append(t.children[node.ParentID], node.ID)
	t.invalidate(ctx, node)
	return node.PostID
}

// Tombstone marks a node deleted without detaching its subtree (reply ids
// may already be referenced by notifications). Returns the root post id,
// or "" for an unknown node.
func (t *ReplyTree) Tombstone(ctx context.Context, replyID string) string {
	node, ok := t.nodes[replyID]
	if !ok {
		return ""
	}
	if !node.Deleted {
		node.Deleted = true
		node.Body = ""
		t.invalidate(ctx, node)
	}
	return node.PostID
}

// Get returns a node by id, or nil.
func (t *ReplyTree) Get(replyID string) *ReplyNode {
	return t.nodes[replyID]
}

// DropPost removes every node belonging to a deleted post's tree.
func (t *ReplyTree) DropPost(ctx context.Context, postID string) {
	for id, node := range t.nodes {
		if node.PostID == postID {
			delete(t.nodes, id)
			delete(t.children, id)
		}
	}
	delete(t.children, postID)
	t.counts.Invalidate(ctx, postID)
}

// CountDescendants counts the non-tombstoned nodes below rootRef (a post
// or reply id). Traversal is iterative over an explicit stack so
// arbitrarily deep threads cannot blow the call stack; results are
// memoized per root and invalidated only by Add/Tombstone on the subtree.
// Runs on the engine loop, so a huge subtree checks for cancellation
// every budget nodes and returns a partial count on shutdown.
func (t *ReplyTree) CountDescendants(ctx context.Context, rootRef string) int {
	if n, ok := t.counts.Get(ctx, rootRef); ok {
		return n
	}

	count := 0
	visited := 0
	stack := append([]string(nil), t.children[rootRef]...)
	for len(stack) > 0 {
		if t.budget > 0 && visited > 0 && visited%t.budget == 0 && ctx.Err() != nil {
			return count
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++

		if node, ok := t.nodes[id]; ok && !node.Deleted {
			count++
		}
		stack = append(stack, t.children[id]...)
	}

	t.counts.Set(ctx, rootRef, count)
	return count
}

// invalidate clears memoized counts for the node's whole ancestor chain,
// walking parent pointers up to the post.
func (t *ReplyTree) invalidate(ctx context.Context, node *ReplyNode) {
	keys := []string{node.PostID}
	ref := node.ParentID
	for ref != "" && ref != node.PostID {
		keys = append(keys, ref)
		parent, ok := t.nodes[ref]
		if !ok {
			break
		}
		ref = parent.ParentID
	}
	t.counts.Invalidate(ctx, keys...)
}
