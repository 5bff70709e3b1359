package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/cache"
	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/errs"
	"github.com/ventapp/ventfeed/internal/ops"
	"github.com/ventapp/ventfeed/internal/preview"
)

const (
	sourcePosts         = "posts"
	sourceNotifications = "notifications"
)

func likeSource(postID string) string    { return "likes:" + postID }
func replySource(postID string) string   { return "replies:" + postID }
func profileSource(userID string) string { return "profile:" + userID }

func isNotFound(err error) bool { return errors.Is(err, errs.ErrNotFound) }

// Snapshot is a consistent copy of the rendered feed state.
type Snapshot struct {
	Records  []*AggregateRecord // projected order, clones
	Category string
	Search   string
	Loading  bool
	Unread   int
	Errors   map[string]error // last error per subscription source
}

// Engine is the single-threaded event loop that owns all feed state.
// Multiplexer events, mutation commands, write completions and snapshot
// requests are all loop messages; every handler runs to completion before
// the next, so records never expose a half-applied update.
type Engine struct {
	cfg     *config.Config
	session config.Session
	be      backend.Backend
	blob    backend.BlobStore
	logger  *ops.Logger

	mux      *Mux
	builder  *Builder
	coord    *Coordinator
	tree     *ReplyTree
	inbox    *Inbox
	previews *preview.Resolver

	category string
	search   string
	loading  bool
	srcErrs  map[string]error

	postSubs    map[string][]*Handle // post id -> like/reply handles
	profileSubs map[string]*Handle   // author id -> profile handle

	commands chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	listenerMu sync.Mutex
	listeners  []func()
	debounced  func(func())

	now func() int64
}

// NewEngine wires an engine for the configured session and backend. The
// blob store may be nil when uploads are disabled.
func NewEngine(cfg *config.Config, be backend.Backend, blob backend.BlobStore, counts cache.Counts, logger *ops.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	builder := NewBuilder(cfg.Session.UserID)
	return &Engine{
		cfg:         cfg,
		session:     cfg.Session,
		be:          be,
		blob:        blob,
		logger:      logger.WithComponent("engine"),
		mux:         NewMux(ctx, be, &cfg.Subscriptions, logger),
		builder:     builder,
		coord:       NewCoordinator(builder, cfg.Session.UserID),
		tree:        NewReplyTree(counts, cfg.Feed.CountBudget),
		inbox:       NewInbox(cfg.Session.UserID),
		previews:    preview.NewResolver(&cfg.Preview, logger),
		category:    CategoryAll,
		loading:     true,
		srcErrs:     make(map[string]error),
		postSubs:    make(map[string][]*Handle),
		profileSubs: make(map[string]*Handle),
		commands:    make(chan func(), 256),
		ctx:         ctx,
		cancel:      cancel,
		debounced:   debounce.New(50 * time.Millisecond),
		now:         func() int64 { return time.Now().Unix() },
	}
}

// Start seeds the view from one-shot queries, opens the live
// subscriptions, and launches the event loop.
func (e *Engine) Start() error {
	if err := e.bootstrap(); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop shuts the engine down and releases every subscription.
func (e *Engine) Stop() {
	e.cancel()
	e.mux.Close()
	e.wg.Wait()
}

// bootstrap runs before the loop starts, so it may touch state directly.
func (e *Engine) bootstrap() error {
	ctx := e.ctx

	if _, err := e.mux.Subscribe(sourcePosts, backend.Query{Collection: backend.CollectionPosts}); err != nil {
		return err
	}
	if _, err := e.mux.Subscribe(sourceNotifications, backend.Query{
		Collection: backend.CollectionNotifications,
		Filters:    []backend.Filter{{Field: "recipient_id", Value: e.session.UserID}},
	}); err != nil {
		return err
	}

	records, err := e.be.Query(ctx, backend.Query{
		Collection: backend.CollectionPosts,
		OrderBy:    "created_at",
		Descending: true,
		Limit:      e.cfg.Feed.PageSize,
	})
	if err != nil {
		return err
	}

	for _, rec := range records {
		post, err := DecodePost(rec.Data)
		if err != nil {
			e.logger.Warn("skipping undecodable post", "id", rec.ID, "error", err)
			continue
		}
		e.builder.UpsertPost(post)
		if err := e.attachPost(post); err != nil {
			e.logger.Warn("failed to attach post streams", "post_id", post.ID, "error", err)
		}
	}

	notifs, err := e.be.Query(ctx, backend.Query{
		Collection: backend.CollectionNotifications,
		Filters:    []backend.Filter{{Field: "recipient_id", Value: e.session.UserID}},
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		e.logger.Warn("notification bootstrap failed", "error", err)
	} else {
		for _, rec := range notifs {
			if n, err := DecodeNotification(rec.Data); err == nil {
				e.inbox.Apply(n)
			}
		}
	}

	e.loading = false
	e.logger.Info("bootstrap complete", "posts", e.builder.Len(), "notifications", len(e.inbox.List()))
	return nil
}

// attachPost seeds a post's like and reply state and opens its scoped
// subscriptions plus the author profile stream. Bootstrap only; once
// the loop is running, live-arriving posts go through attachPostAsync.
func (e *Engine) attachPost(post *Post) error {
	s, err := e.openPostStreams(post.ID)
	if err != nil {
		return err
	}
	e.applyPostStreams(post, s)
	return nil
}

// attachPostAsync seeds a live-arriving post off the loop; the results
// re-enter as a command so event handling never blocks on the backend.
func (e *Engine) attachPostAsync(post *Post) {
	go func() {
		s, err := e.openPostStreams(post.ID)
		if err != nil {
			e.logger.Warn("failed to attach post streams", "post_id", post.ID, "error", err)
			return
		}
		if !e.do(func() {
			e.applyPostStreams(post, s)
			e.notify()
		}) {
			s.release()
		}
	}()
}

// postStreams is the seeded like/reply state of one post plus its scoped
// subscription handles.
type postStreams struct {
	likes   []*LikeEdge
	replies []*ReplyNode
	handles []*Handle
}

func (s *postStreams) release() {
	for _, h := range s.handles {
		h.Unsubscribe()
	}
}

// openPostStreams opens the post-scoped subscriptions and runs the
// seeding queries. It blocks on the backend and must not run on the
// loop once the loop is live. Subscriptions open before the queries so
// an edge written in between shows up on at least one of the two paths;
// the builder and tree absorb the overlap.
func (e *Engine) openPostStreams(postID string) (*postStreams, error) {
	ctx := e.ctx
	scope := []backend.Filter{{Field: "post_id", Value: postID}}

	likeHandle, err := e.mux.Subscribe(likeSource(postID), backend.Query{
		Collection: backend.CollectionLikes,
		Filters:    scope,
	})
	if err != nil {
		return nil, err
	}
	replyHandle, err := e.mux.Subscribe(replySource(postID), backend.Query{
		Collection: backend.CollectionReplies,
		Filters:    scope,
	})
	if err != nil {
		likeHandle.Unsubscribe()
		return nil, err
	}
	s := &postStreams{handles: []*Handle{likeHandle, replyHandle}}

	likes, err := e.be.Query(ctx, backend.Query{Collection: backend.CollectionLikes, Filters: scope})
	if err != nil {
		s.release()
		return nil, err
	}
	for _, rec := range likes {
		if edge, err := DecodeLikeEdge(rec.Data); err == nil {
			s.likes = append(s.likes, edge)
		}
	}

	replies, err := e.be.Query(ctx, backend.Query{Collection: backend.CollectionReplies, Filters: scope})
	if err != nil {
		s.release()
		return nil, err
	}
	for _, rec := range replies {
		if node, err := DecodeReplyNode(rec.Data); err == nil {
			s.replies = append(s.replies, node)
		}
	}
	return s, nil
}

// applyPostStreams lands the seeded state on the view. Loop context
// only. A post that left the view while its seed was in flight gets its
// handles released untouched.
func (e *Engine) applyPostStreams(post *Post, s *postStreams) {
	if e.builder.Get(post.ID) == nil {
		s.release()
		return
	}

	for _, edge := range s.likes {
		e.builder.ApplyLikeCreated(edge.PostID, edge.UserID)
	}
	for _, node := range s.replies {
		e.tree.Add(e.ctx, node)
	}
	e.builder.SetReplyCount(post.ID, e.tree.CountDescendants(e.ctx, post.ID))
	e.postSubs[post.ID] = s.handles

	e.ensureProfileStream(post.AuthorID)
	e.resolvePreview(post)
}

// resolvePreview resolves the first link in a post body off-loop; the
// result re-enters the loop as a command. Posts without links skip the
// round trip entirely.
func (e *Engine) resolvePreview(post *Post) {
	if preview.FirstURL(post.Body) == "" {
		return
	}
	body, postID := post.Body, post.ID
	go func() {
		p := e.previews.ForText(e.ctx, body)
		if p == nil {
			return
		}
		e.do(func() {
			e.builder.SetPreview(postID, p)
			e.notify()
		})
	}()
}

// ensureProfileStream opens a live profile subscription for an author
// once and kicks off the asynchronous resolve. Until it lands the
// record renders with the fallback avatar; that is eventual consistency,
// not an error. A nil map entry marks a dial in flight, so a post burst
// by one author opens a single stream.
func (e *Engine) ensureProfileStream(authorID string) {
	if _, ok := e.profileSubs[authorID]; ok {
		return
	}
	e.profileSubs[authorID] = nil

	go func() {
		handle, err := e.mux.Subscribe(profileSource(authorID), backend.Query{
			Collection: backend.CollectionUsers,
			Filters:    []backend.Filter{{Field: "id", Value: authorID}},
		})
		if err != nil {
			e.logger.Warn("profile stream failed", "author_id", authorID, "error", err)
			e.do(func() {
				if h, ok := e.profileSubs[authorID]; ok && h == nil {
					delete(e.profileSubs, authorID)
				}
			})
			return
		}
		if !e.do(func() {
			if _, ok := e.profileSubs[authorID]; !ok {
				// Author left the view while the dial was in flight.
				handle.Unsubscribe()
				return
			}
			e.profileSubs[authorID] = handle
		}) {
			handle.Unsubscribe()
		}
	}()

	if e.builder.Profile(authorID) != nil {
		return
	}

	go func() {
		records, err := e.be.Query(e.ctx, backend.Query{
			Collection: backend.CollectionUsers,
			Filters:    []backend.Filter{{Field: "id", Value: authorID}},
			Limit:      1,
		})
		if err != nil || len(records) == 0 {
			return
		}
		profile, err := DecodeUserProfile(records[0].Data)
		if err != nil {
			return
		}
		e.do(func() {
			e.builder.ApplyProfile(profile)
			e.notify()
		})
	}()
}

// loop is the single goroutine that owns all mutable feed state.
func (e *Engine) loop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case cmd := <-e.commands:
			cmd()
		case ev, ok := <-e.mux.Events():
			if !ok {
				return
			}
			e.handleEvent(ev)
		}
	}
}

// do schedules fn on the event loop. Returns false when the engine has
// stopped.
func (e *Engine) do(fn func()) bool {
	select {
	case e.commands <- fn:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// handleEvent dispatches one multiplexer event. A failure while applying
// one entity's update is logged and never interrupts other entities.
func (e *Engine) handleEvent(ev Event) {
	if ev.Err != nil {
		e.srcErrs[ev.Source] = ev.Err
		e.logger.LogSubscription(ev.Source, "error", ev.Err)
		e.notify()
		return
	}
	delete(e.srcErrs, ev.Source)

	var err error
	switch {
	case ev.Source == sourcePosts:
		err = e.handlePostChange(ev.Change)
	case ev.Source == sourceNotifications:
		err = e.handleNotificationChange(ev.Change)
	case strings.HasPrefix(ev.Source, "likes:"):
		err = e.handleLikeChange(ev.Change)
	case strings.HasPrefix(ev.Source, "replies:"):
		err = e.handleReplyChange(ev.Change)
	case strings.HasPrefix(ev.Source, "profile:"):
		err = e.handleProfileChange(ev.Change)
	default:
		e.logger.Debug("event for unknown source", "source", ev.Source)
	}

	if err != nil {
		e.logger.Warn("event application failed", "source", ev.Source, "entity_id", ev.Change.ID, "error", err)
		return
	}
	e.notify()
}

func (e *Engine) handlePostChange(change backend.Change) error {
	switch change.Type {
	case backend.ChangeCreated, backend.ChangeUpdated:
		post, err := DecodePost(change.Data)
		if err != nil {
			return err
		}
		if isNew := e.builder.UpsertPost(post); isNew {
			e.attachPostAsync(post)
		}
	case backend.ChangeDeleted:
		e.removePostLocally(change.ID)
	}
	return nil
}

// removePostLocally drops a post's record and cancels the subscriptions
// scoped to it. Safe to call from inside an event handler: Unsubscribe
// never blocks on the loop.
func (e *Engine) removePostLocally(postID string) {
	rec := e.builder.Get(postID)
	if rec == nil {
		return
	}
	authorID := rec.Post.AuthorID
	e.builder.RemovePost(postID)

	for _, h := range e.postSubs[postID] {
		h.Unsubscribe()
	}
	delete(e.postSubs, postID)
	e.tree.DropPost(e.ctx, postID)

	// The author's profile stream lives as long as one of their posts is
	// in view.
	if !e.builder.HasAuthor(authorID) {
		if h, ok := e.profileSubs[authorID]; ok {
			h.Unsubscribe()
			delete(e.profileSubs, authorID)
		}
	}
}

func (e *Engine) handleLikeChange(change backend.Change) error {
	switch change.Type {
	case backend.ChangeCreated, backend.ChangeUpdated:
		edge, err := DecodeLikeEdge(change.Data)
		if err != nil {
			return err
		}
		e.builder.ApplyLikeCreated(edge.PostID, edge.UserID)
	case backend.ChangeDeleted:
		// Tombstones carry no payload; the edge id encodes the pair.
		postID, userID, ok := strings.Cut(change.ID, ":")
		if !ok {
			return fmt.Errorf("malformed like edge id: %s", change.ID)
		}
		e.builder.ApplyLikeDeleted(postID, userID)
	}
	return nil
}

func (e *Engine) handleReplyChange(change backend.Change) error {
	var rootPostID string
	switch change.Type {
	case backend.ChangeCreated, backend.ChangeUpdated:
		node, err := DecodeReplyNode(change.Data)
		if err != nil {
			return err
		}
		rootPostID = e.tree.Add(e.ctx, node)
	case backend.ChangeDeleted:
		rootPostID = e.tree.Tombstone(e.ctx, change.ID)
	}

	if rootPostID != "" {
		e.builder.SetReplyCount(rootPostID, e.tree.CountDescendants(e.ctx, rootPostID))
	}
	return nil
}

func (e *Engine) handleProfileChange(change backend.Change) error {
	switch change.Type {
	case backend.ChangeCreated, backend.ChangeUpdated:
		profile, err := DecodeUserProfile(change.Data)
		if err != nil {
			return err
		}
		e.builder.ApplyProfile(profile)
	case backend.ChangeDeleted:
		// Profiles are never deleted by this client; keep the snapshot.
	}
	return nil
}

func (e *Engine) handleNotificationChange(change backend.Change) error {
	switch change.Type {
	case backend.ChangeCreated, backend.ChangeUpdated:
		n, err := DecodeNotification(change.Data)
		if err != nil {
			return err
		}
		e.inbox.Apply(n)
	case backend.ChangeDeleted:
		e.inbox.Remove(change.ID)
	}
	return nil
}

// notify wakes registered change listeners, debounced so bursts of
// events collapse into one wakeup.
func (e *Engine) notify() {
	e.debounced(func() {
		e.listenerMu.Lock()
		listeners := make([]func(), len(e.listeners))
		copy(listeners, e.listeners)
		e.listenerMu.Unlock()
		for _, fn := range listeners {
			fn()
		}
	})
}

// OnChange registers a listener invoked (debounced) after state changes.
func (e *Engine) OnChange(fn func()) {
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenerMu.Unlock()
}

// Snapshot returns a consistent copy of the rendered feed.
func (e *Engine) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	if !e.do(func() { ch <- e.snapshotLocked() }) {
		return Snapshot{Loading: false}
	}
	return <-ch
}

func (e *Engine) snapshotLocked() Snapshot {
	ids := Project(e.builder.records, e.builder.OrderedIDs(), e.category, e.search)
	records := make([]*AggregateRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, e.builder.records[id].Clone())
	}

	srcErrs := make(map[string]error, len(e.srcErrs))
	for k, v := range e.srcErrs {
		srcErrs[k] = v
	}

	return Snapshot{
		Records:  records,
		Category: e.category,
		Search:   e.search,
		Loading:  e.loading,
		Unread:   e.inbox.Unread(),
		Errors:   srcErrs,
	}
}

// SetCategory selects the category filter; CategoryAll passes everything.
func (e *Engine) SetCategory(category string) {
	e.do(func() {
		e.category = category
		e.notify()
	})
}

// SetSearch sets the search text.
func (e *Engine) SetSearch(text string) {
	e.do(func() {
		e.search = text
		e.notify()
	})
}

// Barrier blocks until every previously scheduled command has run.
func (e *Engine) Barrier() {
	ch := make(chan struct{})
	if e.do(func() { close(ch) }) {
		<-ch
	}
}

// Like optimistically likes a post and issues the durable write. The
// optimistic delta is visible to Snapshot immediately; the call returns
// once the write settles, rolling back exactly on failure.
func (e *Engine) Like(ctx context.Context, postID string) error {
	type beginResult struct {
		edge *LikeEdge
		err  error
	}
	beginCh := make(chan beginResult, 1)
	if !e.do(func() {
		edge, err := e.coord.BeginLike(postID, e.now())
		e.notify()
		beginCh <- beginResult{edge: edge, err: err}
	}) {
		return errs.Transient(fmt.Errorf("engine stopped"))
	}
	begin := <-beginCh
	if begin.err != nil || begin.edge == nil {
		return begin.err
	}

	// A marshal failure resolves like a write failure so the optimistic
	// delta is rolled back and the pending slot freed.
	writeErr := func() error {
		data, err := json.Marshal(begin.edge)
		if err != nil {
			return err
		}
		return e.be.Write(ctx, backend.CollectionLikes, begin.edge.ID, data, backend.WriteInsert)
	}()

	resCh := make(chan error, 1)
	if !e.do(func() {
		if isNotFound(writeErr) {
			// Post vanished concurrently: implicit deletion, not an error.
			resCh <- e.coord.ResolveLike(postID, nil)
			e.removePostLocally(postID)
			e.notify()
			return
		}
		resCh <- e.coord.ResolveLike(postID, writeErr)
		e.notify()
	}) {
		return errs.Transient(fmt.Errorf("engine stopped"))
	}
	err := <-resCh
	e.logger.LogMutation("like", postID, err != nil, err)
	return err
}

// Unlike is the mirror of Like.
func (e *Engine) Unlike(ctx context.Context, postID string) error {
	type beginResult struct {
		edgeID string
		err    error
	}
	beginCh := make(chan beginResult, 1)
	if !e.do(func() {
		edgeID, err := e.coord.BeginUnlike(postID)
		e.notify()
		beginCh <- beginResult{edgeID: edgeID, err: err}
	}) {
		return errs.Transient(fmt.Errorf("engine stopped"))
	}
	begin := <-beginCh
	if begin.err != nil || begin.edgeID == "" {
		return begin.err
	}

	writeErr := e.be.Write(ctx, backend.CollectionLikes, begin.edgeID, nil, backend.WriteDelete)

	resCh := make(chan error, 1)
	if !e.do(func() {
		resCh <- e.coord.ResolveUnlike(postID, writeErr)
		e.notify()
	}) {
		return errs.Transient(fmt.Errorf("engine stopped"))
	}
	err := <-resCh
	e.logger.LogMutation("unlike", postID, err != nil, err)
	return err
}

// CreatePost validates and durably writes a new post for the session
// user. The post reaches the view through the live posts stream.
func (e *Engine) CreatePost(ctx context.Context, body, tag string) (string, error) {
	if e.session.UserID == "" {
		return "", errs.Forbidden("sign in to post")
	}
	if err := ValidateBody(body, e.cfg.Feed.MaxBodyLen); err != nil {
		return "", err
	}
	if !e.validTag(tag) {
		return "", errs.Validation("unknown category: %s", tag)
	}

	post := Post{
		ID:        uuid.NewString(),
		AuthorID:  e.session.UserID,
		Username:  e.session.Username,
		Body:      body,
		Tag:       tag,
		CreatedAt: e.now(),
	}
	data, err := json.Marshal(post)
	if err != nil {
		return "", err
	}
	if err := e.be.Write(ctx, backend.CollectionPosts, post.ID, data, backend.WriteInsert); err != nil {
		return "", err
	}
	return post.ID, nil
}

// CreateReply validates and durably writes a reply under a post or
// another reply.
func (e *Engine) CreateReply(ctx context.Context, postID, parentID, body string) (string, error) {
	if e.session.UserID == "" {
		return "", errs.Forbidden("sign in to reply")
	}
	if err := ValidateBody(body, e.cfg.Feed.MaxBodyLen); err != nil {
		return "", err
	}
	if parentID == "" {
		parentID = postID
	}

	node := ReplyNode{
		ID:        uuid.NewString(),
		PostID:    postID,
		ParentID:  parentID,
		AuthorID:  e.session.UserID,
		Username:  e.session.Username,
		Body:      body,
		CreatedAt: e.now(),
	}
	data, err := json.Marshal(node)
	if err != nil {
		return "", err
	}
	if err := e.be.Write(ctx, backend.CollectionReplies, node.ID, data, backend.WriteInsert); err != nil {
		return "", err
	}
	return node.ID, nil
}

// DeletePost deletes the session user's own post. Replies are kept
// durably (soft delete of the thread root); the local view drops the
// record and its scoped subscriptions on the tombstone event.
func (e *Engine) DeletePost(ctx context.Context, postID string) error {
	ownerCh := make(chan error, 1)
	if !e.do(func() {
		rec := e.builder.Get(postID)
		switch {
		case rec == nil:
			ownerCh <- fmt.Errorf("post %s: %w", postID, errs.ErrNotFound)
		case rec.Post.AuthorID != e.session.UserID:
			ownerCh <- errs.Forbidden("only the author may delete a thought")
		default:
			ownerCh <- nil
		}
	}) {
		return errs.Transient(fmt.Errorf("engine stopped"))
	}
	if err := <-ownerCh; err != nil {
		return err
	}

	err := e.be.Write(ctx, backend.CollectionPosts, postID, nil, backend.WriteDelete)
	if isNotFound(err) {
		e.do(func() {
			e.removePostLocally(postID)
			e.notify()
		})
		return nil
	}
	return err
}

// DeleteReply tombstones the session user's own reply: the node stays in
// the tree (its children and notification references survive) but stops
// counting.
func (e *Engine) DeleteReply(ctx context.Context, replyID string) error {
	type lookup struct {
		node *ReplyNode
		err  error
	}
	ch := make(chan lookup, 1)
	if !e.do(func() {
		node := e.tree.Get(replyID)
		switch {
		case node == nil:
			ch <- lookup{err: fmt.Errorf("reply %s: %w", replyID, errs.ErrNotFound)}
		case node.AuthorID != e.session.UserID:
			ch <- lookup{err: errs.Forbidden("only the author may delete a reply")}
		default:
			cp := *node
			ch <- lookup{node: &cp}
		}
	}) {
		return errs.Transient(fmt.Errorf("engine stopped"))
	}
	res := <-ch
	if res.err != nil {
		return res.err
	}

	res.node.Deleted = true
	res.node.Body = ""
	data, err := json.Marshal(res.node)
	if err != nil {
		return err
	}
	return e.be.Write(ctx, backend.CollectionReplies, replyID, data, backend.WriteUpdate)
}

// Notifications returns the viewer's inbox, newest first.
func (e *Engine) Notifications() []*Notification {
	ch := make(chan []*Notification, 1)
	if !e.do(func() { ch <- e.inbox.List() }) {
		return nil
	}
	return <-ch
}

// MarkNotificationRead flips the read flag locally and durably. The flag
// is monotonic; marking an already-read notification is a no-op.
func (e *Engine) MarkNotificationRead(ctx context.Context, id string) error {
	ch := make(chan *Notification, 1)
	if !e.do(func() {
		ch <- e.inbox.MarkRead(id)
		e.notify()
	}) {
		return errs.Transient(fmt.Errorf("engine stopped"))
	}
	n := <-ch
	if n == nil {
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	err = e.be.Write(ctx, backend.CollectionNotifications, id, data, backend.WriteUpdate)
	if isNotFound(err) {
		e.do(func() { e.inbox.Remove(id) })
		return nil
	}
	return err
}

// UploadProfilePicture uploads the viewer's picture and records its URL
// on the user profile.
func (e *Engine) UploadProfilePicture(ctx context.Context, r io.Reader, size int64) (string, error) {
	if e.blob == nil {
		return "", errs.Validation("uploads are not configured")
	}
	if e.session.UserID == "" {
		return "", errs.Forbidden("sign in to upload a picture")
	}

	key := fmt.Sprintf("%s_%d.jpg", e.session.UserID, e.now())
	url, err := e.blob.UploadBlob(ctx, key, r, size, "image/jpeg")
	if err != nil {
		return "", err
	}

	profile := UserProfile{
		ID:         e.session.UserID,
		Username:   e.session.Username,
		ProfilePic: url,
		Emoji:      e.session.Emoji,
		Public:     true,
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return "", err
	}
	if err := e.be.Write(ctx, backend.CollectionUsers, e.session.UserID, data, backend.WriteInsert); err != nil {
		return "", err
	}
	return url, nil
}

func (e *Engine) validTag(tag string) bool {
	for _, t := range e.cfg.Feed.Categories {
		if t == tag {
			return true
		}
	}
	return false
}
