package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/errs"
	"github.com/ventapp/ventfeed/internal/ops"
)

var errTransportLost = errs.Transient(errors.New("subscription transport lost"))

// Event is one entry on the multiplexer's unified stream: either a change
// from one source or that source's transport error. Within a source,
// events keep arrival order; across sources there is no ordering.
type Event struct {
	Source string
	Change backend.Change
	Err    error
}

// Handle identifies one live subscription. Unsubscribe is idempotent and
// safe to call from inside the handle's own event handler.
type Handle struct {
	id     uint64
	source string
	cancel context.CancelFunc
	once   sync.Once
	mux    *Mux
}

// Source returns the source key the handle was opened with.
func (h *Handle) Source() string { return h.source }

// Unsubscribe releases the subscription. No further events for this
// handle are emitted after it returns control to the event loop.
func (h *Handle) Unsubscribe() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.mux.handles.Delete(h.id)
		h.cancel()
	})
}

// Mux manages a set of independent live subscriptions and merges them
// into one event stream. A transport failure on one source is reported as
// an error event for that source only; the others keep flowing.
type Mux struct {
	be     backend.Backend
	cfg    *config.Subscriptions
	logger *ops.Logger

	events  chan Event
	handles *xsync.MapOf[uint64, *Handle]
	nextID  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMux creates a multiplexer over the given backend.
func NewMux(ctx context.Context, be backend.Backend, cfg *config.Subscriptions, logger *ops.Logger) *Mux {
	muxCtx, cancel := context.WithCancel(ctx)
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	return &Mux{
		be:      be,
		cfg:     cfg,
		logger:  logger.WithComponent("mux"),
		events:  make(chan Event, size),
		handles: xsync.NewMapOf[uint64, *Handle](),
		ctx:     muxCtx,
		cancel:  cancel,
	}
}

// Events returns the unified change stream.
func (m *Mux) Events() <-chan Event { return m.events }

// Subscribe opens a live subscription under the given source key.
func (m *Mux) Subscribe(source string, q backend.Query) (*Handle, error) {
	subCtx, cancel := context.WithCancel(m.ctx)

	ch, err := m.be.Subscribe(subCtx, q)
	if err != nil {
		cancel()
		return nil, err
	}

	h := &Handle{
		id:     m.nextID.Add(1),
		source: source,
		cancel: cancel,
		mux:    m,
	}
	m.handles.Store(h.id, h)

	m.wg.Add(1)
	go m.pump(subCtx, h, q, ch)

	m.logger.LogSubscription(source, "open", nil)
	return h, nil
}

// pump forwards one subscription's changes onto the unified stream, and
// handles transport failure per policy.
func (m *Mux) pump(ctx context.Context, h *Handle, q backend.Query, ch <-chan backend.Change) {
	defer m.wg.Done()

	var last lastDelivery
	for {
		drained := m.forward(ctx, h, ch, &last)
		if drained {
			// Cancelled via Unsubscribe or mux shutdown: silent.
			return
		}

		// Channel closed underneath us: transport failure.
		if _, active := m.handles.Load(h.id); !active {
			return
		}

		if !m.cfg.Resubscribe.Enabled {
			m.emitError(h, errTransportLost)
			m.handles.Delete(h.id)
			m.logger.LogSubscription(h.source, "down", errTransportLost)
			return
		}

		next, ok := m.resubscribe(ctx, h, q)
		if !ok {
			return
		}
		ch = next
	}
}

// forward copies changes until the context ends (true) or the source
// channel closes (false). Back-to-back byte-identical deliveries are
// dropped; anything separated by another change goes through, because
// within one source a repeated tombstone or re-created edge is only
// distinguishable from a redelivery by the change between them.
func (m *Mux) forward(ctx context.Context, h *Handle, ch <-chan backend.Change, last *lastDelivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case change, ok := <-ch:
			if !ok {
				return ctx.Err() != nil
			}
			if ctx.Err() != nil {
				// Cancelled between send and receive; honor it.
				return true
			}
			sum := changeDigest(h.source, change)
			if last.ok && sum == last.sum {
				continue
			}
			last.sum, last.ok = sum, true
			select {
			case m.events <- Event{Source: h.source, Change: change}:
			case <-ctx.Done():
				return true
			}
		}
	}
}

// resubscribe walks the backoff ladder until the source reopens; the last
// rung repeats. Returns false when the subscription was released.
func (m *Mux) resubscribe(ctx context.Context, h *Handle, q backend.Query) (<-chan backend.Change, bool) {
	ladder := m.cfg.Resubscribe.BackoffMs
	for attempt := 0; ; attempt++ {
		rung := attempt
		if rung >= len(ladder) {
			rung = len(ladder) - 1
		}
		wait := time.Duration(ladder[rung]) * time.Millisecond
		m.logger.LogSubscription(h.source, "reconnect-wait", nil)

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(wait):
		}

		if _, active := m.handles.Load(h.id); !active {
			return nil, false
		}

		ch, err := m.be.Subscribe(ctx, q)
		if err != nil {
			m.logger.LogSubscription(h.source, "reconnect-failed", err)
			continue
		}
		m.logger.LogSubscription(h.source, "reconnected", nil)
		return ch, true
	}
}

func (m *Mux) emitError(h *Handle, err error) {
	select {
	case m.events <- Event{Source: h.source, Err: err}:
	case <-m.ctx.Done():
	}
}

// lastDelivery remembers the digest of the most recently forwarded
// change on one source. Semantic idempotence (same edge via optimistic
// path and live path) stays the builder's job; this only trims
// transport-level repeats.
type lastDelivery struct {
	sum uint64
	ok  bool
}

// changeDigest hashes a change's identity and payload for duplicate
// detection. Tombstones carry no payload, so the digest of two deletes
// of the same id collides; that is why only adjacent deliveries are
// compared.
func changeDigest(source string, change backend.Change) uint64 {
	d := xxhash.New()
	d.WriteString(source)
	d.WriteString("\x00")
	d.WriteString(string(change.Type))
	d.WriteString("\x00")
	d.WriteString(change.Collection)
	d.WriteString("\x00")
	d.WriteString(change.ID)
	d.WriteString("\x00")
	d.Write(change.Data)
	return d.Sum64()
}

// Close releases every subscription and stops the unified stream.
func (m *Mux) Close() {
	m.handles.Range(func(id uint64, h *Handle) bool {
		h.Unsubscribe()
		return true
	})
	m.cancel()
	m.wg.Wait()
	close(m.events)
}
