package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/errs"
	"github.com/ventapp/ventfeed/internal/ops"
)

// stubBackend hands out controllable change channels per Subscribe call.
type stubBackend struct {
	mu       sync.Mutex
	channels []chan backend.Change
	failNext int // Subscribe calls to fail before succeeding
}

func (s *stubBackend) Query(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	return nil, nil
}

func (s *stubBackend) Subscribe(ctx context.Context, q backend.Query) (<-chan backend.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return nil, errs.Transient(fmt.Errorf("subscribe refused"))
	}
	ch := make(chan backend.Change, 16)
	s.channels = append(s.channels, ch)
	return ch, nil
}

func (s *stubBackend) Write(ctx context.Context, collection, id string, data []byte, mode backend.WriteMode) error {
	return nil
}

func (s *stubBackend) Close() error { return nil }

func (s *stubBackend) channel(i int) chan backend.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[i]
}

func (s *stubBackend) channelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func newTestMux(t *testing.T, be backend.Backend, sub config.Subscriptions) *Mux {
	t.Helper()
	logger := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
	m := NewMux(context.Background(), be, &sub, logger)
	t.Cleanup(m.Close)
	return m
}

func recvEvent(t *testing.T, m *Mux) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func change(collection, id, payload string) backend.Change {
	return backend.Change{
		Type:       backend.ChangeCreated,
		Collection: collection,
		ID:         id,
		Data:       []byte(payload),
	}
}

func TestMuxMergesSources(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{BufferSize: 16})

	if _, err := m.Subscribe("a", backend.Query{Collection: "posts"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Subscribe("b", backend.Query{Collection: "likes"}); err != nil {
		t.Fatal(err)
	}

	be.channel(0) <- change("posts", "p1", `{"n":1}`)
	be.channel(1) <- change("likes", "l1", `{"n":2}`)

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		ev := recvEvent(t, m)
		got[ev.Source] = ev.Change.ID
	}
	if got["a"] != "p1" || got["b"] != "l1" {
		t.Errorf("merged events = %v", got)
	}
}

func TestMuxPerSourceOrder(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{BufferSize: 16})

	if _, err := m.Subscribe("a", backend.Query{Collection: "posts"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		be.channel(0) <- change("posts", fmt.Sprintf("p%d", i), fmt.Sprintf(`{"n":%d}`, i))
	}

	for i := 0; i < 5; i++ {
		ev := recvEvent(t, m)
		if want := fmt.Sprintf("p%d", i); ev.Change.ID != want {
			t.Fatalf("event %d = %s, want %s", i, ev.Change.ID, want)
		}
	}
}

func TestMuxDropsDuplicateDeliveries(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{BufferSize: 16})

	if _, err := m.Subscribe("a", backend.Query{Collection: "posts"}); err != nil {
		t.Fatal(err)
	}

	dup := change("posts", "p1", `{"n":1}`)
	be.channel(0) <- dup
	be.channel(0) <- dup
	be.channel(0) <- change("posts", "p2", `{"n":2}`)

	if ev := recvEvent(t, m); ev.Change.ID != "p1" {
		t.Fatalf("first event = %s, want p1", ev.Change.ID)
	}
	// The duplicate is swallowed; next delivery is p2.
	if ev := recvEvent(t, m); ev.Change.ID != "p2" {
		t.Fatalf("second event = %s, want p2", ev.Change.ID)
	}
}

func TestMuxForwardsRepeatedTombstones(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{BufferSize: 16})

	if _, err := m.Subscribe("a", backend.Query{Collection: "likes"}); err != nil {
		t.Fatal(err)
	}

	// An edge toggled twice: the second create and second tombstone are
	// byte-identical to the first pair, but a different change sits
	// between each repeat, so all four must come through.
	edge := change("likes", "p1:u1", `{"post_id":"p1","user_id":"u1"}`)
	tomb := backend.Change{Type: backend.ChangeDeleted, Collection: "likes", ID: "p1:u1"}
	for _, c := range []backend.Change{edge, tomb, edge, tomb} {
		be.channel(0) <- c
	}

	want := []backend.ChangeType{backend.ChangeCreated, backend.ChangeDeleted, backend.ChangeCreated, backend.ChangeDeleted}
	for i, w := range want {
		ev := recvEvent(t, m)
		if ev.Change.Type != w || ev.Change.ID != "p1:u1" {
			t.Fatalf("event %d = %s %s, want %s p1:u1", i, ev.Change.Type, ev.Change.ID, w)
		}
	}
}

func TestMuxFaultIsolation(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{BufferSize: 16})

	if _, err := m.Subscribe("down", backend.Query{Collection: "posts"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Subscribe("up", backend.Query{Collection: "likes"}); err != nil {
		t.Fatal(err)
	}

	// Transport failure on one source only.
	close(be.channel(0))

	ev := recvEvent(t, m)
	if ev.Source != "down" || !errors.Is(ev.Err, errs.ErrTransient) {
		t.Fatalf("expected transient error for source down, got %+v", ev)
	}

	// The healthy source keeps flowing.
	be.channel(1) <- change("likes", "l1", `{"n":1}`)
	ev = recvEvent(t, m)
	if ev.Source != "up" || ev.Change.ID != "l1" {
		t.Fatalf("healthy source blocked: %+v", ev)
	}
}

func TestMuxUnsubscribeIsIdempotent(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{BufferSize: 16})

	h, err := m.Subscribe("a", backend.Query{Collection: "posts"})
	if err != nil {
		t.Fatal(err)
	}
	h.Unsubscribe()
	h.Unsubscribe()

	var nilHandle *Handle
	nilHandle.Unsubscribe()
}

func TestMuxUnsubscribeFromHandler(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{BufferSize: 16})

	h, err := m.Subscribe("a", backend.Query{Collection: "posts"})
	if err != nil {
		t.Fatal(err)
	}

	be.channel(0) <- change("posts", "p1", `{"n":1}`)
	ev := recvEvent(t, m)

	// The consumer reacts to its own event by releasing the handle; this
	// must not deadlock.
	if ev.Change.ID == "p1" {
		h.Unsubscribe()
	}

	select {
	case be.channel(0) <- change("posts", "p2", `{"n":2}`):
	default:
	}
	select {
	case ev, ok := <-m.Events():
		if ok && ev.Source == "a" && ev.Change.ID == "p2" {
			t.Error("received event after unsubscribe returned")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMuxResubscribeWalksBackoff(t *testing.T) {
	be := &stubBackend{}
	m := newTestMux(t, be, config.Subscriptions{
		BufferSize: 16,
		Resubscribe: config.Resubscribe{
			Enabled:   true,
			BackoffMs: []int{1, 1},
		},
	})

	if _, err := m.Subscribe("a", backend.Query{Collection: "posts"}); err != nil {
		t.Fatal(err)
	}

	// Fail two reopen attempts, then let the third succeed.
	be.mu.Lock()
	be.failNext = 2
	be.mu.Unlock()
	close(be.channel(0))

	deadline := time.Now().Add(2 * time.Second)
	for be.channelCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("source never reopened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	be.channel(1) <- change("posts", "p1", `{"n":1}`)
	ev := recvEvent(t, m)
	if ev.Err != nil || ev.Change.ID != "p1" {
		t.Fatalf("event after resubscribe = %+v", ev)
	}
}
