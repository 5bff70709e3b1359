// Package memory provides an in-process Backend used by the default
// configuration, the seeder and the engine tests. Writes fan out
// synchronously to matching subscribers, which makes interleavings easy
// to script in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/errs"
)

// Store is an in-memory Backend implementation.
type Store struct {
	mu      sync.Mutex
	tables  map[string]map[string][]byte
	subs    map[int]*subscriber
	nextSub int
	closed  bool

	// WriteHook, when set, runs before every write and may veto it.
	// Used by tests to inject transient failures.
	WriteHook func(collection, id string, mode backend.WriteMode) error
}

type subscriber struct {
	id    int
	query backend.Query
	ch    chan backend.Change
	done  <-chan struct{}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tables: make(map[string]map[string][]byte),
		subs:   make(map[int]*subscriber),
	}
}

// Query returns records matching the query, ordered and limited.
func (s *Store) Query(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.tables[q.Collection]
	records := make([]backend.Record, 0, len(table))
	for id, data := range table {
		if matches(data, q.Filters) {
			records = append(records, backend.Record{ID: id, Data: data})
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(records, func(i, j int) bool {
			a := gjson.GetBytes(records[i].Data, q.OrderBy)
			b := gjson.GetBytes(records[j].Data, q.OrderBy)
			if q.Descending {
				return b.Less(a, true)
			}
			return a.Less(b, true)
		})
	}

	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records, nil
}

// Subscribe registers a live subscription scoped by the query.
func (s *Store) Subscribe(ctx context.Context, q backend.Query) (<-chan backend.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errs.Transient(fmt.Errorf("store closed"))
	}

	sub := &subscriber{
		id:    s.nextSub,
		query: q,
		ch:    make(chan backend.Change, 256),
		done:  ctx.Done(),
	}
	s.nextSub++
	s.subs[sub.id] = sub

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.subs[sub.id]; ok {
			delete(s.subs, sub.id)
			close(sub.ch)
		}
		s.mu.Unlock()
	}()

	return sub.ch, nil
}

// Write applies a durable mutation and fans it out to subscribers.
func (s *Store) Write(ctx context.Context, collection, id string, data []byte, mode backend.WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteHook != nil {
		if err := s.WriteHook(collection, id, mode); err != nil {
			return err
		}
	}

	table := s.tables[collection]
	if table == nil {
		table = make(map[string][]byte)
		s.tables[collection] = table
	}

	var change backend.Change
	switch mode {
	case backend.WriteInsert:
		table[id] = data
		change = backend.Change{Type: backend.ChangeCreated, Collection: collection, ID: id, Data: data}
	case backend.WriteUpdate:
		if _, ok := table[id]; !ok {
			return fmt.Errorf("%s/%s: %w", collection, id, errs.ErrNotFound)
		}
		table[id] = data
		change = backend.Change{Type: backend.ChangeUpdated, Collection: collection, ID: id, Data: data}
	case backend.WriteDelete:
		prev, ok := table[id]
		if !ok {
			return fmt.Errorf("%s/%s: %w", collection, id, errs.ErrNotFound)
		}
		delete(table, id)
		// Tombstone fan-out still needs the previous payload for filter
		// matching, but the change itself carries none.
		change = backend.Change{Type: backend.ChangeDeleted, Collection: collection, ID: id}
		s.fanOut(change, prev)
		return nil
	default:
		return fmt.Errorf("unsupported write mode: %s", mode)
	}

	s.fanOut(change, data)
	return nil
}

// fanOut delivers a change to every subscriber whose query matches.
// Caller holds the lock.
func (s *Store) fanOut(change backend.Change, matchData []byte) {
	for _, sub := range s.subs {
		if sub.query.Collection != change.Collection {
			continue
		}
		if !matches(matchData, sub.query.Filters) {
			continue
		}
		select {
		case sub.ch <- change:
		case <-sub.done:
		default:
			// Subscriber buffer full; drop rather than block the writer.
		}
	}
}

// SubscriberCount reports the number of live subscriptions. Tests use
// it to check that scoped streams are released with their post.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close shuts down all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
	return nil
}

func matches(data []byte, filters []backend.Filter) bool {
	for _, f := range filters {
		if gjson.GetBytes(data, f.Field).String() != f.Value {
			return false
		}
	}
	return true
}
