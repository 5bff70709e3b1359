// Package sqlitestore provides a durable local Backend on SQLite.
//
// Entities are stored as JSON documents in a single table keyed by
// (collection, id); filters and ordering use json_extract. Live fan-out is
// in-process: every write performed through this store is delivered to
// matching subscribers, which is sufficient for a single-client feed.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tidwall/gjson"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_entities_collection ON entities(collection);
`

// Store is a SQLite-backed Backend implementation.
type Store struct {
	db *sqlx.DB

	mu      sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	closed  bool
}

type subscriber struct {
	id    int
	query backend.Query
	ch    chan backend.Change
	done  <-chan struct{}
}

// Open opens (creating if needed) a SQLite store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:   db,
		subs: make(map[int]*subscriber),
	}, nil
}

// Query returns records matching the query, ordered and limited.
func (s *Store) Query(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	var sb strings.Builder
	args := []any{q.Collection}

	sb.WriteString(`SELECT id, data FROM entities WHERE collection = ?`)
	for _, f := range q.Filters {
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, "$."+f.Field, f.Value)
	}
	if q.OrderBy != "" {
		sb.WriteString(` ORDER BY json_extract(data, ?)`)
		args = append(args, "$."+q.OrderBy)
		if q.Descending {
			sb.WriteString(` DESC`)
		}
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errs.Transient(fmt.Errorf("query %s: %w", q.Collection, err))
	}
	defer rows.Close()

	var records []backend.Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, errs.Transient(err)
		}
		records = append(records, backend.Record{ID: id, Data: []byte(data)})
	}
	return records, rows.Err()
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
	var change backend.Change
	var matchData []byte

	switch mode {
	case backend.WriteInsert:
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO entities (collection, id, data) VALUES (?, ?, ?)
			 ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data`,
			collection, id, string(data))
		if err != nil {
			return errs.Transient(fmt.Errorf("insert %s/%s: %w", collection, id, err))
		}
		change = backend.Change{Type: backend.ChangeCreated, Collection: collection, ID: id, Data: data}
		matchData = data

	case backend.WriteUpdate:
		res, err := s.db.ExecContext(ctx,
			`UPDATE entities SET data = ? WHERE collection = ? AND id = ?`,
			string(data), collection, id)
		if err != nil {
			return errs.Transient(fmt.Errorf("update %s/%s: %w", collection, id, err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s/%s: %w", collection, id, errs.ErrNotFound)
		}
		change = backend.Change{Type: backend.ChangeUpdated, Collection: collection, ID: id, Data: data}
		matchData = data

	case backend.WriteDelete:
		var prev string
		err := s.db.GetContext(ctx, &prev,
			`SELECT data FROM entities WHERE collection = ? AND id = ?`, collection, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", collection, id, errs.ErrNotFound)
		}
		if err != nil {
			return errs.Transient(err)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM entities WHERE collection = ? AND id = ?`, collection, id); err != nil {
			return errs.Transient(fmt.Errorf("delete %s/%s: %w", collection, id, err))
		}
		change = backend.Change{Type: backend.ChangeDeleted, Collection: collection, ID: id}
		matchData = []byte(prev)

	default:
		return fmt.Errorf("unsupported write mode: %s", mode)
	}

	s.fanOut(change, matchData)
	return nil
}

func (s *Store) fanOut(change backend.Change, matchData []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.query.Collection != change.Collection {
			continue
		}
		if !matchesFilters(matchData, sub.query.Filters) {
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

// Close shuts down subscriptions and the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for id, sub := range s.subs {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
	s.mu.Unlock()
	return s.db.Close()
}

func matchesFilters(data []byte, filters []backend.Filter) bool {
	for _, f := range filters {
		if gjson.GetBytes(data, f.Field).String() != f.Value {
			return false
		}
	}
	return true
}
