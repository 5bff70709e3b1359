// Package ws implements the Backend interface over a websocket change-feed
// service. One connection carries every subscription plus request/response
// traffic (query, write); a single reader goroutine dispatches inbound
// frames by subscription id or request id.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/errs"
	"github.com/ventapp/ventfeed/internal/ops"
)

// Client is a websocket-backed Backend implementation.
type Client struct {
	conn   *websocket.Conn
	logger *ops.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan gjson.Result
	subs    map[string]*wsSub
	closed  bool

	readerDone chan struct{}
}

type wsSub struct {
	sid  string
	ch   chan backend.Change
	done <-chan struct{}
}

type frame struct {
	Action     string          `json:"action,omitempty"`
	SID        string          `json:"sid,omitempty"`
	RID        string          `json:"rid,omitempty"`
	Collection string          `json:"collection,omitempty"`
	ID         string          `json:"id,omitempty"`
	Mode       string          `json:"mode,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Query      *wireQuery      `json:"query,omitempty"`
}

type wireQuery struct {
	Collection string       `json:"collection"`
	Filters    []wireFilter `json:"filters,omitempty"`
	OrderBy    string       `json:"order_by,omitempty"`
	Descending bool         `json:"descending,omitempty"`
	Limit      int          `json:"limit,omitempty"`
}

type wireFilter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Dial connects to the change-feed service.
func Dial(ctx context.Context, cfg *config.WebSocket, logger *ops.Logger) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutMs)*time.Millisecond)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, cfg.URL, nil)
	if err != nil {
		return nil, errs.Transient(fmt.Errorf("dial %s: %w", cfg.URL, err))
	}
	conn.SetReadLimit(1 << 22)

	c := &Client{
		conn:       conn,
		logger:     logger.WithComponent("backend.ws"),
		pending:    make(map[string]chan gjson.Result),
		subs:       make(map[string]*wsSub),
		readerDone: make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c, nil
}

// readLoop dispatches inbound frames to subscriptions and pending requests.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.readerDone)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.failAll(err)
			return
		}

		msg := gjson.ParseBytes(data)

		if rid := msg.Get("rid").String(); rid != "" {
			c.mu.Lock()
			ch, ok := c.pending[rid]
			if ok {
				delete(c.pending, rid)
			}
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		sid := msg.Get("sid").String()
		if sid == "" {
			c.logger.Debug("dropping unroutable frame", "frame", msg.Raw)
			continue
		}

		c.mu.Lock()
		sub, ok := c.subs[sid]
		c.mu.Unlock()
		if !ok {
			continue
		}

		change := backend.Change{
			Type:       backend.ChangeType(msg.Get("type").String()),
			Collection: msg.Get("collection").String(),
			ID:         msg.Get("id").String(),
		}
		if d := msg.Get("data"); d.Exists() {
			change.Data = []byte(d.Raw)
		}

		select {
		case sub.ch <- change:
		case <-sub.done:
		}
	}
}

// failAll closes every subscription and pending request after a transport
// failure. Callers see closed channels; reopening is their call.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.logger.Warn("connection lost", "error", err)
	}
	for sid, sub := range c.subs {
		delete(c.subs, sid)
		close(sub.ch)
	}
	for rid, ch := range c.pending {
		delete(c.pending, rid)
		close(ch)
	}
}

func (c *Client) send(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return errs.Transient(err)
	}
	return nil
}

// request sends a frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, f frame) (gjson.Result, error) {
	f.RID = uuid.NewString()
	ch := make(chan gjson.Result, 1)

	c.mu.Lock()
	c.pending[f.RID] = ch
	c.mu.Unlock()

	if err := c.send(ctx, f); err != nil {
		c.mu.Lock()
		delete(c.pending, f.RID)
		c.mu.Unlock()
		return gjson.Result{}, err
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return gjson.Result{}, errs.Transient(fmt.Errorf("connection lost"))
		}
		return msg, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.RID)
		c.mu.Unlock()
		return gjson.Result{}, errs.Transient(ctx.Err())
	}
}

func toWireQuery(q backend.Query) *wireQuery {
	wq := &wireQuery{
		Collection: q.Collection,
		OrderBy:    q.OrderBy,
		Descending: q.Descending,
		Limit:      q.Limit,
	}
	for _, f := range q.Filters {
		wq.Filters = append(wq.Filters, wireFilter{Field: f.Field, Value: f.Value})
	}
	return wq
}

// Query performs a one-shot read.
func (c *Client) Query(ctx context.Context, q backend.Query) ([]backend.Record, error) {
	msg, err := c.request(ctx, frame{Action: "query", Query: toWireQuery(q)})
	if err != nil {
		return nil, err
	}
	if e := msg.Get("error").String(); e != "" {
		return nil, errs.Transient(fmt.Errorf("query rejected: %s", e))
	}

	var records []backend.Record
	msg.Get("records").ForEach(func(_, rec gjson.Result) bool {
		records = append(records, backend.Record{
			ID:   rec.Get("id").String(),
			Data: []byte(rec.Get("data").Raw),
		})
		return true
	})
	return records, nil
}

// Subscribe opens a live subscription on the shared connection.
func (c *Client) Subscribe(ctx context.Context, q backend.Query) (<-chan backend.Change, error) {
	sub := &wsSub{
		sid:  uuid.NewString(),
		ch:   make(chan backend.Change, 256),
		done: ctx.Done(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errs.Transient(fmt.Errorf("client closed"))
	}
	c.subs[sub.sid] = sub
	c.mu.Unlock()

	if err := c.send(ctx, frame{Action: "subscribe", SID: sub.sid, Query: toWireQuery(q)}); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.sid)
		c.mu.Unlock()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		_, ok := c.subs[sub.sid]
		if ok {
			delete(c.subs, sub.sid)
			close(sub.ch)
		}
		c.mu.Unlock()
		if ok {
			// Best effort; the server also drops the sub when the
			// connection goes away.
			unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.send(unsubCtx, frame{Action: "unsubscribe", SID: sub.sid})
		}
	}()

	return sub.ch, nil
}

// Write performs a durable mutation.
func (c *Client) Write(ctx context.Context, collection, id string, data []byte, mode backend.WriteMode) error {
	msg, err := c.request(ctx, frame{
		Action:     "write",
		Collection: collection,
		ID:         id,
		Mode:       string(mode),
		Data:       data,
	})
	if err != nil {
		return err
	}
	if e := msg.Get("error").String(); e != "" {
		if msg.Get("not_found").Bool() {
			return fmt.Errorf("%s/%s: %w", collection, id, errs.ErrNotFound)
		}
		return errs.Transient(fmt.Errorf("write rejected: %s", e))
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "client shutting down")
	<-c.readerDone
	return err
}
