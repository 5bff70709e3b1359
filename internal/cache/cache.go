// Package cache provides the memoized reply-count store used by the
// recursive counter. Counts are invalidated incrementally on reply
// create/delete, never recomputed per render.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"

	"github.com/ventapp/ventfeed/internal/config"
)

// Counts is a per-key integer cache with TTL and explicit invalidation.
type Counts interface {
	Get(ctx context.Context, key string) (int, bool)
	Set(ctx context.Context, key string, n int)
	Invalidate(ctx context.Context, keys ...string)
	Close() error
}

// New builds a Counts cache from config.
func New(cfg *config.Caching) (Counts, error) {
	switch cfg.Engine {
	case "memory":
		return NewMemory(time.Duration(cfg.TTLSecs) * time.Second), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return NewRedis(redis.NewClient(opts), time.Duration(cfg.TTLSecs)*time.Second), nil
	default:
		return nil, fmt.Errorf("unsupported cache engine: %s", cfg.Engine)
	}
}

type memoryEntry struct {
	n       int
	expires time.Time
}

// Memory is an in-process Counts implementation.
type Memory struct {
	entries *xsync.MapOf[string, memoryEntry]
	ttl     time.Duration
}

// NewMemory creates an in-process counts cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: xsync.NewMapOf[string, memoryEntry](),
		ttl:     ttl,
	}
}

func (m *Memory) Get(ctx context.Context, key string) (int, bool) {
	e, ok := m.entries.Load(key)
	if !ok {
		return 0, false
	}
	if m.ttl > 0 && time.Now().After(e.expires) {
		m.entries.Delete(key)
		return 0, false
	}
	return e.n, true
}

func (m *Memory) Set(ctx context.Context, key string, n int) {
	m.entries.Store(key, memoryEntry{n: n, expires: time.Now().Add(m.ttl)})
}

func (m *Memory) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		m.entries.Delete(key)
	}
}

func (m *Memory) Close() error { return nil }

// Redis is a Counts implementation backed by a shared redis instance, so
// counts survive client restarts.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed counts cache.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(key string) string {
	return "ventfeed:counts:" + key
}

func (r *Redis) Get(ctx context.Context, key string) (int, bool) {
	n, err := r.client.Get(ctx, redisKey(key)).Int()
	if err != nil {
		// Miss and transport failure look the same to the counter; it
		// recomputes either way.
		return 0, false
	}
	return n, true
}

func (r *Redis) Set(ctx context.Context, key string, n int) {
	r.client.Set(ctx, redisKey(key), n, r.ttl)
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = redisKey(key)
	}
	r.client.Del(ctx, full...)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
