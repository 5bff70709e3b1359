package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ventapp/ventfeed/internal/config"
)

func TestMemoryCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	if _, ok := m.Get(ctx, "p1"); ok {
		t.Error("empty cache reported a hit")
	}

	m.Set(ctx, "p1", 7)
	if n, ok := m.Get(ctx, "p1"); !ok || n != 7 {
		t.Errorf("Get(p1) = %d, %v, want 7, true", n, ok)
	}

	m.Invalidate(ctx, "p1", "never-set")
	if _, ok := m.Get(ctx, "p1"); ok {
		t.Error("invalidated key still cached")
	}
}

func TestMemoryCountsTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10 * time.Millisecond)

	m.Set(ctx, "p1", 3)
	time.Sleep(20 * time.Millisecond)
	if _, ok := m.Get(ctx, "p1"); ok {
		t.Error("expired entry still served")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Caching
		wantErr bool
	}{
		{"memory", config.Caching{Engine: "memory", TTLSecs: 60}, false},
		{"redis", config.Caching{Engine: "redis", RedisURL: "redis://localhost:6379/0", TTLSecs: 60}, false},
		{"bad redis url", config.Caching{Engine: "redis", RedisURL: "://nope"}, true},
		{"unknown engine", config.Caching{Engine: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if c != nil {
				c.Close()
			}
		})
	}
}
