// Package cache provides TTL-bounded memoization for chain and gateway reads.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/user/stagepass/internal/clock"
)

// DefaultTTL applies to both the event-list and the metadata cache.
const DefaultTTL = 30 * time.Second

// Store is a keyed cache whose entries expire after a fixed duration.
// A miss covers both absent and expired keys.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Put(ctx context.Context, key string, value V)
}

type entry[V any] struct {
	value    V
	cachedAt time.Time
}

// TTL is an in-memory Store. Every operation is a single locked map access,
// so it is safe for concurrent use. Concurrent misses on the same key are not
// coalesced; each caller recomputes.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	clock   clock.Clock
}

// NewTTL creates an empty cache. A zero ttl falls back to DefaultTTL.
func NewTTL[V any](ttl time.Duration, clk clock.Clock) *TTL[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		clock:   clk,
	}
}

// Get returns the cached value if it was stored less than ttl ago.
// Expired entries are dropped.
func (c *TTL[V]) Get(_ context.Context, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock.Now().Sub(e.cachedAt) >= c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[V]) Put(_ context.Context, key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, cachedAt: c.clock.Now()}
}

// Delete removes key if present.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, including expired ones not yet
// observed by Get.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every expired entry.
func (c *TTL[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for k, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

// GetOrCompute returns the cached value for key, or calls compute exactly once
// for this caller on a miss and stores a successful result.
func GetOrCompute[V any](ctx context.Context, s Store[V], key string, compute func(context.Context) (V, error)) (V, error) {
	if v, ok := s.Get(ctx, key); ok {
		return v, nil
	}
	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	s.Put(ctx, key, v)
	return v, nil
}
