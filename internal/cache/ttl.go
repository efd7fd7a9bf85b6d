// Package cache provides the shared TTL cache and in-flight deduplication
// primitives used by every engine component, each with its own TTL policy.
package cache

import (
	"context"
	"sync"
	"time"
)

// TTLCache is a mutex-guarded map whose entries expire after a per-entry
// TTL. Expired entries are evicted lazily on read and swept by Prune.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	now     func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTL creates an empty TTL cache.
func NewTTL[K comparable, V any]() *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Get returns the live value for key. An expired entry is evicted and
// reported as absent: entries are never returned past expiry.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key regardless of expiry.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Prune sweeps all expired entries and returns how many were removed.
func (c *TTLCache[K, V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartPruning sweeps expired entries on interval until ctx is done.
func (c *TTLCache[K, V]) StartPruning(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Prune()
			}
		}
	}()
}
