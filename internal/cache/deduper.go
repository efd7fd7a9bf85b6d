package cache

import (
	"context"
	"sync"
)

// Deduper collapses concurrent calls for the same key into a single
// upstream invocation. While a call for key is in flight every additional
// caller waits on it and receives the same value or error. The in-flight
// marker is cleared when the call settles, regardless of outcome.
//
// There is no cancellation of a started call: the factory runs to
// completion with its own context and all waiters share its result.
// A waiter whose own ctx expires first unblocks with ctx.Err().
type Deduper[K comparable, V any] struct {
	mu       sync.Mutex
	inflight map[K]*call[V]
}

type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// NewDeduper creates an empty deduper.
func NewDeduper[K comparable, V any]() *Deduper[K, V] {
	return &Deduper[K, V]{inflight: make(map[K]*call[V])}
}

// Do invokes fn for key unless an identical call is already in flight,
// in which case it waits for that call's outcome.
func (d *Deduper[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	d.mu.Lock()
	if c, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		select {
		case <-c.done:
			return c.value, c.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	d.inflight[key] = c
	d.mu.Unlock()

	c.value, c.err = fn()

	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
	close(c.done)

	return c.value, c.err
}

// Inflight returns the number of keys currently being resolved.
func (d *Deduper[K, V]) Inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
