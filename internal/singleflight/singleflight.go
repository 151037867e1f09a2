// Package singleflight coalesces concurrent calls that produce the same
// cache entry, so a block is read from storage once however many readers
// miss on it at the same time.
package singleflight

import (
	"context"
	"sync"
)

// Group runs at most one fn per key at a time. Callers arriving while a call
// is in flight wait for its result instead of starting their own.
//
// The first caller for a key is the leader and runs fn itself.
// Followers wait on the call's done channel; the result is published before
// the channel is closed. A follower whose ctx ends stops waiting and gets
// ctx.Err(); the leader's fn keeps running.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do runs fn for key unless a call is already in flight, in which case it
// waits for that call. leader reports whether this caller ran fn.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, err error, leader bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, c.err, false
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err(), false
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// Remove the in-flight marker and wake followers even if fn panics.
	defer func() {
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn()
	return c.val, c.err, true
}

// InFlight returns the number of keys with a running call.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
