// Package querycache keeps fetched collections in memory by key. Reads for the
// same key share one fetch, entries are refreshed only when invalidated or
// past their stale time, and pushed changes can be patched in without a
// refetch.
package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cache entry. String must be unique per key value; it
// names the shared fetch.
type Key interface {
	comparable
	String() string
}

// Fetcher loads the value for one key.
type Fetcher[V any] func(ctx context.Context) (V, error)

type options struct {
	staleTime time.Duration
	now       func() time.Time
}

type Option func(*options)

// WithStaleTime marks values stale d after they were fetched. Without it
// values stay fresh until invalidated.
func WithStaleTime(d time.Duration) Option {
	return func(o *options) { o.staleTime = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type entry[V any] struct {
	value     V
	err       error
	stored    bool
	stale     bool
	fetchedAt time.Time
	// gen changes whenever the entry is invalidated or overwritten; a fetch
	// that started under an older gen is not stored.
	gen      uint64
	inflight bool
	pending  []func(V) V
}

// Cache is safe for concurrent use.
type Cache[K Key, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	group   singleflight.Group
	opts    options
}

func New[K Key, V any](opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{entries: make(map[K]*entry[V]), opts: o}
}

// Get returns the cached value for key, fetching it when absent or stale.
// A stored fetch error is returned as is until the key is invalidated or
// refetched. Errors from a cancelled or expired context are never stored.
func (c *Cache[K, V]) Get(ctx context.Context, key K, fetch Fetcher[V]) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.stored && !e.stale {
		if e.err != nil {
			err := e.err
			c.mu.Unlock()
			var zero V
			return zero, err
		}
		if !c.expired(e) {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
	}
	c.mu.Unlock()
	return c.load(ctx, key, fetch)
}

// Refetch drops the entry's freshness and loads it again.
func (c *Cache[K, V]) Refetch(ctx context.Context, key K, fetch Fetcher[V]) (V, error) {
	c.Invalidate(key)
	return c.load(ctx, key, fetch)
}

func (c *Cache[K, V]) load(ctx context.Context, key K, fetch Fetcher[V]) (V, error) {
	res, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.Lock()
		e := c.ensure(key)
		gen := e.gen
		e.inflight = true
		c.mu.Unlock()

		v, err := fetch(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.entries[key] != e || e.gen != gen {
			return v, err
		}
		e.inflight = false
		if err != nil && canceled(ctx, err) {
			// The caller went away; the next reader fetches again.
			e.pending = nil
			return v, err
		}
		if err == nil {
			for _, fn := range e.pending {
				v = fn(v)
			}
		}
		e.pending = nil
		e.value, e.err = v, err
		e.stored, e.stale = true, false
		e.fetchedAt = c.opts.now()
		return v, err
	})
	v, _ := res.(V)
	return v, err
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Peek returns the stored value without fetching, even when stale.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.stored || e.err != nil {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Failed reports whether key holds a stored fetch error.
func (c *Cache[K, V]) Failed(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.stored && !e.stale && e.err != nil
}

// Invalidate marks key stale so the next Get fetches again. A fetch already
// in flight for key still answers its callers but is not stored.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.stale = true
		e.gen++
		e.inflight = false
		e.pending = nil
	}
	c.group.Forget(key.String())
}

// Set stores v as a fresh value for key.
func (c *Cache[K, V]) Set(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.ensure(key)
	e.gen++
	e.value, e.err = v, nil
	e.stored, e.stale, e.inflight = true, false, false
	e.pending = nil
	e.fetchedAt = c.opts.now()
	c.group.Forget(key.String())
}

// Remove drops key entirely.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.group.Forget(key.String())
}

// Update applies fn to the stored value. While a fetch is in flight fn is
// also replayed onto the fetched value. It reports whether fn was applied
// or queued; keys with no value and no fetch are left alone.
func (c *Cache[K, V]) Update(key K, fn func(V) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	applied := false
	if e.stored && e.err == nil {
		e.value = fn(e.value)
		applied = true
	}
	if e.inflight {
		e.pending = append(e.pending, fn)
		applied = true
	}
	return applied
}

// Len returns the number of entries, including stale ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) ensure(key K) *entry[V] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache[K, V]) expired(e *entry[V]) bool {
	if c.opts.staleTime <= 0 {
		return false
	}
	return c.opts.now().Sub(e.fetchedAt) >= c.opts.staleTime
}
