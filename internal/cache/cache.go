package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCapacity is used when a non-positive capacity is configured
	DefaultCapacity = 100
	// DefaultTTL is the expiry applied to entries when none is configured
	DefaultTTL = 30 * time.Minute
)

// ComputeFunc produces the value for a key on a cache miss
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Config holds cache settings
type Config struct {
	Capacity int
	TTL      time.Duration
	// Now overrides the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Len       int
}

// entry is a pending or resolved lookup. done is closed once value/err are set.
type entry[V any] struct {
	done       chan struct{}
	value      V
	err        error
	insertedAt time.Time
}

func (e *entry[V]) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Cache is a bounded, expiring memoization layer. It stores the pending
// operation under its key, so concurrent lookups for the same key share
// one computation.
type Cache[K comparable, V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[K, *entry[V]]
	ttl time.Duration
	now func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache with LRU eviction and lazy TTL expiry
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l, err := lru.New[K, *entry[V]](cfg.Capacity)
	if err != nil {
		// Only possible with a non-positive size, which is guarded above
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Cache[K, V]{
		lru: l,
		ttl: cfg.TTL,
		now: cfg.Now,
	}
}

// GetOrCompute returns the live value for key, or runs compute and stores
// its pending result under key. compute runs detached from the caller's
// cancellation so other waiters can still use its result; the caller stops
// waiting when ctx is done and receives ctx.Err(). A failed computation is
// removed so the next access retries it.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, compute ComputeFunc[V]) (V, error) {
	c.mu.Lock()
	e, ok := c.lru.Get(key)
	if ok && e.resolved() && c.expired(e) {
		c.lru.Remove(key)
		ok = false
	}
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
		e = &entry[V]{
			done:       make(chan struct{}),
			insertedAt: c.now(),
		}
		if c.lru.Add(key, e) {
			c.evictions.Add(1)
		}
		go c.run(context.WithoutCancel(ctx), key, e, compute)
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// run executes compute and publishes the outcome to every waiter of e
func (c *Cache[K, V]) run(ctx context.Context, key K, e *entry[V], compute ComputeFunc[V]) {
	defer close(e.done)

	defer func() {
		if r := recover(); r != nil {
			e.err = fmt.Errorf("cache compute panicked: %v", r)
			c.drop(key, e)
		}
	}()

	e.value, e.err = compute(ctx)
	if e.err != nil {
		c.drop(key, e)
	}
}

// drop removes key only while it still maps to e
func (c *Cache[K, V]) drop(key K, e *entry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lru.Peek(key); ok && cur == e {
		c.lru.Remove(key)
	}
}

// expired reports whether a resolved entry has outlived the TTL
func (c *Cache[K, V]) expired(e *entry[V]) bool {
	return !c.now().Before(e.insertedAt.Add(c.ttl))
}

// Contains reports whether key holds a live entry without touching recency
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return false
	}
	return !e.resolved() || !c.expired(e)
}

// Remove deletes key from the cache
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Purge empties the cache
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of entries, including expired ones not yet read
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the current counters
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.Len(),
	}
}
