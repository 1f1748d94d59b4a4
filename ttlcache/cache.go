/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// pendingCall is an in-flight computation for a single key.
// All callers requesting the key while the computation is in flight
// wait on done and receive val/err.
type pendingCall[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Cache is an in-memory cache with per-entry TTL, single-flight computation of values
// and optional LRU eviction.
//
// For every key at most one computation is in flight at any time: concurrent
// GetOrCompute callers for the same key join the pending computation and receive
// its outcome. Failed computations are never cached, so the next caller
// recomputes the value afresh.
type Cache[K comparable, V any] struct {
	maxEntries int

	defaultTTL time.Duration

	mu      sync.Mutex
	lruList *list.List
	entries map[K]*list.Element // map of settled entries, value is a lruList element
	pending map[K]*pendingCall[V]

	metricsCollector MetricsCollector
}

// Options represents options for the cache.
type Options struct {
	// MaxEntries bounds the number of settled entries stored in the cache.
	// When inserting a new entry would exceed the bound, the least recently used
	// entry is evicted. Pending computations are not counted and never evicted.
	// Zero or negative value means no bound.
	MaxEntries int

	// DefaultTTL is the TTL used by GetOrCompute.
	// Zero or negative value means entries never expire.
	// Expired entries are removed lazily on access or during periodic cleanup
	// (see RunPeriodicCleanup).
	DefaultTTL time.Duration
}

// New creates a new Cache with the provided options and metrics collector.
// Metrics collector is used to collect statistics about cache usage.
// It can be nil, in this case, metrics will be disabled.
func New[K comparable, V any](opts Options, metricsCollector MetricsCollector) *Cache[K, V] {
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	return &Cache[K, V]{
		maxEntries:       opts.MaxEntries,
		defaultTTL:       opts.DefaultTTL,
		lruList:          list.New(),
		entries:          make(map[K]*list.Element),
		pending:          make(map[K]*pendingCall[V]),
		metricsCollector: metricsCollector,
	}
}

// ComputeFunc computes a value to be cached.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// GetOrCompute returns the value for the key, computing it with the default TTL on miss.
// See GetOrComputeWithTTL.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, compute ComputeFunc[V]) (V, error) {
	return c.GetOrComputeWithTTL(ctx, key, c.defaultTTL, compute)
}

// GetOrComputeWithTTL returns the value stored for the key or computes it.
//
// If a fresh value is stored, it is returned immediately. If a computation for the key
// is already in flight, the caller joins it and receives its outcome without invoking
// compute (single-flight). Otherwise compute is invoked exactly once; on success the value
// is stored with the given TTL (non-positive TTL means no expiration) and delivered
// to all joined callers, on failure nothing is stored and the error is delivered
// to all joined callers.
//
// A caller whose ctx is done stops waiting and gets the context's error; the in-flight
// computation itself continues and its result is still delivered to the remaining callers.
// If the computing caller's ctx is done by the time compute returns, the outcome is
// treated as canceled: it is not cached and the context's error is delivered.
func (c *Cache[K, V]) GetOrComputeWithTTL(ctx context.Context, key K, ttl time.Duration, compute ComputeFunc[V]) (V, error) {
	c.mu.Lock()
	if value, ok := c.get(key); ok {
		c.mu.Unlock()
		return value, nil
	}
	if call, ok := c.pending[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.val, call.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	call := &pendingCall[V]{done: make(chan struct{})}
	c.pending[key] = call
	c.metricsCollector.SetPendingAmount(len(c.pending))
	c.mu.Unlock()

	return c.runCompute(ctx, key, ttl, call, compute)
}

func (c *Cache[K, V]) runCompute(
	ctx context.Context, key K, ttl time.Duration, call *pendingCall[V], compute ComputeFunc[V],
) (V, error) {
	var expiresAt time.Time
	settled := false
	settle := func(store bool) {
		c.mu.Lock()
		delete(c.pending, key)
		if store {
			c.addOrUpdate(key, call.val, expiresAt)
		}
		c.metricsCollector.SetPendingAmount(len(c.pending))
		c.mu.Unlock()
		close(call.done)
	}
	defer func() {
		if settled {
			return
		}
		// compute panicked, reject the waiters and re-panic on the computing goroutine
		r := recover()
		call.err = newPanicError(r)
		settle(false)
		panic(r)
	}()

	call.val, call.err = compute(ctx)
	if call.err == nil && ctx.Err() != nil {
		var zero V
		call.val, call.err = zero, ctx.Err()
	}
	if call.err == nil && ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	settled = true
	settle(call.err == nil)
	return call.val, call.err
}

// Get returns a value from the cache by the provided key.
// Expired entries are treated as missing.
func (c *Cache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// Add adds a value to the cache with the provided key and the default TTL.
func (c *Cache[K, V]) Add(key K, value V) {
	c.AddWithTTL(key, value, c.defaultTTL)
}

// AddWithTTL adds a value to the cache with the provided key and TTL.
// If the cache is full, the least recently used entry will be evicted.
func (c *Cache[K, V]) AddWithTTL(key K, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addOrUpdate(key, value, expiresAt)
}

// Remove removes a value from the cache by the provided key.
// Pending computations are not affected.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.entries, key)
	c.metricsCollector.SetAmount(len(c.entries))
	return true
}

// Purge removes all settled entries from the cache.
// Pending computations are not affected. Removed entries are not counted as evictions.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metricsCollector.SetAmount(0)
	c.entries = make(map[K]*list.Element)
	c.lruList.Init()
}

// Len returns the number of settled entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) get(key K) (value V, ok bool) {
	elem, hit := c.entries[key]
	if !hit {
		c.metricsCollector.IncMisses()
		return value, false
	}
	entry := elem.Value.(*cacheEntry[K, V])
	if !entry.expiresAt.IsZero() && entry.expiresAt.Before(time.Now()) {
		c.lruList.Remove(elem)
		delete(c.entries, key)
		c.metricsCollector.SetAmount(len(c.entries))
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	c.metricsCollector.IncHits()
	return entry.value, true
}

func (c *Cache[K, V]) addOrUpdate(key K, value V, expiresAt time.Time) {
	if elem, ok := c.entries[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value = &cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt}
		return
	}
	c.entries[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		c.metricsCollector.SetAmount(len(c.entries))
		return
	}
	if elem := c.lruList.Back(); elem != nil {
		c.lruList.Remove(elem)
		delete(c.entries, elem.Value.(*cacheEntry[K, V]).key)
		c.metricsCollector.SetAmount(len(c.entries))
		c.metricsCollector.AddEvictions(1)
	}
}

// RunPeriodicCleanup runs a cycle of periodic cleanup of expired entries.
// Entries without expiration time are not affected.
// It's supposed to be run in a separate goroutine.
func (c *Cache[K, V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, elem := range c.entries {
				entry := elem.Value.(*cacheEntry[K, V])
				if !entry.expiresAt.IsZero() && entry.expiresAt.Before(now) {
					c.lruList.Remove(elem)
					delete(c.entries, key)
				}
			}
			c.metricsCollector.SetAmount(len(c.entries))
			c.mu.Unlock()
		}
	}
}

// PanicError is an error that represents a panic value recovered from a compute function.
// It is delivered to the callers joined to the panicked computation.
type PanicError struct {
	Value interface{}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("compute panicked: %v", p.Value)
}

func (p *PanicError) Unwrap() error {
	err, ok := p.Value.(error)
	if !ok {
		return nil
	}
	return err
}

func newPanicError(v interface{}) error {
	return &PanicError{Value: v}
}
