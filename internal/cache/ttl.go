// Package cache provides a bounded in-process TTL cache. It backs the event
// deduplicator in single-instance deployments; multi-instance deployments
// swap it for a shared store behind the same interface.
package cache

import (
	"sync"
	"time"
)

// Cache is a TTL-expiring key/value store.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	// SetIfAbsent stores the value unless a live entry already exists.
	// Returns true if the value was stored.
	SetIfAbsent(key K, value V) bool
	Len() int
	Stop()
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded map with TTL-based eviction. A periodic sweep removes
// expired entries; when the hard cap is reached mid-burst, eviction runs
// inline before insert so novel traffic is never blocked.
// Safe for concurrent use.
type TTLCache[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]entry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewTTLCache creates a cache with the given TTL and entry cap and starts the
// background sweep.
func NewTTLCache[K comparable, V any](ttl time.Duration, maxEntries int) *TTLCache[K, V] {
	c := newTTLCache[K, V](ttl, maxEntries, time.Now)
	go c.sweepLoop(ttl)
	return c
}

func newTTLCache[K comparable, V any](ttl time.Duration, maxEntries int, now func() time.Time) *TTLCache[K, V] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	return &TTLCache[K, V]{
		entries:    make(map[K]entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		stopCh:     make(chan struct{}),
	}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		return false
	}

	if len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}

	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
	return true
}

func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the background sweep.
func (c *TTLCache[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *TTLCache[K, V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictLocked(c.now())
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// evictLocked removes expired entries; if the map is still at cap, it drops
// arbitrary entries until one slot is free (map iteration, FIFO-ish).
func (c *TTLCache[K, V]) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.maxEntries {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
}
