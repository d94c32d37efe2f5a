// Package cache provides a TTL-only in-memory store. Data volume is small
// (hundreds of symbols) so there is no capacity eviction; entries die by
// expiry alone.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/findash/marketdata/internal/observ"
)

// Clock abstracts time.Now so tests can control expiry deterministically.
type Clock func() time.Time

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a string-keyed TTL cache. Values are stored and returned by value;
// an entry is never shared by reference outside a Get/Set call.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	clock   Clock
}

func New[V any](clock Clock) *Cache[V] {
	if clock == nil {
		clock = time.Now
	}
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		clock:   clock,
	}
}

// Get returns the cached value if present and unexpired. Expiry is lazy: an
// entry past its deadline is deleted here even if the sweeper has not run.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		observ.IncCounter("cache_misses_total", nil)
		return zero, false
	}
	if c.clock().After(e.expiresAt) {
		delete(c.entries, key)
		observ.IncCounter("cache_misses_total", nil)
		observ.IncCounter("cache_expired_reads_total", nil)
		return zero, false
	}

	observ.IncCounter("cache_hits_total", nil)
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.clock()
	c.mu.Lock()
	c.entries[key] = entry[V]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()
	observ.IncCounter("cache_sets_total", nil)
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len counts live entries (expired-but-unswept entries are excluded).
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.clock()
	n := 0
	for _, e := range c.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// SweepExpired removes dead entries to bound memory. It is housekeeping only;
// Get is correct without it.
func (c *Cache[V]) SweepExpired() int {
	now := c.clock()
	c.mu.Lock()
	evicted := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()

	if evicted > 0 {
		observ.IncCounterBy("cache_evictions_total", nil, float64(evicted))
	}
	return evicted
}

// StartSweeper runs SweepExpired on a ticker until ctx is cancelled. Runs on
// its own timer so it is never blocked by in-flight fetches.
func (c *Cache[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.SweepExpired(); n > 0 {
					observ.Log("cache_sweep", map[string]any{"evicted": n})
				}
			}
		}
	}()
}
