// SPDX-License-Identifier: MIT

// Package cache provides small key/value caches with TTL support: a bounded
// in-memory cache and a Redis-backed cache sharing the same interface.
package cache

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/tune2hls/internal/metrics"
)

// Cache provides thread-safe caching with expiration support.
type Cache[V any] interface {
	// Get retrieves a value. The second result is false if absent or expired.
	Get(key string) (V, bool)
	// Set stores a value. A ttl <= 0 means the entry never expires.
	Set(key string, value V, ttl time.Duration)
	// Delete removes a value.
	Delete(key string)
	// Clear removes all values.
	Clear()
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache counters.
type Stats struct {
	Hits        int64 // Successful Get operations
	Misses      int64 // Get operations that found nothing usable
	Sets        int64
	Evictions   int64 // Entries dropped by expiry or the size bound
	CurrentSize int
}

type counters struct {
	hits, misses, sets, evictions atomic.Int64
}

func (c *counters) snapshot(size int) Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// DefaultEvictFraction is the share of entries dropped when a bounded cache overflows.
const DefaultEvictFraction = 0.2

// MemoryOptions configures a Memory cache.
type MemoryOptions struct {
	// MaxEntries bounds the entry count. Zero means unbounded.
	MaxEntries int
	// EvictFraction of the entries, oldest first, are dropped when MaxEntries
	// is exceeded. Defaults to DefaultEvictFraction.
	EvictFraction float64
	// CleanupInterval starts a janitor removing expired entries. Zero disables it.
	CleanupInterval time.Duration
	// Name labels the entry gauge. Empty disables the gauge.
	Name string
}

type entry[V any] struct {
	value      V
	expiration time.Time // zero: never
	seq        uint64    // insertion order
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// Memory is an in-memory Cache with an optional entry bound.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	seq     uint64
	opts    MemoryOptions
	stats   counters

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemory creates an in-memory cache.
func NewMemory[V any](opts MemoryOptions) *Memory[V] {
	if opts.EvictFraction <= 0 || opts.EvictFraction > 1 {
		opts.EvictFraction = DefaultEvictFraction
	}
	c := &Memory[V]{
		entries: make(map[string]*entry[V]),
		opts:    opts,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		go c.janitor(opts.CleanupInterval)
	} else {
		close(c.done)
	}
	return c
}

// Get retrieves a value from the cache.
func (c *Memory[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || e.expired(time.Now()) {
		c.stats.misses.Add(1)
		var zero V
		return zero, false
	}
	c.stats.hits.Add(1)
	return e.value, true
}

// Set stores a value in the cache, evicting the oldest entries on overflow.
func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	e := &entry[V]{value: value, seq: c.seq}
	if ttl > 0 {
		e.expiration = time.Now().Add(ttl)
	}
	c.entries[key] = e
	c.stats.sets.Add(1)

	if c.opts.MaxEntries > 0 && len(c.entries) > c.opts.MaxEntries {
		c.evictOldestLocked()
	}
	c.publishLocked()
}

// evictOldestLocked drops ceil(len*fraction) entries in insertion order.
func (c *Memory[V]) evictOldestLocked() {
	n := int(math.Ceil(float64(len(c.entries)) * c.opts.EvictFraction))
	type keyed struct {
		key string
		seq uint64
	}
	all := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, keyed{k, e.seq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	for _, k := range all[:n] {
		delete(c.entries, k.key)
	}
	c.stats.evictions.Add(int64(n))
}

// Delete removes a value from the cache.
func (c *Memory[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.publishLocked()
	c.mu.Unlock()
}

// Clear removes all values from the cache.
func (c *Memory[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[V])
	c.publishLocked()
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Memory[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Memory[V]) Stats() Stats {
	return c.stats.snapshot(c.Len())
}

// DeleteExpired removes expired entries and returns how many were removed.
func (c *Memory[V]) DeleteExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.evictions.Add(int64(count))
	c.publishLocked()
	return count
}

// Stop terminates the janitor and waits for it to exit. Safe to call twice.
func (c *Memory[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Memory[V]) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Memory[V]) publishLocked() {
	if c.opts.Name != "" {
		metrics.SetMemoEntries(c.opts.Name, len(c.entries))
	}
}
