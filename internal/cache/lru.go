// Package cache implements the two-tier cache in front of embedding
// generation and query results: a bounded in-process LRU (tier 1)
// backed by a shared Redis store (tier 2).
package cache

import (
	"path"
	"strings"
	"sync"
	"time"
)

// Tier-1 defaults.
const (
	DefaultLRUMaxEntries = 1024
	DefaultLRUTTL        = time.Hour
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRU is the bounded in-process tier-1 cache with least-recently-used
// eviction and per-entry expiry. Safe for concurrent use.
type LRU struct {
	mu         sync.Mutex
	entries    map[string]*lruEntry
	order      []string
	maxEntries int
	ttl        time.Duration
}

// NewLRU creates a tier-1 cache. Non-positive parameters fall back to
// defaults.
func NewLRU(maxEntries int, ttl time.Duration) *LRU {
	if maxEntries <= 0 {
		maxEntries = DefaultLRUMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultLRUTTL
	}
	return &LRU{
		entries:    make(map[string]*lruEntry),
		order:      make([]string, 0, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the cached value and true on a live hit. Expired entries
// are removed and reported as misses.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}
	c.moveToEnd(key)
	return entry.value, true
}

// Set stores the value under key. A non-positive ttl uses the cache
// default. The oldest entry is evicted once the bound is reached.
func (c *LRU) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = &lruEntry{value: value, expiresAt: time.Now().Add(ttl)}
		c.moveToEnd(key)
		return
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &lruEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.order = append(c.order, key)
}

// DeletePattern removes every key matching the glob pattern and
// returns how many were dropped.
func (c *LRU) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for key := range c.entries {
		if matchPattern(pattern, key) {
			delete(c.entries, key)
			c.removeFromOrder(key)
			deleted++
		}
	}
	return deleted
}

// Len returns the number of live entries, expired ones included until
// they are touched.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops all entries.
func (c *LRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*lruEntry)
	c.order = c.order[:0]
}

func (c *LRU) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *LRU) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *LRU) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// matchPattern applies Redis-style glob matching so both tiers agree
// on what a pattern means. Malformed patterns match nothing.
func matchPattern(pattern, key string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == key
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
