// Package cache implements the process-local TTL cache (C3): lazy expiry,
// prefix/regex invalidation, and a single-flight get-or-set.
//
// Grounded on original_source's fastapi_app/utils/cache.py SimpleTTLCache,
// refined with golang.org/x/sync/singleflight for the get-or-set contract.
package cache

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loghoi/loghoi/internal/metrics"
)

// entry is a (expires_at, value) pair keyed by a string.
type entry struct {
	expiresAt time.Time
	value     any
}

// Cache is a keyed cache with per-entry expiry and a single-flight factory.
// All mutations are serialized by mu; single-flight is delegated to group so
// concurrent misses for the same key invoke the factory at most once.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) if absent or expired.
// An expired entry is removed on access (lazy expiry).
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	v, ok := c.getLocked(key)
	c.mu.Unlock()
	if ok {
		metrics.CacheResultsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheResultsTotal.WithLabelValues("miss").Inc()
	}
	return v, ok
}

func (c *Cache) getLocked(key string) (any, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given ttl, clamped to >= 0. ttl=0
// stores an entry that is already expired.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		expiresAt: c.now().Add(ttl),
		value:     value,
	}
}

// Factory produces the value to cache on a miss.
type Factory func() (any, error)

// GetOrSet returns the cached value for key if present and unexpired;
// otherwise it invokes factory exactly once across all concurrent callers
// sharing the same key, caches the result under ttl, and returns it to every
// waiter (spec §4.3, invariant 6).
func (c *Cache) GetOrSet(key string, ttl time.Duration, factory Factory) (any, error) {
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		metrics.CacheResultsTotal.WithLabelValues("hit").Inc()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another goroutine may have populated the entry between
		// the unlock above and singleflight.Do serializing on this key.
		c.mu.Lock()
		if v, ok := c.getLocked(key); ok {
			c.mu.Unlock()
			metrics.CacheResultsTotal.WithLabelValues("hit").Inc()
			return v, nil
		}
		c.mu.Unlock()

		metrics.CacheResultsTotal.WithLabelValues("miss").Inc()
		result, ferr := factory()
		if ferr != nil {
			return nil, ferr
		}
		c.Set(key, result, ttl)
		return result, nil
	})
	return v, err
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns the count removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateRegex removes every entry whose key matches pattern, implicitly
// anchored at the start ("^" is prepended if absent). An invalid pattern
// matches nothing and returns 0.
func (c *Cache) InvalidateRegex(pattern string) int {
	if pattern == "" || pattern[0] != '^' {
		pattern = "^" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if re.MatchString(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Sweep removes every currently-expired entry and returns the count removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !e.expiresAt.After(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Stats reports simple size information, exposed via /api/col/cache/stats.
type Stats struct {
	Entries int `json:"entries"`
}

// StatsSnapshot returns the current entry count, including not-yet-swept
// expired entries.
func (c *Cache) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries)}
}
