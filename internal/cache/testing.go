package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RunCacheSuite exercises a Cache against the behaviors spec §4.3/§8 require.
// Mirrors the teacher's internal/storage/testing.go: StoreTestSuite pattern
// of a reusable suite function any implementation can be run through.
func RunCacheSuite(t *testing.T, newCache func() *Cache) {
	t.Run("GetMiss", func(t *testing.T) {
		c := newCache()
		_, ok := c.Get("missing")
		require.False(t, ok)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		c := newCache()
		c.Set("k", "v", time.Minute)
		v, ok := c.Get("k")
		require.True(t, ok)
		require.Equal(t, "v", v)
	})

	t.Run("LazyExpiry", func(t *testing.T) {
		c := newCache()
		fixed := time.Now()
		c.now = func() time.Time { return fixed }
		c.Set("k", "v", time.Second)
		c.now = func() time.Time { return fixed.Add(2 * time.Second) }
		_, ok := c.Get("k")
		require.False(t, ok, "entry must be treated as absent once past its ttl")
		c.mu.Lock()
		_, stillPresent := c.entries["k"]
		c.mu.Unlock()
		require.False(t, stillPresent, "expired entry must be removed on access")
	})

	t.Run("TTLClamped", func(t *testing.T) {
		c := newCache()
		c.Set("k", "v", -time.Hour)
		_, ok := c.Get("k")
		require.False(t, ok, "negative ttl clamps to 0, an immediately-expired entry")
	})

	t.Run("InvalidatePrefix", func(t *testing.T) {
		c := newCache()
		c.Set("col:a", 1, time.Minute)
		c.Set("col:b", 2, time.Minute)
		c.Set("other", 3, time.Minute)
		n := c.InvalidatePrefix("col:")
		require.Equal(t, 2, n)
		_, ok := c.Get("other")
		require.True(t, ok)
	})

	t.Run("InvalidateRegexAnchored", func(t *testing.T) {
		c := newCache()
		c.Set("col:ziplist", 1, time.Minute)
		c.Set("xcol:ziplist", 2, time.Minute)
		n := c.InvalidateRegex("col:.*")
		require.Equal(t, 1, n, "pattern is implicitly anchored at the start")
		_, ok := c.Get("xcol:ziplist")
		require.True(t, ok)
	})

	t.Run("InvalidateRegexInvalidPattern", func(t *testing.T) {
		c := newCache()
		c.Set("k", 1, time.Minute)
		n := c.InvalidateRegex("(")
		require.Equal(t, 0, n)
		_, ok := c.Get("k")
		require.True(t, ok)
	})

	t.Run("Sweep", func(t *testing.T) {
		c := newCache()
		fixed := time.Now()
		c.now = func() time.Time { return fixed }
		c.Set("expired", 1, time.Second)
		c.Set("alive", 2, time.Hour)
		c.now = func() time.Time { return fixed.Add(2 * time.Second) }
		n := c.Sweep()
		require.Equal(t, 1, n)
		require.Equal(t, 1, c.StatsSnapshot().Entries)
	})

	t.Run("GetOrSetSingleFlight", func(t *testing.T) {
		c := newCache()
		var calls atomic.Int64
		var wg sync.WaitGroup
		results := make([]any, 100)

		start := make(chan struct{})
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				v, err := c.GetOrSet("k", time.Minute, func() (any, error) {
					calls.Add(1)
					time.Sleep(50 * time.Millisecond)
					return "computed", nil
				})
				require.NoError(t, err)
				results[i] = v
			}(i)
		}
		close(start)
		wg.Wait()

		require.Equal(t, int64(1), calls.Load(), "factory must run at most once across concurrent callers")
		for _, v := range results {
			require.Equal(t, "computed", v)
		}
	})
}
