/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type wantMetrics struct {
	amount, hits, misses, evictions, expirations int
}

func requireMetrics(t *testing.T, want wantMetrics, pm *PrometheusMetrics) {
	t.Helper()
	got := wantMetrics{
		amount:      int(promtestutil.ToFloat64(pm.EntriesAmount)),
		hits:        int(promtestutil.ToFloat64(pm.HitsTotal)),
		misses:      int(promtestutil.ToFloat64(pm.MissesTotal)),
		evictions:   int(promtestutil.ToFloat64(pm.EvictionsTotal)),
		expirations: int(promtestutil.ToFloat64(pm.ExpirationsTotal)),
	}
	require.Equal(t, want, got)
}

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name        string
		maxEntries  int
		ttl         time.Duration
		run         func(t *testing.T, cache *LRUCache[string, int], clock *manualClock)
		wantMetrics wantMetrics
	}{
		{
			name:       "miss",
			maxEntries: 10,
			run: func(t *testing.T, cache *LRUCache[string, int], _ *manualClock) {
				for _, key := range []string{"id:alice", "id:bob"} {
					_, found := cache.Get(key)
					require.False(t, found)
				}
			},
			wantMetrics: wantMetrics{misses: 2},
		},
		{
			name:       "add, overwrite and get",
			maxEntries: 10,
			run: func(t *testing.T, cache *LRUCache[string, int], _ *manualClock) {
				cache.Add("id:alice", 1)
				cache.Add("id:bob", 2)
				cache.Add("id:alice", 3)
				val, found := cache.Get("id:alice")
				require.True(t, found)
				require.Equal(t, 3, val)
				require.Equal(t, 2, cache.Len())
			},
			wantMetrics: wantMetrics{amount: 2, hits: 1},
		},
		{
			name:       "least recently used entry is evicted",
			maxEntries: 2,
			run: func(t *testing.T, cache *LRUCache[string, int], _ *manualClock) {
				cache.Add("a", 1)
				cache.Add("b", 2)
				_, _ = cache.Get("a")
				cache.Add("c", 3)

				_, found := cache.Peek("b")
				require.False(t, found)
				_, found = cache.Peek("a")
				require.True(t, found)
				_, found = cache.Peek("c")
				require.True(t, found)
			},
			wantMetrics: wantMetrics{amount: 2, hits: 1, evictions: 1},
		},
		{
			name:       "peek does not change recency",
			maxEntries: 2,
			run: func(t *testing.T, cache *LRUCache[string, int], _ *manualClock) {
				cache.Add("a", 1)
				cache.Add("b", 2)
				_, _ = cache.Peek("a")
				cache.Add("c", 3)
				_, found := cache.Peek("a")
				require.False(t, found)
			},
			wantMetrics: wantMetrics{amount: 2, evictions: 1},
		},
		{
			name:       "expired entry is dropped on access",
			maxEntries: 10,
			ttl:        time.Second,
			run: func(t *testing.T, cache *LRUCache[string, int], clock *manualClock) {
				cache.Add("a", 1)
				clock.Advance(time.Second)
				_, found := cache.Peek("a")
				require.False(t, found)
				require.Equal(t, 1, cache.Len())
				_, found = cache.Get("a")
				require.False(t, found)
				require.Equal(t, 0, cache.Len())
			},
			wantMetrics: wantMetrics{misses: 1, expirations: 1},
		},
		{
			name:       "get or add",
			maxEntries: 10,
			run: func(t *testing.T, cache *LRUCache[string, int], _ *manualClock) {
				val, exists := cache.GetOrAddWithTTL("a", func() int { return 42 }, 0)
				require.False(t, exists)
				require.Equal(t, 42, val)
				val, exists = cache.GetOrAddWithTTL("a", func() int { return 7 }, 0)
				require.True(t, exists)
				require.Equal(t, 42, val)
			},
			wantMetrics: wantMetrics{amount: 1, hits: 1, misses: 1},
		},
		{
			name:       "remove and purge",
			maxEntries: 10,
			run: func(t *testing.T, cache *LRUCache[string, int], _ *manualClock) {
				cache.Add("a", 1)
				cache.Add("b", 2)
				require.True(t, cache.Remove("a"))
				require.False(t, cache.Remove("a"))
				require.Equal(t, 1, cache.Len())
				cache.Purge()
				require.Equal(t, 0, cache.Len())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &manualClock{now: time.Unix(1700000000, 0)}
			pm := NewPrometheusMetrics()
			cache, err := NewWithOpts[string, int](tt.maxEntries, pm, Options[string, int]{DefaultTTL: tt.ttl, Now: clock.Now})
			require.NoError(t, err)
			tt.run(t, cache, clock)
			requireMetrics(t, tt.wantMetrics, pm)
		})
	}
}

func TestLRUCache_SlidingExpiration(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	var evicted []string
	cache, err := NewWithOpts[string, int](10, nil, Options[string, int]{
		DefaultTTL:        time.Minute,
		SlidingExpiration: true,
		Now:               clock.Now,
		OnEvict: func(key string, _ int, reason EvictReason) {
			evicted = append(evicted, key+":"+reason.String())
		},
	})
	require.NoError(t, err)

	cache.Add("active", 1)
	cache.Add("idle", 2)
	for i := 0; i < 3; i++ {
		clock.Advance(40 * time.Second)
		_, found := cache.Get("active")
		require.True(t, found, "lookups should keep the entry alive")
	}

	require.Equal(t, 1, cache.CleanupExpired())
	require.Equal(t, []string{"idle:expired"}, evicted)
	_, found := cache.Peek("active")
	require.True(t, found)
}

func TestLRUCache_GetOrAddWithTTL_AdoptsNewTTL(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	cache, err := NewWithOpts[string, int](10, nil, Options[string, int]{SlidingExpiration: true, Now: clock.Now})
	require.NoError(t, err)

	cache.GetOrAddWithTTL("k", func() int { return 1 }, time.Second)
	cache.GetOrAddWithTTL("k", func() int { return 2 }, time.Hour)

	clock.Advance(time.Minute)
	val, found := cache.Peek("k")
	require.True(t, found)
	require.Equal(t, 1, val)
}

func TestLRUCache_OnEvictCapacity(t *testing.T) {
	var reasons []EvictReason
	cache, err := NewWithOpts[string, int](1, nil, Options[string, int]{
		OnEvict: func(_ string, _ int, reason EvictReason) { reasons = append(reasons, reason) },
	})
	require.NoError(t, err)

	cache.Add("a", 1)
	cache.Add("b", 2)
	require.Equal(t, []EvictReason{EvictReasonCapacity}, reasons)
	require.Equal(t, "capacity", reasons[0].String())
}

func TestNewWithOpts_InvalidParams(t *testing.T) {
	_, err := NewWithOpts[string, int](0, nil, Options[string, int]{})
	require.EqualError(t, err, "maxEntries should be positive")
	_, err = NewWithOpts[string, int](1, nil, Options[string, int]{DefaultTTL: -time.Second})
	require.EqualError(t, err, "defaultTTL should not be negative")
}
