package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/cache"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestSetGet(t *testing.T) {
	c := cache.New()
	c.Set(cache.KeyPremiumStatus, true, time.Minute, "u1")

	v, ok := c.Get(cache.KeyPremiumStatus, "u1")
	require.True(t, ok)
	require.Equal(t, true, v)
	require.True(t, c.Has(cache.KeyPremiumStatus, "u1"))
}

func TestOwnerScoping(t *testing.T) {
	c := cache.New()
	c.Set(cache.KeyPremiumStatus, true, time.Minute, "u1")

	_, ok := c.Get(cache.KeyPremiumStatus, "u2")
	require.False(t, ok, "value written for u1 must not be visible to u2")
	_, ok = c.Get(cache.KeyPremiumStatus, "")
	require.False(t, ok)

	c.Set(cache.KeyPremiumStatus, false, time.Minute, "u2")
	v, _ := c.Get(cache.KeyPremiumStatus, "u1")
	require.Equal(t, true, v)
	v, _ = c.Get(cache.KeyPremiumStatus, "u2")
	require.Equal(t, false, v)
}

func TestExpiryIsLazy(t *testing.T) {
	clk := newClock()
	c := cache.New(cache.WithNowFunc(clk.Now))
	c.Set("quote", 42.0, 2*time.Minute, "u1")

	clk.Advance(119 * time.Second)
	require.True(t, c.Has("quote", "u1"))

	clk.Advance(time.Second)
	_, ok := c.Get("quote", "u1")
	require.False(t, ok)
	require.Equal(t, 0, c.Stats().Entries, "expired entry is evicted on read")
}

func TestNonPositiveTTLRemoves(t *testing.T) {
	c := cache.New()
	c.Set("k", 1, time.Minute, "u1")
	c.Set("k", 2, 0, "u1")
	require.False(t, c.Has("k", "u1"))
}

func TestTypedGet(t *testing.T) {
	c := cache.New()
	c.Set(cache.KeyPremiumStatus, true, time.Minute, "u1")

	premium, ok := cache.Get[bool](c, cache.KeyPremiumStatus, "u1")
	require.True(t, ok)
	require.True(t, premium)

	_, ok = cache.Get[string](c, cache.KeyPremiumStatus, "u1")
	require.False(t, ok)
}

func TestDeleteAndClearOwner(t *testing.T) {
	c := cache.New()
	c.Set("a", 1, time.Minute, "u1")
	c.Set("b", 2, time.Minute, "u1")
	c.Set("a", 3, time.Minute, "u2")

	c.Delete("a", "u1")
	require.False(t, c.Has("a", "u1"))
	require.True(t, c.Has("a", "u2"))

	require.Equal(t, 1, c.ClearOwner("u1"))
	require.False(t, c.Has("b", "u1"))
	require.True(t, c.Has("a", "u2"))
}

func TestCleanupExpired(t *testing.T) {
	clk := newClock()
	c := cache.New(cache.WithNowFunc(clk.Now))
	c.Set("short", 1, time.Minute, "u1")
	c.Set("long", 2, time.Hour, "u1")

	clk.Advance(2 * time.Minute)
	require.Equal(t, 1, c.CleanupExpired())
	require.Equal(t, 1, c.Stats().Entries)
	require.True(t, c.Has("long", "u1"))
}

func TestStatsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := cache.New(cache.WithMetrics(m))

	c.Set("k", "v", time.Minute, "u1")
	c.Get("k", "u1")
	c.Get("k", "u1")
	c.Get("missing", "u1")

	stats := c.Stats()
	require.Equal(t, uint64(2), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 1, stats.Entries)
	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
}

func TestSweepRunsInBackground(t *testing.T) {
	clk := newClock()
	c := cache.New(cache.WithNowFunc(clk.Now), cache.WithSweepInterval(5*time.Millisecond))
	c.Set("k", 1, time.Minute, "u1")
	clk.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.Stats().Entries == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCloseWithoutStart(t *testing.T) {
	c := cache.New()
	c.Close()
	c.Close()
}

func TestConcurrentAccess(t *testing.T) {
	c := cache.New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := string(rune('a' + i%4))
			for j := 0; j < 100; j++ {
				c.Set("k", j, time.Minute, owner)
				c.Get("k", owner)
				if j%10 == 0 {
					c.ClearOwner(owner)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestClassTTLs(t *testing.T) {
	c := cache.New()
	require.Equal(t, 5*time.Minute, c.ClassTTL(cache.ProfileData))
	require.Equal(t, 2*time.Minute, c.ClassTTL(cache.VolatileData))
	require.Equal(t, 24*time.Hour, c.ClassTTL(cache.PreferenceData))
	require.Equal(t, 5*time.Minute, c.ClassTTL(cache.Class(99)))

	c = cache.New(cache.WithClassTTL(cache.VolatileData, 30*time.Second), cache.WithClassTTL(cache.PreferenceData, 0))
	require.Equal(t, 30*time.Second, c.ClassTTL(cache.VolatileData))
	require.Equal(t, 24*time.Hour, c.ClassTTL(cache.PreferenceData))
}

func TestSetForUsesClassLifetime(t *testing.T) {
	clk := newClock()
	c := cache.New(cache.WithNowFunc(clk.Now))
	c.SetFor("quotes", []float64{1.5}, cache.VolatileData, "u1")
	c.SetFor("theme", "dark", cache.PreferenceData, "u1")

	clk.Advance(2*time.Minute + time.Second)
	require.False(t, c.Has("quotes", "u1"))
	theme, ok := cache.Get[string](c, "theme", "u1")
	require.True(t, ok)
	require.Equal(t, "dark", theme)
}
