package engine

import (
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiterWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("twitter", 3, 15*time.Minute)
	limiter.Clock = clock.Now

	for i := 0; i < 3; i++ {
		allowed, limit := limiter.CheckLimit("acct-1")
		require.True(t, allowed, "call %d", i+1)
		require.Equal(t, 3-(i+1), limit.Remaining)
	}

	allowed, limit := limiter.CheckLimit("acct-1")
	require.False(t, allowed)
	require.Equal(t, 0, limit.Remaining)
	require.Equal(t, clock.Now().Add(15*time.Minute), limit.ResetTime)

	// Late in the window the budget is still exhausted.
	clock.Advance(14 * time.Minute)
	allowed, _ = limiter.CheckLimit("acct-1")
	require.False(t, allowed)

	// At the reset instant a fresh window opens.
	clock.Advance(time.Minute)
	allowed, limit = limiter.CheckLimit("acct-1")
	require.True(t, allowed)
	require.Equal(t, 2, limit.Remaining)
	require.Equal(t, clock.Now(), limit.WindowStart)
}

func TestRateLimiterBurstAtWindowStart(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("instagram", 5, time.Hour)
	limiter.Clock = clock.Now

	// The pro-rated allowance never blocks while remaining is positive.
	for i := 0; i < 5; i++ {
		allowed, _ := limiter.CheckLimit("acct")
		require.True(t, allowed)
	}
	allowed, _ := limiter.CheckLimit("acct")
	require.False(t, allowed)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("facebook", 1, time.Hour)
	limiter.Clock = clock.Now

	allowed, _ := limiter.CheckLimit("a")
	require.True(t, allowed)
	allowed, _ = limiter.CheckLimit("a")
	require.False(t, allowed)

	allowed, _ = limiter.CheckLimit("b")
	require.True(t, allowed)

	all := limiter.GetAllStatus()
	require.Len(t, all, 2)
	require.Contains(t, all, "facebook:a")
	require.Contains(t, all, "facebook:b")
}

func TestRateLimiterRemainingBounds(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("twitter", 4, time.Minute)
	limiter.Clock = clock.Now

	for i := 0; i < 50; i++ {
		_, limit := limiter.CheckLimit("acct")
		require.GreaterOrEqual(t, limit.Remaining, 0)
		require.LessOrEqual(t, limit.Remaining, limit.Limit)
		require.True(t, limit.ResetTime.After(limit.WindowStart))
		clock.Advance(7 * time.Second)
	}
}

func TestRateLimiterConcurrentAdmission(t *testing.T) {
	limiter := NewRateLimiter("twitter", 25, time.Hour)
	clock := newFakeClock()
	limiter.Clock = clock.Now

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := limiter.CheckLimit("shared")
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 25, allowed)
}

func TestRateLimiterUpdateFromHeaders(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("twitter", 300, 15*time.Minute)
	limiter.Clock = clock.Now

	_, _ = limiter.CheckLimit("acct")

	reset := clock.Now().Add(10 * time.Minute)
	header := http.Header{}
	header.Set(HeaderRateLimitLimit, "100")
	header.Set(HeaderRateLimitRemaining, "40")
	header.Set(HeaderRateLimitReset, strconv.FormatInt(reset.Unix(), 10))

	limiter.UpdateFromHeaders("acct", header)

	status, ok := limiter.GetStatus("acct")
	require.True(t, ok)
	require.Equal(t, 100, status.Limit)
	require.Equal(t, 40, status.Remaining)
	require.Equal(t, reset.UnixMilli(), status.ResetMillis())
	require.Equal(t, clock.Now(), status.WindowStart)
}

func TestRateLimiterUpdateFromHeadersIgnoresMissingLimit(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("twitter", 10, time.Minute)
	limiter.Clock = clock.Now

	_, before := limiter.CheckLimit("acct")

	header := http.Header{}
	header.Set(HeaderRateLimitRemaining, "1")
	limiter.UpdateFromHeaders("acct", header)

	after, ok := limiter.GetStatus("acct")
	require.True(t, ok)
	require.Equal(t, before, after)
}

func TestRateLimiterUpdateFromHeadersClampsState(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("facebook", 10, time.Minute)
	limiter.Clock = clock.Now

	header := http.Header{}
	header.Set(HeaderRateLimitLimit, "50")
	header.Set(HeaderRateLimitRemaining, "75")
	header.Set(HeaderRateLimitReset, "0")
	limiter.UpdateFromHeaders("acct", header)

	status, ok := limiter.GetStatus("acct")
	require.True(t, ok)
	require.Equal(t, 50, status.Remaining)
	require.Equal(t, clock.Now().Add(time.Minute), status.ResetTime)
}

func TestRateLimiterHeaderExhaustionDenies(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter("twitter", 300, 15*time.Minute)
	limiter.Clock = clock.Now

	header := http.Header{}
	header.Set(HeaderRateLimitLimit, "300")
	header.Set(HeaderRateLimitRemaining, "0")
	header.Set(HeaderRateLimitReset, strconv.FormatInt(clock.Now().Add(5*time.Minute).Unix(), 10))
	limiter.UpdateFromHeaders("acct", header)

	allowed, limit := limiter.CheckLimit("acct")
	require.False(t, allowed)
	require.Equal(t, clock.Now().Add(5*time.Minute), limit.ResetTime)

	clock.Advance(5 * time.Minute)
	allowed, _ = limiter.CheckLimit("acct")
	require.True(t, allowed)
}

func TestRateLimiterClear(t *testing.T) {
	limiter := NewRateLimiter("instagram", 1, time.Hour)
	_, _ = limiter.CheckLimit("acct")

	limiter.Clear()

	_, ok := limiter.GetStatus("acct")
	require.False(t, ok)
	require.Empty(t, limiter.GetAllStatus())
}

func TestNormalizeRateLimitHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("x-ratelimit-limit", "200")
	header.Set("x-ratelimit-remaining", "199")
	header.Set("x-rate-limit-reset", "1735689600")

	normalized := NormalizeRateLimitHeaders(header)
	require.Equal(t, "200", normalized.Get(HeaderRateLimitLimit))
	require.Equal(t, "199", normalized.Get(HeaderRateLimitRemaining))
	require.Equal(t, "1735689600", normalized.Get(HeaderRateLimitReset))
}

func TestRateLimitersPresetsAndOverrides(t *testing.T) {
	set := NewRateLimiters(DefaultPresets, map[string]RateLimitPreset{
		"twitter": {MaxRequests: 100},
		"custom":  {MaxRequests: 5, Window: time.Minute},
	})

	twitter, ok := set.ForPlatform("twitter")
	require.True(t, ok)
	require.Equal(t, 100, twitter.MaxRequests)
	require.Equal(t, 15*time.Minute, twitter.Window)

	custom, ok := set.Get("custom")
	require.True(t, ok)
	require.Equal(t, 5, custom.MaxRequests)

	require.Len(t, set.Names(), len(DefaultPresets)+1)
}

func TestRateLimitersSafetyMargin(t *testing.T) {
	set := NewRateLimiters(DefaultPresets, nil)
	set.ApplySafetyMargin(0.9)

	instagram, ok := set.Get("instagram")
	require.True(t, ok)
	require.Equal(t, 180, instagram.MaxRequests)

	set.ApplySafetyMargin(1.5)
	require.Equal(t, 180, instagram.MaxRequests)
}
