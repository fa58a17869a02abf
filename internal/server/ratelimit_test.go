package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(rl *RateLimiter) *fakeClock {
	c := &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	rl.now = c.now
	return c
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)

	for range 100 {
		require.NoError(t, rl.CheckRateLimit("client", 100))
	}
	usage := rl.GetUsage("client")
	assert.Equal(t, 100, usage.RequestsToday)
	assert.Equal(t, int64(10000), usage.BytesToday)
	assert.Equal(t, Usage{}, rl.GetUsage("unknown"))
}

func TestRateLimiter_PerMinute(t *testing.T) {
	rl := NewRateLimiter(2, 0, 0, 0)
	clock := newClockedLimiter(rl)

	require.NoError(t, rl.CheckRateLimit("a", 0))
	clock.advance(10 * time.Second)
	require.NoError(t, rl.CheckRateLimit("a", 0))

	err := rl.CheckRateLimit("a", 0)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, 50*time.Second, rle.RetryAfter)

	// Rejected requests do not count against the window.
	assert.Equal(t, 2, rl.GetUsage("a").RequestsLastMinute)

	clock.advance(50 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("a", 0))
}

func TestRateLimiter_PerHour(t *testing.T) {
	rl := NewRateLimiter(0, 3, 0, 0)
	clock := newClockedLimiter(rl)

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("a", 0))
		clock.advance(5 * time.Minute)
	}
	err := rl.CheckRateLimit("a", 0)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "hour", rle.Type)
	assert.Equal(t, 45*time.Minute, rle.RetryAfter)

	clock.advance(45 * time.Minute)
	assert.NoError(t, rl.CheckRateLimit("a", 0))
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	t.Run("requests", func(t *testing.T) {
		rl := NewRateLimiter(0, 0, 2, 0)
		clock := newClockedLimiter(rl)

		require.NoError(t, rl.CheckRateLimit("a", 0))
		require.NoError(t, rl.CheckRateLimit("a", 0))

		err := rl.CheckRateLimit("a", 0)
		var qe *QuotaExceededError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, "requests", qe.Type)
		assert.Equal(t, int64(2), qe.Used)
		assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), qe.Resets)

		clock.advance(15 * time.Hour)
		assert.NoError(t, rl.CheckRateLimit("a", 0))
	})

	t.Run("data", func(t *testing.T) {
		rl := NewRateLimiter(0, 0, 0, 1000)
		newClockedLimiter(rl)

		require.NoError(t, rl.CheckRateLimit("a", 600))
		err := rl.CheckRateLimit("a", 500)
		var qe *QuotaExceededError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, "data", qe.Type)
		assert.Equal(t, int64(600), qe.Used)
		assert.NoError(t, rl.CheckRateLimit("a", 400))
	})
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 0, 0, 0)
	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.Error(t, rl.CheckRateLimit("a", 0))
	assert.NoError(t, rl.CheckRateLimit("b", 0))
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(50, 0, 0, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.CheckRateLimit("a", 0) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, admitted)
}

func TestRateLimitErrors_Message(t *testing.T) {
	rle := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: time.Second}
	assert.Contains(t, rle.Error(), "rate limit exceeded for minute")

	qe := &QuotaExceededError{Type: "data", Limit: 10, Used: 9, Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Contains(t, qe.Error(), "quota exceeded for data (used: 9, limit: 10")
}
