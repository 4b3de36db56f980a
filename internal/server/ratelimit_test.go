package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(rpm, rph, rpd, mpd int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rpm, rph, rpd, mpd)
	rl.now = clock.Now
	return rl, clock
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000, 50000)

	assert.NotNil(t, rl)
	assert.Equal(t, 10, rl.requestsPerMinute)
	assert.Equal(t, 100, rl.requestsPerHour)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.Equal(t, 50000, rl.maxMatchesPerDay)
	assert.NotNil(t, rl.clients)
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl, _ := newTestLimiter(0, 0, 0, 0)

	for range 100 {
		require.NoError(t, rl.Allow("client"))
	}
	require.NoError(t, rl.ConsumeMatches("client", 1_000_000))

	usage := rl.Usage("client")
	assert.Equal(t, 100, usage.RequestsToday)
	assert.Equal(t, 1_000_000, usage.MatchesToday)
}

func TestRateLimiter_RequestsPerMinute(t *testing.T) {
	rl, clock := newTestLimiter(2, 0, 0, 0)

	require.NoError(t, rl.Allow("client"))
	clock.Advance(10 * time.Second)
	require.NoError(t, rl.Allow("client"))

	err := rl.Allow("client")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, 50*time.Second, rle.RetryAfter)
	assert.Equal(t, 2, rl.Usage("client").RequestsThisMinute, "rejected requests are not counted")

	require.NoError(t, rl.Allow("other"), "limits are per client")

	clock.Advance(50 * time.Second)
	assert.NoError(t, rl.Allow("client"), "window resets after a minute")
}

func TestRateLimiter_RequestsPerHour(t *testing.T) {
	rl, clock := newTestLimiter(0, 3, 0, 0)

	for range 3 {
		require.NoError(t, rl.Allow("client"))
		clock.Advance(5 * time.Minute)
	}

	err := rl.Allow("client")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "hour", rle.Type)
	assert.Equal(t, 45*time.Minute, rle.RetryAfter)

	clock.Advance(45 * time.Minute)
	assert.NoError(t, rl.Allow("client"))
}

func TestRateLimiter_DailyRequestQuota(t *testing.T) {
	rl, clock := newTestLimiter(0, 0, 2, 0)

	require.NoError(t, rl.Allow("client"))
	require.NoError(t, rl.Allow("client"))

	err := rl.Allow("client")
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "requests", qe.Type)
	assert.Equal(t, 2, qe.Used)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), qe.Resets)

	clock.Advance(14 * time.Hour)
	assert.NoError(t, rl.Allow("client"), "quota resets at midnight")
}

func TestRateLimiter_MatchQuota(t *testing.T) {
	rl, clock := newTestLimiter(0, 0, 0, 25)

	require.NoError(t, rl.ConsumeMatches("client", 10))
	require.NoError(t, rl.ConsumeMatches("client", 10))

	err := rl.ConsumeMatches("client", 10)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "matches", qe.Type)
	assert.Equal(t, 25, qe.Limit)
	assert.Equal(t, 20, qe.Used)
	assert.Equal(t, 20, rl.Usage("client").MatchesToday, "rejected requests are not charged")

	require.NoError(t, rl.ConsumeMatches("client", 5))

	clock.Advance(24 * time.Hour)
	assert.NoError(t, rl.ConsumeMatches("client", 25))
}

func TestRateLimiter_UnknownClientUsage(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1, 1)
	assert.Equal(t, ClientUsage{}, rl.Usage("nobody"))
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl, _ := newTestLimiter(50, 0, 0, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("client") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimiter_Prune(t *testing.T) {
	rl, clock := newTestLimiter(10, 0, 0, 100)

	require.NoError(t, rl.Allow("morning"))
	clock.Advance(13*time.Hour + 59*time.Minute + 45*time.Second)
	require.NoError(t, rl.Allow("late"))
	assert.Equal(t, 0, rl.Prune(), "nothing expires within the day")

	clock.Advance(30 * time.Second) // just past midnight
	assert.Equal(t, 1, rl.Prune(), "late still has an open minute window")
	assert.Equal(t, 1, rl.Clients())
	assert.Equal(t, ClientUsage{}, rl.Usage("morning"))

	clock.Advance(time.Hour)
	assert.Equal(t, 1, rl.Prune())
	assert.Equal(t, 0, rl.Clients())
}

func TestRateLimiter_StartStop(t *testing.T) {
	rl, clock := newTestLimiter(0, 0, 0, 100)
	require.NoError(t, rl.ConsumeMatches("client", 10))
	clock.Advance(48 * time.Hour)

	rl.Start(5 * time.Millisecond)
	assert.Eventually(t, func() bool { return rl.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_StopWithoutStart(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1, 1)
	assert.NotPanics(t, rl.Stop)
}

func TestRateLimitErrors(t *testing.T) {
	rle := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: 30 * time.Second}
	assert.Equal(t, "rate limit exceeded for minute (limit: 5, retry after: 30s)", rle.Error())

	qe := &QuotaExceededError{Type: "matches", Limit: 100, Used: 90, Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "quota exceeded for matches (used: 90, limit: 100, resets: 2026-01-02T00:00:00Z)", qe.Error())

	var target *QuotaExceededError
	assert.False(t, errors.As(rle, &target))
}
