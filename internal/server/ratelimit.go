package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates and a daily quota on the
// number of correspondences submitted.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxMatchesPerDay  int

	clients map[string]*ClientUsage
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ClientUsage tracks the current windows of one client.
type ClientUsage struct {
	MinuteStart time.Time
	HourStart   time.Time
	DayStart    time.Time

	RequestsThisMinute int
	RequestsThisHour   int
	RequestsToday      int
	MatchesToday       int
}

// NewRateLimiter creates a rate limiter. A zero limit is not enforced.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay, maxMatchesPerDay int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxMatchesPerDay:  maxMatchesPerDay,
		clients:           make(map[string]*ClientUsage),
		now:               time.Now,
		stop:              make(chan struct{}),
	}
}

// Start prunes expired clients every interval until Stop is called.
func (rl *RateLimiter) Start(interval time.Duration) {
	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-ticker.C:
				rl.Prune()
			}
		}
	}()
}

// Stop ends the pruning loop and waits for it. It is safe to call more than
// once, and without Start.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	rl.wg.Wait()
}

// Prune removes clients whose minute, hour and day windows have all expired
// and returns how many were removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	today := startOfDay(now)
	removed := 0
	for id, u := range rl.clients {
		if now.Sub(u.MinuteStart) >= time.Minute &&
			now.Sub(u.HourStart) >= time.Hour &&
			!today.Equal(u.DayStart) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Allow counts one request from clientID, or returns a *RateLimitError or
// *QuotaExceededError without counting it.
func (rl *RateLimiter) Allow(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(clientID, now)

	if rl.requestsPerMinute > 0 && u.RequestsThisMinute >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: u.MinuteStart.Add(time.Minute).Sub(now),
		}
	}
	if rl.requestsPerHour > 0 && u.RequestsThisHour >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: u.HourStart.Add(time.Hour).Sub(now),
		}
	}
	if rl.maxRequestsPerDay > 0 && u.RequestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  rl.maxRequestsPerDay,
			Used:   u.RequestsToday,
			Resets: nextDay(now),
		}
	}

	u.RequestsThisMinute++
	u.RequestsThisHour++
	u.RequestsToday++
	return nil
}

// ConsumeMatches charges n correspondences against the daily quota of
// clientID. A request that would exceed the quota is rejected whole.
func (rl *RateLimiter) ConsumeMatches(clientID string, n int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(clientID, now)

	if rl.maxMatchesPerDay > 0 && u.MatchesToday+n > rl.maxMatchesPerDay {
		return &QuotaExceededError{
			Type:   "matches",
			Limit:  rl.maxMatchesPerDay,
			Used:   u.MatchesToday,
			Resets: nextDay(now),
		}
	}
	u.MatchesToday += n
	return nil
}

// Usage returns a copy of the current usage of clientID.
func (rl *RateLimiter) Usage(clientID string) ClientUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if u, ok := rl.clients[clientID]; ok {
		return *u
	}
	return ClientUsage{}
}

// usage returns the record for clientID with expired windows reset.
func (rl *RateLimiter) usage(clientID string, now time.Time) *ClientUsage {
	u, ok := rl.clients[clientID]
	if !ok {
		u = &ClientUsage{MinuteStart: now, HourStart: now, DayStart: startOfDay(now)}
		rl.clients[clientID] = u
		return u
	}

	if now.Sub(u.MinuteStart) >= time.Minute {
		u.MinuteStart = now
		u.RequestsThisMinute = 0
	}
	if now.Sub(u.HourStart) >= time.Hour {
		u.HourStart = now
		u.RequestsThisHour = 0
	}
	if day := startOfDay(now); !day.Equal(u.DayStart) {
		u.DayStart = day
		u.RequestsToday = 0
		u.MatchesToday = 0
	}
	return u
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "matches"
	Limit  int       // the limit that was exceeded
	Used   int       // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
