package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter tracks per-client request rates and daily quotas.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	clients map[string]*clientUsage
	now     func() time.Time
}

// clientUsage is the usage of one client within the current windows.
type clientUsage struct {
	minuteStart time.Time
	hourStart   time.Time
	day         time.Time

	requestsMinute int
	requestsHour   int
	requestsDay    int
	bytesDay       int64
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	RequestsLastMinute int
	RequestsLastHour   int
	RequestsToday      int
	BytesToday         int64
}

// NewRateLimiter creates a limiter. A zero limit is not enforced.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// CheckRateLimit admits one request of dataSize bytes from clientID or returns a
// *RateLimitError or *QuotaExceededError. Rejected requests are not counted.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(clientID, now)
	u.roll(now)

	if rl.requestsPerMinute > 0 && u.requestsMinute >= rl.requestsPerMinute {
		return &RateLimitError{Type: "minute", Limit: rl.requestsPerMinute, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if rl.requestsPerHour > 0 && u.requestsHour >= rl.requestsPerHour {
		return &RateLimitError{Type: "hour", Limit: rl.requestsPerHour, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}

	resets := u.day.AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && u.requestsDay >= rl.maxRequestsPerDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.maxRequestsPerDay), Used: int64(u.requestsDay), Resets: resets}
	}
	if rl.maxDataPerDay > 0 && u.bytesDay+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.maxDataPerDay, Used: u.bytesDay, Resets: resets}
	}

	u.requestsMinute++
	u.requestsHour++
	u.requestsDay++
	u.bytesDay += dataSize
	return nil
}

func (rl *RateLimiter) usage(clientID string, now time.Time) *clientUsage {
	u, ok := rl.clients[clientID]
	if !ok {
		u = &clientUsage{minuteStart: now, hourStart: now, day: startOfDay(now)}
		rl.clients[clientID] = u
	}
	return u
}

// roll starts new windows once the current ones have elapsed.
func (u *clientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart, u.requestsMinute = now, 0
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart, u.requestsHour = now, 0
	}
	if day := startOfDay(now); !day.Equal(u.day) {
		u.day, u.requestsDay, u.bytesDay = day, 0, 0
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GetUsage returns a snapshot of the counters of clientID.
func (rl *RateLimiter) GetUsage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[clientID]
	if !ok {
		return Usage{}
	}
	return Usage{
		RequestsLastMinute: u.requestsMinute,
		RequestsLastHour:   u.requestsHour,
		RequestsToday:      u.requestsDay,
		BytesToday:         u.bytesDay,
	}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
