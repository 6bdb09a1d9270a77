package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces a per-client request rate and daily upload volume.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	maxDataPerDay     int64 // in bytes

	now     func() time.Time
	clients map[string]*clientUsage
}

// clientUsage tracks usage for one client address.
type clientUsage struct {
	windowStart      time.Time
	requestsInWindow int

	dayStart  time.Time
	dataToday int64
}

// NewRateLimiter creates a limiter. A zero limit disables that check.
func NewRateLimiter(requestsPerMinute int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxDataPerDay:     maxDataPerDay,
		now:               time.Now,
		clients:           make(map[string]*clientUsage),
	}
}

// Allow records a request of dataSize bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{windowStart: now, dayStart: startOfDay(now)}
		rl.clients[client] = u
	}

	if now.Sub(u.windowStart) >= time.Minute {
		u.windowStart = now
		u.requestsInWindow = 0
	}
	if day := startOfDay(now); day.After(u.dayStart) {
		u.dayStart = day
		u.dataToday = 0
	}

	if rl.requestsPerMinute > 0 && u.requestsInWindow >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: time.Minute - now.Sub(u.windowStart),
		}
	}
	if rl.maxDataPerDay > 0 && u.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   u.dataToday,
			Resets: u.dayStart.AddDate(0, 0, 1),
		}
	}

	u.requestsInWindow++
	u.dataToday += dataSize
	return nil
}

// Clients returns the number of tracked client addresses.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
