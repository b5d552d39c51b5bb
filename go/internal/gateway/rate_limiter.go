package gateway

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter is a per-user sliding window limiter for inbound messages.
type RateLimiter struct {
	clock    clockwork.Clock
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

// NewRateLimiter allows limit messages per interval. A non-positive limit
// disables limiting.
func NewRateLimiter(clock clockwork.Clock, limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		clock:    clock,
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) Allow(userID string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	fresh := rl.fresh(rl.history[userID], now)
	if len(fresh) >= rl.limit {
		rl.history[userID] = fresh
		return false
	}
	rl.history[userID] = append(fresh, now)
	return true
}

func (rl *RateLimiter) fresh(attempts []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-rl.interval)
	out := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			out = append(out, t)
		}
	}
	return out
}

// Cleanup forgets users with no attempts inside the window.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	removed := 0
	for uid, attempts := range rl.history {
		fresh := rl.fresh(attempts, now)
		if len(fresh) == 0 {
			delete(rl.history, uid)
			removed++
			continue
		}
		rl.history[uid] = fresh
	}
	return removed
}
