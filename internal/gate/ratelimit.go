// Package gate holds the timing gates between raw signal detection and
// session ingestion: a rolling-window rate limiter and per-class debouncers.
package gate

import (
	"sync"
	"time"
)

// DefaultEventGap is the minimum span covering three consecutive signals
// before the newest one is considered rapid-fire.
const DefaultEventGap = 950 * time.Millisecond

// RateLimiter blocks a signal when it arrives too soon after the
// second-most-recent observed signal. Checking the gap to two signals ago
// (rather than the immediately previous one) tolerates natural pairs like
// mousedown+mouseup while still catching sustained bursts.
type RateLimiter struct {
	mu         sync.Mutex
	gapMS      int64
	last       int64
	secondLast int64
}

func NewRateLimiter(gap time.Duration) *RateLimiter {
	if gap <= 0 {
		gap = DefaultEventGap
	}
	return &RateLimiter{gapMS: gap.Milliseconds()}
}

// ShouldBlock reports whether a signal at ts (wall clock ms) is too close
// to the second-most-recent signal. Does not update the window.
func (r *RateLimiter) ShouldBlock(ts int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.secondLast > 0 && ts-r.secondLast < r.gapMS
}

// Observe shifts the rolling window. Blocked signals must be observed too,
// so a user who keeps acting quickly stays blocked instead of being let
// through every other event.
func (r *RateLimiter) Observe(ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secondLast = r.last
	r.last = ts
}
