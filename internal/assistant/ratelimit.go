package assistant

import (
	"sync"
	"time"
)

// maxTrackedUsers caps the number of tracked rate-limit keys so rotating
// sender identities cannot exhaust memory.
const maxTrackedUsers = 4096

type rateEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter bounds LLM calls per user within a rolling window.
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing max calls per window per key.
// max <= 0 disables limiting.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateEntry),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *RateLimiter) SetClock(now func() time.Time) { r.now = now }

// Allow reports whether the key is within its call budget and records the
// call. Prunes stale entries when approaching the tracking cap.
func (r *RateLimiter) Allow(key string) bool {
	if r.max <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxTrackedUsers {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedUsers {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.max
}
