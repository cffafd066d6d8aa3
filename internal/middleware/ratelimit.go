package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a fixed-window request counter keyed by client address.
type RateLimiter struct {
	mu          sync.Mutex
	name        string
	max         int
	window      time.Duration
	counters    map[string]*window
	lastCleanup time.Time
	now         func() time.Time
}

type window struct {
	count    int
	resetAt  time.Time
	lastSeen time.Time
}

const (
	cleanupInterval    = 5 * time.Minute
	expiredWindowGrace = 10 * time.Minute
)

// NewRateLimiter allows max requests per client per window. name separates
// limiters in logs and keys.
func NewRateLimiter(name string, max int, windowLength time.Duration) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	if windowLength <= 0 {
		windowLength = time.Minute
	}
	return &RateLimiter{
		name:        name,
		max:         max,
		window:      windowLength,
		counters:    make(map[string]*window),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow counts one request for key.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	defer rl.cleanupLocked(now)

	w, exists := rl.counters[key]
	if !exists || !now.Before(w.resetAt) {
		resetAt := now.Add(rl.window)
		rl.counters[key] = &window{count: 1, resetAt: resetAt, lastSeen: now}
		return true, rl.max - 1, resetAt
	}

	w.lastSeen = now
	if w.count >= rl.max {
		return false, 0, w.resetAt
	}

	w.count++
	return true, rl.max - w.count, w.resetAt
}

// Middleware enforces the limit per client address and sets X-RateLimit-*
// headers. Rejections carry Retry-After.
func (rl *RateLimiter) Middleware(message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, resetAt := rl.Allow(clientIPKey(r, rl.name))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retry := int(time.Until(resetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				respondError(w, http.StatusTooManyRequests, "rate_limited", message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}

	for key, w := range rl.counters {
		if now.After(w.resetAt.Add(expiredWindowGrace)) {
			delete(rl.counters, key)
		}
	}

	rl.lastCleanup = now
}
