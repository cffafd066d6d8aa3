package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// FloodGuard caps every client address at requestsPerMinute across all
// routes using a sliding window. A non-positive limit disables it.
func FloodGuard(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return limiterAddr(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please slow down")
		}),
	)
}
