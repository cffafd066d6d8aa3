package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
)

// AdminTokenAuth returns middleware that admits requests carrying the static
// admin bearer token. Repeated failures from one address are locked out.
func AdminTokenAuth(token string, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "admin")
			if limiter != nil {
				if ok, retryAfter := limiter.allow(attemptKey); !ok {
					w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
					respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
					return
				}
			}

			got := extractBearerToken(r)
			if got == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Missing authorization token")
				return
			}

			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
