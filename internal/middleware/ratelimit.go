package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/storage"
)

// ClientIP is the host part of RemoteAddr. Forwarding headers are ignored here; behind a trusted
// proxy the router rewrites RemoteAddr first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitByIP answers 429 once a client IP exceeds limit requests per window. The counters
// live in the shared store so every instance sees the same budget. Store failures let the
// request through.
func RateLimitByIP(limiter storage.RateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), scope+":ip:"+ClientIP(r), limit, window)
			if err != nil {
				logger.Warnf("rate limit %s: %v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
