package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/shipyard/bay/internal/apierr"
)

// rateLimitMiddleware applies limiter per remote address, ahead of auth so
// a flood of bad-token requests is still throttled. A nil limiter disables
// the middleware (ambient, not load-bearing for the spec's core semantics).
func rateLimitMiddleware(limiter *RedisRateLimiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), r.RemoteAddr)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				writeError(w, apierr.New(apierr.CapacityExhausted, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
