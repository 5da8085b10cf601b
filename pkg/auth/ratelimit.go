package auth

import (
	"log/slog"
	"net/http"

	"github.com/nicolRB/LogWare/pkg/api"
)

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// It extracts the actor ID from the authenticated Principal (falls back to remote IP).
// On rate limit exceeded, it returns 429 with a Retry-After header.
func RateLimitMiddleware(store api.LimiterStore, policy api.BackpressurePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail open if no store configured (dev mode)
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := "ip:" + api.ClientIP(r)
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = "user:" + principal.GetID()
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				// Fail open on limiter errors to avoid blocking all traffic
				slog.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				api.WriteTooManyRequests(w, policy.RetryAfter())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
