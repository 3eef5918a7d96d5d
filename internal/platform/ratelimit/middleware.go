package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

type Limiter interface {
	Allow(ctx context.Context, key string) Result
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// PerClientIP rejects requests over the limit with 429. The client IP comes
// from the metadata middleware, which must run first. A nil limiter
// disables the check.
func PerClientIP(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result := limiter.Allow(ctx, ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retry := int(math.Ceil(result.RetryAfter.Seconds()))
				logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests from this client. Please try again later.",
					RetryAfter: retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
