package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"enrollgate/pkg/platform/httputil"
	"enrollgate/pkg/requestcontext"
)

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// Middleware rejects requests over the limit with 429. The client key is the
// IP stored by the metadata middleware. A nil Limiter passes everything.
func Middleware(l *Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result := l.Allow(ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				logger.WarnContext(ctx, "verification submissions throttled",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", ip,
					"retry_after_s", retryAfter,
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, ExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many verification attempts from this device. Please try again later.",
					RetryAfter: retryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
