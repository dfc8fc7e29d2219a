package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	request "enrollgate/pkg/platform/middleware/request"
)

const HeaderOperatorToken = "X-Operator-Token"

// RequireOperatorToken guards lifecycle mutations. An empty expectedToken
// disables the check, for single-user devices bound to localhost.
func RequireOperatorToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expectedToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderOperatorToken)
			// Use constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "operator token mismatch",
					"request_id", request.GetRequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"operator token required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
