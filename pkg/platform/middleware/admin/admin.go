// Package admin guards operator-only endpoints (on-demand audit runs).
package admin

import (
	"log/slog"
	"net/http"

	"civicwatch/pkg/platform/secrets"
	"civicwatch/pkg/requestcontext"
)

// RequireAdminToken rejects requests whose X-Admin-Token header does not match
// the bcrypt hash tokenHash. An empty tokenHash disables every admin route.
func RequireAdminToken(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if tokenHash == "" || token == "" || secrets.Verify(token, tokenHash) != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
					"user_agent", requestcontext.UserAgent(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
