// Package auth resolves the voter identity for vote submission. Token issuance
// lives outside this service; the middleware only verifies bearer tokens.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "civicwatch/pkg/domain"
	"civicwatch/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns the voter it was issued to.
type TokenValidator interface {
	ValidateVoterToken(tokenString string) (id.VoterID, error)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireVoter rejects requests without a valid bearer token and stores the
// voter ID in the request context.
func RequireVoter(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized vote - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			voterID, err := validator.ValidateVoterToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized vote - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithVoterID(ctx, voterID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
