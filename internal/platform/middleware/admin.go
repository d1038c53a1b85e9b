package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminTokenHeader carries the monitor token.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken compares X-Admin-Token against a bcrypt hash. An empty
// hash disables the protected routes entirely.
func RequireAdminToken(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(AdminTokenHeader)
			if tokenHash == "" || token == "" ||
				bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
