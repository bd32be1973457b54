package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Kharon-pay-mini/user-management-server/pkg/httputil"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// TokenCookieName is the cookie that carries the session token.
const TokenCookieName = "token"

const (
	msgNoToken      = "Access denied. No token found"
	msgInvalidToken = "Invalid token"
)

// TokenVerifier resolves a session token to the user id it was minted for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Auth rejects requests without a verifiable session token and stores the
// authenticated user id in the request context. The cookie wins over the
// Authorization header when both are present.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				httputil.WriteMessage(w, http.StatusUnauthorized, msgNoToken)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil || userID == "" {
				httputil.WriteMessage(w, http.StatusUnauthorized, msgInvalidToken)
				return
			}

			next.ServeHTTP(w, withAuthenticatedLogger(r, userID))
		})
	}
}

// TokenFromRequest returns the session token from the "token" cookie or,
// failing that, the Bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(TokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
