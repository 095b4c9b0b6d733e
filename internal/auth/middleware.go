package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userContextKey contextKey = "user_id"

// BearerMiddleware authenticates requests via an `Authorization: Bearer <jwt>`
// header, validates the token with manager, and stores the resolved user_id in
// context (C13). Unauthenticated or invalid requests get 401 and never reach
// the wrapped handler.
func BearerMiddleware(manager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			claims, err := manager.ValidateToken(token)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			if claims.UserID == "" {
				http.Error(w, "token missing user_id claim", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingAuth
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errMissingAuth
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errMissingAuth
	}
	return token, nil
}

var errMissingAuth = errInvalidAuthHeader{}

type errInvalidAuthHeader struct{}

func (errInvalidAuthHeader) Error() string { return "missing or malformed Authorization header" }

// UserIDFromContext extracts the authenticated user_id from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey).(string)
	return userID, ok
}

// MustUserIDFromContext extracts user_id from context or panics. Only safe to
// call behind BearerMiddleware.
func MustUserIDFromContext(ctx context.Context) string {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		panic("user_id not found in context")
	}
	return userID
}
