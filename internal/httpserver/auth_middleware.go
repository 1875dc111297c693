package httpserver

import (
	"context"
	"net/http"
	"strings"

	"chatcore/internal/security"
)

type contextKey string

const userContextKey contextKey = "currentUserID"

// WithUserID returns a new context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// CurrentUserID extracts the authenticated user id from context, if any.
func CurrentUserID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(userContextKey).(int64)
	return id, ok && id > 0
}

// AuthMiddleware validates the Bearer token and attaches the user id to the context.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			userID, err := tokens.UserID(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
