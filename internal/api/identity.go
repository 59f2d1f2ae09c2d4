package api

import (
	"context"
	"net/http"
)

// Identity is established by the fronting proxy, which authenticates the
// user and forwards these headers. The service itself never sees
// credentials.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleAdmin = "admin"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

// RequireUser rejects requests that arrive without a proxied identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Missing user identity")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, roleKey, r.Header.Get(HeaderUserRole))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates the admin route group.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(roleKey).(string); role != RoleAdmin {
			writeError(w, http.StatusForbidden, "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestUserID returns the identity established by RequireUser.
func requestUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}
