package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserKey is the context key for the calling user's id.
const UserKey contextKey = "user_id"

// AnonymousUser owns requests that carry no user id.
const AnonymousUser = "anonymous"

// UserExtractor attributes the request to a user.
// It checks the X-User-ID header, then the user_id query parameter,
// and falls back to "anonymous". This is attribution only, nothing is verified.
func UserExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if user == "" {
			user = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if user == "" {
			user = AnonymousUser
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the user id from the request context.
func GetUser(ctx context.Context) string {
	if v, ok := ctx.Value(UserKey).(string); ok {
		return v
	}
	return AnonymousUser
}
