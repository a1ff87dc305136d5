package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const userContextKey contextKey = "user_id"

// UserFromContext returns the scoped user id, or "" when the request did not
// carry one.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userContextKey).(string)
	return id
}

// UserScope lifts the user id off the request (user_id query parameter, then
// x-user-id header) into the context. Handlers that take user_id in the body
// fall back to that, so a missing id is not rejected here.
func UserScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			userID = r.Header.Get("x-user-id")
		}
		if userID != "" {
			r = r.WithContext(context.WithValue(r.Context(), userContextKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}

// writeDetail emits the validation-error body shape.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
