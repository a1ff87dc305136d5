package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/memforge-ai/memforge/internal/api/middleware"
)

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail is the 4xx body shape: a caller-visible validation or
// not-found message.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// writeError is the 5xx body shape. Internal causes stay in server logs.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolveUser prefers the request-scoped user id over the body field.
func resolveUser(r *http.Request, bodyUserID string) string {
	if id := middleware.UserFromContext(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(bodyUserID)
}

func queryInt(r *http.Request, name string, def int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
