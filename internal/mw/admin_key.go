package mw

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	AdminKeyHeader = "X-Admin-Key"
	AdminKeyEnv    = "REQLOG_ADMIN_KEY"
)

// RequireAdminKey guards the admin surface. The key is accepted from the
// X-Admin-Key header or as a bearer token. Without a configured key the admin
// endpoints do not exist.
func RequireAdminKey(adminKey string, next http.Handler) http.Handler {
	if adminKey == "" {
		return http.NotFoundHandler()
	}

	want := []byte(adminKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(presentedKey(r)), want) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="reqlog-admin"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get(AdminKeyHeader); k != "" {
		return k
	}
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}
