// Package demo serves a small users API so the pipeline has something to
// record when no upstream routes are configured.
package demo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/3xpluto/go-reqlog/internal/reqctx"
	"github.com/3xpluto/go-reqlog/internal/tracelog"
)

type credentials struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Users is an in-memory user table.
type Users struct {
	mu    sync.RWMutex
	users map[string]string
}

func NewUsers() *Users {
	return &Users{users: map[string]string{"a": "b"}}
}

func (u *Users) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/list", u.list)
	mux.HandleFunc("POST /users/login", u.login)
	mux.HandleFunc("POST /users/register", u.register)
	mux.HandleFunc("GET /health_checks", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (u *Users) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	u.mu.RLock()
	names := make([]string, 0, len(u.users))
	for name := range u.users {
		names = append(names, name)
	}
	u.mu.RUnlock()
	tracelog.Info(ctx, "db_query", map[string]any{"table": "users", "rows": len(names)})
	tracelog.Info(ctx, "cache_hit", "users:list")

	writeJSON(w, http.StatusOK, map[string]any{"users": names})
}

func (u *Users) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := readCredentials(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	u.mu.RLock()
	pass, ok := u.users[c.User]
	u.mu.RUnlock()
	ok = ok && pass == c.Pass
	tracelog.Info(ctx, "auth_check", map[string]any{"user": c.User, "ok": ok})
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_credentials"})
		return
	}
	// handlers can stash values on the request context for later log calls
	_ = reqctx.Current.Set(ctx, "user", c.User)
	writeJSON(w, http.StatusOK, map[string]any{"user": c.User, "trace_id": reqctx.Current.TraceID(ctx)})
}

func (u *Users) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := readCredentials(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if c.User == "" || c.Pass == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user and pass are required"})
		return
	}

	u.mu.Lock()
	_, exists := u.users[c.User]
	if !exists {
		u.users[c.User] = c.Pass
	}
	u.mu.Unlock()
	if exists {
		tracelog.Warn(ctx, "register_conflict", c.User)
		writeJSON(w, http.StatusConflict, map[string]any{"error": "user_exists"})
		return
	}
	tracelog.Info(ctx, "user_created", c.User)
	writeJSON(w, http.StatusCreated, map[string]any{"user": c.User})
}

// readCredentials accepts JSON or form bodies. The body may already have been
// read by the trace middleware; replay makes that invisible here.
func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return c, err
		}
		c.User, c.Pass = r.PostForm.Get("user"), r.PostForm.Get("pass")
		return c, nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return c, err
	}
	if len(b) == 0 {
		return c, errors.New("empty body")
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, errors.New("invalid json body")
	}
	return c, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
