// Package classify decides which requests are recorded.
package classify

import (
	"context"
	"net/http"
	"strings"

	"github.com/3xpluto/go-reqlog/internal/httpx"
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonOptions      Reason = "options"
	ReasonUpgrade      Reason = "upgrade"
	ReasonExcludedPath Reason = "excluded_path"
	ReasonNonHTTP      Reason = "non_http"
)

// Decision is computed once per request. Closed requests are served but
// never logged.
type Decision struct {
	Closed bool
	Reason Reason
}

type Classifier struct {
	excluded map[string]struct{}
}

func New(excluded []string) *Classifier {
	c := &Classifier{excluded: make(map[string]struct{}, len(excluded))}
	for _, p := range excluded {
		if p = strings.TrimSpace(p); p != "" {
			c.excluded[p] = struct{}{}
		}
	}
	return c
}

func (c *Classifier) Classify(r *http.Request) Decision {
	if r.Method == http.MethodOptions {
		return Decision{Closed: true, Reason: ReasonOptions}
	}
	if httpx.IsUpgrade(r) || strings.Contains(r.URL.Path, "websocket") {
		return Decision{Closed: true, Reason: ReasonUpgrade}
	}
	if _, ok := c.excluded[r.URL.Path]; ok {
		return Decision{Closed: true, Reason: ReasonExcludedPath}
	}
	return Decision{}
}

// Excluded reports whether path is in the exact-match exclusion set.
func (c *Classifier) Excluded(path string) bool {
	_, ok := c.excluded[path]
	return ok
}

// NonHTTP reports requests that are tunnels or protocol prefaces rather than
// request/response exchanges.
func NonHTTP(r *http.Request) bool {
	return r.Method == http.MethodConnect || r.Method == "PRI"
}

type decisionKey struct{}

func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFrom returns the stored decision and whether one was stored.
func DecisionFrom(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}
