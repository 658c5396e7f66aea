// Package proxy forwards requests to configured upstreams. Proxied exchanges
// go through the same trace pipeline as local handlers, so the upstream's
// response is what gets recorded.
package proxy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/3xpluto/go-reqlog/internal/tracelog"
)

type Route struct {
	Name        string
	PathPrefix  string
	Upstream    *url.URL
	StripPrefix string
	Proxy       *httputil.ReverseProxy
}

type Router struct {
	routes []Route
}

var ErrNoRoutes = errors.New("no routes")

func New(routes []Route) (*Router, error) {
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].PathPrefix) > len(routes[j].PathPrefix)
	})
	return &Router{routes: routes}, nil
}

// Match returns the route with the longest matching prefix, or nil.
func (r *Router) Match(path string) *Route {
	for i := range r.routes {
		if strings.HasPrefix(path, r.routes[i].PathPrefix) {
			return &r.routes[i]
		}
	}
	return nil
}

// ServeHTTP forwards to the matching route and answers 404 when none matches.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	route := r.Match(req.URL.Path)
	if route == nil {
		http.NotFound(w, req)
		return
	}
	req.URL.Path = StripPath(req.URL.Path, route.StripPrefix)
	if req.URL.RawPath != "" {
		req.URL.RawPath = StripPath(req.URL.RawPath, route.StripPrefix)
	}
	route.Proxy.ServeHTTP(w, req)
}

// Routes lists the table in match order.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

type upstreamError struct {
	Route    string `json:"route"`
	Upstream string `json:"upstream"`
	Error    string `json:"error"`
}

// BuildProxy returns a reverse proxy for up. Upstream failures are recorded
// as an "upstream_error" event on the request's trace before the 502 goes out.
func BuildProxy(name string, up *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	p := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(up)
			pr.SetXForwarded()
		},
		Transport: transport,
	}

	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		code := http.StatusBadGateway
		msg := "upstream_unavailable"
		if err != nil && strings.Contains(err.Error(), "request body too large") {
			code = http.StatusRequestEntityTooLarge
			msg = "request_too_large"
		}
		detail := upstreamError{Route: name, Upstream: up.Redacted()}
		if err != nil {
			detail.Error = err.Error()
		}
		tracelog.Default().Log(r.Context(), slog.LevelError, EventUpstreamError, detail)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": msg,
		})
	}

	return p
}

const EventUpstreamError = "upstream_error"

func StripPath(path string, strip string) string {
	if strip == "" {
		return path
	}
	if strings.HasPrefix(path, strip) {
		p := strings.TrimPrefix(path, strip)
		if p == "" {
			p = "/"
		}
		return p
	}
	return path
}
