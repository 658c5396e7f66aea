// Package server assembles the trace pipeline, the application behind it and
// the admin surface from configuration.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3xpluto/go-reqlog/internal/classify"
	"github.com/3xpluto/go-reqlog/internal/config"
	"github.com/3xpluto/go-reqlog/internal/demo"
	"github.com/3xpluto/go-reqlog/internal/mw"
	"github.com/3xpluto/go-reqlog/internal/netx"
	"github.com/3xpluto/go-reqlog/internal/proxy"
	"github.com/3xpluto/go-reqlog/internal/reqctx"
	"github.com/3xpluto/go-reqlog/internal/reqmsg"
	"github.com/3xpluto/go-reqlog/internal/sink"
	"github.com/3xpluto/go-reqlog/internal/tracelog"
)

type Options struct {
	Config   *config.Config
	Sink     sink.Sink
	Registry *prometheus.Registry
	Log      *slog.Logger
	AdminKey string
	// App replaces the built-in application. Configured routes take
	// precedence over both.
	App http.Handler
}

type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	router   *proxy.Router
	chain    mw.Chain
	metrics  *mw.Metrics
	mux      *http.ServeMux
	started  time.Time
	adminKey string
}

// New builds the server and installs its trace logger as the process default,
// so code that logs through tracelog's package functions reaches the same sink.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("nil config")
	}
	if opts.Sink == nil {
		return nil, errors.New("nil sink")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	cfg := opts.Config

	mode, err := reqctx.ParseRecordMode(cfg.Logging.Mode)
	if err != nil {
		return nil, err
	}
	newID, err := mw.NewTraceIDFunc(cfg.Logging.TraceIDFormat)
	if err != nil {
		return nil, err
	}
	trusted, err := netx.ParseCIDRSet(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      opts.Log,
		metrics:  mw.NewMetrics(opts.Registry),
		mux:      http.NewServeMux(),
		started:  time.Now(),
		adminKey: opts.AdminKey,
	}

	app := opts.App
	if app == nil {
		app = demo.NewUsers().Handler()
	}
	if len(cfg.Routes) > 0 {
		if s.router, err = buildRouter(cfg.Routes); err != nil {
			return nil, err
		}
		app = s.router
	}

	logger := tracelog.New(opts.Sink, tracelog.WithPanicHandler(func(v any) {
		opts.Log.Warn("trace logging panicked", slog.Any("panic", v))
	}))
	tracelog.SetDefault(logger)

	trace := mw.TraceConfig{
		Mode:       mode,
		Classifier: classify.New(cfg.Logging.ExcludePaths),
		Resolver:   netx.IPResolver{Trusted: trusted},
		Builder: reqmsg.NewBuilder(reqmsg.Config{
			RecordHeaders:      cfg.Logging.HeadersRecorded(),
			HeaderKeys:         cfg.Logging.HeaderKeys,
			RecordUserAgent:    cfg.Logging.UserAgentRecorded(),
			RecordTokenSubject: cfg.Logging.RecordTokenSubject,
		}),
		Logger:                 logger,
		NewTraceID:             newID,
		Replay:                 cfg.Replay.On(),
		MaxBodyBytes:           cfg.Replay.MaxBodyBytes,
		OnTooLarge:             mw.ParseTooLargePolicy(cfg.Replay.OnTooLarge),
		RecordResponse:         cfg.Logging.ResponseRecorded(),
		RecordHeaders:          cfg.Logging.HeadersRecorded(),
		MaxResponseRecordBytes: cfg.Logging.MaxResponseRecordBytes,
		Metrics:                s.metrics,
		Ops:                    opts.Log,
	}

	// outermost first
	s.chain.
		Use(mw.Plugin{Name: "recover", Wrap: func(h http.Handler) http.Handler { return mw.Recover(opts.Log, h) }}).
		Use(mw.Plugin{Name: "route", Wrap: s.withRouteName}).
		Use(mw.Plugin{Name: "metrics", Wrap: func(h http.Handler) http.Handler { return mw.Instrument(s.metrics, h) }}).
		Use(mw.Plugin{Name: "trace", Settings: map[string]any{
			"mode":          string(mode),
			"replay":        trace.Replay,
			"on_too_large":  string(trace.OnTooLarge),
			"exclude_paths": cfg.Logging.ExcludePaths,
		}, Wrap: func(h http.Handler) http.Handler { return mw.Trace(trace, h) }})

	s.mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			return
		}
	})
	s.mux.Handle("/-/status", s.wrapAdmin("admin_status", http.HandlerFunc(s.status)))
	s.mux.Handle("/-/config", s.wrapAdmin("admin_config", http.HandlerFunc(s.effectiveConfig)))
	s.mux.Handle("/-/plugins", s.wrapAdmin("admin_plugins", http.HandlerFunc(s.plugins)))
	s.mux.Handle("/", s.chain.Then(app))
	return s, nil
}

func buildRouter(rcs []config.RouteConfig) (*proxy.Router, error) {
	transport := proxy.NewTransport(proxy.TransportConfig{})
	routes := make([]proxy.Route, 0, len(rcs))
	for _, rc := range rcs {
		u, err := url.Parse(rc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("route %s: invalid upstream: %w", rc.Name, err)
		}
		routes = append(routes, proxy.Route{
			Name:        rc.Name,
			PathPrefix:  rc.Match.PathPrefix,
			Upstream:    u,
			StripPrefix: rc.StripPrefix,
			Proxy:       proxy.BuildProxy(rc.Name, u, transport),
		})
	}
	return proxy.New(routes)
}

func (s *Server) Handler() http.Handler { return s.mux }

// HTTPServer returns an http.Server for the configured address and timeouts.
func (s *Server) HTTPServer() *http.Server {
	sc := s.cfg.Server
	return &http.Server{
		Addr:              sc.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: time.Duration(sc.ReadHeaderTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(sc.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(sc.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(sc.IdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    sc.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
}

func (s *Server) ShutdownTimeout() time.Duration {
	return time.Duration(s.cfg.Server.ShutdownTimeoutSeconds) * time.Second
}

func (s *Server) withRouteName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := "app"
		if s.router != nil {
			name = "unmatched"
			if rt := s.router.Match(r.URL.Path); rt != nil {
				name = rt.Name
			}
		}
		mw.WithRoute(next, name).ServeHTTP(w, r)
	})
}

func (s *Server) wrapAdmin(routeName string, h http.Handler) http.Handler {
	h = mw.RequireAdminKey(s.adminKey, h)
	h = mw.AccessLog(s.log, h)
	h = mw.Instrument(s.metrics, h)
	h = mw.WithRoute(h, routeName)
	return h
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	info, _ := debug.ReadBuildInfo()
	goVer := ""
	if info != nil {
		goVer = info.GoVersion
	}
	writeJSON(w, map[string]any{
		"time_utc":          time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":    int(time.Since(s.started).Seconds()),
		"listen_addr":       s.cfg.Server.Addr,
		"go_version":        goVer,
		"record_mode":       s.cfg.Logging.Mode,
		"sink_backend":      s.cfg.Sink.Backend,
		"routes_configured": len(s.cfg.Routes),
	})
}

func (s *Server) effectiveConfig(w http.ResponseWriter, _ *http.Request) {
	l, rp, sk := s.cfg.Logging, s.cfg.Replay, s.cfg.Sink
	routes := make([]map[string]any, 0, len(s.cfg.Routes))
	for _, rc := range s.cfg.Routes {
		routes = append(routes, map[string]any{
			"name":         rc.Name,
			"path_prefix":  rc.Match.PathPrefix,
			"upstream":     rc.Upstream,
			"strip_prefix": rc.StripPrefix,
		})
	}
	writeJSON(w, map[string]any{
		"logging": map[string]any{
			"mode":                      l.Mode,
			"exclude_paths":             l.ExcludePaths,
			"record_response":           l.ResponseRecorded(),
			"record_headers":            l.HeadersRecorded(),
			"record_user_agent":         l.UserAgentRecorded(),
			"header_keys":               l.HeaderKeys,
			"record_token_subject":      l.RecordTokenSubject,
			"trace_id_format":           l.TraceIDFormat,
			"max_response_record_bytes": l.MaxResponseRecordBytes,
			"level":                     l.Level,
		},
		"replay": map[string]any{
			"enabled":        rp.On(),
			"max_body_bytes": rp.MaxBodyBytes,
			"on_too_large":   rp.OnTooLarge,
		},
		"sink": map[string]any{
			"backend":      sk.Backend,
			"stdout":       sk.Stdout,
			"file_dir":     sk.File.Dir,
			"project_slug": sk.File.ProjectSlug,
			"rotate_at":    sk.File.RotateAt,
			"retention":    sk.File.Retention,
			"redis":        sk.Redis.Enabled,
		},
		"routes": routes,
	})
}

func (s *Server) plugins(w http.ResponseWriter, _ *http.Request) {
	installed := s.chain.Installed()
	out := make([]map[string]any, 0, len(installed))
	for _, p := range installed {
		out = append(out, map[string]any{"name": p.Name, "settings": p.Settings})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
