package mw

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/3xpluto/go-reqlog/internal/classify"
	"github.com/3xpluto/go-reqlog/internal/httpx"
	"github.com/3xpluto/go-reqlog/internal/netx"
	"github.com/3xpluto/go-reqlog/internal/replay"
	"github.com/3xpluto/go-reqlog/internal/reqctx"
	"github.com/3xpluto/go-reqlog/internal/reqmsg"
	"github.com/3xpluto/go-reqlog/internal/tracelog"
)

type TraceConfig struct {
	Mode       reqctx.RecordMode
	Classifier *classify.Classifier
	Resolver   netx.IPResolver
	Builder    *reqmsg.Builder
	Logger     *tracelog.Logger
	NewTraceID func() string

	Replay       bool
	MaxBodyBytes int64
	OnTooLarge   TooLargePolicy

	RecordResponse         bool
	RecordHeaders          bool
	MaxResponseRecordBytes int

	Metrics *Metrics
	Ops     *slog.Logger // failures inside the pipeline itself
}

// Trace records the request and its response for every request the
// classifier keeps. The request is logged before the handler runs and the
// response exactly once, after the handler returns. Nothing it does changes
// what the client receives, apart from the 413 answer of the reject policy.
func Trace(cfg TraceConfig, next http.Handler) http.Handler {
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New(nil)
	}
	if cfg.Builder == nil {
		cfg.Builder = reqmsg.NewBuilder(reqmsg.Config{})
	}
	if cfg.NewTraceID == nil {
		cfg.NewTraceID = uuid.NewString
	}
	if cfg.OnTooLarge == "" {
		cfg.OnTooLarge = TooLargeReject
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if classify.NonHTTP(r) {
			cfg.Metrics.outcome("passthrough")
			d := classify.Decision{Closed: true, Reason: classify.ReasonNonHTTP}
			next.ServeHTTP(w, r.WithContext(classify.WithDecision(r.Context(), d)))
			return
		}
		d := cfg.Classifier.Classify(r)
		if d.Closed {
			cfg.Metrics.outcome("excluded")
			next.ServeHTTP(w, r.WithContext(classify.WithDecision(r.Context(), d)))
			return
		}

		rc := reqctx.New(cfg.NewTraceID(), cfg.Mode)
		ctx, tok := reqctx.Bind(classify.WithDecision(r.Context(), d), rc)
		defer reqctx.Reset(tok)
		r = r.WithContext(ctx)
		ip, _ := cfg.Resolver.Resolve(r)
		rc.AttachRequest(r, ip)

		var body []byte
		tooLarge := false
		if cfg.Replay && !httpx.IsUpgrade(r) {
			b, err := replay.Buffer(r, cfg.MaxBodyBytes)
			var terr *replay.TransportError
			switch {
			case err == nil:
				body = b.Bytes()
			case errors.Is(err, replay.ErrRequestTooLarge):
				tooLarge = true
			case errors.As(err, &terr):
				cfg.opsWarn("request body read failed", rc, terr)
			}
		}

		cfg.safeLog(rc, func() {
			msg := cfg.Builder.Build(r, body)
			if tooLarge {
				msg.Params.Body = omittedBody
			}
			rc.SetBody(msg.Body())
			cfg.logger().Log(ctx, slog.LevelInfo, tracelog.EventRequest, msg)
		})

		cw := httpx.NewCaptureWriter(w, cfg.captureLimit())
		if tooLarge && cfg.OnTooLarge == TooLargeReject {
			cfg.Metrics.outcome("too_large")
			writeTooLarge(cw, cfg.MaxBodyBytes)
			cfg.safeLog(rc, func() { cfg.finish(ctx, cw, false) })
			return
		}

		defer func() {
			rec := recover()
			cfg.safeLog(rc, func() { cfg.finish(ctx, cw, rec != nil) })
			if rec != nil {
				panic(rec)
			}
		}()
		next.ServeHTTP(cw, r)
	})
}

// finish logs the response once the handler is done with it.
func (cfg TraceConfig) finish(ctx context.Context, cw *httpx.CaptureWriter, panicked bool) {
	headersSent := cw.State() != httpx.StateWaitHeaders
	snap, ok := cw.Finish()
	if !ok {
		return
	}
	msg := reqmsg.BuildResponse(snap, cfg.RecordResponse, cfg.RecordHeaders)
	level := slog.LevelInfo
	if panicked {
		level = slog.LevelError
		msg.Aborted = true
		if !headersSent {
			msg.StatusCode = http.StatusInternalServerError
		}
	}
	cfg.logger().Log(ctx, level, tracelog.EventResponse, msg)
	cfg.Metrics.outcome("logged")
}

func (cfg TraceConfig) captureLimit() int {
	if !cfg.RecordResponse {
		return 0
	}
	if cfg.MaxResponseRecordBytes == 0 {
		return -1
	}
	return cfg.MaxResponseRecordBytes
}

func (cfg TraceConfig) logger() *tracelog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return tracelog.Default()
}

// safeLog runs fn and swallows any panic from it.
func (cfg TraceConfig) safeLog(rc *reqctx.RequestContext, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			cfg.Metrics.outcome("log_failed")
			cfg.opsWarn("request logging failed", rc, rec)
		}
	}()
	fn()
}

func (cfg TraceConfig) opsWarn(msg string, rc *reqctx.RequestContext, cause any) {
	if cfg.Ops == nil {
		return
	}
	cfg.Ops.Warn(msg, slog.String("trace_id", rc.TraceID), slog.Any("error", cause))
}
