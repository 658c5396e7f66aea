// Package tracelog writes application and lifecycle events for the request
// bound to a context, in the request's record mode.
//
// Scattered requests write every call straight to the sink, numbered by
// trace_index. Centralized requests buffer calls and write them as one
// JSON array entry when the "response" event arrives. Calls without a bound
// request are written bare, and calls made while serving a request the
// classifier excluded are dropped. Lifecycle events ("request", "response")
// are written with trace_index 0 in Scattered mode and do not consume an
// application index.
// Logging never panics into the caller.
package tracelog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"github.com/3xpluto/go-reqlog/internal/classify"
	"github.com/3xpluto/go-reqlog/internal/reqctx"
	"github.com/3xpluto/go-reqlog/internal/sink"
)

const (
	EventLogic    = "logic"
	EventRequest  = "request"
	EventResponse = "response"
)

// SerializationError reports a message that could not be encoded as JSON.
// The entry is still written with a printed form of the value.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string { return "serialize log message: " + e.Err.Error() }

func (e *SerializationError) Unwrap() error { return e.Err }

type Logger struct {
	sink    sink.Sink
	now     func() time.Time
	onPanic func(any)
}

type Option func(*Logger)

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithPanicHandler observes panics recovered while logging.
func WithPanicHandler(fn func(any)) Option {
	return func(l *Logger) { l.onPanic = fn }
}

func New(s sink.Sink, opts ...Option) *Logger {
	l := &Logger{sink: s, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var (
	std         atomic.Pointer[Logger]
	fallbackOne sync.Once
	fallback    *Logger
)

func SetDefault(l *Logger) { std.Store(l) }

// Default returns the logger set by SetDefault, or one writing JSON to
// stderr when none was set.
func Default() *Logger {
	if l := std.Load(); l != nil {
		return l
	}
	fallbackOne.Do(func() {
		fallback = New(sink.NewSlog(os.Stderr, sink.SlogOptions{Sync: true}))
	})
	return fallback
}

func Debug(ctx context.Context, event string, msg any) {
	Default().Log(ctx, slog.LevelDebug, event, msg)
}

func Info(ctx context.Context, event string, msg any) {
	Default().Log(ctx, slog.LevelInfo, event, msg)
}

func Warn(ctx context.Context, event string, msg any) {
	Default().Log(ctx, slog.LevelWarn, event, msg)
}

func Error(ctx context.Context, event string, msg any) {
	Default().Log(ctx, slog.LevelError, event, msg)
}

// Log records msg under event for the request bound to ctx. An empty event
// is "logic".
func (l *Logger) Log(ctx context.Context, level slog.Level, event string, msg any) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	if event == "" {
		event = EventLogic
	}

	if d, ok := classify.DecisionFrom(ctx); ok && d.Closed {
		return
	}
	rc, err := reqctx.Get(ctx)
	if err != nil {
		text, serr := Serialize(msg)
		l.write(level, text, serr, slog.String("event_name", event))
		return
	}

	if rc.Mode == reqctx.Centralized {
		l.centralized(rc, level, event, msg)
		return
	}
	l.scattered(rc, level, event, msg)
}

func (l *Logger) scattered(rc *reqctx.RequestContext, level slog.Level, event string, msg any) {
	var index int64
	if event != EventRequest && event != EventResponse {
		index = rc.IncrementIndex()
	}
	text, serr := Serialize(msg)
	l.write(level, text, serr,
		slog.String("trace_id", rc.TraceID),
		slog.Int64("trace_index", index),
		slog.String("event_name", event),
		slog.String("cost_time", rc.CostTime()),
		slog.String("ip", rc.ClientIP()),
	)
}

func (l *Logger) centralized(rc *reqctx.RequestContext, level slog.Level, event string, msg any) {
	if event == EventRequest {
		rc.SetRequestMessage(msg)
		return
	}

	text, serr := Serialize(msg)
	ev := reqctx.LogEvent{
		EventName: event,
		Message:   text,
		CostTime:  rc.CostTime(),
		Timestamp: l.now().Format(reqctx.TimestampLayout),
	}

	if event == EventResponse {
		events, ok := rc.Flush(ev)
		if ok {
			payload, perr := Serialize(events)
			if serr == nil {
				serr = perr
			}
			attrs := []slog.Attr{
				slog.String("trace_id", rc.TraceID),
				slog.String("ip", rc.ClientIP()),
				slog.String("record_mode", string(rc.Mode)),
			}
			if req := rc.RequestMessage(); req != nil {
				attrs = append(attrs, slog.Any("request", req))
			}
			l.write(level, payload, serr, attrs...)
			return
		}
	} else if _, ok := rc.AppendLog(ev); ok {
		return
	}

	// the buffer is gone; write late events directly so they are not lost
	l.write(level, text, serr,
		slog.String("trace_id", rc.TraceID),
		slog.Int64("trace_index", rc.IncrementIndex()),
		slog.String("event_name", event),
		slog.String("cost_time", ev.CostTime),
		slog.String("ip", rc.ClientIP()),
		slog.Bool("late", true),
	)
}

func (l *Logger) write(level slog.Level, text string, serr error, attrs ...slog.Attr) {
	if serr != nil {
		attrs = append(attrs, slog.String("serialization_error", serr.Error()))
	}
	l.sink.Write(sink.Entry{Level: level, Message: text, Attrs: attrs})
}

// Serialize renders msg as log text: strings as-is, everything else as JSON.
// Values JSON cannot encode are printed with %+v and reported as a
// *SerializationError.
func Serialize(msg any) (string, error) {
	switch v := msg.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case error:
		return v.Error(), nil
	}
	b, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Sprintf("%+v", msg), &SerializationError{Err: err}
	}
	return string(b), nil
}
