package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pjscruggs/slogcp/slogcpasync"
)

var errQueueFull = errors.New("queue full, entry dropped")

type SlogOptions struct {
	Name      string // metrics label, "slog" when empty
	Format    string // "json" | "text"
	Level     slog.Level
	QueueSize int
	Workers   int
	Sync      bool // write on the caller's goroutine
	Notifier  *Notifier
	Metrics   *Metrics
}

// SlogSink renders entries with a log/slog handler behind an async queue.
// A full queue drops the incoming entry instead of blocking the request.
type SlogSink struct {
	name    string
	logger  *slog.Logger
	handler slog.Handler
	metrics *Metrics
}

func NewSlog(w io.Writer, opts SlogOptions) *SlogSink {
	name := opts.Name
	if name == "" {
		name = "slog"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}
	var inner slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		inner = slog.NewTextHandler(w, hopts)
	} else {
		inner = slog.NewJSONHandler(w, hopts)
	}

	h := slogcpasync.Wrap(inner,
		slogcpasync.WithEnabled(!opts.Sync),
		slogcpasync.WithQueueSize(opts.QueueSize),
		slogcpasync.WithWorkerCount(opts.Workers),
		slogcpasync.WithDropMode(slogcpasync.DropModeDropNewest),
		slogcpasync.WithOnDrop(func(context.Context, slog.Record) {
			opts.Metrics.drop(name)
			opts.Notifier.Notify(&SinkError{Sink: name, Err: errQueueFull})
		}),
		slogcpasync.WithErrorWriter(failureWriter{sink: name, metrics: opts.Metrics, notifier: opts.Notifier}),
		slogcpasync.WithFlushTimeout(5*time.Second),
	)
	return &SlogSink{name: name, logger: slog.New(h), handler: h, metrics: opts.Metrics}
}

func (s *SlogSink) Write(e Entry) {
	s.metrics.entry(s.name)
	s.logger.LogAttrs(context.Background(), e.Level, e.Message, e.Attrs...)
}

// Close drains the queue.
func (s *SlogSink) Close() error {
	if c, ok := s.handler.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// failureWriter receives error text from the async workers.
type failureWriter struct {
	sink     string
	metrics  *Metrics
	notifier *Notifier
}

func (f failureWriter) Write(p []byte) (int, error) {
	f.metrics.failure(f.sink)
	f.notifier.Notify(&SinkError{Sink: f.sink, Err: errors.New(strings.TrimSpace(string(p)))})
	return len(p), nil
}
