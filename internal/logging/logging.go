// Package logging builds the process logger used for startup, shutdown and
// operational notices. Request traces never go through it.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func New(level slog.Level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

func NewWithWriter(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With(slog.String("component", "reqlogd"))
}
