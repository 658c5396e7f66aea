// Package sink is where finished log entries go. Writers never block the
// request beyond an enqueue and never return errors to it; failures are
// counted and reported through a rate-limited Notifier.
package sink

import (
	"fmt"
	"log/slog"
)

// Entry is one record handed to a sink.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// Attr returns the value of the first attribute named key.
func (e Entry) Attr(key string) (slog.Value, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}

type Sink interface {
	Write(Entry)
	Close() error
}

// SinkError is a failure at a sink's destination.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("sink %s: %v", e.Sink, e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }
