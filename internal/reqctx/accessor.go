package reqctx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var ErrNoAttribute = errors.New("reqctx: attribute not set")

// Accessor forwards attribute and index access to the RequestContext bound to
// the given context. It holds no state; Current is the process-wide instance.
type Accessor struct{}

var Current Accessor

func (Accessor) Context(ctx context.Context) (*RequestContext, error) {
	return Get(ctx)
}

func (Accessor) Get(ctx context.Context, key string) (any, error) {
	rc, err := Get(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := rc.Value(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoAttribute, key)
	}
	return v, nil
}

func (Accessor) Set(ctx context.Context, key string, v any) error {
	rc, err := Get(ctx)
	if err != nil {
		return err
	}
	rc.Set(key, v)
	return nil
}

func (Accessor) Delete(ctx context.Context, key string) error {
	rc, err := Get(ctx)
	if err != nil {
		return err
	}
	if !rc.Delete(key) {
		return fmt.Errorf("%w: %q", ErrNoAttribute, key)
	}
	return nil
}

// Index returns the i-th buffered event of a centralized request.
func (Accessor) Index(ctx context.Context, i int) (LogEvent, error) {
	rc, err := Get(ctx)
	if err != nil {
		return LogEvent{}, err
	}
	logs := rc.Logs()
	if i < 0 || i >= len(logs) {
		return LogEvent{}, fmt.Errorf("reqctx: event index %d out of range [0,%d)", i, len(logs))
	}
	return logs[i], nil
}

// Request returns the inbound request of the bound context.
func (Accessor) Request(ctx context.Context) (*http.Request, error) {
	rc, err := Get(ctx)
	if err != nil {
		return nil, err
	}
	r := rc.Request()
	if r == nil {
		return nil, ErrContextNotBound
	}
	return r, nil
}

// TraceID returns the bound trace id, or "" outside a traced request.
func (Accessor) TraceID(ctx context.Context) string {
	rc, err := Get(ctx)
	if err != nil {
		return ""
	}
	return rc.TraceID
}
