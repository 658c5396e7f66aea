// Package reqctx carries the observability state of the request being served.
//
// A RequestContext is bound to the request's context.Context with Bind and
// looked up with Get from any code that received that context. Reset releases
// the binding: afterwards Get fails with ErrContextNotBound even for contexts
// derived before the release, so state never outlives its request.
package reqctx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrContextNotBound = errors.New("reqctx: no request context bound")

type bindingKey struct{}

type binding struct {
	rc   atomic.Pointer[RequestContext]
	once sync.Once
}

// Token releases a binding made by Bind.
type Token struct {
	b *binding
}

// Released reports whether Reset ran for the token.
func (t Token) Released() bool {
	return t.b == nil || t.b.rc.Load() == nil
}

// Bind installs rc for everything that runs with the returned context.
func Bind(ctx context.Context, rc *RequestContext) (context.Context, Token) {
	b := &binding{}
	b.rc.Store(rc)
	return context.WithValue(ctx, bindingKey{}, b), Token{b: b}
}

// Get returns the RequestContext bound to ctx.
func Get(ctx context.Context) (*RequestContext, error) {
	if ctx == nil {
		return nil, ErrContextNotBound
	}
	b, ok := ctx.Value(bindingKey{}).(*binding)
	if !ok || b == nil {
		return nil, ErrContextNotBound
	}
	rc := b.rc.Load()
	if rc == nil {
		return nil, ErrContextNotBound
	}
	return rc, nil
}

// Reset releases the binding. Calling it more than once is a no-op.
func Reset(t Token) {
	if t.b == nil {
		return
	}
	t.b.once.Do(func() {
		t.b.rc.Store(nil)
	})
}
