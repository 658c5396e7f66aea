// Package replay turns a one-shot request body into bytes that any number of
// readers can consume.
package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

var ErrRequestTooLarge = errors.New("request body too large")

type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

func (e *TooLargeError) Is(target error) bool { return target == ErrRequestTooLarge }

// TransportError is a failure while reading the body from the client.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "read request body: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Body holds the buffered request body.
type Body struct {
	once sync.Once
	data []byte
	err  error
}

func (b *Body) Bytes() []byte { return b.data }

func (b *Body) Len() int { return len(b.data) }

// NewReader returns an independent reader over the buffered bytes.
func (b *Body) NewReader() io.ReadCloser {
	return &reader{Reader: bytes.NewReader(b.data), body: b}
}

type reader struct {
	*bytes.Reader
	body *Body
}

func (*reader) Close() error { return nil }

// Buffer drains r.Body once and replaces it with a replayable reader. Calling
// Buffer again on the same request returns the same Body without touching the
// transport. A positive max caps the buffered size; past it Buffer returns a
// *TooLargeError and leaves r.Body able to yield the full original stream.
func Buffer(r *http.Request, max int64) (*Body, error) {
	if rd, ok := r.Body.(*reader); ok {
		return rd.body, rd.body.err
	}
	b := &Body{}
	b.once.Do(func() { b.err = b.fill(r, max) })
	return b, b.err
}

func (b *Body) fill(r *http.Request, max int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		b.install(r)
		return nil
	}
	if max > 0 && r.ContentLength > max {
		return &TooLargeError{Limit: max}
	}

	src := r.Body
	var in io.Reader = src
	if max > 0 {
		in = io.LimitReader(src, max+1)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		// hand the handler the bytes that arrived followed by the same failure
		terr := &TransportError{Err: err}
		r.Body = &restored{Reader: io.MultiReader(bytes.NewReader(data), errReader{terr}), closer: src}
		return terr
	}
	if max > 0 && int64(len(data)) > max {
		r.Body = &restored{Reader: io.MultiReader(bytes.NewReader(data), src), closer: src}
		return &TooLargeError{Limit: max}
	}
	_ = src.Close()

	b.data = data
	b.install(r)
	return nil
}

func (b *Body) install(r *http.Request) {
	r.Body = b.NewReader()
	r.GetBody = func() (io.ReadCloser, error) { return b.NewReader(), nil }
	r.ContentLength = int64(len(b.data))
}

type restored struct {
	io.Reader
	closer io.Closer
}

func (r *restored) Close() error { return r.closer.Close() }

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
