package httpx

import (
	"bufio"
	"io"
	"net"
	"net/http"
)

// State is the lifecycle position of a captured response.
type State int

const (
	StatePassthrough State = iota
	StateInit
	StateWaitHeaders
	StateAccumulatingBody
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePassthrough:
		return "passthrough"
	case StateInit:
		return "init"
	case StateWaitHeaders:
		return "wait_headers"
	case StateAccumulatingBody:
		return "accumulating_body"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ResponseSnapshot is the response as the client received it, rebuilt from
// the writes that went through a CaptureWriter.
type ResponseSnapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
	Bytes      int64
	Hijacked   bool
}

// CaptureWriter forwards every call to the wrapped writer untouched and keeps
// a copy of the status, headers and up to limit body bytes. A limit of zero
// records no body; a negative limit records all of it.
type CaptureWriter struct {
	http.ResponseWriter
	limit int
	state State
	snap  ResponseSnapshot
}

func NewCaptureWriter(w http.ResponseWriter, limit int) *CaptureWriter {
	return &CaptureWriter{ResponseWriter: w, limit: limit, state: StateWaitHeaders}
}

func (w *CaptureWriter) State() State { return w.state }

// Status returns the status sent so far, 200 when nothing was sent yet.
func (w *CaptureWriter) Status() int {
	if w.snap.StatusCode == 0 {
		return http.StatusOK
	}
	return w.snap.StatusCode
}

func (w *CaptureWriter) BytesWritten() int64 { return w.snap.Bytes }

func (w *CaptureWriter) WriteHeader(code int) {
	if w.state != StateWaitHeaders || (code >= 100 && code < 200 && code != http.StatusSwitchingProtocols) {
		// informational responses and late calls are not the final status
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.snap.StatusCode = code
	w.snap.Header = w.ResponseWriter.Header().Clone()
	w.state = StateAccumulatingBody
	w.ResponseWriter.WriteHeader(code)
}

func (w *CaptureWriter) Write(p []byte) (int, error) {
	if w.state == StateWaitHeaders {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.record(p[:n])
	return n, err
}

// ReadFrom copies through Write so the copied bytes are recorded too.
func (w *CaptureWriter) ReadFrom(src io.Reader) (int64, error) {
	return io.Copy(writerOnly{w}, src)
}

func (w *CaptureWriter) Flush() {
	if w.state == StateWaitHeaders {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *CaptureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.snap.Hijacked = true
		if w.snap.StatusCode == 0 {
			w.snap.StatusCode = http.StatusSwitchingProtocols
		}
	}
	return conn, rw, err
}

func (w *CaptureWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Finish marks the end of the response body and returns the snapshot. Only
// the first call reports true; the snapshot is final from then on.
func (w *CaptureWriter) Finish() (ResponseSnapshot, bool) {
	if w.state == StateTerminated {
		return w.snap, false
	}
	if w.snap.StatusCode == 0 {
		w.snap.StatusCode = http.StatusOK
	}
	if w.snap.Header == nil {
		w.snap.Header = w.ResponseWriter.Header().Clone()
	}
	w.state = StateTerminated
	return w.snap, true
}

func (w *CaptureWriter) record(p []byte) {
	w.snap.Bytes += int64(len(p))
	if w.state == StateTerminated || len(p) == 0 || w.limit == 0 {
		return
	}
	if w.limit < 0 {
		w.snap.Body = append(w.snap.Body, p...)
		return
	}
	room := w.limit - len(w.snap.Body)
	if room <= 0 {
		w.snap.Truncated = true
		return
	}
	if len(p) > room {
		p = p[:room]
		w.snap.Truncated = true
	}
	w.snap.Body = append(w.snap.Body, p...)
}

type writerOnly struct {
	io.Writer
}
