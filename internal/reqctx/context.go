package reqctx

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type RecordMode string

const (
	// Scattered writes every log call to the sink immediately.
	Scattered RecordMode = "scattered"
	// Centralized buffers log calls and writes them once, on the "response" event.
	Centralized RecordMode = "centralized"
)

func ParseRecordMode(s string) (RecordMode, error) {
	switch RecordMode(strings.ToLower(strings.TrimSpace(s))) {
	case Scattered:
		return Scattered, nil
	case Centralized:
		return Centralized, nil
	default:
		return "", fmt.Errorf("unknown record mode %q", s)
	}
}

// TimestampLayout is the layout of LogEvent.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05-0700"

// LogEvent is the compact record kept in the centralized buffer.
type LogEvent struct {
	TraceIndex int64  `json:"trace_index"`
	EventName  string `json:"event_name"`
	Message    string `json:"msg"`
	CostTime   string `json:"cost_time"`
	Timestamp  string `json:"ts"`
}

// RequestContext is the observability state of one in-flight request.
// TraceID, Start and Mode are fixed at construction; everything else changes
// only through the named methods below.
type RequestContext struct {
	TraceID string
	Start   time.Time
	Mode    RecordMode

	mu       sync.Mutex
	request  *http.Request
	clientIP string
	index    int64
	flushed  bool
	buffer   []LogEvent
	body     any
	reqMsg   any
	attrs    map[string]any
}

func New(traceID string, mode RecordMode) *RequestContext {
	if mode == "" {
		mode = Scattered
	}
	return &RequestContext{
		TraceID: traceID,
		Start:   time.Now(),
		Mode:    mode,
	}
}

// AttachRequest records the request the context was bound for, together with
// the resolved client address. It is called once by the middleware.
func (rc *RequestContext) AttachRequest(r *http.Request, clientIP string) {
	rc.mu.Lock()
	rc.request = r
	rc.clientIP = clientIP
	rc.mu.Unlock()
}

func (rc *RequestContext) Request() *http.Request {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.request
}

func (rc *RequestContext) ClientIP() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.clientIP
}

// IncrementIndex advances the trace index and returns the new value, so the
// first call returns 1.
func (rc *RequestContext) IncrementIndex() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.index++
	return rc.index
}

func (rc *RequestContext) Index() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.index
}

// AppendLog assigns the next trace index to ev and appends it to the buffer.
// It reports false, leaving the buffer untouched, once the buffer was flushed.
func (rc *RequestContext) AppendLog(ev LogEvent) (LogEvent, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.flushed {
		return ev, false
	}
	rc.index++
	ev.TraceIndex = rc.index
	rc.buffer = append(rc.buffer, ev)
	return ev, true
}

// Flush appends the terminal event and hands back the whole ordered buffer.
// Only the first call succeeds.
func (rc *RequestContext) Flush(last LogEvent) ([]LogEvent, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.flushed {
		return nil, false
	}
	rc.index++
	last.TraceIndex = rc.index
	rc.buffer = append(rc.buffer, last)
	rc.flushed = true

	out := rc.buffer
	rc.buffer = nil
	return out, true
}

func (rc *RequestContext) Flushed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.flushed
}

// Logs returns a copy of the events buffered so far.
func (rc *RequestContext) Logs() []LogEvent {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]LogEvent, len(rc.buffer))
	copy(out, rc.buffer)
	return out
}

func (rc *RequestContext) SetBody(v any) {
	rc.mu.Lock()
	rc.body = v
	rc.mu.Unlock()
}

func (rc *RequestContext) Body() any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.body
}

// SetRequestMessage keeps the "request" event payload. Centralized records
// attach it to the flushed entry instead of buffering it as an event.
func (rc *RequestContext) SetRequestMessage(v any) {
	rc.mu.Lock()
	rc.reqMsg = v
	rc.mu.Unlock()
}

func (rc *RequestContext) RequestMessage() any {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.reqMsg
}

func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.Start)
}

// CostTime formats the elapsed seconds with two decimals.
func (rc *RequestContext) CostTime() string {
	return fmt.Sprintf("%.2f", rc.Elapsed().Seconds())
}

func (rc *RequestContext) Value(key string) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.attrs[key]
	return v, ok
}

func (rc *RequestContext) Set(key string, v any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.attrs == nil {
		rc.attrs = make(map[string]any)
	}
	rc.attrs[key] = v
}

func (rc *RequestContext) Delete(key string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.attrs[key]; !ok {
		return false
	}
	delete(rc.attrs, key)
	return true
}
