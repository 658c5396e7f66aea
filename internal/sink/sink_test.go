package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/3xpluto/go-reqlog/internal/config"
)

func entry(msg string) Entry {
	return Entry{Level: slog.LevelInfo, Message: msg, Attrs: []slog.Attr{
		slog.String("trace_id", "t-1"),
		slog.Int64("trace_index", 1),
	}}
}

func TestMemoryAndTee(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	s := Tee(a, nil, b)
	s.Write(entry("x"))
	s.Write(entry("y"))
	if a.Len() != 2 || b.Len() != 2 {
		t.Fatalf("expected both sinks to see 2 entries, got %d and %d", a.Len(), b.Len())
	}
	if v, ok := a.Entries()[0].Attr("trace_id"); !ok || v.String() != "t-1" {
		t.Fatalf("expected trace_id attr, got %v", v)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s.Write(entry("late"))
	if a.Len() != 2 {
		t.Fatal("expected closed memory sink to ignore writes")
	}
	if Tee(a) != Sink(a) {
		t.Fatal("expected single-sink tee to return the sink itself")
	}
}

func TestNotifierIsRateLimited(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf, time.Hour)
	n.Notify(errors.New("first"))
	n.Notify(errors.New("second"))
	n.Notify(errors.New("third"))
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("expected one notice, got %d: %q", got, buf.String())
	}
	if !strings.Contains(buf.String(), "first") {
		t.Fatalf("unexpected notice %q", buf.String())
	}
	if n.suppressed != 2 {
		t.Fatalf("expected 2 suppressed, got %d", n.suppressed)
	}
	var nilNotifier *Notifier
	nilNotifier.Notify(errors.New("ignored"))
}

func TestBreakerTransitions(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, OpenDuration: 10 * time.Second})
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("call %d: expected closed breaker to allow", i)
		}
		b.Done(false)
	}
	if b.Stats().State != BreakerOpen {
		t.Fatalf("expected open, got %s", b.Stats().State)
	}
	if b.Allow() {
		t.Fatal("expected open breaker to refuse")
	}

	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatal("expected one trial after open window")
	}
	if b.Allow() {
		t.Fatal("expected second concurrent trial to be refused")
	}
	b.Done(false)
	if b.Stats().State != BreakerOpen {
		t.Fatalf("expected failed trial to reopen, got %s", b.Stats().State)
	}

	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatal("expected trial")
	}
	b.Done(true)
	if st := b.Stats(); st.State != BreakerClosed || st.Failures != 0 {
		t.Fatalf("expected closed after successful trial, got %+v", st)
	}
}

func TestSlogSinkSyncJSON(t *testing.T) {
	var buf bytes.Buffer
	s := NewSlog(&buf, SlogOptions{Sync: true})
	s.Write(entry(`[{"trace_index":1}]`))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if m["msg"] != `[{"trace_index":1}]` || m["trace_id"] != "t-1" {
		t.Fatalf("unexpected record %v", m)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSlogSinkAsyncDrainsOnClose(t *testing.T) {
	var out lockedBuffer
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := NewSlog(&out, SlogOptions{QueueSize: 64, Workers: 2, Metrics: m})
	for i := 0; i < 20; i++ {
		s.Write(entry("e"))
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(out.String(), "\n"); got != 20 {
		t.Fatalf("expected 20 lines after close, got %d", got)
	}
	if got := testutil.ToFloat64(m.Entries.WithLabelValues("slog")); got != 20 {
		t.Fatalf("expected 20 entries counted, got %v", got)
	}
}

func TestZapSinkWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	s := NewZap(&buf, ZapOptions{Level: slog.LevelInfo})
	s.Write(Entry{Level: slog.LevelDebug, Message: "hidden"})
	s.Write(Entry{Level: slog.LevelWarn, Message: "kept", Attrs: []slog.Attr{
		slog.String("event_name", "logic"),
		slog.Group("request", slog.String("url", "/users/list")),
	}})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m["msg"] != "kept" || m["level"] != "WARN" || m["event_name"] != "logic" {
		t.Fatalf("unexpected record %v", m)
	}
	req, _ := m["request"].(map[string]any)
	if req["url"] != "/users/list" {
		t.Fatalf("expected group flattened to object, got %v", m["request"])
	}
}

type fakeList struct {
	mu    sync.Mutex
	err   error
	items [][]byte
	trims int
}

func (f *fakeList) LPush(ctx context.Context, _ string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	for _, v := range values {
		f.items = append(f.items, v.([]byte))
	}
	cmd.SetVal(int64(len(f.items)))
	return cmd
}

func (f *fakeList) LTrim(ctx context.Context, _ string, _, _ int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trims++
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func TestRedisSinkPushesAndTrims(t *testing.T) {
	fl := &fakeList{}
	s := NewRedis(fl, RedisOptions{Key: "k", MaxLen: 100})
	s.Write(entry("a"))
	s.Write(entry("b"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(fl.items) != 2 || fl.trims != 2 {
		t.Fatalf("expected 2 pushes and trims, got %d and %d", len(fl.items), fl.trims)
	}
	var rec map[string]any
	if err := json.Unmarshal(fl.items[0], &rec); err != nil {
		t.Fatal(err)
	}
	attrs, _ := rec["attrs"].(map[string]any)
	if rec["msg"] != "a" || attrs["trace_id"] != "t-1" {
		t.Fatalf("unexpected record %v", rec)
	}
	s.Write(entry("after close"))
}

func TestRedisSinkOpensBreakerOnFailures(t *testing.T) {
	fl := &fakeList{err: errors.New("connection refused")}
	var notices bytes.Buffer
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, OpenDuration: time.Hour})
	s := NewRedis(fl, RedisOptions{Key: "k", Breaker: b, Notifier: NewNotifier(&notices, time.Hour), Metrics: m})
	for i := 0; i < 5; i++ {
		s.Write(entry("x"))
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if b.Stats().State != BreakerOpen {
		t.Fatalf("expected breaker open, got %s", b.Stats().State)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("redis")); got != 2 {
		t.Fatalf("expected 2 delivery errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("redis")); got != 3 {
		t.Fatalf("expected 3 entries skipped by the open breaker, got %v", got)
	}
	if strings.Count(notices.String(), "\n") != 1 {
		t.Fatalf("expected one rate-limited notice, got %q", notices.String())
	}
}

func TestNextRotation(t *testing.T) {
	loc := time.FixedZone("X", 8*3600)
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, loc)
	if got := nextRotation(now, 0, 0); !got.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected next midnight %v", got)
	}
	if got := nextRotation(now, 12, 0); !got.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, loc)) {
		t.Fatalf("unexpected same-day rotation %v", got)
	}
	if got := nextRotation(now, 10, 30); !got.After(now) {
		t.Fatalf("expected rotation strictly after now, got %v", got)
	}
}

func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	f, err := NewRotatingFile(FileOptions{Dir: dir, ProjectSlug: "orders", RotateAt: "00:00", MaxSizeMB: 1, Retention: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("line\n")); err != nil {
		t.Fatal(err)
	}
	if err := f.Rotate(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if f.Filename() != filepath.Join(dir, "orders.log") {
		t.Fatalf("unexpected filename %q", f.Filename())
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "orders-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one rotated backup, got %v", matches)
	}
}

func TestOpenWritesToProjectFile(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.File.Dir = t.TempDir()
	cfg.Sink.File.ProjectSlug = "demo"
	cfg.Sink.File.RotateAt = ""

	st, err := Open(cfg.Sink, cfg.Logging, prometheus.NewRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	st.Sink.Write(entry("hello"))
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(cfg.Sink.File.Dir, "demo.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"msg":"hello"`) {
		t.Fatalf("unexpected file content %q", b)
	}
}
