package tracelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/3xpluto/go-reqlog/internal/classify"
	"github.com/3xpluto/go-reqlog/internal/reqctx"
	"github.com/3xpluto/go-reqlog/internal/sink"
)

func bound(t *testing.T, mode reqctx.RecordMode) (context.Context, *reqctx.RequestContext) {
	t.Helper()
	rc := reqctx.New("trace-"+string(mode), mode)
	ctx, tok := reqctx.Bind(context.Background(), rc)
	t.Cleanup(func() { reqctx.Reset(tok) })
	return ctx, rc
}

func attrInt(t *testing.T, e sink.Entry, key string) int64 {
	t.Helper()
	v, ok := e.Attr(key)
	if !ok {
		t.Fatalf("entry %q has no %s attr", e.Message, key)
	}
	return v.Int64()
}

func attrString(e sink.Entry, key string) string {
	v, ok := e.Attr(key)
	if !ok {
		return ""
	}
	return v.String()
}

func TestScatteredWritesEveryCall(t *testing.T) {
	mem := sink.NewMemory()
	l := New(mem)
	ctx, _ := bound(t, reqctx.Scattered)

	l.Log(ctx, slog.LevelInfo, EventRequest, map[string]any{"url": "/users/list"})
	for i := 0; i < 3; i++ {
		l.Log(ctx, slog.LevelInfo, "", fmt.Sprintf("step %d", i))
	}
	l.Log(ctx, slog.LevelInfo, EventResponse, map[string]any{"status_code": 200})

	entries := mem.Entries()
	if len(entries) != 5 {
		t.Fatalf("expected 5 writes, got %d", len(entries))
	}
	if attrInt(t, entries[0], "trace_index") != 0 || attrInt(t, entries[4], "trace_index") != 0 {
		t.Fatal("expected lifecycle events at trace_index 0")
	}
	for i := 1; i <= 3; i++ {
		e := entries[i]
		if got := attrInt(t, e, "trace_index"); got != int64(i) {
			t.Fatalf("expected trace_index %d, got %d", i, got)
		}
		if attrString(e, "event_name") != EventLogic || attrString(e, "trace_id") != "trace-scattered" {
			t.Fatalf("unexpected attrs %v", e.Attrs)
		}
		if e.Message != fmt.Sprintf("step %d", i-1) {
			t.Fatalf("unexpected message %q", e.Message)
		}
	}
	if entries[0].Message != `{"url":"/users/list"}` {
		t.Fatalf("expected JSON request message, got %q", entries[0].Message)
	}
}

func TestCentralizedFlushesOnceOnResponse(t *testing.T) {
	mem := sink.NewMemory()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := New(mem, WithClock(func() time.Time { return fixed }))
	ctx, _ := bound(t, reqctx.Centralized)

	l.Log(ctx, slog.LevelInfo, EventRequest, map[string]any{"url": "/users/login"})
	l.Log(ctx, slog.LevelInfo, "", "a")
	l.Log(ctx, slog.LevelInfo, "", "b")
	if mem.Len() != 0 {
		t.Fatalf("expected nothing written before response, got %d", mem.Len())
	}
	l.Log(ctx, slog.LevelInfo, EventResponse, map[string]any{"status_code": 200})

	entries := mem.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(entries))
	}
	var events []reqctx.LogEvent
	if err := json.Unmarshal([]byte(entries[0].Message), &events); err != nil {
		t.Fatalf("expected JSON array payload: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.TraceIndex != int64(i+1) {
			t.Fatalf("event %d: expected index %d, got %d", i, i+1, ev.TraceIndex)
		}
	}
	if events[2].EventName != EventResponse || events[0].Message != "a" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Timestamp != fixed.Format(reqctx.TimestampLayout) {
		t.Fatalf("unexpected timestamp %q", events[0].Timestamp)
	}
	req, ok := entries[0].Attr("request")
	if !ok {
		t.Fatal("expected request message attached to the flushed entry")
	}
	if m, _ := req.Any().(map[string]any); m["url"] != "/users/login" {
		t.Fatalf("unexpected request attr %v", req.Any())
	}
	if attrString(entries[0], "record_mode") != "centralized" {
		t.Fatalf("unexpected attrs %v", entries[0].Attrs)
	}
}

func TestCentralizedLateEventsAreWrittenDirectly(t *testing.T) {
	mem := sink.NewMemory()
	l := New(mem)
	ctx, _ := bound(t, reqctx.Centralized)

	l.Log(ctx, slog.LevelInfo, "", "a")
	l.Log(ctx, slog.LevelInfo, EventResponse, "done")
	l.Log(ctx, slog.LevelWarn, "", "late")
	l.Log(ctx, slog.LevelInfo, EventResponse, "again")

	entries := mem.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected flush plus two direct writes, got %d", len(entries))
	}
	late := entries[1]
	if late.Message != "late" || late.Level != slog.LevelWarn {
		t.Fatalf("unexpected late entry %+v", late)
	}
	if v, ok := late.Attr("late"); !ok || !v.Bool() {
		t.Fatal("expected late marker")
	}
	if attrInt(t, late, "trace_index") != 3 {
		t.Fatalf("expected late event to continue numbering, got %d", attrInt(t, late, "trace_index"))
	}
}

func TestUnboundContextWritesBareEntry(t *testing.T) {
	mem := sink.NewMemory()
	New(mem).Log(context.Background(), slog.LevelInfo, "", "startup")
	entries := mem.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if len(entries[0].Attrs) != 1 || attrString(entries[0], "event_name") != EventLogic {
		t.Fatalf("expected only event_name attr, got %v", entries[0].Attrs)
	}
}

func TestReleasedContextWritesBareEntry(t *testing.T) {
	mem := sink.NewMemory()
	rc := reqctx.New("gone", reqctx.Scattered)
	ctx, tok := reqctx.Bind(context.Background(), rc)
	reqctx.Reset(tok)
	New(mem).Log(ctx, slog.LevelInfo, "", "from a leaked goroutine")
	if e := mem.Entries()[0]; attrString(e, "trace_id") != "" {
		t.Fatalf("expected no trace attrs after release, got %v", e.Attrs)
	}
}

func TestExcludedRequestIsDropped(t *testing.T) {
	mem := sink.NewMemory()
	l := New(mem)

	excluded := classify.WithDecision(context.Background(), classify.Decision{Closed: true, Reason: classify.ReasonExcludedPath})
	l.Log(excluded, slog.LevelInfo, "db_query", "select")
	l.Log(excluded, slog.LevelInfo, EventResponse, "ignored")
	if mem.Len() != 0 {
		t.Fatalf("expected excluded request to write nothing, got %d", mem.Len())
	}

	kept := classify.WithDecision(context.Background(), classify.Decision{})
	l.Log(kept, slog.LevelInfo, "db_query", "select")
	if mem.Len() != 1 {
		t.Fatalf("expected an open decision to log, got %d entries", mem.Len())
	}
}

func TestSerializationFallback(t *testing.T) {
	mem := sink.NewMemory()
	New(mem).Log(context.Background(), slog.LevelInfo, "", map[string]any{"ch": make(chan int)})
	e := mem.Entries()[0]
	if e.Message == "" {
		t.Fatal("expected printed fallback message")
	}
	if attrString(e, "serialization_error") == "" {
		t.Fatal("expected serialization_error attr")
	}

	_, err := Serialize(make(chan int))
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}

type panicSink struct{}

func (panicSink) Write(sink.Entry) { panic("disk on fire") }
func (panicSink) Close() error { return nil }

func TestLogNeverPanics(t *testing.T) {
	var recovered any
	l := New(panicSink{}, WithPanicHandler(func(r any) { recovered = r }))
	l.Log(context.Background(), slog.LevelError, "", "x")
	if recovered != "disk on fire" {
		t.Fatalf("expected panic to be recovered, got %v", recovered)
	}
}

func TestConcurrentCentralizedRequestsStayIsolated(t *testing.T) {
	const requests = 16
	const calls = 20
	mem := sink.NewMemory()
	l := New(mem)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			rc := reqctx.New(id, reqctx.Centralized)
			ctx, tok := reqctx.Bind(context.Background(), rc)
			defer reqctx.Reset(tok)
			for j := 0; j < calls; j++ {
				l.Log(ctx, slog.LevelInfo, "", id)
			}
			l.Log(ctx, slog.LevelInfo, EventResponse, id)
		}(i)
	}
	wg.Wait()

	entries := mem.Entries()
	if len(entries) != requests {
		t.Fatalf("expected one entry per request, got %d", len(entries))
	}
	for _, e := range entries {
		id := attrString(e, "trace_id")
		var events []reqctx.LogEvent
		if err := json.Unmarshal([]byte(e.Message), &events); err != nil {
			t.Fatal(err)
		}
		if len(events) != calls+1 {
			t.Fatalf("%s: expected %d events, got %d", id, calls+1, len(events))
		}
		for _, ev := range events {
			if ev.Message != id {
				t.Fatalf("%s: foreign event %q", id, ev.Message)
			}
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected fallback logger")
	}
	mem := sink.NewMemory()
	SetDefault(New(mem))
	t.Cleanup(func() { SetDefault(nil) })

	ctx, _ := bound(t, reqctx.Scattered)
	Info(ctx, "", "one")
	Warn(ctx, "audit", "two")
	Error(ctx, "", "three")
	Debug(ctx, "", "four")
	if mem.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", mem.Len())
	}
	if attrString(mem.Entries()[1], "event_name") != "audit" {
		t.Fatal("expected custom event name")
	}
}
