package sink

import (
	"log/slog"
	"sync"
)

// Memory keeps every entry in memory. It backs tests and the debug surface.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	e.Attrs = append([]slog.Attr(nil), e.Attrs...)
	m.entries = append(m.entries, e)
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
