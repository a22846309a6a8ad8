package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a single captured log line.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// logRing is the fixed-size storage shared by every handler derived
// from one LogBuffer, so records written through WithAttrs/WithGroup
// children land in the same buffer.
type logRing struct {
	mu      sync.Mutex
	entries []LogEntry
	pos     int
	full    bool
}

func (rg *logRing) add(e LogEntry) {
	rg.mu.Lock()
	rg.entries[rg.pos] = e
	rg.pos++
	if rg.pos >= len(rg.entries) {
		rg.pos = 0
		rg.full = true
	}
	rg.mu.Unlock()
}

func (rg *logRing) snapshot() []LogEntry {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	if !rg.full {
		result := make([]LogEntry, rg.pos)
		copy(result, rg.entries[:rg.pos])
		return result
	}

	// Ring is full: entries from pos..end, then 0..pos.
	result := make([]LogEntry, len(rg.entries))
	n := copy(result, rg.entries[rg.pos:])
	copy(result[n:], rg.entries[:rg.pos])
	return result
}

// LogBuffer is a ring-buffer slog.Handler that captures recent log entries
// while forwarding them to a wrapped handler.
type LogBuffer struct {
	inner slog.Handler
	ring  *logRing
}

// NewLogBuffer creates a LogBuffer wrapping the given handler, retaining up to maxSize entries.
func NewLogBuffer(inner slog.Handler, maxSize int) *LogBuffer {
	return &LogBuffer{
		inner: inner,
		ring:  &logRing{entries: make([]LogEntry, maxSize)},
	}
}

// Enabled delegates to the inner handler.
func (lb *LogBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return lb.inner.Enabled(ctx, level)
}

// Handle captures the log record into the ring buffer and forwards to the inner handler.
func (lb *LogBuffer) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}

	if r.NumAttrs() > 0 {
		entry.Attrs = make(map[string]any, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			entry.Attrs[a.Key] = a.Value.Any()
			return true
		})
	}

	lb.ring.add(entry)
	return lb.inner.Handle(ctx, r)
}

// WithAttrs delegates to the inner handler; the ring is shared.
func (lb *LogBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogBuffer{inner: lb.inner.WithAttrs(attrs), ring: lb.ring}
}

// WithGroup delegates to the inner handler; the ring is shared.
func (lb *LogBuffer) WithGroup(name string) slog.Handler {
	return &LogBuffer{inner: lb.inner.WithGroup(name), ring: lb.ring}
}

// Entries returns the buffered log entries in chronological order.
func (lb *LogBuffer) Entries() []LogEntry {
	return lb.ring.snapshot()
}
