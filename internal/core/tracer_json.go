package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"bloodledger/pkg/domain"
)

// JSONTraceEntry is one finished span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTracer emits every finished span as a slog JSON record and retains the
// spans for Entries.
type JSONTracer struct {
	out *slog.Logger

	mu      sync.Mutex
	entries []JSONTraceEntry
}

// NewJSONTracer returns a tracer writing JSON lines to w. With a nil w the
// spans are only retained.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.out = slog.New(slog.NewJSONHandler(w, nil))
	}
	return t
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, ctx: ctx, operation: operation, started: time.Now().UTC()}
}

// Entries returns a copy of the finished spans in completion order.
func (t *JSONTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

func (t *JSONTracer) finish(ctx context.Context, entry JSONTraceEntry) {
	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
	if t.out == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("operation", entry.Operation),
		slog.String("status", entry.Status),
		slog.Float64("duration_ms", entry.DurationMS),
		slog.Time("started_at", entry.StartedAt),
		slog.Time("ended_at", entry.EndedAt),
	}
	if entry.Error != "" {
		attrs = append(attrs, slog.String("error", entry.Error), slog.String("error_kind", entry.ErrorKind))
	}
	t.out.LogAttrs(ctx, slog.LevelInfo, "span", attrs...)
}

type jsonSpan struct {
	tracer    *JSONTracer
	ctx       context.Context
	operation string
	started   time.Time
}

func (s *jsonSpan) End(err error) {
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     statusLabel(err == nil),
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Error = err.Error()
		entry.ErrorKind = string(domain.KindOf(err))
	}
	s.tracer.finish(s.ctx, entry)
}

func statusLabel(success bool) string {
	if success {
		return string(AuditStatusSuccess)
	}
	return string(AuditStatusError)
}
