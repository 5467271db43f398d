// Package tracing records an in-process span tree per request and logs it as
// a single structured record when the root span finishes. The trace ID is
// the request ID, so a trace lines up with the request's other log lines.
package tracing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// SlowThreshold promotes a finished trace from debug to warn level.
var SlowThreshold = 500 * time.Millisecond

type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	duration time.Duration
	attrs    []slog.Attr
	err      error
	children []*Span
}

// StartSpan opens a root span. An empty traceID gets a fresh UUID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	span := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan opens a span under the one in ctx. Without a parent the
// span is detached and never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{name: name, start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		child.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

func (s *Span) Name() string    { return s.name }
func (s *Span) TraceID() string { return s.traceID }

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Attr returns the last value set for key.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attrs) - 1; i >= 0; i-- {
		if s.attrs[i].Key == key {
			return s.attrs[i].Value.Any(), true
		}
	}
	return nil, false
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// RecordError marks the span failed. A nil err is ignored.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// End fixes the span's duration. Later calls are no-ops.
func (s *Span) End() {
	s.mu.Lock()
	if s.duration == 0 {
		s.duration = time.Since(s.start)
	}
	s.mu.Unlock()
}

// Finish ends a root span and logs its tree.
func (s *Span) Finish() {
	s.End()
	s.Log(context.Background())
}

// Log writes the tree as one record: the root's timing plus one group per
// descendant, keyed by its dotted path.
func (s *Span) Log(ctx context.Context) {
	s.mu.Lock()
	d := s.duration
	s.mu.Unlock()

	level := slog.LevelDebug
	if d >= SlowThreshold {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("trace_id", s.traceID),
		slog.String("span", s.name),
		slog.Int64("duration_ms", d.Milliseconds()),
	}
	attrs = append(attrs, s.fields()...)
	for _, child := range s.Children() {
		attrs = append(attrs, child.flatten(child.name)...)
	}
	slog.LogAttrs(ctx, level, "trace", attrs...)
}

func (s *Span) fields() []slog.Attr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]slog.Attr(nil), s.attrs...)
	if s.err != nil {
		out = append(out, slog.String("error", s.err.Error()))
	}
	return out
}

func (s *Span) flatten(path string) []slog.Attr {
	group := append([]slog.Attr{slog.Int64("duration_ms", s.Duration().Milliseconds())}, s.fields()...)
	out := []slog.Attr{{Key: path, Value: slog.GroupValue(group...)}}
	for _, child := range s.Children() {
		out = append(out, child.flatten(strings.Join([]string{path, child.name}, ">"))...)
	}
	return out
}
