package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceHandler correlates log records with the boot span in their context.
// Records get "trace_id" and "span_id" attributes; records at or above EventLevel are also added to the span as
// events, so that timeouts and unit failures show up in the trace of the phase that saw them.
type TraceHandler struct {
	slog.Handler
	EventLevel slog.Level
}

// NewTraceHandler wraps h. Warnings and errors become span events.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h, EventLevel: slog.LevelWarn}
}

func (t *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return t.Handler.Handle(ctx, r)
	}

	r.AddAttrs(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
	if r.Level >= t.EventLevel && span.IsRecording() {
		attrs := []attribute.KeyValue{attribute.String("log.severity", r.Level.String())}
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, attribute.String("log."+a.Key, a.Value.String()))
			return true
		})
		span.AddEvent(r.Message, trace.WithAttributes(attrs...))
	}
	return t.Handler.Handle(ctx, r)
}

func (t *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: t.Handler.WithAttrs(attrs), EventLevel: t.EventLevel}
}

func (t *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: t.Handler.WithGroup(name), EventLevel: t.EventLevel}
}

// TeeHandler writes every record to several handlers, e.g. stderr and the --log-file.
type TeeHandler []slog.Handler

// NewTeeHandler returns a TeeHandler over handlers.
func NewTeeHandler(handlers ...slog.Handler) TeeHandler {
	return TeeHandler(handlers)
}

func (t TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes r to each enabled handler and returns the errors of those that failed.
func (t TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t TeeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t TeeHandler) each(fn func(slog.Handler) slog.Handler) TeeHandler {
	out := make(TeeHandler, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}

// ParseLevel parses a log level name as accepted by --log-level. "warning" is accepted for "warn".
func ParseLevel(name string) (slog.Level, error) {
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}
