package bootseq

import (
	"context"
	"log/slog"
)

// Sink receives the Report at the end of every boot run.
type Sink interface {
	Emit(ctx context.Context, r *Report) error
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(ctx context.Context, r *Report) error

// Emit calls f(ctx, r).
func (f SinkFunc) Emit(ctx context.Context, r *Report) error {
	return f(ctx, r)
}

// LogSink writes every Report to a logger: one summary record, plus one warning per failed wait or unit.
type LogSink struct {
	Logger *slog.Logger // Optional, defaults to slog.Default().
}

// Emit logs r.
func (s LogSink) Emit(ctx context.Context, r *Report) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", r.RunID, "sequence", r.Sequence)

	for _, w := range r.Waits {
		if !w.Ready {
			logger.WarnContext(ctx, "component not ready", "label", w.Label, "timeout_ms", w.TimeoutMS, "error", w.Error)
		}
	}
	for _, u := range r.Units {
		if u.Error != "" {
			logger.WarnContext(ctx, "unit error", "unit", u.Name, "phase", u.Phase, "state", u.State, "error", u.Error)
		}
	}

	logger.InfoContext(ctx, "boot report",
		"status", r.Status,
		"baseline_ms", r.BaselineMS,
		"optimized_ms", r.OptimizedMS,
		"saved_ms", r.SavedMS,
		"improvement_pct", r.ImprovementPct,
		"classification", r.Classification,
	)
	return nil
}

var _ Sink = LogSink{}
var _ Sink = SinkFunc(nil)
