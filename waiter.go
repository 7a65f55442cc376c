package bootseq

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Condition is a predicate polled by WaitUntil.
type Condition func() bool

// WaitRequest describes a single readiness wait.
type WaitRequest struct {
	Label     string
	Condition Condition
	Timeout   time.Duration
	Interval  time.Duration
	Logger    *slog.Logger // Optional, defaults to slog.Default().
}

// validate returns an InvalidWaitError if the request cannot be evaluated.
func (w WaitRequest) validate() error {
	switch {
	case w.Condition == nil:
		return InvalidWaitError("nil condition: " + w.Label)
	case w.Timeout <= 0:
		return InvalidWaitError("timeout must be positive: " + w.Label)
	case w.Interval <= 0:
		return InvalidWaitError("interval must be positive: " + w.Label)
	}
	return nil
}

// WaitUntil blocks until req.Condition holds or req.Timeout elapses.
// The condition is checked immediately and then once per req.Interval, so success is observed at most one interval
// after the condition became true. When the timeout elapses first, WaitUntil returns a *WaitTimeoutError; if ctx is
// done first, it returns ctx.Err(). The returned duration is the time spent waiting.
func WaitUntil(ctx context.Context, req WaitRequest) (time.Duration, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The wait span uses the provider of the enclosing span, if any.
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "boot.wait")
	defer span.End()
	span.SetAttributes(
		attribute.String("wait.label", req.Label),
		attribute.Int64("wait.timeout_ms", req.Timeout.Milliseconds()),
		attribute.Int64("wait.interval_ms", req.Interval.Milliseconds()),
	)

	logger.DebugContext(ctx, "waiting", "label", req.Label, "timeout", req.Timeout, "interval", req.Interval)

	start := time.Now()
	elapsed, err := poll(ctx, req)
	span.SetAttributes(attribute.Int64("wait.elapsed_ms", elapsed.Milliseconds()))

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		logger.InfoContext(ctx, "condition met", "label", req.Label, "elapsed", elapsed)
	case IsTimeout(err):
		span.SetStatus(codes.Error, "timeout")
		logger.WarnContext(ctx, "wait timed out", "label", req.Label, "timeout", req.Timeout)
	default:
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "wait aborted", "label", req.Label, "error", err, "elapsed", time.Since(start))
	}
	return elapsed, err
}

// poll runs the check loop for WaitUntil.
func poll(ctx context.Context, req WaitRequest) (time.Duration, error) {
	start := time.Now()
	if req.Condition() {
		return 0, nil
	}

	deadline := time.NewTimer(req.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(req.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-deadline.C:
			// One last look: the condition may have turned true since the previous tick.
			if req.Condition() {
				return time.Since(start), nil
			}
			return time.Since(start), &WaitTimeoutError{Label: req.Label, Timeout: req.Timeout}
		case <-ticker.C:
			if req.Condition() {
				return time.Since(start), nil
			}
		}
	}
}
