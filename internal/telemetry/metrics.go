package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rm01-bsp/bootseq"
)

const meterName = "github.com/rm01-bsp/bootseq/internal/telemetry"

// MetricsSink records every boot report as OTEL metrics.
type MetricsSink struct {
	duration     metric.Int64Histogram
	saved        metric.Int64Gauge
	waitTimeouts metric.Int64Counter
	unitFailures metric.Int64Counter
}

// NewMetricsSink creates the boot instruments on a meter from mp.
func NewMetricsSink(mp metric.MeterProvider) (*MetricsSink, error) {
	meter := mp.Meter(meterName)

	duration, err := meter.Int64Histogram("bootseq.boot.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time from boot start to boot complete."))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	saved, err := meter.Int64Gauge("bootseq.boot.saved",
		metric.WithUnit("ms"),
		metric.WithDescription("Time saved against the baseline boot."))
	if err != nil {
		return nil, fmt.Errorf("creating saved gauge: %w", err)
	}
	waitTimeouts, err := meter.Int64Counter("bootseq.wait.timeouts",
		metric.WithDescription("Readiness waits that did not succeed."))
	if err != nil {
		return nil, fmt.Errorf("creating wait timeout counter: %w", err)
	}
	unitFailures, err := meter.Int64Counter("bootseq.unit.failures",
		metric.WithDescription("Units that failed or could not be started."))
	if err != nil {
		return nil, fmt.Errorf("creating unit failure counter: %w", err)
	}

	return &MetricsSink{
		duration:     duration,
		saved:        saved,
		waitTimeouts: waitTimeouts,
		unitFailures: unitFailures,
	}, nil
}

// Emit records r.
func (m *MetricsSink) Emit(ctx context.Context, r *bootseq.Report) error {
	attrs := metric.WithAttributes(
		attribute.String("sequence", r.Sequence),
		attribute.String("status", r.Status),
		attribute.String("classification", string(r.Classification)),
	)
	m.duration.Record(ctx, r.OptimizedMS, attrs)
	m.saved.Record(ctx, r.SavedMS, attrs)

	for _, w := range r.Waits {
		if !w.Ready {
			m.waitTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("label", w.Label)))
		}
	}
	for _, u := range r.Units {
		if u.Error != "" {
			m.unitFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("unit", u.Name),
				attribute.String("phase", u.Phase),
			))
		}
	}
	return nil
}

var _ bootseq.Sink = (*MetricsSink)(nil)
