package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rm01-bsp/bootseq/internal/config"
)

// Provider exports boot spans and metrics to an OTLP collector.
type Provider struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
	conn   *grpc.ClientConn
}

// InitProvider connects to the collector named in cfg and installs the trace and meter providers globally.
// The connection is established lazily; boots are never held up by a missing collector.
func InitProvider(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceNamespace("rm01"),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	var opts []grpc.DialOption
	if cfg.OTLPInsecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing collector %s: %w", cfg.OTLPEndpoint, err)
	}
	p := &Provider{conn: conn}

	spans, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating span exporter: %w", err)
	}
	p.Tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	metrics, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		p.Tracer.Shutdown(ctx) //nolint:errcheck
		conn.Close()           //nolint:errcheck
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	p.Meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(cfg.ExportInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(p.Tracer)
	otel.SetMeterProvider(p.Meter)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Debug("telemetry export failed", "err", err)
	}))

	return p, nil
}

// Shutdown flushes pending spans and metrics, then closes the collector connection. Data the collector does not
// accept is dropped; only the error from closing the connection is returned.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := errors.Join(p.Meter.Shutdown(ctx), p.Tracer.Shutdown(ctx)); err != nil {
		slog.Debug("telemetry flush incomplete", "err", err)
	}
	return p.conn.Close()
}
