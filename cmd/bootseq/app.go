package main

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/rm01-bsp/bootseq"
	"github.com/rm01-bsp/bootseq/internal/clients"
	"github.com/rm01-bsp/bootseq/internal/config"
	"github.com/rm01-bsp/bootseq/internal/device"
	"github.com/rm01-bsp/bootseq/internal/telemetry"
)

// sequenceName identifies the boot sequence in logs, spans and reports.
const sequenceName = "RM01"

// AppContext holds all constructed application dependencies shared across
// subcommands.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	board        *device.Board
	sinks        []bootseq.Sink
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates the simulated board
//  3. Creates the report sinks
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	app := &AppContext{cfg: cfg}

	// When OTLPEndpoint is empty, telemetry is disabled entirely.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	} else {
		p, err := telemetry.InitProvider(ctx, cfg.Telemetry)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = p
		}
	}

	app.board = device.NewBoard(cfg.Devices, slog.Default())

	app.sinks = append(app.sinks, bootseq.LogSink{Logger: slog.Default()})

	metrics, err := telemetry.NewMetricsSink(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}
	app.sinks = append(app.sinks, metrics)

	if cfg.NATS.URL != "" {
		app.sinks = append(app.sinks, clients.NewNATSSink(cfg.NATS,
			clients.NewCircuitBreaker("nats", cfg.NATS.Breaker, slog.Default())))
	}

	return app, nil
}

// agent builds the boot agent for the board with the given boot config.
func (a *AppContext) agent(boot bootseq.Config) (*bootseq.Agent, error) {
	opts := []bootseq.Option{bootseq.WithLogger(slog.Default())}
	if a.otelProvider != nil {
		opts = append(opts, bootseq.WithTracer(a.otelProvider.Tracer))
	}
	for _, s := range a.sinks {
		opts = append(opts, bootseq.WithSink(s))
	}
	return a.board.Sequence(sequenceName).Agent(boot, opts...)
}

// shutdown flushes telemetry and releases the board.
func (a *AppContext) shutdown() {
	a.board.Close()
	if a.otelProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelProvider.Shutdown(ctx); err != nil {
		slog.Warn("OTEL shutdown error", "err", err)
	}
}
