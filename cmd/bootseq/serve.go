package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rm01-bsp/bootseq/internal/api"
)

var bootOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the boot status HTTP API",
	Long: `Start the HTTP server on the configured port (default :8080).

The server exposes the state, signals and report of the boot and accepts
POST /api/v1/boot to start a new run. It shuts down cleanly on SIGTERM or
SIGINT.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&bootOnStart, "boot", true, "run a boot as soon as the server starts")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer app.shutdown()

	agent, err := app.agent(cfg.Boot)
	if err != nil {
		return fmt.Errorf("building boot sequence: %w", err)
	}

	router := api.NewRouter(agent, cfg.Telemetry.ServiceName, slog.Default())

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("bootseq server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if bootOnStart {
		go func() {
			if _, err := agent.Run(ctx, nil); err != nil {
				slog.Error("boot failed", "err", err)
			}
		}()
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped cleanly")
	return nil
}
