package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rm01-bsp/bootseq"
)

var (
	sequential bool
	format     string
	waitUnits  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one boot and print the performance report",
	Long: `Run boots the simulated board once, prints the performance report to
stdout and exits 0 unless a critical subsystem failed.

With --sequential every subsystem runs to completion before the next one
starts, reproducing the legacy boot to measure a baseline.`,
	RunE: runBoot,
}

func init() {
	runCmd.Flags().BoolVar(&sequential, "sequential", false, "run every unit to completion before the next one starts")
	runCmd.Flags().StringVar(&format, "format", "json", "report format (json, yaml)")
	runCmd.Flags().BoolVar(&waitUnits, "wait", false, "wait for deferred units before exiting")
}

func runBoot(cmd *cobra.Command, args []string) error {
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown format %q", format)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer app.shutdown()

	boot := cfg.Boot
	if cmd.Flags().Changed("sequential") {
		boot.Sequential = sequential
	}

	agent, err := app.agent(boot)
	if err != nil {
		return fmt.Errorf("building boot sequence: %w", err)
	}
	slog.Info("starting boot", "plan", agent.String(), "sequential", boot.Sequential)

	report, err := agent.Run(ctx, nil)
	if report != nil {
		if printErr := printReport(os.Stdout, report, format); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	if waitUnits {
		if err := agent.Wait(); err != nil {
			slog.Warn("unit failed after boot", "err", err)
		}
	}
	return nil
}

// printReport writes r to w in the given format.
func printReport(w io.Writer, r *bootseq.Report, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
