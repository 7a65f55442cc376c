package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the boot plan and its time budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer app.shutdown()

		agent, err := app.agent(cfg.Boot)
		if err != nil {
			return fmt.Errorf("building boot sequence: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, agent.String())
		for _, p := range agent.Phases() {
			fmt.Fprintf(out, "  %-10s budget %-8s units %v\n", p.Name, p.Timeout, p.Units())
		}
		fmt.Fprintf(out, "total budget %s, baseline %s\n", agent.Budget(), cfg.Boot.Baseline)
		return nil
	},
}
