package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI. Exit code 0 on success, 1 on unknown command or
// explicit failure.
func Execute() {
	rootCmd := newRootCmd()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "poold <command>",
		Short: "poold supervises a pool of backend workers behind a health-aware router",
		Long: `poold is the control loop for a fixed pool of backend workers: it launches
them through the container runtime, probes their liveness, and routes inbound
requests to healthy backends only.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newTestCmd())

	return rootCmd
}
