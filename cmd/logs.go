package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var tail int

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent container logs for each backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			failures := 0
			for _, bc := range a.cfg.Backends {
				out, err := a.runtime.Logs(cmd.Context(), bc.ID, tail)
				if err != nil {
					a.log.Warn("Failed to fetch logs",
						slog.String("backend", bc.ID),
						slog.Any("err", err))
					failures++
					continue
				}

				cmd.Printf("==> %s <==\n%s\n", bc.ID, out)
			}

			if failures == len(a.cfg.Backends) {
				return fmt.Errorf("could not fetch logs for any backend")
			}

			return nil
		},
	}

	logsCmd.Flags().IntVar(&tail, "tail", 50, "Number of log lines per backend")

	return logsCmd
}
