package main

import (
	"github.com/spf13/cobra"

	"flowscribe/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the flowscribe daemon in the foreground",
		Long: "Run the flowscribe daemon in the foreground. The daemon owns the session\n" +
			"database, serves the HTTP API on paths.api_bind and flushes pending edits\n" +
			"on SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Ephemeral, "ephemeral", false, "Keep sessions in memory only; nothing is written to disk")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}
