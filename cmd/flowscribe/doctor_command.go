package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowscribe/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, storage, API address and notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			p := newStatusPrinter(cmd.OutOrStdout())

			probe := preflight.ProbeDaemon(cfg)
			daemonKind := statusInfo
			if probe.Err != nil {
				daemonKind = statusWarn
			}
			p.section("Daemon")
			p.line("Daemon", daemonKind, probe.Detail())
			p.blank()

			results := preflight.RunAll(cmd.Context(), cfg)
			p.section("Checks")
			for _, r := range results {
				p.line(r.Name, passedKind(r.Passed), r.Detail)
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}
