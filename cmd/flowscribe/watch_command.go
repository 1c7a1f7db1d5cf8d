package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowscribe/internal/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print daemon events as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.daemonClient()
			if err != nil {
				return err
			}
			streamCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err = client.StreamEvents(streamCtx, func(ev events.Event) {
				if asJSON {
					_ = writeJSON(cmd, ev)
					return
				}
				fmt.Fprintf(out, "%s  %s\n", ev.At.Local().Format(time.DateTime), ev.Name)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}
