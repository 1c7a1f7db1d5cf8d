package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flowscribe/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client, err := ctx.daemonClient()
			switch {
			case err == nil:
				sent, err := client.TestNotification(cmd.Context())
				if err != nil {
					return err
				}
				reportNotification(cmd, sent)
				return nil
			case !errors.Is(err, errDaemonNotRunning):
				return err
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				fmt.Fprintln(out, "Notifications disabled (notifications.ntfy_topic is empty)")
				return nil
			}
			if err := notifications.NewService(cfg).Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return fmt.Errorf("send notification: %w", err)
			}
			reportNotification(cmd, true)
			return nil
		},
	}
}

func reportNotification(cmd *cobra.Command, sent bool) {
	if sent {
		fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent (notifications.ntfy_topic is empty)")
}
