package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flowscribe/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and persistence status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.daemonClient()
			if errors.Is(err, errDaemonNotRunning) {
				if asJSON {
					return writeJSON(cmd, api.DaemonStatus{})
				}
				p := newStatusPrinter(cmd.OutOrStdout())
				p.section("Daemon")
				p.line("Daemon", statusWarn, "not running")
				return nil
			}
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("query daemon status: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(newStatusPrinter(cmd.OutOrStdout()), status)
			return nil
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderDaemonStatus(p *statusPrinter, status *api.DaemonStatus) {
	p.section("Daemon")
	p.line("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID))
	if status.RunID != "" {
		p.line("Run ID", statusInfo, status.RunID)
	}
	if status.StartedAt != "" {
		p.line("Started", statusInfo, humanize.Time(api.ParseTime(status.StartedAt)))
	}
	if status.Ephemeral {
		p.line("Storage", statusWarn, "ephemeral (in memory only)")
	} else {
		p.line("Storage", statusInfo, status.DatabasePath)
	}
	p.blank()

	p.section("Sessions")
	p.line("Cached", statusInfo, strconv.Itoa(status.SessionCount))
	active := status.ActiveSessionKey
	if active == "" {
		active = "none"
	}
	p.line("Active", statusInfo, active)
	p.line("Usage", usageKind(status.UsedBytes, status.QuotaBytes), usageDetail(status.UsedBytes, status.QuotaBytes))
	p.blank()

	stats := status.Persist
	p.section("Persistence")
	worker := "fallback (idle serialization)"
	if stats.WorkerActive {
		worker = "worker"
	}
	p.line("Serializer", statusInfo, worker)
	p.line("Pending", statusInfo, yesNo(stats.Pending))
	p.line("Writes", statusInfo, fmt.Sprintf("%d of %d jobs (%d stale discarded)", stats.Writes, stats.JobsIssued, stats.StaleDiscarded))
	if !stats.LastWrite.IsZero() {
		p.line("Last write", statusInfo, humanize.Time(stats.LastWrite))
	}
	failureKind := statusOK
	if stats.QuotaFailures > 0 || stats.WriteErrors > 0 {
		failureKind = statusWarn
	}
	p.line("Failures", failureKind, fmt.Sprintf("%d quota, %d other", stats.QuotaFailures, stats.WriteErrors))
	if stats.LastError != "" {
		p.line("Last error", statusError, stats.LastError)
	}
}

func usageDetail(used, quota int64) string {
	if quota <= 0 {
		return humanize.IBytes(uint64(used))
	}
	return fmt.Sprintf("%s of %s", humanize.IBytes(uint64(used)), humanize.IBytes(uint64(quota)))
}

func usageKind(used, quota int64) statusKind {
	switch {
	case quota <= 0:
		return statusInfo
	case used >= quota:
		return statusError
	case used*10 >= quota*9:
		return statusWarn
	default:
		return statusOK
	}
}
