package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flowscribe/internal/api"
	"flowscribe/internal/config"
	"flowscribe/internal/daemonctl"
	"flowscribe/internal/fileutil"
	"flowscribe/internal/session"
	"flowscribe/internal/textutil"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and maintain stored sessions",
	}
	sessionsCmd.AddCommand(newSessionsListCommand(ctx))
	sessionsCmd.AddCommand(newSessionsShowCommand(ctx))
	sessionsCmd.AddCommand(newSessionsDeleteCommand(ctx))
	sessionsCmd.AddCommand(newSessionsPruneCommand(ctx))
	sessionsCmd.AddCommand(newSessionsExportCommand(ctx))
	return sessionsCmd
}

// withSessions opens the session surface for the duration of fn.
func (c *commandContext) withSessions(cmd *cobra.Command, fn func(daemonctl.Sessions) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	sessions, err := daemonctl.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("save sessions: %w", closeErr)
		}
	}()
	return fn(sessions)
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recent sessions, most recently edited first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSessions(cmd, func(s daemonctl.Sessions) error {
				list, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.SessionListResponse{Sessions: list})
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No sessions")
					return nil
				}
				fmt.Fprint(out, renderTable(sessionColumns, sessionRows(list, time.Now())))
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

var sessionColumns = []column{
	{header: "", maxWidth: 1},
	{header: "Audio"},
	{header: "Transcript"},
	{header: "Kind"},
	{header: "Segments", right: true},
	{header: "Speakers", right: true},
	{header: "Updated"},
	{header: "Key", maxWidth: 48},
}

func sessionRows(list []api.SessionSummary, now time.Time) [][]string {
	rows := make([][]string, 0, len(list))
	for _, sum := range list {
		marker := ""
		if sum.Active {
			marker = "*"
		}
		kind := sum.Kind
		if sum.Kind == string(session.KindRevision) && sum.Label != "" {
			kind = fmt.Sprintf("%s (%s)", sum.Kind, sum.Label)
		}
		rows = append(rows, []string{
			marker,
			dashIfEmpty(sum.AudioName),
			dashIfEmpty(sum.TranscriptName),
			kind,
			strconv.Itoa(sum.SegmentCount),
			strconv.Itoa(sum.SpeakerCount),
			relativeTime(sum.UpdatedAt, now),
			sum.Key,
		})
	}
	return rows
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Show one stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSessions(cmd, func(s daemonctl.Sessions) error {
				detail, err := s.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				renderSessionDetail(newStatusPrinter(cmd.OutOrStdout()), detail, time.Now())
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderSessionDetail(p *statusPrinter, detail *api.SessionDetailResponse, now time.Time) {
	sess := detail.Session
	p.section("Session")
	p.line("Key", statusInfo, detail.Key)
	kind := string(sess.Kind)
	if kind == "" {
		kind = string(session.KindCurrent)
	}
	p.line("Kind", statusInfo, kind)
	if sess.Label != "" {
		p.line("Label", statusInfo, sess.Label)
	}
	if sess.BaseSessionKey != "" {
		p.line("Based on", statusInfo, string(sess.BaseSessionKey))
	}
	p.line("Audio", statusInfo, describeRef(sess.AudioRef))
	p.line("Transcript", statusInfo, describeRef(sess.TranscriptRef))
	p.line("Segments", statusInfo, strconv.Itoa(len(sess.Segments)))
	p.line("Speakers", statusInfo, strconv.Itoa(len(sess.Speakers)))
	p.line("Tags", statusInfo, strconv.Itoa(len(sess.Tags)))
	p.line("Chapters", statusInfo, strconv.Itoa(len(sess.Chapters)))
	if sess.SelectedSegmentID != "" {
		p.line("Selected", statusInfo, sess.SelectedSegmentID)
	}
	p.line("Updated", statusInfo, relTime(sess.UpdatedTime(), now))
}

func describeRef(ref *session.FileReference) string {
	if ref == nil {
		return "none"
	}
	if ref.Size > 0 {
		return fmt.Sprintf("%s (%s)", ref.Name, humanize.IBytes(uint64(ref.Size)))
	}
	return ref.Name
}

func newSessionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSessions(cmd, func(s daemonctl.Sessions) error {
				if err := s.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionsPruneCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove ghost sessions (no transcript and no segments)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSessions(cmd, func(s daemonctl.Sessions) error {
				removed, err := s.Prune(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.PruneResponse{Removed: removed})
				}
				out := cmd.OutOrStdout()
				if len(removed) == 0 {
					fmt.Fprintln(out, "No ghost sessions")
					return nil
				}
				for _, key := range removed {
					fmt.Fprintf(out, "Removed %s\n", key)
				}
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newSessionsExportCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <key>",
		Short: "Write one session as JSON to a file, a directory or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSessions(cmd, func(s daemonctl.Sessions) error {
				detail, err := s.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return writeJSON(cmd, detail.Session)
				}
				data, err := json.MarshalIndent(detail.Session, "", "  ")
				if err != nil {
					return fmt.Errorf("encode session: %w", err)
				}
				path, err := config.ExpandPath(output)
				if err != nil {
					return err
				}
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					path = filepath.Join(path, exportFileName(detail.Session))
				}
				if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", args[0], path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default stdout)")
	return cmd
}

// exportFileName derives a file name from the session's label or audio name.
func exportFileName(sess session.Session) string {
	base := ""
	switch {
	case sess.Label != "":
		base = sess.Label
	case sess.AudioRef != nil:
		base = strings.TrimSuffix(sess.AudioRef.Name, filepath.Ext(sess.AudioRef.Name))
	case sess.TranscriptRef != nil:
		base = strings.TrimSuffix(sess.TranscriptRef.Name, filepath.Ext(sess.TranscriptRef.Name))
	}
	base = textutil.SanitizeFileName(base)
	if base == "" {
		base = "session"
	}
	return base + ".json"
}

func relativeTime(value string, now time.Time) string {
	return relTime(api.ParseTime(value), now)
}

func relTime(t, now time.Time) string {
	if t.IsZero() || t.UnixMilli() <= 0 {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func dashIfEmpty(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
