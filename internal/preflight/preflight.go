package preflight

import (
	"context"
	"strings"

	"flowscribe/internal/config"
)

// minFreeBytes is the free-space floor below which session writes are
// likely to start failing with SQLITE_FULL.
const minFreeBytes = 64 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckFreeSpace("Free space", cfg.Paths.DataDir, minFreeBytes))
	results = append(results, CheckDatabase(ctx, cfg))

	if strings.TrimSpace(cfg.Paths.APIBind) != "" {
		results = append(results, CheckAPIBind(ctx, cfg.Paths.APIBind))
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
