package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"flowscribe/internal/config"
	"flowscribe/internal/storage"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minBytes available to unprivileged users.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need at least %s)", detail, humanize.IBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDatabase opens the session database, which also verifies its schema
// version, and compares its size with the configured quota. A database that
// does not exist yet passes; it is created on first start.
func CheckDatabase(ctx context.Context, cfg *config.Config) Result {
	const name = "Session database"

	path := cfg.DatabasePath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not created yet)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}

	db, err := storage.OpenSQLite(path, cfg.Storage.QuotaBytes)
	if err != nil {
		if errors.Is(err, storage.ErrSchemaMismatch) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (schema mismatch; move the file aside to start fresh)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer db.Close()

	used, err := db.UsedBytes(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: usage: %v)", path, err)}
	}
	quota := cfg.Storage.QuotaBytes
	if quota <= 0 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s stored)", path, humanize.IBytes(uint64(used)))}
	}
	detail := fmt.Sprintf("%s (%s of %s quota)", path, humanize.IBytes(uint64(used)), humanize.IBytes(uint64(quota)))
	if used >= quota {
		return Result{Name: name, Detail: detail + " full"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckAPIBind verifies that the API address can be bound, or that a
// Flowscribe daemon is already answering on it.
func CheckAPIBind(ctx context.Context, bind string) Result {
	const name = "API address"

	bind = strings.TrimSpace(bind)
	listener, err := net.Listen("tcp", bind)
	if err == nil {
		_ = listener.Close()
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", bind)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, reqErr := http.NewRequestWithContext(checkCtx, http.MethodGet, "http://"+bind+"/api/status", nil)
	if reqErr == nil {
		resp, doErr := http.DefaultClient.Do(req)
		if doErr == nil {
			resp.Body.Close()
			// 401 still proves a daemon is answering; the token is not checked here.
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized {
				return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (daemon running)", bind)}
			}
		}
	}
	return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", bind, err)}
}

// CheckNtfy verifies that the ntfy topic URL is reachable.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy"

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{Name: name, Detail: "missing topic"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, topic, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url (%v)", err)}
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%s)", summarizeNetError(err))}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 400:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (topic requires credentials)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%d)", resp.StatusCode)}
	}
}

// summarizeNetError produces a human-readable summary for network check failures.
func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
