package preflight

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"

	"flowscribe/internal/config"
)

// DaemonProbe reports whether a daemon holds the instance lock.
type DaemonProbe struct {
	Running  bool
	LockPath string
	Err      error
}

// ProbeDaemon tries the daemon's instance lock without blocking. A lock
// that can be taken means no daemon is running; it is released at once.
func ProbeDaemon(cfg *config.Config) DaemonProbe {
	path := cfg.LockPath()
	probe := DaemonProbe{LockPath: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return probe
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		probe.Err = fmt.Errorf("probe lock: %w", err)
		return probe
	}
	if !ok {
		probe.Running = true
		return probe
	}
	_ = lock.Unlock()
	return probe
}

// Detail renders a display-friendly summary for status output.
func (p DaemonProbe) Detail() string {
	switch {
	case p.Err != nil:
		return fmt.Sprintf("unknown (%v)", p.Err)
	case p.Running:
		return fmt.Sprintf("running (lock held on %s)", p.LockPath)
	default:
		return "not running"
	}
}
