package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"

	"flowscribe/internal/api"
	"flowscribe/internal/config"
	"flowscribe/internal/logging"
	"flowscribe/internal/persist"
	"flowscribe/internal/session"
	"flowscribe/internal/storage"
	"flowscribe/internal/store"
)

// Mode says how session commands reach the data.
type Mode string

const (
	// ModeDaemon routes commands through the running daemon's HTTP API.
	ModeDaemon Mode = "daemon"
	// ModeOffline edits the session database directly while holding the
	// instance lock.
	ModeOffline Mode = "offline"
)

// Sessions is the session maintenance surface shared by both modes.
type Sessions interface {
	Mode() Mode
	List(ctx context.Context) ([]api.SessionSummary, error)
	Describe(ctx context.Context, key string) (*api.SessionDetailResponse, error)
	Delete(ctx context.Context, key string) error
	Prune(ctx context.Context) ([]string, error)
	Close() error
}

// ErrNotFound reports an unknown session key in either mode.
var ErrNotFound = errors.New("session not found")

// Open returns a daemon-backed implementation when a daemon holds the
// instance lock, and an offline one otherwise. The offline implementation
// keeps the lock until Close so a daemon cannot start mid-edit.
func Open(ctx context.Context, cfg *config.Config) (Sessions, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		if strings.TrimSpace(cfg.Paths.APIBind) == "" {
			return nil, errors.New("a daemon is running but paths.api_bind is empty; cannot reach it")
		}
		return &daemonSessions{client: api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)}, nil
	}

	off, err := openOffline(ctx, cfg)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	off.lock = lock
	return off, nil
}

type daemonSessions struct {
	client *api.Client
}

func (d *daemonSessions) Mode() Mode { return ModeDaemon }

func (d *daemonSessions) List(ctx context.Context) ([]api.SessionSummary, error) {
	return d.client.Sessions(ctx)
}

func (d *daemonSessions) Describe(ctx context.Context, key string) (*api.SessionDetailResponse, error) {
	resp, err := d.client.Session(ctx, key)
	if api.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return resp, err
}

func (d *daemonSessions) Delete(ctx context.Context, key string) error {
	err := d.client.DeleteSession(ctx, key)
	if api.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}

func (d *daemonSessions) Prune(ctx context.Context) ([]string, error) {
	return d.client.Prune(ctx)
}

func (d *daemonSessions) Close() error { return nil }

type offlineSessions struct {
	db        *storage.SQLite
	scheduler *persist.Scheduler
	store     *store.Store
	lock      *flock.Flock
	dirty     bool
}

func openOffline(ctx context.Context, cfg *config.Config) (*offlineSessions, error) {
	db, err := storage.OpenSQLite(cfg.DatabasePath(), cfg.Storage.QuotaBytes)
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}
	scheduler, err := persist.NewScheduler(persist.Options{Backend: db, Logger: logging.NewNop()})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	st, err := store.New(store.Options{Persister: scheduler, HistoryCap: cfg.History.MaxEntries, Logger: logging.NewNop()})
	if err != nil {
		_ = scheduler.Close()
		_ = db.Close()
		return nil, err
	}
	if err := st.Hydrate(ctx, db); err != nil {
		_ = scheduler.Close()
		_ = db.Close()
		return nil, err
	}
	return &offlineSessions{db: db, scheduler: scheduler, store: st}, nil
}

func (o *offlineSessions) Mode() Mode { return ModeOffline }

func (o *offlineSessions) List(context.Context) ([]api.SessionSummary, error) {
	return api.FromSummaries(o.store.UpdateRecentSessions()), nil
}

func (o *offlineSessions) Describe(_ context.Context, key string) (*api.SessionDetailResponse, error) {
	sess, err := o.store.Session(session.Key(key))
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &api.SessionDetailResponse{Key: key, Session: sess}, nil
}

func (o *offlineSessions) Delete(_ context.Context, key string) error {
	if err := o.store.DeleteSession(session.Key(key)); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}
	o.dirty = true
	return nil
}

func (o *offlineSessions) Prune(context.Context) ([]string, error) {
	removed := o.store.PruneGhosts()
	out := make([]string, 0, len(removed))
	for _, key := range removed {
		out = append(out, string(key))
	}
	if len(out) > 0 {
		o.dirty = true
	}
	return out, nil
}

// Close writes changes back when a command modified the cache, then
// releases the database and the instance lock. Read-only commands never
// rewrite the database.
func (o *offlineSessions) Close() error {
	var err error
	if o.dirty {
		err = o.store.Close()
	} else {
		err = o.scheduler.Close()
	}
	err = errors.Join(err, o.db.Close())
	if o.lock != nil {
		if unlockErr := o.lock.Unlock(); unlockErr != nil && !errors.Is(unlockErr, os.ErrClosed) {
			err = errors.Join(err, unlockErr)
		}
	}
	return err
}
