package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"flowscribe/internal/api"
	"flowscribe/internal/config"
	"flowscribe/internal/events"
	"flowscribe/internal/logging"
	"flowscribe/internal/notifications"
	"flowscribe/internal/persist"
	"flowscribe/internal/storage"
	"flowscribe/internal/store"
)

const (
	idleQuietPeriod     = 200 * time.Millisecond
	quotaNotifyInterval = 10 * time.Minute
	notifyTimeout       = 15 * time.Second
)

// Options adjusts daemon construction.
type Options struct {
	// Ephemeral keeps sessions in memory only; nothing survives a restart.
	Ephemeral bool
	// Notifier overrides the ntfy service built from config.
	Notifier notifications.Service
	// Clock drives the persistence scheduler. Defaults to the system clock.
	Clock persist.Clock
	// RunID tags every log line of this process. Generated when empty.
	RunID string
}

// Daemon owns the Store Context for one process and serves it over HTTP.
// A file lock on the data directory keeps a second instance from writing
// the same session database.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	runID     string
	ephemeral bool

	backend   storage.Backend
	bus       *events.Bus
	idle      *persist.IdleRunner
	scheduler *persist.Scheduler
	store     *store.Store
	notifier  notifications.Service
	metrics   *metrics
	hub       *eventHub
	api       *apiServer

	quotaNotify rate.Sometimes
	unsubscribe []func()

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	hydrated  bool
	closed    bool
}

// New opens session storage and builds the Store Context. Persisted state
// is loaded by Start once the instance lock is held.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldRunID, runID))
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	var backend storage.Backend
	if opts.Ephemeral {
		backend = storage.NewMemory(cfg.Storage.QuotaBytes)
	} else {
		db, err := storage.OpenSQLite(cfg.DatabasePath(), cfg.Storage.QuotaBytes)
		if err != nil {
			return nil, fmt.Errorf("open session storage: %w", err)
		}
		backend = db
	}

	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		runID:       runID,
		ephemeral:   opts.Ephemeral,
		backend:     backend,
		bus:         events.NewBus(),
		notifier:    opts.Notifier,
		quotaNotify: rate.Sometimes{First: 1, Interval: quotaNotifyInterval},
		lockPath:    cfg.LockPath(),
		lock:        flock.New(cfg.LockPath()),
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	clock := opts.Clock
	if clock == nil {
		clock = persist.SystemClock()
	}
	d.idle = persist.NewIdleRunner(clock, idleQuietPeriod)

	var factory persist.WorkerFactory
	if cfg.Storage.WorkerEnabled {
		factory = persist.NewJSONWorker
	}
	scheduler, err := persist.NewScheduler(persist.Options{
		Backend:               backend,
		Throttle:              cfg.ThrottleInterval(),
		Clock:                 clock,
		WorkerFactory:         factory,
		Idle:                  d.idle,
		IdleTimeout:           cfg.IdleTimeout(),
		LargePayloadWarnBytes: cfg.Storage.LargePayloadWarnBytes,
		Bus:                   d.bus,
		Logger:                logger,
	})
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("create persistence scheduler: %w", err)
	}
	d.scheduler = scheduler

	st, err := store.New(store.Options{
		Persister:  scheduler,
		HistoryCap: cfg.History.MaxEntries,
		Clock:      clock,
		Activity:   d.idle,
		Logger:     logger,
		OnAudioCleared: func(h store.AudioHandle) {
			d.logger.Debug("audio handle released", logging.String("audio_handle", h.ID))
		},
	})
	if err != nil {
		_ = scheduler.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("create store: %w", err)
	}
	d.store = st

	d.metrics = newMetrics(d)
	d.hub = newEventHub(logger, d.metrics)
	d.unsubscribe = append(d.unsubscribe,
		d.bus.Subscribe(events.StorageQuotaExceeded, d.onQuotaExceeded),
		d.bus.Subscribe("", d.hub.publish),
	)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, loads persisted sessions and starts the
// HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another flowscribe daemon instance is already running")
	}

	if err := d.store.Hydrate(ctx, d.backend); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("load sessions: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.startedAt = time.Now()
	d.hydrated = true
	d.mu.Unlock()
	d.running.Store(true)

	d.logger.Info("flowscribe daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("ephemeral", d.ephemeral),
		logging.Bool("worker_enabled", d.cfg.Storage.WorkerEnabled))
	d.publish(notifications.EventDaemonStarted, notifications.Payload{"runId": d.runID})
	return nil
}

// Stop shuts down the HTTP API, flushes pending state and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.api.stop()

	if !d.store.Flush() {
		logging.WarnWithContext(d.logger, "final flush failed", "daemon_flush_failed",
			logging.String(logging.FieldErrorHint, "check free space and the storage quota"),
			logging.String(logging.FieldImpact, "edits since the last save are lost"))
		d.publish(notifications.EventFlushFailed, notifications.Payload{"error": d.scheduler.Stats().LastError})
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("flowscribe daemon stopped")
}

// Close stops the daemon and releases storage. It is safe to call twice.
func (d *Daemon) Close() error {
	d.Stop()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	hydrated := d.hydrated
	d.mu.Unlock()

	for _, unsubscribe := range d.unsubscribe {
		unsubscribe()
	}
	d.hub.close()
	// A daemon that never loaded persisted state must not write its empty
	// cache over it.
	var err error
	if hydrated {
		err = d.store.Close()
	} else {
		err = d.scheduler.Close()
	}
	return errors.Join(err, d.backend.Close())
}

// Store returns the Store Context owned by the daemon.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Bus returns the event bus the persistence layer dispatches on.
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// Handler returns the HTTP API handler, for tests and embedding.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// APIAddr returns the address the API listens on, or "" when it is not
// serving.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := api.DaemonStatus{
		Running:          d.running.Load(),
		PID:              os.Getpid(),
		RunID:            d.runID,
		Ephemeral:        d.ephemeral,
		LockFilePath:     d.lockPath,
		ActiveSessionKey: string(d.store.ActiveSessionKey()),
		SessionCount:     d.store.SessionCount(),
		QuotaBytes:       d.cfg.Storage.QuotaBytes,
		Persist:          d.scheduler.Stats(),
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.UTC().Format(time.RFC3339)
	}
	if db, ok := d.backend.(*storage.SQLite); ok {
		status.DatabasePath = db.Path()
	}
	status.UsedBytes = d.usedBytes(ctx)
	return status
}

func (d *Daemon) usedBytes(ctx context.Context) int64 {
	usage, ok := d.backend.(storage.Usage)
	if !ok {
		return 0
	}
	used, err := usage.UsedBytes(ctx)
	if err != nil {
		d.logger.Debug("storage usage unavailable", logging.Error(err))
	}
	return used
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.Publish(ctx, notifications.EventTest, nil)
}

// onQuotaExceeded runs on the goroutine that attempted the write, with the
// scheduler's write lock held. It must not call into the Store Context.
func (d *Daemon) onQuotaExceeded(events.Event) {
	used := d.usedBytes(context.Background())
	quota := d.cfg.Storage.QuotaBytes
	logging.ErrorWithContext(d.logger, "session storage is full", "storage_quota_exceeded",
		logging.Int64("used_bytes", used),
		logging.Int64("quota_bytes", quota),
		logging.String(logging.FieldErrorHint, "delete old sessions or raise storage.quota_bytes"),
		logging.String(logging.FieldImpact, "edits stay in memory until a write succeeds"))
	d.quotaNotify.Do(func() {
		d.publish(notifications.EventStorageQuotaExceeded, notifications.Payload{
			"usedBytes":  used,
			"quotaBytes": quota,
		})
	})
}

func (d *Daemon) publish(event notifications.Event, payload notifications.Payload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.notifier.Publish(ctx, event, payload); err != nil {
			d.logger.Warn("notification failed",
				logging.String("event", string(event)),
				logging.Error(err))
		}
	}()
}
