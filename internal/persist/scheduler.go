package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"flowscribe/internal/events"
	"flowscribe/internal/logging"
	"flowscribe/internal/storage"
)

const (
	// DefaultThrottle bounds how often scheduled state reaches storage.
	DefaultThrottle = 500 * time.Millisecond
	// DefaultIdleTimeout caps how long a fallback serialization waits for idle.
	DefaultIdleTimeout = time.Second
	// DefaultLargePayloadWarnBytes is the serialized size above which
	// caller-side serialization logs a warning.
	DefaultLargePayloadWarnBytes = 1 << 20

	writeTimeout = 10 * time.Second
)

// Options configures a Scheduler. Backend is required.
type Options struct {
	Backend       storage.Backend
	Throttle      time.Duration
	Clock         Clock
	WorkerFactory WorkerFactory
	// Idle defers fallback serialization. When nil a zero-delay timer is used.
	Idle                  IdleScheduler
	IdleTimeout           time.Duration
	LargePayloadWarnBytes int
	Bus                   *events.Bus
	Logger                *slog.Logger
}

// Stats counts scheduler activity since construction.
type Stats struct {
	JobsIssued     uint64    `json:"jobsIssued"`
	LatestJobID    uint64    `json:"latestJobId"`
	Writes         uint64    `json:"writes"`
	StaleDiscarded uint64    `json:"staleDiscarded"`
	QuotaFailures  uint64    `json:"quotaFailures"`
	WriteErrors    uint64    `json:"writeErrors"`
	FallbackRuns   uint64    `json:"fallbackRuns"`
	SyncFlushes    uint64    `json:"syncFlushes"`
	LastWrite      time.Time `json:"lastWrite"`
	LastError      string    `json:"lastError,omitempty"`
	WorkerActive   bool      `json:"workerActive"`
	Pending        bool      `json:"pending"`
}

type payload struct {
	sessions SessionsState
	global   json.RawMessage
}

type job struct {
	id uint64
	payload
}

// Scheduler persists the most recently scheduled payload. It is safe for
// concurrent use.
type Scheduler struct {
	backend     storage.Backend
	throttle    time.Duration
	clock       Clock
	idle        IdleScheduler
	idleTimeout time.Duration
	warnBytes   int
	bus         *events.Bus
	logger      *slog.Logger

	// writeMu serializes storage writes so a sync flush and an async commit
	// never interleave. Acquire before mu.
	writeMu sync.Mutex

	mu        sync.Mutex
	pending   *payload
	timer     Timer
	latestJob uint64
	inflight  *job
	worker    Worker
	closed    bool
	stats     Stats
}

// NewScheduler builds a scheduler. A nil factory, a factory error or a nil
// worker all select the fallback path.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Backend == nil {
		return nil, errors.New("persist: storage backend required")
	}
	s := &Scheduler{
		backend:     opts.Backend,
		throttle:    opts.Throttle,
		clock:       opts.Clock,
		idle:        opts.Idle,
		idleTimeout: opts.IdleTimeout,
		warnBytes:   opts.LargePayloadWarnBytes,
		bus:         opts.Bus,
		logger:      logging.NewComponentLogger(opts.Logger, "persist"),
	}
	if s.throttle <= 0 {
		s.throttle = DefaultThrottle
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = DefaultIdleTimeout
	}
	if s.warnBytes <= 0 {
		s.warnBytes = DefaultLargePayloadWarnBytes
	}

	if opts.WorkerFactory != nil {
		worker, err := opts.WorkerFactory(s.handleResponse)
		switch {
		case err != nil:
			s.logger.Debug("serialization worker unavailable; using fallback path", logging.Error(err))
		case worker == nil:
			s.logger.Debug("no serialization worker; using fallback path")
		default:
			s.worker = worker
		}
	}
	s.stats.WorkerActive = s.worker != nil
	return s, nil
}

// Schedule replaces the pending payload and arms the throttle timer if it is
// not already running. It never blocks on I/O.
func (s *Scheduler) Schedule(sessions SessionsState, global json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = &payload{sessions: sessions, global: global}
	if s.timer == nil {
		s.timer = s.clock.AfterFunc(s.throttle, s.fire)
	}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.closed || s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.latestJob++
	j := &job{id: s.latestJob, payload: *s.pending}
	s.pending = nil
	s.inflight = j
	s.stats.JobsIssued++
	worker := s.worker
	s.mu.Unlock()

	if worker != nil {
		err := worker.Post(Request{JobID: j.id, Sessions: j.sessions, Global: j.global})
		if err == nil {
			return
		}
		s.logger.Debug("serialization worker rejected job; using fallback path",
			logging.Uint64(logging.FieldJobID, j.id),
			logging.Error(err))
		s.dropWorker(worker)
	}
	s.fallback(j)
}

func (s *Scheduler) dropWorker(w Worker) {
	s.mu.Lock()
	if s.worker == w {
		s.worker = nil
		s.stats.WorkerActive = false
	}
	s.mu.Unlock()
}

func (s *Scheduler) fallback(j *job) {
	s.mu.Lock()
	s.stats.FallbackRuns++
	s.mu.Unlock()

	run := func() { s.runFallback(j) }
	if s.idle != nil {
		s.idle.RequestIdle(run, s.idleTimeout)
		return
	}
	s.clock.AfterFunc(0, run)
}

func (s *Scheduler) runFallback(j *job) {
	if !s.isLatest(j.id) {
		s.discardStale(j.id, "fallback")
		return
	}
	sessionsJSON, globalJSON, err := Serialize(Request{JobID: j.id, Sessions: j.sessions, Global: j.global})
	if err != nil {
		s.recordError(fmt.Errorf("serialize job %d: %w", j.id, err))
		return
	}
	s.warnIfLarge(j.id, "fallback", len(sessionsJSON)+len(globalJSON))
	s.commit(j.id, sessionsJSON, globalJSON)
}

// handleResponse receives worker output on the worker's goroutine.
func (s *Scheduler) handleResponse(resp Response) {
	if resp.Error != "" {
		s.mu.Lock()
		var retry *job
		if s.inflight != nil && s.inflight.id == resp.JobID && resp.JobID == s.latestJob && !s.closed {
			retry = s.inflight
		}
		s.mu.Unlock()
		if retry == nil {
			s.discardStale(resp.JobID, "worker")
			return
		}
		s.logger.Debug("worker failed to serialize job; using fallback path",
			logging.Uint64(logging.FieldJobID, resp.JobID),
			logging.String("worker_error", resp.Error))
		s.fallback(retry)
		return
	}
	s.commit(resp.JobID, resp.SessionsJSON, resp.GlobalJSON)
}

func (s *Scheduler) isLatest(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && id == s.latestJob
}

func (s *Scheduler) discardStale(id uint64, path string) {
	s.mu.Lock()
	s.stats.StaleDiscarded++
	latest := s.latestJob
	s.mu.Unlock()
	s.logger.Debug("discarded stale persistence job",
		logging.Uint64(logging.FieldJobID, id),
		logging.Uint64("latest_job_id", latest),
		logging.String("path", path))
}

// commit writes a serialized job if it is still the latest one.
func (s *Scheduler) commit(id uint64, sessionsJSON, globalJSON string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.isLatest(id) {
		s.discardStale(id, "commit")
		return false
	}
	ok := s.write(id, sessionsJSON, globalJSON)
	s.mu.Lock()
	if s.inflight != nil && s.inflight.id == id {
		s.inflight = nil
	}
	s.mu.Unlock()
	return ok
}

// write must be called with writeMu held.
func (s *Scheduler) write(id uint64, sessionsJSON, globalJSON string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := s.backend.SetItem(ctx, storage.KeySessions, sessionsJSON)
	if err == nil {
		err = s.backend.SetItem(ctx, storage.KeyGlobal, globalJSON)
	}
	if err == nil {
		now := s.clock.Now()
		s.mu.Lock()
		s.stats.Writes++
		s.stats.LastWrite = now
		s.mu.Unlock()
		s.logger.Debug("persisted session state",
			logging.Uint64(logging.FieldJobID, id),
			logging.Int("bytes", len(sessionsJSON)+len(globalJSON)))
		return true
	}

	if storage.IsQuotaExceeded(err) {
		s.mu.Lock()
		s.stats.QuotaFailures++
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		logging.WarnWithContext(s.logger, "storage quota exceeded; state not persisted", "persist_quota_exceeded",
			logging.Uint64(logging.FieldJobID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "prune old sessions or raise storage.quota_bytes"),
			logging.String(logging.FieldImpact, "edits since the last successful write are only in memory"))
		s.bus.Dispatch(events.StorageQuotaExceeded)
		return false
	}

	s.recordError(fmt.Errorf("write job %d: %w", id, err))
	return false
}

func (s *Scheduler) recordError(err error) {
	s.mu.Lock()
	s.stats.WriteErrors++
	s.stats.LastError = err.Error()
	s.mu.Unlock()
	logging.ErrorWithContext(s.logger, "persistence write failed", "persist_write_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the data directory and disk health"),
		logging.String(logging.FieldImpact, "state will be retried on the next scheduled write"))
}

func (s *Scheduler) warnIfLarge(id uint64, path string, size int) {
	if size <= s.warnBytes {
		return
	}
	logging.WarnWithContext(s.logger, "large payload serialized on caller goroutine", "persist_large_payload",
		logging.Uint64(logging.FieldJobID, id),
		logging.String("path", path),
		logging.Int("bytes", size),
		logging.Int("threshold_bytes", s.warnBytes),
		logging.String(logging.FieldErrorHint, "prune old sessions or revisions to shrink the payload"),
		logging.String(logging.FieldImpact, "serialization may delay editor requests"))
}

// FlushSync writes the newest pending or in-flight payload on the calling
// goroutine, bypassing the throttle and the worker. It returns false only
// when a write was attempted and failed. Responses for jobs issued before
// the flush are discarded when they arrive.
func (s *Scheduler) FlushSync() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	var p *payload
	switch {
	case s.pending != nil:
		p = s.pending
	case s.inflight != nil:
		p = &s.inflight.payload
	}
	s.pending = nil
	s.inflight = nil
	if p == nil {
		s.mu.Unlock()
		return true
	}
	s.latestJob++
	id := s.latestJob
	s.stats.JobsIssued++
	s.stats.SyncFlushes++
	s.mu.Unlock()

	sessionsJSON, globalJSON, err := Serialize(Request{JobID: id, Sessions: p.sessions, Global: p.global})
	if err != nil {
		s.recordError(fmt.Errorf("serialize flush %d: %w", id, err))
		return false
	}
	s.warnIfLarge(id, "sync_flush", len(sessionsJSON)+len(globalJSON))
	return s.write(id, sessionsJSON, globalJSON)
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.LatestJobID = s.latestJob
	st.Pending = s.pending != nil || s.inflight != nil
	return st
}

// Close flushes pending state, then stops the worker. Later Schedule calls
// are ignored and late responses are discarded. The backend stays open.
func (s *Scheduler) Close() error {
	ok := s.FlushSync()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	worker := s.worker
	s.worker = nil
	s.stats.WorkerActive = false
	s.mu.Unlock()

	var err error
	if worker != nil {
		err = worker.Close()
	}
	if !ok {
		err = errors.Join(err, errors.New("persist: final flush failed"))
	}
	return err
}
