package persist_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"flowscribe/internal/events"
	"flowscribe/internal/persist"
	"flowscribe/internal/session"
	"flowscribe/internal/storage"
	"flowscribe/internal/testsupport"
)

const throttle = 500 * time.Millisecond

type recordingBackend struct {
	*storage.Memory
	mu     sync.Mutex
	writes []string
}

func newRecordingBackend(quota int64) *recordingBackend {
	return &recordingBackend{Memory: storage.NewMemory(quota)}
}

func (r *recordingBackend) SetItem(ctx context.Context, key, value string) error {
	if key == storage.KeySessions {
		r.mu.Lock()
		r.writes = append(r.writes, value)
		r.mu.Unlock()
	}
	return r.Memory.SetItem(ctx, key, value)
}

func (r *recordingBackend) sessionWrites() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

type scriptedWorker struct {
	mu      sync.Mutex
	posted  []persist.Request
	deliver func(persist.Response)
	closed  bool
	postErr error
}

func (w *scriptedWorker) factory() persist.WorkerFactory {
	return func(deliver func(persist.Response)) (persist.Worker, error) {
		w.deliver = deliver
		return w, nil
	}
}

func (w *scriptedWorker) Post(req persist.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.postErr != nil {
		return w.postErr
	}
	w.posted = append(w.posted, req)
	return nil
}

func (w *scriptedWorker) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *scriptedWorker) request(t *testing.T, jobID uint64) persist.Request {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, req := range w.posted {
		if req.JobID == jobID {
			return req
		}
	}
	t.Fatalf("job %d was never posted (posted %d jobs)", jobID, len(w.posted))
	return persist.Request{}
}

func (w *scriptedWorker) respond(t *testing.T, jobID uint64) {
	t.Helper()
	sessions, global, err := persist.Serialize(w.request(t, jobID))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	w.deliver(persist.Response{JobID: jobID, SessionsJSON: sessions, GlobalJSON: global})
}

type manualIdle struct {
	tasks []func()
}

func (m *manualIdle) RequestIdle(fn func(), timeout time.Duration) {
	m.tasks = append(m.tasks, fn)
}

// stateVersion builds a one-session payload whose single segment id names
// the version, so stored output can be traced back to its Schedule call.
func stateVersion(t *testing.T, version string) persist.SessionsState {
	t.Helper()
	key := session.BuildSessionKey(testsupport.FileRef("talk.mp3"), testsupport.FileRef("talk.json"))
	s := session.Session{
		AudioRef:      testsupport.FileRef("talk.mp3"),
		TranscriptRef: testsupport.FileRef("talk.json"),
		Segments:      testsupport.Segments(t, version),
		Kind:          session.KindCurrent,
	}
	return persist.NewSessionsState(map[session.Key]session.Session{key: s}, key)
}

func storedVersion(t *testing.T, raw string) string {
	t.Helper()
	state, err := persist.DecodeSessions(raw)
	if err != nil {
		t.Fatalf("DecodeSessions: %v", err)
	}
	for _, s := range state.Sessions {
		if len(s.Segments) == 1 {
			return s.Segments[0].ID
		}
	}
	t.Fatalf("no versioned session in %s", raw)
	return ""
}

func newScheduler(t *testing.T, opts persist.Options) *persist.Scheduler {
	t.Helper()
	if opts.Throttle == 0 {
		opts.Throttle = throttle
	}
	s, err := persist.NewScheduler(opts)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func TestCoalescingWritesOnlyLastPayload(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock})

	s.Schedule(stateVersion(t, "v1"), json.RawMessage(`{"v":1}`))
	s.Schedule(stateVersion(t, "v2"), json.RawMessage(`{"v":2}`))
	if clock.PendingTimers() != 1 {
		t.Fatalf("expected a single throttle timer, got %d", clock.PendingTimers())
	}

	clock.Advance(throttle - time.Millisecond)
	if len(backend.sessionWrites()) != 0 {
		t.Fatal("expected nothing written inside the throttle window")
	}
	clock.Advance(time.Millisecond)

	writes := backend.sessionWrites()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(writes))
	}
	if got := storedVersion(t, writes[0]); got != "v2" {
		t.Fatalf("expected v2 to be written, got %s", got)
	}
	global := testsupport.MustGetItem(t, backend, storage.KeyGlobal)
	if global != `{"v":2}` {
		t.Fatalf("unexpected global %s", global)
	}
}

func TestStaleWorkerResponseNeverWrites(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	worker := &scriptedWorker{}
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: worker.factory()})

	s.Schedule(stateVersion(t, "v1"), nil)
	clock.Advance(throttle)
	s.Schedule(stateVersion(t, "v2"), nil)
	clock.Advance(throttle)

	worker.respond(t, 1)
	if len(backend.sessionWrites()) != 0 {
		t.Fatal("stale job 1 response must not write")
	}
	worker.respond(t, 2)
	writes := backend.sessionWrites()
	if len(writes) != 1 || storedVersion(t, writes[0]) != "v2" {
		t.Fatalf("expected job 2 to write v2, got %v", writes)
	}

	stats := s.Stats()
	if stats.StaleDiscarded != 1 || stats.Writes != 1 || stats.JobsIssued != 2 || !stats.WorkerActive {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFlushSyncIsNeverClobberedByLateResponse(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	worker := &scriptedWorker{}
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: worker.factory()})

	s.Schedule(stateVersion(t, "v1"), nil)
	clock.Advance(throttle)
	s.Schedule(stateVersion(t, "v2"), nil)

	if !s.FlushSync() {
		t.Fatal("expected sync flush to succeed")
	}
	if clock.PendingTimers() != 0 {
		t.Fatal("expected sync flush to stop the throttle timer")
	}
	worker.respond(t, 1)
	clock.Advance(10 * throttle)

	writes := backend.sessionWrites()
	if len(writes) != 1 || storedVersion(t, writes[0]) != "v2" {
		t.Fatalf("expected only the flushed v2 write, got %d writes", len(writes))
	}
}

func TestFlushSyncWritesInFlightPayload(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	worker := &scriptedWorker{}
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: worker.factory()})

	s.Schedule(stateVersion(t, "v1"), nil)
	clock.Advance(throttle)
	if !s.FlushSync() {
		t.Fatal("expected sync flush to succeed")
	}
	worker.respond(t, 1)

	writes := backend.sessionWrites()
	if len(writes) != 1 || storedVersion(t, writes[0]) != "v1" {
		t.Fatalf("expected the in-flight payload to be flushed once, got %d writes", len(writes))
	}
	if s.FlushSync() != true || len(backend.sessionWrites()) != 1 {
		t.Fatal("expected an idle flush to be a no-op")
	}
}

func TestFallbackWhenWorkerUnavailable(t *testing.T) {
	cases := map[string]persist.WorkerFactory{
		"nil factory": nil,
		"factory error": func(func(persist.Response)) (persist.Worker, error) {
			return nil, errors.New("no threads here")
		},
		"nil worker": func(func(persist.Response)) (persist.Worker, error) {
			return nil, nil
		},
	}
	for name, factory := range cases {
		t.Run(name, func(t *testing.T) {
			clock := testsupport.NewFakeClock()
			backend := newRecordingBackend(0)
			s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: factory})
			if s.Stats().WorkerActive {
				t.Fatal("expected no active worker")
			}
			s.Schedule(stateVersion(t, "v1"), nil)
			clock.Advance(throttle)
			if writes := backend.sessionWrites(); len(writes) != 1 {
				t.Fatalf("expected fallback write, got %d", len(writes))
			}
			if s.Stats().FallbackRuns != 1 {
				t.Fatalf("expected one fallback run, got %+v", s.Stats())
			}
		})
	}
}

func TestWorkerPostFailureFallsBack(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	worker := &scriptedWorker{postErr: persist.ErrWorkerClosed}
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: worker.factory()})

	s.Schedule(stateVersion(t, "v1"), nil)
	clock.Advance(throttle)
	if len(backend.sessionWrites()) != 1 {
		t.Fatal("expected fallback write after worker rejected the job")
	}
	if s.Stats().WorkerActive {
		t.Fatal("expected rejected worker to be dropped")
	}
}

func TestWorkerErrorForLatestJobFallsBack(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	worker := &scriptedWorker{}
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: worker.factory()})

	s.Schedule(stateVersion(t, "v1"), nil)
	clock.Advance(throttle)
	worker.deliver(persist.Response{JobID: 1, Error: "encode failed"})
	clock.RunDue()

	writes := backend.sessionWrites()
	if len(writes) != 1 || storedVersion(t, writes[0]) != "v1" {
		t.Fatalf("expected fallback to write v1, got %d writes", len(writes))
	}
}

func TestFallbackStalenessWhenCallbacksFireLate(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	idle := &manualIdle{}
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, Idle: idle})

	s.Schedule(stateVersion(t, "v1"), nil)
	clock.Advance(throttle)
	s.Schedule(stateVersion(t, "v2"), nil)
	clock.Advance(throttle)
	if len(idle.tasks) != 2 {
		t.Fatalf("expected two deferred serializations, got %d", len(idle.tasks))
	}

	idle.tasks[1]()
	idle.tasks[0]()

	writes := backend.sessionWrites()
	if len(writes) != 1 || storedVersion(t, writes[0]) != "v2" {
		t.Fatalf("expected only v2 to be written, got %d writes", len(writes))
	}
	if s.Stats().StaleDiscarded != 1 {
		t.Fatalf("expected late job 1 to be discarded, got %+v", s.Stats())
	}
}

func TestQuotaExceededReturnsFalseAndDispatches(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(64)
	bus := events.NewBus()
	var dispatched int
	bus.Subscribe(events.StorageQuotaExceeded, func(events.Event) { dispatched++ })
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, Bus: bus})

	s.Schedule(stateVersion(t, "v1"), nil)
	if s.FlushSync() {
		t.Fatal("expected quota failure to return false")
	}
	if dispatched != 1 {
		t.Fatalf("expected one quota event, got %d", dispatched)
	}
	clock.Advance(10 * throttle)
	if attempts := len(backend.sessionWrites()); attempts != 1 {
		t.Fatalf("expected no retry after quota failure, got %d attempts", attempts)
	}
	if s.Stats().QuotaFailures != 1 {
		t.Fatalf("unexpected stats %+v", s.Stats())
	}
}

func TestLargePayloadWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clock := testsupport.NewFakeClock()
	s := newScheduler(t, persist.Options{
		Backend:               storage.NewMemory(0),
		Clock:                 clock,
		LargePayloadWarnBytes: 16,
		Logger:                logger,
	})

	s.Schedule(stateVersion(t, "v1"), nil)
	if !s.FlushSync() {
		t.Fatal("expected oversized flush to still succeed")
	}
	if !strings.Contains(buf.String(), "persist_large_payload") {
		t.Fatalf("expected large payload warning, got %s", buf.String())
	}
}

func TestJSONWorkerEndToEnd(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: persist.NewJSONWorker})
	defer s.Close()

	s.Schedule(stateVersion(t, "v1"), json.RawMessage(`{ "theme" : "dark" }`))
	clock.Advance(throttle)

	deadline := time.Now().Add(2 * time.Second)
	for len(backend.sessionWrites()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for worker write")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := testsupport.MustGetItem(t, backend, storage.KeyGlobal); got != `{"theme":"dark"}` {
		t.Fatalf("unexpected compacted global %s", got)
	}
}

func TestCloseFlushesAndIgnoresLaterSchedules(t *testing.T) {
	clock := testsupport.NewFakeClock()
	backend := newRecordingBackend(0)
	worker := &scriptedWorker{}
	s := newScheduler(t, persist.Options{Backend: backend, Clock: clock, WorkerFactory: worker.factory()})

	s.Schedule(stateVersion(t, "v1"), nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !worker.closed {
		t.Fatal("expected worker to be closed")
	}
	s.Schedule(stateVersion(t, "v2"), nil)
	clock.Advance(10 * throttle)

	writes := backend.sessionWrites()
	if len(writes) != 1 || storedVersion(t, writes[0]) != "v1" {
		t.Fatalf("expected only the closing flush, got %d writes", len(writes))
	}
}

func TestSerializeRejectsInvalidGlobal(t *testing.T) {
	if _, _, err := persist.Serialize(persist.Request{Global: json.RawMessage(`{broken`)}); err == nil {
		t.Fatal("expected invalid global to fail serialization")
	}
	sessions, global, err := persist.Serialize(persist.Request{})
	if err != nil {
		t.Fatalf("Serialize empty: %v", err)
	}
	if sessions != `{"sessions":{},"activeSessionKey":null}` || global != "{}" {
		t.Fatalf("unexpected empty encoding %s / %s", sessions, global)
	}
}
