package daemon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"flowscribe/internal/config"
	"flowscribe/internal/daemon"
	"flowscribe/internal/logging"
	"flowscribe/internal/notifications"
	"flowscribe/internal/session"
	"flowscribe/internal/storage"
	"flowscribe/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	seen   chan notifications.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{seen: make(chan notifications.Event, 16)}
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	n.seen <- event
	return nil
}

func (n *recordingNotifier) waitFor(t *testing.T, want notifications.Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-n.seen:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", want)
		}
	}
}

func newDaemon(t *testing.T, cfg *config.Config, opts daemon.Options) *daemon.Daemon {
	t.Helper()
	if opts.Notifier == nil {
		opts.Notifier = newRecordingNotifier()
	}
	d, err := daemon.New(cfg, logging.NewNop(), opts)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, daemon.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected database path %q", status.DatabasePath)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected API to be listening")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddr() != "" {
		t.Fatal("expected API to stop listening")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg, daemon.Options{})
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start first: %v", err)
	}

	second := newDaemon(t, cfg, daemon.Options{})
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected the instance lock to reject a second daemon")
	}
}

func TestDaemonPersistsAcrossRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first := newDaemon(t, cfg, daemon.Options{})
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := first.Store()
	key := st.SetReferences(testsupport.FileRef("talk.wav"), testsupport.FileRef("talk.json"))
	if err := st.CommitSegments(testsupport.Segments(t, "s1", "s2")); err != nil {
		t.Fatalf("CommitSegments: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newDaemon(t, cfg, daemon.Options{})
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after restart: %v", err)
	}
	if got := second.Store().ActiveSessionKey(); got != key {
		t.Fatalf("expected active key %q after restart, got %q", key, got)
	}
	view, ok := second.Store().CurrentSession()
	if !ok || len(view.Session.Segments) != 2 {
		t.Fatalf("expected restored segments, got %+v", view.Session.Segments)
	}
}

func TestCloseWithoutStartLeavesStoredStateAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStorage(t, cfg)
	const stored = `{"sessions":{},"activeSessionKey":"audio:kept|transcript:none"}`
	if err := db.SetItem(context.Background(), storage.KeySessions, stored); err != nil {
		t.Fatalf("seed: %v", err)
	}

	d := newDaemon(t, cfg, daemon.Options{})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := testsupport.MustGetItem(t, db, storage.KeySessions); got != stored {
		t.Fatalf("expected stored sessions untouched, got %s", got)
	}
}

func TestEphemeralDaemonKeepsNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, daemon.Options{Ephemeral: true})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Store().SetReferences(testsupport.FileRef("a.wav"), nil)
	if err := d.Store().CommitSegments(testsupport.Segments(t, "s1")); err != nil {
		t.Fatalf("CommitSegments: %v", err)
	}
	status := d.Status(context.Background())
	if !status.Ephemeral || status.DatabasePath != "" {
		t.Fatalf("unexpected ephemeral status %+v", status)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := testsupport.MustOpenStorage(t, cfg)
	if _, ok, err := db.GetItem(context.Background(), storage.KeySessions); err != nil || ok {
		t.Fatalf("expected nothing on disk, ok=%v err=%v", ok, err)
	}
}

func TestQuotaExceededNotifies(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQuota(256))
	notifier := newRecordingNotifier()
	d := newDaemon(t, cfg, daemon.Options{Notifier: notifier})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := d.Store()
	st.SetReferences(testsupport.FileRef("long-recording.wav"), testsupport.FileRef("long-recording.json"))
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		ids = append(ids, string(rune('a'+i)))
	}
	if err := st.CommitSegments(testsupport.Segments(t, ids...)); err != nil {
		t.Fatalf("CommitSegments: %v", err)
	}
	if st.Flush() {
		t.Fatal("expected flush to fail against a tiny quota")
	}
	notifier.waitFor(t, notifications.EventStorageQuotaExceeded)

	if got := d.Status(context.Background()).Persist.QuotaFailures; got == 0 {
		t.Fatal("expected quota failure to be counted")
	}
}

func TestRevisionKeysSurviveRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first := newDaemon(t, cfg, daemon.Options{})
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first.Store().SetReferences(testsupport.FileRef("a.wav"), nil)
	if err := first.Store().CommitSegments(testsupport.Segments(t, "s1")); err != nil {
		t.Fatalf("CommitSegments: %v", err)
	}
	revKey, err := first.Store().CreateRevision("draft")
	if err != nil {
		t.Fatalf("CreateRevision: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newDaemon(t, cfg, daemon.Options{})
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rev, err := second.Store().Session(revKey)
	if err != nil {
		t.Fatalf("Session(%s): %v", revKey, err)
	}
	if rev.Kind != session.KindRevision || rev.Label != "draft" {
		t.Fatalf("unexpected revision %+v", rev)
	}
}
