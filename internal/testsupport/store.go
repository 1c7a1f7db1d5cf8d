package testsupport

import (
	"context"
	"testing"

	"flowscribe/internal/config"
	"flowscribe/internal/persist"
	"flowscribe/internal/session"
	"flowscribe/internal/storage"
)

// MustOpenStorage opens the SQLite session database for tests and registers cleanup.
func MustOpenStorage(t testing.TB, cfg *config.Config) *storage.SQLite {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	db, err := storage.OpenSQLite(cfg.DatabasePath(), cfg.Storage.QuotaBytes)
	if err != nil {
		t.Fatalf("storage.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// MustGetItem reads key from backend and fails the test when it is missing.
func MustGetItem(t testing.TB, backend storage.Backend, key string) string {
	t.Helper()

	value, ok, err := backend.GetItem(context.Background(), key)
	if err != nil {
		t.Fatalf("GetItem(%s): %v", key, err)
	}
	if !ok {
		t.Fatalf("expected %s to be stored", key)
	}
	return value
}

// SeedSessions stores one single-segment session per audio name, the first
// one active, and returns their keys.
func SeedSessions(t testing.TB, backend storage.Backend, audioNames ...string) []session.Key {
	t.Helper()

	sessions := make(map[session.Key]session.Session, len(audioNames))
	keys := make([]session.Key, 0, len(audioNames))
	for _, name := range audioNames {
		ref := FileRef(name)
		key := session.BuildSessionKey(ref, nil)
		sessions[key] = session.Session{AudioRef: ref, Segments: Segments(t, "s1")}
		keys = append(keys, key)
	}
	var active session.Key
	if len(keys) > 0 {
		active = keys[0]
	}
	raw, _, err := persist.Serialize(persist.Request{Sessions: persist.NewSessionsState(sessions, active)})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if err := backend.SetItem(context.Background(), storage.KeySessions, raw); err != nil {
		t.Fatalf("seed sessions: %v", err)
	}
	return keys
}
