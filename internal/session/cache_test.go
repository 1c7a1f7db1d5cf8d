package session_test

import (
	"testing"
	"time"

	"flowscribe/internal/session"
)

func TestCacheIsolatesStoredValues(t *testing.T) {
	c := session.NewCache()
	key := session.BuildSessionKey(ref("a.mp3"), ref("a.json"))
	s := session.Session{Segments: segments(t, "a")}
	c.Put(key, s)

	s.Segments[0] = segments(t, "mutated")[0]
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected cached session")
	}
	if got.Segments[0].ID != "a" {
		t.Fatal("Put aliased the caller's slice")
	}

	got.Segments[0] = segments(t, "mutated")[0]
	again, _ := c.Get(key)
	if again.Segments[0].ID != "a" {
		t.Fatal("Get aliased the cached slice")
	}
}

func TestCacheDeleteClearsActive(t *testing.T) {
	c := session.NewCache()
	key := session.BuildSessionKey(ref("a.mp3"), nil)
	c.Put(key, session.Session{})
	c.SetActive(key)

	if !c.Delete(key) {
		t.Fatal("expected delete to report removal")
	}
	if _, ok := c.Active(); ok {
		t.Fatal("expected active pointer to be cleared")
	}
	if c.Delete(key) {
		t.Fatal("expected second delete to be a no-op")
	}
}

func TestRecentSessionsSortedAndFiltered(t *testing.T) {
	c := session.NewCache()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	older := session.BuildSessionKey(ref("old.mp3"), ref("old.json"))
	newer := session.BuildSessionKey(ref("new.mp3"), ref("new.json"))
	ghost := session.BuildSessionKey(ref("ghost.mp3"), nil)
	empty := session.BuildSessionKey(ref("empty.mp3"), ref("empty.json"))

	c.Put(older, session.Session{AudioRef: ref("old.mp3"), Segments: segments(t, "a"), UpdatedAt: base.UnixMilli()})
	c.Put(newer, session.Session{AudioRef: ref("new.mp3"), Segments: segments(t, "a", "b"), UpdatedAt: base.Add(time.Hour).UnixMilli()})
	c.Put(ghost, session.Session{AudioRef: ref("ghost.mp3"), UpdatedAt: base.Add(2 * time.Hour).UnixMilli()})
	c.Put(empty, session.Session{TranscriptRef: ref("empty.json"), UpdatedAt: base.Add(3 * time.Hour).UnixMilli()})
	c.SetActive(older)

	recent := session.RecentSessions(c)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent sessions, got %d: %+v", len(recent), recent)
	}
	if recent[0].Key != newer || recent[1].Key != older {
		t.Fatalf("unexpected order: %q, %q", recent[0].Key, recent[1].Key)
	}
	if !recent[1].Active || recent[0].Active {
		t.Fatal("expected only the active session to be flagged")
	}
	if recent[0].SegmentCount != 2 || recent[0].AudioName != "new.mp3" || recent[0].Kind != session.KindCurrent {
		t.Fatalf("unexpected summary: %+v", recent[0])
	}
}

func TestPruneGhostsSparesKeptKeys(t *testing.T) {
	c := session.NewCache()
	ghostA := session.BuildSessionKey(ref("a.mp3"), nil)
	ghostB := session.BuildSessionKey(ref("b.mp3"), nil)
	real := session.BuildSessionKey(ref("c.mp3"), ref("c.json"))
	c.Put(ghostA, session.Session{AudioRef: ref("a.mp3")})
	c.Put(ghostB, session.Session{AudioRef: ref("b.mp3")})
	c.Put(real, session.Session{TranscriptRef: ref("c.json")})

	removed := session.PruneGhosts(c, ghostB)
	if len(removed) != 1 || removed[0] != ghostA {
		t.Fatalf("unexpected removed keys: %v", removed)
	}
	if !c.Has(ghostB) || !c.Has(real) || c.Has(ghostA) {
		t.Fatalf("unexpected cache contents: %v", c.Keys())
	}

	persisted := session.Persistable(c)
	if _, ok := persisted[ghostB]; ok {
		t.Fatal("expected kept ghost to be excluded from the persisted view")
	}
	if _, ok := persisted[real]; !ok {
		t.Fatal("expected real session in persisted view")
	}
}
