package history_test

import (
	"encoding/json"
	"testing"

	"flowscribe/internal/history"
	"flowscribe/internal/session"
)

func entry(t *testing.T, ids ...string) history.Entry {
	t.Helper()
	segs := make([]session.Segment, 0, len(ids))
	for _, id := range ids {
		seg, err := session.NewSegment(json.RawMessage(`{"id":"` + id + `"}`))
		if err != nil {
			t.Fatalf("NewSegment: %v", err)
		}
		segs = append(segs, seg)
	}
	return history.Entry{Segments: segs}
}

func ids(e history.Entry) []string {
	out := make([]string, 0, len(e.Segments))
	for _, s := range e.Segments {
		out = append(out, s.ID)
	}
	return out
}

func TestEmptyManager(t *testing.T) {
	m := history.New(0)
	if m.Index() != -1 || m.Len() != 0 {
		t.Fatalf("unexpected empty state: index=%d len=%d", m.Index(), m.Len())
	}
	if m.Cap() != history.DefaultCap {
		t.Fatalf("expected default cap, got %d", m.Cap())
	}
	if _, ok := m.Undo(); ok {
		t.Fatal("expected undo on empty stack to be a no-op")
	}
	if _, ok := m.Redo(); ok {
		t.Fatal("expected redo on empty stack to be a no-op")
	}
	if m.PatchCurrent(func(*history.Entry) {}) {
		t.Fatal("expected patch on empty stack to report false")
	}
}

func TestUndoRedoWalk(t *testing.T) {
	m := history.New(10)
	m.Record(entry(t, "a"))
	m.Record(entry(t, "a", "b"))
	m.Record(entry(t, "a", "b", "c"))

	got, ok := m.Undo()
	if !ok || len(got.Segments) != 2 {
		t.Fatalf("unexpected undo result: %v %v", ids(got), ok)
	}
	got, ok = m.Undo()
	if !ok || len(got.Segments) != 1 {
		t.Fatalf("unexpected second undo: %v %v", ids(got), ok)
	}
	if _, ok := m.Undo(); ok {
		t.Fatal("expected undo at index 0 to be a no-op")
	}
	if m.Index() != 0 {
		t.Fatalf("expected index 0, got %d", m.Index())
	}

	got, ok = m.Redo()
	if !ok || len(got.Segments) != 2 {
		t.Fatalf("unexpected redo: %v %v", ids(got), ok)
	}
	m.Redo()
	if _, ok := m.Redo(); ok {
		t.Fatal("expected redo at tail to be a no-op")
	}
}

func TestRecordAfterUndoDropsRedoBranch(t *testing.T) {
	m := history.New(10)
	m.Record(entry(t, "a"))
	m.Record(entry(t, "b"))
	m.Record(entry(t, "c"))
	m.Undo()
	m.Undo()

	m.Record(entry(t, "x"))
	if m.Len() != 2 || m.Index() != 1 {
		t.Fatalf("expected truncated branch, len=%d index=%d", m.Len(), m.Index())
	}
	if m.CanRedo() {
		t.Fatal("expected no redo after recording")
	}
	cur, _ := m.Current()
	if ids(cur)[0] != "x" {
		t.Fatalf("unexpected current entry %v", ids(cur))
	}
}

func TestCapDropsOldest(t *testing.T) {
	m := history.New(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		m.Record(entry(t, id))
		if m.Len() > m.Cap() {
			t.Fatalf("history length %d exceeds cap", m.Len())
		}
		if m.Index() < -1 || m.Index() > m.Len()-1 {
			t.Fatalf("index %d out of range", m.Index())
		}
	}
	m.Undo()
	m.Undo()
	first, _ := m.Current()
	if ids(first)[0] != "c" {
		t.Fatalf("expected oldest surviving entry c, got %v", ids(first))
	}
}

func TestPatchCurrentDoesNotConsumeSlots(t *testing.T) {
	m := history.New(10)
	m.Record(entry(t, "a", "b"))
	for i := 0; i < 5; i++ {
		m.PatchCurrent(func(e *history.Entry) {
			e.CurrentTime = float64(i)
			e.SelectedSegmentID = "b"
		})
	}
	if m.Len() != 1 {
		t.Fatalf("expected navigation to patch in place, len=%d", m.Len())
	}
	cur, _ := m.Current()
	if cur.CurrentTime != 4 || cur.SelectedSegmentID != "b" {
		t.Fatalf("unexpected patched entry %+v", cur)
	}
}

func TestEntriesAreIsolated(t *testing.T) {
	m := history.New(10)
	e := entry(t, "a")
	m.Record(e)
	e.Segments[0] = entry(t, "mutated").Segments[0]

	cur, _ := m.Current()
	if ids(cur)[0] != "a" {
		t.Fatal("Record aliased the caller's slice")
	}

	var s session.Session
	cur.Apply(&s)
	s.Segments[0] = entry(t, "other").Segments[0]
	again, _ := m.Current()
	if ids(again)[0] != "a" {
		t.Fatal("Apply aliased the stored entry")
	}
}

func TestResetLeavesSingleEntry(t *testing.T) {
	m := history.New(10)
	m.Record(entry(t, "a"))
	m.Record(entry(t, "b"))
	m.Reset(entry(t, "z"))
	if m.Len() != 1 || m.Index() != 0 || m.CanUndo() || m.CanRedo() {
		t.Fatalf("unexpected state after reset: len=%d index=%d", m.Len(), m.Index())
	}
	m.Clear()
	if m.Index() != -1 {
		t.Fatalf("expected cleared index -1, got %d", m.Index())
	}
}

func TestFromSessionCapturesEditableFields(t *testing.T) {
	s := session.Session{
		Segments:                entry(t, "a").Segments,
		Tags:                    []json.RawMessage{json.RawMessage(`{"id":"t1"}`)},
		SelectedSegmentID:       "a",
		CurrentTime:             12.5,
		ConfidenceScoresVersion: 3,
	}
	e := history.FromSession(s)
	if len(e.Tags) != 1 || e.SelectedSegmentID != "a" || e.CurrentTime != 12.5 || e.ConfidenceScoresVersion != 3 {
		t.Fatalf("unexpected entry %+v", e)
	}
}
