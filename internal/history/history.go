package history

import (
	"encoding/json"

	"flowscribe/internal/session"
)

// DefaultCap is the number of entries kept when New is given a non-positive cap.
const DefaultCap = 100

// Entry is an immutable snapshot of the editable fields of a session.
type Entry struct {
	Segments                []session.Segment
	Speakers                []json.RawMessage
	Tags                    []json.RawMessage
	Chapters                []json.RawMessage
	SelectedSegmentID       string
	CurrentTime             float64
	ConfidenceScoresVersion int
}

// FromSession captures the editable fields of s.
func FromSession(s session.Session) Entry {
	return Entry{
		Segments:                append([]session.Segment(nil), s.Segments...),
		Speakers:                append([]json.RawMessage(nil), s.Speakers...),
		Tags:                    append([]json.RawMessage(nil), s.Tags...),
		Chapters:                append([]json.RawMessage(nil), s.Chapters...),
		SelectedSegmentID:       s.SelectedSegmentID,
		CurrentTime:             s.CurrentTime,
		ConfidenceScoresVersion: s.ConfidenceScoresVersion,
	}
}

// Apply writes the snapshot's fields onto s.
func (e Entry) Apply(s *session.Session) {
	c := e.clone()
	s.Segments = c.Segments
	s.Speakers = c.Speakers
	s.Tags = c.Tags
	s.Chapters = c.Chapters
	s.SelectedSegmentID = c.SelectedSegmentID
	s.CurrentTime = c.CurrentTime
	s.ConfidenceScoresVersion = c.ConfidenceScoresVersion
}

func (e Entry) clone() Entry {
	e.Segments = append([]session.Segment(nil), e.Segments...)
	e.Speakers = append([]json.RawMessage(nil), e.Speakers...)
	e.Tags = append([]json.RawMessage(nil), e.Tags...)
	e.Chapters = append([]json.RawMessage(nil), e.Chapters...)
	return e
}

// Manager is the undo/redo stack. The index is -1 only while the stack is
// empty; otherwise it names the entry that reflects the editor's state.
// Manager is not safe for concurrent use.
type Manager struct {
	entries []Entry
	index   int
	cap     int
}

// New returns an empty stack holding at most maxEntries snapshots.
func New(maxEntries int) *Manager {
	if maxEntries <= 0 {
		maxEntries = DefaultCap
	}
	return &Manager{index: -1, cap: maxEntries}
}

// Record appends a snapshot after the current index, discarding any redo
// branch, then trims the oldest entries beyond the cap.
func (m *Manager) Record(e Entry) {
	m.entries = append(m.entries[:m.index+1], e.clone())
	if overflow := len(m.entries) - m.cap; overflow > 0 {
		m.entries = append([]Entry(nil), m.entries[overflow:]...)
	}
	m.index = len(m.entries) - 1
}

// Reset replaces the stack with a single entry.
func (m *Manager) Reset(e Entry) {
	m.entries = []Entry{e.clone()}
	m.index = 0
}

// Clear empties the stack.
func (m *Manager) Clear() {
	m.entries = nil
	m.index = -1
}

// Undo steps back one entry and returns the snapshot to restore. It is a
// no-op at the first entry.
func (m *Manager) Undo() (Entry, bool) {
	if !m.CanUndo() {
		return Entry{}, false
	}
	m.index--
	return m.entries[m.index].clone(), true
}

// Redo steps forward one entry. It is a no-op at the tail.
func (m *Manager) Redo() (Entry, bool) {
	if !m.CanRedo() {
		return Entry{}, false
	}
	m.index++
	return m.entries[m.index].clone(), true
}

// PatchCurrent edits the current entry in place. It reports false when the
// stack is empty.
func (m *Manager) PatchCurrent(patch func(*Entry)) bool {
	if m.index < 0 {
		return false
	}
	e := m.entries[m.index].clone()
	patch(&e)
	m.entries[m.index] = e
	return true
}

// Current returns the entry at the index.
func (m *Manager) Current() (Entry, bool) {
	if m.index < 0 {
		return Entry{}, false
	}
	return m.entries[m.index].clone(), true
}

func (m *Manager) CanUndo() bool { return m.index > 0 }

func (m *Manager) CanRedo() bool { return m.index >= 0 && m.index < len(m.entries)-1 }

func (m *Manager) Index() int { return m.index }

func (m *Manager) Len() int { return len(m.entries) }

func (m *Manager) Cap() int { return m.cap }
