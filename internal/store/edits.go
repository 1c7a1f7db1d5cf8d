package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"flowscribe/internal/history"
	"flowscribe/internal/session"
)

// CommitSegments replaces the segment list of the active session.
func (s *Store) CommitSegments(segments []session.Segment) error {
	return s.commit(func(cur *session.Session) {
		cur.Segments = append([]session.Segment(nil), segments...)
		session.RepairSelection(cur)
	})
}

// CommitSpeakers replaces the speaker list of the active session.
func (s *Store) CommitSpeakers(speakers []json.RawMessage) error {
	return s.commit(func(cur *session.Session) {
		cur.Speakers = cloneRaw(speakers)
	})
}

// CommitTags replaces the tag list of the active session.
func (s *Store) CommitTags(tags []json.RawMessage) error {
	return s.commit(func(cur *session.Session) {
		cur.Tags = cloneRaw(tags)
	})
}

// CommitChapters replaces the chapter list of the active session.
func (s *Store) CommitChapters(chapters []json.RawMessage) error {
	return s.commit(func(cur *session.Session) {
		cur.Chapters = cloneRaw(chapters)
	})
}

// SetConfidenceScoresVersion records a new confidence scoring pass.
func (s *Store) SetConfidenceScoresVersion(version int) error {
	return s.commit(func(cur *session.Session) {
		cur.ConfidenceScoresVersion = version
	})
}

// SetWhisperXFormat marks whether the transcript came from WhisperX.
func (s *Store) SetWhisperXFormat(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.touchActivity()
	s.current.IsWhisperXFormat = enabled
	s.writeThroughLocked()
	s.scheduleLocked()
	return nil
}

// commit applies a content edit, records it in history, writes it through
// to the cache and schedules persistence.
func (s *Store) commit(edit func(*session.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.touchActivity()
	if s.key == "" {
		s.setKeyLocked(session.BuildSessionKey(s.current.AudioRef, s.current.TranscriptRef))
		if s.current.Kind == "" {
			s.current.Kind = session.KindCurrent
		}
	}
	if s.history.Len() == 0 {
		s.history.Reset(history.FromSession(s.current))
	}
	edit(&s.current)
	s.current.Touch(s.clock.Now())
	s.history.Record(history.FromSession(s.current))
	s.writeThroughLocked()
	s.scheduleLocked()
	return nil
}

// SelectSegment moves the selection without consuming an undo slot. An empty
// id clears the selection.
func (s *Store) SelectSegment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == "" {
		return ErrNoActiveSession
	}
	if id != "" && !s.current.HasSegment(id) {
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	s.touchActivity()
	s.current.SelectedSegmentID = id
	s.history.PatchCurrent(func(e *history.Entry) { e.SelectedSegmentID = id })
	s.navigateLocked()
	return nil
}

// SetCurrentTime records the playback position without consuming an undo slot.
func (s *Store) SetCurrentTime(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTime, seconds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == "" {
		return ErrNoActiveSession
	}
	s.touchActivity()
	s.current.CurrentTime = seconds
	s.history.PatchCurrent(func(e *history.Entry) { e.CurrentTime = seconds })
	s.navigateLocked()
	return nil
}

// navigateLocked persists navigation state. Revisions keep their snapshot in
// the cache untouched; only the in-memory view moves.
func (s *Store) navigateLocked() {
	if s.current.Kind == session.KindRevision {
		return
	}
	s.writeThroughLocked()
	s.scheduleLocked()
}

// Undo restores the previous history entry. It reports false at the start
// of history.
func (s *Store) Undo() (bool, error) {
	return s.step(s.history.Undo)
}

// Redo restores the next history entry. It reports false at the tail.
func (s *Store) Redo() (bool, error) {
	return s.step(s.history.Redo)
}

func (s *Store) step(move func() (history.Entry, bool)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return false, err
	}
	entry, ok := move()
	if !ok {
		return false, nil
	}
	s.touchActivity()
	entry.Apply(&s.current)
	session.RepairSelection(&s.current)
	s.current.Touch(s.clock.Now())
	s.writeThroughLocked()
	s.scheduleLocked()
	return true, nil
}

func (s *Store) editableLocked() error {
	if s.current.Kind == session.KindRevision {
		return ErrRevisionReadOnly
	}
	return nil
}

func (s *Store) writeThroughLocked() {
	if s.key == "" {
		return
	}
	s.cache.Put(s.key, s.current)
}

// IsUserError reports whether err stems from a bad request rather than a
// failure inside the store.
func IsUserError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrNoActiveSession) ||
		errors.Is(err, ErrRevisionReadOnly) ||
		errors.Is(err, ErrSegmentNotFound) ||
		errors.Is(err, ErrInvalidGlobal) ||
		errors.Is(err, ErrInvalidTime)
}

func cloneRaw(values []json.RawMessage) []json.RawMessage {
	if values == nil {
		return nil
	}
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = append(json.RawMessage(nil), v...)
	}
	return out
}
