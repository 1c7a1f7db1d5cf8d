package store

import (
	"fmt"

	"flowscribe/internal/history"
	"flowscribe/internal/logging"
	"flowscribe/internal/session"
)

// SetAudioReference switches the audio file of the editing context.
func (s *Store) SetAudioReference(ref *session.FileReference) session.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeReferencesLocked(ref, s.current.TranscriptRef)
}

// SetTranscriptReference switches the transcript file of the editing context.
func (s *Store) SetTranscriptReference(ref *session.FileReference) session.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeReferencesLocked(s.current.AudioRef, ref)
}

// SetReferences switches both files at once and returns the resulting key.
func (s *Store) SetReferences(audio, transcript *session.FileReference) session.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeReferencesLocked(audio, transcript)
}

// changeReferencesLocked recomputes the key for the new pair. A cached key is
// activated. Otherwise unsaved segments are promoted under the new key, or an
// empty context is started when there is nothing to carry over.
func (s *Store) changeReferencesLocked(audio, transcript *session.FileReference) session.Key {
	s.touchActivity()
	newKey := session.BuildSessionKey(audio, transcript)
	if s.key != "" && newKey == s.key {
		return s.key
	}

	switch {
	case s.cache.Has(newKey):
		s.activateLocked(newKey)
	case len(s.current.Segments) > 0:
		promoted := s.current.Clone()
		promoted.AudioRef = audio.Clone()
		promoted.TranscriptRef = transcript.Clone()
		promoted.Kind = session.KindCurrent
		promoted.Label = ""
		promoted.BaseSessionKey = ""
		promoted.Touch(s.clock.Now())
		s.cache.Put(newKey, promoted)
		s.current = promoted
		s.setKeyLocked(newKey)
		s.logger.Info("promoted unsaved edits to new session",
			logging.String(logging.FieldSessionKey, string(newKey)),
			logging.Int("segments", len(promoted.Segments)))
	default:
		fresh := session.Session{
			AudioRef:      audio.Clone(),
			TranscriptRef: transcript.Clone(),
			Kind:          session.KindCurrent,
		}
		fresh.Touch(s.clock.Now())
		s.cache.Put(newKey, fresh)
		s.current = fresh
		s.setKeyLocked(newKey)
		s.history.Reset(history.FromSession(fresh))
	}

	if s.audio != nil && !s.audio.Ref.Equal(s.current.AudioRef) {
		s.clearAudioLocked()
	}
	s.scheduleLocked()
	return s.key
}

// ActivateSession loads the cached session under key verbatim, repairs a
// dangling selection and resets undo history. The loaded audio handle is
// dropped before returning when the session uses a different audio file.
func (s *Store) ActivateSession(key session.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Has(key) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	s.touchActivity()
	s.activateLocked(key)
	s.scheduleLocked()
	return nil
}

func (s *Store) activateLocked(key session.Key) {
	sess, _ := s.cache.Get(key)
	if session.RepairSelection(&sess) {
		s.cache.Put(key, sess)
	}
	s.current = sess
	s.setKeyLocked(key)
	s.history.Reset(history.FromSession(sess))

	if s.audio != nil && !s.audio.Ref.Equal(sess.AudioRef) {
		s.clearAudioLocked()
	}
	s.logger.Debug("activated session", logging.String(logging.FieldSessionKey, string(key)))
}

func (s *Store) setKeyLocked(key session.Key) {
	s.key = key
	s.cache.SetActive(key)
}

// detachLocked leaves the editor with no active session.
func (s *Store) detachLocked() {
	s.key = ""
	s.cache.SetActive("")
	s.current = session.Session{}
	s.history.Clear()
}

// CreateRevision snapshots the active session as an immutable revision and
// returns its key. The active session stays the same.
func (s *Store) CreateRevision(label string) (session.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == "" {
		return "", ErrNoActiveSession
	}
	baseKey := s.key.Base()
	if s.current.Kind == session.KindRevision && s.current.BaseSessionKey != "" {
		baseKey = s.current.BaseSessionKey
	}
	revKey, rev := session.NewRevision(baseKey, s.current, label, s.clock.Now())
	s.cache.Put(revKey, rev)
	s.logger.Info("created revision",
		logging.String(logging.FieldSessionKey, string(revKey)),
		logging.String("label", rev.Label))
	s.scheduleLocked()
	return revKey, nil
}

// DeleteSession removes key from the cache. Deleting the active session
// detaches the editor and drops the loaded audio.
func (s *Store) DeleteSession(key session.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Delete(key) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	if key == s.key {
		s.detachLocked()
		if s.audio != nil {
			s.clearAudioLocked()
		}
	}
	s.scheduleLocked()
	return nil
}

// PruneGhosts removes every ghost except the active session and returns the
// removed keys.
func (s *Store) PruneGhosts() []session.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := session.PruneGhosts(s.cache, s.key)
	if len(removed) > 0 {
		s.scheduleLocked()
	}
	return removed
}
