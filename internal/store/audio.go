package store

import (
	"time"

	"github.com/google/uuid"

	"flowscribe/internal/logging"
	"flowscribe/internal/session"
)

// AudioHandle identifies decoded audio the editor currently holds.
type AudioHandle struct {
	ID       string                 `json:"id"`
	Ref      *session.FileReference `json:"ref"`
	LoadedAt time.Time              `json:"loadedAt"`
}

func (h AudioHandle) clone() AudioHandle {
	h.Ref = h.Ref.Clone()
	return h
}

// LoadAudio registers decoded audio for ref and returns its handle. Any
// previously loaded handle is replaced.
func (s *Store) LoadAudio(ref *session.FileReference) AudioHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := AudioHandle{ID: uuid.NewString(), Ref: ref.Clone(), LoadedAt: s.clock.Now()}
	s.audio = &h
	s.logger.Debug("audio loaded",
		logging.String("audio_handle", h.ID),
		logging.String(logging.FieldSessionKey, string(s.key)))
	return h.clone()
}

// LoadedAudio returns the loaded audio handle, if any.
func (s *Store) LoadedAudio() (AudioHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		return AudioHandle{}, false
	}
	return s.audio.clone(), true
}

// UnloadAudio drops the loaded audio handle.
func (s *Store) UnloadAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio != nil {
		s.clearAudioLocked()
	}
}

func (s *Store) clearAudioLocked() {
	prev := *s.audio
	s.audio = nil
	s.logger.Debug("audio handle cleared", logging.String("audio_handle", prev.ID))
	if s.onAudioCleared != nil {
		s.onAudioCleared(prev.clone())
	}
}
