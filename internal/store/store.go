package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"flowscribe/internal/history"
	"flowscribe/internal/logging"
	"flowscribe/internal/persist"
	"flowscribe/internal/session"
	"flowscribe/internal/storage"
)

var (
	// ErrSessionNotFound reports an unknown session key.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoActiveSession reports an edit with no session loaded.
	ErrNoActiveSession = errors.New("no active session")
	// ErrRevisionReadOnly reports an edit against a revision.
	ErrRevisionReadOnly = errors.New("revisions are read-only")
	// ErrSegmentNotFound reports a selection of a segment that does not exist.
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrInvalidGlobal reports a global payload that is not valid JSON.
	ErrInvalidGlobal = errors.New("global settings must be valid JSON")
	// ErrInvalidTime reports a negative or non-finite playback position.
	ErrInvalidTime = errors.New("invalid playback time")
)

// Persister receives persistence payloads. *persist.Scheduler implements it.
type Persister interface {
	Schedule(sessions persist.SessionsState, global json.RawMessage)
	FlushSync() bool
	Close() error
}

// Activity is notified on every mutation. *persist.IdleRunner implements it.
type Activity interface {
	Busy()
}

// Options configures a Store. Persister is required.
type Options struct {
	Persister  Persister
	HistoryCap int
	Clock      persist.Clock
	Activity   Activity
	Logger     *slog.Logger
	// OnAudioCleared runs synchronously, under the store lock, when the
	// loaded audio handle is dropped. It must not call back into the Store.
	OnAudioCleared func(AudioHandle)
}

// Store is the Store Context.
type Store struct {
	persister      Persister
	clock          persist.Clock
	activity       Activity
	logger         *slog.Logger
	onAudioCleared func(AudioHandle)

	mu      sync.Mutex
	cache   *session.Cache
	key     session.Key
	current session.Session
	history *history.Manager
	global  json.RawMessage
	audio   *AudioHandle
}

// New builds an empty Store. Call Hydrate to load persisted state.
func New(opts Options) (*Store, error) {
	if opts.Persister == nil {
		return nil, errors.New("store: persister required")
	}
	s := &Store{
		persister:      opts.Persister,
		clock:          opts.Clock,
		activity:       opts.Activity,
		logger:         logging.NewComponentLogger(opts.Logger, "store"),
		onAudioCleared: opts.OnAudioCleared,
		cache:          session.NewCache(),
		history:        history.New(opts.HistoryCap),
	}
	if s.clock == nil {
		s.clock = persist.SystemClock()
	}
	return s, nil
}

// Hydrate loads persisted sessions and global settings from backend,
// replacing in-memory state. Malformed stored JSON is treated as no prior
// state; only backend failures are returned.
func (s *Store) Hydrate(ctx context.Context, backend storage.Backend) error {
	rawSessions, ok, err := backend.GetItem(ctx, storage.KeySessions)
	if err != nil {
		return fmt.Errorf("read sessions: %w", err)
	}
	state := persist.SessionsState{Sessions: map[session.Key]session.Session{}}
	if ok {
		decoded, decodeErr := persist.DecodeSessions(rawSessions)
		if decodeErr != nil {
			logging.WarnWithContext(s.logger, "stored sessions unreadable; starting empty", "hydrate_sessions_malformed",
				logging.Error(decodeErr),
				logging.String(logging.FieldErrorHint, "the next save overwrites the unreadable value"),
				logging.String(logging.FieldImpact, "previously saved sessions are not restored"))
		} else {
			state = decoded
		}
	}

	rawGlobal, ok, err := backend.GetItem(ctx, storage.KeyGlobal)
	if err != nil {
		return fmt.Errorf("read global settings: %w", err)
	}
	var global json.RawMessage
	if ok {
		if json.Valid([]byte(rawGlobal)) {
			global = json.RawMessage(rawGlobal)
		} else {
			logging.WarnWithContext(s.logger, "stored global settings unreadable; using defaults", "hydrate_global_malformed",
				logging.String(logging.FieldErrorHint, "the next save overwrites the unreadable value"),
				logging.String(logging.FieldImpact, "editor settings reset to defaults"))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Replace(state.Sessions)
	s.global = global
	s.detachLocked()
	if active := state.Active(); active != "" && s.cache.Has(active) {
		s.activateLocked(active)
	}
	s.logger.Info("hydrated sessions",
		logging.Int("sessions", s.cache.Len()),
		logging.String(logging.FieldSessionKey, string(s.key)))
	return nil
}

// SchedulePersist hands the current sessions and global settings to the
// persister. Ghost sessions other than the active one are pruned first.
func (s *Store) SchedulePersist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked()
}

func (s *Store) scheduleLocked() {
	if removed := session.PruneGhosts(s.cache, s.key); len(removed) > 0 {
		s.logger.Debug("pruned ghost sessions", logging.Int("count", len(removed)))
	}
	state := persist.NewSessionsState(session.Persistable(s.cache), s.key)
	var global json.RawMessage
	if s.global != nil {
		global = append(json.RawMessage(nil), s.global...)
	}
	s.persister.Schedule(state, global)
}

// SessionsCache returns a deep copy of every cached session.
func (s *Store) SessionsCache() map[session.Key]session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Snapshot()
}

// SessionCount returns the number of cached sessions, ghosts included.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// SetSessionsCache replaces the cache wholesale. When the active key is no
// longer cached the store detaches from it; otherwise the active session is
// reloaded from the new value.
func (s *Store) SetSessionsCache(sessions map[session.Key]session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Replace(sessions)
	if s.key == "" {
		return
	}
	if s.cache.Has(s.key) {
		s.activateLocked(s.key)
	} else {
		s.detachLocked()
	}
	s.scheduleLocked()
}

// ActiveSessionKey returns the active key, or "" when nothing is loaded.
func (s *Store) ActiveSessionKey() session.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// SetActiveSessionKey activates key. An empty key detaches the editor from
// any session.
func (s *Store) SetActiveSessionKey(key session.Key) error {
	if key == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.detachLocked()
		s.scheduleLocked()
		return nil
	}
	return s.ActivateSession(key)
}

// UpdateRecentSessions prunes ghosts and returns the recent-sessions view.
func (s *Store) UpdateRecentSessions() []session.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.PruneGhosts(s.cache, s.key)
	return session.RecentSessions(s.cache)
}

// View is the editor-facing state of the active session.
type View struct {
	Key           session.Key     `json:"key"`
	Session       session.Session `json:"session"`
	HistoryIndex  int             `json:"historyIndex"`
	HistoryLength int             `json:"historyLength"`
	CanUndo       bool            `json:"canUndo"`
	CanRedo       bool            `json:"canRedo"`
	Audio         *AudioHandle    `json:"audio,omitempty"`
}

// CurrentSession returns the active session. ok is false when nothing is loaded.
func (s *Store) CurrentSession() (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(), s.key != ""
}

func (s *Store) viewLocked() View {
	v := View{
		Key:           s.key,
		Session:       s.current.Clone(),
		HistoryIndex:  s.history.Index(),
		HistoryLength: s.history.Len(),
		CanUndo:       s.history.CanUndo(),
		CanRedo:       s.history.CanRedo(),
	}
	if s.audio != nil {
		h := s.audio.clone()
		v.Audio = &h
	}
	return v
}

// Session returns a copy of the cached session under key.
func (s *Store) Session(key session.Key) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.cache.Get(key)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return sess, nil
}

// Global returns the global settings blob.
func (s *Store) Global() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.global == nil {
		return json.RawMessage("{}")
	}
	return append(json.RawMessage(nil), s.global...)
}

// SetGlobal replaces the global settings blob and schedules persistence.
func (s *Store) SetGlobal(raw json.RawMessage) error {
	if !json.Valid(raw) {
		return ErrInvalidGlobal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchActivity()
	s.global = append(json.RawMessage(nil), raw...)
	s.scheduleLocked()
	return nil
}

// Flush schedules the latest state and writes it synchronously. It returns
// false when the write failed (for example on quota exhaustion).
func (s *Store) Flush() bool {
	s.SchedulePersist()
	return s.persister.FlushSync()
}

// Close flushes and stops the persister.
func (s *Store) Close() error {
	s.SchedulePersist()
	return s.persister.Close()
}

func (s *Store) touchActivity() {
	if s.activity != nil {
		s.activity.Busy()
	}
}
