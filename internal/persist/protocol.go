package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"flowscribe/internal/session"
)

// SessionsState is the value stored under storage.KeySessions.
type SessionsState struct {
	Sessions         map[session.Key]session.Session `json:"sessions"`
	ActiveSessionKey *session.Key                    `json:"activeSessionKey"`
}

// NewSessionsState builds a state snapshot. An empty active key encodes as null.
func NewSessionsState(sessions map[session.Key]session.Session, active session.Key) SessionsState {
	state := SessionsState{Sessions: sessions}
	if active != "" {
		key := active
		state.ActiveSessionKey = &key
	}
	return state
}

// Active returns the active key, or "" when none is recorded.
func (s SessionsState) Active() session.Key {
	if s.ActiveSessionKey == nil {
		return ""
	}
	return *s.ActiveSessionKey
}

// Request is posted to the serialization worker. The payload is a snapshot
// owned by the request; nothing else mutates it after posting.
type Request struct {
	JobID    uint64          `json:"jobId"`
	Sessions SessionsState   `json:"sessions"`
	Global   json.RawMessage `json:"global"`
}

// Response is echoed by the worker for every request.
type Response struct {
	JobID        uint64 `json:"jobId"`
	SessionsJSON string `json:"sessionsJson"`
	GlobalJSON   string `json:"globalJson"`
	Error        string `json:"error,omitempty"`
}

var errInvalidGlobal = errors.New("global payload is not valid JSON")

// Serialize encodes a request into the strings written to storage.
func Serialize(req Request) (sessionsJSON, globalJSON string, err error) {
	state := req.Sessions
	if state.Sessions == nil {
		state.Sessions = map[session.Key]session.Session{}
	}
	sessions, err := json.Marshal(state)
	if err != nil {
		return "", "", fmt.Errorf("encode sessions: %w", err)
	}
	global, err := encodeGlobal(req.Global)
	if err != nil {
		return "", "", err
	}
	return string(sessions), global, nil
}

func encodeGlobal(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "{}", nil
	}
	if !json.Valid(trimmed) {
		return "", errInvalidGlobal
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("encode global: %w", err)
	}
	return buf.String(), nil
}

// DecodeSessions parses a stored sessions value.
func DecodeSessions(raw string) (SessionsState, error) {
	var state SessionsState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return SessionsState{}, err
	}
	if state.Sessions == nil {
		state.Sessions = map[session.Key]session.Session{}
	}
	return state, nil
}
