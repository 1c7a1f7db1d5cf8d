package api

import (
	"encoding/json"

	"flowscribe/internal/persist"
	"flowscribe/internal/session"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running          bool          `json:"running"`
	PID              int           `json:"pid"`
	RunID            string        `json:"runId"`
	StartedAt        string        `json:"startedAt,omitempty"`
	Ephemeral        bool          `json:"ephemeral"`
	DatabasePath     string        `json:"databasePath,omitempty"`
	LockFilePath     string        `json:"lockFilePath"`
	ActiveSessionKey string        `json:"activeSessionKey,omitempty"`
	SessionCount     int           `json:"sessionCount"`
	UsedBytes        int64         `json:"usedBytes"`
	QuotaBytes       int64         `json:"quotaBytes"`
	Persist          persist.Stats `json:"persist"`
}

// SessionSummary is one row of the recent-sessions view.
type SessionSummary struct {
	Key            string `json:"key"`
	AudioName      string `json:"audioName,omitempty"`
	TranscriptName string `json:"transcriptName,omitempty"`
	SegmentCount   int    `json:"segmentCount"`
	SpeakerCount   int    `json:"speakerCount"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
	Kind           string `json:"kind"`
	Label          string `json:"label,omitempty"`
	BaseSessionKey string `json:"baseSessionKey,omitempty"`
	Active         bool   `json:"active"`
}

// SessionListResponse wraps the recent-sessions view.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// AudioHandle describes the decoded audio the editor holds.
type AudioHandle struct {
	ID       string                 `json:"id"`
	Ref      *session.FileReference `json:"ref"`
	LoadedAt string                 `json:"loadedAt,omitempty"`
}

// SessionView is the active session as the editor renders it.
type SessionView struct {
	Key           string          `json:"key"`
	Session       session.Session `json:"session"`
	HistoryIndex  int             `json:"historyIndex"`
	HistoryLength int             `json:"historyLength"`
	CanUndo       bool            `json:"canUndo"`
	CanRedo       bool            `json:"canRedo"`
	Audio         *AudioHandle    `json:"audio,omitempty"`
}

// SessionResponse wraps the active session. Session is nil when the editor
// is detached.
type SessionResponse struct {
	Session *SessionView `json:"session"`
}

// SessionDetailResponse wraps one cached session by key.
type SessionDetailResponse struct {
	Key     string          `json:"key"`
	Session session.Session `json:"session"`
}

// ActivateRequest selects a cached session. An empty key detaches.
type ActivateRequest struct {
	Key string `json:"key"`
}

// ReferencesRequest switches the files of the editing context. Absent
// fields keep the current reference; an explicit null clears it.
type ReferencesRequest struct {
	Audio      json.RawMessage `json:"audio,omitempty"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
}

// ReferencesResponse reports the key the editor switched to.
type ReferencesResponse struct {
	Key string `json:"key"`
}

// SelectRequest moves the segment selection.
type SelectRequest struct {
	SegmentID string `json:"segmentId"`
}

// TimeRequest moves the playback position.
type TimeRequest struct {
	CurrentTime float64 `json:"currentTime"`
}

// StepResponse reports whether an undo or redo moved the history cursor.
type StepResponse struct {
	Changed bool         `json:"changed"`
	Session *SessionView `json:"session,omitempty"`
}

// RevisionRequest labels a new revision.
type RevisionRequest struct {
	Label string `json:"label"`
}

// RevisionResponse reports the key of a created revision.
type RevisionResponse struct {
	Key string `json:"key"`
}

// AudioRequest registers decoded audio for a file reference.
type AudioRequest struct {
	Ref *session.FileReference `json:"ref"`
}

// PruneResponse lists the ghost sessions removed by a prune.
type PruneResponse struct {
	Removed []string `json:"removed"`
}

// FlushResponse reports the outcome of a synchronous flush.
type FlushResponse struct {
	Flushed bool `json:"flushed"`
}

// NotifyResponse reports whether a test notification was delivered. Sent is
// false when no ntfy topic is configured.
type NotifyResponse struct {
	Sent bool `json:"sent"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
