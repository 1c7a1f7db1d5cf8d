package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Kind distinguishes the live editing session from immutable revisions.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindRevision Kind = "revision"
)

// Segment is an opaque transcript segment. Only its id is interpreted; the
// full JSON object round-trips untouched. Segments are immutable values:
// editors replace a segment instead of modifying its bytes.
type Segment struct {
	ID  string
	raw json.RawMessage
}

// NewSegment wraps a raw JSON object; the id is read from its "id" field.
func NewSegment(raw json.RawMessage) (Segment, error) {
	var seg Segment
	if err := seg.UnmarshalJSON(raw); err != nil {
		return Segment{}, err
	}
	if seg.raw == nil {
		return Segment{}, errors.New("segment must be a JSON object")
	}
	return seg, nil
}

// Raw returns the segment's JSON encoding.
func (s Segment) Raw() json.RawMessage {
	return s.raw
}

func (s Segment) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return json.Marshal(struct {
			ID string `json:"id"`
		}{s.ID})
	}
	return s.raw, nil
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "null" {
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("segment must be a JSON object")
	}
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return err
	}
	s.ID = segmentID(probe.ID)
	s.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

func segmentID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		if unquoted, err := strconv.Unquote(string(raw)); err == nil {
			return unquoted
		}
	}
	return string(raw)
}

// Session is one editing context: the file references it belongs to plus
// everything the editor persists for it.
type Session struct {
	AudioRef                *FileReference    `json:"audioRef"`
	TranscriptRef           *FileReference    `json:"transcriptRef"`
	Segments                []Segment         `json:"segments"`
	Speakers                []json.RawMessage `json:"speakers"`
	Tags                    []json.RawMessage `json:"tags"`
	Chapters                []json.RawMessage `json:"chapters"`
	SelectedSegmentID       string            `json:"selectedSegmentId"`
	CurrentTime             float64           `json:"currentTime"`
	IsWhisperXFormat        bool              `json:"isWhisperXFormat"`
	ConfidenceScoresVersion int               `json:"confidenceScoresVersion"`
	UpdatedAt               int64             `json:"updatedAt"`
	Kind                    Kind              `json:"kind"`
	Label                   string            `json:"label,omitempty"`
	BaseSessionKey          Key               `json:"baseSessionKey,omitempty"`
}

// Clone returns a copy that shares no slices with s.
func (s Session) Clone() Session {
	cp := s
	cp.AudioRef = s.AudioRef.Clone()
	cp.TranscriptRef = s.TranscriptRef.Clone()
	cp.Segments = append([]Segment(nil), s.Segments...)
	cp.Speakers = cloneRaw(s.Speakers)
	cp.Tags = cloneRaw(s.Tags)
	cp.Chapters = cloneRaw(s.Chapters)
	return cp
}

func cloneRaw(values []json.RawMessage) []json.RawMessage {
	if values == nil {
		return nil
	}
	return append([]json.RawMessage(nil), values...)
}

// Touch stamps UpdatedAt with now in epoch milliseconds.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UnixMilli()
}

// UpdatedTime returns UpdatedAt as a time.Time.
func (s Session) UpdatedTime() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}

// HasSegment reports whether a segment with id is present.
func (s Session) HasSegment(id string) bool {
	for _, seg := range s.Segments {
		if seg.ID == id {
			return true
		}
	}
	return false
}

// RepairSelection points SelectedSegmentID at the first segment when it names
// a segment that is no longer present. It reports whether anything changed.
func RepairSelection(s *Session) bool {
	if s.SelectedSegmentID == "" || s.HasSegment(s.SelectedSegmentID) {
		return false
	}
	if len(s.Segments) > 0 {
		s.SelectedSegmentID = s.Segments[0].ID
	} else {
		s.SelectedSegmentID = ""
	}
	return true
}

// IsGhost reports whether s has neither a transcript reference nor segments.
// Ghosts appear transiently when audio is switched before a transcript is
// attached and are never persisted.
func IsGhost(s Session) bool {
	return s.TranscriptRef == nil && len(s.Segments) == 0
}
