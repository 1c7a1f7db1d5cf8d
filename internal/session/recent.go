package session

import (
	"sort"
	"time"
)

// Summary is one row of the recent-sessions view.
type Summary struct {
	Key            Key       `json:"key"`
	AudioName      string    `json:"audioName,omitempty"`
	TranscriptName string    `json:"transcriptName,omitempty"`
	SegmentCount   int       `json:"segmentCount"`
	SpeakerCount   int       `json:"speakerCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Kind           Kind      `json:"kind"`
	Label          string    `json:"label,omitempty"`
	BaseSessionKey Key       `json:"baseSessionKey,omitempty"`
	Active         bool      `json:"active"`
}

// Summarize builds the summary row for s.
func Summarize(key Key, s Session) Summary {
	sum := Summary{
		Key:            key,
		SegmentCount:   len(s.Segments),
		SpeakerCount:   len(s.Speakers),
		UpdatedAt:      s.UpdatedTime(),
		Kind:           s.Kind,
		Label:          s.Label,
		BaseSessionKey: s.BaseSessionKey,
	}
	if sum.Kind == "" {
		sum.Kind = KindCurrent
	}
	if s.AudioRef != nil {
		sum.AudioName = s.AudioRef.Name
	}
	if s.TranscriptRef != nil {
		sum.TranscriptName = s.TranscriptRef.Name
	}
	return sum
}

// RecentSessions lists sessions that hold at least one segment, most recently
// updated first. Ghosts never have segments, so they never appear.
func RecentSessions(c *Cache) []Summary {
	active, _ := c.Active()
	out := make([]Summary, 0, len(c.sessions))
	for key, s := range c.sessions {
		if len(s.Segments) == 0 {
			continue
		}
		sum := Summarize(key, s)
		sum.Active = key == active
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// PruneGhosts deletes ghost sessions from c, sparing the keys in keep (the
// caller passes the active key so an in-progress context is not yanked away).
// It returns the removed keys in ascending order.
func PruneGhosts(c *Cache, keep ...Key) []Key {
	var removed []Key
	for _, key := range c.Keys() {
		if containsKey(keep, key) {
			continue
		}
		if IsGhost(c.sessions[key]) {
			delete(c.sessions, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Persistable returns a deep copy of every non-ghost session, the view that
// is written to durable storage.
func Persistable(c *Cache) map[Key]Session {
	out := make(map[Key]Session, len(c.sessions))
	for key, s := range c.sessions {
		if IsGhost(s) {
			continue
		}
		out[key] = s.Clone()
	}
	return out
}

func containsKey(keys []Key, key Key) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
