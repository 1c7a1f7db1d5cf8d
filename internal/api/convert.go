package api

import (
	"time"

	"flowscribe/internal/session"
	"flowscribe/internal/store"
)

// FromSummary converts a recent-sessions row into its transport form.
func FromSummary(sum session.Summary) SessionSummary {
	return SessionSummary{
		Key:            string(sum.Key),
		AudioName:      sum.AudioName,
		TranscriptName: sum.TranscriptName,
		SegmentCount:   sum.SegmentCount,
		SpeakerCount:   sum.SpeakerCount,
		UpdatedAt:      formatTime(sum.UpdatedAt),
		Kind:           string(sum.Kind),
		Label:          sum.Label,
		BaseSessionKey: string(sum.BaseSessionKey),
		Active:         sum.Active,
	}
}

// FromSummaries converts a recent-sessions view, preserving its order.
func FromSummaries(list []session.Summary) []SessionSummary {
	out := make([]SessionSummary, 0, len(list))
	for _, sum := range list {
		out = append(out, FromSummary(sum))
	}
	return out
}

// FromView converts the Store Context view of the active session.
func FromView(v store.View) *SessionView {
	out := &SessionView{
		Key:           string(v.Key),
		Session:       v.Session,
		HistoryIndex:  v.HistoryIndex,
		HistoryLength: v.HistoryLength,
		CanUndo:       v.CanUndo,
		CanRedo:       v.CanRedo,
	}
	if v.Audio != nil {
		out.Audio = &AudioHandle{
			ID:       v.Audio.ID,
			Ref:      v.Audio.Ref,
			LoadedAt: formatTime(v.Audio.LoadedAt),
		}
	}
	return out
}

// ParseTime reads a timestamp written by formatTime. The zero time is
// returned for empty or malformed values.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
