package testsupport

import (
	"encoding/json"
	"fmt"
	"testing"

	"flowscribe/internal/session"
)

// FileRef returns a reference with a stable size and timestamp derived from name.
func FileRef(name string) *session.FileReference {
	return &session.FileReference{Name: name, Size: int64(len(name)) * 1000, LastModified: 1700000000000}
}

// Segments builds opaque segments with the given ids and placeholder text.
func Segments(t testing.TB, ids ...string) []session.Segment {
	t.Helper()

	out := make([]session.Segment, 0, len(ids))
	for _, id := range ids {
		raw := json.RawMessage(fmt.Sprintf(`{"id":%q,"text":"text for %s","start":0,"end":1}`, id, id))
		seg, err := session.NewSegment(raw)
		if err != nil {
			t.Fatalf("NewSegment(%s): %v", id, err)
		}
		out = append(out, seg)
	}
	return out
}

// SegmentIDs lists the ids of segs in order.
func SegmentIDs(segs []session.Segment) []string {
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		out = append(out, seg.ID)
	}
	return out
}
