package session

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// FileReference fingerprints an audio or transcript source without holding
// its bytes.
type FileReference struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
}

// Equal reports whether two references identify the same file. Two nil
// references are equal.
func (r *FileReference) Equal(other *FileReference) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return norm.NFC.String(r.Name) == norm.NFC.String(other.Name) &&
		r.Size == other.Size &&
		r.LastModified == other.LastModified
}

// Clone returns a copy of r, or nil.
func (r *FileReference) Clone() *FileReference {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Key identifies one editing context.
type Key string

const (
	noneComponent   = "none"
	revisionMarker  = "|revision:"
	audioPrefix     = "audio:"
	transcriptLabel = "|transcript:"
)

var componentEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "|", "%7C")

// BuildSessionKey derives the canonical key for a reference pair. A nil
// reference maps to the "none" component. File names are NFC-normalized so
// the same file picked on different platforms yields the same key.
func BuildSessionKey(audioRef, transcriptRef *FileReference) Key {
	var b strings.Builder
	b.WriteString(audioPrefix)
	b.WriteString(keyComponent(audioRef))
	b.WriteString(transcriptLabel)
	b.WriteString(keyComponent(transcriptRef))
	return Key(b.String())
}

func keyComponent(ref *FileReference) string {
	if ref == nil {
		return noneComponent
	}
	name := componentEscaper.Replace(norm.NFC.String(ref.Name))
	return name + ":" + strconv.FormatInt(ref.Size, 10) + ":" + strconv.FormatInt(ref.LastModified, 10)
}

// BuildRevisionKey appends a revision marker to base. Revision keys never
// nest: branching from a revision derives from that revision's base.
func BuildRevisionKey(base Key, id string) Key {
	return base.Base() + Key(revisionMarker+id)
}

// NewRevisionKey returns a fresh, unique revision key branched from base.
func NewRevisionKey(base Key) Key {
	return BuildRevisionKey(base, uuid.NewString())
}

// IsRevision reports whether k carries a revision marker.
func (k Key) IsRevision() bool {
	return strings.Contains(string(k), revisionMarker)
}

// Base strips any revision marker.
func (k Key) Base() Key {
	if idx := strings.Index(string(k), revisionMarker); idx >= 0 {
		return k[:idx]
	}
	return k
}

func (k Key) String() string { return string(k) }
