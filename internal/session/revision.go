package session

import (
	"time"

	"flowscribe/internal/textutil"
)

// MaxLabelRunes bounds revision labels.
const MaxLabelRunes = 120

// NewRevision branches an immutable snapshot from base. The returned session
// shares nothing with base, so later edits to the base never reach it.
func NewRevision(baseKey Key, base Session, label string, now time.Time) (Key, Session) {
	baseKey = baseKey.Base()
	rev := base.Clone()
	rev.Kind = KindRevision
	rev.BaseSessionKey = baseKey
	rev.Label = textutil.CleanLabel(label, MaxLabelRunes)
	if rev.Label == "" {
		rev.Label = "Revision " + now.UTC().Format("2006-01-02 15:04:05")
	}
	rev.Touch(now)
	return NewRevisionKey(baseKey), rev
}
