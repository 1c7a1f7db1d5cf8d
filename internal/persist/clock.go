package persist

import "time"

// Timer is a pending AfterFunc callback.
type Timer interface {
	Stop() bool
}

// Clock supplies time and deferred callbacks so tests can drive the
// scheduler deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
