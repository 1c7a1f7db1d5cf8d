package storage

import (
	"context"
	"errors"
)

// Keys written by the persistence scheduler.
const (
	KeySessions = "flowscribe:sessions"
	KeyGlobal   = "flowscribe:global"
)

var (
	// ErrQuotaExceeded reports that a write would grow the store past its quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("storage closed")
	// ErrSchemaMismatch indicates the database schema version differs from
	// the one this build expects.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// Backend is a string key/value store. GetItem reports a missing key with
// ok=false and a nil error.
type Backend interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}

// Usage is an optional capability reporting the bytes held by the store.
type Usage interface {
	UsedBytes(ctx context.Context) (int64, error)
}

// IsQuotaExceeded reports whether err means the store is full.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// exceedsQuota reports whether replacing current bytes of key with next bytes
// pushes used past quota. A non-positive quota disables the check.
func exceedsQuota(quota, used, current, next int64) bool {
	if quota <= 0 {
		return false
	}
	return used-current+next > quota
}
