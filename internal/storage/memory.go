package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Backend. Quota accounting counts key and value bytes.
type Memory struct {
	mu     sync.RWMutex
	items  map[string]string
	quota  int64
	used   int64
	closed bool
}

// NewMemory returns an empty store. quotaBytes <= 0 means unlimited.
func NewMemory(quotaBytes int64) *Memory {
	return &Memory{items: make(map[string]string), quota: quotaBytes}
}

func (m *Memory) GetItem(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	value, ok := m.items[key]
	return value, ok, nil
}

func (m *Memory) SetItem(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	var current int64
	if old, ok := m.items[key]; ok {
		current = int64(len(key) + len(old))
	}
	next := int64(len(key) + len(value))
	if exceedsQuota(m.quota, m.used, current, next) {
		return fmt.Errorf("set %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
	}
	m.items[key] = value
	m.used += next - current
	return nil
}

func (m *Memory) RemoveItem(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if old, ok := m.items[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.items, key)
	}
	return nil
}

// UsedBytes returns the bytes currently counted against the quota.
func (m *Memory) UsedBytes(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.used, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
