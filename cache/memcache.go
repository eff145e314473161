package cache

import (
	"context"
	"sync"
	"time"
)

// MemCache is the default in-process Cache backend: a plain map guarded
// by a mutex, adapted from the teacher's spilldb/webcache SQLite-blob
// cache down to the minimum a process-local map needs (no persistence
// across restarts, which the archive engine never requires of this
// layer since everything here is a recomputable aggregate).
type MemCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value    string
	expireAt time.Time // zero means no expiry
}

// NewMemCache returns an empty in-process cache.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]memEntry)}
}

func (m *MemCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	m.entries[key] = memEntry{value: value, expireAt: expireAt}
	return nil
}

func (m *MemCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemCache) DeleteMulti(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}
