// Package cache stores tool results for a short time so identical calls
// within a window skip the backend.
package cache

import (
	"sync"
	"time"
)

// Cache is a byte-value TTL cache safe for concurrent use
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Close() error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	maxSize int
}

// NewMemory creates a cache holding at most maxSize entries (0 = unbounded)
func NewMemory(maxSize int) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
		maxSize: maxSize,
	}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictLocked(now)
	}
	m.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// evictLocked drops expired entries, then the one closest to expiry if still full
func (m *Memory) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(m.entries) >= m.maxSize && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// Len returns the number of stored entries, expired or not
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
