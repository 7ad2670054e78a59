// Package cache stores alert cooldown records, in process or in Redis.
package cache

import (
	"context"
	"sync"
	"time"
)

// Record is the last alert sent for a key.
type Record struct {
	LTV    int64     `json:"ltv"`
	SentAt time.Time `json:"sent_at"`
}

// Store keeps cooldown records that expire after their TTL.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

type entry struct {
	rec     Record
	expires time.Time
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewMemory creates an empty in-memory store. now defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]entry), now: now}
}

// Get returns the unexpired record for key.
func (m *Memory) Get(_ context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return Record{}, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.items, key)
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

// Put stores rec under key. A non-positive ttl never expires.
func (m *Memory) Put(_ context.Context, key string, rec Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{rec: rec}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.items[key] = e
	return nil
}

// Len returns the number of stored records, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
