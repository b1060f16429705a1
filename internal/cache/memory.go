package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"tradelab/internal/domain"
)

var _ Cache = (*Memory)(nil)

type entry struct {
	result  *domain.BacktestResult
	expires time.Time // zero means no expiry
}

// Memory is an in-process Cache. Expired entries are dropped lazily.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key Key) (*domain.BacktestResult, bool, error) {
	k := key.String()
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[k]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.result, true, nil
}

func (m *Memory) Put(_ context.Context, key Key, result *domain.BacktestResult, ttl time.Duration) error {
	e := entry{result: result}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key.String()] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, instrumentID string) (int, error) {
	prefix := instrumentPrefix(instrumentID)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
