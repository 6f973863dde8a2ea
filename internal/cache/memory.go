// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package cache

import (
	"context"
	"sync"
	"time"
)

// sweepInterval is how often the background sweep evicts expired entries
// that no Get has touched.
const sweepInterval = time.Minute

// entry stores one cached value with its write time and TTL.
type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// Memory is the process-local Store. Reads evict lazily; a background
// sweep keeps untouched expired entries from accumulating.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	nowFunc func() time.Time // for testing

	done      chan struct{}
	closeOnce sync.Once
}

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory creates a Memory store and starts its sweep goroutine.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		nowFunc: time.Now,
		done:    make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.done:
				return
			}
		}
	}()

	return m
}

// Get returns the stored value while now - stored_at <= ttl. An expired
// entry is evicted and reported as a miss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	now := m.nowFunc()
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if expired(e, now) {
		m.mu.Lock()
		// Re-check under the write lock: a Put may have refreshed the entry.
		if cur, ok := m.entries[key]; ok && expired(cur, m.nowFunc()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true, nil
}

// Put overwrites the entry unconditionally.
func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.entries[key] = entry{value: stored, storedAt: m.nowFunc(), ttl: ttl}
	m.mu.Unlock()
	return nil
}

// Len reports the number of resident entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// SetNowFunc overrides the time source (for testing).
func (m *Memory) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	m.nowFunc = fn
	m.mu.Unlock()
}

func expired(e entry, now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	for key, e := range m.entries {
		if expired(e, now) {
			delete(m.entries, key)
		}
	}
}
