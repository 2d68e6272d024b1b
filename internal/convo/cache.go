// ABOUTME: Cache abstraction for conversation context with TTL and LRU bounds
// ABOUTME: Memory is the default backend; Noop disables caching entirely

package convo

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the lookup layer in front of context computation. Implementations
// must be safe for concurrent use. Callers treat every error as a miss; a
// broken cache degrades the system to direct computation, never to failure.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// memoryEntry stores the value, its expiry and its position in the LRU list.
type memoryEntry struct {
	value   []byte
	expires time.Time
	element *list.Element
}

// Memory is a thread-safe, TTL-based, size-limited in-process cache. A
// doubly-linked list maintains recency order for O(1) eviction, and a
// background goroutine sweeps expired entries.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   *list.List // keys in recency order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewMemory creates a memory cache with a default TTL (used when Set is
// called with a non-positive ttl) and a maximum entry count.
func NewMemory(ttl time.Duration, maxSize int) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Get returns the cached value or ErrCacheMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores a value, evicting the oldest entry when at capacity. Concurrent
// sets for the same key are last-write-wins.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.entries[key]; exists {
		entry.value = value
		entry.expires = time.Now().Add(ttl)
		m.order.MoveToBack(entry.element)
		return nil
	}

	if len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(key)
	m.entries[key] = &memoryEntry{
		value:   value,
		expires: time.Now().Add(ttl),
		element: elem,
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	m.order.Remove(entry.element)
	delete(m.entries, key)
	return nil
}

// CheckAndMark atomically checks whether a key has been seen within the TTL
// and marks it if not. Returns true when the key was already present. Used
// for webhook event-id deduplication, where separate Get/Set calls would
// leave a TOCTOU window.
func (m *Memory) CheckAndMark(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if entry, ok := m.entries[key]; ok && now.Before(entry.expires) {
		return true
	}

	if entry, exists := m.entries[key]; exists {
		entry.expires = now.Add(m.ttl)
		m.order.MoveToBack(entry.element)
		return false
	}

	if len(m.entries) >= m.maxSize {
		m.evictOldest()
	}
	elem := m.order.PushBack(key)
	m.entries[key] = &memoryEntry{expires: now.Add(m.ttl), element: elem}
	return false
}

// Len reports the current entry count.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictOldest removes the least recently written entry. Must be called with
// mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.entries, key)
}

// cleanup periodically removes expired entries until Close is called.
func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.entries {
		if now.After(entry.expires) {
			m.order.Remove(entry.element)
			delete(m.entries, key)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

// Noop is a Cache that stores nothing. Used when caching is disabled in
// config; every Get is a miss, so callers always compute directly.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error)              { return nil, ErrCacheMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error                     { return nil }
func (Noop) Close() error                                             { return nil }
