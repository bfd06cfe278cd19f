// Package dedup coalesces concurrent identical requests: the first caller
// for a key issues the real request, later callers only append their
// callbacks. On completion every waiter sees the same result.
package dedup

import "sync"

// Map tracks pending callbacks per logical request key.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	pending map[K][]func(V)
}

// NewMap creates an empty dedup map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{pending: make(map[K][]func(V))}
}

// Join registers cb under key. It reports whether this is the first waiter,
// i.e. whether the caller should issue the actual request. A nil cb still
// claims the key.
func (m *Map[K, V]) Join(key K, cb func(V)) (first bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cbs, ok := m.pending[key]
	if cb != nil {
		cbs = append(cbs, cb)
	}
	m.pending[key] = cbs
	return !ok
}

// Contains reports whether a request for key is in flight.
func (m *Map[K, V]) Contains(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	return ok
}

// Resolve drains the key and invokes every registered callback with v.
func (m *Map[K, V]) Resolve(key K, v V) {
	m.mu.Lock()
	cbs := m.pending[key]
	delete(m.pending, key)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(v)
	}
}

// Fail drains the key without invoking callbacks, so a future call for the
// same key is not permanently blocked.
func (m *Map[K, V]) Fail(key K) {
	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()
}

// Clear drops every pending key.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	m.pending = make(map[K][]func(V))
	m.mu.Unlock()
}
