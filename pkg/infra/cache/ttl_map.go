package cache

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLMap is a thread-safe map whose entries expire after a fixed or per-entry TTL.
// Expired entries are removed lazily on read and by Purge.
type TTLMap[V any] struct {
	mu   sync.RWMutex
	data map[string]ttlEntry[V]
	ttl  time.Duration
	now  func() time.Time
}

func NewTTLMap[V any](ttl time.Duration) *TTLMap[V] {
	return &TTLMap[V]{
		data: make(map[string]ttlEntry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (m *TTLMap[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()
	var zero V
	if !exists {
		return zero, false
	}

	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		if current, ok := m.data[key]; ok && m.now().After(current.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return zero, false
	}
	return entry.value, true
}

func (m *TTLMap[V]) Set(key string, value V) {
	m.SetWithTTL(key, value, m.ttl)
}

func (m *TTLMap[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = ttlEntry[V]{value: value, expiresAt: m.now().Add(ttl)}
}

// Update applies fn to the current value (zero when absent or expired) and stores the
// result with a refreshed TTL.
func (m *TTLMap[V]) Update(key string, fn func(current V, ok bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if ok && m.now().After(entry.expiresAt) {
		ok = false
		entry = ttlEntry[V]{}
	}
	next := fn(entry.value, ok)
	m.data[key] = ttlEntry[V]{value: next, expiresAt: m.now().Add(m.ttl)}
	return next
}

func (m *TTLMap[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// Purge removes every expired entry and returns how many were dropped.
func (m *TTLMap[V]) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.data {
		if now.After(e.expiresAt) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

func (m *TTLMap[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *TTLMap[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]ttlEntry[V])
}
