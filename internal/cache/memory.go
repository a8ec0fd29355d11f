package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is a process-local Backend. Expiry is enforced lazily: every
// operation first sweeps entries whose deadline has passed, so expired data
// is never observed even though no background reaper runs.
type MemoryBackend struct {
	// mu guards values and expiry together.
	mu     sync.Mutex
	values map[string][]byte
	expiry map[string]time.Time
	now    func() time.Time
}

// NewMemoryBackend constructs an empty MemoryBackend. A nil clock uses time.Now.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{
		values: make(map[string][]byte),
		expiry: make(map[string]time.Time),
		now:    now,
	}
}

// sweepLocked drops every entry whose deadline is not in the future.
// Callers must hold m.mu.
func (m *MemoryBackend) sweepLocked() {
	now := m.now()
	for k, deadline := range m.expiry {
		if !now.Before(deadline) {
			delete(m.values, k)
			delete(m.expiry, k)
		}
	}
}

// Get returns a copy of the live value stored under key.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of value under key until ttl elapses. It never fails.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = stored
	m.expiry[key] = m.now().Add(ttl)
	return true
}

// Delete removes key and reports whether a live entry was present.
func (m *MemoryBackend) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	_, ok := m.values[key]
	delete(m.values, key)
	delete(m.expiry, key)
	return ok
}

// Exists reports whether key holds an unexpired entry.
func (m *MemoryBackend) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	_, ok := m.values[key]
	return ok
}

// Name returns BackendMemory.
func (m *MemoryBackend) Name() string { return BackendMemory }

// Close is a no-op; the map is released with the backend.
func (m *MemoryBackend) Close() error { return nil }

// stored returns the number of physically stored entries without sweeping.
func (m *MemoryBackend) stored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
