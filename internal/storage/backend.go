package storage

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
)

// ErrKeyNotFound is returned by Backend.Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// ChangeEvent reports keys written or removed in a storage area.
type ChangeEvent struct {
	Keys []string
	Area string
}

// Backend is the host key-value store: raw bytes per key plus a change
// notification.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
	Keys(ctx context.Context) ([]string, error)
	Watch(fn func(ChangeEvent))
}

// watchers fans change events out to registered callbacks.
type watchers struct {
	mu  sync.Mutex
	fns []func(ChangeEvent)
}

func (w *watchers) add(fn func(ChangeEvent)) {
	w.mu.Lock()
	w.fns = append(w.fns, fn)
	w.mu.Unlock()
}

func (w *watchers) notify(ev ChangeEvent) {
	w.mu.Lock()
	fns := slices.Clone(w.fns)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// MemoryBackend is an in-process Backend used by tests and by callers
// that do not need durability.
type MemoryBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers watchers

	// FailWrites makes Set and Remove return this error when non-nil.
	FailWrites error
	writes     int
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	if m.FailWrites != nil {
		m.mu.Unlock()
		return m.FailWrites
	}
	m.data[key] = append([]byte(nil), value...)
	m.writes++
	m.mu.Unlock()

	m.watchers.notify(ChangeEvent{Keys: []string{key}, Area: "local"})
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	if m.FailWrites != nil {
		m.mu.Unlock()
		return m.FailWrites
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	m.writes++
	m.mu.Unlock()

	m.watchers.notify(ChangeEvent{Keys: keys, Area: "local"})
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Watch(fn func(ChangeEvent)) { m.watchers.add(fn) }

// Writes returns how many Set/Remove calls reached the backend.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
