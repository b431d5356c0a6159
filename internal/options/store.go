package options

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinprecision/ctms-forms/internal/forms"
)

// Entry is a cached option list. StoredAt is stamped from the loader's clock;
// freshness is decided by the loader, never by the store.
type Entry struct {
	Options  []forms.Option `json:"data"`
	StoredAt time.Time      `json:"timestamp"`
}

// Store persists cache entries. Implementations must be safe for concurrent
// use. Get reports a missing key with ok == false and a nil error.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (entry *Entry, ok bool, err error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Name() string { return "memory" }

// Get returns a copy of the entry for key
func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[key]
	if !exists {
		return nil, false, nil
	}
	entry.Options = append([]forms.Option(nil), entry.Options...)
	return &entry, true, nil
}

// Set stores entry under key, replacing any previous entry
func (m *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Options = append([]forms.Option(nil), entry.Options...)
	m.entries[key] = entry
	return nil
}

// Delete removes key. Missing keys are not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Keys returns all keys in sorted order
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every entry
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]Entry)
	return nil
}

// Ping always succeeds for the memory store
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error { return nil }
