// ABOUTME: In-memory credential backend for tests and ephemeral sessions
// ABOUTME: Implements the Backend interface over a mutex-guarded map

package credstore

import "sync"

// MemoryBackend keeps credentials in process memory. Nothing survives a
// restart; intended for tests and one-shot invocations.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

// Get returns the stored value for key, or ErrNotFound.
func (b *MemoryBackend) Get(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores the value for key. An empty value deletes the entry.
func (b *MemoryBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if value == "" {
		delete(b.values, key)
		return nil
	}
	b.values[key] = value
	return nil
}

// DeleteAll removes every listed key atomically.
func (b *MemoryBackend) DeleteAll(keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.values, k)
	}
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error {
	return nil
}
