package saga

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key. Entries exist only while someone holds
// or waits for the key, so the map does not grow with the number of sagas
// ever seen.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	token chan struct{}
	refs  int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done. The returned unlock must be
// called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry{token: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.token <- struct{}{}:
	case <-ctx.Done():
		m.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.token
			m.release(key, entry)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
