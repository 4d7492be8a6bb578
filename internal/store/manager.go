package store

import (
	"fmt"
	"sync"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

// Manager hands out shared Store instances keyed by directory, reference
// counted so concurrent consumers reuse one open store per directory.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*managedStore
	log     logger.Logger
}

type managedStore struct {
	store *Store
	err   error
	refs  int
	ready chan struct{}
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		entries: make(map[string]*managedStore),
		log:     log,
	}
}

// Acquire returns the shared store for dir, opening it on first use. A
// concurrent Acquire for the same directory waits for the in-flight open
// instead of opening twice. Every successful Acquire must be paired with a
// Release.
func (m *Manager) Acquire(dir string) (*Store, error) {
	m.mu.Lock()
	entry, ok := m.entries[dir]
	if ok {
		entry.refs++
		m.mu.Unlock()
		<-entry.ready
		if entry.err != nil {
			m.Release(dir)
			return nil, entry.err
		}
		return entry.store, nil
	}

	entry = &managedStore{refs: 1, ready: make(chan struct{})}
	m.entries[dir] = entry
	m.mu.Unlock()

	s, err := Open(dir, m.log)
	entry.store = s
	entry.err = err
	close(entry.ready)

	if err != nil {
		m.Release(dir)
		return nil, fmt.Errorf("failed to open store at %s: %w", dir, err)
	}
	return s, nil
}

// Release drops one reference to the store for dir, forgetting it once the
// last reference is gone.
func (m *Manager) Release(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[dir]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.entries, dir)
	}
}
