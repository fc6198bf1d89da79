package archive

import "sync"

// Store holds the current snapshot of one archive. Snapshots are replaced as a
// whole and never mutated, so a reader sees either the state before a replace
// or after it.
type Store[T Index] struct {
	mu      sync.RWMutex
	current Snapshot[T]
}

// NewStore creates a store holding initial.
func NewStore[T Index](initial Snapshot[T]) *Store[T] {
	return &Store[T]{current: initial}
}

// Snapshot returns the current snapshot.
func (s *Store[T]) Snapshot() Snapshot[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace overwrites the stored snapshot. It is the only mutation.
func (s *Store[T]) Replace(next Snapshot[T]) {
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}
