package store

import (
	"context"
	"sync"
)

// InMem is a map-backed StatusStore for development and tests.
type InMem struct {
	mu   sync.RWMutex
	recs map[string]Record
}

// NewInMem constructs an empty in-memory store.
func NewInMem() *InMem {
	return &InMem{recs: make(map[string]Record)}
}

// Put implements StatusStore.
func (s *InMem) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ResponseID] = rec
	return nil
}

// Get implements StatusStore.
func (s *InMem) Get(_ context.Context, responseID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[responseID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete implements StatusStore.
func (s *InMem) Delete(_ context.Context, responseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, responseID)
	return nil
}
