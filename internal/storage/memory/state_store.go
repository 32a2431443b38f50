// Package memory stores frontier state and the document graph in-memory for
// development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// StateStore keeps the last saved frontier snapshot in-memory.
type StateStore struct {
	mu    sync.RWMutex
	snap  ingest.FrontierSnapshot
	saves int
}

// NewStateStore creates an empty in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// Load returns a copy of the last saved snapshot.
func (s *StateStore) Load(_ context.Context) (ingest.FrontierSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySnapshot(s.snap), nil
}

// Save replaces the stored snapshot.
func (s *StateStore) Save(_ context.Context, snapshot ingest.FrontierSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = copySnapshot(snapshot)
	s.saves++
	return nil
}

// Saves reports how many times Save has been called.
func (s *StateStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func copySnapshot(in ingest.FrontierSnapshot) ingest.FrontierSnapshot {
	return ingest.FrontierSnapshot{
		VisitedURLs:   append([]string{}, in.VisitedURLs...),
		ProcessedURLs: append([]string{}, in.ProcessedURLs...),
	}
}
