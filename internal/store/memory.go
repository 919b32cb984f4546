package store

import (
	"context"
	"sync"

	"github.com/finsim/paper-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*model.Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*model.Snapshot),
	}
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, accountID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, accountID string, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	stored := snap.Clone()
	stored.AccountID = accountID
	s.snapshots[accountID] = stored
	return nil
}

// SavedCount reports how many accounts have a stored snapshot.
func (s *MemoryStore) SavedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
