package session

import (
	"context"
	"sync"

	"github.com/offerscout/offerscout/internal/scout"
)

// MemoryStore keeps session records in a map. Expired records are evicted
// on the read that discovers them.
type MemoryStore struct {
	clock scout.Clock

	mu      sync.RWMutex
	records map[string]scout.SessionRecord
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(clock scout.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clock,
		records: make(map[string]scout.SessionRecord),
	}
}

// Get returns the record for owner, or ErrNotFound when absent or lapsed.
func (s *MemoryStore) Get(_ context.Context, owner string) (scout.SessionRecord, error) {
	s.mu.RLock()
	record, ok := s.records[owner]
	s.mu.RUnlock()
	if !ok {
		return scout.SessionRecord{}, ErrNotFound
	}
	if !s.clock.Now().Before(record.ExpiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a Put may have raced the eviction.
		if current, still := s.records[owner]; still && current.SessionID == record.SessionID {
			delete(s.records, owner)
		}
		s.mu.Unlock()
		return scout.SessionRecord{}, ErrNotFound
	}
	return record, nil
}

// Put stores or replaces the owner's record.
func (s *MemoryStore) Put(_ context.Context, record scout.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Owner] = record
	return nil
}

// Delete removes the owner's record. Deleting a missing owner is not an
// error.
func (s *MemoryStore) Delete(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, owner)
	return nil
}

// Len reports the number of stored records, including any not yet evicted.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
