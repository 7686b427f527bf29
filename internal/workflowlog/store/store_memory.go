package store

import (
	"context"
	"sync"

	"collate/internal/workflowlog/models"
	id "collate/pkg/domain"
)

// InMemoryStore keeps log entries in append order for unit tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []models.Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *InMemoryStore) ListForSheet(_ context.Context, sheetID id.SheetID) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []models.Entry
	for _, e := range s.entries {
		if e.SheetID != nil && *e.SheetID == sheetID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *InMemoryStore) ListForCollationResult(_ context.Context, resultID id.CollationResultID) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []models.Entry
	for _, e := range s.entries {
		if e.CollationResultID != nil && *e.CollationResultID == resultID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *InMemoryStore) ListForElection(_ context.Context, electionID id.ElectionID, limit int) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []models.Entry
	for _, e := range s.entries {
		if e.ElectionID == electionID {
			entries = append(entries, e)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
	}
	return entries, nil
}
