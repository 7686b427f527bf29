package store

import (
	"context"
	"fmt"
	"sync"

	"collate/internal/discrepancy/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
)

// InMemoryStore keeps discrepancies in creation order for tests/dev.
type InMemoryStore struct {
	mu            sync.RWMutex
	discrepancies []models.Discrepancy
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Create(_ context.Context, d *models.Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discrepancies = append(s.discrepancies, *d)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, discrepancyID id.DiscrepancyID) (*models.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.discrepancies {
		if s.discrepancies[i].ID == discrepancyID {
			d := s.discrepancies[i]
			return &d, nil
		}
	}
	return nil, fmt.Errorf("discrepancy not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListForSheet(_ context.Context, sheetID id.SheetID) ([]*models.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Discrepancy
	for i := range s.discrepancies {
		if s.discrepancies[i].SheetID != nil && *s.discrepancies[i].SheetID == sheetID {
			d := s.discrepancies[i]
			out = append(out, &d)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListOpenByElection(_ context.Context, electionID id.ElectionID) ([]*models.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Discrepancy
	for i := range s.discrepancies {
		if s.discrepancies[i].ElectionID == electionID && s.discrepancies[i].Status.Open() {
			d := s.discrepancies[i]
			out = append(out, &d)
		}
	}
	return out, nil
}

func (s *InMemoryStore) HasOpenForSheet(_ context.Context, sheetID id.SheetID, typ models.Type) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.discrepancies {
		d := &s.discrepancies[i]
		if d.SheetID != nil && *d.SheetID == sheetID && d.Type == typ && d.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

// Execute applies a validated mutation under the store lock, mirroring the
// FOR UPDATE discipline of the Postgres store. The loaded record is returned
// even when validation fails.
func (s *InMemoryStore) Execute(_ context.Context, discrepancyID id.DiscrepancyID, validate func(*models.Discrepancy) error, mutate func(*models.Discrepancy)) (*models.Discrepancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.discrepancies {
		if s.discrepancies[i].ID != discrepancyID {
			continue
		}
		d := s.discrepancies[i]
		if err := validate(&d); err != nil {
			return &d, err
		}
		mutate(&d)
		s.discrepancies[i] = d
		return &d, nil
	}
	return nil, fmt.Errorf("discrepancy not found: %w", sentinel.ErrNotFound)
}
