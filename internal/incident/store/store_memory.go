package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"collate/internal/incident/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
)

// InMemoryStore keeps incidents in creation order for tests/dev.
type InMemoryStore struct {
	mu        sync.RWMutex
	incidents []models.Incident
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Create(_ context.Context, inc *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, *inc)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, incidentID id.IncidentID) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.incidents {
		if s.incidents[i].ID == incidentID {
			inc := s.incidents[i]
			return &inc, nil
		}
	}
	return nil, fmt.Errorf("incident not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListByElection(_ context.Context, electionID id.ElectionID, filter models.ListFilter) ([]*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Incident
	for i := range s.incidents {
		inc := s.incidents[i]
		if inc.ElectionID != electionID {
			continue
		}
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && inc.Severity != filter.Severity {
			continue
		}
		out = append(out, &inc)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].ReportedAt.After(out[b].ReportedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Execute applies a validated mutation under the store lock, mirroring the
// FOR UPDATE discipline of the Postgres store. The loaded record is returned
// even when validation fails.
func (s *InMemoryStore) Execute(_ context.Context, incidentID id.IncidentID, validate func(*models.Incident) error, mutate func(*models.Incident)) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.incidents {
		if s.incidents[i].ID != incidentID {
			continue
		}
		inc := s.incidents[i]
		if err := validate(&inc); err != nil {
			return &inc, err
		}
		mutate(&inc)
		s.incidents[i] = inc
		return &inc, nil
	}
	return nil, fmt.Errorf("incident not found: %w", sentinel.ErrNotFound)
}
