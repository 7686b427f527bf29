package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"collate/internal/collation/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
)

type naturalKey struct {
	election id.ElectionID
	position id.PositionID
	level    id.Level
	location uuid.UUID
}

// InMemoryStore is the dev and test double for the PostgreSQL store. Upserts
// keep the stored row's identity and workflow state, mirroring the
// ON CONFLICT clause; workflow writes are compare-and-set.
type InMemoryStore struct {
	mu      sync.Mutex
	results map[id.CollationResultID]models.CollationResult
	byKey   map[naturalKey]id.CollationResultID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		results: make(map[id.CollationResultID]models.CollationResult),
		byKey:   make(map[naturalKey]id.CollationResultID),
	}
}

func resultKey(r *models.CollationResult) naturalKey {
	return naturalKey{
		election: r.ElectionID,
		position: r.PositionID,
		level:    r.Level,
		location: r.LocationID,
	}
}

func (s *InMemoryStore) Upsert(_ context.Context, r *models.CollationResult) (*models.CollationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resultKey(r)
	if existingID, ok := s.byKey[key]; ok {
		existing := s.results[existingID]
		existing.ApplyTally(models.Tally{
			TotalUnits:        r.TotalUnits,
			ReportedUnits:     r.ReportedUnits,
			ApprovedUnits:     r.ApprovedUnits,
			RegisteredVoters:  r.RegisteredVoters,
			TotalVotesCast:    r.TotalVotesCast,
			ValidVotes:        r.ValidVotes,
			RejectedBallots:   r.RejectedBallots,
			TurnoutPercentage: r.TurnoutPercentage,
			Results:           r.Results,
		}, r.UpdatedAt)
		s.results[existingID] = existing
		return &existing, nil
	}

	s.results[r.ID] = *r
	s.byKey[key] = r.ID
	stored := *r
	return &stored, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, resultID id.CollationResultID) (*models.CollationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.results[resultID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &result, nil
}

func (s *InMemoryStore) FindByKey(_ context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationID uuid.UUID) (*models.CollationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := naturalKey{election: electionID, position: positionID, level: level, location: locationID}
	resultID, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	result := s.results[resultID]
	return &result, nil
}

func (s *InMemoryStore) ListForLevel(_ context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level) ([]models.CollationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []models.CollationResult
	for _, result := range s.results {
		if result.ElectionID == electionID && result.PositionID == positionID && result.Level == level {
			results = append(results, result)
		}
	}
	sortByLocation(results)
	return results, nil
}

func (s *InMemoryStore) ListForLocations(_ context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationIDs []uuid.UUID) ([]models.CollationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uuid.UUID]bool, len(locationIDs))
	for _, locationID := range locationIDs {
		wanted[locationID] = true
	}
	var results []models.CollationResult
	for _, result := range s.results {
		if result.ElectionID == electionID && result.PositionID == positionID &&
			result.Level == level && wanted[result.LocationID] {
			results = append(results, result)
		}
	}
	sortByLocation(results)
	return results, nil
}

func (s *InMemoryStore) UpdateWorkflow(_ context.Context, r *models.CollationResult, expected models.CollationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.results[r.ID]
	if !ok || current.Status != expected {
		return sentinel.ErrConflict
	}
	s.results[r.ID] = *r
	return nil
}

func sortByLocation(results []models.CollationResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].LocationID.String() < results[j].LocationID.String()
	})
}
