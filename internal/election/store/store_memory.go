package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"collate/internal/election/models"
	geomodels "collate/internal/geography/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
)

// NodeResolver resolves hierarchy nodes. The geography in-memory store
// satisfies it; the SQL store does the equivalent with joins.
type NodeResolver interface {
	Node(ctx context.Context, level id.Level, nodeID uuid.UUID) (*geomodels.Node, error)
}

// InMemoryStore keeps the activation list in process memory for unit tests
// and local tooling.
type InMemoryStore struct {
	mu          sync.RWMutex
	activations map[id.ElectionID]map[id.PollingStationID]models.StationActivation
	nodes       NodeResolver
}

func NewInMemory(nodes NodeResolver) *InMemoryStore {
	return &InMemoryStore{
		activations: make(map[id.ElectionID]map[id.PollingStationID]models.StationActivation),
		nodes:       nodes,
	}
}

func (s *InMemoryStore) Activate(_ context.Context, activation *models.StationActivation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStation, ok := s.activations[activation.ElectionID]
	if !ok {
		byStation = make(map[id.PollingStationID]models.StationActivation)
		s.activations[activation.ElectionID] = byStation
	}
	if _, exists := byStation[activation.PollingStationID]; exists {
		return false, nil
	}
	byStation[activation.PollingStationID] = *activation
	return true, nil
}

func (s *InMemoryStore) Deactivate(_ context.Context, electionID id.ElectionID, stationID id.PollingStationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStation, ok := s.activations[electionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if _, exists := byStation[stationID]; !exists {
		return sentinel.ErrNotFound
	}
	delete(byStation, stationID)
	return nil
}

func (s *InMemoryStore) IsActive(_ context.Context, electionID id.ElectionID, stationID id.PollingStationID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, active := s.activations[electionID][stationID]
	return active, nil
}

func (s *InMemoryStore) ListActive(_ context.Context, electionID id.ElectionID) ([]models.StationActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStation := s.activations[electionID]
	activations := make([]models.StationActivation, 0, len(byStation))
	for _, a := range byStation {
		activations = append(activations, a)
	}
	sort.Slice(activations, func(i, j int) bool {
		if !activations[i].ActivatedAt.Equal(activations[j].ActivatedAt) {
			return activations[i].ActivatedAt.Before(activations[j].ActivatedAt)
		}
		return activations[i].PollingStationID.String() < activations[j].PollingStationID.String()
	})
	return activations, nil
}

func (s *InMemoryStore) CountActiveByArea(ctx context.Context, electionID id.ElectionID, areaID id.ElectoralAreaID) (int, error) {
	units, err := s.MappedChildUnits(ctx, electionID, id.LevelElectoralArea)
	if err != nil {
		return 0, err
	}
	return len(units[uuid.UUID(areaID)]), nil
}

func (s *InMemoryStore) MappedChildUnits(ctx context.Context, electionID id.ElectionID, parentLevel id.Level) (map[uuid.UUID][]uuid.UUID, error) {
	if !parentLevel.IsAggregatable() {
		return nil, errors.New("level cannot be an aggregation parent")
	}

	s.mu.RLock()
	stationIDs := make([]id.PollingStationID, 0, len(s.activations[electionID]))
	for stationID := range s.activations[electionID] {
		stationIDs = append(stationIDs, stationID)
	}
	s.mu.RUnlock()

	childLevel, _ := parentLevel.ChildLevel()
	seen := make(map[uuid.UUID]map[uuid.UUID]struct{})
	for _, stationID := range stationIDs {
		node, err := s.nodes.Node(ctx, id.LevelPollingStation, uuid.UUID(stationID))
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// Walk up until node sits at childLevel; its parent is the unit key.
		for node.Level != childLevel {
			parentLvl, ok := node.Level.ParentLevel()
			if !ok {
				return nil, errors.New("hierarchy walk escaped the top level")
			}
			parent, err := s.nodes.Node(ctx, parentLvl, node.ParentID)
			if errors.Is(err, sentinel.ErrNotFound) {
				node = nil
				break
			}
			if err != nil {
				return nil, err
			}
			node = parent
		}
		if node == nil {
			continue
		}
		if seen[node.ParentID] == nil {
			seen[node.ParentID] = make(map[uuid.UUID]struct{})
		}
		seen[node.ParentID][node.ID] = struct{}{}
	}

	units := make(map[uuid.UUID][]uuid.UUID, len(seen))
	for parentID, children := range seen {
		list := make([]uuid.UUID, 0, len(children))
		for childID := range children {
			list = append(list, childID)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].String() < list[j].String() })
		units[parentID] = list
	}
	return units, nil
}
