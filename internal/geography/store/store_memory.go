package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"collate/internal/geography/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
)

// InMemoryStore keeps the hierarchy in process memory. It backs unit tests
// and local tooling; it intentionally favors clarity over performance.
type InMemoryStore struct {
	mu       sync.RWMutex
	regions  map[uuid.UUID]models.Region
	consts   map[uuid.UUID]models.Constituency
	areas    map[uuid.UUID]models.ElectoralArea
	stations map[uuid.UUID]models.PollingStation

	// sheetStations mirrors the result_sheets foreign keys so delete guards
	// behave like the SQL store. Tests register references explicitly.
	sheetStations map[uuid.UUID]int
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		regions:       make(map[uuid.UUID]models.Region),
		consts:        make(map[uuid.UUID]models.Constituency),
		areas:         make(map[uuid.UUID]models.ElectoralArea),
		stations:      make(map[uuid.UUID]models.PollingStation),
		sheetStations: make(map[uuid.UUID]int),
	}
}

func (s *InMemoryStore) CreateRegion(_ context.Context, r *models.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Code != "" {
		for _, other := range s.regions {
			if !other.Deleted && other.OrgID == r.OrgID && other.Code == r.Code {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	s.regions[uuid.UUID(r.ID)] = *r
	return nil
}

func (s *InMemoryStore) CreateConstituency(_ context.Context, c *models.Constituency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Code != "" {
		for _, other := range s.consts {
			if !other.Deleted && other.OrgID == c.OrgID && other.Code == c.Code {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	s.consts[uuid.UUID(c.ID)] = *c
	return nil
}

func (s *InMemoryStore) CreateElectoralArea(_ context.Context, a *models.ElectoralArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Code != "" {
		for _, other := range s.areas {
			if !other.Deleted && other.OrgID == a.OrgID && other.Code == a.Code {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	s.areas[uuid.UUID(a.ID)] = *a
	return nil
}

func (s *InMemoryStore) CreatePollingStation(_ context.Context, p *models.PollingStation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Code != "" {
		for _, other := range s.stations {
			if !other.Deleted && other.OrgID == p.OrgID && other.Code == p.Code {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	s.stations[uuid.UUID(p.ID)] = *p
	return nil
}

func (s *InMemoryStore) FindPollingStation(_ context.Context, stationID id.PollingStationID) (*models.PollingStation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.stations[uuid.UUID(stationID)]; ok {
		return &p, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Exists(_ context.Context, stationID id.PollingStationID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.stations[uuid.UUID(stationID)]
	return ok && !p.Deleted, nil
}

func (s *InMemoryStore) Node(_ context.Context, level id.Level, nodeID uuid.UUID) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodeLocked(level, nodeID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &n, nil
}

func (s *InMemoryStore) nodeLocked(level id.Level, nodeID uuid.UUID) (models.Node, bool) {
	switch level {
	case id.LevelRegional:
		if r, ok := s.regions[nodeID]; ok && !r.Deleted {
			return regionNode(r), true
		}
	case id.LevelConstituency:
		if c, ok := s.consts[nodeID]; ok && !c.Deleted {
			return constituencyNode(c), true
		}
	case id.LevelElectoralArea:
		if a, ok := s.areas[nodeID]; ok && !a.Deleted {
			return areaNode(a), true
		}
	case id.LevelPollingStation:
		if p, ok := s.stations[nodeID]; ok && !p.Deleted {
			return stationNode(p), true
		}
	}
	return models.Node{}, false
}

func (s *InMemoryStore) Children(_ context.Context, childLevel id.Level, parentID uuid.UUID) ([]models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []models.Node
	switch childLevel {
	case id.LevelRegional:
		for _, r := range s.regions {
			if !r.Deleted && uuid.UUID(r.OrgID) == parentID {
				nodes = append(nodes, regionNode(r))
			}
		}
	case id.LevelConstituency:
		for _, c := range s.consts {
			if !c.Deleted && uuid.UUID(c.RegionID) == parentID {
				nodes = append(nodes, constituencyNode(c))
			}
		}
	case id.LevelElectoralArea:
		for _, a := range s.areas {
			if !a.Deleted && uuid.UUID(a.ConstituencyID) == parentID {
				nodes = append(nodes, areaNode(a))
			}
		}
	case id.LevelPollingStation:
		for _, p := range s.stations {
			if !p.Deleted && uuid.UUID(p.ElectoralAreaID) == parentID {
				nodes = append(nodes, stationNode(p))
			}
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
	return nodes, nil
}

func (s *InMemoryStore) HasLiveChildren(_ context.Context, level id.Level, nodeID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch level {
	case id.LevelRegional:
		for _, c := range s.consts {
			if !c.Deleted && uuid.UUID(c.RegionID) == nodeID {
				return true, nil
			}
		}
	case id.LevelConstituency:
		for _, a := range s.areas {
			if !a.Deleted && uuid.UUID(a.ConstituencyID) == nodeID {
				return true, nil
			}
		}
	case id.LevelElectoralArea:
		for _, p := range s.stations {
			if !p.Deleted && uuid.UUID(p.ElectoralAreaID) == nodeID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *InMemoryStore) StationReferenced(_ context.Context, stationID id.PollingStationID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sheetStations[uuid.UUID(stationID)] > 0, nil
}

// RegisterSheetReference simulates a result sheet row pointing at a station.
func (s *InMemoryStore) RegisterSheetReference(stationID id.PollingStationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheetStations[uuid.UUID(stationID)]++
}

func (s *InMemoryStore) UpdateStationVoters(_ context.Context, stationID id.PollingStationID, registeredVoters int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.stations[uuid.UUID(stationID)]
	if !ok || p.Deleted {
		return sentinel.ErrNotFound
	}
	p.RegisteredVoters = registeredVoters
	p.UpdatedAt = now
	s.stations[uuid.UUID(stationID)] = p
	return nil
}

func (s *InMemoryStore) SoftDelete(_ context.Context, level id.Level, nodeID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch level {
	case id.LevelRegional:
		if r, ok := s.regions[nodeID]; ok && !r.Deleted {
			r.Deleted = true
			r.UpdatedAt = now
			s.regions[nodeID] = r
			return nil
		}
	case id.LevelConstituency:
		if c, ok := s.consts[nodeID]; ok && !c.Deleted {
			c.Deleted = true
			c.UpdatedAt = now
			s.consts[nodeID] = c
			return nil
		}
	case id.LevelElectoralArea:
		if a, ok := s.areas[nodeID]; ok && !a.Deleted {
			a.Deleted = true
			a.UpdatedAt = now
			s.areas[nodeID] = a
			return nil
		}
	case id.LevelPollingStation:
		if p, ok := s.stations[nodeID]; ok && !p.Deleted {
			p.Deleted = true
			p.UpdatedAt = now
			s.stations[nodeID] = p
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func regionNode(r models.Region) models.Node {
	return models.Node{
		ID:       uuid.UUID(r.ID),
		Level:    id.LevelRegional,
		ParentID: uuid.UUID(r.OrgID),
		OrgID:    r.OrgID,
		Name:     r.Name,
		Code:     r.Code,
	}
}

func constituencyNode(c models.Constituency) models.Node {
	return models.Node{
		ID:       uuid.UUID(c.ID),
		Level:    id.LevelConstituency,
		ParentID: uuid.UUID(c.RegionID),
		OrgID:    c.OrgID,
		Name:     c.Name,
		Code:     c.Code,
	}
}

func areaNode(a models.ElectoralArea) models.Node {
	return models.Node{
		ID:       uuid.UUID(a.ID),
		Level:    id.LevelElectoralArea,
		ParentID: uuid.UUID(a.ConstituencyID),
		OrgID:    a.OrgID,
		Name:     a.Name,
		Code:     a.Code,
	}
}

func stationNode(p models.PollingStation) models.Node {
	return models.Node{
		ID:               uuid.UUID(p.ID),
		Level:            id.LevelPollingStation,
		ParentID:         uuid.UUID(p.ElectoralAreaID),
		OrgID:            p.OrgID,
		Name:             p.Name,
		Code:             p.Code,
		RegisteredVoters: p.RegisteredVoters,
	}
}
