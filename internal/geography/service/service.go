// Package service manages the geographic hierarchy used by sheet capture and
// result aggregation. Nodes form a fixed four-level tree under an
// organization; traversal helpers (Children, Ancestor) are the contract the
// aggregation engine builds on.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"collate/internal/geography/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/sentinel"
	"collate/pkg/requestcontext"
)

// Store is the persistence contract the service needs. Both the PostgreSQL
// and the in-memory implementations satisfy it.
type Store interface {
	CreateRegion(ctx context.Context, r *models.Region) error
	CreateConstituency(ctx context.Context, c *models.Constituency) error
	CreateElectoralArea(ctx context.Context, a *models.ElectoralArea) error
	CreatePollingStation(ctx context.Context, p *models.PollingStation) error
	FindPollingStation(ctx context.Context, stationID id.PollingStationID) (*models.PollingStation, error)
	Node(ctx context.Context, level id.Level, nodeID uuid.UUID) (*models.Node, error)
	Children(ctx context.Context, childLevel id.Level, parentID uuid.UUID) ([]models.Node, error)
	HasLiveChildren(ctx context.Context, level id.Level, nodeID uuid.UUID) (bool, error)
	StationReferenced(ctx context.Context, stationID id.PollingStationID) (bool, error)
	UpdateStationVoters(ctx context.Context, stationID id.PollingStationID, registeredVoters int, now time.Time) error
	SoftDelete(ctx context.Context, level id.Level, nodeID uuid.UUID, now time.Time) error
}

// Service orchestrates hierarchy setup and traversal.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateRegion(ctx context.Context, orgID id.OrgID, name, code string, gps *models.GPS) (*models.Region, error) {
	name = strings.TrimSpace(name)

	region, err := models.NewRegion(id.RegionID(uuid.New()), orgID, name, code, requestcontext.Now(ctx).UTC())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	region.GPS = gps

	if err := s.store.CreateRegion(ctx, region); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeDuplicate, "region code already in use")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create region")
	}
	s.logEvent(ctx, "region_created", "region_id", region.ID)
	return region, nil
}

func (s *Service) CreateConstituency(ctx context.Context, orgID id.OrgID, regionID id.RegionID, name, code string, gps *models.GPS) (*models.Constituency, error) {
	name = strings.TrimSpace(name)

	if _, err := s.store.Node(ctx, id.LevelRegional, uuid.UUID(regionID)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "parent region not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parent region")
	}

	constituency, err := models.NewConstituency(id.ConstituencyID(uuid.New()), orgID, regionID, name, code, requestcontext.Now(ctx).UTC())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	constituency.GPS = gps

	if err := s.store.CreateConstituency(ctx, constituency); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeDuplicate, "constituency code already in use")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create constituency")
	}
	s.logEvent(ctx, "constituency_created", "constituency_id", constituency.ID, "region_id", regionID)
	return constituency, nil
}

func (s *Service) CreateElectoralArea(ctx context.Context, orgID id.OrgID, constituencyID id.ConstituencyID, name, code string, gps *models.GPS) (*models.ElectoralArea, error) {
	name = strings.TrimSpace(name)

	if _, err := s.store.Node(ctx, id.LevelConstituency, uuid.UUID(constituencyID)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "parent constituency not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parent constituency")
	}

	area, err := models.NewElectoralArea(id.ElectoralAreaID(uuid.New()), orgID, constituencyID, name, code, requestcontext.Now(ctx).UTC())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	area.GPS = gps

	if err := s.store.CreateElectoralArea(ctx, area); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeDuplicate, "electoral area code already in use")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create electoral area")
	}
	s.logEvent(ctx, "electoral_area_created", "electoral_area_id", area.ID, "constituency_id", constituencyID)
	return area, nil
}

func (s *Service) CreatePollingStation(ctx context.Context, orgID id.OrgID, areaID id.ElectoralAreaID, name, code string, registeredVoters int, gps *models.GPS) (*models.PollingStation, error) {
	name = strings.TrimSpace(name)

	if _, err := s.store.Node(ctx, id.LevelElectoralArea, uuid.UUID(areaID)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "parent electoral area not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parent electoral area")
	}

	station, err := models.NewPollingStation(id.PollingStationID(uuid.New()), orgID, areaID, name, code, registeredVoters, requestcontext.Now(ctx).UTC())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	station.GPS = gps

	if err := s.store.CreatePollingStation(ctx, station); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeDuplicate, "polling station code already in use")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create polling station")
	}
	s.logEvent(ctx, "polling_station_created", "polling_station_id", station.ID, "electoral_area_id", areaID)
	return station, nil
}

// GetNode returns the level-neutral view of a live node.
func (s *Service) GetNode(ctx context.Context, level id.Level, nodeID uuid.UUID) (*models.Node, error) {
	if !level.IsValid() || level == id.LevelNational {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("level %q has no nodes", level))
	}
	node, err := s.store.Node(ctx, level, nodeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "node not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load node")
	}
	return node, nil
}

// GetPollingStation returns a station including its registered-voter count.
func (s *Service) GetPollingStation(ctx context.Context, stationID id.PollingStationID) (*models.PollingStation, error) {
	station, err := s.store.FindPollingStation(ctx, stationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "polling station not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load polling station")
	}
	return station, nil
}

// Children returns all live nodes one level below the given node. For the
// national level, nodeID is the organization and the children are its regions.
func (s *Service) Children(ctx context.Context, level id.Level, nodeID uuid.UUID) ([]models.Node, error) {
	if !level.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown level %q", level))
	}
	childLevel, ok := level.ChildLevel()
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "polling stations have no children")
	}
	nodes, err := s.store.Children(ctx, childLevel, nodeID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list children")
	}
	return nodes, nil
}

// Ancestor walks parent pointers from a node up to targetLevel and returns the
// single ancestor there. A national target yields a synthetic organization
// node because the national level has no stored rows.
func (s *Service) Ancestor(ctx context.Context, level id.Level, nodeID uuid.UUID, targetLevel id.Level) (*models.Node, error) {
	if !level.IsValid() || !targetLevel.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown level")
	}
	if !targetLevel.Above(level) {
		return nil, dErrors.New(dErrors.CodeValidation, "target level must be above the node level")
	}

	current, err := s.store.Node(ctx, level, nodeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "node not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load node")
	}

	for current.Level != targetLevel {
		parentLevel, ok := current.Level.ParentLevel()
		if !ok {
			return nil, dErrors.New(dErrors.CodeInternal, "hierarchy walk escaped the top level")
		}
		if parentLevel == id.LevelNational {
			return &models.Node{
				ID:    uuid.UUID(current.OrgID),
				Level: id.LevelNational,
				OrgID: current.OrgID,
			}, nil
		}
		parent, err := s.store.Node(ctx, parentLevel, current.ParentID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("ancestor at level %s not found", parentLevel))
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ancestor")
		}
		current = parent
	}
	return current, nil
}

// UpdateRegisteredVoters sets the authoritative voter count on a station.
func (s *Service) UpdateRegisteredVoters(ctx context.Context, stationID id.PollingStationID, registeredVoters int) error {
	if registeredVoters < 0 {
		return dErrors.New(dErrors.CodeValidation, "registered voters cannot be negative")
	}
	if err := s.store.UpdateStationVoters(ctx, stationID, registeredVoters, requestcontext.Now(ctx).UTC()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "polling station not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update registered voters")
	}
	return nil
}

// Delete soft-deletes a node. Nodes with live children are kept, as are
// polling stations referenced by any result sheet.
func (s *Service) Delete(ctx context.Context, level id.Level, nodeID uuid.UUID) error {
	if !level.IsValid() || level == id.LevelNational {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("level %q has no nodes", level))
	}

	if level == id.LevelPollingStation {
		referenced, err := s.store.StationReferenced(ctx, id.PollingStationID(nodeID))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check station references")
		}
		if referenced {
			return dErrors.New(dErrors.CodeConflict, "polling station has result sheets and cannot be deleted")
		}
	} else {
		hasChildren, err := s.store.HasLiveChildren(ctx, level, nodeID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check children")
		}
		if hasChildren {
			return dErrors.New(dErrors.CodeConflict, "node still has undeleted children")
		}
	}

	if err := s.store.SoftDelete(ctx, level, nodeID, requestcontext.Now(ctx).UTC()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "node not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete node")
	}
	s.logEvent(ctx, "node_deleted", "level", string(level), "node_id", nodeID)
	return nil
}

func (s *Service) logEvent(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event, attributes...)
}
