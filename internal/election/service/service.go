// Package service manages which polling stations take part in an election.
package service

import (
	"context"
	"errors"
	"log/slog"

	"collate/internal/election/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/sentinel"
	"collate/pkg/requestcontext"
)

// Store is the persistence contract for the activation list.
type Store interface {
	Activate(ctx context.Context, activation *models.StationActivation) (bool, error)
	Deactivate(ctx context.Context, electionID id.ElectionID, stationID id.PollingStationID) error
	IsActive(ctx context.Context, electionID id.ElectionID, stationID id.PollingStationID) (bool, error)
	ListActive(ctx context.Context, electionID id.ElectionID) ([]models.StationActivation, error)
	CountActiveByArea(ctx context.Context, electionID id.ElectionID, areaID id.ElectoralAreaID) (int, error)
}

// StationFinder confirms a station exists before it is mapped in.
type StationFinder interface {
	Exists(ctx context.Context, stationID id.PollingStationID) (bool, error)
}

// Service maintains the election activation list.
type Service struct {
	store    Store
	stations StationFinder
	logger   *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStationFinder enables existence checks on activation. Without it the
// store's foreign keys are the only guard.
func WithStationFinder(stations StationFinder) Option {
	return func(s *Service) {
		s.stations = stations
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

// ActivateStations maps stations into an election. Already-mapped stations
// are skipped, so retrying a partially applied batch is safe. Returns the
// number of stations newly activated.
func (s *Service) ActivateStations(ctx context.Context, electionID id.ElectionID, stationIDs []id.PollingStationID) (int, error) {
	if electionID.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "election is required")
	}
	if len(stationIDs) == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "at least one polling station is required")
	}

	now := requestcontext.Now(ctx).UTC()
	activated := 0
	for _, stationID := range stationIDs {
		if s.stations != nil {
			exists, err := s.stations.Exists(ctx, stationID)
			if err != nil {
				return activated, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check polling station")
			}
			if !exists {
				return activated, dErrors.New(dErrors.CodeNotFound, "polling station not found")
			}
		}

		activation, err := models.NewStationActivation(electionID, stationID, now)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				return activated, dErrors.New(dErrors.CodeValidation, err.Error())
			}
			return activated, err
		}
		inserted, err := s.store.Activate(ctx, activation)
		if err != nil {
			return activated, dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate polling station")
		}
		if inserted {
			activated++
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "stations_activated",
			"election_id", electionID,
			"requested", len(stationIDs),
			"activated", activated)
	}
	return activated, nil
}

// DeactivateStation removes one station from the election.
func (s *Service) DeactivateStation(ctx context.Context, electionID id.ElectionID, stationID id.PollingStationID) error {
	if err := s.store.Deactivate(ctx, electionID, stationID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "station is not activated for this election")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate polling station")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "station_deactivated",
			"election_id", electionID,
			"polling_station_id", stationID)
	}
	return nil
}

// IsStationActive reports whether a station is on the election's activation
// list. Results can only be captured at activated stations.
func (s *Service) IsStationActive(ctx context.Context, electionID id.ElectionID, stationID id.PollingStationID) (bool, error) {
	active, err := s.store.IsActive(ctx, electionID, stationID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check activation")
	}
	return active, nil
}

// ListActiveStations returns the activation list for an election.
func (s *Service) ListActiveStations(ctx context.Context, electionID id.ElectionID) ([]models.StationActivation, error) {
	activations, err := s.store.ListActive(ctx, electionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list activations")
	}
	return activations, nil
}

// CountActiveByArea counts activated stations under one electoral area.
func (s *Service) CountActiveByArea(ctx context.Context, electionID id.ElectionID, areaID id.ElectoralAreaID) (int, error) {
	count, err := s.store.CountActiveByArea(ctx, electionID, areaID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count activations")
	}
	return count, nil
}
