// Package store persists the election activation list. The mapped-children
// queries join the geography tables directly; activation and hierarchy live
// in the same database and the joins keep aggregation denominators one
// round trip away.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"collate/internal/election/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
	txcontext "collate/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Activate inserts one activation. Existing pairs are left untouched, so the
// call is idempotent. Returns true when a new row was written.
func (s *PostgresStore) Activate(ctx context.Context, activation *models.StationActivation) (bool, error) {
	query := `
		INSERT INTO election_polling_stations (election_id, polling_station_id, activated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (election_id, polling_station_id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(activation.ElectionID), uuid.UUID(activation.PollingStationID), activation.ActivatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert activation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert activation rows affected: %w", err)
	}
	return affected == 1, nil
}

// Deactivate removes one activation.
func (s *PostgresStore) Deactivate(ctx context.Context, electionID id.ElectionID, stationID id.PollingStationID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM election_polling_stations WHERE election_id = $1 AND polling_station_id = $2`,
		uuid.UUID(electionID), uuid.UUID(stationID),
	)
	if err != nil {
		return fmt.Errorf("delete activation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete activation rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// IsActive reports whether the station is on the election's activation list.
func (s *PostgresStore) IsActive(ctx context.Context, electionID id.ElectionID, stationID id.PollingStationID) (bool, error) {
	var active bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM election_polling_stations
		   WHERE election_id = $1 AND polling_station_id = $2
		 )`,
		uuid.UUID(electionID), uuid.UUID(stationID),
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check activation: %w", err)
	}
	return active, nil
}

// ListActive returns all activations for an election, newest last.
func (s *PostgresStore) ListActive(ctx context.Context, electionID id.ElectionID) ([]models.StationActivation, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT election_id, polling_station_id, activated_at
		 FROM election_polling_stations
		 WHERE election_id = $1
		 ORDER BY activated_at, polling_station_id`,
		uuid.UUID(electionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var activations []models.StationActivation
	for rows.Next() {
		var a models.StationActivation
		if err := rows.Scan((*uuid.UUID)(&a.ElectionID), (*uuid.UUID)(&a.PollingStationID), &a.ActivatedAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		activations = append(activations, a)
	}
	return activations, rows.Err()
}

// CountActiveByArea counts activated, undeleted stations under one
// electoral area.
func (s *PostgresStore) CountActiveByArea(ctx context.Context, electionID id.ElectionID, areaID id.ElectoralAreaID) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM election_polling_stations eps
		 JOIN polling_stations ps ON ps.id = eps.polling_station_id
		 WHERE eps.election_id = $1 AND ps.electoral_area_id = $2 AND NOT ps.deleted`,
		uuid.UUID(electionID), uuid.UUID(areaID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count activations by area: %w", err)
	}
	return count, nil
}

// MappedChildUnits returns, for every parent unit at parentLevel with at
// least one activated station in its subtree, the distinct child units one
// level below that are themselves mapped to the election. For the
// electoral-area level the child units are the activated stations.
func (s *PostgresStore) MappedChildUnits(ctx context.Context, electionID id.ElectionID, parentLevel id.Level) (map[uuid.UUID][]uuid.UUID, error) {
	var query string
	switch parentLevel {
	case id.LevelElectoralArea:
		query = `
			SELECT ps.electoral_area_id, ps.id
			FROM election_polling_stations eps
			JOIN polling_stations ps ON ps.id = eps.polling_station_id
			WHERE eps.election_id = $1 AND NOT ps.deleted
		`
	case id.LevelConstituency:
		query = `
			SELECT DISTINCT ea.constituency_id, ea.id
			FROM election_polling_stations eps
			JOIN polling_stations ps ON ps.id = eps.polling_station_id
			JOIN electoral_areas ea ON ea.id = ps.electoral_area_id
			WHERE eps.election_id = $1 AND NOT ps.deleted AND NOT ea.deleted
		`
	case id.LevelRegional:
		query = `
			SELECT DISTINCT c.region_id, c.id
			FROM election_polling_stations eps
			JOIN polling_stations ps ON ps.id = eps.polling_station_id
			JOIN electoral_areas ea ON ea.id = ps.electoral_area_id
			JOIN constituencies c ON c.id = ea.constituency_id
			WHERE eps.election_id = $1 AND NOT ps.deleted AND NOT ea.deleted AND NOT c.deleted
		`
	case id.LevelNational:
		query = `
			SELECT DISTINCT r.organization_id, r.id
			FROM election_polling_stations eps
			JOIN polling_stations ps ON ps.id = eps.polling_station_id
			JOIN electoral_areas ea ON ea.id = ps.electoral_area_id
			JOIN constituencies c ON c.id = ea.constituency_id
			JOIN regions r ON r.id = c.region_id
			WHERE eps.election_id = $1 AND NOT ps.deleted AND NOT ea.deleted AND NOT c.deleted AND NOT r.deleted
		`
	default:
		return nil, fmt.Errorf("level %s cannot be an aggregation parent", parentLevel)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(electionID))
	if err != nil {
		return nil, fmt.Errorf("map child units for %s: %w", parentLevel, err)
	}
	defer rows.Close()

	units := make(map[uuid.UUID][]uuid.UUID)
	for rows.Next() {
		var parentID, childID uuid.UUID
		if err := rows.Scan(&parentID, &childID); err != nil {
			return nil, fmt.Errorf("scan child unit: %w", err)
		}
		units[parentID] = append(units[parentID], childID)
	}
	return units, rows.Err()
}
