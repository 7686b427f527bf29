package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collate/internal/geography/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
	txcontext "collate/pkg/platform/tx"
)

// PostgresStore persists hierarchy nodes in PostgreSQL.
// This store is pure I/O; the shape invariants (parent presence, delete
// guards) are enforced by the service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed geography store.
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

func (s *PostgresStore) CreateRegion(ctx context.Context, r *models.Region) error {
	query := `
		INSERT INTO regions (id, organization_id, name, code, gps_lat, gps_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	lat, lng := gpsColumns(r.GPS)
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.OrgID), r.Name, r.Code, lat, lng, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert region: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateConstituency(ctx context.Context, c *models.Constituency) error {
	query := `
		INSERT INTO constituencies (id, organization_id, region_id, name, code, gps_lat, gps_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	lat, lng := gpsColumns(c.GPS)
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.OrgID), uuid.UUID(c.RegionID), c.Name, c.Code, lat, lng, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert constituency: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateElectoralArea(ctx context.Context, a *models.ElectoralArea) error {
	query := `
		INSERT INTO electoral_areas (id, organization_id, constituency_id, name, code, gps_lat, gps_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	lat, lng := gpsColumns(a.GPS)
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID), uuid.UUID(a.OrgID), uuid.UUID(a.ConstituencyID), a.Name, a.Code, lat, lng, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert electoral area: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePollingStation(ctx context.Context, p *models.PollingStation) error {
	query := `
		INSERT INTO polling_stations (id, organization_id, electoral_area_id, name, code, registered_voters, gps_lat, gps_lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	lat, lng := gpsColumns(p.GPS)
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID), uuid.UUID(p.OrgID), uuid.UUID(p.ElectoralAreaID), p.Name, p.Code, p.RegisteredVoters, lat, lng, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert polling station: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindPollingStation(ctx context.Context, stationID id.PollingStationID) (*models.PollingStation, error) {
	query := `
		SELECT id, organization_id, electoral_area_id, name, code, registered_voters,
		       gps_lat, gps_lng, deleted, created_at, updated_at
		FROM polling_stations
		WHERE id = $1
	`
	var (
		p        models.PollingStation
		lat, lng sql.NullFloat64
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(stationID)).Scan(
		(*uuid.UUID)(&p.ID), (*uuid.UUID)(&p.OrgID), (*uuid.UUID)(&p.ElectoralAreaID),
		&p.Name, &p.Code, &p.RegisteredVoters, &lat, &lng, &p.Deleted, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find polling station: %w", err)
	}
	p.GPS = gpsFromColumns(lat, lng)
	return &p, nil
}

// Exists reports whether a live polling station with the given ID exists.
func (s *PostgresStore) Exists(ctx context.Context, stationID id.PollingStationID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM polling_stations WHERE id = $1 AND NOT deleted)`,
		uuid.UUID(stationID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check polling station exists: %w", err)
	}
	return exists, nil
}

// Node returns the level-neutral view of one node.
func (s *PostgresStore) Node(ctx context.Context, level id.Level, nodeID uuid.UUID) (*models.Node, error) {
	meta, ok := nodeTables[level]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	votersCol := "0"
	if meta.hasVoters {
		votersCol = "registered_voters"
	}
	query := fmt.Sprintf(`
		SELECT id, %s, organization_id, name, code, %s
		FROM %s
		WHERE id = $1 AND NOT deleted
	`, meta.parentCol, votersCol, meta.table)

	n := models.Node{Level: level}
	err := s.execer(ctx).QueryRowContext(ctx, query, nodeID).Scan(
		&n.ID, &n.ParentID, (*uuid.UUID)(&n.OrgID), &n.Name, &n.Code, &n.RegisteredVoters,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find %s node: %w", level, err)
	}
	return &n, nil
}

// Children returns all live nodes at childLevel directly under parentID.
func (s *PostgresStore) Children(ctx context.Context, childLevel id.Level, parentID uuid.UUID) ([]models.Node, error) {
	meta, ok := nodeTables[childLevel]
	if !ok {
		return nil, fmt.Errorf("level %s has no node table", childLevel)
	}
	votersCol := "0"
	if meta.hasVoters {
		votersCol = "registered_voters"
	}
	query := fmt.Sprintf(`
		SELECT id, %s, organization_id, name, code, %s
		FROM %s
		WHERE %s = $1 AND NOT deleted
		ORDER BY name, id
	`, meta.parentCol, votersCol, meta.table, meta.parentCol)

	rows, err := s.execer(ctx).QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("list %s children: %w", childLevel, err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		n := models.Node{Level: childLevel}
		if err := rows.Scan(&n.ID, &n.ParentID, (*uuid.UUID)(&n.OrgID), &n.Name, &n.Code, &n.RegisteredVoters); err != nil {
			return nil, fmt.Errorf("scan %s node: %w", childLevel, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// HasLiveChildren reports whether any undeleted node sits directly below.
func (s *PostgresStore) HasLiveChildren(ctx context.Context, level id.Level, nodeID uuid.UUID) (bool, error) {
	childLevel, ok := level.ChildLevel()
	if !ok {
		return false, nil
	}
	meta, ok := nodeTables[childLevel]
	if !ok {
		return false, nil
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND NOT deleted)`, meta.table, meta.parentCol)
	var exists bool
	if err := s.execer(ctx).QueryRowContext(ctx, query, nodeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s children: %w", level, err)
	}
	return exists, nil
}

// StationReferenced reports whether any result sheet points at the station.
// Referenced stations are never deleted; they are part of the historical record.
func (s *PostgresStore) StationReferenced(ctx context.Context, stationID id.PollingStationID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM result_sheets WHERE polling_station_id = $1)`,
		uuid.UUID(stationID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check station references: %w", err)
	}
	return exists, nil
}

// UpdateStationVoters sets the authoritative registered-voter count.
func (s *PostgresStore) UpdateStationVoters(ctx context.Context, stationID id.PollingStationID, registeredVoters int, now time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE polling_stations SET registered_voters = $2, updated_at = $3 WHERE id = $1 AND NOT deleted`,
		uuid.UUID(stationID), registeredVoters, now,
	)
	if err != nil {
		return fmt.Errorf("update station voters: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update station voters rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// SoftDelete marks a node deleted without removing the row. Rows stay behind
// so historical sheets and rollups keep a resolvable location.
func (s *PostgresStore) SoftDelete(ctx context.Context, level id.Level, nodeID uuid.UUID, now time.Time) error {
	meta, ok := nodeTables[level]
	if !ok {
		return sentinel.ErrNotFound
	}
	query := fmt.Sprintf(`UPDATE %s SET deleted = TRUE, updated_at = $2 WHERE id = $1 AND NOT deleted`, meta.table)
	res, err := s.execer(ctx).ExecContext(ctx, query, nodeID, now)
	if err != nil {
		return fmt.Errorf("delete %s node: %w", level, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s node rows affected: %w", level, err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func gpsColumns(g *models.GPS) (lat, lng sql.NullFloat64) {
	if g == nil {
		return
	}
	return sql.NullFloat64{Float64: g.Lat, Valid: true}, sql.NullFloat64{Float64: g.Lng, Valid: true}
}

func gpsFromColumns(lat, lng sql.NullFloat64) *models.GPS {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.GPS{Lat: lat.Float64, Lng: lng.Float64}
}
