// Package store persists field incident reports.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collate/internal/incident/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
	txcontext "collate/pkg/platform/tx"
)

// defaultListLimit caps election listings when the caller does not ask for
// a size.
const defaultListLimit = 50

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

// Create inserts a new incident report.
func (s *PostgresStore) Create(ctx context.Context, inc *models.Incident) error {
	query := `
		INSERT INTO collation_incidents
			(id, election_id, polling_station_id, electoral_area_id,
			 constituency_id, region_id, result_sheet_id,
			 incident_type, category, severity, title, description,
			 reported_by, reported_at, report_gps, status,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(inc.ID),
		uuid.UUID(inc.ElectionID),
		stationColumn(inc.Scope.StationID),
		areaColumn(inc.Scope.AreaID),
		constituencyColumn(inc.Scope.ConstituencyID),
		regionColumn(inc.Scope.RegionID),
		sheetColumn(inc.Scope.SheetID),
		string(inc.Type),
		string(inc.Category),
		string(inc.Severity),
		inc.Title,
		inc.Description,
		uuid.UUID(inc.ReportedBy),
		inc.ReportedAt,
		nullString(inc.ReportGPS),
		string(inc.Status),
		inc.CreatedAt,
		inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// FindByID returns one incident.
func (s *PostgresStore) FindByID(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error) {
	row := s.execer(ctx).QueryRowContext(ctx, selectIncident+` WHERE id = $1`, uuid.UUID(incidentID))
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("incident not found: %w", sentinel.ErrNotFound)
		}
		return nil, err
	}
	return inc, nil
}

// ListByElection returns an election's incidents, newest report first.
// Status and severity filters narrow the listing when set.
func (s *PostgresStore) ListByElection(ctx context.Context, electionID id.ElectionID, filter models.ListFilter) ([]*models.Incident, error) {
	query := selectIncident + ` WHERE election_id = $1`
	args := []any{uuid.UUID(electionID)}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY reported_at DESC, id LIMIT $%d", len(args))

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// Execute atomically applies a validated mutation to one incident. The row
// stays locked (FOR UPDATE) from read through write. The loaded record is
// returned even when validation fails.
func (s *PostgresStore) Execute(ctx context.Context, incidentID id.IncidentID, validate func(*models.Incident) error, mutate func(*models.Incident)) (*models.Incident, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin incident update: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	row := dbTx.QueryRowContext(ctx, selectIncident+` WHERE id = $1 FOR UPDATE`, uuid.UUID(incidentID))
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("incident not found: %w", sentinel.ErrNotFound)
		}
		return nil, err
	}

	if err := validate(inc); err != nil {
		return inc, err
	}
	mutate(inc)

	query := `
		UPDATE collation_incidents
		SET status = $2, assigned_to = $3, assigned_at = $4,
		    resolved_by = $5, resolved_at = $6,
		    resolution = $7, resolution_type = $8, updated_at = $9
		WHERE id = $1
	`
	if _, err := dbTx.ExecContext(ctx, query,
		uuid.UUID(inc.ID),
		string(inc.Status),
		officerColumn(inc.AssignedTo),
		timeColumn(inc.AssignedAt),
		officerColumn(inc.ResolvedBy),
		timeColumn(inc.ResolvedAt),
		nullString(inc.Resolution),
		nullString(string(inc.ResolutionType)),
		inc.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit incident update: %w", err)
	}
	return inc, nil
}

const selectIncident = `
	SELECT id, election_id, polling_station_id, electoral_area_id,
	       constituency_id, region_id, result_sheet_id,
	       incident_type, category, severity, title, description,
	       reported_by, reported_at, report_gps, status,
	       assigned_to, assigned_at, resolved_by, resolved_at,
	       resolution, resolution_type, created_at, updated_at
	FROM collation_incidents
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc            models.Incident
		stationID      uuid.NullUUID
		areaID         uuid.NullUUID
		constituencyID uuid.NullUUID
		regionID       uuid.NullUUID
		sheetID        uuid.NullUUID
		reportGPS      sql.NullString
		assignedTo     uuid.NullUUID
		assignedAt     sql.NullTime
		resolvedBy     uuid.NullUUID
		resolvedAt     sql.NullTime
		resolution     sql.NullString
		resolutionType sql.NullString
	)
	err := row.Scan(
		(*uuid.UUID)(&inc.ID),
		(*uuid.UUID)(&inc.ElectionID),
		&stationID,
		&areaID,
		&constituencyID,
		&regionID,
		&sheetID,
		(*string)(&inc.Type),
		(*string)(&inc.Category),
		(*string)(&inc.Severity),
		&inc.Title,
		&inc.Description,
		(*uuid.UUID)(&inc.ReportedBy),
		&inc.ReportedAt,
		&reportGPS,
		(*string)(&inc.Status),
		&assignedTo,
		&assignedAt,
		&resolvedBy,
		&resolvedAt,
		&resolution,
		&resolutionType,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	if stationID.Valid {
		v := id.PollingStationID(stationID.UUID)
		inc.Scope.StationID = &v
	}
	if areaID.Valid {
		v := id.ElectoralAreaID(areaID.UUID)
		inc.Scope.AreaID = &v
	}
	if constituencyID.Valid {
		v := id.ConstituencyID(constituencyID.UUID)
		inc.Scope.ConstituencyID = &v
	}
	if regionID.Valid {
		v := id.RegionID(regionID.UUID)
		inc.Scope.RegionID = &v
	}
	if sheetID.Valid {
		v := id.SheetID(sheetID.UUID)
		inc.Scope.SheetID = &v
	}
	inc.ReportGPS = reportGPS.String
	if assignedTo.Valid {
		v := id.OfficerID(assignedTo.UUID)
		inc.AssignedTo = &v
	}
	if assignedAt.Valid {
		v := assignedAt.Time
		inc.AssignedAt = &v
	}
	if resolvedBy.Valid {
		v := id.OfficerID(resolvedBy.UUID)
		inc.ResolvedBy = &v
	}
	if resolvedAt.Valid {
		v := resolvedAt.Time
		inc.ResolvedAt = &v
	}
	inc.Resolution = resolution.String
	inc.ResolutionType = models.ResolutionType(resolutionType.String)
	return &inc, nil
}

func stationColumn(stationID *id.PollingStationID) any {
	if stationID == nil {
		return nil
	}
	return uuid.UUID(*stationID)
}

func areaColumn(areaID *id.ElectoralAreaID) any {
	if areaID == nil {
		return nil
	}
	return uuid.UUID(*areaID)
}

func constituencyColumn(constituencyID *id.ConstituencyID) any {
	if constituencyID == nil {
		return nil
	}
	return uuid.UUID(*constituencyID)
}

func regionColumn(regionID *id.RegionID) any {
	if regionID == nil {
		return nil
	}
	return uuid.UUID(*regionID)
}

func sheetColumn(sheetID *id.SheetID) any {
	if sheetID == nil {
		return nil
	}
	return uuid.UUID(*sheetID)
}

func officerColumn(officerID *id.OfficerID) any {
	if officerID == nil {
		return nil
	}
	return uuid.UUID(*officerID)
}

func timeColumn(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
