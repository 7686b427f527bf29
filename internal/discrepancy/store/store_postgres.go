// Package store persists collation discrepancies.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collate/internal/discrepancy/models"
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

// Create inserts a new discrepancy. Runs on the ambient transaction when one
// is present, so detector writes ride the submit transaction.
func (s *PostgresStore) Create(ctx context.Context, d *models.Discrepancy) error {
	query := `
		INSERT INTO collation_discrepancies
			(id, election_id, result_sheet_id, collation_result_id,
			 discrepancy_type, level, description,
			 expected_value, reported_value, difference,
			 detection_method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(d.ID),
		uuid.UUID(d.ElectionID),
		sheetIDColumn(d.SheetID),
		resultIDColumn(d.CollationResultID),
		string(d.Type),
		string(d.Level),
		d.Description,
		d.Expected,
		d.Reported,
		d.Difference,
		string(d.DetectionMethod),
		string(d.Status),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert discrepancy: %w", err)
	}
	return nil
}

// FindByID returns one discrepancy.
func (s *PostgresStore) FindByID(ctx context.Context, discrepancyID id.DiscrepancyID) (*models.Discrepancy, error) {
	row := s.execer(ctx).QueryRowContext(ctx, selectDiscrepancy+` WHERE id = $1`, uuid.UUID(discrepancyID))
	d, err := scanDiscrepancy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("discrepancy not found: %w", sentinel.ErrNotFound)
		}
		return nil, err
	}
	return d, nil
}

// ListForSheet returns all discrepancies raised against a sheet, oldest
// first.
func (s *PostgresStore) ListForSheet(ctx context.Context, sheetID id.SheetID) ([]*models.Discrepancy, error) {
	query := selectDiscrepancy + `
		WHERE result_sheet_id = $1
		ORDER BY created_at, id
	`
	return s.list(ctx, query, uuid.UUID(sheetID))
}

// ListOpenByElection returns unresolved and investigating discrepancies for
// an election, oldest first.
func (s *PostgresStore) ListOpenByElection(ctx context.Context, electionID id.ElectionID) ([]*models.Discrepancy, error) {
	query := selectDiscrepancy + `
		WHERE election_id = $1 AND status IN ($2, $3)
		ORDER BY created_at, id
	`
	return s.list(ctx, query, uuid.UUID(electionID),
		string(models.StatusUnresolved), string(models.StatusInvestigating))
}

// HasOpenForSheet reports whether a sheet already carries an open discrepancy
// of the given type. The detector uses this to avoid stacking duplicates when
// a sheet is resubmitted or checks are re-run.
func (s *PostgresStore) HasOpenForSheet(ctx context.Context, sheetID id.SheetID, typ models.Type) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM collation_discrepancies
			WHERE result_sheet_id = $1 AND discrepancy_type = $2 AND status IN ($3, $4)
		)
	`
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(sheetID), string(typ),
		string(models.StatusUnresolved), string(models.StatusInvestigating),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open discrepancy: %w", err)
	}
	return exists, nil
}

// Execute atomically applies a validated mutation to one discrepancy. The row
// stays locked (FOR UPDATE) from read through write, so validate sees a value
// no concurrent writer can change underneath it. The loaded record is
// returned even when validation fails.
func (s *PostgresStore) Execute(ctx context.Context, discrepancyID id.DiscrepancyID, validate func(*models.Discrepancy) error, mutate func(*models.Discrepancy)) (*models.Discrepancy, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin discrepancy update: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	row := dbTx.QueryRowContext(ctx, selectDiscrepancy+` WHERE id = $1 FOR UPDATE`, uuid.UUID(discrepancyID))
	d, err := scanDiscrepancy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("discrepancy not found: %w", sentinel.ErrNotFound)
		}
		return nil, err
	}

	if err := validate(d); err != nil {
		return d, err
	}
	mutate(d)

	query := `
		UPDATE collation_discrepancies
		SET status = $2, resolved_by = $3, resolved_at = $4,
		    resolution = $5, corrected_value = $6, updated_at = $7
		WHERE id = $1
	`
	if _, err := dbTx.ExecContext(ctx, query,
		uuid.UUID(d.ID),
		string(d.Status),
		officerColumn(d.ResolvedBy),
		timeColumn(d.ResolvedAt),
		nullString(d.Resolution),
		d.CorrectedValue,
		d.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update discrepancy: %w", err)
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit discrepancy update: %w", err)
	}
	return d, nil
}

const selectDiscrepancy = `
	SELECT id, election_id, result_sheet_id, collation_result_id,
	       discrepancy_type, level, description,
	       expected_value, reported_value, difference,
	       detection_method, status, resolved_by, resolved_at,
	       resolution, corrected_value, created_at, updated_at
	FROM collation_discrepancies
`

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Discrepancy, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []*models.Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscrepancy(row rowScanner) (*models.Discrepancy, error) {
	var (
		d          models.Discrepancy
		sheetID    uuid.NullUUID
		resultID   uuid.NullUUID
		resolvedBy uuid.NullUUID
		resolvedAt sql.NullTime
		resolution sql.NullString
		corrected  sql.NullInt64
	)
	err := row.Scan(
		(*uuid.UUID)(&d.ID),
		(*uuid.UUID)(&d.ElectionID),
		&sheetID,
		&resultID,
		(*string)(&d.Type),
		(*string)(&d.Level),
		&d.Description,
		&d.Expected,
		&d.Reported,
		&d.Difference,
		(*string)(&d.DetectionMethod),
		(*string)(&d.Status),
		&resolvedBy,
		&resolvedAt,
		&resolution,
		&corrected,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan discrepancy: %w", err)
	}
	if sheetID.Valid {
		v := id.SheetID(sheetID.UUID)
		d.SheetID = &v
	}
	if resultID.Valid {
		v := id.CollationResultID(resultID.UUID)
		d.CollationResultID = &v
	}
	if resolvedBy.Valid {
		v := id.OfficerID(resolvedBy.UUID)
		d.ResolvedBy = &v
	}
	if resolvedAt.Valid {
		v := resolvedAt.Time
		d.ResolvedAt = &v
	}
	d.Resolution = resolution.String
	if corrected.Valid {
		v := corrected.Int64
		d.CorrectedValue = &v
	}
	return &d, nil
}

func sheetIDColumn(sheetID *id.SheetID) any {
	if sheetID == nil {
		return nil
	}
	return uuid.UUID(*sheetID)
}

func resultIDColumn(resultID *id.CollationResultID) any {
	if resultID == nil {
		return nil
	}
	return uuid.UUID(*resultID)
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
