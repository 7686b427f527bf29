// Package store persists collation results. The upsert is keyed by the
// natural (election, position, level, location) key: concurrent aggregation
// runs for the same key race harmlessly to the same computed values, and the
// row's workflow columns are never touched by a recomputation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"collate/internal/collation/models"
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

// Upsert writes one computed tally. A first write inserts the row in status
// incomplete; a rewrite overwrites the tally columns and updated_at only, so
// officer stamps and the workflow status survive every re-run. Returns the
// stored row, which on conflict keeps its original id and created_at.
func (s *PostgresStore) Upsert(ctx context.Context, r *models.CollationResult) (*models.CollationResult, error) {
	results, err := json.Marshal(r.Results)
	if err != nil {
		return nil, fmt.Errorf("encode candidate results: %w", err)
	}
	query := `
		INSERT INTO collation_results (
			id, election_id, position_id, level, location_id,
			total_units, reported_units, approved_units,
			registered_voters, total_votes_cast, valid_votes, rejected_ballots,
			turnout_percentage, results, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (election_id, position_id, level, location_id) DO UPDATE
		SET total_units        = EXCLUDED.total_units,
		    reported_units     = EXCLUDED.reported_units,
		    approved_units     = EXCLUDED.approved_units,
		    registered_voters  = EXCLUDED.registered_voters,
		    total_votes_cast   = EXCLUDED.total_votes_cast,
		    valid_votes        = EXCLUDED.valid_votes,
		    rejected_ballots   = EXCLUDED.rejected_ballots,
		    turnout_percentage = EXCLUDED.turnout_percentage,
		    results            = EXCLUDED.results,
		    updated_at         = EXCLUDED.updated_at
		RETURNING ` + resultColumns
	row := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.ElectionID), uuid.UUID(r.PositionID), string(r.Level), r.LocationID,
		r.TotalUnits, r.ReportedUnits, r.ApprovedUnits,
		r.RegisteredVoters, r.TotalVotesCast, r.ValidVotes, r.RejectedBallots,
		r.TurnoutPercentage, results, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	stored, err := scanResult(row)
	if err != nil {
		return nil, fmt.Errorf("upsert collation result: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, resultID id.CollationResultID) (*models.CollationResult, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM collation_results WHERE id = $1`,
		uuid.UUID(resultID),
	)
	result, err := scanResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find collation result: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) FindByKey(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationID uuid.UUID) (*models.CollationResult, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+resultColumns+`
		 FROM collation_results
		 WHERE election_id = $1 AND position_id = $2 AND level = $3 AND location_id = $4`,
		uuid.UUID(electionID), uuid.UUID(positionID), string(level), locationID,
	)
	result, err := scanResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find collation result by key: %w", err)
	}
	return result, nil
}

// ListForLevel returns every rollup at one level of an election's race,
// ordered by location for stable output.
func (s *PostgresStore) ListForLevel(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level) ([]models.CollationResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM collation_results
		WHERE election_id = $1 AND position_id = $2 AND level = $3
		ORDER BY location_id
	`
	return s.list(ctx, query, uuid.UUID(electionID), uuid.UUID(positionID), string(level))
}

// ListForLocations returns the child rollups feeding one parent unit.
func (s *PostgresStore) ListForLocations(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationIDs []uuid.UUID) ([]models.CollationResult, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(locationIDs))
	for i, locationID := range locationIDs {
		ids[i] = locationID.String()
	}
	query := `SELECT ` + resultColumns + `
		FROM collation_results
		WHERE election_id = $1 AND position_id = $2 AND level = $3
		  AND location_id = ANY($4::uuid[])
		ORDER BY location_id
	`
	return s.list(ctx, query, uuid.UUID(electionID), uuid.UUID(positionID), string(level), pq.Array(ids))
}

// UpdateWorkflow writes the status and officer stamps, guarded by the
// expected current status. Zero rows affected returns sentinel.ErrConflict.
func (s *PostgresStore) UpdateWorkflow(ctx context.Context, r *models.CollationResult, expected models.CollationStatus) error {
	query := `
		UPDATE collation_results
		SET status = $3,
		    submitted_by = $4,
		    submitted_at = $5,
		    verified_by = $6,
		    verified_at = $7,
		    approved_by = $8,
		    approved_at = $9,
		    certified_by = $10,
		    certified_at = $11,
		    disputed_by = $12,
		    disputed_at = $13,
		    dispute_reason = $14,
		    updated_at = $15
		WHERE id = $1 AND status = $2
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), string(expected),
		string(r.Status),
		officerColumn(r.SubmittedBy), timeColumn(r.SubmittedAt),
		officerColumn(r.VerifiedBy), timeColumn(r.VerifiedAt),
		officerColumn(r.ApprovedBy), timeColumn(r.ApprovedAt),
		officerColumn(r.CertifiedBy), timeColumn(r.CertifiedAt),
		officerColumn(r.DisputedBy), timeColumn(r.DisputedAt), nullString(r.DisputeReason),
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update collation result workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update collation result rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

const resultColumns = `
	id, election_id, position_id, level, location_id,
	total_units, reported_units, approved_units,
	registered_voters, total_votes_cast, valid_votes, rejected_ballots,
	turnout_percentage, results, status,
	submitted_by, submitted_at,
	verified_by, verified_at,
	approved_by, approved_at,
	certified_by, certified_at,
	disputed_by, disputed_at, dispute_reason,
	created_at, updated_at
`

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.CollationResult, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list collation results: %w", err)
	}
	defer rows.Close()

	var results []models.CollationResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collation result: %w", err)
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanResult maps one collation_results row. sql.ErrNoRows passes through
// unwrapped so callers can translate it.
func scanResult(row rowScanner) (*models.CollationResult, error) {
	var (
		r             models.CollationResult
		resultsJSON   []byte
		submittedBy   uuid.NullUUID
		submittedAt   sql.NullTime
		verifiedBy    uuid.NullUUID
		verifiedAt    sql.NullTime
		approvedBy    uuid.NullUUID
		approvedAt    sql.NullTime
		certifiedBy   uuid.NullUUID
		certifiedAt   sql.NullTime
		disputedBy    uuid.NullUUID
		disputedAt    sql.NullTime
		disputeReason sql.NullString
	)
	err := row.Scan(
		(*uuid.UUID)(&r.ID), (*uuid.UUID)(&r.ElectionID), (*uuid.UUID)(&r.PositionID),
		(*string)(&r.Level), &r.LocationID,
		&r.TotalUnits, &r.ReportedUnits, &r.ApprovedUnits,
		&r.RegisteredVoters, &r.TotalVotesCast, &r.ValidVotes, &r.RejectedBallots,
		&r.TurnoutPercentage, &resultsJSON, (*string)(&r.Status),
		&submittedBy, &submittedAt,
		&verifiedBy, &verifiedAt,
		&approvedBy, &approvedAt,
		&certifiedBy, &certifiedAt,
		&disputedBy, &disputedAt, &disputeReason,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Results = []models.CandidateResult{}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &r.Results); err != nil {
			return nil, fmt.Errorf("decode candidate results: %w", err)
		}
	}
	r.SubmittedBy = officerPtr(submittedBy)
	r.SubmittedAt = timePtr(submittedAt)
	r.VerifiedBy = officerPtr(verifiedBy)
	r.VerifiedAt = timePtr(verifiedAt)
	r.ApprovedBy = officerPtr(approvedBy)
	r.ApprovedAt = timePtr(approvedAt)
	r.CertifiedBy = officerPtr(certifiedBy)
	r.CertifiedAt = timePtr(certifiedAt)
	r.DisputedBy = officerPtr(disputedBy)
	r.DisputedAt = timePtr(disputedAt)
	r.DisputeReason = disputeReason.String
	return &r, nil
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

func officerPtr(n uuid.NullUUID) *id.OfficerID {
	if !n.Valid {
		return nil
	}
	officerID := id.OfficerID(n.UUID)
	return &officerID
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
