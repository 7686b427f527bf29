// Package store persists workflow-log entries. Appends also emit a Postgres
// NOTIFY on the same connection, so listeners see an entry only if its
// transaction commits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collate/internal/workflowlog/models"
	id "collate/pkg/domain"
	txcontext "collate/pkg/platform/tx"
)

// NotifyChannel is the Postgres channel workflow appends are announced on.
// The live feed listens here.
const NotifyChannel = "collation_events"

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

// notifyPayload is the JSON body sent over NotifyChannel. It carries enough
// for a feed consumer to render the transition without a read-back.
type notifyPayload struct {
	ID                uuid.UUID             `json:"id"`
	ElectionID        id.ElectionID         `json:"election_id"`
	ResultSheetID     *id.SheetID           `json:"result_sheet_id,omitempty"`
	CollationResultID *id.CollationResultID `json:"collation_result_id,omitempty"`
	Action            models.Action         `json:"action"`
	FromStatus        string                `json:"from_status,omitempty"`
	ToStatus          string                `json:"to_status"`
	Level             id.Level              `json:"level"`
	CreatedAt         time.Time             `json:"created_at"`
}

// Append writes one entry and notifies listeners. Runs on the ambient
// transaction when one is present, so the notify is dropped on rollback.
func (s *PostgresStore) Append(ctx context.Context, entry *models.Entry) error {
	query := `
		INSERT INTO collation_workflow_log
			(id, election_id, result_sheet_id, collation_result_id, action,
			 from_status, to_status, level, performed_by, reason,
			 ip_address, gps_location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		uuid.UUID(entry.ElectionID),
		sheetIDColumn(entry.SheetID),
		resultIDColumn(entry.CollationResultID),
		string(entry.Action),
		nullString(entry.FromStatus),
		entry.ToStatus,
		string(entry.Level),
		uuid.UUID(entry.PerformedBy),
		nullString(entry.Reason),
		nullString(entry.IPAddress),
		nullString(entry.GPSLocation),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow log entry: %w", err)
	}

	payload, err := json.Marshal(notifyPayload{
		ID:                entry.ID,
		ElectionID:        entry.ElectionID,
		ResultSheetID:     entry.SheetID,
		CollationResultID: entry.CollationResultID,
		Action:            entry.Action,
		FromStatus:        entry.FromStatus,
		ToStatus:          entry.ToStatus,
		Level:             entry.Level,
		CreatedAt:         entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	if _, err := s.execer(ctx).ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify workflow log entry: %w", err)
	}
	return nil
}

// ListForSheet returns a sheet's history oldest first.
func (s *PostgresStore) ListForSheet(ctx context.Context, sheetID id.SheetID) ([]models.Entry, error) {
	query := selectEntry + `
		WHERE result_sheet_id = $1
		ORDER BY created_at, id
	`
	return s.list(ctx, query, uuid.UUID(sheetID))
}

// ListForCollationResult returns a rollup's history oldest first.
func (s *PostgresStore) ListForCollationResult(ctx context.Context, resultID id.CollationResultID) ([]models.Entry, error) {
	query := selectEntry + `
		WHERE collation_result_id = $1
		ORDER BY created_at, id
	`
	return s.list(ctx, query, uuid.UUID(resultID))
}

// ListForElection returns an election's history oldest first, capped at
// limit when limit > 0.
func (s *PostgresStore) ListForElection(ctx context.Context, electionID id.ElectionID, limit int) ([]models.Entry, error) {
	query := selectEntry + `
		WHERE election_id = $1
		ORDER BY created_at, id
	`
	if limit > 0 {
		return s.list(ctx, query+fmt.Sprintf(" LIMIT %d", limit), uuid.UUID(electionID))
	}
	return s.list(ctx, query, uuid.UUID(electionID))
}

const selectEntry = `
	SELECT id, election_id, result_sheet_id, collation_result_id, action,
	       from_status, to_status, level, performed_by, reason,
	       ip_address, gps_location, created_at
	FROM collation_workflow_log
`

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (models.Entry, error) {
	var (
		entry      models.Entry
		sheetID    uuid.NullUUID
		resultID   uuid.NullUUID
		fromStatus sql.NullString
		reason     sql.NullString
		ipAddress  sql.NullString
		gps        sql.NullString
	)
	err := rows.Scan(
		&entry.ID,
		(*uuid.UUID)(&entry.ElectionID),
		&sheetID,
		&resultID,
		(*string)(&entry.Action),
		&fromStatus,
		&entry.ToStatus,
		(*string)(&entry.Level),
		(*uuid.UUID)(&entry.PerformedBy),
		&reason,
		&ipAddress,
		&gps,
		&entry.CreatedAt,
	)
	if err != nil {
		return models.Entry{}, fmt.Errorf("scan workflow log entry: %w", err)
	}
	if sheetID.Valid {
		v := id.SheetID(sheetID.UUID)
		entry.SheetID = &v
	}
	if resultID.Valid {
		v := id.CollationResultID(resultID.UUID)
		entry.CollationResultID = &v
	}
	entry.FromStatus = fromStatus.String
	entry.Reason = reason.String
	entry.IPAddress = ipAddress.String
	entry.GPSLocation = gps.String
	return entry, nil
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

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
