package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"collate/internal/resultsheet/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
	txcontext "collate/pkg/platform/tx"
)

// PostgresStore persists result sheets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed result-sheet store.
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

// CreateSheet inserts a fresh draft. A second sheet on the same
// (election, position, station, type) key returns sentinel.ErrAlreadyUsed.
func (s *PostgresStore) CreateSheet(ctx context.Context, r *models.ResultSheet) error {
	query := `
		INSERT INTO result_sheets (
			id, election_id, position_id, polling_station_id, sheet_type, status,
			registered_voters, ballots_issued, ballots_cast, valid_votes,
			rejected_ballots, spoilt_ballots, unused_ballots,
			entered_by, entered_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.ElectionID), uuid.UUID(r.PositionID), uuid.UUID(r.PollingStationID),
		string(r.SheetType), string(r.Status),
		r.RegisteredVoters, r.BallotsIssued, r.BallotsCast, r.ValidVotes,
		r.RejectedBallots, r.SpoiltBallots, r.UnusedBallots,
		uuid.UUID(r.EnteredBy), r.EnteredAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert result sheet: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, sheetID id.SheetID) (*models.ResultSheet, error) {
	row := s.execer(ctx).QueryRowContext(ctx, selectSheet+` WHERE id = $1`, uuid.UUID(sheetID))
	sheet, err := scanSheet(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find result sheet: %w", err)
	}
	return sheet, nil
}

// UpdateWorkflow writes the status, the workflow stamps, and the quality
// columns from the in-memory sheet, guarded by the expected current status.
// Zero rows affected returns sentinel.ErrConflict.
func (s *PostgresStore) UpdateWorkflow(ctx context.Context, r *models.ResultSheet, expected models.SheetStatus) error {
	query := `
		UPDATE result_sheets
		SET status = $3,
		    data_quality_score = $4,
		    data_quality_flags = $5,
		    submitted_by = $6,
		    submitted_at = $7,
		    verified_by = $8,
		    verified_at = $9,
		    verification_notes = $10,
		    approved_by = $11,
		    approved_at = $12,
		    rejected_by = $13,
		    rejected_at = $14,
		    rejection_reason = $15,
		    disputed_by = $16,
		    disputed_at = $17,
		    dispute_reason = $18,
		    updated_at = $19
		WHERE id = $1 AND status = $2
	`
	flags, err := flagsJSON(r.QualityFlags)
	if err != nil {
		return fmt.Errorf("encode quality flags: %w", err)
	}
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), string(expected),
		string(r.Status), scoreColumn(r.QualityScore), flags,
		officerColumn(r.SubmittedBy), timeColumn(r.SubmittedAt),
		officerColumn(r.VerifiedBy), timeColumn(r.VerifiedAt), nullString(r.VerificationNotes),
		officerColumn(r.ApprovedBy), timeColumn(r.ApprovedAt),
		officerColumn(r.RejectedBy), timeColumn(r.RejectedAt), nullString(r.RejectionReason),
		officerColumn(r.DisputedBy), timeColumn(r.DisputedAt), nullString(r.DisputeReason),
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update result sheet workflow: %w", err)
	}
	return requireOneRow(res, "update result sheet workflow")
}

// UpdateFigures writes the declared ballot accounting, guarded by the
// expected current status.
func (s *PostgresStore) UpdateFigures(ctx context.Context, r *models.ResultSheet, expected models.SheetStatus) error {
	query := `
		UPDATE result_sheets
		SET registered_voters = $3,
		    ballots_issued = $4,
		    ballots_cast = $5,
		    valid_votes = $6,
		    rejected_ballots = $7,
		    spoilt_ballots = $8,
		    unused_ballots = $9,
		    updated_at = $10
		WHERE id = $1 AND status = $2
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), string(expected),
		r.RegisteredVoters, r.BallotsIssued, r.BallotsCast, r.ValidVotes,
		r.RejectedBallots, r.SpoiltBallots, r.UnusedBallots,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update result sheet figures: %w", err)
	}
	return requireOneRow(res, "update result sheet figures")
}

// ReplaceEntries swaps the full entry set of a draft sheet. The sheet row is
// touched first under the draft guard; the row lock this takes serializes
// the replacement against a concurrent submit.
func (s *PostgresStore) ReplaceEntries(ctx context.Context, sheetID id.SheetID, entries []models.Entry, now time.Time) error {
	ex := s.execer(ctx)

	res, err := ex.ExecContext(ctx,
		`UPDATE result_sheets SET updated_at = $2 WHERE id = $1 AND status = 'draft'`,
		uuid.UUID(sheetID), now,
	)
	if err != nil {
		return fmt.Errorf("touch result sheet: %w", err)
	}
	if err := requireOneRow(res, "touch result sheet"); err != nil {
		return err
	}

	if _, err := ex.ExecContext(ctx,
		`DELETE FROM result_sheet_entries WHERE result_sheet_id = $1`,
		uuid.UUID(sheetID),
	); err != nil {
		return fmt.Errorf("clear sheet entries: %w", err)
	}

	query := `
		INSERT INTO result_sheet_entries (
			id, result_sheet_id, candidate_id, candidate_name, party,
			votes_in_figures, votes_in_words, ballot_order, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i := range entries {
		e := &entries[i]
		_, err := ex.ExecContext(ctx, query,
			uuid.UUID(e.ID), uuid.UUID(e.SheetID), candidateColumn(e.CandidateID),
			e.CandidateName, e.Party, e.VotesInFigures, nullString(e.VotesInWords),
			e.BallotOrder, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert sheet entry: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, sheetID id.SheetID) ([]models.Entry, error) {
	query := `
		SELECT id, result_sheet_id, candidate_id, candidate_name, party,
		       votes_in_figures, votes_in_words, ballot_order, created_at
		FROM result_sheet_entries
		WHERE result_sheet_id = $1
		ORDER BY ballot_order, created_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(sheetID))
	if err != nil {
		return nil, fmt.Errorf("list sheet entries: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var (
			e           models.Entry
			candidateID uuid.NullUUID
			words       sql.NullString
		)
		err := rows.Scan(
			(*uuid.UUID)(&e.ID), (*uuid.UUID)(&e.SheetID), &candidateID,
			&e.CandidateName, &e.Party, &e.VotesInFigures, &words, &e.BallotOrder, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sheet entry: %w", err)
		}
		if candidateID.Valid {
			cid := id.CandidateID(candidateID.UUID)
			e.CandidateID = &cid
		}
		e.VotesInWords = words.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) AddAttachment(ctx context.Context, a *models.Attachment) error {
	query := `
		INSERT INTO result_sheet_attachments (
			id, result_sheet_id, file_url, file_type, file_name,
			ocr_text, ocr_confidence, gps_location, uploaded_by, uploaded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID), uuid.UUID(a.SheetID), a.FileURL, a.FileType, a.FileName,
		nullString(a.OCRText), confidenceColumn(a.OCRConfidence), nullString(a.GPSLocation),
		uuid.UUID(a.UploadedBy), a.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sheet attachment: %w", err)
	}
	return nil
}

// ListAttachments returns the sheet's attachments, newest first.
func (s *PostgresStore) ListAttachments(ctx context.Context, sheetID id.SheetID) ([]models.Attachment, error) {
	query := `
		SELECT id, result_sheet_id, file_url, file_type, file_name,
		       ocr_text, ocr_confidence, gps_location, uploaded_by, uploaded_at
		FROM result_sheet_attachments
		WHERE result_sheet_id = $1
		ORDER BY uploaded_at DESC, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(sheetID))
	if err != nil {
		return nil, fmt.Errorf("list sheet attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var (
			a          models.Attachment
			ocrText    sql.NullString
			confidence sql.NullFloat64
			gps        sql.NullString
			uploadedBy uuid.NullUUID
		)
		err := rows.Scan(
			(*uuid.UUID)(&a.ID), (*uuid.UUID)(&a.SheetID), &a.FileURL, &a.FileType, &a.FileName,
			&ocrText, &confidence, &gps, &uploadedBy, &a.UploadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sheet attachment: %w", err)
		}
		a.OCRText = ocrText.String
		if confidence.Valid {
			v := confidence.Float64
			a.OCRConfidence = &v
		}
		a.GPSLocation = gps.String
		if uploadedBy.Valid {
			a.UploadedBy = id.OfficerID(uploadedBy.UUID)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// ListForStations returns the primary sheets for the given stations under
// one election and position. Duplicate and replacement sheets are evidence,
// not input to rollups.
func (s *PostgresStore) ListForStations(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, stationIDs []id.PollingStationID) ([]models.ResultSheet, error) {
	if len(stationIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(stationIDs))
	for i, stationID := range stationIDs {
		ids[i] = stationID.String()
	}
	query := selectSheet + `
		WHERE election_id = $1 AND position_id = $2
		  AND polling_station_id = ANY($3::uuid[])
		  AND sheet_type = 'primary'
		ORDER BY created_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query,
		uuid.UUID(electionID), uuid.UUID(positionID), pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("list sheets for stations: %w", err)
	}
	defer rows.Close()

	var sheets []models.ResultSheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result sheet: %w", err)
		}
		sheets = append(sheets, *sheet)
	}
	return sheets, rows.Err()
}

// CountByStatus tallies the election's primary sheets per workflow status.
func (s *PostgresStore) CountByStatus(ctx context.Context, electionID id.ElectionID) (map[models.SheetStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM result_sheets
		WHERE election_id = $1 AND sheet_type = 'primary'
		GROUP BY status
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(electionID))
	if err != nil {
		return nil, fmt.Errorf("count sheets by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SheetStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan sheet status count: %w", err)
		}
		counts[models.SheetStatus(status)] = n
	}
	return counts, rows.Err()
}

// TopCandidates sums votes per candidate across the election's approved
// primary sheets, highest totals first.
func (s *PostgresStore) TopCandidates(ctx context.Context, electionID id.ElectionID, limit int) ([]models.CandidateTotal, error) {
	query := `
		SELECT e.candidate_name, e.party, SUM(e.votes_in_figures) AS votes
		FROM result_sheet_entries e
		JOIN result_sheets rs ON rs.id = e.result_sheet_id
		WHERE rs.election_id = $1 AND rs.sheet_type = 'primary' AND rs.status = 'approved'
		GROUP BY e.candidate_name, e.party
		ORDER BY votes DESC, e.candidate_name
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(electionID), limit)
	if err != nil {
		return nil, fmt.Errorf("list top candidates: %w", err)
	}
	defer rows.Close()

	var totals []models.CandidateTotal
	for rows.Next() {
		var total models.CandidateTotal
		if err := rows.Scan(&total.CandidateName, &total.Party, &total.Votes); err != nil {
			return nil, fmt.Errorf("scan candidate total: %w", err)
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

const selectSheet = `
	SELECT id, election_id, position_id, polling_station_id, sheet_type, status,
	       registered_voters, ballots_issued, ballots_cast, valid_votes,
	       rejected_ballots, spoilt_ballots, unused_ballots,
	       data_quality_score, data_quality_flags,
	       entered_by, entered_at,
	       submitted_by, submitted_at,
	       verified_by, verified_at, verification_notes,
	       approved_by, approved_at,
	       rejected_by, rejected_at, rejection_reason,
	       disputed_by, disputed_at, dispute_reason,
	       created_at, updated_at
	FROM result_sheets
`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSheet maps one result_sheets row. sql.ErrNoRows passes through
// unwrapped so callers can translate it.
func scanSheet(row rowScanner) (*models.ResultSheet, error) {
	var (
		r             models.ResultSheet
		score         sql.NullFloat64
		flags         []byte
		enteredBy     uuid.NullUUID
		enteredAt     sql.NullTime
		submittedBy   uuid.NullUUID
		submittedAt   sql.NullTime
		verifiedBy    uuid.NullUUID
		verifiedAt    sql.NullTime
		notes         sql.NullString
		approvedBy    uuid.NullUUID
		approvedAt    sql.NullTime
		rejectedBy    uuid.NullUUID
		rejectedAt    sql.NullTime
		rejectReason  sql.NullString
		disputedBy    uuid.NullUUID
		disputedAt    sql.NullTime
		disputeReason sql.NullString
	)
	err := row.Scan(
		(*uuid.UUID)(&r.ID), (*uuid.UUID)(&r.ElectionID), (*uuid.UUID)(&r.PositionID), (*uuid.UUID)(&r.PollingStationID),
		&r.SheetType, &r.Status,
		&r.RegisteredVoters, &r.BallotsIssued, &r.BallotsCast, &r.ValidVotes,
		&r.RejectedBallots, &r.SpoiltBallots, &r.UnusedBallots,
		&score, &flags,
		&enteredBy, &enteredAt,
		&submittedBy, &submittedAt,
		&verifiedBy, &verifiedAt, &notes,
		&approvedBy, &approvedAt,
		&rejectedBy, &rejectedAt, &rejectReason,
		&disputedBy, &disputedAt, &disputeReason,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(math.Round(score.Float64))
		r.QualityScore = &v
	}
	if len(flags) > 0 {
		var decoded []string
		if err := json.Unmarshal(flags, &decoded); err != nil {
			return nil, fmt.Errorf("decode quality flags: %w", err)
		}
		if len(decoded) > 0 {
			r.QualityFlags = decoded
		}
	}
	if enteredBy.Valid {
		r.EnteredBy = id.OfficerID(enteredBy.UUID)
	}
	r.EnteredAt = enteredAt.Time
	r.SubmittedBy = officerPtr(submittedBy)
	r.SubmittedAt = timePtr(submittedAt)
	r.VerifiedBy = officerPtr(verifiedBy)
	r.VerifiedAt = timePtr(verifiedAt)
	r.VerificationNotes = notes.String
	r.ApprovedBy = officerPtr(approvedBy)
	r.ApprovedAt = timePtr(approvedAt)
	r.RejectedBy = officerPtr(rejectedBy)
	r.RejectedAt = timePtr(rejectedAt)
	r.RejectionReason = rejectReason.String
	r.DisputedBy = officerPtr(disputedBy)
	r.DisputedAt = timePtr(disputedAt)
	r.DisputeReason = disputeReason.String
	return &r, nil
}

func requireOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func flagsJSON(flags []string) ([]byte, error) {
	if len(flags) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(flags)
}

func scoreColumn(score *int) any {
	if score == nil {
		return nil
	}
	return *score
}

func candidateColumn(candidateID *id.CandidateID) any {
	if candidateID == nil {
		return nil
	}
	return uuid.UUID(*candidateID)
}

func confidenceColumn(confidence *float64) any {
	if confidence == nil {
		return nil
	}
	return *confidence
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
