// Package models defines the polling-station result sheet: the transcribed
// paper record that moves draft -> submitted -> verified -> approved, with
// reject looping back to draft and dispute freezing any post-draft state.
//
// Figures are declared, not derived: ValidVotes is what the paper sheet
// says, and the discrepancy detector compares it against the entry sum
// rather than silently overwriting either side.
package models

import (
	"time"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

// SheetType distinguishes the authoritative sheet from evidentiary copies.
// One sheet per type may exist for a (election, position, station) key;
// only primary sheets feed aggregation.
type SheetType string

const (
	SheetTypePrimary     SheetType = "primary"
	SheetTypeDuplicate   SheetType = "duplicate"
	SheetTypeReplacement SheetType = "replacement"
)

func (t SheetType) Valid() bool {
	switch t {
	case SheetTypePrimary, SheetTypeDuplicate, SheetTypeReplacement:
		return true
	}
	return false
}

// SheetStatus is the workflow state of a result sheet.
type SheetStatus string

const (
	StatusDraft     SheetStatus = "draft"
	StatusSubmitted SheetStatus = "submitted"
	StatusVerified  SheetStatus = "verified"
	StatusApproved  SheetStatus = "approved"
	StatusDisputed  SheetStatus = "disputed"
)

// sheetTransitions lists the allowed moves. Reject and reopen both land on
// draft; dispute is reachable from every post-draft state.
var sheetTransitions = map[SheetStatus][]SheetStatus{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusVerified, StatusDraft, StatusDisputed},
	StatusVerified:  {StatusApproved, StatusDraft, StatusDisputed},
	StatusApproved:  {StatusDisputed},
	StatusDisputed:  {StatusDraft},
}

func (s SheetStatus) CanTransitionTo(target SheetStatus) bool {
	for _, allowed := range sheetTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Counted reports whether the sheet's figures participate in aggregation.
// Approval is the "counted" signal.
func (s SheetStatus) Counted() bool {
	return s == StatusApproved
}

// Reported reports whether the sheet has left draft and not been frozen by a
// dispute; these sheets count toward reported_units coverage.
func (s SheetStatus) Reported() bool {
	return s == StatusSubmitted || s == StatusVerified || s == StatusApproved
}

// Accounting is the declared ballot arithmetic transcribed from the paper
// sheet. All figures are as-written; consistency is the detector's job.
type Accounting struct {
	RegisteredVoters int
	BallotsIssued    int
	BallotsCast      int
	ValidVotes       int
	RejectedBallots  int
	SpoiltBallots    int
	UnusedBallots    int
}

func (a Accounting) validate() error {
	fields := map[string]int{
		"registered_voters": a.RegisteredVoters,
		"ballots_issued":    a.BallotsIssued,
		"ballots_cast":      a.BallotsCast,
		"valid_votes":       a.ValidVotes,
		"rejected_ballots":  a.RejectedBallots,
		"spoilt_ballots":    a.SpoiltBallots,
		"unused_ballots":    a.UnusedBallots,
	}
	for name, v := range fields {
		if v < 0 {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "%s cannot be negative", name)
		}
	}
	return nil
}

// ResultSheet is the aggregate root for one transcribed paper sheet.
//
// Invariants:
//   - (ElectionID, PositionID, PollingStationID, SheetType) is unique
//   - Status moves only along sheetTransitions
//   - Entries are editable only in draft
//   - Reject and reopen clear the submission and verification stamps;
//     entries are retained for correction
type ResultSheet struct {
	ID               id.SheetID          `json:"id"`
	ElectionID       id.ElectionID       `json:"election_id"`
	PositionID       id.PositionID       `json:"position_id"`
	PollingStationID id.PollingStationID `json:"polling_station_id"`
	SheetType        SheetType           `json:"sheet_type"`
	Status           SheetStatus         `json:"status"`

	RegisteredVoters int `json:"registered_voters"`
	BallotsIssued    int `json:"ballots_issued"`
	BallotsCast      int `json:"ballots_cast"`
	ValidVotes       int `json:"valid_votes"`
	RejectedBallots  int `json:"rejected_ballots"`
	SpoiltBallots    int `json:"spoilt_ballots"`
	UnusedBallots    int `json:"unused_ballots"`

	// QualityScore is stamped by the detector run on submit; nil until then.
	QualityScore *int     `json:"data_quality_score,omitempty"`
	QualityFlags []string `json:"data_quality_flags,omitempty"`

	EnteredBy         id.OfficerID  `json:"entered_by"`
	EnteredAt         time.Time     `json:"entered_at"`
	SubmittedBy       *id.OfficerID `json:"submitted_by,omitempty"`
	SubmittedAt       *time.Time    `json:"submitted_at,omitempty"`
	VerifiedBy        *id.OfficerID `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time    `json:"verified_at,omitempty"`
	VerificationNotes string        `json:"verification_notes,omitempty"`
	ApprovedBy        *id.OfficerID `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time    `json:"approved_at,omitempty"`
	RejectedBy        *id.OfficerID `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time    `json:"rejected_at,omitempty"`
	RejectionReason   string        `json:"rejection_reason,omitempty"`
	DisputedBy        *id.OfficerID `json:"disputed_by,omitempty"`
	DisputedAt        *time.Time    `json:"disputed_at,omitempty"`
	DisputeReason     string        `json:"dispute_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewResultSheet builds a draft sheet. RegisteredVoters is snapshotted from
// the polling station register at creation and may be overwritten later by
// the declared accounting.
func NewResultSheet(sheetID id.SheetID, electionID id.ElectionID, positionID id.PositionID, stationID id.PollingStationID, sheetType SheetType, createdBy id.OfficerID, registeredVoters int, now time.Time) (*ResultSheet, error) {
	if electionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "result sheet requires an election")
	}
	if positionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "result sheet requires a position")
	}
	if stationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "result sheet requires a polling station")
	}
	if !sheetType.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown sheet type %q", sheetType)
	}
	if createdBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "result sheet requires an entering officer")
	}
	if registeredVoters < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "registered_voters cannot be negative")
	}
	return &ResultSheet{
		ID:               sheetID,
		ElectionID:       electionID,
		PositionID:       positionID,
		PollingStationID: stationID,
		SheetType:        sheetType,
		Status:           StatusDraft,
		RegisteredVoters: registeredVoters,
		EnteredBy:        createdBy,
		EnteredAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CanEdit checks that the sheet's entries and declared figures may still
// change. Editing is draft-only; rejected and reopened sheets are drafts
// again.
func (r *ResultSheet) CanEdit() error {
	if r.Status != StatusDraft {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot edit a sheet in status %s", r.Status)
	}
	return nil
}

// ApplyAccounting overwrites the declared figures. Call CanEdit first.
func (r *ResultSheet) ApplyAccounting(a Accounting, now time.Time) error {
	if err := a.validate(); err != nil {
		return err
	}
	r.RegisteredVoters = a.RegisteredVoters
	r.BallotsIssued = a.BallotsIssued
	r.BallotsCast = a.BallotsCast
	r.ValidVotes = a.ValidVotes
	r.RejectedBallots = a.RejectedBallots
	r.SpoiltBallots = a.SpoiltBallots
	r.UnusedBallots = a.UnusedBallots
	r.UpdatedAt = now
	return nil
}

// CanSubmit checks the draft -> submitted transition. A sheet without vote
// entries cannot be submitted.
func (r *ResultSheet) CanSubmit(entryCount int) error {
	if !r.Status.CanTransitionTo(StatusSubmitted) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot submit a sheet in status %s", r.Status)
	}
	if entryCount == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot submit without vote entries")
	}
	return nil
}

// ApplySubmit moves the sheet to submitted. Call CanSubmit first.
func (r *ResultSheet) ApplySubmit(actor id.OfficerID, now time.Time) {
	r.Status = StatusSubmitted
	r.SubmittedBy = &actor
	r.SubmittedAt = &now
	r.UpdatedAt = now
}

// CanVerify checks the submitted -> verified transition.
func (r *ResultSheet) CanVerify() error {
	if !r.Status.CanTransitionTo(StatusVerified) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot verify a sheet in status %s", r.Status)
	}
	return nil
}

// ApplyVerify moves the sheet to verified. Call CanVerify first.
func (r *ResultSheet) ApplyVerify(actor id.OfficerID, notes string, now time.Time) {
	r.Status = StatusVerified
	r.VerifiedBy = &actor
	r.VerifiedAt = &now
	r.VerificationNotes = notes
	r.UpdatedAt = now
}

// CanApprove checks the verified -> approved transition.
func (r *ResultSheet) CanApprove() error {
	if !r.Status.CanTransitionTo(StatusApproved) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot approve a sheet in status %s", r.Status)
	}
	return nil
}

// ApplyApprove moves the sheet to approved, the state aggregation counts.
// Call CanApprove first.
func (r *ResultSheet) ApplyApprove(actor id.OfficerID, now time.Time) {
	r.Status = StatusApproved
	r.ApprovedBy = &actor
	r.ApprovedAt = &now
	r.UpdatedAt = now
}

// CanReject checks that the sheet can be sent back to draft. Legal from
// submitted and verified only.
func (r *ResultSheet) CanReject() error {
	if r.Status != StatusSubmitted && r.Status != StatusVerified {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot reject a sheet in status %s", r.Status)
	}
	return nil
}

// ApplyReject returns the sheet to draft, clearing the submission and
// verification stamps. Entries are retained for correction. Call CanReject
// first.
func (r *ResultSheet) ApplyReject(actor id.OfficerID, reason string, now time.Time) {
	r.Status = StatusDraft
	r.SubmittedBy = nil
	r.SubmittedAt = nil
	r.VerifiedBy = nil
	r.VerifiedAt = nil
	r.VerificationNotes = ""
	r.RejectedBy = &actor
	r.RejectedAt = &now
	r.RejectionReason = reason
	r.UpdatedAt = now
}

// CanDispute checks that the sheet can be frozen for review. Legal from any
// post-draft state.
func (r *ResultSheet) CanDispute() error {
	if !r.Status.CanTransitionTo(StatusDisputed) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot dispute a sheet in status %s", r.Status)
	}
	return nil
}

// ApplyDispute freezes the sheet in disputed. The stamps of the state it
// left stay in place as evidence. Call CanDispute first.
func (r *ResultSheet) ApplyDispute(actor id.OfficerID, reason string, now time.Time) {
	r.Status = StatusDisputed
	r.DisputedBy = &actor
	r.DisputedAt = &now
	r.DisputeReason = reason
	r.UpdatedAt = now
}

// CanReopen checks the disputed -> draft transition.
func (r *ResultSheet) CanReopen() error {
	if !r.Status.CanTransitionTo(StatusDraft) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot reopen a sheet in status %s", r.Status)
	}
	return nil
}

// ApplyReopen returns a disputed sheet to draft for correction. The workflow
// stamps are cleared like a reject; the dispute record stays. Call CanReopen
// first.
func (r *ResultSheet) ApplyReopen(now time.Time) {
	r.Status = StatusDraft
	r.SubmittedBy = nil
	r.SubmittedAt = nil
	r.VerifiedBy = nil
	r.VerifiedAt = nil
	r.VerificationNotes = ""
	r.ApprovedBy = nil
	r.ApprovedAt = nil
	r.UpdatedAt = now
}

// StampQuality records the detector-derived score and flags.
func (r *ResultSheet) StampQuality(score int, flags []string, now time.Time) {
	r.QualityScore = &score
	r.QualityFlags = flags
	r.UpdatedAt = now
}

// Entry is one per-candidate vote row on a sheet.
type Entry struct {
	ID             id.EntryID      `json:"id"`
	SheetID        id.SheetID      `json:"result_sheet_id"`
	CandidateID    *id.CandidateID `json:"candidate_id,omitempty"`
	CandidateName  string          `json:"candidate_name"`
	Party          string          `json:"party,omitempty"`
	VotesInFigures int             `json:"votes_in_figures"`
	VotesInWords   string          `json:"votes_in_words,omitempty"`
	BallotOrder    int             `json:"ballot_order"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CandidateTotal is a candidate's vote sum across the approved sheets of one
// election, summed over every race. It feeds the dashboard preview only;
// authoritative per-race totals come from collation results.
type CandidateTotal struct {
	CandidateName string `json:"candidate_name"`
	Party         string `json:"party,omitempty"`
	Votes         int    `json:"votes"`
}

// NewEntry builds one vote row. CandidateID may be nil for write-in or
// unmatched names; CandidateName is always required.
func NewEntry(entryID id.EntryID, sheetID id.SheetID, candidateID *id.CandidateID, candidateName, party string, votes int, votesInWords string, ballotOrder int, now time.Time) (*Entry, error) {
	if sheetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "entry requires a result sheet")
	}
	if candidateName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "entry requires a candidate name")
	}
	if votes < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "votes cannot be negative")
	}
	return &Entry{
		ID:             entryID,
		SheetID:        sheetID,
		CandidateID:    candidateID,
		CandidateName:  candidateName,
		Party:          party,
		VotesInFigures: votes,
		VotesInWords:   votesInWords,
		BallotOrder:    ballotOrder,
		CreatedAt:      now,
	}, nil
}

// Attachment is a scanned or photographed exhibit tied to a sheet. The file
// itself lives in blob storage; FileURL is the opaque reference it returned.
type Attachment struct {
	ID            id.AttachmentID `json:"id"`
	SheetID       id.SheetID      `json:"result_sheet_id"`
	FileURL       string          `json:"file_url"`
	FileType      string          `json:"file_type,omitempty"`
	FileName      string          `json:"file_name,omitempty"`
	OCRText       string          `json:"ocr_text,omitempty"`
	OCRConfidence *float64        `json:"ocr_confidence,omitempty"`
	GPSLocation   string          `json:"gps_location,omitempty"`
	UploadedBy    id.OfficerID    `json:"uploaded_by"`
	UploadedAt    time.Time       `json:"uploaded_at"`
}

// NewAttachment builds an attachment record.
func NewAttachment(attachmentID id.AttachmentID, sheetID id.SheetID, fileURL, fileType, fileName string, uploadedBy id.OfficerID, now time.Time) (*Attachment, error) {
	if sheetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "attachment requires a result sheet")
	}
	if fileURL == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "attachment requires a file reference")
	}
	if uploadedBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "attachment requires an uploading officer")
	}
	return &Attachment{
		ID:         attachmentID,
		SheetID:    sheetID,
		FileURL:    fileURL,
		FileType:   fileType,
		FileName:   fileName,
		UploadedBy: uploadedBy,
		UploadedAt: now,
	}, nil
}
