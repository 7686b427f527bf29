// Package models defines the collation result: one aggregated tally per
// (election, position, level, location), rolled up from approved polling
// station sheets and re-rolled from approved child results at each level
// above.
//
// The computed figures and the review workflow are deliberately decoupled:
// aggregation may overwrite the numbers at any time, but only officer
// actions move the status, and a re-run never disturbs stamps already made.
package models

import (
	"time"

	"github.com/google/uuid"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

// CollationStatus is the workflow state of an aggregated result.
type CollationStatus string

const (
	StatusIncomplete CollationStatus = "incomplete"
	StatusSubmitted  CollationStatus = "submitted"
	StatusVerified   CollationStatus = "verified"
	StatusApproved   CollationStatus = "approved"
	StatusCertified  CollationStatus = "certified"
	StatusDisputed   CollationStatus = "disputed"
)

// collationTransitions lists the allowed moves. A dispute can freeze any
// state past incomplete, certification included; resolving one goes back
// through submission so the full review chain runs again.
var collationTransitions = map[CollationStatus][]CollationStatus{
	StatusIncomplete: {StatusSubmitted},
	StatusSubmitted:  {StatusVerified, StatusDisputed},
	StatusVerified:   {StatusApproved, StatusDisputed},
	StatusApproved:   {StatusCertified, StatusDisputed},
	StatusCertified:  {StatusDisputed},
	StatusDisputed:   {StatusSubmitted},
}

func (s CollationStatus) CanTransitionTo(target CollationStatus) bool {
	for _, allowed := range collationTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Counted reports whether the row's figures roll up into the level above.
func (s CollationStatus) Counted() bool {
	return s == StatusApproved || s == StatusCertified
}

// Reported reports whether the row counts toward reported_units coverage at
// its parent level. Disputed rows are frozen out until resubmitted.
func (s CollationStatus) Reported() bool {
	switch s {
	case StatusSubmitted, StatusVerified, StatusApproved, StatusCertified:
		return true
	}
	return false
}

// CandidateResult is one line of an aggregated tally. Percentage is of the
// valid votes at this row's level and is recomputed on every aggregation
// run; it is never summed across levels.
type CandidateResult struct {
	CandidateID   *id.CandidateID `json:"candidate_id,omitempty"`
	CandidateName string          `json:"candidate_name"`
	Party         string          `json:"party,omitempty"`
	Votes         int             `json:"votes"`
	Percentage    float64         `json:"percentage"`
}

// Tally is the complete computed surface of one aggregation pass for a
// single parent unit. Coverage counters and vote sums travel together so an
// upsert replaces all of them atomically.
type Tally struct {
	TotalUnits        int
	ReportedUnits     int
	ApprovedUnits     int
	RegisteredVoters  int
	TotalVotesCast    int
	ValidVotes        int
	RejectedBallots   int
	TurnoutPercentage float64
	Results           []CandidateResult
}

// CollationResult is the aggregate root for one rolled-up tally.
//
// Invariants:
//   - (ElectionID, PositionID, Level, LocationID) is unique
//   - Status moves only along collationTransitions
//   - Re-aggregation overwrites the tally fields and UpdatedAt only; ID,
//     Status, officer stamps and CreatedAt survive every re-run
type CollationResult struct {
	ID         id.CollationResultID `json:"id"`
	ElectionID id.ElectionID        `json:"election_id"`
	PositionID id.PositionID        `json:"position_id"`
	Level      id.Level             `json:"level"`
	LocationID uuid.UUID            `json:"location_id"`

	TotalUnits    int `json:"total_units"`
	ReportedUnits int `json:"reported_units"`
	ApprovedUnits int `json:"approved_units"`

	RegisteredVoters  int     `json:"registered_voters"`
	TotalVotesCast    int     `json:"total_votes_cast"`
	ValidVotes        int     `json:"valid_votes"`
	RejectedBallots   int     `json:"rejected_ballots"`
	TurnoutPercentage float64 `json:"turnout_percentage"`

	Results []CandidateResult `json:"results"`
	Status  CollationStatus   `json:"status"`

	SubmittedBy   *id.OfficerID `json:"submitted_by,omitempty"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	VerifiedBy    *id.OfficerID `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time    `json:"verified_at,omitempty"`
	ApprovedBy    *id.OfficerID `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time    `json:"approved_at,omitempty"`
	CertifiedBy   *id.OfficerID `json:"certified_by,omitempty"`
	CertifiedAt   *time.Time    `json:"certified_at,omitempty"`
	DisputedBy    *id.OfficerID `json:"disputed_by,omitempty"`
	DisputedAt    *time.Time    `json:"disputed_at,omitempty"`
	DisputeReason string        `json:"dispute_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewComputed builds the row for a unit the aggregator has not seen before.
// Rows start incomplete regardless of coverage; submission is an officer
// decision, never a side effect of the arithmetic.
func NewComputed(resultID id.CollationResultID, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationID uuid.UUID, tally Tally, now time.Time) (*CollationResult, error) {
	if resultID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collation result requires an id")
	}
	if electionID.IsNil() || positionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collation result requires an election and a position")
	}
	if !level.IsAggregatable() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "level %s cannot hold collation results", level)
	}
	if locationID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collation result requires a location")
	}
	r := &CollationResult{
		ID:         resultID,
		ElectionID: electionID,
		PositionID: positionID,
		Level:      level,
		LocationID: locationID,
		Status:     StatusIncomplete,
		CreatedAt:  now,
	}
	r.ApplyTally(tally, now)
	return r, nil
}

// ApplyTally overwrites the computed surface and nothing else. Results is
// normalized to an empty slice so the stored JSON is always an array.
func (r *CollationResult) ApplyTally(tally Tally, now time.Time) {
	r.TotalUnits = tally.TotalUnits
	r.ReportedUnits = tally.ReportedUnits
	r.ApprovedUnits = tally.ApprovedUnits
	r.RegisteredVoters = tally.RegisteredVoters
	r.TotalVotesCast = tally.TotalVotesCast
	r.ValidVotes = tally.ValidVotes
	r.RejectedBallots = tally.RejectedBallots
	r.TurnoutPercentage = tally.TurnoutPercentage
	r.Results = tally.Results
	if r.Results == nil {
		r.Results = []CandidateResult{}
	}
	r.UpdatedAt = now
}

// CanSubmit covers both the first submission and resubmission after a
// dispute is resolved.
func (r *CollationResult) CanSubmit() error {
	if r.Status != StatusIncomplete && r.Status != StatusDisputed {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot submit a collation result in status %s", r.Status)
	}
	return nil
}

// ApplySubmit moves the row to submitted. Review stamps from a prior pass
// are cleared so the chain reads cleanly after a dispute; the dispute
// record itself is kept.
func (r *CollationResult) ApplySubmit(actor id.OfficerID, now time.Time) {
	r.Status = StatusSubmitted
	r.SubmittedBy = &actor
	r.SubmittedAt = &now
	r.VerifiedBy = nil
	r.VerifiedAt = nil
	r.ApprovedBy = nil
	r.ApprovedAt = nil
	r.CertifiedBy = nil
	r.CertifiedAt = nil
	r.UpdatedAt = now
}

func (r *CollationResult) CanVerify() error {
	if r.Status != StatusSubmitted {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot verify a collation result in status %s", r.Status)
	}
	return nil
}

func (r *CollationResult) ApplyVerify(actor id.OfficerID, now time.Time) {
	r.Status = StatusVerified
	r.VerifiedBy = &actor
	r.VerifiedAt = &now
	r.UpdatedAt = now
}

func (r *CollationResult) CanApprove() error {
	if r.Status != StatusVerified {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot approve a collation result in status %s", r.Status)
	}
	return nil
}

// ApplyApprove marks the row approved, at which point its figures count
// toward the level above on the next aggregation run.
func (r *CollationResult) ApplyApprove(actor id.OfficerID, now time.Time) {
	r.Status = StatusApproved
	r.ApprovedBy = &actor
	r.ApprovedAt = &now
	r.UpdatedAt = now
}

func (r *CollationResult) CanCertify() error {
	if r.Status != StatusApproved {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot certify a collation result in status %s", r.Status)
	}
	return nil
}

func (r *CollationResult) ApplyCertify(actor id.OfficerID, now time.Time) {
	r.Status = StatusCertified
	r.CertifiedBy = &actor
	r.CertifiedAt = &now
	r.UpdatedAt = now
}

func (r *CollationResult) CanDispute() error {
	if !r.Status.CanTransitionTo(StatusDisputed) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot dispute a collation result in status %s", r.Status)
	}
	return nil
}

func (r *CollationResult) ApplyDispute(actor id.OfficerID, reason string, now time.Time) {
	r.Status = StatusDisputed
	r.DisputedBy = &actor
	r.DisputedAt = &now
	r.DisputeReason = reason
	r.UpdatedAt = now
}
