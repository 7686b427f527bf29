// Package models defines collation discrepancies: structured anomalies raised
// when vote arithmetic does not add up. A discrepancy never blocks the sheet
// or result it was raised against; it exists for human review.
package models

import (
	"time"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

// Type classifies what kind of arithmetic inconsistency was found.
type Type string

const (
	// TypeVoteMismatch: the sum of per-candidate entries disagrees with the
	// sheet's declared valid_votes.
	TypeVoteMismatch Type = "vote_mismatch"
	// TypeBallotCount: ballots cast exceed registered voters beyond the
	// accepted tolerance.
	TypeBallotCount Type = "ballot_count"
	// TypeTotalMismatch: a rollup's totals disagree with its children.
	TypeTotalMismatch Type = "total_mismatch"
	// TypeRegionalMismatch: cross-region totals disagree with the national
	// rollup.
	TypeRegionalMismatch Type = "regional_mismatch"
)

func (t Type) Valid() bool {
	switch t {
	case TypeVoteMismatch, TypeBallotCount, TypeTotalMismatch, TypeRegionalMismatch:
		return true
	}
	return false
}

// DetectionMethod records whether the detector or a human raised the
// discrepancy.
type DetectionMethod string

const (
	DetectionAutomatic DetectionMethod = "automatic"
	DetectionManual    DetectionMethod = "manual"
)

// Status is the investigation state of a discrepancy.
type Status string

const (
	StatusUnresolved    Status = "unresolved"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusIgnored       Status = "ignored"
)

// statusTransitions lists the allowed moves. Resolved and ignored are
// terminal. Unresolved may skip straight to a terminal state.
var statusTransitions = map[Status][]Status{
	StatusUnresolved:    {StatusInvestigating, StatusResolved, StatusIgnored},
	StatusInvestigating: {StatusResolved, StatusIgnored},
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Open reports whether the discrepancy still needs human attention.
func (s Status) Open() bool {
	return s == StatusUnresolved || s == StatusInvestigating
}

// Discrepancy is one recorded anomaly. Exactly one of SheetID and
// CollationResultID is set, naming the subject the numbers were read from.
// Expected/Reported/Difference are frozen at detection time and never
// recomputed; CorrectedValue records the investigator's verdict.
type Discrepancy struct {
	ID                id.DiscrepancyID      `json:"id"`
	ElectionID        id.ElectionID         `json:"election_id"`
	SheetID           *id.SheetID           `json:"result_sheet_id,omitempty"`
	CollationResultID *id.CollationResultID `json:"collation_result_id,omitempty"`
	Type              Type                  `json:"discrepancy_type"`
	Level             id.Level              `json:"level"`
	Description       string                `json:"description"`
	Expected          int64                 `json:"expected_value"`
	Reported          int64                 `json:"reported_value"`
	Difference        int64                 `json:"difference"`
	DetectionMethod   DetectionMethod       `json:"detection_method"`
	Status            Status                `json:"status"`
	ResolvedBy        *id.OfficerID         `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time            `json:"resolved_at,omitempty"`
	Resolution        string                `json:"resolution,omitempty"`
	CorrectedValue    *int64                `json:"corrected_value,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func validateDiscrepancy(electionID id.ElectionID, typ Type, level id.Level) error {
	if electionID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "discrepancy requires an election")
	}
	if !typ.Valid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown discrepancy type %q", typ)
	}
	if !level.IsValid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown level %q", level)
	}
	return nil
}

// NewForSheet builds a discrepancy against a polling-station result sheet.
// Difference is derived from expected and reported, never passed in.
func NewForSheet(discrepancyID id.DiscrepancyID, electionID id.ElectionID, sheetID id.SheetID, typ Type, method DetectionMethod, description string, expected, reported int64, now time.Time) (*Discrepancy, error) {
	if err := validateDiscrepancy(electionID, typ, id.LevelPollingStation); err != nil {
		return nil, err
	}
	if sheetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "discrepancy requires a result sheet")
	}
	return &Discrepancy{
		ID:              discrepancyID,
		ElectionID:      electionID,
		SheetID:         &sheetID,
		Type:            typ,
		Level:           id.LevelPollingStation,
		Description:     description,
		Expected:        expected,
		Reported:        reported,
		Difference:      absDiff(expected, reported),
		DetectionMethod: method,
		Status:          StatusUnresolved,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewForCollationResult builds a discrepancy against an aggregated rollup at
// the given level.
func NewForCollationResult(discrepancyID id.DiscrepancyID, electionID id.ElectionID, resultID id.CollationResultID, level id.Level, typ Type, method DetectionMethod, description string, expected, reported int64, now time.Time) (*Discrepancy, error) {
	if err := validateDiscrepancy(electionID, typ, level); err != nil {
		return nil, err
	}
	if resultID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "discrepancy requires a collation result")
	}
	if !level.IsAggregatable() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collation discrepancies require a rollup level")
	}
	return &Discrepancy{
		ID:                discrepancyID,
		ElectionID:        electionID,
		CollationResultID: &resultID,
		Type:              typ,
		Level:             level,
		Description:       description,
		Expected:          expected,
		Reported:          reported,
		Difference:        absDiff(expected, reported),
		DetectionMethod:   method,
		Status:            StatusUnresolved,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// CanStartInvestigation checks that the discrepancy can move to
// investigating. Use with ApplyStartInvestigation in Execute callbacks.
func (d *Discrepancy) CanStartInvestigation() error {
	if !d.Status.CanTransitionTo(StatusInvestigating) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "discrepancy is %s", d.Status)
	}
	return nil
}

// ApplyStartInvestigation moves the discrepancy to investigating. Call
// CanStartInvestigation first.
func (d *Discrepancy) ApplyStartInvestigation(now time.Time) {
	d.Status = StatusInvestigating
	d.UpdatedAt = now
}

// CanResolve checks that the discrepancy can be closed with a resolution.
// Use with ApplyResolve in Execute callbacks.
func (d *Discrepancy) CanResolve(resolution string) error {
	if !d.Status.CanTransitionTo(StatusResolved) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "discrepancy is %s", d.Status)
	}
	if resolution == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "resolution is required")
	}
	return nil
}

// ApplyResolve closes the discrepancy as resolved, recording who decided
// what. CorrectedValue is optional: nil means the reported figure stands.
// Call CanResolve first.
func (d *Discrepancy) ApplyResolve(actor id.OfficerID, resolution string, correctedValue *int64, now time.Time) {
	d.Status = StatusResolved
	d.ResolvedBy = &actor
	d.ResolvedAt = &now
	d.Resolution = resolution
	d.CorrectedValue = correctedValue
	d.UpdatedAt = now
}

// CanIgnore checks that the discrepancy can be dismissed. Use with
// ApplyIgnore in Execute callbacks.
func (d *Discrepancy) CanIgnore() error {
	if !d.Status.CanTransitionTo(StatusIgnored) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "discrepancy is %s", d.Status)
	}
	return nil
}

// ApplyIgnore dismisses the discrepancy without correcting anything. The
// dismissing officer is still recorded. Call CanIgnore first.
func (d *Discrepancy) ApplyIgnore(actor id.OfficerID, reason string, now time.Time) {
	d.Status = StatusIgnored
	d.ResolvedBy = &actor
	d.ResolvedAt = &now
	d.Resolution = reason
	d.UpdatedAt = now
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
