// Package models defines the append-only workflow log. One entry records one
// transition on a result sheet or a collation result; entries are never
// mutated or deleted.
package models

import (
	"time"

	"github.com/google/uuid"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

// Action is the transition verb recorded on a log entry. Only status
// transitions are logged: creation and data edits never write a row, so a
// subject's history reads as its status changes alone.
type Action string

const (
	ActionSubmitted Action = "submitted"
	ActionVerified  Action = "verified"
	ActionApproved  Action = "approved"
	ActionRejected  Action = "rejected"
	ActionDisputed  Action = "disputed"
	ActionReopened  Action = "reopened"
	ActionCertified Action = "certified"
)

// Entry is one workflow-log row. Exactly one of SheetID and CollationResultID
// is set.
type Entry struct {
	ID                uuid.UUID             `json:"id"`
	ElectionID        id.ElectionID         `json:"election_id"`
	SheetID           *id.SheetID           `json:"result_sheet_id,omitempty"`
	CollationResultID *id.CollationResultID `json:"collation_result_id,omitempty"`
	Action            Action                `json:"action"`
	FromStatus        string                `json:"from_status,omitempty"`
	ToStatus          string                `json:"to_status"`
	Level             id.Level              `json:"level"`
	PerformedBy       id.OfficerID          `json:"performed_by"`
	Reason            string                `json:"reason,omitempty"`
	IPAddress         string                `json:"ip_address,omitempty"`
	GPSLocation       string                `json:"gps_location,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

func validateEntry(electionID id.ElectionID, action Action, toStatus string, performedBy id.OfficerID) error {
	if electionID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "log entry requires an election")
	}
	if action == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "log entry requires an action")
	}
	if toStatus == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "log entry requires a target status")
	}
	if performedBy.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "log entry requires an actor")
	}
	return nil
}

// NewForSheet builds a log entry for a result-sheet transition. Sheets live
// at the polling-station level.
func NewForSheet(electionID id.ElectionID, sheetID id.SheetID, action Action, fromStatus, toStatus string, performedBy id.OfficerID, now time.Time) (*Entry, error) {
	if err := validateEntry(electionID, action, toStatus, performedBy); err != nil {
		return nil, err
	}
	if sheetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "log entry requires a result sheet")
	}
	return &Entry{
		ID:          uuid.New(),
		ElectionID:  electionID,
		SheetID:     &sheetID,
		Action:      action,
		FromStatus:  fromStatus,
		ToStatus:    toStatus,
		Level:       id.LevelPollingStation,
		PerformedBy: performedBy,
		CreatedAt:   now,
	}, nil
}

// NewForCollationResult builds a log entry for a collation-result transition
// at the given rollup level.
func NewForCollationResult(electionID id.ElectionID, resultID id.CollationResultID, level id.Level, action Action, fromStatus, toStatus string, performedBy id.OfficerID, now time.Time) (*Entry, error) {
	if err := validateEntry(electionID, action, toStatus, performedBy); err != nil {
		return nil, err
	}
	if resultID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "log entry requires a collation result")
	}
	if !level.IsAggregatable() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collation entries require a rollup level")
	}
	return &Entry{
		ID:                uuid.New(),
		ElectionID:        electionID,
		CollationResultID: &resultID,
		Action:            action,
		FromStatus:        fromStatus,
		ToStatus:          toStatus,
		Level:             level,
		PerformedBy:       performedBy,
		CreatedAt:         now,
	}, nil
}
