// Package models defines the election activation list. Elections and
// positions live in an upstream registry service; this module only needs
// their IDs plus the set of polling stations activated for each election.
package models

import (
	"time"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

// StationActivation maps one polling station into one election. The pair is
// unique; activating twice is a no-op. The activation list is the membership
// predicate for aggregation denominators and submission progress.
type StationActivation struct {
	ElectionID       id.ElectionID       `json:"election_id"`
	PollingStationID id.PollingStationID `json:"polling_station_id"`
	ActivatedAt      time.Time           `json:"activated_at"`
}

func NewStationActivation(electionID id.ElectionID, stationID id.PollingStationID, now time.Time) (*StationActivation, error) {
	if electionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "activation requires an election")
	}
	if stationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "activation requires a polling station")
	}
	return &StationActivation{
		ElectionID:       electionID,
		PollingStationID: stationID,
		ActivatedAt:      now,
	}, nil
}
