// Package models defines the geographic hierarchy:
// Region -> Constituency -> ElectoralArea -> PollingStation.
//
// The tree shape is immutable in practice: nodes are created during
// administrative setup, rarely mutated, and soft-deleted only. A node
// referenced by a result sheet is never deleted.
package models

import (
	"time"

	"github.com/google/uuid"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

// GPS is an optional point location captured during setup.
type GPS struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Region is the top of the hierarchy.
type Region struct {
	ID        id.RegionID `json:"id"`
	OrgID     id.OrgID    `json:"organization_id"`
	Name      string      `json:"name"`
	Code      string      `json:"code,omitempty"`
	GPS       *GPS        `json:"gps,omitempty"`
	Deleted   bool        `json:"deleted"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Constituency sits under a region.
type Constituency struct {
	ID        id.ConstituencyID `json:"id"`
	OrgID     id.OrgID          `json:"organization_id"`
	RegionID  id.RegionID       `json:"region_id"`
	Name      string            `json:"name"`
	Code      string            `json:"code,omitempty"`
	GPS       *GPS              `json:"gps,omitempty"`
	Deleted   bool              `json:"deleted"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ElectoralArea sits under a constituency.
type ElectoralArea struct {
	ID             id.ElectoralAreaID `json:"id"`
	OrgID          id.OrgID           `json:"organization_id"`
	ConstituencyID id.ConstituencyID  `json:"constituency_id"`
	Name           string             `json:"name"`
	Code           string             `json:"code,omitempty"`
	GPS            *GPS               `json:"gps,omitempty"`
	Deleted        bool               `json:"deleted"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// PollingStation is the leaf where sheets are captured. It holds the only
// authoritative registered-voter count; higher levels derive theirs by
// summation.
type PollingStation struct {
	ID               id.PollingStationID `json:"id"`
	OrgID            id.OrgID            `json:"organization_id"`
	ElectoralAreaID  id.ElectoralAreaID  `json:"electoral_area_id"`
	Name             string              `json:"name"`
	Code             string              `json:"code,omitempty"`
	RegisteredVoters int                 `json:"registered_voters"`
	GPS              *GPS                `json:"gps,omitempty"`
	Deleted          bool                `json:"deleted"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Node is the level-neutral view used by hierarchy traversal and the
// aggregation engine. ParentID is the node one level up; for regions it is
// the organization.
type Node struct {
	ID               uuid.UUID `json:"id"`
	Level            id.Level  `json:"level"`
	ParentID         uuid.UUID `json:"parent_id"`
	OrgID            id.OrgID  `json:"organization_id"`
	Name             string    `json:"name"`
	Code             string    `json:"code,omitempty"`
	RegisteredVoters int       `json:"registered_voters,omitempty"`
}

func validateNodeName(name string) error {
	if name == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "node name cannot be empty")
	}
	if len(name) > 255 {
		return dErrors.New(dErrors.CodeInvariantViolation, "node name must be 255 characters or less")
	}
	return nil
}

func NewRegion(regionID id.RegionID, orgID id.OrgID, name, code string, now time.Time) (*Region, error) {
	if err := validateNodeName(name); err != nil {
		return nil, err
	}
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "region requires an organization")
	}
	return &Region{
		ID:        regionID,
		OrgID:     orgID,
		Name:      name,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func NewConstituency(constituencyID id.ConstituencyID, orgID id.OrgID, regionID id.RegionID, name, code string, now time.Time) (*Constituency, error) {
	if err := validateNodeName(name); err != nil {
		return nil, err
	}
	if regionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "constituency requires a parent region")
	}
	return &Constituency{
		ID:        constituencyID,
		OrgID:     orgID,
		RegionID:  regionID,
		Name:      name,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func NewElectoralArea(areaID id.ElectoralAreaID, orgID id.OrgID, constituencyID id.ConstituencyID, name, code string, now time.Time) (*ElectoralArea, error) {
	if err := validateNodeName(name); err != nil {
		return nil, err
	}
	if constituencyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "electoral area requires a parent constituency")
	}
	return &ElectoralArea{
		ID:             areaID,
		OrgID:          orgID,
		ConstituencyID: constituencyID,
		Name:           name,
		Code:           code,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func NewPollingStation(stationID id.PollingStationID, orgID id.OrgID, areaID id.ElectoralAreaID, name, code string, registeredVoters int, now time.Time) (*PollingStation, error) {
	if err := validateNodeName(name); err != nil {
		return nil, err
	}
	if areaID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "polling station requires a parent electoral area")
	}
	if registeredVoters < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "registered voters cannot be negative")
	}
	return &PollingStation{
		ID:               stationID,
		OrgID:            orgID,
		ElectoralAreaID:  areaID,
		Name:             name,
		Code:             code,
		RegisteredVoters: registeredVoters,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
