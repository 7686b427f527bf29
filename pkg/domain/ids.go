// Package domain holds identifier and enum types shared across the module.
//
// Every entity reference is a distinct UUID-backed type so the compiler
// rejects cross-entity mixups (passing a sheet ID where a station ID is
// expected). Construct IDs from external input with the ParseXxxID functions,
// which enforce the trust-boundary invariant: valid, non-nil UUIDs only.
// Direct conversion from uuid.UUID is reserved for internally generated IDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "collate/pkg/domain-errors"
)

type (
	// OrgID identifies the electoral organization owning the hierarchy.
	OrgID uuid.UUID
	// ElectionID identifies one election event.
	ElectionID uuid.UUID
	// PositionID identifies a contested position (office) on the ballot.
	PositionID uuid.UUID
	// RegionID identifies a top-level geographic region.
	RegionID uuid.UUID
	// ConstituencyID identifies a constituency within a region.
	ConstituencyID uuid.UUID
	// ElectoralAreaID identifies an electoral area within a constituency.
	ElectoralAreaID uuid.UUID
	// PollingStationID identifies a polling station within an electoral area.
	PollingStationID uuid.UUID
	// SheetID identifies one result sheet.
	SheetID uuid.UUID
	// EntryID identifies one per-candidate row on a result sheet.
	EntryID uuid.UUID
	// AttachmentID identifies one photographed-sheet attachment.
	AttachmentID uuid.UUID
	// CollationResultID identifies one aggregated rollup row.
	CollationResultID uuid.UUID
	// DiscrepancyID identifies one detected or reported anomaly.
	DiscrepancyID uuid.UUID
	// IncidentID identifies one field incident report.
	IncidentID uuid.UUID
	// OfficerID identifies the authenticated actor performing an operation.
	// Identity itself is established by an external service.
	OfficerID uuid.UUID
	// CandidateID identifies a registered candidate. Entries for write-in
	// candidates carry no CandidateID and are grouped by name instead.
	CandidateID uuid.UUID
)

// parseUUID enforces the shared parsing invariant for all ID types.
func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", what)
	}
	return u, nil
}

func ParseOrgID(s string) (OrgID, error) {
	u, err := parseUUID(s, "organization id")
	return OrgID(u), err
}

func ParseElectionID(s string) (ElectionID, error) {
	u, err := parseUUID(s, "election id")
	return ElectionID(u), err
}

func ParsePositionID(s string) (PositionID, error) {
	u, err := parseUUID(s, "position id")
	return PositionID(u), err
}

func ParseRegionID(s string) (RegionID, error) {
	u, err := parseUUID(s, "region id")
	return RegionID(u), err
}

func ParseConstituencyID(s string) (ConstituencyID, error) {
	u, err := parseUUID(s, "constituency id")
	return ConstituencyID(u), err
}

func ParseElectoralAreaID(s string) (ElectoralAreaID, error) {
	u, err := parseUUID(s, "electoral area id")
	return ElectoralAreaID(u), err
}

func ParsePollingStationID(s string) (PollingStationID, error) {
	u, err := parseUUID(s, "polling station id")
	return PollingStationID(u), err
}

func ParseSheetID(s string) (SheetID, error) {
	u, err := parseUUID(s, "sheet id")
	return SheetID(u), err
}

func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s, "entry id")
	return EntryID(u), err
}

func ParseAttachmentID(s string) (AttachmentID, error) {
	u, err := parseUUID(s, "attachment id")
	return AttachmentID(u), err
}

func ParseCollationResultID(s string) (CollationResultID, error) {
	u, err := parseUUID(s, "collation result id")
	return CollationResultID(u), err
}

func ParseDiscrepancyID(s string) (DiscrepancyID, error) {
	u, err := parseUUID(s, "discrepancy id")
	return DiscrepancyID(u), err
}

func ParseIncidentID(s string) (IncidentID, error) {
	u, err := parseUUID(s, "incident id")
	return IncidentID(u), err
}

func ParseOfficerID(s string) (OfficerID, error) {
	u, err := parseUUID(s, "officer id")
	return OfficerID(u), err
}

func ParseCandidateID(s string) (CandidateID, error) {
	u, err := parseUUID(s, "candidate id")
	return CandidateID(u), err
}

func (id OrgID) String() string            { return uuid.UUID(id).String() }
func (id ElectionID) String() string       { return uuid.UUID(id).String() }
func (id PositionID) String() string       { return uuid.UUID(id).String() }
func (id RegionID) String() string         { return uuid.UUID(id).String() }
func (id ConstituencyID) String() string   { return uuid.UUID(id).String() }
func (id ElectoralAreaID) String() string  { return uuid.UUID(id).String() }
func (id PollingStationID) String() string { return uuid.UUID(id).String() }
func (id SheetID) String() string          { return uuid.UUID(id).String() }
func (id EntryID) String() string          { return uuid.UUID(id).String() }
func (id AttachmentID) String() string     { return uuid.UUID(id).String() }
func (id CollationResultID) String() string {
	return uuid.UUID(id).String()
}
func (id DiscrepancyID) String() string { return uuid.UUID(id).String() }
func (id IncidentID) String() string    { return uuid.UUID(id).String() }
func (id OfficerID) String() string     { return uuid.UUID(id).String() }
func (id CandidateID) String() string   { return uuid.UUID(id).String() }

func (id OrgID) IsNil() bool             { return uuid.UUID(id) == uuid.Nil }
func (id ElectionID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id PositionID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id RegionID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id ConstituencyID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ElectoralAreaID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PollingStationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SheetID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id AttachmentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id CollationResultID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DiscrepancyID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id IncidentID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id OfficerID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id CandidateID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
