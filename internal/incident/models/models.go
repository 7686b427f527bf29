// Package models defines field incident reports: free-form trouble raised by
// officers during capture and collation (violence, equipment failures,
// missing sheets). Incidents carry no vote arithmetic; anything numeric
// belongs to a discrepancy.
package models

import (
	"time"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

// Type names what happened.
type Type string

const (
	TypeMissingSheet     Type = "missing_sheet"
	TypeDamagedSheet     Type = "damaged_sheet"
	TypeViolence         Type = "violence"
	TypeProtest          Type = "protest"
	TypeEquipmentFailure Type = "equipment_failure"
	TypeIrregularity     Type = "irregularity"
	TypeDelay            Type = "delay"
	TypeOther            Type = "other"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMissingSheet, TypeDamagedSheet, TypeViolence, TypeProtest,
		TypeEquipmentFailure, TypeIrregularity, TypeDelay, TypeOther:
		return true
	}
	return false
}

// Category groups incidents for triage dashboards.
type Category string

const (
	CategoryProcess       Category = "process"
	CategorySecurity      Category = "security"
	CategoryEquipment     Category = "equipment"
	CategoryDocumentation Category = "documentation"
	CategoryOther         Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryProcess, CategorySecurity, CategoryEquipment, CategoryDocumentation, CategoryOther:
		return true
	}
	return false
}

// Severity drives response priority.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Status is the handling state of an incident.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusEscalated     Status = "escalated"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// statusTransitions lists the allowed moves. Closed is terminal; resolved
// incidents may still be closed for the record. Open may skip straight to
// resolved when the fix beat the paperwork.
var statusTransitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusEscalated, StatusResolved, StatusClosed},
	StatusInvestigating: {StatusEscalated, StatusResolved, StatusClosed},
	StatusEscalated:     {StatusInvestigating, StatusResolved, StatusClosed},
	StatusResolved:      {StatusClosed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusEscalated, StatusResolved, StatusClosed:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Open reports whether the incident still needs attention.
func (s Status) Open() bool {
	return s == StatusOpen || s == StatusInvestigating || s == StatusEscalated
}

// ResolutionType records how the incident was put to bed.
type ResolutionType string

const (
	ResolutionFixed      ResolutionType = "fixed"
	ResolutionIgnored    ResolutionType = "ignored"
	ResolutionEscalated  ResolutionType = "escalated"
	ResolutionDocumented ResolutionType = "documented"
)

func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionFixed, ResolutionIgnored, ResolutionEscalated, ResolutionDocumented:
		return true
	}
	return false
}

// Scope pins an incident to the place it happened. All fields are optional;
// an election-wide incident carries none of them.
type Scope struct {
	StationID      *id.PollingStationID `json:"polling_station_id,omitempty"`
	AreaID         *id.ElectoralAreaID  `json:"electoral_area_id,omitempty"`
	ConstituencyID *id.ConstituencyID   `json:"constituency_id,omitempty"`
	RegionID       *id.RegionID         `json:"region_id,omitempty"`
	SheetID        *id.SheetID          `json:"result_sheet_id,omitempty"`
}

// Level returns the most specific geographic level the scope names, or ""
// for an election-wide incident.
func (s Scope) Level() id.Level {
	switch {
	case s.StationID != nil || s.SheetID != nil:
		return id.LevelPollingStation
	case s.AreaID != nil:
		return id.LevelElectoralArea
	case s.ConstituencyID != nil:
		return id.LevelConstituency
	case s.RegionID != nil:
		return id.LevelRegional
	}
	return ""
}

// ListFilter narrows election incident listings. Zero values mean any;
// a zero Limit takes the store's default page size.
type ListFilter struct {
	Status   Status
	Severity Severity
	Limit    int
}

// Incident is one reported field event.
type Incident struct {
	ID             id.IncidentID  `json:"id"`
	ElectionID     id.ElectionID  `json:"election_id"`
	Scope          Scope          `json:"scope"`
	Type           Type           `json:"incident_type"`
	Category       Category       `json:"category"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	ReportedBy     id.OfficerID   `json:"reported_by"`
	ReportedAt     time.Time      `json:"reported_at"`
	ReportGPS      string         `json:"report_gps,omitempty"`
	Status         Status         `json:"status"`
	AssignedTo     *id.OfficerID  `json:"assigned_to,omitempty"`
	AssignedAt     *time.Time     `json:"assigned_at,omitempty"`
	ResolvedBy     *id.OfficerID  `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	Resolution     string         `json:"resolution,omitempty"`
	ResolutionType ResolutionType `json:"resolution_type,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewIncident builds an open incident report.
func NewIncident(incidentID id.IncidentID, electionID id.ElectionID, scope Scope, typ Type, category Category, severity Severity, title, description string, reportedBy id.OfficerID, reportGPS string, now time.Time) (*Incident, error) {
	if electionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "incident requires an election")
	}
	if !typ.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown incident type %q", typ)
	}
	if !category.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown incident category %q", category)
	}
	if !severity.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown severity %q", severity)
	}
	if title == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "incident title is required")
	}
	if description == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "incident description is required")
	}
	if reportedBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "incident requires a reporting officer")
	}
	return &Incident{
		ID:          incidentID,
		ElectionID:  electionID,
		Scope:       scope,
		Type:        typ,
		Category:    category,
		Severity:    severity,
		Title:       title,
		Description: description,
		ReportedBy:  reportedBy,
		ReportedAt:  now,
		ReportGPS:   reportGPS,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanAssign checks that the incident can be handed to an officer. Use with
// ApplyAssign in Execute callbacks.
func (i *Incident) CanAssign() error {
	if !i.Status.Open() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "incident is %s", i.Status)
	}
	return nil
}

// ApplyAssign hands the incident to an officer and moves an open report to
// investigating. Re-assignment keeps the current status. Call CanAssign
// first.
func (i *Incident) ApplyAssign(assignee id.OfficerID, now time.Time) {
	i.AssignedTo = &assignee
	i.AssignedAt = &now
	if i.Status == StatusOpen {
		i.Status = StatusInvestigating
	}
	i.UpdatedAt = now
}

// CanEscalate checks that the incident can be pushed up the chain. Use with
// ApplyEscalate in Execute callbacks.
func (i *Incident) CanEscalate() error {
	if !i.Status.CanTransitionTo(StatusEscalated) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "incident is %s", i.Status)
	}
	return nil
}

// ApplyEscalate marks the incident escalated. Call CanEscalate first.
func (i *Incident) ApplyEscalate(now time.Time) {
	i.Status = StatusEscalated
	i.UpdatedAt = now
}

// CanResolve checks that the incident can be closed out with a resolution.
// Use with ApplyResolve in Execute callbacks.
func (i *Incident) CanResolve(resolution string, resolutionType ResolutionType) error {
	if !i.Status.CanTransitionTo(StatusResolved) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "incident is %s", i.Status)
	}
	if resolution == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "resolution is required")
	}
	if !resolutionType.Valid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown resolution type %q", resolutionType)
	}
	return nil
}

// ApplyResolve records who settled the incident and how. Call CanResolve
// first.
func (i *Incident) ApplyResolve(actor id.OfficerID, resolution string, resolutionType ResolutionType, now time.Time) {
	i.Status = StatusResolved
	i.ResolvedBy = &actor
	i.ResolvedAt = &now
	i.Resolution = resolution
	i.ResolutionType = resolutionType
	i.UpdatedAt = now
}

// CanClose checks that the incident can be taken off the books. Use with
// ApplyClose in Execute callbacks.
func (i *Incident) CanClose() error {
	if !i.Status.CanTransitionTo(StatusClosed) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "incident is %s", i.Status)
	}
	return nil
}

// ApplyClose ends the incident's lifecycle. Call CanClose first.
func (i *Incident) ApplyClose(now time.Time) {
	i.Status = StatusClosed
	i.UpdatedAt = now
}
