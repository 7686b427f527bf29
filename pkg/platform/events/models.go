// Package events defines the workflow event stream. Domain services emit
// events alongside their state changes; the outbox store makes the write
// transactional and the relay worker ships committed events to Kafka.
package events

import (
	"context"
	"time"

	id "collate/pkg/domain"
)

// EventCategory classifies events by their downstream significance.
// This enables different retention policies and consumer routing.
type EventCategory string

const (
	// CategoryWorkflow covers status transitions with evidentiary weight.
	// These back the tally record and require long retention.
	CategoryWorkflow EventCategory = "workflow"

	// CategoryAnomaly covers detected and resolved discrepancies.
	// These feed review dashboards and alerting pipelines.
	CategoryAnomaly EventCategory = "anomaly"

	// CategoryOperations covers routine capture activity. These can be
	// sampled or aggregated with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	ElectionID id.ElectionID
	// Subject identifies the sheet, collation result, or discrepancy the
	// event is about.
	Subject    string
	Action     string
	Level      string
	FromStatus string
	ToStatus   string
	ActorID    string
	Reason     string
	// Enrichment fields filled from request context by the publisher.
	RequestID   string
	IPAddress   string
	GPSLocation string
	// Device is a short human-readable summary of the submitting client,
	// derived from the User-Agent header.
	Device string
}

// Store is the persistence sink for events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type WorkflowEvent string

const (
	// Result sheet events
	EventSheetCreated   WorkflowEvent = "sheet_created"
	EventSheetSubmitted WorkflowEvent = "sheet_submitted"
	EventSheetVerified  WorkflowEvent = "sheet_verified"
	EventSheetApproved  WorkflowEvent = "sheet_approved"
	EventSheetRejected  WorkflowEvent = "sheet_rejected"
	EventSheetDisputed  WorkflowEvent = "sheet_disputed"
	EventSheetReopened  WorkflowEvent = "sheet_reopened"

	// Collation result events
	EventResultSubmitted WorkflowEvent = "result_submitted"
	EventResultVerified  WorkflowEvent = "result_verified"
	EventResultApproved  WorkflowEvent = "result_approved"
	EventResultCertified WorkflowEvent = "result_certified"
	EventResultDisputed  WorkflowEvent = "result_disputed"
	EventResultReopened  WorkflowEvent = "result_reopened"

	// Discrepancy events
	EventDiscrepancyDetected      WorkflowEvent = "discrepancy_detected"
	EventDiscrepancyInvestigating WorkflowEvent = "discrepancy_investigating"
	EventDiscrepancyResolved      WorkflowEvent = "discrepancy_resolved"
	EventDiscrepancyIgnored       WorkflowEvent = "discrepancy_ignored"

	// Incident events
	EventIncidentReported  WorkflowEvent = "incident_reported"
	EventIncidentAssigned  WorkflowEvent = "incident_assigned"
	EventIncidentEscalated WorkflowEvent = "incident_escalated"
	EventIncidentResolved  WorkflowEvent = "incident_resolved"
	EventIncidentClosed    WorkflowEvent = "incident_closed"

	// Capture and tooling events
	EventEntriesReplaced      WorkflowEvent = "entries_replaced"
	EventAttachmentAdded      WorkflowEvent = "attachment_added"
	EventChecksRerun          WorkflowEvent = "checks_rerun"
	EventStationsActivated    WorkflowEvent = "stations_activated"
	EventAggregationCompleted WorkflowEvent = "aggregation_completed"
)

// eventCategories maps each event to its category.
// Workflow: status transitions, part of the permanent tally record.
// Anomaly: discrepancy lifecycle, feeds review queues.
// Operations: routine activity, can be sampled.
var eventCategories = map[WorkflowEvent]EventCategory{
	EventSheetCreated:   CategoryWorkflow,
	EventSheetSubmitted: CategoryWorkflow,
	EventSheetVerified:  CategoryWorkflow,
	EventSheetApproved:  CategoryWorkflow,
	EventSheetRejected:  CategoryWorkflow,
	EventSheetDisputed:  CategoryWorkflow,
	EventSheetReopened:  CategoryWorkflow,

	EventResultSubmitted: CategoryWorkflow,
	EventResultVerified:  CategoryWorkflow,
	EventResultApproved:  CategoryWorkflow,
	EventResultCertified: CategoryWorkflow,
	EventResultDisputed:  CategoryWorkflow,
	EventResultReopened:  CategoryWorkflow,

	EventDiscrepancyDetected:      CategoryAnomaly,
	EventDiscrepancyInvestigating: CategoryAnomaly,
	EventDiscrepancyResolved:      CategoryAnomaly,
	EventDiscrepancyIgnored:       CategoryAnomaly,

	EventIncidentReported:  CategoryAnomaly,
	EventIncidentAssigned:  CategoryAnomaly,
	EventIncidentEscalated: CategoryAnomaly,
	EventIncidentResolved:  CategoryAnomaly,
	EventIncidentClosed:    CategoryAnomaly,

	EventEntriesReplaced:      CategoryOperations,
	EventAttachmentAdded:      CategoryOperations,
	EventChecksRerun:          CategoryOperations,
	EventStationsActivated:    CategoryOperations,
	EventAggregationCompleted: CategoryOperations,
}

// Category returns the EventCategory for this event.
// Unknown events default to CategoryOperations.
func (e WorkflowEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
