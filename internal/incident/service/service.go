// Package service manages field incident reports: officers raise them during
// capture and collation, coordinators assign, escalate and settle them.
// Incidents never gate a workflow transition; they are the operational paper
// trail beside it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"collate/internal/incident/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/platform/sentinel"
	"collate/pkg/requestcontext"
)

// Store is the persistence contract the service needs. Both the PostgreSQL
// and the in-memory implementations satisfy it.
type Store interface {
	Create(ctx context.Context, inc *models.Incident) error
	FindByID(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error)
	ListByElection(ctx context.Context, electionID id.ElectionID, filter models.ListFilter) ([]*models.Incident, error)
	Execute(ctx context.Context, incidentID id.IncidentID, validate func(*models.Incident) error, mutate func(*models.Incident)) (*models.Incident, error)
}

// EventPublisher emits workflow events.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

// Service orchestrates incident reporting and handling.
type Service struct {
	store     Store
	publisher EventPublisher
	logger    *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReportParams describes an incident being raised. Scope is optional; an
// election-wide incident names no location.
type ReportParams struct {
	ElectionID  id.ElectionID
	Scope       models.Scope
	Type        models.Type
	Category    models.Category
	Severity    models.Severity
	Title       string
	Description string
}

// Report records a new incident raised by the given officer. The GPS
// position comes from the request context.
func (s *Service) Report(ctx context.Context, params ReportParams, actor id.OfficerID) (*models.Incident, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}
	params.Title = strings.TrimSpace(params.Title)
	params.Description = strings.TrimSpace(params.Description)

	now := requestcontext.Now(ctx).UTC()
	inc, err := models.NewIncident(id.IncidentID(uuid.New()), params.ElectionID, params.Scope,
		params.Type, params.Category, params.Severity, params.Title, params.Description,
		actor, requestcontext.GPS(ctx), now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.store.Create(ctx, inc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record incident")
	}

	s.logTransition(ctx, "incident_reported", inc)
	s.emit(ctx, events.EventIncidentReported, inc, inc.Title)
	return inc, nil
}

// Assign hands an open incident to an officer; a fresh report moves to
// investigating. Re-assignment while open is allowed.
func (s *Service) Assign(ctx context.Context, incidentID id.IncidentID, assignee id.OfficerID) (*models.Incident, error) {
	if err := requireIncidentID(incidentID); err != nil {
		return nil, err
	}
	if assignee.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "assignee is required")
	}

	now := requestcontext.Now(ctx).UTC()
	inc, err := s.store.Execute(ctx, incidentID,
		func(i *models.Incident) error {
			if err := i.CanAssign(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot assign a %s incident", i.Status)
				}
				return err
			}
			return nil
		},
		func(i *models.Incident) {
			i.ApplyAssign(assignee, now)
		},
	)
	if err != nil {
		return nil, wrapIncidentErr(err)
	}

	s.logTransition(ctx, "incident_assigned", inc)
	s.emit(ctx, events.EventIncidentAssigned, inc, "")
	return inc, nil
}

// Escalate pushes an incident up the chain of command.
func (s *Service) Escalate(ctx context.Context, incidentID id.IncidentID, reason string) (*models.Incident, error) {
	if err := requireIncidentID(incidentID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	now := requestcontext.Now(ctx).UTC()
	inc, err := s.store.Execute(ctx, incidentID,
		func(i *models.Incident) error {
			if err := i.CanEscalate(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot escalate a %s incident", i.Status)
				}
				return err
			}
			return nil
		},
		func(i *models.Incident) {
			i.ApplyEscalate(now)
		},
	)
	if err != nil {
		return nil, wrapIncidentErr(err)
	}

	s.logTransition(ctx, "incident_escalated", inc)
	s.emit(ctx, events.EventIncidentEscalated, inc, reason)
	return inc, nil
}

// Resolve settles an incident with the handling officer's account of how.
func (s *Service) Resolve(ctx context.Context, incidentID id.IncidentID, actor id.OfficerID, resolution string, resolutionType models.ResolutionType) (*models.Incident, error) {
	if err := requireIncidentID(incidentID); err != nil {
		return nil, err
	}
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a resolution note is required")
	}
	if !resolutionType.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown resolution type %q", resolutionType)
	}

	now := requestcontext.Now(ctx).UTC()
	inc, err := s.store.Execute(ctx, incidentID,
		func(i *models.Incident) error {
			if err := i.CanResolve(resolution, resolutionType); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot resolve a %s incident", i.Status)
				}
				return err
			}
			return nil
		},
		func(i *models.Incident) {
			i.ApplyResolve(actor, resolution, resolutionType, now)
		},
	)
	if err != nil {
		return nil, wrapIncidentErr(err)
	}

	s.logTransition(ctx, "incident_resolved", inc)
	s.emit(ctx, events.EventIncidentResolved, inc, resolution)
	return inc, nil
}

// Close takes an incident off the books.
func (s *Service) Close(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error) {
	if err := requireIncidentID(incidentID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	inc, err := s.store.Execute(ctx, incidentID,
		func(i *models.Incident) error {
			if err := i.CanClose(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot close a %s incident", i.Status)
				}
				return err
			}
			return nil
		},
		func(i *models.Incident) {
			i.ApplyClose(now)
		},
	)
	if err != nil {
		return nil, wrapIncidentErr(err)
	}

	s.logTransition(ctx, "incident_closed", inc)
	s.emit(ctx, events.EventIncidentClosed, inc, "")
	return inc, nil
}

// Get returns one incident.
func (s *Service) Get(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error) {
	if err := requireIncidentID(incidentID); err != nil {
		return nil, err
	}
	inc, err := s.store.FindByID(ctx, incidentID)
	if err != nil {
		return nil, wrapIncidentErr(err)
	}
	return inc, nil
}

// List returns an election's incidents, newest report first, optionally
// narrowed by status and severity.
func (s *Service) List(ctx context.Context, electionID id.ElectionID, filter models.ListFilter) ([]*models.Incident, error) {
	if electionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "election is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown status %q", filter.Status)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown severity %q", filter.Severity)
	}
	out, err := s.store.ListByElection(ctx, electionID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list incidents")
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, action events.WorkflowEvent, inc *models.Incident, reason string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Emit(ctx, events.Event{
		ElectionID: inc.ElectionID,
		Subject:    inc.ID.String(),
		Action:     string(action),
		Level:      string(inc.Scope.Level()),
		ToStatus:   string(inc.Status),
		Reason:     reason,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "incident event dropped",
			"incident_id", inc.ID, "action", action, "error", err)
	}
}

func (s *Service) logTransition(ctx context.Context, event string, inc *models.Incident) {
	if s.logger == nil {
		return
	}
	attributes := []any{
		"incident_id", inc.ID,
		"election_id", inc.ElectionID,
		"incident_type", inc.Type,
		"severity", inc.Severity,
		"status", inc.Status,
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event, attributes...)
}

func requireIncidentID(incidentID id.IncidentID) error {
	if incidentID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "incident id is required")
	}
	return nil
}

func wrapIncidentErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "incident not found")
	}
	if code := dErrors.CodeOf(err); code != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "incident store failure")
}
