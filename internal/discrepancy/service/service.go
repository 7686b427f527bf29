// Package service manages the discrepancy review workflow and houses the
// automatic detector. Discrepancies are raised against sheets or rollups,
// investigated, and closed as resolved or ignored; the underlying figures
// they were raised from are never rewritten.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"collate/internal/discrepancy/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/platform/sentinel"
	"collate/pkg/requestcontext"
)

// Store is the persistence contract the service needs. Both the PostgreSQL
// and the in-memory implementations satisfy it.
type Store interface {
	Create(ctx context.Context, d *models.Discrepancy) error
	FindByID(ctx context.Context, discrepancyID id.DiscrepancyID) (*models.Discrepancy, error)
	ListForSheet(ctx context.Context, sheetID id.SheetID) ([]*models.Discrepancy, error)
	ListOpenByElection(ctx context.Context, electionID id.ElectionID) ([]*models.Discrepancy, error)
	Execute(ctx context.Context, discrepancyID id.DiscrepancyID, validate func(*models.Discrepancy) error, mutate func(*models.Discrepancy)) (*models.Discrepancy, error)
}

// EventPublisher emits workflow events. Shared by the Service and the
// Detector.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

// Service orchestrates discrepancy reporting and resolution.
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

// ReportParams describes a manually raised discrepancy. Exactly one of
// SheetID and CollationResultID names the subject; Level is ignored for
// sheets, which always sit at the polling-station level.
type ReportParams struct {
	ElectionID        id.ElectionID
	SheetID           *id.SheetID
	CollationResultID *id.CollationResultID
	Level             id.Level
	Type              models.Type
	Description       string
	Expected          int64
	Reported          int64
}

// Report records a discrepancy raised by an investigator rather than the
// detector.
func (s *Service) Report(ctx context.Context, params ReportParams) (*models.Discrepancy, error) {
	if (params.SheetID == nil) == (params.CollationResultID == nil) {
		return nil, dErrors.New(dErrors.CodeValidation, "exactly one of sheet and collation result must be named")
	}
	params.Description = strings.TrimSpace(params.Description)
	if params.Description == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a description of the anomaly is required")
	}

	now := requestcontext.Now(ctx).UTC()
	var (
		disc *models.Discrepancy
		err  error
	)
	if params.SheetID != nil {
		disc, err = models.NewForSheet(id.DiscrepancyID(uuid.New()), params.ElectionID, *params.SheetID,
			params.Type, models.DetectionManual, params.Description, params.Expected, params.Reported, now)
	} else {
		disc, err = models.NewForCollationResult(id.DiscrepancyID(uuid.New()), params.ElectionID, *params.CollationResultID,
			params.Level, params.Type, models.DetectionManual, params.Description, params.Expected, params.Reported, now)
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.store.Create(ctx, disc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record discrepancy")
	}

	s.logTransition(ctx, "discrepancy_reported", disc)
	s.emit(ctx, events.EventDiscrepancyDetected, disc, disc.Description)
	return disc, nil
}

// StartInvestigation moves an open discrepancy to investigating.
func (s *Service) StartInvestigation(ctx context.Context, discrepancyID id.DiscrepancyID) (*models.Discrepancy, error) {
	if err := requireDiscrepancyID(discrepancyID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	disc, err := s.store.Execute(ctx, discrepancyID,
		func(d *models.Discrepancy) error {
			if err := d.CanStartInvestigation(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot investigate a %s discrepancy", d.Status)
				}
				return err
			}
			return nil
		},
		func(d *models.Discrepancy) {
			d.ApplyStartInvestigation(now)
		},
	)
	if err != nil {
		return nil, wrapDiscrepancyErr(err)
	}

	s.logTransition(ctx, "discrepancy_investigation_started", disc)
	s.emit(ctx, events.EventDiscrepancyInvestigating, disc, "")
	return disc, nil
}

// Resolve closes a discrepancy with the investigator's verdict.
// CorrectedValue is optional: nil records that the reported figure stands.
func (s *Service) Resolve(ctx context.Context, discrepancyID id.DiscrepancyID, actor id.OfficerID, resolution string, correctedValue *int64) (*models.Discrepancy, error) {
	if err := requireDiscrepancyID(discrepancyID); err != nil {
		return nil, err
	}
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a resolution note is required")
	}

	now := requestcontext.Now(ctx).UTC()
	disc, err := s.store.Execute(ctx, discrepancyID,
		func(d *models.Discrepancy) error {
			if err := d.CanResolve(resolution); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot resolve a %s discrepancy", d.Status)
				}
				return err
			}
			return nil
		},
		func(d *models.Discrepancy) {
			d.ApplyResolve(actor, resolution, correctedValue, now)
		},
	)
	if err != nil {
		return nil, wrapDiscrepancyErr(err)
	}

	s.logTransition(ctx, "discrepancy_resolved", disc)
	s.emit(ctx, events.EventDiscrepancyResolved, disc, resolution)
	return disc, nil
}

// Ignore dismisses a discrepancy without correcting anything.
func (s *Service) Ignore(ctx context.Context, discrepancyID id.DiscrepancyID, actor id.OfficerID, reason string) (*models.Discrepancy, error) {
	if err := requireDiscrepancyID(discrepancyID); err != nil {
		return nil, err
	}
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}
	reason = strings.TrimSpace(reason)

	now := requestcontext.Now(ctx).UTC()
	disc, err := s.store.Execute(ctx, discrepancyID,
		func(d *models.Discrepancy) error {
			if err := d.CanIgnore(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot ignore a %s discrepancy", d.Status)
				}
				return err
			}
			return nil
		},
		func(d *models.Discrepancy) {
			d.ApplyIgnore(actor, reason, now)
		},
	)
	if err != nil {
		return nil, wrapDiscrepancyErr(err)
	}

	s.logTransition(ctx, "discrepancy_ignored", disc)
	s.emit(ctx, events.EventDiscrepancyIgnored, disc, reason)
	return disc, nil
}

// Get returns one discrepancy.
func (s *Service) Get(ctx context.Context, discrepancyID id.DiscrepancyID) (*models.Discrepancy, error) {
	if err := requireDiscrepancyID(discrepancyID); err != nil {
		return nil, err
	}
	disc, err := s.store.FindByID(ctx, discrepancyID)
	if err != nil {
		return nil, wrapDiscrepancyErr(err)
	}
	return disc, nil
}

// ListOpen returns an election's unresolved and investigating discrepancies,
// oldest first.
func (s *Service) ListOpen(ctx context.Context, electionID id.ElectionID) ([]*models.Discrepancy, error) {
	if electionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "election is required")
	}
	out, err := s.store.ListOpenByElection(ctx, electionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list discrepancies")
	}
	return out, nil
}

// ListForSheet returns every discrepancy ever raised against a sheet,
// oldest first, regardless of status.
func (s *Service) ListForSheet(ctx context.Context, sheetID id.SheetID) ([]*models.Discrepancy, error) {
	if sheetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sheet is required")
	}
	out, err := s.store.ListForSheet(ctx, sheetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list discrepancies")
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, action events.WorkflowEvent, disc *models.Discrepancy, reason string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Emit(ctx, events.Event{
		ElectionID: disc.ElectionID,
		Subject:    disc.ID.String(),
		Action:     string(action),
		Level:      string(disc.Level),
		ToStatus:   string(disc.Status),
		Reason:     reason,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "discrepancy event dropped",
			"discrepancy_id", disc.ID, "action", action, "error", err)
	}
}

func (s *Service) logTransition(ctx context.Context, event string, disc *models.Discrepancy) {
	if s.logger == nil {
		return
	}
	attributes := []any{
		"discrepancy_id", disc.ID,
		"election_id", disc.ElectionID,
		"discrepancy_type", disc.Type,
		"status", disc.Status,
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event, attributes...)
}

func requireDiscrepancyID(discrepancyID id.DiscrepancyID) error {
	if discrepancyID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "discrepancy id is required")
	}
	return nil
}

func wrapDiscrepancyErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "discrepancy not found")
	}
	if code := dErrors.CodeOf(err); code != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "discrepancy store failure")
}
