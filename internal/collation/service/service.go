// Package service rolls result sheets up through the geographic hierarchy
// and runs the review workflow on the aggregated rows. Aggregation is a pure
// recomputation: it may run any number of times as late sheets arrive and
// only ever overwrites the numbers, never the approval chain.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"collate/internal/collation/metrics"
	"collate/internal/collation/models"
	rsmodels "collate/internal/resultsheet/models"
	wflog "collate/internal/workflowlog/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/platform/sentinel"
	"collate/pkg/requestcontext"
)

// Store is the persistence contract for collation results. Upsert keeps the
// stored row's workflow state; UpdateWorkflow is compare-and-set and returns
// sentinel.ErrConflict when the row moved underneath the caller.
type Store interface {
	Upsert(ctx context.Context, r *models.CollationResult) (*models.CollationResult, error)
	FindByID(ctx context.Context, resultID id.CollationResultID) (*models.CollationResult, error)
	FindByKey(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationID uuid.UUID) (*models.CollationResult, error)
	ListForLevel(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level) ([]models.CollationResult, error)
	ListForLocations(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationIDs []uuid.UUID) ([]models.CollationResult, error)
	UpdateWorkflow(ctx context.Context, r *models.CollationResult, expected models.CollationStatus) error
}

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkflowLog is the append-only audit trail for collation transitions.
type WorkflowLog interface {
	Append(ctx context.Context, entry *wflog.Entry) error
	ListForCollationResult(ctx context.Context, resultID id.CollationResultID) ([]wflog.Entry, error)
}

// ChildUnits supplies aggregation step one: which child units one level
// below each parent are mapped into the election.
type ChildUnits interface {
	MappedChildUnits(ctx context.Context, electionID id.ElectionID, parentLevel id.Level) (map[uuid.UUID][]uuid.UUID, error)
}

// SheetSource reads the primary sheets feeding the electoral-area rollup.
type SheetSource interface {
	ListForStations(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, stationIDs []id.PollingStationID) ([]rsmodels.ResultSheet, error)
	ListEntries(ctx context.Context, sheetID id.SheetID) ([]rsmodels.Entry, error)
}

// EventPublisher emits workflow events.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

// Service runs the collation result workflow and serves reads. Aggregation
// itself lives on the Aggregator in this package.
type Service struct {
	store     Store
	tx        TxRunner
	log       WorkflowLog
	publisher EventPublisher
	metrics   *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service. The store, the transaction runner and the
// workflow log are required; everything else is optional.
func New(store Store, tx TxRunner, log WorkflowLog, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetResult loads one collation result.
func (s *Service) GetResult(ctx context.Context, resultID id.CollationResultID) (*models.CollationResult, error) {
	if err := requireResultID(resultID); err != nil {
		return nil, err
	}
	result, err := s.store.FindByID(ctx, resultID)
	if err != nil {
		return nil, wrapResultErr(err)
	}
	return result, nil
}

// GetResultByKey loads the rollup for one unit of an election's race.
func (s *Service) GetResultByKey(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level, locationID uuid.UUID) (*models.CollationResult, error) {
	if electionID.IsNil() || positionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "election and position are required")
	}
	if !level.IsAggregatable() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "level %s holds no collation results", level)
	}
	result, err := s.store.FindByKey(ctx, electionID, positionID, level, locationID)
	if err != nil {
		return nil, wrapResultErr(err)
	}
	return result, nil
}

// GetResults returns every rollup at one level, ordered by location.
func (s *Service) GetResults(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level) ([]models.CollationResult, error) {
	if electionID.IsNil() || positionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "election and position are required")
	}
	if !level.IsAggregatable() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "level %s holds no collation results", level)
	}
	results, err := s.store.ListForLevel(ctx, electionID, positionID, level)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list collation results")
	}
	return results, nil
}

// GetResultHistory returns a rollup's audit trail, oldest first.
func (s *Service) GetResultHistory(ctx context.Context, resultID id.CollationResultID) ([]wflog.Entry, error) {
	if _, err := s.GetResult(ctx, resultID); err != nil {
		return nil, err
	}
	history, err := s.log.ListForCollationResult(ctx, resultID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list workflow history")
	}
	return history, nil
}

func (s *Service) appendResultLog(ctx context.Context, result *models.CollationResult, action wflog.Action, fromStatus string, actor id.OfficerID, reason string) error {
	entry, err := wflog.NewForCollationResult(result.ElectionID, result.ID, result.Level,
		action, fromStatus, string(result.Status), actor, result.UpdatedAt)
	if err != nil {
		return err
	}
	entry.Reason = reason
	entry.IPAddress = requestcontext.ClientIP(ctx)
	entry.GPSLocation = requestcontext.GPS(ctx)
	if err := s.log.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append workflow log")
	}
	return nil
}

func (s *Service) emitResult(ctx context.Context, action events.WorkflowEvent, result *models.CollationResult, fromStatus, reason string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Emit(ctx, events.Event{
		ElectionID: result.ElectionID,
		Subject:    result.ID.String(),
		Action:     string(action),
		Level:      string(result.Level),
		FromStatus: fromStatus,
		ToStatus:   string(result.Status),
		Reason:     reason,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "collation event dropped",
			"collation_result_id", result.ID, "action", action, "error", err)
	}
}

func (s *Service) logTransition(ctx context.Context, event string, result *models.CollationResult) {
	if s.logger == nil {
		return
	}
	attributes := []any{
		"collation_result_id", result.ID,
		"election_id", result.ElectionID,
		"level", result.Level,
		"status", result.Status,
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event, attributes...)
}

func requireResultID(resultID id.CollationResultID) error {
	if resultID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "collation result id is required")
	}
	return nil
}

func requireActor(actor id.OfficerID) error {
	if actor.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "actor is required")
	}
	return nil
}

// invalidTransition recodes a model invariant failure as a workflow error.
func invalidTransition(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeInvalidTransition, err.Error())
	}
	return err
}

func wrapResultErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "collation result not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "collation result was modified concurrently")
	}
	if code := dErrors.CodeOf(err); code != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "collation result store failure")
}
