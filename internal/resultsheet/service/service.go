// Package service orchestrates the result sheet lifecycle from figure
// capture through the verify and approve ladder. Every transition commits
// atomically with its audit row and outbox event. The automatic consistency
// checks run against the frozen figures at submission time and feed the
// sheet's quality score.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	discsvc "collate/internal/discrepancy/service"
	geomodels "collate/internal/geography/models"
	"collate/internal/resultsheet/metrics"
	"collate/internal/resultsheet/models"
	wflog "collate/internal/workflowlog/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/platform/sentinel"
	"collate/pkg/requestcontext"
)

// Store is the persistence contract the service needs. Both the PostgreSQL
// and the in-memory implementations satisfy it. Guarded writes return
// sentinel.ErrConflict when the sheet is no longer in the expected status.
type Store interface {
	CreateSheet(ctx context.Context, r *models.ResultSheet) error
	FindByID(ctx context.Context, sheetID id.SheetID) (*models.ResultSheet, error)
	UpdateWorkflow(ctx context.Context, r *models.ResultSheet, expected models.SheetStatus) error
	UpdateFigures(ctx context.Context, r *models.ResultSheet, expected models.SheetStatus) error
	ReplaceEntries(ctx context.Context, sheetID id.SheetID, entries []models.Entry, now time.Time) error
	ListEntries(ctx context.Context, sheetID id.SheetID) ([]models.Entry, error)
	AddAttachment(ctx context.Context, a *models.Attachment) error
	ListAttachments(ctx context.Context, sheetID id.SheetID) ([]models.Attachment, error)
}

// TxRunner executes a function inside one database transaction. A workflow
// transition, its audit row and its outbox event commit together.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkflowLog is the append-only audit trail. An append failure aborts the
// surrounding transaction: a transition without its audit row must not
// commit.
type WorkflowLog interface {
	Append(ctx context.Context, entry *wflog.Entry) error
	ListForSheet(ctx context.Context, sheetID id.SheetID) ([]wflog.Entry, error)
}

// Detector runs the automatic consistency checks and records what they
// raise. When no detector is wired the workflow falls back to the pure
// checks, so the quality score is stamped either way.
type Detector interface {
	Run(ctx context.Context, figures discsvc.SheetFigures) []discsvc.Finding
}

// EventPublisher emits workflow events.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

// StationDirectory resolves the polling station a sheet is captured at.
type StationDirectory interface {
	GetPollingStation(ctx context.Context, stationID id.PollingStationID) (*geomodels.PollingStation, error)
}

// ActivationDirectory reports whether a station is mapped into an election.
type ActivationDirectory interface {
	IsStationActive(ctx context.Context, electionID id.ElectionID, stationID id.PollingStationID) (bool, error)
}

// Service orchestrates result sheet capture and review.
type Service struct {
	store       Store
	tx          TxRunner
	log         WorkflowLog
	detector    Detector
	publisher   EventPublisher
	stations    StationDirectory
	activations ActivationDirectory
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithDetector(detector Detector) Option {
	return func(s *Service) {
		s.detector = detector
	}
}

func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithStationDirectory(stations StationDirectory) Option {
	return func(s *Service) {
		s.stations = stations
	}
}

func WithActivationDirectory(activations ActivationDirectory) Option {
	return func(s *Service) {
		s.activations = activations
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

// NewSheetParams names the election, position and station a sheet captures
// results for. SheetType defaults to primary.
type NewSheetParams struct {
	ElectionID       id.ElectionID
	PositionID       id.PositionID
	PollingStationID id.PollingStationID
	SheetType        models.SheetType
}

// Create opens a draft sheet. The registered-voter count is seeded from the
// station's register; the station must exist and be activated for the
// election. One sheet per type may exist for a station and position.
func (s *Service) Create(ctx context.Context, params NewSheetParams, actor id.OfficerID) (*models.ResultSheet, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if params.ElectionID.IsNil() || params.PositionID.IsNil() || params.PollingStationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "election, position and polling station are required")
	}
	sheetType := params.SheetType
	if sheetType == "" {
		sheetType = models.SheetTypePrimary
	}

	registeredVoters := 0
	if s.stations != nil {
		station, err := s.stations.GetPollingStation(ctx, params.PollingStationID)
		if err != nil {
			return nil, err
		}
		if station.Deleted {
			return nil, dErrors.New(dErrors.CodeNotFound, "polling station not found")
		}
		registeredVoters = station.RegisteredVoters
	}
	if s.activations != nil {
		active, err := s.activations.IsStationActive(ctx, params.ElectionID, params.PollingStationID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, dErrors.New(dErrors.CodeValidation, "polling station is not activated for this election")
		}
	}

	now := requestcontext.Now(ctx).UTC()
	sheet, err := models.NewResultSheet(id.SheetID(uuid.New()), params.ElectionID, params.PositionID,
		params.PollingStationID, sheetType, actor, registeredVoters, now)
	if err != nil {
		return nil, validationFailure(err)
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CreateSheet(txCtx, sheet); err != nil {
			return err
		}
		s.emitSheet(txCtx, events.EventSheetCreated, sheet, "", "")
		return nil
	})
	if err != nil {
		return nil, wrapSheetErr(err)
	}

	s.metrics.IncrementCreated()
	s.logTransition(ctx, "sheet_created", sheet)
	return sheet, nil
}

// UpdateAccounting overwrites the declared ballot figures on a draft sheet.
// Figures are declared by the capturing officer, never derived, so the whole
// block is replaced at once.
func (s *Service) UpdateAccounting(ctx context.Context, sheetID id.SheetID, accounting models.Accounting) (*models.ResultSheet, error) {
	if err := requireSheetID(sheetID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	sheet, err := s.store.FindByID(ctx, sheetID)
	if err != nil {
		return nil, wrapSheetErr(err)
	}
	if err := sheet.CanEdit(); err != nil {
		return nil, invalidTransition(err)
	}
	if err := sheet.ApplyAccounting(accounting, now); err != nil {
		return nil, validationFailure(err)
	}
	if err := s.store.UpdateFigures(ctx, sheet, models.StatusDraft); err != nil {
		return nil, wrapSheetErr(err)
	}
	return sheet, nil
}

// EntryInput is one candidate line as captured from the sheet. A nil
// CandidateID records a write-in. BallotOrder zero means positional.
type EntryInput struct {
	CandidateID   *id.CandidateID
	CandidateName string
	Party         string
	Votes         int
	VotesInWords  string
	BallotOrder   int
}

// AddEntries replaces the draft sheet's candidate entries with the given
// set and returns how many lines were written. Partial edits are not
// supported: the sheet is captured as a whole.
func (s *Service) AddEntries(ctx context.Context, sheetID id.SheetID, inputs []EntryInput, actor id.OfficerID) (int, error) {
	if err := requireSheetID(sheetID); err != nil {
		return 0, err
	}
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	if len(inputs) == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "at least one entry is required")
	}

	now := requestcontext.Now(ctx).UTC()
	var (
		sheet *models.ResultSheet
		count int
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.store.FindByID(txCtx, sheetID)
		if err != nil {
			return err
		}
		if err := loaded.CanEdit(); err != nil {
			return invalidTransition(err)
		}

		entries := make([]models.Entry, 0, len(inputs))
		for i, input := range inputs {
			ballotOrder := input.BallotOrder
			if ballotOrder == 0 {
				ballotOrder = i + 1
			}
			entry, err := models.NewEntry(id.EntryID(uuid.New()), sheetID, input.CandidateID,
				strings.TrimSpace(input.CandidateName), strings.TrimSpace(input.Party),
				input.Votes, strings.TrimSpace(input.VotesInWords), ballotOrder, now)
			if err != nil {
				return validationFailure(err)
			}
			entries = append(entries, *entry)
		}

		if err := s.store.ReplaceEntries(txCtx, sheetID, entries, now); err != nil {
			return err
		}
		s.emitSheet(txCtx, events.EventEntriesReplaced, loaded, string(loaded.Status),
			fmt.Sprintf("%d entries", len(entries)))
		sheet = loaded
		count = len(entries)
		return nil
	})
	if err != nil {
		return 0, wrapSheetErr(err)
	}

	s.logTransition(ctx, "sheet_entries_replaced", sheet)
	return count, nil
}

// Attachment file types. Anything unrecognized is rejected rather than
// stored as free text.
const (
	FileTypePinkSheet = "pink_sheet"
	FileTypePhoto     = "photo"
	FileTypeSignature = "signature"
	FileTypeOther     = "other"
)

var allowedFileTypes = map[string]bool{
	FileTypePinkSheet: true,
	FileTypePhoto:     true,
	FileTypeSignature: true,
	FileTypeOther:     true,
}

// AttachmentParams describes one piece of scanned evidence. FileType
// defaults to other; GPSLocation defaults to the caller's reported
// coordinates.
type AttachmentParams struct {
	FileURL       string
	FileType      string
	FileName      string
	OCRText       string
	OCRConfidence *float64
	GPSLocation   string
}

// AddAttachment stores scanned evidence against a sheet. Evidence may be
// added in any status: late uploads against approved sheets are part of the
// record, not a workflow change.
func (s *Service) AddAttachment(ctx context.Context, sheetID id.SheetID, params AttachmentParams, actor id.OfficerID) (*models.Attachment, error) {
	if err := requireSheetID(sheetID); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	fileType := params.FileType
	if fileType == "" {
		fileType = FileTypeOther
	}
	if !allowedFileTypes[fileType] {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown attachment type %q", fileType)
	}

	now := requestcontext.Now(ctx).UTC()
	var attachment *models.Attachment
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		sheet, err := s.store.FindByID(txCtx, sheetID)
		if err != nil {
			return err
		}
		built, err := models.NewAttachment(id.AttachmentID(uuid.New()), sheet.ID,
			strings.TrimSpace(params.FileURL), fileType, strings.TrimSpace(params.FileName), actor, now)
		if err != nil {
			return validationFailure(err)
		}
		built.OCRText = params.OCRText
		built.OCRConfidence = params.OCRConfidence
		built.GPSLocation = params.GPSLocation
		if built.GPSLocation == "" {
			built.GPSLocation = requestcontext.GPS(txCtx)
		}
		if err := s.store.AddAttachment(txCtx, built); err != nil {
			return err
		}
		s.emitSheet(txCtx, events.EventAttachmentAdded, sheet, string(sheet.Status), built.FileType)
		attachment = built
		return nil
	})
	if err != nil {
		return nil, wrapSheetErr(err)
	}
	return attachment, nil
}

// GetSheet loads one sheet.
func (s *Service) GetSheet(ctx context.Context, sheetID id.SheetID) (*models.ResultSheet, error) {
	if err := requireSheetID(sheetID); err != nil {
		return nil, err
	}
	sheet, err := s.store.FindByID(ctx, sheetID)
	if err != nil {
		return nil, wrapSheetErr(err)
	}
	return sheet, nil
}

// GetEntries returns the sheet's candidate entries in ballot order.
func (s *Service) GetEntries(ctx context.Context, sheetID id.SheetID) ([]models.Entry, error) {
	if _, err := s.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, sheetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entries")
	}
	return entries, nil
}

// GetAttachments returns the sheet's evidence, newest first.
func (s *Service) GetAttachments(ctx context.Context, sheetID id.SheetID) ([]models.Attachment, error) {
	if _, err := s.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	attachments, err := s.store.ListAttachments(ctx, sheetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list attachments")
	}
	return attachments, nil
}

// GetWorkflowHistory returns the sheet's audit trail, oldest first.
func (s *Service) GetWorkflowHistory(ctx context.Context, sheetID id.SheetID) ([]wflog.Entry, error) {
	if _, err := s.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	history, err := s.log.ListForSheet(ctx, sheetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list workflow history")
	}
	return history, nil
}

// SheetSummary is the full read model for one sheet: figures, entries,
// evidence and audit trail together.
type SheetSummary struct {
	Sheet       *models.ResultSheet `json:"sheet"`
	Entries     []models.Entry      `json:"entries"`
	Attachments []models.Attachment `json:"attachments"`
	History     []wflog.Entry       `json:"history"`
}

// GetSheetSummary assembles the sheet with its entries, attachments and
// history in one call.
func (s *Service) GetSheetSummary(ctx context.Context, sheetID id.SheetID) (*SheetSummary, error) {
	sheet, err := s.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, sheetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entries")
	}
	attachments, err := s.store.ListAttachments(ctx, sheetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list attachments")
	}
	history, err := s.log.ListForSheet(ctx, sheetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list workflow history")
	}
	return &SheetSummary{Sheet: sheet, Entries: entries, Attachments: attachments, History: history}, nil
}

func (s *Service) appendSheetLog(ctx context.Context, sheet *models.ResultSheet, action wflog.Action, fromStatus string, actor id.OfficerID, reason string, now time.Time) error {
	entry, err := wflog.NewForSheet(sheet.ElectionID, sheet.ID, action, fromStatus, string(sheet.Status), actor, now)
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

func (s *Service) emitSheet(ctx context.Context, action events.WorkflowEvent, sheet *models.ResultSheet, fromStatus, reason string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Emit(ctx, events.Event{
		ElectionID: sheet.ElectionID,
		Subject:    sheet.ID.String(),
		Action:     string(action),
		Level:      string(id.LevelPollingStation),
		FromStatus: fromStatus,
		ToStatus:   string(sheet.Status),
		Reason:     reason,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "sheet event dropped",
			"sheet_id", sheet.ID, "action", action, "error", err)
	}
}

func (s *Service) logTransition(ctx context.Context, event string, sheet *models.ResultSheet) {
	if s.logger == nil {
		return
	}
	attributes := []any{
		"sheet_id", sheet.ID,
		"election_id", sheet.ElectionID,
		"status", sheet.Status,
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event, attributes...)
}

func requireSheetID(sheetID id.SheetID) error {
	if sheetID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "sheet id is required")
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
// The sheet is read inside the transaction, so a guard that fails here saw
// the current committed status.
func invalidTransition(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeInvalidTransition, err.Error())
	}
	return err
}

func validationFailure(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return err
}

func wrapSheetErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "result sheet not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeDuplicate, "a sheet of this type already exists for this station and position")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "result sheet was modified concurrently")
	}
	if code := dErrors.CodeOf(err); code != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "result sheet store failure")
}
