package service

import (
	"context"
	"strings"
	"time"

	discsvc "collate/internal/discrepancy/service"
	"collate/internal/resultsheet/models"
	wflog "collate/internal/workflowlog/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/requestcontext"
)

// Submit freezes the sheet's figures and hands it to verification. The
// consistency checks run inside the same transaction, over exactly the
// figures being submitted, and their findings set the quality score. A sheet
// needs at least one candidate entry before it can leave draft.
func (s *Service) Submit(ctx context.Context, sheetID id.SheetID, actor id.OfficerID) (*models.ResultSheet, error) {
	if err := requireSheetID(sheetID); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	start := time.Now()
	now := requestcontext.Now(ctx).UTC()
	var (
		sheet    *models.ResultSheet
		findings []discsvc.Finding
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.store.FindByID(txCtx, sheetID)
		if err != nil {
			return err
		}
		entries, err := s.store.ListEntries(txCtx, sheetID)
		if err != nil {
			return err
		}
		if err := loaded.CanSubmit(len(entries)); err != nil {
			return invalidTransition(err)
		}

		prev := loaded.Status
		loaded.ApplySubmit(actor, now)

		figures := discsvc.SheetFigures{
			ElectionID:       loaded.ElectionID,
			SheetID:          loaded.ID,
			RegisteredVoters: int64(loaded.RegisteredVoters),
			BallotsCast:      int64(loaded.BallotsCast),
			ValidVotes:       int64(loaded.ValidVotes),
			EntrySum:         sumVotes(entries),
		}
		if s.detector != nil {
			findings = s.detector.Run(txCtx, figures)
		} else {
			findings = discsvc.Evaluate(figures)
		}
		score, flags := scoreQuality(loaded, entries, findings)
		loaded.StampQuality(score, flags, now)

		if err := s.store.UpdateWorkflow(txCtx, loaded, prev); err != nil {
			return err
		}
		if err := s.appendSheetLog(txCtx, loaded, wflog.ActionSubmitted, string(prev), actor, "", now); err != nil {
			return err
		}
		s.emitSheet(txCtx, events.EventSheetSubmitted, loaded, string(prev), "")
		sheet = loaded
		return nil
	})
	if err != nil {
		return nil, wrapSheetErr(err)
	}

	s.metrics.IncrementTransition(string(wflog.ActionSubmitted))
	s.metrics.ObserveQualityScore(*sheet.QualityScore)
	for _, finding := range findings {
		s.metrics.IncrementFinding(string(finding.Type))
	}
	s.metrics.ObserveSubmit(start)
	s.logTransition(ctx, "sheet_submitted", sheet)
	return sheet, nil
}

// Verify marks a submitted sheet as checked against its scanned evidence.
func (s *Service) Verify(ctx context.Context, sheetID id.SheetID, actor id.OfficerID, notes string) (*models.ResultSheet, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	return s.runTransition(ctx, sheetID, transitionSpec{
		action: wflog.ActionVerified,
		event:  events.EventSheetVerified,
		actor:  actor,
		logMsg: "sheet_verified",
		check:  func(r *models.ResultSheet) error { return r.CanVerify() },
		apply:  func(r *models.ResultSheet, now time.Time) { r.ApplyVerify(actor, notes, now) },
	})
}

// Approve accepts a verified sheet into the count.
func (s *Service) Approve(ctx context.Context, sheetID id.SheetID, actor id.OfficerID) (*models.ResultSheet, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.runTransition(ctx, sheetID, transitionSpec{
		action: wflog.ActionApproved,
		event:  events.EventSheetApproved,
		actor:  actor,
		logMsg: "sheet_approved",
		check:  func(r *models.ResultSheet) error { return r.CanApprove() },
		apply:  func(r *models.ResultSheet, now time.Time) { r.ApplyApprove(actor, now) },
	})
}

// Reject sends a submitted or verified sheet back to draft for correction.
// The reviewer's reason is kept on the sheet until the next rejection.
func (s *Service) Reject(ctx context.Context, sheetID id.SheetID, actor id.OfficerID, reason string) (*models.ResultSheet, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a rejection reason is required")
	}
	return s.runTransition(ctx, sheetID, transitionSpec{
		action: wflog.ActionRejected,
		event:  events.EventSheetRejected,
		actor:  actor,
		reason: reason,
		logMsg: "sheet_rejected",
		check:  func(r *models.ResultSheet) error { return r.CanReject() },
		apply:  func(r *models.ResultSheet, now time.Time) { r.ApplyReject(actor, reason, now) },
	})
}

// Dispute freezes a reported sheet while its figures are contested. An
// approved sheet that is disputed leaves the count until the dispute is
// settled.
func (s *Service) Dispute(ctx context.Context, sheetID id.SheetID, actor id.OfficerID, reason string) (*models.ResultSheet, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a dispute reason is required")
	}
	return s.runTransition(ctx, sheetID, transitionSpec{
		action: wflog.ActionDisputed,
		event:  events.EventSheetDisputed,
		actor:  actor,
		reason: reason,
		logMsg: "sheet_disputed",
		check:  func(r *models.ResultSheet) error { return r.CanDispute() },
		apply:  func(r *models.ResultSheet, now time.Time) { r.ApplyDispute(actor, reason, now) },
	})
}

// Reopen returns a disputed sheet to draft so its figures can be recaptured.
// Review stamps are cleared; the dispute record stays on the sheet.
func (s *Service) Reopen(ctx context.Context, sheetID id.SheetID, actor id.OfficerID) (*models.ResultSheet, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.runTransition(ctx, sheetID, transitionSpec{
		action: wflog.ActionReopened,
		event:  events.EventSheetReopened,
		actor:  actor,
		logMsg: "sheet_reopened",
		check:  func(r *models.ResultSheet) error { return r.CanReopen() },
		apply:  func(r *models.ResultSheet, now time.Time) { r.ApplyReopen(now) },
	})
}

// RerunChecks re-evaluates the consistency checks against the sheet's
// current figures and restamps the quality score. The workflow status does
// not change, so this is safe in any status.
func (s *Service) RerunChecks(ctx context.Context, sheetID id.SheetID, actor id.OfficerID) (*models.ResultSheet, error) {
	if err := requireSheetID(sheetID); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	var (
		sheet    *models.ResultSheet
		findings []discsvc.Finding
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.store.FindByID(txCtx, sheetID)
		if err != nil {
			return err
		}
		entries, err := s.store.ListEntries(txCtx, sheetID)
		if err != nil {
			return err
		}

		figures := discsvc.SheetFigures{
			ElectionID:       loaded.ElectionID,
			SheetID:          loaded.ID,
			RegisteredVoters: int64(loaded.RegisteredVoters),
			BallotsCast:      int64(loaded.BallotsCast),
			ValidVotes:       int64(loaded.ValidVotes),
			EntrySum:         sumVotes(entries),
		}
		if s.detector != nil {
			findings = s.detector.Run(txCtx, figures)
		} else {
			findings = discsvc.Evaluate(figures)
		}

		prev := loaded.Status
		score, flags := scoreQuality(loaded, entries, findings)
		loaded.StampQuality(score, flags, now)

		if err := s.store.UpdateWorkflow(txCtx, loaded, prev); err != nil {
			return err
		}
		s.emitSheet(txCtx, events.EventChecksRerun, loaded, string(prev), "")
		sheet = loaded
		return nil
	})
	if err != nil {
		return nil, wrapSheetErr(err)
	}

	for _, finding := range findings {
		s.metrics.IncrementFinding(string(finding.Type))
	}
	s.logTransition(ctx, "sheet_checks_rerun", sheet)
	return sheet, nil
}

// transitionSpec is one workflow step: the guard that admits it, the
// mutation it applies, and the audit action and event it records.
type transitionSpec struct {
	action wflog.Action
	event  events.WorkflowEvent
	actor  id.OfficerID
	reason string
	logMsg string
	check  func(r *models.ResultSheet) error
	apply  func(r *models.ResultSheet, now time.Time)
}

// runTransition loads the sheet, applies one guarded workflow step and
// commits it with its audit row and event. The store update is conditional
// on the status the sheet was read at, so a concurrent transition surfaces
// as sentinel.ErrConflict rather than a lost update.
func (s *Service) runTransition(ctx context.Context, sheetID id.SheetID, spec transitionSpec) (*models.ResultSheet, error) {
	if err := requireSheetID(sheetID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	var sheet *models.ResultSheet
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.store.FindByID(txCtx, sheetID)
		if err != nil {
			return err
		}
		if err := spec.check(loaded); err != nil {
			return invalidTransition(err)
		}

		prev := loaded.Status
		spec.apply(loaded, now)

		if err := s.store.UpdateWorkflow(txCtx, loaded, prev); err != nil {
			return err
		}
		if err := s.appendSheetLog(txCtx, loaded, spec.action, string(prev), spec.actor, spec.reason, now); err != nil {
			return err
		}
		s.emitSheet(txCtx, spec.event, loaded, string(prev), spec.reason)
		sheet = loaded
		return nil
	})
	if err != nil {
		return nil, wrapSheetErr(err)
	}

	s.metrics.IncrementTransition(string(spec.action))
	s.logTransition(ctx, spec.logMsg, sheet)
	return sheet, nil
}
