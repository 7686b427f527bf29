package service

import (
	"context"
	"strings"
	"time"

	"collate/internal/collation/models"
	wflog "collate/internal/workflowlog/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/requestcontext"
)

// SubmitResult enters a rollup into the review chain. Legal from incomplete
// and from disputed, where it doubles as resubmission after the dispute is
// settled.
func (s *Service) SubmitResult(ctx context.Context, resultID id.CollationResultID, actor id.OfficerID) (*models.CollationResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.runTransition(ctx, resultID, resultTransition{
		action: wflog.ActionSubmitted,
		event:  events.EventResultSubmitted,
		actor:  actor,
		logMsg: "collation_result_submitted",
		check:  func(r *models.CollationResult) error { return r.CanSubmit() },
		apply:  func(r *models.CollationResult, now time.Time) { r.ApplySubmit(actor, now) },
	})
}

// VerifyResult marks a submitted rollup as checked against its child records.
func (s *Service) VerifyResult(ctx context.Context, resultID id.CollationResultID, actor id.OfficerID) (*models.CollationResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.runTransition(ctx, resultID, resultTransition{
		action: wflog.ActionVerified,
		event:  events.EventResultVerified,
		actor:  actor,
		logMsg: "collation_result_verified",
		check:  func(r *models.CollationResult) error { return r.CanVerify() },
		apply:  func(r *models.CollationResult, now time.Time) { r.ApplyVerify(actor, now) },
	})
}

// ApproveResult accepts a verified rollup; on the next aggregation run its
// figures count toward the level above.
func (s *Service) ApproveResult(ctx context.Context, resultID id.CollationResultID, actor id.OfficerID) (*models.CollationResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.runTransition(ctx, resultID, resultTransition{
		action: wflog.ActionApproved,
		event:  events.EventResultApproved,
		actor:  actor,
		logMsg: "collation_result_approved",
		check:  func(r *models.CollationResult) error { return r.CanApprove() },
		apply:  func(r *models.CollationResult, now time.Time) { r.ApplyApprove(actor, now) },
	})
}

// CertifyResult is the terminal declaration of an approved rollup.
func (s *Service) CertifyResult(ctx context.Context, resultID id.CollationResultID, actor id.OfficerID) (*models.CollationResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.runTransition(ctx, resultID, resultTransition{
		action: wflog.ActionCertified,
		event:  events.EventResultCertified,
		actor:  actor,
		logMsg: "collation_result_certified",
		check:  func(r *models.CollationResult) error { return r.CanCertify() },
		apply:  func(r *models.CollationResult, now time.Time) { r.ApplyCertify(actor, now) },
	})
}

// DisputeResult freezes a rollup while its figures are contested. Disputed
// rows stop counting toward the level above until resubmitted.
func (s *Service) DisputeResult(ctx context.Context, resultID id.CollationResultID, actor id.OfficerID, reason string) (*models.CollationResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a dispute reason is required")
	}
	return s.runTransition(ctx, resultID, resultTransition{
		action: wflog.ActionDisputed,
		event:  events.EventResultDisputed,
		actor:  actor,
		reason: reason,
		logMsg: "collation_result_disputed",
		check:  func(r *models.CollationResult) error { return r.CanDispute() },
		apply:  func(r *models.CollationResult, now time.Time) { r.ApplyDispute(actor, reason, now) },
	})
}

// resultTransition is one workflow step: the guard that admits it, the
// mutation it applies, and the audit action and event it records.
type resultTransition struct {
	action wflog.Action
	event  events.WorkflowEvent
	actor  id.OfficerID
	reason string
	logMsg string
	check  func(r *models.CollationResult) error
	apply  func(r *models.CollationResult, now time.Time)
}

// runTransition loads the rollup, applies one guarded workflow step and
// commits it with its audit row and event. The store update is conditional
// on the status the row was read at, so a concurrent transition surfaces as
// sentinel.ErrConflict rather than a lost update.
func (s *Service) runTransition(ctx context.Context, resultID id.CollationResultID, spec resultTransition) (*models.CollationResult, error) {
	if err := requireResultID(resultID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	var result *models.CollationResult
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.store.FindByID(txCtx, resultID)
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
		if err := s.appendResultLog(txCtx, loaded, spec.action, string(prev), spec.actor, spec.reason); err != nil {
			return err
		}
		s.emitResult(txCtx, spec.event, loaded, string(prev), spec.reason)
		result = loaded
		return nil
	})
	if err != nil {
		return nil, wrapResultErr(err)
	}

	s.metrics.IncrementTransition(string(spec.action))
	s.logTransition(ctx, spec.logMsg, result)
	return result, nil
}
