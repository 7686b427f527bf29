package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"collate/internal/discrepancy/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/events"
	"collate/pkg/requestcontext"
)

// SheetFigures are the frozen values the detector inspects. The sheet
// workflow fills them from the row it just transitioned, inside the same
// transaction, so checks never see a newer revision.
type SheetFigures struct {
	ElectionID       id.ElectionID
	SheetID          id.SheetID
	RegisteredVoters int64
	BallotsCast      int64
	ValidVotes       int64
	// EntrySum is SUM(votes_in_figures) over the sheet's entries.
	EntrySum int64
}

// Finding is one raised check. Findings feed the sheet's quality score even
// when persisting the discrepancy fails.
type Finding struct {
	Type        models.Type
	Description string
	Expected    int64
	Reported    int64
}

// Turnout above registered voters plus 10% slack is flagged. The slack
// absorbs spoilage and late register corrections.
const (
	turnoutSlackNum = 11
	turnoutSlackDen = 10
)

// Evaluate runs the built-in checks over one sheet's figures. Pure; no
// storage involved. Each check is independent: a sheet can raise both.
func Evaluate(f SheetFigures) []Finding {
	var findings []Finding

	if f.EntrySum != f.ValidVotes {
		findings = append(findings, Finding{
			Type:        models.TypeVoteMismatch,
			Description: fmt.Sprintf("candidate entries sum to %d but the sheet declares %d valid votes", f.EntrySum, f.ValidVotes),
			Expected:    f.ValidVotes,
			Reported:    f.EntrySum,
		})
	}

	if f.BallotsCast*turnoutSlackDen > f.RegisteredVoters*turnoutSlackNum {
		findings = append(findings, Finding{
			Type:        models.TypeBallotCount,
			Description: fmt.Sprintf("ballots cast (%d) exceed registered voters (%d) beyond tolerance", f.BallotsCast, f.RegisteredVoters),
			Expected:    f.RegisteredVoters,
			Reported:    f.BallotsCast,
		})
	}

	return findings
}

// DetectorStore is the slice of the discrepancy store the detector writes
// through.
type DetectorStore interface {
	Create(ctx context.Context, d *models.Discrepancy) error
	HasOpenForSheet(ctx context.Context, sheetID id.SheetID, typ models.Type) (bool, error)
}

// Detector evaluates sheet figures and records what it finds. Detection
// never blocks a submission: storage failures are logged and swallowed, and
// the findings are still returned so quality scoring sees them.
type Detector struct {
	store     DetectorStore
	publisher EventPublisher
	logger    *slog.Logger
}

type DetectorOption func(d *Detector)

func WithDetectorLogger(logger *slog.Logger) DetectorOption {
	return func(d *Detector) {
		d.logger = logger
	}
}

func WithDetectorPublisher(publisher EventPublisher) DetectorOption {
	return func(d *Detector) {
		d.publisher = publisher
	}
}

// NewDetector constructs a Detector.
func NewDetector(store DetectorStore, opts ...DetectorOption) *Detector {
	d := &Detector{store: store}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run evaluates the figures and persists one discrepancy per finding. A
// finding whose type already has an open discrepancy on the sheet is not
// recorded again, so re-submission after a reject does not stack duplicates.
// Runs on the ambient transaction when one is present.
func (d *Detector) Run(ctx context.Context, figures SheetFigures) []Finding {
	findings := Evaluate(figures)
	now := requestcontext.Now(ctx).UTC()

	for _, finding := range findings {
		open, err := d.store.HasOpenForSheet(ctx, figures.SheetID, finding.Type)
		if err != nil {
			d.logSwallowed(ctx, figures.SheetID, finding.Type, err)
			continue
		}
		if open {
			continue
		}

		disc, err := models.NewForSheet(id.DiscrepancyID(uuid.New()), figures.ElectionID, figures.SheetID,
			finding.Type, models.DetectionAutomatic, finding.Description, finding.Expected, finding.Reported, now)
		if err != nil {
			d.logSwallowed(ctx, figures.SheetID, finding.Type, err)
			continue
		}
		if err := d.store.Create(ctx, disc); err != nil {
			d.logSwallowed(ctx, figures.SheetID, finding.Type, err)
			continue
		}

		d.emitDetected(ctx, disc)
	}

	return findings
}

func (d *Detector) emitDetected(ctx context.Context, disc *models.Discrepancy) {
	if d.publisher == nil {
		return
	}
	err := d.publisher.Emit(ctx, events.Event{
		ElectionID: disc.ElectionID,
		Subject:    disc.ID.String(),
		Action:     string(events.EventDiscrepancyDetected),
		Level:      string(disc.Level),
		ToStatus:   string(disc.Status),
		Reason:     disc.Description,
	})
	if err != nil && d.logger != nil {
		d.logger.WarnContext(ctx, "discrepancy event dropped",
			"discrepancy_id", disc.ID, "error", err)
	}
}

func (d *Detector) logSwallowed(ctx context.Context, sheetID id.SheetID, typ models.Type, err error) {
	if d.logger == nil {
		return
	}
	d.logger.WarnContext(ctx, "discrepancy detection failed",
		"sheet_id", sheetID, "discrepancy_type", typ, "error", err)
}
