package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"collate/internal/collation/metrics"
	"collate/internal/collation/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/requestcontext"
)

// defaultUnitConcurrency bounds the aggregation fan-out. Each parent unit is
// a handful of reads and one upsert; a small bound keeps the pool free for
// workflow traffic.
const defaultUnitConcurrency = 8

// Aggregator recomputes collation results one level at a time. A run is
// idempotent: unchanged children produce byte-identical rows, so repeated
// runs as late sheets arrive are safe, and two runs racing on the same key
// upsert the same values.
type Aggregator struct {
	results     Store
	children    ChildUnits
	sheets      SheetSource
	publisher   EventPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
}

type AggregatorOption func(a *Aggregator)

func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func WithAggregatorPublisher(publisher EventPublisher) AggregatorOption {
	return func(a *Aggregator) {
		a.publisher = publisher
	}
}

func WithAggregatorMetrics(m *metrics.Metrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithUnitConcurrency overrides the parent-unit fan-out bound.
func WithUnitConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAggregator constructs an Aggregator over the collation store, the
// election's child-unit mapping, and the sheet store.
func NewAggregator(results Store, children ChildUnits, sheets SheetSource, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		results:     results,
		children:    children,
		sheets:      sheets,
		tracer:      otel.Tracer("collate/collation"),
		concurrency: defaultUnitConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AggregateLevel recomputes every collation result at the target level from
// its children one level below: result sheets when aggregating into the
// electoral-area level, child collation results above that.
//
// Parent units are processed independently; one unit's failure never aborts
// its siblings. On partial failure the successfully recomputed rows are
// returned together with a joined error describing the units that failed.
func (a *Aggregator) AggregateLevel(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level id.Level) ([]*models.CollationResult, error) {
	if electionID.IsNil() || positionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "election and position are required")
	}
	if !level.IsAggregatable() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "cannot aggregate into level %s", level)
	}

	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "collation.AggregateLevel",
		trace.WithAttributes(
			attribute.String("election_id", electionID.String()),
			attribute.String("level", string(level)),
		))
	defer span.End()

	units, err := a.children.MappedChildUnits(ctx, electionID, level)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to map child units")
	}
	span.SetAttributes(attribute.Int("units", len(units)))
	if len(units) == 0 {
		return nil, nil
	}

	childLevel, _ := level.ChildLevel()
	now := requestcontext.Now(ctx).UTC()

	var (
		mu       sync.Mutex
		rows     []*models.CollationResult
		failures []error
	)
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for parentID, childIDs := range units {
		g.Go(func() error {
			row, err := a.aggregateUnit(groupCtx, electionID, positionID, level, childLevel, parentID, childIDs, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.metrics.IncrementUnitFailure()
				failures = append(failures, fmt.Errorf("unit %s: %w", parentID, err))
				// Keep siblings running; failures are reported together.
				return nil
			}
			rows = append(rows, row)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LocationID.String() < rows[j].LocationID.String()
	})

	a.metrics.AddUnits(len(rows))
	a.metrics.ObserveRun(string(level), len(failures) > 0, start)
	a.emitCompleted(ctx, electionID, level, len(rows), len(failures))
	if a.logger != nil {
		a.logger.InfoContext(ctx, "aggregation_completed",
			"election_id", electionID,
			"position_id", positionID,
			"level", level,
			"units", len(units),
			"recomputed", len(rows),
			"failed", len(failures))
	}

	if len(failures) > 0 {
		span.SetAttributes(attribute.Int("failed_units", len(failures)))
		return rows, dErrors.Wrap(errors.Join(failures...), dErrors.CodeInternal,
			fmt.Sprintf("aggregation incomplete: %d of %d units failed", len(failures), len(units)))
	}
	return rows, nil
}

// aggregateUnit recomputes one parent unit and upserts the row. The upsert
// is a single statement, so no surrounding transaction is needed; racing
// writers for the same key compute the same function of the same children.
func (a *Aggregator) aggregateUnit(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, level, childLevel id.Level, parentID uuid.UUID, childIDs []uuid.UUID, now time.Time) (*models.CollationResult, error) {
	ctx, span := a.tracer.Start(ctx, "collation.aggregateUnit",
		trace.WithAttributes(attribute.String("location_id", parentID.String())))
	defer span.End()

	var (
		tally models.Tally
		err   error
	)
	if childLevel == id.LevelPollingStation {
		tally, err = a.tallyFromSheets(ctx, electionID, positionID, childIDs)
	} else {
		tally, err = a.tallyFromChildResults(ctx, electionID, positionID, childLevel, childIDs)
	}
	if err != nil {
		return nil, err
	}

	computed, err := models.NewComputed(id.CollationResultID(uuid.New()), electionID, positionID, level, parentID, tally, now)
	if err != nil {
		return nil, err
	}
	stored, err := a.results.Upsert(ctx, computed)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// tallyFromSheets rolls the primary sheets of one electoral area's stations
// into a tally. Coverage counts every mapped station; vote sums and the
// candidate breakdown take approved sheets only.
func (a *Aggregator) tallyFromSheets(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, stationIDs []uuid.UUID) (models.Tally, error) {
	ids := make([]id.PollingStationID, len(stationIDs))
	for i, stationID := range stationIDs {
		ids[i] = id.PollingStationID(stationID)
	}
	sheets, err := a.sheets.ListForStations(ctx, electionID, positionID, ids)
	if err != nil {
		return models.Tally{}, fmt.Errorf("list sheets: %w", err)
	}

	tally := models.Tally{TotalUnits: len(stationIDs)}
	counter := newCandidateCounter()
	for i := range sheets {
		sheet := &sheets[i]
		if sheet.Status.Reported() {
			tally.ReportedUnits++
		}
		if !sheet.Status.Counted() {
			continue
		}
		tally.ApprovedUnits++
		tally.RegisteredVoters += sheet.RegisteredVoters
		tally.TotalVotesCast += sheet.BallotsCast
		tally.ValidVotes += sheet.ValidVotes
		tally.RejectedBallots += sheet.RejectedBallots

		entries, err := a.sheets.ListEntries(ctx, sheet.ID)
		if err != nil {
			return models.Tally{}, fmt.Errorf("list entries for sheet %s: %w", sheet.ID, err)
		}
		for i := range entries {
			entry := &entries[i]
			counter.add(entry.CandidateID, entry.CandidateName, entry.Party, entry.VotesInFigures)
		}
	}
	finishTally(&tally, counter)
	return tally, nil
}

// tallyFromChildResults re-rolls approved child rollups into the parent
// tally. The child rows already carry their own candidate breakdowns;
// percentages are recomputed at this level, never summed.
func (a *Aggregator) tallyFromChildResults(ctx context.Context, electionID id.ElectionID, positionID id.PositionID, childLevel id.Level, childIDs []uuid.UUID) (models.Tally, error) {
	children, err := a.results.ListForLocations(ctx, electionID, positionID, childLevel, childIDs)
	if err != nil {
		return models.Tally{}, fmt.Errorf("list child results: %w", err)
	}

	tally := models.Tally{TotalUnits: len(childIDs)}
	counter := newCandidateCounter()
	for i := range children {
		child := &children[i]
		if child.Status.Reported() {
			tally.ReportedUnits++
		}
		if !child.Status.Counted() {
			continue
		}
		tally.ApprovedUnits++
		tally.RegisteredVoters += child.RegisteredVoters
		tally.TotalVotesCast += child.TotalVotesCast
		tally.ValidVotes += child.ValidVotes
		tally.RejectedBallots += child.RejectedBallots

		for j := range child.Results {
			line := &child.Results[j]
			counter.add(line.CandidateID, line.CandidateName, line.Party, line.Votes)
		}
	}
	finishTally(&tally, counter)
	return tally, nil
}

func (a *Aggregator) emitCompleted(ctx context.Context, electionID id.ElectionID, level id.Level, recomputed, failed int) {
	if a.publisher == nil {
		return
	}
	err := a.publisher.Emit(ctx, events.Event{
		ElectionID: electionID,
		Subject:    electionID.String(),
		Action:     string(events.EventAggregationCompleted),
		Level:      string(level),
		Reason:     fmt.Sprintf("%d units recomputed, %d failed", recomputed, failed),
	})
	if err != nil && a.logger != nil {
		a.logger.WarnContext(ctx, "aggregation event dropped", "election_id", electionID, "error", err)
	}
}

// finishTally computes the derived figures: turnout and the ordered
// candidate breakdown with per-candidate percentages.
func finishTally(tally *models.Tally, counter *candidateCounter) {
	tally.TurnoutPercentage = percentage(tally.TotalVotesCast, tally.RegisteredVoters)
	tally.Results = counter.results(tally.ValidVotes)
}

// percentage returns part/whole as a percentage rounded to two decimals,
// zero when the denominator is zero. Matches the NUMERIC(5,2) storage.
func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(whole))).
		Round(2).
		InexactFloat64()
}

// candidateCounter groups votes by candidate identity: the candidate ID
// when registered, the (name, party) pair for write-ins.
type candidateCounter struct {
	order []string
	lines map[string]*models.CandidateResult
}

func newCandidateCounter() *candidateCounter {
	return &candidateCounter{lines: make(map[string]*models.CandidateResult)}
}

func (c *candidateCounter) add(candidateID *id.CandidateID, name, party string, votes int) {
	var key string
	if candidateID != nil && !candidateID.IsNil() {
		key = "id:" + candidateID.String()
	} else {
		key = "name:" + name + "|" + party
	}
	line, ok := c.lines[key]
	if !ok {
		line = &models.CandidateResult{CandidateID: candidateID, CandidateName: name, Party: party}
		c.lines[key] = line
		c.order = append(c.order, key)
	}
	line.Votes += votes
}

// results returns the breakdown sorted by votes descending, name ascending
// for ties, with percentages of the level's valid votes.
func (c *candidateCounter) results(validVotes int) []models.CandidateResult {
	out := make([]models.CandidateResult, 0, len(c.lines))
	for _, key := range c.order {
		line := *c.lines[key]
		line.Percentage = percentage(line.Votes, validVotes)
		out = append(out, line)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return out[i].CandidateName < out[j].CandidateName
	})
	return out
}
