// Package progress serves derived read models over the sheet workflow: how
// far collection has come for an election, and the operations dashboard.
// Everything here is recomputable from PostgreSQL; the redis cache only
// shields the counting queries from dashboard polling.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	electionmodels "collate/internal/election/models"
	rsmodels "collate/internal/resultsheet/models"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/requestcontext"
)

const (
	cacheTTL        = 30 * time.Second
	topCandidateCap = 10
)

// SheetSource reads the per-status sheet counts and the approved vote sums.
type SheetSource interface {
	CountByStatus(ctx context.Context, electionID id.ElectionID) (map[rsmodels.SheetStatus]int, error)
	TopCandidates(ctx context.Context, electionID id.ElectionID, limit int) ([]rsmodels.CandidateTotal, error)
}

// StationRoster reads the election's activated polling stations.
type StationRoster interface {
	ListActive(ctx context.Context, electionID id.ElectionID) ([]electionmodels.StationActivation, error)
}

// Cache is the optional read-through layer. A nil-tolerant miss contract:
// Get returns (nil, nil) when the key is absent, and any cache failure is
// treated as a miss rather than an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Progress is the submission coverage of one election. Counts are by the
// sheet's current status, so a verified sheet counts under Verified only;
// Created counts every primary sheet regardless of status.
type Progress struct {
	ElectionID    id.ElectionID `json:"election_id"`
	TotalStations int           `json:"total_stations"`
	Created       int           `json:"sheets_created"`
	Submitted     int           `json:"submitted"`
	Verified      int           `json:"verified"`
	Approved      int           `json:"approved"`
}

// Dashboard is the operations overview: coverage, how close collection is
// to done, and a quick cross-race candidate preview from approved sheets.
type Dashboard struct {
	Progress      Progress                  `json:"progress"`
	Completion    float64                   `json:"completion_percentage"`
	TopCandidates []rsmodels.CandidateTotal `json:"top_candidates"`
	GeneratedAt   time.Time                 `json:"generated_at"`
}

type Service struct {
	sheets   SheetSource
	stations StationRoster
	cache    Cache
	logger   *slog.Logger
}

type Option func(s *Service)

func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(sheets SheetSource, stations StationRoster, opts ...Option) *Service {
	s := &Service{sheets: sheets, stations: stations}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSubmissionProgress reports how many of the election's stations have a
// sheet at each stage of the workflow.
func (s *Service) GetSubmissionProgress(ctx context.Context, electionID id.ElectionID) (*Progress, error) {
	if electionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "election id is required")
	}

	key := progressKey(electionID)
	var cached Progress
	if s.readCached(ctx, key, &cached) {
		return &cached, nil
	}

	progress, err := s.computeProgress(ctx, electionID)
	if err != nil {
		return nil, err
	}
	s.writeCached(ctx, key, progress)
	return progress, nil
}

// GetDashboard assembles the progress overview with a completion percentage
// and the leading candidates across the election's approved sheets.
func (s *Service) GetDashboard(ctx context.Context, electionID id.ElectionID) (*Dashboard, error) {
	if electionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "election id is required")
	}

	key := dashboardKey(electionID)
	var cached Dashboard
	if s.readCached(ctx, key, &cached) {
		return &cached, nil
	}

	progress, err := s.computeProgress(ctx, electionID)
	if err != nil {
		return nil, err
	}
	top, err := s.sheets.TopCandidates(ctx, electionID, topCandidateCap)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list top candidates")
	}
	if top == nil {
		top = []rsmodels.CandidateTotal{}
	}

	dashboard := &Dashboard{
		Progress:      *progress,
		Completion:    percentage(progress.Approved, progress.TotalStations),
		TopCandidates: top,
		GeneratedAt:   requestcontext.Now(ctx).UTC(),
	}
	s.writeCached(ctx, key, dashboard)
	return dashboard, nil
}

func (s *Service) computeProgress(ctx context.Context, electionID id.ElectionID) (*Progress, error) {
	activations, err := s.stations.ListActive(ctx, electionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list active stations")
	}
	counts, err := s.sheets.CountByStatus(ctx, electionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count sheets")
	}

	created := 0
	for _, n := range counts {
		created += n
	}
	return &Progress{
		ElectionID:    electionID,
		TotalStations: len(activations),
		Created:       created,
		Submitted:     counts[rsmodels.StatusSubmitted],
		Verified:      counts[rsmodels.StatusVerified],
		Approved:      counts[rsmodels.StatusApproved],
	}, nil
}

// readCached reports whether a fresh cached value was decoded into dst.
// Cache failures are logged and treated as misses.
func (s *Service) readCached(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "progress cache read failed", "key", key, "error", err)
		}
		return false
	}
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "progress cache entry corrupt", "key", key, "error", err)
		}
		return false
	}
	return true
}

func (s *Service) writeCached(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, cacheTTL); err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "progress cache write failed", "key", key, "error", err)
	}
}

func progressKey(electionID id.ElectionID) string {
	return "progress:election:" + electionID.String()
}

func dashboardKey(electionID id.ElectionID) string {
	return "dashboard:election:" + electionID.String()
}

// percentage rounds part/whole to two decimal places; zero denominators
// yield zero rather than an error.
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
