package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	electionmodels "collate/internal/election/models"
	electionstore "collate/internal/election/store"
	rsmodels "collate/internal/resultsheet/models"
	rsstore "collate/internal/resultsheet/store"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/requestcontext"
)

// fakeCache counts hits so the tests can tell a cached read from a
// recomputation. flaky flips it into returning errors, which the service
// must treat as misses.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	sets    int
	flaky   bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.flaky {
		return nil, errors.New("connection refused")
	}
	return c.entries[key], nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.flaky {
		return errors.New("connection refused")
	}
	c.entries[key] = value
	return nil
}

type ProgressServiceSuite struct {
	suite.Suite
	sheets   *rsstore.InMemoryStore
	stations *electionstore.InMemoryStore
	cache    *fakeCache
	service  *Service
	election id.ElectionID
	position id.PositionID
	officer  id.OfficerID
	now      time.Time
}

func TestProgressServiceSuite(t *testing.T) {
	suite.Run(t, new(ProgressServiceSuite))
}

func (s *ProgressServiceSuite) SetupTest() {
	s.sheets = rsstore.NewInMemory()
	s.stations = electionstore.NewInMemory(nil)
	s.cache = newFakeCache()
	s.election = id.ElectionID(uuid.New())
	s.position = id.PositionID(uuid.New())
	s.officer = id.OfficerID(uuid.New())
	s.now = time.Date(2025, 12, 7, 19, 0, 0, 0, time.UTC)
	s.service = New(s.sheets, s.stations, WithCache(s.cache))
}

func (s *ProgressServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ProgressServiceSuite) activateStations(n int) []id.PollingStationID {
	stations := make([]id.PollingStationID, 0, n)
	for range n {
		stationID := id.PollingStationID(uuid.New())
		activation, err := electionmodels.NewStationActivation(s.election, stationID, s.now)
		s.Require().NoError(err)
		_, err = s.stations.Activate(context.Background(), activation)
		s.Require().NoError(err)
		stations = append(stations, stationID)
	}
	return stations
}

type entryLine struct {
	name  string
	party string
	votes int
}

// seedSheet plants a primary sheet at the given status with its entries.
func (s *ProgressServiceSuite) seedSheet(station id.PollingStationID, status rsmodels.SheetStatus, lines ...entryLine) {
	ctx := context.Background()
	sheet, err := rsmodels.NewResultSheet(id.SheetID(uuid.New()), s.election, s.position,
		station, rsmodels.SheetTypePrimary, s.officer, 500, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.sheets.CreateSheet(ctx, sheet))

	entries := make([]rsmodels.Entry, 0, len(lines))
	for i, line := range lines {
		entry, err := rsmodels.NewEntry(id.EntryID(uuid.New()), sheet.ID, nil,
			line.name, line.party, line.votes, "", i+1, s.now)
		s.Require().NoError(err)
		entries = append(entries, *entry)
	}
	if len(entries) > 0 {
		s.Require().NoError(s.sheets.ReplaceEntries(ctx, sheet.ID, entries, s.now))
	}

	switch status {
	case rsmodels.StatusSubmitted:
		sheet.ApplySubmit(s.officer, s.now)
	case rsmodels.StatusVerified:
		sheet.ApplySubmit(s.officer, s.now)
		sheet.ApplyVerify(s.officer, "", s.now)
	case rsmodels.StatusApproved:
		sheet.ApplySubmit(s.officer, s.now)
		sheet.ApplyVerify(s.officer, "", s.now)
		sheet.ApplyApprove(s.officer, s.now)
	case rsmodels.StatusDraft:
	}
	if status != rsmodels.StatusDraft {
		s.Require().NoError(s.sheets.UpdateWorkflow(ctx, sheet, rsmodels.StatusDraft))
	}
}

func (s *ProgressServiceSuite) TestSubmissionProgress() {
	s.Run("counts sheets by their current status", func() {
		stations := s.activateStations(5)
		s.seedSheet(stations[0], rsmodels.StatusDraft)
		s.seedSheet(stations[1], rsmodels.StatusSubmitted)
		s.seedSheet(stations[2], rsmodels.StatusVerified)
		s.seedSheet(stations[3], rsmodels.StatusApproved)
		// stations[4] has no sheet yet

		progress, err := s.service.GetSubmissionProgress(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(5, progress.TotalStations)
		s.Equal(4, progress.Created)
		s.Equal(1, progress.Submitted)
		s.Equal(1, progress.Verified)
		s.Equal(1, progress.Approved)
	})

	s.Run("an election with nothing activated reads as zero", func() {
		empty := id.ElectionID(uuid.New())
		progress, err := s.service.GetSubmissionProgress(s.ctx(), empty)
		s.Require().NoError(err)
		s.Equal(0, progress.TotalStations)
		s.Equal(0, progress.Created)
	})

	s.Run("requires an election id", func() {
		_, err := s.service.GetSubmissionProgress(s.ctx(), id.ElectionID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ProgressServiceSuite) TestDashboard() {
	s.Run("assembles completion and the candidate preview", func() {
		stations := s.activateStations(4)
		s.seedSheet(stations[0], rsmodels.StatusApproved,
			entryLine{name: "Ama Mensah", party: "Unity Party", votes: 220},
			entryLine{name: "Kofi Boateng", party: "Progress Alliance", votes: 180})
		s.seedSheet(stations[1], rsmodels.StatusApproved,
			entryLine{name: "Ama Mensah", party: "Unity Party", votes: 150},
			entryLine{name: "Kofi Boateng", party: "Progress Alliance", votes: 190})
		// Submitted figures never join the preview until approved.
		s.seedSheet(stations[2], rsmodels.StatusSubmitted,
			entryLine{name: "Ama Mensah", party: "Unity Party", votes: 999})

		dashboard, err := s.service.GetDashboard(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(4, dashboard.Progress.TotalStations)
		s.Equal(2, dashboard.Progress.Approved)
		s.Equal(50.0, dashboard.Completion)
		s.Equal(s.now, dashboard.GeneratedAt)

		s.Require().Len(dashboard.TopCandidates, 2)
		s.Equal("Ama Mensah", dashboard.TopCandidates[0].CandidateName)
		s.Equal(370, dashboard.TopCandidates[0].Votes)
		s.Equal(370, dashboard.TopCandidates[1].Votes)
	})

	s.Run("zero stations yields zero completion, not a division error", func() {
		empty := id.ElectionID(uuid.New())
		dashboard, err := s.service.GetDashboard(s.ctx(), empty)
		s.Require().NoError(err)
		s.Equal(0.0, dashboard.Completion)
		s.Empty(dashboard.TopCandidates)
		s.NotNil(dashboard.TopCandidates)
	})

	s.Run("rounds completion to two decimal places", func() {
		election := id.ElectionID(uuid.New())
		scoped := New(s.sheets, s.stations)
		s.election = election
		stations := s.activateStations(3)
		s.seedSheet(stations[0], rsmodels.StatusApproved)

		dashboard, err := scoped.GetDashboard(s.ctx(), election)
		s.Require().NoError(err)
		s.Equal(33.33, dashboard.Completion)
	})
}

func (s *ProgressServiceSuite) TestCaching() {
	s.Run("serves the second read from the cache", func() {
		stations := s.activateStations(2)
		s.seedSheet(stations[0], rsmodels.StatusSubmitted)

		first, err := s.service.GetSubmissionProgress(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(1, s.cache.sets)

		// A sheet lands between the reads; the cached snapshot still serves.
		s.seedSheet(stations[1], rsmodels.StatusSubmitted)
		second, err := s.service.GetSubmissionProgress(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(first.Created, second.Created)
		s.Equal(1, s.cache.sets)
	})

	s.Run("progress and dashboard cache independently", func() {
		s.activateStations(1)
		_, err := s.service.GetSubmissionProgress(s.ctx(), s.election)
		s.Require().NoError(err)
		_, err = s.service.GetDashboard(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(2, s.cache.sets)
	})

	s.Run("a failing cache degrades to recomputation", func() {
		stations := s.activateStations(1)
		s.seedSheet(stations[0], rsmodels.StatusApproved)
		s.cache.flaky = true

		progress, err := s.service.GetSubmissionProgress(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(1, progress.Approved)
	})

	s.Run("a corrupt cache entry is recomputed over", func() {
		stations := s.activateStations(1)
		s.seedSheet(stations[0], rsmodels.StatusVerified)
		s.cache.entries[progressKey(s.election)] = []byte("{not json")

		progress, err := s.service.GetSubmissionProgress(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(1, progress.Verified)
	})

	s.Run("runs without a cache at all", func() {
		bare := New(s.sheets, s.stations)
		stations := s.activateStations(1)
		s.seedSheet(stations[0], rsmodels.StatusDraft)

		progress, err := bare.GetSubmissionProgress(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Equal(1, progress.Created)
	})
}
