//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	geomodels "collate/internal/geography/models"
	geostore "collate/internal/geography/store"
	"collate/internal/resultsheet/models"
	"collate/internal/resultsheet/store"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
	"collate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	geo      *geostore.PostgresStore
	org      id.OrgID
	election id.ElectionID
	position id.PositionID
	officer  id.OfficerID
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.geo = geostore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"result_sheet_attachments", "result_sheet_entries",
		"election_polling_stations", "result_sheets")
	s.Require().NoError(err)

	s.org = id.OrgID(uuid.New())
	s.election = id.ElectionID(uuid.New())
	s.position = id.PositionID(uuid.New())
	s.officer = id.OfficerID(uuid.New())
	s.now = time.Date(2025, 12, 7, 8, 0, 0, 0, time.UTC)
}

// seedStation builds the full geography chain down to one polling station.
// Codes are randomized because the geography tables survive truncation.
func (s *PostgresStoreSuite) seedStation() id.PollingStationID {
	ctx := context.Background()
	suffix := uuid.New().String()[:8]

	region, err := geomodels.NewRegion(id.RegionID(uuid.New()), s.org, "Greater Accra", "R-"+suffix, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.geo.CreateRegion(ctx, region))

	constituency, err := geomodels.NewConstituency(id.ConstituencyID(uuid.New()), s.org, region.ID, "Okaikwei Central", "C-"+suffix, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.geo.CreateConstituency(ctx, constituency))

	area, err := geomodels.NewElectoralArea(id.ElectoralAreaID(uuid.New()), s.org, constituency.ID, "Abeka", "EA-"+suffix, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.geo.CreateElectoralArea(ctx, area))

	station, err := geomodels.NewPollingStation(id.PollingStationID(uuid.New()), s.org, area.ID, "Abeka Primary A", "PS-"+suffix, 500, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.geo.CreatePollingStation(ctx, station))
	return station.ID
}

func (s *PostgresStoreSuite) newSheet(station id.PollingStationID) *models.ResultSheet {
	sheet, err := models.NewResultSheet(id.SheetID(uuid.New()), s.election, s.position,
		station, models.SheetTypePrimary, s.officer, 500, s.now)
	s.Require().NoError(err)
	return sheet
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	station := s.seedStation()

	sheet := s.newSheet(station)
	s.Require().NoError(sheet.ApplyAccounting(models.Accounting{
		RegisteredVoters: 500,
		BallotsIssued:    480,
		BallotsCast:      420,
		ValidVotes:       400,
		RejectedBallots:  20,
		UnusedBallots:    60,
	}, s.now))
	s.Require().NoError(s.store.CreateSheet(ctx, sheet))

	loaded, err := s.store.FindByID(ctx, sheet.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, loaded.Status)
	s.Equal(models.SheetTypePrimary, loaded.SheetType)
	s.Equal(480, loaded.BallotsIssued)
	s.Equal(400, loaded.ValidVotes)
	s.Equal(s.officer, loaded.EnteredBy)
	s.Nil(loaded.QualityScore)
	s.Nil(loaded.SubmittedBy)
}

func (s *PostgresStoreSuite) TestNaturalKeyIsUnique() {
	ctx := context.Background()
	station := s.seedStation()

	s.Require().NoError(s.store.CreateSheet(ctx, s.newSheet(station)))

	err := s.store.CreateSheet(ctx, s.newSheet(station))
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	// A duplicate sheet type is a different key.
	duplicate, err := models.NewResultSheet(id.SheetID(uuid.New()), s.election, s.position,
		station, models.SheetTypeDuplicate, s.officer, 500, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateSheet(ctx, duplicate))
}

func (s *PostgresStoreSuite) TestConditionalWorkflowUpdate() {
	ctx := context.Background()
	sheet := s.newSheet(s.seedStation())
	s.Require().NoError(s.store.CreateSheet(ctx, sheet))

	sheet.ApplySubmit(s.officer, s.now.Add(time.Minute))
	s.Require().NoError(s.store.UpdateWorkflow(ctx, sheet, models.StatusDraft))

	// The row is submitted now; a writer that read draft loses.
	stale := *sheet
	stale.ApplySubmit(s.officer, s.now.Add(2*time.Minute))
	err := s.store.UpdateWorkflow(ctx, &stale, models.StatusDraft)
	s.ErrorIs(err, sentinel.ErrConflict)

	loaded, err := s.store.FindByID(ctx, sheet.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, loaded.Status)
	s.Require().NotNil(loaded.SubmittedAt)
}

func (s *PostgresStoreSuite) TestConcurrentSubmissionsAdmitOneWriter() {
	ctx := context.Background()
	sheet := s.newSheet(s.seedStation())
	s.Require().NoError(s.store.CreateSheet(ctx, sheet))

	var won, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			contender := *sheet
			contender.ApplySubmit(id.OfficerID(uuid.New()), s.now.Add(time.Minute))
			switch err := s.store.UpdateWorkflow(ctx, &contender, models.StatusDraft); {
			case err == nil:
				won.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), won.Load())
	s.Equal(int32(49), lost.Load())
}

func (s *PostgresStoreSuite) TestReplaceEntries() {
	ctx := context.Background()
	sheet := s.newSheet(s.seedStation())
	s.Require().NoError(s.store.CreateSheet(ctx, sheet))

	first := s.entries(sheet.ID, 120, 80, 40)
	s.Require().NoError(s.store.ReplaceEntries(ctx, sheet.ID, first, s.now))

	second := s.entries(sheet.ID, 200, 100)
	s.Require().NoError(s.store.ReplaceEntries(ctx, sheet.ID, second, s.now.Add(time.Minute)))

	listed, err := s.store.ListEntries(ctx, sheet.ID)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)
	s.Equal(1, listed[0].BallotOrder)
	s.Equal(200, listed[0].VotesInFigures)
	s.Equal(2, listed[1].BallotOrder)
	s.Equal(100, listed[1].VotesInFigures)
}

func (s *PostgresStoreSuite) entries(sheetID id.SheetID, votes ...int) []models.Entry {
	out := make([]models.Entry, 0, len(votes))
	for i, v := range votes {
		candidateID := id.CandidateID(uuid.New())
		entry, err := models.NewEntry(id.EntryID(uuid.New()), sheetID, &candidateID,
			fmt.Sprintf("Candidate %d", i+1), fmt.Sprintf("Party %d", i+1),
			v, fmt.Sprintf("%d in words", v), i+1, s.now)
		s.Require().NoError(err)
		out = append(out, *entry)
	}
	return out
}

func (s *PostgresStoreSuite) TestAttachments() {
	ctx := context.Background()
	sheet := s.newSheet(s.seedStation())
	s.Require().NoError(s.store.CreateSheet(ctx, sheet))

	attachment, err := models.NewAttachment(id.AttachmentID(uuid.New()), sheet.ID,
		"s3://collate-evidence/sheets/ps-0112.jpg", "pink_sheet", "ps-0112.jpg", s.officer, s.now)
	s.Require().NoError(err)
	confidence := 91.5
	attachment.OCRText = "PRESIDENTIAL RESULTS 250 150"
	attachment.OCRConfidence = &confidence
	s.Require().NoError(s.store.AddAttachment(ctx, attachment))

	listed, err := s.store.ListAttachments(ctx, sheet.ID)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal("ps-0112.jpg", listed[0].FileName)
	s.Require().NotNil(listed[0].OCRConfidence)
	s.InDelta(91.5, *listed[0].OCRConfidence, 0.001)
}

func (s *PostgresStoreSuite) TestAggregationReads() {
	ctx := context.Background()

	stationA := s.seedStation()
	stationB := s.seedStation()

	approved := s.newSheet(stationA)
	s.Require().NoError(s.store.CreateSheet(ctx, approved))
	s.Require().NoError(s.store.ReplaceEntries(ctx, approved.ID, s.entries(approved.ID, 250, 150), s.now))
	approved.ApplySubmit(s.officer, s.now)
	approved.ApplyVerify(s.officer, "", s.now)
	approved.ApplyApprove(s.officer, s.now)
	s.Require().NoError(s.store.UpdateWorkflow(ctx, approved, models.StatusDraft))

	submitted := s.newSheet(stationB)
	s.Require().NoError(s.store.CreateSheet(ctx, submitted))
	s.Require().NoError(s.store.ReplaceEntries(ctx, submitted.ID, s.entries(submitted.ID, 90), s.now))
	submitted.ApplySubmit(s.officer, s.now)
	s.Require().NoError(s.store.UpdateWorkflow(ctx, submitted, models.StatusDraft))

	sheets, err := s.store.ListForStations(ctx, s.election, s.position,
		[]id.PollingStationID{stationA, stationB})
	s.Require().NoError(err)
	s.Len(sheets, 2)

	counts, err := s.store.CountByStatus(ctx, s.election)
	s.Require().NoError(err)
	s.Equal(1, counts[models.StatusApproved])
	s.Equal(1, counts[models.StatusSubmitted])

	// Only the approved sheet's entries reach the preview.
	top, err := s.store.TopCandidates(ctx, s.election, 10)
	s.Require().NoError(err)
	s.Require().Len(top, 2)
	s.Equal(250, top[0].Votes)
	s.Equal(150, top[1].Votes)
}
