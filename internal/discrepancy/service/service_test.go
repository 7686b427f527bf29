package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"collate/internal/discrepancy/models"
	"collate/internal/discrepancy/store"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/requestcontext"
)

// capturingPublisher records emitted events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Emit(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) lastAction() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return ""
	}
	return p.events[len(p.events)-1].Action
}

type DiscrepancyServiceSuite struct {
	suite.Suite
	store     *store.InMemoryStore
	publisher *capturingPublisher
	service   *Service
	election  id.ElectionID
	officer   id.OfficerID
	now       time.Time
}

func TestDiscrepancyServiceSuite(t *testing.T) {
	suite.Run(t, new(DiscrepancyServiceSuite))
}

func (s *DiscrepancyServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.publisher = &capturingPublisher{}
	s.service = New(s.store, WithPublisher(s.publisher))
	s.election = id.ElectionID(uuid.New())
	s.officer = id.OfficerID(uuid.New())
	s.now = time.Date(2025, 11, 3, 15, 0, 0, 0, time.UTC)
}

func (s *DiscrepancyServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *DiscrepancyServiceSuite) reportForSheet(sheetID id.SheetID) *models.Discrepancy {
	disc, err := s.service.Report(s.ctx(), ReportParams{
		ElectionID:  s.election,
		SheetID:     &sheetID,
		Type:        models.TypeVoteMismatch,
		Description: "figures do not match the words column",
		Expected:    100,
		Reported:    90,
	})
	s.Require().NoError(err)
	return disc
}

func (s *DiscrepancyServiceSuite) TestReport() {
	s.Run("raises a manual discrepancy against a sheet", func() {
		sheetID := id.SheetID(uuid.New())
		disc := s.reportForSheet(sheetID)

		s.Equal(models.StatusUnresolved, disc.Status)
		s.Equal(models.DetectionManual, disc.DetectionMethod)
		s.Equal(id.LevelPollingStation, disc.Level)
		s.Equal(int64(10), disc.Difference)
		s.Equal(s.now, disc.CreatedAt)
		s.Equal(string(events.EventDiscrepancyDetected), s.publisher.lastAction())
	})

	s.Run("raises a rollup discrepancy at the stated level", func() {
		resultID := id.CollationResultID(uuid.New())
		disc, err := s.service.Report(s.ctx(), ReportParams{
			ElectionID:        s.election,
			CollationResultID: &resultID,
			Level:             id.LevelConstituency,
			Type:              models.TypeTotalMismatch,
			Description:       "constituency total short of one electoral area",
			Expected:          5000,
			Reported:          4200,
		})
		s.Require().NoError(err)
		s.Equal(id.LevelConstituency, disc.Level)
		s.Require().NotNil(disc.CollationResultID)
		s.Equal(resultID, *disc.CollationResultID)
	})

	s.Run("rejects naming both subjects", func() {
		sheetID := id.SheetID(uuid.New())
		resultID := id.CollationResultID(uuid.New())
		_, err := s.service.Report(s.ctx(), ReportParams{
			ElectionID:        s.election,
			SheetID:           &sheetID,
			CollationResultID: &resultID,
			Type:              models.TypeVoteMismatch,
			Description:       "ambiguous",
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects naming no subject", func() {
		_, err := s.service.Report(s.ctx(), ReportParams{
			ElectionID:  s.election,
			Type:        models.TypeVoteMismatch,
			Description: "floating anomaly",
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects an empty description", func() {
		sheetID := id.SheetID(uuid.New())
		_, err := s.service.Report(s.ctx(), ReportParams{
			ElectionID:  s.election,
			SheetID:     &sheetID,
			Type:        models.TypeVoteMismatch,
			Description: "   ",
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects an unknown type", func() {
		sheetID := id.SheetID(uuid.New())
		_, err := s.service.Report(s.ctx(), ReportParams{
			ElectionID:  s.election,
			SheetID:     &sheetID,
			Type:        models.Type("gut_feeling"),
			Description: "numbers look off",
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *DiscrepancyServiceSuite) TestStartInvestigation() {
	s.Run("moves an unresolved discrepancy to investigating", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		updated, err := s.service.StartInvestigation(s.ctx(), disc.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusInvestigating, updated.Status)
		s.Equal(string(events.EventDiscrepancyInvestigating), s.publisher.lastAction())
	})

	s.Run("rejects a second investigation start", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		_, err := s.service.StartInvestigation(s.ctx(), disc.ID)
		s.Require().NoError(err)
		_, err = s.service.StartInvestigation(s.ctx(), disc.ID)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown discrepancy is not found", func() {
		_, err := s.service.StartInvestigation(s.ctx(), id.DiscrepancyID(uuid.New()))
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *DiscrepancyServiceSuite) TestResolve() {
	s.Run("records verdict, actor, and corrected value", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		_, err := s.service.StartInvestigation(s.ctx(), disc.ID)
		s.Require().NoError(err)

		corrected := int64(95)
		resolved, err := s.service.Resolve(s.ctx(), disc.ID, s.officer, "recount confirmed 95", &corrected)
		s.Require().NoError(err)
		s.Equal(models.StatusResolved, resolved.Status)
		s.Require().NotNil(resolved.ResolvedBy)
		s.Equal(s.officer, *resolved.ResolvedBy)
		s.Require().NotNil(resolved.ResolvedAt)
		s.Equal(s.now, *resolved.ResolvedAt)
		s.Equal("recount confirmed 95", resolved.Resolution)
		s.Require().NotNil(resolved.CorrectedValue)
		s.Equal(int64(95), *resolved.CorrectedValue)
		s.Equal(string(events.EventDiscrepancyResolved), s.publisher.lastAction())
	})

	s.Run("resolves straight from unresolved", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		resolved, err := s.service.Resolve(s.ctx(), disc.ID, s.officer, "clerical error, no correction needed", nil)
		s.Require().NoError(err)
		s.Equal(models.StatusResolved, resolved.Status)
		s.Nil(resolved.CorrectedValue)
	})

	s.Run("rejects resolving twice", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		_, err := s.service.Resolve(s.ctx(), disc.ID, s.officer, "done", nil)
		s.Require().NoError(err)
		_, err = s.service.Resolve(s.ctx(), disc.ID, s.officer, "done again", nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("requires a resolution note", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		_, err := s.service.Resolve(s.ctx(), disc.ID, s.officer, "  ", nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("requires an actor", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		_, err := s.service.Resolve(s.ctx(), disc.ID, id.OfficerID{}, "done", nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *DiscrepancyServiceSuite) TestIgnore() {
	s.Run("dismisses and records the officer", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		ignored, err := s.service.Ignore(s.ctx(), disc.ID, s.officer, "within supplementary register slack")
		s.Require().NoError(err)
		s.Equal(models.StatusIgnored, ignored.Status)
		s.Require().NotNil(ignored.ResolvedBy)
		s.Equal(s.officer, *ignored.ResolvedBy)
		s.Equal("within supplementary register slack", ignored.Resolution)
		s.Equal(string(events.EventDiscrepancyIgnored), s.publisher.lastAction())
	})

	s.Run("ignored is terminal", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		_, err := s.service.Ignore(s.ctx(), disc.ID, s.officer, "noise")
		s.Require().NoError(err)
		_, err = s.service.StartInvestigation(s.ctx(), disc.ID)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *DiscrepancyServiceSuite) TestListing() {
	s.Run("open list shrinks as discrepancies close", func() {
		first := s.reportForSheet(id.SheetID(uuid.New()))
		second := s.reportForSheet(id.SheetID(uuid.New()))
		third := s.reportForSheet(id.SheetID(uuid.New()))

		open, err := s.service.ListOpen(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Len(open, 3)

		_, err = s.service.StartInvestigation(s.ctx(), first.ID)
		s.Require().NoError(err)
		open, err = s.service.ListOpen(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Len(open, 3)

		_, err = s.service.Resolve(s.ctx(), second.ID, s.officer, "verified against carbon copy", nil)
		s.Require().NoError(err)
		_, err = s.service.Ignore(s.ctx(), third.ID, s.officer, "noise")
		s.Require().NoError(err)

		open, err = s.service.ListOpen(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Require().Len(open, 1)
		s.Equal(first.ID, open[0].ID)
	})

	s.Run("sheet history keeps closed discrepancies", func() {
		sheetID := id.SheetID(uuid.New())
		disc := s.reportForSheet(sheetID)
		_, err := s.service.Resolve(s.ctx(), disc.ID, s.officer, "kept for the record", nil)
		s.Require().NoError(err)

		all, err := s.service.ListForSheet(s.ctx(), sheetID)
		s.Require().NoError(err)
		s.Require().Len(all, 1)
		s.Equal(models.StatusResolved, all[0].Status)
	})

	s.Run("get returns the stored row", func() {
		disc := s.reportForSheet(id.SheetID(uuid.New()))
		got, err := s.service.Get(s.ctx(), disc.ID)
		s.Require().NoError(err)
		s.Equal(disc.ID, got.ID)
	})
}
