package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"collate/internal/incident/models"
	"collate/internal/incident/store"
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

func (p *capturingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return events.Event{}
	}
	return p.events[len(p.events)-1]
}

type IncidentServiceSuite struct {
	suite.Suite
	store     *store.InMemoryStore
	publisher *capturingPublisher
	service   *Service
	election  id.ElectionID
	officer   id.OfficerID
	now       time.Time
}

func TestIncidentServiceSuite(t *testing.T) {
	suite.Run(t, new(IncidentServiceSuite))
}

func (s *IncidentServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.publisher = &capturingPublisher{}
	s.service = New(s.store, WithPublisher(s.publisher))
	s.election = id.ElectionID(uuid.New())
	s.officer = id.OfficerID(uuid.New())
	s.now = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
}

func (s *IncidentServiceSuite) ctx() context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	return requestcontext.WithGPS(ctx, "5.6037,-0.1870")
}

func (s *IncidentServiceSuite) report(params ReportParams) *models.Incident {
	inc, err := s.service.Report(s.ctx(), params, s.officer)
	s.Require().NoError(err)
	return inc
}

func (s *IncidentServiceSuite) reportAtStation() *models.Incident {
	stationID := id.PollingStationID(uuid.New())
	return s.report(ReportParams{
		ElectionID:  s.election,
		Scope:       models.Scope{StationID: &stationID},
		Type:        models.TypeEquipmentFailure,
		Category:    models.CategoryEquipment,
		Severity:    models.SeverityHigh,
		Title:       "scanner down",
		Description: "the sheet scanner lost power mid-batch",
	})
}

func (s *IncidentServiceSuite) TestReport() {
	s.Run("records an open incident with reporter and position", func() {
		inc := s.reportAtStation()

		s.Equal(models.StatusOpen, inc.Status)
		s.Equal(s.officer, inc.ReportedBy)
		s.Equal(s.now, inc.ReportedAt)
		s.Equal("5.6037,-0.1870", inc.ReportGPS)

		event := s.publisher.last()
		s.Equal(string(events.EventIncidentReported), event.Action)
		s.Equal(string(id.LevelPollingStation), event.Level)
		s.Equal("open", event.ToStatus)
		s.Equal("scanner down", event.Reason)
	})

	s.Run("election-wide incident carries no level", func() {
		inc := s.report(ReportParams{
			ElectionID:  s.election,
			Type:        models.TypeDelay,
			Category:    models.CategoryProcess,
			Severity:    models.SeverityLow,
			Title:       "late opening",
			Description: "materials arrived two hours late across the region",
		})
		s.Equal(models.StatusOpen, inc.Status)
		s.Empty(s.publisher.last().Level)
	})

	s.Run("nil actor rejected", func() {
		_, err := s.service.Report(s.ctx(), ReportParams{ElectionID: s.election}, id.OfficerID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("invalid params come back as validation errors", func() {
		_, err := s.service.Report(s.ctx(), ReportParams{
			ElectionID:  s.election,
			Type:        models.Type("earthquake"),
			Category:    models.CategoryOther,
			Severity:    models.SeverityLow,
			Title:       "t",
			Description: "d",
		}, s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.Report(s.ctx(), ReportParams{
			ElectionID: s.election,
			Type:       models.TypeOther,
			Category:   models.CategoryOther,
			Severity:   models.SeverityLow,
			Title:      "   ",
		}, s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *IncidentServiceSuite) TestHandlingChain() {
	s.Run("assign then resolve then close", func() {
		inc := s.reportAtStation()
		assignee := id.OfficerID(uuid.New())

		inc, err := s.service.Assign(s.ctx(), inc.ID, assignee)
		s.Require().NoError(err)
		s.Equal(models.StatusInvestigating, inc.Status)
		s.Equal(assignee, *inc.AssignedTo)
		s.Equal(string(events.EventIncidentAssigned), s.publisher.last().Action)

		inc, err = s.service.Resolve(s.ctx(), inc.ID, assignee, "generator brought in", models.ResolutionFixed)
		s.Require().NoError(err)
		s.Equal(models.StatusResolved, inc.Status)
		s.Equal("generator brought in", inc.Resolution)
		s.Equal(models.ResolutionFixed, inc.ResolutionType)
		s.Equal("generator brought in", s.publisher.last().Reason)

		inc, err = s.service.Close(s.ctx(), inc.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusClosed, inc.Status)
		s.Equal(string(events.EventIncidentClosed), s.publisher.last().Action)
	})

	s.Run("escalation and de-escalation", func() {
		inc := s.reportAtStation()

		inc, err := s.service.Escalate(s.ctx(), inc.ID, "needs regional security response")
		s.Require().NoError(err)
		s.Equal(models.StatusEscalated, inc.Status)
		s.Equal("needs regional security response", s.publisher.last().Reason)

		inc, err = s.service.Assign(s.ctx(), inc.ID, id.OfficerID(uuid.New()))
		s.Require().NoError(err)
		s.Equal(models.StatusEscalated, inc.Status, "assignment does not de-escalate")
	})

	s.Run("settled incidents reject further handling", func() {
		inc := s.reportAtStation()
		_, err := s.service.Resolve(s.ctx(), inc.ID, s.officer, "handled on site", models.ResolutionDocumented)
		s.Require().NoError(err)

		_, err = s.service.Assign(s.ctx(), inc.ID, id.OfficerID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		s.ErrorContains(err, "cannot assign a resolved incident")

		_, err = s.service.Escalate(s.ctx(), inc.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

		_, err = s.service.Resolve(s.ctx(), inc.ID, s.officer, "again", models.ResolutionFixed)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("resolution requires a note and a known type", func() {
		inc := s.reportAtStation()
		_, err := s.service.Resolve(s.ctx(), inc.ID, s.officer, "   ", models.ResolutionFixed)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.Resolve(s.ctx(), inc.ID, s.officer, "done", models.ResolutionType("shredded"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing incident maps to not found", func() {
		_, err := s.service.Assign(s.ctx(), id.IncidentID(uuid.New()), s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *IncidentServiceSuite) TestReads() {
	s.Run("list filters by status and severity, newest first", func() {
		first := s.reportAtStation()
		s.now = s.now.Add(time.Minute)
		second := s.report(ReportParams{
			ElectionID:  s.election,
			Type:        models.TypeViolence,
			Category:    models.CategorySecurity,
			Severity:    models.SeverityCritical,
			Title:       "crowd at the gate",
			Description: "crowd blocking the collation center entrance",
		})
		_, err := s.service.Resolve(s.ctx(), first.ID, s.officer, "scanner replaced", models.ResolutionFixed)
		s.Require().NoError(err)

		all, err := s.service.List(s.ctx(), s.election, models.ListFilter{})
		s.Require().NoError(err)
		s.Require().Len(all, 2)
		s.Equal(second.ID, all[0].ID, "newest report first")

		open, err := s.service.List(s.ctx(), s.election, models.ListFilter{Status: models.StatusOpen})
		s.Require().NoError(err)
		s.Require().Len(open, 1)
		s.Equal(second.ID, open[0].ID)

		critical, err := s.service.List(s.ctx(), s.election, models.ListFilter{Severity: models.SeverityCritical})
		s.Require().NoError(err)
		s.Require().Len(critical, 1)

		none, err := s.service.List(s.ctx(), id.ElectionID(uuid.New()), models.ListFilter{})
		s.Require().NoError(err)
		s.Empty(none)
	})

	s.Run("limit caps the listing", func() {
		for range 3 {
			s.reportAtStation()
			s.now = s.now.Add(time.Second)
		}
		out, err := s.service.List(s.ctx(), s.election, models.ListFilter{Limit: 2})
		s.Require().NoError(err)
		s.Len(out, 2)
	})

	s.Run("get returns the stored incident", func() {
		inc := s.reportAtStation()
		got, err := s.service.Get(s.ctx(), inc.ID)
		s.Require().NoError(err)
		s.Equal(inc.ID, got.ID)
		s.Equal(inc.Title, got.Title)
	})

	s.Run("bad arguments rejected", func() {
		_, err := s.service.Get(s.ctx(), id.IncidentID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.List(s.ctx(), id.ElectionID{}, models.ListFilter{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.List(s.ctx(), s.election, models.ListFilter{Status: models.Status("pending")})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.List(s.ctx(), s.election, models.ListFilter{Severity: models.Severity("mild")})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}
