package service

//go:generate mockgen -destination=mocks/publisher_mock.go -package=mocks collate/internal/collation/service EventPublisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"collate/internal/collation/models"
	"collate/internal/collation/service/mocks"
	"collate/internal/collation/store"
	wflog "collate/internal/workflowlog/models"
	wfstore "collate/internal/workflowlog/store"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/platform/events"
	"collate/pkg/platform/tx"
	"collate/pkg/requestcontext"
)

type CollationServiceSuite struct {
	suite.Suite
	results   *store.InMemoryStore
	history   *wfstore.InMemoryStore
	publisher *mocks.MockEventPublisher
	service   *Service
	election  id.ElectionID
	position  id.PositionID
	officer   id.OfficerID
	now       time.Time

	mu       sync.Mutex
	captured []events.Event
}

func TestCollationServiceSuite(t *testing.T) {
	suite.Run(t, new(CollationServiceSuite))
}

func (s *CollationServiceSuite) SetupTest() {
	s.results = store.NewInMemory()
	s.history = wfstore.NewInMemory()
	s.election = id.ElectionID(uuid.New())
	s.position = id.PositionID(uuid.New())
	s.officer = id.OfficerID(uuid.New())
	s.now = time.Date(2025, 12, 8, 9, 0, 0, 0, time.UTC)
	s.captured = nil

	ctrl := gomock.NewController(s.T())
	s.publisher = mocks.NewMockEventPublisher(ctrl)
	s.publisher.EXPECT().
		Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event events.Event) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.captured = append(s.captured, event)
			return nil
		}).
		AnyTimes()

	s.service = New(s.results, tx.Passthrough{}, s.history, WithPublisher(s.publisher))
}

func (s *CollationServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *CollationServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *CollationServiceSuite) lastEvent() events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.captured)
	return s.captured[len(s.captured)-1]
}

// seedIncomplete plants a freshly aggregated electoral-area rollup the way
// the aggregator would, with a fresh location so subtests never collide on
// the natural key.
func (s *CollationServiceSuite) seedIncomplete() *models.CollationResult {
	result, err := models.NewComputed(id.CollationResultID(uuid.New()), s.election, s.position,
		id.LevelElectoralArea, uuid.New(), models.Tally{
			TotalUnits:        4,
			ReportedUnits:     4,
			ApprovedUnits:     4,
			RegisteredVoters:  2000,
			TotalVotesCast:    1400,
			ValidVotes:        1350,
			RejectedBallots:   50,
			TurnoutPercentage: 70,
			Results: []models.CandidateResult{
				{CandidateName: "Ama Mensah", Party: "Unity Party", Votes: 800, Percentage: 59.26},
				{CandidateName: "Kofi Boateng", Party: "Progress Alliance", Votes: 550, Percentage: 40.74},
			},
		}, s.now)
	s.Require().NoError(err)
	stored, err := s.results.Upsert(context.Background(), result)
	s.Require().NoError(err)
	return stored
}

func (s *CollationServiceSuite) submitted() *models.CollationResult {
	seeded := s.seedIncomplete()
	result, err := s.service.SubmitResult(s.ctx(), seeded.ID, s.officer)
	s.Require().NoError(err)
	return result
}

func (s *CollationServiceSuite) approved() *models.CollationResult {
	result := s.submitted()
	_, err := s.service.VerifyResult(s.ctx(), result.ID, id.OfficerID(uuid.New()))
	s.Require().NoError(err)
	approved, err := s.service.ApproveResult(s.ctx(), result.ID, id.OfficerID(uuid.New()))
	s.Require().NoError(err)
	return approved
}

func (s *CollationServiceSuite) TestSubmit() {
	s.Run("submits an incomplete rollup", func() {
		seeded := s.seedIncomplete()

		result, err := s.service.SubmitResult(s.ctx(), seeded.ID, s.officer)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, result.Status)
		s.Require().NotNil(result.SubmittedBy)
		s.Equal(s.officer, *result.SubmittedBy)
		s.Equal(s.now, *result.SubmittedAt)
		s.False(result.Status.Counted())

		event := s.lastEvent()
		s.Equal(string(events.EventResultSubmitted), event.Action)
		s.Equal(string(id.LevelElectoralArea), event.Level)
		s.Equal(string(models.StatusIncomplete), event.FromStatus)
		s.Equal(string(models.StatusSubmitted), event.ToStatus)

		history, err := s.service.GetResultHistory(s.ctx(), result.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Equal(wflog.ActionSubmitted, history[0].Action)
		s.Equal(string(models.StatusIncomplete), history[0].FromStatus)
	})

	s.Run("refuses a second submission", func() {
		result := s.submitted()
		_, err := s.service.SubmitResult(s.ctx(), result.ID, s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		s.EqualError(err, "cannot submit a collation result in status submitted")
	})

	s.Run("requires an actor", func() {
		seeded := s.seedIncomplete()
		_, err := s.service.SubmitResult(s.ctx(), seeded.ID, id.OfficerID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("maps a missing rollup to not found", func() {
		_, err := s.service.SubmitResult(s.ctx(), id.CollationResultID(uuid.New()), s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CollationServiceSuite) TestReviewChain() {
	s.Run("walks a rollup through verify, approve and certify", func() {
		result := s.submitted()

		s.advance(15 * time.Minute)
		reviewer := id.OfficerID(uuid.New())
		verified, err := s.service.VerifyResult(s.ctx(), result.ID, reviewer)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, verified.Status)
		s.Equal(reviewer, *verified.VerifiedBy)
		s.Equal(s.now, *verified.VerifiedAt)
		s.False(verified.Status.Counted())

		s.advance(10 * time.Minute)
		approver := id.OfficerID(uuid.New())
		approved, err := s.service.ApproveResult(s.ctx(), result.ID, approver)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, approved.Status)
		s.Equal(approver, *approved.ApprovedBy)
		s.True(approved.Status.Counted())
		s.Equal(string(events.EventResultApproved), s.lastEvent().Action)

		s.advance(time.Hour)
		certifier := id.OfficerID(uuid.New())
		certified, err := s.service.CertifyResult(s.ctx(), result.ID, certifier)
		s.Require().NoError(err)
		s.Equal(models.StatusCertified, certified.Status)
		s.Equal(certifier, *certified.CertifiedBy)
		s.Equal(s.now, *certified.CertifiedAt)
		s.True(certified.Status.Counted())

		history, err := s.service.GetResultHistory(s.ctx(), result.ID)
		s.Require().NoError(err)
		actions := make([]wflog.Action, 0, len(history))
		for _, entry := range history {
			actions = append(actions, entry.Action)
		}
		s.Equal([]wflog.Action{wflog.ActionSubmitted, wflog.ActionVerified,
			wflog.ActionApproved, wflog.ActionCertified}, actions)
	})

	s.Run("refuses to verify an incomplete rollup", func() {
		seeded := s.seedIncomplete()
		_, err := s.service.VerifyResult(s.ctx(), seeded.ID, s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		s.EqualError(err, "cannot verify a collation result in status incomplete")
	})

	s.Run("refuses to approve straight from submitted", func() {
		result := s.submitted()
		_, err := s.service.ApproveResult(s.ctx(), result.ID, s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("refuses to certify before approval", func() {
		result := s.submitted()
		_, err := s.service.VerifyResult(s.ctx(), result.ID, s.officer)
		s.Require().NoError(err)
		_, err = s.service.CertifyResult(s.ctx(), result.ID, s.officer)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *CollationServiceSuite) TestDispute() {
	s.Run("freezes an approved rollup with the objector's reason", func() {
		result := s.approved()

		objector := id.OfficerID(uuid.New())
		disputed, err := s.service.DisputeResult(s.ctx(), result.ID, objector, "constituency agent tally disagrees")
		s.Require().NoError(err)
		s.Equal(models.StatusDisputed, disputed.Status)
		s.Equal(objector, *disputed.DisputedBy)
		s.Equal("constituency agent tally disagrees", disputed.DisputeReason)
		s.False(disputed.Status.Counted())
		s.False(disputed.Status.Reported())
		// The approval stamps stand as the record of what was contested.
		s.NotNil(disputed.ApprovedBy)
		s.Equal(string(events.EventResultDisputed), s.lastEvent().Action)
	})

	s.Run("a certified rollup can still be disputed", func() {
		result := s.approved()
		_, err := s.service.CertifyResult(s.ctx(), result.ID, s.officer)
		s.Require().NoError(err)

		disputed, err := s.service.DisputeResult(s.ctx(), result.ID, s.officer, "recount ordered")
		s.Require().NoError(err)
		s.Equal(models.StatusDisputed, disputed.Status)
	})

	s.Run("resubmission clears the review stamps but keeps the dispute", func() {
		result := s.approved()
		_, err := s.service.DisputeResult(s.ctx(), result.ID, s.officer, "figures contested")
		s.Require().NoError(err)

		s.advance(30 * time.Minute)
		resubmitted, err := s.service.SubmitResult(s.ctx(), result.ID, s.officer)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, resubmitted.Status)
		s.Nil(resubmitted.VerifiedBy)
		s.Nil(resubmitted.ApprovedBy)
		s.Nil(resubmitted.CertifiedBy)
		s.NotNil(resubmitted.DisputedBy)
		s.Equal("figures contested", resubmitted.DisputeReason)

		history, err := s.service.GetResultHistory(s.ctx(), result.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 5)
		s.Equal(wflog.ActionDisputed, history[3].Action)
		s.Equal(wflog.ActionSubmitted, history[4].Action)
		s.Equal(string(models.StatusDisputed), history[4].FromStatus)
	})

	s.Run("requires a reason", func() {
		result := s.approved()
		_, err := s.service.DisputeResult(s.ctx(), result.ID, s.officer, "   ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.EqualError(err, "a dispute reason is required")
	})

	s.Run("an incomplete rollup cannot be disputed", func() {
		seeded := s.seedIncomplete()
		_, err := s.service.DisputeResult(s.ctx(), seeded.ID, s.officer, "nothing to contest yet")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *CollationServiceSuite) TestReads() {
	s.Run("loads a rollup by its natural key", func() {
		seeded := s.seedIncomplete()

		result, err := s.service.GetResultByKey(s.ctx(), s.election, s.position,
			id.LevelElectoralArea, seeded.LocationID)
		s.Require().NoError(err)
		s.Equal(seeded.ID, result.ID)

		listed, err := s.service.GetResults(s.ctx(), s.election, s.position, id.LevelElectoralArea)
		s.Require().NoError(err)
		s.Len(listed, 1)
	})

	s.Run("rejects the polling station level", func() {
		_, err := s.service.GetResults(s.ctx(), s.election, s.position, id.LevelPollingStation)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("maps a missing rollup to not found", func() {
		ghost := id.CollationResultID(uuid.New())
		_, err := s.service.GetResult(s.ctx(), ghost)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.service.GetResultHistory(s.ctx(), ghost)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.service.GetResultByKey(s.ctx(), s.election, s.position, id.LevelNational, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("requires a result id", func() {
		_, err := s.service.GetResult(s.ctx(), id.CollationResultID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// racingResultStore lets a rival transition slip in between the service's
// read and its conditional update.
type racingResultStore struct {
	*store.InMemoryStore
	onFind func()
}

func (r *racingResultStore) FindByID(ctx context.Context, resultID id.CollationResultID) (*models.CollationResult, error) {
	result, err := r.InMemoryStore.FindByID(ctx, resultID)
	if r.onFind != nil {
		r.onFind()
	}
	return result, err
}

func (s *CollationServiceSuite) TestConcurrentTransition() {
	s.Run("surfaces a rival transition as a conflict", func() {
		result := s.submitted()

		racing := &racingResultStore{InMemoryStore: s.results}
		racing.onFind = func() {
			racing.onFind = nil
			_, err := s.service.VerifyResult(s.ctx(), result.ID, id.OfficerID(uuid.New()))
			s.Require().NoError(err)
		}

		contender := New(racing, tx.Passthrough{}, s.history)
		_, err := contender.VerifyResult(s.ctx(), result.ID, s.officer)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.EqualError(err, "collation result was modified concurrently")
	})
}
