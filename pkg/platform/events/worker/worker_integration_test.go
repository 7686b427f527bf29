//go:build integration

package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "collate/pkg/domain"
	events "collate/pkg/platform/events"
	eventstore "collate/pkg/platform/events/store/postgres"
	"collate/pkg/platform/events/worker"
	"collate/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	pg       *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	outbox   *eventstore.Store
	producer *kgo.Client
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.pg = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.outbox = eventstore.New(s.pg.DB)

	producer, err := kgo.NewClient(kgo.SeedBrokers(s.redpanda.Brokers...))
	s.Require().NoError(err)
	s.producer = producer
}

func (s *RelaySuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "outbox"))
}

// newTopic provisions a fresh topic so consumed offsets never bleed
// between tests.
func (s *RelaySuite) newTopic(ctx context.Context) string {
	topic := fmt.Sprintf("collate.workflow.events.%s", uuid.NewString()[:8])
	s.Require().NoError(worker.EnsureTopic(ctx, s.producer, topic, 1))
	return topic
}

func (s *RelaySuite) consume(ctx context.Context, topic string, want int) []*kgo.Record {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	deadline, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var records []*kgo.Record
	for len(records) < want {
		fetches := consumer.PollFetches(deadline)
		s.Require().NoError(fetches.Err())
		records = append(records, fetches.Records()...)
	}
	return records
}

func (s *RelaySuite) TestRelayShipsCommittedEvents() {
	ctx := context.Background()
	topic := s.newTopic(ctx)
	electionID := id.ElectionID(uuid.New())

	actions := []string{"result_submitted", "result_verified", "result_approved"}
	for _, action := range actions {
		s.Require().NoError(s.outbox.Append(ctx, events.Event{
			Timestamp:  time.Now().UTC(),
			ElectionID: electionID,
			Subject:    "collation_result:" + uuid.NewString(),
			Action:     action,
			Level:      "constituency",
			ToStatus:   "submitted",
			ActorID:    uuid.NewString(),
		}))
	}

	relay := worker.New(s.outbox, s.producer, topic)
	published, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(3, published)

	records := s.consume(ctx, topic, 3)
	s.Require().Len(records, 3)

	seen := make(map[string]bool)
	for _, record := range records {
		s.Equal(electionID.String(), string(record.Key))
		s.Require().Len(record.Headers, 1)
		s.Equal("event_type", record.Headers[0].Key)
		seen[string(record.Headers[0].Value)] = true

		var payload struct {
			ID         string
			Category   string
			ElectionID string
			Action     string
		}
		s.Require().NoError(json.Unmarshal(record.Value, &payload))
		s.NotEmpty(payload.ID)
		s.Equal("workflow", payload.Category)
		s.Equal(electionID.String(), payload.ElectionID)
		s.Equal(string(record.Headers[0].Value), payload.Action)
	}
	for _, action := range actions {
		s.True(seen[action], "missing action %s", action)
	}
}

func (s *RelaySuite) TestRelayMarksBatchPublishedOnce() {
	ctx := context.Background()
	topic := s.newTopic(ctx)

	s.Require().NoError(s.outbox.Append(ctx, events.Event{
		Timestamp:  time.Now().UTC(),
		ElectionID: id.ElectionID(uuid.New()),
		Subject:    "result_sheet:" + uuid.NewString(),
		Action:     "sheet_submitted",
		ToStatus:   "submitted",
	}))

	relay := worker.New(s.outbox, s.producer, topic)

	published, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, published)

	published, err = relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(published)
}

func (s *RelaySuite) TestRelayWithEmptyOutbox() {
	ctx := context.Background()
	relay := worker.New(s.outbox, s.producer, s.newTopic(ctx))

	published, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(published)
}
