// Package worker ships committed outbox entries to Kafka. The relay is the
// only Kafka producer in the system; domain code writes outbox rows and
// never touches the broker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"collate/pkg/platform/events/store/postgres"
)

// OutboxStore is the slice of the event store the relay needs.
type OutboxStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]postgres.OutboxRow, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, publishedAt time.Time) error
}

// Producer is satisfied by *kgo.Client; tests substitute a fake.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Worker polls the outbox and publishes batches. Marking published happens
// only after the whole batch is acknowledged, so a crash between produce and
// mark re-sends the batch: delivery is at-least-once and consumers must key
// on the event ID embedded in the payload.
type Worker struct {
	outbox       OutboxStore
	producer     Producer
	topic        string
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger
}

type Option func(w *Worker)

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.pollInterval = interval
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		w.batchSize = size
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func New(outbox OutboxStore, producer Producer, topic string, opts ...Option) *Worker {
	w := &Worker{
		outbox:       outbox,
		producer:     producer,
		topic:        topic,
		pollInterval: 2 * time.Second,
		batchSize:    100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Publish failures are logged and
// retried on the next tick; they never stop the relay.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			published, err := w.RelayOnce(ctx)
			if err != nil {
				if w.logger != nil {
					w.logger.Error("relay outbox batch", "error", err)
				}
				continue
			}
			if published > 0 && w.logger != nil {
				w.logger.Debug("relayed outbox batch", "published", published)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were shipped.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	batch, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, len(batch))
	ids := make([]uuid.UUID, len(batch))
	for i, row := range batch {
		records[i] = &kgo.Record{
			Topic: w.topic,
			Key:   []byte(row.AggregateID),
			Value: row.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(row.EventType)},
			},
		}
		ids[i] = row.ID
	}

	if err := w.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce outbox batch: %w", err)
	}
	if err := w.outbox.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("mark outbox batch published: %w", err)
	}
	return len(batch), nil
}

// EnsureTopic creates the topic if the broker does not have it yet. Safe to
// call on every startup.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, result := range resp {
		if result.Err != nil && !errors.Is(result.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", result.Topic, result.Err)
		}
	}
	return nil
}
