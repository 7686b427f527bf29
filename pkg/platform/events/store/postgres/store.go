package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	events "collate/pkg/platform/events"
	txcontext "collate/pkg/platform/tx"
)

// Store implements events.Store using the transactional outbox pattern.
// Events are written to the outbox table inside the emitting transaction and
// shipped to Kafka by the relay worker. A dropped relay never loses a
// committed event; it only delays it.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL event store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// events.Event for deserialization by consumers.
type outboxPayload struct {
	ID          string `json:"ID"`
	Category    string `json:"Category"`
	Timestamp   string `json:"Timestamp"`
	ElectionID  string `json:"ElectionID,omitempty"`
	Subject     string `json:"Subject"`
	Action      string `json:"Action"`
	Level       string `json:"Level,omitempty"`
	FromStatus  string `json:"FromStatus,omitempty"`
	ToStatus    string `json:"ToStatus,omitempty"`
	ActorID     string `json:"ActorID,omitempty"`
	Reason      string `json:"Reason,omitempty"`
	RequestID   string `json:"RequestID,omitempty"`
	IPAddress   string `json:"IPAddress,omitempty"`
	GPSLocation string `json:"GPSLocation,omitempty"`
	Device      string `json:"Device,omitempty"`
}

// Append writes an event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event events.Event) error {
	eventID := uuid.New()

	// Category is always derived from the action so producers cannot drift
	// from the routing table.
	category := events.WorkflowEvent(event.Action).Category()

	payload := outboxPayload{
		ID:          eventID.String(),
		Category:    string(category),
		Timestamp:   event.Timestamp.Format(time.RFC3339Nano),
		Subject:     event.Subject,
		Action:      event.Action,
		Level:       event.Level,
		FromStatus:  event.FromStatus,
		ToStatus:    event.ToStatus,
		ActorID:     event.ActorID,
		Reason:      event.Reason,
		RequestID:   event.RequestID,
		IPAddress:   event.IPAddress,
		GPSLocation: event.GPSLocation,
		Device:      event.Device,
	}
	if !event.ElectionID.IsNil() {
		payload.ElectionID = event.ElectionID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	aggregateType := "election"
	aggregateID := payload.ElectionID
	if aggregateID == "" {
		aggregateType = "event"
		aggregateID = eventID.String()
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// OutboxRow is one unpublished outbox entry ready for the relay.
type OutboxRow struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// FetchUnpublished returns up to limit unpublished entries, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxRow, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var batch []OutboxRow
	for rows.Next() {
		var row OutboxRow
		if err := rows.Scan(&row.ID, &row.AggregateID, &row.EventType, &row.Payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, row)
	}
	return batch, rows.Err()
}

// MarkPublished stamps published_at on the given entries.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, publishedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, publishedAt)
	for i, entryID := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, entryID)
	}
	query := fmt.Sprintf(
		`UPDATE outbox SET published_at = $1 WHERE id IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
