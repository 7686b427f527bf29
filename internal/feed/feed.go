// Package feed streams workflow transitions to operational consumers as
// they commit. The source is the pg_notify fired inside the workflow-log
// append transaction, so a rolled-back transition is never announced.
// Delivery is best-effort; the log table stays authoritative.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	wflog "collate/internal/workflowlog/models"
	id "collate/pkg/domain"
)

// TransitionEvent is one announced workflow transition. Exactly one of
// ResultSheetID and CollationResultID is set, matching the log entry.
type TransitionEvent struct {
	ID                uuid.UUID             `json:"id"`
	ElectionID        id.ElectionID         `json:"election_id"`
	ResultSheetID     *id.SheetID           `json:"result_sheet_id,omitempty"`
	CollationResultID *id.CollationResultID `json:"collation_result_id,omitempty"`
	Action            wflog.Action          `json:"action"`
	FromStatus        string                `json:"from_status,omitempty"`
	ToStatus          string                `json:"to_status"`
	Level             id.Level              `json:"level"`
	CreatedAt         time.Time             `json:"created_at"`
}

// subscriberBuffer bounds how far a consumer may lag before it starts
// losing events.
const subscriberBuffer = 16

// Hub fans one transition stream out to subscribers. Sends never block: a
// subscriber that stops draining drops events rather than stalling the
// listener and its siblings.
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]chan TransitionEvent
	nextID  uint64
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan TransitionEvent)}
}

// Subscribe registers a consumer. The returned cancel closes the channel
// and the subscription ends on its own when ctx is cancelled. Cancel is
// idempotent.
func (h *Hub) Subscribe(ctx context.Context) (<-chan TransitionEvent, func()) {
	h.mu.Lock()
	subID := h.nextID
	h.nextID++
	ch := make(chan TransitionEvent, subscriberBuffer)
	h.subs[subID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, subID)
			h.mu.Unlock()
			close(ch)
		})
	}
	context.AfterFunc(ctx, cancel)
	return ch, cancel
}

// Publish delivers to every subscriber with room in its buffer.
func (h *Hub) Publish(event TransitionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.dropped++
		}
	}
}

// SubscriberCount reports the live subscriptions, for readiness reporting.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many sends were lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// decodeTransition parses one pg_notify payload as written by the
// workflow-log store.
func decodeTransition(payload []byte) (TransitionEvent, error) {
	var event TransitionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return TransitionEvent{}, fmt.Errorf("decode transition payload: %w", err)
	}
	if event.ID == uuid.Nil {
		return TransitionEvent{}, fmt.Errorf("transition payload missing id")
	}
	return event, nil
}
