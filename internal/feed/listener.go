package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	wfstore "collate/internal/workflowlog/store"
)

const defaultRetryDelay = 5 * time.Second

// Listener holds one dedicated Postgres connection on LISTEN and feeds the
// hub. The connection is separate from the database/sql pool because LISTEN
// pins a session.
type Listener struct {
	dsn        string
	hub        *Hub
	logger     *slog.Logger
	retryDelay time.Duration
}

type ListenerOption func(l *Listener)

func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

func WithRetryDelay(delay time.Duration) ListenerOption {
	return func(l *Listener) {
		l.retryDelay = delay
	}
}

func NewListener(dsn string, hub *Hub, opts ...ListenerOption) *Listener {
	l := &Listener{dsn: dsn, hub: hub, retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run listens until the context is cancelled. A dropped connection is
// re-dialed after the retry delay; notifications fired while disconnected
// are simply missed, which is the feed's contract.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.logger != nil {
			l.logger.Warn("feed listener disconnected", "error", err, "retry_in", l.retryDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect feed listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{wfstore.NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen on %s: %w", wfstore.NotifyChannel, err)
	}
	if l.logger != nil {
		l.logger.Info("feed listener attached", "channel", wfstore.NotifyChannel)
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		event, err := decodeTransition([]byte(notification.Payload))
		if err != nil {
			if l.logger != nil {
				l.logger.Warn("feed payload discarded", "error", err)
			}
			continue
		}
		l.hub.Publish(event)
	}
}
