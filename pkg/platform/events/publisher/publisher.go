// Package publisher emits workflow events to an events.Store. The default
// mode appends synchronously so emission joins the caller's transaction; the
// async mode trades that for non-blocking emission on hot paths.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/mssola/useragent"

	events "collate/pkg/platform/events"
	"collate/pkg/requestcontext"
)

// ErrBufferFull is returned in async mode when the buffer cannot take the
// event without blocking. The event is dropped.
var ErrBufferFull = errors.New("event buffer full")

type Publisher struct {
	store  events.Store
	logger *slog.Logger

	buffer    chan events.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(p *Publisher)

// WithAsyncBuffer switches the publisher to asynchronous mode with the given
// buffer size. Events are persisted by a background goroutine; Close drains
// the buffer before returning.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.buffer = make(chan events.Event, size)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store events.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records one event. The zero Timestamp, Category, and actor/client
// fields are filled from the action table and the request context.
func (p *Publisher) Emit(ctx context.Context, event events.Event) error {
	p.enrich(ctx, &event)

	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// Close stops the async drainer after flushing buffered events. It is safe
// to call in sync mode and safe to call twice.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
		}
	})
	p.wg.Wait()
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("append buffered event", "action", event.Action, "error", err)
		}
	}
}

func (p *Publisher) enrich(ctx context.Context, event *events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = events.WorkflowEvent(event.Action).Category()
	}
	if event.ActorID == "" {
		if officerID := requestcontext.OfficerID(ctx); !officerID.IsNil() {
			event.ActorID = officerID.String()
		}
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IPAddress == "" {
		event.IPAddress = requestcontext.ClientIP(ctx)
	}
	if event.GPSLocation == "" {
		event.GPSLocation = requestcontext.GPS(ctx)
	}
	if event.Device == "" {
		event.Device = DeviceSummary(requestcontext.UserAgent(ctx))
	}
}

// DeviceSummary condenses a User-Agent header into a short label like
// "Chrome 120 on Android". Non-browser agents (the field app sends its own
// product token) pass through trimmed.
func DeviceSummary(rawUA string) string {
	rawUA = strings.TrimSpace(rawUA)
	if rawUA == "" {
		return ""
	}

	ua := useragent.New(rawUA)
	name, version := ua.Browser()
	os := ua.OSInfo().Name
	if name == "" || os == "" {
		// Product tokens and other non-browser agents carry no OS section.
		if len(rawUA) > 128 {
			return rawUA[:128]
		}
		return rawUA
	}

	summary := name
	if version != "" {
		if i := strings.Index(version, "."); i > 0 {
			version = version[:i]
		}
		summary += " " + version
	}
	summary += " on " + os
	if ua.Mobile() {
		summary += " (mobile)"
	}
	return summary
}
