// Package compliance provides the fail-closed audit trail publisher.
//
// Emit writes synchronously to the audit store and the caller blocks until
// the write succeeds. If the write fails the error is returned and the
// calling operation must fail: a trust decision that cannot be audited is
// not taken.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

// Redactor masks sensitive substrings in a detail value.
type Redactor func(string) string

// Forwarder receives events after they are persisted.
type Forwarder interface {
	Enqueue(event audit.Event)
}

// Publisher emits audit events with fail-closed semantics.
type Publisher struct {
	store     audit.Store
	logger    *slog.Logger
	metrics   *Metrics
	redact    Redactor
	forwarder Forwarder
	now       func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithRedactor masks every detail value before it is persisted.
func WithRedactor(r Redactor) Option {
	return func(p *Publisher) {
		p.redact = r
	}
}

// WithForwarder hands persisted events to a best-effort stream.
func WithForwarder(f Forwarder) Option {
	return func(p *Publisher) {
		p.forwarder = f
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit validates, completes and synchronously persists event.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	start := time.Now()

	if event.CorrelationID == "" {
		event.CorrelationID = requestcontext.RequestID(ctx)
	}
	if event.CorrelationID == "" {
		return fmt.Errorf("audit event requires CorrelationID")
	}
	if event.Action == "" {
		return fmt.Errorf("audit event requires Action")
	}
	if event.ActorID == "" {
		return fmt.Errorf("audit event requires ActorID")
	}
	if !event.Decision.Valid() {
		return fmt.Errorf("audit event has invalid Decision %q", event.Decision)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	event.Detail = p.maskDetail(event.Detail)

	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: audit persistence failed",
				"action", event.Action,
				"correlation_id", event.CorrelationID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}

	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncEventsEmitted(string(event.Category))

	if p.forwarder != nil {
		p.forwarder.Enqueue(event)
	}
	return nil
}

// List returns the events recorded for a correlation id in append order.
func (p *Publisher) List(ctx context.Context, correlationID string) ([]audit.Event, error) {
	return p.store.ListByCorrelation(ctx, correlationID)
}

func (p *Publisher) maskDetail(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if p.redact != nil {
			v = p.redact(v)
		}
		out[k] = v
	}
	return out
}
