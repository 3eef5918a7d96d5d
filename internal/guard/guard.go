// Package guard validates model output before it leaves the system.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"warden/internal/detect"
	"warden/internal/identity"
	"warden/internal/platform/metrics"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

// DefaultMaskConfidence is the PII confidence at which a non-blocking
// response still has the value masked.
const DefaultMaskConfidence = 0.9

var tracer = otel.Tracer("warden/internal/guard")

type Scanner interface {
	ScanText(ctx context.Context, text string) (*detect.Report, error)
}

type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ValidationResult is the guard's verdict. RedactedResponse never contains
// a blocked span or a masked value in clear.
type ValidationResult struct {
	IsValid          bool
	Report           *detect.Report
	RedactedResponse string
	Masked           bool
}

type Guard struct {
	scanner        Scanner
	auditor        Auditor
	actor          identity.AgentIdentity
	maskConfidence float64
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Guard)

// WithActor names the identity recorded on validation events.
func WithActor(actor identity.AgentIdentity) Option {
	return func(g *Guard) {
		if !actor.IsZero() {
			g.actor = actor
		}
	}
}

func WithMaskConfidence(c float64) Option {
	return func(g *Guard) {
		if c > 0 && c <= 1 {
			g.maskConfidence = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func New(scanner Scanner, auditor Auditor, opts ...Option) (*Guard, error) {
	if scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	g := &Guard{
		scanner:        scanner,
		auditor:        auditor,
		actor:          identity.Orchestrator(),
		maskConfidence: DefaultMaskConfidence,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Validate scans response. A blocking report replaces every matched span
// with detect.RedactionToken and marks the result invalid. Otherwise PII
// at or above the mask confidence is masked in place and the result stays
// valid. Every verdict is audited; an audit failure fails the call.
func (g *Guard) Validate(ctx context.Context, response string) (ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "guard.validate")
	defer span.End()

	report, err := g.scanner.ScanText(ctx, response)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return ValidationResult{}, err
	}

	result := ValidationResult{IsValid: true, Report: report, RedactedResponse: response}
	outcome, event, decision := "clean", audit.EventResponseValidated, audit.DecisionAllow
	switch {
	case report.Blocking():
		result.IsValid = false
		result.RedactedResponse = redactBlocked(response, report.Findings())
		result.Masked = true
		outcome, event, decision = "blocked", audit.EventResponseRedacted, audit.DecisionDeny
	default:
		masked, n := maskPII(response, report.Findings(), g.maskConfidence)
		if n > 0 {
			result.RedactedResponse = masked
			result.Masked = true
			outcome, event, decision = "masked", audit.EventResponseRedacted, audit.DecisionFlag
		}
	}
	span.SetAttributes(attribute.String("guard.outcome", outcome))
	g.metrics.IncGuardOutcome(outcome)

	if err := g.emit(ctx, event, decision, report, outcome); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit failed")
		return ValidationResult{}, err
	}
	return result, nil
}

func (g *Guard) emit(ctx context.Context, event audit.AuditEvent, decision audit.Decision, report *detect.Report, outcome string) error {
	kinds := make([]string, 0, len(report.Kinds()))
	for _, k := range report.Kinds() {
		kinds = append(kinds, string(k))
	}
	detail := map[string]string{
		"outcome":  outcome,
		"findings": strconv.Itoa(report.Len()),
		"kinds":    strings.Join(kinds, ","),
	}
	if top := report.Max(); top.Valid() {
		detail["max_severity"] = top.String()
	}

	if g.logger != nil {
		g.logger.InfoContext(ctx, string(event),
			"outcome", outcome,
			"findings", report.Len(),
			"request_id", requestcontext.RequestID(ctx),
			"log_type", "audit",
		)
	}
	err := g.auditor.Emit(ctx, audit.Event{
		ActorID:    string(g.actor.ID()),
		ActorLevel: g.actor.PrivilegeLevel().String(),
		Action:     string(event),
		Decision:   decision,
		Detail:     detail,
	})
	if err != nil {
		if g.logger != nil {
			g.logger.ErrorContext(ctx, "response guard audit write failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record response validation")
	}
	return nil
}
