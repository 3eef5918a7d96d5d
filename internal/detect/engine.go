// Package detect is the threat detection engine. A fixed, ordered list of
// detectors runs over an extracted document or a flat string and the
// findings are merged into an immutable Report.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"warden/internal/extract"
	"warden/internal/platform/metrics"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

var tracer = otel.Tracer("warden/internal/detect")

type Engine struct {
	detectors []Detector
	policy    atomic.Pointer[Policy]
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Engine)

func WithPolicy(p *Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy.Store(p)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithDetectors appends detectors after the fixed list.
func WithDetectors(ds ...Detector) Option {
	return func(e *Engine) {
		e.detectors = append(e.detectors, ds...)
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		detectors: DefaultDetectors(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	e.policy.Store(DefaultPolicy())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy new scans will use.
func (e *Engine) Policy() *Policy {
	return e.policy.Load()
}

// SetPolicy swaps the policy. Scans already running keep the one they
// started with.
func (e *Engine) SetPolicy(p *Policy) {
	if p == nil {
		return
	}
	e.policy.Store(p)
}

func (e *Engine) ScanText(ctx context.Context, text string) (*Report, error) {
	return e.scan(ctx, "text", extract.TextDocument(text))
}

func (e *Engine) ScanDocument(ctx context.Context, doc *extract.Document) (*Report, error) {
	if doc == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "document is required")
	}
	return e.scan(ctx, "document", doc)
}

func (e *Engine) scan(ctx context.Context, target string, doc *extract.Document) (*Report, error) {
	ctx, span := tracer.Start(ctx, "detect.scan")
	defer span.End()
	span.SetAttributes(
		attribute.String("detect.target", target),
		attribute.String("detect.source_kind", string(doc.SourceKind)),
	)

	start := time.Now()
	policy := e.Policy()
	findings, err := e.run(ctx, doc, 0, policy)
	e.metrics.ObserveScan(target, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, err
	}

	requestID := requestcontext.RequestID(ctx)
	report := NewReport(findings, policy.BlockThreshold, requestID, e.now())
	for _, f := range findings {
		e.metrics.IncFinding(string(f.Kind), f.Severity.String())
	}
	span.SetAttributes(
		attribute.Int("detect.findings", report.Len()),
		attribute.Bool("detect.blocking", report.Blocking()),
	)
	if report.Blocking() {
		e.logger.WarnContext(ctx, "blocking threat report",
			"request_id", requestID,
			"target", target,
			"max_severity", report.Max().String(),
			"findings", report.Len(),
		)
	} else if !report.Clean() {
		e.logger.DebugContext(ctx, "threat report",
			"request_id", requestID,
			"target", target,
			"findings", report.Len(),
		)
	}
	return report, nil
}

// run executes every detector in order over doc at depth. A detector that
// hits the structured recursion limit contributes a CRITICAL finding and
// the pass continues.
func (e *Engine) run(ctx context.Context, doc *extract.Document, depth int, policy *Policy) ([]Finding, error) {
	scope := &Scope{Doc: doc, Depth: depth, Policy: policy}
	scope.Rescan = func(ctx context.Context, text string, next int) ([]Finding, error) {
		return e.run(ctx, extract.TextDocument(text), next, policy)
	}

	var out []Finding
	for _, d := range e.detectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := d.Scan(ctx, scope)
		var limit *LimitError
		switch {
		case errors.As(err, &limit):
			f := newFinding(KindRecursionLimit, SeverityCritical, limit.Location, 0, 0, "", 1.0, depth)
			f.Evidence = ""
			f.Note = fmt.Sprintf("nesting exceeds %d levels", limit.Limit)
			found = append(found, f)
		case err != nil:
			return nil, fmt.Errorf("%s detector: %w", d.Name(), err)
		}
		out = append(out, found...)
	}
	return out, nil
}
