// Package orchestrator runs one chat request across the trust boundary:
// scan the user message, extract and scan attachments, route to an agent
// through the call bus, call the model and guard its reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/callbus"
	"warden/internal/detect"
	"warden/internal/extract"
	"warden/internal/guard"
	"warden/internal/identity"
	"warden/internal/llm"
	"warden/internal/platform/metrics"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

const (
	DefaultMaxAttachments = 10
	DefaultConcurrency    = 4
)

const blockedMessageReply = "Your message could not be processed because it violates the content policy."

var tracer = otel.Tracer("warden/internal/orchestrator")

type Extractor interface {
	Extract(ctx context.Context, raw []byte, kind extract.Kind) (*extract.Document, error)
}

type Scanner interface {
	ScanText(ctx context.Context, text string) (*detect.Report, error)
	ScanDocument(ctx context.Context, doc *extract.Document) (*detect.Report, error)
}

// Authorizer is the call bus.
type Authorizer interface {
	Authorize(ctx context.Context, caller identity.AgentIdentity, target identity.AgentID, required identity.PrivilegeLevel) (callbus.CapabilityToken, error)
	Admit(ctx context.Context, token callbus.CapabilityToken, agent identity.AgentID) (identity.AgentIdentity, error)
}

type Directory interface {
	Lookup(id identity.AgentID) (identity.Agent, error)
}

type Validator interface {
	Validate(ctx context.Context, response string) (guard.ValidationResult, error)
}

type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	extractor      Extractor
	scanner        Scanner
	bus            Authorizer
	directory      Directory
	guard          Validator
	backend        llm.Backend
	auditor        Auditor
	actor          identity.AgentIdentity
	maxAttachments int
	concurrency    int
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithMaxAttachments(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttachments = n
		}
	}
}

// WithConcurrency bounds how many attachments are extracted at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(
	extractor Extractor,
	scanner Scanner,
	bus Authorizer,
	directory Directory,
	validator Validator,
	backend llm.Backend,
	auditor Auditor,
	opts ...Option,
) (*Service, error) {
	switch {
	case extractor == nil:
		return nil, errors.New("extractor is required")
	case scanner == nil:
		return nil, errors.New("scanner is required")
	case bus == nil:
		return nil, errors.New("call bus is required")
	case directory == nil:
		return nil, errors.New("agent directory is required")
	case validator == nil:
		return nil, errors.New("response guard is required")
	case backend == nil:
		return nil, errors.New("model backend is required")
	case auditor == nil:
		return nil, errors.New("auditor is required")
	}
	s := &Service{
		extractor:      extractor,
		scanner:        scanner,
		bus:            bus,
		directory:      directory,
		guard:          validator,
		backend:        backend,
		auditor:        auditor,
		actor:          identity.Orchestrator(),
		maxAttachments: DefaultMaxAttachments,
		concurrency:    DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handle runs the pipeline for one request. A blocked user message or a
// blocked reply comes back as a response with PolicyWarning set; call bus
// denials and backend outages come back as coded errors.
func (s *Service) Handle(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	correlationID := requestcontext.RequestID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx = requestcontext.WithRequestID(ctx, correlationID)
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	ctx = requestcontext.WithConversationID(ctx, conversationID)

	ctx, span := tracer.Start(ctx, "orchestrator.handle", trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.Int("attachments", len(req.Attachments)),
	))
	defer span.End()

	resp, err := s.handle(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	resp.ConversationID = conversationID
	resp.CorrelationID = correlationID
	return resp, nil
}

func (s *Service) handle(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user_message is required")
	}
	if len(req.Attachments) > s.maxAttachments {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d attachments are allowed", s.maxAttachments))
	}

	msgReport, err := s.scanner.ScanText(ctx, req.UserMessage)
	if err != nil {
		return nil, err
	}
	if err := s.emitScan(ctx, "user_message", msgReport); err != nil {
		return nil, err
	}
	if msgReport.Blocking() {
		return &ChatResponse{
			Response: blockedMessageReply,
			PolicyWarning: &PolicyWarning{
				Type:    warningType(msgReport),
				Message: "Your message was blocked by the content policy and was not sent to the assistant.",
				Details: details("user_message", msgReport),
			},
		}, nil
	}

	results, err := s.prepare(ctx, req.Attachments)
	if err != nil {
		return nil, err
	}
	resp := &ChatResponse{}
	var warnings []PolicyWarning
	var docs []forwarded
	for _, r := range results {
		w, doc, err := s.settle(ctx, r, resp)
		if err != nil {
			return nil, err
		}
		if w != nil {
			warnings = append(warnings, *w)
		}
		if doc != nil {
			docs = append(docs, forwarded{name: r.name, doc: doc})
		}
	}

	target := Classify(req.UserMessage, len(req.Attachments) > 0).Agent()
	if _, err := s.dispatch(ctx, s.actor, target); err != nil {
		return nil, err
	}
	resp.Agent = target

	reply, err := s.backend.Chat(ctx, buildMessages(target, req.UserMessage, docs))
	if err != nil {
		return nil, s.backendFailure(ctx, target, err)
	}

	result, err := s.guard.Validate(ctx, reply)
	if err != nil {
		return nil, err
	}
	resp.Response = result.RedactedResponse
	switch {
	case !result.IsValid:
		warnings = append([]PolicyWarning{{
			Type:    WarningResponseBlocked,
			Message: "Part of the response was withheld because it violates the content policy.",
			Details: details("response", result.Report),
		}}, warnings...)
	case result.Masked:
		warnings = append([]PolicyWarning{{
			Type:    WarningPIIMasked,
			Message: "Sensitive values in the response were masked.",
			Details: details("response", result.Report),
		}}, warnings...)
	}
	resp.PolicyWarning = combine(warnings)
	return resp, nil
}

// settle records the outcome of one attachment. It returns the document to
// forward, or nil when the attachment was skipped or blocked.
func (s *Service) settle(ctx context.Context, r attachmentResult, resp *ChatResponse) (*PolicyWarning, *extract.Document, error) {
	source := "attachment:" + r.name
	if r.extractErr != nil {
		reason := extractReason(r.extractErr)
		resp.AttachmentWarnings = append(resp.AttachmentWarnings, AttachmentWarning{
			Name: r.name, Reason: reason, Message: reasonMessages[reason],
		})
		s.metrics.IncAttachmentWarning(reason)
		err := s.emit(ctx, audit.EventAttachmentSkipped, audit.DecisionFlag, map[string]string{
			"source": source,
			"reason": reason,
		})
		return nil, nil, err
	}

	if err := s.emitScan(ctx, source, r.report); err != nil {
		return nil, nil, err
	}
	if r.report.Blocking() {
		resp.AttachmentWarnings = append(resp.AttachmentWarnings, AttachmentWarning{
			Name: r.name, Reason: ReasonBlocked, Message: reasonMessages[ReasonBlocked],
		})
		s.metrics.IncAttachmentWarning(ReasonBlocked)
		return &PolicyWarning{
			Type:    warningType(r.report),
			Message: fmt.Sprintf("Attachment %q was withheld because it violates the content policy.", r.name),
			Details: details(source, r.report),
		}, nil, nil
	}
	if r.doc.HasHidden() {
		return &PolicyWarning{
			Type:    "hidden_content",
			Message: fmt.Sprintf("Hidden text in attachment %q was removed before analysis.", r.name),
			Details: details(source, r.report),
		}, r.doc, nil
	}
	return nil, r.doc, nil
}

// Escalate lets one agent call another. The call carries the target's
// minimum level, so a lower agent succeeds only with a delegation grant.
func (s *Service) Escalate(ctx context.Context, from identity.AgentIdentity, to identity.AgentID) (identity.AgentIdentity, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.escalate", trace.WithAttributes(
		attribute.String("from", string(from.ID())),
		attribute.String("to", string(to)),
	))
	defer span.End()

	admitted, err := s.dispatch(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, callbus.Reason(err))
		return identity.AgentIdentity{}, err
	}
	return admitted, nil
}

// dispatch authorizes caller against target's minimum level and admits the
// token at target.
func (s *Service) dispatch(ctx context.Context, caller identity.AgentIdentity, target identity.AgentID) (identity.AgentIdentity, error) {
	required := identity.Admin
	if agent, err := s.directory.Lookup(target); err == nil {
		required = agent.RequiredLevel
	}
	token, err := s.bus.Authorize(ctx, caller, target, required)
	if err != nil {
		return identity.AgentIdentity{}, err
	}
	admitted, err := s.bus.Admit(ctx, token, target)
	if err != nil {
		return identity.AgentIdentity{}, err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "agent call admitted",
			"caller", string(caller.ID()),
			"target", string(target),
			"granted", token.GrantedLevel.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return admitted, nil
}

func (s *Service) backendFailure(ctx context.Context, target identity.AgentID, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	reason := "error"
	switch {
	case errors.Is(err, llm.ErrCircuitOpen):
		reason = "circuit_open"
	case errors.Is(err, llm.ErrTimeout):
		reason = "timeout"
	case errors.Is(err, llm.ErrBackendUnavailable):
		reason = "unavailable"
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "model backend call failed",
			"agent", string(target),
			"reason", reason,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if auditErr := s.emit(ctx, audit.EventBackendUnavailable, audit.DecisionFlag, map[string]string{
		"agent":  string(target),
		"reason": reason,
	}); auditErr != nil {
		err = errors.Join(err, auditErr)
	}
	if reason == "error" {
		return dErrors.Wrap(err, dErrors.CodeInternal, "model backend request failed")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "service unavailable")
}

// emitScan audits one scan verdict: DENY when blocking, FLAG when anything
// was found, ALLOW otherwise.
func (s *Service) emitScan(ctx context.Context, source string, report *detect.Report) error {
	event, decision := audit.EventContentScanned, audit.DecisionAllow
	switch {
	case report.Blocking():
		event, decision = audit.EventContentBlocked, audit.DecisionDeny
	case !report.Clean():
		decision = audit.DecisionFlag
	}
	kinds := make([]string, 0, len(report.Kinds()))
	for _, k := range report.Kinds() {
		kinds = append(kinds, string(k))
	}
	detail := map[string]string{
		"source":   source,
		"findings": strconv.Itoa(report.Len()),
		"kinds":    strings.Join(kinds, ","),
	}
	if top := report.Max(); top.Valid() {
		detail["max_severity"] = top.String()
	}
	for i, f := range report.Findings() {
		detail[fmt.Sprintf("finding[%d]", i)] = fmt.Sprintf("%s %s at %s: %s", f.Kind, f.Severity, f.Location, f.Evidence)
	}
	return s.emit(ctx, event, decision, detail)
}

func (s *Service) emit(ctx context.Context, event audit.AuditEvent, decision audit.Decision, detail map[string]string) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event),
			"decision", string(decision),
			"source", detail["source"],
			"request_id", requestcontext.RequestID(ctx),
			"log_type", "audit",
		)
	}
	err := s.auditor.Emit(ctx, audit.Event{
		ActorID:    string(s.actor.ID()),
		ActorLevel: s.actor.PrivilegeLevel().String(),
		Action:     string(event),
		Decision:   decision,
		Detail:     detail,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "pipeline audit write failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record content decision")
	}
	return nil
}

// FindingSummary is the user-visible view of a finding. Evidence is masked.
type FindingSummary struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Location string `json:"location"`
	Evidence string `json:"evidence,omitempty"`
}

func details(source string, report *detect.Report) map[string]any {
	findings := report.Findings()
	summaries := make([]FindingSummary, 0, len(findings))
	for _, f := range findings {
		summaries = append(summaries, FindingSummary{
			Kind:     string(f.Kind),
			Severity: f.Severity.String(),
			Location: f.Location,
			Evidence: f.Evidence,
		})
	}
	return map[string]any{"source": source, "findings": summaries}
}

// combine keeps the first warning and lists the types of the rest.
func combine(warnings []PolicyWarning) *PolicyWarning {
	if len(warnings) == 0 {
		return nil
	}
	first := warnings[0]
	if len(warnings) > 1 {
		related := make([]string, 0, len(warnings)-1)
		for _, w := range warnings[1:] {
			related = append(related, w.Type)
		}
		if first.Details == nil {
			first.Details = map[string]any{}
		}
		first.Details["related"] = related
	}
	return &first
}
