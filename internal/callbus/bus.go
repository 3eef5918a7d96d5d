// Package callbus is the single choke point for agent-to-agent calls. It
// mints capability tokens after a privilege check and admits each token
// exactly once at its audience.
package callbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/callbus/delegation"
	"warden/internal/callbus/store/replay"
	"warden/internal/identity"
	"warden/internal/platform/metrics"
	"warden/pkg/attrs"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

const (
	DefaultTokenTTL = 30 * time.Second
	MaxTokenTTL     = 60 * time.Second
)

var tracer = otel.Tracer("warden/internal/callbus")

// Directory resolves registered call targets.
type Directory interface {
	Lookup(id identity.AgentID) (identity.Agent, error)
}

// ReplayStore is the nonce set. Consume must be atomic with respect to
// other consumers of the same nonce and must run commit before recording.
type ReplayStore interface {
	Seen(ctx context.Context, nonce string) (bool, error)
	Consume(ctx context.Context, nonce string, expiresAt time.Time, commit replay.CommitFunc) error
}

// GrantFinder looks up delegation grants. It returns sentinel.ErrNotFound
// when no grant covers the request.
type GrantFinder interface {
	FindActive(ctx context.Context, caller, target identity.AgentID, level identity.PrivilegeLevel, now time.Time) (*delegation.Grant, error)
}

// Auditor persists decisions. A failed Emit fails the decision.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Bus struct {
	directory Directory
	replay    ReplayStore
	auditor   Auditor
	key       []byte
	grants    GrantFinder
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Bus)

func WithGrants(g GrantFinder) Option {
	return func(b *Bus) {
		b.grants = g
	}
}

// WithTokenTTL sets the token lifetime, capped at MaxTokenTTL.
func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Bus) {
		if ttl > 0 {
			b.ttl = min(ttl, MaxTokenTTL)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// New builds a bus. key must be derived with keyring.LabelCapabilityToken.
func New(directory Directory, replayStore ReplayStore, auditor Auditor, key []byte, opts ...Option) (*Bus, error) {
	if directory == nil {
		return nil, errors.New("agent directory is required")
	}
	if replayStore == nil {
		return nil, errors.New("replay store is required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	if len(key) == 0 {
		return nil, errors.New("token signing key is required")
	}
	b := &Bus{
		directory: directory,
		replay:    replayStore,
		auditor:   auditor,
		key:       key,
		ttl:       DefaultTokenTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Authorize decides whether caller may invoke target at required and, if
// so, mints a single-use token. The privilege order is the only rule; a
// lower caller passes only with a delegation grant for exactly this pair.
func (b *Bus) Authorize(ctx context.Context, caller identity.AgentIdentity, target identity.AgentID, required identity.PrivilegeLevel) (CapabilityToken, error) {
	ctx, span := tracer.Start(ctx, "callbus.authorize", trace.WithAttributes(
		attribute.String("caller", string(caller.ID())),
		attribute.String("target", string(target)),
		attribute.String("required", required.String()),
	))
	defer span.End()

	token, err := b.authorize(ctx, caller, target, required)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
	}
	return token, err
}

func (b *Bus) authorize(ctx context.Context, caller identity.AgentIdentity, target identity.AgentID, required identity.PrivilegeLevel) (CapabilityToken, error) {
	if caller.IsZero() {
		return CapabilityToken{}, dErrors.New(dErrors.CodeInvariantViolation, "caller identity is required")
	}
	if _, err := b.directory.Lookup(target); err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return CapabilityToken{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve target")
		}
		return CapabilityToken{}, b.deny(ctx, caller, target, required, ErrUnknownTarget)
	}

	now := b.now()
	granted := required
	var grant *delegation.Grant
	if !identity.Meets(caller.PrivilegeLevel(), required) {
		g, err := b.findGrant(ctx, caller.ID(), target, required, now)
		if err != nil {
			return CapabilityToken{}, err
		}
		if g == nil {
			return CapabilityToken{}, b.deny(ctx, caller, target, required, ErrInsufficientPrivilege)
		}
		grant = g
		granted = caller.PrivilegeLevel()
	}

	issuedAt := now.Truncate(time.Second)
	token, err := CapabilityToken{
		Subject:      caller.ID(),
		Origin:       caller.Origin(),
		GrantedLevel: granted,
		Audience:     target,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(b.ttl),
		Nonce:        uuid.NewString(),
	}.withGrant(grant).sign(b.key)
	if err != nil {
		return CapabilityToken{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint capability token")
	}

	if grant != nil {
		if err := b.emit(ctx, caller, audit.EventDelegationUsed, audit.DecisionAllow,
			"grant_id", grant.ID,
			"target", string(target),
			"required", required.String(),
			"grant_reason", grant.Reason,
			"issued_by", string(grant.IssuedBy),
		); err != nil {
			return CapabilityToken{}, err
		}
	}
	if err := b.emit(ctx, caller, audit.EventCapabilityIssued, audit.DecisionAllow,
		"target", string(target),
		"required", required.String(),
		"granted", granted.String(),
		"nonce", token.Nonce,
		"expires_at", token.ExpiresAt.UTC().Format(time.RFC3339),
		"delegated", grant != nil,
	); err != nil {
		return CapabilityToken{}, err
	}

	outcome := "allow"
	if grant != nil {
		outcome = "delegated"
	}
	b.metrics.IncAuthzDecision("authorize", outcome)
	return token, nil
}

func (t CapabilityToken) withGrant(g *delegation.Grant) CapabilityToken {
	if g != nil {
		t.GrantID = g.ID
	}
	return t
}

func (b *Bus) findGrant(ctx context.Context, caller, target identity.AgentID, required identity.PrivilegeLevel, now time.Time) (*delegation.Grant, error) {
	if b.grants == nil {
		return nil, nil
	}
	g, err := b.grants.FindActive(ctx, caller, target, required, now)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check delegation grants")
	}
	return g, nil
}

func (b *Bus) deny(ctx context.Context, caller identity.AgentIdentity, target identity.AgentID, required identity.PrivilegeLevel, reason error) error {
	b.metrics.IncAuthzDecision("authorize", Reason(reason))
	err := fmt.Errorf("%w: %s -> %s at %s", reason, caller.ID(), target, required)
	if auditErr := b.emit(ctx, caller, audit.EventCapabilityDenied, audit.DecisionDeny,
		"target", string(target),
		"required", required.String(),
		"caller_level", caller.PrivilegeLevel().String(),
		"reason", Reason(reason),
	); auditErr != nil {
		return errors.Join(err, auditErr)
	}
	return err
}

// Admit checks token at agent and consumes it. Checks run in a fixed order:
// expiry (from the token's expiry alone), replay, audience, signature. On
// success the nonce is consumed and the admission audited as one step, and
// the caller is returned at the granted level.
func (b *Bus) Admit(ctx context.Context, token CapabilityToken, agent identity.AgentID) (identity.AgentIdentity, error) {
	ctx, span := tracer.Start(ctx, "callbus.admit", trace.WithAttributes(
		attribute.String("subject", string(token.Subject)),
		attribute.String("agent", string(agent)),
	))
	defer span.End()

	caller, err := b.admit(ctx, token, agent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
	}
	return caller, err
}

func (b *Bus) admit(ctx context.Context, token CapabilityToken, agent identity.AgentID) (identity.AgentIdentity, error) {
	if token.Expired(b.now()) {
		return identity.AgentIdentity{}, b.reject(ctx, token, agent, ErrExpired)
	}
	seen, err := b.replay.Seen(ctx, token.Nonce)
	if err != nil {
		return identity.AgentIdentity{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "replay set unavailable")
	}
	if seen {
		return identity.AgentIdentity{}, b.reject(ctx, token, agent, ErrReplayed)
	}
	if token.Audience != agent {
		return identity.AgentIdentity{}, b.reject(ctx, token, agent, ErrAudienceMismatch)
	}
	if err := token.verify(b.key); err != nil {
		return identity.AgentIdentity{}, b.reject(ctx, token, agent, ErrBadSignature)
	}

	caller, err := b.reconstruct(token)
	if err != nil {
		return identity.AgentIdentity{}, b.reject(ctx, token, agent, ErrBadSignature)
	}

	err = b.replay.Consume(ctx, token.Nonce, token.ExpiresAt, func(ctx context.Context) error {
		return b.emit(ctx, caller, audit.EventCapabilityAdmitted, audit.DecisionAllow,
			"agent", string(agent),
			"granted", token.GrantedLevel.String(),
			"nonce", token.Nonce,
			"grant_id", token.GrantID,
		)
	})
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return identity.AgentIdentity{}, b.reject(ctx, token, agent, ErrReplayed)
	case errors.Is(err, sentinel.ErrUnavailable):
		return identity.AgentIdentity{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "replay set unavailable")
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			return identity.AgentIdentity{}, err
		}
		return identity.AgentIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume capability token")
	}

	b.metrics.IncAuthzDecision("admit", "admitted")
	return caller, nil
}

// reconstruct rebuilds the caller from signed claims. The display name
// comes from the directory when the subject is a registered agent.
func (b *Bus) reconstruct(token CapabilityToken) (identity.AgentIdentity, error) {
	name := string(token.Subject)
	if agent, err := b.directory.Lookup(token.Subject); err == nil {
		name = agent.Identity.DisplayName()
	}
	return identity.NewAgentIdentity(token.Subject, name, token.GrantedLevel, token.Origin)
}

func (b *Bus) reject(ctx context.Context, token CapabilityToken, agent identity.AgentID, reason error) error {
	b.metrics.IncAuthzDecision("admit", Reason(reason))
	err := fmt.Errorf("%w: token for %s presented at %s", reason, token.Audience, agent)
	if auditErr := b.auditor.Emit(ctx, audit.Event{
		ActorID:    actorOf(token),
		ActorLevel: token.GrantedLevel.String(),
		Action:     string(audit.EventCapabilityRejected),
		Decision:   audit.DecisionDeny,
		Detail: map[string]string{
			"agent":    string(agent),
			"audience": string(token.Audience),
			"nonce":    token.Nonce,
			"reason":   Reason(reason),
		},
	}); auditErr != nil {
		b.logAuditFailure(ctx, auditErr)
		return errors.Join(err, dErrors.Wrap(auditErr, dErrors.CodeInternal, "failed to audit rejection"))
	}
	if b.logger != nil {
		b.logger.WarnContext(ctx, string(audit.EventCapabilityRejected),
			"reason", Reason(reason),
			"agent", string(agent),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return err
}

// actorOf names the presenter of a rejected token. The subject of a token
// that failed verification is unauthenticated, so it is marked as claimed.
func actorOf(token CapabilityToken) string {
	if token.Subject == "" {
		return "unknown"
	}
	return "claimed:" + string(token.Subject)
}

func (b *Bus) emit(ctx context.Context, actor identity.AgentIdentity, event audit.AuditEvent, decision audit.Decision, attrList ...any) error {
	if b.logger != nil {
		b.logger.InfoContext(ctx, string(event),
			append(attrList, "actor", string(actor.ID()), "request_id", requestcontext.RequestID(ctx), "log_type", "audit")...)
	}
	err := b.auditor.Emit(ctx, audit.Event{
		ActorID:    string(actor.ID()),
		ActorLevel: actor.PrivilegeLevel().String(),
		Action:     string(event),
		Decision:   decision,
		Detail:     attrs.ToMap(attrList),
	})
	if err != nil {
		b.logAuditFailure(ctx, err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func (b *Bus) logAuditFailure(ctx context.Context, err error) {
	if b.logger != nil {
		b.logger.ErrorContext(ctx, "call bus audit write failed", "error", err, "request_id", requestcontext.RequestID(ctx))
	}
}
