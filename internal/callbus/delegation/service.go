// Package delegation manages administrator-issued grants that let one agent
// reach one higher-privilege target for a short time.
package delegation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/identity"
	"warden/pkg/attrs"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Auditor records grant lifecycle events.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Directory resolves agent ids; both ends of a grant must be registered.
type Directory interface {
	Lookup(id identity.AgentID) (identity.Agent, error)
}

// IssueRequest describes a grant to issue. A zero TTL selects DefaultTTL.
type IssueRequest struct {
	Caller identity.AgentID
	Target identity.AgentID
	Level  identity.PrivilegeLevel
	Reason string
	TTL    time.Duration
}

type Service struct {
	store     Store
	directory Directory
	key       []byte
	auditor   Auditor
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a grant service. key must be derived with
// keyring.LabelDelegationGrant.
func New(store Store, directory Directory, key []byte, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("delegation store is required")
	}
	if directory == nil {
		return nil, errors.New("agent directory is required")
	}
	if len(key) == 0 {
		return nil, errors.New("grant signing key is required")
	}
	s := &Service{
		store:     store,
		directory: directory,
		key:       key,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a grant. Only an ADMIN issuer may delegate.
func (s *Service) Issue(ctx context.Context, issuer identity.AgentIdentity, req IssueRequest) (*Grant, error) {
	if !identity.Meets(issuer.PrivilegeLevel(), identity.Admin) {
		s.record(ctx, issuer, audit.EventDelegationDenied, audit.DecisionDeny,
			"caller", string(req.Caller), "target", string(req.Target), "reason", "issuer_not_admin")
		return nil, dErrors.New(dErrors.CodeForbidden, "delegation grants require an ADMIN issuer")
	}
	if err := s.validate(req); err != nil {
		s.record(ctx, issuer, audit.EventDelegationDenied, audit.DecisionDeny,
			"caller", string(req.Caller), "target", string(req.Target), "reason", dErrors.MessageOf(err))
		return nil, err
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	now := s.now()
	grant := &Grant{
		ID:        uuid.NewString(),
		Caller:    req.Caller,
		Target:    req.Target,
		MaxLevel:  req.Level,
		Reason:    strings.TrimSpace(req.Reason),
		IssuedBy:  issuer.ID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := grant.seal(s.key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign grant")
	}
	if err := s.store.Save(ctx, grant); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save grant")
	}
	if err := s.emit(ctx, issuer, audit.EventDelegationIssued, audit.DecisionAllow,
		"grant_id", grant.ID,
		"caller", string(grant.Caller),
		"target", string(grant.Target),
		"max_level", grant.MaxLevel.String(),
		"reason", grant.Reason,
		"expires_at", grant.ExpiresAt.UTC().Format(time.RFC3339),
	); err != nil {
		// An unaudited grant must not stay usable.
		_ = s.store.Revoke(context.WithoutCancel(ctx), grant.ID, now)
		return nil, err
	}
	return grant, nil
}

func (s *Service) validate(req IssueRequest) error {
	if strings.TrimSpace(req.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if req.TTL < 0 || req.TTL > MaxTTL {
		return dErrors.New(dErrors.CodeValidation, "ttl must be between 0 and "+MaxTTL.String())
	}
	if !req.Level.Valid() {
		return dErrors.New(dErrors.CodeValidation, "level is invalid")
	}
	if req.Caller == "" || req.Target == "" {
		return dErrors.New(dErrors.CodeValidation, "caller and target are required")
	}
	if req.Caller == req.Target {
		return dErrors.New(dErrors.CodeValidation, "caller and target must differ")
	}
	for _, id := range []identity.AgentID{req.Caller, req.Target} {
		if _, err := s.directory.Lookup(id); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "unknown agent "+string(id))
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve agent")
		}
	}
	return nil
}

// Revoke ends a grant immediately.
func (s *Service) Revoke(ctx context.Context, issuer identity.AgentIdentity, id string) error {
	if !identity.Meets(issuer.PrivilegeLevel(), identity.Admin) {
		s.record(ctx, issuer, audit.EventDelegationDenied, audit.DecisionDeny, "grant_id", id, "reason", "issuer_not_admin")
		return dErrors.New(dErrors.CodeForbidden, "revoking grants requires an ADMIN issuer")
	}
	if err := s.store.Revoke(ctx, id, s.now()); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "grant not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.New(dErrors.CodeConflict, "grant already revoked")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke grant")
		}
	}
	return s.emit(ctx, issuer, audit.EventDelegationRevoked, audit.DecisionAllow, "grant_id", id)
}

// FindActive returns an active, untampered grant for exactly (caller,
// target) covering level, or sentinel.ErrNotFound.
func (s *Service) FindActive(ctx context.Context, caller, target identity.AgentID, level identity.PrivilegeLevel, now time.Time) (*Grant, error) {
	grants, err := s.store.ListActive(ctx, caller, target, now)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if !g.Covers(caller, target, level, now) {
			continue
		}
		if !g.verify(s.key) {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "delegation grant failed signature check",
					"grant_id", g.ID,
					"request_id", requestcontext.RequestID(ctx),
				)
			}
			continue
		}
		return g, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *Service) List(ctx context.Context) ([]*Grant, error) {
	grants, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list grants")
	}
	return grants, nil
}

// Cleanup deletes grants that expired before now and returns the count.
func (s *Service) Cleanup(ctx context.Context, now time.Time) (int, error) {
	return s.store.DeleteExpired(ctx, now)
}

// emit records an event and fails the operation if the trail rejects it.
func (s *Service) emit(ctx context.Context, actor identity.AgentIdentity, event audit.AuditEvent, decision audit.Decision, attrList ...any) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event),
			append(attrList, "actor", string(actor.ID()), "request_id", requestcontext.RequestID(ctx), "log_type", "audit")...)
	}
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, audit.Event{
		ActorID:    string(actor.ID()),
		ActorLevel: actor.PrivilegeLevel().String(),
		Action:     string(event),
		Decision:   decision,
		Detail:     attrs.ToMap(attrList),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit delegation")
	}
	return nil
}

// record is emit for denial paths, where the original error wins.
func (s *Service) record(ctx context.Context, actor identity.AgentIdentity, event audit.AuditEvent, decision audit.Decision, attrList ...any) {
	if err := s.emit(ctx, actor, event, decision, attrList...); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to audit delegation denial", "error", err)
	}
}
