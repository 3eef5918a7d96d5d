package httptransport

import (
	"context"

	"warden/internal/callbus/delegation"
	"warden/internal/identity"
	"warden/internal/orchestrator"
	"warden/pkg/platform/audit"
)

// ChatService runs the request pipeline.
type ChatService interface {
	Handle(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error)
}

// DelegationService manages delegation grants.
type DelegationService interface {
	Issue(ctx context.Context, issuer identity.AgentIdentity, req delegation.IssueRequest) (*delegation.Grant, error)
	Revoke(ctx context.Context, issuer identity.AgentIdentity, id string) error
	List(ctx context.Context) ([]*delegation.Grant, error)
}

// AuditReader returns the trail for one correlation id in append order.
type AuditReader interface {
	List(ctx context.Context, correlationID string) ([]audit.Event, error)
}
