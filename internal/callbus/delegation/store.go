package delegation

import (
	"context"
	"time"

	"warden/internal/identity"
)

// Store persists grants. Implementations return sentinel.ErrNotFound for
// unknown ids and sentinel.ErrInvalidState when revoking a revoked grant.
type Store interface {
	Save(ctx context.Context, grant *Grant) error
	Get(ctx context.Context, id string) (*Grant, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context, caller, target identity.AgentID, now time.Time) ([]*Grant, error)
	List(ctx context.Context) ([]*Grant, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
