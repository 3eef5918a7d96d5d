package delegation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"warden/internal/identity"
	"warden/pkg/platform/sentinel"
)

// InMemoryStore keeps grants in a map. Safe for concurrent use.
type InMemoryStore struct {
	mu     sync.RWMutex
	grants map[string]*Grant
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{grants: make(map[string]*Grant)}
}

func (s *InMemoryStore) Save(_ context.Context, grant *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[grant.ID]; exists {
		return fmt.Errorf("grant %s: %w", grant.ID, sentinel.ErrConflict)
	}
	s.grants[grant.ID] = grant.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	return g.clone(), nil
}

func (s *InMemoryStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	if g.RevokedAt != nil {
		return fmt.Errorf("grant %s already revoked: %w", id, sentinel.ErrInvalidState)
	}
	g.RevokedAt = &at
	return nil
}

func (s *InMemoryStore) ListActive(_ context.Context, caller, target identity.AgentID, now time.Time) ([]*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Grant
	for _, g := range s.grants {
		if g.Caller == caller && g.Target == target && g.ActiveAt(now) {
			out = append(out, g.clone())
		}
	}
	sortByIssued(out)
	return out, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g.clone())
	}
	sortByIssued(out)
	return out, nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, g := range s.grants {
		if !g.ExpiresAt.After(before) {
			delete(s.grants, id)
			removed++
		}
	}
	return removed, nil
}

func sortByIssued(grants []*Grant) {
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].IssuedAt.Equal(grants[j].IssuedAt) {
			return grants[i].ID < grants[j].ID
		}
		return grants[i].IssuedAt.Before(grants[j].IssuedAt)
	})
}
