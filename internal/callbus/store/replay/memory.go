// Package replay records consumed capability token nonces until the tokens
// expire. Consume is the single check-and-set point: the first caller for a
// nonce wins and every later caller gets sentinel.ErrAlreadyUsed.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/pkg/platform/sentinel"
)

// CommitFunc runs inside the consume step. If it fails the nonce is not
// recorded, so the token stays admissible.
type CommitFunc func(ctx context.Context) error

// InMemory is a process-local replay set.
type InMemory struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{nonces: make(map[string]time.Time)}
}

func (s *InMemory) Seen(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nonces[nonce]
	return ok, nil
}

// Consume holds the set lock while commit runs, so a concurrent consumer of
// the same nonce observes either nothing or the committed record.
func (s *InMemory) Consume(ctx context.Context, nonce string, expiresAt time.Time, commit CommitFunc) error {
	if nonce == "" {
		return fmt.Errorf("nonce is required: %w", sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nonces[nonce]; ok {
		return fmt.Errorf("nonce %s: %w", nonce, sentinel.ErrAlreadyUsed)
	}
	if commit != nil {
		if err := commit(ctx); err != nil {
			return err
		}
	}
	s.nonces[nonce] = expiresAt
	return nil
}

// Cleanup forgets nonces whose tokens expired before now. Expired tokens are
// rejected before the replay set is consulted, so forgetting them is safe.
func (s *InMemory) Cleanup(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for nonce, exp := range s.nonces {
		if now.After(exp) {
			delete(s.nonces, nonce)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}
