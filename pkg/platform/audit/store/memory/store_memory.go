package memory

import (
	"context"
	"sync"

	audit "warden/pkg/platform/audit"
)

// InMemoryStore keeps events in append order with a correlation index.
type InMemoryStore struct {
	mu            sync.RWMutex
	events        []audit.Event
	byCorrelation map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byCorrelation: make(map[string][]int)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byCorrelation = make(map[string][]int)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Detail = cloneDetail(event.Detail)
	s.byCorrelation[event.CorrelationID] = append(s.byCorrelation[event.CorrelationID], len(s.events))
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByCorrelation(_ context.Context, correlationID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byCorrelation[correlationID]
	out := make([]audit.Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.copyAt(i))
	}
	return out, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.events) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}
	out := make([]audit.Event, 0, len(s.events)-start)
	for i := start; i < len(s.events); i++ {
		out = append(out, s.copyAt(i))
	}
	return out, nil
}

// ListAll returns every event in append order.
func (s *InMemoryStore) ListAll(ctx context.Context) ([]audit.Event, error) {
	return s.ListRecent(ctx, 0)
}

func (s *InMemoryStore) copyAt(i int) audit.Event {
	e := s.events[i]
	e.Detail = cloneDetail(e.Detail)
	return e
}

func cloneDetail(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
