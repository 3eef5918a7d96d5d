package compliance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/store/memory"
	"warden/pkg/requestcontext"
)

type failingStore struct {
	*memory.InMemoryStore
	err error
}

func (f *failingStore) Append(context.Context, audit.Event) error { return f.err }

type recordingForwarder struct {
	events []audit.Event
}

func (r *recordingForwarder) Enqueue(e audit.Event) { r.events = append(r.events, e) }

type PublisherSuite struct {
	suite.Suite
	store     *memory.InMemoryStore
	forwarder *recordingForwarder
	metrics   *Metrics
	publisher *Publisher
	fixed     time.Time
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.forwarder = &recordingForwarder{}
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.fixed = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.publisher = New(s.store,
		WithMetrics(s.metrics),
		WithForwarder(s.forwarder),
		WithClock(func() time.Time { return s.fixed }),
		WithRedactor(func(v string) string { return strings.ReplaceAll(v, "123-45-6789", "12*******89") }),
	)
}

func (s *PublisherSuite) validEvent() audit.Event {
	return audit.Event{
		CorrelationID: "corr-1",
		ActorID:       "tech_support",
		Action:        string(audit.EventCapabilityDenied),
		Decision:      audit.DecisionDeny,
	}
}

func (s *PublisherSuite) TestEmitCompletesEvent() {
	ctx := context.Background()
	s.Require().NoError(s.publisher.Emit(ctx, s.validEvent()))

	events, err := s.publisher.List(ctx, "corr-1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.NotEmpty(events[0].ID)
	s.Equal(s.fixed, events[0].Timestamp)
	s.Equal(audit.CategorySecurity, events[0].Category)
	s.Len(s.forwarder.events, 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsEmitted.WithLabelValues("security")))
}

func (s *PublisherSuite) TestEmitUsesRequestIDAsCorrelation() {
	ctx := requestcontext.WithRequestID(context.Background(), "req-77")
	e := s.validEvent()
	e.CorrelationID = ""
	s.Require().NoError(s.publisher.Emit(ctx, e))

	events, _ := s.publisher.List(ctx, "req-77")
	s.Len(events, 1)
}

func (s *PublisherSuite) TestEmitMasksDetail() {
	e := s.validEvent()
	e.Detail = map[string]string{"evidence": "SSN 123-45-6789"}
	s.Require().NoError(s.publisher.Emit(context.Background(), e))

	events, _ := s.publisher.List(context.Background(), "corr-1")
	s.Equal("SSN 12*******89", events[0].Detail["evidence"])
	s.Equal("SSN 123-45-6789", e.Detail["evidence"], "caller map is not mutated")
}

func (s *PublisherSuite) TestEmitValidation() {
	cases := map[string]func(*audit.Event){
		"missing correlation": func(e *audit.Event) { e.CorrelationID = "" },
		"missing action":      func(e *audit.Event) { e.Action = "" },
		"missing actor":       func(e *audit.Event) { e.ActorID = "" },
		"invalid decision":    func(e *audit.Event) { e.Decision = "MAYBE" },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			e := s.validEvent()
			mutate(&e)
			s.Error(s.publisher.Emit(context.Background(), e))
		})
	}
	s.Empty(s.forwarder.events)
}

func (s *PublisherSuite) TestEmitFailsClosed() {
	storeErr := errors.New("disk full")
	p := New(&failingStore{InMemoryStore: memory.NewInMemoryStore(), err: storeErr},
		WithMetrics(s.metrics), WithForwarder(s.forwarder))

	err := p.Emit(context.Background(), s.validEvent())
	s.Require().Error(err)
	s.ErrorIs(err, storeErr)
	s.Empty(s.forwarder.events, "unpersisted events are never forwarded")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PersistFailures))
}
