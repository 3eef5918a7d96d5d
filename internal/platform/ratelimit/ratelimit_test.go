package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/platform/logger"
	"warden/pkg/requestcontext"
)

type WindowSuite struct {
	suite.Suite
	now    time.Time
	window *Window
	ctx    context.Context
}

func TestWindowSuite(t *testing.T) {
	suite.Run(t, new(WindowSuite))
}

func (s *WindowSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.window = NewWindow(3, time.Minute, WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *WindowSuite) TestAllowsUpToLimit() {
	for i := 0; i < 3; i++ {
		res := s.window.Allow(s.ctx, "10.0.0.1")
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
	}
	res := s.window.Allow(s.ctx, "10.0.0.1")
	s.False(res.Allowed)
	s.Equal(time.Minute, res.RetryAfter)
}

func (s *WindowSuite) TestKeysAreIndependent() {
	for i := 0; i < 3; i++ {
		s.window.Allow(s.ctx, "10.0.0.1")
	}
	s.True(s.window.Allow(s.ctx, "10.0.0.2").Allowed)
}

func (s *WindowSuite) TestWindowSlides() {
	s.window.Allow(s.ctx, "ip")
	s.now = s.now.Add(30 * time.Second)
	s.window.Allow(s.ctx, "ip")
	s.window.Allow(s.ctx, "ip")
	s.False(s.window.Allow(s.ctx, "ip").Allowed)

	s.now = s.now.Add(31 * time.Second)
	res := s.window.Allow(s.ctx, "ip")
	s.True(res.Allowed)
	s.Equal(0, res.Remaining)
}

func (s *WindowSuite) TestCleanupDropsIdleKeys() {
	s.window.Allow(s.ctx, "old")
	s.now = s.now.Add(2 * time.Minute)
	s.window.Allow(s.ctx, "fresh")

	removed, err := s.window.Cleanup(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, removed)
	s.Len(s.window.buckets, 1)
}

func (s *WindowSuite) TestMiddlewareRejectsOverLimit() {
	handler := PerClientIP(NewWindow(1, time.Minute), logger.Discard())(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), "192.0.2.7", "curl"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := do()
	s.Equal(http.StatusOK, first.Code)
	s.Equal("1", first.Header().Get("X-RateLimit-Limit"))

	second := do()
	s.Equal(http.StatusTooManyRequests, second.Code)
	s.Equal("60", second.Header().Get("Retry-After"))
	s.Contains(second.Body.String(), "rate_limit_exceeded")
}

func (s *WindowSuite) TestNilLimiterPassesThrough() {
	called := false
	handler := PerClientIP(nil, logger.Discard())(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	s.True(called)
}
