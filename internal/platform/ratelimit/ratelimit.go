// Package ratelimit throttles chat requests per client IP with a sliding
// window kept in memory. It is not shared between replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Window is an in-memory sliding window limiter keyed by an arbitrary
// string, usually the client IP.
type Window struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string][]time.Time
}

type Option func(*Window)

func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWindow(limit int, window time.Duration, opts ...Option) *Window {
	w := &Window{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Allow records one request for key if the window has room.
func (w *Window) Allow(_ context.Context, key string) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	stamps := prune(w.buckets[key], now.Add(-w.window))

	if len(stamps) >= w.limit {
		w.buckets[key] = stamps
		reset := stamps[0].Add(w.window)
		return Result{
			Allowed:    false,
			Limit:      w.limit,
			ResetAt:    reset,
			RetryAfter: reset.Sub(now),
		}
	}

	stamps = append(stamps, now)
	w.buckets[key] = stamps
	return Result{
		Allowed:   true,
		Limit:     w.limit,
		Remaining: w.limit - len(stamps),
		ResetAt:   stamps[0].Add(w.window),
	}
}

// Cleanup drops keys with no request inside the window.
func (w *Window) Cleanup(_ context.Context, now time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for key, stamps := range w.buckets {
		if len(prune(stamps, now.Add(-w.window))) == 0 {
			delete(w.buckets, key)
			removed++
		}
	}
	return removed, nil
}

// prune drops timestamps at or before cutoff. Timestamps are ascending.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
