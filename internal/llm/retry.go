package llm

import (
	"context"
	"log/slog"
	"time"

	"warden/pkg/requestcontext"
)

const DefaultRetryDelay = 500 * time.Millisecond

// Retrying retries a retryable failure once after a delay, then surfaces
// the second error.
type Retrying struct {
	next   Backend
	delay  time.Duration
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

type RetryOption func(*Retrying)

func WithRetryDelay(d time.Duration) RetryOption {
	return func(r *Retrying) {
		if d >= 0 {
			r.delay = d
		}
	}
}

func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *Retrying) {
		r.logger = logger
	}
}

func NewRetrying(next Backend, opts ...RetryOption) *Retrying {
	r := &Retrying{next: next, delay: DefaultRetryDelay, sleep: sleepContext}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) Chat(ctx context.Context, messages []Message) (string, error) {
	reply, err := r.next.Chat(ctx, messages)
	if !IsRetryable(err) {
		return reply, err
	}
	if r.logger != nil {
		r.logger.WarnContext(ctx, "model backend call failed, retrying once",
			"error", err,
			"delay", r.delay,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if serr := r.sleep(ctx, r.delay); serr != nil {
		return "", err
	}
	return r.next.Chat(ctx, messages)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
