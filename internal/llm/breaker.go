package llm

import (
	"context"
	"errors"
	"log/slog"

	"warden/pkg/platform/circuit"
)

// Breaker fails fast with ErrCircuitOpen after repeated transport failures.
// Rejections by the backend count as successes: the backend answered.
type Breaker struct {
	next    Backend
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewBreaker(next Backend, breaker *circuit.Breaker, logger *slog.Logger) *Breaker {
	if breaker == nil {
		breaker = circuit.New("model-backend")
	}
	return &Breaker{next: next, breaker: breaker, logger: logger}
}

func (b *Breaker) Chat(ctx context.Context, messages []Message) (string, error) {
	if !b.breaker.Allow() {
		return "", ErrCircuitOpen
	}
	reply, err := b.next.Chat(ctx, messages)
	switch {
	case errors.Is(err, context.Canceled):
		return reply, err
	case IsRetryable(err):
		if _, change := b.breaker.RecordFailure(); change.Opened && b.logger != nil {
			b.logger.WarnContext(ctx, "model backend circuit opened", "breaker", b.breaker.Name(), "error", err)
		}
	default:
		if _, change := b.breaker.RecordSuccess(); change.Closed && b.logger != nil {
			b.logger.InfoContext(ctx, "model backend circuit closed", "breaker", b.breaker.Name())
		}
	}
	return reply, err
}
