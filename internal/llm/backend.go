// Package llm is the model backend boundary: the Backend interface the
// orchestrator calls, an OpenAI-compatible HTTP client, and decorators for
// retry and circuit breaking.
package llm

import (
	"context"
	"errors"

	dErrors "warden/pkg/domain-errors"
)

// Transport failures. Both are retried once by Retrying.
var (
	ErrTimeout            = dErrors.New(dErrors.CodeTimeout, "model backend timed out")
	ErrBackendUnavailable = dErrors.New(dErrors.CodeUnavailable, "model backend unavailable")
)

// ErrCircuitOpen is returned without calling the backend while the breaker
// is open. It is an ErrBackendUnavailable that is not retried.
var ErrCircuitOpen = dErrors.Wrap(ErrBackendUnavailable, dErrors.CodeUnavailable, "model backend circuit open")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Backend interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, messages []Message) (string, error)

func (f BackendFunc) Chat(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// IsRetryable reports whether a second attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrBackendUnavailable)
}
