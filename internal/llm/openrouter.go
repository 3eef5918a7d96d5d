package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"warden/internal/platform/metrics"
	dErrors "warden/pkg/domain-errors"
)

const (
	DefaultTimeout  = 60 * time.Second
	maxErrorBodyLen = 512
)

// Config configures an OpenAI-compatible chat completions endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// OpenRouterClient calls POST {BaseURL}/chat/completions.
type OpenRouterClient struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Metrics
}

type ClientOption func(*OpenRouterClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *OpenRouterClient) {
		if c != nil {
			o.client = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(o *OpenRouterClient) {
		o.metrics = m
	}
}

func NewOpenRouterClient(cfg Config, opts ...ClientOption) (*OpenRouterClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	c := &OpenRouterClient{cfg: cfg, client: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *OpenRouterClient) Chat(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	reply, err := c.chat(ctx, messages)
	c.metrics.ObserveBackend(outcomeOf(err), time.Since(start))
	return reply, err
}

func (c *OpenRouterClient) chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return "", classifyStatus(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: reading response: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: malformed response: %v", ErrBackendUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrBackendUnavailable)
	}
	return out.Choices[0].Message.Content, nil
}

// classifyTransport maps a client error. Cancellation by the caller is
// returned as is; the per-call deadline becomes ErrTimeout.
func classifyTransport(parent context.Context, err error) error {
	if parent.Err() != nil && errors.Is(err, context.Canceled) {
		return parent.Err()
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrTimeout, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrBackendUnavailable, status)
	default:
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("model backend rejected request: HTTP %d %s", status, body))
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
