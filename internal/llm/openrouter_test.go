package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/llm"
	"warden/internal/platform/metrics"
	dErrors "warden/pkg/domain-errors"
)

func newClient(t *testing.T, url string, timeout time.Duration, opts ...llm.ClientOption) *llm.OpenRouterClient {
	t.Helper()
	c, err := llm.NewOpenRouterClient(llm.Config{
		BaseURL:   url + "/",
		APIKey:    "test-key",
		Model:     "test/model",
		Timeout:   timeout,
		MaxTokens: 100,
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestOpenRouterClientChat(t *testing.T) {
	var got struct {
		Model     string        `json:"model"`
		Messages  []llm.Message `json:"messages"`
		MaxTokens int           `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`))
	}))
	defer srv.Close()

	m := metrics.New(prometheus.NewRegistry())
	c := newClient(t, srv.URL, time.Second, llm.WithMetrics(m))

	reply, err := c.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Equal(t, "test/model", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, llm.RoleUser, got.Messages[1].Role)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequests.WithLabelValues("ok")))
}

func TestOpenRouterClientClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		retryable bool
	}{
		{"server error", http.StatusBadGateway, `{}`, llm.ErrBackendUnavailable, true},
		{"rate limited", http.StatusTooManyRequests, `{}`, llm.ErrBackendUnavailable, true},
		{"request timeout", http.StatusRequestTimeout, `{}`, llm.ErrTimeout, true},
		{"gateway timeout", http.StatusGatewayTimeout, `{}`, llm.ErrTimeout, true},
		{"service unavailable", http.StatusServiceUnavailable, `{}`, llm.ErrBackendUnavailable, true},
		{"malformed body", http.StatusOK, `not json`, llm.ErrBackendUnavailable, true},
		{"no choices", http.StatusOK, `{"choices":[]}`, llm.ErrBackendUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL, time.Second).Chat(context.Background(), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.retryable, llm.IsRetryable(err))
		})
	}

	t.Run("client error is not retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := newClient(t, srv.URL, time.Second).Chat(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
		assert.False(t, llm.IsRetryable(err))
	})
}

func TestOpenRouterClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, 30*time.Millisecond).Chat(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrTimeout)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestOpenRouterClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url, time.Second).Chat(context.Background(), nil)
	assert.ErrorIs(t, err, llm.ErrBackendUnavailable)
}

func TestOpenRouterClientCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := newClient(t, srv.URL, time.Second).Chat(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, llm.IsRetryable(err))
}

func TestNewOpenRouterClientValidatesConfig(t *testing.T) {
	_, err := llm.NewOpenRouterClient(llm.Config{APIKey: "k", Model: "m"})
	assert.Error(t, err)
	_, err = llm.NewOpenRouterClient(llm.Config{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err)
	_, err = llm.NewOpenRouterClient(llm.Config{BaseURL: "http://x", APIKey: "k"})
	assert.Error(t, err)
}
