// Package httptransport is the thin HTTP layer. Handlers decode, delegate
// to a service and map coded errors; no business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"warden/internal/platform/metrics"
	"warden/internal/platform/middleware"
	"warden/internal/platform/ratelimit"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/metadata"
	"warden/pkg/platform/middleware/requesttime"
)

type RouterConfig struct {
	Chat        ChatService
	Delegations DelegationService
	Audit       AuditReader
	AdminToken  string
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	// Gatherer backs /metrics. Nil leaves the route unregistered.
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// RateLimiter throttles /api/chat per client IP. Nil disables it.
	RateLimiter ratelimit.Limiter
}

// NewRouter wires all endpoints behind the shared middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.LatencyMiddleware(cfg.Metrics))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.PerClientIP(cfg.RateLimiter, cfg.Logger))
		NewChatHandler(cfg.Chat, cfg.Logger, cfg.MaxBodyBytes).Register(r)
	})
	NewAdminHandler(cfg.Delegations, cfg.Audit, cfg.AdminToken, cfg.Logger).Register(r)
	return r
}
