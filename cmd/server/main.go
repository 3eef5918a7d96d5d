package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"warden/internal/callbus"
	"warden/internal/callbus/delegation"
	"warden/internal/callbus/keyring"
	"warden/internal/callbus/store/replay"
	"warden/internal/detect"
	"warden/internal/extract"
	"warden/internal/guard"
	"warden/internal/identity"
	"warden/internal/llm"
	"warden/internal/orchestrator"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
	"warden/internal/platform/metrics"
	"warden/internal/platform/postgres"
	"warden/internal/platform/ratelimit"
	"warden/internal/platform/redis"
	httptransport "warden/internal/transport/http"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/audit/publishers/compliance"
	"warden/pkg/platform/audit/publishers/stream"
	kafkasink "warden/pkg/platform/audit/sink/kafka"
	"warden/pkg/platform/audit/store/chain"
	"warden/pkg/platform/audit/store/memory"
	auditpostgres "warden/pkg/platform/audit/store/postgres"
	"warden/pkg/platform/audit/worker"
	"warden/pkg/platform/circuit"
)

const cleanupInterval = time.Minute

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("warden exited with error", "error", err)
		os.Exit(1)
	}
}

// cleaner is a store whose expired rows are swept periodically.
type cleaner interface {
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

type infra struct {
	db      *sql.DB
	redis   *redis.Client
	closers []io.Closer
}

func (i *infra) close(log *slog.Logger) {
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n].Close(); err != nil {
			log.Warn("close resource", "error", err)
		}
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	res, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer res.close(log)

	g, gctx := errgroup.WithContext(ctx)

	trail, err := buildAuditTrail(gctx, g, cfg, res, reg, log)
	if err != nil {
		return err
	}

	master := []byte(cfg.CallBus.MasterSecret)
	tokenKey, err := keyring.Derive(master, keyring.LabelCapabilityToken)
	if err != nil {
		return fmt.Errorf("derive capability token key: %w", err)
	}
	grantKey, err := keyring.Derive(master, keyring.LabelDelegationGrant)
	if err != nil {
		return fmt.Errorf("derive delegation grant key: %w", err)
	}

	directory := identity.NewDefaultRegistry()

	var grantStore delegation.Store = delegation.NewInMemoryStore()
	if res.db != nil {
		grantStore = delegation.NewPostgresStore(res.db)
	}
	delegations, err := delegation.New(grantStore, directory, grantKey,
		delegation.WithAuditor(trail),
		delegation.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("init delegation service: %w", err)
	}

	var replayStore callbus.ReplayStore
	var sweep []cleaner
	switch {
	case res.redis != nil:
		replayStore = replay.NewRedis(res.redis.Client, replay.WithRedisMetrics(reg))
	case res.db != nil:
		pg := replay.NewPostgres(res.db)
		replayStore, sweep = pg, append(sweep, pg)
	default:
		mem := replay.NewInMemory()
		replayStore, sweep = mem, append(sweep, mem)
	}
	sweep = append(sweep, delegations)

	bus, err := callbus.New(directory, replayStore, trail, tokenKey,
		callbus.WithGrants(delegations),
		callbus.WithTokenTTL(cfg.CallBus.TokenTTL),
		callbus.WithLogger(log),
		callbus.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("init call bus: %w", err)
	}

	engine, err := buildEngine(gctx, g, cfg, m, log)
	if err != nil {
		return err
	}

	responseGuard, err := guard.New(engine, trail, guard.WithLogger(log), guard.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("init response guard: %w", err)
	}

	backend, err := buildBackend(cfg, m, log)
	if err != nil {
		return err
	}

	pipeline, err := orchestrator.New(
		extract.NewDefaultRegistry(),
		engine,
		bus,
		directory,
		responseGuard,
		backend,
		trail,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	if cfg.Server.AdminAPIToken == "" {
		log.Warn("ADMIN_API_TOKEN is not set; the admin API is disabled")
	}
	var limiter ratelimit.Limiter
	if cfg.Server.ChatRateLimit > 0 {
		window := ratelimit.NewWindow(cfg.Server.ChatRateLimit, time.Minute)
		limiter, sweep = window, append(sweep, window)
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Chat:           pipeline,
		Delegations:    delegations,
		Audit:          trail,
		AdminToken:     cfg.Server.AdminAPIToken,
		Logger:         log,
		Metrics:        m,
		Gatherer:       reg,
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimiter:    limiter,
	})
	srv := httpserver.New(cfg.Server, router)

	g.Go(func() error {
		runCleanup(gctx, sweep, log)
		return nil
	})
	g.Go(func() error {
		log.Info("starting warden", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down warden")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	res := &infra{}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		res.db = db
		res.closers = append(res.closers, db)
		if err := postgres.Migrate(ctx, db); err != nil {
			res.close(log)
			return nil, err
		}
		log.Info("postgres connected")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		res.close(log)
		return nil, err
	}
	if rc != nil {
		res.redis = rc
		res.closers = append(res.closers, rc)
		log.Info("redis connected")
	}
	return res, nil
}

// buildAuditTrail picks the durable store (chain file, then postgres, then
// memory) and starts the stream forwarder when Kafka is configured.
func buildAuditTrail(ctx context.Context, g *errgroup.Group, cfg config.Config, res *infra, reg prometheus.Registerer, log *slog.Logger) (*compliance.Publisher, error) {
	var store audit.Store
	switch {
	case cfg.Audit.ChainPath != "":
		cs, err := chain.Open(cfg.Audit.ChainPath)
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, cs)
		store = cs
	case res.db != nil:
		store = auditpostgres.New(res.db)
	default:
		log.Warn("audit trail is in memory only; set AUDIT_CHAIN_PATH or DATABASE_URL for durability")
		store = memory.NewInMemoryStore()
	}

	opts := []compliance.Option{
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
		compliance.WithRedactor(detect.MaskSensitive),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafkasink.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, sink)
		if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("audit topic not ensured; publishing anyway", "error", err)
		}

		wm := worker.NewMetrics(reg)
		buffer := stream.NewRingBuffer(cfg.Kafka.BufferSize)
		buffer.OnDrop(wm.IncDropped)
		w := worker.NewWorker(buffer, sink,
			worker.WithPeriod(cfg.Kafka.FlushPeriod),
			worker.WithLogger(log),
			worker.WithMetrics(wm),
		)
		g.Go(func() error {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		opts = append(opts, compliance.WithForwarder(buffer))
	}

	return compliance.New(store, opts...), nil
}

func buildEngine(ctx context.Context, g *errgroup.Group, cfg config.Config, m *metrics.Metrics, log *slog.Logger) (*detect.Engine, error) {
	opts := []detect.Option{detect.WithLogger(log), detect.WithMetrics(m)}
	if cfg.Detection.PolicyFile == "" {
		return detect.NewEngine(opts...), nil
	}

	policy, err := detect.LoadPolicy(cfg.Detection.PolicyFile)
	if err != nil {
		return nil, err
	}
	engine := detect.NewEngine(append(opts, detect.WithPolicy(policy))...)
	if !cfg.Detection.WatchPolicy {
		return engine, nil
	}

	watcher, err := detect.NewWatcher(cfg.Detection.PolicyFile, engine.SetPolicy, detect.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	g.Go(func() error { return watcher.Run(ctx) })
	return engine, nil
}

// buildBackend stacks retry over the circuit breaker over the HTTP client,
// so a retry attempt is itself gated by the breaker.
func buildBackend(cfg config.Config, m *metrics.Metrics, log *slog.Logger) (llm.Backend, error) {
	client, err := llm.NewOpenRouterClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, llm.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("init model backend: %w", err)
	}
	breaker := circuit.New("llm-backend")
	return llm.NewRetrying(
		llm.NewBreaker(client, breaker, log),
		llm.WithRetryDelay(cfg.LLM.RetryDelay),
		llm.WithRetryLogger(log),
	), nil
}

func runCleanup(ctx context.Context, stores []cleaner, log *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range stores {
				n, err := s.Cleanup(ctx, now)
				if err != nil {
					log.WarnContext(ctx, "cleanup failed", "store", fmt.Sprintf("%T", s), "error", err)
					continue
				}
				if n > 0 {
					log.DebugContext(ctx, "expired entries removed", "store", fmt.Sprintf("%T", s), "removed", n)
				}
			}
		}
	}
}
