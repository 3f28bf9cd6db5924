package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/eventgate/internal/aggregator"
	"github.com/telhawk-systems/eventgate/internal/config"
	"github.com/telhawk-systems/eventgate/internal/dlq"
	"github.com/telhawk-systems/eventgate/internal/handlers"
	"github.com/telhawk-systems/eventgate/internal/harness"
	"github.com/telhawk-systems/eventgate/internal/kvstore"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/messaging"
	"github.com/telhawk-systems/eventgate/internal/pipeline"
	"github.com/telhawk-systems/eventgate/internal/ratelimit"
	"github.com/telhawk-systems/eventgate/internal/repository"
	"github.com/telhawk-systems/eventgate/internal/runs"
	"github.com/telhawk-systems/eventgate/migrations"

	natsclient "github.com/telhawk-systems/eventgate/internal/messaging/nats"
)

// app holds the components shared by serve and worker. Close releases them
// in reverse order of construction.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	policies   *ratelimit.Policies
	repo       repository.Repository
	aggregator *aggregator.Aggregator
	pipeline   *pipeline.Pipeline
	runs       *runs.Registry
	js         *natsclient.JetStreamClient
	dlq        *dlq.JetStreamQueue
	closers    []func()
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func limiterConfig(p config.PolicyConfig) ratelimit.Config {
	return ratelimit.Config{Limit: p.Limit, Window: p.Window}
}

func buildLimiter(cfg *config.Config, logger *logging.Logger) ratelimit.Limiter {
	if cfg.RateLimit.Backend == "redis" {
		limiter, err := ratelimit.NewRedisLimiter(cfg.Redis.URL)
		if err == nil {
			logger.Info("rate limiter initialized", "backend", "redis")
			return limiter
		}
		logger.Warn("failed to initialize redis rate limiter, falling back to in-process windows",
			logging.Error(err),
		)
	}
	logger.Info("rate limiter initialized", "backend", "memory")
	return ratelimit.NewMemoryLimiter(cfg.RateLimit.CleanupInterval)
}

func buildPolicies(cfg *config.Config, logger *logging.Logger) (*ratelimit.Policies, func()) {
	limiter := buildLimiter(cfg, logger)
	policies := ratelimit.NewPolicies(limiter,
		limiterConfig(cfg.RateLimit.Subscription),
		limiterConfig(cfg.RateLimit.Sample),
		logger,
	)
	return policies, func() { _ = limiter.Close() }
}

func buildRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, error) {
	if cfg.Database.Backend == "memory" {
		logger.Warn("using in-memory event store; events are lost on restart")
		return repository.NewMemoryRepository(), nil
	}

	dbURL := cfg.Database.Postgres.URL()
	if cfg.Database.Postgres.MigrateOnStart {
		if err := migrations.Up(dbURL); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	repo, err := repository.NewPostgresRepository(connectCtx, dbURL)
	if err != nil {
		return nil, err
	}
	logger.Info("event store initialized",
		"backend", "postgres",
		"host", cfg.Database.Postgres.Host,
		"database", cfg.Database.Postgres.Database,
	)
	return repo, nil
}

func buildKVStore(cfg *config.Config, logger *logging.Logger) (kvstore.Store, error) {
	if !cfg.Redis.Enabled {
		logger.Warn("redis disabled; aggregate metrics are kept in process")
		return kvstore.NewMemoryStore(), nil
	}
	store, err := kvstore.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	logger.Info("metrics store initialized", "backend", "redis")
	return store, nil
}

func harnessPolicy(cfg *config.Config) harness.Policy {
	return harness.Policy{
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		InitialInterval: cfg.Pipeline.InitialInterval,
		MaxInterval:     cfg.Pipeline.MaxInterval,
		StepTimeout:     cfg.Pipeline.StepTimeout,
	}
}

// newApp builds the limiter, storage, metrics and pipeline layers.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	policies, closeLimiter := buildPolicies(cfg, logger)
	a.policies = policies
	a.onClose(closeLimiter)

	repo, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.repo = repo
	a.onClose(repo.Close)

	kv, err := buildKVStore(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.onClose(func() { _ = kv.Close() })
	a.aggregator = aggregator.New(kv)

	h := harness.NewBackoffHarness(harnessPolicy(cfg), func(step string, attempt int, err error, wait time.Duration) {
		logger.Warn("step attempt failed, retrying",
			logging.Step(step),
			"attempt", attempt,
			"wait", wait.String(),
			logging.Error(err),
		)
	})
	a.pipeline = pipeline.New(a.repo, a.aggregator, h, logger)

	a.runs = runs.NewRegistry(cfg.Runs.TTL)
	a.onClose(a.runs.Close)
	a.pipeline.SetObserver(a.runs)

	return a, nil
}

// connectNATS opens the JetStream client and ensures the events stream and,
// when enabled, the DLQ stream exist.
func (a *app) connectNATS(ctx context.Context) error {
	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = a.cfg.NATS.URL
	natsCfg.Logger = a.logger

	js, err := natsclient.NewJetStreamClient(natsCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.js = js
	a.onClose(func() { _ = js.Drain() })

	stream := natsclient.EventsStream
	stream.Name = a.cfg.NATS.Stream
	if _, err := js.CreateOrUpdateStream(ctx, stream); err != nil {
		return err
	}
	a.logger.Info("events stream ready", "stream", stream.Name, "nats_url", a.cfg.NATS.URL)

	if a.cfg.DLQ.Enabled {
		q, err := dlq.NewJetStreamQueue(ctx, js, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize dead letter queue: %w", err)
		}
		a.dlq = q
	} else {
		a.logger.Info("dead letter queue disabled")
	}
	return nil
}

func (a *app) readinessChecks() []handlers.ReadinessCheck {
	checks := []handlers.ReadinessCheck{
		{Name: "event_store", Check: a.repo.Ping},
		{Name: "metrics_store", Check: a.aggregator.Ping},
	}
	if a.js != nil {
		checks = append(checks, handlers.ReadinessCheck{
			Name: "nats",
			Check: func(context.Context) error {
				status := messaging.CheckHealth(a.js)
				if !status.Connected {
					return errors.New(status.Error)
				}
				return nil
			},
		})
	}
	return checks
}
