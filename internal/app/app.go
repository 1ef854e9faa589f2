package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirinyoku/tixpay/internal/config"
	"github.com/kirinyoku/tixpay/internal/gateway"
	"github.com/kirinyoku/tixpay/internal/metrics"
	"github.com/kirinyoku/tixpay/internal/notify"
	"github.com/kirinyoku/tixpay/internal/postgres"
	"github.com/kirinyoku/tixpay/internal/redis"
	"github.com/kirinyoku/tixpay/internal/repository"
	memrepo "github.com/kirinyoku/tixpay/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/tixpay/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/kirinyoku/tixpay/internal/service"
	"github.com/kirinyoku/tixpay/internal/service/checkout"
	"github.com/kirinyoku/tixpay/internal/service/query"
	"github.com/kirinyoku/tixpay/internal/service/retry"
	"github.com/kirinyoku/tixpay/internal/service/webhook"
	httpgin "github.com/kirinyoku/tixpay/internal/transport/http/gin"
	"github.com/kirinyoku/tixpay/internal/uow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const maxTxAttempts = 3

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	closers    []func()
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Initialize storage
	store, u, err := a.newStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	// Redis is optional; every consumer accepts a nil handle.
	var (
		cache   *redisrepo.Cache
		pubsub  *redisrepo.PubSub
		idem    *redisrepo.IdempotencyStore
		limiter checkout.Limiter
		opts    []retry.Option
	)

	if cfg.Redis.Addr != "" {
		rdb, err := redis.New(ctx, redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })

		cache = redisrepo.New(rdb)
		pubsub = redisrepo.NewPubSub(rdb)
		idem = redisrepo.NewIdempotencyStore(rdb, cfg.Checkout.IdempotencyTTL)
		limiter = redisrepo.NewSlidingWindowLimiter(rdb, "checkout", cfg.Checkout.RateLimit, cfg.Checkout.RateLimitWindow)
		opts = retryCoordination(rdb, cfg.Retry.ClaimTTL)
	} else {
		logger.Warn("REDIS_ADDR is empty: caching, rate limiting, idempotency keys and notifications are disabled")
	}

	gw := gateway.New(gateway.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		APIKey:          cfg.Gateway.APIKey,
		Timeout:         cfg.Gateway.Timeout,
		Currency:        cfg.Gateway.Currency,
		ExchangeRate:    cfg.Gateway.ExchangeRate,
		MinAmount:       cfg.Gateway.MinAmount,
		CallbackURL:     cfg.Gateway.CallbackURL,
		ReturnURL:       cfg.Gateway.ReturnURL,
		BreakerFailures: cfg.Gateway.BreakerFailures,
		BreakerCooldown: cfg.Gateway.BreakerCooldown,
	}, logger.With("component", "gateway"), m.Gateway)

	notifier := notify.Multi{notify.NewLogging(logger.With("component", "notify"))}
	if pubsub != nil {
		notifier = append(notifier, notify.NewPubSub(pubsub))
	}

	// Initialize services
	a.services = service.NewServices(service.Deps{
		Store:        store,
		UoW:          u,
		Gateway:      gw,
		Notifier:     notifier,
		Cache:        cache,
		PubSub:       pubsub,
		Limiter:      limiter,
		Metrics:      m,
		Logger:       logger,
		RetryOptions: opts,
	}, serviceConfig(cfg))

	// Initialize Gin router
	router := httpgin.NewRouter(a.services, httpgin.Options{
		Idem:        idem,
		Metrics:     m.HTTP,
		Gatherer:    reg,
		AdminKey:    cfg.Admin.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, logger)

	if cfg.Admin.APIKey == "" {
		logger.Warn("ADMIN_API_KEY is empty: admin and retry routes are disabled")
	}

	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) newStore(ctx context.Context) (repository.Store, *uow.UoW, error) {
	if a.cfg.Storage.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory storage; data is lost on exit")
		store := memrepo.New()
		return store, uow.NewUoW(store), nil
	}

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:             a.cfg.Postgres.DSN,
		MaxConns:        a.cfg.Postgres.MaxConns,
		MinConns:        a.cfg.Postgres.MinConns,
		MaxConnLifetime: a.cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	if a.cfg.Postgres.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	store := postgresrepo.NewStore(pool)
	return store, uow.NewUoW(store, uow.WithRetry(postgresrepo.IsRetryable, maxTxAttempts)), nil
}

// retryCoordination makes scheduler instances share one sweep lock and one
// purge marker.
func retryCoordination(rdb *goredis.Client, lockTTL time.Duration) []retry.Option {
	return []retry.Option{
		retry.WithLock(redisrepo.NewLock(rdb, redisrepo.KeyRetrySweepLock(), lockTTL)),
		retry.WithPurgeMarker(redisrepo.NewMarker(rdb, redisrepo.KeyRetryPurgeMarker())),
	}
}

func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		Checkout: checkout.Config{
			MaxQuantity: cfg.Checkout.MaxQuantity,
		},
		Webhook: webhook.Config{
			Secret:        cfg.Webhook.Secret,
			Tolerance:     cfg.Webhook.Tolerance,
			AllowUnsigned: cfg.Webhook.AllowUnsigned,
			SessionWindow: cfg.Webhook.SessionWindow,
		},
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BatchSize:   cfg.Retry.BatchSize,
			Workers:     cfg.Retry.Workers,
			ClaimTTL:    cfg.Retry.ClaimTTL,
			Interval:    cfg.Retry.Interval,
			Retention:   cfg.Retry.Retention,
			PurgeEvery:  cfg.Retry.PurgeEvery,
			Policy: retry.Policy{
				InitialDelay: cfg.Retry.InitialDelay,
				Multiplier:   cfg.Retry.Multiplier,
				MaxDelay:     cfg.Retry.MaxDelay,
				JitterFactor: cfg.Retry.JitterFactor,
			},
		},
		Query: query.Config{
			EventSummaryTTL: cfg.Cache.EventTTL,
			AvailabilityTTL: cfg.Cache.AvailabilityTTL,
		},
	}
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Retry scheduler
	if a.cfg.Retry.Enabled {
		g.Go(func() error {
			a.logger.Info("retry scheduler started", "interval", a.cfg.Retry.Interval)
			return a.services.Retry.Run(gCtx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
