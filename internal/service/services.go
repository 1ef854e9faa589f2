package service

import (
	"log/slog"

	"github.com/kirinyoku/tixpay/internal/gateway"
	"github.com/kirinyoku/tixpay/internal/metrics"
	"github.com/kirinyoku/tixpay/internal/notify"
	"github.com/kirinyoku/tixpay/internal/repository"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/kirinyoku/tixpay/internal/service/admin"
	"github.com/kirinyoku/tixpay/internal/service/checkout"
	"github.com/kirinyoku/tixpay/internal/service/query"
	"github.com/kirinyoku/tixpay/internal/service/retry"
	"github.com/kirinyoku/tixpay/internal/service/webhook"
	"github.com/kirinyoku/tixpay/internal/uow"
)

type Services struct {
	Checkout *checkout.Service
	Webhook  *webhook.Service
	Retry    *retry.Scheduler
	Query    *query.Service
	Admin    *admin.Service
}

type Config struct {
	Checkout checkout.Config
	Webhook  webhook.Config
	Retry    retry.Config
	Query    query.Config
}

type Deps struct {
	Store    repository.Store
	UoW      *uow.UoW
	Gateway  *gateway.Client
	Notifier notify.Notifier
	Cache    *redisrepo.Cache
	PubSub   *redisrepo.PubSub
	Limiter  checkout.Limiter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	RetryOptions []retry.Option
}

func NewServices(deps Deps, cfg Config) *Services {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}

	u := deps.UoW
	if u == nil {
		u = uow.NewUoW(deps.Store)
	}

	opts := append([]retry.Option{
		retry.WithUoW(u),
		retry.WithMetrics(deps.Metrics.Retry),
	}, deps.RetryOptions...)

	scheduler := retry.New(deps.Store, deps.Gateway, cfg.Retry, deps.Logger.With("component", "retry"), opts...)

	return &Services{
		Checkout: checkout.New(checkout.Deps{
			Store:   deps.Store,
			UoW:     u,
			Gateway: deps.Gateway,
			Retries: scheduler,
			Cache:   deps.Cache,
			PubSub:  deps.PubSub,
			Limiter: deps.Limiter,
			Logger:  deps.Logger.With("component", "checkout"),
		}, cfg.Checkout),
		Webhook: webhook.New(webhook.Deps{
			UoW:      u,
			Notifier: deps.Notifier,
			Cache:    deps.Cache,
			PubSub:   deps.PubSub,
			Metrics:  deps.Metrics.Webhook,
			Logger:   deps.Logger.With("component", "webhook"),
		}, cfg.Webhook),
		Retry: scheduler,
		Query: query.New(deps.Store, deps.Cache, cfg.Query),
		Admin: admin.New(u, deps.Cache, deps.PubSub, deps.Logger.With("component", "admin")),
	}
}
