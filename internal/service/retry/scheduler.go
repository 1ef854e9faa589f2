// Package retry replays payment intents whose creation failed at checkout.
// Tickets live in a durable table; the scheduler itself holds no queue
// state, so a sweep can resume after a crash.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/gateway"
	"github.com/kirinyoku/tixpay/internal/metrics"
	"github.com/kirinyoku/tixpay/internal/repository"
	"github.com/kirinyoku/tixpay/internal/uow"
	"golang.org/x/sync/errgroup"
)

// IntentCreator creates a payment intent for an order.
type IntentCreator interface {
	CreateIntent(ctx context.Context, o *domain.Order) (*gateway.Intent, error)
}

// Locker guards a sweep across instances.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// PurgeMarker remembers when the last purge ran.
type PurgeMarker interface {
	Last(ctx context.Context) (time.Time, error)
	Stamp(ctx context.Context, at time.Time) error
}

type Config struct {
	MaxAttempts int
	BatchSize   int
	Workers     int
	// ClaimTTL is how long a ticket may stay claimed before a sweep assumes
	// its worker died and releases it.
	ClaimTTL   time.Duration
	Interval   time.Duration
	Retention  time.Duration
	PurgeEvery time.Duration
	Policy     Policy
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.PurgeEvery <= 0 {
		c.PurgeEvery = 24 * time.Hour
	}
	c.Policy = c.Policy.withDefaults()
	return c
}

// SweepResult summarizes one ProcessQueue call.
type SweepResult struct {
	Released  int64 `json:"released"`
	Claimed   int   `json:"claimed"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Exhausted int   `json:"exhausted"`
	Closed    int   `json:"closed"`
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRescheduled
	outcomeExhausted
	outcomeClosed
	outcomeLost
)

type Scheduler struct {
	store   repository.Store
	uow     *uow.UoW
	gateway IntentCreator
	cfg     Config
	lock    Locker
	marker  PurgeMarker
	metrics *metrics.RetryMetrics
	logger  *slog.Logger
	now     func() time.Time
	rand    func() float64

	lastPurge time.Time
}

type Option func(*Scheduler)

func WithLock(l Locker) Option { return func(s *Scheduler) { s.lock = l } }

func WithPurgeMarker(m PurgeMarker) Option { return func(s *Scheduler) { s.marker = m } }

func WithMetrics(m *metrics.RetryMetrics) Option { return func(s *Scheduler) { s.metrics = m } }

func WithUoW(u *uow.UoW) Option { return func(s *Scheduler) { s.uow = u } }

// WithClock replaces the wall clock and the jitter source.
func WithClock(now func() time.Time, rnd func() float64) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if rnd != nil {
			s.rand = rnd
		}
	}
}

func New(store repository.Store, gw IntentCreator, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		gateway: gw,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
		rand:    rand.Float64,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.uow == nil {
		s.uow = uow.NewUoW(store)
	}

	return s
}

// Enqueue opens a retry ticket for a payment whose intent creation failed.
// It takes the caller's repos so the ticket commits atomically with the
// failed payment row.
func (s *Scheduler) Enqueue(ctx context.Context, repos repository.Repos, paymentID uuid.UUID, reason string) error {
	const op = "service.retry.Enqueue"

	now := s.now().UTC()

	t := &domain.RetryTicket{
		PaymentID:    paymentID,
		AttemptCount: 0,
		MaxAttempts:  s.cfg.MaxAttempts,
		NextRetryAt:  now.Add(s.cfg.Policy.InitialDelay),
		Status:       domain.RetryPending,
		Reason:       reason,
		CreatedAt:    now,
	}

	if err := repos.Retries().Create(ctx, t); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// ProcessQueue runs one sweep: it releases abandoned claims, claims a batch
// of due tickets and replays them with bounded concurrency. Per-ticket
// failures are absorbed into backoff and never fail the sweep.
//
// Returns:
//   - *SweepResult: counts per outcome.
//   - error: only when the queue itself cannot be read.
func (s *Scheduler) ProcessQueue(ctx context.Context) (*SweepResult, error) {
	const op = "service.retry.ProcessQueue"

	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	now := s.now().UTC()
	res := &SweepResult{}

	released, err := s.store.Retries().ReleaseStale(ctx, now.Add(-s.cfg.ClaimTTL))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	res.Released = released
	if released > 0 {
		s.logger.Warn("released stale retry claims", "count", released)
	}

	tickets, err := s.store.Retries().ClaimDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	res.Claimed = len(tickets)

	outcomes := make([]outcome, len(tickets))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i, t := range tickets {
		g.Go(func() error {
			outcomes[i] = s.attempt(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeSucceeded:
			res.Succeeded++
		case outcomeRescheduled:
			res.Failed++
		case outcomeExhausted:
			res.Failed++
			res.Exhausted++
		case outcomeClosed:
			res.Closed++
		}
	}

	s.refreshGauges(ctx)

	if res.Claimed > 0 {
		s.logger.Info("retry sweep complete",
			"claimed", res.Claimed,
			"succeeded", res.Succeeded,
			"failed", res.Failed,
			"exhausted", res.Exhausted,
			"closed", res.Closed,
		)
	}

	return res, nil
}

// attempt replays one claimed ticket. Every failure, panics included, ends
// in reschedule.
func (s *Scheduler) attempt(ctx context.Context, t domain.RetryTicket) (out outcome) {
	log := s.logger.With("payment_id", t.PaymentID.String(), "attempt", t.AttemptCount+1)

	defer func() {
		if r := recover(); r != nil {
			log.Error("retry attempt panicked", "panic", r)
			out = s.reschedule(ctx, t, fmt.Sprintf("panic: %v", r))
		}
	}()

	p, err := s.store.Payments().Get(ctx, t.PaymentID)
	if err != nil {
		return s.reschedule(ctx, t, fmt.Sprintf("load payment: %v", err))
	}

	o, err := s.store.Orders().Get(ctx, p.OrderID)
	if err != nil {
		return s.reschedule(ctx, t, fmt.Sprintf("load order: %v", err))
	}

	if o.Status != domain.OrderPending {
		return s.close(ctx, t, fmt.Sprintf("order is %s", o.Status))
	}

	// An intent opened by an earlier attempt that could not be stored is
	// adopted instead of asking the gateway for another one.
	intent := gateway.RecordedIntent(p.GatewayPayload)
	adopted := intent != nil
	if !adopted {
		intent, err = s.gateway.CreateIntent(ctx, o)
		if err != nil {
			return s.reschedule(ctx, t, err.Error())
		}
	}

	now := s.now().UTC()
	err = s.uow.Do(ctx, func(ctx context.Context, repos repository.Repos, _ func(uow.AfterCommit)) error {
		if err := repos.Retries().MarkSuccess(ctx, t.PaymentID, "", now); err != nil {
			return err
		}
		return repos.Payments().ReviveIntent(ctx, p.ID, intent.Reference, intent.ID, intent.Raw, now)
	})
	if err != nil {
		log.Error("store retried intent", "error", err, "reference", intent.Reference, "adopted", adopted)
		s.keepIntent(ctx, log, p.ID, err, intent, adopted)
		return s.reschedule(ctx, t, fmt.Sprintf("store intent %s: %v", intent.Reference, err))
	}

	s.metrics.IncAttempt("succeeded")
	log.Info("payment intent recreated", "order_id", o.ID.String(), "reference", intent.Reference)

	return outcomeSucceeded
}

func (s *Scheduler) reschedule(ctx context.Context, t domain.RetryTicket, reason string) outcome {
	s.metrics.IncAttempt("failed")

	now := s.now().UTC()

	t.AttemptCount++
	t.NextRetryAt = now.Add(s.cfg.Policy.Next(t.AttemptCount, s.rand()))
	t.Reason = reason
	t.UpdatedAt = now

	log := s.logger.With("payment_id", t.PaymentID.String(), "attempts", t.AttemptCount)

	if err := s.store.Retries().MarkFailed(ctx, &t); err != nil {
		return s.lost(log, err)
	}

	if t.AttemptCount >= t.MaxAttempts {
		s.metrics.IncExhausted()
		log.Error("retry ticket exhausted, manual reconciliation required", "reason", reason)
		return outcomeExhausted
	}

	log.Warn("payment retry rescheduled", "next_retry_at", t.NextRetryAt, "reason", reason)
	return outcomeRescheduled
}

// keepIntent records an intent that could not be stored on the failed
// payment so the next attempt adopts it. An adopted intent that conflicts
// with another payment is dropped instead.
func (s *Scheduler) keepIntent(
	ctx context.Context,
	log *slog.Logger,
	paymentID uuid.UUID,
	cause error,
	intent *gateway.Intent,
	adopted bool,
) {
	conflict := errors.Is(cause, repository.ErrConflict)

	var keep *gateway.Intent
	switch {
	case adopted && !conflict:
		return
	case !adopted && !conflict:
		keep = intent
	}

	payload := gateway.FailurePayload(cause, keep)
	if err := s.store.Payments().SetFailurePayload(ctx, paymentID, payload, s.now().UTC()); err != nil {
		log.Error("record orphan intent", "error", err, "reference", intent.Reference)
	}
}

// close ends a ticket whose order no longer needs a payment. It is stored
// as succeeded with the reason, so it is neither claimed again nor counted
// as exhausted.
func (s *Scheduler) close(ctx context.Context, t domain.RetryTicket, reason string) outcome {
	log := s.logger.With("payment_id", t.PaymentID.String())

	if err := s.store.Retries().MarkSuccess(ctx, t.PaymentID, reason, s.now().UTC()); err != nil {
		return s.lost(log, err)
	}

	log.Info("retry ticket closed", "reason", reason)
	return outcomeClosed
}

// lost leaves the ticket in processing; the next sweep past the claim TTL
// hands it back.
func (s *Scheduler) lost(log *slog.Logger, err error) outcome {
	log.Error("failed to store retry outcome", "error", err)
	return outcomeLost
}

// Purge deletes terminal tickets older than the retention window.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	const op = "service.retry.Purge"

	n, err := s.store.Retries().PurgeTerminal(ctx, s.now().UTC().Add(-s.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	if n > 0 {
		s.logger.Info("purged retry tickets", "count", n)
	}

	return n, nil
}

func (s *Scheduler) Stats(ctx context.Context) (*domain.RetryStats, error) {
	const op = "service.retry.Stats"

	st, err := s.store.Retries().Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return st, nil
}

// Exhausted lists tickets waiting for an operator.
func (s *Scheduler) Exhausted(ctx context.Context, limit int) ([]domain.RetryTicket, error) {
	const op = "service.retry.Exhausted"

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	ts, err := s.store.Retries().ListExhausted(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ts, nil
}

// Run sweeps on every tick until ctx is canceled, purging at most once per
// PurgeEvery.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if s.lock != nil {
		locked, err := s.lock.Acquire(ctx)
		if err != nil {
			s.logger.Error("retry lock acquire", "error", err)
			return
		}
		if !locked {
			s.logger.Debug("another instance is sweeping; skipping this cycle")
			return
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("retry lock release", "error", err)
			}
		}()
	}

	if _, err := s.ProcessQueue(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("retry sweep failed", "error", err)
	}

	if err := s.maybePurge(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("retry purge failed", "error", err)
	}
}

func (s *Scheduler) maybePurge(ctx context.Context) error {
	now := s.now().UTC()

	last := s.lastPurge
	if s.marker != nil {
		l, err := s.marker.Last(ctx)
		if err != nil {
			return err
		}
		last = l
	}

	if now.Sub(last) < s.cfg.PurgeEvery {
		return nil
	}

	if _, err := s.Purge(ctx); err != nil {
		return err
	}

	s.lastPurge = now
	if s.marker != nil {
		return s.marker.Stamp(ctx, now)
	}

	return nil
}

func (s *Scheduler) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	st, err := s.store.Retries().Stats(ctx)
	if err != nil {
		s.logger.Warn("retry stats for metrics", "error", err)
		return
	}

	s.metrics.SetTickets(map[string]int64{
		string(domain.RetryPending):    st.Pending,
		string(domain.RetryProcessing): st.Processing,
		string(domain.RetrySuccess):    st.Success,
		string(domain.RetryFailed):     st.Failed,
		"exhausted":                    st.Exhausted,
	})
}
