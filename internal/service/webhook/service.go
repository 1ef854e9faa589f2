// Package webhook applies gateway callbacks to payments and orders.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/metrics"
	"github.com/kirinyoku/tixpay/internal/notify"
	"github.com/kirinyoku/tixpay/internal/repository"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/kirinyoku/tixpay/internal/uow"
)

type Config struct {
	Secret string
	// Tolerance bounds the clock skew accepted on X-Timestamp.
	Tolerance     time.Duration
	AllowUnsigned bool
	// SessionWindow is how far before the paid order a sibling pending
	// order of the same user may have been created and still follow it.
	SessionWindow time.Duration
}

type Status string

const (
	StatusApplied   Status = "applied"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored"
)

type Result struct {
	Status        Status               `json:"status"`
	PaymentID     uuid.UUID            `json:"payment_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Orders        []uuid.UUID          `json:"orders,omitempty"`
	Verified      bool                 `json:"verified"`
}

type payload struct {
	Reference     string `json:"reference"`
	PaymentStatus string `json:"paymentStatus"`
	Status        string `json:"status"`
	TransID       string `json:"transId"`
}

type Service struct {
	uow      *uow.UoW
	notifier notify.Notifier
	cache    *redisrepo.Cache
	pubsub   *redisrepo.PubSub
	metrics  *metrics.WebhookMetrics
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

type Deps struct {
	UoW      *uow.UoW
	Notifier notify.Notifier
	Cache    *redisrepo.Cache
	PubSub   *redisrepo.PubSub
	Metrics  *metrics.WebhookMetrics
	Logger   *slog.Logger
}

func New(deps Deps, cfg Config) *Service {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}

	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = 30 * time.Minute
	}

	return &Service{
		uow:      deps.UoW,
		notifier: deps.Notifier,
		cache:    deps.Cache,
		pubsub:   deps.PubSub,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

type transition struct {
	order   domain.Order
	eventID int64
}

// Handle authenticates a delivery and applies it. Deliveries are
// at-least-once and may arrive out of order: a payment in a terminal
// status absorbs every later delivery, and a status that maps to pending
// never moves anything.
//
// Parameters:
//   - ctx: request-scoped context.
//   - body: the raw request body, exactly as signed.
//   - sig: signature headers, possibly empty.
//
// Returns:
//   - *Result: how the delivery was resolved.
//   - error: webhook.ErrMissingSignature, webhook.ErrInvalidSignature,
//     webhook.ErrMalformedPayload or webhook.ErrPaymentNotFound.
func (s *Service) Handle(ctx context.Context, body []byte, sig Signature) (*Result, error) {
	const op = "service.webhook.Handle"

	res, err := s.handle(ctx, body, sig)
	if err != nil {
		s.metrics.Inc(errorLabel(err))
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.metrics.Inc(string(res.Status))
	return res, nil
}

func (s *Service) handle(ctx context.Context, body []byte, sig Signature) (*Result, error) {
	verified, err := s.authenticate(ctx, body, sig)
	if err != nil {
		s.logger.Warn("webhook rejected", "error", err)
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	p.Reference = strings.TrimSpace(p.Reference)
	if p.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}

	raw := p.PaymentStatus
	if strings.TrimSpace(raw) == "" {
		raw = p.Status
	}
	target := domain.MapGatewayStatus(raw)

	log := s.logger.With("reference", p.Reference, "gateway_status", raw)

	var res *Result

	err = s.uow.Do(ctx, func(
		ctx context.Context,
		repos repository.Repos,
		after func(uow.AfterCommit),
	) error {
		pay, err := repos.Payments().LockByReference(ctx, p.Reference)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		res = &Result{PaymentID: pay.ID, PaymentStatus: pay.Status, Verified: verified}

		if pay.Status.Terminal() {
			if target != pay.Status && target != domain.PaymentPending {
				log.Warn("conflicting webhook for settled payment", "payment_status", pay.Status)
			}
			res.Status = StatusDuplicate
			return nil
		}

		if target == domain.PaymentPending {
			res.Status = StatusIgnored
			return nil
		}

		now := s.now().UTC()

		pay.Status = target
		pay.GatewayPayload = json.RawMessage(body)
		pay.UpdatedAt = now
		if id := strings.TrimSpace(p.TransID); id != "" {
			pay.ExternalTransactionID = &id
		}
		if target == domain.PaymentCompleted {
			pay.PaidAt = &now
		}

		if err := repos.Payments().ApplyStatus(ctx, pay); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) {
				res.Status = StatusDuplicate
				return nil
			}
			return err
		}

		order, err := repos.Orders().Get(ctx, pay.OrderID)
		if err != nil {
			return err
		}

		orderStatus, _ := domain.OrderStatusFor(target)
		moved, err := repos.Orders().TransitionSession(
			ctx,
			order.UserID,
			order.ID,
			order.CreatedAt.Add(-s.cfg.SessionWindow),
			orderStatus,
			now,
		)
		if err != nil {
			return err
		}

		if order.Status != domain.OrderPending && target == domain.PaymentCompleted {
			log.Error("payment completed for an order that is no longer pending",
				"order_id", order.ID.String(),
				"order_status", order.Status,
			)
		}

		transitions, err := withEvents(ctx, repos, moved)
		if err != nil {
			return err
		}

		res.Status = StatusApplied
		res.PaymentStatus = target
		for _, tr := range transitions {
			res.Orders = append(res.Orders, tr.order.ID)
		}

		after(func(ctx context.Context) {
			s.fanOut(ctx, transitions)
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("webhook processed",
		"payment_id", res.PaymentID.String(),
		"result", string(res.Status),
		"orders", len(res.Orders),
		"verified", verified,
	)

	return res, nil
}

func (s *Service) authenticate(ctx context.Context, body []byte, sig Signature) (bool, error) {
	if sig.empty() {
		if !s.cfg.AllowUnsigned {
			return false, ErrMissingSignature
		}
		s.logger.WarnContext(ctx, "processing unsigned webhook")
		return false, nil
	}

	if err := verify(s.cfg.Secret, body, sig, s.now(), s.cfg.Tolerance); err != nil {
		return false, err
	}

	return true, nil
}

func withEvents(ctx context.Context, repos repository.Repos, orders []domain.Order) ([]transition, error) {
	events := map[int64]int64{}
	out := make([]transition, 0, len(orders))

	for _, o := range orders {
		eventID, ok := events[o.TicketTypeID]
		if !ok {
			tt, err := repos.Catalog().GetTicketType(ctx, o.TicketTypeID)
			if err != nil {
				return nil, err
			}
			eventID = tt.EventID
			events[o.TicketTypeID] = eventID
		}
		out = append(out, transition{order: o, eventID: eventID})
	}

	return out, nil
}

// fanOut runs after commit. Failures here never undo the transition.
func (s *Service) fanOut(ctx context.Context, transitions []transition) {
	seen := map[int64]bool{}

	for _, tr := range transitions {
		outcome := domain.OutcomeFor(tr.order.Status)
		if err := s.notifier.Notify(ctx, tr.order.ID, outcome); err != nil {
			s.logger.Error("notify order outcome", "error", err, "order_id", tr.order.ID.String())
		}

		if seen[tr.order.TicketTypeID] {
			continue
		}
		seen[tr.order.TicketTypeID] = true

		if err := s.cache.InvalidateTicketType(ctx, tr.eventID, tr.order.TicketTypeID); err != nil {
			s.logger.Warn("invalidate availability cache", "error", err)
		}
		if err := s.pubsub.PublishTicketTypeChanged(ctx, tr.eventID, tr.order.TicketTypeID); err != nil {
			s.logger.Warn("publish ticket type change", "error", err)
		}
	}
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature), errors.Is(err, ErrInvalidSignature):
		return "unauthorized"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrPaymentNotFound):
		return "not_found"
	default:
		return "error"
	}
}
