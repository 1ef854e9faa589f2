package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/gateway"
	"github.com/kirinyoku/tixpay/internal/repository"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/kirinyoku/tixpay/internal/service/stock"
	"github.com/kirinyoku/tixpay/internal/uow"
)

type IntentCreator interface {
	CreateIntent(ctx context.Context, o *domain.Order) (*gateway.Intent, error)
}

// RetryQueue records a failed intent for later replay, inside the caller's
// transaction.
type RetryQueue interface {
	Enqueue(ctx context.Context, repos repository.Repos, paymentID uuid.UUID, reason string) error
}

type Limiter interface {
	Allow(ctx context.Context, id string) (redisrepo.Decision, error)
}

type Config struct {
	MaxQuantity int
}

type Service struct {
	store   repository.Store
	uow     *uow.UoW
	gateway IntentCreator
	retries RetryQueue
	cache   *redisrepo.Cache
	pubsub  *redisrepo.PubSub
	limiter Limiter
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

type Deps struct {
	Store   repository.Store
	UoW     *uow.UoW
	Gateway IntentCreator
	Retries RetryQueue
	Cache   *redisrepo.Cache
	PubSub  *redisrepo.PubSub
	Limiter Limiter
	Logger  *slog.Logger
}

func New(deps Deps, cfg Config) *Service {
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 10
	}

	u := deps.UoW
	if u == nil {
		u = uow.NewUoW(deps.Store)
	}

	return &Service{
		store:   deps.Store,
		uow:     u,
		gateway: deps.Gateway,
		retries: deps.Retries,
		cache:   deps.Cache,
		pubsub:  deps.PubSub,
		limiter: deps.Limiter,
		logger:  deps.Logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

type Request struct {
	UserID       int64
	TicketTypeID int64
	Quantity     int
	// ClientTotal is the total the client displayed, if it sent one.
	ClientTotal *int64
}

type Result struct {
	Order       *domain.Order
	PaymentID   uuid.UUID
	Reference   string
	CheckoutURL string
}

// CreateOrder admits and inserts a pending order in one transaction.
//
// Parameters:
//   - ctx: request-scoped context.
//   - req: buyer, ticket type, quantity and optional client-side total.
//
// Returns:
//   - *domain.Order: the pending order.
//   - error: checkout.ErrInvalidQuantity, checkout.ErrTicketTypeNotFound,
//     checkout.ErrTotalMismatch or checkout.ErrInsufficientStock.
func (s *Service) CreateOrder(ctx context.Context, req Request) (*domain.Order, error) {
	const op = "service.checkout.CreateOrder"

	if req.Quantity <= 0 || req.Quantity > s.cfg.MaxQuantity {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidQuantity)
	}

	var order *domain.Order

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		repos repository.Repos,
		after func(uow.AfterCommit),
	) error {
		tt, err := stock.NewLedger(repos).Admit(ctx, req.TicketTypeID, int64(req.Quantity))
		if err != nil {
			return err
		}

		total := int64(req.Quantity) * tt.UnitPrice
		if req.ClientTotal != nil && *req.ClientTotal != total {
			return ErrTotalMismatch
		}

		now := s.now().UTC()
		o := &domain.Order{
			ID:           uuid.New(),
			UserID:       req.UserID,
			TicketTypeID: tt.ID,
			Quantity:     req.Quantity,
			Total:        total,
			Status:       domain.OrderPending,
			CreatedAt:    now,
		}

		if err := repos.Orders().Create(ctx, o); err != nil {
			return err
		}

		order = o

		after(func(ctx context.Context) {
			s.stockChanged(ctx, tt.EventID, tt.ID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return order, nil
}

// Checkout creates the order and its gateway intent. When the gateway
// fails, or its intent cannot be stored, a failed payment and a retry
// ticket are committed before the error is returned, together with a
// Result carrying the order. A stored intent is kept on the failed payment
// so the retry adopts it rather than opening a second one.
//
// Returns:
//   - *Result: the order, payment and checkout URL; on failure only Order
//     and PaymentID are set.
//   - error: CreateOrder errors, *checkout.RateLimitedError, or an error
//     wrapping checkout.ErrGatewayUnavailable. Any other error means not
//     even the failure could be recorded and the order was cancelled.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	const op = "service.checkout.Checkout"

	if s.limiter != nil {
		d, err := s.limiter.Allow(ctx, fmt.Sprintf("user:%d", req.UserID))
		if err != nil {
			s.logger.Warn("rate limiter unavailable", "error", err)
		} else if !d.Allowed {
			return nil, fmt.Errorf("%s:%w", op, &RateLimitedError{RetryAfter: d.RetryAfter})
		}
	}

	order, err := s.CreateOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	// From here on the outcome is durable state; a dropped client must not
	// abandon it halfway.
	ctx = context.WithoutCancel(ctx)

	log := s.logger.With("order_id", order.ID.String(), "user_id", order.UserID)

	intent, gwErr := s.gateway.CreateIntent(ctx, order)
	if gwErr != nil {
		return s.fail(ctx, log, order, gwErr, nil)
	}

	now := s.now().UTC()
	ext := intent.ID
	p := &domain.Payment{
		ID:                    uuid.New(),
		OrderID:               order.ID,
		Amount:                order.Total,
		Method:                domain.PaymentMethodMobileMoney,
		Status:                domain.PaymentPending,
		GatewayReference:      intent.Reference,
		ExternalTransactionID: &ext,
		GatewayPayload:        intent.Raw,
		CreatedAt:             now,
	}

	if err := s.store.Payments().Create(ctx, p); err != nil {
		log.Error("store payment intent", "error", err, "reference", intent.Reference)
		return s.fail(ctx, log, order, fmt.Errorf("store intent %s: %w", intent.Reference, err), intent)
	}

	return &Result{
		Order:       order,
		PaymentID:   p.ID,
		Reference:   p.GatewayReference,
		CheckoutURL: intent.CheckoutURL,
	}, nil
}

// fail records a failed payment and its retry ticket. When even that
// cannot be written the order is cancelled so it stops holding stock.
func (s *Service) fail(
	ctx context.Context,
	log *slog.Logger,
	order *domain.Order,
	cause error,
	intent *gateway.Intent,
) (*Result, error) {
	const op = "service.checkout.Checkout"

	paymentID, err := s.recordFailure(ctx, order, cause, intent)
	if err != nil {
		log.Error("record failed intent", "error", err, "cause", cause)
		s.cancel(ctx, log, order)
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	log.Warn("payment intent failed, queued for retry", "payment_id", paymentID.String(), "error", cause)

	return &Result{Order: order, PaymentID: paymentID},
		fmt.Errorf("%s:%w: %w", op, ErrGatewayUnavailable, cause)
}

func (s *Service) recordFailure(
	ctx context.Context,
	order *domain.Order,
	cause error,
	intent *gateway.Intent,
) (uuid.UUID, error) {
	now := s.now().UTC()
	p := &domain.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		Amount:           order.Total,
		Method:           domain.PaymentMethodMobileMoney,
		Status:           domain.PaymentFailed,
		GatewayReference: gateway.FailedReference(order.ID, now),
		GatewayPayload:   gateway.FailurePayload(cause, intent),
		CreatedAt:        now,
	}

	err := s.uow.Do(ctx, func(ctx context.Context, repos repository.Repos, _ func(uow.AfterCommit)) error {
		if err := repos.Payments().Create(ctx, p); err != nil {
			return err
		}
		return s.retries.Enqueue(ctx, repos, p.ID, cause.Error())
	})
	if err != nil {
		return uuid.Nil, err
	}

	return p.ID, nil
}

func (s *Service) cancel(ctx context.Context, log *slog.Logger, order *domain.Order) {
	if err := s.store.Orders().Cancel(ctx, order.ID, s.now().UTC()); err != nil {
		log.Error("cancel unpayable order, stock stays held", "error", err)
		return
	}

	log.Warn("order cancelled, no payment could be recorded")

	tt, err := s.store.Catalog().GetTicketType(ctx, order.TicketTypeID)
	if err != nil {
		return
	}
	s.stockChanged(ctx, tt.EventID, tt.ID)
}

func (s *Service) stockChanged(ctx context.Context, eventID, ticketTypeID int64) {
	if err := s.cache.InvalidateTicketType(ctx, eventID, ticketTypeID); err != nil {
		s.logger.Warn("invalidate availability cache", "error", err, "ticket_type_id", ticketTypeID)
	}
	if err := s.pubsub.PublishTicketTypeChanged(ctx, eventID, ticketTypeID); err != nil {
		s.logger.Warn("publish ticket type change", "error", err, "ticket_type_id", ticketTypeID)
	}
}
