package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/gateway"
	"github.com/kirinyoku/tixpay/internal/repository"
	memrepo "github.com/kirinyoku/tixpay/internal/repository/memory"
	redisrepo "github.com/kirinyoku/tixpay/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	err error
	// reference, when set, is returned for every intent.
	reference string
	calls     atomic.Int32
}

func (g *fakeGateway) CreateIntent(_ context.Context, o *domain.Order) (*gateway.Intent, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	ref := gateway.NewReference(o.ID, time.Now())
	if g.reference != "" {
		ref = g.reference
	}
	return &gateway.Intent{
		ID:          "pi_" + o.ID.String()[:8],
		Reference:   ref,
		CheckoutURL: "https://pay.example/" + ref,
		Raw:         []byte(`{"id":"pi"}`),
	}, nil
}

type fakeQueue struct {
	mu      sync.Mutex
	err     error
	reasons map[uuid.UUID]string
}

func (q *fakeQueue) Enqueue(ctx context.Context, repos repository.Repos, paymentID uuid.UUID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.reasons == nil {
		q.reasons = map[uuid.UUID]string{}
	}
	q.reasons[paymentID] = reason
	return repos.Retries().Create(ctx, &domain.RetryTicket{
		PaymentID:   paymentID,
		MaxAttempts: 3,
		NextRetryAt: time.Now().Add(5 * time.Second),
		Status:      domain.RetryPending,
		Reason:      reason,
		CreatedAt:   time.Now(),
	})
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (redisrepo.Decision, error) {
	return redisrepo.Decision{Allowed: false, RetryAfter: 30 * time.Second}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, stockTotal int64, gw *fakeGateway) (*Service, *memrepo.Store, *fakeQueue, int64) {
	t.Helper()

	ctx := context.Background()
	store := memrepo.New()

	ev := &domain.Event{Title: "Festival", StartsAt: time.Now(), EndsAt: time.Now().Add(2 * time.Hour)}
	require.NoError(t, store.Catalog().CreateEvent(ctx, ev))

	tt := &domain.TicketType{EventID: ev.ID, Category: "GA", UnitPrice: 5000, TotalStock: stockTotal}
	require.NoError(t, store.Catalog().CreateTicketType(ctx, tt))

	q := &fakeQueue{}
	svc := New(Deps{
		Store:   store,
		Gateway: gw,
		Retries: q,
		Logger:  discardLogger(),
	}, Config{})

	return svc, store, q, tt.ID
}

func TestCheckoutSuccess(t *testing.T) {
	svc, store, _, ttID := setup(t, 10, &fakeGateway{})

	res, err := svc.Checkout(context.Background(), Request{UserID: 1, TicketTypeID: ttID, Quantity: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), res.Order.Total)
	assert.Equal(t, domain.OrderPending, res.Order.Status)
	assert.NotEmpty(t, res.CheckoutURL)

	p, err := store.Payments().Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, res.Reference, p.GatewayReference)
	require.NotNil(t, p.ExternalTransactionID)
	assert.Equal(t, int64(10000), p.Amount)
}

func TestCheckoutGatewayFailureQueuesRetry(t *testing.T) {
	gwErr := &gateway.Error{Err: context.DeadlineExceeded}
	svc, store, q, ttID := setup(t, 10, &fakeGateway{err: gwErr})

	res, err := svc.Checkout(context.Background(), Request{UserID: 1, TicketTypeID: ttID, Quantity: 2})

	require.ErrorIs(t, err, ErrGatewayUnavailable)
	var asGw *gateway.Error
	assert.ErrorAs(t, err, &asGw)
	require.NotNil(t, res)
	assert.Equal(t, int64(10000), res.Order.Total)

	p, err := store.Payments().Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Contains(t, p.GatewayReference, "FAILED-"+res.Order.ID.String())

	ticket, err := store.Retries().Get(context.Background(), res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryPending, ticket.Status)
	assert.Zero(t, ticket.AttemptCount)
	assert.Contains(t, q.reasons[res.PaymentID], "deadline")

	o, err := store.Orders().Get(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, o.Status, "the order keeps holding stock while the retry is pending")
}

func TestCheckoutUnstoredIntentIsKeptForRetry(t *testing.T) {
	ctx := context.Background()
	svc, store, _, ttID := setup(t, 10, &fakeGateway{reference: "TIX-DUP"})

	_, err := svc.Checkout(ctx, Request{UserID: 1, TicketTypeID: ttID, Quantity: 1})
	require.NoError(t, err)

	res, err := svc.Checkout(ctx, Request{UserID: 2, TicketTypeID: ttID, Quantity: 2})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.ErrorIs(t, err, repository.ErrConflict)
	require.NotNil(t, res)

	p, err := store.Payments().Get(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.Status)

	recorded := gateway.RecordedIntent(p.GatewayPayload)
	require.NotNil(t, recorded)
	assert.Equal(t, "TIX-DUP", recorded.Reference)

	ticket, err := store.Retries().Get(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryPending, ticket.Status)

	reserved, err := store.Orders().ReservedQuantity(ctx, ttID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reserved)
}

func TestCheckoutCancelsOrderWhenFailureCannotBeRecorded(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{err: &gateway.Error{StatusCode: 503, Err: errors.New("unavailable")}}
	svc, store, q, ttID := setup(t, 2, gw)
	q.err = errors.New("retry table unavailable")

	res, err := svc.Checkout(ctx, Request{UserID: 1, TicketTypeID: ttID, Quantity: 2})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayUnavailable)
	assert.Nil(t, res)

	reserved, err := store.Orders().ReservedQuantity(ctx, ttID)
	require.NoError(t, err)
	assert.Zero(t, reserved, "the cancelled order releases its stock")

	gw.err = nil
	q.err = nil
	_, err = svc.Checkout(ctx, Request{UserID: 2, TicketTypeID: ttID, Quantity: 2})
	assert.NoError(t, err)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, _, ttID := setup(t, 3, &fakeGateway{})
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, Request{UserID: 1, TicketTypeID: ttID, Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateOrder(ctx, Request{UserID: 1, TicketTypeID: ttID, Quantity: 11})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateOrder(ctx, Request{UserID: 1, TicketTypeID: 404, Quantity: 1})
	assert.ErrorIs(t, err, ErrTicketTypeNotFound)

	wrong := int64(1)
	_, err = svc.CreateOrder(ctx, Request{UserID: 1, TicketTypeID: ttID, Quantity: 1, ClientTotal: &wrong})
	assert.ErrorIs(t, err, ErrTotalMismatch)

	right := int64(5000)
	_, err = svc.CreateOrder(ctx, Request{UserID: 1, TicketTypeID: ttID, Quantity: 1, ClientTotal: &right})
	assert.NoError(t, err)

	_, err = svc.CreateOrder(ctx, Request{UserID: 1, TicketTypeID: ttID, Quantity: 3})
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, _, ttID := setup(t, 5, gw)

	var wg sync.WaitGroup
	var admitted, rejected atomic.Int32
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), Request{UserID: int64(i), TicketTypeID: ttID, Quantity: 1})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
	assert.Equal(t, int32(15), rejected.Load())
	assert.Equal(t, int32(5), gw.calls.Load())

	reserved, err := store.Orders().ReservedQuantity(context.Background(), ttID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reserved)
}

func TestCheckoutRateLimited(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, _, ttID := setup(t, 5, gw)
	svc.limiter = denyLimiter{}

	_, err := svc.Checkout(context.Background(), Request{UserID: 1, TicketTypeID: ttID, Quantity: 1})

	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
	assert.Zero(t, gw.calls.Load())
}
