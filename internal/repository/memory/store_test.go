package memrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTicketType(t *testing.T, s *Store) *domain.TicketType {
	t.Helper()
	ctx := context.Background()

	ev := &domain.Event{Title: "Show", StartsAt: time.Now(), EndsAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.Catalog().CreateEvent(ctx, ev))

	tt := &domain.TicketType{EventID: ev.ID, Category: "Standard", UnitPrice: 1000, TotalStock: 10}
	require.NoError(t, s.Catalog().CreateTicketType(ctx, tt))
	return tt
}

func newOrder(tt *domain.TicketType, userID int64, qty int, at time.Time) *domain.Order {
	return &domain.Order{
		ID:           uuid.New(),
		UserID:       userID,
		TicketTypeID: tt.ID,
		Quantity:     qty,
		Total:        int64(qty) * tt.UnitPrice,
		Status:       domain.OrderPending,
		CreatedAt:    at,
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	tt := seedTicketType(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	o := newOrder(tt, 1, 2, time.Now())
	err := s.InTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		require.NoError(t, repos.Orders().Create(ctx, o))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Orders().Get(ctx, o.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	reserved, err := s.Orders().ReservedQuantity(ctx, tt.ID)
	require.NoError(t, err)
	assert.Zero(t, reserved)
}

func TestReservedQuantityCountsHoldingStatuses(t *testing.T) {
	s := New()
	tt := seedTicketType(t, s)
	ctx := context.Background()
	now := time.Now()

	pending := newOrder(tt, 1, 2, now)
	confirmed := newOrder(tt, 2, 3, now)
	cancelled := newOrder(tt, 3, 4, now)
	for _, o := range []*domain.Order{pending, confirmed, cancelled} {
		require.NoError(t, s.Orders().Create(ctx, o))
	}

	_, err := s.Orders().TransitionSession(ctx, 2, confirmed.ID, now.Add(time.Hour), domain.OrderConfirmed, now)
	require.NoError(t, err)
	_, err = s.Orders().TransitionSession(ctx, 3, cancelled.ID, now.Add(time.Hour), domain.OrderCancelled, now)
	require.NoError(t, err)

	reserved, err := s.Orders().ReservedQuantity(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reserved)
}

func TestTransitionSessionWindow(t *testing.T) {
	s := New()
	tt := seedTicketType(t, s)
	ctx := context.Background()
	base := time.Now().UTC()

	old := newOrder(tt, 9, 1, base.Add(-2*time.Hour))
	recent := newOrder(tt, 9, 1, base.Add(-10*time.Minute))
	paid := newOrder(tt, 9, 1, base)
	stranger := newOrder(tt, 10, 1, base)
	for _, o := range []*domain.Order{old, recent, paid, stranger} {
		require.NoError(t, s.Orders().Create(ctx, o))
	}

	moved, err := s.Orders().TransitionSession(ctx, 9, paid.ID, base.Add(-30*time.Minute), domain.OrderConfirmed, base)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(moved))
	for _, o := range moved {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{recent.ID, paid.ID}, ids)

	got, err := s.Orders().Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, got.Status)
}

func TestPaymentsReferenceLifecycle(t *testing.T) {
	s := New()
	tt := seedTicketType(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	o := newOrder(tt, 1, 1, now)
	require.NoError(t, s.Orders().Create(ctx, o))

	p := &domain.Payment{
		ID:               uuid.New(),
		OrderID:          o.ID,
		Amount:           o.Total,
		Method:           domain.PaymentMethodMobileMoney,
		Status:           domain.PaymentFailed,
		GatewayReference: "FAILED-1",
		CreatedAt:        now,
	}
	require.NoError(t, s.Payments().Create(ctx, p))

	dup := *p
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.Payments().Create(ctx, &dup), repository.ErrConflict)

	require.NoError(t, s.Payments().ReviveIntent(ctx, p.ID, "TIX-1", "pi_1", []byte(`{"id":"pi_1"}`), now))

	_, err := s.Payments().LockByReference(ctx, "FAILED-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := s.Payments().LockByReference(ctx, "TIX-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, got.Status)

	assert.ErrorIs(t, s.Payments().ReviveIntent(ctx, p.ID, "TIX-2", "pi_2", nil, now), repository.ErrStaleTransition)

	got.Status = domain.PaymentCompleted
	got.UpdatedAt = now
	require.NoError(t, s.Payments().ApplyStatus(ctx, got))
	assert.ErrorIs(t, s.Payments().ApplyStatus(ctx, got), repository.ErrStaleTransition)
}

func TestRetryClaimDue(t *testing.T) {
	s := New()
	tt := seedTicketType(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	o := newOrder(tt, 1, 1, now)
	require.NoError(t, s.Orders().Create(ctx, o))

	mk := func(ref string, next time.Time, attempts int, status domain.RetryStatus) uuid.UUID {
		p := &domain.Payment{ID: uuid.New(), OrderID: o.ID, Status: domain.PaymentFailed, GatewayReference: ref, CreatedAt: now}
		require.NoError(t, s.Payments().Create(ctx, p))
		require.NoError(t, s.Retries().Create(ctx, &domain.RetryTicket{
			PaymentID:    p.ID,
			AttemptCount: attempts,
			MaxAttempts:  3,
			NextRetryAt:  next,
			Status:       status,
			CreatedAt:    now,
		}))
		return p.ID
	}

	later := mk("a", now.Add(-time.Second), 1, domain.RetryFailed)
	first := mk("b", now.Add(-time.Minute), 0, domain.RetryPending)
	mk("c", now.Add(time.Minute), 0, domain.RetryPending)
	mk("d", now.Add(-time.Minute), 3, domain.RetryFailed)
	mk("e", now.Add(-time.Hour), 0, domain.RetrySuccess)

	claimed, err := s.Retries().ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first, claimed[0].PaymentID)
	assert.Equal(t, later, claimed[1].PaymentID)
	for _, c := range claimed {
		assert.Equal(t, domain.RetryProcessing, c.Status)
	}

	again, err := s.Retries().ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	released, err := s.Retries().ReleaseStale(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), released)

	stats, err := s.Retries().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(1), stats.Exhausted)
	assert.Equal(t, int64(1), stats.Success)
}
