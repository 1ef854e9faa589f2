//go:build integration

package postgresrepo_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/gateway"
	"github.com/kirinyoku/tixpay/internal/postgres"
	"github.com/kirinyoku/tixpay/internal/repository"
	postgresrepo "github.com/kirinyoku/tixpay/internal/repository/postgres"
	"github.com/kirinyoku/tixpay/internal/service/stock"
	"github.com/kirinyoku/tixpay/internal/uow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: TIXPAY_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/repository/postgres/
func openStore(t *testing.T) (*postgresrepo.Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TIXPAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TIXPAY_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := postgres.New(ctx, postgres.Config{DSN: dsn, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `TRUNCATE retry_tickets, payments, orders, ticket_types, events RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return postgresrepo.NewStore(pool), pool
}

func seedTicketType(t *testing.T, store *postgresrepo.Store, total int64) *domain.TicketType {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	ev := &domain.Event{Title: "Arena", StartsAt: now.Add(24 * time.Hour), EndsAt: now.Add(26 * time.Hour)}
	require.NoError(t, store.Catalog().CreateEvent(ctx, ev))

	tt := &domain.TicketType{EventID: ev.ID, Category: "GA", UnitPrice: 5000, TotalStock: total}
	require.NoError(t, store.Catalog().CreateTicketType(ctx, tt))

	return tt
}

func seedFailedPayment(t *testing.T, store *postgresrepo.Store, tt *domain.TicketType, due time.Time) uuid.UUID {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	o := &domain.Order{
		ID:           uuid.New(),
		UserID:       1,
		TicketTypeID: tt.ID,
		Quantity:     1,
		Total:        tt.UnitPrice,
		Status:       domain.OrderPending,
		CreatedAt:    now,
	}
	p := &domain.Payment{
		ID:               uuid.New(),
		OrderID:          o.ID,
		Amount:           o.Total,
		Method:           domain.PaymentMethodMobileMoney,
		Status:           domain.PaymentFailed,
		GatewayReference: gateway.FailedReference(o.ID, now),
		CreatedAt:        now,
	}

	err := store.InTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := repos.Orders().Create(ctx, o); err != nil {
			return err
		}
		if err := repos.Payments().Create(ctx, p); err != nil {
			return err
		}
		return repos.Retries().Create(ctx, &domain.RetryTicket{
			PaymentID:   p.ID,
			MaxAttempts: 3,
			NextRetryAt: due,
			Status:      domain.RetryPending,
			CreatedAt:   now,
		})
	})
	require.NoError(t, err)

	return p.ID
}

func TestConcurrentAdmissionNeverOversells(t *testing.T) {
	store, _ := openStore(t)
	tt := seedTicketType(t, store, 5)

	u := uow.NewUoW(store, uow.WithRetry(postgresrepo.IsRetryable, 10))

	var wg sync.WaitGroup
	var admitted, rejected, conflicted atomic.Int32
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := u.Do(context.Background(), func(ctx context.Context, repos repository.Repos, _ func(uow.AfterCommit)) error {
				if _, err := stock.NewLedger(repos).Admit(ctx, tt.ID, 1); err != nil {
					return err
				}
				return repos.Orders().Create(ctx, &domain.Order{
					ID:           uuid.New(),
					UserID:       int64(i),
					TicketTypeID: tt.ID,
					Quantity:     1,
					Total:        tt.UnitPrice,
					Status:       domain.OrderPending,
					CreatedAt:    time.Now().UTC(),
				})
			})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, stock.ErrInsufficientStock):
				rejected.Add(1)
			case postgresrepo.IsRetryable(err):
				conflicted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, admitted.Load(), int32(5))
	assert.Equal(t, int32(20), admitted.Load()+rejected.Load()+conflicted.Load())

	reserved, err := store.Orders().ReservedQuantity(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(admitted.Load()), reserved)
}

func TestClaimDueSkipsLockedTickets(t *testing.T) {
	store, _ := openStore(t)
	tt := seedTicketType(t, store, 100)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := range 10 {
		seedFailedPayment(t, store, tt, now.Add(-time.Duration(10-i)*time.Second))
	}

	var first, second []domain.RetryTicket
	err := store.InTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		var err error
		first, err = repos.Retries().ClaimDue(ctx, now, 3)
		if err != nil {
			return err
		}

		// The first claim's rows stay locked until this transaction ends.
		second, err = store.Retries().ClaimDue(ctx, now, 10)
		return err
	})
	require.NoError(t, err)

	require.Len(t, first, 3)
	require.Len(t, second, 7)

	seen := map[uuid.UUID]bool{}
	for _, tk := range append(first, second...) {
		assert.False(t, seen[tk.PaymentID], "ticket %s claimed twice", tk.PaymentID)
		seen[tk.PaymentID] = true
		assert.Equal(t, domain.RetryProcessing, tk.Status)
	}

	again, err := store.Retries().ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReviveIntentConflictAndFailurePayload(t *testing.T) {
	store, _ := openStore(t)
	tt := seedTicketType(t, store, 100)
	ctx := context.Background()
	now := time.Now().UTC()

	a := seedFailedPayment(t, store, tt, now)
	b := seedFailedPayment(t, store, tt, now)

	require.NoError(t, store.Payments().ReviveIntent(ctx, a, "TIX-SHARED", "pi_a", []byte(`{"id":"pi_a"}`), now))

	err := store.Payments().ReviveIntent(ctx, b, "TIX-SHARED", "pi_b", nil, now)
	require.ErrorIs(t, err, repository.ErrConflict)

	orphan := &gateway.Intent{ID: "pi_b", Reference: "TIX-SHARED"}
	require.NoError(t, store.Payments().SetFailurePayload(ctx, b, gateway.FailurePayload(err, orphan), now))

	got, err := store.Payments().Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.Status)
	recorded := gateway.RecordedIntent(got.GatewayPayload)
	require.NotNil(t, recorded)
	assert.Equal(t, "pi_b", recorded.ID)

	err = store.Payments().SetFailurePayload(ctx, a, nil, now)
	assert.ErrorIs(t, err, repository.ErrStaleTransition)
}

func TestCancelReleasesStock(t *testing.T) {
	store, _ := openStore(t)
	tt := seedTicketType(t, store, 10)
	ctx := context.Background()
	now := time.Now().UTC()

	o := &domain.Order{
		ID:           uuid.New(),
		UserID:       7,
		TicketTypeID: tt.ID,
		Quantity:     4,
		Total:        4 * tt.UnitPrice,
		Status:       domain.OrderPending,
		CreatedAt:    now,
	}
	require.NoError(t, store.Orders().Create(ctx, o))

	reserved, err := store.Orders().ReservedQuantity(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), reserved)

	require.NoError(t, store.Orders().Cancel(ctx, o.ID, now))
	assert.ErrorIs(t, store.Orders().Cancel(ctx, o.ID, now), repository.ErrStaleTransition)

	reserved, err = store.Orders().ReservedQuantity(ctx, tt.ID)
	require.NoError(t, err)
	assert.Zero(t, reserved)
}
