package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
)

// Repos is the set of repositories bound to one handle: either the pool or
// an open transaction.
type Repos interface {
	Catalog() CatalogRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Retries() RetryRepository
}

// Txer runs fn inside a single transaction.
type Txer interface {
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

// Store is a storage backend: repositories bound to the pool plus
// transactions.
type Store interface {
	Repos
	Txer
}

type CatalogRepository interface {
	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	CreateTicketType(ctx context.Context, tt *domain.TicketType) error
	GetTicketType(ctx context.Context, id int64) (*domain.TicketType, error)
	// LockTicketType reads the ticket type and holds a row lock on it until
	// the surrounding transaction ends.
	LockTicketType(ctx context.Context, id int64) (*domain.TicketType, error)
	ListTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketType, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// ReservedQuantity sums the quantity of orders that hold inventory.
	ReservedQuantity(ctx context.Context, ticketTypeID int64) (int64, error)
	// TransitionSession moves every pending order of userID that is either
	// orderID or created at or after since into status to, and returns the
	// orders it changed.
	TransitionSession(
		ctx context.Context,
		userID int64,
		orderID uuid.UUID,
		since time.Time,
		to domain.OrderStatus,
		at time.Time,
	) ([]domain.Order, error)
	// Cancel moves a pending order to cancelled, releasing its stock.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	// LockByReference reads the payment and holds a row lock on it until the
	// surrounding transaction ends.
	LockByReference(ctx context.Context, reference string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error)
	ApplyStatus(ctx context.Context, p *domain.Payment) error
	// ReviveIntent records a fresh intent on a failed payment and moves it
	// back to pending.
	ReviveIntent(
		ctx context.Context,
		id uuid.UUID,
		reference string,
		externalID string,
		payload json.RawMessage,
		at time.Time,
	) error
	// SetFailurePayload replaces the payload of a failed payment.
	SetFailurePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage, at time.Time) error
}

type RetryRepository interface {
	Create(ctx context.Context, t *domain.RetryTicket) error
	Get(ctx context.Context, paymentID uuid.UUID) (*domain.RetryTicket, error)
	// ClaimDue marks up to limit due tickets as processing and returns them,
	// oldest due first. Tickets already processing are skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTicket, error)
	// MarkSuccess completes a processing ticket. A non-empty reason records
	// why it was closed without a new intent.
	MarkSuccess(ctx context.Context, paymentID uuid.UUID, reason string, at time.Time) error
	MarkFailed(ctx context.Context, t *domain.RetryTicket) error
	// ReleaseStale returns processing claims older than before to pending.
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
	ListExhausted(ctx context.Context, limit int) ([]domain.RetryTicket, error)
	Stats(ctx context.Context) (*domain.RetryStats, error)
	// PurgeTerminal deletes succeeded and exhausted tickets last updated
	// before the cutoff.
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}
