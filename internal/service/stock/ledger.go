// Package stock derives available inventory from the order log. Stock is
// never decremented in place: available = total - quantity held by orders
// in a holds-inventory status.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

var (
	ErrTicketTypeNotFound = errors.New("ticket type not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
)

type Ledger struct {
	repos repository.Repos
}

// NewLedger binds a ledger to repos, which may belong to an open
// transaction.
func NewLedger(repos repository.Repos) *Ledger {
	return &Ledger{repos: repos}
}

func (l *Ledger) AvailableStock(ctx context.Context, ticketTypeID int64) (int64, error) {
	const op = "service.stock.AvailableStock"

	tt, err := l.repos.Catalog().GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, notFound(err))
	}

	return l.available(ctx, tt)
}

func (l *Ledger) CanReserve(ctx context.Context, ticketTypeID, qty int64) (bool, error) {
	available, err := l.AvailableStock(ctx, ticketTypeID)
	if err != nil {
		return false, err
	}

	return available >= qty, nil
}

// Admit locks the ticket type row and checks that qty more units fit. It
// must run inside the transaction that inserts the order: the lock is what
// keeps two checkouts from both taking the last unit.
//
// Returns:
//   - *domain.TicketType: the locked ticket type.
//   - error: stock.ErrTicketTypeNotFound or stock.ErrInsufficientStock.
func (l *Ledger) Admit(ctx context.Context, ticketTypeID, qty int64) (*domain.TicketType, error) {
	const op = "service.stock.Admit"

	tt, err := l.repos.Catalog().LockTicketType(ctx, ticketTypeID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, notFound(err))
	}

	available, err := l.available(ctx, tt)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if available < qty {
		return nil, fmt.Errorf("%s:%w", op, ErrInsufficientStock)
	}

	return tt, nil
}

func (l *Ledger) available(ctx context.Context, tt *domain.TicketType) (int64, error) {
	reserved, err := l.repos.Orders().ReservedQuantity(ctx, tt.ID)
	if err != nil {
		return 0, err
	}

	return domain.AvailableStock(tt.TotalStock, reserved), nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTicketTypeNotFound
	}
	return err
}
