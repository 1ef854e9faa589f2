package memrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type orderRepo struct {
	h handle
}

func (r orderRepo) Create(ctx context.Context, o *domain.Order) error {
	const op = "memrepo.orderRepo.Create"

	return r.h.run(func(st *state) error {
		if _, ok := st.ticketTypes[o.TicketTypeID]; !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		if _, ok := st.orders[o.ID]; ok {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}

		o.UpdatedAt = o.CreatedAt
		st.orders[o.ID] = *o
		return nil
	})
}

func (r orderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "memrepo.orderRepo.Get"

	var out domain.Order
	err := r.h.run(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (r orderRepo) ReservedQuantity(ctx context.Context, ticketTypeID int64) (int64, error) {
	var reserved int64
	err := r.h.run(func(st *state) error {
		for _, o := range st.orders {
			if o.TicketTypeID == ticketTypeID && o.Status.HoldsInventory() {
				reserved += int64(o.Quantity)
			}
		}
		return nil
	})

	return reserved, err
}

func (r orderRepo) TransitionSession(
	ctx context.Context,
	userID int64,
	orderID uuid.UUID,
	since time.Time,
	to domain.OrderStatus,
	at time.Time,
) ([]domain.Order, error) {
	var out []domain.Order
	err := r.h.run(func(st *state) error {
		for id, o := range st.orders {
			if o.UserID != userID || o.Status != domain.OrderPending {
				continue
			}
			if id != orderID && o.CreatedAt.Before(since) {
				continue
			}

			o.Status = to
			o.UpdatedAt = at
			st.orders[id] = o
			out = append(out, o)
		}
		return nil
	})

	return out, err
}

func (r orderRepo) Cancel(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "memrepo.orderRepo.Cancel"

	return r.h.run(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		if o.Status != domain.OrderPending {
			return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
		}

		o.Status = domain.OrderCancelled
		o.UpdatedAt = at
		st.orders[id] = o
		return nil
	})
}
