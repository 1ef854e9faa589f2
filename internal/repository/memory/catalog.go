package memrepo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type catalogRepo struct {
	h handle
}

func (r catalogRepo) CreateEvent(ctx context.Context, e *domain.Event) error {
	const op = "memrepo.catalogRepo.CreateEvent"

	return r.h.run(func(st *state) error {
		for _, other := range st.events {
			if other.Title == e.Title && other.StartsAt.Equal(e.StartsAt) {
				return fmt.Errorf("%s:%w", op, repository.ErrConflict)
			}
		}

		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}

		st.eventSeq++
		e.ID = st.eventSeq
		st.events[e.ID] = *e
		return nil
	})
}

func (r catalogRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "memrepo.catalogRepo.GetEvent"

	var out domain.Event
	err := r.h.run(func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (r catalogRepo) CreateTicketType(ctx context.Context, tt *domain.TicketType) error {
	const op = "memrepo.catalogRepo.CreateTicketType"

	return r.h.run(func(st *state) error {
		if _, ok := st.events[tt.EventID]; !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}

		for _, other := range st.ticketTypes {
			if other.EventID == tt.EventID && other.Category == tt.Category {
				return fmt.Errorf("%s:%w", op, repository.ErrConflict)
			}
		}

		if tt.CreatedAt.IsZero() {
			tt.CreatedAt = time.Now().UTC()
		}

		st.ticketTypeSeq++
		tt.ID = st.ticketTypeSeq
		st.ticketTypes[tt.ID] = *tt
		return nil
	})
}

func (r catalogRepo) GetTicketType(ctx context.Context, id int64) (*domain.TicketType, error) {
	const op = "memrepo.catalogRepo.GetTicketType"

	var out domain.TicketType
	err := r.h.run(func(st *state) error {
		tt, ok := st.ticketTypes[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = tt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// LockTicketType is a plain read: transactions already run one at a time.
func (r catalogRepo) LockTicketType(ctx context.Context, id int64) (*domain.TicketType, error) {
	return r.GetTicketType(ctx, id)
}

func (r catalogRepo) ListTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketType, error) {
	var out []domain.TicketType
	err := r.h.run(func(st *state) error {
		for _, tt := range st.ticketTypes {
			if tt.EventID == eventID {
				out = append(out, tt)
			}
		}
		return nil
	})

	slices.SortFunc(out, func(a, b domain.TicketType) int {
		if a.UnitPrice != b.UnitPrice {
			return int(a.UnitPrice - b.UnitPrice)
		}
		return int(a.ID - b.ID)
	})

	return out, err
}
