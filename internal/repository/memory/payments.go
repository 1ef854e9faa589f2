package memrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type paymentRepo struct {
	h handle
}

func (r paymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	const op = "memrepo.paymentRepo.Create"

	return r.h.run(func(st *state) error {
		if _, ok := st.orders[p.OrderID]; !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		if _, ok := st.references[p.GatewayReference]; ok {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}

		p.UpdatedAt = p.CreatedAt
		st.payments[p.ID] = *p
		st.references[p.GatewayReference] = p.ID
		return nil
	})
}

func (r paymentRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	const op = "memrepo.paymentRepo.Get"

	var out domain.Payment
	err := r.h.run(func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (r paymentRepo) LockByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	const op = "memrepo.paymentRepo.LockByReference"

	var out domain.Payment
	err := r.h.run(func(st *state) error {
		id, ok := st.references[reference]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = st.payments[id]
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (r paymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.h.run(func(st *state) error {
		for _, p := range st.payments {
			if p.OrderID == orderID {
				out = append(out, p)
			}
		}
		return nil
	})

	slices.SortFunc(out, func(a, b domain.Payment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return out, err
}

func (r paymentRepo) ApplyStatus(ctx context.Context, p *domain.Payment) error {
	const op = "memrepo.paymentRepo.ApplyStatus"

	return r.h.run(func(st *state) error {
		cur, ok := st.payments[p.ID]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		if cur.Status != domain.PaymentPending {
			return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
		}

		cur.Status = p.Status
		if p.ExternalTransactionID != nil {
			cur.ExternalTransactionID = p.ExternalTransactionID
		}
		if len(p.GatewayPayload) > 0 {
			cur.GatewayPayload = p.GatewayPayload
		}
		cur.PaidAt = p.PaidAt
		cur.UpdatedAt = p.UpdatedAt

		st.payments[p.ID] = cur
		return nil
	})
}

func (r paymentRepo) ReviveIntent(
	ctx context.Context,
	id uuid.UUID,
	reference string,
	externalID string,
	payload json.RawMessage,
	at time.Time,
) error {
	const op = "memrepo.paymentRepo.ReviveIntent"

	return r.h.run(func(st *state) error {
		cur, ok := st.payments[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		if cur.Status != domain.PaymentFailed {
			return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
		}
		if owner, taken := st.references[reference]; taken && owner != id {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}

		delete(st.references, cur.GatewayReference)

		ext := externalID
		cur.Status = domain.PaymentPending
		cur.GatewayReference = reference
		cur.ExternalTransactionID = &ext
		cur.GatewayPayload = payload
		cur.UpdatedAt = at

		st.payments[id] = cur
		st.references[reference] = id
		return nil
	})
}

func (r paymentRepo) SetFailurePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage, at time.Time) error {
	const op = "memrepo.paymentRepo.SetFailurePayload"

	return r.h.run(func(st *state) error {
		cur, ok := st.payments[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		if cur.Status != domain.PaymentFailed {
			return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
		}

		cur.GatewayPayload = payload
		cur.UpdatedAt = at
		st.payments[id] = cur
		return nil
	})
}
