package memrepo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type retryRepo struct {
	h handle
}

func (r retryRepo) Create(ctx context.Context, t *domain.RetryTicket) error {
	const op = "memrepo.retryRepo.Create"

	return r.h.run(func(st *state) error {
		if _, ok := st.payments[t.PaymentID]; !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		if _, ok := st.retries[t.PaymentID]; ok {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}

		t.UpdatedAt = t.CreatedAt
		st.retries[t.PaymentID] = *t
		return nil
	})
}

func (r retryRepo) Get(ctx context.Context, paymentID uuid.UUID) (*domain.RetryTicket, error) {
	const op = "memrepo.retryRepo.Get"

	var out domain.RetryTicket
	err := r.h.run(func(st *state) error {
		t, ok := st.retries[paymentID]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (r retryRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTicket, error) {
	var out []domain.RetryTicket
	err := r.h.run(func(st *state) error {
		var due []domain.RetryTicket
		for _, t := range st.retries {
			if t.Status != domain.RetryPending && t.Status != domain.RetryFailed {
				continue
			}
			if t.NextRetryAt.After(now) || t.AttemptCount >= t.MaxAttempts {
				continue
			}
			due = append(due, t)
		}

		slices.SortFunc(due, func(a, b domain.RetryTicket) int {
			return a.NextRetryAt.Compare(b.NextRetryAt)
		})

		if len(due) > limit {
			due = due[:limit]
		}

		for _, t := range due {
			at := now
			t.Status = domain.RetryProcessing
			t.LastAttemptAt = &at
			t.UpdatedAt = now
			st.retries[t.PaymentID] = t
			out = append(out, t)
		}
		return nil
	})

	return out, err
}

func (r retryRepo) MarkSuccess(ctx context.Context, paymentID uuid.UUID, reason string, at time.Time) error {
	const op = "memrepo.retryRepo.MarkSuccess"

	return r.h.run(func(st *state) error {
		t, ok := st.retries[paymentID]
		if !ok || t.Status != domain.RetryProcessing {
			return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
		}

		done := at
		t.Status = domain.RetrySuccess
		t.CompletedAt = &done
		t.Reason = reason
		t.UpdatedAt = at
		st.retries[paymentID] = t
		return nil
	})
}

func (r retryRepo) MarkFailed(ctx context.Context, in *domain.RetryTicket) error {
	const op = "memrepo.retryRepo.MarkFailed"

	return r.h.run(func(st *state) error {
		t, ok := st.retries[in.PaymentID]
		if !ok || t.Status != domain.RetryProcessing {
			return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
		}

		t.Status = domain.RetryFailed
		t.AttemptCount = in.AttemptCount
		t.NextRetryAt = in.NextRetryAt
		t.Reason = in.Reason
		t.UpdatedAt = in.UpdatedAt
		st.retries[in.PaymentID] = t
		return nil
	})
}

func (r retryRepo) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	var released int64
	err := r.h.run(func(st *state) error {
		for id, t := range st.retries {
			if t.Status != domain.RetryProcessing || t.LastAttemptAt == nil || !t.LastAttemptAt.Before(before) {
				continue
			}
			t.Status = domain.RetryPending
			t.UpdatedAt = time.Now().UTC()
			st.retries[id] = t
			released++
		}
		return nil
	})

	return released, err
}

func (r retryRepo) ListExhausted(ctx context.Context, limit int) ([]domain.RetryTicket, error) {
	var out []domain.RetryTicket
	err := r.h.run(func(st *state) error {
		for _, t := range st.retries {
			if t.Exhausted() {
				out = append(out, t)
			}
		}
		return nil
	})

	slices.SortFunc(out, func(a, b domain.RetryTicket) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return out, err
}

func (r retryRepo) Stats(ctx context.Context) (*domain.RetryStats, error) {
	var s domain.RetryStats
	err := r.h.run(func(st *state) error {
		var attempts int64
		for _, t := range st.retries {
			switch t.Status {
			case domain.RetryPending:
				s.Pending++
			case domain.RetryProcessing:
				s.Processing++
			case domain.RetrySuccess:
				s.Success++
			case domain.RetryFailed:
				s.Failed++
			}
			if t.Exhausted() {
				s.Exhausted++
			}
			attempts += int64(t.AttemptCount)
			s.Total++
		}
		if s.Total > 0 {
			s.AverageAttempts = float64(attempts) / float64(s.Total)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (r retryRepo) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := r.h.run(func(st *state) error {
		for id, t := range st.retries {
			if !t.UpdatedAt.Before(before) {
				continue
			}
			if t.Status == domain.RetrySuccess || t.Exhausted() {
				delete(st.retries, id)
				purged++
			}
		}
		return nil
	})

	return purged, err
}
