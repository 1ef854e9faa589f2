package postgresrepo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type RetryRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *RetryRepo) With(db DB) *RetryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *RetryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const retryColumns = `payment_id, attempt_count, max_attempts, next_retry_at, last_attempt_at,
	completed_at, status, reason, created_at, updated_at`

// Create inserts a retry ticket.
//
// Returns:
//   - error: repository.ErrConflict if the payment already has a ticket.
func (r *RetryRepo) Create(ctx context.Context, t *domain.RetryTicket) error {
	const op = "postgresrepo.RetryRepo.Create"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO retry_tickets(payment_id, attempt_count, max_attempts, next_retry_at,
		                           status, reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING created_at, updated_at`,
		t.PaymentID,
		t.AttemptCount,
		t.MaxAttempts,
		t.NextRetryAt,
		string(t.Status),
		t.Reason,
		t.CreatedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *RetryRepo) Get(ctx context.Context, paymentID uuid.UUID) (*domain.RetryTicket, error) {
	const op = "postgresrepo.RetryRepo.Get"

	db := r.handle()

	t, err := scanRetry(db.QueryRow(ctx,
		`SELECT `+retryColumns+` FROM retry_tickets WHERE payment_id = $1`,
		paymentID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// ClaimDue flips up to limit due tickets to processing in one statement.
// SKIP LOCKED keeps two concurrent sweeps from claiming the same row.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - now: the sweep's notion of the current time.
//   - limit: maximum number of tickets to claim.
//
// Returns:
//   - []domain.RetryTicket: the claimed tickets ordered by next_retry_at.
//   - error: if the claim fails.
func (r *RetryRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTicket, error) {
	const op = "postgresrepo.RetryRepo.ClaimDue"

	db := r.handle()

	rows, err := db.Query(ctx,
		`WITH due AS (
		     SELECT payment_id
		     FROM retry_tickets
		     WHERE status IN ('pending', 'failed')
		       AND next_retry_at <= $1
		       AND attempt_count < max_attempts
		     ORDER BY next_retry_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 UPDATE retry_tickets rt
		 SET status = 'processing', last_attempt_at = $1, updated_at = $1
		 FROM due
		 WHERE rt.payment_id = due.payment_id
		 RETURNING rt.payment_id, rt.attempt_count, rt.max_attempts, rt.next_retry_at,
		           rt.last_attempt_at, rt.completed_at, rt.status, rt.reason,
		           rt.created_at, rt.updated_at`,
		now, limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	out, err := collectRetries(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	sortByNextRetry(out)

	return out, nil
}

func (r *RetryRepo) MarkSuccess(ctx context.Context, paymentID uuid.UUID, reason string, at time.Time) error {
	const op = "postgresrepo.RetryRepo.MarkSuccess"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE retry_tickets
		 SET status = 'success', completed_at = $2, reason = $3, updated_at = $2
		 WHERE payment_id = $1 AND status = 'processing'`,
		paymentID, at, reason,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
	}

	return nil
}

// MarkFailed stores the outcome of a failed attempt: attempt count, next
// retry time and reason come from t.
func (r *RetryRepo) MarkFailed(ctx context.Context, t *domain.RetryTicket) error {
	const op = "postgresrepo.RetryRepo.MarkFailed"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE retry_tickets
		 SET status = 'failed',
		     attempt_count = $2,
		     next_retry_at = $3,
		     reason = $4,
		     updated_at = $5
		 WHERE payment_id = $1 AND status = 'processing'`,
		t.PaymentID, t.AttemptCount, t.NextRetryAt, t.Reason, t.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
	}

	return nil
}

func (r *RetryRepo) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	const op = "postgresrepo.RetryRepo.ReleaseStale"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE retry_tickets
		 SET status = 'pending', updated_at = now()
		 WHERE status = 'processing' AND last_attempt_at < $1`,
		before,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

func (r *RetryRepo) ListExhausted(ctx context.Context, limit int) ([]domain.RetryTicket, error) {
	const op = "postgresrepo.RetryRepo.ListExhausted"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+retryColumns+`
		 FROM retry_tickets
		 WHERE status = 'failed' AND attempt_count >= max_attempts
		 ORDER BY updated_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	out, err := collectRetries(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *RetryRepo) Stats(ctx context.Context) (*domain.RetryStats, error) {
	const op = "postgresrepo.RetryRepo.Stats"

	db := r.handle()

	var s domain.RetryStats
	err := db.QueryRow(ctx,
		`SELECT
		     COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN status = 'failed' AND attempt_count >= max_attempts THEN 1 ELSE 0 END), 0),
		     COUNT(*),
		     COALESCE(AVG(attempt_count), 0)::float8
		 FROM retry_tickets`,
	).Scan(
		&s.Pending,
		&s.Processing,
		&s.Success,
		&s.Failed,
		&s.Exhausted,
		&s.Total,
		&s.AverageAttempts,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &s, nil
}

func (r *RetryRepo) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	const op = "postgresrepo.RetryRepo.PurgeTerminal"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM retry_tickets
		 WHERE updated_at < $1
		   AND (status = 'success'
		        OR (status = 'failed' AND attempt_count >= max_attempts))`,
		before,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

func collectRetries(rows pgx.Rows) ([]domain.RetryTicket, error) {
	defer rows.Close()

	var out []domain.RetryTicket
	for rows.Next() {
		t, err := scanRetry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}

	return out, rows.Err()
}

func scanRetry(row pgx.Row) (*domain.RetryTicket, error) {
	var t domain.RetryTicket
	var status string

	if err := row.Scan(
		&t.PaymentID,
		&t.AttemptCount,
		&t.MaxAttempts,
		&t.NextRetryAt,
		&t.LastAttemptAt,
		&t.CompletedAt,
		&status,
		&t.Reason,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Status = domain.RetryStatus(status)

	return &t, nil
}

// UPDATE ... RETURNING does not preserve the CTE order.
func sortByNextRetry(ts []domain.RetryTicket) {
	slices.SortStableFunc(ts, func(a, b domain.RetryTicket) int {
		return a.NextRetryAt.Compare(b.NextRetryAt)
	})
}
