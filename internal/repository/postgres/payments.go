package postgresrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PaymentRepo) With(db DB) *PaymentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PaymentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const paymentColumns = `id, order_id, amount, method, status, gateway_reference,
	external_transaction_id, gateway_payload, paid_at, created_at, updated_at`

// Create inserts a payment row.
//
// Returns:
//   - error: repository.ErrConflict if the gateway reference is already used.
//   - error: repository.ErrNotFound if the order does not exist.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	const op = "postgresrepo.PaymentRepo.Create"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO payments(id, order_id, amount, method, status, gateway_reference,
		                      external_transaction_id, gateway_payload, paid_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 RETURNING created_at, updated_at`,
		p.ID,
		p.OrderID,
		p.Amount,
		p.Method,
		string(p.Status),
		p.GatewayReference,
		p.ExternalTransactionID,
		payloadArg(p.GatewayPayload),
		p.PaidAt,
		p.CreatedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *PaymentRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	const op = "postgresrepo.PaymentRepo.Get"

	db := r.handle()

	p, err := scanPayment(db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

// LockByReference retrieves a payment by its gateway reference and locks the
// row for the rest of the transaction.
//
// Returns:
//   - error: repository.ErrNotFound if no payment carries the reference.
func (r *PaymentRepo) LockByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	const op = "postgresrepo.PaymentRepo.LockByReference"

	db := r.handle()

	p, err := scanPayment(db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE gateway_reference = $1
		 FOR UPDATE`,
		reference,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

func (r *PaymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	const op = "postgresrepo.PaymentRepo.ListByOrder"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id = $1
		 ORDER BY created_at`,
		orderID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// ApplyStatus writes a webhook transition. Only a pending payment can be
// moved; anything else is reported as repository.ErrStaleTransition.
func (r *PaymentRepo) ApplyStatus(ctx context.Context, p *domain.Payment) error {
	const op = "postgresrepo.PaymentRepo.ApplyStatus"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE payments
		 SET status = $2,
		     external_transaction_id = COALESCE($3, external_transaction_id),
		     gateway_payload = COALESCE($4, gateway_payload),
		     paid_at = $5,
		     updated_at = $6
		 WHERE id = $1 AND status = 'pending'`,
		p.ID,
		string(p.Status),
		p.ExternalTransactionID,
		payloadArg(p.GatewayPayload),
		p.PaidAt,
		p.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
	}

	return nil
}

func (r *PaymentRepo) ReviveIntent(
	ctx context.Context,
	id uuid.UUID,
	reference string,
	externalID string,
	payload json.RawMessage,
	at time.Time,
) error {
	const op = "postgresrepo.PaymentRepo.ReviveIntent"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE payments
		 SET status = 'pending',
		     gateway_reference = $2,
		     external_transaction_id = $3,
		     gateway_payload = $4,
		     updated_at = $5
		 WHERE id = $1 AND status = 'failed'`,
		id, reference, externalID, payloadArg(payload), at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
	}

	return nil
}

func (r *PaymentRepo) SetFailurePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage, at time.Time) error {
	const op = "postgresrepo.PaymentRepo.SetFailurePayload"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE payments
		 SET gateway_payload = $2, updated_at = $3
		 WHERE id = $1 AND status = 'failed'`,
		id, payloadArg(payload), at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
	}

	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var status string
	var payload []byte

	if err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Amount,
		&p.Method,
		&status,
		&p.GatewayReference,
		&p.ExternalTransactionID,
		&payload,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Status = domain.PaymentStatus(status)
	if len(payload) > 0 {
		p.GatewayPayload = json.RawMessage(payload)
	}

	return &p, nil
}

func payloadArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
