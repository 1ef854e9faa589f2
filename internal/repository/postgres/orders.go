package postgresrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixpay/internal/domain"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type OrderRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OrderRepo) With(db DB) *OrderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OrderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const orderColumns = `id, user_id, ticket_type_id, quantity, total, status, created_at, updated_at`

func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	const op = "postgresrepo.OrderRepo.Create"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO orders(id, user_id, ticket_type_id, quantity, total, status, created_at, updated_at)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
     	 RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.TicketTypeID, o.Quantity, o.Total, string(o.Status), o.CreatedAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "postgresrepo.OrderRepo.Get"

	db := r.handle()

	o, err := scanOrder(db.QueryRow(ctx,
		`SELECT `+orderColumns+`
       	 FROM orders WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

// ReservedQuantity is the subtrahend of the stock ledger: the sum over
// orders whose status holds inventory.
func (r *OrderRepo) ReservedQuantity(ctx context.Context, ticketTypeID int64) (int64, error) {
	const op = "postgresrepo.OrderRepo.ReservedQuantity"

	db := r.handle()

	var reserved int64
	if err := db.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM orders
		 WHERE ticket_type_id = $1
		   AND status IN ('pending', 'confirmed')`,
		ticketTypeID,
	).Scan(&reserved); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return reserved, nil
}

func (r *OrderRepo) TransitionSession(
	ctx context.Context,
	userID int64,
	orderID uuid.UUID,
	since time.Time,
	to domain.OrderStatus,
	at time.Time,
) ([]domain.Order, error) {
	const op = "postgresrepo.OrderRepo.TransitionSession"

	db := r.handle()

	rows, err := db.Query(ctx,
		`UPDATE orders
		 SET status = $4, updated_at = $5
		 WHERE user_id = $1
		   AND status = 'pending'
		   AND (id = $2 OR created_at >= $3)
		 RETURNING `+orderColumns,
		userID, orderID, since, string(to), at,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *OrderRepo) Cancel(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "postgresrepo.OrderRepo.Cancel"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE orders
		 SET status = 'cancelled', updated_at = $2
		 WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrStaleTransition)
	}

	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var status string

	if err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.TicketTypeID,
		&o.Quantity,
		&o.Total,
		&status,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)

	return &o, nil
}
