package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixpay/internal/domain"
)

type CatalogRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CatalogRepo) With(db DB) *CatalogRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CatalogRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *CatalogRepo) CreateEvent(ctx context.Context, e *domain.Event) error {
	const op = "postgresrepo.CatalogRepo.CreateEvent"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO events(title, venue, starts_at, ends_at)
       	 VALUES ($1, $2, $3, $4)
     	 RETURNING id, created_at`,
		e.Title, e.Venue, e.StartsAt, e.EndsAt,
	).Scan(&e.ID, &e.CreatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *CatalogRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgresrepo.CatalogRepo.GetEvent"

	db := r.handle()

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT id, title, venue, starts_at, ends_at, created_at
       	 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Title, &e.Venue, &e.StartsAt, &e.EndsAt, &e.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &e, nil
}

func (r *CatalogRepo) CreateTicketType(ctx context.Context, tt *domain.TicketType) error {
	const op = "postgresrepo.CatalogRepo.CreateTicketType"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO ticket_types(event_id, category, unit_price, total_stock)
       	 VALUES ($1, $2, $3, $4)
     	 RETURNING id, created_at`,
		tt.EventID, tt.Category, tt.UnitPrice, tt.TotalStock,
	).Scan(&tt.ID, &tt.CreatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *CatalogRepo) GetTicketType(ctx context.Context, id int64) (*domain.TicketType, error) {
	const op = "postgresrepo.CatalogRepo.GetTicketType"

	return r.getTicketType(ctx, op,
		`SELECT id, event_id, category, unit_price, total_stock, created_at
		 FROM ticket_types WHERE id = $1`,
		id,
	)
}

func (r *CatalogRepo) LockTicketType(ctx context.Context, id int64) (*domain.TicketType, error) {
	const op = "postgresrepo.CatalogRepo.LockTicketType"

	return r.getTicketType(ctx, op,
		`SELECT id, event_id, category, unit_price, total_stock, created_at
		 FROM ticket_types WHERE id = $1
		 FOR UPDATE`,
		id,
	)
}

func (r *CatalogRepo) ListTicketTypes(ctx context.Context, eventID int64) ([]domain.TicketType, error) {
	const op = "postgresrepo.CatalogRepo.ListTicketTypes"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, event_id, category, unit_price, total_stock, created_at
		 FROM ticket_types
		 WHERE event_id = $1
		 ORDER BY unit_price, id`,
		eventID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.TicketType
	for rows.Next() {
		var tt domain.TicketType
		if err := rows.Scan(
			&tt.ID,
			&tt.EventID,
			&tt.Category,
			&tt.UnitPrice,
			&tt.TotalStock,
			&tt.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		out = append(out, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *CatalogRepo) getTicketType(ctx context.Context, op, sql string, id int64) (*domain.TicketType, error) {
	db := r.handle()

	var tt domain.TicketType
	err := db.QueryRow(ctx, sql, id).Scan(
		&tt.ID,
		&tt.EventID,
		&tt.Category,
		&tt.UnitPrice,
		&tt.TotalStock,
		&tt.CreatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &tt, nil
}
