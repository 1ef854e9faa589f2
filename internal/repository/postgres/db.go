package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixpay/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ repository.Repos = (*Store)(nil)
	_ repository.Txer  = (*Store)(nil)
)

// Store hands out repositories bound either to the pool or, inside InTx,
// to the open transaction.
type Store struct {
	pool *pgxpool.Pool
	db   DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// InTx runs fn in a serializable transaction with every repository bound to it.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, &Store{pool: s.pool, db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) Catalog() repository.CatalogRepository {
	return (&CatalogRepo{pool: s.pool}).With(s.db)
}

func (s *Store) Orders() repository.OrderRepository {
	return (&OrderRepo{pool: s.pool}).With(s.db)
}

func (s *Store) Payments() repository.PaymentRepository {
	return (&PaymentRepo{pool: s.pool}).With(s.db)
}

func (s *Store) Retries() repository.RetryRepository {
	return (&RetryRepo{pool: s.pool}).With(s.db)
}
