// Package postgres implements the order store on PostgreSQL with pgx.
//
// Orders and variants use optimistic concurrency: every update is a
// compare-and-swap on the version column. Outbox entries are written in the
// same transaction as the order they describe.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/orderflow/internal/domain"
)

// UnitOfWork runs callbacks in a pgx transaction.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// Compile-time check that UnitOfWork implements domain.UnitOfWork.
var _ domain.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Do commits when fn returns nil and rolls back otherwise. A cancelled context
// before commit rolls back.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgTx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = pgTx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &tx{db: pgTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return domain.Conflict("tx.commit", "Transaction conflicted with another request")
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	db DBTX
}

func (t *tx) Orders() domain.OrderRepository     { return &OrderRepository{db: t.db} }
func (t *tx) Variants() domain.VariantRepository { return &VariantRepository{db: t.db} }
func (t *tx) Outbox() domain.OutboxWriter        { return &OutboxWriter{db: t.db} }
