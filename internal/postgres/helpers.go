package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/orderflow/internal/domain"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// beginner opens a nested transaction: a savepoint on pgx.Tx, a fresh
// transaction on a pool.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// savepoint runs fn so that a failing statement leaves the surrounding
// transaction usable.
func savepoint(ctx context.Context, db DBTX, fn func(db DBTX) error) error {
	b, ok := db.(beginner)
	if !ok {
		return fn(db)
	}
	sp, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// isUniqueViolation reports a 23505 error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isSerializationFailure reports errors that mean another transaction won.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func moneyFrom(amount decimal.Decimal, currency string) domain.Money {
	return domain.Money{Amount: amount, Currency: currency}
}

func nullMoney(m *domain.Money) decimal.NullDecimal {
	if m == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: m.Amount, Valid: true}
}
