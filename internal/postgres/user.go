package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/orderflow/internal/domain"
)

// UserReader loads the customer summary used for notifications.
type UserReader struct {
	db DBTX
}

// Compile-time check to ensure UserReader implements domain.UserReader.
var _ domain.UserReader = (*UserReader)(nil)

func NewUserReader(db DBTX) *UserReader {
	return &UserReader{db: db}
}

func (r *UserReader) GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSummary, error) {
	var u domain.UserSummary
	err := r.db.QueryRow(ctx, `SELECT id, email, display_name FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound.WithOp("user.get")
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

// Upsert creates or replaces a user summary.
func (r *UserReader) Upsert(ctx context.Context, u domain.UserSummary) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, email, display_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, display_name = EXCLUDED.display_name`,
		u.ID, u.Email, u.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
