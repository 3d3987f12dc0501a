package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/orderflow/internal/domain"
)

// VariantRepository persists product variant stock.
type VariantRepository struct {
	db DBTX
}

// Compile-time check that VariantRepository implements domain.VariantRepository.
var _ domain.VariantRepository = (*VariantRepository)(nil)

func NewVariantRepository(db DBTX) *VariantRepository {
	return &VariantRepository{db: db}
}

// GetByID and Update run inside savepoints so the restoration cascade can
// skip a failing line and still commit the rest.
func (r *VariantRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProductVariant, error) {
	var (
		v        domain.ProductVariant
		sku      string
		price    decimal.Decimal
		currency string
	)
	err := savepoint(ctx, r.db, func(db DBTX) error {
		return db.QueryRow(ctx, `
			SELECT id, product_id, sku, price, currency, stock_quantity, is_active, version, updated_at
			FROM product_variants
			WHERE id = $1`, id,
		).Scan(&v.ID, &v.ProductID, &sku, &price, &currency, &v.StockQuantity, &v.IsActive, &v.Version, &v.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVariantNotFound.WithOp("variant.get")
		}
		return nil, fmt.Errorf("select variant: %w", err)
	}
	v.SKU = domain.SKU(sku)
	v.Price = moneyFrom(price, currency)
	return &v, nil
}

// Update writes stock and availability when the stored version still matches.
func (r *VariantRepository) Update(ctx context.Context, v *domain.ProductVariant) error {
	const op = "variant.update"

	err := savepoint(ctx, r.db, func(db DBTX) error {
		tag, err := db.Exec(ctx, `
			UPDATE product_variants
			SET stock_quantity = $3, is_active = $4, updated_at = now(), version = version + 1
			WHERE id = $1 AND version = $2`,
			v.ID, v.Version, v.StockQuantity, v.IsActive,
		)
		if err != nil {
			return fmt.Errorf("update variant: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM product_variants WHERE id = $1)`, v.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check variant exists: %w", err)
		}
		if !exists {
			return domain.ErrVariantNotFound.WithOp(op)
		}
		return domain.Conflict(op, "Variant was modified by another request")
	})
	if err != nil {
		return err
	}
	v.Version++
	return nil
}

// Upsert creates or replaces a variant. Used to seed catalog data.
func (r *VariantRepository) Upsert(ctx context.Context, v *domain.ProductVariant) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO product_variants (id, product_id, sku, price, currency, stock_quantity, is_active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku, price = EXCLUDED.price, currency = EXCLUDED.currency,
			stock_quantity = EXCLUDED.stock_quantity, is_active = EXCLUDED.is_active,
			updated_at = now(), version = product_variants.version + 1`,
		v.ID, v.ProductID, string(v.SKU), v.Price.Amount, v.Price.Currency, v.StockQuantity, v.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}
