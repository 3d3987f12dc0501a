package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/orderflow/internal/domain"
)

// OrderRepository persists orders and their items.
type OrderRepository struct {
	db DBTX
}

// Compile-time check that OrderRepository implements domain.OrderRepository.
var _ domain.OrderRepository = (*OrderRepository)(nil)

const selectOrder = `
SELECT id, user_id, cart_id, shipping_address_id, billing_address_id, currency,
       subtotal, tax, shipping_cost, total, status, payment_status,
       refunded_amount, refunded_at, refund_reason, tracking_number, shipping_method,
       metadata, version, created_at, updated_at
FROM orders
WHERE id = $1`

const selectOrderItems = `
SELECT id, product_id, variant_id, quantity, unit_price, product_name, sku, slug
FROM order_items
WHERE order_id = $1
ORDER BY position`

// Get loads an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return loadOrder(ctx, r.db, id, "order.get")
}

func loadOrder(ctx context.Context, db DBTX, id uuid.UUID, op string) (*domain.Order, error) {
	var (
		o             domain.Order
		subtotal      decimal.Decimal
		tax           decimal.Decimal
		shipping      decimal.Decimal
		total         decimal.Decimal
		refunded      decimal.NullDecimal
		status        string
		paymentStatus string
		metadata      []byte
	)
	err := db.QueryRow(ctx, selectOrder, id).Scan(
		&o.ID, &o.UserID, &o.CartID, &o.ShippingAddressID, &o.BillingAddressID, &o.Currency,
		&subtotal, &tax, &shipping, &total, &status, &paymentStatus,
		&refunded, &o.RefundedAt, &o.RefundReason, &o.TrackingNumber, &o.ShippingMethod,
		&metadata, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound.WithOp(op)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	o.Subtotal = moneyFrom(subtotal, o.Currency)
	o.Tax = moneyFrom(tax, o.Currency)
	o.ShippingCost = moneyFrom(shipping, o.Currency)
	o.Total = moneyFrom(total, o.Currency)
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if refunded.Valid {
		m := moneyFrom(refunded.Decimal, o.Currency)
		o.RefundedAmount = &m
	}

	if err := decodeMetadata(metadata, &o); err != nil {
		return nil, fmt.Errorf("decode order metadata: %w", err)
	}

	items, err := loadItems(ctx, db, id, o.Currency)
	if err != nil {
		return nil, err
	}
	return domain.RehydrateOrder(o, items), nil
}

func loadItems(ctx context.Context, db DBTX, orderID uuid.UUID, currency string) ([]domain.OrderItem, error) {
	rows, err := db.Query(ctx, selectOrderItems, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var (
			it    domain.OrderItem
			price decimal.Decimal
			sku   string
			slug  string
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.Quantity, &price, &it.Snapshot.Name, &sku, &slug); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.UnitPrice = moneyFrom(price, currency)
		it.Snapshot.SKU = domain.SKU(sku)
		it.Snapshot.Slug = domain.Slug(slug)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

// Create inserts a new order at version 1.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	metadata, err := encodeMetadata(o)
	if err != nil {
		return fmt.Errorf("encode order metadata: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO orders (
			id, user_id, cart_id, shipping_address_id, billing_address_id, currency,
			subtotal, tax, shipping_cost, total, status, payment_status,
			refunded_amount, refunded_at, refund_reason, tracking_number, shipping_method,
			metadata, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1, $19, $20)`,
		o.ID, o.UserID, o.CartID, o.ShippingAddressID, o.BillingAddressID, o.Currency,
		o.Subtotal.Amount, o.Tax.Amount, o.ShippingCost.Amount, o.Total.Amount,
		string(o.Status), string(o.PaymentStatus),
		nullMoney(o.RefundedAmount), o.RefundedAt, o.RefundReason, o.TrackingNumber, o.ShippingMethod,
		metadata, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("order.create", "Order already exists")
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err := r.saveItems(ctx, o); err != nil {
		return err
	}
	o.Version = 1
	return nil
}

// Update writes the order when its stored version still matches and bumps the
// version. A mismatch is a concurrency conflict.
func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	const op = "order.update"

	metadata, err := encodeMetadata(o)
	if err != nil {
		return fmt.Errorf("encode order metadata: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE orders SET
			subtotal = $3, tax = $4, shipping_cost = $5, total = $6,
			status = $7, payment_status = $8,
			refunded_amount = $9, refunded_at = $10, refund_reason = $11,
			tracking_number = $12, shipping_method = $13, metadata = $14,
			updated_at = $15, version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version,
		o.Subtotal.Amount, o.Tax.Amount, o.ShippingCost.Amount, o.Total.Amount,
		string(o.Status), string(o.PaymentStatus),
		nullMoney(o.RefundedAmount), o.RefundedAt, o.RefundReason,
		o.TrackingNumber, o.ShippingMethod, metadata,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return domain.ErrOrderNotFound.WithOp(op)
		}
		return domain.Conflict(op, "Order was modified by another request")
	}

	if err := r.saveItems(ctx, o); err != nil {
		return err
	}
	o.Version++
	return nil
}

// saveItems upserts every line. Lines are never removed from an order.
func (r *OrderRepository) saveItems(ctx context.Context, o *domain.Order) error {
	batch := &pgx.Batch{}
	for i, it := range o.Items() {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, position, product_id, variant_id, quantity, unit_price, product_name, sku, slug)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity`,
			it.ID, o.ID, i, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice.Amount,
			it.Snapshot.Name, string(it.Snapshot.SKU), string(it.Snapshot.Slug),
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert order item: %w", err)
		}
	}
	return nil
}

// encodeMetadata stores the partial-refund ledger under its reserved key
// alongside caller metadata.
func encodeMetadata(o *domain.Order) ([]byte, error) {
	m := o.Metadata.Clone()
	if len(o.PartialRefunds) > 0 {
		if err := m.Set(domain.PartialRefundsKey, o.PartialRefunds); err != nil {
			return nil, err
		}
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte, o *domain.Order) error {
	var m domain.Metadata
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
	}
	var refunds []domain.RefundRecord
	if _, err := m.Get(domain.PartialRefundsKey, &refunds); err != nil {
		return err
	}
	m.Delete(domain.PartialRefundsKey)

	o.Metadata = m
	o.PartialRefunds = refunds
	return nil
}

// NewOrderReader returns a repository used outside a unit of work for reads.
func NewOrderReader(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetDetailByID returns the read projection of an order.
func (r *OrderRepository) GetDetailByID(ctx context.Context, id uuid.UUID) (*domain.OrderDetail, error) {
	o, err := loadOrder(ctx, r.db, id, "order.get_detail")
	if err != nil {
		return nil, err
	}
	return domain.NewOrderDetail(o), nil
}

