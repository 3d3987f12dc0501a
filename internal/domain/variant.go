package domain

import (
	"time"

	"github.com/google/uuid"
)

// Inventory-related domain errors.
var (
	ErrVariantNotFound   = &Error{Code: ENOTFOUND, Message: "Product variant not found"}
	ErrInsufficientStock = &Error{Code: EINVALIDAMOUNT, Message: "Insufficient stock"}
	ErrNegativeStock     = &Error{Code: EINVALIDAMOUNT, Message: "Stock quantity cannot be negative"}
	ErrInvalidStockDelta = &Error{Code: EINVALIDAMOUNT, Message: "Stock change must be greater than zero"}
)

// ProductVariant is a sellable SKU with its own stock level.
// StockQuantity only changes through AddStock, RemoveStock and SetStockQuantity.
type ProductVariant struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	SKU           SKU
	Price         Money
	StockQuantity int
	IsActive      bool
	Version       int64
	UpdatedAt     time.Time
}

// AddStock increases stock by qty.
func (v *ProductVariant) AddStock(qty int) error {
	if qty <= 0 {
		return ErrInvalidStockDelta.WithOp("variant.add_stock")
	}
	return v.setStock("variant.add_stock", v.StockQuantity+qty)
}

// RemoveStock decreases stock by qty, refusing to go below zero.
func (v *ProductVariant) RemoveStock(qty int) error {
	const op = "variant.remove_stock"
	if qty <= 0 {
		return ErrInvalidStockDelta.WithOp(op)
	}
	if qty > v.StockQuantity {
		return ErrInsufficientStock.WithOp(op)
	}
	return v.setStock(op, v.StockQuantity-qty)
}

// SetStockQuantity replaces the stock level.
func (v *ProductVariant) SetStockQuantity(qty int) error {
	return v.setStock("variant.set_stock", qty)
}

func (v *ProductVariant) setStock(op string, qty int) error {
	if qty < 0 {
		return ErrNegativeStock.WithOp(op)
	}
	v.StockQuantity = qty
	v.UpdatedAt = nowFunc()
	return nil
}
