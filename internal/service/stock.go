package service

import (
	"context"
	"log/slog"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/telemetry"
)

// RestoreReport summarises one stock restoration cascade.
type RestoreReport struct {
	Restored  int  `json:"restored"`
	Skipped   int  `json:"skipped"`
	Missing   int  `json:"missing"`
	Rejected  int  `json:"rejected"`
	Conflicts int  `json:"conflicts"`
	Errors    int  `json:"errors"`
	Committed bool `json:"committed"`
}

// StockRestorer returns stock to variants when an order is cancelled or refunded.
//
// Restoration is best-effort. A failure on one line is logged and the cascade
// moves on; a failed commit is logged as inventory drift and never reported to
// the caller, whose order transition has already committed.
type StockRestorer struct {
	uow     domain.UnitOfWork
	metrics *telemetry.OrderMetrics
	logger  *slog.Logger
}

func NewStockRestorer(uow domain.UnitOfWork, metrics *telemetry.OrderMetrics, logger *slog.Logger) *StockRestorer {
	return &StockRestorer{uow: uow, metrics: metrics, logger: logger}
}

// Restore adds each variant line's quantity back to stock and commits all
// variant updates in one unit of work.
func (r *StockRestorer) Restore(ctx context.Context, op string, order *domain.Order) RestoreReport {
	logger := r.logger.With("op", op, "order_id", order.ID)

	var report RestoreReport
	err := r.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		report = RestoreReport{}
		for _, item := range order.Items() {
			if item.VariantID == nil {
				report.Skipped++
				continue
			}
			variantID := *item.VariantID

			variant, err := tx.Variants().GetByID(ctx, variantID)
			if err != nil {
				if domain.IsCode(err, domain.ENOTFOUND) {
					logger.Warn("variant not found during stock restoration", "variant_id", variantID)
					report.Missing++
					r.metrics.Restoration("missing")
				} else {
					logger.Error("failed to load variant for stock restoration", "variant_id", variantID, "error", err)
					report.Errors++
					r.metrics.Restoration("error")
				}
				continue
			}

			if err := variant.AddStock(item.Quantity); err != nil {
				logger.Warn("stock restoration rejected", "variant_id", variantID, "quantity", item.Quantity, "error", err)
				report.Rejected++
				r.metrics.Restoration("rejected")
				continue
			}

			if err := tx.Variants().Update(ctx, variant); err != nil {
				if domain.IsRetryable(err) {
					logger.Warn("variant changed concurrently, stock not restored", "variant_id", variantID)
					report.Conflicts++
					r.metrics.Conflict("variant")
					r.metrics.Restoration("conflict")
				} else {
					logger.Error("failed to update variant stock", "variant_id", variantID, "error", err)
					report.Errors++
					r.metrics.Restoration("error")
				}
				continue
			}

			report.Restored++
			r.metrics.Restoration("restored")
		}
		return nil
	})
	if err != nil {
		logger.Error("inventory_drift: stock restoration commit failed after order transition",
			"restored_lines", report.Restored,
			"error", err,
		)
		r.metrics.Drift(op)
		telemetry.CaptureError(err, map[string]interface{}{
			"kind":     "inventory_drift",
			"op":       op,
			"order_id": order.ID.String(),
		})
		report.Committed = false
		return report
	}

	report.Committed = true
	logger.Info("stock restored",
		"restored", report.Restored,
		"skipped", report.Skipped,
		"missing", report.Missing,
		"conflicts", report.Conflicts,
	)
	return report
}
