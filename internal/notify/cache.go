package notify

import (
	"context"
	"log/slog"

	"github.com/dukerupert/orderflow/internal/domain"
)

// CacheInvalidationHandler drops cached order and cart views.
// Invalidation is best-effort: failures are logged and never returned.
type CacheInvalidationHandler struct {
	cache  domain.Cache
	orders domain.OrderReader
	logger *slog.Logger
}

// NewCacheInvalidationHandler builds the handler. orders may be nil, in
// which case user-scoped keys are only cleared for events that carry the user.
func NewCacheInvalidationHandler(cache domain.Cache, orders domain.OrderReader, logger *slog.Logger) *CacheInvalidationHandler {
	return &CacheInvalidationHandler{cache: cache, orders: orders, logger: logger}
}

func (h *CacheInvalidationHandler) Name() string { return CacheHandlerName }

func (h *CacheInvalidationHandler) Handle(ctx context.Context, e domain.Event) error {
	orderID := e.AggregateID()
	logger := h.logger.With("event_id", e.EventID(), "event_type", e.EventType(), "order_id", orderID)

	if cc, ok := e.(*domain.CartConverted); ok {
		h.remove(ctx, logger, "cart:"+cc.CartID.String())
		if cc.UserID != nil {
			h.removePattern(ctx, logger, "user:"+cc.UserID.String()+":cart*")
			h.removePattern(ctx, logger, "user:"+cc.UserID.String()+":orders*")
		}
		return nil
	}

	h.remove(ctx, logger, "order:"+orderID.String())
	h.removePattern(ctx, logger, "orders:*")

	if userID := h.userOf(ctx, logger, e); userID != "" {
		h.removePattern(ctx, logger, "user:"+userID+":orders*")
	}
	return nil
}

// userOf finds the owning user, from the event when it says, otherwise
// from the order read model.
func (h *CacheInvalidationHandler) userOf(ctx context.Context, logger *slog.Logger, e domain.Event) string {
	if oc, ok := e.(*domain.OrderCreated); ok {
		if oc.UserID == nil {
			return ""
		}
		return oc.UserID.String()
	}
	if h.orders == nil {
		return ""
	}
	detail, err := h.orders.GetDetailByID(ctx, e.AggregateID())
	if err != nil {
		logger.Warn("cache: could not resolve order owner", "error", err)
		return ""
	}
	if detail.UserID == nil {
		return ""
	}
	return detail.UserID.String()
}

func (h *CacheInvalidationHandler) remove(ctx context.Context, logger *slog.Logger, key string) {
	if err := h.cache.Remove(ctx, key); err != nil {
		logger.Warn("cache: invalidation failed", "key", key, "error", err)
	}
}

func (h *CacheInvalidationHandler) removePattern(ctx context.Context, logger *slog.Logger, pattern string) {
	if err := h.cache.RemoveByPattern(ctx, pattern); err != nil {
		logger.Warn("cache: pattern invalidation failed", "pattern", pattern, "error", err)
	}
}
