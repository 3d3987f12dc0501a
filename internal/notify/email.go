package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/orderflow/internal/domain"
)

// Deduper remembers which side effects already happened.
// Claim takes a lease on key and reports false while another lease or a done
// marker holds it. Complete replaces the lease with a done marker.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, ttl time.Duration) error
	Done(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

const (
	// emailSendLease bounds how long a crashed send blocks a retry.
	emailSendLease = 5 * time.Minute
	// emailDedupeTTL outlives the dispatcher's retry window.
	emailDedupeTTL = 7 * 24 * time.Hour
)

// EmailEvents are the events that produce a customer email.
var EmailEvents = []domain.EventType{
	domain.EventOrderPaid,
	domain.EventOrderShipped,
	domain.EventOrderCancelled,
	domain.EventOrderRefunded,
	domain.EventOrderPartiallyRefunded,
}

// EmailHandler sends order notifications to the customer. Guest orders
// and unknown users are skipped. Send failures are returned so the
// dispatcher retries this handler only.
type EmailHandler struct {
	orders domain.OrderReader
	users  domain.UserReader
	sender domain.EmailSender
	dedupe Deduper
	logger *slog.Logger
}

func NewEmailHandler(orders domain.OrderReader, users domain.UserReader, sender domain.EmailSender, dedupe Deduper, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{
		orders: orders,
		users:  users,
		sender: sender,
		dedupe: dedupe,
		logger: logger,
	}
}

func (h *EmailHandler) Name() string { return EmailHandlerName }

func (h *EmailHandler) Handle(ctx context.Context, e domain.Event) error {
	logger := h.logger.With("event_id", e.EventID(), "event_type", e.EventType(), "order_id", e.AggregateID())

	order, err := h.orders.GetDetailByID(ctx, e.AggregateID())
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			logger.Warn("email: order not found, skipping")
			return nil
		}
		return fmt.Errorf("failed to load order for email: %w", err)
	}
	if order.UserID == nil {
		logger.Debug("email: guest order, skipping")
		return nil
	}

	user, err := h.users.GetByID(ctx, *order.UserID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			logger.Warn("email: user not found, skipping", "user_id", *order.UserID)
			return nil
		}
		return fmt.Errorf("failed to load user for email: %w", err)
	}
	if user.Email == "" {
		logger.Warn("email: user has no address, skipping", "user_id", user.ID)
		return nil
	}

	subject, body, ok := composeEmail(e, order, user)
	if !ok {
		return nil
	}

	key := "notify:email:" + e.EventID().String()
	if h.dedupe != nil {
		first, err := h.dedupe.Claim(ctx, key, emailSendLease)
		if err != nil {
			return fmt.Errorf("failed to claim email dedupe key: %w", err)
		}
		if !first {
			sent, err := h.dedupe.Done(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to read email dedupe key: %w", err)
			}
			if sent {
				logger.Info("email: already sent, skipping")
				return nil
			}
			// A lease left by a crashed or concurrent attempt; retry once it lapses.
			return fmt.Errorf("%s email send already in progress", e.EventType())
		}
	}

	if err := h.sender.Send(ctx, user.Email, subject, body); err != nil {
		if h.dedupe != nil {
			if rerr := h.dedupe.Release(context.WithoutCancel(ctx), key); rerr != nil {
				logger.Error("email: failed to release dedupe key", "error", rerr)
			}
		}
		return fmt.Errorf("failed to send %s email: %w", e.EventType(), err)
	}

	if h.dedupe != nil {
		if err := h.dedupe.Complete(context.WithoutCancel(ctx), key, emailDedupeTTL); err != nil {
			logger.Error("email: failed to record sent marker", "error", err)
		}
	}
	logger.Info("email: sent", "user_id", user.ID, "subject", subject)
	return nil
}

func composeEmail(e domain.Event, order *domain.OrderDetail, user *domain.UserSummary) (string, string, bool) {
	ref := shortRef(order.ID.String())
	greeting := "Hello,"
	if user.DisplayName != "" {
		greeting = fmt.Sprintf("Hello %s,", user.DisplayName)
	}

	var subject string
	var lines []string
	switch ev := e.(type) {
	case *domain.OrderPaid:
		subject = fmt.Sprintf("Order %s confirmed", ref)
		lines = []string{
			fmt.Sprintf("We received your payment of %s for order %s.", ev.Total, ref),
			itemSummary(order),
		}
	case *domain.OrderShipped:
		subject = fmt.Sprintf("Order %s has shipped", ref)
		lines = []string{fmt.Sprintf("Your order %s is on its way.", ref)}
		if ev.TrackingNumber != nil && *ev.TrackingNumber != "" {
			lines = append(lines, "Tracking number: "+*ev.TrackingNumber)
		}
	case *domain.OrderCancelled:
		subject = fmt.Sprintf("Order %s cancelled", ref)
		lines = []string{fmt.Sprintf("Your order %s has been cancelled.", ref)}
		if ev.Reason != "" {
			lines = append(lines, "Reason: "+ev.Reason)
		}
	case *domain.OrderRefunded:
		subject = fmt.Sprintf("Refund for order %s", ref)
		lines = []string{fmt.Sprintf("We refunded %s for order %s.", ev.Amount, ref)}
		if ev.Reason != "" {
			lines = append(lines, "Reason: "+ev.Reason)
		}
	case *domain.OrderPartiallyRefunded:
		subject = fmt.Sprintf("Partial refund for order %s", ref)
		lines = []string{fmt.Sprintf("We refunded %s of order %s.", ev.Amount, ref)}
		if order.RefundedAmount != nil {
			lines = append(lines, fmt.Sprintf("Refunded so far: %s of %s.", *order.RefundedAmount, order.Total))
		}
		if ev.Reason != "" {
			lines = append(lines, "Reason: "+ev.Reason)
		}
	default:
		return "", "", false
	}

	body := greeting + "\n\n" + strings.Join(lines, "\n\n")
	return subject, body, true
}

func itemSummary(order *domain.OrderDetail) string {
	var b strings.Builder
	b.WriteString("Items:")
	for _, it := range order.Items {
		fmt.Fprintf(&b, "\n%d x %s (%s)", it.Quantity, it.Name, it.LineTotal)
	}
	return b.String()
}

func shortRef(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}
