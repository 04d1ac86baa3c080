package settlement

import (
	"context"
	"fmt"
	"time"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/audit"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
)

// HandleNotification applies the processor's confirmation for an order. It is
// safe to call in any order relative to Checkout and any number of times: only
// the first notification that finds the order pending moves it, later ones get
// ErrNotificationReplay.
func (s *Service) HandleNotification(ctx context.Context, orderID string, body []byte, signature string) (*d.Order, error) {
	var n *payment.Notification
	var err error
	if s.cfg.NotifySecret == "" && !s.cfg.AllowUnsignedNotifications {
		s.log.ErrorContext(ctx, "notification refused, no signing secret configured", "order_id", orderID)
		err = ErrUnsignedNotification
	} else {
		n, err = payment.ParseNotification(body, signature, s.cfg.NotifySecret)
	}
	s.archiveNotification(ctx, orderID, body, n, err)
	if err != nil {
		s.countNotification("invalid")
		return nil, err
	}

	order, err := s.applyNotification(ctx, orderID, n)
	switch {
	case err == nil:
		s.countNotification(string(n.Outcome))
	case KindOf(err) == KindNotificationReplay:
		s.countNotification("replay")
	default:
		s.countNotification("invalid")
	}
	return order, err
}

func (s *Service) applyNotification(ctx context.Context, orderID string, n *payment.Notification) (*d.Order, error) {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Header.PaymentKey != "" && order.Header.PaymentKey != n.PaymentKey {
		s.log.WarnContext(ctx, "notification payment key mismatch", "order_id", orderID)
		return nil, ErrPaymentKeyMismatch
	}
	if order.Header.Status.IsTerminal() {
		if order.Header.Status == d.OrderStatusError && n.Outcome.Succeeded() {
			s.log.ErrorContext(ctx, "payment completed for an order that already failed", "order_id", orderID, "payment_key", n.PaymentKey)
		}
		return order, ErrNotificationReplay
	}

	target := d.OrderStatusCompleted
	hook := s.confirmHook()
	detail := ""
	if !n.Outcome.Succeeded() {
		target = d.OrderStatusError
		hook = s.releaseHook()
		detail = fmt.Sprintf("payment %s by processor", outcomeText(n.Outcome))
	}

	res, err := s.ledger.Transition(ctx, orderID, transitionTo(target, n.PaymentKey, detail), hook)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to apply notification", "order_id", orderID, "outcome", string(n.Outcome), "error", err)
		return nil, &LedgerWriteError{Err: err}
	}
	if !res.Applied {
		return res.Order, ErrNotificationReplay
	}

	s.log.InfoContext(ctx, "order settled", "order_id", orderID, "status", res.Order.Header.Status.String())
	return res.Order, nil
}

func outcomeText(o payment.Outcome) string {
	switch o {
	case payment.OutcomeCanceled:
		return "canceled"
	case payment.OutcomeDenied:
		return "denied"
	case payment.OutcomeExpired:
		return "expired"
	default:
		return "failed"
	}
}

func (s *Service) archiveNotification(ctx context.Context, orderID string, body []byte, n *payment.Notification, parseErr error) {
	entry := audit.Entry{
		Kind:       audit.KindNotification,
		OrderID:    orderID,
		Request:    string(body),
		RecordedAt: s.now().UTC(),
	}
	if n != nil {
		entry.PaymentKey = n.PaymentKey
	}
	if parseErr != nil {
		entry.Error = parseErr.Error()
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.audit.Record(recordCtx, entry); err != nil {
		s.log.WarnContext(ctx, "failed to archive notification", "order_id", orderID, "error", err)
	}
}
