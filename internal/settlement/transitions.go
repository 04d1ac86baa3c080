package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/fees"
	"github.com/fjod/go_cart/settlement-service/internal/inventory"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
)

func transitionTo(to d.OrderStatus, paymentKey, detail string) ledger.Transition {
	return ledger.Transition{
		From:        d.SourcesOf(to),
		To:          to,
		PaymentKey:  paymentKey,
		ErrorDetail: detail,
	}
}

// confirmHook settles held stock and records order.completed in the
// transaction that completes the order.
func (s *Service) confirmHook() ledger.TxHook {
	return func(ctx context.Context, q storage.DBTX, order *d.Order) error {
		if err := s.inventory.Confirm(ctx, q, inventory.ItemsOf(order.SubOrders)); err != nil {
			return err
		}
		return s.addEvent(ctx, q, ledger.EventOrderCompleted, order)
	}
}

// releaseHook frees held stock and records order.failed.
func (s *Service) releaseHook() ledger.TxHook {
	return func(ctx context.Context, q storage.DBTX, order *d.Order) error {
		if err := s.inventory.Release(ctx, q, inventory.ItemsOf(order.SubOrders)); err != nil {
			return err
		}
		return s.addEvent(ctx, q, ledger.EventOrderFailed, order)
	}
}

type sellerPayload struct {
	SellerID   string `json:"seller_id"`
	SubOrderID string `json:"sub_order_id"`
	Items      int    `json:"items"`
	Subtotal   string `json:"subtotal"`
	Fee        string `json:"fee"`
	Net        string `json:"net"`
}

type orderPayload struct {
	OrderID     string          `json:"order_id"`
	Status      string          `json:"status"`
	Kind        string          `json:"kind"`
	PaymentKey  string          `json:"payment_key,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	Currency    string          `json:"currency"`
	Total       string          `json:"total"`
	Sellers     []sellerPayload `json:"sellers"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (s *Service) addEvent(ctx context.Context, q storage.DBTX, eventType string, order *d.Order) error {
	payload := orderPayload{
		OrderID:     order.Header.ID,
		Status:      order.Header.Status.String(),
		Kind:        string(order.Header.Kind),
		PaymentKey:  order.Header.PaymentKey,
		ErrorDetail: order.Header.ErrorDetail,
		Currency:    s.cfg.Community.Currency,
		Total:       order.Total().StringFixed(2),
		OccurredAt:  s.now().UTC(),
	}
	for _, sub := range order.SubOrders {
		b := fees.ForLines(s.cfg.Community, sub.Lines)
		payload.Sellers = append(payload.Sellers, sellerPayload{
			SellerID:   sub.SellerID,
			SubOrderID: sub.ID,
			Items:      sub.Items(),
			Subtotal:   b.Gross.String(),
			Fee:        b.Fee.String(),
			Net:        b.Net.String(),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return s.ledger.AddEvent(ctx, q, &ledger.OutboxEvent{
		AggregateId: order.Header.ID,
		EventType:   eventType,
		Payload:     data,
	})
}
