package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/fees"
	"github.com/fjod/go_cart/settlement-service/internal/inventory"
	"github.com/fjod/go_cart/settlement-service/internal/splitter"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
)

type CheckoutRequest struct {
	SessionID       string
	ShopperName     string
	ShopperEmail    string
	ShippingAddress string
	ClientIP        string
}

// SellerShare is what one seller is paid for an order and what it costs them.
type SellerShare struct {
	SellerID   string
	SubOrderID string
	Fees       fees.Breakdown
}

type CheckoutResult struct {
	OrderID     string
	PaymentKey  string
	RedirectURL string
	Status      d.OrderStatus
	Shares      []SellerShare
}

// Checkout turns the session's cart into an order and a single processor
// request. Nothing is persisted when validation fails; once the order is
// recorded every failure leaves it in Error for audit.
func (s *Service) Checkout(ctx context.Context, req *CheckoutRequest) (res *CheckoutResult, err error) {
	defer func() { s.countCheckout(err) }()

	// Assembling
	items, err := s.cart.get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	lines, err := s.catalog.ResolveLines(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cart: %w", err)
	}

	groups, err := splitter.Split(lines)
	if err != nil {
		return nil, err
	}

	if err := s.inventory.Check(lines); err != nil {
		return nil, err
	}

	order, payoutAccounts := s.assemble(req, groups)

	// PendingGateway: the order and its reservation are durable before the processor is called
	err = s.ledger.CreateOrder(ctx, order, func(ctx context.Context, q storage.DBTX, o *d.Order) error {
		return s.inventory.Reserve(ctx, q, inventory.ItemsOf(o.SubOrders))
	})
	if err != nil {
		var short *InsufficientInventoryError
		if errors.As(err, &short) {
			return nil, err
		}
		s.log.ErrorContext(ctx, "failed to record order", "order_id", order.Header.ID, "error", err)
		return nil, &LedgerWriteError{Err: err}
	}
	orderID := order.Header.ID
	s.log.InfoContext(ctx, "order recorded", "order_id", orderID, "sub_orders", len(order.SubOrders))

	// outcome writes must land even if the caller gives up during the processor call
	settleCtx := context.WithoutCancel(ctx)

	payReq, err := s.gateway.BuildRequest(order, s.cfg.Community, payoutAccounts, req.ClientIP)
	if err != nil {
		s.failOrder(settleCtx, orderID, fmt.Sprintf("could not build payment request: %v", err))
		return nil, err
	}

	redirect, err := s.gateway.Pay(ctx, payReq)
	if err != nil {
		s.log.WarnContext(ctx, "payment request failed", "order_id", orderID, "kind", KindOf(err), "error", err)
		s.failOrder(settleCtx, orderID, ShopperMessage(err))
		return nil, err
	}

	status, err := s.awaitConfirmation(settleCtx, orderID, redirect.PaymentKey)
	if err != nil {
		return nil, err
	}

	// the sale is provisionally committed for the shopper from here on
	if err := s.cart.clear(settleCtx, req.SessionID); err != nil {
		s.log.WarnContext(ctx, "failed to clear cart after checkout", "order_id", orderID, "error", err)
	}

	return &CheckoutResult{
		OrderID:     orderID,
		PaymentKey:  redirect.PaymentKey,
		RedirectURL: redirect.RedirectURL,
		Status:      status,
		Shares:      s.shares(order),
	}, nil
}

func (s *Service) assemble(req *CheckoutRequest, groups []splitter.Group) (*d.Order, map[string]string) {
	now := s.now().UTC()
	order := &d.Order{
		Header: d.OrderHeader{
			ID:              uuid.NewString(),
			CreatedAt:       now,
			Kind:            d.OrderKindSale,
			Status:          d.OrderStatusCreated,
			ShopperName:     req.ShopperName,
			ShopperEmail:    req.ShopperEmail,
			ShippingAddress: req.ShippingAddress,
		},
		SubOrders: make([]d.SubOrder, 0, len(groups)),
	}
	payoutAccounts := make(map[string]string, len(groups))
	for _, g := range groups {
		order.SubOrders = append(order.SubOrders, d.SubOrder{
			ID:       uuid.NewString(),
			SellerID: g.Seller.ID,
			Lines:    g.Lines,
		})
		payoutAccounts[g.Seller.ID] = g.Seller.PayoutAccount
	}
	return order, payoutAccounts
}

// awaitConfirmation stores the payment key. A notification may already have
// settled the order, in which case its status is returned unchanged.
func (s *Service) awaitConfirmation(ctx context.Context, orderID, paymentKey string) (d.OrderStatus, error) {
	res, err := s.ledger.Transition(ctx, orderID, transitionTo(d.OrderStatusAwaitingConfirmation, paymentKey, ""), nil)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to store payment key", "order_id", orderID, "error", err)
		return "", &LedgerWriteError{Err: err}
	}
	status := res.Order.Header.Status
	if !res.Applied && status == d.OrderStatusError {
		return status, fmt.Errorf("%w: order %s already failed", ErrIllegalTransition, orderID)
	}
	return status, nil
}

// failOrder moves a pending order to Error and frees its reservation.
func (s *Service) failOrder(ctx context.Context, orderID, detail string) {
	res, err := s.ledger.Transition(ctx, orderID, transitionTo(d.OrderStatusError, "", detail), s.releaseHook())
	if err != nil {
		s.log.ErrorContext(ctx, "failed to mark order as error", "order_id", orderID, "error", err)
		return
	}
	if !res.Applied {
		s.log.WarnContext(ctx, "order already settled", "order_id", orderID, "status", res.Order.Header.Status.String())
	}
}

func (s *Service) shares(order *d.Order) []SellerShare {
	shares := make([]SellerShare, 0, len(order.SubOrders))
	for _, sub := range order.SubOrders {
		shares = append(shares, SellerShare{
			SellerID:   sub.SellerID,
			SubOrderID: sub.ID,
			Fees:       fees.ForLines(s.cfg.Community, sub.Lines),
		})
	}
	return shares
}
