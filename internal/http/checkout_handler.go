package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/mail"
	"time"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/settlement"
)

const maxNotificationBytes = 64 << 10

type Settlement interface {
	Checkout(ctx context.Context, req *settlement.CheckoutRequest) (*settlement.CheckoutResult, error)
	HandleNotification(ctx context.Context, orderID string, body []byte, signature string) (*d.Order, error)
	GetOrder(ctx context.Context, orderID string) (*d.Order, error)
	ListSubOrders(ctx context.Context, q settlement.DashboardQuery) (*settlement.DashboardPage, error)
	SetShipped(ctx context.Context, sellerID, subOrderID string, shipped bool) (*settlement.AnnotatedSubOrder, error)
}

type CheckoutHandler struct {
	settlement Settlement
	timeout    time.Duration
}

func NewCheckoutHandler(s Settlement, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		settlement: s,
		timeout:    timeout,
	}
}

type CheckoutRequestDTO struct {
	ShopperName     string `json:"shopper_name"`
	ShopperEmail    string `json:"shopper_email"`
	ShippingAddress string `json:"shipping_address"`
}

type SellerShareDTO struct {
	SellerID   string `json:"seller_id"`
	SubOrderID string `json:"sub_order_id"`
	Subtotal   string `json:"subtotal"`
	Fee        string `json:"fee"`
	Net        string `json:"net"`
}

type CheckoutResponseDTO struct {
	OrderID     string           `json:"order_id"`
	PaymentKey  string           `json:"payment_key"`
	RedirectURL string           `json:"redirect_url"`
	Status      string           `json:"status"`
	Sellers     []SellerShareDTO `json:"sellers"`
}

type NotificationResponseDTO struct {
	Status string `json:"status"`
}

type LandingResponseDTO struct {
	PaymentKey string `json:"payment_key,omitempty"`
	Message    string `json:"message"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ShopperName == "" || req.ShippingAddress == "" {
		respondError(w, http.StatusBadRequest, "invalid_shopper", "shopper_name and shipping_address are required")
		return
	}
	if _, err := mail.ParseAddress(req.ShopperEmail); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_email", "shopper_email is not a valid address")
		return
	}

	res, err := h.settlement.Checkout(ctx, &settlement.CheckoutRequest{
		SessionID:       getSessionID(r.Context()),
		ShopperName:     req.ShopperName,
		ShopperEmail:    req.ShopperEmail,
		ShippingAddress: req.ShippingAddress,
		ClientIP:        clientIP(r),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	sellers := make([]SellerShareDTO, 0, len(res.Shares))
	for _, s := range res.Shares {
		sellers = append(sellers, SellerShareDTO{
			SellerID:   s.SellerID,
			SubOrderID: s.SubOrderID,
			Subtotal:   s.Fees.Gross.StringFixed(2),
			Fee:        s.Fees.Fee.StringFixed(2),
			Net:        s.Fees.Net.StringFixed(2),
		})
	}
	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		OrderID:     res.OrderID,
		PaymentKey:  res.PaymentKey,
		RedirectURL: res.RedirectURL,
		Status:      res.Status.String(),
		Sellers:     sellers,
	})
}

// POST /ipn?order={order_id}
func (h *CheckoutHandler) Notification(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := r.URL.Query().Get("order")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order is required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "could not read body")
		return
	}

	order, err := h.settlement.HandleNotification(ctx, orderID, body, r.Header.Get(payment.SignatureHeader))
	switch {
	case errors.Is(err, settlement.ErrNotificationReplay):
		// the processor retries until it sees a 2xx
		respondJSON(w, http.StatusOK, NotificationResponseDTO{Status: "ignored"})
	case err != nil:
		handleServiceError(w, err)
	default:
		respondJSON(w, http.StatusOK, NotificationResponseDTO{Status: order.Header.Status.String()})
	}
}

// GET /return
func (h *CheckoutHandler) Return(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, LandingResponseDTO{
		PaymentKey: r.URL.Query().Get("payKey"),
		Message:    "Thank you for your purchase. Your payment is being confirmed.",
	})
}

// GET /cancel
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, LandingResponseDTO{
		PaymentKey: r.URL.Query().Get("payKey"),
		Message:    "Your payment was canceled and you have not been charged.",
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
