package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/settlement"
)

type MakerHandler struct {
	settlement Settlement
	timeout    time.Duration
}

func NewMakerHandler(s Settlement, timeout time.Duration) *MakerHandler {
	return &MakerHandler{
		settlement: s,
		timeout:    timeout,
	}
}

type LineDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Amount    string `json:"amount"`
}

type SubOrderDTO struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	SellerID  string    `json:"seller_id"`
	Status    string    `json:"order_status,omitempty"`
	Shipped   bool      `json:"shipped"`
	CreatedAt string    `json:"created_at"`
	Items     int       `json:"items"`
	Subtotal  string    `json:"subtotal"`
	Fee       string    `json:"fee,omitempty"`
	Net       string    `json:"net,omitempty"`
	Lines     []LineDTO `json:"lines"`
}

type OrderResponseDTO struct {
	ID              string        `json:"id"`
	Kind            string        `json:"kind"`
	Status          string        `json:"status"`
	ShopperName     string        `json:"shopper_name"`
	ShippingAddress string        `json:"shipping_address"`
	ErrorDetail     string        `json:"error_detail,omitempty"`
	Total           string        `json:"total"`
	CreatedAt       string        `json:"created_at"`
	SubOrders       []SubOrderDTO `json:"sub_orders"`
}

type TotalsDTO struct {
	Items int    `json:"items"`
	Sales string `json:"sales"`
	Fees  string `json:"fees"`
	Net   string `json:"net"`
}

type DashboardResponseDTO struct {
	SubOrders  []SubOrderDTO `json:"sub_orders"`
	NextCursor string        `json:"next_cursor,omitempty"`
	Totals     TotalsDTO     `json:"totals"`
}

type ShippedRequestDTO struct {
	Shipped *bool `json:"shipped"`
}

// GET /api/v1/orders/{order_id}
func (h *MakerHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.settlement.GetOrder(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	subOrders := make([]SubOrderDTO, 0, len(order.SubOrders))
	for _, s := range order.SubOrders {
		subOrders = append(subOrders, convertSubOrder(s))
	}
	respondJSON(w, http.StatusOK, OrderResponseDTO{
		ID:              order.Header.ID,
		Kind:            string(order.Header.Kind),
		Status:          order.Header.Status.String(),
		ShopperName:     order.Header.ShopperName,
		ShippingAddress: order.Header.ShippingAddress,
		ErrorDetail:     order.Header.ErrorDetail,
		Total:           order.Total().StringFixed(2),
		CreatedAt:       order.Header.CreatedAt.UTC().Format(time.RFC3339),
		SubOrders:       subOrders,
	})
}

// GET /api/v1/makers/{seller_id}/suborders
func (h *MakerHandler) ListSubOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := settlement.DashboardQuery{
		SellerID:  chi.URLParam(r, "seller_id"),
		Cursor:    r.URL.Query().Get("cursor"),
		Direction: ledger.DirectionOlder,
	}
	switch dir := r.URL.Query().Get("direction"); dir {
	case "", string(ledger.DirectionOlder):
	case string(ledger.DirectionNewer):
		q.Direction = ledger.DirectionNewer
	default:
		respondError(w, http.StatusBadRequest, "invalid_direction", "direction must be older or newer")
		return
	}
	if raw := r.URL.Query().Get("shipped"); raw != "" {
		shipped, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_shipped", "shipped must be true or false")
			return
		}
		q.Shipped = &shipped
	}

	page, err := h.settlement.ListSubOrders(ctx, q)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	rows := make([]SubOrderDTO, 0, len(page.SubOrders))
	for _, row := range page.SubOrders {
		rows = append(rows, convertAnnotated(row))
	}
	respondJSON(w, http.StatusOK, DashboardResponseDTO{
		SubOrders:  rows,
		NextCursor: page.NextCursor,
		Totals: TotalsDTO{
			Items: page.Totals.Items,
			Sales: page.Totals.Sales.StringFixed(2),
			Fees:  page.Totals.Fees.StringFixed(2),
			Net:   page.Totals.Net.StringFixed(2),
		},
	})
}

// PUT /api/v1/makers/{seller_id}/suborders/{suborder_id}/shipped
func (h *MakerHandler) SetShipped(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ShippedRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Shipped == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be {\"shipped\": true|false}")
		return
	}

	row, err := h.settlement.SetShipped(ctx, chi.URLParam(r, "seller_id"), chi.URLParam(r, "suborder_id"), *req.Shipped)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, convertAnnotated(*row))
}

func convertSubOrder(s d.SubOrder) SubOrderDTO {
	lines := make([]LineDTO, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, LineDTO{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Amount:    l.Amount().StringFixed(2),
		})
	}
	return SubOrderDTO{
		ID:        s.ID,
		OrderID:   s.OrderID,
		SellerID:  s.SellerID,
		Status:    s.OrderStatus.String(),
		Shipped:   s.Shipped,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		Items:     s.Items(),
		Subtotal:  s.Subtotal().StringFixed(2),
		Lines:     lines,
	}
}

func convertAnnotated(row settlement.AnnotatedSubOrder) SubOrderDTO {
	dto := convertSubOrder(row.SubOrder)
	dto.Fee = row.Fees.Fee.StringFixed(2)
	dto.Net = row.Fees.Net.StringFixed(2)
	return dto
}
