package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/settlement-service/internal/cart"
	"github.com/fjod/go_cart/settlement-service/internal/settlement"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Advice string `json:"advice,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps an orchestrator or cart error to a status code and
// the shopper-facing advice.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		return
	case errors.Is(err, cart.ErrItemNotInCart):
		respondError(w, http.StatusNotFound, "not_in_cart", err.Error())
		return
	case errors.Is(err, cart.ErrOutOfStock):
		respondError(w, http.StatusConflict, "out_of_stock", err.Error())
		return
	case errors.Is(err, cart.ErrConcurrentUpdate):
		respondError(w, http.StatusConflict, "concurrent_update", err.Error())
		return
	}

	kind := settlement.KindOf(err)
	respondJSON(w, statusFor(kind), ErrorResponse{
		Error:  settlement.ShopperMessage(err),
		Code:   string(kind),
		Advice: string(settlement.AdviceFor(err)),
	})
}

func statusFor(kind settlement.Kind) int {
	switch kind {
	case settlement.KindEmptyCart, settlement.KindInvalidNotification:
		return http.StatusBadRequest
	case settlement.KindNotFound:
		return http.StatusNotFound
	case settlement.KindInsufficientInventory, settlement.KindIllegalTransition:
		return http.StatusConflict
	case settlement.KindUnknownProduct, settlement.KindTooManySellers, settlement.KindPaymentRejected:
		return http.StatusUnprocessableEntity
	case settlement.KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case settlement.KindNotificationReplay:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
