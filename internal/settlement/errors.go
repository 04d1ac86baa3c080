package settlement

import (
	"errors"
	"fmt"

	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/inventory"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/splitter"
)

var (
	ErrEmptyCart                 = errors.New("cart is empty, nothing to checkout")
	ErrPaymentGatewayUnavailable = payment.ErrGatewayUnavailable
	ErrNotificationReplay        = errors.New("notification already applied")
	ErrPaymentKeyMismatch        = errors.New("notification payment key does not match the order")
	ErrUnsignedNotification      = errors.New("notification signing secret is not configured")
	ErrOrderNotFound             = ledger.ErrOrderNotFound
	ErrSubOrderNotFound          = ledger.ErrSubOrderNotFound
	ErrIllegalTransition         = errors.New("illegal transition of order status")
)

type (
	TooManySellersError        = splitter.TooManySellersError
	InsufficientInventoryError = inventory.InsufficientInventoryError
	PaymentRejectedError       = payment.PaymentRejectedError
)

// LedgerWriteError is a storage failure while recording an order. The write is
// a single transaction, so nothing of the order was persisted.
type LedgerWriteError struct {
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write failed: %v", e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindEmptyCart             Kind = "empty_cart"
	KindUnknownProduct        Kind = "unknown_product"
	KindTooManySellers        Kind = "too_many_sellers"
	KindInsufficientInventory Kind = "insufficient_inventory"
	KindPaymentRejected       Kind = "payment_rejected"
	KindGatewayUnavailable    Kind = "gateway_unavailable"
	KindLedgerWriteFailed     Kind = "ledger_write_failed"
	KindNotificationReplay    Kind = "notification_replay"
	KindInvalidNotification   Kind = "invalid_notification"
	KindNotFound              Kind = "not_found"
	KindIllegalTransition     Kind = "illegal_transition"
	KindInternal              Kind = "internal"
)

// KindOf classifies an error returned by the orchestrator.
func KindOf(err error) Kind {
	var (
		tooMany   *TooManySellersError
		short     *InsufficientInventoryError
		rejected  *PaymentRejectedError
		ledgerErr *LedgerWriteError
	)
	switch {
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	case errors.Is(err, catalog.ErrProductNotFound):
		return KindUnknownProduct
	case errors.As(err, &tooMany):
		return KindTooManySellers
	case errors.As(err, &short):
		return KindInsufficientInventory
	case errors.As(err, &rejected):
		return KindPaymentRejected
	case errors.Is(err, ErrPaymentGatewayUnavailable):
		return KindGatewayUnavailable
	case errors.As(err, &ledgerErr):
		return KindLedgerWriteFailed
	case errors.Is(err, ErrNotificationReplay):
		return KindNotificationReplay
	case errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrMalformedNotification),
		errors.Is(err, ErrPaymentKeyMismatch),
		errors.Is(err, ErrUnsignedNotification):
		return KindInvalidNotification
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrSubOrderNotFound):
		return KindNotFound
	case errors.Is(err, ErrIllegalTransition):
		return KindIllegalTransition
	default:
		return KindInternal
	}
}

type Advice string

const (
	AdviceFixCart        Advice = "fix_cart"
	AdviceRetryLater     Advice = "retry_later"
	AdviceContactSupport Advice = "contact_support"
)

// AdviceFor tells the shopper what to do about a failed checkout.
func AdviceFor(err error) Advice {
	switch KindOf(err) {
	case KindEmptyCart, KindUnknownProduct, KindTooManySellers, KindInsufficientInventory:
		return AdviceFixCart
	case KindGatewayUnavailable:
		return AdviceRetryLater
	default:
		return AdviceContactSupport
	}
}

// ShopperMessage is the human readable text shown next to the advice.
func ShopperMessage(err error) string {
	var (
		tooMany  *TooManySellersError
		short    *InsufficientInventoryError
		rejected *PaymentRejectedError
	)
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty."
	case errors.As(err, &tooMany):
		return fmt.Sprintf("Your cart has items from %d makers. Please check out items from at most %d makers at a time.", tooMany.Sellers, splitter.MaxSellers)
	case errors.As(err, &short):
		return fmt.Sprintf("Only %d of product %s are available, you asked for %d. Please remove %d from your cart.",
			short.Available, short.ProductID, short.Requested, short.Requested-short.Available)
	case errors.Is(err, catalog.ErrProductNotFound):
		return "A product in your cart is no longer sold. Please remove it and try again."
	case errors.As(err, &rejected):
		return "The payment processor declined this purchase: " + rejected.Reason
	case errors.Is(err, ErrPaymentGatewayUnavailable):
		return "We could not reach the payment processor. Please try again later."
	default:
		return "Something went wrong recording your purchase. Please contact support."
	}
}
