package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLineItem is one product in a shopper's cart. UnitPrice is captured when the
// product is first added and is never re-read from the catalog during checkout.
type CartLineItem struct {
	ProductID string          `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
}

func (i CartLineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartTotal sums the line subtotals of a cart.
func CartTotal(items []CartLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
