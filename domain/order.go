package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places a stored amount may carry.
const MoneyPlaces = 2

// IsWholeCents reports whether v needs no rounding to be paid out.
func IsWholeCents(v decimal.Decimal) bool {
	return v.Equal(v.Round(MoneyPlaces))
}

type OrderHeader struct {
	ID              string
	CreatedAt       time.Time
	Kind            OrderKind
	Status          OrderStatus
	ShopperName     string
	ShopperEmail    string
	ShippingAddress string
	PaymentKey      string
	ErrorDetail     string
	UpdatedAt       time.Time
}

type LineEntry struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (e LineEntry) Amount() decimal.Decimal {
	return e.UnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// SubOrder is the seller-scoped portion of an order. Shipped is the only field a
// seller may change after creation. OrderStatus mirrors the parent header on reads.
type SubOrder struct {
	ID              string
	OrderID         string
	SellerID        string
	Lines           []LineEntry
	Shipped         bool
	PayoutReference string
	CreatedAt       time.Time
	SortKey         string
	OrderStatus     OrderStatus
}

// Subtotal is the amount attributed to the seller in the payment request.
func (s SubOrder) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.Amount())
	}
	return total
}

func (s SubOrder) Items() int {
	n := 0
	for _, line := range s.Lines {
		n += line.Quantity
	}
	return n
}

// Order is an order header together with all of its sub-orders.
type Order struct {
	Header    OrderHeader
	SubOrders []SubOrder
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, s := range o.SubOrders {
		total = total.Add(s.Subtotal())
	}
	return total
}
