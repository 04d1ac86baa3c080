package domain

import "github.com/shopspring/decimal"

// Seller is a maker with its own catalog and payout destination.
type Seller struct {
	ID            string
	Name          string
	PayoutAccount string
}

type Product struct {
	ID        string
	SellerID  string
	Name      string
	Price     decimal.Decimal
	Inventory int
	Reserved  int
}

// Available is the stock not yet held by a checkout awaiting payment.
func (p Product) Available() int {
	return p.Inventory - p.Reserved
}

// ResolvedLine pairs a cart line with the product and seller it points to at checkout time.
type ResolvedLine struct {
	Item    CartLineItem
	Product Product
	Seller  Seller
}
