package domain

import "github.com/shopspring/decimal"

// Community is the storefront scope that every seller lists under. Its fee
// configuration is passed explicitly wherever fees are computed.
type Community struct {
	Name                string
	PayoutAccount       string
	Currency            string
	ProcessorFeePercent decimal.Decimal
	ProcessorFeeMinimum decimal.Decimal
	PlatformFeePercent  decimal.Decimal
	PlatformFeeMinimum  decimal.Decimal
}
