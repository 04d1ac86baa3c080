package fees

import (
	"github.com/shopspring/decimal"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

var hundred = decimal.NewFromInt(100)

// Breakdown is the fee and net amount for one gross amount.
type Breakdown struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// Rate is the combined processor and platform percentage as a fraction.
func Rate(c d.Community) decimal.Decimal {
	return c.ProcessorFeePercent.Add(c.PlatformFeePercent).Div(hundred)
}

// Minimum is the flat part of the fee, charged once per seller amount.
func Minimum(c d.Community) decimal.Decimal {
	return c.ProcessorFeeMinimum.Add(c.PlatformFeeMinimum)
}

// Calculate computes fee = amount * (processor% + platform%) / 100 + (processorMin + platformMin)
// and net = amount - fee. Results are exact; rounding is left to presentation.
func Calculate(c d.Community, amount decimal.Decimal) Breakdown {
	fee := amount.Mul(Rate(c)).Add(Minimum(c))
	return Breakdown{
		Gross: amount,
		Fee:   fee,
		Net:   amount.Sub(fee),
	}
}

// ForLines accrues the fee line by line: every line pays amount * rate on its own
// amount and the flat minimum is added once. The sum equals Calculate on the lines' total.
func ForLines(c d.Community, lines []d.LineEntry) Breakdown {
	gross := decimal.Zero
	fee := decimal.Zero
	rate := Rate(c)
	for _, line := range lines {
		amount := line.Amount()
		gross = gross.Add(amount)
		fee = fee.Add(amount.Mul(rate))
	}
	fee = fee.Add(Minimum(c))
	return Breakdown{
		Gross: gross,
		Fee:   fee,
		Net:   gross.Sub(fee),
	}
}
