package splitter

import (
	"fmt"

	"github.com/shopspring/decimal"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

// MaxSellers is the processor's hard limit on additional recipients per payment.
const MaxSellers = 5

type TooManySellersError struct {
	Sellers int
}

func (e *TooManySellersError) Error() string {
	return fmt.Sprintf("cart has products from %d sellers, at most %d can be paid in one checkout", e.Sellers, MaxSellers)
}

// Group is the seller-scoped slice of a cart that becomes one sub-order.
type Group struct {
	Seller d.Seller
	Lines  []d.LineEntry
}

func (g Group) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range g.Lines {
		total = total.Add(line.Amount())
	}
	return total
}

// Split partitions resolved cart lines by seller. Sellers keep the order in which
// they first appear in the cart and lines keep cart order within a seller.
// Repeated products of one seller are merged into the first line for that product.
func Split(lines []d.ResolvedLine) ([]Group, error) {
	index := make(map[string]int)
	var groups []Group
	for _, line := range lines {
		sellerID := line.Product.SellerID
		i, ok := index[sellerID]
		if !ok {
			i = len(groups)
			index[sellerID] = i
			groups = append(groups, Group{Seller: line.Seller})
		}
		groups[i].Lines = appendLine(groups[i].Lines, d.LineEntry{
			ProductID: line.Item.ProductID,
			Quantity:  line.Item.Quantity,
			UnitPrice: line.Item.UnitPrice,
		})
	}

	if len(groups) > MaxSellers {
		return nil, &TooManySellersError{Sellers: len(groups)}
	}
	return groups, nil
}

func appendLine(lines []d.LineEntry, entry d.LineEntry) []d.LineEntry {
	for i := range lines {
		if lines[i].ProductID == entry.ProductID && lines[i].UnitPrice.Equal(entry.UnitPrice) {
			lines[i].Quantity += entry.Quantity
			return lines
		}
	}
	return append(lines, entry)
}
