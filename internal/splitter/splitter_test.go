package splitter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

func line(productID, sellerID, price string, qty int) d.ResolvedLine {
	p := decimal.RequireFromString(price)
	return d.ResolvedLine{
		Item:    d.CartLineItem{ProductID: productID, UnitPrice: p, Quantity: qty},
		Product: d.Product{ID: productID, SellerID: sellerID, Price: p, Inventory: 10},
		Seller:  d.Seller{ID: sellerID, PayoutAccount: sellerID + "@example.com"},
	}
}

func TestSplit_TwoSellers(t *testing.T) {
	groups, err := Split([]d.ResolvedLine{
		line("productA", "S1", "10.00", 2),
		line("productB", "S2", "5.00", 1),
	})

	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "S1", groups[0].Seller.ID)
	assert.Equal(t, "S2", groups[1].Seller.ID)
	assert.Equal(t, "20.00", groups[0].Subtotal().StringFixed(2))
	assert.Equal(t, "5.00", groups[1].Subtotal().StringFixed(2))
}

func TestSplit_PreservesFirstSeenOrder(t *testing.T) {
	groups, err := Split([]d.ResolvedLine{
		line("p1", "S2", "1.00", 1),
		line("p2", "S1", "2.00", 1),
		line("p3", "S2", "3.00", 1),
		line("p4", "S3", "4.00", 1),
		line("p5", "S1", "5.00", 1),
	})

	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"S2", "S1", "S3"}, []string{groups[0].Seller.ID, groups[1].Seller.ID, groups[2].Seller.ID})
	assert.Equal(t, "p1", groups[0].Lines[0].ProductID)
	assert.Equal(t, "p3", groups[0].Lines[1].ProductID)
	assert.Equal(t, "p2", groups[1].Lines[0].ProductID)
	assert.Equal(t, "p5", groups[1].Lines[1].ProductID)
}

func TestSplit_SubtotalsSumToCartTotal(t *testing.T) {
	cart := []d.ResolvedLine{
		line("p1", "S1", "9.99", 3),
		line("p2", "S2", "0.01", 7),
		line("p3", "S1", "12.50", 1),
		line("p4", "S3", "3.33", 3),
		line("p5", "S4", "100.00", 1),
		line("p6", "S5", "0.10", 10),
		line("p1", "S1", "9.99", 1),
	}
	items := make([]d.CartLineItem, 0, len(cart))
	for _, l := range cart {
		items = append(items, l.Item)
	}

	groups, err := Split(cart)
	require.NoError(t, err)

	sum := decimal.Zero
	count := 0
	for _, g := range groups {
		sum = sum.Add(g.Subtotal())
		for _, l := range g.Lines {
			count += l.Quantity
		}
	}
	assert.True(t, sum.Equal(d.CartTotal(items)), "sum %s total %s", sum, d.CartTotal(items))
	assert.Equal(t, 26, count)
	assert.Len(t, groups[0].Lines, 2, "repeated product merges into one line")
}

func TestSplit_TooManySellers(t *testing.T) {
	var cart []d.ResolvedLine
	for i := 1; i <= 6; i++ {
		cart = append(cart, line(fmt.Sprintf("p%d", i), fmt.Sprintf("S%d", i), "1.00", 1))
	}

	groups, err := Split(cart)

	assert.Nil(t, groups)
	var tooMany *TooManySellersError
	require.True(t, errors.As(err, &tooMany))
	assert.Equal(t, 6, tooMany.Sellers)
}

func TestSplit_FiveSellersAllowed(t *testing.T) {
	var cart []d.ResolvedLine
	for i := 1; i <= MaxSellers; i++ {
		cart = append(cart, line(fmt.Sprintf("p%d", i), fmt.Sprintf("S%d", i), "1.00", 1))
	}

	groups, err := Split(cart)

	require.NoError(t, err)
	assert.Len(t, groups, MaxSellers)
}

func TestSplit_Empty(t *testing.T) {
	groups, err := Split(nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
