package inventory_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/inventory"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
	"github.com/fjod/go_cart/settlement-service/internal/storage/storagetest"
)

func setupGuard(t *testing.T, stock int) (*inventory.Guard, *storage.DB, *catalog.Repository) {
	db := storagetest.NewSQLite(t)
	products := catalog.NewRepository(db)
	ctx := context.Background()
	require.NoError(t, products.SaveSeller(ctx, &d.Seller{ID: "S1", Name: "Woodshop", PayoutAccount: "wood@example.com"}))
	require.NoError(t, products.SaveProduct(ctx, &d.Product{ID: "p1", SellerID: "S1", Name: "Spoon", Price: decimal.RequireFromString("3.00"), Inventory: stock}))
	return inventory.NewGuard(), db, products
}

func stockOf(t *testing.T, products *catalog.Repository) d.Product {
	p, _, err := products.ResolveProduct(context.Background(), "p1")
	require.NoError(t, err)
	return *p
}

func TestCheck_Shortfall(t *testing.T) {
	g := inventory.NewGuard()
	lines := []d.ResolvedLine{{
		Item:    d.CartLineItem{ProductID: "p1", Quantity: 3},
		Product: d.Product{ID: "p1", Inventory: 4, Reserved: 2},
	}}

	err := g.Check(lines)

	var short *inventory.InsufficientInventoryError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, "p1", short.ProductID)
	assert.Equal(t, 2, short.Available)
	assert.Equal(t, 3, short.Requested)
}

func TestCheck_Enough(t *testing.T) {
	g := inventory.NewGuard()
	lines := []d.ResolvedLine{{
		Item:    d.CartLineItem{ProductID: "p1", Quantity: 2},
		Product: d.Product{ID: "p1", Inventory: 4, Reserved: 2},
	}}

	assert.NoError(t, g.Check(lines))
}

func TestReserve_ConfirmDecrementsOnce(t *testing.T) {
	g, db, products := setupGuard(t, 5)
	ctx := context.Background()
	items := []inventory.Item{{ProductID: "p1", Quantity: 2}}

	require.NoError(t, g.Reserve(ctx, db, items))
	p := stockOf(t, products)
	assert.Equal(t, 5, p.Inventory)
	assert.Equal(t, 2, p.Reserved)

	require.NoError(t, g.Confirm(ctx, db, items))
	p = stockOf(t, products)
	assert.Equal(t, 3, p.Inventory)
	assert.Equal(t, 0, p.Reserved)

	// nothing left reserved, so a second confirm cannot decrement again
	err := g.Confirm(ctx, db, items)
	assert.ErrorIs(t, err, inventory.ErrInventoryConflict)
	assert.Equal(t, 3, stockOf(t, products).Inventory)
}

func TestReserve_ReleaseRestoresAvailability(t *testing.T) {
	g, db, products := setupGuard(t, 5)
	ctx := context.Background()
	items := []inventory.Item{{ProductID: "p1", Quantity: 4}}

	require.NoError(t, g.Reserve(ctx, db, items))
	assert.Equal(t, 1, stockOf(t, products).Available())

	require.NoError(t, g.Release(ctx, db, items))
	p := stockOf(t, products)
	assert.Equal(t, 5, p.Inventory)
	assert.Equal(t, 5, p.Available())
}

func TestReserve_Insufficient(t *testing.T) {
	g, db, products := setupGuard(t, 1)
	ctx := context.Background()

	err := g.Reserve(ctx, db, []inventory.Item{{ProductID: "p1", Quantity: 2}})

	var short *inventory.InsufficientInventoryError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, 2, short.Requested)
	assert.Equal(t, 0, stockOf(t, products).Reserved)
}

func TestReserve_ConcurrentLastUnit(t *testing.T) {
	g, db, products := setupGuard(t, 1)
	ctx := context.Background()

	const buyers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.WithTx(ctx, func(tx *sql.Tx) error {
				return g.Reserve(ctx, tx, []inventory.Item{{ProductID: "p1", Quantity: 1}})
			})
			mu.Lock()
			defer mu.Unlock()
			var insufficient *inventory.InsufficientInventoryError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &insufficient):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, short)
	p := stockOf(t, products)
	assert.Equal(t, 1, p.Reserved)
	assert.GreaterOrEqual(t, p.Available(), 0)
}

func TestItemsOf_MergesProducts(t *testing.T) {
	items := inventory.ItemsOf([]d.SubOrder{
		{Lines: []d.LineEntry{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 2}}},
		{Lines: []d.LineEntry{{ProductID: "c", Quantity: 3}, {ProductID: "a", Quantity: 4}}},
	})

	assert.Equal(t, []inventory.Item{
		{ProductID: "a", Quantity: 5},
		{ProductID: "b", Quantity: 2},
		{ProductID: "c", Quantity: 3},
	}, items)
}
