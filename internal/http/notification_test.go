package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/inventory"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/settlement"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
	"github.com/fjod/go_cart/settlement-service/internal/storage/storagetest"
	"github.com/fjod/go_cart/settlement-service/pkg/logger"
)

func setupNotificationRouter(t *testing.T, secret string) (http.Handler, *ledger.Repository, *catalog.Repository, string) {
	t.Helper()
	db := storagetest.NewSQLite(t)
	products := catalog.NewRepository(db)
	orders := ledger.NewRepository(db)
	ctx := context.Background()

	require.NoError(t, products.SaveSeller(ctx, &d.Seller{ID: "S1", Name: "Maker One", PayoutAccount: "maker1@example.com"}))
	require.NoError(t, products.SaveProduct(ctx, &d.Product{ID: "productA", SellerID: "S1", Name: "Bowl", Price: decimal.RequireFromString("10.00"), Inventory: 5}))

	order := &d.Order{
		Header: d.OrderHeader{ID: uuid.NewString(), Kind: d.OrderKindSale, Status: d.OrderStatusCreated, ShopperName: "Ada"},
		SubOrders: []d.SubOrder{{
			ID:       uuid.NewString(),
			SellerID: "S1",
			Lines:    []d.LineEntry{{ProductID: "productA", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")}},
		}},
	}
	guard := inventory.NewGuard()
	require.NoError(t, orders.CreateOrder(ctx, order, func(ctx context.Context, q storage.DBTX, o *d.Order) error {
		return guard.Reserve(ctx, q, inventory.ItemsOf(o.SubOrders))
	}))

	svc := settlement.NewService(settlement.Config{
		Community:    d.Community{PayoutAccount: "community@example.com", Currency: "USD"},
		NotifySecret: secret,
	}, settlement.Deps{
		Catalog:   products,
		Inventory: guard,
		Ledger:    orders,
		Log:       logger.Discard(),
	})
	return newTestRouter(&CartMock{}, svc, nil), orders, products, order.Header.ID
}

func TestNotification_UnsignedIsRefusedWithoutSecret(t *testing.T) {
	h, orders, products, orderID := setupNotificationRouter(t, "")

	rec := doRequest(h, http.MethodPost, "/ipn?order="+orderID,
		map[string]string{"paymentKey": "AP-1", "outcome": "COMPLETED"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	order, err := orders.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, d.OrderStatusCreated, order.Header.Status)
	p, _, err := products.ResolveProduct(context.Background(), "productA")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Inventory)
	assert.Equal(t, 2, p.Reserved)
}

func TestNotification_UnsignedIsRefusedWithSecret(t *testing.T) {
	h, orders, _, orderID := setupNotificationRouter(t, "hook-secret")

	rec := doRequest(h, http.MethodPost, "/ipn?order="+orderID,
		map[string]string{"paymentKey": "AP-1", "outcome": "COMPLETED"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	order, err := orders.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, d.OrderStatusCreated, order.Header.Status)
}

func TestNotification_SignedCompletes(t *testing.T) {
	h, orders, products, orderID := setupNotificationRouter(t, "hook-secret")
	body := []byte(`{"paymentKey":"AP-1","outcome":"COMPLETED"}`)

	rec := doRawRequest(h, http.MethodPost, "/ipn?order="+orderID, body,
		map[string]string{payment.SignatureHeader: payment.Sign(body, "hook-secret")})

	assert.Equal(t, http.StatusOK, rec.Code)
	order, err := orders.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, d.OrderStatusCompleted, order.Header.Status)
	p, _, err := products.ResolveProduct(context.Background(), "productA")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Inventory)
	assert.Equal(t, 0, p.Reserved)
}
