package cart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

// setupTestRedis creates a miniredis server and returns a RedisStore on it
func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, 24*time.Hour), mr
}

func TestRedisStore_PutGet(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	items := []d.CartLineItem{
		{ProductID: "productA", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
		{ProductID: "productB", UnitPrice: decimal.RequireFromString("5.00"), Quantity: 1},
	}

	require.NoError(t, store.Put(ctx, "sess-1", items))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "productA", got[0].ProductID)
	assert.True(t, got[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, mr.Exists(cartKey("sess-1")))

	ttl := mr.TTL(cartKey("sess-1"))
	assert.GreaterOrEqual(t, ttl, 24*time.Hour)
	assert.Less(t, ttl, 24*time.Hour+5*time.Minute)
}

func TestRedisStore_MissingIsEmpty(t *testing.T) {
	store, _ := setupTestRedis(t)

	got, err := store.Get(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_ExpiredSessionIsEmpty(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "sess-1", []d.CartLineItem{{ProductID: "p", Quantity: 1}}))

	mr.FastForward(25 * time.Hour)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_InvalidJSON(t *testing.T) {
	store, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cartKey("sess-1"), "{not json"))

	_, err := store.Get(context.Background(), "sess-1")

	assert.Error(t, err)
}

func TestRedisStore_Clear(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "sess-1", []d.CartLineItem{{ProductID: "p", Quantity: 1}}))

	require.NoError(t, store.Clear(ctx, "sess-1"))

	assert.False(t, mr.Exists(cartKey("sess-1")))
}

func TestRedisStore_Update(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	items, err := store.Update(ctx, "sess-1", func(items []d.CartLineItem) ([]d.CartLineItem, error) {
		return append(items, d.CartLineItem{ProductID: "p", Quantity: 3}), nil
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	raw, err := mr.Get(cartKey("sess-1"))
	require.NoError(t, err)
	var stored []d.CartLineItem
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, 3, stored[0].Quantity)

	// an empty result removes the key
	_, err = store.Update(ctx, "sess-1", func([]d.CartLineItem) ([]d.CartLineItem, error) { return nil, nil })
	require.NoError(t, err)
	assert.False(t, mr.Exists(cartKey("sess-1")))
}

func TestRedisStore_UpdateErrorKeepsCart(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "sess-1", []d.CartLineItem{{ProductID: "p", Quantity: 1}}))
	boom := errors.New("boom")

	_, err := store.Update(ctx, "sess-1", func([]d.CartLineItem) ([]d.CartLineItem, error) { return nil, boom })

	require.ErrorIs(t, err, boom)
	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
