package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

// Store is the session-scoped cart boundary.
type Store interface {
	Get(ctx context.Context, sessionID string) ([]d.CartLineItem, error)
	Put(ctx context.Context, sessionID string, items []d.CartLineItem) error
	Clear(ctx context.Context, sessionID string) error
	// Update applies fn to the current cart and stores the result atomically.
	Update(ctx context.Context, sessionID string, fn func([]d.CartLineItem) ([]d.CartLineItem, error)) ([]d.CartLineItem, error)
}

var ErrConcurrentUpdate = errors.New("cart changed concurrently")

const updateRetries = 5

func NewRedisStore(client *redis.Client, sessionTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		baseTTL: sessionTTL,
	}
}

// RedisStore keeps one JSON document per session. The key expires with the
// session, which empties the cart.
type RedisStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) ([]d.CartLineItem, error) {
	return r.get(ctx, r.client, sessionID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, c getter, sessionID string) ([]d.CartLineItem, error) {
	data, err := c.Get(ctx, cartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var items []d.CartLineItem
	if err2 := json.Unmarshal(data, &items); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}
	return items, nil
}

func (r *RedisStore) Put(ctx context.Context, sessionID string, items []d.CartLineItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, cartKey(sessionID), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, sessionID string, fn func([]d.CartLineItem) ([]d.CartLineItem, error)) ([]d.CartLineItem, error) {
	key := cartKey(sessionID)
	var result []d.CartLineItem

	txf := func(tx *redis.Tx) error {
		items, err := r.get(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		updated, err := fn(items)
		if err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal cart failed: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(updated) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, data, r.ttl())
			return nil
		})
		if err == nil {
			result = updated
		}
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return nil, ErrConcurrentUpdate
}

func (r *RedisStore) ttl() time.Duration {
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	return r.baseTTL + jitter
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}
