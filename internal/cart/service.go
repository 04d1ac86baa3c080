package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

var (
	ErrOutOfStock      = errors.New("product is out of stock")
	ErrItemNotInCart   = errors.New("product is not in the cart")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

type ProductResolver interface {
	ResolveProduct(ctx context.Context, productID string) (*d.Product, *d.Seller, error)
}

// Summary is what the shopper sees for a cart.
type Summary struct {
	Items []d.CartLineItem
	Count int
	Total decimal.Decimal
}

type Service struct {
	store    Store
	products ProductResolver
	log      *slog.Logger
	sfg      singleflight.Group // collapses concurrent reads of one session
	now      func() time.Time
}

func NewService(store Store, products ProductResolver, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		products: products,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) GetCart(ctx context.Context, sessionID string) ([]d.CartLineItem, error) {
	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		return s.store.Get(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]d.CartLineItem), nil
}

func (s *Service) Summary(ctx context.Context, sessionID string) (*Summary, error) {
	items, err := s.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return summarize(items), nil
}

// AddProduct puts quantity units of a product in the cart. The first add
// snapshots the catalog price; later adds only raise the quantity.
func (s *Service) AddProduct(ctx context.Context, sessionID, productID string, quantity int) (*Summary, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	product, _, err := s.products.ResolveProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Available() < 1 {
		return nil, fmt.Errorf("%w: %s", ErrOutOfStock, productID)
	}

	items, err := s.store.Update(ctx, sessionID, func(items []d.CartLineItem) ([]d.CartLineItem, error) {
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity += quantity
				return items, nil
			}
		}
		return append(items, d.CartLineItem{
			ProductID: productID,
			UnitPrice: product.Price,
			Quantity:  quantity,
			AddedAt:   s.now().UTC(),
		}), nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "cart add failed", "product_id", productID, "error", err)
		return nil, err
	}
	return summarize(items), nil
}

// RemoveProduct takes one unit out of the cart and drops the line at zero.
func (s *Service) RemoveProduct(ctx context.Context, sessionID, productID string) (*Summary, error) {
	items, err := s.store.Update(ctx, sessionID, func(items []d.CartLineItem) ([]d.CartLineItem, error) {
		for i := range items {
			if items[i].ProductID != productID {
				continue
			}
			items[i].Quantity--
			if items[i].Quantity <= 0 {
				items = append(items[:i], items[i+1:]...)
			}
			return items, nil
		}
		return nil, ErrItemNotInCart
	})
	if err != nil {
		return nil, err
	}
	return summarize(items), nil
}

func (s *Service) Put(ctx context.Context, sessionID string, items []d.CartLineItem) error {
	return s.store.Put(ctx, sessionID, items)
}

func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.store.Clear(ctx, sessionID)
}

func summarize(items []d.CartLineItem) *Summary {
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	if items == nil {
		items = []d.CartLineItem{}
	}
	return &Summary{Items: items, Count: count, Total: d.CartTotal(items)}
}
