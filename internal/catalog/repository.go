package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPrice    = errors.New("price must be a non-negative amount in whole cents")
)

type RepoInterface interface {
	ResolveProduct(ctx context.Context, productID string) (*d.Product, *d.Seller, error)
	ResolveLines(ctx context.Context, items []d.CartLineItem) ([]d.ResolvedLine, error)
}

type Repository struct {
	db storage.DBTX
}

func NewRepository(db storage.DBTX) *Repository {
	return &Repository{db: db}
}

// ResolveProduct returns the current product row and its seller.
func (r *Repository) ResolveProduct(ctx context.Context, productID string) (*d.Product, *d.Seller, error) {
	query := `
		SELECT p.id, p.seller_id, p.name, p.price, p.inventory, p.reserved,
		       s.id, s.name, s.payout_account
		FROM products p
		JOIN sellers s ON s.id = p.seller_id
		WHERE p.id = $1
	`

	p := &d.Product{}
	s := &d.Seller{}
	err := r.db.QueryRowContext(ctx, query, productID).Scan(
		&p.ID,
		&p.SellerID,
		&p.Name,
		&p.Price,
		&p.Inventory,
		&p.Reserved,
		&s.ID,
		&s.Name,
		&s.PayoutAccount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, s, nil
}

// ResolveLines looks up every cart line, keeping cart order.
func (r *Repository) ResolveLines(ctx context.Context, items []d.CartLineItem) ([]d.ResolvedLine, error) {
	lines := make([]d.ResolvedLine, 0, len(items))
	for _, item := range items {
		p, s, err := r.ResolveProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, d.ResolvedLine{Item: item, Product: *p, Seller: *s})
	}
	return lines, nil
}

func (r *Repository) SaveSeller(ctx context.Context, s *d.Seller) error {
	query := `
		INSERT INTO sellers (id, name, payout_account)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, payout_account = excluded.payout_account
	`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.Name, s.PayoutAccount); err != nil {
		return fmt.Errorf("failed to save seller: %w", err)
	}
	return nil
}

// SaveProduct upserts a product. Reserved stock is left alone on update.
func (r *Repository) SaveProduct(ctx context.Context, p *d.Product) error {
	if p.Price.IsNegative() || !d.IsWholeCents(p.Price) {
		return fmt.Errorf("product %s: %w", p.ID, ErrInvalidPrice)
	}
	query := `
		INSERT INTO products (id, seller_id, name, price, inventory, reserved)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (id) DO UPDATE SET
			seller_id = excluded.seller_id,
			name = excluded.name,
			price = excluded.price,
			inventory = excluded.inventory
	`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.SellerID, p.Name, p.Price, p.Inventory); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}
