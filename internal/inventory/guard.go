package inventory

import (
	"context"
	"errors"
	"fmt"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
)

var (
	ErrInventoryConflict = errors.New("inventory row could not be updated")
)

type InsufficientInventoryError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("product %s has %d available, %d requested", e.ProductID, e.Available, e.Requested)
}

// Item is a quantity of one product held or settled by an order.
type Item struct {
	ProductID string
	Quantity  int
}

// ItemsOf flattens sub-order lines into one quantity per product, in first-seen order.
func ItemsOf(subOrders []d.SubOrder) []Item {
	index := make(map[string]int)
	var items []Item
	for _, s := range subOrders {
		for _, line := range s.Lines {
			if i, ok := index[line.ProductID]; ok {
				items[i].Quantity += line.Quantity
				continue
			}
			index[line.ProductID] = len(items)
			items = append(items, Item{ProductID: line.ProductID, Quantity: line.Quantity})
		}
	}
	return items
}

// Guard holds stock for checkouts awaiting payment and settles it once the
// payment is confirmed. Every write is a single conditional UPDATE so two
// checkouts racing for the last unit cannot both win.
type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// Check is the optimistic pre-commit validation against the resolved product rows.
func (g *Guard) Check(lines []d.ResolvedLine) error {
	requested := make(map[string]int)
	for _, line := range lines {
		requested[line.Product.ID] += line.Item.Quantity
		if available := line.Product.Available(); available < requested[line.Product.ID] {
			return &InsufficientInventoryError{
				ProductID: line.Product.ID,
				Available: max(available, 0),
				Requested: requested[line.Product.ID],
			}
		}
	}
	return nil
}

// Reserve holds stock for every item. The caller runs it inside the transaction
// that writes the order so a shortfall rolls the whole order back.
func (g *Guard) Reserve(ctx context.Context, q storage.DBTX, items []Item) error {
	query := `
		UPDATE products SET reserved = reserved + $1
		WHERE id = $2 AND inventory - reserved >= $1
	`
	for _, item := range items {
		res, err := q.ExecContext(ctx, query, item.Quantity, item.ProductID)
		if err != nil {
			return fmt.Errorf("failed to reserve product %s: %w", item.ProductID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to reserve product %s: %w", item.ProductID, err)
		}
		if n == 0 {
			available, err := g.available(ctx, q, item.ProductID)
			if err != nil {
				return err
			}
			return &InsufficientInventoryError{ProductID: item.ProductID, Available: available, Requested: item.Quantity}
		}
	}
	return nil
}

// Confirm turns held stock into sold stock.
func (g *Guard) Confirm(ctx context.Context, q storage.DBTX, items []Item) error {
	for _, item := range items {
		if err := g.DecrementInventory(ctx, q, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// DecrementInventory removes qty units that were previously reserved.
func (g *Guard) DecrementInventory(ctx context.Context, q storage.DBTX, productID string, qty int) error {
	query := `
		UPDATE products SET inventory = inventory - $1, reserved = reserved - $1
		WHERE id = $2 AND reserved >= $1 AND inventory >= $1
	`
	return g.exec(ctx, q, query, productID, qty)
}

// Release returns held stock to the available pool.
func (g *Guard) Release(ctx context.Context, q storage.DBTX, items []Item) error {
	query := `
		UPDATE products SET reserved = reserved - $1
		WHERE id = $2 AND reserved >= $1
	`
	for _, item := range items {
		if err := g.exec(ctx, q, query, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) exec(ctx context.Context, q storage.DBTX, query, productID string, qty int) error {
	res, err := q.ExecContext(ctx, query, qty, productID)
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", productID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: product %s quantity %d", ErrInventoryConflict, productID, qty)
	}
	return nil
}

func (g *Guard) available(ctx context.Context, q storage.DBTX, productID string) (int, error) {
	var available int
	err := q.QueryRowContext(ctx, `SELECT inventory - reserved FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil {
		return 0, fmt.Errorf("failed to read availability of %s: %w", productID, err)
	}
	return max(available, 0), nil
}
