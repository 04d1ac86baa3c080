package ledger

import (
	"context"
	"fmt"
	"slices"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

// PageSize matches the dashboard table length.
const PageSize = 15

type Direction string

const (
	DirectionOlder Direction = "older"
	DirectionNewer Direction = "newer"
)

// PageQuery selects a seller's sub-orders relative to a cursor. An empty cursor
// starts at the newest sub-order for older and at the oldest for newer.
type PageQuery struct {
	SellerID  string
	Cursor    string
	Direction Direction
	Shipped   *bool
	Limit     int
}

// Page is always ordered newest first. NextCursor continues in the requested
// direction and is empty once there is nothing further.
type Page struct {
	SubOrders  []d.SubOrder
	NextCursor string
}

func (r *Repository) ListSubOrders(ctx context.Context, q PageQuery) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = PageSize
	}
	direction := q.Direction
	if direction == "" {
		direction = DirectionOlder
	}
	if direction != DirectionOlder && direction != DirectionNewer {
		return nil, fmt.Errorf("unknown paging direction %q", direction)
	}

	query := `SELECT ` + subOrderColumns + ` FROM sub_orders s JOIN order_headers h ON h.id = s.order_id WHERE s.seller_id = $1`
	args := []any{q.SellerID}
	if q.Cursor != "" {
		args = append(args, q.Cursor)
		if direction == DirectionOlder {
			query += fmt.Sprintf(" AND s.sort_key < $%d", len(args))
		} else {
			query += fmt.Sprintf(" AND s.sort_key > $%d", len(args))
		}
	}
	if q.Shipped != nil {
		args = append(args, *q.Shipped)
		query += fmt.Sprintf(" AND s.shipped = $%d", len(args))
	}
	if direction == DirectionOlder {
		query += " ORDER BY s.sort_key DESC"
	} else {
		query += " ORDER BY s.sort_key ASC"
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	subOrders, err := querySubOrders(ctx, r.db, query, args...)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	if len(subOrders) > limit {
		subOrders = subOrders[:limit]
		page.NextCursor = subOrders[limit-1].SortKey
	}
	if direction == DirectionNewer {
		slices.Reverse(subOrders)
	}
	page.SubOrders = subOrders
	return page, nil
}
