package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrSubOrderNotFound = errors.New("sub-order not found")
	ErrDuplicateOrder   = errors.New("order already recorded")
)

// TxHook runs inside the ledger transaction; returning an error rolls it back.
type TxHook func(ctx context.Context, q storage.DBTX, order *d.Order) error

type RepoInterface interface {
	CreateOrder(ctx context.Context, order *d.Order, hook TxHook) error
	Transition(ctx context.Context, orderID string, t Transition, hook TxHook) (*TransitionResult, error)
	GetOrder(ctx context.Context, orderID string) (*d.Order, error)
	ListSubOrders(ctx context.Context, q PageQuery) (*Page, error)
	SetShipped(ctx context.Context, sellerID, subOrderID string, shipped bool) (*d.SubOrder, error)
	FindStale(ctx context.Context, before time.Time, limit int) ([]string, error)
	AddEvent(ctx context.Context, q storage.DBTX, event *OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

type Repository struct {
	db  *storage.DB
	now func() time.Time
}

func NewRepository(db *storage.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SortKey orders sub-orders by creation time and breaks ties by id.
func SortKey(createdAt time.Time, subOrderID string) string {
	return fmt.Sprintf("%020d-%s", createdAt.UnixNano(), subOrderID)
}

// CreateOrder writes the header, every sub-order and every line entry in one
// transaction together with whatever the hook does (the inventory reservation).
func (r *Repository) CreateOrder(ctx context.Context, order *d.Order, hook TxHook) error {
	h := &order.Header
	if h.CreatedAt.IsZero() {
		h.CreatedAt = r.now()
	}
	h.UpdatedAt = h.CreatedAt
	for i := range order.SubOrders {
		s := &order.SubOrders[i]
		s.OrderID = h.ID
		s.CreatedAt = h.CreatedAt
		s.SortKey = SortKey(h.CreatedAt, s.ID)
		s.OrderStatus = h.Status
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		insertHeader := `
			INSERT INTO order_headers (id, created_at, kind, status, shopper_name, shopper_email, shipping_address, payment_key, error_detail, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		_, err := tx.ExecContext(ctx, insertHeader,
			h.ID,
			h.CreatedAt,
			string(h.Kind),
			string(h.Status),
			h.ShopperName,
			h.ShopperEmail,
			h.ShippingAddress,
			h.PaymentKey,
			h.ErrorDetail,
			h.UpdatedAt)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("insert order header: %w", err)
		}

		insertSubOrder := `
			INSERT INTO sub_orders (id, order_id, seller_id, position, shipped, payout_reference, created_at, sort_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		insertLine := `
			INSERT INTO sub_order_lines (sub_order_id, position, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`
		for i, s := range order.SubOrders {
			_, err := tx.ExecContext(ctx, insertSubOrder, s.ID, s.OrderID, s.SellerID, i, s.Shipped, s.PayoutReference, s.CreatedAt, s.SortKey)
			if err != nil {
				return fmt.Errorf("insert sub-order: %w", err)
			}
			for j, line := range s.Lines {
				if _, err := tx.ExecContext(ctx, insertLine, s.ID, j, line.ProductID, line.Quantity, line.UnitPrice); err != nil {
					return fmt.Errorf("insert sub-order line: %w", err)
				}
			}
		}

		if hook != nil {
			return hook(ctx, tx, order)
		}
		return nil
	})
}

// Transition describes one guarded status change.
type Transition struct {
	From        []d.OrderStatus
	To          d.OrderStatus
	PaymentKey  string
	ErrorDetail string
}

// TransitionResult reports whether this call moved the order and where the order is now.
type TransitionResult struct {
	Applied bool
	Order   *d.Order
}

// Transition moves an order to t.To only if it is still in one of t.From. The
// update, the reload and the hook share one transaction, so exactly one
// concurrent caller observes Applied for a given target.
func (r *Repository) Transition(ctx context.Context, orderID string, t Transition, hook TxHook) (*TransitionResult, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition to %s: no source status", t.To)
	}

	result := &TransitionResult{}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		set := []string{"status = $1", "updated_at = $2"}
		args := []any{string(t.To), r.now()}
		if t.PaymentKey != "" {
			args = append(args, t.PaymentKey)
			set = append(set, fmt.Sprintf("payment_key = $%d", len(args)))
		}
		if t.ErrorDetail != "" {
			args = append(args, t.ErrorDetail)
			set = append(set, fmt.Sprintf("error_detail = $%d", len(args)))
		}
		args = append(args, orderID)
		where := fmt.Sprintf("id = $%d", len(args))
		placeholders := make([]string, 0, len(t.From))
		for _, from := range t.From {
			args = append(args, string(from))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}

		query := fmt.Sprintf(`UPDATE order_headers SET %s WHERE %s AND status IN (%s)`,
			strings.Join(set, ", "), where, strings.Join(placeholders, ", "))
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		order, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result.Order = order
		result.Applied = n == 1
		if result.Applied && hook != nil {
			return hook(ctx, tx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (*d.Order, error) {
	return loadOrder(ctx, r.db, orderID)
}

func loadOrder(ctx context.Context, q storage.DBTX, orderID string) (*d.Order, error) {
	query := `
		SELECT id, created_at, kind, status, shopper_name, shopper_email, shipping_address, payment_key, error_detail, updated_at
		FROM order_headers WHERE id = $1
	`
	var h d.OrderHeader
	var kind, status string
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&h.ID,
		&h.CreatedAt,
		&kind,
		&status,
		&h.ShopperName,
		&h.ShopperEmail,
		&h.ShippingAddress,
		&h.PaymentKey,
		&h.ErrorDetail,
		&h.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	h.Kind = d.OrderKind(kind)
	h.Status = d.OrderStatus(status)

	subOrders, err := querySubOrders(ctx, q, `
		SELECT `+subOrderColumns+`
		FROM sub_orders s JOIN order_headers h ON h.id = s.order_id
		WHERE s.order_id = $1 ORDER BY s.position
	`, orderID)
	if err != nil {
		return nil, err
	}
	return &d.Order{Header: h, SubOrders: subOrders}, nil
}

// subOrderColumns expects sub_orders aliased as s joined to order_headers as h.
const subOrderColumns = `s.id, s.order_id, s.seller_id, s.shipped, s.payout_reference, s.created_at, s.sort_key, h.status`

func querySubOrders(ctx context.Context, q storage.DBTX, query string, args ...any) ([]d.SubOrder, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sub-orders: %w", err)
	}

	var subOrders []d.SubOrder
	for rows.Next() {
		var s d.SubOrder
		var status string
		if err := rows.Scan(&s.ID, &s.OrderID, &s.SellerID, &s.Shipped, &s.PayoutReference, &s.CreatedAt, &s.SortKey, &status); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan sub-order: %w", err)
		}
		s.OrderStatus = d.OrderStatus(status)
		subOrders = append(subOrders, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("sub-order rows: %w", err)
	}
	// lines are read after the cursor is closed; sqlite runs on one connection
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close sub-order rows: %w", err)
	}

	for i := range subOrders {
		lines, err := queryLines(ctx, q, subOrders[i].ID)
		if err != nil {
			return nil, err
		}
		subOrders[i].Lines = lines
	}
	return subOrders, nil
}

func queryLines(ctx context.Context, q storage.DBTX, subOrderID string) ([]d.LineEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM sub_order_lines WHERE sub_order_id = $1 ORDER BY position
	`, subOrderID)
	if err != nil {
		return nil, fmt.Errorf("query sub-order lines: %w", err)
	}
	defer rows.Close()

	var lines []d.LineEntry
	for rows.Next() {
		var line d.LineEntry
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan sub-order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sub-order line rows: %w", err)
	}
	return lines, nil
}

// SetShipped writes the shipped flag of a seller's sub-order and returns the row.
// Writing the current value again is a no-op.
func (r *Repository) SetShipped(ctx context.Context, sellerID, subOrderID string, shipped bool) (*d.SubOrder, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sub_orders SET shipped = $1 WHERE id = $2 AND seller_id = $3`, shipped, subOrderID, sellerID)
	if err != nil {
		return nil, fmt.Errorf("update shipped flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update shipped flag: %w", err)
	}
	if n == 0 {
		return nil, ErrSubOrderNotFound
	}

	subOrders, err := querySubOrders(ctx, r.db, `
		SELECT `+subOrderColumns+`
		FROM sub_orders s JOIN order_headers h ON h.id = s.order_id
		WHERE s.id = $1
	`, subOrderID)
	if err != nil {
		return nil, err
	}
	if len(subOrders) == 0 {
		return nil, ErrSubOrderNotFound
	}
	return &subOrders[0], nil
}

// FindStale lists orders still waiting on the processor that were last touched before the cut-off.
func (r *Repository) FindStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM order_headers
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query,
		string(d.OrderStatusCreated),
		string(d.OrderStatusAwaitingConfirmation),
		before.UTC(),
		limit)
	if err != nil {
		return nil, fmt.Errorf("query stale orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale order: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
