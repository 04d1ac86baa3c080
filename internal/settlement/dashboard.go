package settlement

import (
	"context"

	"github.com/shopspring/decimal"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/fees"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
)

// AnnotatedSubOrder is a dashboard row. Fees are recomputed on every read from
// the current community configuration.
type AnnotatedSubOrder struct {
	SubOrder d.SubOrder
	Items    int
	Fees     fees.Breakdown
}

// PageTotals sums the rows whose order completed. Rows still awaiting payment or
// failed are listed but not counted.
type PageTotals struct {
	Items int
	Sales decimal.Decimal
	Fees  decimal.Decimal
	Net   decimal.Decimal
}

type DashboardPage struct {
	SubOrders  []AnnotatedSubOrder
	NextCursor string
	Totals     PageTotals
}

type DashboardQuery struct {
	SellerID  string
	Cursor    string
	Direction ledger.Direction
	Shipped   *bool
}

func (s *Service) ListSubOrders(ctx context.Context, q DashboardQuery) (*DashboardPage, error) {
	page, err := s.ledger.ListSubOrders(ctx, ledger.PageQuery{
		SellerID:  q.SellerID,
		Cursor:    q.Cursor,
		Direction: q.Direction,
		Shipped:   q.Shipped,
	})
	if err != nil {
		return nil, err
	}

	out := &DashboardPage{
		SubOrders:  make([]AnnotatedSubOrder, 0, len(page.SubOrders)),
		NextCursor: page.NextCursor,
		Totals:     PageTotals{Sales: decimal.Zero, Fees: decimal.Zero, Net: decimal.Zero},
	}
	for _, sub := range page.SubOrders {
		row := s.annotate(sub)
		out.SubOrders = append(out.SubOrders, row)
		if sub.OrderStatus != d.OrderStatusCompleted {
			continue
		}
		out.Totals.Items += row.Items
		out.Totals.Sales = out.Totals.Sales.Add(row.Fees.Gross)
		out.Totals.Fees = out.Totals.Fees.Add(row.Fees.Fee)
		out.Totals.Net = out.Totals.Net.Add(row.Fees.Net)
	}
	return out, nil
}

// SetShipped records whether the seller shipped a sub-order and returns the
// recomputed row. Money fields are untouched.
func (s *Service) SetShipped(ctx context.Context, sellerID, subOrderID string, shipped bool) (*AnnotatedSubOrder, error) {
	sub, err := s.ledger.SetShipped(ctx, sellerID, subOrderID, shipped)
	if err != nil {
		return nil, err
	}
	row := s.annotate(*sub)
	return &row, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*d.Order, error) {
	return s.ledger.GetOrder(ctx, orderID)
}

func (s *Service) annotate(sub d.SubOrder) AnnotatedSubOrder {
	return AnnotatedSubOrder{
		SubOrder: sub,
		Items:    sub.Items(),
		Fees:     fees.ForLines(s.cfg.Community, sub.Lines),
	}
}
