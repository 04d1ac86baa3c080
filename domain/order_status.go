package domain

type OrderStatus string

const (
	OrderStatusCreated              OrderStatus = "Created"
	OrderStatusAwaitingConfirmation OrderStatus = "AwaitingConfirmation"
	OrderStatusCompleted            OrderStatus = "Completed"
	OrderStatusError                OrderStatus = "Error"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusError
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the ledger accepts a move from one status to another.
// Created may jump straight to Completed when the processor notification arrives
// before the checkout call has recorded the payment key.
func CanTransitionTo(from, to OrderStatus) bool {
	switch from {
	case OrderStatusCreated:
		return to == OrderStatusAwaitingConfirmation || to == OrderStatusCompleted || to == OrderStatusError
	case OrderStatusAwaitingConfirmation:
		return to == OrderStatusCompleted || to == OrderStatusError
	default:
		return false
	}
}

// SourcesOf lists every status that may legally move to the given one.
func SourcesOf(to OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, s := range []OrderStatus{OrderStatusCreated, OrderStatusAwaitingConfirmation} {
		if CanTransitionTo(s, to) {
			from = append(from, s)
		}
	}
	return from
}

type OrderKind string

const (
	OrderKindSale   OrderKind = "Sale"
	OrderKindPayout OrderKind = "Payout"
	OrderKindRefund OrderKind = "Refund"
)
