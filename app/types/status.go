package types

// OrderStatus is the order lifecycle state as stored and as exposed on the
// wire. Transitions are driven by the payment reconciliation paths and by
// explicit staff actions only.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusInPreparation  OrderStatus = "in_preparation"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusExpired        OrderStatus = "expired"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusPendingPayment,
		OrderStatusInPreparation,
		OrderStatusReady,
		OrderStatusCompleted,
		OrderStatusCancelled,
		OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Editable reports whether staff may still change the order's contents.
// Completed, cancelled and expired orders are immutable.
func (s OrderStatus) Editable() bool {
	switch s {
	case OrderStatusPending, OrderStatusPendingPayment, OrderStatusInPreparation, OrderStatusReady:
		return true
	default:
		return false
	}
}

// Recoverable reports whether a new payment cycle may be started for the
// order.
func (s OrderStatus) Recoverable() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusExpired, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanAdvance reports whether staff may move an order from one kitchen status
// to the next. Entering in_preparation is reserved for payment confirmation.
func CanAdvance(from, to OrderStatus) bool {
	switch from {
	case OrderStatusInPreparation:
		return to == OrderStatusReady
	case OrderStatusReady:
		return to == OrderStatusCompleted
	default:
		return false
	}
}

// PaymentStatus is the payment sub-state of an order. It is monotonic per
// payment reference: only a new payment cycle resets it to pending.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirmed, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusFailed
}
