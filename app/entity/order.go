package entity

import (
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/types"
)

// Order is the unit of work. The database row is the source of truth; the
// reconciliation paths never mutate it with a blind write, only through the
// repository's conditional updates.
type Order struct {
	ID   uint64
	Code string

	CustomerName  string
	CustomerPhone string
	Description   string

	TotalAmountCents int64

	Status        types.OrderStatus
	PaymentStatus types.PaymentStatus

	// PaymentReference is the gateway-issued id of the current payment
	// cycle. A new cycle gets a new reference.
	PaymentReference *string
	PixCopyPaste     *string
	PixQRCodeBase64  *string
	PixExpiresAt     *time.Time

	PaymentConfirmedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
