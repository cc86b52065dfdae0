package entity

import "time"

const (
	WebhookLogProcessed int32 = 10
	WebhookLogRejected  int32 = 20
)

// WebhookLog records every received gateway webhook for auditing, including
// rejected ones. It is not the idempotency mechanism; the order row is.
type WebhookLog struct {
	ID      uint64
	OrderID *uint64

	EventType        string
	PaymentReference string
	Signature        string
	PayloadJSON      string

	Status int32
	Error  *string

	CreatedAt time.Time
}
