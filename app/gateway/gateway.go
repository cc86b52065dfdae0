package gateway

import (
	"context"
	"time"
)

// Gateway payment statuses as reported by the provider.
const (
	StatusPending   = "pending"
	StatusInProcess = "in_process"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// PaymentRequest describes the payment to create for an order. Validated
// synchronously before any network call.
type PaymentRequest struct {
	OrderID       uint64
	AmountCents   int64
	Description   string
	CustomerName  string
	CustomerPhone string
}

// PaymentHandle is the provider's answer to a create call. ID is never
// empty on a nil error.
type PaymentHandle struct {
	ID           string
	Status       string
	QRCode       string
	QRCodeBase64 string
	CopyPaste    string
	ExpiresAt    time.Time
	AmountCents  int64
}

// StatusSnapshot is an immutable point-in-time read of a payment's state at
// the provider. It is never persisted, only used to decide the next
// transition.
type StatusSnapshot struct {
	ID           string
	Status       string
	StatusDetail string
	AmountCents  int64
	CreatedAt    time.Time
	ApprovedAt   *time.Time
}

func (s *StatusSnapshot) Terminal() bool {
	switch s.Status {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

type Client interface {
	CreatePayment(ctx context.Context, req *PaymentRequest) (*PaymentHandle, error)
	CheckStatus(ctx context.Context, paymentID string) (*StatusSnapshot, error)
	VerifyWebhookSignature(signatureHeader, requestID, dataID string) error
}
