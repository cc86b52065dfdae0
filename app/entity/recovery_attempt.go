package entity

import "time"

// RecoveryAttempt counts payment regeneration cycles per order. It is never
// reset implicitly; only the operator reset command clears it.
type RecoveryAttempt struct {
	OrderID   uint64
	Attempts  int32
	UpdatedAt time.Time
}
