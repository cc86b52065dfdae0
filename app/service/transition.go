package service

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/repository"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

// TransitionResult is the outcome of attempting a terminal payment
// transition through the conditional update.
type TransitionResult int

const (
	// TransitionNone: the gateway status is not terminal, nothing to do.
	TransitionNone TransitionResult = iota
	// TransitionApplied: this caller won the commit.
	TransitionApplied
	// TransitionDuplicate: another path already committed for this
	// payment reference (or the reference is stale).
	TransitionDuplicate
)

// mapGatewayStatus is the single status mapping table shared by the polling
// coordinator, the webhook reconciler and the sweeps.
func mapGatewayStatus(status string) (types.PaymentStatus, types.OrderStatus, bool) {
	switch status {
	case gateway.StatusApproved:
		return types.PaymentStatusConfirmed, types.OrderStatusInPreparation, true
	case gateway.StatusRejected, gateway.StatusCancelled:
		return types.PaymentStatusFailed, types.OrderStatusCancelled, true
	case gateway.StatusExpired:
		return types.PaymentStatusFailed, types.OrderStatusExpired, true
	default:
		return types.PaymentStatusPending, "", false
	}
}

// CommitGatewayStatus applies the transition a gateway snapshot calls for.
// All reconciliation paths funnel through here, and the write itself is a
// compare-and-set on (payment_reference, payment_status), so concurrent
// observers of the same terminal status produce exactly one applied commit.
func (s *OrderService) CommitGatewayStatus(ctx context.Context, orderID uint64, paymentReference string, snapshot *gateway.StatusSnapshot) (TransitionResult, error) {
	paymentStatus, orderStatus, terminal := mapGatewayStatus(snapshot.Status)
	if !terminal {
		return TransitionNone, nil
	}

	transition := repository.OrderPaymentTransition{
		PaymentStatus: paymentStatus,
		OrderStatus:   orderStatus,
	}
	if paymentStatus == types.PaymentStatusConfirmed {
		confirmedAt := time.Now().UTC()
		if snapshot.ApprovedAt != nil {
			confirmedAt = snapshot.ApprovedAt.UTC()
		}
		transition.PaymentConfirmedAt = &confirmedAt
	}

	applied, err := s.orderRepo.UpdateIfPaymentPending(ctx, orderID, paymentReference, transition)
	if err != nil {
		return TransitionNone, err
	}
	if !applied {
		return TransitionDuplicate, nil
	}

	old := string(types.OrderStatusPendingPayment)
	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   orderID,
		EventType: "payment_" + string(paymentStatus),
		OldStatus: &old,
		NewStatus: string(orderStatus),
		CreatedAt: time.Now().UTC(),
	})

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil || order == nil {
		// The commit stands; notification is best effort.
		return TransitionApplied, nil
	}

	if paymentStatus == types.PaymentStatusConfirmed {
		s.notifier.PaymentConfirmed(ctx, order)
	} else {
		s.notifier.PaymentFailed(ctx, order, snapshot.StatusDetail)
	}
	s.notifier.OrderStatusChanged(ctx, order, types.OrderStatusPendingPayment, orderStatus)

	return TransitionApplied, nil
}

// MarkExpired moves an order whose payment cycle timed out into expired.
// The conditional update doubles as the "still unconfirmed" re-check: a
// webhook that landed between the deadline and this call makes it a no-op.
func (s *OrderService) MarkExpired(ctx context.Context, orderID uint64, paymentReference string) (bool, error) {
	applied, err := s.orderRepo.UpdateIfPaymentPending(ctx, orderID, paymentReference, repository.OrderPaymentTransition{
		PaymentStatus: types.PaymentStatusFailed,
		OrderStatus:   types.OrderStatusExpired,
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	old := string(types.OrderStatusPendingPayment)
	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   orderID,
		EventType: "payment_expired",
		OldStatus: &old,
		NewStatus: string(types.OrderStatusExpired),
		CreatedAt: time.Now().UTC(),
	})

	if order, err := s.orderRepo.FindByID(ctx, orderID); err == nil && order != nil {
		s.notifier.OrderStatusChanged(ctx, order, types.OrderStatusPendingPayment, types.OrderStatusExpired)
	}

	return true, nil
}

// PaymentStatusObserved relays a non-terminal status change seen while
// polling.
func (s *OrderService) PaymentStatusObserved(ctx context.Context, orderID uint64, paymentID, oldStatus, newStatus string) {
	s.notifier.PaymentStatusObserved(ctx, orderID, paymentID, oldStatus, newStatus)
}

// HandleSessionResult consumes polling session outcomes. Rejected cycles
// feed the recovery orchestrator; expired ones are left for staff to
// recover explicitly.
func (s *OrderService) HandleSessionResult(result SessionResult) {
	logger := s.logger.WithFields(map[string]interface{}{
		"order_id":   result.OrderID,
		"payment_id": result.PaymentID,
		"outcome":    string(result.Outcome),
		"attempts":   result.Attempts,
	})

	switch result.Outcome {
	case OutcomeApproved:
		logger.Info("payment confirmed by polling")
	case OutcomeRejected:
		if !result.Applied {
			// A sibling path committed this rejection and owns the
			// recovery follow-up.
			logger.Info("payment rejection already committed elsewhere")
			return
		}
		logger.WithField("reason", result.Reason).Info("payment rejected, attempting recovery")
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.recovery.Recover(ctx, result.OrderID); err != nil {
			if errors.Is(err, ErrRecoveryExhausted) || errors.Is(err, ErrOrderNotRecoverable) {
				logger.WithError(err).Warn("automatic recovery refused")
				return
			}
			logger.WithError(err).Error("automatic recovery failed")
		}
	case OutcomeExpired:
		logger.Info("payment cycle expired")
	case OutcomeErrored:
		logger.WithField("reason", result.Reason).Error("polling session aborted")
	case OutcomeStopped:
		// Cancelled by a sibling path; nothing to do.
	}
}
