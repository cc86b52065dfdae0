package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/notify"
	"github.com/vibast-solutions/ms-go-orders/app/types"
	"github.com/vibast-solutions/ms-go-orders/config"
)

type paymentCycleStarter interface {
	StartPaymentCycle(ctx context.Context, order *entity.Order, allowed []types.OrderStatus) (*entity.Order, error)
}

type recoveryOrderRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
}

// RecoveryOrchestrator regenerates the payment cycle for orders whose payment
// failed or expired. Attempts are counted per order in the database and never
// reset implicitly; once the bound is hit every further call refuses.
type RecoveryOrchestrator struct {
	orders   recoveryOrderRepository
	attempts recoveryAttemptRepository
	starter  paymentCycleStarter
	notifier notify.Dispatcher
	cfg      config.RecoveryConfig
	logger   logrus.FieldLogger
}

func NewRecoveryOrchestrator(
	orders recoveryOrderRepository,
	attempts recoveryAttemptRepository,
	starter paymentCycleStarter,
	notifier notify.Dispatcher,
	cfg config.RecoveryConfig,
) *RecoveryOrchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	return &RecoveryOrchestrator{
		orders:   orders,
		attempts: attempts,
		starter:  starter,
		notifier: notifier,
		cfg:      cfg,
		logger:   factory.NewModuleLogger("recovery-orchestrator"),
	}
}

func (r *RecoveryOrchestrator) Recover(ctx context.Context, orderID uint64) error {
	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if !order.Status.Recoverable() {
		return fmt.Errorf("%w: status=%s", ErrOrderNotRecoverable, order.Status)
	}

	// The counter is incremented before the new cycle is attempted, so a
	// gateway failure still consumes an attempt. That keeps the bound hard
	// even when recovery itself keeps failing.
	acquired, attempt, err := r.attempts.TryAcquire(ctx, orderID, r.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if !acquired {
		r.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"attempts": attempt,
		}).Warn("recovery attempts exhausted")
		r.notifier.PaymentFailed(ctx, order, "payment recovery attempts exhausted, contact support")
		return ErrRecoveryExhausted
	}

	r.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"attempt":  attempt,
	}).Info("starting payment recovery")

	if r.cfg.RetryDelay > 0 {
		timer := time.NewTimer(r.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if _, err := r.starter.StartPaymentCycle(ctx, order, recoverableStatuses); err != nil {
		return fmt.Errorf("recovery attempt %d: %w", attempt, err)
	}

	return nil
}

// Reset clears the attempt counter. It is exposed to operators only; nothing
// in the automated flows calls it.
func (r *RecoveryOrchestrator) Reset(ctx context.Context, orderID uint64) error {
	if err := r.attempts.Reset(ctx, orderID); err != nil {
		return err
	}
	r.logger.WithField("order_id", orderID).Info("recovery attempts reset")
	return nil
}
