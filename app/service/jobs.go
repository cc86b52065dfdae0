package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RunReconcileBatch sweeps orders that are still awaiting payment but have no
// live polling session, typically after a restart, and re-checks them against
// the gateway. Terminal statuses are committed through the usual conditional
// update.
func (s *OrderService) RunReconcileBatch(ctx context.Context) error {
	before := time.Now().UTC().Add(-s.jobsCfg.StaleAfter)
	orders, err := s.orderRepo.ListStalePendingPayment(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	reconciled := 0
	for _, order := range orders {
		if order.PaymentReference == nil {
			continue
		}
		ref := *order.PaymentReference
		if s.poller.IsActive(ref) {
			continue
		}

		snapshot, err := s.gw.CheckStatus(ctx, ref)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("reconcile status check failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if !snapshot.Terminal() {
			continue
		}

		if _, err := s.CommitGatewayStatus(ctx, order.ID, ref, snapshot); err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		reconciled++
	}

	if len(orders) > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked":    len(orders),
			"reconciled": reconciled,
		}).Info("reconcile batch finished")
	}

	return firstErr
}

// RunExpirePendingBatch expires orders whose PIX charge passed its expiry
// time without confirmation. The gateway is consulted first so a payment that
// landed at the last moment is committed instead of expired.
func (s *OrderService) RunExpirePendingBatch(ctx context.Context) error {
	orders, err := s.orderRepo.ListExpiredPixPending(ctx, time.Now().UTC(), s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	expired := 0
	for _, order := range orders {
		if order.PaymentReference == nil {
			continue
		}
		ref := *order.PaymentReference
		if s.poller.IsActive(ref) {
			continue
		}

		snapshot, err := s.gw.CheckStatus(ctx, ref)
		if err == nil && snapshot.Terminal() {
			if _, err := s.CommitGatewayStatus(ctx, order.ID, ref, snapshot); err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("expire status check failed")
		}

		applied, err := s.MarkExpired(ctx, order.ID, ref)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if applied {
			expired++
		}
	}

	if len(orders) > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked": len(orders),
			"expired": expired,
		}).Info("expire pending batch finished")
	}

	return firstErr
}
