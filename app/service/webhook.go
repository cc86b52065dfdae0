package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// HandleGatewayWebhook reconciles a provider push notification. The payload
// is never trusted: the signature is verified first, then the authoritative
// status is re-fetched from the gateway, and the transition goes through the
// same conditional update as the polling path. A replayed webhook lands on an
// already-settled order row and comes back as a duplicate.
func (s *OrderService) HandleGatewayWebhook(ctx context.Context, req *types.GatewayWebhookRequest) (WebhookOutcome, error) {
	if err := s.gw.VerifyWebhookSignature(req.Signature, req.RequestID, req.Data.ID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"payment_id": req.Data.ID,
			"request_id": req.RequestID,
		}).WithError(err).Warn("webhook signature rejected")
		s.logWebhook(ctx, nil, req, entity.WebhookLogRejected, err)
		return "", fmt.Errorf("%w: %v", ErrWebhookRejected, err)
	}

	if req.Type != "payment" {
		s.logWebhook(ctx, nil, req, entity.WebhookLogProcessed, nil)
		return WebhookIgnored, nil
	}

	// Re-fetch rather than trust the pushed body. A fetch failure bubbles
	// up as a 5xx so the provider retries the delivery.
	snapshot, err := s.gw.CheckStatus(ctx, req.Data.ID)
	if err != nil {
		return "", err
	}

	order, err := s.resolveWebhookOrder(ctx, req)
	if err != nil {
		return "", err
	}
	if order == nil {
		s.logWebhook(ctx, nil, req, entity.WebhookLogRejected, ErrOrderNotFound)
		return "", ErrOrderNotFound
	}

	s.logWebhook(ctx, &order.ID, req, entity.WebhookLogProcessed, nil)

	if order.PaymentReference != nil && *order.PaymentReference == req.Data.ID &&
		order.PaymentStatus.Terminal() {
		return WebhookDuplicate, nil
	}

	if !snapshot.Terminal() {
		return WebhookIgnored, nil
	}

	result, err := s.CommitGatewayStatus(ctx, order.ID, req.Data.ID, snapshot)
	if err != nil {
		return "", err
	}

	switch result {
	case TransitionDuplicate:
		return WebhookDuplicate, nil
	case TransitionApplied:
		s.poller.StopPolling(req.Data.ID)
		// Rejected cycles go through the same recovery path a polling
		// session would take, off the request goroutine so the
		// provider gets its acknowledgement promptly.
		if snapshot.Status == gateway.StatusRejected || snapshot.Status == gateway.StatusCancelled {
			go s.HandleSessionResult(SessionResult{
				PaymentID: req.Data.ID,
				OrderID:   order.ID,
				Outcome:   OutcomeRejected,
				Reason:    snapshot.StatusDetail,
				Applied:   true,
			})
		}
		return WebhookApplied, nil
	default:
		// The snapshot mapped to no state change; the delivery is
		// acknowledged so the provider stops retrying.
		return WebhookApplied, nil
	}
}

// resolveWebhookOrder locates the order the webhook refers to, preferring the
// external reference we set at payment creation over a reverse lookup by
// payment id.
func (s *OrderService) resolveWebhookOrder(ctx context.Context, req *types.GatewayWebhookRequest) (*entity.Order, error) {
	if req.ExternalReference != "" {
		if id, err := strconv.ParseUint(req.ExternalReference, 10, 64); err == nil {
			order, err := s.orderRepo.FindByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if order != nil {
				return order, nil
			}
		}
	}

	return s.orderRepo.FindByPaymentReference(ctx, req.Data.ID)
}

func (s *OrderService) logWebhook(ctx context.Context, orderID *uint64, req *types.GatewayWebhookRequest, status int32, cause error) {
	payload, _ := json.Marshal(req)

	log := &entity.WebhookLog{
		OrderID:          orderID,
		EventType:        req.Type,
		PaymentReference: req.Data.ID,
		Signature:        req.Signature,
		PayloadJSON:      string(payload),
		Status:           status,
		CreatedAt:        time.Now().UTC(),
	}
	if cause != nil {
		msg := cause.Error()
		log.Error = &msg
	}

	_ = s.webhookRepo.Create(ctx, log)
}
