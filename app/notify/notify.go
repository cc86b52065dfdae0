package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

// Dispatcher is informed of payment and order transitions. Delivery is best
// effort: failures are logged and never propagate back into the payment
// path.
type Dispatcher interface {
	PaymentConfirmed(ctx context.Context, order *entity.Order)
	PaymentFailed(ctx context.Context, order *entity.Order, reason string)
	OrderStatusChanged(ctx context.Context, order *entity.Order, oldStatus, newStatus types.OrderStatus)
	PaymentStatusObserved(ctx context.Context, orderID uint64, paymentID, oldStatus, newStatus string)
}

type HTTPDispatcherConfig struct {
	URL         string
	APIKey      string
	HTTPTimeout time.Duration
}

type HTTPDispatcher struct {
	cfg    HTTPDispatcherConfig
	client *http.Client
	logger logrus.FieldLogger
}

func NewHTTPDispatcher(cfg HTTPDispatcherConfig) *HTTPDispatcher {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: factory.NewModuleLogger("notify"),
	}
}

func (d *HTTPDispatcher) PaymentConfirmed(ctx context.Context, order *entity.Order) {
	d.post(ctx, map[string]interface{}{
		"event":    "payment_confirmed",
		"order_id": order.ID,
		"code":     order.Code,
		"amount":   order.TotalAmountCents,
	})
}

func (d *HTTPDispatcher) PaymentFailed(ctx context.Context, order *entity.Order, reason string) {
	d.post(ctx, map[string]interface{}{
		"event":    "payment_failed",
		"order_id": order.ID,
		"code":     order.Code,
		"reason":   reason,
	})
}

func (d *HTTPDispatcher) OrderStatusChanged(ctx context.Context, order *entity.Order, oldStatus, newStatus types.OrderStatus) {
	d.post(ctx, map[string]interface{}{
		"event":      "order_status_changed",
		"order_id":   order.ID,
		"code":       order.Code,
		"old_status": string(oldStatus),
		"new_status": string(newStatus),
	})
}

func (d *HTTPDispatcher) PaymentStatusObserved(ctx context.Context, orderID uint64, paymentID, oldStatus, newStatus string) {
	d.post(ctx, map[string]interface{}{
		"event":      "payment_status_observed",
		"order_id":   orderID,
		"payment_id": paymentID,
		"old_status": oldStatus,
		"new_status": newStatus,
	})
}

func (d *HTTPDispatcher) post(ctx context.Context, payload map[string]interface{}) {
	if strings.TrimSpace(d.cfg.URL) == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.WithError(err).Warn("notification payload marshal failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.WithError(err).Warn("notification request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", d.cfg.APIKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.WithError(err).WithField("event", payload["event"]).Warn("notification dispatch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.WithField("event", payload["event"]).
			WithError(fmt.Errorf("notification endpoint returned status=%d", resp.StatusCode)).
			Warn("notification dispatch failed")
	}
}

// Noop drops every notification. Used when no endpoint is configured.
type Noop struct{}

func (Noop) PaymentConfirmed(context.Context, *entity.Order)                       {}
func (Noop) PaymentFailed(context.Context, *entity.Order, string)                  {}
func (Noop) OrderStatusChanged(context.Context, *entity.Order, types.OrderStatus, types.OrderStatus) {
}
func (Noop) PaymentStatusObserved(context.Context, uint64, string, string, string) {}
