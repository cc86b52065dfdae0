package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/repository"
	"github.com/vibast-solutions/ms-go-orders/app/service"
	"github.com/vibast-solutions/ms-go-orders/app/types"
	"github.com/vibast-solutions/ms-go-orders/config"
)

type controllerOrderRepo struct {
	createFn                 func(ctx context.Context, order *entity.Order) error
	findByIDFn               func(ctx context.Context, id uint64) (*entity.Order, error)
	findByPaymentReferenceFn func(ctx context.Context, ref string) (*entity.Order, error)
	listFn                   func(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
	updateIfPendingFn        func(ctx context.Context, orderID uint64, ref string, t repository.OrderPaymentTransition) (bool, error)
	beginCycleFn             func(ctx context.Context, orderID uint64, allowed []types.OrderStatus, cycle repository.NewPaymentCycle) (bool, error)
	advanceFn                func(ctx context.Context, orderID uint64, from, to types.OrderStatus) (bool, error)
}

func (r *controllerOrderRepo) Create(ctx context.Context, order *entity.Order) error {
	if r.createFn != nil {
		return r.createFn(ctx, order)
	}
	return nil
}

func (r *controllerOrderRepo) Update(_ context.Context, _ *entity.Order) error {
	return nil
}

func (r *controllerOrderRepo) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerOrderRepo) FindByPaymentReference(ctx context.Context, ref string) (*entity.Order, error) {
	if r.findByPaymentReferenceFn != nil {
		return r.findByPaymentReferenceFn(ctx, ref)
	}
	return nil, nil
}

func (r *controllerOrderRepo) List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return nil, nil
}

func (r *controllerOrderRepo) UpdateIfPaymentPending(ctx context.Context, orderID uint64, ref string, t repository.OrderPaymentTransition) (bool, error) {
	if r.updateIfPendingFn != nil {
		return r.updateIfPendingFn(ctx, orderID, ref, t)
	}
	return false, nil
}

func (r *controllerOrderRepo) BeginPaymentCycle(ctx context.Context, orderID uint64, allowed []types.OrderStatus, cycle repository.NewPaymentCycle) (bool, error) {
	if r.beginCycleFn != nil {
		return r.beginCycleFn(ctx, orderID, allowed, cycle)
	}
	return false, nil
}

func (r *controllerOrderRepo) AdvanceStatusIf(ctx context.Context, orderID uint64, from, to types.OrderStatus) (bool, error) {
	if r.advanceFn != nil {
		return r.advanceFn(ctx, orderID, from, to)
	}
	return false, nil
}

func (r *controllerOrderRepo) ListStalePendingPayment(_ context.Context, _ time.Time, _ int32) ([]*entity.Order, error) {
	return nil, nil
}

func (r *controllerOrderRepo) ListExpiredPixPending(_ context.Context, _ time.Time, _ int32) ([]*entity.Order, error) {
	return nil, nil
}

type controllerEventRepo struct{}

func (controllerEventRepo) Create(_ context.Context, _ *entity.OrderEvent) error { return nil }

type controllerWebhookRepo struct{}

func (controllerWebhookRepo) Create(_ context.Context, _ *entity.WebhookLog) error { return nil }

type controllerRecoveryRepo struct {
	resetCalls int
	lastReset  uint64
}

func (r *controllerRecoveryRepo) TryAcquire(_ context.Context, _ uint64, _ int32) (bool, int32, error) {
	return true, 1, nil
}

func (r *controllerRecoveryRepo) Reset(_ context.Context, orderID uint64) error {
	r.resetCalls++
	r.lastReset = orderID
	return nil
}

type controllerGateway struct {
	verifyErr error
	status    string
}

func (g *controllerGateway) CreatePayment(_ context.Context, req *gateway.PaymentRequest) (*gateway.PaymentHandle, error) {
	return &gateway.PaymentHandle{ID: "mp-1", Status: gateway.StatusPending, AmountCents: req.AmountCents}, nil
}

func (g *controllerGateway) CheckStatus(_ context.Context, paymentID string) (*gateway.StatusSnapshot, error) {
	status := g.status
	if status == "" {
		status = gateway.StatusPending
	}
	return &gateway.StatusSnapshot{ID: paymentID, Status: status}, nil
}

func (g *controllerGateway) VerifyWebhookSignature(_, _, _ string) error {
	return g.verifyErr
}

func newControllerForTest(repo *controllerOrderRepo, gw *controllerGateway) (*OrderController, *service.OrderService) {
	svc := service.NewOrderService(
		repo,
		controllerEventRepo{},
		controllerWebhookRepo{},
		&controllerRecoveryRepo{},
		gw,
		nil,
		config.PollingConfig{FastInterval: time.Millisecond, SessionDeadline: time.Second},
		config.RecoveryConfig{MaxAttempts: 3},
		config.JobsConfig{},
	)
	return NewOrderController(svc), svc
}

func TestCreateOrderBadBody(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{bad"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := ctrl.CreateOrder(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateOrderSuccess(t *testing.T) {
	repo := &controllerOrderRepo{createFn: func(_ context.Context, order *entity.Order) error {
		order.ID = 22
		return nil
	}}
	ctrl, svc := newControllerForTest(repo, &controllerGateway{})
	defer svc.Poller().StopAll()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"customer_name":"Maria Silva","customer_phone":"+5511999990000","description":"two burgers","total_amount_cents":4500}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreateOrder(ctx)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.OrderEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Order == nil || payload.Order.Id != 22 {
		t.Fatalf("unexpected order payload: %+v", payload.Order)
	}
	if payload.Order.Status != types.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", payload.Order.Status)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders/5", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("5")

	_ = ctrl.GetOrder(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListOrdersSuccess(t *testing.T) {
	now := time.Now().UTC()
	repo := &controllerOrderRepo{listFn: func(_ context.Context, _ repository.OrderFilter) ([]*entity.Order, error) {
		return []*entity.Order{{
			ID:               1,
			Code:             "AB12CD34",
			CustomerName:     "Maria",
			TotalAmountCents: 4500,
			Status:           types.OrderStatusPending,
			PaymentStatus:    types.PaymentStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}}, nil
	}}
	ctrl, _ := newControllerForTest(repo, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders?limit=10", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.ListOrders(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ListOrdersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(payload.Orders) != 1 || payload.Orders[0].Code != "AB12CD34" {
		t.Fatalf("unexpected list payload: %+v", payload.Orders)
	}
}

func TestAdvanceOrderStatusInvalidTransition(t *testing.T) {
	now := time.Now().UTC()
	repo := &controllerOrderRepo{findByIDFn: func(_ context.Context, id uint64) (*entity.Order, error) {
		return &entity.Order{
			ID:            id,
			Status:        types.OrderStatusPendingPayment,
			PaymentStatus: types.PaymentStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}, nil
	}}
	ctrl, _ := newControllerForTest(repo, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders/5/status", bytes.NewBufferString(`{"status":"ready"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("5")

	_ = ctrl.AdvanceOrderStatus(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleGatewayWebhookRejectedSignature(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{verifyErr: errors.New("signature mismatch")})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(`{"type":"payment","data":{"id":"12345"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Signature", "ts=1,v1=bad")
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandleGatewayWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleGatewayWebhookMissingSignature(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(`{"type":"payment","data":{"id":"12345"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandleGatewayWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature header, got %d", rec.Code)
	}
}

func TestHandleGatewayWebhookApplied(t *testing.T) {
	now := time.Now().UTC()
	ref := "12345"
	repo := &controllerOrderRepo{
		findByIDFn: func(_ context.Context, id uint64) (*entity.Order, error) {
			return &entity.Order{
				ID:               id,
				Status:           types.OrderStatusPendingPayment,
				PaymentStatus:    types.PaymentStatusPending,
				PaymentReference: &ref,
				CreatedAt:        now,
				UpdatedAt:        now,
			}, nil
		},
		updateIfPendingFn: func(_ context.Context, _ uint64, _ string, _ repository.OrderPaymentTransition) (bool, error) {
			return true, nil
		},
	}
	ctrl, svc := newControllerForTest(repo, &controllerGateway{status: gateway.StatusApproved})
	defer svc.Poller().StopAll()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(`{"type":"payment","external_reference":"7","data":{"id":"12345"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Signature", "ts=1,v1=ok")
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandleGatewayWebhook(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestResetRecoverySuccess(t *testing.T) {
	recoveryRepo := &controllerRecoveryRepo{}
	svc := service.NewOrderService(
		&controllerOrderRepo{},
		controllerEventRepo{},
		controllerWebhookRepo{},
		recoveryRepo,
		&controllerGateway{},
		nil,
		config.PollingConfig{FastInterval: time.Millisecond, SessionDeadline: time.Second},
		config.RecoveryConfig{MaxAttempts: 3},
		config.JobsConfig{},
	)
	defer svc.Poller().StopAll()
	ctrl := NewOrderController(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders/7/recovery/reset", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("7")

	_ = ctrl.ResetRecovery(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if recoveryRepo.resetCalls != 1 || recoveryRepo.lastReset != 7 {
		t.Fatalf("expected one reset for order 7, got calls=%d order=%d", recoveryRepo.resetCalls, recoveryRepo.lastReset)
	}
}

func TestResetRecoveryInvalidID(t *testing.T) {
	ctrl, _ := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders/abc/recovery/reset", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("abc")

	_ = ctrl.ResetRecovery(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
