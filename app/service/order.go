package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-orders/app/entity"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/notify"
	"github.com/vibast-solutions/ms-go-orders/app/repository"
	"github.com/vibast-solutions/ms-go-orders/app/types"
	"github.com/vibast-solutions/ms-go-orders/config"
)

const defaultBatchSize = int32(100)

// recoverableStatuses are the order statuses from which a new payment cycle
// may be started.
var recoverableStatuses = []types.OrderStatus{
	types.OrderStatusPendingPayment,
	types.OrderStatusExpired,
	types.OrderStatusCancelled,
}

type createOrderRequest interface {
	GetCustomerName() string
	GetCustomerPhone() string
	GetDescription() string
	GetTotalAmountCents() int64
}

type updateOrderRequest interface {
	GetId() uint64
	GetCustomerName() string
	GetCustomerPhone() string
	GetDescription() string
	GetTotalAmountCents() int64
}

type listOrdersRequest interface {
	GetStatus() string
	GetPaymentStatus() string
	GetCustomerPhone() string
	GetLimit() int32
	GetOffset() int32
}

type orderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	Update(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
	FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
	UpdateIfPaymentPending(ctx context.Context, orderID uint64, paymentReference string, t repository.OrderPaymentTransition) (bool, error)
	BeginPaymentCycle(ctx context.Context, orderID uint64, allowed []types.OrderStatus, cycle repository.NewPaymentCycle) (bool, error)
	AdvanceStatusIf(ctx context.Context, orderID uint64, from, to types.OrderStatus) (bool, error)
	ListStalePendingPayment(ctx context.Context, before time.Time, limit int32) ([]*entity.Order, error)
	ListExpiredPixPending(ctx context.Context, now time.Time, limit int32) ([]*entity.Order, error)
}

type orderEventRepository interface {
	Create(ctx context.Context, event *entity.OrderEvent) error
}

type webhookLogRepository interface {
	Create(ctx context.Context, log *entity.WebhookLog) error
}

type recoveryAttemptRepository interface {
	TryAcquire(ctx context.Context, orderID uint64, maxAttempts int32) (bool, int32, error)
	Reset(ctx context.Context, orderID uint64) error
}

type OrderService struct {
	orderRepo   orderRepository
	eventRepo   orderEventRepository
	webhookRepo webhookLogRepository
	gw          gateway.Client
	notifier    notify.Dispatcher
	poller      *PollingCoordinator
	recovery    *RecoveryOrchestrator
	jobsCfg     config.JobsConfig
	logger      logrus.FieldLogger
}

func NewOrderService(
	orderRepo orderRepository,
	eventRepo orderEventRepository,
	webhookRepo webhookLogRepository,
	recoveryRepo recoveryAttemptRepository,
	gw gateway.Client,
	notifier notify.Dispatcher,
	pollingCfg config.PollingConfig,
	recoveryCfg config.RecoveryConfig,
	jobsCfg config.JobsConfig,
) *OrderService {
	if notifier == nil {
		notifier = notify.Noop{}
	}

	s := &OrderService{
		orderRepo:   orderRepo,
		eventRepo:   eventRepo,
		webhookRepo: webhookRepo,
		gw:          gw,
		notifier:    notifier,
		jobsCfg:     jobsCfg,
		logger:      factory.NewModuleLogger("orders-service"),
	}
	s.poller = NewPollingCoordinator(gw, s, s, pollingCfg)
	s.recovery = NewRecoveryOrchestrator(orderRepo, recoveryRepo, s, notifier, recoveryCfg)

	return s
}

// Poller exposes the polling coordinator for wiring and shutdown.
func (s *OrderService) Poller() *PollingCoordinator {
	return s.poller
}

func (s *OrderService) CreateOrder(ctx context.Context, req createOrderRequest) (*entity.Order, error) {
	name := strings.TrimSpace(req.GetCustomerName())
	if name == "" || req.GetTotalAmountCents() <= 0 {
		return nil, ErrInvalidRequest
	}

	now := time.Now().UTC()
	order := &entity.Order{
		Code:             strings.ToUpper(uuid.NewString()[:8]),
		CustomerName:     name,
		CustomerPhone:    strings.TrimSpace(req.GetCustomerPhone()),
		Description:      strings.TrimSpace(req.GetDescription()),
		TotalAmountCents: req.GetTotalAmountCents(),
		Status:           types.OrderStatusPending,
		PaymentStatus:    types.PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: "order_created",
		NewStatus: string(order.Status),
		CreatedAt: now,
	})

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, req listOrdersRequest) ([]*entity.Order, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultBatchSize
	}

	filter := repository.OrderFilter{
		Status:        strings.TrimSpace(req.GetStatus()),
		PaymentStatus: strings.TrimSpace(req.GetPaymentStatus()),
		CustomerPhone: strings.TrimSpace(req.GetCustomerPhone()),
		Limit:         limit,
		Offset:        req.GetOffset(),
	}

	return s.orderRepo.List(ctx, filter)
}

func (s *OrderService) UpdateOrder(ctx context.Context, req updateOrderRequest) (*entity.Order, error) {
	order, err := s.GetOrder(ctx, req.GetId())
	if err != nil {
		return nil, err
	}
	if !order.Status.Editable() {
		return nil, fmt.Errorf("%w: status=%s", ErrOrderNotEditable, order.Status)
	}

	order.CustomerName = strings.TrimSpace(req.GetCustomerName())
	order.CustomerPhone = strings.TrimSpace(req.GetCustomerPhone())
	order.Description = strings.TrimSpace(req.GetDescription())
	order.TotalAmountCents = req.GetTotalAmountCents()
	order.UpdatedAt = time.Now().UTC()

	if err := s.orderRepo.Update(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// Checkout creates the first payment cycle for a staff-created order and
// starts watching it.
func (s *OrderService) Checkout(ctx context.Context, orderID uint64) (*entity.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != types.OrderStatusPending {
		return nil, fmt.Errorf("%w: checkout requires a pending order, status=%s", ErrInvalidStatus, order.Status)
	}

	return s.StartPaymentCycle(ctx, order, []types.OrderStatus{types.OrderStatusPending})
}

// StartPaymentCycle creates a payment at the gateway, installs the new
// payment reference on the order (conditionally, so a concurrent transition
// wins over a stale cycle) and starts a polling session for it.
func (s *OrderService) StartPaymentCycle(ctx context.Context, order *entity.Order, allowed []types.OrderStatus) (*entity.Order, error) {
	oldStatus := order.Status

	handle, err := s.gw.CreatePayment(ctx, &gateway.PaymentRequest{
		OrderID:       order.ID,
		AmountCents:   order.TotalAmountCents,
		Description:   paymentDescription(order),
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
	})
	if err != nil {
		return nil, err
	}

	cycle := repository.NewPaymentCycle{PaymentReference: handle.ID}
	if handle.CopyPaste != "" {
		copyPaste := handle.CopyPaste
		cycle.PixCopyPaste = &copyPaste
	}
	if handle.QRCodeBase64 != "" {
		qr := handle.QRCodeBase64
		cycle.PixQRCodeBase64 = &qr
	}
	if !handle.ExpiresAt.IsZero() {
		expiresAt := handle.ExpiresAt.UTC()
		cycle.PixExpiresAt = &expiresAt
	}

	applied, err := s.orderRepo.BeginPaymentCycle(ctx, order.ID, allowed, cycle)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: order moved concurrently, payment cycle not installed", ErrInvalidStatus)
	}

	// The new reference supersedes any session still watching the old one.
	if order.PaymentReference != nil && *order.PaymentReference != handle.ID {
		s.poller.StopPolling(*order.PaymentReference)
	}

	now := time.Now().UTC()
	old := string(oldStatus)
	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: "payment_cycle_started",
		OldStatus: &old,
		NewStatus: string(types.OrderStatusPendingPayment),
		CreatedAt: now,
	})

	s.poller.StartPolling(PollingSession{PaymentID: handle.ID, OrderID: order.ID})

	updated, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if oldStatus != updated.Status {
		s.notifier.OrderStatusChanged(ctx, updated, oldStatus, updated.Status)
	}

	return updated, nil
}

// ConfirmPaymentManually lets staff settle an order whose payment was taken
// out of band. It goes through the same conditional update as the automated
// paths, so a racing webhook or poll cannot double-commit.
func (s *OrderService) ConfirmPaymentManually(ctx context.Context, orderID uint64) (*entity.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentReference == nil {
		return nil, fmt.Errorf("%w: order has no outstanding payment", ErrInvalidStatus)
	}
	paymentReference := *order.PaymentReference

	now := time.Now().UTC()
	applied, err := s.orderRepo.UpdateIfPaymentPending(ctx, orderID, paymentReference, repository.OrderPaymentTransition{
		PaymentStatus:      types.PaymentStatusConfirmed,
		OrderStatus:        types.OrderStatusInPreparation,
		PaymentConfirmedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		current, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		// Another path already settled it; manual confirm is idempotent.
		if current.PaymentStatus == types.PaymentStatusConfirmed {
			return current, nil
		}
		return nil, fmt.Errorf("%w: payment is no longer pending", ErrInvalidStatus)
	}

	s.poller.StopPolling(paymentReference)

	old := string(order.Status)
	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   orderID,
		EventType: "payment_confirmed_manually",
		OldStatus: &old,
		NewStatus: string(types.OrderStatusInPreparation),
		CreatedAt: now,
	})

	updated, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifier.PaymentConfirmed(ctx, updated)
	s.notifier.OrderStatusChanged(ctx, updated, order.Status, updated.Status)

	return updated, nil
}

// AdvanceOrderStatus moves the kitchen workflow forward one step.
func (s *OrderService) AdvanceOrderStatus(ctx context.Context, orderID uint64, to types.OrderStatus) (*entity.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !types.CanAdvance(order.Status, to) {
		return nil, fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidStatus, order.Status, to)
	}

	applied, err := s.orderRepo.AdvanceStatusIf(ctx, orderID, order.Status, to)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: order moved concurrently", ErrInvalidStatus)
	}

	old := string(order.Status)
	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   orderID,
		EventType: "order_status_advanced",
		OldStatus: &old,
		NewStatus: string(to),
		CreatedAt: time.Now().UTC(),
	})

	updated, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifier.OrderStatusChanged(ctx, updated, order.Status, updated.Status)

	return updated, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, orderID uint64, reason string) (*entity.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == types.PaymentStatusConfirmed || order.Status == types.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: paid orders cannot be cancelled", ErrInvalidStatus)
	}
	if order.Status == types.OrderStatusCancelled {
		return order, nil
	}

	// An outstanding pending payment is settled to failed in the same
	// conditional write, so a webhook landing after the cancel finds a
	// terminal payment and degrades to a duplicate instead of moving the
	// order out of cancelled.
	var applied bool
	if order.PaymentReference != nil && order.PaymentStatus == types.PaymentStatusPending {
		applied, err = s.orderRepo.UpdateIfPaymentPending(ctx, orderID, *order.PaymentReference, repository.OrderPaymentTransition{
			PaymentStatus: types.PaymentStatusFailed,
			OrderStatus:   types.OrderStatusCancelled,
		})
	} else {
		applied, err = s.orderRepo.AdvanceStatusIf(ctx, orderID, order.Status, types.OrderStatusCancelled)
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: order moved concurrently", ErrInvalidStatus)
	}

	if order.PaymentReference != nil {
		s.poller.StopPolling(*order.PaymentReference)
	}

	old := string(order.Status)
	payload := ""
	if strings.TrimSpace(reason) != "" {
		payload = fmt.Sprintf(`{"reason":%q}`, strings.TrimSpace(reason))
	}
	event := &entity.OrderEvent{
		OrderID:   orderID,
		EventType: "order_cancelled",
		OldStatus: &old,
		NewStatus: string(types.OrderStatusCancelled),
		CreatedAt: time.Now().UTC(),
	}
	if payload != "" {
		event.PayloadJSON = &payload
	}
	_ = s.eventRepo.Create(ctx, event)

	updated, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifier.OrderStatusChanged(ctx, updated, order.Status, updated.Status)

	return updated, nil
}

// Recover regenerates the payment cycle for a failed or expired order.
func (s *OrderService) Recover(ctx context.Context, orderID uint64) error {
	return s.recovery.Recover(ctx, orderID)
}

// ResetRecovery clears the recovery attempt counter. Operator action only.
func (s *OrderService) ResetRecovery(ctx context.Context, orderID uint64) error {
	return s.recovery.Reset(ctx, orderID)
}

func (s *OrderService) batchSize() int32 {
	if s.jobsCfg.BatchSize > 0 {
		return s.jobsCfg.BatchSize
	}
	return defaultBatchSize
}

func paymentDescription(order *entity.Order) string {
	if strings.TrimSpace(order.Description) != "" {
		return order.Description
	}
	return "order " + order.Code
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
