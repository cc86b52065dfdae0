package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewCreateOrderRequestFromContextTrimsFields(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"customer_name":"  Maria Silva  ","customer_phone":" +5511999990000 ","description":" two burgers ","total_amount_cents":4500}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewCreateOrderRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.CustomerName != "Maria Silva" {
		t.Fatalf("expected trimmed name, got %q", parsed.CustomerName)
	}
	if parsed.CustomerPhone != "+5511999990000" {
		t.Fatalf("expected trimmed phone, got %q", parsed.CustomerPhone)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestCreateOrderValidate(t *testing.T) {
	req := &CreateOrderRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected customer_name validation error")
	}

	req = &CreateOrderRequest{CustomerName: "Maria", TotalAmountCents: 0}
	if err := req.Validate(); err == nil {
		t.Fatal("expected amount validation error")
	}

	req = &CreateOrderRequest{CustomerName: "Maria", TotalAmountCents: 100}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewListOrdersRequestFromContextAndValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/orders?status=pending_payment&payment_status=pending&limit=10&offset=5", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewListOrdersRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if parsed.Status != "pending_payment" || parsed.Limit != 10 || parsed.Offset != 5 {
		t.Fatalf("unexpected parsed request: %+v", parsed)
	}

	bad := &ListOrdersRequest{Status: "not-a-status", Limit: 10}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected status validation error")
	}
	bad = &ListOrdersRequest{Limit: 0}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected limit validation error")
	}
}

func TestNewGatewayWebhookRequestFromContextReadsHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/payments", bytes.NewBufferString(`{"type":"Payment","action":"payment.updated","external_reference":"7","data":{"id":" 12345 "}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Signature", "ts=1,v1=abc")
	req.Header.Set("X-Request-Id", "mp-req-1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewGatewayWebhookRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.Type != "payment" {
		t.Fatalf("expected lower-cased type, got %q", parsed.Type)
	}
	if parsed.Data.ID != "12345" {
		t.Fatalf("expected trimmed data id, got %q", parsed.Data.ID)
	}
	if parsed.Signature != "ts=1,v1=abc" || parsed.RequestID != "mp-req-1" {
		t.Fatalf("expected headers captured, got sig=%q req=%q", parsed.Signature, parsed.RequestID)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid webhook, got %v", err)
	}
}

func TestGatewayWebhookValidateRequiresSignature(t *testing.T) {
	req := &GatewayWebhookRequest{Type: "payment"}
	req.Data.ID = "12345"
	if err := req.Validate(); err == nil {
		t.Fatal("expected signature validation error")
	}
}

func TestOrderStatusEditable(t *testing.T) {
	editable := []OrderStatus{OrderStatusPending, OrderStatusPendingPayment, OrderStatusInPreparation, OrderStatusReady}
	for _, status := range editable {
		if !status.Editable() {
			t.Fatalf("expected %s to be editable", status)
		}
	}
	frozen := []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired}
	for _, status := range frozen {
		if status.Editable() {
			t.Fatalf("expected %s to be immutable", status)
		}
	}
}

func TestOrderStatusRecoverable(t *testing.T) {
	recoverable := []OrderStatus{OrderStatusPendingPayment, OrderStatusExpired, OrderStatusCancelled}
	for _, status := range recoverable {
		if !status.Recoverable() {
			t.Fatalf("expected %s to be recoverable", status)
		}
	}
	for _, status := range []OrderStatus{OrderStatusPending, OrderStatusInPreparation, OrderStatusReady, OrderStatusCompleted} {
		if status.Recoverable() {
			t.Fatalf("expected %s to not be recoverable", status)
		}
	}
}

func TestCanAdvanceWorkflow(t *testing.T) {
	if !CanAdvance(OrderStatusInPreparation, OrderStatusReady) {
		t.Fatal("expected in_preparation -> ready")
	}
	if !CanAdvance(OrderStatusReady, OrderStatusCompleted) {
		t.Fatal("expected ready -> completed")
	}
	if CanAdvance(OrderStatusInPreparation, OrderStatusCompleted) {
		t.Fatal("expected no skipping to completed")
	}
	if CanAdvance(OrderStatusPendingPayment, OrderStatusInPreparation) {
		t.Fatal("expected in_preparation to be payment-gated")
	}
	if CanAdvance(OrderStatusReady, OrderStatusInPreparation) {
		t.Fatal("expected no backwards transition")
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	if PaymentStatusPending.Terminal() {
		t.Fatal("expected pending to be non-terminal")
	}
	if !PaymentStatusConfirmed.Terminal() || !PaymentStatusFailed.Terminal() {
		t.Fatal("expected confirmed and failed to be terminal")
	}
}
