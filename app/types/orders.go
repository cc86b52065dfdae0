package types

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type CreateOrderRequest struct {
	CustomerName     string `json:"customer_name"`
	CustomerPhone    string `json:"customer_phone"`
	Description      string `json:"description"`
	TotalAmountCents int64  `json:"total_amount_cents"`
}

func NewCreateOrderRequestFromContext(ctx echo.Context) (*CreateOrderRequest, error) {
	var body CreateOrderRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.CustomerName = strings.TrimSpace(body.CustomerName)
	body.CustomerPhone = strings.TrimSpace(body.CustomerPhone)
	body.Description = strings.TrimSpace(body.Description)

	return &body, nil
}

func (r *CreateOrderRequest) GetCustomerName() string    { return r.CustomerName }
func (r *CreateOrderRequest) GetCustomerPhone() string   { return r.CustomerPhone }
func (r *CreateOrderRequest) GetDescription() string     { return r.Description }
func (r *CreateOrderRequest) GetTotalAmountCents() int64 { return r.TotalAmountCents }

func (r *CreateOrderRequest) Validate() error {
	if r.CustomerName == "" {
		return errors.New("customer_name is required")
	}
	if r.TotalAmountCents <= 0 {
		return errors.New("total_amount_cents must be > 0")
	}
	return nil
}

type UpdateOrderRequest struct {
	Id               uint64 `json:"-"`
	CustomerName     string `json:"customer_name"`
	CustomerPhone    string `json:"customer_phone"`
	Description      string `json:"description"`
	TotalAmountCents int64  `json:"total_amount_cents"`
}

func NewUpdateOrderRequestFromContext(ctx echo.Context) (*UpdateOrderRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body UpdateOrderRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = id
	body.CustomerName = strings.TrimSpace(body.CustomerName)
	body.CustomerPhone = strings.TrimSpace(body.CustomerPhone)
	body.Description = strings.TrimSpace(body.Description)

	return &body, nil
}

func (r *UpdateOrderRequest) GetId() uint64              { return r.Id }
func (r *UpdateOrderRequest) GetCustomerName() string    { return r.CustomerName }
func (r *UpdateOrderRequest) GetCustomerPhone() string   { return r.CustomerPhone }
func (r *UpdateOrderRequest) GetDescription() string     { return r.Description }
func (r *UpdateOrderRequest) GetTotalAmountCents() int64 { return r.TotalAmountCents }

func (r *UpdateOrderRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	if r.CustomerName == "" {
		return errors.New("customer_name is required")
	}
	if r.TotalAmountCents <= 0 {
		return errors.New("total_amount_cents must be > 0")
	}
	return nil
}

type OrderIDRequest struct {
	Id uint64 `json:"-"`
}

func NewOrderIDRequestFromContext(ctx echo.Context) (*OrderIDRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &OrderIDRequest{Id: id}, nil
}

func (r *OrderIDRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

type AdvanceOrderStatusRequest struct {
	Id     uint64 `json:"-"`
	Status string `json:"status"`
}

func NewAdvanceOrderStatusRequestFromContext(ctx echo.Context) (*AdvanceOrderStatusRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body AdvanceOrderStatusRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = id
	body.Status = strings.TrimSpace(strings.ToLower(body.Status))

	return &body, nil
}

func (r *AdvanceOrderStatusRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	if !OrderStatus(r.Status).Valid() {
		return errors.New("invalid status")
	}
	return nil
}

type CancelOrderRequest struct {
	Id     uint64 `json:"-"`
	Reason string `json:"reason"`
}

func NewCancelOrderRequestFromContext(ctx echo.Context) (*CancelOrderRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body CancelOrderRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CancelOrderRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

type ListOrdersRequest struct {
	Status        string
	PaymentStatus string
	CustomerPhone string
	Limit         int32
	Offset        int32
}

func NewListOrdersRequestFromContext(ctx echo.Context) (*ListOrdersRequest, error) {
	req := &ListOrdersRequest{
		Status:        strings.TrimSpace(strings.ToLower(ctx.QueryParam("status"))),
		PaymentStatus: strings.TrimSpace(strings.ToLower(ctx.QueryParam("payment_status"))),
		CustomerPhone: strings.TrimSpace(ctx.QueryParam("customer_phone")),
		Limit:         100,
		Offset:        0,
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListOrdersRequest) GetStatus() string        { return r.Status }
func (r *ListOrdersRequest) GetPaymentStatus() string { return r.PaymentStatus }
func (r *ListOrdersRequest) GetCustomerPhone() string { return r.CustomerPhone }
func (r *ListOrdersRequest) GetLimit() int32          { return r.Limit }
func (r *ListOrdersRequest) GetOffset() int32         { return r.Offset }

func (r *ListOrdersRequest) Validate() error {
	if r.Limit <= 0 || r.Limit > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.Status != "" && !OrderStatus(r.Status).Valid() {
		return errors.New("invalid status")
	}
	if r.PaymentStatus != "" && !PaymentStatus(r.PaymentStatus).Valid() {
		return errors.New("invalid payment_status")
	}
	return nil
}

// GatewayWebhookRequest is the provider push notification. The payload is
// untrusted: only data.id is used, and only after the signature checks out
// and the status has been re-fetched from the gateway.
type GatewayWebhookRequest struct {
	Type              string `json:"type"`
	Action            string `json:"action"`
	ExternalReference string `json:"external_reference"`
	Data              struct {
		ID string `json:"id"`
	} `json:"data"`

	Signature string `json:"-"`
	RequestID string `json:"-"`
}

func NewGatewayWebhookRequestFromContext(ctx echo.Context) (*GatewayWebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	var body GatewayWebhookRequest
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &body); err != nil {
			return nil, err
		}
	}

	body.Type = strings.TrimSpace(strings.ToLower(body.Type))
	body.Action = strings.TrimSpace(strings.ToLower(body.Action))
	body.ExternalReference = strings.TrimSpace(body.ExternalReference)
	body.Data.ID = strings.TrimSpace(body.Data.ID)
	body.Signature = strings.TrimSpace(ctx.Request().Header.Get("X-Signature"))
	body.RequestID = strings.TrimSpace(ctx.Request().Header.Get("X-Request-Id"))

	return &body, nil
}

func (r *GatewayWebhookRequest) Validate() error {
	if r.Type == "" {
		return errors.New("type is required")
	}
	if r.Data.ID == "" {
		return errors.New("data.id is required")
	}
	if r.Signature == "" {
		return errors.New("signature header is required")
	}
	return nil
}
