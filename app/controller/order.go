package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/mapper"
	"github.com/vibast-solutions/ms-go-orders/app/service"
	"github.com/vibast-solutions/ms-go-orders/app/types"
)

type OrderController struct {
	orderService *service.OrderService
	logger       logrus.FieldLogger
}

func NewOrderController(orderService *service.OrderService) *OrderController {
	return &OrderController{
		orderService: orderService,
		logger:       factory.NewModuleLogger("orders-controller"),
	}
}

func (c *OrderController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *OrderController) CreateOrder(ctx echo.Context) error {
	req, err := types.NewCreateOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.CreateOrder(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		}
		c.logger.WithError(err).Error("Create order failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusCreated, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) GetOrder(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.GetOrder(ctx.Request().Context(), req.Id)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		}
		c.logger.WithError(err).Error("Get order failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) ListOrders(ctx echo.Context) error {
	req, err := types.NewListOrdersRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.orderService.ListOrders(ctx.Request().Context(), req)
	if err != nil {
		c.logger.WithError(err).Error("List orders failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListOrdersResponse{Orders: mapper.OrdersToResponse(items)})
}

func (c *OrderController) UpdateOrder(ctx echo.Context) error {
	req, err := types.NewUpdateOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.UpdateOrder(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrOrderNotEditable), errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Update order failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) Checkout(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.Checkout(ctx.Request().Context(), req.Id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrInvalidStatus), gateway.IsValidation(err):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Checkout failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) ConfirmPayment(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.ConfirmPaymentManually(ctx.Request().Context(), req.Id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Confirm payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) AdvanceOrderStatus(ctx echo.Context) error {
	req, err := types.NewAdvanceOrderStatusRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.AdvanceOrderStatus(ctx.Request().Context(), req.Id, types.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Advance order status failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) CancelOrder(ctx echo.Context) error {
	req, err := types.NewCancelOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orderService.CancelOrder(ctx.Request().Context(), req.Id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Cancel order failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) RecoverPayment(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.orderService.Recover(ctx.Request().Context(), req.Id); err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrRecoveryExhausted):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrOrderNotRecoverable), gateway.IsValidation(err):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			c.logger.WithError(err).Error("Recover payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	item, err := c.orderService.GetOrder(ctx.Request().Context(), req.Id)
	if err != nil {
		c.logger.WithError(err).Error("Recover payment reload failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *OrderController) ResetRecovery(ctx echo.Context) error {
	req, err := types.NewOrderIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.orderService.ResetRecovery(ctx.Request().Context(), req.Id); err != nil {
		c.logger.WithError(err).Error("Reset recovery failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "recovery attempts reset"})
}

func (c *OrderController) HandleGatewayWebhook(ctx echo.Context) error {
	req, err := types.NewGatewayWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	outcome, err := c.orderService.HandleGatewayWebhook(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWebhookRejected):
			return c.writeError(ctx, http.StatusBadRequest, "webhook rejected")
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		default:
			// Status re-fetch failures land here; a 5xx makes the
			// provider retry the delivery later.
			c.logger.WithError(err).Error("Handle gateway webhook failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "webhook " + string(outcome)})
}

func (c *OrderController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
