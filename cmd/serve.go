package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/controller"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/notify"
	"github.com/vibast-solutions/ms-go-orders/app/repository"
	"github.com/vibast-solutions/ms-go-orders/app/service"
	"github.com/vibast-solutions/ms-go-orders/app/types"
	"github.com/vibast-solutions/ms-go-orders/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for the orders service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, orderService, cleanup := mustCreateOrderService()
	defer cleanup()

	orderController := controller.NewOrderController(orderService)
	e := setupHTTPServer(orderController, cfg.App.APIKey)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	orderService.Poller().StopAll()

	logrus.Info("Server stopped")
}

func setupHTTPServer(orderController *controller.OrderController, apiKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", orderController.Health)

	// Provider deliveries authenticate by signature, not by API key, and
	// carry their own request id header.
	webhooks := e.Group("/webhooks")
	webhooks.POST("/payments", orderController.HandleGatewayWebhook)

	orders := e.Group("/orders", requireRequestID(), requireAPIKey(apiKey))
	orders.POST("", orderController.CreateOrder)
	orders.GET("", orderController.ListOrders)
	orders.GET("/:id", orderController.GetOrder)
	orders.PATCH("/:id", orderController.UpdateOrder)
	orders.POST("/:id/checkout", orderController.Checkout)
	orders.POST("/:id/confirm", orderController.ConfirmPayment)
	orders.POST("/:id/status", orderController.AdvanceOrderStatus)
	orders.POST("/:id/cancel", orderController.CancelOrder)
	orders.POST("/:id/recover", orderController.RecoverPayment)
	orders.POST("/:id/recovery/reset", orderController.ResetRecovery)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func requireAPIKey(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if apiKey == "" {
				return next(ctx)
			}
			provided := strings.TrimSpace(ctx.Request().Header.Get("X-API-Key"))
			if provided != apiKey {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid api key"})
			}
			return next(ctx)
		}
	}
}

func mustCreateOrderService() (*config.Config, *service.OrderService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewOrderEventRepository(db)
	webhookRepo := repository.NewWebhookLogRepository(db)
	recoveryRepo := repository.NewRecoveryAttemptRepository(db)

	gatewayClient := gateway.NewMercadoPagoClient(gateway.MercadoPagoConfig{
		BaseURL:                   cfg.Gateway.BaseURL,
		AccessToken:               cfg.Gateway.AccessToken,
		WebhookSecret:             cfg.Gateway.WebhookSecret,
		SignatureToleranceSeconds: cfg.Gateway.SignatureToleranceSeconds,
		HTTPTimeout:               cfg.Gateway.HTTPTimeout,
		PixExpiration:             cfg.Gateway.PixExpiration,
		Retry: gateway.RetryPolicy{
			BaseDelay:   cfg.Gateway.RetryBaseDelay,
			MaxDelay:    cfg.Gateway.RetryMaxDelay,
			MaxAttempts: cfg.Gateway.RetryMaxAttempts,
		},
	})

	var notifier notify.Dispatcher = notify.Noop{}
	if cfg.Notifications.URL != "" {
		notifier = notify.NewHTTPDispatcher(notify.HTTPDispatcherConfig{
			URL:         cfg.Notifications.URL,
			APIKey:      cfg.Notifications.APIKey,
			HTTPTimeout: cfg.Notifications.HTTPTimeout,
		})
	}

	orderService := service.NewOrderService(
		orderRepo,
		eventRepo,
		webhookRepo,
		recoveryRepo,
		gatewayClient,
		notifier,
		cfg.Polling,
		cfg.Recovery,
		cfg.Jobs,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, orderService, cleanup
}
