package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App           AppConfig
	HTTP          ServerConfig
	MySQL         MySQLConfig
	Log           LogConfig
	Gateway       GatewayConfig
	Polling       PollingConfig
	Recovery      RecoveryConfig
	Notifications NotificationsConfig
	Jobs          JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type GatewayConfig struct {
	BaseURL                   string
	AccessToken               string
	WebhookSecret             string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
	RetryBaseDelay            time.Duration
	RetryMaxDelay             time.Duration
	RetryMaxAttempts          int
	PixExpiration             time.Duration
}

type PollingConfig struct {
	FastInterval         time.Duration
	MediumInterval       time.Duration
	SlowInterval         time.Duration
	ErrorRetryInterval   time.Duration
	SessionDeadline      time.Duration
	FastPhaseAttempts    int
	MediumPhaseAttempts  int
	MaxAttempts          int
	MaxConsecutiveErrors int
}

type RecoveryConfig struct {
	MaxAttempts int32
	RetryDelay  time.Duration
}

type NotificationsConfig struct {
	URL         string
	APIKey      string
	HTTPTimeout time.Duration
}

type JobsConfig struct {
	ReconcileInterval     time.Duration
	ExpirePendingInterval time.Duration
	StaleAfter            time.Duration
	BatchSize             int32
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "orders-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Gateway: GatewayConfig{
			BaseURL:                   getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			AccessToken:               getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
			WebhookSecret:             getEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
			SignatureToleranceSeconds: int64(getIntEnv("MERCADOPAGO_SIGNATURE_TOLERANCE_SECONDS", 300)),
			HTTPTimeout:               getSecondsEnv("MERCADOPAGO_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			RetryBaseDelay:            getMillisEnv("GATEWAY_RETRY_BASE_DELAY_MS", 500*time.Millisecond),
			RetryMaxDelay:             getSecondsEnv("GATEWAY_RETRY_MAX_DELAY_SECONDS", 8*time.Second),
			RetryMaxAttempts:          getIntEnv("GATEWAY_RETRY_MAX_ATTEMPTS", 3),
			PixExpiration:             getMinutesEnv("GATEWAY_PIX_EXPIRATION_MINUTES", 30*time.Minute),
		},
		Polling: PollingConfig{
			FastInterval:         getSecondsEnv("POLLING_FAST_INTERVAL_SECONDS", 3*time.Second),
			MediumInterval:       getSecondsEnv("POLLING_MEDIUM_INTERVAL_SECONDS", 10*time.Second),
			SlowInterval:         getSecondsEnv("POLLING_SLOW_INTERVAL_SECONDS", 30*time.Second),
			ErrorRetryInterval:   getSecondsEnv("POLLING_ERROR_RETRY_INTERVAL_SECONDS", 20*time.Second),
			SessionDeadline:      getMinutesEnv("POLLING_SESSION_DEADLINE_MINUTES", 15*time.Minute),
			FastPhaseAttempts:    getIntEnv("POLLING_FAST_PHASE_ATTEMPTS", 10),
			MediumPhaseAttempts:  getIntEnv("POLLING_MEDIUM_PHASE_ATTEMPTS", 30),
			MaxAttempts:          getIntEnv("POLLING_MAX_ATTEMPTS", 90),
			MaxConsecutiveErrors: getIntEnv("POLLING_MAX_CONSECUTIVE_ERRORS", 5),
		},
		Recovery: RecoveryConfig{
			MaxAttempts: int32(getIntEnv("RECOVERY_MAX_ATTEMPTS", 3)),
			RetryDelay:  getSecondsEnv("RECOVERY_RETRY_DELAY_SECONDS", 5*time.Second),
		},
		Notifications: NotificationsConfig{
			URL:         getEnv("NOTIFICATIONS_URL", ""),
			APIKey:      getEnv("NOTIFICATIONS_API_KEY", ""),
			HTTPTimeout: getSecondsEnv("NOTIFICATIONS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Jobs: JobsConfig{
			ReconcileInterval:     getMinutesEnv("JOBS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
			ExpirePendingInterval: getMinutesEnv("JOBS_EXPIRE_PENDING_INTERVAL_MINUTES", 5*time.Minute),
			StaleAfter:            getMinutesEnv("JOBS_STALE_AFTER_MINUTES", 20*time.Minute),
			BatchSize:             int32(getIntEnv("JOBS_BATCH_SIZE", 100)),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}
