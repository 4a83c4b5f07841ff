// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	AutoMigrate bool

	// Webhook ingestion
	WebhookVerifier  string // "hmac", "stripe" or "none"
	WebhookSecret    string
	WebhookTolerance time.Duration

	// Orders
	OrderTTL                  time.Duration // 0 disables automatic expiry
	ExpiryInterval            time.Duration
	PaymentPresentationPrefix string

	// Delivery
	DeliveryMode        string // "log" or "http"
	DeliveryURL         string
	DeliverySecret      string
	DeliveryWorkers     int
	DeliveryMaxAttempts int
	DeliveryStaleAfter  time.Duration // queued deliveries older than this are re-dispatched
	ReconcileInterval   time.Duration

	// Security
	AdminSecret    string
	RateLimitRPM   int
	RateLimitBurst int
	CORSOrigins    []string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultWebhookVerifier     = "hmac"
	DefaultWebhookTolerance    = 5 * time.Minute
	DefaultOrderTTL            = 30 * time.Minute
	DefaultExpiryInterval      = time.Minute
	DefaultPresentationPrefix  = "pix://pay"
	DefaultDeliveryMode        = "log"
	DefaultDeliveryWorkers     = 4
	DefaultDeliveryMaxAttempts = 3
	DefaultDeliveryStaleAfter  = 15 * time.Minute
	DefaultReconcileInterval   = 5 * time.Minute
	DefaultRateLimitRPM        = 1200
	DefaultRateLimitBurst      = 200
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	cfg := &Config{
		Port:                      getEnv("PORT", DefaultPort),
		Env:                       env,
		LogLevel:                  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                 getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		AutoMigrate:               getEnvBool("AUTO_MIGRATE", env == "development"),
		WebhookVerifier:           strings.ToLower(getEnv("WEBHOOK_VERIFIER", DefaultWebhookVerifier)),
		WebhookSecret:             os.Getenv("WEBHOOK_SECRET"),
		WebhookTolerance:          getEnvDuration("WEBHOOK_TOLERANCE", DefaultWebhookTolerance),
		OrderTTL:                  getEnvDuration("ORDER_TTL", DefaultOrderTTL),
		ExpiryInterval:            getEnvDuration("EXPIRY_INTERVAL", DefaultExpiryInterval),
		PaymentPresentationPrefix: getEnv("PAYMENT_PRESENTATION_PREFIX", DefaultPresentationPrefix),
		DeliveryMode:              strings.ToLower(getEnv("DELIVERY_MODE", DefaultDeliveryMode)),
		DeliveryURL:               os.Getenv("DELIVERY_URL"),
		DeliverySecret:            os.Getenv("DELIVERY_SECRET"),
		DeliveryWorkers:           int(getEnvInt64("DELIVERY_WORKERS", DefaultDeliveryWorkers)),
		DeliveryMaxAttempts:       int(getEnvInt64("DELIVERY_MAX_ATTEMPTS", DefaultDeliveryMaxAttempts)),
		DeliveryStaleAfter:        getEnvDuration("DELIVERY_STALE_AFTER", DefaultDeliveryStaleAfter),
		ReconcileInterval:         getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		AdminSecret:               os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:              int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:            int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		CORSOrigins:               getEnvList("CORS_ORIGINS", []string{"*"}),
		OTLPEndpoint:              os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.WebhookVerifier {
	case "hmac", "stripe":
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_VERIFIER=%s", c.WebhookVerifier)
		}
	case "none":
		if !c.IsDevelopment() {
			return fmt.Errorf("WEBHOOK_VERIFIER=none is only allowed in development")
		}
	default:
		return fmt.Errorf("WEBHOOK_VERIFIER must be one of hmac, stripe, none (got %q)", c.WebhookVerifier)
	}

	switch c.DeliveryMode {
	case "log":
	case "http":
		if c.DeliveryURL == "" {
			return fmt.Errorf("DELIVERY_URL is required when DELIVERY_MODE=http")
		}
	default:
		return fmt.Errorf("DELIVERY_MODE must be log or http (got %q)", c.DeliveryMode)
	}

	if c.DeliveryWorkers <= 0 {
		return fmt.Errorf("DELIVERY_WORKERS must be positive")
	}
	if c.DeliveryMaxAttempts <= 0 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be positive")
	}
	if c.ReconcileInterval < 0 || c.DeliveryStaleAfter < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL and DELIVERY_STALE_AFTER must not be negative")
	}
	if c.OrderTTL < 0 {
		return fmt.Errorf("ORDER_TTL must not be negative")
	}
	if c.OrderTTL > 0 && c.ExpiryInterval <= 0 {
		return fmt.Errorf("EXPIRY_INTERVAL must be positive when ORDER_TTL is set")
	}

	if c.IsProduction() {
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
