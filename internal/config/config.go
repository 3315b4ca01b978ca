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
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL        string // PostgreSQL connection string (optional, uses in-memory if not set)
	DBMaxOpenConns     int    // control-plane pool size
	TenantDBMaxOpen    int    // per-tenant pool size
	TenantDBMaxIdle    int
	TenantConnLifetime time.Duration

	// Payment processor
	PaystackBaseURL     string
	PaystackSecretKey   string // also the webhook HMAC key
	PaystackCallbackURL string
	PaystackTimeout     time.Duration

	// Plan catalog
	PlanSyncInterval time.Duration // 0 disables the periodic sync

	// Email
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string

	// Security
	APIKey       string // x-api-key for admin routes
	FrontEndURL  string // CORS origin and link base for emails
	RateLimitRPM int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultPaystackBaseURL  = "https://api.paystack.co"
	DefaultPaystackTimeout  = 10 * time.Second
	DefaultDBMaxOpenConns   = 25
	DefaultTenantDBMaxOpen  = 5
	DefaultTenantDBMaxIdle  = 2
	DefaultTenantConnMaxAge = 30 * time.Minute
	DefaultSMTPPort         = "587"
	DefaultRateLimit        = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:      int(getEnvInt64("DB_MAX_OPEN_CONNS", DefaultDBMaxOpenConns)),
		TenantDBMaxOpen:     int(getEnvInt64("TENANT_DB_MAX_OPEN_CONNS", DefaultTenantDBMaxOpen)),
		TenantDBMaxIdle:     int(getEnvInt64("TENANT_DB_MAX_IDLE_CONNS", DefaultTenantDBMaxIdle)),
		TenantConnLifetime:  getEnvDuration("TENANT_DB_CONN_MAX_LIFETIME", DefaultTenantConnMaxAge),
		PaystackBaseURL:     strings.TrimRight(getEnv("PAYSTACK_BASE_URL", DefaultPaystackBaseURL), "/"),
		PaystackSecretKey:   os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackCallbackURL: os.Getenv("PAYSTACK_CALLBACK_URL"),
		PaystackTimeout:     getEnvDuration("PAYSTACK_TIMEOUT", DefaultPaystackTimeout),
		PlanSyncInterval:    getEnvDuration("PLAN_SYNC_INTERVAL", 0),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            getEnv("SMTP_PORT", DefaultSMTPPort),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		EmailFrom:           os.Getenv("EMAIL_FROM"),
		APIKey:              os.Getenv("API_KEY"),
		FrontEndURL:         strings.TrimRight(os.Getenv("FRONT_END_URL"), "/"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PaystackTimeout <= 0 {
		return fmt.Errorf("PAYSTACK_TIMEOUT must be positive")
	}
	if c.PlanSyncInterval < 0 {
		return fmt.Errorf("PLAN_SYNC_INTERVAL must not be negative")
	}
	if c.TenantDBMaxOpen <= 0 {
		return fmt.Errorf("TENANT_DB_MAX_OPEN_CONNS must be positive")
	}

	if c.IsProduction() {
		if c.PaystackSecretKey == "" {
			return fmt.Errorf("PAYSTACK_SECRET_KEY is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required in production")
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

// SMTPEnabled reports whether outbound email is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.EmailFrom != ""
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
