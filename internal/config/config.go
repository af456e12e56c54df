// Package config defines the global configuration structure for the
// Matchbreak platform. Configuration is loaded once at process start and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (local only)
//
// Any missing required value or invalid format causes the application to
// exit immediately on startup (fail fast).
package config

import (
	"time"

	"matchbreak/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Matchbreak platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"matchbreak"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Email    EmailConfig
	Billing  BillingConfig
	Admin    AdminConfig
}

// ServerConfig holds HTTP server and public URL configuration for the
// producer-side API process.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// MetricsPort is where the worker process serves /metrics and
	// /healthz; separate from Port so both processes can share a host.
	MetricsPort string `envconfig:"WORKER_METRICS_PORT" default:"9091"`
	// Public site URL used inside rendered emails (no trailing slash).
	SiteURL string `envconfig:"SITE_URL" default:"https://matchbreak.example"`
}

// DatabaseConfig holds booking database connection and pool tuning
// parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// RedisConfig holds the connection for the queue store and dedupe guard.
// Producers and workers open independent clients; the worker's connection
// long-polls while producer writes are fire-and-forget.
type RedisConfig struct {
	URL              string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0" validate:"required"`
	KeyPrefix        string        `envconfig:"REDIS_KEY_PREFIX" default:"matchbreak:mailq"`
	OperationTimeout time.Duration `envconfig:"REDIS_OP_TIMEOUT" default:"5s"`
}

// QueueConfig holds retry, throughput, and retention tuning for the email
// queue runtime.
type QueueConfig struct {
	MaxAttempts int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"5" validate:"min=1"`
	BaseDelay   time.Duration `envconfig:"QUEUE_BASE_DELAY" default:"5s"`

	// Worker throughput controls: at most RatePerSecond job starts per
	// second and Concurrency simultaneously active jobs.
	Concurrency   int `envconfig:"QUEUE_CONCURRENCY" default:"5" validate:"min=1"`
	RatePerSecond int `envconfig:"QUEUE_RATE_PER_SECOND" default:"10" validate:"min=1"`

	// Terminal-state retention windows before garbage collection.
	CompletedRetention time.Duration `envconfig:"QUEUE_COMPLETED_RETENTION" default:"24h"`
	FailedRetention    time.Duration `envconfig:"QUEUE_FAILED_RETENTION" default:"168h"`
}

// EmailConfig holds mail transport credentials and addressing defaults.
type EmailConfig struct {
	SMTPHost     string       `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string       `envconfig:"SMTP_USER"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`

	FromAddress  string `envconfig:"EMAIL_FROM_ADDRESS" default:"bookings@matchbreak.example"`
	FromName     string `envconfig:"EMAIL_FROM_NAME" default:"Matchbreak Bookings"`
	AdminAddress string `envconfig:"EMAIL_ADMIN_ADDRESS" default:"ops@matchbreak.example"`

	// RevealLeadTime is how long before departure the surprise reveal
	// email becomes due; the producer schedules reveal jobs with
	// delay = departure - lead time - now.
	RevealLeadTime time.Duration `envconfig:"EMAIL_REVEAL_LEAD_TIME" default:"48h"`
}

// BillingConfig holds Stripe webhook verification credentials.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// AdminConfig guards the queue introspection endpoints.
type AdminConfig struct {
	Token SecretString `envconfig:"ADMIN_API_TOKEN" validate:"required"`
}
