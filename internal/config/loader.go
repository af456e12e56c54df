package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load resolves the full configuration from the environment. In local mode
// (APP_ENV unset or "local") a .env file is applied first so developers can
// run both binaries without exporting variables by hand; real environments
// rely on the process environment alone.
//
// Load fails fast: a missing required value or a validation failure is a
// startup error, never a deferred one.
func Load() (*Config, error) {
	if env := os.Getenv("APP_ENV"); env == "" || env == "local" {
		// Missing .env is fine; the environment may already be complete.
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process environment: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate applies struct-level validation rules plus the handful of
// cross-field checks envconfig tags cannot express.
func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	// SecretString is a defined string type; validate it by its raw value
	// so `required` works on secrets.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if s, ok := field.Interface().(SecretString); ok {
			return s.Reveal()
		}
		return nil
	}, SecretString(""))

	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}

	if cfg.Queue.BaseDelay <= 0 {
		return fmt.Errorf("config: QUEUE_BASE_DELAY must be positive")
	}
	if cfg.Queue.CompletedRetention <= 0 || cfg.Queue.FailedRetention <= 0 {
		return fmt.Errorf("config: retention windows must be positive")
	}
	return nil
}
