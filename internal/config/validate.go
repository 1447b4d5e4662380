package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Quota engine
	switch c.Quota.LedgerBackend {
	case "postgres", "redis":
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_LEDGER_BACKEND must be postgres or redis, got %q", c.Quota.LedgerBackend))
	}
	switch c.Quota.RolloverAnchor {
	case "rollover", "strict":
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_ROLLOVER_ANCHOR must be rollover or strict, got %q", c.Quota.RolloverAnchor))
	}

	if c.RateLimit.MaxRequests < 1 || c.RateLimit.WindowSec < 1 {
		errs = append(errs, "RATELIMIT_MAX and RATELIMIT_WINDOW_SEC must be positive")
	}

	// NATS: warn only
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, quota audit events will not be published")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
