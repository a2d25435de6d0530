package config

import (
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateRequired checks if a string field is not empty.
func ValidateRequired(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidatePort checks if a port number is valid.
func ValidatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: field, Message: "must be between 1 and 65535"}
	}
	return nil
}

// ValidateLogLevel checks if a log level is valid.
func ValidateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "warning", "error", "fatal":
		return nil
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error, fatal"}
	}
}

// Validator is an interface for types that can validate themselves.
type Validator interface {
	Validate() error
}

// Validate checks the configuration is complete enough to start a
// process. It runs after defaults, so only deployment-supplied values
// can fail it.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return &ValidationError{Field: "env", Message: "must be one of: development, production, test"}
	}
	if err := ValidatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Server.RateLimitMax > 0 && c.Server.RateLimitWindow <= 0 {
		return &ValidationError{Field: "server.rate_limit_window", Message: "must be positive when rate limiting is enabled"}
	}
	if err := ValidateRequired("database.url", c.Database.URL); err != nil {
		return err
	}
	if err := ValidateRequired("redis.url", c.Redis.URL); err != nil {
		return err
	}
	if err := ValidateLogLevel(normalizeLevel(c.Logging.Level)); err != nil {
		return err
	}
	return nil
}

func normalizeLevel(level string) string {
	if level == "" {
		return "info"
	}
	return level
}
