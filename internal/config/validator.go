package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateTelemetry(cfg.Telemetry); err != nil {
		errs = append(errs, err)
	}

	if err := validateQueue(cfg.Queue); err != nil {
		errs = append(errs, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateTelemetry(cfg TelemetryConfig) error {
	if cfg.BrokerURL == "" {
		return &ValidationError{
			Field:   "telemetry.broker_url",
			Message: "broker URL is required",
		}
	}

	if cfg.StalenessThreshold <= 0 {
		return &ValidationError{
			Field:   "telemetry.staleness_threshold",
			Message: "staleness threshold must be positive",
		}
	}

	if cfg.Reconnect.Multiplier < 1 {
		return &ValidationError{
			Field:   "telemetry.reconnect.multiplier",
			Message: "reconnect multiplier must be at least 1",
		}
	}

	return nil
}

func validateQueue(cfg QueueConfig) error {
	if cfg.Name == "" {
		return &ValidationError{
			Field:   "queue.name",
			Message: "queue name is required",
		}
	}

	if cfg.Concurrency < 1 {
		return &ValidationError{
			Field:   "queue.concurrency",
			Message: fmt.Sprintf("concurrency must be at least 1, got %d", cfg.Concurrency),
		}
	}

	if cfg.MaxRetry < 0 {
		return &ValidationError{
			Field:   "queue.max_retry",
			Message: "max retry must be non-negative",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.MongoDB.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "mongodb URI is required",
		}
	}

	if cfg.MongoDB.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "mongodb database name is required",
		}
	}

	if cfg.Redis.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "redis host is required",
		}
	}

	return nil
}
