package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for required fields and sane bounds. A config
// that fails validation is rejected at startup and skipped on hot-reload.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Outbox.PollIntervalMs < 100 {
		errs = append(errs, fmt.Sprintf("outbox.poll_interval_ms %d below minimum 100", cfg.Outbox.PollIntervalMs))
	}
	if cfg.Outbox.BatchSize < 1 || cfg.Outbox.BatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("outbox.batch_size %d outside 1..1000", cfg.Outbox.BatchSize))
	}
	if cfg.Outbox.MaxRetries < 1 || cfg.Outbox.MaxRetries > 10 {
		errs = append(errs, fmt.Sprintf("outbox.max_retries %d outside 1..10", cfg.Outbox.MaxRetries))
	}
	if cfg.Cache.DefaultTTLMs < 0 {
		errs = append(errs, fmt.Sprintf("cache.default_ttl_ms %d must not be negative", cfg.Cache.DefaultTTLMs))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
