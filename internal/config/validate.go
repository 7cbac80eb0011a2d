package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if len(cfg.Args) > 0 {
		errs = append(errs, ValidationError{
			Field:   "args",
			Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(cfg.Args, " ")),
		})
	}

	if cfg.Root == "" {
		errs = append(errs, ValidationError{
			Field:   "root",
			Message: "must not be empty",
		})
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}

	if cfg.StopTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_timeout",
			Message: "must be positive",
		})
	}

	// Readiness mode must be valid
	validModes := map[string]bool{
		ReadyDelay: true, ReadyHTTP: true, ReadyMetrics: true, ReadyNone: true,
	}
	if !validModes[cfg.ReadyMode] {
		errs = append(errs, ValidationError{
			Field:   "ready_mode",
			Message: fmt.Sprintf("must be one of: delay, http, metrics, none (got %q)", cfg.ReadyMode),
		})
	}

	if cfg.SettleDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "settle_delay",
			Message: "must not be negative",
		})
	}

	if cfg.ReadyMode == ReadyHTTP || cfg.ReadyMode == ReadyMetrics {
		if cfg.ReadyTimeout <= 0 {
			errs = append(errs, ValidationError{
				Field:   "ready_timeout",
				Message: "must be positive",
			})
		}
	}

	if cfg.ReadyURL != "" {
		if err := validateURL(cfg.ReadyURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "ready_url",
				Message: err.Error(),
			})
		}
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: fmt.Sprintf("must be host:port (got %q)", cfg.MetricsAddr),
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURL checks if the URL is valid and uses http or https.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}
