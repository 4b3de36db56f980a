package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MeKo-Tech/epipolar/internal/fundamental"
)

// Output formats understood by the report package.
var validFormats = []string{"text", "json", "csv"}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	est := fundamental.DefaultConfig()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		RANSAC: RANSACConfig{
			Iterations: est.Iterations,
			Threshold:  est.Threshold,
			Seed:       est.Seed,
			Workers:    est.Workers,
			Metric:     string(est.Metric),
			Refine:     est.Refine,
		},
		Output: OutputConfig{
			Format:    "text",
			Precision: 6,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxBodyMB:       10,
			MaxIterations:   100000,
			TimeoutSec:      30,
			ShutdownTimeout: 10,

			RateLimitEnabled:  false,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxMatchesPerDay:  1_000_000,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	// Validate output format
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Output.Precision < 0 || c.Output.Precision > 17 {
		return fmt.Errorf("invalid output precision: %d (must be between 0 and 17)", c.Output.Precision)
	}

	if err := c.ToEstimatorConfig().Validate(); err != nil {
		return fmt.Errorf("invalid ransac settings: %w", err)
	}

	// Validate server settings
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxBodyMB <= 0 {
		return fmt.Errorf("invalid max body size: %d (must be positive)", c.Server.MaxBodyMB)
	}
	if c.Server.MaxIterations <= 0 {
		return fmt.Errorf("invalid max iterations: %d (must be positive)", c.Server.MaxIterations)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.RequestsPerHour < 0 ||
		c.Server.MaxRequestsPerDay < 0 || c.Server.MaxMatchesPerDay < 0 {
		return fmt.Errorf("invalid rate limits: values must not be negative (0 disables a limit)")
	}

	return nil
}

// ToEstimatorConfig converts the config to the robust estimator configuration.
func (c *Config) ToEstimatorConfig() fundamental.Config {
	return fundamental.Config{
		Iterations: c.RANSAC.Iterations,
		Threshold:  c.RANSAC.Threshold,
		Seed:       c.RANSAC.Seed,
		Workers:    c.RANSAC.Workers,
		Metric:     fundamental.ResidualMetric(strings.ToLower(strings.TrimSpace(c.RANSAC.Metric))),
		Refine:     c.RANSAC.Refine,
	}
}
