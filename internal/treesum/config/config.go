// Package config owns the configuration value object consumed by the
// core. It is loaded and validated here, then passed into the core by
// value; no component reads configuration from a global.
package config

import (
	"fmt"
	"time"

	"github.com/treesum/treesum/internal/treesum/lib"
	"github.com/treesum/treesum/internal/treesum/logger"
)

// Config is the complete configuration for a verification run.
type Config struct {
	// Algorithm is the content-hash algorithm identifier.
	Algorithm string `mapstructure:"algorithm"`

	// RetryCount bounds the attempts per file for transient failures.
	RetryCount int `mapstructure:"retry_count"`

	// AttemptTimeoutSeconds bounds the accessibility probe of one attempt.
	AttemptTimeoutSeconds int `mapstructure:"attempt_timeout_seconds"`

	// LargeFileThresholdBytes switches hashing to fixed-chunk streaming.
	LargeFileThresholdBytes int64 `mapstructure:"large_file_threshold_bytes"`

	// BreakerThreshold is the consecutive-failure count that opens a
	// circuit breaker; BreakerResetSeconds is its recovery timeout.
	BreakerThreshold    int `mapstructure:"breaker_threshold"`
	BreakerResetSeconds int `mapstructure:"breaker_reset_seconds"`

	// StrictMode escalates races and integrity mismatches to hard
	// failures. VerifyIntegrity enables snapshot comparison without the
	// escalation.
	StrictMode      bool `mapstructure:"strict_mode"`
	VerifyIntegrity bool `mapstructure:"verify_integrity"`

	// Workers is the size of the hashing worker pool. Zero means one
	// worker per CPU.
	Workers int `mapstructure:"workers"`

	// LogBatchSize and FlushIntervalSeconds tune the result-log writer.
	LogBatchSize         int `mapstructure:"log_batch_size"`
	FlushIntervalSeconds int `mapstructure:"flush_interval_seconds"`

	// IncludeSymlinks emits symlink descriptors during discovery.
	IncludeSymlinks bool `mapstructure:"include_symlinks"`

	// HistoryPath locates the run-history database. Empty disables the
	// audit trail.
	HistoryPath string `mapstructure:"history_path"`

	// Logging configures the telemetry logger.
	Logging logger.Config `mapstructure:"logging"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Algorithm:               lib.DefaultAlgorithm,
		RetryCount:              3,
		AttemptTimeoutSeconds:   30,
		LargeFileThresholdBytes: lib.DefaultLargeFileThreshold,
		BreakerThreshold:        5,
		BreakerResetSeconds:     60,
		LogBatchSize:            64,
		FlushIntervalSeconds:    2,
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for consistency. It is called by the
// loader and again by commands that accept flag overrides.
func (c *Config) Validate() error {
	supported := false
	for _, alg := range lib.SupportedAlgorithms() {
		if c.Algorithm == alg {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("unknown hash algorithm %q (supported: %v)", c.Algorithm, lib.SupportedAlgorithms())
	}
	if c.RetryCount < 1 {
		return fmt.Errorf("retry_count must be at least 1, got %d", c.RetryCount)
	}
	if c.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("attempt_timeout_seconds must be positive, got %d", c.AttemptTimeoutSeconds)
	}
	if c.LargeFileThresholdBytes <= 0 {
		return fmt.Errorf("large_file_threshold_bytes must be positive, got %d", c.LargeFileThresholdBytes)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be at least 1, got %d", c.BreakerThreshold)
	}
	if c.BreakerResetSeconds <= 0 {
		return fmt.Errorf("breaker_reset_seconds must be positive, got %d", c.BreakerResetSeconds)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.LogBatchSize < 1 {
		return fmt.Errorf("log_batch_size must be at least 1, got %d", c.LogBatchSize)
	}
	return nil
}

// AttemptTimeout returns the per-attempt probe timeout as a duration.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

// BreakerReset returns the breaker recovery timeout as a duration.
func (c *Config) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetSeconds) * time.Second
}

// FlushInterval returns the periodic flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}
