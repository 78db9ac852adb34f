package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigPaths returns the locations searched for a config file
// when none is named explicitly.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "treesum"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".treesum"))
	}
	return paths
}

// Load reads and validates a configuration file. If path is empty, the
// default locations are searched for treesum.yaml; a missing file is not
// an error and yields the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	applyDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("treesum")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound && path == "" {
			// No config file anywhere: run on defaults.
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromString parses configuration from a YAML string. Used by tests.
func LoadFromString(yamlContent string) (Config, error) {
	v := viper.New()
	applyDefaults(v)
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults seeds viper with the Default() values so partial files
// only override what they name.
func applyDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("algorithm", d.Algorithm)
	v.SetDefault("retry_count", d.RetryCount)
	v.SetDefault("attempt_timeout_seconds", d.AttemptTimeoutSeconds)
	v.SetDefault("large_file_threshold_bytes", d.LargeFileThresholdBytes)
	v.SetDefault("breaker_threshold", d.BreakerThreshold)
	v.SetDefault("breaker_reset_seconds", d.BreakerResetSeconds)
	v.SetDefault("strict_mode", d.StrictMode)
	v.SetDefault("verify_integrity", d.VerifyIntegrity)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("log_batch_size", d.LogBatchSize)
	v.SetDefault("flush_interval_seconds", d.FlushIntervalSeconds)
	v.SetDefault("include_symlinks", d.IncludeSymlinks)
	v.SetDefault("history_path", d.HistoryPath)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
