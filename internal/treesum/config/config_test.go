package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		cfg := Default()
		assert.NoError(t, cfg.Validate())
	})

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown algorithm", func(c *Config) { c.Algorithm = "rot13" }},
		{"empty algorithm", func(c *Config) { c.Algorithm = "" }},
		{"zero retries", func(c *Config) { c.RetryCount = 0 }},
		{"zero attempt timeout", func(c *Config) { c.AttemptTimeoutSeconds = 0 }},
		{"zero large-file threshold", func(c *Config) { c.LargeFileThresholdBytes = 0 }},
		{"zero breaker threshold", func(c *Config) { c.BreakerThreshold = 0 }},
		{"zero breaker reset", func(c *Config) { c.BreakerResetSeconds = 0 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"zero log batch size", func(c *Config) { c.LogBatchSize = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromString(t *testing.T) {
	t.Run("partial file overrides only what it names", func(t *testing.T) {
		cfg, err := LoadFromString(`
algorithm: blake3
retry_count: 7
strict_mode: true
logging:
  level: debug
`)
		require.NoError(t, err)
		assert.Equal(t, "blake3", cfg.Algorithm)
		assert.Equal(t, 7, cfg.RetryCount)
		assert.True(t, cfg.StrictMode)
		assert.Equal(t, "debug", cfg.Logging.Level)
		// Untouched keys keep their defaults.
		assert.Equal(t, Default().BreakerThreshold, cfg.BreakerThreshold)
		assert.Equal(t, Default().LargeFileThresholdBytes, cfg.LargeFileThresholdBytes)
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		_, err := LoadFromString("algorithm: whirlpool\n")
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	t.Run("explicit file is loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "treesum.yaml")
		require.NoError(t, os.WriteFile(path, []byte("algorithm: md5\nworkers: 2\n"), 0644))

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "md5", cfg.Algorithm)
		assert.Equal(t, 2, cfg.Workers)
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
