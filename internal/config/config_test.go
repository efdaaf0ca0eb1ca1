package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad_mode", func(c *Config) { c.Server.Mode = "udp" }},
		{"bad_storage_provider", func(c *Config) { c.Storage.Provider = "mysql" }},
		{"postgres_without_dsn", func(c *Config) { c.Storage.Provider = "postgres" }},
		{"bad_vector_provider", func(c *Config) { c.Vector.Provider = "pinecone" }},
		{"zero_dimension", func(c *Config) { c.Vector.Dimension = 0 }},
		{"threshold_above_one", func(c *Config) { c.Analysis.AutoStoreThreshold = 1.5 }},
		{"suggest_above_auto", func(c *Config) {
			c.Analysis.SuggestThreshold = 0.9
			c.Analysis.AutoStoreThreshold = 0.8
		}},
		{"unordered_dedup_bands", func(c *Config) {
			c.Dedup.NearThreshold = 0.99
		}},
		{"weights_not_summing", func(c *Config) { c.Search.SemanticWeight = 0.9 }},
		{"negative_retention", func(c *Config) { c.Retention.OlderThanDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONTEXTVAULT_MODE", "http")
	t.Setenv("CONTEXTVAULT_PORT", "9090")
	t.Setenv("CONTEXTVAULT_AUTO_STORE_THRESHOLD", "0.9")
	t.Setenv("CONTEXTVAULT_SQLITE_PATH", ":memory:")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Server.Mode)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.9, cfg.Analysis.AutoStoreThreshold, 1e-9)
	assert.Equal(t, ":memory:", cfg.Storage.SQLitePath)
}

func TestApplyRuntimeOverride(t *testing.T) {
	t.Run("auto_store_threshold", func(t *testing.T) {
		cfg := Default()
		ApplyRuntimeOverride(cfg, "config.auto_store_threshold", 0.75)
		assert.InDelta(t, 0.75, cfg.Analysis.AutoStoreThreshold, 1e-9)
	})

	t.Run("json_number_value", func(t *testing.T) {
		cfg := Default()
		ApplyRuntimeOverride(cfg, "config.max_similar_per_day_per_category", json.Number("3"))
		assert.Equal(t, 3, cfg.Dedup.MaxSimilarPerDay)
	})

	t.Run("out_of_range_ignored", func(t *testing.T) {
		cfg := Default()
		ApplyRuntimeOverride(cfg, "config.auto_store_threshold", 1.7)
		assert.InDelta(t, 0.85, cfg.Analysis.AutoStoreThreshold, 1e-9)
	})

	t.Run("unknown_key_ignored", func(t *testing.T) {
		cfg := Default()
		ApplyRuntimeOverride(cfg, "config.bogus", 0.5)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("malformed_value_ignored", func(t *testing.T) {
		cfg := Default()
		ApplyRuntimeOverride(cfg, "config.suggest_threshold", "not a number")
		assert.InDelta(t, 0.60, cfg.Analysis.SuggestThreshold, 1e-9)
	})
}
