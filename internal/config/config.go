// Package config loads service configuration from defaults, an optional YAML
// file, a .env file, and environment variable overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Vector     VectorConfig     `yaml:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Search     SearchConfig     `yaml:"search"`
	Learning   LearningConfig   `yaml:"learning"`
	Retention  RetentionConfig  `yaml:"retention"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the transports.
type ServerConfig struct {
	Mode         string        `yaml:"mode"` // stdio or http
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	APIKey       string        `yaml:"api_key"` // empty disables auth
}

// StorageConfig selects and configures the record repository backend.
type StorageConfig struct {
	Provider string `yaml:"provider"` // sqlite or postgres
	// SQLitePath is the database file; ":memory:" for tests.
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// VectorConfig selects and configures the vector index backend.
type VectorConfig struct {
	Provider   string `yaml:"provider"` // chromem or qdrant
	ChromePath string `yaml:"chromem_path"`
	Collection string `yaml:"collection"`
	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`
	Dimension  int    `yaml:"dimension"`
}

// EmbeddingsConfig configures the embedding provider. An empty APIKey means
// no embedder and keyword-only search.
type EmbeddingsConfig struct {
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBaseWait time.Duration `yaml:"retry_base_wait"`
	BreakerLimit  int           `yaml:"breaker_failure_threshold"`
	BreakerReset  time.Duration `yaml:"breaker_recovery_timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	CacheSize     int           `yaml:"cache_size"`
}

// AnalysisConfig holds the storage analyzer thresholds.
type AnalysisConfig struct {
	AutoStoreThreshold float64 `yaml:"auto_store_threshold"`
	SuggestThreshold   float64 `yaml:"suggest_threshold"`
	SuggestionTTL      time.Duration `yaml:"suggestion_ttl"`
}

// DedupConfig holds the duplicate detector thresholds.
type DedupConfig struct {
	ExactThreshold       float64 `yaml:"exact_threshold"`
	NearThreshold        float64 `yaml:"near_threshold"`
	RelatedThreshold     float64 `yaml:"related_threshold"`
	MinContentLength     int     `yaml:"min_content_length"`
	MaxSimilarPerDay     int     `yaml:"max_similar_per_day_per_category"`
	CandidateLimit       int     `yaml:"candidate_limit"`
	CandidateWindowDays  int     `yaml:"candidate_window_days"`
	ConfidenceAdjustment float64 `yaml:"confidence_adjustment"`
}

// SearchConfig holds ranking weights and recency decay buckets.
type SearchConfig struct {
	SemanticWeight float64 `yaml:"semantic_weight"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	RecencyWeight  float64 `yaml:"recency_weight"`
	DefaultLimit   int     `yaml:"default_limit"`
	MaxLimit       int     `yaml:"max_limit"`
}

// LearningConfig controls threshold adaptation.
type LearningConfig struct {
	AdjustmentStep float64 `yaml:"adjustment_step"`
	MaxThreshold   float64 `yaml:"max_threshold"`
	MinSamples     int     `yaml:"min_samples"`
}

// RetentionConfig controls cleanup of old conversations.
type RetentionConfig struct {
	OlderThanDays int `yaml:"older_than_days"`
	KeepMinimum   int `yaml:"keep_minimum"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Mode:         "stdio",
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Provider:   "sqlite",
			SQLitePath: "contextvault.db",
		},
		Vector: VectorConfig{
			Provider:   "chromem",
			ChromePath: "contextvault.vectors",
			Collection: "conversations",
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Dimension:  384,
		},
		Embeddings: EmbeddingsConfig{
			Model:         "text-embedding-3-small",
			MaxRetries:    2,
			RetryBaseWait: 500 * time.Millisecond,
			BreakerLimit:  5,
			BreakerReset:  60 * time.Second,
			RatePerMinute: 60,
			CacheSize:     1000,
		},
		Analysis: AnalysisConfig{
			AutoStoreThreshold: 0.85,
			SuggestThreshold:   0.60,
			SuggestionTTL:      24 * time.Hour,
		},
		Dedup: DedupConfig{
			ExactThreshold:       0.95,
			NearThreshold:        0.80,
			RelatedThreshold:     0.60,
			MinContentLength:     20,
			MaxSimilarPerDay:     5,
			CandidateLimit:       10,
			CandidateWindowDays:  90,
			ConfidenceAdjustment: 0.05,
		},
		Search: SearchConfig{
			SemanticWeight: 0.6,
			KeywordWeight:  0.3,
			RecencyWeight:  0.1,
			DefaultLimit:   10,
			MaxLimit:       100,
		},
		Learning: LearningConfig{
			AdjustmentStep: 0.02,
			MaxThreshold:   0.99,
			MinSamples:     20,
		},
		Retention: RetentionConfig{
			OlderThanDays: 365,
			KeepMinimum:   100,
		},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// Load builds the effective config: defaults, then the YAML file named by
// CONTEXTVAULT_CONFIG (if set), then .env, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONTEXTVAULT_CONFIG"); path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// .env is optional; missing file is fine.
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Mode, "CONTEXTVAULT_MODE")
	setString(&cfg.Server.Host, "CONTEXTVAULT_HOST")
	setInt(&cfg.Server.Port, "CONTEXTVAULT_PORT")
	setString(&cfg.Server.APIKey, "CONTEXTVAULT_API_KEY")

	setString(&cfg.Storage.Provider, "CONTEXTVAULT_STORAGE_PROVIDER")
	setString(&cfg.Storage.SQLitePath, "CONTEXTVAULT_SQLITE_PATH")
	setString(&cfg.Storage.PostgresDSN, "CONTEXTVAULT_POSTGRES_DSN")

	setString(&cfg.Vector.Provider, "CONTEXTVAULT_VECTOR_PROVIDER")
	setString(&cfg.Vector.ChromePath, "CONTEXTVAULT_CHROMEM_PATH")
	setString(&cfg.Vector.Collection, "CONTEXTVAULT_VECTOR_COLLECTION")
	setString(&cfg.Vector.QdrantHost, "QDRANT_HOST")
	setInt(&cfg.Vector.QdrantPort, "QDRANT_PORT")
	setInt(&cfg.Vector.Dimension, "CONTEXTVAULT_EMBEDDING_DIMENSION")

	setString(&cfg.Embeddings.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Embeddings.Model, "CONTEXTVAULT_EMBEDDING_MODEL")
	setString(&cfg.Embeddings.BaseURL, "OPENAI_BASE_URL")

	setFloat(&cfg.Analysis.AutoStoreThreshold, "CONTEXTVAULT_AUTO_STORE_THRESHOLD")
	setFloat(&cfg.Analysis.SuggestThreshold, "CONTEXTVAULT_SUGGEST_THRESHOLD")

	setInt(&cfg.Retention.OlderThanDays, "CONTEXTVAULT_RETENTION_DAYS")
	setInt(&cfg.Retention.KeepMinimum, "CONTEXTVAULT_RETENTION_KEEP_MIN")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid server mode: %s", c.Server.Mode)
	}
	switch c.Storage.Provider {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid storage provider: %s", c.Storage.Provider)
	}
	if c.Storage.Provider == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres storage requires a DSN")
	}
	switch c.Vector.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vector provider: %s", c.Vector.Provider)
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Vector.Dimension)
	}

	if err := validateThreshold("auto_store_threshold", c.Analysis.AutoStoreThreshold); err != nil {
		return err
	}
	if err := validateThreshold("suggest_threshold", c.Analysis.SuggestThreshold); err != nil {
		return err
	}
	if c.Analysis.SuggestThreshold > c.Analysis.AutoStoreThreshold {
		return fmt.Errorf("suggest_threshold (%.2f) cannot exceed auto_store_threshold (%.2f)",
			c.Analysis.SuggestThreshold, c.Analysis.AutoStoreThreshold)
	}

	if !(c.Dedup.ExactThreshold >= c.Dedup.NearThreshold && c.Dedup.NearThreshold >= c.Dedup.RelatedThreshold) {
		return fmt.Errorf("duplicate thresholds must be ordered exact >= near >= related")
	}

	sum := c.Search.SemanticWeight + c.Search.KeywordWeight + c.Search.RecencyWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("search ranking weights must sum to 1.0, got %.4f", sum)
	}

	if c.Retention.KeepMinimum < 0 || c.Retention.OlderThanDays < 0 {
		return fmt.Errorf("retention values cannot be negative")
	}
	return nil
}

func validateThreshold(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %.2f", name, v)
	}
	return nil
}

// RuntimeKeys are the preference keys that override config at request time.
// Values written under these keys take effect on the next request.
var RuntimeKeys = map[string]bool{
	"config.auto_store_threshold":             true,
	"config.suggest_threshold":                true,
	"config.max_similar_per_day_per_category": true,
}

// ApplyRuntimeOverride mutates a copy-safe view from a preference value.
// Unknown keys and malformed values are ignored.
func ApplyRuntimeOverride(cfg *Config, key string, value interface{}) {
	f, ok := toFloat(value)
	if !ok {
		return
	}
	switch strings.TrimSpace(key) {
	case "config.auto_store_threshold":
		if f >= 0 && f <= 1 {
			cfg.Analysis.AutoStoreThreshold = f
		}
	case "config.suggest_threshold":
		if f >= 0 && f <= 1 {
			cfg.Analysis.SuggestThreshold = f
		}
	case "config.max_similar_per_day_per_category":
		if f >= 0 {
			cfg.Dedup.MaxSimilarPerDay = int(f)
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
