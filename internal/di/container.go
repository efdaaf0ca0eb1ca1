// Package di wires the application together in dependency order: storage,
// vector index, embeddings, search, analysis, learning, and the
// orchestration service on top.
package di

import (
	"context"
	"fmt"
	"time"

	"contextvault/internal/analysis"
	"contextvault/internal/circuitbreaker"
	"contextvault/internal/config"
	contextmgr "contextvault/internal/context"
	"contextvault/internal/dedup"
	"contextvault/internal/embeddings"
	"contextvault/internal/learning"
	"contextvault/internal/logging"
	"contextvault/internal/memory"
	"contextvault/internal/monitoring"
	"contextvault/internal/retry"
	"contextvault/internal/search"
	"contextvault/internal/session"
	"contextvault/internal/storage"
	"contextvault/internal/suggestions"
	"contextvault/internal/vector"
)

// Container holds every constructed dependency.
type Container struct {
	Config      *config.Config
	Logger      logging.Logger
	Store       *storage.Store
	VectorIndex vector.Index
	Embedder    embeddings.Service
	Engine      *search.Engine
	Analyzer    *analysis.Analyzer
	Optimizer   *dedup.Optimizer
	Learning    *learning.Engine
	Suggestions *suggestions.Manager
	Enricher    *contextmgr.Manager
	Sessions    *session.Analyzer
	Metrics     *monitoring.Metrics
	Health      *monitoring.HealthChecker

	Memory *memory.Service
}

// NewContainer builds the full dependency graph. Storage and the vector
// index are required; the embedder is optional and its absence degrades
// search to keyword-only.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level)),
	}

	store, err := storage.NewStore(cfg.Storage, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Store = store

	index, err := newVectorIndex(ctx, cfg, c.Logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = index

	c.Embedder = newEmbedder(cfg, c.Logger)
	c.Metrics = monitoring.NewMetrics()

	c.Engine = search.NewEngine(cfg.Search, c.Embedder, c.VectorIndex, c.Logger, c.Metrics)
	c.Learning = learning.NewEngine(cfg.Learning, cfg.Analysis, c.Store, c.Logger)
	c.Analyzer = analysis.NewAnalyzer(cfg.Analysis, c.Learning, c.Logger)
	c.Optimizer = dedup.NewOptimizer(cfg.Dedup, c.Engine, c.Store, c.Logger)
	c.Suggestions = suggestions.NewManager(cfg.Analysis.SuggestionTTL, c.Learning, c.Logger)
	c.Enricher = contextmgr.NewManager(c.Store, c.Engine, c.Logger)
	c.Sessions = session.NewAnalyzer(c.Store, c.Logger)

	c.Health = monitoring.NewHealthChecker(c.Metrics)
	c.Health.Register("storage", c.Store.Ping)
	c.Health.Register("vector_index", c.VectorIndex.Health)
	if c.Embedder != nil {
		c.Health.Register("embeddings", c.Embedder.Health)
	}

	c.Memory = memory.NewService(memory.Deps{
		Config:      cfg,
		Store:       c.Store,
		Engine:      c.Engine,
		Analyzer:    c.Analyzer,
		Optimizer:   c.Optimizer,
		Learning:    c.Learning,
		Suggestions: c.Suggestions,
		Enricher:    c.Enricher,
		Sessions:    c.Sessions,
		Metrics:     c.Metrics,
		Logger:      c.Logger,
	})
	return c, nil
}

// newVectorIndex selects the vector backend by provider.
func newVectorIndex(ctx context.Context, cfg *config.Config, logger logging.Logger) (vector.Index, error) {
	switch cfg.Vector.Provider {
	case "qdrant":
		return vector.NewQdrantIndex(ctx, cfg.Vector, logger)
	case "", "chromem":
		return vector.NewChromemIndex(cfg.Vector, logger)
	}
	return nil, fmt.Errorf("unknown vector provider %q", cfg.Vector.Provider)
}

// newEmbedder builds the embedding stack: provider, then retries, then a
// circuit breaker. Returns nil without an API key.
func newEmbedder(cfg *config.Config, logger logging.Logger) embeddings.Service {
	if cfg.Embeddings.APIKey == "" {
		logger.Warn("no embeddings api key configured, search runs keyword-only")
		return nil
	}
	base := embeddings.NewOpenAIService(cfg.Embeddings, cfg.Vector.Dimension)

	var retryCfg *retry.Config
	if cfg.Embeddings.MaxRetries > 0 {
		retryCfg = retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.Embeddings.MaxRetries
		if cfg.Embeddings.RetryBaseWait > 0 {
			retryCfg.BaseDelay = cfg.Embeddings.RetryBaseWait
		}
	}
	retried := embeddings.NewRetryableService(base, retryCfg)

	var breakerCfg *circuitbreaker.Config
	if cfg.Embeddings.BreakerLimit > 0 {
		breakerCfg = circuitbreaker.DefaultConfig()
		breakerCfg.FailureThreshold = cfg.Embeddings.BreakerLimit
		if cfg.Embeddings.BreakerReset > 0 {
			breakerCfg.RecoveryTimeout = cfg.Embeddings.BreakerReset
		}
	}
	return embeddings.NewCircuitBreakerService(retried, breakerCfg, logger)
}

// Start loads the search index from storage and begins background cleanup.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Memory.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("failed to rebuild search index: %w", err)
	}
	c.Suggestions.StartCleanupLoop(ctx, time.Hour)
	return nil
}

// Shutdown closes backend connections in reverse dependency order.
func (c *Container) Shutdown() error {
	var firstErr error
	if c.VectorIndex != nil {
		if err := c.VectorIndex.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close vector index: %w", err)
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return firstErr
}
