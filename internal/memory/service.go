// Package memory orchestrates the subsystems behind every user-facing
// operation: analysis, deduplication, persistence, indexing, enrichment,
// suggestions, and learning.
package memory

import (
	"context"
	"strings"

	"contextvault/internal/analysis"
	"contextvault/internal/config"
	contextmgr "contextvault/internal/context"
	"contextvault/internal/dedup"
	"contextvault/internal/learning"
	"contextvault/internal/logging"
	"contextvault/internal/monitoring"
	"contextvault/internal/search"
	"contextvault/internal/session"
	"contextvault/internal/storage"
	"contextvault/internal/suggestions"
	"contextvault/pkg/types"
)

// Service is the orchestration layer. Transports call it; it owns the write
// and read paths end to end.
type Service struct {
	cfg         *config.Config
	store       *storage.Store
	engine      *search.Engine
	analyzer    *analysis.Analyzer
	optimizer   *dedup.Optimizer
	learning    *learning.Engine
	suggestions *suggestions.Manager
	enricher    *contextmgr.Manager
	sessions    *session.Analyzer
	metrics     *monitoring.Metrics
	logger      logging.Logger
}

// Deps carries the constructed subsystems into the service.
type Deps struct {
	Config      *config.Config
	Store       *storage.Store
	Engine      *search.Engine
	Analyzer    *analysis.Analyzer
	Optimizer   *dedup.Optimizer
	Learning    *learning.Engine
	Suggestions *suggestions.Manager
	Enricher    *contextmgr.Manager
	Sessions    *session.Analyzer
	Metrics     *monitoring.Metrics
	Logger      logging.Logger
}

// NewService assembles the orchestration layer.
func NewService(d Deps) *Service {
	return &Service{
		cfg:         d.Config,
		store:       d.Store,
		engine:      d.Engine,
		analyzer:    d.Analyzer,
		optimizer:   d.Optimizer,
		learning:    d.Learning,
		suggestions: d.Suggestions,
		enricher:    d.Enricher,
		sessions:    d.Sessions,
		metrics:     d.Metrics,
		logger:      d.Logger.WithComponent("memory"),
	}
}

// RebuildIndex loads every stored conversation into the search engine.
// Called once at startup; the keyword index is process-local.
func (s *Service) RebuildIndex(ctx context.Context) error {
	const page = 500
	offset := 0
	total := 0
	for {
		convs, err := s.store.ListConversations(ctx, page, offset)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			break
		}
		for _, conv := range convs {
			if _, _, err := s.engine.Add(ctx, addRequestFor(conv)); err != nil {
				s.logger.WarnContext(ctx, "failed to index conversation", "id", conv.ID, "error", err.Error())
			}
		}
		total += len(convs)
		offset += page
	}
	s.logger.InfoContext(ctx, "search index rebuilt", "conversations", total)
	return nil
}

// addRequestFor maps a conversation onto a search engine add.
func addRequestFor(conv *types.Conversation) search.AddRequest {
	return search.AddRequest{
		ExternalID: conv.ID,
		Content:    conv.Content,
		Metadata:   searchMetadataFor(conv),
		Tags:       conv.Tags,
		Timestamp:  conv.Timestamp,
	}
}

// searchMetadataFor exposes the filterable fields to the search engine.
func searchMetadataFor(conv *types.Conversation) map[string]interface{} {
	md := map[string]interface{}{
		"tool_name":         conv.ToolName,
		"analysis_category": string(conv.Metadata.AnalysisCategory),
		"auto_stored":       conv.Metadata.AutoStored,
		"confidence":        conv.Metadata.Confidence,
		"timestamp":         conv.Timestamp.UTC().Format(search.MetadataTimeFormat),
	}
	if conv.ProjectID != nil {
		md["project_id"] = *conv.ProjectID
	}
	return md
}

// settings returns the effective configuration: the base config overlaid
// with any config.* preference overrides. Resolved per call so a preference
// write takes effect on the next request.
func (s *Service) settings(ctx context.Context) *config.Config {
	effective := *s.cfg
	prefs, err := s.store.ListPreferences(ctx, types.PreferenceCategoryGeneral)
	if err != nil {
		s.logger.WarnContext(ctx, "preference overrides unavailable, using base config", "error", err.Error())
		return &effective
	}
	for _, pref := range prefs {
		if strings.HasPrefix(pref.Key, "config.") {
			config.ApplyRuntimeOverride(&effective, pref.Key, pref.Value)
		}
	}
	return &effective
}

// ReloadConfig re-reads the runtime overrides and reports the effective
// analysis and dedup settings.
func (s *Service) ReloadConfig(ctx context.Context) map[string]interface{} {
	effective := s.settings(ctx)
	return map[string]interface{}{
		"auto_store_threshold":             effective.Analysis.AutoStoreThreshold,
		"suggest_threshold":                effective.Analysis.SuggestThreshold,
		"max_similar_per_day_per_category": effective.Dedup.MaxSimilarPerDay,
	}
}

// Store exposes the record repository for transports that need direct
// project and preference CRUD.
func (s *Service) Store() *storage.Store { return s.store }

// Suggestions exposes the suggestion manager.
func (s *Service) Suggestions() *suggestions.Manager { return s.suggestions }

// Sessions exposes the session analyzer.
func (s *Service) Sessions() *session.Analyzer { return s.sessions }

// Learning exposes the learning engine for threshold and stats queries.
func (s *Service) Learning() *learning.Engine { return s.learning }

// Metrics exposes the metrics registry.
func (s *Service) Metrics() *monitoring.Metrics { return s.metrics }
