package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextvault/internal/analysis"
	"contextvault/internal/config"
	contextmgr "contextvault/internal/context"
	"contextvault/internal/dedup"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/learning"
	"contextvault/internal/logging"
	"contextvault/internal/monitoring"
	"contextvault/internal/search"
	"contextvault/internal/session"
	"contextvault/internal/storage"
	"contextvault/internal/suggestions"
	"contextvault/pkg/types"
)

// newTestService wires the full pipeline over sqlite :memory: with no
// embedding provider, the same shape the container builds in keyword-only
// mode.
func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Provider: "sqlite", SQLitePath: ":memory:"}
	logger := logging.NewNop()

	store, err := storage.NewStore(cfg.Storage, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	metrics := monitoring.NewMetrics()
	engine := search.NewEngine(cfg.Search, nil, nil, logger, metrics)
	learner := learning.NewEngine(cfg.Learning, cfg.Analysis, store, logger)

	return NewService(Deps{
		Config:      cfg,
		Store:       store,
		Engine:      engine,
		Analyzer:    analysis.NewAnalyzer(cfg.Analysis, learner, logger),
		Optimizer:   dedup.NewOptimizer(cfg.Dedup, engine, store, logger),
		Learning:    learner,
		Suggestions: suggestions.NewManager(cfg.Analysis.SuggestionTTL, learner, logger),
		Enricher:    contextmgr.NewManager(store, engine, logger),
		Sessions:    session.NewAnalyzer(store, logger),
		Metrics:     metrics,
		Logger:      logger,
	})
}

const (
	strongUser = "We decided to use postgres instead of mysql for the event store"
	strongAI   = "Agreed, decided to keep mysql out of the stack entirely."

	moderateUser = "Why did the importer keep crashing on startup?"
	moderateAI   = "The issue was an unclosed descriptor pool. Fixed by closing it on shutdown."

	chitchatUser = "hello there, how is everything going today"
	chitchatAI   = "All good, what can I help with?"
)

func TestProcessConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("strong_signal_auto_stores", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.ProcessConversation(ctx, strongUser, strongAI, "cursor")
		require.NoError(t, err)

		assert.Equal(t, ActionStored, result.Action)
		require.NotNil(t, result.Conversation)
		assert.True(t, result.Conversation.Metadata.AutoStored)
		assert.Equal(t, types.CategoryDecision, result.Conversation.Metadata.AnalysisCategory)
		assert.Contains(t, result.Conversation.Tags, "auto_stored")
		assert.Contains(t, result.Conversation.Tags, "decision")
		// No embedder is configured, so the vector omission is recorded.
		assert.True(t, result.Conversation.Metadata.IndexOmitted)

		stored, err := s.GetConversation(ctx, result.Conversation.ID)
		require.NoError(t, err)
		assert.Equal(t, result.Conversation.Content, stored.Content)

		hits, err := s.Search(ctx, SearchRequest{Query: "postgres event store", Mode: types.SearchModeKeyword})
		require.NoError(t, err)
		require.NotEmpty(t, hits.Results)
		assert.Equal(t, stored.ID, hits.Results[0].ExternalID)
	})

	t.Run("repeat_is_skipped_as_duplicate", func(t *testing.T) {
		s := newTestService(t)
		first, err := s.ProcessConversation(ctx, strongUser, strongAI, "cursor")
		require.NoError(t, err)
		require.Equal(t, ActionStored, first.Action)

		second, err := s.ProcessConversation(ctx, strongUser, strongAI, "cursor")
		require.NoError(t, err)
		assert.Equal(t, ActionSkipped, second.Action)
		require.NotNil(t, second.Conversation)
		assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

		n, err := s.store.CountConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("moderate_signal_raises_suggestion", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.ProcessConversation(ctx, moderateUser, moderateAI, "cursor")
		require.NoError(t, err)

		assert.Equal(t, ActionSuggested, result.Action)
		require.NotNil(t, result.Suggestion)
		assert.Equal(t, types.SuggestionPending, result.Suggestion.Status)

		n, err := s.store.CountConversations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("chitchat_is_ignored", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.ProcessConversation(ctx, chitchatUser, chitchatAI, "cursor")
		require.NoError(t, err)
		assert.Equal(t, ActionIgnored, result.Action)
		assert.Nil(t, result.Conversation)
		assert.Nil(t, result.Suggestion)
	})

	t.Run("empty_pair_rejected", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.ProcessConversation(ctx, "", "", "cursor")
		assert.Error(t, err)
	})
}

func TestSuggestionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("approve_stores_content", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.ProcessConversation(ctx, moderateUser, moderateAI, "cursor")
		require.NoError(t, err)
		require.Equal(t, ActionSuggested, result.Action)

		conv, err := s.ApproveSuggestion(ctx, result.Suggestion.ID, "", nil)
		require.NoError(t, err)
		assert.Equal(t, result.Suggestion.Analysis.SuggestedContent, conv.Content)
		assert.False(t, conv.Metadata.AutoStored)
		assert.Contains(t, conv.Tags, "suggested")
		assert.Contains(t, conv.Tags, "user_approved")

		stored, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "suggestion approved by user", stored.Metadata.StorageReason)
	})

	t.Run("approve_with_edited_content", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.ProcessConversation(ctx, moderateUser, moderateAI, "cursor")
		require.NoError(t, err)

		conv, err := s.ApproveSuggestion(ctx, result.Suggestion.ID, "the descriptor pool must be closed on shutdown", nil)
		require.NoError(t, err)
		assert.Equal(t, "the descriptor pool must be closed on shutdown", conv.Content)
	})

	t.Run("approve_with_extra_tags", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.ProcessConversation(ctx, moderateUser, moderateAI, "cursor")
		require.NoError(t, err)

		conv, err := s.ApproveSuggestion(ctx, result.Suggestion.ID, "", []string{"Importer", "startup"})
		require.NoError(t, err)
		assert.Contains(t, conv.Tags, "suggested")
		assert.Contains(t, conv.Tags, "user_approved")
		assert.Contains(t, conv.Tags, "importer")
		assert.Contains(t, conv.Tags, "startup")
	})

	t.Run("reject", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.ProcessConversation(ctx, moderateUser, moderateAI, "cursor")
		require.NoError(t, err)

		rejected, err := s.RejectSuggestion(ctx, result.Suggestion.ID, "not worth keeping")
		require.NoError(t, err)
		assert.Equal(t, types.SuggestionRejected, rejected.Status)

		// Resolving twice is an invalid transition.
		_, err = s.ApproveSuggestion(ctx, result.Suggestion.ID, "", nil)
		assert.Error(t, err)
	})
}

func TestStoreContext(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	t.Run("manual_store", func(t *testing.T) {
		conv, err := s.StoreContext(ctx, "remember that the staging cluster lives in eu-west-1", "cursor",
			[]string{"Infra", "staging"}, nil, map[string]interface{}{"source": "manual"})
		require.NoError(t, err)
		assert.Equal(t, types.CategoryManual, conv.Metadata.AnalysisCategory)
		assert.Contains(t, conv.Tags, "infra")
		assert.Equal(t, "manual", conv.Metadata.Extra["source"])
	})

	t.Run("empty_content", func(t *testing.T) {
		_, err := s.StoreContext(ctx, "  ", "cursor", nil, nil, nil)
		assert.Error(t, err)
	})

	t.Run("unknown_project", func(t *testing.T) {
		ghost := "ghost"
		_, err := s.StoreContext(ctx, "some content worth keeping", "cursor", nil, &ghost, nil)
		assert.Error(t, err)
	})
}

func TestEditAndCategorize(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	conv, err := s.StoreContext(ctx, "initial content about deployment workflow", "cursor", nil, nil, nil)
	require.NoError(t, err)

	t.Run("edit_reindexes", func(t *testing.T) {
		edited, err := s.EditConversation(ctx, conv.ID, "revised content about rollback procedure")
		require.NoError(t, err)
		assert.NotNil(t, edited.Metadata.LastEdited)

		hits, err := s.Search(ctx, SearchRequest{Query: "rollback procedure", Mode: types.SearchModeKeyword})
		require.NoError(t, err)
		require.NotEmpty(t, hits.Results)
		assert.Equal(t, conv.ID, hits.Results[0].ExternalID)
	})

	t.Run("update_category", func(t *testing.T) {
		updated, err := s.UpdateCategory(ctx, conv.ID, types.CategoryDecision)
		require.NoError(t, err)
		assert.Equal(t, types.CategoryDecision, updated.Metadata.AnalysisCategory)
		assert.NotNil(t, updated.Metadata.CategoryUpdated)

		_, err = s.UpdateCategory(ctx, conv.ID, types.CategoryUnknown)
		assert.Error(t, err)
	})

	t.Run("edit_missing", func(t *testing.T) {
		_, err := s.EditConversation(ctx, "missing", "content")
		assert.Error(t, err)
	})
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	conv, err := s.StoreContext(ctx, "short-lived content to delete", "cursor", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	// A second delete finds nothing to remove.
	err = s.DeleteConversation(ctx, conv.ID)
	assert.True(t, apperrors.IsNotFound(err))

	hits, err := s.Search(ctx, SearchRequest{Query: "short-lived content", Mode: types.SearchModeKeyword})
	require.NoError(t, err)
	assert.Empty(t, hits.Results)
}

func TestSearchFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.StoreContext(ctx, "cursor note about postgres indexes", "cursor", nil, nil, nil)
	require.NoError(t, err)
	_, err = s.StoreContext(ctx, "claude note about postgres indexes", "claude", nil, nil, nil)
	require.NoError(t, err)
	auto, err := s.ProcessConversation(ctx, strongUser, strongAI, "cursor")
	require.NoError(t, err)
	require.Equal(t, ActionStored, auto.Action)

	t.Run("tool", func(t *testing.T) {
		hits, err := s.Search(ctx, SearchRequest{Query: "postgres indexes", Mode: types.SearchModeKeyword, Tool: "claude"})
		require.NoError(t, err)
		require.Len(t, hits.Results, 1)
		assert.Equal(t, "claude", hits.Results[0].Metadata["tool_name"])
	})

	t.Run("auto_stored_only", func(t *testing.T) {
		hits, err := s.Search(ctx, SearchRequest{Query: "postgres", Mode: types.SearchModeKeyword, AutoStoredOnly: true})
		require.NoError(t, err)
		require.Len(t, hits.Results, 1)
		assert.Equal(t, auto.Conversation.ID, hits.Results[0].ExternalID)
	})

	t.Run("confidence_floor", func(t *testing.T) {
		// Manual stores carry zero confidence; only the analyzed one clears
		// the floor.
		hits, err := s.Search(ctx, SearchRequest{Query: "postgres", Mode: types.SearchModeKeyword, MinConfidence: 0.5})
		require.NoError(t, err)
		require.Len(t, hits.Results, 1)
		assert.Equal(t, auto.Conversation.ID, hits.Results[0].ExternalID)

		all, err := s.Search(ctx, SearchRequest{Query: "postgres", Mode: types.SearchModeKeyword})
		require.NoError(t, err)
		assert.Len(t, all.Results, 3)
	})
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.GetHistory(ctx, "", 10)
	assert.Error(t, err)

	_, err = s.StoreContext(ctx, "first cursor interaction", "cursor", nil, nil, nil)
	require.NoError(t, err)
	_, err = s.StoreContext(ctx, "second cursor interaction", "cursor", nil, nil, nil)
	require.NoError(t, err)

	history, err := s.GetHistory(ctx, "cursor", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestFindRelated(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	a, err := s.StoreContext(ctx, "conversation about the billing service", "cursor", nil, nil, nil)
	require.NoError(t, err)
	b, err := s.StoreContext(ctx, "unrelated note on keyboard shortcuts", "cursor", nil, nil, nil)
	require.NoError(t, err)
	similar, err := s.StoreContext(ctx, "followup on the billing service outage", "cursor", nil, nil, nil)
	require.NoError(t, err)

	link, err := types.NewContextLink(a.ID, b.ID, types.RelRelated, 0.9)
	require.NoError(t, err)
	require.NoError(t, s.store.SaveContextLink(ctx, link))

	related, err := s.FindRelated(ctx, a.ID, 10)
	require.NoError(t, err)

	byID := make(map[string]RelatedConversation, len(related))
	for _, r := range related {
		byID[r.Conversation.ID] = r
	}

	t.Run("content_search_finds_unlinked", func(t *testing.T) {
		r, ok := byID[similar.ID]
		require.True(t, ok)
		assert.Equal(t, relationshipSimilar, r.Relationship)
	})

	t.Run("links_supplement", func(t *testing.T) {
		r, ok := byID[b.ID]
		require.True(t, ok)
		assert.Equal(t, types.RelRelated, r.Relationship)
	})

	t.Run("excludes_itself", func(t *testing.T) {
		_, ok := byID[a.ID]
		assert.False(t, ok)
	})

	t.Run("missing_seed", func(t *testing.T) {
		_, err := s.FindRelated(ctx, "missing", 10)
		assert.Error(t, err)
	})
}

func TestCreateSessionSummaries(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	a, err := s.StoreContext(ctx, "hit a panic in the importer during startup", "cursor", nil, nil, nil)
	require.NoError(t, err)
	b, err := s.StoreContext(ctx, "importer panic fixed by closing the descriptor pool", "cursor", nil, nil, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	summaries, err := s.CreateSessionSummaries(ctx, now.Add(-time.Hour), now.Add(time.Hour), "cursor")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	summary := summaries[0]
	assert.Contains(t, summary.Tags, "session-summary")

	// The summary is searchable like any other memory.
	_, ok := s.engine.Get(summary.ID)
	assert.True(t, ok)

	// Each member carries exactly one link pair to the summary.
	for _, member := range []string{a.ID, b.ID} {
		links, err := s.store.LinksFor(ctx, member)
		require.NoError(t, err)
		assert.Len(t, links, 2)
	}

	_, err = s.CreateSessionSummaries(ctx, now, now, "cursor")
	assert.Error(t, err)
}

func TestBuildEnhancedContext(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	decision, err := s.StoreContext(ctx, "service mesh migration planning notes", "cursor", nil, nil, nil)
	require.NoError(t, err)
	_, err = s.UpdateCategory(ctx, decision.ID, types.CategoryDecision)
	require.NoError(t, err)
	solution, err := s.StoreContext(ctx, "service mesh sidecar crash remediation", "cursor", nil, nil, nil)
	require.NoError(t, err)
	_, err = s.UpdateCategory(ctx, solution.ID, types.CategorySolution)
	require.NoError(t, err)

	enhanced, err := s.BuildEnhancedContext(ctx, "service mesh", "", 10)
	require.NoError(t, err)
	require.Len(t, enhanced.GroupOrder, 2)
	// Decisions outrank solutions in the injected ordering.
	assert.Equal(t, string(types.CategoryDecision), enhanced.GroupOrder[0])
	assert.Equal(t, string(types.CategorySolution), enhanced.GroupOrder[1])
	assert.Len(t, enhanced.Groups[enhanced.GroupOrder[0]], 1)
}

func TestBulk(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	a, err := s.StoreContext(ctx, "bulk target alpha content", "cursor", nil, nil, nil)
	require.NoError(t, err)
	b, err := s.StoreContext(ctx, "bulk target bravo content", "cursor", nil, nil, nil)
	require.NoError(t, err)

	t.Run("validation", func(t *testing.T) {
		_, err := s.Bulk(ctx, BulkRequest{Operation: BulkDelete})
		assert.Error(t, err)
		_, err = s.Bulk(ctx, BulkRequest{Operation: "rename", IDs: []string{a.ID}})
		assert.Error(t, err)
		_, err = s.Bulk(ctx, BulkRequest{Operation: BulkAddTags, IDs: []string{a.ID}})
		assert.Error(t, err)
		_, err = s.Bulk(ctx, BulkRequest{Operation: BulkUpdateCategory, IDs: []string{a.ID}, Category: "bogus"})
		assert.Error(t, err)
	})

	t.Run("add_and_remove_tags", func(t *testing.T) {
		result, err := s.Bulk(ctx, BulkRequest{Operation: BulkAddTags, IDs: []string{a.ID, b.ID}, Tags: []string{"Reviewed"}})
		require.NoError(t, err)
		assert.Len(t, result.Succeeded, 2)
		assert.Nil(t, result.Failed)

		got, err := s.GetConversation(ctx, a.ID)
		require.NoError(t, err)
		assert.Contains(t, got.Tags, "reviewed")

		_, err = s.Bulk(ctx, BulkRequest{Operation: BulkRemoveTags, IDs: []string{a.ID}, Tags: []string{"reviewed"}})
		require.NoError(t, err)
		got, err = s.GetConversation(ctx, a.ID)
		require.NoError(t, err)
		assert.NotContains(t, got.Tags, "reviewed")
	})

	t.Run("export", func(t *testing.T) {
		result, err := s.Bulk(ctx, BulkRequest{Operation: BulkExport, IDs: []string{a.ID, b.ID}})
		require.NoError(t, err)
		assert.Len(t, result.Exported, 2)
	})

	t.Run("partial_failure", func(t *testing.T) {
		result, err := s.Bulk(ctx, BulkRequest{Operation: BulkDelete, IDs: []string{a.ID, "missing"}})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, result.Succeeded)
		require.NotNil(t, result.Failed)
		assert.Contains(t, result.Failed, "missing")
	})
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.ProcessConversation(ctx, strongUser, strongAI, "cursor")
	require.NoError(t, err)
	_, err = s.StoreContext(ctx, "manually stored operational note", "claude", nil, nil, nil)
	require.NoError(t, err)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalConversations)
	assert.Equal(t, 1, stats.AutoStored)
	assert.Equal(t, 1, stats.ByCategory[string(types.CategoryDecision)])
	assert.Equal(t, 1, stats.ByCategory[string(types.CategoryManual)])
	assert.Equal(t, 1, stats.ByTool["cursor"])
	assert.Equal(t, 1, stats.ByTool["claude"])
	assert.Greater(t, stats.StorageBytes, int64(0))
}

func TestRebuildIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	conv, err := types.NewConversation("cursor", "directly persisted row about caching", types.ConversationMetadata{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.store.SaveConversation(ctx, conv))

	require.NoError(t, s.RebuildIndex(ctx))
	assert.Equal(t, 1, s.engine.Count())

	hits, err := s.Search(ctx, SearchRequest{Query: "caching", Mode: types.SearchModeKeyword})
	require.NoError(t, err)
	require.Len(t, hits.Results, 1)
	assert.Equal(t, conv.ID, hits.Results[0].ExternalID)
}

func TestApplyRetentionDropsIndexEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	s.cfg.Retention = config.RetentionConfig{OlderThanDays: 30, KeepMinimum: 1}

	old, err := types.NewConversation("cursor", "stale content from last quarter", types.ConversationMetadata{}, nil)
	require.NoError(t, err)
	old.Timestamp = time.Now().UTC().AddDate(0, 0, -90)
	require.NoError(t, s.store.SaveConversation(ctx, old))
	_, err = s.StoreContext(ctx, "fresh content from today", "cursor", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.RebuildIndex(ctx))
	require.Equal(t, 2, s.engine.Count())

	result, err := s.ApplyRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, []string{old.ID}, result.DeletedIDs)
	assert.Equal(t, 1, s.engine.Count())
	_, ok := s.engine.Get(old.ID)
	assert.False(t, ok)
}

func TestCheckDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	conv, err := s.StoreContext(ctx, "the deploy pipeline requires a signed artifact manifest", "cursor", nil, nil, nil)
	require.NoError(t, err)

	matches, err := s.CheckDuplicate(ctx, conv.Content, types.CategoryManual)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, conv.ID, matches[0].ConversationID)
	assert.Equal(t, types.MatchExact, matches[0].MatchType)
}

func TestAnalyzeConversationIsDryRun(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	result, err := s.AnalyzeConversation(ctx, strongUser, strongAI, "cursor")
	require.NoError(t, err)
	assert.True(t, result.AutoStore)
	assert.Equal(t, types.CategoryDecision, result.Category)

	n, err := s.store.CountConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSuggestStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("auto_approve_resolves_suggestion", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.SuggestStorage(ctx, moderateUser, moderateAI, "cursor", true)
		require.NoError(t, err)
		assert.Equal(t, ActionStored, result.Action)
		require.NotNil(t, result.Conversation)

		stored, err := s.GetConversation(ctx, result.Conversation.ID)
		require.NoError(t, err)
		assert.Equal(t, "suggestion approved by user", stored.Metadata.StorageReason)
	})

	t.Run("without_auto_approve_stays_pending", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.SuggestStorage(ctx, moderateUser, moderateAI, "cursor", false)
		require.NoError(t, err)
		assert.Equal(t, ActionSuggested, result.Action)

		n, err := s.store.CountConversations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("strong_signal_stores_directly", func(t *testing.T) {
		s := newTestService(t)
		result, err := s.SuggestStorage(ctx, strongUser, strongAI, "cursor", true)
		require.NoError(t, err)
		assert.Equal(t, ActionStored, result.Action)
		assert.True(t, result.Conversation.Metadata.AutoStored)
	})
}

func TestBrowseRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	old, err := types.NewConversation("cursor", "two day old note about migrations", types.ConversationMetadata{}, nil)
	require.NoError(t, err)
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.store.SaveConversation(ctx, old))

	_, err = s.StoreContext(ctx, "fresh cursor note", "cursor", nil, nil, nil)
	require.NoError(t, err)
	claude, err := s.StoreContext(ctx, "fresh claude note", "claude", nil, nil, nil)
	require.NoError(t, err)

	t.Run("default_window_excludes_old", func(t *testing.T) {
		convs, err := s.BrowseRecent(ctx, 0, 0, "")
		require.NoError(t, err)
		assert.Len(t, convs, 2)
	})

	t.Run("wider_window_includes_old", func(t *testing.T) {
		convs, err := s.BrowseRecent(ctx, 72, 0, "")
		require.NoError(t, err)
		assert.Len(t, convs, 3)
	})

	t.Run("tool_filter", func(t *testing.T) {
		convs, err := s.BrowseRecent(ctx, 0, 0, "claude")
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, claude.ID, convs[0].ID)
	})
}

func TestBrowseByCategory(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	manual, err := s.StoreContext(ctx, "manual note kept on purpose", "cursor", nil, nil, nil)
	require.NoError(t, err)
	decision, err := s.StoreContext(ctx, "note that becomes a decision", "claude", nil, nil, nil)
	require.NoError(t, err)
	_, err = s.UpdateCategory(ctx, decision.ID, types.CategoryDecision)
	require.NoError(t, err)

	t.Run("rejects_non_storable_category", func(t *testing.T) {
		_, err := s.BrowseByCategory(ctx, types.CategoryUnknown, "", 0)
		assert.Error(t, err)
	})

	t.Run("filters_by_category", func(t *testing.T) {
		convs, err := s.BrowseByCategory(ctx, types.CategoryManual, "", 0)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, manual.ID, convs[0].ID)
	})

	t.Run("tool_filter_narrows_further", func(t *testing.T) {
		convs, err := s.BrowseByCategory(ctx, types.CategoryManual, "claude", 0)
		require.NoError(t, err)
		assert.Empty(t, convs)
	})
}

func TestReloadConfigReflectsOverrides(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	before := s.ReloadConfig(ctx)
	assert.InDelta(t, 0.85, before["auto_store_threshold"].(float64), 1e-9)

	require.NoError(t, s.store.SetPreference(ctx, &types.Preference{
		Key: "config.auto_store_threshold", Value: 0.7, Category: types.PreferenceCategoryGeneral,
	}))
	after := s.ReloadConfig(ctx)
	assert.InDelta(t, 0.7, after["auto_store_threshold"].(float64), 1e-9)
}
