package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextvault/internal/config"
	"contextvault/internal/logging"
	"contextvault/internal/search"
	"contextvault/pkg/types"
)

type stubSearcher struct {
	results   []types.SearchResult
	err       error
	content   map[string]string
	lastQuery search.Query
}

func (s *stubSearcher) Search(ctx context.Context, q search.Query) (*types.SearchResults, error) {
	s.lastQuery = q
	if s.err != nil {
		return nil, s.err
	}
	return &types.SearchResults{Results: s.results, Total: len(s.results)}, nil
}

func (s *stubSearcher) Get(externalID string) (string, bool) {
	c, ok := s.content[externalID]
	return c, ok
}

type stubCounter struct {
	count int
	err   error
}

func (s *stubCounter) CountSimilarToday(ctx context.Context, category types.Category) (int, error) {
	return s.count, s.err
}

func newOptimizer(t *testing.T, searcher CandidateSearcher, counter DailyCounter) *Optimizer {
	t.Helper()
	return NewOptimizer(config.Default().Dedup, searcher, counter, logging.NewNop())
}

// Shared vocabulary for jaccard fixtures. All words are long enough for the
// tokenizer and none is a stopword.
const commonWords = "alpha bravo charlie delta echo foxtrot golf hotel"

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, jaccard("alpha bravo", "bravo alpha"), 1e-9)
	assert.Zero(t, jaccard("alpha bravo", "charlie delta"))
	assert.Zero(t, jaccard("", "alpha"))
	// 6 shared tokens, 10 in the union.
	assert.InDelta(t, 0.6,
		jaccard("alpha bravo charlie delta echo foxtrot golf hotel",
			"alpha bravo charlie delta echo foxtrot india juliet"), 1e-9)
}

func TestSimilarity(t *testing.T) {
	t.Run("identical_after_trim", func(t *testing.T) {
		got := similarity("  alpha bravo  ", types.SearchResult{Content: "alpha bravo"}, Request{Category: types.CategorySolution})
		assert.InDelta(t, 1.0, got, 1e-9)
	})

	t.Run("same_category_bonus", func(t *testing.T) {
		candidate := types.SearchResult{
			Content:  commonWords + " india",
			Metadata: map[string]interface{}{"analysis_category": "solution"},
		}
		with := similarity(commonWords+" juliet", candidate, Request{Category: types.CategorySolution})
		without := similarity(commonWords+" juliet", candidate, Request{Category: types.CategoryDecision})
		assert.InDelta(t, categoryBonus, with-without, 1e-9)
	})

	t.Run("same_tool_bonus", func(t *testing.T) {
		candidate := types.SearchResult{
			Content:  commonWords + " india",
			Metadata: map[string]interface{}{"tool_name": "cursor"},
		}
		with := similarity(commonWords+" juliet", candidate, Request{ToolName: "cursor"})
		without := similarity(commonWords+" juliet", candidate, Request{ToolName: "claude"})
		assert.InDelta(t, toolBonus, with-without, 1e-9)
	})

	t.Run("same_project_bonus", func(t *testing.T) {
		candidate := types.SearchResult{
			Content:  commonWords + " india",
			Metadata: map[string]interface{}{"project_id": "p1"},
		}
		with := similarity(commonWords+" juliet", candidate, Request{Project: "p1"})
		without := similarity(commonWords+" juliet", candidate, Request{Project: "p2"})
		assert.InDelta(t, projectBonus, with-without, 1e-9)
	})

	t.Run("semantic_score_averaged", func(t *testing.T) {
		candidate := types.SearchResult{Content: "charlie delta", SemanticScore: 0.9}
		// jaccard is 0 here, so the blend is the mean of 0 and 0.9.
		got := similarity("alpha bravo", candidate, Request{Category: types.CategoryUnknown})
		assert.InDelta(t, 0.45, got, 1e-9)
	})

	t.Run("clamped_to_one", func(t *testing.T) {
		candidate := types.SearchResult{
			Content:       commonWords + " trailing",
			SemanticScore: 1.0,
			Metadata:      map[string]interface{}{"analysis_category": "solution"},
		}
		got := similarity(commonWords, candidate, Request{Category: types.CategorySolution})
		assert.LessOrEqual(t, got, 1.0)
	})
}

func TestClassify(t *testing.T) {
	cfg := config.Default().Dedup

	assert.Equal(t, types.MatchExact, classify(0.97, cfg.ExactThreshold, cfg.NearThreshold, cfg.RelatedThreshold))
	assert.Equal(t, types.MatchNear, classify(0.85, cfg.ExactThreshold, cfg.NearThreshold, cfg.RelatedThreshold))
	assert.Equal(t, types.MatchRelated, classify(0.65, cfg.ExactThreshold, cfg.NearThreshold, cfg.RelatedThreshold))
	assert.Equal(t, types.MatchUnrelated, classify(0.2, cfg.ExactThreshold, cfg.NearThreshold, cfg.RelatedThreshold))
}

func TestFindDuplicates(t *testing.T) {
	content := commonWords + " india juliet kilo lima"

	t.Run("empty_content_rejected", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{}, nil)
		_, err := o.FindDuplicates(context.Background(), "   ", types.CategorySolution)
		assert.Error(t, err)
	})

	t.Run("short_content_skipped", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{err: errors.New("should not be called")}, nil)
		matches, err := o.FindDuplicates(context.Background(), "tiny", types.CategorySolution)
		require.NoError(t, err)
		assert.Nil(t, matches)
	})

	t.Run("search_failure_fails_open", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{err: errors.New("index offline")}, nil)
		matches, err := o.FindDuplicates(context.Background(), content, types.CategorySolution)
		require.NoError(t, err)
		assert.Nil(t, matches)
	})

	t.Run("unrelated_candidates_dropped", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{results: []types.SearchResult{
			{ExternalID: "x", Content: "completely different words entirely unrelated topic"},
		}}, nil)
		matches, err := o.FindDuplicates(context.Background(), content, types.CategorySolution)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("sorted_by_similarity_then_id", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{results: []types.SearchResult{
			{ExternalID: "b", Content: content},
			{ExternalID: "c", Content: commonWords + " india juliet"},
			{ExternalID: "a", Content: content},
		}}, nil)
		matches, err := o.FindDuplicates(context.Background(), content, types.CategorySolution)
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "a", matches[0].ConversationID)
		assert.Equal(t, "b", matches[1].ConversationID)
		assert.Equal(t, "c", matches[2].ConversationID)
		assert.Equal(t, types.MatchExact, matches[0].MatchType)
	})

	t.Run("equal_similarity_prefers_most_recent", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{results: []types.SearchResult{
			{ExternalID: "abc", Content: content, Metadata: map[string]interface{}{"timestamp": "2026-08-19T10:00:00.000000000Z"}},
			{ExternalID: "zed", Content: content, Metadata: map[string]interface{}{"timestamp": "2026-08-20T10:00:00.000000000Z"}},
		}}, nil)
		matches, err := o.FindDuplicates(context.Background(), content, types.CategorySolution)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "zed", matches[0].ConversationID)
		assert.Equal(t, "abc", matches[1].ConversationID)
	})

	t.Run("candidate_fetch_scoped_to_project_and_window", func(t *testing.T) {
		searcher := &stubSearcher{}
		o := newOptimizer(t, searcher, nil)
		_, err := o.findMatches(context.Background(), Request{
			Content:  content,
			Category: types.CategorySolution,
			Project:  "p1",
		})
		require.NoError(t, err)

		keys := make(map[string]search.FilterOp, len(searcher.lastQuery.Filters))
		for _, f := range searcher.lastQuery.Filters {
			keys[f.Key] = f.Op
		}
		assert.Equal(t, search.FilterEq, keys["project_id"])
		assert.Equal(t, search.FilterGte, keys["timestamp"])
	})
}

func TestOptimize(t *testing.T) {
	content := commonWords + " india juliet kilo lima"

	t.Run("short_content_stores", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{}, nil)
		decision, err := o.Optimize(context.Background(), Request{Content: "tiny note", Category: types.CategorySolution})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionStore, decision.Type)
	})

	t.Run("no_matches_stores", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{}, nil)
		decision, err := o.Optimize(context.Background(), Request{Content: content, Category: types.CategorySolution})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionStore, decision.Type)
	})

	t.Run("exact_match_skips", func(t *testing.T) {
		o := newOptimizer(t, &stubSearcher{results: []types.SearchResult{
			{ExternalID: "existing", Content: content},
		}}, nil)
		decision, err := o.Optimize(context.Background(), Request{Content: content, Category: types.CategorySolution})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionSkip, decision.Type)
		assert.Equal(t, "existing", decision.TargetID)
	})

	t.Run("near_match_merges", func(t *testing.T) {
		existing := commonWords + " india"
		incoming := commonWords + " juliet"
		o := newOptimizer(t, &stubSearcher{
			results: []types.SearchResult{{
				ExternalID: "existing",
				Content:    existing,
				Metadata:   map[string]interface{}{"analysis_category": "solution"},
			}},
			content: map[string]string{"existing": existing},
		}, nil)
		decision, err := o.Optimize(context.Background(), Request{Content: incoming, Category: types.CategorySolution})
		require.NoError(t, err)
		require.Equal(t, types.DecisionMerge, decision.Type)
		assert.Equal(t, "existing", decision.TargetID)
		assert.Equal(t, existing+"\n---\n"+incoming, decision.MergedContent)
		assert.InDelta(t, config.Default().Dedup.ConfidenceAdjustment, decision.ConfidenceAdjustment, 1e-9)
	})

	t.Run("near_match_other_category_stores", func(t *testing.T) {
		existing := commonWords + " india"
		incoming := commonWords + " juliet"
		o := newOptimizer(t, &stubSearcher{
			results: []types.SearchResult{{
				ExternalID: "existing",
				Content:    existing,
				Metadata:   map[string]interface{}{"analysis_category": "decision"},
			}},
			content: map[string]string{"existing": existing},
		}, &stubCounter{count: 0})
		decision, err := o.Optimize(context.Background(), Request{Content: incoming, Category: types.CategorySolution})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionStore, decision.Type)
	})

	t.Run("merge_target_is_most_recent_same_category_near", func(t *testing.T) {
		existing := commonWords + " india"
		incoming := commonWords + " juliet"
		o := newOptimizer(t, &stubSearcher{
			results: []types.SearchResult{
				{
					ExternalID: "older",
					Content:    existing,
					Metadata: map[string]interface{}{
						"analysis_category": "solution",
						"timestamp":         "2026-08-19T10:00:00.000000000Z",
					},
				},
				{
					ExternalID: "newer",
					Content:    existing,
					Metadata: map[string]interface{}{
						"analysis_category": "solution",
						"timestamp":         "2026-08-20T10:00:00.000000000Z",
					},
				},
			},
			content: map[string]string{"older": existing, "newer": existing},
		}, nil)
		decision, err := o.Optimize(context.Background(), Request{Content: incoming, Category: types.CategorySolution})
		require.NoError(t, err)
		require.Equal(t, types.DecisionMerge, decision.Type)
		assert.Equal(t, "newer", decision.TargetID)
	})

	t.Run("merge_skips_higher_ranked_other_category", func(t *testing.T) {
		existing := commonWords + " india"
		incoming := commonWords + " juliet"
		o := newOptimizer(t, &stubSearcher{
			results: []types.SearchResult{
				{
					ExternalID:    "foreign",
					Content:       existing,
					SemanticScore: 0.95,
					Metadata:      map[string]interface{}{"analysis_category": "decision"},
				},
				{
					ExternalID: "same",
					Content:    existing,
					Metadata:   map[string]interface{}{"analysis_category": "solution"},
				},
			},
			content: map[string]string{"foreign": existing, "same": existing},
		}, nil)
		decision, err := o.Optimize(context.Background(), Request{Content: incoming, Category: types.CategorySolution})
		require.NoError(t, err)
		require.Equal(t, types.DecisionMerge, decision.Type)
		assert.Equal(t, "same", decision.TargetID)
	})

	relatedSearcher := func() *stubSearcher {
		// 7 of 11 tokens shared puts the candidate in the related band.
		return &stubSearcher{results: []types.SearchResult{
			{ExternalID: "existing", Content: "alpha bravo charlie delta echo foxtrot golf mike"},
		}}
	}
	relatedContent := "alpha bravo charlie delta echo foxtrot golf hotel india juliet"

	t.Run("related_match_stores_under_budget", func(t *testing.T) {
		o := newOptimizer(t, relatedSearcher(), &stubCounter{count: 2})
		decision, err := o.Optimize(context.Background(), Request{Content: relatedContent, Category: types.CategorySolution})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionStore, decision.Type)
	})

	t.Run("related_match_skips_at_budget", func(t *testing.T) {
		o := newOptimizer(t, relatedSearcher(), &stubCounter{count: config.Default().Dedup.MaxSimilarPerDay})
		decision, err := o.Optimize(context.Background(), Request{Content: relatedContent, Category: types.CategorySolution})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionSkip, decision.Type)
		assert.Equal(t, "existing", decision.TargetID)
	})

	t.Run("request_cap_overrides_config", func(t *testing.T) {
		o := newOptimizer(t, relatedSearcher(), &stubCounter{count: 2})
		decision, err := o.Optimize(context.Background(), Request{
			Content:   relatedContent,
			Category:  types.CategorySolution,
			MaxPerDay: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionSkip, decision.Type)
	})

	t.Run("counter_failure_fails_open", func(t *testing.T) {
		o := newOptimizer(t, relatedSearcher(), &stubCounter{err: errors.New("db offline")})
		decision, err := o.Optimize(context.Background(), Request{Content: relatedContent, Category: types.CategorySolution})
		require.NoError(t, err)
		assert.Equal(t, types.DecisionStore, decision.Type)
	})
}

func TestMergeContents(t *testing.T) {
	assert.Equal(t, "incoming", mergeContents("", "incoming"))
	assert.Equal(t, "old text with detail", mergeContents("old text with detail", "text with"))
	assert.Equal(t, "new text that contains old", mergeContents("old", "new text that contains old"))
	assert.Equal(t, "one\n---\ntwo", mergeContents("one", "two"))
}
