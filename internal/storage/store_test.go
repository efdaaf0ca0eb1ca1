package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
	"contextvault/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(config.StorageConfig{Provider: "sqlite", SQLitePath: ":memory:"}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newConv(t *testing.T, content string, ts time.Time) *types.Conversation {
	t.Helper()
	conv, err := types.NewConversation("cursor", content, types.ConversationMetadata{}, nil)
	require.NoError(t, err)
	if !ts.IsZero() {
		conv.Timestamp = ts
	}
	return conv
}

func TestStoreOpenAndPing(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, "sqlite", s.Provider())
	assert.NoError(t, s.Ping(context.Background()))

	_, err := NewStore(config.StorageConfig{Provider: "dynamo"}, logging.NewNop())
	assert.Error(t, err)
}

func TestConversationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("save_and_get_round_trip", func(t *testing.T) {
		conv := newConv(t, "postgres tuning notes", time.Time{})
		conv.Metadata = types.ConversationMetadata{
			AutoStored:       true,
			Confidence:       0.9,
			AnalysisCategory: types.CategorySolution,
		}
		conv.Tags = []string{"db", "tuning"}
		require.NoError(t, s.SaveConversation(ctx, conv))

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.Content, got.Content)
		assert.Equal(t, conv.ToolName, got.ToolName)
		assert.True(t, got.Metadata.AutoStored)
		assert.InDelta(t, 0.9, got.Metadata.Confidence, 1e-9)
		assert.Equal(t, types.CategorySolution, got.Metadata.AnalysisCategory)
		assert.Equal(t, []string{"db", "tuning"}, got.Tags)
		assert.Nil(t, got.ProjectID)
		assert.True(t, got.Timestamp.Equal(conv.Timestamp))
	})

	t.Run("save_replaces_existing", func(t *testing.T) {
		conv := newConv(t, "first version", time.Time{})
		require.NoError(t, s.SaveConversation(ctx, conv))
		conv.Content = "second version"
		require.NoError(t, s.SaveConversation(ctx, conv))

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "second version", got.Content)
	})

	t.Run("invalid_conversation_rejected", func(t *testing.T) {
		conv := newConv(t, "content", time.Time{})
		conv.Metadata.AnalysisCategory = "bogus"
		assert.Error(t, s.SaveConversation(ctx, conv))
	})

	t.Run("get_missing", func(t *testing.T) {
		_, err := s.GetConversation(ctx, "missing")
		assert.True(t, apperrors.IsNotFound(err))
		_, err = s.GetConversation(ctx, "")
		assert.Error(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		conv := newConv(t, "to be deleted", time.Time{})
		require.NoError(t, s.SaveConversation(ctx, conv))
		require.NoError(t, s.DeleteConversation(ctx, conv.ID))

		_, err := s.GetConversation(ctx, conv.ID)
		assert.True(t, apperrors.IsNotFound(err))
		assert.True(t, apperrors.IsNotFound(s.DeleteConversation(ctx, conv.ID)))
	})

	t.Run("delete_removes_links", func(t *testing.T) {
		a := newConv(t, "link endpoint a", time.Time{})
		b := newConv(t, "link endpoint b", time.Time{})
		require.NoError(t, s.SaveConversation(ctx, a))
		require.NoError(t, s.SaveConversation(ctx, b))

		link, err := types.NewContextLink(a.ID, b.ID, types.RelRelated, 0.8)
		require.NoError(t, err)
		require.NoError(t, s.SaveContextLink(ctx, link))

		require.NoError(t, s.DeleteConversation(ctx, a.ID))
		links, err := s.LinksFor(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, links)
	})
}

func TestConversationQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	older := newConv(t, "older cursor conversation", base)
	newer := newConv(t, "newer cursor conversation", base.Add(10*time.Minute))
	other := newConv(t, "claude conversation", base.Add(5*time.Minute))
	other.ToolName = "claude"
	for _, c := range []*types.Conversation{older, newer, other} {
		require.NoError(t, s.SaveConversation(ctx, c))
	}

	t.Run("recent_by_tool", func(t *testing.T) {
		got, err := s.RecentByTool(ctx, "Cursor", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, newer.ID, got[0].ID)
		assert.Equal(t, older.ID, got[1].ID)

		got, err = s.RecentByTool(ctx, "cursor", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, newer.ID, got[0].ID)
	})

	t.Run("recent_since", func(t *testing.T) {
		got, err := s.RecentSince(ctx, base.Add(5*time.Minute), "", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, newer.ID, got[0].ID)
		assert.Equal(t, other.ID, got[1].ID)

		got, err = s.RecentSince(ctx, base, "Claude", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, other.ID, got[0].ID)
	})

	t.Run("by_time_range_ascending", func(t *testing.T) {
		got, err := s.ByTimeRange(ctx, base, base.Add(6*time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, older.ID, got[0].ID)
		assert.Equal(t, other.ID, got[1].ID)
	})

	t.Run("search_by_content", func(t *testing.T) {
		got, err := s.SearchByContent(ctx, "CURSOR conversation", 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		_, err = s.SearchByContent(ctx, "", 10)
		assert.Error(t, err)
	})

	t.Run("list_with_paging", func(t *testing.T) {
		page1, err := s.ListConversations(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, page1, 2)
		assert.Equal(t, newer.ID, page1[0].ID)

		page2, err := s.ListConversations(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page2, 1)
		assert.Equal(t, older.ID, page2[0].ID)
	})

	t.Run("counts", func(t *testing.T) {
		n, err := s.CountConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestTimestampOrderingSubSecond(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	// A whole-second timestamp and a sub-second one inside the same second
	// must still order chronologically under the lexical ORDER BY.
	whole := newConv(t, "written on the whole second", base)
	half := newConv(t, "written half a second later", base.Add(500*time.Millisecond))
	require.NoError(t, s.SaveConversation(ctx, whole))
	require.NoError(t, s.SaveConversation(ctx, half))

	got, err := s.RecentByTool(ctx, "cursor", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, half.ID, got[0].ID)
	assert.Equal(t, whole.ID, got[1].ID)
	assert.True(t, got[0].Timestamp.Equal(half.Timestamp))
}

func TestCountSimilarToday(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	optimized := newConv(t, "optimized solution stored today", now)
	optimized.Metadata.AnalysisCategory = types.CategorySolution
	optimized.Metadata.OptimizationApplied = true

	plain := newConv(t, "plain solution stored today", now)
	plain.Metadata.AnalysisCategory = types.CategorySolution

	otherCat := newConv(t, "optimized decision stored today", now)
	otherCat.Metadata.AnalysisCategory = types.CategoryDecision
	otherCat.Metadata.OptimizationApplied = true

	for _, c := range []*types.Conversation{optimized, plain, otherCat} {
		require.NoError(t, s.SaveConversation(ctx, c))
	}

	n, err := s.CountSimilarToday(ctx, types.CategorySolution)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountSimilarToday(ctx, types.CategoryPreference)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	project := func(name string, accessed time.Time) *types.Project {
		return &types.Project{
			ID:           uuid.New().String(),
			Name:         name,
			CreatedAt:    now,
			LastAccessed: accessed,
		}
	}

	t.Run("save_get_and_by_name", func(t *testing.T) {
		p := project("contextvault", now)
		path := "/home/dev/contextvault"
		p.Path = &path
		require.NoError(t, s.SaveProject(ctx, p))

		got, err := s.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "contextvault", got.Name)
		require.NotNil(t, got.Path)
		assert.Equal(t, path, *got.Path)

		byName, err := s.GetProjectByName(ctx, "contextvault")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byName.ID)

		_, err = s.GetProjectByName(ctx, "nope")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("name_required", func(t *testing.T) {
		assert.Error(t, s.SaveProject(ctx, project("  ", now)))
	})

	t.Run("list_ordered_by_last_access", func(t *testing.T) {
		stale := project("stale", now.Add(-time.Hour))
		busy := project("busy", now.Add(time.Hour))
		require.NoError(t, s.SaveProject(ctx, stale))
		require.NoError(t, s.SaveProject(ctx, busy))

		all, err := s.ListProjects(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(all), 2)
		assert.Equal(t, "busy", all[0].Name)
	})

	t.Run("touch", func(t *testing.T) {
		p := project("touched", now.Add(-24*time.Hour))
		require.NoError(t, s.SaveProject(ctx, p))
		require.NoError(t, s.TouchProject(ctx, p.ID))

		got, err := s.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, got.LastAccessed.After(p.LastAccessed))

		assert.True(t, apperrors.IsNotFound(s.TouchProject(ctx, "missing")))
	})

	t.Run("delete_clears_conversation_refs", func(t *testing.T) {
		p := project("doomed", now)
		require.NoError(t, s.SaveProject(ctx, p))

		conv := newConv(t, "belongs to doomed project", time.Time{})
		conv.ProjectID = &p.ID
		require.NoError(t, s.SaveConversation(ctx, conv))

		require.NoError(t, s.DeleteProject(ctx, p.ID))
		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ProjectID)

		assert.True(t, apperrors.IsNotFound(s.DeleteProject(ctx, p.ID)))
	})
}

func TestPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("set_get_round_trip", func(t *testing.T) {
		pref := &types.Preference{
			Key:      "config.auto_store_threshold",
			Value:    0.75,
			Category: types.PreferenceCategoryGeneral,
		}
		require.NoError(t, s.SetPreference(ctx, pref))

		got, err := s.GetPreference(ctx, pref.Key, pref.Category)
		require.NoError(t, err)
		assert.InDelta(t, 0.75, got.Value.(float64), 1e-9)
		assert.False(t, got.UpdatedAt.IsZero())

		// Same key in another category is a distinct row.
		_, err = s.GetPreference(ctx, pref.Key, types.PreferenceCategoryLearning)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("set_overwrites", func(t *testing.T) {
		pref := &types.Preference{Key: "style", Value: "tabs", Category: types.PreferenceCategoryGeneral}
		require.NoError(t, s.SetPreference(ctx, pref))
		pref.Value = "spaces"
		require.NoError(t, s.SetPreference(ctx, pref))

		got, err := s.GetPreference(ctx, "style", types.PreferenceCategoryGeneral)
		require.NoError(t, err)
		assert.Equal(t, "spaces", got.Value)
	})

	t.Run("list_by_category", func(t *testing.T) {
		require.NoError(t, s.SetPreference(ctx, &types.Preference{
			Key: "learning.stats.solution", Value: map[string]interface{}{"total": 3},
			Category: types.PreferenceCategoryLearning,
		}))

		learning, err := s.ListPreferences(ctx, types.PreferenceCategoryLearning)
		require.NoError(t, err)
		require.Len(t, learning, 1)
		assert.Equal(t, "learning.stats.solution", learning[0].Key)

		all, err := s.ListPreferences(ctx, "")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 3)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.SetPreference(ctx, &types.Preference{
			Key: "ephemeral", Value: true, Category: types.PreferenceCategoryGeneral,
		}))
		require.NoError(t, s.DeletePreference(ctx, "ephemeral", types.PreferenceCategoryGeneral))
		assert.True(t, apperrors.IsNotFound(s.DeletePreference(ctx, "ephemeral", types.PreferenceCategoryGeneral)))
	})
}

func TestContextLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newConv(t, "conversation a", time.Time{})
	b := newConv(t, "conversation b", time.Time{})
	require.NoError(t, s.SaveConversation(ctx, a))
	require.NoError(t, s.SaveConversation(ctx, b))

	t.Run("endpoints_must_exist", func(t *testing.T) {
		link, err := types.NewContextLink(a.ID, "ghost", types.RelRelated, 0.5)
		require.NoError(t, err)
		assert.True(t, apperrors.IsNotFound(s.SaveContextLink(ctx, link)))
	})

	t.Run("links_for_both_directions", func(t *testing.T) {
		forward, err := types.NewContextLink(a.ID, b.ID, types.RelRelated, 0.8)
		require.NoError(t, err)
		require.NoError(t, s.SaveContextLink(ctx, forward))

		backward, err := types.NewContextLink(b.ID, a.ID, types.RelRelated, 0.6)
		require.NoError(t, err)
		require.NoError(t, s.SaveContextLink(ctx, backward))

		links, err := s.LinksFor(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, links, 2)
	})

	t.Run("delete_link", func(t *testing.T) {
		link, err := types.NewContextLink(a.ID, b.ID, types.RelRelated, 0.4)
		require.NoError(t, err)
		require.NoError(t, s.SaveContextLink(ctx, link))
		require.NoError(t, s.DeleteContextLink(ctx, link.ID))
		assert.True(t, apperrors.IsNotFound(s.DeleteContextLink(ctx, link.ID)))
	})
}

func TestCheckIntegrity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newConv(t, "integrity subject a", time.Time{})
	b := newConv(t, "integrity subject b", time.Time{})
	require.NoError(t, s.SaveConversation(ctx, a))
	require.NoError(t, s.SaveConversation(ctx, b))

	// Orphan a link by removing its endpoint behind the repository's back.
	link, err := types.NewContextLink(a.ID, b.ID, types.RelRelated, 0.9)
	require.NoError(t, err)
	require.NoError(t, s.SaveContextLink(ctx, link))
	_, err = s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, b.ID)
	require.NoError(t, err)

	// Dangling project reference.
	ghost := "ghost-project"
	c := newConv(t, "points at a missing project", time.Time{})
	c.ProjectID = &ghost
	require.NoError(t, s.SaveConversation(ctx, c))

	// Duplicate content.
	dup := newConv(t, "integrity subject a", time.Time{})
	require.NoError(t, s.SaveConversation(ctx, dup))

	report, err := s.CheckIntegrity(ctx, true)
	require.NoError(t, err)

	kinds := make(map[string]int)
	for _, issue := range report.Issues {
		kinds[issue.Kind]++
	}
	assert.Equal(t, 1, kinds[IssueOrphanedLink])
	assert.Equal(t, 1, kinds[IssueDanglingProject])
	assert.Equal(t, 1, kinds[IssueDuplicateContent])
	assert.Equal(t, 2, report.AutoFixed)

	// The orphaned link is gone and the project ref is cleared.
	links, err := s.LinksFor(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
	fixed, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, fixed.ProjectID)

	// A second pass over the repaired database is clean.
	report, err = s.CheckIntegrity(ctx, false)
	require.NoError(t, err)
	for _, issue := range report.Issues {
		assert.Equal(t, IssueDuplicateContent, issue.Kind)
	}
}

func TestApplyRetention(t *testing.T) {
	ctx := context.Background()

	t.Run("below_floor_untouched", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.SaveConversation(ctx, newConv(t, "ancient", time.Now().UTC().AddDate(0, 0, -400))))

		result, err := s.ApplyRetention(ctx, config.RetentionConfig{OlderThanDays: 30, KeepMinimum: 100})
		require.NoError(t, err)
		assert.Zero(t, result.Deleted)
		assert.Equal(t, 1, result.Kept)
		assert.Empty(t, result.DeletedIDs)
	})

	t.Run("deletes_oldest_first_keeping_minimum", func(t *testing.T) {
		s := newTestStore(t)
		now := time.Now().UTC().Truncate(time.Second)
		oldest := newConv(t, "oldest row", now.AddDate(0, 0, -90))
		old := newConv(t, "old row", now.AddDate(0, 0, -60))
		borderline := newConv(t, "borderline row", now.AddDate(0, 0, -40))
		fresh := newConv(t, "fresh row", now)
		for _, c := range []*types.Conversation{oldest, old, borderline, fresh} {
			require.NoError(t, s.SaveConversation(ctx, c))
		}

		result, err := s.ApplyRetention(ctx, config.RetentionConfig{OlderThanDays: 30, KeepMinimum: 2})
		require.NoError(t, err)
		assert.Equal(t, 4, result.Examined)
		assert.Equal(t, 2, result.Deleted)
		assert.Equal(t, 2, result.Kept)
		assert.ElementsMatch(t, []string{oldest.ID, old.ID}, result.DeletedIDs)

		_, err = s.GetConversation(ctx, oldest.ID)
		assert.True(t, apperrors.IsNotFound(err))
		_, err = s.GetConversation(ctx, fresh.ID)
		assert.NoError(t, err)
	})
}

func TestStatsAndVacuum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConversation(ctx, newConv(t, "one stored conversation", time.Time{})))
	require.NoError(t, s.SetPreference(ctx, &types.Preference{
		Key: "k", Value: "v", Category: types.PreferenceCategoryGeneral,
	}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 1, stats.Preferences)
	assert.Zero(t, stats.Projects)
	assert.Greater(t, stats.SizeBytes, int64(0))

	assert.NoError(t, s.Vacuum(ctx))
}
