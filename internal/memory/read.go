package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "contextvault/internal/errors"
	"contextvault/internal/search"
	"contextvault/pkg/types"
)

// SearchRequest is a transport-level search with optional filters.
// MinConfidence of zero means no floor.
type SearchRequest struct {
	Query          string
	Mode           types.SearchMode
	Limit          int
	Tool           string
	Category       types.Category
	Project        string
	Since          *time.Time
	AutoStoredOnly bool
	MinConfidence  float64
}

// defaultSearchLimit bounds searches that omit a limit.
const defaultSearchLimit = 10

// Search runs a ranked query against the hybrid engine.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*types.SearchResults, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	var filters []search.Filter
	if req.Tool != "" {
		filters = append(filters, search.Filter{Key: "tool_name", Op: search.FilterEq, Value: req.Tool})
	}
	if req.Category != "" {
		filters = append(filters, search.Filter{Key: "analysis_category", Op: search.FilterEq, Value: string(req.Category)})
	}
	if req.Project != "" {
		filters = append(filters, search.Filter{Key: "project_id", Op: search.FilterEq, Value: req.Project})
	}
	if req.Since != nil {
		filters = append(filters, search.Filter{Key: "timestamp", Op: search.FilterGte, Value: req.Since.UTC().Format(search.MetadataTimeFormat)})
	}
	if req.AutoStoredOnly {
		filters = append(filters, search.Filter{Key: "auto_stored", Op: search.FilterEq, Value: true})
	}
	if req.MinConfidence > 0 {
		filters = append(filters, search.Filter{Key: "confidence", Op: search.FilterGte, Value: req.MinConfidence})
	}

	var results *types.SearchResults
	err := s.metrics.Track("search", func() error {
		var err error
		results, err = s.engine.Search(ctx, search.Query{
			Text:    req.Query,
			Mode:    req.Mode,
			Limit:   limit,
			Filters: filters,
		})
		return err
	})
	return results, err
}

// BrowseRecent returns the conversations of the trailing window, newest
// first, optionally restricted to one tool.
func (s *Service) BrowseRecent(ctx context.Context, hours, limit int, toolName string) ([]*types.Conversation, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return s.store.RecentSince(ctx, since, toolName, limit)
}

// BrowseByCategory returns conversations of one category, newest first. The
// category lives inside the metadata document, so this pages the repository
// and filters in memory.
func (s *Service) BrowseByCategory(ctx context.Context, category types.Category, toolName string, limit int) ([]*types.Conversation, error) {
	if !category.Storable() {
		return nil, apperrors.NewInvalidArgument("category", "not a storable category", string(category))
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	const page = 500
	offset := 0
	out := make([]*types.Conversation, 0, limit)
	for len(out) < limit {
		convs, err := s.store.ListConversations(ctx, page, offset)
		if err != nil {
			return nil, err
		}
		if len(convs) == 0 {
			break
		}
		for _, conv := range convs {
			if conv.Metadata.AnalysisCategory != category {
				continue
			}
			if toolName != "" && conv.ToolName != strings.ToLower(toolName) {
				continue
			}
			out = append(out, conv)
			if len(out) == limit {
				break
			}
		}
		offset += page
	}
	return out, nil
}

// GetConversation fetches one stored conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// GetHistory returns the newest conversations for a tool.
func (s *Service) GetHistory(ctx context.Context, toolName string, limit int) ([]*types.Conversation, error) {
	if toolName == "" {
		return nil, apperrors.NewRequiredField("tool_name")
	}
	return s.store.RecentByTool(ctx, toolName, limit)
}

// RelatedConversation pairs a conversation with the link that reached it.
type RelatedConversation struct {
	Conversation *types.Conversation `json:"conversation"`
	Relationship string              `json:"relationship"`
	Confidence   float64             `json:"confidence"`
}

// relationshipSimilar labels related conversations found by content search
// rather than an explicit link.
const relationshipSimilar = "similar_content"

// FindRelated finds conversations related to the given one: a search seeded
// by its own content, supplemented by explicit links. The seed conversation
// never appears in its own results.
func (s *Service) FindRelated(ctx context.Context, id string, limit int) ([]RelatedConversation, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	related := make([]RelatedConversation, 0, limit)
	seen := map[string]bool{id: true}

	// The seed tends to rank first in its own result set, so fetch one extra.
	results, err := s.engine.Search(ctx, search.Query{
		Text:  conv.Content,
		Mode:  types.SearchModeHybrid,
		Limit: limit + 1,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "related search failed, using links only", "id", id, "error", err.Error())
	} else {
		for _, r := range results.Results {
			if seen[r.ExternalID] {
				continue
			}
			seen[r.ExternalID] = true
			hit, err := s.store.GetConversation(ctx, r.ExternalID)
			if apperrors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			related = append(related, RelatedConversation{
				Conversation: hit,
				Relationship: relationshipSimilar,
				Confidence:   r.Score,
			})
		}
	}

	links, err := s.store.LinksFor(ctx, id)
	if err != nil {
		return nil, err
	}
	linked := make([]RelatedConversation, 0, len(links))
	for _, link := range links {
		otherID := link.TargetID
		if otherID == id {
			otherID = link.SourceID
		}
		if seen[otherID] {
			continue
		}
		seen[otherID] = true
		other, err := s.store.GetConversation(ctx, otherID)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		linked = append(linked, RelatedConversation{
			Conversation: other,
			Relationship: link.RelationshipType,
			Confidence:   link.ConfidenceScore,
		})
	}
	sort.SliceStable(linked, func(i, j int) bool {
		if linked[i].Confidence != linked[j].Confidence {
			return linked[i].Confidence > linked[j].Confidence
		}
		return linked[i].Conversation.ID < linked[j].Conversation.ID
	})

	// Search hits stay ranked ahead of link-only additions; their scores are
	// not on the same scale.
	related = append(related, linked...)
	if len(related) > limit {
		related = related[:limit]
	}
	return related, nil
}

// EnhancedContext is a ranked result set grouped by category, ordered for
// direct injection into a conversation context.
type EnhancedContext struct {
	Query      string                          `json:"query"`
	Groups     map[string][]types.SearchResult `json:"groups"`
	GroupOrder []string                        `json:"group_order"`
	Degraded   bool                            `json:"degraded,omitempty"`
}

// BuildEnhancedContext searches and groups the hits by category, highest
// category priority first.
func (s *Service) BuildEnhancedContext(ctx context.Context, query, project string, limit int) (*EnhancedContext, error) {
	results, err := s.Search(ctx, SearchRequest{Query: query, Limit: limit, Project: project})
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]types.SearchResult)
	for _, r := range results.Results {
		cat, _ := r.Metadata["analysis_category"].(string)
		if cat == "" {
			cat = string(types.CategoryUnknown)
		}
		groups[cat] = append(groups[cat], r)
	}
	order := make([]string, 0, len(groups))
	for cat := range groups {
		order = append(order, cat)
	}
	sort.Slice(order, func(i, j int) bool {
		pi := types.CategoryPriority(types.Category(order[i]))
		pj := types.CategoryPriority(types.Category(order[j]))
		if pi != pj {
			return pi > pj
		}
		return order[i] < order[j]
	})
	return &EnhancedContext{
		Query:      query,
		Groups:     groups,
		GroupOrder: order,
		Degraded:   results.Degraded,
	}, nil
}

// Statistics summarizes the stored corpus: counts per category and tool,
// confidence buckets, per-day volumes, and storage size.
func (s *Service) Statistics(ctx context.Context) (*types.MemoryStatistics, error) {
	stats := &types.MemoryStatistics{
		ByCategory:        make(map[string]int),
		ByTool:            make(map[string]int),
		ConfidenceBuckets: make(map[string]int),
		DailyCounts:       make(map[string]int),
		GeneratedAt:       time.Now().UTC(),
	}

	const page = 500
	offset := 0
	for {
		convs, err := s.store.ListConversations(ctx, page, offset)
		if err != nil {
			return nil, err
		}
		if len(convs) == 0 {
			break
		}
		for _, conv := range convs {
			stats.TotalConversations++
			if conv.Metadata.AutoStored {
				stats.AutoStored++
			}
			cat := string(conv.Metadata.AnalysisCategory)
			if cat == "" {
				cat = string(types.CategoryUnknown)
			}
			stats.ByCategory[cat]++
			stats.ByTool[conv.ToolName]++
			stats.ConfidenceBuckets[confidenceBucket(conv.Metadata.Confidence)]++
			stats.DailyCounts[conv.Timestamp.UTC().Format("2006-01-02")]++
		}
		offset += page
	}

	if storageStats, err := s.store.Stats(ctx); err == nil {
		stats.StorageBytes = storageStats.SizeBytes
	} else {
		s.logger.WarnContext(ctx, "storage size unavailable", "error", err.Error())
	}
	return stats, nil
}

// confidenceBucket maps a confidence to its 0.1-wide bucket label.
func confidenceBucket(confidence float64) string {
	if confidence < 0 {
		confidence = 0
	}
	b := int(confidence * 10)
	if b >= 10 {
		b = 9
	}
	if b == 9 {
		return "0.9-1.0"
	}
	return fmt.Sprintf("0.%d-0.%d", b, b+1)
}
