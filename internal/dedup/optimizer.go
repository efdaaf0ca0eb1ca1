// Package dedup implements the duplicate detector and storage optimizer:
// before a write it finds similar stored conversations and decides whether
// to store, skip, or merge.
package dedup

import (
	"context"
	"sort"
	"strings"
	"time"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
	"contextvault/internal/search"
	"contextvault/pkg/types"
)

// CandidateSearcher finds similar stored conversations and resolves their
// indexed content. The search engine implements this.
type CandidateSearcher interface {
	Search(ctx context.Context, q search.Query) (*types.SearchResults, error)
	Get(externalID string) (content string, ok bool)
}

// DailyCounter reports how many optimized (merged or capped) writes of a
// category landed today. The record repository implements this.
type DailyCounter interface {
	CountSimilarToday(ctx context.Context, category types.Category) (int, error)
}

// Request describes a pending write. ToolName and Project scope the
// candidate fetch and feed the metadata bonuses when set. MaxPerDay
// overrides the configured per-category daily cap when positive.
type Request struct {
	Content    string
	Category   types.Category
	Confidence float64
	ToolName   string
	Project    string
	MaxPerDay  int
}

// Optimizer decides the fate of a pending write.
type Optimizer struct {
	cfg      config.DedupConfig
	searcher CandidateSearcher
	counter  DailyCounter
	logger   logging.Logger
}

// NewOptimizer creates an optimizer.
func NewOptimizer(cfg config.DedupConfig, searcher CandidateSearcher, counter DailyCounter, logger logging.Logger) *Optimizer {
	return &Optimizer{cfg: cfg, searcher: searcher, counter: counter, logger: logger.WithComponent("dedup")}
}

// FindDuplicates returns similar stored conversations ranked by similarity.
// Search failures fail open with an empty result: the write path must never
// block on the duplicate check.
func (o *Optimizer) FindDuplicates(ctx context.Context, content string, category types.Category) ([]types.DuplicateMatch, error) {
	return o.findMatches(ctx, Request{Content: content, Category: category})
}

// findMatches fetches candidates scoped to the request's project and the
// configured recency window, scores each, and ranks the survivors by
// similarity with ties broken by the most recent timestamp.
func (o *Optimizer) findMatches(ctx context.Context, req Request) ([]types.DuplicateMatch, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.ErrContentRequired
	}
	if len(req.Content) < o.cfg.MinContentLength {
		return nil, nil
	}

	var filters []search.Filter
	if req.Project != "" {
		filters = append(filters, search.Filter{Key: "project_id", Op: search.FilterEq, Value: req.Project})
	}
	if o.cfg.CandidateWindowDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -o.cfg.CandidateWindowDays)
		filters = append(filters, search.Filter{
			Key: "timestamp", Op: search.FilterGte, Value: cutoff.Format(search.MetadataTimeFormat),
		})
	}

	results, err := o.searcher.Search(ctx, search.Query{
		Text:    req.Content,
		Mode:    types.SearchModeHybrid,
		Limit:   o.cfg.CandidateLimit,
		Filters: filters,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "duplicate candidate search failed, failing open", "error", err.Error())
		return nil, nil
	}

	matches := make([]types.DuplicateMatch, 0, len(results.Results))
	for i := range results.Results {
		candidate := results.Results[i]
		score := similarity(req.Content, candidate, req)
		matchType := classify(score, o.cfg.ExactThreshold, o.cfg.NearThreshold, o.cfg.RelatedThreshold)
		if matchType == types.MatchUnrelated {
			continue
		}
		var (
			cat types.Category
			ts  time.Time
		)
		if s, ok := candidate.Metadata["analysis_category"].(string); ok {
			cat = types.Category(s)
		}
		if s, ok := candidate.Metadata["timestamp"].(string); ok {
			ts, _ = time.Parse(time.RFC3339Nano, s)
		}
		matches = append(matches, types.DuplicateMatch{
			ConversationID: candidate.ExternalID,
			Similarity:     score,
			MatchType:      matchType,
			Category:       cat,
			ContentPreview: preview(candidate.Content, 120),
			Timestamp:      ts,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if !matches[i].Timestamp.Equal(matches[j].Timestamp) {
			return matches[i].Timestamp.After(matches[j].Timestamp)
		}
		return matches[i].ConversationID < matches[j].ConversationID
	})
	return matches, nil
}

// Optimize applies the decision policy to a pending write:
//
//	exact match                 -> skip, pointing at the existing conversation
//	near match in same category -> merge into the existing conversation
//	near match other category   -> treated like a related match
//	related match               -> store, unless today's budget is spent
//	otherwise                   -> store
//
// Short content skips the check entirely and any infrastructure failure
// fails open to store.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*types.OptimizeDecision, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.ErrContentRequired
	}
	if len(req.Content) < o.cfg.MinContentLength {
		return &types.OptimizeDecision{
			Type:    types.DecisionStore,
			Reasons: []string{"content below duplicate-check length"},
		}, nil
	}

	matches, err := o.findMatches(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &types.OptimizeDecision{
			Type:    types.DecisionStore,
			Reasons: []string{"no similar conversations found"},
		}, nil
	}

	best := matches[0]
	if best.MatchType == types.MatchExact {
		return &types.OptimizeDecision{
			Type:     types.DecisionSkip,
			TargetID: best.ConversationID,
			Reasons:  []string{"exact duplicate of existing conversation"},
		}, nil
	}

	// Merging across categories would fold a decision into a solution or
	// vice versa; only a same-category near match is a merge target.
	if target, ok := mergeTarget(matches, req.Category); ok {
		existing, _ := o.searcher.Get(target.ConversationID)
		return &types.OptimizeDecision{
			Type:                 types.DecisionMerge,
			TargetID:             target.ConversationID,
			MergedContent:        mergeContents(existing, req.Content),
			Reasons:              []string{"near duplicate merged into existing conversation"},
			ConfidenceAdjustment: o.cfg.ConfidenceAdjustment,
		}, nil
	}

	if o.counter != nil {
		maxPerDay := o.cfg.MaxSimilarPerDay
		if req.MaxPerDay > 0 {
			maxPerDay = req.MaxPerDay
		}
		count, err := o.counter.CountSimilarToday(ctx, req.Category)
		if err != nil {
			o.logger.WarnContext(ctx, "daily similar count unavailable, failing open", "error", err.Error())
		} else if count >= maxPerDay {
			return &types.OptimizeDecision{
				Type:     types.DecisionSkip,
				TargetID: best.ConversationID,
				Reasons:  []string{"daily budget for similar " + string(req.Category) + " conversations reached"},
			}, nil
		}
	}
	return &types.OptimizeDecision{
		Type:    types.DecisionStore,
		Reasons: []string{"related conversation exists, storing as distinct memory"},
	}, nil
}

// mergeTarget picks the merge target: the highest-similarity near match in
// the requested category. Matches arrive sorted by similarity with ties
// already broken by the most recent timestamp.
func mergeTarget(matches []types.DuplicateMatch, category types.Category) (types.DuplicateMatch, bool) {
	for _, m := range matches {
		if m.MatchType == types.MatchNear && m.Category == category {
			return m, true
		}
	}
	return types.DuplicateMatch{}, false
}

// mergeContents combines the existing conversation with the new content.
// When the new text is already contained in the old it wins nothing; the
// result depends only on the two inputs.
func mergeContents(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)
	if existing == "" {
		return incoming
	}
	if strings.Contains(existing, incoming) {
		return existing
	}
	if strings.Contains(incoming, existing) {
		return incoming
	}
	return existing + "\n---\n" + incoming
}

// preview truncates on rune boundaries so multi-byte text never ends in a
// split character.
func preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}
