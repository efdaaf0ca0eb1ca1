package search

import (
	"sort"
	"time"

	"contextvault/internal/config"
	"contextvault/pkg/types"
)

// RecencyScore maps document age to a decay bucket. A zero timestamp scores
// zero so undated documents never outrank dated ones on recency.
func RecencyScore(timestamp time.Time, now time.Time) float64 {
	if timestamp.IsZero() {
		return 0.0
	}
	age := now.Sub(timestamp)
	switch {
	case age <= 7*24*time.Hour:
		return 1.0
	case age <= 30*24*time.Hour:
		return 0.7
	case age <= 90*24*time.Hour:
		return 0.4
	default:
		return 0.1
	}
}

// CombineScores computes the weighted hybrid score.
func CombineScores(cfg config.SearchConfig, semantic, keyword, recency float64) float64 {
	return cfg.SemanticWeight*semantic + cfg.KeywordWeight*keyword + cfg.RecencyWeight*recency
}

// sortResults orders by score descending, ties broken by internal ID
// ascending so equal-score orderings are stable across runs.
func sortResults(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].InternalID < results[j].InternalID
	})
}
