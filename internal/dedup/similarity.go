package dedup

import (
	"strings"

	"contextvault/internal/search"
	"contextvault/pkg/types"
)

// jaccard computes token-set Jaccard similarity between two texts using the
// same tokenizer as the keyword index.
func jaccard(a, b string) float64 {
	ta := search.Tokenize(a)
	tb := search.Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		setA[t] = struct{}{}
	}
	intersection := 0
	setB := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		if _, dup := setB[t]; dup {
			continue
		}
		setB[t] = struct{}{}
		if _, ok := setA[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Metadata agreement bonuses. Category is the strongest signal; tool and
// project each add a smaller nudge.
const (
	categoryBonus = 0.05
	toolBonus     = 0.03
	projectBonus  = 0.03
)

// similarity blends the evidence for one candidate: identical text is a
// perfect match, otherwise token overlap plus the semantic score when the
// vector side contributed one, plus metadata agreement bonuses.
func similarity(content string, candidate types.SearchResult, req Request) float64 {
	if strings.TrimSpace(content) == strings.TrimSpace(candidate.Content) {
		return 1.0
	}

	score := jaccard(content, candidate.Content)
	if candidate.SemanticScore > 0 {
		// Average the lexical and semantic views when both exist.
		score = (score + candidate.SemanticScore) / 2
	}

	if cat, ok := candidate.Metadata["analysis_category"].(string); ok && cat == string(req.Category) {
		score += categoryBonus
	}
	if tool, ok := candidate.Metadata["tool_name"].(string); ok && req.ToolName != "" && tool == req.ToolName {
		score += toolBonus
	}
	if project, ok := candidate.Metadata["project_id"].(string); ok && req.Project != "" && project == req.Project {
		score += projectBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// classify maps a similarity score to a match band.
func classify(score float64, exact, near, related float64) types.MatchType {
	switch {
	case score >= exact:
		return types.MatchExact
	case score >= near:
		return types.MatchNear
	case score >= related:
		return types.MatchRelated
	default:
		return types.MatchUnrelated
	}
}
