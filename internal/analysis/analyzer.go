// Package analysis implements the storage analyzer: a pure, deterministic
// classifier that decides whether a conversation pair is worth remembering.
package analysis

import (
	"context"
	"strings"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
	"contextvault/pkg/types"
)

// maxSuggestedContentLength bounds the generated memory content.
const maxSuggestedContentLength = 600

// ThresholdProvider supplies the effective thresholds per category. The
// learning engine implements this; a nil provider uses config defaults.
type ThresholdProvider interface {
	ThresholdsFor(ctx context.Context, category types.Category) types.Thresholds
}

// Request is one conversation pair to analyze.
type Request struct {
	UserMessage string
	AIResponse  string
	ToolName    string
}

// Analyzer scores conversation pairs against category heuristics. Same input
// always produces the same output; only the thresholds vary with learning.
type Analyzer struct {
	cfg        config.AnalysisConfig
	thresholds ThresholdProvider
	logger     logging.Logger
}

// NewAnalyzer creates an analyzer. thresholds may be nil.
func NewAnalyzer(cfg config.AnalysisConfig, thresholds ThresholdProvider, logger logging.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, thresholds: thresholds, logger: logger.WithComponent("analysis")}
}

// Analyze classifies the pair and scores its storage worthiness.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*types.AnalysisResult, error) {
	if strings.TrimSpace(req.UserMessage) == "" && strings.TrimSpace(req.AIResponse) == "" {
		return nil, apperrors.NewInvalidArgument("user_message", "conversation pair cannot be empty", nil)
	}

	combined := req.UserMessage + "\n" + req.AIResponse

	// Score every category, keep the best; ties go to the higher-priority
	// category so the label is stable.
	var (
		bestCategory = types.CategoryUnknown
		bestScore    float64
	)
	for category, patterns := range categoryPatterns {
		score := 0.0
		for _, p := range patterns {
			if p.re.MatchString(combined) {
				score += p.weight
			}
		}
		if score > 1 {
			score = 1
		}
		if score > bestScore ||
			(score == bestScore && score > 0 && types.CategoryPriority(category) > types.CategoryPriority(bestCategory)) {
			bestCategory = category
			bestScore = score
		}
	}

	extracted := extractInfo(combined)
	confidence := adjustConfidence(bestScore, extracted, combined)

	th := a.effectiveThresholds(ctx, bestCategory)
	result := &types.AnalysisResult{
		Confidence:    confidence,
		Category:      bestCategory,
		ExtractedInfo: extracted,
	}
	switch {
	case bestCategory == types.CategoryUnknown || confidence < th.Suggest:
		result.ShouldStore = false
		result.Reason = "no strong storage signal detected"
	case confidence >= th.AutoStore:
		result.ShouldStore = true
		result.AutoStore = true
		result.Reason = "high-confidence " + string(bestCategory) + " signal"
	default:
		result.ShouldStore = true
		result.Reason = "moderate " + string(bestCategory) + " signal, suggesting storage"
	}

	if result.ShouldStore {
		result.SuggestedContent = buildSuggestedContent(req, bestCategory)
	}
	return result, nil
}

func (a *Analyzer) effectiveThresholds(ctx context.Context, category types.Category) types.Thresholds {
	if a.thresholds != nil {
		return a.thresholds.ThresholdsFor(ctx, category)
	}
	return types.Thresholds{
		AutoStore: a.cfg.AutoStoreThreshold,
		Suggest:   a.cfg.SuggestThreshold,
	}
}

// adjustConfidence nudges the pattern score with structural evidence, keeping
// the result in [0,1].
func adjustConfidence(score float64, info *types.ExtractedInfo, combined string) float64 {
	if score == 0 {
		return 0
	}
	if !info.IsEmpty() {
		score += 0.05
	}
	// Very short exchanges rarely carry durable knowledge.
	if len(combined) < 40 {
		score -= 0.2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func extractInfo(text string) *types.ExtractedInfo {
	info := &types.ExtractedInfo{}
	lower := strings.ToLower(text)

	for _, tech := range knownTechnologies {
		if containsWord(lower, tech) {
			info.Technologies = append(info.Technologies, tech)
		}
	}
	info.FilePaths = dedupe(filePathRe.FindAllString(text, 10))
	info.Decisions = trimAll(decisionSentenceRe.FindAllString(text, 5))
	info.Constraints = trimAll(constraintSentenceRe.FindAllString(text, 5))

	if info.IsEmpty() {
		return nil
	}
	return info
}

// containsWord reports whether the text contains word bounded by
// non-alphanumeric characters.
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// buildSuggestedContent renders the pair as a compact memory. The output
// depends only on the input.
func buildSuggestedContent(req Request, category types.Category) string {
	user := strings.TrimSpace(req.UserMessage)
	ai := strings.TrimSpace(req.AIResponse)

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(category))
	b.WriteString("] ")
	if user != "" {
		b.WriteString(user)
	}
	if ai != "" {
		if user != "" {
			b.WriteString(" | ")
		}
		b.WriteString(firstSentences(ai, 2))
	}

	content := b.String()
	if len(content) > maxSuggestedContentLength {
		content = content[:maxSuggestedContentLength]
	}
	return content
}

// firstSentences returns up to n leading sentences.
func firstSentences(text string, n int) string {
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
