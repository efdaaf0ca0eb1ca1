// Package session clusters stored conversations into work sessions and
// distills each cluster into themes, problem-solution pairs, and an optional
// persisted session summary.
package session

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
	"contextvault/internal/search"
	"contextvault/pkg/types"
)

// sessionGap is the idle time that splits two sessions.
const sessionGap = 30 * time.Minute

// maxThemes bounds the theme list per session.
const maxThemes = 5

var (
	problemRe  = regexp.MustCompile(`(?i)\b(?:error|exception|panic|crash|bug|failing|broken|issue|problem)\b`)
	solutionRe = regexp.MustCompile(`(?i)\b(?:fixed|resolved|solved|works now|the fix|solution|workaround)\b`)
)

// Repository is the slice of the record repository the analyzer needs.
type Repository interface {
	ByTimeRange(ctx context.Context, from, to time.Time) ([]*types.Conversation, error)
	SaveConversation(ctx context.Context, conv *types.Conversation) error
	SaveContextLink(ctx context.Context, link *types.ContextLink) error
}

// Analyzer builds session analyses from stored conversations.
type Analyzer struct {
	repo   Repository
	logger logging.Logger
}

// NewAnalyzer creates a session analyzer.
func NewAnalyzer(repo Repository, logger logging.Logger) *Analyzer {
	return &Analyzer{repo: repo, logger: logger.WithComponent("session")}
}

// AnalyzeRange clusters the conversations in [from, to] by time proximity
// and analyzes each cluster. Clusters are returned oldest first.
func (a *Analyzer) AnalyzeRange(ctx context.Context, from, to time.Time) ([]*types.SessionAnalysis, error) {
	if !to.After(from) {
		return nil, apperrors.NewInvalidArgument("to", "must be after from", nil)
	}
	convs, err := a.repo.ByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	clusters := clusterByTime(convs)
	out := make([]*types.SessionAnalysis, 0, len(clusters))
	for _, cluster := range clusters {
		out = append(out, analyzeCluster(cluster))
	}
	return out, nil
}

// clusterByTime splits time-ordered conversations wherever the gap between
// neighbors exceeds the session gap.
func clusterByTime(convs []*types.Conversation) [][]*types.Conversation {
	if len(convs) == 0 {
		return nil
	}
	sorted := append([]*types.Conversation{}, convs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var clusters [][]*types.Conversation
	current := []*types.Conversation{sorted[0]}
	for _, c := range sorted[1:] {
		if c.Timestamp.Sub(current[len(current)-1].Timestamp) > sessionGap {
			clusters = append(clusters, current)
			current = nil
		}
		current = append(current, c)
	}
	return append(clusters, current)
}

// analyzeCluster distills one cluster into a SessionAnalysis.
func analyzeCluster(cluster []*types.Conversation) *types.SessionAnalysis {
	analysis := &types.SessionAnalysis{
		StartTime: cluster[0].Timestamp,
		EndTime:   cluster[len(cluster)-1].Timestamp,
	}
	for _, c := range cluster {
		analysis.ConversationIDs = append(analysis.ConversationIDs, c.ID)
	}
	analysis.Themes = extractThemes(cluster)
	analysis.Pairs = pairProblemsWithSolutions(cluster)
	analysis.ValueScore = valueScore(cluster, analysis)
	analysis.Summary = summarize(analysis)
	return analysis
}

// extractThemes picks the most frequent index tokens across the cluster,
// ties broken alphabetically.
func extractThemes(cluster []*types.Conversation) []string {
	freq := make(map[string]int)
	for _, c := range cluster {
		for _, t := range search.Tokenize(c.Content) {
			freq[t]++
		}
	}
	tokens := make([]string, 0, len(freq))
	for t, n := range freq {
		if n >= 2 || len(cluster) == 1 {
			tokens = append(tokens, t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if freq[tokens[i]] != freq[tokens[j]] {
			return freq[tokens[i]] > freq[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > maxThemes {
		tokens = tokens[:maxThemes]
	}
	return tokens
}

// pairProblemsWithSolutions matches each problem statement with the first
// later conversation that reads like its resolution and shares vocabulary.
func pairProblemsWithSolutions(cluster []*types.Conversation) []types.ProblemSolutionPair {
	var pairs []types.ProblemSolutionPair
	used := make(map[string]bool)
	for i, problem := range cluster {
		if !problemRe.MatchString(problem.Content) {
			continue
		}
		for _, solution := range cluster[i+1:] {
			if used[solution.ID] || !solutionRe.MatchString(solution.Content) {
				continue
			}
			if tokenOverlap(problem.Content, solution.Content) < 0.2 {
				continue
			}
			used[solution.ID] = true
			pairs = append(pairs, types.ProblemSolutionPair{
				ProblemID:  problem.ID,
				SolutionID: solution.ID,
				Problem:    truncate(problem.Content, 160),
				Solution:   truncate(solution.Content, 160),
			})
			break
		}
	}
	return pairs
}

// tokenOverlap is the fraction of the smaller token set shared by both texts.
func tokenOverlap(a, b string) float64 {
	ta := search.Tokenize(a)
	tb := search.Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	shared := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			shared++
		}
	}
	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	return float64(shared) / float64(smaller)
}

// valueScore weighs what the session produced: resolved problems dominate,
// breadth of themes and sheer size contribute less.
func valueScore(cluster []*types.Conversation, analysis *types.SessionAnalysis) float64 {
	score := 0.3 * float64(len(analysis.Pairs))
	score += 0.05 * float64(len(analysis.Themes))
	score += 0.02 * float64(len(cluster))
	if score > 1 {
		score = 1
	}
	return score
}

func summarize(analysis *types.SessionAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session of %d conversations", len(analysis.ConversationIDs))
	if len(analysis.Themes) > 0 {
		b.WriteString(" covering " + strings.Join(analysis.Themes, ", "))
	}
	if len(analysis.Pairs) > 0 {
		fmt.Fprintf(&b, "; %d problem(s) resolved", len(analysis.Pairs))
	}
	b.WriteString(".")
	return b.String()
}

// CreateSessionMemory persists the analysis as a summary conversation and
// links it to every member, both directions. Returns the summary.
func (a *Analyzer) CreateSessionMemory(ctx context.Context, toolName string, analysis *types.SessionAnalysis) (*types.Conversation, error) {
	if len(analysis.ConversationIDs) == 0 {
		return nil, apperrors.NewInvalidArgument("analysis", "session has no conversations", nil)
	}

	content := analysis.Summary
	for _, p := range analysis.Pairs {
		content += "\nProblem: " + p.Problem + "\nSolution: " + p.Solution
	}
	conv, err := types.NewConversation(toolName, content, types.ConversationMetadata{
		AnalysisCategory: types.CategoryManual,
		StorageReason:    "session summary",
	}, []string{"session-summary"})
	if err != nil {
		return nil, apperrors.NewInvalidArgument("analysis", err.Error(), nil)
	}
	if err := a.repo.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}
	if err := a.LinkSessionMemories(ctx, conv.ID, analysis.ConversationIDs); err != nil {
		a.logger.WarnContext(ctx, "failed to link session members", "summary", conv.ID, "error", err.Error())
	}
	return conv, nil
}

// LinkSessionMemories records summary->member and member->summary links for
// every session member.
func (a *Analyzer) LinkSessionMemories(ctx context.Context, summaryID string, memberIDs []string) error {
	for _, memberID := range memberIDs {
		if memberID == summaryID {
			continue
		}
		down, err := types.NewContextLink(summaryID, memberID, types.RelSessionMember, 1.0)
		if err != nil {
			return err
		}
		if err := a.repo.SaveContextLink(ctx, down); err != nil {
			return err
		}
		up, err := types.NewContextLink(memberID, summaryID, types.RelSessionSummary, 1.0)
		if err != nil {
			return err
		}
		if err := a.repo.SaveContextLink(ctx, up); err != nil {
			return err
		}
	}
	return nil
}

// truncate cuts on rune boundaries so multi-byte text never ends in a split
// character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
