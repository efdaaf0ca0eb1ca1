package memory

import (
	"context"
	"strings"
	"time"

	"contextvault/internal/analysis"
	"contextvault/internal/dedup"
	apperrors "contextvault/internal/errors"
	"contextvault/pkg/types"
)

// ProcessResult is the outcome of running a conversation pair through the
// auto-storage pipeline.
type ProcessResult struct {
	Action       string                   `json:"action"` // stored, merged, skipped, suggested, ignored
	Conversation *types.Conversation      `json:"conversation,omitempty"`
	Suggestion   *types.StorageSuggestion `json:"suggestion,omitempty"`
	Analysis     *types.AnalysisResult    `json:"analysis"`
	Decision     *types.OptimizeDecision  `json:"decision,omitempty"`
}

// Pipeline actions.
const (
	ActionStored    = "stored"
	ActionMerged    = "merged"
	ActionSkipped   = "skipped"
	ActionSuggested = "suggested"
	ActionIgnored   = "ignored"
)

// ProcessConversation runs the full auto-storage pipeline: analyze, then
// either store automatically (after the duplicate check), raise a
// suggestion, or drop the pair.
func (s *Service) ProcessConversation(ctx context.Context, userMessage, aiResponse, toolName string) (*ProcessResult, error) {
	var result *ProcessResult
	err := s.metrics.Track("process_conversation", func() error {
		var err error
		result, err = s.processConversation(ctx, userMessage, aiResponse, toolName)
		return err
	})
	return result, err
}

func (s *Service) processConversation(ctx context.Context, userMessage, aiResponse, toolName string) (*ProcessResult, error) {
	analysisResult, err := s.analyzer.Analyze(ctx, analysis.Request{
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		ToolName:    toolName,
	})
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{Analysis: analysisResult}
	switch {
	case analysisResult.AutoStore:
		conv, decision, err := s.storeAnalyzed(ctx, analysisResult, userMessage, aiResponse, toolName)
		if err != nil {
			return nil, err
		}
		result.Conversation = conv
		result.Decision = decision
		switch decision.Type {
		case types.DecisionSkip:
			result.Action = ActionSkipped
		case types.DecisionMerge:
			result.Action = ActionMerged
		default:
			result.Action = ActionStored
		}

	case analysisResult.SuggestEligible():
		suggestion := s.suggestions.Create(userMessage, aiResponse, toolName, analysisResult)
		result.Suggestion = suggestion
		result.Action = ActionSuggested

	default:
		result.Action = ActionIgnored
	}
	return result, nil
}

// AnalyzeConversation runs the analyzer without persisting anything.
func (s *Service) AnalyzeConversation(ctx context.Context, userMessage, aiResponse, toolName string) (*types.AnalysisResult, error) {
	return s.analyzer.Analyze(ctx, analysis.Request{
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		ToolName:    toolName,
	})
}

// SuggestStorage runs the pipeline and, when asked, resolves the resulting
// suggestion immediately instead of leaving it pending.
func (s *Service) SuggestStorage(ctx context.Context, userMessage, aiResponse, toolName string, autoApprove bool) (*ProcessResult, error) {
	result, err := s.ProcessConversation(ctx, userMessage, aiResponse, toolName)
	if err != nil {
		return nil, err
	}
	if autoApprove && result.Action == ActionSuggested {
		conv, err := s.ApproveSuggestion(ctx, result.Suggestion.ID, "", nil)
		if err != nil {
			return nil, err
		}
		result.Action = ActionStored
		result.Conversation = conv
	}
	return result, nil
}

// storeAnalyzed runs the duplicate check and applies the decision.
func (s *Service) storeAnalyzed(ctx context.Context, ar *types.AnalysisResult, userMessage, aiResponse, toolName string) (*types.Conversation, *types.OptimizeDecision, error) {
	effective := s.settings(ctx)
	decision, err := s.optimizer.Optimize(ctx, dedup.Request{
		Content:    ar.SuggestedContent,
		Category:   ar.Category,
		Confidence: ar.Confidence,
		ToolName:   strings.ToLower(toolName),
		MaxPerDay:  effective.Dedup.MaxSimilarPerDay,
	})
	if err != nil {
		// Fail open: a broken optimizer must not lose memories.
		s.logger.WarnContext(ctx, "optimizer failed, storing anyway", "error", err.Error())
		decision = &types.OptimizeDecision{Type: types.DecisionStore, Reasons: []string{"optimizer unavailable"}}
	}

	switch decision.Type {
	case types.DecisionSkip:
		existing, err := s.store.GetConversation(ctx, decision.TargetID)
		if err != nil {
			return nil, nil, err
		}
		return existing, decision, nil

	case types.DecisionMerge:
		merged, err := s.mergeInto(ctx, decision, ar)
		if err != nil {
			return nil, nil, err
		}
		return merged, decision, nil
	}

	metadata := types.ConversationMetadata{
		AutoStored:       true,
		Confidence:       ar.Confidence,
		AnalysisCategory: ar.Category,
		StorageReason:    ar.Reason,
		ExtractedInfo:    ar.ExtractedInfo,
		UserQuery:        userMessage,
		AIResponse:       aiResponse,
	}
	if len(decision.Reasons) > 0 && decision.Reasons[0] != "no similar conversations found" {
		metadata.OptimizationApplied = true
		metadata.OptimizationReasons = decision.Reasons
	}
	conv, err := s.persist(ctx, toolName, ar.SuggestedContent, metadata, &persistOpts{
		tags: []string{"auto_stored", string(ar.Category)},
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, decision, nil
}

// mergeInto rewrites the merge target with the combined content, bumps its
// confidence, and re-indexes it.
func (s *Service) mergeInto(ctx context.Context, decision *types.OptimizeDecision, ar *types.AnalysisResult) (*types.Conversation, error) {
	target, err := s.store.GetConversation(ctx, decision.TargetID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	target.Content = decision.MergedContent
	target.Metadata.MergedAt = &now
	target.Metadata.OptimizationApplied = true
	target.Metadata.OptimizationReasons = decision.Reasons
	if c := target.Metadata.Confidence + decision.ConfidenceAdjustment; c <= 1 {
		target.Metadata.Confidence = c
	} else {
		target.Metadata.Confidence = 1
	}

	if err := s.store.SaveConversation(ctx, target); err != nil {
		return nil, err
	}
	s.reindex(ctx, target)
	return target, nil
}

// StoreContext stores content by explicit user request, bypassing analysis.
func (s *Service) StoreContext(ctx context.Context, content, toolName string, tags []string, projectID *string, extra map[string]interface{}) (*types.Conversation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.ErrContentRequired
	}
	metadata := types.ConversationMetadata{
		AnalysisCategory: types.CategoryManual,
		StorageReason:    "stored by user request",
		Extra:            extra,
	}
	var conv *types.Conversation
	err := s.metrics.Track("store_context", func() error {
		var err error
		conv, err = s.persist(ctx, toolName, content, metadata, &persistOpts{tags: tags, projectID: projectID})
		return err
	})
	return conv, err
}

type persistOpts struct {
	tags      []string
	projectID *string
}

// persist is the single write path: repository commit first, then indexing,
// then best-effort enrichment. A failed index never rolls back the commit;
// the omission is recorded in metadata instead.
func (s *Service) persist(ctx context.Context, toolName, content string, metadata types.ConversationMetadata, opts *persistOpts) (*types.Conversation, error) {
	var tags []string
	if opts != nil {
		tags = opts.tags
	}
	conv, err := types.NewConversation(toolName, content, metadata, tags)
	if err != nil {
		return nil, apperrors.NewInvalidArgument("content", err.Error(), nil)
	}
	if opts != nil && opts.projectID != nil {
		if _, err := s.store.GetProject(ctx, *opts.projectID); err != nil {
			return nil, err
		}
		conv.ProjectID = opts.projectID
	}

	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}

	_, hasVector, err := s.engine.Add(ctx, addRequestFor(conv))
	if err != nil {
		s.logger.WarnContext(ctx, "indexing failed after commit", "id", conv.ID, "error", err.Error())
	}
	if !hasVector {
		conv.Metadata.IndexOmitted = true
		if err := s.store.SaveConversation(ctx, conv); err != nil {
			s.logger.WarnContext(ctx, "failed to record index omission", "id", conv.ID, "error", err.Error())
		}
	}

	s.enricher.Enrich(ctx, conv)
	return conv, nil
}

// ApproveSuggestion resolves a suggestion and stores its content. The stored
// conversation is tagged with its provenance plus any extra tags the caller
// attached at approval time.
func (s *Service) ApproveSuggestion(ctx context.Context, id, modifiedContent string, tags []string) (*types.Conversation, error) {
	suggestion, content, err := s.suggestions.Approve(ctx, id, modifiedContent)
	if err != nil {
		return nil, err
	}
	metadata := types.ConversationMetadata{
		Confidence:       suggestion.Analysis.Confidence,
		AnalysisCategory: suggestion.Analysis.Category,
		StorageReason:    "suggestion approved by user",
		ExtractedInfo:    suggestion.Analysis.ExtractedInfo,
		UserQuery:        suggestion.UserMessage,
		AIResponse:       suggestion.AIResponse,
	}
	allTags := append([]string{"suggested", "user_approved"}, tags...)
	var conv *types.Conversation
	err = s.metrics.Track("approve_suggestion", func() error {
		var err error
		conv, err = s.persist(ctx, suggestion.ToolName, content, metadata, &persistOpts{tags: allTags})
		return err
	})
	return conv, err
}

// RejectSuggestion resolves a suggestion negatively.
func (s *Service) RejectSuggestion(ctx context.Context, id, reason string) (*types.StorageSuggestion, error) {
	return s.suggestions.Reject(ctx, id, reason)
}

// EditConversation replaces a conversation's content and re-indexes it.
func (s *Service) EditConversation(ctx context.Context, id, content string) (*types.Conversation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.ErrContentRequired
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	conv.Content = content
	conv.Metadata.LastEdited = &now
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.reindex(ctx, conv)
	return conv, nil
}

// UpdateCategory changes a conversation's category label.
func (s *Service) UpdateCategory(ctx context.Context, id string, category types.Category) (*types.Conversation, error) {
	if !category.Storable() {
		return nil, apperrors.NewInvalidArgument("category", "not a storable category", string(category))
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	conv.Metadata.AnalysisCategory = category
	conv.Metadata.CategoryUpdated = &now
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.reindex(ctx, conv)
	return conv, nil
}

// DeleteConversation removes a conversation from the repository and both
// indices. Deleting an absent or already-deleted conversation returns
// NotFound.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.ErrIDRequired
	}
	if err := s.engine.Remove(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "index removal failed", "id", id, "error", err.Error())
	}
	return s.store.DeleteConversation(ctx, id)
}

// CreateSessionSummaries condenses each session in the window into one
// stored summary conversation. The session analyzer links every summary to
// its member conversations; the summary itself is indexed here so it is
// searchable like any other memory.
func (s *Service) CreateSessionSummaries(ctx context.Context, from, to time.Time, toolName string) ([]*types.Conversation, error) {
	analyses, err := s.sessions.AnalyzeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summaries := make([]*types.Conversation, 0, len(analyses))
	for _, sa := range analyses {
		summary, err := s.sessions.CreateSessionMemory(ctx, toolName, sa)
		if err != nil {
			return nil, err
		}
		s.reindex(ctx, summary)
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// reindex refreshes a conversation's search entry after a content or
// metadata change.
func (s *Service) reindex(ctx context.Context, conv *types.Conversation) {
	if _, _, err := s.engine.Add(ctx, addRequestFor(conv)); err != nil {
		s.logger.WarnContext(ctx, "re-indexing failed", "id", conv.ID, "error", err.Error())
	}
}

// SubmitFeedback forwards direct feedback to the learning engine.
func (s *Service) SubmitFeedback(ctx context.Context, fb *types.Feedback) error {
	return s.learning.ProcessFeedback(ctx, fb)
}

// CheckDuplicate exposes the duplicate detector for a dry-run check.
func (s *Service) CheckDuplicate(ctx context.Context, content string, category types.Category) ([]types.DuplicateMatch, error) {
	return s.optimizer.FindDuplicates(ctx, content, category)
}
