// Package suggestions holds the pending storage suggestions and their
// lifecycle: pending suggestions can be approved or rejected exactly once,
// and stale ones are evicted after a bounded age.
package suggestions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
	"contextvault/pkg/types"
)

// FeedbackSink receives the feedback event derived from each resolution.
// The learning engine implements this.
type FeedbackSink interface {
	ProcessFeedback(ctx context.Context, fb *types.Feedback) error
}

// Manager is the in-memory suggestion table. Suggestions are deliberately not
// persisted: an unreviewed suggestion older than the TTL has lost its moment.
type Manager struct {
	mu          sync.Mutex
	suggestions map[string]*types.StorageSuggestion
	ttl         time.Duration
	sink        FeedbackSink
	logger      logging.Logger
}

// NewManager creates a manager. sink may be nil.
func NewManager(ttl time.Duration, sink FeedbackSink, logger logging.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		suggestions: make(map[string]*types.StorageSuggestion),
		ttl:         ttl,
		sink:        sink,
		logger:      logger.WithComponent("suggestions"),
	}
}

// Create registers a new pending suggestion and returns it.
func (m *Manager) Create(userMessage, aiResponse, toolName string, analysis *types.AnalysisResult) *types.StorageSuggestion {
	s := &types.StorageSuggestion{
		ID:          uuid.New().String(),
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Analysis:    analysis,
		ToolName:    toolName,
		CreatedAt:   time.Now().UTC(),
		Status:      types.SuggestionPending,
	}
	m.mu.Lock()
	m.suggestions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns a suggestion by ID.
func (m *Manager) Get(id string) (*types.StorageSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, apperrors.NewNotFound("suggestion", id)
	}
	copied := *s
	return &copied, nil
}

// List returns suggestions, optionally restricted to one status, newest
// first with ties broken by ID for a stable order.
func (m *Manager) List(status types.SuggestionStatus) []*types.StorageSuggestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.StorageSuggestion, 0, len(m.suggestions))
	for _, s := range m.suggestions {
		if status != "" && s.Status != status {
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Approve resolves a pending suggestion. When modifiedContent differs from
// the analyzer's proposal the emitted feedback is a modification rather than
// a plain approval. Returns the approved suggestion and the content to store.
func (m *Manager) Approve(ctx context.Context, id, modifiedContent string) (*types.StorageSuggestion, string, error) {
	m.mu.Lock()
	s, ok := m.suggestions[id]
	if !ok {
		m.mu.Unlock()
		return nil, "", apperrors.NewNotFound("suggestion", id)
	}
	if s.Status != types.SuggestionPending {
		m.mu.Unlock()
		return nil, "", apperrors.NewInvalidTransition(string(s.Status), string(types.SuggestionApproved))
	}
	now := time.Now().UTC()
	s.Status = types.SuggestionApproved
	s.ApprovedAt = &now
	copied := *s
	m.mu.Unlock()

	content := s.Analysis.SuggestedContent
	fbType := types.FeedbackApproval
	var corrected string
	if modifiedContent != "" && modifiedContent != content {
		content = modifiedContent
		fbType = types.FeedbackModification
		corrected = modifiedContent
	}

	m.emit(ctx, &types.Feedback{
		Type:      fbType,
		TargetID:  id,
		Original:  s.Analysis.SuggestedContent,
		Corrected: corrected,
		Category:  s.Analysis.Category,
		Context:   map[string]interface{}{"confidence": s.Analysis.Confidence},
		Timestamp: now,
	})
	return &copied, content, nil
}

// Reject resolves a pending suggestion negatively.
func (m *Manager) Reject(ctx context.Context, id, reason string) (*types.StorageSuggestion, error) {
	m.mu.Lock()
	s, ok := m.suggestions[id]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.NewNotFound("suggestion", id)
	}
	if s.Status != types.SuggestionPending {
		m.mu.Unlock()
		return nil, apperrors.NewInvalidTransition(string(s.Status), string(types.SuggestionRejected))
	}
	now := time.Now().UTC()
	s.Status = types.SuggestionRejected
	s.RejectedAt = &now
	s.RejectionReason = reason
	copied := *s
	m.mu.Unlock()

	m.emit(ctx, &types.Feedback{
		Type:      types.FeedbackRejection,
		TargetID:  id,
		Original:  s.Analysis.SuggestedContent,
		Category:  s.Analysis.Category,
		Context:   map[string]interface{}{"confidence": s.Analysis.Confidence, "reason": reason},
		Timestamp: now,
	})
	return &copied, nil
}

// Cleanup evicts suggestions older than the TTL, whatever their status, and
// returns the eviction count.
func (m *Manager) Cleanup() int {
	cutoff := time.Now().UTC().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.suggestions {
		if s.CreatedAt.Before(cutoff) {
			delete(m.suggestions, id)
			removed++
		}
	}
	return removed
}

// StartCleanupLoop evicts stale suggestions periodically until ctx is done.
func (m *Manager) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Cleanup(); n > 0 {
					m.logger.Info("evicted stale suggestions", "count", n)
				}
			}
		}
	}()
}

// Count returns the number of held suggestions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.suggestions)
}

func (m *Manager) emit(ctx context.Context, fb *types.Feedback) {
	if m.sink == nil {
		return
	}
	if err := m.sink.ProcessFeedback(ctx, fb); err != nil {
		m.logger.WarnContext(ctx, "feedback processing failed", "suggestion", fb.TargetID, "error", err.Error())
	}
}
