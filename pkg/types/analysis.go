package types

import (
	"errors"
	"fmt"
	"time"
)

// AnalysisResult is the storage analyzer's verdict on a conversation pair.
type AnalysisResult struct {
	ShouldStore      bool                   `json:"should_store"`
	AutoStore        bool                   `json:"auto_store"`
	Confidence       float64                `json:"confidence"`
	Category         Category               `json:"category"`
	Reason           string                 `json:"reason"`
	SuggestedContent string                 `json:"suggested_content"`
	ExtractedInfo    *ExtractedInfo         `json:"extracted_info,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// SuggestEligible reports whether the result falls in the suggest band:
// worth storing but below the auto-store threshold.
func (ar *AnalysisResult) SuggestEligible() bool {
	return ar.ShouldStore && !ar.AutoStore
}

// DecisionType is the duplicate detector's verdict.
type DecisionType string

const (
	DecisionStore DecisionType = "store"
	DecisionSkip  DecisionType = "skip"
	DecisionMerge DecisionType = "merge"
)

// Valid returns true if the decision type is recognized.
func (d DecisionType) Valid() bool {
	switch d {
	case DecisionStore, DecisionSkip, DecisionMerge:
		return true
	}
	return false
}

// OptimizeDecision carries the duplicate detector's verdict plus the data the
// caller needs to act on it.
type OptimizeDecision struct {
	Type                 DecisionType `json:"type"`
	TargetID             string       `json:"target_id,omitempty"`
	MergedContent        string       `json:"merged_content,omitempty"`
	Reasons              []string     `json:"reasons,omitempty"`
	ConfidenceAdjustment float64      `json:"confidence_adjustment,omitempty"`
}

// Validate enforces decision totality: skip and merge carry a target.
func (d *OptimizeDecision) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("invalid decision type: %s", d.Type)
	}
	if (d.Type == DecisionSkip || d.Type == DecisionMerge) && d.TargetID == "" {
		return fmt.Errorf("%s decision requires a target id", d.Type)
	}
	if d.Type == DecisionMerge && d.MergedContent == "" {
		return errors.New("merge decision requires merged content")
	}
	if d.ConfidenceAdjustment < 0 {
		return errors.New("confidence adjustment cannot be negative")
	}
	return nil
}

// MatchType classifies a duplicate candidate by similarity band.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchNear      MatchType = "near"
	MatchRelated   MatchType = "related"
	MatchUnrelated MatchType = "unrelated"
)

// DuplicateMatch is one candidate from a duplicate check, with its score.
type DuplicateMatch struct {
	ConversationID string    `json:"conversation_id"`
	Similarity     float64   `json:"similarity"`
	MatchType      MatchType `json:"match_type"`
	Category       Category  `json:"category,omitempty"`
	ContentPreview string    `json:"content_preview,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SuggestionStatus tracks the suggestion lifecycle state machine.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
)

// StorageSuggestion is a pending storage proposal awaiting user action.
// Held in memory only; evicted after a bounded age.
type StorageSuggestion struct {
	ID              string           `json:"id"`
	UserMessage     string           `json:"user_message"`
	AIResponse      string           `json:"ai_response"`
	Analysis        *AnalysisResult  `json:"analysis_result"`
	ToolName        string           `json:"tool_name,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	Status          SuggestionStatus `json:"status"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}

// FeedbackType classifies user feedback events for the learning engine.
type FeedbackType string

const (
	FeedbackApproval         FeedbackType = "approval"
	FeedbackRejection        FeedbackType = "rejection"
	FeedbackModification     FeedbackType = "modification"
	FeedbackPreferenceUpdate FeedbackType = "preference_update"
	FeedbackPositive         FeedbackType = "positive"
	FeedbackNegative         FeedbackType = "negative"
)

// Valid returns true if the feedback type is recognized.
func (f FeedbackType) Valid() bool {
	switch f {
	case FeedbackApproval, FeedbackRejection, FeedbackModification,
		FeedbackPreferenceUpdate, FeedbackPositive, FeedbackNegative:
		return true
	}
	return false
}

// Feedback is a single user signal about a suggestion or conversation.
type Feedback struct {
	Type      FeedbackType           `json:"type"`
	TargetID  string                 `json:"target_id"`
	Original  string                 `json:"original,omitempty"`
	Corrected string                 `json:"corrected,omitempty"`
	Category  Category               `json:"category,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Validate checks feedback invariants.
func (f *Feedback) Validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("invalid feedback type: %s", f.Type)
	}
	if f.TargetID == "" {
		return errors.New("feedback target id cannot be empty")
	}
	return nil
}

// SearchMode selects which indices a search consults.
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeHybrid   SearchMode = "hybrid"
)

// Valid returns true if the mode is recognized.
func (m SearchMode) Valid() bool {
	switch m {
	case SearchModeSemantic, SearchModeKeyword, SearchModeHybrid:
		return true
	}
	return false
}

// SearchResult is one ranked hit from the search engine.
type SearchResult struct {
	InternalID    int64                  `json:"internal_id"`
	ExternalID    string                 `json:"external_id,omitempty"`
	Content       string                 `json:"content"`
	Score         float64                `json:"score"`
	SemanticScore float64                `json:"semantic_score"`
	KeywordScore  float64                `json:"keyword_score"`
	RecencyScore  float64                `json:"recency_score"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResults is a ranked result set plus query bookkeeping.
type SearchResults struct {
	Results  []SearchResult `json:"results"`
	Total    int            `json:"total"`
	Mode     SearchMode     `json:"mode"`
	Degraded bool           `json:"degraded,omitempty"`
	QueryMS  int64          `json:"query_time_ms"`
}

// ProblemSolutionPair links a problem statement to its resolution within a
// session.
type ProblemSolutionPair struct {
	ProblemID  string `json:"problem_id"`
	SolutionID string `json:"solution_id"`
	Problem    string `json:"problem"`
	Solution   string `json:"solution"`
}

// SessionAnalysis is the session analyzer's summary of a conversation cluster.
type SessionAnalysis struct {
	ConversationIDs []string              `json:"conversation_ids"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	Themes          []string              `json:"themes"`
	Pairs           []ProblemSolutionPair `json:"problem_solution_pairs"`
	ValueScore      float64               `json:"value_score"`
	Summary         string                `json:"summary"`
}

// CategoryStats aggregates suggestion outcomes for one category.
type CategoryStats struct {
	Total         int `json:"suggestions_total"`
	Approvals     int `json:"approvals"`
	Rejections    int `json:"rejections"`
	Modifications int `json:"modifications"`
}

// ApprovalRate returns approvals over total, or 0 with no samples.
func (s *CategoryStats) ApprovalRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Approvals) / float64(s.Total)
}

// CalibrationBucket tracks predicted vs actual positives for one 0.1-wide
// confidence bucket.
type CalibrationBucket struct {
	Samples           int     `json:"samples"`
	PredictedPositive float64 `json:"predicted_positive"`
	ActualPositive    float64 `json:"actual_positive"`
}

// Ratio returns actual over predicted, or 1 with no prediction mass.
func (b *CalibrationBucket) Ratio() float64 {
	if b.PredictedPositive == 0 {
		return 1
	}
	return b.ActualPositive / b.PredictedPositive
}

// Thresholds are the effective analyzer thresholds for one category.
type Thresholds struct {
	AutoStore float64 `json:"auto_store"`
	Suggest   float64 `json:"suggest"`
}

// MemoryStatistics summarizes the stored corpus.
type MemoryStatistics struct {
	TotalConversations int              `json:"total_conversations"`
	AutoStored         int              `json:"auto_stored"`
	ByCategory         map[string]int   `json:"by_category"`
	ByTool             map[string]int   `json:"by_tool"`
	ConfidenceBuckets  map[string]int   `json:"confidence_buckets"`
	DailyCounts        map[string]int   `json:"daily_counts"`
	StorageBytes       int64            `json:"storage_bytes"`
	GeneratedAt        time.Time        `json:"generated_at"`
}
