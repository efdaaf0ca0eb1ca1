// Package types provides the core data structures for the context vault:
// conversations, projects, preferences, and context links.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxClockSkew is the tolerated gap between a conversation timestamp and the
// local clock before the record is considered future-dated.
const maxClockSkew = 5 * time.Minute

// Category classifies what kind of memory a conversation holds.
type Category string

const (
	// CategoryPreference captures user conventions and preferred ways of working
	CategoryPreference Category = "preference"
	// CategorySolution captures a resolved problem and its fix
	CategorySolution Category = "solution"
	// CategoryProjectContext captures facts about a project or codebase
	CategoryProjectContext Category = "project_context"
	// CategoryDecision captures an explicit choice and its rationale
	CategoryDecision Category = "decision"
	// CategoryManual marks content stored by explicit user request
	CategoryManual Category = "manual"
	// CategoryUnknown is the analyzer's fallback when no signal matched
	CategoryUnknown Category = "unknown"
)

// Valid returns true if the category is one of the recognized values.
func (c Category) Valid() bool {
	switch c {
	case CategoryPreference, CategorySolution, CategoryProjectContext, CategoryDecision, CategoryManual, CategoryUnknown:
		return true
	}
	return false
}

// Storable reports whether the category may appear on a persisted conversation.
func (c Category) Storable() bool {
	return c.Valid() && c != CategoryUnknown
}

// CategoryPriority orders categories for single-label tie-breaking.
// Higher wins: decision > solution > preference > project_context.
func CategoryPriority(c Category) int {
	switch c {
	case CategoryDecision:
		return 4
	case CategorySolution:
		return 3
	case CategoryPreference:
		return 2
	case CategoryProjectContext:
		return 1
	default:
		return 0
	}
}

// Relationship types for context links.
const (
	RelSessionMember  = "session_member"
	RelSessionSummary = "session_summary"
	RelRelated        = "related"
)

// ExtractedInfo holds structured facts the analyzer pulled out of a
// conversation pair.
type ExtractedInfo struct {
	Technologies []string `json:"technologies,omitempty"`
	FilePaths    []string `json:"file_paths,omitempty"`
	Decisions    []string `json:"decisions,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
}

// IsEmpty returns true when nothing was extracted.
func (ei *ExtractedInfo) IsEmpty() bool {
	return ei == nil || (len(ei.Technologies) == 0 && len(ei.FilePaths) == 0 && len(ei.Decisions) == 0 && len(ei.Constraints) == 0)
}

// ConversationMetadata is the metadata bag on a conversation. Recognized keys
// are typed fields; anything else round-trips verbatim through Extra.
type ConversationMetadata struct {
	AutoStored          bool           `json:"auto_stored,omitempty"`
	Confidence          float64        `json:"confidence,omitempty"`
	AnalysisCategory    Category       `json:"analysis_category,omitempty"`
	StorageReason       string         `json:"storage_reason,omitempty"`
	ExtractedInfo       *ExtractedInfo `json:"extracted_info,omitempty"`
	UserQuery           string         `json:"userQuery,omitempty"`
	AIResponse          string         `json:"aiResponse,omitempty"`
	MergedAt            *time.Time     `json:"merged_at,omitempty"`
	LastEdited          *time.Time     `json:"last_edited,omitempty"`
	CategoryUpdated     *time.Time     `json:"category_updated,omitempty"`
	OptimizationApplied bool           `json:"optimization_applied,omitempty"`
	OptimizationReasons []string       `json:"optimization_reasons,omitempty"`
	IndexOmitted        bool           `json:"index_omitted,omitempty"`

	// Extra preserves unrecognized keys exactly as received.
	Extra map[string]interface{} `json:"-"`
}

// recognizedMetadataKeys are the JSON names owned by the typed fields above.
var recognizedMetadataKeys = map[string]bool{
	"auto_stored": true, "confidence": true, "analysis_category": true,
	"storage_reason": true, "extracted_info": true, "userQuery": true,
	"aiResponse": true, "merged_at": true, "last_edited": true,
	"category_updated": true, "optimization_applied": true,
	"optimization_reasons": true, "index_omitted": true,
}

// MarshalJSON flattens Extra alongside the recognized keys.
func (m ConversationMetadata) MarshalJSON() ([]byte, error) {
	type alias ConversationMetadata
	raw, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return raw, nil
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if !recognizedMetadataKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits incoming keys into typed fields and Extra.
func (m *ConversationMetadata) UnmarshalJSON(data []byte) error {
	type alias ConversationMetadata
	var typed alias
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*m = ConversationMetadata(typed)
	for k, v := range all {
		if recognizedMetadataKeys[k] {
			continue
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]interface{})
		}
		m.Extra[k] = val
	}
	return nil
}

// Validate checks metadata invariants.
func (m *ConversationMetadata) Validate() error {
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %f", m.Confidence)
	}
	if m.AnalysisCategory != "" && !m.AnalysisCategory.Valid() {
		return fmt.Errorf("invalid analysis category: %s", m.AnalysisCategory)
	}
	return nil
}

// Conversation is the primary stored memory.
type Conversation struct {
	ID        string               `json:"id"`
	ToolName  string               `json:"tool_name"`
	ProjectID *string              `json:"project_id,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Content   string               `json:"content"`
	Metadata  ConversationMetadata `json:"metadata"`
	Tags      []string             `json:"tags"`
}

// NewConversation creates a conversation with a fresh ID and normalized tags.
func NewConversation(toolName, content string, metadata ConversationMetadata, tags []string) (*Conversation, error) {
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return &Conversation{
		ID:        uuid.New().String(),
		ToolName:  strings.ToLower(strings.TrimSpace(toolName)),
		Timestamp: time.Now().UTC(),
		Content:   content,
		Metadata:  metadata,
		Tags:      NormalizeTags(tags),
	}, nil
}

// Validate checks conversation invariants.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("id cannot be empty")
	}
	if c.Content == "" {
		return errors.New("content cannot be empty")
	}
	if c.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}
	if c.Timestamp.After(time.Now().UTC().Add(maxClockSkew)) {
		return fmt.Errorf("timestamp %s is in the future", c.Timestamp.Format(time.RFC3339))
	}
	return c.Metadata.Validate()
}

// HasTag reports whether the conversation carries the given tag.
func (c *Conversation) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags lowercases, trims, dedupes, and sorts a tag set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Project groups conversations under a named codebase or effort.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         *string   `json:"path,omitempty"`
	Description  *string   `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// NewProject creates a project with a fresh ID.
func NewProject(name string, path, description *string) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("project name cannot be empty")
	}
	now := time.Now().UTC()
	return &Project{
		ID:           uuid.New().String(),
		Name:         name,
		Path:         path,
		Description:  description,
		CreatedAt:    now,
		LastAccessed: now,
	}, nil
}

// Preference categories.
const (
	PreferenceCategoryGeneral  = "general"
	PreferenceCategoryLearning = "learning"
)

// Preference is a keyed setting. The learning engine stores its state as
// preferences under the learning category.
type Preference struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Category  string      `json:"category"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Validate checks preference invariants.
func (p *Preference) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return errors.New("preference key cannot be empty")
	}
	if p.Category == "" {
		return errors.New("preference category cannot be empty")
	}
	return nil
}

// ContextLink is a directed, typed, confidence-scored edge between two
// conversations.
type ContextLink struct {
	ID               string    `json:"id"`
	SourceID         string    `json:"source_id"`
	TargetID         string    `json:"target_id"`
	RelationshipType string    `json:"relationship_type"`
	ConfidenceScore  float64   `json:"confidence_score"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewContextLink creates a link with a fresh ID.
func NewContextLink(sourceID, targetID, relationshipType string, confidence float64) (*ContextLink, error) {
	if sourceID == "" || targetID == "" {
		return nil, errors.New("link endpoints cannot be empty")
	}
	if relationshipType == "" {
		return nil, errors.New("relationship type cannot be empty")
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence score must be between 0 and 1, got %f", confidence)
	}
	return &ContextLink{
		ID:               uuid.New().String(),
		SourceID:         sourceID,
		TargetID:         targetID,
		RelationshipType: relationshipType,
		ConfidenceScore:  confidence,
		CreatedAt:        time.Now().UTC(),
	}, nil
}
