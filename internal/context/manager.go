// Package context enriches freshly stored conversations: project detection,
// technical-domain tagging, and context-link proposals. Every hook is
// best-effort; enrichment failures never fail the write that triggered them.
package context

import (
	"context"
	"sort"
	"strings"

	"contextvault/internal/logging"
	"contextvault/internal/search"
	"contextvault/pkg/types"
)

// linkConfidenceFloor is the minimum similarity for a proposed related link.
const linkConfidenceFloor = 0.6

// Repository is the slice of the record repository the manager needs.
type Repository interface {
	ListProjects(ctx context.Context) ([]*types.Project, error)
	TouchProject(ctx context.Context, id string) error
	SaveConversation(ctx context.Context, conv *types.Conversation) error
	SaveContextLink(ctx context.Context, link *types.ContextLink) error
}

// Searcher finds related conversations for link proposals.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*types.SearchResults, error)
}

// Manager runs the post-store enrichment hooks.
type Manager struct {
	repo     Repository
	searcher Searcher
	logger   logging.Logger
}

// NewManager creates a context manager.
func NewManager(repo Repository, searcher Searcher, logger logging.Logger) *Manager {
	return &Manager{repo: repo, searcher: searcher, logger: logger.WithComponent("context")}
}

// Enrich runs all hooks against a stored conversation. The conversation is
// updated in place and re-saved when a hook changed it.
func (m *Manager) Enrich(ctx context.Context, conv *types.Conversation) {
	changed := false
	if m.detectProject(ctx, conv) {
		changed = true
	}
	if m.applyTags(conv) {
		changed = true
	}
	if changed {
		if err := m.repo.SaveConversation(ctx, conv); err != nil {
			m.logger.WarnContext(ctx, "failed to persist enrichment", "id", conv.ID, "error", err.Error())
		}
	}
	m.proposeLinks(ctx, conv)
}

// detectProject assigns the conversation to a project whose name or path
// appears in the content or extracted file paths, preferring the most
// recently accessed project on multiple matches.
func (m *Manager) detectProject(ctx context.Context, conv *types.Conversation) bool {
	if conv.ProjectID != nil {
		return false
	}
	projects, err := m.repo.ListProjects(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "project listing failed, skipping detection", "error", err.Error())
		return false
	}

	haystack := strings.ToLower(conv.Content)
	if info := conv.Metadata.ExtractedInfo; info != nil {
		haystack += " " + strings.ToLower(strings.Join(info.FilePaths, " "))
	}

	// ListProjects orders by last access, so the first hit wins.
	for _, p := range projects {
		name := strings.ToLower(p.Name)
		if name != "" && strings.Contains(haystack, name) {
			id := p.ID
			conv.ProjectID = &id
		} else if p.Path != nil && *p.Path != "" && strings.Contains(haystack, strings.ToLower(*p.Path)) {
			id := p.ID
			conv.ProjectID = &id
		}
		if conv.ProjectID != nil {
			if err := m.repo.TouchProject(ctx, p.ID); err != nil {
				m.logger.WarnContext(ctx, "failed to touch project", "project", p.ID, "error", err.Error())
			}
			return true
		}
	}
	return false
}

// domainTags maps extracted technologies to coarse domain tags.
var domainTags = map[string]string{
	"postgres": "database", "postgresql": "database", "mysql": "database",
	"sqlite": "database", "mongodb": "database", "redis": "database",
	"docker": "infrastructure", "kubernetes": "infrastructure",
	"terraform": "infrastructure", "helm": "infrastructure",
	"aws": "cloud", "gcp": "cloud", "azure": "cloud",
	"react": "frontend", "vue": "frontend", "angular": "frontend",
	"grpc": "api", "graphql": "api", "rest": "api",
	"kafka": "messaging", "rabbitmq": "messaging", "nats": "messaging",
}

// applyTags adds technology and domain tags derived from the extracted info.
func (m *Manager) applyTags(conv *types.Conversation) bool {
	info := conv.Metadata.ExtractedInfo
	if info == nil || len(info.Technologies) == 0 {
		return false
	}
	tags := append([]string{}, conv.Tags...)
	for _, tech := range info.Technologies {
		tags = append(tags, tech)
		if domain, ok := domainTags[strings.ToLower(tech)]; ok {
			tags = append(tags, domain)
		}
	}
	normalized := types.NormalizeTags(tags)
	if len(normalized) == len(conv.Tags) {
		return false
	}
	conv.Tags = normalized
	return true
}

// proposeLinks searches for related stored conversations and records a
// related link for each hit above the confidence floor.
func (m *Manager) proposeLinks(ctx context.Context, conv *types.Conversation) {
	results, err := m.searcher.Search(ctx, search.Query{
		Text:  conv.Content,
		Mode:  types.SearchModeHybrid,
		Limit: 5,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "link proposal search failed", "id", conv.ID, "error", err.Error())
		return
	}

	// Stable order keeps repeated enrichment deterministic.
	hits := results.Results
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].ExternalID < hits[j].ExternalID })

	for i := range hits {
		hit := hits[i]
		if hit.ExternalID == conv.ID || hit.Score < linkConfidenceFloor {
			continue
		}
		link, err := types.NewContextLink(conv.ID, hit.ExternalID, types.RelRelated, hit.Score)
		if err != nil {
			continue
		}
		if err := m.repo.SaveContextLink(ctx, link); err != nil {
			m.logger.WarnContext(ctx, "failed to save proposed link", "source", conv.ID, "target", hit.ExternalID, "error", err.Error())
		}
	}
}
