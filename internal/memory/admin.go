package memory

import (
	"context"

	apperrors "contextvault/internal/errors"
	"contextvault/internal/storage"
	"contextvault/pkg/types"
)

// Bulk operation names.
const (
	BulkDelete         = "delete"
	BulkAddTags        = "add_tags"
	BulkRemoveTags     = "remove_tags"
	BulkUpdateCategory = "update_category"
	BulkExport         = "export"
)

// BulkRequest applies one operation to a set of conversations.
type BulkRequest struct {
	Operation string         `json:"operation"`
	IDs       []string       `json:"ids"`
	Tags      []string       `json:"tags,omitempty"`
	Category  types.Category `json:"category,omitempty"`
}

// BulkResult reports per-ID outcomes. Failed maps each failing ID to its
// error; the operation continues past individual failures.
type BulkResult struct {
	Operation string                `json:"operation"`
	Succeeded []string              `json:"succeeded"`
	Failed    map[string]string     `json:"failed,omitempty"`
	Exported  []*types.Conversation `json:"exported,omitempty"`
}

// Bulk applies an operation to each listed conversation independently.
func (s *Service) Bulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if len(req.IDs) == 0 {
		return nil, apperrors.NewRequiredField("ids")
	}
	switch req.Operation {
	case BulkDelete, BulkAddTags, BulkRemoveTags, BulkUpdateCategory, BulkExport:
	default:
		return nil, apperrors.NewInvalidArgument("operation", "unknown bulk operation", req.Operation)
	}
	if (req.Operation == BulkAddTags || req.Operation == BulkRemoveTags) && len(req.Tags) == 0 {
		return nil, apperrors.NewRequiredField("tags")
	}
	if req.Operation == BulkUpdateCategory && !req.Category.Storable() {
		return nil, apperrors.NewInvalidArgument("category", "not a storable category", string(req.Category))
	}

	result := &BulkResult{Operation: req.Operation, Failed: make(map[string]string)}
	err := s.metrics.Track("bulk_"+req.Operation, func() error {
		for _, id := range req.IDs {
			if err := s.bulkOne(ctx, req, id, result); err != nil {
				result.Failed[id] = err.Error()
				continue
			}
			result.Succeeded = append(result.Succeeded, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

func (s *Service) bulkOne(ctx context.Context, req BulkRequest, id string, result *BulkResult) error {
	switch req.Operation {
	case BulkDelete:
		return s.DeleteConversation(ctx, id)

	case BulkAddTags:
		return s.retag(ctx, id, func(tags []string) []string {
			return types.NormalizeTags(append(tags, req.Tags...))
		})

	case BulkRemoveTags:
		remove := make(map[string]bool, len(req.Tags))
		for _, t := range types.NormalizeTags(req.Tags) {
			remove[t] = true
		}
		return s.retag(ctx, id, func(tags []string) []string {
			kept := tags[:0]
			for _, t := range tags {
				if !remove[t] {
					kept = append(kept, t)
				}
			}
			return kept
		})

	case BulkUpdateCategory:
		_, err := s.UpdateCategory(ctx, id, req.Category)
		return err

	case BulkExport:
		conv, err := s.store.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		result.Exported = append(result.Exported, conv)
		return nil
	}
	return apperrors.NewInvalidArgument("operation", "unknown bulk operation", req.Operation)
}

// retag rewrites a conversation's tag set and re-indexes it.
func (s *Service) retag(ctx context.Context, id string, apply func([]string) []string) error {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	conv.Tags = apply(conv.Tags)
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return err
	}
	s.reindex(ctx, conv)
	return nil
}

// CheckIntegrity scans the repository for inconsistencies, fixing the safe
// ones when asked.
func (s *Service) CheckIntegrity(ctx context.Context, autoFix bool) (*storage.IntegrityReport, error) {
	var report *storage.IntegrityReport
	err := s.metrics.Track("check_integrity", func() error {
		var err error
		report, err = s.store.CheckIntegrity(ctx, autoFix)
		return err
	})
	return report, err
}

// ApplyRetention deletes expired conversations per the retention policy and
// drops them from the search index.
func (s *Service) ApplyRetention(ctx context.Context) (*storage.RetentionResult, error) {
	var result *storage.RetentionResult
	err := s.metrics.Track("apply_retention", func() error {
		var err error
		result, err = s.store.ApplyRetention(ctx, s.cfg.Retention)
		if err != nil {
			return err
		}
		for _, id := range result.DeletedIDs {
			if rerr := s.engine.Remove(ctx, id); rerr != nil {
				s.logger.WarnContext(ctx, "index removal failed after retention", "id", id, "error", rerr.Error())
			}
		}
		return nil
	})
	return result, err
}

// Vacuum compacts the storage backend.
func (s *Service) Vacuum(ctx context.Context) error {
	return s.metrics.Track("vacuum", func() error {
		return s.store.Vacuum(ctx)
	})
}
