package storage

import (
	"context"
	"database/sql"
	"time"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
)

// RetentionResult reports the outcome of a cleanup pass.
type RetentionResult struct {
	Examined   int       `json:"examined"`
	Deleted    int       `json:"deleted"`
	Kept       int       `json:"kept"`
	Cutoff     time.Time `json:"cutoff"`
	DeletedIDs []string  `json:"deleted_ids,omitempty"`
}

// ApplyRetention deletes conversations older than the configured age while
// always keeping at least KeepMinimum rows overall. Newest rows survive.
// Links touching deleted rows are removed in the same transaction.
func (s *Store) ApplyRetention(ctx context.Context, cfg config.RetentionConfig) (*RetentionResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.OlderThanDays)
	result := &RetentionResult{Cutoff: cutoff}

	total, err := s.CountConversations(ctx)
	if err != nil {
		return nil, err
	}
	result.Examined = total
	if total <= cfg.KeepMinimum {
		result.Kept = total
		return result, nil
	}

	// Candidate IDs older than the cutoff, oldest first, capped so the
	// overall count never drops below the floor.
	deletable := total - cfg.KeepMinimum
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id FROM conversations
		WHERE timestamp < ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`), formatTime(cutoff), deletable)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, apperrors.NewInternal("failed to scan retention candidate", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}

	if len(ids) == 0 {
		result.Kept = total
		return result, nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), id); err != nil {
				return apperrors.NewBackendUnavailable("database", err)
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`
				DELETE FROM context_links WHERE source_id = ? OR target_id = ?`), id, id); err != nil {
				return apperrors.NewBackendUnavailable("database", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Deleted = len(ids)
	result.Kept = total - len(ids)
	result.DeletedIDs = ids
	return result, nil
}
