package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "contextvault/internal/errors"
	"contextvault/pkg/types"
)

const conversationColumns = "id, tool_name, project_id, timestamp, content, metadata, tags"

// SaveConversation inserts or replaces a conversation in one transaction.
func (s *Store) SaveConversation(ctx context.Context, conv *types.Conversation) error {
	if err := conv.Validate(); err != nil {
		return apperrors.NewInvalidArgument("conversation", err.Error(), nil)
	}
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return apperrors.NewInternal("failed to encode metadata", err)
	}
	tags, err := json.Marshal(conv.Tags)
	if err != nil {
		return apperrors.NewInternal("failed to encode tags", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM conversations WHERE id = ?`), conv.ID)
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO conversations (`+conversationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			conv.ID, conv.ToolName, conv.ProjectID, formatTime(conv.Timestamp),
			conv.Content, string(metadata), string(tags))
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		return nil
	})
}

// GetConversation fetches one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	if id == "" {
		return nil, apperrors.ErrIDRequired
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("conversation", id)
	}
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its links. Returns NotFound
// when the row does not exist.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.ErrIDRequired
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), id)
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apperrors.NewNotFound("conversation", id)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			DELETE FROM context_links WHERE source_id = ? OR target_id = ?`), id, id)
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		return nil
	})
}

// RecentByTool returns the newest conversations for a tool, newest first,
// ties broken by id ascending.
func (s *Store) RecentByTool(ctx context.Context, toolName string, limit int) ([]*types.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE tool_name = ?
		ORDER BY timestamp DESC, id ASC LIMIT ?`, strings.ToLower(toolName), limit)
}

// RecentSince returns conversations newer than since, newest first, with an
// optional tool restriction.
func (s *Store) RecentSince(ctx context.Context, since time.Time, toolName string, limit int) ([]*types.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	if toolName != "" {
		return s.queryConversations(ctx, `
			SELECT `+conversationColumns+` FROM conversations
			WHERE timestamp >= ? AND tool_name = ?
			ORDER BY timestamp DESC, id ASC LIMIT ?`, formatTime(since), strings.ToLower(toolName), limit)
	}
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE timestamp >= ?
		ORDER BY timestamp DESC, id ASC LIMIT ?`, formatTime(since), limit)
}

// ByProject returns a project's conversations, newest first.
func (s *Store) ByProject(ctx context.Context, projectID string, limit int) ([]*types.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE project_id = ?
		ORDER BY timestamp DESC, id ASC LIMIT ?`, projectID, limit)
}

// ByTimeRange returns conversations within [from, to], oldest first.
func (s *Store) ByTimeRange(ctx context.Context, from, to time.Time) ([]*types.Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`, formatTime(from), formatTime(to))
}

// SearchByContent does a case-insensitive substring scan over content.
// This is the repository fallback; ranked search lives in the search engine.
func (s *Store) SearchByContent(ctx context.Context, query string, limit int) ([]*types.Conversation, error) {
	if query == "" {
		return nil, apperrors.ErrQueryRequired
	}
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + strings.ToLower(query) + "%"
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE LOWER(content) LIKE ?
		ORDER BY timestamp DESC, id ASC LIMIT ?`, pattern, limit)
}

// ListConversations pages through all conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]*types.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		ORDER BY timestamp DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
}

// CountConversations returns the total row count.
func (s *Store) CountConversations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	if err != nil {
		return 0, apperrors.NewBackendUnavailable("database", err)
	}
	return n, nil
}

// CountByProject returns the conversation count for one project.
func (s *Store) CountByProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM conversations WHERE project_id = ?`), projectID).Scan(&n)
	if err != nil {
		return 0, apperrors.NewBackendUnavailable("database", err)
	}
	return n, nil
}

// CountSimilarToday counts conversations of a category stored since the start
// of the current UTC day whose metadata records an applied optimization.
// Used by the per-day related-duplicate cap.
func (s *Store) CountSimilarToday(ctx context.Context, category types.Category) (int, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	rows, err := s.queryConversations(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, formatTime(dayStart))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range rows {
		if c.Metadata.AnalysisCategory == category && c.Metadata.OptimizationApplied {
			n++
		}
	}
	return n, nil
}

func (s *Store) queryConversations(ctx context.Context, query string, args ...interface{}) ([]*types.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, apperrors.NewInternal("failed to scan conversation", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*types.Conversation, error) {
	var (
		conv      types.Conversation
		projectID sql.NullString
		ts        string
		metadata  string
		tags      string
	)
	if err := row.Scan(&conv.ID, &conv.ToolName, &projectID, &ts, &conv.Content, &metadata, &tags); err != nil {
		return nil, err
	}
	if projectID.Valid {
		conv.ProjectID = &projectID.String
	}
	t, err := parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", ts, err)
	}
	conv.Timestamp = t
	if err := json.Unmarshal([]byte(metadata), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("bad metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &conv.Tags); err != nil {
		return nil, fmt.Errorf("bad tags: %w", err)
	}
	return &conv, nil
}
