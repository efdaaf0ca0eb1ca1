package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	apperrors "contextvault/internal/errors"
	"contextvault/pkg/types"
)

// SaveProject inserts or replaces a project.
func (s *Store) SaveProject(ctx context.Context, p *types.Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.NewRequiredField("name")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM projects WHERE id = ?`), p.ID)
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO projects (id, name, path, description, created_at, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?)`),
			p.ID, p.Name, p.Path, p.Description, formatTime(p.CreatedAt), formatTime(p.LastAccessed))
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		return nil
	})
}

// GetProject fetches one project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, path, description, created_at, last_accessed
		FROM projects WHERE id = ?`), id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("project", id)
	}
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	return p, nil
}

// GetProjectByName fetches a project by exact name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, path, description, created_at, last_accessed
		FROM projects WHERE name = ?`), name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("project", name)
	}
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by last access, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, description, created_at, last_accessed
		FROM projects ORDER BY last_accessed DESC, id ASC`)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperrors.NewInternal("failed to scan project", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchProject updates a project's last_accessed to now.
func (s *Store) TouchProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE projects SET last_accessed = ? WHERE id = ?`),
		formatTime(time.Now()), id)
	if err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFound("project", id)
	}
	return nil
}

// DeleteProject removes a project; its conversations keep a NULL project_id.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// SQLite only enforces the FK action with pragma on; clear refs explicitly.
		_, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE conversations SET project_id = NULL WHERE project_id = ?`), id)
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM projects WHERE id = ?`), id)
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NewNotFound("project", id)
		}
		return nil
	})
}

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		p           types.Project
		path, desc  sql.NullString
		created, la string
	)
	if err := row.Scan(&p.ID, &p.Name, &path, &desc, &created, &la); err != nil {
		return nil, err
	}
	if path.Valid {
		p.Path = &path.String
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.LastAccessed, err = parseTime(la); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPreference upserts a preference value. The value is stored as JSON.
func (s *Store) SetPreference(ctx context.Context, pref *types.Preference) error {
	if err := pref.Validate(); err != nil {
		return apperrors.NewInvalidArgument("preference", err.Error(), nil)
	}
	value, err := json.Marshal(pref.Value)
	if err != nil {
		return apperrors.NewInternal("failed to encode preference value", err)
	}
	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM preferences WHERE key = ? AND category = ?`), pref.Key, pref.Category)
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO preferences (key, category, value, updated_at)
			VALUES (?, ?, ?, ?)`),
			pref.Key, pref.Category, string(value), formatTime(pref.UpdatedAt))
		if err != nil {
			return apperrors.NewBackendUnavailable("database", err)
		}
		return nil
	})
}

// GetPreference fetches one preference by key and category.
func (s *Store) GetPreference(ctx context.Context, key, category string) (*types.Preference, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT key, category, value, updated_at FROM preferences
		WHERE key = ? AND category = ?`), key, category)
	p, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("preference", key)
	}
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	return p, nil
}

// ListPreferences returns preferences, optionally filtered by category.
func (s *Store) ListPreferences(ctx context.Context, category string) ([]*types.Preference, error) {
	query := `SELECT key, category, value, updated_at FROM preferences ORDER BY category, key`
	args := []interface{}{}
	if category != "" {
		query = `SELECT key, category, value, updated_at FROM preferences WHERE category = ? ORDER BY key`
		args = append(args, category)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, apperrors.NewInternal("failed to scan preference", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePreference removes a preference.
func (s *Store) DeletePreference(ctx context.Context, key, category string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM preferences WHERE key = ? AND category = ?`), key, category)
	if err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFound("preference", key)
	}
	return nil
}

func scanPreference(row rowScanner) (*types.Preference, error) {
	var (
		p       types.Preference
		value   string
		updated string
	)
	if err := row.Scan(&p.Key, &p.Category, &value, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(value), &p.Value); err != nil {
		return nil, err
	}
	var err error
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveContextLink inserts a context link after verifying both endpoints exist.
func (s *Store) SaveContextLink(ctx context.Context, link *types.ContextLink) error {
	for _, id := range []string{link.SourceID, link.TargetID} {
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO context_links (id, source_id, target_id, relationship_type, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		link.ID, link.SourceID, link.TargetID, link.RelationshipType,
		link.ConfidenceScore, formatTime(link.CreatedAt))
	if err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	return nil
}

// LinksFor returns all links touching a conversation, either direction.
func (s *Store) LinksFor(ctx context.Context, conversationID string) ([]*types.ContextLink, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, source_id, target_id, relationship_type, confidence_score, created_at
		FROM context_links WHERE source_id = ? OR target_id = ?
		ORDER BY created_at ASC, id ASC`), conversationID, conversationID)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ContextLink
	for rows.Next() {
		var (
			l       types.ContextLink
			created string
		)
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.RelationshipType, &l.ConfidenceScore, &created); err != nil {
			return nil, apperrors.NewInternal("failed to scan context link", err)
		}
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, apperrors.NewInternal("bad link timestamp", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// DeleteContextLink removes one link by ID.
func (s *Store) DeleteContextLink(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM context_links WHERE id = ?`), id)
	if err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFound("context_link", id)
	}
	return nil
}
