package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "contextvault/internal/errors"
	"contextvault/pkg/types"
)

// IntegrityIssue describes one problem found by the checker.
type IntegrityIssue struct {
	Kind        string `json:"kind"`
	RecordID    string `json:"record_id"`
	Description string `json:"description"`
	Fixed       bool   `json:"fixed"`
}

// Issue kinds reported by CheckIntegrity.
const (
	IssueOrphanedLink      = "orphaned_link"
	IssueDanglingProject   = "dangling_project_ref"
	IssueCorruptMetadata   = "corrupt_metadata"
	IssueFutureTimestamp   = "future_timestamp"
	IssueDuplicateContent  = "duplicate_content"
	IssueInvalidConfidence = "invalid_confidence"
)

// IntegrityReport summarizes a full integrity pass.
type IntegrityReport struct {
	CheckedConversations int              `json:"checked_conversations"`
	CheckedLinks         int              `json:"checked_links"`
	Issues               []IntegrityIssue `json:"issues"`
	AutoFixed            int              `json:"auto_fixed"`
	Duration             time.Duration    `json:"duration"`
}

// CheckIntegrity scans for referential and structural problems. With autoFix
// set, orphaned links and dangling project references are repaired in place;
// corrupt rows are reported but never deleted automatically.
func (s *Store) CheckIntegrity(ctx context.Context, autoFix bool) (*IntegrityReport, error) {
	start := time.Now()
	report := &IntegrityReport{}

	if err := s.checkLinks(ctx, autoFix, report); err != nil {
		return nil, err
	}
	if err := s.checkConversations(ctx, autoFix, report); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	return report, nil
}

func (s *Store) checkLinks(ctx context.Context, autoFix bool, report *IntegrityReport) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.source_id, l.target_id, l.confidence_score
		FROM context_links l`)
	if err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	type linkRow struct {
		id, source, target string
		confidence         float64
	}
	var links []linkRow
	for rows.Next() {
		var l linkRow
		if err := rows.Scan(&l.id, &l.source, &l.target, &l.confidence); err != nil {
			_ = rows.Close()
			return apperrors.NewInternal("failed to scan link", err)
		}
		links = append(links, l)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}

	report.CheckedLinks = len(links)
	for _, l := range links {
		orphaned := false
		for _, endpoint := range []string{l.source, l.target} {
			var n int
			err := s.db.QueryRowContext(ctx, s.rebind(`
				SELECT COUNT(*) FROM conversations WHERE id = ?`), endpoint).Scan(&n)
			if err != nil {
				return apperrors.NewBackendUnavailable("database", err)
			}
			if n == 0 {
				orphaned = true
			}
		}
		if orphaned {
			issue := IntegrityIssue{
				Kind:        IssueOrphanedLink,
				RecordID:    l.id,
				Description: "link references a missing conversation",
			}
			if autoFix {
				if err := s.DeleteContextLink(ctx, l.id); err == nil {
					issue.Fixed = true
					report.AutoFixed++
				}
			}
			report.Issues = append(report.Issues, issue)
			continue
		}
		if l.confidence < 0 || l.confidence > 1 {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:        IssueInvalidConfidence,
				RecordID:    l.id,
				Description: "confidence score outside [0,1]",
			})
		}
	}
	return nil
}

func (s *Store) checkConversations(ctx context.Context, autoFix bool, report *IntegrityReport) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, timestamp, content, metadata FROM conversations`)
	if err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	type convRow struct {
		id        string
		projectID sql.NullString
		ts        string
		content   string
		metadata  string
	}
	var convs []convRow
	for rows.Next() {
		var c convRow
		if err := rows.Scan(&c.id, &c.projectID, &c.ts, &c.content, &c.metadata); err != nil {
			_ = rows.Close()
			return apperrors.NewInternal("failed to scan conversation", err)
		}
		convs = append(convs, c)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}

	report.CheckedConversations = len(convs)
	seen := make(map[string]string, len(convs))
	now := time.Now().UTC().Add(5 * time.Minute)

	for _, c := range convs {
		var meta types.ConversationMetadata
		if err := json.Unmarshal([]byte(c.metadata), &meta); err != nil {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:        IssueCorruptMetadata,
				RecordID:    c.id,
				Description: "metadata is not valid JSON",
			})
		}

		if t, err := parseTime(c.ts); err != nil || t.After(now) {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:        IssueFutureTimestamp,
				RecordID:    c.id,
				Description: "timestamp is unparseable or in the future",
			})
		}

		if c.projectID.Valid {
			var n int
			err := s.db.QueryRowContext(ctx, s.rebind(`
				SELECT COUNT(*) FROM projects WHERE id = ?`), c.projectID.String).Scan(&n)
			if err != nil {
				return apperrors.NewBackendUnavailable("database", err)
			}
			if n == 0 {
				issue := IntegrityIssue{
					Kind:        IssueDanglingProject,
					RecordID:    c.id,
					Description: "conversation references a missing project",
				}
				if autoFix {
					_, err := s.db.ExecContext(ctx, s.rebind(`
						UPDATE conversations SET project_id = NULL WHERE id = ?`), c.id)
					if err == nil {
						issue.Fixed = true
						report.AutoFixed++
					}
				}
				report.Issues = append(report.Issues, issue)
			}
		}

		if prev, ok := seen[c.content]; ok {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:        IssueDuplicateContent,
				RecordID:    c.id,
				Description: "identical content also stored as " + prev,
			})
		} else {
			seen[c.content] = c.id
		}
	}
	return nil
}

// StorageStats reports row counts and the approximate on-disk size.
type StorageStats struct {
	Conversations int   `json:"conversations"`
	Projects      int   `json:"projects"`
	Preferences   int   `json:"preferences"`
	ContextLinks  int   `json:"context_links"`
	SizeBytes     int64 `json:"size_bytes"`
}

// Stats returns row counts per table plus the database size where the
// backend exposes it.
func (s *Store) Stats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}
	counts := []struct {
		table string
		dst   *int
	}{
		{"conversations", &stats.Conversations},
		{"projects", &stats.Projects},
		{"preferences", &stats.Preferences},
		{"context_links", &stats.ContextLinks},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, apperrors.NewBackendUnavailable("database", err)
		}
	}

	if s.provider == "sqlite" {
		var pageCount, pageSize int64
		if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err == nil {
			if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err == nil {
				stats.SizeBytes = pageCount * pageSize
			}
		}
	}
	return stats, nil
}

// Vacuum reclaims free space on backends that support it.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	return nil
}
