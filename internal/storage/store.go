// Package storage implements the record repository over database/sql with
// SQLite and PostgreSQL backends. Timestamps are stored as RFC 3339 text and
// structured fields as JSON text so one schema serves both drivers.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// database/sql drivers
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
)

// timeFormat keeps nanoseconds fixed-width so the lexical ORDER BY on the
// timestamp columns matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQL-backed record repository.
type Store struct {
	db       *sql.DB
	provider string
	logger   logging.Logger
}

// NewStore opens the configured backend and ensures the schema exists.
func NewStore(cfg config.StorageConfig, logger logging.Logger) (*Store, error) {
	var (
		driver string
		dsn    string
	)
	switch cfg.Provider {
	case "sqlite":
		driver = "sqlite3"
		dsn = cfg.SQLitePath + "?_foreign_keys=on&_busy_timeout=5000"
	case "postgres":
		driver = "postgres"
		dsn = cfg.PostgresDSN
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("database", err)
	}
	if cfg.Provider == "sqlite" {
		// SQLite serializes writers; a single connection avoids lock errors.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, provider: cfg.Provider, logger: logger.WithComponent("storage")}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	return nil
}

// Provider returns the active backend name.
func (s *Store) Provider() string {
	return s.provider
}

// rebind rewrites ? placeholders to $n for the postgres driver.
func (s *Store) rebind(query string) string {
	if s.provider != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			path TEXT,
			description TEXT,
			created_at TEXT NOT NULL,
			last_accessed TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
			timestamp TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			tags TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT NOT NULL,
			category TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (key, category)
		)`,
		`CREATE TABLE IF NOT EXISTS context_links (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relationship_type TEXT NOT NULL,
			confidence_score REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_tool ON conversations(tool_name, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_links_source ON context_links(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_links_target ON context_links(target_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewBackendUnavailable("database", fmt.Errorf("schema init: %w", err))
		}
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewBackendUnavailable("database", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) (time.Time, error) {
	// RFC3339Nano parses both fixed-width and trimmed fractions, so rows
	// written before the fixed-width format still load.
	return time.Parse(time.RFC3339Nano, v)
}
