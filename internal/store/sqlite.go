// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides schema creation, pragmas, and shared scan helpers

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL for concurrent readers, busy_timeout so racing writers queue, and
	// immediate transactions so claim/transfer never hit a lock upgrade.
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                   TEXT PRIMARY KEY,
			external_ref         TEXT NOT NULL UNIQUE,
			is_group             INTEGER NOT NULL DEFAULT 0,
			display_name         TEXT NOT NULL,
			avatar_url           TEXT NOT NULL DEFAULT '',
			client_id            TEXT NOT NULL DEFAULT '',
			product_id           TEXT NOT NULL DEFAULT '',
			last_message_at      TEXT,
			last_message_preview TEXT NOT NULL DEFAULT '',
			unread_count         INTEGER NOT NULL DEFAULT 0,
			archived             INTEGER NOT NULL DEFAULT 0,
			archived_at          TEXT,
			muted                INTEGER NOT NULL DEFAULT 0,
			pinned               INTEGER NOT NULL DEFAULT 0,
			pinned_at            TEXT,
			favorite             INTEGER NOT NULL DEFAULT 0,
			blocked              INTEGER NOT NULL DEFAULT 0,
			created_at           TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_message
			ON conversations(last_message_at DESC);

		CREATE TABLE IF NOT EXISTS assignments (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			agent_id        TEXT,
			department_id   TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			closed_at       TEXT,

			CHECK (status IN ('triage', 'pending', 'active', 'waiting', 'closed'))
		);

		-- At most one non-closed assignment per conversation
		CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_open
			ON assignments(conversation_id) WHERE status != 'closed';

		CREATE INDEX IF NOT EXISTS idx_assignments_agent
			ON assignments(agent_id, status);

		CREATE TABLE IF NOT EXISTS agents (
			id                   TEXT PRIMARY KEY,
			user_ref             TEXT NOT NULL,
			display_name         TEXT NOT NULL,
			department_id        TEXT NOT NULL DEFAULT '',
			max_concurrent_chats INTEGER NOT NULL DEFAULT 0,
			is_online            INTEGER NOT NULL DEFAULT 0,
			is_active            INTEGER NOT NULL DEFAULT 1,
			last_activity_at     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_agents_department ON agents(department_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			direction       TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			media_url       TEXT NOT NULL DEFAULT '',
			media_mime      TEXT NOT NULL DEFAULT '',
			media_filename  TEXT NOT NULL DEFAULT '',
			media_duration  INTEGER NOT NULL DEFAULT 0,
			sent_at         TEXT NOT NULL,

			CHECK (direction IN ('inbound', 'outbound')),
			CHECK (type IN ('text', 'image', 'document', 'audio'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, sent_at);

		CREATE TABLE IF NOT EXISTS tags (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			color      TEXT NOT NULL DEFAULT '',
			sort_order INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS assignment_tags (
			assignment_id TEXT NOT NULL REFERENCES assignments(id),
			tag_id        TEXT NOT NULL REFERENCES tags(id),
			PRIMARY KEY (assignment_id, tag_id)
		);

		CREATE TABLE IF NOT EXISTS departments (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			color      TEXT NOT NULL DEFAULT '',
			sort_order INTEGER NOT NULL DEFAULT 0
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// formatTime renders a timestamp in the canonical column format
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a canonical column timestamp
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullableTime renders an optional timestamp for storage
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// scanNullableTime converts a nullable column back into *time.Time
func scanNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
