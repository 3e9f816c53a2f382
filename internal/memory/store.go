// Package memory persists ask sessions and their messages in SQLite.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AxoRm/glass/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.MessageStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_kind ON sessions(kind, active);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role        TEXT NOT NULL,
		content     TEXT,
		model       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreateActive returns the active session of the given kind, creating
// one when none exists.
func (s *SQLiteStore) GetOrCreateActive(ctx context.Context, kind string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE kind = ? AND active = 1 ORDER BY created_at DESC LIMIT 1`, kind,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("query active session: %w", err)
	}

	id = uuid.NewString()
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, kind, active, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
		id, kind, now, now,
	); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("created session", "id", id, "kind", kind)
	return id, nil
}

// AddMessage appends one message to a session.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg domain.StoredMessage) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, model, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), msg.SessionID, msg.Role, msg.Content, msg.Model, time.Now(),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), msg.SessionID,
	); err != nil {
		s.logger.Warn("failed to touch session", "session", msg.SessionID, "err", err)
	}
	return nil
}

// RecentMessages returns up to limit messages of a session in chronological
// order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, model FROM messages
		 WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.StoredMessage
	for rows.Next() {
		m := domain.StoredMessage{SessionID: sessionID}
		var content, model sql.NullString
		if err := rows.Scan(&m.Role, &content, &model); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Content = content.String
		m.Model = model.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CloseSession marks a session inactive.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, updated_at = ? WHERE id = ?`, time.Now(), sessionID)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
