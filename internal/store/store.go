// Package store persists chat messages in SQLite and drives the best-effort
// git synchronization of each newly added message.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cwinkler/chatsyncd/internal/message"
	"github.com/cwinkler/chatsyncd/internal/metrics"
)

const schemaVersion = 1

// Syncer pushes a message to the git remote. gitsync.Manager implements it.
type Syncer interface {
	SyncMessage(ctx context.Context, msg message.Message) (string, error)
}

// StoredMessage is a message row as served by the HTTP API.
type StoredMessage struct {
	ID           int64  `json:"id"`
	Content      string `json:"content"`
	Timestamp    string `json:"timestamp"`
	Sender       string `json:"sender"`
	GitHash      string `json:"git_hash,omitempty"`
	Synchronized bool   `json:"is_synchronized"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// Store handles SQLite database operations.
type Store struct {
	db     *sql.DB
	syncer Syncer
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at dbPath. The
// syncer may be nil, in which case added messages are stored locally only.
func Open(dbPath string, syncer Syncer, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, syncer: syncer, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema if it does not exist and records the schema
// version. Safe to call on every startup.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			sender TEXT NOT NULL,
			git_hash TEXT,
			is_synchronized BOOLEAN DEFAULT FALSE,
			created_at TEXT NOT NULL,
			updated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version, updated_at) VALUES (?, ?)`,
		schemaVersion, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	s.logger.Info("database initialized", "schema_version", schemaVersion)
	return nil
}

// Add inserts a new message and then attempts to synchronize it to the git
// remote. A failed sync leaves the message stored with is_synchronized
// false; it does not fail the insert.
func (s *Store) Add(ctx context.Context, content, sender string) (int64, error) {
	now := time.Now()
	nowStr := now.Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (content, timestamp, sender, is_synchronized, created_at)
		 VALUES (?, ?, ?, FALSE, ?)`,
		content, nowStr, sender, nowStr)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve message id: %w", err)
	}
	metrics.MessagesPosted.Inc()

	if s.syncer != nil {
		hash, err := s.syncer.SyncMessage(ctx, message.New(id, content, sender, now))
		switch {
		case err != nil:
			s.logger.Error("failed to sync message", "id", id, "error", err)
		case hash != "":
			if err := s.MarkSynced(ctx, id, hash); err != nil {
				s.logger.Error("failed to record sync status", "id", id, "error", err)
			}
		}
	}

	s.logger.Info("message added", "id", id, "sender", sender)
	return id, nil
}

// List returns up to limit messages ordered by timestamp, newest first,
// skipping offset rows.
func (s *Store) List(ctx context.Context, limit, offset int) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, timestamp, sender, git_hash, is_synchronized, created_at, updated_at
		 FROM messages
		 ORDER BY timestamp DESC
		 LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	messages := []StoredMessage{}
	for rows.Next() {
		var (
			m       StoredMessage
			gitHash sql.NullString
			updated sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &m.Sender,
			&gitHash, &m.Synchronized, &m.CreatedAt, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.GitHash = gitHash.String
		m.UpdatedAt = updated.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message rows: %w", err)
	}

	return messages, nil
}

// MarkSynced records the commit hash for a message and flips its
// synchronization flag.
func (s *Store) MarkSynced(ctx context.Context, id int64, gitHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		 SET is_synchronized = TRUE, git_hash = ?, updated_at = ?
		 WHERE id = ?`,
		gitHash, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn("no message found to mark synced", "id", id)
	}
	return nil
}
