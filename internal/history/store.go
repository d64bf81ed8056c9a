// Package history provides the short-term conversation store: an
// append-only ordered log of turn messages per session, with bounded
// tail reads. A companion summary row per session and per-user
// ingestion watermarks share the same database.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ashdown/steward-ai-agent/internal/llm"
)

// Store is a SQLite-backed message log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and runs
// migrations. The connection uses WAL mode for concurrent readers.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New creates a history store on an existing database connection and
// creates its tables if they do not already exist.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("history migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS summaries (
		session_id TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS watermarks (
		user_id    TEXT PRIMARY KEY,
		cursor     TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so other stores can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Append durably appends messages to a session's log in order. The
// session row is created or touched in the same transaction.
func (s *Store) Append(sessionID, userID string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = tx.Exec(`
		INSERT INTO sessions (session_id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at
	`, sessionID, userID, now, now)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO messages (session_id, payload, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := stmt.Exec(sessionID, string(payload), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Tail returns the last n messages for a session in chronological
// order. Fewer than n are returned when the log is shorter.
func (s *Store) Tail(sessionID string, n int) ([]llm.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT payload FROM (
			SELECT id, payload FROM messages
			WHERE session_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("tail: %w", err)
	}
	defer rows.Close()

	var msgs []llm.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var m llm.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Count returns the total number of messages stored for a session.
func (s *Store) Count(sessionID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Summary returns the running summary for a session, or "" when none
// has been written yet.
func (s *Store) Summary(sessionID string) (string, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM summaries WHERE session_id = ?`, sessionID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	return content, nil
}

// SetSummary overwrites the running summary for a session.
func (s *Store) SetSummary(sessionID, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO summaries (session_id, content, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, sessionID, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// Watermark returns the ingestion cursor for a user, or "" when the
// external ingestion collaborator has not stored one.
func (s *Store) Watermark(userID string) (string, error) {
	var cursor string
	err := s.db.QueryRow(`SELECT cursor FROM watermarks WHERE user_id = ?`, userID).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get watermark: %w", err)
	}
	return cursor, nil
}

// SetWatermark stores the ingestion cursor for a user.
func (s *Store) SetWatermark(userID, cursor string) error {
	_, err := s.db.Exec(`
		INSERT INTO watermarks (user_id, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, userID, cursor, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// DeleteSession removes a session's messages, summary, and metadata.
func (s *Store) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM summaries WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := tx.Exec(q, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteUserData removes every session, summary, and watermark for a
// user. Returns the number of sessions deleted.
func (s *Store) DeleteUserData(userID string) (int, error) {
	rows, err := s.db.Query(`SELECT session_id FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.DeleteSession(id); err != nil {
			return 0, err
		}
	}

	if _, err := s.db.Exec(`DELETE FROM watermarks WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("delete watermark: %w", err)
	}
	return len(ids), nil
}
