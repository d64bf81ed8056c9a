// Package tasks provides the task tracker: a SQLite-backed store and
// the agent tools that operate on it.
package tasks

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a task ID does not exist for the user.
var ErrNotFound = errors.New("task not found")

// Priority levels. Higher sorts first.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
)

// Task is one tracked item.
type Task struct {
	ID          int64
	UserID      string
	Title       string
	Notes       string
	Priority    int
	Due         *time.Time
	Done        bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Store persists tasks in SQLite. It shares the database connection
// with the history store.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrating tasks schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 2,
			due TIMESTAMP,
			done INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_user_done ON tasks(user_id, done);
	`)
	return err
}

// Add inserts a task and returns its ID. Title is required; priority
// falls back to normal when out of range.
func (s *Store) Add(userID, title, notes string, priority int, due *time.Time) (int64, error) {
	if title == "" {
		return 0, errors.New("task title is required")
	}
	if priority < PriorityLow || priority > PriorityHigh {
		priority = PriorityNormal
	}

	var dueVal any
	if due != nil {
		dueVal = due.UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO tasks (user_id, title, notes, priority, due) VALUES (?, ?, ?, ?, ?)`,
		userID, title, notes, priority, dueVal,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}
	return res.LastInsertId()
}

// List returns the user's tasks, pending first, then by priority and
// due date. Completed tasks are included only when includeDone is set.
func (s *Store) List(userID string, includeDone bool) ([]Task, error) {
	query := `
		SELECT id, user_id, title, notes, priority, due, done, created_at, completed_at
		FROM tasks WHERE user_id = ?`
	if !includeDone {
		query += ` AND done = 0`
	}
	query += ` ORDER BY done ASC, priority DESC, due IS NULL, due ASC, id ASC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Next returns the user's most pressing pending task: highest priority
// first, then earliest due date, then insertion order. Returns nil
// when nothing is pending.
func (s *Store) Next(userID string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, title, notes, priority, due, done, created_at, completed_at
		FROM tasks WHERE user_id = ? AND done = 0
		ORDER BY priority DESC, due IS NULL, due ASC, id ASC
		LIMIT 1`, userID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Complete marks a task done.
func (s *Store) Complete(userID string, id int64) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET done = 1, completed_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND id = ? AND done = 0`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("completing task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a task entirely.
func (s *Store) Delete(userID string, id int64) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserData removes every task belonging to the user and reports
// how many were deleted.
func (s *Store) DeleteUserData(userID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var due, completed sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Notes, &t.Priority,
		&due, &t.Done, &t.CreatedAt, &completed)
	if err != nil {
		return Task{}, err
	}
	if due.Valid {
		d := due.Time
		t.Due = &d
	}
	if completed.Valid {
		c := completed.Time
		t.CompletedAt = &c
	}
	return t, nil
}
