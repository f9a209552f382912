package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Archiver durably persists queued tasks so a restart resumes mid-flight
// work without losing or duplicating sends.
type Archiver interface {
	// Put inserts or replaces the archived form of a task.
	Put(t *Task) error
	// Remove deletes a task from the archive once it reached a terminal
	// state.
	Remove(taskID string) error
	// List returns all archived tasks in enqueue order.
	List() ([]*Task, error)
}

// ArchiveDBFileName is the SQLite filename under the data directory.
const ArchiveDBFileName = "task_archive.db"

var archiveMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS tasks (
  id       TEXT PRIMARY KEY,
  seq      INTEGER NOT NULL,
  payload  TEXT NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_tasks_seq ON tasks (seq);
`,
}

// SQLiteArchiver implements Archiver on a local SQLite database.
type SQLiteArchiver struct {
	db  *sql.DB
	mu  sync.Mutex
	seq int64
}

// NewSQLiteArchiver opens (and migrates) the task archive under dataDir.
func NewSQLiteArchiver(dataDir string) (*SQLiteArchiver, error) {
	path := filepath.Join(dataDir, ArchiveDBFileName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open task archive: %w", err)
	}

	for i, m := range archiveMigrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("archive migration %d failed: %w", i, err)
		}
	}

	a := &SQLiteArchiver{db: db}
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM tasks`).Scan(&a.seq); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read archive sequence: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSQLiteArchiver",
		"path":     path,
	}).Info("Task archive opened")

	return a, nil
}

// Close releases the underlying database handle.
func (a *SQLiteArchiver) Close() error {
	return a.db.Close()
}

// Put inserts or replaces the archived form of a task, preserving the
// original enqueue position on replace.
func (a *SQLiteArchiver) Put(t *Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	a.seq++
	_, err = a.db.Exec(`
INSERT INTO tasks (id, seq, payload) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		t.ID, a.seq, string(payload))
	if err != nil {
		return fmt.Errorf("failed to archive task %s: %w", t.ID, err)
	}
	return nil
}

// Remove deletes a task from the archive.
func (a *SQLiteArchiver) Remove(taskID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.db.Exec(`DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to remove archived task %s: %w", taskID, err)
	}
	return nil
}

// List returns all archived tasks in enqueue order.
func (a *SQLiteArchiver) List() ([]*Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`SELECT payload FROM tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("corrupt archived task: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
