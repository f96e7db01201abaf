// sqlite_storage.go implements Storage backed by a SQLite database file.
package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage persists jobs in a "jobs" table.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (and migrates) the jobs database at path.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening jobs db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id          TEXT PRIMARY KEY,
			schedule    TEXT NOT NULL,
			prompt      TEXT NOT NULL,
			channel     TEXT NOT NULL,
			chat_id     TEXT NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 1,
			created_at  TEXT NOT NULL,
			last_run_at TEXT,
			last_error  TEXT NOT NULL DEFAULT '',
			run_count   INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobs table: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Save persists a job (insert or update).
func (s *SQLiteStorage) Save(job *Job) error {
	var lastRunAt sql.NullString
	if job.LastRunAt != nil {
		lastRunAt = sql.NullString{String: job.LastRunAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO jobs
			(id, schedule, prompt, channel, chat_id, enabled,
			 created_at, last_run_at, last_error, run_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Schedule,
		job.Prompt,
		job.Channel,
		job.ChatID,
		boolToInt(job.Enabled),
		job.CreatedAt.UTC().Format(time.RFC3339),
		lastRunAt,
		job.LastError,
		job.RunCount,
	)
	if err != nil {
		return fmt.Errorf("save job %q: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job by ID.
func (s *SQLiteStorage) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	return nil
}

// LoadAll reads all persisted jobs.
func (s *SQLiteStorage) LoadAll() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT id, schedule, prompt, channel, chat_id, enabled,
		       created_at, last_run_at, last_error, run_count
		FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			j         Job
			enabled   int
			createdAt string
			lastRunAt sql.NullString
		)
		if err := rows.Scan(
			&j.ID, &j.Schedule, &j.Prompt,
			&j.Channel, &j.ChatID, &enabled,
			&createdAt, &lastRunAt,
			&j.LastError, &j.RunCount,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		j.Enabled = enabled != 0
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastRunAt.Valid {
			t, _ := time.Parse(time.RFC3339, lastRunAt.String)
			j.LastRunAt = &t
		}
		jobs = append(jobs, &j)
	}

	return jobs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
