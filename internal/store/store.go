// Package store provides the SQLite-backed job repository for the corpus
// engine. Each ingestion job is one row keyed by job id; per-source status
// is stored as a JSON column so polling a job is a single-row read. Jobs are
// retained after completion until Reap removes them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/corpus-go/internal/rag"
)

// JobStore persists ingestion jobs. Implementations must be safe for
// concurrent use.
type JobStore interface {
	// Create persists a new job. It fails if the id already exists.
	Create(ctx context.Context, job *Job) error
	// Get returns the job with the given id, or rag.ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Update overwrites the stored job, or returns rag.ErrJobNotFound.
	Update(ctx context.Context, job *Job) error
	// List returns up to limit jobs, newest first.
	List(ctx context.Context, limit int) ([]*Job, error)
	// Reap deletes terminal jobs last updated before olderThan and returns
	// the number removed. Pending and running jobs are never reaped.
	Reap(ctx context.Context, olderThan time.Time) (int, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteJobStore is a JobStore backed by a local SQLite database.
type SQLiteJobStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the job database.
// It resolves to ~/.corpus/jobs.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".corpus")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "jobs.db"), nil
}

// Open opens (or creates) a SQLiteJobStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteJobStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteJobStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteJobStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingestion_jobs (
    job_id             TEXT    PRIMARY KEY,
    retry_of           TEXT    NOT NULL DEFAULT '',
    status             TEXT    NOT NULL CHECK(status IN ('PENDING','RUNNING','COMPLETED','PARTIAL_FAILURE','FAILED')),
    requested_sources  TEXT    NOT NULL,  -- JSON array of source ids
    per_source_status  TEXT    NOT NULL,  -- JSON object keyed by source id
    error_summary      TEXT    NOT NULL DEFAULT '',
    created_at         INTEGER NOT NULL,  -- Unix milliseconds
    updated_at         INTEGER NOT NULL,
    deadline           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_created
    ON ingestion_jobs (created_at);
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_status_updated
    ON ingestion_jobs (status, updated_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Create persists a new job.
func (s *SQLiteJobStore) Create(ctx context.Context, job *Job) error {
	requested, sources, err := encodeJob(job)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO ingestion_jobs
    (job_id, retry_of, status, requested_sources, per_source_status, error_summary, created_at, updated_at, deadline)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q, job.ID, job.RetryOf, string(job.Status), requested, sources,
		job.ErrorSummary, millis(job.CreatedAt), millis(job.UpdatedAt), millis(job.Deadline))
	if err != nil {
		return fmt.Errorf("store: create %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job with the given id.
func (s *SQLiteJobStore) Get(ctx context.Context, id string) (*Job, error) {
	const q = `
SELECT job_id, retry_of, status, requested_sources, per_source_status, error_summary, created_at, updated_at, deadline
FROM   ingestion_jobs
WHERE  job_id = ?`
	job, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get %s: %w", id, rag.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return job, nil
}

// Update overwrites the mutable columns of an existing job.
func (s *SQLiteJobStore) Update(ctx context.Context, job *Job) error {
	_, sources, err := encodeJob(job)
	if err != nil {
		return err
	}
	const q = `
UPDATE ingestion_jobs
SET    status = ?, per_source_status = ?, error_summary = ?, updated_at = ?, deadline = ?
WHERE  job_id = ?`
	res, err := s.db.ExecContext(ctx, q, string(job.Status), sources, job.ErrorSummary,
		millis(job.UpdatedAt), millis(job.Deadline), job.ID)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update %s: %w", job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: update %s: %w", job.ID, rag.ErrJobNotFound)
	}
	return nil
}

// List returns up to limit jobs, newest first.
func (s *SQLiteJobStore) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT job_id, retry_of, status, requested_sources, per_source_status, error_summary, created_at, updated_at, deadline
FROM   ingestion_jobs
ORDER  BY created_at DESC, job_id DESC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return jobs, nil
}

// Reap deletes terminal jobs last updated before olderThan.
func (s *SQLiteJobStore) Reap(ctx context.Context, olderThan time.Time) (int, error) {
	const q = `
DELETE FROM ingestion_jobs
WHERE  status IN ('COMPLETED','PARTIAL_FAILURE','FAILED')
AND    updated_at < ?`
	res, err := s.db.ExecContext(ctx, q, millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("store: reap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reap: %w", err)
	}
	return int(n), nil
}

// Close releases the database connection pool.
func (s *SQLiteJobStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                        Job
		status, requested, sources string
		created, updated, deadline int64
	)
	if err := row.Scan(&job.ID, &job.RetryOf, &status, &requested, &sources,
		&job.ErrorSummary, &created, &updated, &deadline); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	if err := json.Unmarshal([]byte(requested), &job.RequestedSources); err != nil {
		return nil, fmt.Errorf("decode requested_sources: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &job.Sources); err != nil {
		return nil, fmt.Errorf("decode per_source_status: %w", err)
	}
	if job.Sources == nil {
		job.Sources = map[string]*SourceStatus{}
	}
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	job.Deadline = fromMillis(deadline)
	return &job, nil
}

func encodeJob(job *Job) (requested, sources string, err error) {
	if job == nil || job.ID == "" {
		return "", "", errors.New("store: job id must not be empty")
	}
	r, err := json.Marshal(job.RequestedSources)
	if err != nil {
		return "", "", fmt.Errorf("store: encode requested_sources: %w", err)
	}
	srcs := job.Sources
	if srcs == nil {
		srcs = map[string]*SourceStatus{}
	}
	st, err := json.Marshal(srcs)
	if err != nil {
		return "", "", fmt.Errorf("store: encode per_source_status: %w", err)
	}
	return string(r), string(st), nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
