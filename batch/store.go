package batch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/pagefab/dbopen"
)

// Schema creates the batch tables. Pass to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id          TEXT PRIMARY KEY,
	model_name  TEXT NOT NULL,
	template_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	rejected    INTEGER NOT NULL DEFAULT 0,
	published   INTEGER NOT NULL DEFAULT 0,
	cursor_pos  INTEGER NOT NULL DEFAULT 0,
	max_pages   INTEGER NOT NULL DEFAULT 0,
	thresholds  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_pages (
	page_ref        TEXT NOT NULL,
	job_id          TEXT NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
	url             TEXT NOT NULL,
	combination_key TEXT NOT NULL,
	rolled_back     INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (job_id, page_ref)
);
CREATE INDEX IF NOT EXISTS idx_batch_pages_job ON batch_pages (job_id);
`

// Store persists jobs and their published-page lists. The state machine in
// the Queue is the single source of truth for legality; the store only
// enforces it mechanically via compare-and-set updates.
type Store struct {
	db *sql.DB
}

// NewStore wraps a database opened with Schema applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new job.
func (s *Store) Create(ctx context.Context, job *Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_jobs (id, model_name, template_id, status,
			cursor_pos, max_pages, thresholds, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		job.ID, job.ModelName, job.TemplateID, job.Status,
		job.CursorPos, job.MaxPages, job.Thresholds,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("batch: create job: %w", err)
	}
	return nil
}

// Get loads a job with its published pages.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model_name, template_id, status, succeeded, failed,
			skipped, rejected, published, cursor_pos, max_pages,
			thresholds, created_at, updated_at
		FROM batch_jobs WHERE id = ?`, id).Scan(
		&job.ID, &job.ModelName, &job.TemplateID, &job.Status,
		&job.Counters.Succeeded, &job.Counters.Failed, &job.Counters.Skipped,
		&job.Counters.Rejected, &job.Counters.Published, &job.CursorPos,
		&job.MaxPages, &job.Thresholds, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("batch: get job: %w", err)
	}
	job.CreatedAt = time.UnixMilli(created)
	job.UpdatedAt = time.UnixMilli(updated)

	rows, err := s.db.QueryContext(ctx, `
		SELECT page_ref, url, combination_key, rolled_back
		FROM batch_pages WHERE job_id = ? ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("batch: get pages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PublishedPage
		var rb int
		if err := rows.Scan(&p.Ref.ID, &p.Ref.URL, &p.CombinationKey, &rb); err != nil {
			return nil, fmt.Errorf("batch: scan page: %w", err)
		}
		p.RolledBack = rb != 0
		job.Pages = append(job.Pages, p)
	}
	return &job, rows.Err()
}

// Transition moves a job from one status to another atomically. It returns
// InvalidTransitionError when the stored status is not `from` or the edge is
// not in the state machine.
func (s *Store) Transition(ctx context.Context, id string, from, to Status) error {
	if !from.CanTransition(to) {
		return &InvalidTransitionError{JobID: id, From: from, To: to}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, time.Now().UnixMilli(), id, from)
	if err != nil {
		return fmt.Errorf("batch: transition: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		current, err := s.currentStatus(ctx, id)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{JobID: id, From: current, To: to}
	}
	return nil
}

func (s *Store) currentStatus(ctx context.Context, id string) (Status, error) {
	var st Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM batch_jobs WHERE id = ?`, id).Scan(&st)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("batch: status: %w", err)
	}
	return st, nil
}

// SaveProgress persists counters and cursor position mid-run.
func (s *Store) SaveProgress(ctx context.Context, id string, c Counters, cursorPos int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batch_jobs SET succeeded=?, failed=?, skipped=?, rejected=?,
			published=?, cursor_pos=?, updated_at=?
		WHERE id = ?`,
		c.Succeeded, c.Failed, c.Skipped, c.Rejected, c.Published,
		cursorPos, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("batch: save progress: %w", err)
	}
	return nil
}

// AddPage appends a published page to the job's rollback list.
func (s *Store) AddPage(ctx context.Context, jobID string, p PublishedPage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_pages (page_ref, job_id, url, combination_key, created_at)
		VALUES (?,?,?,?,?)`,
		p.Ref.ID, jobID, p.Ref.URL, p.CombinationKey, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("batch: add page: %w", err)
	}
	return nil
}

// MarkRolledBack flags a page as handled by rollback.
func (s *Store) MarkRolledBack(ctx context.Context, jobID, pageRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batch_pages SET rolled_back = 1 WHERE job_id = ? AND page_ref = ?`,
		jobID, pageRef)
	if err != nil {
		return fmt.Errorf("batch: mark rolled back: %w", err)
	}
	return nil
}

// List returns all jobs, newest first, without page lists.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_name, template_id, status, succeeded, failed,
			skipped, rejected, published, cursor_pos, max_pages, created_at, updated_at
		FROM batch_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("batch: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var job Job
		var created, updated int64
		if err := rows.Scan(&job.ID, &job.ModelName, &job.TemplateID, &job.Status,
			&job.Counters.Succeeded, &job.Counters.Failed, &job.Counters.Skipped,
			&job.Counters.Rejected, &job.Counters.Published, &job.CursorPos,
			&job.MaxPages, &created, &updated); err != nil {
			return nil, fmt.Errorf("batch: scan job: %w", err)
		}
		job.CreatedAt = time.UnixMilli(created)
		job.UpdatedAt = time.UnixMilli(updated)
		out = append(out, &job)
	}
	return out, rows.Err()
}

// RecoverInterrupted pauses every job left running by a crashed process so
// it can be resumed. Call once at startup before accepting control calls.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	var n int64
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE batch_jobs SET status = ?, updated_at = ?
			WHERE status = ?`,
			StatusPaused, time.Now().UnixMilli(), StatusRunning)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("batch: recover interrupted: %w", err)
	}
	return int(n), nil
}
