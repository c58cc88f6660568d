package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replywatch/replywatch/store"
)

// UpsertJob enqueues a job, replacing any prior non-running instance with the
// same ID.
func (d *DB) UpsertJob(ctx context.Context, job *store.Job) error {
	now := time.Now()
	stmt := `INSERT INTO job (id, queue, payload, run_at, attempts, max_attempts, backoff_millis,
			remove_on_complete, remove_on_fail, state, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			queue = excluded.queue,
			payload = excluded.payload,
			run_at = excluded.run_at,
			attempts = 0,
			max_attempts = excluded.max_attempts,
			backoff_millis = excluded.backoff_millis,
			remove_on_complete = excluded.remove_on_complete,
			remove_on_fail = excluded.remove_on_fail,
			state = 'pending',
			last_error = NULL,
			updated_at = excluded.updated_at
		WHERE job.state <> 'running'`
	if _, err := d.db.ExecContext(ctx, stmt,
		job.ID, job.Queue, job.Payload, job.RunAt, job.Attempts, job.MaxAttempts, job.BackoffMillis,
		job.RemoveOnComplete, job.RemoveOnFail, store.JobStatePending, nil, now, now); err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

// ClaimDueJob claims the oldest due pending job in the queue. The single
// writer connection serializes claims, so no row lock is needed here.
func (d *DB) ClaimDueJob(ctx context.Context, queue string, now time.Time) (*store.Job, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	j := &store.Job{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, queue, payload, run_at, attempts, max_attempts, backoff_millis,
			remove_on_complete, remove_on_fail, state, last_error, created_at, updated_at
		FROM job
		WHERE queue = ? AND state = 'pending' AND run_at <= ?
		ORDER BY run_at ASC
		LIMIT 1`, queue, now).
		Scan(&j.ID, &j.Queue, &j.Payload, &j.RunAt, &j.Attempts, &j.MaxAttempts, &j.BackoffMillis,
			&j.RemoveOnComplete, &j.RemoveOnFail, &j.State, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select due job: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE job SET state = 'running', attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		time.Now(), j.ID); err != nil {
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job claim: %w", err)
	}

	j.State = store.JobStateRunning
	j.Attempts++
	return j, nil
}

func (d *DB) RescheduleJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE job SET state = 'pending', run_at = ?, attempts = ?, last_error = NULLIF(?, ''), updated_at = ?
		WHERE id = ?`, runAt, attempts, lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

func (d *DB) MarkJobState(ctx context.Context, id string, state store.JobState, lastError string) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE job SET state = ?, last_error = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		string(state), lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark job state: %w", err)
	}
	return nil
}

func (d *DB) DeleteJob(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM job WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (d *DB) DeletePendingJob(ctx context.Context, id string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM job WHERE id = ? AND state = 'pending'`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel job: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFinishedJobs removes the settled job tail that RemoveOnComplete and
// RemoveOnFail did not already clean up.
func (d *DB) PurgeFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM job WHERE state IN ('completed', 'failed') AND updated_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (d *DB) CountJobs(ctx context.Context, queue string, state store.JobState) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job WHERE queue = ? AND state = ?`, queue, string(state)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
