package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replywatch/replywatch/store"
)

// UpsertJob enqueues a job, replacing any prior pending instance with the same
// ID. A running instance is left alone: the replacement applies as soon as the
// old row is released.
func (d *DB) UpsertJob(ctx context.Context, job *store.Job) error {
	now := time.Now()
	stmt := `INSERT INTO job (id, queue, payload, run_at, attempts, max_attempts, backoff_millis,
			remove_on_complete, remove_on_fail, state, last_error, created_at, updated_at)
		VALUES (` + placeholders(13) + `)
		ON CONFLICT (id) DO UPDATE SET
			queue = EXCLUDED.queue,
			payload = EXCLUDED.payload,
			run_at = EXCLUDED.run_at,
			attempts = 0,
			max_attempts = EXCLUDED.max_attempts,
			backoff_millis = EXCLUDED.backoff_millis,
			remove_on_complete = EXCLUDED.remove_on_complete,
			remove_on_fail = EXCLUDED.remove_on_fail,
			state = 'pending',
			last_error = NULL,
			updated_at = EXCLUDED.updated_at
		WHERE job.state <> 'running'`
	if _, err := d.db.ExecContext(ctx, stmt,
		job.ID, job.Queue, job.Payload, job.RunAt, job.Attempts, job.MaxAttempts, job.BackoffMillis,
		job.RemoveOnComplete, job.RemoveOnFail, store.JobStatePending, nil, now, now); err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

// ClaimDueJob atomically claims the oldest due pending job in the queue.
// Returns nil when nothing is due. FOR UPDATE SKIP LOCKED lets concurrent
// workers claim distinct rows without lock contention.
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
		WHERE queue = $1 AND state = 'pending' AND run_at <= $2
		ORDER BY run_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, queue, now).
		Scan(&j.ID, &j.Queue, &j.Payload, &j.RunAt, &j.Attempts, &j.MaxAttempts, &j.BackoffMillis,
			&j.RemoveOnComplete, &j.RemoveOnFail, &j.State, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select due job: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE job SET state = 'running', attempts = attempts + 1, updated_at = $1 WHERE id = $2`,
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
		`UPDATE job SET state = 'pending', run_at = $1, attempts = $2, last_error = NULLIF($3, ''), updated_at = $4
		WHERE id = $5`, runAt, attempts, lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

func (d *DB) MarkJobState(ctx context.Context, id string, state store.JobState, lastError string) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE job SET state = $1, last_error = NULLIF($2, ''), updated_at = $3 WHERE id = $4`,
		string(state), lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark job state: %w", err)
	}
	return nil
}

func (d *DB) DeleteJob(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM job WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (d *DB) DeletePendingJob(ctx context.Context, id string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM job WHERE id = $1 AND state = 'pending'`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel job: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFinishedJobs removes the settled job tail that RemoveOnComplete and
// RemoveOnFail did not already clean up.
func (d *DB) PurgeFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM job WHERE state IN ('completed', 'failed') AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (d *DB) CountJobs(ctx context.Context, queue string, state store.JobState) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job WHERE queue = $1 AND state = $2`, queue, string(state)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
