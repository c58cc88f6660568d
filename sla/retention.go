package sla

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replywatch/replywatch/queue"
	"github.com/replywatch/replywatch/store"
)

const (
	// Raw chat messages not linked to a request are kept this long.
	messageRetentionDays = 90
	// Settled job rows (completed or failed) are kept this long for debugging.
	jobRetentionDays = 7
)

// RetentionPayload is the JSON body of retention jobs.
type RetentionPayload struct {
	Date string `json:"date"` // YYYY-MM-DD of the sweep
}

// Retention sweeps expired raw messages and settled job rows. The daily cron
// enqueues one job on the retention queue; running the sweep as a job (rather
// than inline in the cron callback) gives it the queue's retry policy.
type Retention struct {
	store *store.Store
	queue JobQueue
}

func NewRetention(s *store.Store, q JobQueue) *Retention {
	return &Retention{store: s, queue: q}
}

// EnqueueSweep schedules today's retention sweep. The job ID is per-day, so
// repeated triggers within one day collapse into a single sweep.
func (r *Retention) EnqueueSweep(ctx context.Context) error {
	date := time.Now().Format("2006-01-02")
	return r.queue.Enqueue(ctx, "retention:"+date, queue.QueueRetention,
		&RetentionPayload{Date: date},
		queue.Options{MaxAttempts: 3, Backoff: time.Minute, RemoveOnComplete: true})
}

// HandleRetention is the retention queue handler.
func (r *Retention) HandleRetention(ctx context.Context, job *store.Job) error {
	var payload RetentionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode retention payload: %w", err)
	}

	now := time.Now()
	messages, err := r.store.PurgeChatMessages(ctx, now.AddDate(0, 0, -messageRetentionDays))
	if err != nil {
		return fmt.Errorf("failed to purge chat messages: %w", err)
	}
	jobs, err := r.store.PurgeFinishedJobs(ctx, now.AddDate(0, 0, -jobRetentionDays))
	if err != nil {
		return fmt.Errorf("failed to purge finished jobs: %w", err)
	}

	slog.Info("retention sweep finished",
		"date", payload.Date, "messages_purged", messages, "jobs_purged", jobs)
	return nil
}
