// Package queue runs the delayed-job scheduler on top of the store's job
// table. Jobs carry caller-chosen IDs, so re-enqueueing the same ID replaces
// the pending instance and enqueue/cancel pairs compose into timers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/replywatch/replywatch/metrics"
	"github.com/replywatch/replywatch/store"
)

// Queue names used by the engine.
const (
	QueueSLATimer      = "sla-timer"
	QueueAlertDispatch = "alert-dispatch"
	QueueSurvey        = "survey"
	QueueRetention     = "retention"
)

// Store is the slice of the job table the manager needs. *store.Store
// satisfies it.
type Store interface {
	UpsertJob(ctx context.Context, job *store.Job) error
	ClaimDueJob(ctx context.Context, queue string, now time.Time) (*store.Job, error)
	RescheduleJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error
	MarkJobState(ctx context.Context, id string, state store.JobState, lastError string) error
	DeleteJob(ctx context.Context, id string) error
	DeletePendingJob(ctx context.Context, id string) (int64, error)
	CountJobs(ctx context.Context, queue string, state store.JobState) (int, error)
}

// Handler processes one claimed job. A non-nil error triggers the retry
// policy; a panic is recovered and treated as an error.
type Handler func(ctx context.Context, job *store.Job) error

// Options control scheduling and retry behaviour of a single job.
type Options struct {
	// Delay before the job becomes due. Zero means due immediately.
	Delay time.Duration
	// MaxAttempts caps handler invocations. Zero means 1.
	MaxAttempts int
	// Backoff is the base delay for exponential retry backoff.
	Backoff time.Duration
	// RemoveOnComplete deletes the row after a successful run.
	RemoveOnComplete bool
	// RemoveOnFail deletes the row after the final failed attempt.
	RemoveOnFail bool
}

type queueConfig struct {
	name        string
	concurrency int
	limiter     *rate.Limiter
	handler     Handler
}

// Manager owns the worker pools and the periodic-job scheduler.
type Manager struct {
	store   Store
	metrics *metrics.Metrics
	grace   time.Duration

	mu     sync.Mutex
	queues map[string]*queueConfig
	cron   *cron.Cron

	poll   time.Duration
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config configures the manager.
type Config struct {
	Store   Store
	Metrics *metrics.Metrics
	// GraceWindow bounds how long Stop waits for in-flight handlers.
	GraceWindow time.Duration
	// PollInterval between claim attempts when a queue is idle.
	PollInterval time.Duration
}

// NewManager creates a stopped manager. Register queues, then Start.
func NewManager(cfg Config) *Manager {
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Manager{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		grace:   grace,
		poll:    poll,
		queues:  make(map[string]*queueConfig),
		cron:    cron.New(),
	}
}

// Register binds a handler and worker pool to a queue. Rate is the sustained
// jobs-per-second limit; zero disables rate limiting.
func (m *Manager) Register(queue string, concurrency int, perSecond float64, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), concurrency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = &queueConfig{
		name:        queue,
		concurrency: concurrency,
		limiter:     limiter,
		handler:     handler,
	}
}

// RegisterCron schedules a periodic function with a cron expression.
func (m *Manager) RegisterCron(spec string, fn func()) error {
	if _, err := m.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("failed to register cron job: %w", err)
	}
	return nil
}

// Enqueue upserts a delayed job. Re-enqueueing an ID that is still pending
// replaces it: run time, payload, and retry policy all reset.
func (m *Manager) Enqueue(ctx context.Context, id, queue string, payload any, opts Options) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	job := &store.Job{
		ID:               id,
		Queue:            queue,
		Payload:          raw,
		RunAt:            time.Now().Add(opts.Delay),
		MaxAttempts:      maxAttempts,
		BackoffMillis:    opts.Backoff.Milliseconds(),
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		State:            store.JobStatePending,
	}
	if err := m.store.UpsertJob(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}
	return nil
}

// Cancel removes a pending job. Returns true when a row was removed; a job
// already claimed by a worker is left to finish.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	rows, err := m.store.DeletePendingJob(ctx, id)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Start launches the worker pools and the cron scheduler.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queues {
		for i := 0; i < q.concurrency; i++ {
			m.wg.Add(1)
			go m.worker(ctx, q, i)
		}
		m.wg.Add(1)
		go m.sampleDepth(ctx, q.name)
	}
	m.cron.Start()
	slog.Info("queue manager started", "queues", len(m.queues))
}

// Stop drains the pools: no new claims, in-flight handlers get the grace
// window to finish.
func (m *Manager) Stop() {
	cronCtx := m.cron.Stop()
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("queue manager stopped")
	case <-time.After(m.grace):
		slog.Warn("queue manager stop timed out", "grace", m.grace)
	}
	<-cronCtx.Done()
}

func (m *Manager) worker(ctx context.Context, q *queueConfig, n int) {
	defer m.wg.Done()
	logger := slog.With("queue", q.name, "worker", n)

	for {
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}

		job, err := m.store.ClaimDueJob(ctx, q.name, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim job", "error", err)
			if !sleep(ctx, m.poll) {
				return
			}
			continue
		}
		if job == nil {
			// Jitter spreads concurrent pollers over the interval.
			if !sleep(ctx, m.poll+time.Duration(rand.Int63n(int64(m.poll)))) {
				return
			}
			continue
		}

		m.run(ctx, q, job, logger)
	}
}

func (m *Manager) run(ctx context.Context, q *queueConfig, job *store.Job, logger *slog.Logger) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job handler panic: %v\n%s", r, debug.Stack())
			}
		}()
		return q.handler(ctx, job)
	}()

	if err == nil {
		if job.RemoveOnComplete {
			if err := m.store.DeleteJob(ctx, job.ID); err != nil {
				logger.Warn("failed to delete completed job", "job_id", job.ID, "error", err)
			}
		} else if err := m.store.MarkJobState(ctx, job.ID, store.JobStateCompleted, ""); err != nil {
			logger.Warn("failed to mark job completed", "job_id", job.ID, "error", err)
		}
		return
	}

	logger.Error("job failed", "job_id", job.ID, "attempt", job.Attempts, "error", err)

	if job.Attempts < job.MaxAttempts {
		delay := retryDelay(job.BackoffMillis, job.Attempts)
		m.metrics.JobRetried(q.name)
		if err := m.store.RescheduleJob(ctx, job.ID, time.Now().Add(delay), job.Attempts, err.Error()); err != nil {
			logger.Error("failed to reschedule job", "job_id", job.ID, "error", err)
		}
		return
	}

	if job.RemoveOnFail {
		if err := m.store.DeleteJob(ctx, job.ID); err != nil {
			logger.Warn("failed to delete failed job", "job_id", job.ID, "error", err)
		}
		return
	}
	if err := m.store.MarkJobState(ctx, job.ID, store.JobStateFailed, err.Error()); err != nil {
		logger.Warn("failed to mark job failed", "job_id", job.ID, "error", err)
	}
}

func (m *Manager) sampleDepth(ctx context.Context, queue string) {
	defer m.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.CountJobs(ctx, queue, store.JobStatePending)
			if err != nil {
				continue
			}
			m.metrics.SetQueueDepth(queue, n)
		}
	}
}

// retryDelay doubles the base backoff per prior attempt: base, 2·base, 4·base.
func retryDelay(backoffMillis int64, attempts int) time.Duration {
	if backoffMillis <= 0 {
		return time.Second
	}
	delay := time.Duration(backoffMillis) * time.Millisecond
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
