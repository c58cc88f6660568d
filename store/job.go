package store

import "time"

// JobState is the queue-visible state of a delayed job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is one row of the delayed-job table. The job ID is caller-chosen and
// deterministic (e.g. "timer:<requestID>") so that re-enqueueing supersedes
// any prior pending instance.
type Job struct {
	ID               string
	Queue            string
	Payload          []byte // JSON
	RunAt            time.Time
	Attempts         int
	MaxAttempts      int
	BackoffMillis    int64 // base delay for exponential backoff
	RemoveOnComplete bool
	RemoveOnFail     bool
	State            JobState
	LastError        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type FindJob struct {
	ID    *string
	Queue *string
	State *JobState
	Limit *int
}
