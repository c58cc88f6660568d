package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch/store"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*store.Job)}
}

func (f *fakeJobStore) UpsertJob(_ context.Context, job *store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.jobs[job.ID]; ok && prior.State == store.JobStateRunning {
		return nil
	}
	cp := *job
	cp.State = store.JobStatePending
	cp.Attempts = 0
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobStore) ClaimDueJob(_ context.Context, queue string, now time.Time) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*store.Job
	for _, j := range f.jobs {
		if j.Queue == queue && j.State == store.JobStatePending && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	j := due[0]
	j.State = store.JobStateRunning
	j.Attempts++
	cp := *j
	return &cp, nil
}

func (f *fakeJobStore) RescheduleJob(_ context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.State = store.JobStatePending
		j.RunAt = runAt
		j.Attempts = attempts
		j.LastError = &lastError
	}
	return nil
}

func (f *fakeJobStore) MarkJobState(_ context.Context, id string, state store.JobState, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.State = state
		if lastError != "" {
			j.LastError = &lastError
		}
	}
	return nil
}

func (f *fakeJobStore) DeleteJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakeJobStore) DeletePendingJob(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok && j.State == store.JobStatePending {
		delete(f.jobs, id)
		return 1, nil
	}
	return 0, nil
}

func (f *fakeJobStore) CountJobs(_ context.Context, queue string, state store.JobState) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Queue == queue && j.State == state {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobStore) get(id string) *store.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		cp := *j
		return &cp
	}
	return nil
}

func TestEnqueueReplacesPendingInstance(t *testing.T) {
	fs := newFakeJobStore()
	m := NewManager(Config{Store: fs})
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "timer:req-1", QueueSLATimer, map[string]string{"requestId": "req-1"}, Options{
		Delay:       time.Hour,
		MaxAttempts: 3,
	}))
	first := fs.get("timer:req-1")
	require.NotNil(t, first)

	require.NoError(t, m.Enqueue(ctx, "timer:req-1", QueueSLATimer, map[string]string{"requestId": "req-1"}, Options{
		Delay: time.Minute,
	}))
	second := fs.get("timer:req-1")
	require.True(t, second.RunAt.Before(first.RunAt))
	require.Equal(t, 1, second.MaxAttempts)
	require.Equal(t, store.JobStatePending, second.State)
}

func TestCancelOnlyRemovesPending(t *testing.T) {
	fs := newFakeJobStore()
	m := NewManager(Config{Store: fs})
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "warn:req-1", QueueSLATimer, nil, Options{Delay: time.Hour}))

	removed, err := m.Cancel(ctx, "warn:req-1")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = m.Cancel(ctx, "warn:req-1")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestWorkerRunsDueJob(t *testing.T) {
	fs := newFakeJobStore()
	m := NewManager(Config{Store: fs, PollInterval: 5 * time.Millisecond, GraceWindow: time.Second})

	done := make(chan string, 1)
	m.Register(QueueAlertDispatch, 2, 0, func(_ context.Context, job *store.Job) error {
		done <- job.ID
		return nil
	})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, "dispatch:1", QueueAlertDispatch, nil, Options{RemoveOnComplete: true}))

	m.Start(ctx)
	defer m.Stop()

	select {
	case id := <-done:
		require.Equal(t, "dispatch:1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	require.Eventually(t, func() bool { return fs.get("dispatch:1") == nil },
		time.Second, 10*time.Millisecond, "completed job should be removed")
}

func TestWorkerRetriesThenFails(t *testing.T) {
	fs := newFakeJobStore()
	m := NewManager(Config{Store: fs, PollInterval: 5 * time.Millisecond, GraceWindow: time.Second})

	var mu sync.Mutex
	attempts := 0
	m.Register(QueueSurvey, 1, 0, func(context.Context, *store.Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("boom")
	})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, "survey:1", QueueSurvey, nil, Options{
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
	}))

	m.Start(ctx)
	defer m.Stop()

	require.Eventually(t, func() bool {
		j := fs.get("survey:1")
		return j != nil && j.State == store.JobStateFailed
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, attempts)
	j := fs.get("survey:1")
	require.NotNil(t, j.LastError)
	require.Contains(t, *j.LastError, "boom")
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	fs := newFakeJobStore()
	m := NewManager(Config{Store: fs, PollInterval: 5 * time.Millisecond, GraceWindow: time.Second})

	m.Register(QueueRetention, 1, 0, func(context.Context, *store.Job) error {
		panic("handler exploded")
	})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, "retention:1", QueueRetention, nil, Options{MaxAttempts: 1}))

	m.Start(ctx)
	defer m.Stop()

	require.Eventually(t, func() bool {
		j := fs.get("retention:1")
		return j != nil && j.State == store.JobStateFailed
	}, 3*time.Second, 10*time.Millisecond)

	j := fs.get("retention:1")
	require.Contains(t, *j.LastError, "panic")
}

func TestRetryDelay(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, retryDelay(100, 1))
	require.Equal(t, 200*time.Millisecond, retryDelay(100, 2))
	require.Equal(t, 400*time.Millisecond, retryDelay(100, 3))
	require.Equal(t, time.Second, retryDelay(0, 5))
}
