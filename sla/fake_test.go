package sla

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/replywatch/replywatch/classifier"
	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/queue"
	"github.com/replywatch/replywatch/store"
)

// fakeDriver is an in-memory store.Driver for engine tests.
type fakeDriver struct {
	mu sync.Mutex

	chats         map[int64]*store.Chat
	accountants   map[string]*store.Accountant
	requests      map[string]*store.Request
	alerts        []*store.Alert
	messages      []*store.ChatMessage
	settings      *store.GlobalSettings
	schedules     []*store.WorkSchedule
	holidays      []*store.Holiday
	history       []*store.RequestHistory
	jobs          map[string]*store.Job
	notifications []*store.Notification
	nextRowID     int64

	failGetChat     error
	failGetSettings error
	failGetRequest  error

	// stubMaxAlertLevel simulates a concurrent handler that read a stale
	// maximum before the first insert landed.
	stubMaxAlertLevel *int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		chats:       make(map[int64]*store.Chat),
		accountants: make(map[string]*store.Accountant),
		requests:    make(map[string]*store.Request),
		jobs:        make(map[string]*store.Job),
	}
}

func newFakeStore(d *fakeDriver) *store.Store {
	return store.New(d, &profile.Profile{Mode: "dev"})
}

func (f *fakeDriver) GetDB() any                    { return nil }
func (f *fakeDriver) Ping(context.Context) error    { return nil }
func (f *fakeDriver) Migrate(context.Context) error { return nil }
func (f *fakeDriver) Close() error                  { return nil }

func (f *fakeDriver) CreateChat(_ context.Context, c *store.Chat) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[c.ID] = c
	return c, nil
}

func (f *fakeDriver) GetChat(_ context.Context, find *store.FindChat) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGetChat != nil {
		return nil, f.failGetChat
	}
	c, ok := f.chats[*find.ID]
	if !ok {
		return nil, nil
	}
	if c.DeletedAt != nil && !find.IncludeDeleted {
		return nil, nil
	}
	cp := *c
	if find.WithAccountant && c.AssignedAccountantID != nil {
		cp.AssignedAccountant = f.accountants[*c.AssignedAccountantID]
	}
	return &cp, nil
}

func (f *fakeDriver) ListChats(_ context.Context, find *store.FindChat) ([]*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Chat, 0, len(f.chats))
	for _, c := range f.chats {
		if c.DeletedAt != nil && !find.IncludeDeleted {
			continue
		}
		if find.MonitoringOnly && !c.MonitoringEnabled {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeDriver) UpdateChat(_ context.Context, update *store.UpdateChat) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.chats[update.ID]
	if c == nil {
		return nil, nil
	}
	if update.MonitoringEnabled != nil {
		c.MonitoringEnabled = *update.MonitoringEnabled
	}
	if update.SLAThresholdMinutes != nil {
		c.SLAThresholdMinutes = update.SLAThresholdMinutes
	}
	if update.DeletedAt != nil {
		c.DeletedAt = update.DeletedAt
		c.MonitoringEnabled = false
	}
	return c, nil
}

func (f *fakeDriver) CreateAccountant(_ context.Context, a *store.Accountant) (*store.Accountant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountants[a.ID] = a
	return a, nil
}

func (f *fakeDriver) GetAccountant(_ context.Context, id string) (*store.Accountant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountants[id], nil
}

func (f *fakeDriver) ListAccountants(context.Context) ([]*store.Accountant, error) {
	return nil, nil
}

func (f *fakeDriver) CreateRequest(_ context.Context, r *store.Request) (*store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.requests[r.ID] = &cp
	return r, nil
}

func (f *fakeDriver) GetRequest(_ context.Context, find *store.FindRequest) (*store.Request, error) {
	list, err := f.ListRequests(nil, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (f *fakeDriver) ListRequests(_ context.Context, find *store.FindRequest) ([]*store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGetRequest != nil {
		return nil, f.failGetRequest
	}
	var out []*store.Request
	for _, r := range f.requests {
		if find.ID != nil && r.ID != *find.ID {
			continue
		}
		if find.ChatID != nil && r.ChatID != *find.ChatID {
			continue
		}
		if find.MessageID != nil && r.MessageID != *find.MessageID {
			continue
		}
		if len(find.Statuses) > 0 && !containsStatus(find.Statuses, r.Status) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if find.Order == store.OrderNewestFirst {
			return out[i].ReceivedAt.After(out[k].ReceivedAt)
		}
		return out[i].ReceivedAt.Before(out[k].ReceivedAt)
	})
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (f *fakeDriver) ListActiveRequests(_ context.Context, limit int) ([]*store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Request
	for _, r := range f.requests {
		if r.Status == store.StatusAnswered || r.Status == store.StatusClosed {
			continue
		}
		cp := *r
		if chat := f.chats[r.ChatID]; chat != nil {
			cp.ChatTier = chat.ClientTier
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		ri, rk := tierRankOf(out[i].ChatTier), tierRankOf(out[k].ChatTier)
		if ri != rk {
			return ri < rk
		}
		return out[i].ReceivedAt.Before(out[k].ReceivedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func tierRankOf(t *store.ClientTier) int {
	if t == nil {
		return 4
	}
	return store.TierRank(*t)
}

func containsStatus(set []store.RequestStatus, s store.RequestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (f *fakeDriver) UpdateRequest(_ context.Context, update *store.UpdateRequest) (*store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.requests[update.ID]
	if r == nil {
		return nil, nil
	}
	applyPatch(r, update)
	cp := *r
	return &cp, nil
}

func applyPatch(r *store.Request, update *store.UpdateRequest) {
	if update.Status != nil {
		r.Status = *update.Status
	}
	if update.Classification != nil {
		r.Classification = *update.Classification
	}
	if update.ClassificationScore != nil {
		r.ClassificationScore = *update.ClassificationScore
	}
	if update.ResponseAt != nil {
		r.ResponseAt = update.ResponseAt
	}
	if update.ResponseMessageID != nil {
		r.ResponseMessageID = update.ResponseMessageID
	}
	if update.RespondedBy != nil {
		r.RespondedBy = update.RespondedBy
	}
	if update.ResponseTimeMinutes != nil {
		r.ResponseTimeMinutes = update.ResponseTimeMinutes
	}
	if update.SLABreached != nil {
		r.SLABreached = *update.SLABreached
	}
	if update.AssignedTo != nil {
		r.AssignedTo = update.AssignedTo
	}
}

func (f *fakeDriver) UpdateRequestIfStatusIn(_ context.Context, claim *store.ClaimRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.requests[claim.ID]
	if r == nil || !containsStatus(claim.FromStatuses, r.Status) {
		return 0, nil
	}
	r.Status = claim.Status
	if claim.ResponseAt != nil {
		r.ResponseAt = claim.ResponseAt
	}
	if claim.ResponseMessageID != nil {
		r.ResponseMessageID = claim.ResponseMessageID
	}
	if claim.RespondedBy != nil {
		r.RespondedBy = claim.RespondedBy
	}
	if claim.ResponseTimeMinutes != nil {
		r.ResponseTimeMinutes = claim.ResponseTimeMinutes
	}
	if claim.SLABreached != nil {
		r.SLABreached = *claim.SLABreached
	}
	return 1, nil
}

func (f *fakeDriver) CreateAlert(_ context.Context, a *store.Alert) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.alerts {
		if existing.RequestID == a.RequestID && existing.Level == a.Level && existing.AlertType == a.AlertType {
			return false, nil
		}
	}
	cp := *a
	f.alerts = append(f.alerts, &cp)
	return true, nil
}

func (f *fakeDriver) ListAlerts(_ context.Context, find *store.FindAlert) ([]*store.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Alert
	for _, a := range f.alerts {
		if find.RequestID != nil && a.RequestID != *find.RequestID {
			continue
		}
		if find.AlertType != nil && a.AlertType != *find.AlertType {
			continue
		}
		if find.Unresolved && a.ResolvedAction != nil {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeDriver) MaxAlertLevel(_ context.Context, requestID string, alertType store.AlertType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stubMaxAlertLevel != nil {
		return *f.stubMaxAlertLevel, nil
	}
	max := 0
	for _, a := range f.alerts {
		if a.RequestID == requestID && a.AlertType == alertType && a.Level > max {
			max = a.Level
		}
	}
	return max, nil
}

func (f *fakeDriver) ResolveAlert(_ context.Context, resolve *store.ResolveAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == resolve.ID {
			a.ResolvedAction = &resolve.ResolvedAction
			a.ResolutionNotes = resolve.ResolutionNotes
			a.AcknowledgedBy = &resolve.AcknowledgedBy
			now := time.Now()
			a.AcknowledgedAt = &now
		}
	}
	return nil
}

func (f *fakeDriver) CreateChatMessage(_ context.Context, m *store.ChatMessage) (*store.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRowID++
	m.ID = f.nextRowID
	cp := *m
	f.messages = append(f.messages, &cp)
	return m, nil
}

func (f *fakeDriver) ListChatMessages(_ context.Context, find *store.FindChatMessage) ([]*store.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ChatMessage
	for _, m := range f.messages {
		if find.ChatID != nil && m.ChatID != *find.ChatID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SentAt.After(out[k].SentAt) })
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (f *fakeDriver) PurgeChatMessages(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.messages[:0]
	var purged int64
	for _, m := range f.messages {
		if m.SentAt.Before(before) && m.RequestID == nil {
			purged++
			continue
		}
		kept = append(kept, m)
	}
	f.messages = kept
	return purged, nil
}

func (f *fakeDriver) AttachRequestToChatMessage(_ context.Context, rowID int64, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == rowID {
			m.RequestID = &requestID
		}
	}
	return nil
}

func (f *fakeDriver) GetGlobalSettings(context.Context) (*store.GlobalSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGetSettings != nil {
		return nil, f.failGetSettings
	}
	if f.settings == nil {
		return nil, nil
	}
	cp := *f.settings
	return &cp, nil
}

func (f *fakeDriver) UpsertGlobalSettings(_ context.Context, s *store.GlobalSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.settings = &cp
	return nil
}

func (f *fakeDriver) ListWorkSchedules(_ context.Context, chatID int64) ([]*store.WorkSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.WorkSchedule
	for _, w := range f.schedules {
		if w.ChatID == chatID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeDriver) CreateWorkSchedule(_ context.Context, w *store.WorkSchedule) (*store.WorkSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules = append(f.schedules, w)
	return w, nil
}

func (f *fakeDriver) ListHolidays(context.Context) ([]*store.Holiday, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holidays, nil
}

func (f *fakeDriver) CreateHoliday(_ context.Context, h *store.Holiday) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holidays = append(f.holidays, h)
	return nil
}

func (f *fakeDriver) CreateRequestHistory(_ context.Context, entries []*store.RequestHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entries...)
	return nil
}

func (f *fakeDriver) ListRequestHistory(_ context.Context, requestID string) ([]*store.RequestHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.RequestHistory
	for _, h := range f.history {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeDriver) UpsertJob(_ context.Context, job *store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeDriver) ClaimDueJob(_ context.Context, queueName string, now time.Time) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.Queue == queueName && j.State == store.JobStatePending && !j.RunAt.After(now) {
			j.State = store.JobStateRunning
			j.Attempts++
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeDriver) RescheduleJob(_ context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.State = store.JobStatePending
		j.RunAt = runAt
		j.Attempts = attempts
	}
	return nil
}

func (f *fakeDriver) MarkJobState(_ context.Context, id string, state store.JobState, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.State = state
	}
	return nil
}

func (f *fakeDriver) DeleteJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakeDriver) DeletePendingJob(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok && j.State == store.JobStatePending {
		delete(f.jobs, id)
		return 1, nil
	}
	return 0, nil
}

func (f *fakeDriver) CountJobs(_ context.Context, queueName string, state store.JobState) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Queue == queueName && j.State == state {
			n++
		}
	}
	return n, nil
}

func (f *fakeDriver) PurgeFinishedJobs(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var purged int64
	for id, j := range f.jobs {
		if (j.State == store.JobStateCompleted || j.State == store.JobStateFailed) && j.RunAt.Before(before) {
			delete(f.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (f *fakeDriver) CreateNotification(_ context.Context, n *store.Notification) (*store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRowID++
	n.ID = f.nextRowID
	cp := *n
	f.notifications = append(f.notifications, &cp)
	return n, nil
}

func (f *fakeDriver) ListNotifications(_ context.Context, _ *store.FindNotification) ([]*store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifications, nil
}

func (f *fakeDriver) MarkNotificationRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.ID == id {
			now := time.Now()
			n.ReadAt = &now
		}
	}
	return nil
}

// fakeQueue records enqueues and cancellations for timer tests.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued map[string]fakeQueueEntry
	canceled []string
}

type fakeQueueEntry struct {
	queue   string
	payload any
	opts    queue.Options
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{enqueued: make(map[string]fakeQueueEntry)}
}

func (q *fakeQueue) Enqueue(_ context.Context, id, queueName string, payload any, opts queue.Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued[id] = fakeQueueEntry{queue: queueName, payload: payload, opts: opts}
	return nil
}

func (q *fakeQueue) Cancel(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canceled = append(q.canceled, id)
	_, ok := q.enqueued[id]
	delete(q.enqueued, id)
	return ok, nil
}

func (q *fakeQueue) entry(id string) (fakeQueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.enqueued[id]
	return e, ok
}

func (q *fakeQueue) entriesFor(queueName string) []fakeQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []fakeQueueEntry
	for _, e := range q.enqueued {
		if e.queue == queueName {
			out = append(out, e)
		}
	}
	return out
}

func (q *fakeQueue) canceledIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.canceled...)
}

// fakeClassifier returns a scripted result per message text.
type fakeClassifier struct {
	results map[string]store.Classification
	err     error
}

func (c *fakeClassifier) Classify(_ context.Context, text string, _ []string) (*classifier.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	label, ok := c.results[text]
	if !ok {
		label = store.ClassificationRequest
	}
	return &classifier.Result{Classification: label, Confidence: 0.9}, nil
}

// fakeSender records outbound sends.
type fakeSender struct {
	mu    sync.Mutex
	sends []fakeSend
	err   error
}

type fakeSend struct {
	chatID int64
	text   string
}

func (s *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, fakeSend{chatID: chatID, text: text})
	return nil
}

func (s *fakeSender) sent() []fakeSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeSend(nil), s.sends...)
}
