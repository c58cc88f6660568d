package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/store/cache"
)

// Driver is the database-specific backend implemented by store/db/postgres
// and store/db/sqlite.
type Driver interface {
	GetDB() any
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Chats and accountants
	CreateChat(ctx context.Context, create *Chat) (*Chat, error)
	GetChat(ctx context.Context, find *FindChat) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error)
	CreateAccountant(ctx context.Context, create *Accountant) (*Accountant, error)
	GetAccountant(ctx context.Context, id string) (*Accountant, error)
	ListAccountants(ctx context.Context) ([]*Accountant, error)

	// Requests
	CreateRequest(ctx context.Context, create *Request) (*Request, error)
	GetRequest(ctx context.Context, find *FindRequest) (*Request, error)
	ListRequests(ctx context.Context, find *FindRequest) ([]*Request, error)
	ListActiveRequests(ctx context.Context, limit int) ([]*Request, error)
	UpdateRequest(ctx context.Context, update *UpdateRequest) (*Request, error)
	// UpdateRequestIfStatusIn applies the claim patch only while the current
	// status is in claim.FromStatuses and returns the number of rows changed.
	UpdateRequestIfStatusIn(ctx context.Context, claim *ClaimRequest) (int64, error)

	// Alerts
	// CreateAlert inserts conditionally on the (request_id, level, alert_type)
	// uniqueness key and reports whether a row was actually created.
	CreateAlert(ctx context.Context, create *Alert) (bool, error)
	ListAlerts(ctx context.Context, find *FindAlert) ([]*Alert, error)
	MaxAlertLevel(ctx context.Context, requestID string, alertType AlertType) (int, error)
	ResolveAlert(ctx context.Context, resolve *ResolveAlert) error

	// Raw message log
	CreateChatMessage(ctx context.Context, create *ChatMessage) (*ChatMessage, error)
	ListChatMessages(ctx context.Context, find *FindChatMessage) ([]*ChatMessage, error)
	AttachRequestToChatMessage(ctx context.Context, messageRowID int64, requestID string) error
	// PurgeChatMessages deletes unlinked raw log rows older than the cutoff
	// and returns how many were removed.
	PurgeChatMessages(ctx context.Context, before time.Time) (int64, error)

	// Settings, schedules, holidays
	GetGlobalSettings(ctx context.Context) (*GlobalSettings, error)
	UpsertGlobalSettings(ctx context.Context, settings *GlobalSettings) error
	ListWorkSchedules(ctx context.Context, chatID int64) ([]*WorkSchedule, error)
	CreateWorkSchedule(ctx context.Context, create *WorkSchedule) (*WorkSchedule, error)
	ListHolidays(ctx context.Context) ([]*Holiday, error)
	CreateHoliday(ctx context.Context, create *Holiday) error

	// Audit trail
	CreateRequestHistory(ctx context.Context, entries []*RequestHistory) error
	ListRequestHistory(ctx context.Context, requestID string) ([]*RequestHistory, error)

	// Delayed jobs
	UpsertJob(ctx context.Context, job *Job) error
	ClaimDueJob(ctx context.Context, queue string, now time.Time) (*Job, error)
	RescheduleJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error
	MarkJobState(ctx context.Context, id string, state JobState, lastError string) error
	DeleteJob(ctx context.Context, id string) error
	// DeletePendingJob removes a job only while it is still pending and
	// returns the number of rows removed (cancellation is best-effort).
	DeletePendingJob(ctx context.Context, id string) (int64, error)
	CountJobs(ctx context.Context, queue string, state JobState) (int, error)
	PurgeFinishedJobs(ctx context.Context, before time.Time) (int64, error)

	// Notifications
	CreateNotification(ctx context.Context, create *Notification) (*Notification, error)
	ListNotifications(ctx context.Context, find *FindNotification) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// SettingsCache backs the configuration resolver's 5-minute TTL slot.
	SettingsCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		SettingsCache: cache.New(cache.Config{
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: time.Minute,
			MaxItems:        16,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.SettingsCache.Close()
	return s.driver.Close()
}

func (s *Store) CreateChat(ctx context.Context, create *Chat) (*Chat, error) {
	return s.driver.CreateChat(ctx, create)
}

func (s *Store) GetChat(ctx context.Context, find *FindChat) (*Chat, error) {
	return s.driver.GetChat(ctx, find)
}

func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

func (s *Store) UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error) {
	return s.driver.UpdateChat(ctx, update)
}

func (s *Store) CreateAccountant(ctx context.Context, create *Accountant) (*Accountant, error) {
	return s.driver.CreateAccountant(ctx, create)
}

func (s *Store) GetAccountant(ctx context.Context, id string) (*Accountant, error) {
	return s.driver.GetAccountant(ctx, id)
}

func (s *Store) ListAccountants(ctx context.Context) ([]*Accountant, error) {
	return s.driver.ListAccountants(ctx)
}

func (s *Store) CreateRequest(ctx context.Context, create *Request) (*Request, error) {
	return s.driver.CreateRequest(ctx, create)
}

func (s *Store) GetRequest(ctx context.Context, find *FindRequest) (*Request, error) {
	return s.driver.GetRequest(ctx, find)
}

func (s *Store) ListRequests(ctx context.Context, find *FindRequest) ([]*Request, error) {
	return s.driver.ListRequests(ctx, find)
}

func (s *Store) ListActiveRequests(ctx context.Context, limit int) ([]*Request, error) {
	return s.driver.ListActiveRequests(ctx, limit)
}

func (s *Store) UpdateRequestIfStatusIn(ctx context.Context, claim *ClaimRequest) (int64, error) {
	return s.driver.UpdateRequestIfStatusIn(ctx, claim)
}

func (s *Store) CreateAlert(ctx context.Context, create *Alert) (bool, error) {
	return s.driver.CreateAlert(ctx, create)
}

func (s *Store) ListAlerts(ctx context.Context, find *FindAlert) ([]*Alert, error) {
	return s.driver.ListAlerts(ctx, find)
}

func (s *Store) MaxAlertLevel(ctx context.Context, requestID string, alertType AlertType) (int, error) {
	return s.driver.MaxAlertLevel(ctx, requestID, alertType)
}

func (s *Store) ResolveAlert(ctx context.Context, resolve *ResolveAlert) error {
	return s.driver.ResolveAlert(ctx, resolve)
}

func (s *Store) CreateChatMessage(ctx context.Context, create *ChatMessage) (*ChatMessage, error) {
	return s.driver.CreateChatMessage(ctx, create)
}

func (s *Store) ListChatMessages(ctx context.Context, find *FindChatMessage) ([]*ChatMessage, error) {
	return s.driver.ListChatMessages(ctx, find)
}

func (s *Store) AttachRequestToChatMessage(ctx context.Context, messageRowID int64, requestID string) error {
	return s.driver.AttachRequestToChatMessage(ctx, messageRowID, requestID)
}

func (s *Store) PurgeChatMessages(ctx context.Context, before time.Time) (int64, error) {
	return s.driver.PurgeChatMessages(ctx, before)
}

func (s *Store) GetGlobalSettings(ctx context.Context) (*GlobalSettings, error) {
	return s.driver.GetGlobalSettings(ctx)
}

func (s *Store) UpsertGlobalSettings(ctx context.Context, settings *GlobalSettings) error {
	return s.driver.UpsertGlobalSettings(ctx, settings)
}

func (s *Store) ListWorkSchedules(ctx context.Context, chatID int64) ([]*WorkSchedule, error) {
	return s.driver.ListWorkSchedules(ctx, chatID)
}

func (s *Store) CreateWorkSchedule(ctx context.Context, create *WorkSchedule) (*WorkSchedule, error) {
	return s.driver.CreateWorkSchedule(ctx, create)
}

func (s *Store) ListHolidays(ctx context.Context) ([]*Holiday, error) {
	return s.driver.ListHolidays(ctx)
}

func (s *Store) CreateHoliday(ctx context.Context, create *Holiday) error {
	return s.driver.CreateHoliday(ctx, create)
}

func (s *Store) CreateRequestHistory(ctx context.Context, entries []*RequestHistory) error {
	return s.driver.CreateRequestHistory(ctx, entries)
}

func (s *Store) ListRequestHistory(ctx context.Context, requestID string) ([]*RequestHistory, error) {
	return s.driver.ListRequestHistory(ctx, requestID)
}

func (s *Store) UpsertJob(ctx context.Context, job *Job) error {
	return s.driver.UpsertJob(ctx, job)
}

func (s *Store) ClaimDueJob(ctx context.Context, queue string, now time.Time) (*Job, error) {
	return s.driver.ClaimDueJob(ctx, queue, now)
}

func (s *Store) RescheduleJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	return s.driver.RescheduleJob(ctx, id, runAt, attempts, lastError)
}

func (s *Store) MarkJobState(ctx context.Context, id string, state JobState, lastError string) error {
	return s.driver.MarkJobState(ctx, id, state, lastError)
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.driver.DeleteJob(ctx, id)
}

func (s *Store) DeletePendingJob(ctx context.Context, id string) (int64, error) {
	return s.driver.DeletePendingJob(ctx, id)
}

func (s *Store) CountJobs(ctx context.Context, queue string, state JobState) (int, error) {
	return s.driver.CountJobs(ctx, queue, state)
}

func (s *Store) PurgeFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	return s.driver.PurgeFinishedJobs(ctx, before)
}

func (s *Store) CreateNotification(ctx context.Context, create *Notification) (*Notification, error) {
	return s.driver.CreateNotification(ctx, create)
}

func (s *Store) ListNotifications(ctx context.Context, find *FindNotification) ([]*Notification, error) {
	return s.driver.ListNotifications(ctx, find)
}

func (s *Store) MarkNotificationRead(ctx context.Context, id int64) error {
	return s.driver.MarkNotificationRead(ctx, id)
}

// UpdateRequestWithAudit snapshots the tracked fields of the current row,
// applies the patch, then inserts one history row per changed field. History
// failures are logged at warn level and never fail the parent update; the
// read-then-write window is accepted (see ListRequestHistory consumers).
func (s *Store) UpdateRequestWithAudit(ctx context.Context, update *UpdateRequest, audit AuditContext) (*Request, error) {
	before, err := s.driver.GetRequest(ctx, &FindRequest{ID: &update.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to load request for audit: %w", err)
	}
	if before == nil {
		return nil, fmt.Errorf("request %s not found", update.ID)
	}

	updated, err := s.driver.UpdateRequest(ctx, update)
	if err != nil {
		return nil, err
	}

	entries := diffTrackedFields(before, update, audit)
	if len(entries) > 0 {
		if err := s.driver.CreateRequestHistory(ctx, entries); err != nil {
			slog.Warn("failed to write request history",
				"request_id", update.ID, "changed_by", audit.ChangedBy, "error", err)
		}
	}
	return updated, nil
}

// ClaimRequestWithAudit performs the atomic conditional claim and, when the
// claim wins, records the status transition in the history. The audit write
// is best-effort like every other history insert.
func (s *Store) ClaimRequestWithAudit(ctx context.Context, claim *ClaimRequest, audit AuditContext) (int64, error) {
	before, err := s.driver.GetRequest(ctx, &FindRequest{ID: &claim.ID})
	if err != nil {
		return 0, fmt.Errorf("failed to load request for claim: %w", err)
	}
	if before == nil {
		return 0, fmt.Errorf("request %s not found", claim.ID)
	}

	rows, err := s.driver.UpdateRequestIfStatusIn(ctx, claim)
	if err != nil || rows == 0 {
		return rows, err
	}

	old := string(before.Status)
	newStatus := string(claim.Status)
	entry := &RequestHistory{
		RequestID: claim.ID,
		Field:     HistoryFieldStatus,
		OldValue:  &old,
		NewValue:  &newStatus,
		ChangedBy: audit.ChangedBy,
		Reason:    audit.Reason,
		ChangedAt: time.Now(),
	}
	if err := s.driver.CreateRequestHistory(ctx, []*RequestHistory{entry}); err != nil {
		slog.Warn("failed to write claim history", "request_id", claim.ID, "error", err)
	}
	return rows, nil
}

func diffTrackedFields(before *Request, update *UpdateRequest, audit AuditContext) []*RequestHistory {
	now := time.Now()
	var entries []*RequestHistory
	add := func(field, oldVal, newVal string) {
		if oldVal == newVal {
			return
		}
		o, n := oldVal, newVal
		entries = append(entries, &RequestHistory{
			RequestID: update.ID,
			Field:     field,
			OldValue:  &o,
			NewValue:  &n,
			ChangedBy: audit.ChangedBy,
			Reason:    audit.Reason,
			ChangedAt: now,
		})
	}

	if update.Status != nil {
		add(HistoryFieldStatus, string(before.Status), string(*update.Status))
	}
	if update.AssignedTo != nil {
		add(HistoryFieldAssignedTo, strOrEmpty(before.AssignedTo), *update.AssignedTo)
	}
	if update.Classification != nil {
		add(HistoryFieldClassification, string(before.Classification), string(*update.Classification))
	}
	if update.ClassificationScore != nil {
		add(HistoryFieldClassificationScore,
			strconv.FormatFloat(before.ClassificationScore, 'f', -1, 64),
			strconv.FormatFloat(*update.ClassificationScore, 'f', -1, 64))
	}
	if update.SLABreached != nil {
		add(HistoryFieldSLABreached, strconv.FormatBool(before.SLABreached), strconv.FormatBool(*update.SLABreached))
	}
	if update.RespondedBy != nil {
		add(HistoryFieldRespondedBy, strOrEmpty(before.RespondedBy), *update.RespondedBy)
	}
	return entries
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
