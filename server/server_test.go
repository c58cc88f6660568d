package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/sla"
	"github.com/replywatch/replywatch/store"
)

// stubDriver backs the handler tests with just enough in-memory state.
type stubDriver struct {
	pingErr  error
	requests map[string]*store.Request
	settings *store.GlobalSettings
	history  []*store.RequestHistory
}

func newStubDriver() *stubDriver {
	return &stubDriver{requests: make(map[string]*store.Request)}
}

func (d *stubDriver) GetDB() any                    { return nil }
func (d *stubDriver) Ping(context.Context) error    { return d.pingErr }
func (d *stubDriver) Migrate(context.Context) error { return nil }
func (d *stubDriver) Close() error                  { return nil }

func (d *stubDriver) CreateChat(_ context.Context, c *store.Chat) (*store.Chat, error) {
	return c, nil
}
func (d *stubDriver) GetChat(context.Context, *store.FindChat) (*store.Chat, error) {
	return nil, nil
}
func (d *stubDriver) ListChats(context.Context, *store.FindChat) ([]*store.Chat, error) {
	return nil, nil
}
func (d *stubDriver) UpdateChat(context.Context, *store.UpdateChat) (*store.Chat, error) {
	return nil, nil
}
func (d *stubDriver) CreateAccountant(_ context.Context, a *store.Accountant) (*store.Accountant, error) {
	return a, nil
}
func (d *stubDriver) GetAccountant(context.Context, string) (*store.Accountant, error) {
	return nil, nil
}
func (d *stubDriver) ListAccountants(context.Context) ([]*store.Accountant, error) {
	return nil, nil
}

func (d *stubDriver) CreateRequest(_ context.Context, r *store.Request) (*store.Request, error) {
	d.requests[r.ID] = r
	return r, nil
}

func (d *stubDriver) GetRequest(_ context.Context, find *store.FindRequest) (*store.Request, error) {
	if find.ID == nil {
		return nil, nil
	}
	r, ok := d.requests[*find.ID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (d *stubDriver) ListRequests(context.Context, *store.FindRequest) ([]*store.Request, error) {
	return nil, nil
}
func (d *stubDriver) ListActiveRequests(context.Context, int) ([]*store.Request, error) {
	return nil, nil
}

func (d *stubDriver) UpdateRequest(_ context.Context, update *store.UpdateRequest) (*store.Request, error) {
	r := d.requests[update.ID]
	if r == nil {
		return nil, nil
	}
	if update.Status != nil {
		r.Status = *update.Status
	}
	if update.Classification != nil {
		r.Classification = *update.Classification
	}
	cp := *r
	return &cp, nil
}

func (d *stubDriver) UpdateRequestIfStatusIn(context.Context, *store.ClaimRequest) (int64, error) {
	return 0, nil
}

func (d *stubDriver) CreateAlert(context.Context, *store.Alert) (bool, error) { return false, nil }
func (d *stubDriver) ListAlerts(context.Context, *store.FindAlert) ([]*store.Alert, error) {
	return nil, nil
}
func (d *stubDriver) MaxAlertLevel(context.Context, string, store.AlertType) (int, error) {
	return 0, nil
}
func (d *stubDriver) ResolveAlert(context.Context, *store.ResolveAlert) error { return nil }

func (d *stubDriver) CreateChatMessage(_ context.Context, m *store.ChatMessage) (*store.ChatMessage, error) {
	return m, nil
}
func (d *stubDriver) ListChatMessages(context.Context, *store.FindChatMessage) ([]*store.ChatMessage, error) {
	return nil, nil
}
func (d *stubDriver) AttachRequestToChatMessage(context.Context, int64, string) error { return nil }
func (d *stubDriver) PurgeChatMessages(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (d *stubDriver) GetGlobalSettings(context.Context) (*store.GlobalSettings, error) {
	return d.settings, nil
}

func (d *stubDriver) UpsertGlobalSettings(_ context.Context, s *store.GlobalSettings) error {
	d.settings = s
	return nil
}

func (d *stubDriver) ListWorkSchedules(context.Context, int64) ([]*store.WorkSchedule, error) {
	return nil, nil
}
func (d *stubDriver) CreateWorkSchedule(_ context.Context, w *store.WorkSchedule) (*store.WorkSchedule, error) {
	return w, nil
}
func (d *stubDriver) ListHolidays(context.Context) ([]*store.Holiday, error) { return nil, nil }
func (d *stubDriver) CreateHoliday(context.Context, *store.Holiday) error    { return nil }

func (d *stubDriver) CreateRequestHistory(_ context.Context, entries []*store.RequestHistory) error {
	d.history = append(d.history, entries...)
	return nil
}
func (d *stubDriver) ListRequestHistory(context.Context, string) ([]*store.RequestHistory, error) {
	return d.history, nil
}

func (d *stubDriver) UpsertJob(context.Context, *store.Job) error { return nil }
func (d *stubDriver) ClaimDueJob(context.Context, string, time.Time) (*store.Job, error) {
	return nil, nil
}
func (d *stubDriver) RescheduleJob(context.Context, string, time.Time, int, string) error {
	return nil
}
func (d *stubDriver) MarkJobState(context.Context, string, store.JobState, string) error {
	return nil
}
func (d *stubDriver) DeleteJob(context.Context, string) error             { return nil }
func (d *stubDriver) DeletePendingJob(context.Context, string) (int64, error) { return 0, nil }
func (d *stubDriver) CountJobs(context.Context, string, store.JobState) (int, error) {
	return 0, nil
}
func (d *stubDriver) PurgeFinishedJobs(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (d *stubDriver) CreateNotification(_ context.Context, n *store.Notification) (*store.Notification, error) {
	return n, nil
}
func (d *stubDriver) ListNotifications(context.Context, *store.FindNotification) ([]*store.Notification, error) {
	return nil, nil
}
func (d *stubDriver) MarkNotificationRead(context.Context, int64) error { return nil }

func newTestServer(t *testing.T, d *stubDriver) *Server {
	t.Helper()
	p := &profile.Profile{Mode: "dev", MetricsEnabled: false, Version: "test"}
	s := store.New(d, p)
	resolver := sla.NewResolver(s)
	lifecycle := sla.NewLifecycle(s, nil)
	return NewServer(p, s, resolver, lifecycle, nil)
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rec := do(newTestServer(t, newStubDriver()), http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"healthy"`)
	})

	t.Run("database down", func(t *testing.T) {
		d := newStubDriver()
		d.pingErr = errors.New("connection refused")
		rec := do(newTestServer(t, d), http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestUpdateRequestStatusHandler(t *testing.T) {
	seed := func(d *stubDriver, status store.RequestStatus) {
		d.requests["req-1"] = &store.Request{
			ID: "req-1", ChatID: -1, Status: status,
			Classification: store.ClassificationRequest,
		}
	}

	t.Run("valid transition", func(t *testing.T) {
		d := newStubDriver()
		seed(d, store.StatusPending)
		rec := do(newTestServer(t, d), http.MethodPatch, "/api/v1/requests/req-1/status",
			`{"status":"in_progress","changedBy":"operator:7"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, store.StatusInProgress, d.requests["req-1"].Status)
		require.Len(t, d.history, 1)
	})

	t.Run("invalid transition conflicts", func(t *testing.T) {
		d := newStubDriver()
		seed(d, store.StatusAnswered)
		rec := do(newTestServer(t, d), http.MethodPatch, "/api/v1/requests/req-1/status",
			`{"status":"pending","changedBy":"operator:7"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, store.StatusAnswered, d.requests["req-1"].Status)
	})

	t.Run("missing request", func(t *testing.T) {
		rec := do(newTestServer(t, newStubDriver()), http.MethodPatch, "/api/v1/requests/ghost/status",
			`{"status":"closed","changedBy":"operator:7"}`)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing attribution", func(t *testing.T) {
		d := newStubDriver()
		seed(d, store.StatusPending)
		rec := do(newTestServer(t, d), http.MethodPatch, "/api/v1/requests/req-1/status",
			`{"status":"in_progress"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPutSettingsHandler(t *testing.T) {
	valid := `{"timezone":"Europe/Moscow","workingDays":[1,2,3,4,5],"startTime":"09:00",
		"endTime":"18:00","defaultSlaThreshold":60,"maxEscalations":3,
		"escalationIntervalMin":30,"slaWarningPercent":80,"aiConfidenceThreshold":0.6}`

	t.Run("stores valid settings", func(t *testing.T) {
		d := newStubDriver()
		rec := do(newTestServer(t, d), http.MethodPut, "/api/v1/settings", valid)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, d.settings)
		require.Equal(t, 60, d.settings.DefaultSLAThreshold)
	})

	t.Run("rejects unknown timezone", func(t *testing.T) {
		body := strings.Replace(valid, "Europe/Moscow", "Mars/Olympus", 1)
		rec := do(newTestServer(t, newStubDriver()), http.MethodPut, "/api/v1/settings", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects out-of-range warning percent", func(t *testing.T) {
		body := strings.Replace(valid, `"slaWarningPercent":80`, `"slaWarningPercent":150`, 1)
		rec := do(newTestServer(t, newStubDriver()), http.MethodPut, "/api/v1/settings", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListRequestsHandlerValidation(t *testing.T) {
	rec := do(newTestServer(t, newStubDriver()), http.MethodGet, "/api/v1/requests?limit=-5", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveAlertHandlerValidation(t *testing.T) {
	rec := do(newTestServer(t, newStubDriver()), http.MethodPost, "/api/v1/alerts/a1/resolve",
		`{"action":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
