package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch/internal/profile"
)

// auditDriver implements only the Driver methods the audit wrappers touch;
// everything else panics through the embedded nil interface.
type auditDriver struct {
	Driver

	request *Request
	claimed int64
	history []*RequestHistory
	failLog bool
}

func (d *auditDriver) GetRequest(_ context.Context, find *FindRequest) (*Request, error) {
	if d.request == nil || find.ID == nil || *find.ID != d.request.ID {
		return nil, nil
	}
	copied := *d.request
	return &copied, nil
}

func (d *auditDriver) UpdateRequest(_ context.Context, update *UpdateRequest) (*Request, error) {
	if update.Status != nil {
		d.request.Status = *update.Status
	}
	if update.Classification != nil {
		d.request.Classification = *update.Classification
	}
	if update.ClassificationScore != nil {
		d.request.ClassificationScore = *update.ClassificationScore
	}
	if update.AssignedTo != nil {
		d.request.AssignedTo = update.AssignedTo
	}
	if update.SLABreached != nil {
		d.request.SLABreached = *update.SLABreached
	}
	if update.RespondedBy != nil {
		d.request.RespondedBy = update.RespondedBy
	}
	copied := *d.request
	return &copied, nil
}

func (d *auditDriver) UpdateRequestIfStatusIn(_ context.Context, claim *ClaimRequest) (int64, error) {
	for _, status := range claim.FromStatuses {
		if d.request.Status == status {
			d.request.Status = claim.Status
			d.claimed++
			return 1, nil
		}
	}
	return 0, nil
}

func (d *auditDriver) CreateRequestHistory(_ context.Context, entries []*RequestHistory) error {
	if d.failLog {
		return context.DeadlineExceeded
	}
	d.history = append(d.history, entries...)
	return nil
}

func newAuditStore(d *auditDriver) *Store {
	return New(d, &profile.Profile{Mode: "dev"})
}

func historyFields(entries []*RequestHistory) []string {
	fields := make([]string, 0, len(entries))
	for _, e := range entries {
		fields = append(fields, e.Field)
	}
	return fields
}

func TestUpdateRequestWithAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("records one entry per changed tracked field", func(t *testing.T) {
		d := &auditDriver{request: &Request{
			ID:             "req-1",
			Status:         StatusPending,
			Classification: ClassificationRequest,
		}}
		s := newAuditStore(d)

		status := StatusInProgress
		assignee := "acc-uuid-1"
		updated, err := s.UpdateRequestWithAudit(ctx, &UpdateRequest{
			ID:         "req-1",
			Status:     &status,
			AssignedTo: &assignee,
		}, AuditContext{ChangedBy: "ops@example.com", Reason: "manual triage"})
		require.NoError(t, err)
		require.Equal(t, StatusInProgress, updated.Status)

		require.ElementsMatch(t, []string{HistoryFieldStatus, HistoryFieldAssignedTo}, historyFields(d.history))
		for _, entry := range d.history {
			require.Equal(t, "req-1", entry.RequestID)
			require.Equal(t, "ops@example.com", entry.ChangedBy)
			require.Equal(t, "manual triage", entry.Reason)
		}
		status1 := d.history[0]
		if status1.Field != HistoryFieldStatus {
			status1 = d.history[1]
		}
		require.Equal(t, "pending", *status1.OldValue)
		require.Equal(t, "in_progress", *status1.NewValue)
	})

	t.Run("no-op patch writes no history", func(t *testing.T) {
		d := &auditDriver{request: &Request{ID: "req-1", Status: StatusPending}}
		s := newAuditStore(d)

		same := StatusPending
		_, err := s.UpdateRequestWithAudit(ctx, &UpdateRequest{ID: "req-1", Status: &same},
			SystemAudit("timer refresh"))
		require.NoError(t, err)
		require.Empty(t, d.history)
	})

	t.Run("reclassification diffs label and score", func(t *testing.T) {
		d := &auditDriver{request: &Request{
			ID:                  "req-1",
			Status:              StatusPending,
			Classification:      ClassificationSpam,
			ClassificationScore: 0.52,
		}}
		s := newAuditStore(d)

		label := ClassificationRequest
		score := 1.0
		_, err := s.UpdateRequestWithAudit(ctx, &UpdateRequest{
			ID:                  "req-1",
			Classification:      &label,
			ClassificationScore: &score,
		}, AuditContext{ChangedBy: "ops@example.com", Reason: "misclassified"})
		require.NoError(t, err)
		require.ElementsMatch(t,
			[]string{HistoryFieldClassification, HistoryFieldClassificationScore},
			historyFields(d.history))
	})

	t.Run("missing request errors instead of panicking", func(t *testing.T) {
		d := &auditDriver{}
		s := newAuditStore(d)

		status := StatusClosed
		_, err := s.UpdateRequestWithAudit(ctx, &UpdateRequest{ID: "gone", Status: &status},
			SystemAudit("sweep"))
		require.ErrorContains(t, err, "not found")
		require.Empty(t, d.history)
	})

	t.Run("history failure does not fail the update", func(t *testing.T) {
		d := &auditDriver{
			request: &Request{ID: "req-1", Status: StatusPending},
			failLog: true,
		}
		s := newAuditStore(d)

		status := StatusClosed
		updated, err := s.UpdateRequestWithAudit(ctx, &UpdateRequest{ID: "req-1", Status: &status},
			SystemAudit("sweep"))
		require.NoError(t, err)
		require.Equal(t, StatusClosed, updated.Status)
	})
}

func TestClaimRequestWithAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("winning claim records the transition", func(t *testing.T) {
		d := &auditDriver{request: &Request{ID: "req-1", Status: StatusPending}}
		s := newAuditStore(d)

		now := time.Now()
		rows, err := s.ClaimRequestWithAudit(ctx, &ClaimRequest{
			ID:           "req-1",
			FromStatuses: []RequestStatus{StatusPending, StatusEscalated},
			Status:       StatusAnswered,
			ResponseAt:   &now,
		}, SystemAudit("responder reply"))
		require.NoError(t, err)
		require.EqualValues(t, 1, rows)

		require.Len(t, d.history, 1)
		require.Equal(t, HistoryFieldStatus, d.history[0].Field)
		require.Equal(t, "pending", *d.history[0].OldValue)
		require.Equal(t, "answered", *d.history[0].NewValue)
	})

	t.Run("missing request errors instead of panicking", func(t *testing.T) {
		d := &auditDriver{}
		s := newAuditStore(d)

		_, err := s.ClaimRequestWithAudit(ctx, &ClaimRequest{
			ID:           "gone",
			FromStatuses: []RequestStatus{StatusPending},
			Status:       StatusAnswered,
		}, SystemAudit("responder reply"))
		require.ErrorContains(t, err, "not found")
		require.Empty(t, d.history)
	})

	t.Run("lost claim writes nothing", func(t *testing.T) {
		d := &auditDriver{request: &Request{ID: "req-1", Status: StatusAnswered}}
		s := newAuditStore(d)

		rows, err := s.ClaimRequestWithAudit(ctx, &ClaimRequest{
			ID:           "req-1",
			FromStatuses: []RequestStatus{StatusPending},
			Status:       StatusAnswered,
		}, SystemAudit("responder reply"))
		require.NoError(t, err)
		require.Zero(t, rows)
		require.Empty(t, d.history)
		require.Equal(t, StatusAnswered, d.request.Status, "row untouched by the losing claim")
	})
}
