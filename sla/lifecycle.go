package sla

import (
	"context"
	"log/slog"

	"github.com/replywatch/replywatch/metrics"
	"github.com/replywatch/replywatch/store"
)

// Claimable is the set of statuses from which a responder reply (or a breach
// write-back) may still win the request.
var Claimable = []store.RequestStatus{
	store.StatusPending,
	store.StatusInProgress,
	store.StatusWaitingClient,
	store.StatusTransferred,
	store.StatusEscalated,
}

// transitions is the lifecycle matrix. Statuses absent from a row's set are
// rejected; closed is terminal.
var transitions = map[store.RequestStatus][]store.RequestStatus{
	store.StatusPending: {
		store.StatusInProgress, store.StatusWaitingClient, store.StatusTransferred,
		store.StatusAnswered, store.StatusEscalated, store.StatusClosed,
	},
	store.StatusInProgress: {
		store.StatusWaitingClient, store.StatusTransferred,
		store.StatusAnswered, store.StatusEscalated, store.StatusClosed,
	},
	store.StatusWaitingClient: {store.StatusInProgress, store.StatusAnswered, store.StatusClosed},
	store.StatusTransferred:   {store.StatusInProgress, store.StatusAnswered, store.StatusClosed},
	store.StatusEscalated:     {store.StatusInProgress, store.StatusAnswered, store.StatusClosed},
	store.StatusAnswered:      {store.StatusClosed},
	store.StatusClosed:        {},
}

// CanTransition reports whether the matrix permits from -> to.
func CanTransition(from, to store.RequestStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsClaimable reports whether a request in this status can still be answered.
func IsClaimable(status store.RequestStatus) bool {
	for _, s := range Claimable {
		if s == status {
			return true
		}
	}
	return false
}

// Lifecycle owns request status transitions and response matching.
type Lifecycle struct {
	store   *store.Store
	metrics *metrics.Metrics
}

func NewLifecycle(s *store.Store, m *metrics.Metrics) *Lifecycle {
	return &Lifecycle{store: s, metrics: m}
}

// UpdateStatus applies a validated status transition under audit. Invalid
// transitions return InvalidTransitionError without writing.
func (l *Lifecycle) UpdateStatus(ctx context.Context, id string, to store.RequestStatus, audit store.AuditContext) (*store.Request, error) {
	current, err := l.store.GetRequest(ctx, &store.FindRequest{ID: &id})
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrRequestNotFound
	}
	if !CanTransition(current.Status, to) {
		return nil, &InvalidTransitionError{From: current.Status, To: to}
	}

	return l.store.UpdateRequestWithAudit(ctx, &store.UpdateRequest{ID: id, Status: &to}, audit)
}

// ClaimAnswer performs the atomic conditional claim that moves a request into
// answered. Returns ErrRaceLost when a competing actor already won.
func (l *Lifecycle) ClaimAnswer(ctx context.Context, claim *store.ClaimRequest, audit store.AuditContext) error {
	claim.FromStatuses = Claimable
	claim.Status = store.StatusAnswered

	rows, err := l.store.ClaimRequestWithAudit(ctx, claim, audit)
	if err != nil {
		return err
	}
	if rows == 0 {
		l.metrics.RaceLostClaim()
		return ErrRaceLost
	}
	return nil
}

// MatchResponse resolves which request a responder message answers.
//
// A reply-to reference wins when its target is still claimable; a reply to an
// already answered (or closed) request is ignored entirely rather than claiming
// a different request. Without a reply-to, the most recent pending request in
// the chat is matched (LIFO: the latest question usually wins in real chat
// flows).
func (l *Lifecycle) MatchResponse(ctx context.Context, chatID int64, replyToMessageID *int) (*store.Request, error) {
	if replyToMessageID != nil {
		target, err := l.store.GetRequest(ctx, &store.FindRequest{
			ChatID:    &chatID,
			MessageID: replyToMessageID,
		})
		if err != nil {
			return nil, err
		}
		if target != nil {
			if IsClaimable(target.Status) {
				return target, nil
			}
			slog.Info("ignored reply to answered request",
				"chat_id", chatID, "request_id", target.ID, "status", target.Status)
			return nil, nil
		}
		// Reply target was never tracked; fall through to LIFO matching.
	}

	latest, err := l.store.GetRequest(ctx, &store.FindRequest{
		ChatID:   &chatID,
		Statuses: []store.RequestStatus{store.StatusPending},
		Order:    store.OrderNewestFirst,
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// ListPendingFIFO returns the chat's pending requests oldest-first, the
// ordering operational views expect.
func (l *Lifecycle) ListPendingFIFO(ctx context.Context, chatID int64) ([]*store.Request, error) {
	return l.store.ListRequests(ctx, &store.FindRequest{
		ChatID:   &chatID,
		Statuses: []store.RequestStatus{store.StatusPending},
		Order:    store.OrderOldestFirst,
	})
}
