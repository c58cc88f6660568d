package sla

import (
	"context"
	"log/slog"
	"time"

	"github.com/replywatch/replywatch/metrics"
	"github.com/replywatch/replywatch/queue"
	"github.com/replywatch/replywatch/store"
)

// JobQueue is the slice of the queue manager the timer service needs.
// *queue.Manager satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, id, queueName string, payload any, opts queue.Options) error
	Cancel(ctx context.Context, id string) (bool, error)
}

// TimerPayload is the JSON body of sla-timer jobs. ThresholdMinutes is the
// working-minute budget the firing checks against: the full threshold for
// breach jobs, the warning fraction for warn jobs.
type TimerPayload struct {
	RequestID        string          `json:"requestId"`
	ChatID           int64           `json:"chatId"`
	AlertType        store.AlertType `json:"alertType"`
	ThresholdMinutes int             `json:"thresholdMinutes"`
}

func timerJobID(requestID string) string { return "timer:" + requestID }
func warnJobID(requestID string) string  { return "warn:" + requestID }

// StopResult reports the outcome of a successful timer stop.
type StopResult struct {
	WorkingMinutes int
	Breached       bool
}

// Timers enrolls requests into the delayed-job queue at creation and cancels
// their jobs when a responder answers.
type Timers struct {
	store    *store.Store
	queue    JobQueue
	resolver *Resolver
	metrics  *metrics.Metrics
}

func NewTimers(s *store.Store, q JobQueue, r *Resolver, m *metrics.Metrics) *Timers {
	return &Timers{store: s, queue: q, resolver: r, metrics: m}
}

// StartSLATimer enqueues the breach job and, when warnings are enabled, the
// warning job. Both job IDs are deterministic per request, so restarting a
// timer supersedes any pending instance: at most one of each is in flight.
func (t *Timers) StartSLATimer(ctx context.Context, req *store.Request, chat *store.Chat) error {
	settings := t.resolver.Settings(ctx)
	threshold := t.resolver.ThresholdFor(chat, settings)
	sched := t.resolver.ScheduleFor(ctx, chat, settings)
	now := time.Now()

	delay := sched.DelayUntilBreach(req.ReceivedAt, threshold, now)
	err := t.queue.Enqueue(ctx, timerJobID(req.ID), queue.QueueSLATimer, &TimerPayload{
		RequestID:        req.ID,
		ChatID:           chat.ID,
		AlertType:        store.AlertTypeBreach,
		ThresholdMinutes: threshold,
	}, queue.Options{Delay: delay, MaxAttempts: 1, RemoveOnComplete: true})
	if err != nil {
		return err
	}

	// slaWarningPercent == 0 disables warnings on the scheduling side; the
	// firing handler guards independently in case settings change in between.
	if settings.SLAWarningPercent > 0 {
		warnThreshold := threshold * settings.SLAWarningPercent / 100
		if warnThreshold > 0 {
			warnDelay := sched.DelayUntilBreach(req.ReceivedAt, warnThreshold, now)
			if err := t.queue.Enqueue(ctx, warnJobID(req.ID), queue.QueueSLATimer, &TimerPayload{
				RequestID:        req.ID,
				ChatID:           chat.ID,
				AlertType:        store.AlertTypeWarning,
				ThresholdMinutes: warnThreshold,
			}, queue.Options{Delay: warnDelay, MaxAttempts: 1, RemoveOnComplete: true}); err != nil {
				return err
			}
		}
	}

	slog.Info("sla timer started",
		"request_id", req.ID, "chat_id", chat.ID,
		"threshold_minutes", threshold, "delay", delay)
	return nil
}

// StopSLATimer cancels both jobs, computes the working-minute response time,
// and atomically claims the request as answered. ErrRaceLost means a competing
// responder (or operator) already answered; the caller exits silently.
func (t *Timers) StopSLATimer(ctx context.Context, lifecycle *Lifecycle, requestID string,
	responseAt time.Time, responseMessageID int, respondedBy *string) (*StopResult, error) {

	req, err := t.store.GetRequest(ctx, &store.FindRequest{ID: &requestID})
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRequestNotFound
	}

	chat, err := t.store.GetChat(ctx, &store.FindChat{ID: &req.ChatID, IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	// Cancellation is best-effort: a job already claimed by a worker will
	// re-check request status and drop itself.
	if _, err := t.queue.Cancel(ctx, timerJobID(requestID)); err != nil {
		slog.Warn("failed to cancel breach timer", "request_id", requestID, "error", err)
	}
	if _, err := t.queue.Cancel(ctx, warnJobID(requestID)); err != nil {
		slog.Warn("failed to cancel warning timer", "request_id", requestID, "error", err)
	}

	settings := t.resolver.Settings(ctx)
	sched := t.resolver.ScheduleFor(ctx, chat, settings)
	minutes := sched.MinutesBetween(req.ReceivedAt, responseAt)
	breached := req.SLABreached || minutes >= t.resolver.ThresholdFor(chat, settings)

	claim := &store.ClaimRequest{
		ID:                  requestID,
		ResponseAt:          &responseAt,
		ResponseMessageID:   &responseMessageID,
		RespondedBy:         respondedBy,
		ResponseTimeMinutes: &minutes,
		SLABreached:         &breached,
	}
	if err := lifecycle.ClaimAnswer(ctx, claim, store.SystemAudit("responder answered")); err != nil {
		return nil, err
	}

	t.metrics.ResponseMinutes(minutes)
	slog.Info("sla timer stopped",
		"request_id", requestID, "working_minutes", minutes, "breached", breached)
	return &StopResult{WorkingMinutes: minutes, Breached: breached}, nil
}
