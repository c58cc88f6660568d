package sla

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/replywatch/replywatch/metrics"
	"github.com/replywatch/replywatch/queue"
	"github.com/replywatch/replywatch/store"
)

// Sender delivers outbound platform messages. The telegram plugin implements
// it with its own rate limiting and retry.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// DispatchPayload is the JSON body of alert-dispatch jobs: one per recipient.
type DispatchPayload struct {
	AlertID   string          `json:"alertId"`
	RequestID string          `json:"requestId"`
	ChatID    int64           `json:"chatId"`
	Recipient string          `json:"recipient"` // platform user/chat ID, string-encoded
	AlertType store.AlertType `json:"alertType"`
	Level     int             `json:"level"`
	Text      string          `json:"text"`
}

// BreachWorker handles sla-timer firings: it re-checks freshness against the
// database, records the Alert, fans out dispatch jobs, and re-arms the next
// escalation.
type BreachWorker struct {
	store    *store.Store
	queue    JobQueue
	resolver *Resolver
	sender   Sender
	metrics  *metrics.Metrics
}

func NewBreachWorker(s *store.Store, q JobQueue, r *Resolver, sender Sender, m *metrics.Metrics) *BreachWorker {
	return &BreachWorker{store: s, queue: q, resolver: r, sender: sender, metrics: m}
}

// HandleTimer is the sla-timer queue handler.
func (w *BreachWorker) HandleTimer(ctx context.Context, job *store.Job) error {
	var payload TimerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode timer payload: %w", err)
	}
	logger := slog.With("request_id", payload.RequestID, "alert_type", payload.AlertType)

	// Freshness re-check: the job may have outlived its request.
	req, err := w.store.GetRequest(ctx, &store.FindRequest{ID: &payload.RequestID})
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	if !IsClaimable(req.Status) {
		logger.Debug("timer fired for settled request, dropping", "status", req.Status)
		return nil
	}

	chat, err := w.store.GetChat(ctx, &store.FindChat{ID: &req.ChatID})
	if err != nil {
		return err
	}
	if chat == nil {
		return nil
	}

	settings := w.resolver.Settings(ctx)
	if payload.AlertType == store.AlertTypeWarning && settings.SLAWarningPercent == 0 {
		// Warnings were disabled after this job was enqueued.
		return nil
	}

	sched := w.resolver.ScheduleFor(ctx, chat, settings)
	now := time.Now()
	elapsed := sched.MinutesBetween(req.ReceivedAt, now)

	// A schedule or threshold edit can make a fired job early. Push it out to
	// the recomputed breach instant instead of alerting prematurely.
	if elapsed < payload.ThresholdMinutes {
		delay := sched.DelayUntilBreach(req.ReceivedAt, payload.ThresholdMinutes, now)
		logger.Info("timer fired early, re-enqueueing", "elapsed", elapsed,
			"threshold", payload.ThresholdMinutes, "delay", delay)
		return w.queue.Enqueue(ctx, job.ID, queue.QueueSLATimer, &payload,
			queue.Options{Delay: delay, MaxAttempts: 1, RemoveOnComplete: true})
	}

	maxLevel, err := w.store.MaxAlertLevel(ctx, req.ID, payload.AlertType)
	if err != nil {
		return err
	}
	level := maxLevel + 1

	recipients, tier := RecipientsForLevel(chat, settings, level)

	alertID := uuid.NewString()
	created, err := w.store.CreateAlert(ctx, &store.Alert{
		ID:             alertID,
		RequestID:      req.ID,
		AlertType:      payload.AlertType,
		Level:          level,
		MinutesElapsed: elapsed,
		SentAt:         now,
		Recipients:     recipients,
	})
	if err != nil {
		return err
	}
	if !created {
		// A prior delivery of this firing already recorded the alert.
		logger.Info("duplicate alert suppressed", "level", level)
		return nil
	}
	w.metrics.AlertSent(string(payload.AlertType), level)
	logger.Info("alert recorded", "level", level, "minutes_elapsed", elapsed,
		"recipients", len(recipients), "recipient_tier", tier)

	text := alertText(chat, req, payload.AlertType, level, elapsed)
	for _, recipient := range recipients {
		if err := w.enqueueDispatch(ctx, &DispatchPayload{
			AlertID:   alertID,
			RequestID: req.ID,
			ChatID:    chat.ID,
			Recipient: recipient,
			AlertType: payload.AlertType,
			Level:     level,
			Text:      text,
		}); err != nil {
			logger.Warn("failed to enqueue dispatch", "recipient", recipient, "error", err)
		}
	}

	if payload.AlertType == store.AlertTypeBreach {
		breached := true
		if _, err := w.store.UpdateRequestWithAudit(ctx,
			&store.UpdateRequest{ID: req.ID, SLABreached: &breached},
			store.SystemAudit(fmt.Sprintf("sla breach level %d", level))); err != nil {
			return err
		}

		// Re-arm the next escalation in working time, not wall-clock time. The
		// payload threshold carries the full budget up to the next level, so an
		// early firing after a schedule edit is pushed back to the true instant.
		if level < settings.MaxEscalations {
			target := sched.AddMinutes(now, settings.EscalationIntervalMin)
			next := payload
			next.ThresholdMinutes = elapsed + settings.EscalationIntervalMin
			if err := w.queue.Enqueue(ctx, timerJobID(req.ID), queue.QueueSLATimer, &next,
				queue.Options{Delay: target.Sub(now), MaxAttempts: 1, RemoveOnComplete: true}); err != nil {
				return err
			}
			logger.Info("escalation re-armed", "next_level", level+1, "fire_at", target)
		}

		if chat.NotifyInChatOnBreach {
			if err := w.enqueueDispatch(ctx, &DispatchPayload{
				AlertID:   alertID,
				RequestID: req.ID,
				ChatID:    chat.ID,
				Recipient: strconv.FormatInt(chat.ID, 10),
				AlertType: payload.AlertType,
				Level:     level,
				Text:      text,
			}); err != nil {
				logger.Warn("failed to enqueue in-chat notification", "error", err)
			}
		}
	}

	return nil
}

func (w *BreachWorker) enqueueDispatch(ctx context.Context, payload *DispatchPayload) error {
	id := "dispatch:" + shortuuid.New()
	return w.queue.Enqueue(ctx, id, queue.QueueAlertDispatch, payload, queue.Options{
		MaxAttempts:      3,
		Backoff:          2 * time.Second,
		RemoveOnComplete: true,
	})
}

// HandleDispatch is the alert-dispatch queue handler: deliver one platform
// message and record the matching in-app notification row.
func (w *BreachWorker) HandleDispatch(ctx context.Context, job *store.Job) error {
	var payload DispatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode dispatch payload: %w", err)
	}

	target, err := strconv.ParseInt(payload.Recipient, 10, 64)
	if err != nil {
		slog.Warn("dispatch recipient is not a platform ID, skipping",
			"recipient", payload.Recipient, "alert_id", payload.AlertID)
		return nil
	}

	if err := w.sender.SendText(ctx, target, payload.Text); err != nil {
		return fmt.Errorf("failed to deliver alert %s to %s: %w", payload.AlertID, payload.Recipient, err)
	}

	if _, err := w.store.CreateNotification(ctx, &store.Notification{
		RecipientID: payload.Recipient,
		Title:       fmt.Sprintf("SLA %s (level %d)", payload.AlertType, payload.Level),
		Body:        payload.Text,
		RequestID:   &payload.RequestID,
	}); err != nil {
		slog.Warn("failed to record in-app notification",
			"alert_id", payload.AlertID, "recipient", payload.Recipient, "error", err)
	}
	return nil
}

func alertText(chat *store.Chat, req *store.Request, alertType store.AlertType, level, elapsed int) string {
	title := strconv.FormatInt(chat.ID, 10)
	if chat.Title != nil && *chat.Title != "" {
		title = *chat.Title
	}
	preview := req.MessageText
	// Truncate on a rune boundary; a byte slice could split a multi-byte
	// character and ship invalid UTF-8 to the platform.
	if runes := []rune(preview); len(runes) > 200 {
		preview = string(runes[:200]) + "…"
	}
	switch alertType {
	case store.AlertTypeWarning:
		return fmt.Sprintf("⚠️ SLA warning in %q: question unanswered for %d working minutes.\n\n%s",
			title, elapsed, preview)
	default:
		return fmt.Sprintf("🚨 SLA breach (level %d) in %q: question unanswered for %d working minutes.\n\n%s",
			level, title, elapsed, preview)
	}
}
