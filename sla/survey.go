package sla

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replywatch/replywatch/queue"
	"github.com/replywatch/replywatch/store"
)

// SurveyPayload is the JSON body of survey jobs: one per chat per quarter.
type SurveyPayload struct {
	ChatID int64  `json:"chatId"`
	Period string `json:"period"` // e.g. "2026Q3"
}

const surveyText = "Hi! Once a quarter we ask how our accounting support is doing. " +
	"Please rate the responsiveness and quality of answers in this chat from 1 to 5, " +
	"and add a comment if anything should improve. Thank you!"

// Surveys runs the quarterly client-satisfaction campaign. The cron trigger
// fans one job per monitored chat onto the survey queue; job IDs are
// deterministic per chat and quarter, so a restart on campaign day replaces
// pending sends instead of duplicating them.
type Surveys struct {
	store  *store.Store
	queue  JobQueue
	sender Sender
}

func NewSurveys(s *store.Store, q JobQueue, sender Sender) *Surveys {
	return &Surveys{store: s, queue: q, sender: sender}
}

func surveyJobID(chatID int64, period string) string {
	return fmt.Sprintf("survey:%d:%s", chatID, period)
}

func quarterOf(t time.Time) string {
	return fmt.Sprintf("%dQ%d", t.Year(), (int(t.Month())-1)/3+1)
}

// EnqueueCampaign schedules one survey job per monitored chat for the current
// quarter.
func (s *Surveys) EnqueueCampaign(ctx context.Context) error {
	chats, err := s.store.ListChats(ctx, &store.FindChat{MonitoringOnly: true})
	if err != nil {
		return fmt.Errorf("failed to list chats for survey campaign: %w", err)
	}

	period := quarterOf(time.Now())
	enqueued := 0
	for _, chat := range chats {
		err := s.queue.Enqueue(ctx, surveyJobID(chat.ID, period), queue.QueueSurvey,
			&SurveyPayload{ChatID: chat.ID, Period: period},
			queue.Options{MaxAttempts: 3, Backoff: 30 * time.Second, RemoveOnComplete: true})
		if err != nil {
			slog.Warn("failed to enqueue survey", "chat_id", chat.ID, "error", err)
			continue
		}
		enqueued++
	}
	slog.Info("survey campaign enqueued", "period", period, "chats", enqueued)
	return nil
}

// HandleSurvey is the survey queue handler: deliver one satisfaction prompt.
func (s *Surveys) HandleSurvey(ctx context.Context, job *store.Job) error {
	var payload SurveyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode survey payload: %w", err)
	}

	chat, err := s.store.GetChat(ctx, &store.FindChat{ID: &payload.ChatID})
	if err != nil {
		return err
	}
	if chat == nil || !chat.MonitoringEnabled {
		// The chat left the roster between campaign start and delivery.
		return nil
	}

	if err := s.sender.SendText(ctx, chat.ID, surveyText); err != nil {
		return fmt.Errorf("failed to deliver survey to chat %d: %w", chat.ID, err)
	}
	slog.Info("survey delivered", "chat_id", chat.ID, "period", payload.Period)
	return nil
}
