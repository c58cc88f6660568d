package sla

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/replywatch/replywatch/classifier"
	"github.com/replywatch/replywatch/metrics"
	"github.com/replywatch/replywatch/store"
)

// InboundMessage is the platform-neutral shape of one delivered text message.
type InboundMessage struct {
	ChatID           int64
	ChatKind         store.ChatKind
	MessageID        int
	UserID           int64
	Username         string
	Text             string
	ReplyToMessageID *int
	SentAt           time.Time
}

// contextWindow is how many recent chat messages accompany a classification.
const contextWindow = 5

// Pipeline is the per-message ingress handler. It never propagates an error
// to the platform adapter: a leaked error would make the adapter retry the
// delivery and double-process the message.
type Pipeline struct {
	store      *store.Store
	classifier classifier.Classifier
	lifecycle  *Lifecycle
	timers     *Timers
	metrics    *metrics.Metrics
}

// NewPipeline wires the ingress handler. Responder identification runs against
// the chat row the pipeline already loads, so no separate identifier is taken.
func NewPipeline(s *store.Store, c classifier.Classifier, l *Lifecycle, t *Timers, m *metrics.Metrics) *Pipeline {
	return &Pipeline{store: s, classifier: c, lifecycle: l, timers: t, metrics: m}
}

// HandleMessage processes one inbound message end to end.
func (p *Pipeline) HandleMessage(ctx context.Context, msg *InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ingress pipeline panic",
				"chat_id", msg.ChatID, "message_id", msg.MessageID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	if msg.ChatKind != store.ChatKindGroup && msg.ChatKind != store.ChatKindSupergroup {
		return
	}

	logger := slog.With("chat_id", msg.ChatID, "message_id", msg.MessageID)

	chat, err := p.store.GetChat(ctx, &store.FindChat{ID: &msg.ChatID, WithAccountant: true})
	if err != nil {
		logger.Error("failed to load chat", "error", err)
		return
	}
	if chat == nil || chat.Deleted() || !chat.MonitoringEnabled {
		p.metrics.MessageProcessed("skipped")
		return
	}

	identity := identify(chat, msg.UserID, msg.Username)

	// Raw message log is observability only; its failure never aborts.
	var messageRowID int64
	stored, err := p.store.CreateChatMessage(ctx, &store.ChatMessage{
		ChatID:         msg.ChatID,
		MessageID:      msg.MessageID,
		SenderID:       msg.UserID,
		SenderUsername: optional(msg.Username),
		Text:           msg.Text,
		IsAccountant:   identity.IsAccountant,
		SentAt:         msg.SentAt,
	})
	if err != nil {
		logger.Warn("failed to persist chat message", "error", err)
	} else {
		messageRowID = stored.ID
	}

	if identity.IsAccountant {
		p.handleResponder(ctx, logger, msg, identity, messageRowID)
		p.metrics.MessageProcessed("responder")
		return
	}
	p.handleClient(ctx, logger, chat, msg, messageRowID)
	p.metrics.MessageProcessed("client")
}

func (p *Pipeline) handleResponder(ctx context.Context, logger *slog.Logger,
	msg *InboundMessage, identity Identity, messageRowID int64) {

	target, err := p.lifecycle.MatchResponse(ctx, msg.ChatID, msg.ReplyToMessageID)
	if err != nil {
		logger.Error("failed to match response", "error", err)
		return
	}
	if target == nil {
		return
	}

	_, err = p.timers.StopSLATimer(ctx, p.lifecycle, target.ID, msg.SentAt, msg.MessageID, identity.AccountantID)
	if errors.Is(err, ErrRaceLost) {
		// A competing responder answered first; nothing left to do.
		return
	}
	if err != nil {
		logger.Error("failed to stop sla timer", "request_id", target.ID, "error", err)
		return
	}

	if messageRowID != 0 {
		if err := p.store.AttachRequestToChatMessage(ctx, messageRowID, target.ID); err != nil {
			logger.Warn("failed to annotate response message", "request_id", target.ID, "error", err)
		}
	}
}

func (p *Pipeline) handleClient(ctx context.Context, logger *slog.Logger,
	chat *store.Chat, msg *InboundMessage, messageRowID int64) {

	result, err := p.classifier.Classify(ctx, msg.Text, p.recentContext(ctx, msg.ChatID, msg.MessageID))
	if err != nil {
		p.metrics.ClassifierError()
		logger.Warn("classification failed, dropping message", "error", err)
		return
	}

	settings := p.timers.resolver.Settings(ctx)
	if result.Confidence < settings.AIConfidenceThreshold {
		logger.Info("low-confidence classification",
			"classification", result.Classification, "confidence", result.Confidence)
	}

	if result.Classification == store.ClassificationSpam || result.Classification == store.ClassificationGratitude {
		logger.Debug("message classified, no request opened", "classification", result.Classification)
		return
	}

	req := &store.Request{
		ID:                  uuid.NewString(),
		ChatID:              msg.ChatID,
		MessageID:           msg.MessageID,
		MessageText:         msg.Text,
		ClientUsername:      optional(msg.Username),
		Classification:      result.Classification,
		ClassificationScore: result.Confidence,
		Status:              store.StatusPending,
		ReceivedAt:          msg.SentAt,
	}
	if result.Classification == store.ClassificationClarification {
		// Clarifications are tracked but born settled: no timer, zero
		// response time.
		zero := 0
		req.Status = store.StatusAnswered
		req.ResponseAt = &msg.SentAt
		req.ResponseTimeMinutes = &zero
	}

	if _, err := p.store.CreateRequest(ctx, req); err != nil {
		logger.Error("failed to create request", "error", err)
		return
	}
	p.metrics.RequestCreated(string(result.Classification))
	logger.Info("request created",
		"request_id", req.ID, "classification", result.Classification, "confidence", result.Confidence)

	if messageRowID != 0 {
		if err := p.store.AttachRequestToChatMessage(ctx, messageRowID, req.ID); err != nil {
			logger.Warn("failed to annotate client message", "request_id", req.ID, "error", err)
		}
	}

	if req.Status == store.StatusPending && chat.SLAEnabled {
		if err := p.timers.StartSLATimer(ctx, req, chat); err != nil {
			logger.Error("failed to start sla timer", "request_id", req.ID, "error", err)
		}
	}
}

// recentContext returns the last few stored messages of the chat, oldest
// first, excluding the one being classified.
func (p *Pipeline) recentContext(ctx context.Context, chatID int64, excludeMessageID int) []string {
	limit := contextWindow + 1
	rows, err := p.store.ListChatMessages(ctx, &store.FindChatMessage{ChatID: &chatID, Limit: &limit})
	if err != nil {
		slog.Debug("failed to load classification context", "chat_id", chatID, "error", err)
		return nil
	}

	texts := make([]string, 0, contextWindow)
	// Rows arrive newest-first; walk backwards to restore chat order.
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].MessageID == excludeMessageID || rows[i].Text == "" {
			continue
		}
		texts = append(texts, rows[i].Text)
	}
	if len(texts) > contextWindow {
		texts = texts[len(texts)-contextWindow:]
	}
	return texts
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
