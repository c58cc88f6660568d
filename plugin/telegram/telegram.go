// Package telegram adapts the Telegram Bot API to the monitoring engine:
// a long-polling ingress loop feeding the pipeline, and a rate-limited
// outbound sender for alert delivery.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/sla"
	"github.com/replywatch/replywatch/store"
)

const pollTimeoutSeconds = 30

// Bot wraps the Telegram API client shared by the poller and the sender.
type Bot struct {
	api *tgbotapi.BotAPI
}

func NewBot(profile *profile.Profile) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(profile.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	api.Debug = profile.IsDev()
	slog.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Bot{api: api}, nil
}

// Poller runs the long-polling update loop.
type Poller struct {
	bot      *Bot
	pipeline *sla.Pipeline
}

func NewPoller(bot *Bot, pipeline *sla.Pipeline) *Poller {
	return &Poller{bot: bot, pipeline: pipeline}
}

// Run consumes updates until ctx is canceled. Updates are handled
// sequentially per poll batch; the pipeline itself never blocks on network
// sends, so one slow chat cannot starve the loop for long.
func (p *Poller) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSeconds
	cfg.AllowedUpdates = []string{"message"}

	updates := p.bot.api.GetUpdatesChan(cfg)
	defer p.bot.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := inboundFromUpdate(&update)
			if msg == nil {
				continue
			}
			p.pipeline.HandleMessage(ctx, msg)
		}
	}
}

// inboundFromUpdate maps a Telegram update onto the platform-neutral inbound
// shape. Non-message updates, bot senders, and empty texts map to nil.
func inboundFromUpdate(update *tgbotapi.Update) *sla.InboundMessage {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return nil
	}
	if m.From.IsBot {
		return nil
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return nil
	}

	msg := &sla.InboundMessage{
		ChatID:    m.Chat.ID,
		ChatKind:  store.ChatKind(m.Chat.Type),
		MessageID: m.MessageID,
		UserID:    m.From.ID,
		Username:  m.From.UserName,
		Text:      text,
		SentAt:    time.Unix(int64(m.Date), 0),
	}
	if m.ReplyToMessage != nil {
		replyTo := m.ReplyToMessage.MessageID
		msg.ReplyToMessageID = &replyTo
	}
	return msg
}
