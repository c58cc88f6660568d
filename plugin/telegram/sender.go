package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	// Telegram caps bots at roughly 30 messages per second overall.
	sendsPerSecond = 25
	sendTimeout    = 5 * time.Second
	sendAttempts   = 3
)

// Sender delivers alert texts with a global rate limit and bounded retry.
// The alert-dispatch queue handles longer-horizon retry; the in-process
// retry here only smooths over transient 429s without burning a queue
// attempt.
type Sender struct {
	bot     *Bot
	limiter *rate.Limiter
}

func NewSender(bot *Bot) *Sender {
	return &Sender{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), sendsPerSecond),
	}
}

// SendText delivers one plain-text message to a Telegram user or chat ID.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = s.sendOnce(ctx, chatID, text)
		if lastErr == nil {
			return nil
		}

		wait := retryAfter(lastErr)
		if wait == 0 {
			break
		}
		slog.Warn("telegram send throttled, retrying",
			"chat_id", chatID, "attempt", attempt, "retry_after", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("failed to send telegram message to %d: %w", chatID, lastErr)
}

func (s *Sender) sendOnce(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := tgbotapi.NewMessage(chatID, text)
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.api.Send(msg)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// retryAfter extracts the server-mandated pause from a 429 response; other
// errors return 0 and surface to the queue for its own backoff.
func retryAfter(err error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}
