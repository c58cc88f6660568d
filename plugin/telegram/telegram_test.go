package telegram

import (
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch/store"
)

func groupUpdate(text string) *tgbotapi.Update {
	return &tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 77,
			Date:      1735725600, // 2025-01-01 10:00:00 UTC
			Text:      text,
			Chat:      &tgbotapi.Chat{ID: -100200, Type: "supergroup"},
			From:      &tgbotapi.User{ID: 900, UserName: "client_one"},
		},
	}
}

func TestInboundFromUpdate(t *testing.T) {
	t.Run("maps a group text message", func(t *testing.T) {
		got := inboundFromUpdate(groupUpdate("where is my invoice?"))
		require.NotNil(t, got)
		require.Equal(t, int64(-100200), got.ChatID)
		require.Equal(t, store.ChatKindSupergroup, got.ChatKind)
		require.Equal(t, 77, got.MessageID)
		require.Equal(t, int64(900), got.UserID)
		require.Equal(t, "client_one", got.Username)
		require.Equal(t, "where is my invoice?", got.Text)
		require.Equal(t, time.Unix(1735725600, 0), got.SentAt)
		require.Nil(t, got.ReplyToMessageID)
	})

	t.Run("carries the reply target", func(t *testing.T) {
		u := groupUpdate("invoice attached")
		u.Message.ReplyToMessage = &tgbotapi.Message{MessageID: 42}
		got := inboundFromUpdate(u)
		require.NotNil(t, got)
		require.NotNil(t, got.ReplyToMessageID)
		require.Equal(t, 42, *got.ReplyToMessageID)
	})

	t.Run("caption stands in for text", func(t *testing.T) {
		u := groupUpdate("")
		u.Message.Caption = "see attached act"
		got := inboundFromUpdate(u)
		require.NotNil(t, got)
		require.Equal(t, "see attached act", got.Text)
	})

	t.Run("drops empty, bot, and non-message updates", func(t *testing.T) {
		require.Nil(t, inboundFromUpdate(&tgbotapi.Update{UpdateID: 1}))
		require.Nil(t, inboundFromUpdate(groupUpdate("")))

		u := groupUpdate("hi")
		u.Message.From.IsBot = true
		require.Nil(t, inboundFromUpdate(u))
	})
}

func TestRetryAfter(t *testing.T) {
	throttled := &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3},
	}
	require.Equal(t, 3*time.Second, retryAfter(throttled))
	require.Equal(t, time.Duration(0), retryAfter(&tgbotapi.Error{Code: 400}))
}
