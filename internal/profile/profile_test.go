package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	longSecret := strings.Repeat("x", MinSecretLength)

	t.Run("defaults sqlite dsn in dev", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite", BotToken: "token"}
		require.NoError(t, p.Validate())
		assert.Equal(t, "replywatch_dev.db", p.DSN)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "postgres", BotToken: "token"}
		assert.Error(t, p.Validate())
	})

	t.Run("unknown driver rejected", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "mysql", DSN: "x", BotToken: "token"}
		assert.Error(t, p.Validate())
	})

	t.Run("missing bot token rejected", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite"}
		assert.Error(t, p.Validate())
	})

	t.Run("prod enforces secret length", func(t *testing.T) {
		p := &Profile{Mode: "prod", Driver: "sqlite", DSN: "x", BotToken: "short"}
		assert.Error(t, p.Validate())

		p.BotToken = longSecret
		require.NoError(t, p.Validate())

		p.ClassifierAPIKey = "short"
		assert.Error(t, p.Validate())

		p.ClassifierAPIKey = longSecret
		assert.NoError(t, p.Validate())
	})

	t.Run("unknown mode falls back to dev", func(t *testing.T) {
		p := &Profile{Mode: "demo", Driver: "sqlite", DSN: "x", BotToken: "token"}
		require.NoError(t, p.Validate())
		assert.Equal(t, "dev", p.Mode)
		assert.True(t, p.IsDev())
	})

	t.Run("zero timeouts get defaults", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite", DSN: "x", BotToken: "token"}
		require.NoError(t, p.Validate())
		assert.Equal(t, 10, p.ClassifierTimeout)
		assert.Equal(t, 30, p.QueueGraceSecs)
	})
}
