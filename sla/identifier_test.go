package sla

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch/store"
)

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func TestFold(t *testing.T) {
	require.Equal(t, "anna_books", fold("@Anna_Books"))
	require.Equal(t, "anna_books", fold("anna_books"))
	require.Equal(t, "", fold("@"))
}

func TestIdentifyPrecedence(t *testing.T) {
	assigned := &store.Accountant{
		ID:               "acc-uuid-1",
		TelegramID:       i64Ptr(500),
		TelegramUsername: strPtr("@Lead_Accountant"),
	}
	chat := &store.Chat{
		ID:                    -100200,
		AccountantTelegramIDs: []int64{101, 102},
		AccountantUsernames:   []string{"@Anna_Books", "petrov"},
		AccountantUsername:    strPtr("@Legacy_One"),
		AssignedAccountant:    assigned,
	}

	t.Run("id set matches without accountant uuid", func(t *testing.T) {
		got := identify(chat, 101, "")
		require.True(t, got.IsAccountant)
		require.Nil(t, got.AccountantID)
	})

	t.Run("assigned id yields the accountant uuid", func(t *testing.T) {
		got := identify(chat, 500, "")
		require.True(t, got.IsAccountant)
		require.NotNil(t, got.AccountantID)
		require.Equal(t, "acc-uuid-1", *got.AccountantID)
	})

	t.Run("id set outranks assigned id", func(t *testing.T) {
		both := &store.Chat{
			AccountantTelegramIDs: []int64{500},
			AssignedAccountant:    assigned,
		}
		got := identify(both, 500, "")
		require.True(t, got.IsAccountant)
		require.Nil(t, got.AccountantID, "the higher-priority ID-set rule wins")
	})

	t.Run("username set matches case-insensitively", func(t *testing.T) {
		got := identify(chat, 999, "ANNA_books")
		require.True(t, got.IsAccountant)
		require.Nil(t, got.AccountantID)
	})

	t.Run("legacy single username matches", func(t *testing.T) {
		got := identify(chat, 999, "legacy_one")
		require.True(t, got.IsAccountant)
	})

	t.Run("assigned username yields the accountant uuid", func(t *testing.T) {
		got := identify(chat, 999, "lead_accountant")
		require.True(t, got.IsAccountant)
		require.Equal(t, "acc-uuid-1", *got.AccountantID)
	})

	t.Run("unmatched sender is a client", func(t *testing.T) {
		got := identify(chat, 999, "random_client")
		require.False(t, got.IsAccountant)
	})

	t.Run("missing username skips username rules", func(t *testing.T) {
		got := identify(chat, 999, "")
		require.False(t, got.IsAccountant)
	})
}

func TestIsAccountantForChatFailClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("store failure treats sender as client", func(t *testing.T) {
		d := newFakeDriver()
		d.failGetChat = errors.New("connection reset")
		id := NewIdentifier(newFakeStore(d))
		got := id.IsAccountantForChat(ctx, -1, "anna", 101)
		require.False(t, got.IsAccountant)
	})

	t.Run("missing chat treats sender as client", func(t *testing.T) {
		id := NewIdentifier(newFakeStore(newFakeDriver()))
		got := id.IsAccountantForChat(ctx, -1, "anna", 101)
		require.False(t, got.IsAccountant)
	})

	t.Run("loaded chat applies the rule list", func(t *testing.T) {
		d := newFakeDriver()
		d.chats[-5] = &store.Chat{ID: -5, AccountantTelegramIDs: []int64{101}}
		id := NewIdentifier(newFakeStore(d))
		require.True(t, id.IsAccountantForChat(ctx, -5, "", 101).IsAccountant)
	})
}
