package sla

import (
	"context"
	"log/slog"
	"strings"

	"github.com/replywatch/replywatch/store"
)

// Identity is the verdict of responder identification.
type Identity struct {
	IsAccountant bool
	// AccountantID is the matched accountant's UUID, known only when the match
	// went through the assigned-accountant row.
	AccountantID *string
}

var notAccountant = Identity{}

// predicate checks one identification rule against the loaded chat. It returns
// the verdict and whether the rule matched; the first matching rule wins.
type predicate struct {
	name  string
	check func(chat *store.Chat, userID int64, username string) (Identity, bool)
}

// predicates are ordered by trust: platform user IDs cannot be spoofed,
// usernames can be reassigned.
var predicates = []predicate{
	{"accountant-id-set", func(chat *store.Chat, userID int64, _ string) (Identity, bool) {
		if userID == 0 {
			return notAccountant, false
		}
		for _, id := range chat.AccountantTelegramIDs {
			if id == userID {
				return Identity{IsAccountant: true}, true
			}
		}
		return notAccountant, false
	}},
	{"assigned-accountant-id", func(chat *store.Chat, userID int64, _ string) (Identity, bool) {
		a := chat.AssignedAccountant
		if userID == 0 || a == nil || a.TelegramID == nil || *a.TelegramID != userID {
			return notAccountant, false
		}
		id := a.ID
		return Identity{IsAccountant: true, AccountantID: &id}, true
	}},
	{"accountant-username-set", func(chat *store.Chat, _ int64, username string) (Identity, bool) {
		if username == "" {
			return notAccountant, false
		}
		folded := fold(username)
		for _, u := range chat.AccountantUsernames {
			if fold(u) == folded {
				return Identity{IsAccountant: true}, true
			}
		}
		if chat.AccountantUsername != nil && fold(*chat.AccountantUsername) == folded {
			return Identity{IsAccountant: true}, true
		}
		return notAccountant, false
	}},
	{"assigned-accountant-username", func(chat *store.Chat, _ int64, username string) (Identity, bool) {
		a := chat.AssignedAccountant
		if username == "" || a == nil || a.TelegramUsername == nil {
			return notAccountant, false
		}
		if fold(*a.TelegramUsername) != fold(username) {
			return notAccountant, false
		}
		id := a.ID
		return Identity{IsAccountant: true, AccountantID: &id}, true
	}},
}

// fold normalizes a username for comparison: strips a leading @ and
// lower-cases.
func fold(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "@"))
}

// Identifier decides whether a message author is an accountant for a chat.
type Identifier struct {
	store *store.Store
}

func NewIdentifier(s *store.Store) *Identifier {
	return &Identifier{store: s}
}

// IsAccountantForChat runs the ordered rule list. Store failure is fail-closed:
// the sender is treated as a client, so an unidentified responder can never
// produce a false "answered" state.
func (i *Identifier) IsAccountantForChat(ctx context.Context, chatID int64, username string, userID int64) Identity {
	chat, err := i.store.GetChat(ctx, &store.FindChat{ID: &chatID, WithAccountant: true})
	if err != nil {
		slog.Error("responder identification failed, treating sender as client",
			"chat_id", chatID, "user_id", userID, "error", err)
		return notAccountant
	}
	if chat == nil {
		return notAccountant
	}
	return identify(chat, userID, username)
}

func identify(chat *store.Chat, userID int64, username string) Identity {
	for _, p := range predicates {
		if identity, ok := p.check(chat, userID, username); ok {
			slog.Debug("responder identified", "chat_id", chat.ID, "user_id", userID, "rule", p.name)
			return identity
		}
	}
	slog.Debug("sender is not an accountant", "chat_id", chat.ID, "user_id", userID)
	return notAccountant
}
