package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/replywatch/replywatch/store"
)

func (d *DB) CreateChatMessage(ctx context.Context, create *store.ChatMessage) (*store.ChatMessage, error) {
	if create.SentAt.IsZero() {
		create.SentAt = time.Now()
	}
	stmt := `INSERT INTO chat_message (chat_id, message_id, sender_id, sender_username, text, is_accountant, request_id, sent_at)
		VALUES (` + placeholders(8) + `) RETURNING id`
	err := d.db.QueryRowContext(ctx, stmt,
		create.ChatID, create.MessageID, create.SenderID, create.SenderUsername, create.Text,
		create.IsAccountant, create.RequestID, create.SentAt).Scan(&create.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat message: %w", err)
	}
	return create, nil
}

func (d *DB) ListChatMessages(ctx context.Context, find *store.FindChatMessage) ([]*store.ChatMessage, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "m.chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}

	query := `SELECT m.id, m.chat_id, m.message_id, m.sender_id, m.sender_username, m.text, m.is_accountant, m.request_id, m.sent_at
		FROM chat_message m WHERE ` + strings.Join(where, " AND ") + ` ORDER BY m.sent_at DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ChatMessage, 0)
	for rows.Next() {
		m := &store.ChatMessage{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MessageID, &m.SenderID, &m.SenderUsername, &m.Text,
			&m.IsAccountant, &m.RequestID, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// PurgeChatMessages deletes raw log rows older than the cutoff. Rows linked
// to a request stay for the audit trail.
func (d *DB) PurgeChatMessages(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM chat_message WHERE sent_at < $1 AND request_id IS NULL`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge chat messages: %w", err)
	}
	return res.RowsAffected()
}

func (d *DB) AttachRequestToChatMessage(ctx context.Context, messageRowID int64, requestID string) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE chat_message SET request_id = $1 WHERE id = $2`, requestID, messageRowID); err != nil {
		return fmt.Errorf("failed to attach request to chat message: %w", err)
	}
	return nil
}
