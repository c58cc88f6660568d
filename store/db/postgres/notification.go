package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/replywatch/replywatch/store"
)

func (d *DB) CreateNotification(ctx context.Context, create *store.Notification) (*store.Notification, error) {
	create.CreatedAt = time.Now()
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO notification (recipient_id, title, body, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		create.RecipientID, create.Title, create.Body, create.RequestID, create.CreatedAt).
		Scan(&create.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return create, nil
}

func (d *DB) ListNotifications(ctx context.Context, find *store.FindNotification) ([]*store.Notification, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RecipientID != nil {
		where, args = append(where, "n.recipient_id = "+placeholder(len(args)+1)), append(args, *find.RecipientID)
	}
	if find.UnreadOnly {
		where = append(where, "n.read_at IS NULL")
	}

	query := `SELECT n.id, n.recipient_id, n.title, n.body, n.request_id, n.created_at, n.read_at
		FROM notification n WHERE ` + strings.Join(where, " AND ") + ` ORDER BY n.created_at DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Notification, 0)
	for rows.Next() {
		n := &store.Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.RequestID, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (d *DB) MarkNotificationRead(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE notification SET read_at = $1 WHERE id = $2 AND read_at IS NULL`, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}
