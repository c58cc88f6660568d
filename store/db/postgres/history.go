package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/replywatch/replywatch/store"
)

func (d *DB) CreateRequestHistory(ctx context.Context, entries []*store.RequestHistory) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*6)
	for _, e := range entries {
		base := len(args)
		values = append(values, fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s)",
			placeholder(base+1), placeholder(base+2), placeholder(base+3), placeholder(base+4),
			placeholder(base+5), placeholder(base+6), placeholder(base+7)))
		args = append(args, e.RequestID, e.Field, e.OldValue, e.NewValue, e.ChangedBy, e.Reason, e.ChangedAt)
	}

	stmt := `INSERT INTO request_history (request_id, field, old_value, new_value, changed_by, reason, changed_at)
		VALUES ` + strings.Join(values, ", ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to insert request history: %w", err)
	}
	return nil
}

func (d *DB) ListRequestHistory(ctx context.Context, requestID string) ([]*store.RequestHistory, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, request_id, field, old_value, new_value, changed_by, reason, changed_at
		FROM request_history WHERE request_id = $1 ORDER BY changed_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list request history: %w", err)
	}
	defer rows.Close()

	list := make([]*store.RequestHistory, 0)
	for rows.Next() {
		h := &store.RequestHistory{}
		if err := rows.Scan(&h.ID, &h.RequestID, &h.Field, &h.OldValue, &h.NewValue, &h.ChangedBy, &h.Reason, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request history: %w", err)
		}
		list = append(list, h)
	}
	return list, rows.Err()
}
