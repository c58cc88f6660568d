package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/replywatch/replywatch/store"
)

// CreateAlert inserts the alert unless one with the same (request_id, level,
// alert_type) already exists. Re-delivered timer jobs therefore cannot
// multiply alerts.
func (d *DB) CreateAlert(ctx context.Context, create *store.Alert) (bool, error) {
	if create.SentAt.IsZero() {
		create.SentAt = time.Now()
	}
	stmt := `INSERT INTO alert (id, request_id, alert_type, level, minutes_elapsed, sent_at, recipients)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (request_id, level, alert_type) DO NOTHING`
	res, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.RequestID, create.AlertType, create.Level, create.MinutesElapsed,
		create.SentAt, pq.Array(create.Recipients))
	if err != nil {
		return false, fmt.Errorf("failed to create alert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (d *DB) ListAlerts(ctx context.Context, find *store.FindAlert) ([]*store.Alert, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RequestID != nil {
		where, args = append(where, "a.request_id = "+placeholder(len(args)+1)), append(args, *find.RequestID)
	}
	if find.AlertType != nil {
		where, args = append(where, "a.alert_type = "+placeholder(len(args)+1)), append(args, string(*find.AlertType))
	}
	if find.Unresolved {
		where = append(where, "a.resolved_action IS NULL")
	}

	query := `SELECT a.id, a.request_id, a.alert_type, a.level, a.minutes_elapsed, a.sent_at, a.recipients,
			a.resolved_action, a.resolution_notes, a.acknowledged_at, a.acknowledged_by
		FROM alert a WHERE ` + strings.Join(where, " AND ") + ` ORDER BY a.sent_at ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Alert, 0)
	for rows.Next() {
		a := &store.Alert{}
		var recipients pq.StringArray
		if err := rows.Scan(&a.ID, &a.RequestID, &a.AlertType, &a.Level, &a.MinutesElapsed, &a.SentAt, &recipients,
			&a.ResolvedAction, &a.ResolutionNotes, &a.AcknowledgedAt, &a.AcknowledgedBy); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Recipients = recipients
		list = append(list, a)
	}
	return list, rows.Err()
}

func (d *DB) MaxAlertLevel(ctx context.Context, requestID string, alertType store.AlertType) (int, error) {
	var level int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(level), 0) FROM alert WHERE request_id = $1 AND alert_type = $2`,
		requestID, string(alertType)).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("failed to read max alert level: %w", err)
	}
	return level, nil
}

func (d *DB) ResolveAlert(ctx context.Context, resolve *store.ResolveAlert) error {
	stmt := `UPDATE alert SET resolved_action = $1, resolution_notes = $2, acknowledged_at = $3, acknowledged_by = $4
		WHERE id = $5`
	if _, err := d.db.ExecContext(ctx, stmt,
		resolve.ResolvedAction, resolve.ResolutionNotes, time.Now(), resolve.AcknowledgedBy, resolve.ID); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	return nil
}
