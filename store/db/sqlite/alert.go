package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/replywatch/replywatch/store"
)

// CreateAlert inserts the alert unless one with the same (request_id, level,
// alert_type) already exists, mirroring the postgres driver's ON CONFLICT
// behaviour with INSERT OR IGNORE.
func (d *DB) CreateAlert(ctx context.Context, create *store.Alert) (bool, error) {
	if create.SentAt.IsZero() {
		create.SentAt = time.Now()
	}
	recipients, err := encodeList(create.Recipients)
	if err != nil {
		return false, err
	}
	stmt := `INSERT OR IGNORE INTO alert (id, request_id, alert_type, level, minutes_elapsed, sent_at, recipients)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.RequestID, create.AlertType, create.Level, create.MinutesElapsed,
		create.SentAt, recipients)
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
		where, args = append(where, "a.request_id = ?"), append(args, *find.RequestID)
	}
	if find.AlertType != nil {
		where, args = append(where, "a.alert_type = ?"), append(args, string(*find.AlertType))
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
		var recipients string
		if err := rows.Scan(&a.ID, &a.RequestID, &a.AlertType, &a.Level, &a.MinutesElapsed, &a.SentAt, &recipients,
			&a.ResolvedAction, &a.ResolutionNotes, &a.AcknowledgedAt, &a.AcknowledgedBy); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if err := decodeList(recipients, &a.Recipients); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (d *DB) MaxAlertLevel(ctx context.Context, requestID string, alertType store.AlertType) (int, error) {
	var level int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(level), 0) FROM alert WHERE request_id = ? AND alert_type = ?`,
		requestID, string(alertType)).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("failed to read max alert level: %w", err)
	}
	return level, nil
}

func (d *DB) ResolveAlert(ctx context.Context, resolve *store.ResolveAlert) error {
	stmt := `UPDATE alert SET resolved_action = ?, resolution_notes = ?, acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ?`
	if _, err := d.db.ExecContext(ctx, stmt,
		resolve.ResolvedAction, resolve.ResolutionNotes, time.Now(), resolve.AcknowledgedBy, resolve.ID); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	return nil
}
