package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/replywatch/replywatch/store"
)

func (d *DB) GetGlobalSettings(ctx context.Context) (*store.GlobalSettings, error) {
	s := &store.GlobalSettings{}
	var days, managers string
	err := d.db.QueryRowContext(ctx,
		`SELECT timezone, working_days, start_time, end_time, default_sla_threshold, max_escalations,
			escalation_interval_min, sla_warning_percent, global_manager_ids, ai_confidence_threshold
		FROM global_settings WHERE id = 1`).
		Scan(&s.Timezone, &days, &s.StartTime, &s.EndTime, &s.DefaultSLAThreshold, &s.MaxEscalations,
			&s.EscalationIntervalMin, &s.SLAWarningPercent, &managers, &s.AIConfidenceThreshold)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global settings: %w", err)
	}

	if err := decodeList(days, &s.WorkingDays); err != nil {
		return nil, err
	}
	if err := decodeList(managers, &s.GlobalManagerIDs); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *DB) UpsertGlobalSettings(ctx context.Context, settings *store.GlobalSettings) error {
	days, err := encodeList(settings.WorkingDays)
	if err != nil {
		return err
	}
	managers, err := encodeList(settings.GlobalManagerIDs)
	if err != nil {
		return err
	}
	stmt := `INSERT INTO global_settings (id, timezone, working_days, start_time, end_time, default_sla_threshold,
			max_escalations, escalation_interval_min, sla_warning_percent, global_manager_ids, ai_confidence_threshold)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			timezone = excluded.timezone,
			working_days = excluded.working_days,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			default_sla_threshold = excluded.default_sla_threshold,
			max_escalations = excluded.max_escalations,
			escalation_interval_min = excluded.escalation_interval_min,
			sla_warning_percent = excluded.sla_warning_percent,
			global_manager_ids = excluded.global_manager_ids,
			ai_confidence_threshold = excluded.ai_confidence_threshold`
	if _, err := d.db.ExecContext(ctx, stmt,
		settings.Timezone, days, settings.StartTime, settings.EndTime, settings.DefaultSLAThreshold,
		settings.MaxEscalations, settings.EscalationIntervalMin, settings.SLAWarningPercent,
		managers, settings.AIConfidenceThreshold); err != nil {
		return fmt.Errorf("failed to upsert global settings: %w", err)
	}
	return nil
}

func (d *DB) ListWorkSchedules(ctx context.Context, chatID int64) ([]*store.WorkSchedule, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, chat_id, day_of_week, start_time, end_time, timezone, is_active
		FROM work_schedule WHERE chat_id = ? ORDER BY day_of_week`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list work schedules: %w", err)
	}
	defer rows.Close()

	list := make([]*store.WorkSchedule, 0)
	for rows.Next() {
		w := &store.WorkSchedule{}
		if err := rows.Scan(&w.ID, &w.ChatID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.Timezone, &w.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan work schedule: %w", err)
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (d *DB) CreateWorkSchedule(ctx context.Context, create *store.WorkSchedule) (*store.WorkSchedule, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO work_schedule (chat_id, day_of_week, start_time, end_time, timezone, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		create.ChatID, create.DayOfWeek, create.StartTime, create.EndTime, create.Timezone, create.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to create work schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read work schedule id: %w", err)
	}
	create.ID = id
	return create, nil
}

func (d *DB) ListHolidays(ctx context.Context) ([]*store.Holiday, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT date, name FROM holiday ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Holiday, 0)
	for rows.Next() {
		h := &store.Holiday{}
		if err := rows.Scan(&h.Date, &h.Name); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

func (d *DB) CreateHoliday(ctx context.Context, create *store.Holiday) error {
	if _, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO holiday (date, name) VALUES (?, ?)`,
		create.Date, create.Name); err != nil {
		return fmt.Errorf("failed to create holiday: %w", err)
	}
	return nil
}
