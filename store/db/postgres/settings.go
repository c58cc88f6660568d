package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/replywatch/replywatch/store"
)

func (d *DB) GetGlobalSettings(ctx context.Context) (*store.GlobalSettings, error) {
	s := &store.GlobalSettings{}
	var days pq.Int64Array
	var managers pq.StringArray
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

	s.WorkingDays = make([]int, len(days))
	for i, v := range days {
		s.WorkingDays[i] = int(v)
	}
	s.GlobalManagerIDs = managers
	return s, nil
}

func (d *DB) UpsertGlobalSettings(ctx context.Context, settings *store.GlobalSettings) error {
	days := make([]int64, len(settings.WorkingDays))
	for i, v := range settings.WorkingDays {
		days[i] = int64(v)
	}
	stmt := `INSERT INTO global_settings (id, timezone, working_days, start_time, end_time, default_sla_threshold,
			max_escalations, escalation_interval_min, sla_warning_percent, global_manager_ids, ai_confidence_threshold)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			working_days = EXCLUDED.working_days,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			default_sla_threshold = EXCLUDED.default_sla_threshold,
			max_escalations = EXCLUDED.max_escalations,
			escalation_interval_min = EXCLUDED.escalation_interval_min,
			sla_warning_percent = EXCLUDED.sla_warning_percent,
			global_manager_ids = EXCLUDED.global_manager_ids,
			ai_confidence_threshold = EXCLUDED.ai_confidence_threshold`
	if _, err := d.db.ExecContext(ctx, stmt,
		settings.Timezone, pq.Array(days), settings.StartTime, settings.EndTime, settings.DefaultSLAThreshold,
		settings.MaxEscalations, settings.EscalationIntervalMin, settings.SLAWarningPercent,
		pq.Array(settings.GlobalManagerIDs), settings.AIConfidenceThreshold); err != nil {
		return fmt.Errorf("failed to upsert global settings: %w", err)
	}
	return nil
}

func (d *DB) ListWorkSchedules(ctx context.Context, chatID int64) ([]*store.WorkSchedule, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, chat_id, day_of_week, start_time, end_time, timezone, is_active
		FROM work_schedule WHERE chat_id = $1 ORDER BY day_of_week`, chatID)
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
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO work_schedule (chat_id, day_of_week, start_time, end_time, timezone, is_active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		create.ChatID, create.DayOfWeek, create.StartTime, create.EndTime, create.Timezone, create.IsActive).
		Scan(&create.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create work schedule: %w", err)
	}
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
		`INSERT INTO holiday (date, name) VALUES ($1, $2) ON CONFLICT (date) DO NOTHING`,
		create.Date, create.Name); err != nil {
		return fmt.Errorf("failed to create holiday: %w", err)
	}
	return nil
}
