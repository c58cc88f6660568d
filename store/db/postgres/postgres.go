// Package postgres implements the store driver on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a connection pool against the configured DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Bounded pool: every engine operation is short-lived, so a small pool
	// keeps pressure on the database predictable.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the n-th positional parameter, e.g. "$3".
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accountant (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		telegram_id BIGINT,
		telegram_username TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chat (
		id BIGINT PRIMARY KEY,
		title TEXT,
		kind TEXT NOT NULL DEFAULT 'group',
		monitoring_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		sla_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		notify_in_chat_on_breach BOOLEAN NOT NULL DEFAULT FALSE,
		is_24x7 BOOLEAN NOT NULL DEFAULT FALSE,
		sla_threshold_minutes INTEGER,
		client_tier TEXT,
		accountant_telegram_ids BIGINT[] NOT NULL DEFAULT '{}',
		accountant_usernames TEXT[] NOT NULL DEFAULT '{}',
		accountant_username TEXT,
		assigned_accountant_id TEXT REFERENCES accountant (id),
		manager_telegram_ids TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS request (
		id TEXT PRIMARY KEY,
		chat_id BIGINT NOT NULL REFERENCES chat (id),
		message_id INTEGER NOT NULL,
		message_text TEXT NOT NULL DEFAULT '',
		client_username TEXT,
		classification TEXT NOT NULL,
		classification_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		received_at TIMESTAMPTZ NOT NULL,
		response_at TIMESTAMPTZ,
		response_message_id INTEGER,
		responded_by TEXT,
		response_time_minutes INTEGER,
		sla_breached BOOLEAN NOT NULL DEFAULT FALSE,
		assigned_to TEXT,
		thread_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_chat_message ON request (chat_id, message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_request_chat_received ON request (chat_id, received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_request_open_status ON request (status)
		WHERE status NOT IN ('answered', 'closed')`,
	`CREATE TABLE IF NOT EXISTS alert (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES request (id),
		alert_type TEXT NOT NULL,
		level INTEGER NOT NULL,
		minutes_elapsed INTEGER NOT NULL DEFAULT 0,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		recipients TEXT[] NOT NULL DEFAULT '{}',
		resolved_action TEXT,
		resolution_notes TEXT,
		acknowledged_at TIMESTAMPTZ,
		acknowledged_by TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_dedup ON alert (request_id, level, alert_type)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
		id BIGSERIAL PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		message_id INTEGER NOT NULL,
		sender_id BIGINT NOT NULL,
		sender_username TEXT,
		text TEXT NOT NULL DEFAULT '',
		is_accountant BOOLEAN NOT NULL DEFAULT FALSE,
		request_id TEXT,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_message_chat ON chat_message (chat_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS global_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		timezone TEXT NOT NULL DEFAULT 'Europe/Moscow',
		working_days INTEGER[] NOT NULL DEFAULT '{1,2,3,4,5}',
		start_time TEXT NOT NULL DEFAULT '09:00',
		end_time TEXT NOT NULL DEFAULT '18:00',
		default_sla_threshold INTEGER NOT NULL DEFAULT 60,
		max_escalations INTEGER NOT NULL DEFAULT 3,
		escalation_interval_min INTEGER NOT NULL DEFAULT 30,
		sla_warning_percent INTEGER NOT NULL DEFAULT 80,
		global_manager_ids TEXT[] NOT NULL DEFAULT '{}',
		ai_confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.6
	)`,
	`CREATE TABLE IF NOT EXISTS work_schedule (
		id BIGSERIAL PRIMARY KEY,
		chat_id BIGINT NOT NULL REFERENCES chat (id),
		day_of_week INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'Europe/Moscow',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS holiday (
		date TEXT PRIMARY KEY,
		name TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS request_history (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		changed_by TEXT NOT NULL DEFAULT 'system',
		reason TEXT NOT NULL DEFAULT '',
		changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_history_request ON request_history (request_id, changed_at)`,
	`CREATE TABLE IF NOT EXISTS job (
		id TEXT PRIMARY KEY,
		queue TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		run_at TIMESTAMPTZ NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		backoff_millis BIGINT NOT NULL DEFAULT 0,
		remove_on_complete BOOLEAN NOT NULL DEFAULT TRUE,
		remove_on_fail BOOLEAN NOT NULL DEFAULT FALSE,
		state TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_due ON job (queue, state, run_at)`,
	`CREATE TABLE IF NOT EXISTS notification (
		id BIGSERIAL PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		request_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		read_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_recipient ON notification (recipient_id, created_at)`,
	`INSERT INTO global_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
}

func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
