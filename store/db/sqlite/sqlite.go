// Package sqlite implements the store driver on SQLite.
//
// SQLite is supported on a best-effort basis for development and testing.
// Production deployments use PostgreSQL: SQLite has no row-level locking, so
// the job claim relies on the single-writer connection instead of
// FOR UPDATE SKIP LOCKED.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database at the configured DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode avoids writer starvation; the busy timeout covers the
	// occasional overlap between the queue workers and the ingress pipeline.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
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

// encodeList stores string/int slices as JSON text columns.
func encodeList(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(raw), nil
}

func decodeList[T any](raw string, out *[]T) error {
	if raw == "" {
		*out = nil
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode list: %w", err)
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accountant (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		telegram_id INTEGER,
		telegram_username TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS chat (
		id INTEGER PRIMARY KEY,
		title TEXT,
		kind TEXT NOT NULL DEFAULT 'group',
		monitoring_enabled INTEGER NOT NULL DEFAULT 1,
		sla_enabled INTEGER NOT NULL DEFAULT 1,
		notify_in_chat_on_breach INTEGER NOT NULL DEFAULT 0,
		is_24x7 INTEGER NOT NULL DEFAULT 0,
		sla_threshold_minutes INTEGER,
		client_tier TEXT,
		accountant_telegram_ids TEXT NOT NULL DEFAULT '[]',
		accountant_usernames TEXT NOT NULL DEFAULT '[]',
		accountant_username TEXT,
		assigned_accountant_id TEXT,
		manager_telegram_ids TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS request (
		id TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		message_text TEXT NOT NULL DEFAULT '',
		client_username TEXT,
		classification TEXT NOT NULL,
		classification_score REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		received_at TIMESTAMP NOT NULL,
		response_at TIMESTAMP,
		response_message_id INTEGER,
		responded_by TEXT,
		response_time_minutes INTEGER,
		sla_breached INTEGER NOT NULL DEFAULT 0,
		assigned_to TEXT,
		thread_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_chat_message ON request (chat_id, message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_request_chat_received ON request (chat_id, received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_request_open_status ON request (status)
		WHERE status NOT IN ('answered', 'closed')`,
	`CREATE TABLE IF NOT EXISTS alert (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		level INTEGER NOT NULL,
		minutes_elapsed INTEGER NOT NULL DEFAULT 0,
		sent_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		recipients TEXT NOT NULL DEFAULT '[]',
		resolved_action TEXT,
		resolution_notes TEXT,
		acknowledged_at TIMESTAMP,
		acknowledged_by TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_dedup ON alert (request_id, level, alert_type)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		sender_id INTEGER NOT NULL,
		sender_username TEXT,
		text TEXT NOT NULL DEFAULT '',
		is_accountant INTEGER NOT NULL DEFAULT 0,
		request_id TEXT,
		sent_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_message_chat ON chat_message (chat_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS global_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		timezone TEXT NOT NULL DEFAULT 'Europe/Moscow',
		working_days TEXT NOT NULL DEFAULT '[1,2,3,4,5]',
		start_time TEXT NOT NULL DEFAULT '09:00',
		end_time TEXT NOT NULL DEFAULT '18:00',
		default_sla_threshold INTEGER NOT NULL DEFAULT 60,
		max_escalations INTEGER NOT NULL DEFAULT 3,
		escalation_interval_min INTEGER NOT NULL DEFAULT 30,
		sla_warning_percent INTEGER NOT NULL DEFAULT 80,
		global_manager_ids TEXT NOT NULL DEFAULT '[]',
		ai_confidence_threshold REAL NOT NULL DEFAULT 0.6
	)`,
	`CREATE TABLE IF NOT EXISTS work_schedule (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		day_of_week INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'Europe/Moscow',
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS holiday (
		date TEXT PRIMARY KEY,
		name TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS request_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		changed_by TEXT NOT NULL DEFAULT 'system',
		reason TEXT NOT NULL DEFAULT '',
		changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_history_request ON request_history (request_id, changed_at)`,
	`CREATE TABLE IF NOT EXISTS job (
		id TEXT PRIMARY KEY,
		queue TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		run_at TIMESTAMP NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		backoff_millis INTEGER NOT NULL DEFAULT 0,
		remove_on_complete INTEGER NOT NULL DEFAULT 1,
		remove_on_fail INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_due ON job (queue, state, run_at)`,
	`CREATE TABLE IF NOT EXISTS notification (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		request_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		read_at TIMESTAMP
	)`,
	`INSERT OR IGNORE INTO global_settings (id) VALUES (1)`,
}

func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
