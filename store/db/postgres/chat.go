package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/replywatch/replywatch/store"
)

const chatColumns = `c.id, c.title, c.kind, c.monitoring_enabled, c.sla_enabled, c.notify_in_chat_on_breach,
	c.is_24x7, c.sla_threshold_minutes, c.client_tier, c.accountant_telegram_ids, c.accountant_usernames,
	c.accountant_username, c.assigned_accountant_id, c.manager_telegram_ids, c.created_at, c.updated_at, c.deleted_at`

func (d *DB) CreateChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	now := time.Now()
	create.CreatedAt, create.UpdatedAt = now, now
	stmt := `INSERT INTO chat (id, title, kind, monitoring_enabled, sla_enabled, notify_in_chat_on_breach,
			is_24x7, sla_threshold_minutes, client_tier, accountant_telegram_ids, accountant_usernames,
			accountant_username, assigned_accountant_id, manager_telegram_ids, created_at, updated_at)
		VALUES (` + placeholders(16) + `)`
	_, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.Title, create.Kind, create.MonitoringEnabled, create.SLAEnabled, create.NotifyInChatOnBreach,
		create.Is24x7, create.SLAThresholdMinutes, create.ClientTier,
		pq.Array(create.AccountantTelegramIDs), pq.Array(create.AccountantUsernames),
		create.AccountantUsername, create.AssignedAccountantID, pq.Array(create.ManagerTelegramIDs),
		create.CreatedAt, create.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return create, nil
}

func (d *DB) GetChat(ctx context.Context, find *store.FindChat) (*store.Chat, error) {
	one := 1
	find.Limit = &one
	list, err := d.ListChats(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "c.id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if !find.IncludeDeleted {
		where = append(where, "c.deleted_at IS NULL")
	}
	if find.MonitoringOnly {
		where = append(where, "c.monitoring_enabled = TRUE")
	}

	query := `SELECT ` + chatColumns + ` FROM chat c WHERE ` + strings.Join(where, " AND ") + ` ORDER BY c.id`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}

	if find.WithAccountant {
		for _, c := range list {
			if c.AssignedAccountantID == nil {
				continue
			}
			acc, err := d.GetAccountant(ctx, *c.AssignedAccountantID)
			if err != nil {
				return nil, err
			}
			c.AssignedAccountant = acc
		}
	}
	return list, nil
}

func scanChat(rows *sql.Rows) (*store.Chat, error) {
	c := &store.Chat{}
	var ids pq.Int64Array
	var usernames, managers pq.StringArray
	var tier sql.NullString
	if err := rows.Scan(&c.ID, &c.Title, &c.Kind, &c.MonitoringEnabled, &c.SLAEnabled, &c.NotifyInChatOnBreach,
		&c.Is24x7, &c.SLAThresholdMinutes, &tier, &ids, &usernames,
		&c.AccountantUsername, &c.AssignedAccountantID, &managers, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	c.AccountantTelegramIDs = ids
	c.AccountantUsernames = usernames
	c.ManagerTelegramIDs = managers
	if tier.Valid {
		t := store.ClientTier(tier.String)
		c.ClientTier = &t
	}
	return c, nil
}

func (d *DB) UpdateChat(ctx context.Context, update *store.UpdateChat) (*store.Chat, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.MonitoringEnabled != nil {
		set, args = append(set, "monitoring_enabled = "+placeholder(len(args)+1)), append(args, *update.MonitoringEnabled)
	}
	if update.SLAEnabled != nil {
		set, args = append(set, "sla_enabled = "+placeholder(len(args)+1)), append(args, *update.SLAEnabled)
	}
	if update.NotifyInChatOnBreach != nil {
		set, args = append(set, "notify_in_chat_on_breach = "+placeholder(len(args)+1)), append(args, *update.NotifyInChatOnBreach)
	}
	if update.Is24x7 != nil {
		set, args = append(set, "is_24x7 = "+placeholder(len(args)+1)), append(args, *update.Is24x7)
	}
	if update.SLAThresholdMinutes != nil {
		set, args = append(set, "sla_threshold_minutes = "+placeholder(len(args)+1)), append(args, *update.SLAThresholdMinutes)
	}
	if update.ClientTier != nil {
		set, args = append(set, "client_tier = "+placeholder(len(args)+1)), append(args, string(*update.ClientTier))
	}
	if update.AccountantTelegramIDs != nil {
		set, args = append(set, "accountant_telegram_ids = "+placeholder(len(args)+1)), append(args, pq.Array(*update.AccountantTelegramIDs))
	}
	if update.AccountantUsernames != nil {
		set, args = append(set, "accountant_usernames = "+placeholder(len(args)+1)), append(args, pq.Array(*update.AccountantUsernames))
	}
	if update.AccountantUsername != nil {
		set, args = append(set, "accountant_username = "+placeholder(len(args)+1)), append(args, *update.AccountantUsername)
	}
	if update.AssignedAccountantID != nil {
		set, args = append(set, "assigned_accountant_id = "+placeholder(len(args)+1)), append(args, *update.AssignedAccountantID)
	}
	if update.ManagerTelegramIDs != nil {
		set, args = append(set, "manager_telegram_ids = "+placeholder(len(args)+1)), append(args, pq.Array(*update.ManagerTelegramIDs))
	}
	if update.DeletedAt != nil {
		// Soft deletion implicitly disables monitoring.
		set, args = append(set, "deleted_at = "+placeholder(len(args)+1)), append(args, *update.DeletedAt)
		set = append(set, "monitoring_enabled = FALSE")
	}
	set, args = append(set, "updated_at = "+placeholder(len(args)+1)), append(args, time.Now())

	args = append(args, update.ID)
	stmt := `UPDATE chat SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}

	return d.GetChat(ctx, &store.FindChat{ID: &update.ID, IncludeDeleted: true})
}

func (d *DB) CreateAccountant(ctx context.Context, create *store.Accountant) (*store.Accountant, error) {
	create.CreatedAt = time.Now()
	stmt := `INSERT INTO accountant (id, display_name, telegram_id, telegram_username, created_at)
		VALUES (` + placeholders(5) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.DisplayName, create.TelegramID, create.TelegramUsername, create.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create accountant: %w", err)
	}
	return create, nil
}

func (d *DB) GetAccountant(ctx context.Context, id string) (*store.Accountant, error) {
	a := &store.Accountant{}
	err := d.db.QueryRowContext(ctx,
		`SELECT id, display_name, telegram_id, telegram_username, created_at FROM accountant WHERE id = $1`, id).
		Scan(&a.ID, &a.DisplayName, &a.TelegramID, &a.TelegramUsername, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get accountant: %w", err)
	}
	return a, nil
}

func (d *DB) ListAccountants(ctx context.Context) ([]*store.Accountant, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, display_name, telegram_id, telegram_username, created_at FROM accountant ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accountants: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Accountant, 0)
	for rows.Next() {
		a := &store.Accountant{}
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.TelegramID, &a.TelegramUsername, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan accountant: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
