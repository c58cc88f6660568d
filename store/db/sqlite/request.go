package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/replywatch/replywatch/store"
)

const requestColumns = `r.id, r.chat_id, r.message_id, r.message_text, r.client_username, r.classification,
	r.classification_score, r.status, r.received_at, r.response_at, r.response_message_id, r.responded_by,
	r.response_time_minutes, r.sla_breached, r.assigned_to, r.thread_id`

func (d *DB) CreateRequest(ctx context.Context, create *store.Request) (*store.Request, error) {
	stmt := `INSERT INTO request (id, chat_id, message_id, message_text, client_username, classification,
			classification_score, status, received_at, response_at, response_message_id, responded_by,
			response_time_minutes, sla_breached, assigned_to, thread_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.ChatID, create.MessageID, create.MessageText, create.ClientUsername, create.Classification,
		create.ClassificationScore, create.Status, create.ReceivedAt, create.ResponseAt, create.ResponseMessageID,
		create.RespondedBy, create.ResponseTimeMinutes, create.SLABreached, create.AssignedTo, create.ThreadID); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return create, nil
}

func (d *DB) GetRequest(ctx context.Context, find *store.FindRequest) (*store.Request, error) {
	one := 1
	find.Limit = &one
	list, err := d.ListRequests(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func statusPlaceholders(statuses []store.RequestStatus, args *[]any) string {
	marks := make([]string, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		*args = append(*args, string(s))
	}
	return strings.Join(marks, ", ")
}

func (d *DB) ListRequests(ctx context.Context, find *store.FindRequest) ([]*store.Request, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "r.id = ?"), append(args, *find.ID)
	}
	if find.ChatID != nil {
		where, args = append(where, "r.chat_id = ?"), append(args, *find.ChatID)
	}
	if find.MessageID != nil {
		where, args = append(where, "r.message_id = ?"), append(args, *find.MessageID)
	}
	if len(find.Statuses) > 0 {
		where = append(where, "r.status IN ("+statusPlaceholders(find.Statuses, &args)+")")
	}

	order := "ASC"
	if find.Order == store.OrderNewestFirst {
		order = "DESC"
	}
	query := `SELECT ` + requestColumns + ` FROM request r WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY r.received_at ` + order
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Request, 0)
	for rows.Next() {
		r := &store.Request{}
		if err := rows.Scan(&r.ID, &r.ChatID, &r.MessageID, &r.MessageText, &r.ClientUsername, &r.Classification,
			&r.ClassificationScore, &r.Status, &r.ReceivedAt, &r.ResponseAt, &r.ResponseMessageID, &r.RespondedBy,
			&r.ResponseTimeMinutes, &r.SLABreached, &r.AssignedTo, &r.ThreadID); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (d *DB) ListActiveRequests(ctx context.Context, limit int) ([]*store.Request, error) {
	query := `SELECT ` + requestColumns + `, c.client_tier
		FROM request r
		JOIN chat c ON c.id = r.chat_id
		WHERE r.status NOT IN ('answered', 'closed')
		ORDER BY CASE c.client_tier
			WHEN 'premium' THEN 0 WHEN 'vip' THEN 1 WHEN 'standard' THEN 2 WHEN 'basic' THEN 3 ELSE 4 END,
			r.received_at ASC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active requests: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Request, 0)
	for rows.Next() {
		r := &store.Request{}
		var tier sql.NullString
		if err := rows.Scan(&r.ID, &r.ChatID, &r.MessageID, &r.MessageText, &r.ClientUsername, &r.Classification,
			&r.ClassificationScore, &r.Status, &r.ReceivedAt, &r.ResponseAt, &r.ResponseMessageID, &r.RespondedBy,
			&r.ResponseTimeMinutes, &r.SLABreached, &r.AssignedTo, &r.ThreadID, &tier); err != nil {
			return nil, fmt.Errorf("failed to scan active request: %w", err)
		}
		if tier.Valid {
			t := store.ClientTier(tier.String)
			r.ChatTier = &t
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (d *DB) UpdateRequest(ctx context.Context, update *store.UpdateRequest) (*store.Request, error) {
	set, args := []string{}, []any{}

	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, string(*update.Status))
	}
	if update.Classification != nil {
		set, args = append(set, "classification = ?"), append(args, string(*update.Classification))
	}
	if update.ClassificationScore != nil {
		set, args = append(set, "classification_score = ?"), append(args, *update.ClassificationScore)
	}
	if update.ResponseAt != nil {
		set, args = append(set, "response_at = ?"), append(args, *update.ResponseAt)
	}
	if update.ResponseMessageID != nil {
		set, args = append(set, "response_message_id = ?"), append(args, *update.ResponseMessageID)
	}
	if update.RespondedBy != nil {
		set, args = append(set, "responded_by = ?"), append(args, *update.RespondedBy)
	}
	if update.ResponseTimeMinutes != nil {
		set, args = append(set, "response_time_minutes = ?"), append(args, *update.ResponseTimeMinutes)
	}
	if update.SLABreached != nil {
		set, args = append(set, "sla_breached = ?"), append(args, *update.SLABreached)
	}
	if update.AssignedTo != nil {
		set, args = append(set, "assigned_to = ?"), append(args, *update.AssignedTo)
	}
	if len(set) == 0 {
		return d.GetRequest(ctx, &store.FindRequest{ID: &update.ID})
	}

	args = append(args, update.ID)
	stmt := `UPDATE request SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}
	return d.GetRequest(ctx, &store.FindRequest{ID: &update.ID})
}

func (d *DB) UpdateRequestIfStatusIn(ctx context.Context, claim *store.ClaimRequest) (int64, error) {
	set, args := []string{}, []any{}

	set, args = append(set, "status = ?"), append(args, string(claim.Status))
	if claim.ResponseAt != nil {
		set, args = append(set, "response_at = ?"), append(args, *claim.ResponseAt)
	}
	if claim.ResponseMessageID != nil {
		set, args = append(set, "response_message_id = ?"), append(args, *claim.ResponseMessageID)
	}
	if claim.RespondedBy != nil {
		set, args = append(set, "responded_by = ?"), append(args, *claim.RespondedBy)
	}
	if claim.ResponseTimeMinutes != nil {
		set, args = append(set, "response_time_minutes = ?"), append(args, *claim.ResponseTimeMinutes)
	}
	if claim.SLABreached != nil {
		set, args = append(set, "sla_breached = ?"), append(args, *claim.SLABreached)
	}

	args = append(args, claim.ID)
	stmt := `UPDATE request SET ` + strings.Join(set, ", ") +
		` WHERE id = ? AND status IN (` + statusPlaceholders(claim.FromStatuses, &args) + `)`

	res, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to claim request: %w", err)
	}
	return res.RowsAffected()
}
