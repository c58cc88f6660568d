package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/replywatch/replywatch/store"
)

const requestColumns = `r.id, r.chat_id, r.message_id, r.message_text, r.client_username, r.classification,
	r.classification_score, r.status, r.received_at, r.response_at, r.response_message_id, r.responded_by,
	r.response_time_minutes, r.sla_breached, r.assigned_to, r.thread_id`

func (d *DB) CreateRequest(ctx context.Context, create *store.Request) (*store.Request, error) {
	stmt := `INSERT INTO request (id, chat_id, message_id, message_text, client_username, classification,
			classification_score, status, received_at, response_at, response_message_id, responded_by,
			response_time_minutes, sla_breached, assigned_to, thread_id)
		VALUES (` + placeholders(16) + `)`
	_, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.ChatID, create.MessageID, create.MessageText, create.ClientUsername, create.Classification,
		create.ClassificationScore, create.Status, create.ReceivedAt, create.ResponseAt, create.ResponseMessageID,
		create.RespondedBy, create.ResponseTimeMinutes, create.SLABreached, create.AssignedTo, create.ThreadID)
	if err != nil {
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

func (d *DB) ListRequests(ctx context.Context, find *store.FindRequest) ([]*store.Request, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "r.id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChatID != nil {
		where, args = append(where, "r.chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.MessageID != nil {
		where, args = append(where, "r.message_id = "+placeholder(len(args)+1)), append(args, *find.MessageID)
	}
	if len(find.Statuses) > 0 {
		statuses := make([]string, len(find.Statuses))
		for i, s := range find.Statuses {
			statuses[i] = string(s)
		}
		where, args = append(where, "r.status = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(statuses))
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

// ListActiveRequests returns open requests for operational views: oldest
// first, higher client tiers sorted ahead.
func (d *DB) ListActiveRequests(ctx context.Context, limit int) ([]*store.Request, error) {
	query := `SELECT ` + requestColumns + `, c.client_tier
		FROM request r
		JOIN chat c ON c.id = r.chat_id
		WHERE r.status NOT IN ('answered', 'closed')
		ORDER BY CASE c.client_tier
			WHEN 'premium' THEN 0 WHEN 'vip' THEN 1 WHEN 'standard' THEN 2 WHEN 'basic' THEN 3 ELSE 4 END,
			r.received_at ASC
		LIMIT $1`

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
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(*update.Status))
	}
	if update.Classification != nil {
		set, args = append(set, "classification = "+placeholder(len(args)+1)), append(args, string(*update.Classification))
	}
	if update.ClassificationScore != nil {
		set, args = append(set, "classification_score = "+placeholder(len(args)+1)), append(args, *update.ClassificationScore)
	}
	if update.ResponseAt != nil {
		set, args = append(set, "response_at = "+placeholder(len(args)+1)), append(args, *update.ResponseAt)
	}
	if update.ResponseMessageID != nil {
		set, args = append(set, "response_message_id = "+placeholder(len(args)+1)), append(args, *update.ResponseMessageID)
	}
	if update.RespondedBy != nil {
		set, args = append(set, "responded_by = "+placeholder(len(args)+1)), append(args, *update.RespondedBy)
	}
	if update.ResponseTimeMinutes != nil {
		set, args = append(set, "response_time_minutes = "+placeholder(len(args)+1)), append(args, *update.ResponseTimeMinutes)
	}
	if update.SLABreached != nil {
		set, args = append(set, "sla_breached = "+placeholder(len(args)+1)), append(args, *update.SLABreached)
	}
	if update.AssignedTo != nil {
		set, args = append(set, "assigned_to = "+placeholder(len(args)+1)), append(args, *update.AssignedTo)
	}
	if len(set) == 0 {
		return d.GetRequest(ctx, &store.FindRequest{ID: &update.ID})
	}

	args = append(args, update.ID)
	stmt := `UPDATE request SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}
	return d.GetRequest(ctx, &store.FindRequest{ID: &update.ID})
}

// UpdateRequestIfStatusIn is the atomic conditional claim. The WHERE clause
// checks both identity and current status, so of two concurrent claims only
// one observes a row change.
func (d *DB) UpdateRequestIfStatusIn(ctx context.Context, claim *store.ClaimRequest) (int64, error) {
	set, args := []string{}, []any{}

	set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(claim.Status))
	if claim.ResponseAt != nil {
		set, args = append(set, "response_at = "+placeholder(len(args)+1)), append(args, *claim.ResponseAt)
	}
	if claim.ResponseMessageID != nil {
		set, args = append(set, "response_message_id = "+placeholder(len(args)+1)), append(args, *claim.ResponseMessageID)
	}
	if claim.RespondedBy != nil {
		set, args = append(set, "responded_by = "+placeholder(len(args)+1)), append(args, *claim.RespondedBy)
	}
	if claim.ResponseTimeMinutes != nil {
		set, args = append(set, "response_time_minutes = "+placeholder(len(args)+1)), append(args, *claim.ResponseTimeMinutes)
	}
	if claim.SLABreached != nil {
		set, args = append(set, "sla_breached = "+placeholder(len(args)+1)), append(args, *claim.SLABreached)
	}

	statuses := make([]string, len(claim.FromStatuses))
	for i, s := range claim.FromStatuses {
		statuses[i] = string(s)
	}

	args = append(args, claim.ID)
	idPos := len(args)
	args = append(args, pq.Array(statuses))
	stmt := `UPDATE request SET ` + strings.Join(set, ", ") +
		` WHERE id = ` + placeholder(idPos) + ` AND status = ANY(` + placeholder(idPos+1) + `)`

	res, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to claim request: %w", err)
	}
	return res.RowsAffected()
}
