package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashaai/navigator/store"
)

func (d *DB) CreateReportSession(ctx context.Context, create *store.ReportSession) (*store.ReportSession, error) {
	messages, err := json.Marshal(create.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}

	fields := []string{"uid", "title", "document_path", "document_kind", "summary", "messages", "created_ts", "updated_ts"}
	args := []any{create.UID, create.Title, create.DocumentPath, create.DocumentKind, create.Summary, string(messages), create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO report_session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create report_session: %w", err)
	}

	return create, nil
}

func (d *DB) ListReportSessions(ctx context.Context, find *store.FindReportSession) ([]*store.ReportSession, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}

	query := `SELECT id, uid, title, document_path, document_kind, summary, messages, created_ts, updated_ts
		FROM report_session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC, id DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list report_sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ReportSession, 0)
	for rows.Next() {
		s := &store.ReportSession{}
		var messages string
		if err := rows.Scan(&s.ID, &s.UID, &s.Title, &s.DocumentPath, &s.DocumentKind, &s.Summary, &messages, &s.CreatedTs, &s.UpdatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan report_session: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &s.Messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		list = append(list, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report_sessions: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateReportSession(ctx context.Context, update *store.UpdateReportSession) (*store.ReportSession, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Summary != nil {
		set, args = append(set, "summary = "+placeholder(len(args)+1)), append(args, *update.Summary)
	}
	if update.Messages != nil {
		messages, err := json.Marshal(update.Messages)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal messages: %w", err)
		}
		set, args = append(set, "messages = "+placeholder(len(args)+1)), append(args, string(messages))
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE report_session SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update report_session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, store.ErrSessionNotFound
	}

	list, err := d.ListReportSessions(ctx, &store.FindReportSession{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrSessionNotFound
	}
	return list[0], nil
}

func (d *DB) DeleteReportSession(ctx context.Context, delete *store.DeleteReportSession) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM report_session WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete report_session: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}
