package repo

import (
	"context"
	"database/sql"

	"teamline/internal/domain"
)

const attentionCols = `id,profile_id,kind,priority,task_id,comment_id,mention_id,project_id,actor_id,title,body,dedup_key,read_at,dismissed_at,actioned_at,created_at,updated_at`

// UpsertAttentionItem inserts an inbox item; when an undismissed item with
// the same (profile, dedup key) exists, it refreshes title/body in place
// instead of inserting a duplicate.
func (r Repo) UpsertAttentionItem(ctx context.Context, q DBTX, it domain.AttentionItem) error {
	if it.DedupKey == nil {
		_, err := q.ExecContext(ctx, `INSERT INTO attention_items(`+attentionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			it.ID, it.ProfileID, it.Kind, it.Priority, nullableStringPtr(it.TaskID), nullableStringPtr(it.CommentID),
			nullableStringPtr(it.MentionID), nullableStringPtr(it.ProjectID), nullableStringPtr(it.ActorID),
			it.Title, nullable(it.Body), nil, nil, nil, nil, it.CreatedAt, it.UpdatedAt)
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO attention_items(`+attentionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(profile_id,dedup_key) WHERE dismissed_at IS NULL AND dedup_key IS NOT NULL
DO UPDATE SET title=excluded.title, body=excluded.body, priority=excluded.priority, actor_id=excluded.actor_id, updated_at=excluded.updated_at`,
		it.ID, it.ProfileID, it.Kind, it.Priority, nullableStringPtr(it.TaskID), nullableStringPtr(it.CommentID),
		nullableStringPtr(it.MentionID), nullableStringPtr(it.ProjectID), nullableStringPtr(it.ActorID),
		it.Title, nullable(it.Body), *it.DedupKey, nil, nil, nil, it.CreatedAt, it.UpdatedAt)
	return err
}

func scanAttention(sc interface{ Scan(...any) error }) (domain.AttentionItem, error) {
	var it domain.AttentionItem
	var taskID, commentID, mentionID, projectID, actorID, body, dedup sql.NullString
	var readAt, dismissedAt, actionedAt sql.NullString
	err := sc.Scan(&it.ID, &it.ProfileID, &it.Kind, &it.Priority, &taskID, &commentID, &mentionID, &projectID, &actorID,
		&it.Title, &body, &dedup, &readAt, &dismissedAt, &actionedAt, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return it, err
	}
	if taskID.Valid {
		it.TaskID = &taskID.String
	}
	if commentID.Valid {
		it.CommentID = &commentID.String
	}
	if mentionID.Valid {
		it.MentionID = &mentionID.String
	}
	if projectID.Valid {
		it.ProjectID = &projectID.String
	}
	if actorID.Valid {
		it.ActorID = &actorID.String
	}
	it.Body = body.String
	if dedup.Valid {
		it.DedupKey = &dedup.String
	}
	if readAt.Valid {
		it.ReadAt = &readAt.String
	}
	if dismissedAt.Valid {
		it.DismissedAt = &dismissedAt.String
	}
	if actionedAt.Valid {
		it.ActionedAt = &actionedAt.String
	}
	return it, nil
}

func (r Repo) GetAttentionItem(ctx context.Context, q DBTX, id string) (domain.AttentionItem, error) {
	it, err := scanAttention(q.QueryRowContext(ctx, `SELECT `+attentionCols+` FROM attention_items WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

type AttentionFilters struct {
	ProfileID  string
	UnreadOnly bool
	Limit      int
}

func (r Repo) ListAttentionItems(ctx context.Context, q DBTX, f AttentionFilters) ([]domain.AttentionItem, error) {
	query := `SELECT ` + attentionCols + ` FROM attention_items WHERE profile_id=? AND dismissed_at IS NULL`
	args := []any{f.ProfileID}
	if f.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AttentionItem
	for rows.Next() {
		it, err := scanAttention(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) MarkAttentionRead(ctx context.Context, q DBTX, id, profileID, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE attention_items SET read_at=COALESCE(read_at,?), updated_at=? WHERE id=? AND profile_id=?`, now, now, id, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkAllAttentionRead(ctx context.Context, q DBTX, profileID, now string) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE attention_items SET read_at=?, updated_at=? WHERE profile_id=? AND read_at IS NULL AND dismissed_at IS NULL`, now, now, profileID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) DismissAttention(ctx context.Context, q DBTX, id, profileID, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE attention_items SET dismissed_at=?, updated_at=? WHERE id=? AND profile_id=? AND dismissed_at IS NULL`, now, now, id, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UnreadAttentionCount(ctx context.Context, q DBTX, profileID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM attention_items WHERE profile_id=? AND read_at IS NULL AND dismissed_at IS NULL`, profileID).Scan(&n)
	return n, err
}

// --- notifications ---

func (r Repo) InsertNotification(ctx context.Context, q DBTX, n domain.Notification) error {
	_, err := q.ExecContext(ctx, `INSERT INTO notifications(id,profile_id,kind,title,message,payload_json,is_read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.ProfileID, n.Kind, n.Title, nullable(n.Message), nullable(n.PayloadJSON), boolToInt(n.IsRead), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, profileID string, limit int) ([]domain.Notification, error) {
	query := `SELECT id,profile_id,kind,title,message,payload_json,is_read,created_at FROM notifications WHERE profile_id=? ORDER BY created_at DESC`
	args := []any{profileID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var message, payload sql.NullString
		var isRead int
		if err := rows.Scan(&n.ID, &n.ProfileID, &n.Kind, &n.Title, &message, &payload, &isRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Message = message.String
		n.PayloadJSON = payload.String
		n.IsRead = isRead != 0
		res = append(res, n)
	}
	return res, rows.Err()
}
