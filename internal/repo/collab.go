package repo

import (
	"context"
	"database/sql"

	"teamline/internal/domain"
)

// --- comments ---

func (r Repo) InsertComment(ctx context.Context, q DBTX, c domain.Comment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO comments(id,task_id,project_id,author_id,content,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.ProjectID, c.AuthorID, c.Content, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateCommentContent(ctx context.Context, q DBTX, id, content, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE comments SET content=?, updated_at=? WHERE id=?`, content, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetComment(ctx context.Context, q DBTX, id string) (domain.Comment, error) {
	var c domain.Comment
	err := q.QueryRowContext(ctx, `SELECT id,task_id,project_id,author_id,content,created_at,updated_at FROM comments WHERE id=?`, id).
		Scan(&c.ID, &c.TaskID, &c.ProjectID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) DeleteComment(ctx context.Context, q DBTX, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListComments(ctx context.Context, q DBTX, taskID string) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,project_id,author_id,content,created_at,updated_at FROM comments WHERE task_id=? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.ProjectID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- attachments ---

func (r Repo) InsertAttachment(ctx context.Context, q DBTX, a domain.Attachment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO attachments(id,task_id,comment_id,file_ref,uploader_id,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, nullableStringPtr(a.TaskID), nullableStringPtr(a.CommentID), a.FileRef, a.UploaderID, a.CreatedAt)
	return err
}

func (r Repo) DeleteAttachment(ctx context.Context, q DBTX, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM attachments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAttachment(ctx context.Context, q DBTX, id string) (domain.Attachment, error) {
	var a domain.Attachment
	var taskID, commentID sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,task_id,comment_id,file_ref,uploader_id,created_at FROM attachments WHERE id=?`, id).
		Scan(&a.ID, &taskID, &commentID, &a.FileRef, &a.UploaderID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if taskID.Valid {
		a.TaskID = &taskID.String
	}
	if commentID.Valid {
		a.CommentID = &commentID.String
	}
	return a, nil
}

func (r Repo) ListTaskAttachments(ctx context.Context, q DBTX, taskID string) ([]domain.Attachment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,comment_id,file_ref,uploader_id,created_at FROM attachments WHERE task_id=? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var tID, cID sql.NullString
		if err := rows.Scan(&a.ID, &tID, &cID, &a.FileRef, &a.UploaderID, &a.CreatedAt); err != nil {
			return nil, err
		}
		if tID.Valid {
			a.TaskID = &tID.String
		}
		if cID.Valid {
			a.CommentID = &cID.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- time entries ---

func (r Repo) InsertTimeEntry(ctx context.Context, q DBTX, e domain.TimeEntry) error {
	_, err := q.ExecContext(ctx, `INSERT INTO time_entries(id,task_id,profile_id,started_at,ended_at,duration_seconds,is_running) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.ProfileID, e.StartedAt, nullableStringPtr(e.EndedAt), nullableInt64Ptr(e.DurationSeconds), boolToInt(e.IsRunning))
	return err
}

// GetRunningEntry returns the single running entry for a user, if any.
func (r Repo) GetRunningEntry(ctx context.Context, q DBTX, profileID string) (domain.TimeEntry, error) {
	var e domain.TimeEntry
	var endedAt sql.NullString
	var duration sql.NullInt64
	var running int
	err := q.QueryRowContext(ctx, `SELECT id,task_id,profile_id,started_at,ended_at,duration_seconds,is_running FROM time_entries WHERE profile_id=? AND is_running=1`, profileID).
		Scan(&e.ID, &e.TaskID, &e.ProfileID, &e.StartedAt, &endedAt, &duration, &running)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if endedAt.Valid {
		e.EndedAt = &endedAt.String
	}
	if duration.Valid {
		e.DurationSeconds = &duration.Int64
	}
	e.IsRunning = running != 0
	return e, nil
}

func (r Repo) GetTimeEntry(ctx context.Context, q DBTX, id string) (domain.TimeEntry, error) {
	var e domain.TimeEntry
	var endedAt sql.NullString
	var duration sql.NullInt64
	var running int
	err := q.QueryRowContext(ctx, `SELECT id,task_id,profile_id,started_at,ended_at,duration_seconds,is_running FROM time_entries WHERE id=?`, id).
		Scan(&e.ID, &e.TaskID, &e.ProfileID, &e.StartedAt, &endedAt, &duration, &running)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if endedAt.Valid {
		e.EndedAt = &endedAt.String
	}
	if duration.Valid {
		e.DurationSeconds = &duration.Int64
	}
	e.IsRunning = running != 0
	return e, nil
}

// StopRunningEntry closes the user's running entry. Returns the number of
// rows closed (0 or 1 under the partial unique index).
func (r Repo) StopRunningEntry(ctx context.Context, q DBTX, profileID, endedAt string) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE time_entries
SET ended_at=?, duration_seconds=CAST(strftime('%s',?) AS INTEGER)-CAST(strftime('%s',started_at) AS INTEGER), is_running=0
WHERE profile_id=? AND is_running=1`, endedAt, endedAt, profileID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListTaskTimeEntries(ctx context.Context, q DBTX, taskID string) ([]domain.TimeEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,profile_id,started_at,ended_at,duration_seconds,is_running FROM time_entries WHERE task_id=? ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEntry
	for rows.Next() {
		var e domain.TimeEntry
		var endedAt sql.NullString
		var duration sql.NullInt64
		var running int
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ProfileID, &e.StartedAt, &endedAt, &duration, &running); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			e.EndedAt = &endedAt.String
		}
		if duration.Valid {
			e.DurationSeconds = &duration.Int64
		}
		e.IsRunning = running != 0
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- mentions ---

// InsertMentionIfNew inserts a mention row unless the (mentioned, subject)
// pair already exists; re-extraction from unchanged content is a no-op.
func (r Repo) InsertMentionIfNew(ctx context.Context, q DBTX, m domain.Mention) (bool, error) {
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO mentions(id,mentioned_id,mentioner_id,task_id,comment_id,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.MentionedID, m.MentionerID, nullableStringPtr(m.TaskID), nullableStringPtr(m.CommentID), m.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetMention(ctx context.Context, q DBTX, mentionedID string, taskID, commentID *string) (domain.Mention, error) {
	var row *sql.Row
	if commentID != nil {
		row = q.QueryRowContext(ctx, `SELECT id,mentioned_id,mentioner_id,task_id,comment_id,created_at,read_at FROM mentions WHERE mentioned_id=? AND comment_id=?`, mentionedID, *commentID)
	} else if taskID != nil {
		row = q.QueryRowContext(ctx, `SELECT id,mentioned_id,mentioner_id,task_id,comment_id,created_at,read_at FROM mentions WHERE mentioned_id=? AND task_id=? AND comment_id IS NULL`, mentionedID, *taskID)
	} else {
		return domain.Mention{}, ErrNotFound
	}
	var m domain.Mention
	var tID, cID, readAt sql.NullString
	err := row.Scan(&m.ID, &m.MentionedID, &m.MentionerID, &tID, &cID, &m.CreatedAt, &readAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if tID.Valid {
		m.TaskID = &tID.String
	}
	if cID.Valid {
		m.CommentID = &cID.String
	}
	if readAt.Valid {
		m.ReadAt = &readAt.String
	}
	return m, nil
}

func (r Repo) ListMentionsFor(ctx context.Context, profileID string, limit int) ([]domain.Mention, error) {
	query := `SELECT id,mentioned_id,mentioner_id,task_id,comment_id,created_at,read_at FROM mentions WHERE mentioned_id=? ORDER BY created_at DESC`
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
	var res []domain.Mention
	for rows.Next() {
		var m domain.Mention
		var tID, cID, readAt sql.NullString
		if err := rows.Scan(&m.ID, &m.MentionedID, &m.MentionerID, &tID, &cID, &m.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		if tID.Valid {
			m.TaskID = &tID.String
		}
		if cID.Valid {
			m.CommentID = &cID.String
		}
		if readAt.Valid {
			m.ReadAt = &readAt.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
