package repo

import (
	"context"
	"database/sql"
	"strings"

	"teamline/internal/domain"
)

// AppendActivity writes one append-only log row. Snapshot fields are copied
// in by the caller; nothing here references the live subject rows.
func (r Repo) AppendActivity(ctx context.Context, q DBTX, a domain.ActivityEntry) error {
	_, err := q.ExecContext(ctx, `INSERT INTO activity_log(project_id,actor_id,kind,task_id,comment_id,actor_name,actor_avatar,project_name,project_color,task_title,detail_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ProjectID, a.ActorID, a.Kind, nullableStringPtr(a.TaskID), nullableStringPtr(a.CommentID),
		nullable(a.ActorName), nullable(a.ActorAvatar), nullable(a.ProjectName), nullable(a.ProjectColor),
		nullable(a.TaskTitle), nullable(a.DetailJSON), a.CreatedAt)
	return err
}

type ActivityFilters struct {
	ProjectID string
	TaskID    string
	Limit     int
	Cursor    int64
}

func (r Repo) ListActivity(ctx context.Context, f ActivityFilters) ([]domain.ActivityEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := `SELECT id,project_id,actor_id,kind,task_id,comment_id,actor_name,actor_avatar,project_name,project_color,task_title,detail_json,created_at
FROM activity_log WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEntry
	for rows.Next() {
		var a domain.ActivityEntry
		var taskID, commentID, actorName, actorAvatar, projectName, projectColor, taskTitle, detail sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ActorID, &a.Kind, &taskID, &commentID, &actorName, &actorAvatar, &projectName, &projectColor, &taskTitle, &detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			a.TaskID = &taskID.String
		}
		if commentID.Valid {
			a.CommentID = &commentID.String
		}
		a.ActorName = actorName.String
		a.ActorAvatar = actorAvatar.String
		a.ProjectName = projectName.String
		a.ProjectColor = projectColor.String
		a.TaskTitle = taskTitle.String
		a.DetailJSON = detail.String
		res = append(res, a)
	}
	return res, rows.Err()
}
