package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"teamline/internal/domain"
)

const taskCols = `id,project_id,parent_id,title,description,stage_id,priority,position,due_at,start_at,completed_at,
approval,approver_id,rejection_reason,assignee_id,created_by,tags_json,estimated_hours,color,
recurrence_rule,next_occurrence,occurrences_created,max_occurrences,created_at,updated_at`

func marshalTags(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func scanTask(sc interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var parentID, description, priority, dueAt, startAt, completedAt sql.NullString
	var approverID, rejection, assigneeID, tagsJSON, color, recurRule, nextOcc sql.NullString
	var estHours sql.NullFloat64
	var maxOcc sql.NullInt64
	err := sc.Scan(&t.ID, &t.ProjectID, &parentID, &t.Title, &description, &t.StageID, &priority, &t.Position,
		&dueAt, &startAt, &completedAt, &t.Approval, &approverID, &rejection, &assigneeID, &t.CreatedBy,
		&tagsJSON, &estHours, &color, &recurRule, &nextOcc, &t.OccurrencesCreated, &maxOcc, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	t.Description = description.String
	t.Priority = priority.String
	if dueAt.Valid {
		t.DueAt = &dueAt.String
	}
	if startAt.Valid {
		t.StartAt = &startAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if approverID.Valid {
		t.ApproverID = &approverID.String
	}
	if rejection.Valid {
		t.RejectionReason = &rejection.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &t.Tags)
	}
	if estHours.Valid {
		t.EstimatedHours = &estHours.Float64
	}
	t.Color = color.String
	t.RecurrenceRule = recurRule.String
	if nextOcc.Valid {
		t.NextOccurrence = &nextOcc.String
	}
	if maxOcc.Valid {
		v := int(maxOcc.Int64)
		t.MaxOccurrences = &v
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, q DBTX, t domain.Task) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.ParentID), t.Title, nullable(t.Description), t.StageID,
		nullable(t.Priority), t.Position, nullableStringPtr(t.DueAt), nullableStringPtr(t.StartAt),
		nullableStringPtr(t.CompletedAt), t.Approval, nullableStringPtr(t.ApproverID),
		nullableStringPtr(t.RejectionReason), nullableStringPtr(t.AssigneeID), t.CreatedBy,
		marshalTags(t.Tags), nullableFloatPtr(t.EstimatedHours), nullable(t.Color),
		nullable(t.RecurrenceRule), nullableStringPtr(t.NextOccurrence), t.OccurrencesCreated,
		nullableIntPtr(t.MaxOccurrences), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, q DBTX, t domain.Task) error {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET parent_id=?, title=?, description=?, stage_id=?, priority=?, position=?,
due_at=?, start_at=?, completed_at=?, approval=?, approver_id=?, rejection_reason=?, assignee_id=?,
tags_json=?, estimated_hours=?, color=?, recurrence_rule=?, next_occurrence=?, occurrences_created=?, max_occurrences=?, updated_at=?
WHERE id=?`,
		nullableStringPtr(t.ParentID), t.Title, nullable(t.Description), t.StageID, nullable(t.Priority), t.Position,
		nullableStringPtr(t.DueAt), nullableStringPtr(t.StartAt), nullableStringPtr(t.CompletedAt),
		t.Approval, nullableStringPtr(t.ApproverID), nullableStringPtr(t.RejectionReason), nullableStringPtr(t.AssigneeID),
		marshalTags(t.Tags), nullableFloatPtr(t.EstimatedHours), nullable(t.Color),
		nullable(t.RecurrenceRule), nullableStringPtr(t.NextOccurrence), t.OccurrencesCreated,
		nullableIntPtr(t.MaxOccurrences), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, q DBTX, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) DeleteTask(ctx context.Context, q DBTX, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	ProjectID       string
	StageID         string
	ParentID        string
	TopLevelOnly    bool
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, q DBTX, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StageID != "" {
		clauses = append(clauses, "stage_id=?")
		args = append(args, f.StageID)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.TopLevelOnly {
		clauses = append(clauses, "parent_id IS NULL")
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListStageTasksOrdered returns tasks of one stage ordered by board position.
func (r Repo) ListStageTasksOrdered(ctx context.Context, q DBTX, projectID, stageID string) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE project_id=? AND stage_id=? ORDER BY position ASC, id ASC`, projectID, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// MaxPositionInStage returns the highest board position in a stage, 0 when empty.
func (r Repo) MaxPositionInStage(ctx context.Context, q DBTX, projectID, stageID string) (int, error) {
	var pos int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM tasks WHERE project_id=? AND stage_id=?`, projectID, stageID).Scan(&pos)
	return pos, err
}

// CountTopLevelInStage counts top-level tasks in one stage for WIP checks.
func (r Repo) CountTopLevelInStage(ctx context.Context, q DBTX, projectID, stageID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE project_id=? AND stage_id=? AND parent_id IS NULL`, projectID, stageID).Scan(&n)
	return n, err
}

func (r Repo) SetTaskPosition(ctx context.Context, q DBTX, taskID string, position int, now string) error {
	_, err := q.ExecContext(ctx, `UPDATE tasks SET position=?, updated_at=? WHERE id=?`, position, now, taskID)
	return err
}

// --- subtasks ---

func (r Repo) InsertSubtask(ctx context.Context, q DBTX, s domain.Subtask) error {
	_, err := q.ExecContext(ctx, `INSERT INTO subtasks(id,task_id,title,done,position,assignee_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Title, boolToInt(s.Done), s.Position, nullableStringPtr(s.AssigneeID), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateSubtask(ctx context.Context, q DBTX, s domain.Subtask) error {
	res, err := q.ExecContext(ctx, `UPDATE subtasks SET title=?, done=?, position=?, assignee_id=?, updated_at=? WHERE id=?`,
		s.Title, boolToInt(s.Done), s.Position, nullableStringPtr(s.AssigneeID), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSubtask(ctx context.Context, q DBTX, id string) (domain.Subtask, error) {
	var s domain.Subtask
	var assignee sql.NullString
	var done int
	err := q.QueryRowContext(ctx, `SELECT id,task_id,title,done,position,assignee_id,created_at,updated_at FROM subtasks WHERE id=?`, id).
		Scan(&s.ID, &s.TaskID, &s.Title, &done, &s.Position, &assignee, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Done = done != 0
	if assignee.Valid {
		s.AssigneeID = &assignee.String
	}
	return s, nil
}

func (r Repo) DeleteSubtask(ctx context.Context, q DBTX, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM subtasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSubtasks(ctx context.Context, q DBTX, taskID string) ([]domain.Subtask, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,title,done,position,assignee_id,created_at,updated_at FROM subtasks WHERE task_id=? ORDER BY position ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subtask
	for rows.Next() {
		var s domain.Subtask
		var assignee sql.NullString
		var done int
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Title, &done, &s.Position, &assignee, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Done = done != 0
		if assignee.Valid {
			s.AssigneeID = &assignee.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) MaxSubtaskPosition(ctx context.Context, q DBTX, taskID string) (int, error) {
	var pos int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM subtasks WHERE task_id=?`, taskID).Scan(&pos)
	return pos, err
}

// --- assignments ---

func (r Repo) UpsertAssignment(ctx context.Context, q DBTX, a domain.TaskAssignment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_assignments(task_id,profile_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(task_id,profile_id) DO UPDATE SET role=excluded.role`,
		a.TaskID, a.ProfileID, a.Role, a.CreatedAt)
	return err
}

func (r Repo) DeleteAssignment(ctx context.Context, q DBTX, taskID, profileID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM task_assignments WHERE task_id=? AND profile_id=?`, taskID, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAssignment(ctx context.Context, q DBTX, taskID, profileID string) (domain.TaskAssignment, error) {
	var a domain.TaskAssignment
	err := q.QueryRowContext(ctx, `SELECT task_id,profile_id,role,created_at FROM task_assignments WHERE task_id=? AND profile_id=?`, taskID, profileID).
		Scan(&a.TaskID, &a.ProfileID, &a.Role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAssignments(ctx context.Context, q DBTX, taskID string) ([]domain.TaskAssignment, error) {
	rows, err := q.QueryContext(ctx, `SELECT task_id,profile_id,role,created_at FROM task_assignments WHERE task_id=? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskAssignment
	for rows.Next() {
		var a domain.TaskAssignment
		if err := rows.Scan(&a.TaskID, &a.ProfileID, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// FirstAssigneeEdge returns the oldest remaining assignee-role edge, if any.
func (r Repo) FirstAssigneeEdge(ctx context.Context, q DBTX, taskID string) (string, error) {
	var profileID string
	err := q.QueryRowContext(ctx, `SELECT profile_id FROM task_assignments WHERE task_id=? AND role='assignee' ORDER BY created_at ASC LIMIT 1`, taskID).Scan(&profileID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return profileID, err
}

// --- dependencies ---

func (r Repo) InsertDependency(ctx context.Context, q DBTX, d domain.TaskDependency) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_deps(blocker_id,blocked_id,dep_type,lag_days,created_at) VALUES (?,?,?,?,?)`,
		d.BlockerID, d.BlockedID, d.Type, d.LagDays, d.CreatedAt)
	return err
}

func (r Repo) DeleteDependency(ctx context.Context, q DBTX, blockerID, blockedID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM task_deps WHERE blocker_id=? AND blocked_id=?`, blockerID, blockedID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DependencyExists reports whether the exact edge is present.
func (r Repo) DependencyExists(ctx context.Context, q DBTX, blockerID, blockedID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM task_deps WHERE blocker_id=? AND blocked_id=? LIMIT 1`, blockerID, blockedID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// BlockedIDsOf returns the tasks directly blocked by the given task.
func (r Repo) BlockedIDsOf(ctx context.Context, q DBTX, blockerID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT blocked_id FROM task_deps WHERE blocker_id=?`, blockerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) ListDependencies(ctx context.Context, q DBTX, blockedID string) ([]domain.TaskDependency, error) {
	rows, err := q.QueryContext(ctx, `SELECT blocker_id,blocked_id,dep_type,lag_days,created_at FROM task_deps WHERE blocked_id=?`, blockedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskDependency
	for rows.Next() {
		var d domain.TaskDependency
		if err := rows.Scan(&d.BlockerID, &d.BlockedID, &d.Type, &d.LagDays, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// TaskIsBlocked reports whether any in-edge originates from a task that is
// not yet in a done stage with approval granted.
func (r Repo) TaskIsBlocked(ctx context.Context, q DBTX, taskID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
SELECT 1 FROM task_deps d
JOIN tasks b ON b.id=d.blocker_id
JOIN project_stages s ON s.id=b.stage_id
WHERE d.blocked_id=? AND NOT (s.is_done=1 AND b.approval='approved')
LIMIT 1`, taskID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
