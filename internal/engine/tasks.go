package engine

import (
	"context"
	"database/sql"
	"errors"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

// maxTaskDepth bounds the parent chain: a task and one level of child tasks.
const maxTaskDepth = 2

// CreateTaskInput carries task creation fields. StageID defaults to the
// project's first non-done stage.
type CreateTaskInput struct {
	ProjectID      string
	ParentID       *string
	Title          string
	Description    string
	StageID        string
	Priority       string
	DueAt          *string
	StartAt        *string
	AssigneeID     *string
	Tags           []string
	EstimatedHours *float64
	Color          string
	RecurrenceRule string
	MaxOccurrences *int
}

// CreateTask inserts a task at the end of its stage. Requires project
// editor. Creating straight into a done stage leaves the task awaiting
// approval rather than completed.
func (e Engine) CreateTask(ctx context.Context, callerID string, in CreateTaskInput) (domain.Task, error) {
	if in.Title == "" {
		return domain.Task{}, fault.Invariant("task title required")
	}
	if in.Priority == "" {
		in.Priority = "normal"
	}
	switch in.Priority {
	case "urgent", "high", "normal", "low":
	default:
		return domain.Task{}, fault.Invariant("invalid priority %q", in.Priority)
	}
	switch in.RecurrenceRule {
	case "", "daily", "weekly", "monthly":
	default:
		return domain.Task{}, fault.Invariant("invalid recurrence rule %q", in.RecurrenceRule)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Task{}, err
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, in.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.Task{}, err
	}

	var stage domain.Stage
	if in.StageID == "" {
		stage, err = e.Repo.FirstNonDoneStage(ctx, tx, in.ProjectID)
		if err != nil {
			return domain.Task{}, notFound(err, "no open stage in project %s", in.ProjectID)
		}
	} else {
		stage, err = e.Repo.GetStage(ctx, tx, in.ProjectID, in.StageID)
		if err != nil {
			return domain.Task{}, notFound(err, "stage %s", in.StageID)
		}
	}

	if in.ParentID != nil {
		parent, err := e.Repo.GetTask(ctx, tx, *in.ParentID)
		if err != nil {
			return domain.Task{}, notFound(err, "task %s", *in.ParentID)
		}
		if parent.ProjectID != in.ProjectID {
			return domain.Task{}, fault.Invariant("parent task belongs to another project")
		}
		if parent.ParentID != nil {
			return domain.Task{}, fault.Invariant("task nesting is limited to %d levels", maxTaskDepth)
		}
	}

	if in.AssigneeID != nil {
		if err := e.requireProjectAccess(ctx, tx, in.ProjectID, *in.AssigneeID); err != nil {
			return domain.Task{}, err
		}
	}

	pos, err := e.Repo.MaxPositionInStage(ctx, tx, in.ProjectID, stage.ID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.nowStr()
	t := domain.Task{
		ID:             newID(),
		ProjectID:      in.ProjectID,
		ParentID:       in.ParentID,
		Title:          in.Title,
		Description:    in.Description,
		StageID:        stage.ID,
		Priority:       in.Priority,
		Position:       pos + 1,
		DueAt:          in.DueAt,
		StartAt:        in.StartAt,
		Approval:       domain.ApprovalNone,
		AssigneeID:     in.AssigneeID,
		CreatedBy:      callerID,
		Tags:           in.Tags,
		EstimatedHours: in.EstimatedHours,
		Color:          in.Color,
		RecurrenceRule: in.RecurrenceRule,
		MaxOccurrences: in.MaxOccurrences,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if stage.IsDone {
		t.Approval = domain.ApprovalPending
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if in.AssigneeID != nil {
		if err := e.Repo.UpsertAssignment(ctx, tx, domain.TaskAssignment{
			TaskID: t.ID, ProfileID: *in.AssigneeID, Role: "assignee", CreatedAt: now,
		}); err != nil {
			return domain.Task{}, err
		}
		if err := e.emitAttention(ctx, tx, attentionInput{
			ProfileID: *in.AssigneeID,
			Kind:      "assignment",
			Priority:  "high",
			TaskID:    &t.ID,
			ProjectID: &t.ProjectID,
			ActorID:   callerID,
			Title:     "Assigned to " + t.Title,
			DedupKey:  "assignment:" + t.ID,
		}); err != nil {
			return domain.Task{}, err
		}
	}
	mentioned, err := e.extractMentions(ctx, tx, t.ProjectID, callerID, t.Description)
	if err != nil {
		return domain.Task{}, err
	}
	for _, p := range mentioned {
		if err := e.recordMention(ctx, tx, p, callerID, t, nil); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.logActivity(ctx, tx, t.ProjectID, callerID, "task.created", &t, nil, map[string]any{"stage_id": stage.ID}); err != nil {
		return domain.Task{}, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "task.created", ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: callerID,
		Payload: events.Payload{"title": t.Title, "stage_id": stage.ID},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.publish(emitted)
	return t, nil
}

// requireProjectAccess checks that profileID can at least read the project.
// Used for assignee and member consistency, mapped to Invariant because the
// failure is about the request body, not the caller.
func (e Engine) requireProjectAccess(ctx context.Context, q repo.DBTX, projectID, profileID string) error {
	ok, err := e.Repo.ProfileExists(ctx, q, profileID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound("profile %s", profileID)
	}
	role, err := e.Authz.ProjectRole(ctx, q, projectID, profileID)
	if err != nil {
		return err
	}
	if role < authz.RoleReader {
		return fault.Invariant("profile %s has no access to project %s", profileID, projectID)
	}
	return nil
}

// GetTask returns a task the caller can read, with its subtasks and
// assignment edges.
func (e Engine) GetTask(ctx context.Context, callerID, taskID string) (domain.Task, []domain.Subtask, []domain.TaskAssignment, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return domain.Task{}, nil, nil, err
	}
	t, err := e.Repo.GetTask(ctx, e.DB, taskID)
	if err != nil {
		return domain.Task{}, nil, nil, notFound(err, "task %s", taskID)
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, t.ProjectID, callerID); err != nil {
		return domain.Task{}, nil, nil, fault.NotFound("task %s", taskID)
	}
	subs, err := e.Repo.ListSubtasks(ctx, e.DB, taskID)
	if err != nil {
		return domain.Task{}, nil, nil, err
	}
	asn, err := e.Repo.ListAssignments(ctx, e.DB, taskID)
	if err != nil {
		return domain.Task{}, nil, nil, err
	}
	return t, subs, asn, nil
}

// ListTasks returns tasks in a project the caller can read.
func (e Engine) ListTasks(ctx context.Context, callerID string, f repo.TaskFilters) ([]domain.Task, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	if f.ProjectID == "" {
		return nil, fault.Invariant("project id required")
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, f.ProjectID, callerID); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return e.Repo.ListTasks(ctx, e.DB, f)
}

// UpdateTaskInput lists the mutable fields; nil means unchanged. Stage and
// approval moves go through MoveTaskToStage and the approval operations.
type UpdateTaskInput struct {
	Title          *string
	Description    *string
	Priority       *string
	DueAt          *string
	DueAtSet       bool
	StartAt        *string
	StartAtSet     bool
	AssigneeID     *string
	AssigneeIDSet  bool
	Tags           []string
	TagsSet        bool
	EstimatedHours *float64
	Color          *string
	RecurrenceRule *string
	MaxOccurrences *int
}

// UpdateTask changes descriptive fields. Requires project editor. Changing
// the assignee keeps the assignment edges and inbox in step.
func (e Engine) UpdateTask(ctx context.Context, callerID, taskID string, in UpdateTaskInput) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.Task{}, err
	}

	prevAssignee := t.AssigneeID
	prevDescription := t.Description
	if in.Title != nil {
		if *in.Title == "" {
			return domain.Task{}, fault.Invariant("task title required")
		}
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil {
		switch *in.Priority {
		case "urgent", "high", "normal", "low":
		default:
			return domain.Task{}, fault.Invariant("invalid priority %q", *in.Priority)
		}
		t.Priority = *in.Priority
	}
	if in.DueAtSet {
		t.DueAt = in.DueAt
	}
	if in.StartAtSet {
		t.StartAt = in.StartAt
	}
	if in.TagsSet {
		t.Tags = in.Tags
	}
	if in.EstimatedHours != nil {
		t.EstimatedHours = in.EstimatedHours
	}
	if in.Color != nil {
		t.Color = *in.Color
	}
	if in.RecurrenceRule != nil {
		switch *in.RecurrenceRule {
		case "", "daily", "weekly", "monthly":
		default:
			return domain.Task{}, fault.Invariant("invalid recurrence rule %q", *in.RecurrenceRule)
		}
		t.RecurrenceRule = *in.RecurrenceRule
	}
	if in.MaxOccurrences != nil {
		t.MaxOccurrences = in.MaxOccurrences
	}
	if in.AssigneeIDSet {
		t.AssigneeID = in.AssigneeID
	}
	t.UpdatedAt = e.nowStr()

	if in.AssigneeIDSet && !sameOptional(prevAssignee, t.AssigneeID) {
		if err := e.switchAssignee(ctx, tx, &t, prevAssignee, callerID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if in.Description != nil && t.Description != prevDescription {
		mentioned, err := e.extractMentions(ctx, tx, t.ProjectID, callerID, t.Description)
		if err != nil {
			return domain.Task{}, err
		}
		for _, p := range mentioned {
			if err := e.recordMention(ctx, tx, p, callerID, t, nil); err != nil {
				return domain.Task{}, err
			}
		}
	}
	if err := e.logActivity(ctx, tx, t.ProjectID, callerID, "task.updated", &t, nil, nil); err != nil {
		return domain.Task{}, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "task.updated", ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: callerID,
		Payload: events.Payload{"title": t.Title},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.publish(emitted)
	return t, nil
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// switchAssignee reconciles assignment edges and inbox items when the
// primary assignee changes. The date suffix on the unassignment key lets a
// re-unassignment on a later day surface again.
func (e Engine) switchAssignee(ctx context.Context, tx *sql.Tx, t *domain.Task, prev *string, actorID string) error {
	now := e.nowStr()
	if prev != nil {
		if err := e.Repo.DeleteAssignment(ctx, tx, t.ID, *prev); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		day := e.now().UTC().Format("2006-01-02")
		if err := e.emitAttention(ctx, tx, attentionInput{
			ProfileID: *prev,
			Kind:      "unassignment",
			TaskID:    &t.ID,
			ProjectID: &t.ProjectID,
			ActorID:   actorID,
			Title:     "Unassigned from " + t.Title,
			DedupKey:  "unassignment:" + t.ID + ":" + day,
		}); err != nil {
			return err
		}
	}
	if t.AssigneeID != nil {
		if err := e.requireProjectAccess(ctx, tx, t.ProjectID, *t.AssigneeID); err != nil {
			return err
		}
		if err := e.Repo.UpsertAssignment(ctx, tx, domain.TaskAssignment{
			TaskID: t.ID, ProfileID: *t.AssigneeID, Role: "assignee", CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := e.emitAttention(ctx, tx, attentionInput{
			ProfileID: *t.AssigneeID,
			Kind:      "assignment",
			Priority:  "high",
			TaskID:    &t.ID,
			ProjectID: &t.ProjectID,
			ActorID:   actorID,
			Title:     "Assigned to " + t.Title,
			DedupKey:  "assignment:" + t.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReorderTask moves a task to a target index within its current stage and
// renumbers the stage densely. Requires project editor.
func (e Engine) ReorderTask(ctx context.Context, callerID, taskID string, toIndex int) error {
	if toIndex < 0 {
		return fault.Invariant("index must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return err
	}
	ordered, err := e.Repo.ListStageTasksOrdered(ctx, tx, t.ProjectID, t.StageID)
	if err != nil {
		return err
	}
	reordered := make([]domain.Task, 0, len(ordered))
	for _, o := range ordered {
		if o.ID != t.ID {
			reordered = append(reordered, o)
		}
	}
	if toIndex > len(reordered) {
		toIndex = len(reordered)
	}
	reordered = append(reordered[:toIndex], append([]domain.Task{t}, reordered[toIndex:]...)...)
	now := e.nowStr()
	for i, o := range reordered {
		if o.Position == i && o.ID != t.ID {
			continue
		}
		if err := e.Repo.SetTaskPosition(ctx, tx, o.ID, i, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteTask removes a task and its dependents. Requires project editor.
// The activity row is written first so the audit trail keeps the title.
func (e Engine) DeleteTask(ctx context.Context, callerID, taskID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return err
	}
	if err := e.logActivity(ctx, tx, t.ProjectID, callerID, "task.deleted", &t, nil, nil); err != nil {
		return err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "task.deleted", ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: callerID,
		Payload: events.Payload{"title": t.Title},
	}); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(emitted)
	return nil
}

// AssignTask adds an assignment edge. Idempotent per (task, profile); a
// repeated call only refreshes the role. Requires project editor.
func (e Engine) AssignTask(ctx context.Context, callerID, taskID, profileID, role string) error {
	if role == "" {
		role = "assignee"
	}
	switch role {
	case "owner", "assignee", "reviewer", "collaborator":
	default:
		return fault.Invariant("invalid assignment role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return err
	}
	if err := e.requireProjectAccess(ctx, tx, t.ProjectID, profileID); err != nil {
		return err
	}
	_, existedErr := e.Repo.GetAssignment(ctx, tx, taskID, profileID)
	existed := existedErr == nil
	if existedErr != nil && !errors.Is(existedErr, repo.ErrNotFound) {
		return existedErr
	}
	now := e.nowStr()
	if err := e.Repo.UpsertAssignment(ctx, tx, domain.TaskAssignment{
		TaskID: taskID, ProfileID: profileID, Role: role, CreatedAt: now,
	}); err != nil {
		return err
	}
	if role == "assignee" && t.AssigneeID == nil {
		t.AssigneeID = &profileID
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
	}
	if !existed {
		if err := e.emitAttention(ctx, tx, attentionInput{
			ProfileID: profileID,
			Kind:      "assignment",
			Priority:  "high",
			TaskID:    &t.ID,
			ProjectID: &t.ProjectID,
			ActorID:   callerID,
			Title:     "Assigned to " + t.Title,
			DedupKey:  "assignment:" + t.ID,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UnassignTask removes an assignment edge. Removing an edge that does not
// exist is a no-op. Requires project editor.
func (e Engine) UnassignTask(ctx context.Context, callerID, taskID, profileID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return err
	}
	if err := e.Repo.DeleteAssignment(ctx, tx, taskID, profileID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	now := e.nowStr()
	if t.AssigneeID != nil && *t.AssigneeID == profileID {
		next, err := e.Repo.FirstAssigneeEdge(ctx, tx, taskID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if errors.Is(err, repo.ErrNotFound) {
			t.AssigneeID = nil
		} else {
			t.AssigneeID = &next
		}
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
	}
	day := e.now().UTC().Format("2006-01-02")
	if err := e.emitAttention(ctx, tx, attentionInput{
		ProfileID: profileID,
		Kind:      "unassignment",
		TaskID:    &t.ID,
		ProjectID: &t.ProjectID,
		ActorID:   callerID,
		Title:     "Unassigned from " + t.Title,
		DedupKey:  "unassignment:" + t.ID + ":" + day,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddSubtask appends a checklist item to a task. Requires project editor.
func (e Engine) AddSubtask(ctx context.Context, callerID, taskID, title string, assigneeID *string) (domain.Subtask, error) {
	if title == "" {
		return domain.Subtask{}, fault.Invariant("subtask title required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Subtask{}, err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Subtask{}, notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.Subtask{}, err
	}
	if assigneeID != nil {
		if err := e.requireProjectAccess(ctx, tx, t.ProjectID, *assigneeID); err != nil {
			return domain.Subtask{}, err
		}
	}
	pos, err := e.Repo.MaxSubtaskPosition(ctx, tx, taskID)
	if err != nil {
		return domain.Subtask{}, err
	}
	now := e.nowStr()
	s := domain.Subtask{
		ID: newID(), TaskID: taskID, Title: title, Position: pos + 1,
		AssigneeID: assigneeID, CreatedAt: now, UpdatedAt: now,
	}
	if err := e.Repo.InsertSubtask(ctx, tx, s); err != nil {
		return domain.Subtask{}, err
	}
	return s, tx.Commit()
}

// SetSubtaskDone flips a checklist item. Requires project editor.
func (e Engine) SetSubtaskDone(ctx context.Context, callerID, subtaskID string, done bool) (domain.Subtask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Subtask{}, err
	}
	s, err := e.Repo.GetSubtask(ctx, tx, subtaskID)
	if err != nil {
		return domain.Subtask{}, notFound(err, "subtask %s", subtaskID)
	}
	t, err := e.Repo.GetTask(ctx, tx, s.TaskID)
	if err != nil {
		return domain.Subtask{}, notFound(err, "task %s", s.TaskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.Subtask{}, err
	}
	s.Done = done
	s.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateSubtask(ctx, tx, s); err != nil {
		return domain.Subtask{}, err
	}
	return s, tx.Commit()
}

// UpdateSubtaskInput carries partial subtask changes; nil fields keep the
// current value. AssigneeIDSet distinguishes "unassign" from "untouched".
type UpdateSubtaskInput struct {
	Title         *string
	AssigneeID    *string
	AssigneeIDSet bool
	Position      *int
}

// UpdateSubtask edits a checklist item's title, assignee or position.
// Requires project editor.
func (e Engine) UpdateSubtask(ctx context.Context, callerID, subtaskID string, in UpdateSubtaskInput) (domain.Subtask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Subtask{}, err
	}
	s, err := e.Repo.GetSubtask(ctx, tx, subtaskID)
	if err != nil {
		return domain.Subtask{}, notFound(err, "subtask %s", subtaskID)
	}
	t, err := e.Repo.GetTask(ctx, tx, s.TaskID)
	if err != nil {
		return domain.Subtask{}, notFound(err, "task %s", s.TaskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.Subtask{}, err
	}
	if in.Title != nil {
		if *in.Title == "" {
			return domain.Subtask{}, fault.Invariant("subtask title required")
		}
		s.Title = *in.Title
	}
	if in.AssigneeIDSet {
		if in.AssigneeID != nil {
			if err := e.requireProjectAccess(ctx, tx, t.ProjectID, *in.AssigneeID); err != nil {
				return domain.Subtask{}, err
			}
		}
		s.AssigneeID = in.AssigneeID
	}
	if in.Position != nil {
		if *in.Position < 0 {
			return domain.Subtask{}, fault.Invariant("position must not be negative")
		}
		s.Position = *in.Position
	}
	s.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateSubtask(ctx, tx, s); err != nil {
		return domain.Subtask{}, err
	}
	return s, tx.Commit()
}

// DeleteSubtask removes a checklist item. Requires project editor.
func (e Engine) DeleteSubtask(ctx context.Context, callerID, subtaskID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	s, err := e.Repo.GetSubtask(ctx, tx, subtaskID)
	if err != nil {
		return notFound(err, "subtask %s", subtaskID)
	}
	t, err := e.Repo.GetTask(ctx, tx, s.TaskID)
	if err != nil {
		return notFound(err, "task %s", s.TaskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return err
	}
	if err := e.Repo.DeleteSubtask(ctx, tx, subtaskID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListActivity returns the project's audit trail, newest first.
func (e Engine) ListActivity(ctx context.Context, callerID string, f repo.ActivityFilters) ([]domain.ActivityEntry, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	if f.ProjectID == "" {
		return nil, fault.Invariant("project id required")
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, f.ProjectID, callerID); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return e.Repo.ListActivity(ctx, f)
}
