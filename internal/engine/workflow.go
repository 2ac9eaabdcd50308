package engine

import (
	"context"
	"database/sql"
	"time"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/fault"
)

// MoveResult reports a stage move, including a WIP warning when the target
// stage is over its soft limit.
type MoveResult struct {
	Task       domain.Task `json:"task"`
	WipWarning string      `json:"wip_warning,omitempty"`
}

// MoveTaskToStage moves a task across its project's workflow. Requires
// project editor. A done-stage target puts the task into approval rather
// than completing it; leaving a done stage while pending clears approval,
// and an approved task stays approved wherever it moves. Strict
// WIP limits block the move, warning limits let it through and flag it.
func (e Engine) MoveTaskToStage(ctx context.Context, callerID, taskID, stageID string) (MoveResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return MoveResult{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return MoveResult{}, err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return MoveResult{}, notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return MoveResult{}, err
	}
	if t.StageID == stageID {
		return MoveResult{Task: t}, tx.Commit()
	}
	from, err := e.Repo.GetStage(ctx, tx, t.ProjectID, t.StageID)
	if err != nil {
		return MoveResult{}, notFound(err, "stage %s", t.StageID)
	}
	to, err := e.Repo.GetStage(ctx, tx, t.ProjectID, stageID)
	if err != nil {
		return MoveResult{}, notFound(err, "stage %s", stageID)
	}

	warning := ""
	if to.WipLimit != nil && t.ParentID == nil {
		count, err := e.Repo.CountTopLevelInStage(ctx, tx, t.ProjectID, to.ID)
		if err != nil {
			return MoveResult{}, err
		}
		if count+1 > *to.WipLimit {
			if to.WipLimitType == "strict" {
				return MoveResult{}, fault.WipExceeded("stage %s is at its limit of %d", to.Name, *to.WipLimit)
			}
			warning = "stage over its limit"
		}
	}

	now := e.nowStr()
	t.StageID = to.ID
	t.UpdatedAt = now
	if to.IsDone {
		// Only unfinished work enters review; an approved task carries its
		// approval across done stages.
		if t.Approval == domain.ApprovalNone || t.Approval == domain.ApprovalRejected {
			t.Approval = domain.ApprovalPending
			t.RejectionReason = nil
			t.ApproverID = nil
			t.CompletedAt = nil
		}
	} else if from.IsDone && t.Approval == domain.ApprovalPending {
		t.Approval = domain.ApprovalNone
		t.RejectionReason = nil
		t.ApproverID = nil
		t.CompletedAt = nil
	}
	pos, err := e.Repo.MaxPositionInStage(ctx, tx, t.ProjectID, to.ID)
	if err != nil {
		return MoveResult{}, err
	}
	t.Position = pos + 1
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return MoveResult{}, err
	}

	if err := e.notifyStatusChange(ctx, tx, t, to, callerID); err != nil {
		return MoveResult{}, err
	}
	if err := e.logActivity(ctx, tx, t.ProjectID, callerID, "task.moved", &t, nil, map[string]any{
		"from": from.Name, "to": to.Name,
	}); err != nil {
		return MoveResult{}, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "task.moved", ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: callerID,
		Payload: events.Payload{"from_stage_id": from.ID, "to_stage_id": to.ID},
	}); err != nil {
		return MoveResult{}, err
	}
	if warning != "" {
		if err := e.emit(ctx, tx, &emitted, events.Event{
			Type: "stage.wip_warning", ProjectID: t.ProjectID, EntityKind: "stage", EntityID: to.ID, ActorID: callerID,
			Payload: events.Payload{"stage_id": to.ID, "limit": *to.WipLimit},
		}); err != nil {
			return MoveResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return MoveResult{}, err
	}
	e.publish(emitted)
	return MoveResult{Task: t, WipWarning: warning}, nil
}

// notifyStatusChange surfaces a stage move to the people on the task other
// than the mover. The dedup key folds repeated moves to the same stage into
// one open item.
func (e Engine) notifyStatusChange(ctx context.Context, tx *sql.Tx, t domain.Task, to domain.Stage, actorID string) error {
	targets := map[string]bool{t.CreatedBy: true}
	if t.AssigneeID != nil {
		targets[*t.AssigneeID] = true
	}
	for profileID := range targets {
		if err := e.emitAttention(ctx, tx, attentionInput{
			ProfileID: profileID,
			Kind:      "status_change",
			TaskID:    &t.ID,
			ProjectID: &t.ProjectID,
			ActorID:   actorID,
			Title:     t.Title + " moved to " + to.Name,
			DedupKey:  "status:" + t.ID + ":" + to.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ApproveTask accepts a pending completion. Requires project admin. Only a
// pending task in a done stage can be approved. A recurring task spawns its
// next occurrence on approval.
func (e Engine) ApproveTask(ctx context.Context, callerID, taskID string) (domain.Task, error) {
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
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleAdmin); err != nil {
		return domain.Task{}, err
	}
	if t.Approval != domain.ApprovalPending {
		return domain.Task{}, fault.ApprovalState("task %s is %s, not pending", t.ID, t.Approval)
	}
	stage, err := e.Repo.GetStage(ctx, tx, t.ProjectID, t.StageID)
	if err != nil {
		return domain.Task{}, notFound(err, "stage %s", t.StageID)
	}
	if !stage.IsDone {
		return domain.Task{}, fault.ApprovalState("task %s is not in a done stage", t.ID)
	}
	now := e.nowStr()
	t.Approval = domain.ApprovalApproved
	t.ApproverID = &callerID
	t.RejectionReason = nil
	t.CompletedAt = &now
	t.UpdatedAt = now

	var emitted []events.Event
	if t.RecurrenceRule != "" && (t.MaxOccurrences == nil || t.OccurrencesCreated+1 < *t.MaxOccurrences) {
		next, err := e.spawnNextOccurrence(ctx, tx, t, callerID)
		if err != nil {
			return domain.Task{}, err
		}
		// the completed task keeps a pointer at when its successor is due
		t.NextOccurrence = next.DueAt
		if err := e.emit(ctx, tx, &emitted, events.Event{
			Type: "task.created", ProjectID: next.ProjectID, EntityKind: "task", EntityID: next.ID, ActorID: callerID,
			Payload: events.Payload{"title": next.Title, "recurring_from": t.ID},
		}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}

	if err := e.logActivity(ctx, tx, t.ProjectID, callerID, "task.approved", &t, nil, nil); err != nil {
		return domain.Task{}, err
	}
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "task.approved", ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: callerID,
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

// spawnNextOccurrence clones an approved recurring task into the first open
// stage with the due date advanced by the recurrence interval.
func (e Engine) spawnNextOccurrence(ctx context.Context, tx *sql.Tx, t domain.Task, actorID string) (domain.Task, error) {
	stage, err := e.Repo.FirstNonDoneStage(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Task{}, notFound(err, "no open stage in project %s", t.ProjectID)
	}
	base := e.now().UTC()
	if t.DueAt != nil {
		if parsed, err := time.Parse(time.RFC3339, *t.DueAt); err == nil {
			base = parsed
		}
	}
	var nextDue time.Time
	switch t.RecurrenceRule {
	case "daily":
		nextDue = base.AddDate(0, 0, 1)
	case "weekly":
		nextDue = base.AddDate(0, 0, 7)
	case "monthly":
		nextDue = base.AddDate(0, 1, 0)
	default:
		return domain.Task{}, fault.Invariant("invalid recurrence rule %q", t.RecurrenceRule)
	}
	due := nextDue.Format(time.RFC3339)
	pos, err := e.Repo.MaxPositionInStage(ctx, tx, t.ProjectID, stage.ID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowStr()
	next := domain.Task{
		ID:                 newID(),
		ProjectID:          t.ProjectID,
		Title:              t.Title,
		Description:        t.Description,
		StageID:            stage.ID,
		Priority:           t.Priority,
		Position:           pos + 1,
		DueAt:              &due,
		Approval:           domain.ApprovalNone,
		AssigneeID:         t.AssigneeID,
		CreatedBy:          t.CreatedBy,
		Tags:               t.Tags,
		EstimatedHours:     t.EstimatedHours,
		Color:              t.Color,
		RecurrenceRule:     t.RecurrenceRule,
		OccurrencesCreated: t.OccurrencesCreated + 1,
		MaxOccurrences:     t.MaxOccurrences,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertTask(ctx, tx, next); err != nil {
		return domain.Task{}, err
	}
	if next.AssigneeID != nil {
		if err := e.Repo.UpsertAssignment(ctx, tx, domain.TaskAssignment{
			TaskID: next.ID, ProfileID: *next.AssigneeID, Role: "assignee", CreatedAt: now,
		}); err != nil {
			return domain.Task{}, err
		}
		if err := e.emitAttention(ctx, tx, attentionInput{
			ProfileID: *next.AssigneeID,
			Kind:      "assignment",
			Priority:  "high",
			TaskID:    &next.ID,
			ProjectID: &next.ProjectID,
			ActorID:   actorID,
			Title:     "Assigned to " + next.Title,
			DedupKey:  "assignment:" + next.ID,
		}); err != nil {
			return domain.Task{}, err
		}
	}
	return next, nil
}

// RejectTask sends a pending completion back. Requires project admin. The
// task returns to returnStageID, or the first open stage when empty, and
// keeps the rejection reason until it re-enters a done stage.
func (e Engine) RejectTask(ctx context.Context, callerID, taskID, reason, returnStageID string) (domain.Task, error) {
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
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleAdmin); err != nil {
		return domain.Task{}, err
	}
	if t.Approval != domain.ApprovalPending {
		return domain.Task{}, fault.ApprovalState("task %s is %s, not pending", t.ID, t.Approval)
	}
	var ret domain.Stage
	if returnStageID != "" {
		ret, err = e.Repo.GetStage(ctx, tx, t.ProjectID, returnStageID)
		if err != nil {
			return domain.Task{}, notFound(err, "stage %s", returnStageID)
		}
		if ret.IsDone {
			return domain.Task{}, fault.Invariant("return stage must not be a done stage")
		}
	} else {
		ret, err = e.Repo.FirstNonDoneStage(ctx, tx, t.ProjectID)
		if err != nil {
			return domain.Task{}, notFound(err, "no open stage in project %s", t.ProjectID)
		}
	}
	now := e.nowStr()
	pos, err := e.Repo.MaxPositionInStage(ctx, tx, t.ProjectID, ret.ID)
	if err != nil {
		return domain.Task{}, err
	}
	t.StageID = ret.ID
	t.Position = pos + 1
	t.Approval = domain.ApprovalRejected
	t.ApproverID = &callerID
	t.RejectionReason = optionalString(reason)
	t.CompletedAt = nil
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.notifyStatusChange(ctx, tx, t, ret, callerID); err != nil {
		return domain.Task{}, err
	}
	if err := e.logActivity(ctx, tx, t.ProjectID, callerID, "task.rejected", &t, nil, map[string]any{"reason": reason}); err != nil {
		return domain.Task{}, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "task.rejected", ProjectID: t.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: callerID,
		Payload: events.Payload{"title": t.Title, "reason": reason},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.publish(emitted)
	return t, nil
}
