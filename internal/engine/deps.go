package engine

import (
	"context"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/fault"
)

// AddDependency records that blockerID must finish before blockedID can.
// Requires project editor on both tasks' project. The edge is rejected when
// it would close a cycle; a breadth-first walk from the blocked task over
// existing edges decides that before the row is written.
func (e Engine) AddDependency(ctx context.Context, callerID, blockerID, blockedID, depType string, lagDays int) (domain.TaskDependency, error) {
	if blockerID == blockedID {
		return domain.TaskDependency{}, fault.Invariant("a task cannot block itself")
	}
	if depType == "" {
		depType = domain.DepFinishToStart
	}
	switch depType {
	case domain.DepFinishToStart, domain.DepStartToStart, domain.DepFinishToFinish, domain.DepStartToFinish:
	default:
		return domain.TaskDependency{}, fault.Invariant("invalid dependency type %q", depType)
	}
	if lagDays < 0 {
		return domain.TaskDependency{}, fault.Invariant("lag must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskDependency{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.TaskDependency{}, err
	}
	blocker, err := e.Repo.GetTask(ctx, tx, blockerID)
	if err != nil {
		return domain.TaskDependency{}, notFound(err, "task %s", blockerID)
	}
	blocked, err := e.Repo.GetTask(ctx, tx, blockedID)
	if err != nil {
		return domain.TaskDependency{}, notFound(err, "task %s", blockedID)
	}
	if blocker.ProjectID != blocked.ProjectID {
		return domain.TaskDependency{}, fault.Invariant("dependencies cannot cross projects")
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, blocker.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.TaskDependency{}, err
	}
	exists, err := e.Repo.DependencyExists(ctx, tx, blockerID, blockedID)
	if err != nil {
		return domain.TaskDependency{}, err
	}
	if exists {
		return domain.TaskDependency{}, fault.Conflict("dependency already exists")
	}

	// BFS from the blocked task. Reaching the blocker means the new edge
	// would complete a loop.
	queue := []string{blockedID}
	visited := map[string]bool{blockedID: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next, err := e.Repo.BlockedIDsOf(ctx, tx, cur)
		if err != nil {
			return domain.TaskDependency{}, err
		}
		for _, id := range next {
			if id == blockerID {
				return domain.TaskDependency{}, fault.CycleDetected("dependency would create a cycle through task %s", cur)
			}
			if !visited[id] {
				visited[id] = true
				queue = append(queue, id)
			}
		}
	}

	d := domain.TaskDependency{
		BlockerID: blockerID,
		BlockedID: blockedID,
		Type:      depType,
		LagDays:   lagDays,
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertDependency(ctx, tx, d); err != nil {
		return domain.TaskDependency{}, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "dependency.added", ProjectID: blocker.ProjectID, EntityKind: "task", EntityID: blockedID, ActorID: callerID,
		Payload: events.Payload{"blocker_id": blockerID, "type": depType},
	}); err != nil {
		return domain.TaskDependency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskDependency{}, err
	}
	e.publish(emitted)
	return d, nil
}

// RemoveDependency deletes one edge. Requires project editor.
func (e Engine) RemoveDependency(ctx context.Context, callerID, blockerID, blockedID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	blocked, err := e.Repo.GetTask(ctx, tx, blockedID)
	if err != nil {
		return notFound(err, "task %s", blockedID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, blocked.ProjectID, callerID, authz.RoleEditor); err != nil {
		return err
	}
	if err := e.Repo.DeleteDependency(ctx, tx, blockerID, blockedID); err != nil {
		return notFound(err, "dependency %s -> %s", blockerID, blockedID)
	}
	return tx.Commit()
}

// ListDependencies returns the edges blocking a task.
func (e Engine) ListDependencies(ctx context.Context, callerID, taskID string) ([]domain.TaskDependency, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	t, err := e.Repo.GetTask(ctx, e.DB, taskID)
	if err != nil {
		return nil, notFound(err, "task %s", taskID)
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, t.ProjectID, callerID); err != nil {
		return nil, fault.NotFound("task %s", taskID)
	}
	return e.Repo.ListDependencies(ctx, e.DB, taskID)
}

// TaskIsBlocked reports whether any incomplete blocker still gates a task.
func (e Engine) TaskIsBlocked(ctx context.Context, callerID, taskID string) (bool, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return false, err
	}
	t, err := e.Repo.GetTask(ctx, e.DB, taskID)
	if err != nil {
		return false, notFound(err, "task %s", taskID)
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, t.ProjectID, callerID); err != nil {
		return false, fault.NotFound("task %s", taskID)
	}
	return e.Repo.TaskIsBlocked(ctx, e.DB, taskID)
}
