package engine

import (
	"context"
	"errors"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

// StartTimer begins a running time entry for the caller on a task.
// At most one entry per profile runs at a time; starting a new one stops
// the previous entry in the same transaction.
func (e Engine) StartTimer(ctx context.Context, callerID, taskID string) (domain.TimeEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.TimeEntry{}, err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.TimeEntry{}, notFound(err, "task %s", taskID)
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, t.ProjectID, callerID, authz.RoleEditor); err != nil {
		return domain.TimeEntry{}, err
	}
	now := e.nowStr()
	if _, err := e.Repo.StopRunningEntry(ctx, tx, callerID, now); err != nil {
		return domain.TimeEntry{}, err
	}
	entry := domain.TimeEntry{
		ID: newID(), TaskID: taskID, ProfileID: callerID,
		StartedAt: now, IsRunning: true,
	}
	if err := e.Repo.InsertTimeEntry(ctx, tx, entry); err != nil {
		return domain.TimeEntry{}, err
	}
	return entry, tx.Commit()
}

// StopTimer ends the caller's running entry and returns it with its
// duration filled in. Stopping with nothing running is a Conflict.
func (e Engine) StopTimer(ctx context.Context, callerID string) (domain.TimeEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.TimeEntry{}, err
	}
	running, err := e.Repo.GetRunningEntry(ctx, tx, callerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TimeEntry{}, fault.Conflict("no running time entry")
		}
		return domain.TimeEntry{}, err
	}
	now := e.nowStr()
	if _, err := e.Repo.StopRunningEntry(ctx, tx, callerID, now); err != nil {
		return domain.TimeEntry{}, err
	}
	entry, err := e.Repo.GetTimeEntry(ctx, tx, running.ID)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	return entry, tx.Commit()
}

// RunningTimer returns the caller's running entry, if any.
func (e Engine) RunningTimer(ctx context.Context, callerID string) (domain.TimeEntry, bool, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return domain.TimeEntry{}, false, err
	}
	entry, err := e.Repo.GetRunningEntry(ctx, e.DB, callerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TimeEntry{}, false, nil
		}
		return domain.TimeEntry{}, false, err
	}
	return entry, true, nil
}

// ListTaskTime returns a task's time entries, newest first.
func (e Engine) ListTaskTime(ctx context.Context, callerID, taskID string) ([]domain.TimeEntry, error) {
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
	return e.Repo.ListTaskTimeEntries(ctx, e.DB, taskID)
}
