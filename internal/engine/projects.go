package engine

import (
	"context"
	"errors"

	"teamline/internal/config"
	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

// CreateProjectInput carries the optional pieces of project creation.
// Stages fall back to the workspace defaults when empty.
type CreateProjectInput struct {
	OrgID  string
	TeamID *string
	Name   string
	Color  string
	Stages []config.StageTemplate
}

// CreateProject provisions a project with its workflow stages and makes the
// creator its owner. Requires org member or better.
func (e Engine) CreateProject(ctx context.Context, callerID string, in CreateProjectInput) (domain.Project, []domain.Stage, error) {
	if in.Name == "" {
		return domain.Project{}, nil, fault.Invariant("project name required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Project{}, nil, err
	}
	if _, err := e.Repo.GetOrg(ctx, tx, in.OrgID); err != nil {
		return domain.Project{}, nil, notFound(err, "organization %s", in.OrgID)
	}
	role, err := e.Authz.OrgRole(ctx, tx, in.OrgID, callerID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	if role == authz.RoleNone {
		return domain.Project{}, nil, fault.NotFound("organization %s", in.OrgID)
	}
	if in.TeamID != nil {
		team, err := e.Repo.GetTeam(ctx, tx, *in.TeamID)
		if err != nil {
			return domain.Project{}, nil, notFound(err, "team %s", *in.TeamID)
		}
		if team.OrgID != in.OrgID {
			return domain.Project{}, nil, fault.Invariant("team %s belongs to another organization", *in.TeamID)
		}
	}
	templates := in.Stages
	if len(templates) == 0 && e.Config != nil {
		templates = e.Config.Defaults.Stages
	}
	if err := validateStageTemplates(templates); err != nil {
		return domain.Project{}, nil, err
	}
	now := e.nowStr()
	p := domain.Project{
		ID: newID(), OrgID: in.OrgID, TeamID: in.TeamID, Name: in.Name, Color: in.Color,
		CreatedBy: callerID, CreatedAt: now, UpdatedAt: now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, nil, err
	}
	stages := make([]domain.Stage, 0, len(templates))
	for i, t := range templates {
		s := domain.Stage{
			ID: newID(), ProjectID: p.ID, Name: t.Name, Color: t.Color, Position: i,
			WipLimit: t.WipLimit, WipLimitType: t.WipLimitType, IsDone: t.IsDone,
		}
		if s.WipLimit != nil && s.WipLimitType == "" {
			s.WipLimitType = "warning"
		}
		if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
			return domain.Project{}, nil, err
		}
		stages = append(stages, s)
	}
	if err := e.Repo.UpsertProjectMember(ctx, tx, domain.ProjectMember{
		ProjectID: p.ID, ProfileID: callerID, Role: "owner", CreatedAt: now,
	}); err != nil {
		return domain.Project{}, nil, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "project.created", ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: callerID,
		Payload: events.Payload{"name": p.Name, "org_id": p.OrgID},
	}); err != nil {
		return domain.Project{}, nil, err
	}
	if err := e.logActivity(ctx, tx, p.ID, callerID, "project.created", nil, nil, map[string]any{"name": p.Name}); err != nil {
		return domain.Project{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, nil, err
	}
	e.publish(emitted)
	return p, stages, nil
}

func validateStageTemplates(ts []config.StageTemplate) error {
	if len(ts) == 0 {
		return fault.Invariant("a project needs at least one stage")
	}
	done := false
	for _, t := range ts {
		if t.Name == "" {
			return fault.Invariant("stage name required")
		}
		if t.WipLimit != nil && *t.WipLimit < 1 {
			return fault.Invariant("wip limit must be positive")
		}
		switch t.WipLimitType {
		case "", "warning", "strict":
		default:
			return fault.Invariant("invalid wip limit type %q", t.WipLimitType)
		}
		if t.IsDone {
			done = true
		}
	}
	if !done {
		return fault.Invariant("a project needs a done stage")
	}
	return nil
}

// GetProject returns a project visible to the caller along with its stages.
func (e Engine) GetProject(ctx context.Context, callerID, projectID string) (domain.Project, []domain.Stage, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return domain.Project{}, nil, err
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, projectID, callerID); err != nil {
		return domain.Project{}, nil, err
	}
	p, err := e.Repo.GetProject(ctx, e.DB, projectID)
	if err != nil {
		return domain.Project{}, nil, notFound(err, "project %s", projectID)
	}
	stages, err := e.Repo.ListStages(ctx, e.DB, projectID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	return p, stages, nil
}

// ListProjects returns every project the caller can see.
func (e Engine) ListProjects(ctx context.Context, callerID string) ([]domain.Project, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	return e.Repo.ListProjectsForProfile(ctx, callerID)
}

// UpdateStage changes one stage's attributes. Requires project admin.
func (e Engine) UpdateStage(ctx context.Context, callerID string, s domain.Stage) (domain.Stage, error) {
	if err := validateStageTemplates([]config.StageTemplate{{
		Name: s.Name, WipLimit: s.WipLimit, WipLimitType: s.WipLimitType, IsDone: true,
	}}); err != nil {
		return domain.Stage{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stage{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Stage{}, err
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, s.ProjectID, callerID, authz.RoleAdmin); err != nil {
		return domain.Stage{}, err
	}
	cur, err := e.Repo.GetStage(ctx, tx, s.ProjectID, s.ID)
	if err != nil {
		return domain.Stage{}, notFound(err, "stage %s", s.ID)
	}
	if s.WipLimit != nil && s.WipLimitType == "" {
		s.WipLimitType = "warning"
	}
	if cur.IsDone && !s.IsDone {
		others, err := e.Repo.ListStages(ctx, tx, s.ProjectID)
		if err != nil {
			return domain.Stage{}, err
		}
		stillDone := false
		for _, o := range others {
			if o.ID != s.ID && o.IsDone {
				stillDone = true
			}
		}
		if !stillDone {
			return domain.Stage{}, fault.Invariant("a project needs a done stage")
		}
	}
	if err := e.Repo.UpdateStage(ctx, tx, s); err != nil {
		return domain.Stage{}, err
	}
	return s, tx.Commit()
}

// AddStage appends a stage to a project's workflow. Requires project admin.
func (e Engine) AddStage(ctx context.Context, callerID, projectID string, t config.StageTemplate) (domain.Stage, error) {
	if t.Name == "" {
		return domain.Stage{}, fault.Invariant("stage name required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stage{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Stage{}, err
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, authz.RoleAdmin); err != nil {
		return domain.Stage{}, err
	}
	existing, err := e.Repo.ListStages(ctx, tx, projectID)
	if err != nil {
		return domain.Stage{}, err
	}
	s := domain.Stage{
		ID: newID(), ProjectID: projectID, Name: t.Name, Color: t.Color, Position: len(existing),
		WipLimit: t.WipLimit, WipLimitType: t.WipLimitType, IsDone: t.IsDone,
	}
	if s.WipLimit != nil && s.WipLimitType == "" {
		s.WipLimitType = "warning"
	}
	if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
		return domain.Stage{}, err
	}
	return s, tx.Commit()
}

// RemoveStage deletes an empty stage. Requires project admin.
func (e Engine) RemoveStage(ctx context.Context, callerID, projectID, stageID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, authz.RoleAdmin); err != nil {
		return err
	}
	stage, err := e.Repo.GetStage(ctx, tx, projectID, stageID)
	if err != nil {
		return notFound(err, "stage %s", stageID)
	}
	n, err := e.Repo.CountTopLevelInStage(ctx, tx, projectID, stageID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fault.Conflict("stage %s still holds tasks", stageID)
	}
	if stage.IsDone {
		others, err := e.Repo.ListStages(ctx, tx, projectID)
		if err != nil {
			return err
		}
		stillDone := false
		for _, o := range others {
			if o.ID != stageID && o.IsDone {
				stillDone = true
			}
		}
		if !stillDone {
			return fault.Invariant("a project needs a done stage")
		}
	}
	if err := e.Repo.DeleteStage(ctx, tx, projectID, stageID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetProjectMember grants or re-roles a direct project membership.
// Requires project admin; granting owner requires owner.
func (e Engine) SetProjectMember(ctx context.Context, callerID, projectID, profileID, role string) error {
	switch role {
	case "owner", "admin", "editor", "reader":
	default:
		return fault.Invariant("invalid project role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	min := authz.RoleAdmin
	if role == "owner" {
		min = authz.RoleOwner
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, min); err != nil {
		return err
	}
	if ok, err := e.Repo.ProfileExists(ctx, tx, profileID); err != nil {
		return err
	} else if !ok {
		return fault.NotFound("profile %s", profileID)
	}
	if role != "owner" {
		if err := e.ensureNotLastProjectOwner(ctx, tx, projectID, profileID); err != nil {
			return err
		}
	}
	now := e.nowStr()
	if err := e.Repo.UpsertProjectMember(ctx, tx, domain.ProjectMember{
		ProjectID: projectID, ProfileID: profileID, Role: role, CreatedAt: now,
	}); err != nil {
		return err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "membership.added", ProjectID: projectID, EntityKind: "project", EntityID: projectID, ActorID: callerID,
		Payload: events.Payload{"profile_id": profileID, "role": role},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(emitted)
	return nil
}

// RemoveProjectMember drops a direct membership edge. Requires project admin;
// the last owner cannot be removed.
func (e Engine) RemoveProjectMember(ctx context.Context, callerID, projectID, profileID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, authz.RoleAdmin); err != nil {
		return err
	}
	if err := e.ensureNotLastProjectOwner(ctx, tx, projectID, profileID); err != nil {
		return err
	}
	if err := e.Repo.DeleteProjectMember(ctx, tx, projectID, profileID); err != nil {
		return notFound(err, "membership of %s in project %s", profileID, projectID)
	}
	return tx.Commit()
}

func (e Engine) ensureNotLastProjectOwner(ctx context.Context, q repo.DBTX, projectID, profileID string) error {
	role, err := e.Repo.GetProjectMemberRole(ctx, q, projectID, profileID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if role != "owner" {
		return nil
	}
	n, err := e.Repo.CountProjectOwners(ctx, q, projectID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return fault.LastOwner("project %s would have no owner", projectID)
	}
	return nil
}

// DeleteProject removes a project and everything in it. Project owner only.
func (e Engine) DeleteProject(ctx context.Context, callerID, projectID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	if err := e.Authz.RequireProjectRole(ctx, tx, projectID, callerID, authz.RoleOwner); err != nil {
		return err
	}
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return notFound(err, "project %s", projectID)
	}
	if err := e.logActivity(ctx, tx, projectID, callerID, "project.deleted", nil, nil, map[string]any{"name": p.Name}); err != nil {
		return err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "project.deleted", ProjectID: projectID, EntityKind: "project", EntityID: projectID, ActorID: callerID,
		Payload: events.Payload{"name": p.Name},
	}); err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, tx, projectID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(emitted)
	return nil
}

// ProjectStats summarizes a project for dashboards.
type ProjectStats struct {
	TasksByStage map[string]int `json:"tasks_by_stage"`
	Members      int            `json:"members"`
}

// GetProjectStats counts top-level tasks per stage.
func (e Engine) GetProjectStats(ctx context.Context, callerID, projectID string) (ProjectStats, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return ProjectStats{}, err
	}
	if _, err := e.Authz.RequireProjectRead(ctx, e.DB, projectID, callerID); err != nil {
		return ProjectStats{}, err
	}
	byStage, err := e.Repo.CountTasksByStage(ctx, e.DB, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	members, err := e.Repo.ListProjectMembers(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	return ProjectStats{TasksByStage: byStage, Members: len(members)}, nil
}
