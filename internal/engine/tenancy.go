package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/fault"
	"teamline/internal/repo"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// CreateOrg creates an organization; the creator becomes its first owner.
func (e Engine) CreateOrg(ctx context.Context, callerID, name, slug string) (domain.Organization, error) {
	if name == "" {
		return domain.Organization{}, fault.Invariant("organization name required")
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return domain.Organization{}, fault.Invariant("invalid slug %q", slug)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Organization{}, err
	}
	taken, err := e.Repo.SlugTaken(ctx, tx, slug)
	if err != nil {
		return domain.Organization{}, err
	}
	if taken {
		return domain.Organization{}, fault.Conflict("slug %s already in use", slug)
	}
	now := e.nowStr()
	o := domain.Organization{ID: newID(), Name: name, Slug: slug, CreatedBy: callerID, CreatedAt: now}
	if err := e.Repo.InsertOrg(ctx, tx, o); err != nil {
		return domain.Organization{}, err
	}
	if err := e.Repo.InsertOrgMember(ctx, tx, domain.OrgMember{OrgID: o.ID, ProfileID: callerID, Role: "owner", CreatedAt: now}); err != nil {
		return domain.Organization{}, err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "membership.added", ProjectID: "", EntityKind: "organization", EntityID: o.ID, ActorID: callerID,
		Payload: events.Payload{"profile_id": callerID, "role": "owner", "org_id": o.ID},
	}); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	e.publish(emitted)
	return o, nil
}

// SetOrgMember adds a member or changes their role. Requires org admin;
// demoting the last owner fails.
func (e Engine) SetOrgMember(ctx context.Context, callerID, orgID, profileID, role string) error {
	if role != "owner" && role != "admin" && role != "member" {
		return fault.Invariant("invalid org role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	if _, err := e.Repo.GetOrg(ctx, tx, orgID); err != nil {
		return notFound(err, "organization %s", orgID)
	}
	if err := e.Authz.RequireOrgRole(ctx, tx, orgID, callerID, authz.RoleAdmin); err != nil {
		return err
	}
	if ok, err := e.Repo.ProfileExists(ctx, tx, profileID); err != nil {
		return err
	} else if !ok {
		return fault.NotFound("profile %s", profileID)
	}
	if role != "owner" {
		if err := e.ensureNotLastOrgOwner(ctx, tx, orgID, profileID); err != nil {
			return err
		}
	}
	now := e.nowStr()
	if err := e.Repo.UpsertOrgMember(ctx, tx, domain.OrgMember{OrgID: orgID, ProfileID: profileID, Role: role, CreatedAt: now}); err != nil {
		return err
	}
	var emitted []events.Event
	if err := e.emit(ctx, tx, &emitted, events.Event{
		Type: "membership.added", EntityKind: "organization", EntityID: orgID, ActorID: callerID,
		Payload: events.Payload{"profile_id": profileID, "role": role, "org_id": orgID},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(emitted)
	return nil
}

// RemoveOrgMember drops a membership edge; the last owner cannot leave.
func (e Engine) RemoveOrgMember(ctx context.Context, callerID, orgID, profileID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	if err := e.Authz.RequireOrgRole(ctx, tx, orgID, callerID, authz.RoleAdmin); err != nil {
		return err
	}
	if err := e.ensureNotLastOrgOwner(ctx, tx, orgID, profileID); err != nil {
		return err
	}
	if err := e.Repo.DeleteOrgMember(ctx, tx, orgID, profileID); err != nil {
		return notFound(err, "membership of %s in %s", profileID, orgID)
	}
	return tx.Commit()
}

func (e Engine) ensureNotLastOrgOwner(ctx context.Context, q repo.DBTX, orgID, profileID string) error {
	role, err := e.Repo.GetOrgMemberRole(ctx, q, orgID, profileID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if role != "owner" {
		return nil
	}
	n, err := e.Repo.CountOrgOwners(ctx, q, orgID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return fault.LastOwner("organization %s would have no owner", orgID)
	}
	return nil
}

// DeleteOrg removes an organization and everything beneath it. Org owner only.
func (e Engine) DeleteOrg(ctx context.Context, callerID, orgID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	if _, err := e.Repo.GetOrg(ctx, tx, orgID); err != nil {
		return notFound(err, "organization %s", orgID)
	}
	if err := e.Authz.RequireOrgRole(ctx, tx, orgID, callerID, authz.RoleOwner); err != nil {
		return err
	}
	if err := e.Repo.DeleteOrg(ctx, tx, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateTeam requires org admin or better.
func (e Engine) CreateTeam(ctx context.Context, callerID, orgID, name string) (domain.Team, error) {
	if name == "" {
		return domain.Team{}, fault.Invariant("team name required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return domain.Team{}, err
	}
	if _, err := e.Repo.GetOrg(ctx, tx, orgID); err != nil {
		return domain.Team{}, notFound(err, "organization %s", orgID)
	}
	if err := e.Authz.RequireOrgRole(ctx, tx, orgID, callerID, authz.RoleAdmin); err != nil {
		return domain.Team{}, err
	}
	now := e.nowStr()
	t := domain.Team{ID: newID(), OrgID: orgID, Name: name, CreatedAt: now}
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, err
	}
	if err := e.Repo.UpsertTeamMember(ctx, tx, domain.TeamMember{TeamID: t.ID, ProfileID: callerID, Role: "owner", CreatedAt: now}); err != nil {
		return domain.Team{}, err
	}
	return t, tx.Commit()
}

// SetTeamMember adds or re-roles a team member. Requires org admin.
func (e Engine) SetTeamMember(ctx context.Context, callerID, teamID, profileID, role string) error {
	if role != "owner" && role != "admin" && role != "member" {
		return fault.Invariant("invalid team role %q", role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	team, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return notFound(err, "team %s", teamID)
	}
	if err := e.Authz.RequireOrgRole(ctx, tx, team.OrgID, callerID, authz.RoleAdmin); err != nil {
		return err
	}
	if ok, err := e.Repo.ProfileExists(ctx, tx, profileID); err != nil {
		return err
	} else if !ok {
		return fault.NotFound("profile %s", profileID)
	}
	if err := e.Repo.UpsertTeamMember(ctx, tx, domain.TeamMember{TeamID: teamID, ProfileID: profileID, Role: role, CreatedAt: e.nowStr()}); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveTeamMember drops a team membership edge. Requires org admin.
func (e Engine) RemoveTeamMember(ctx context.Context, callerID, teamID, profileID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Authz.RequireProfile(ctx, tx, callerID); err != nil {
		return err
	}
	team, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return notFound(err, "team %s", teamID)
	}
	if err := e.Authz.RequireOrgRole(ctx, tx, team.OrgID, callerID, authz.RoleAdmin); err != nil {
		return err
	}
	if err := e.Repo.DeleteTeamMember(ctx, tx, teamID, profileID); err != nil {
		return notFound(err, "membership of %s in team %s", profileID, teamID)
	}
	return tx.Commit()
}

// ListOrgs returns the organizations the caller belongs to.
func (e Engine) ListOrgs(ctx context.Context, callerID string) ([]domain.Organization, error) {
	if err := e.Authz.RequireProfile(ctx, e.DB, callerID); err != nil {
		return nil, err
	}
	return e.Repo.ListOrgsForProfile(ctx, callerID)
}
