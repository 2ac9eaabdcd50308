// Package authz evaluates "caller has role R on entity E" by walking the
// tenancy graph upward. Each predicate is one set-membership query against
// the membership tables; nothing here re-enters policy evaluation, so the
// lookups stay flat and stable within a transaction.
package authz

import (
	"context"
	"database/sql"

	"teamline/internal/fault"
	"teamline/internal/repo"
)

// Role is an edge role ordered owner > admin > editor > reader.
// Org membership uses owner > admin > member; member maps to reader
// when projected onto a project.
type Role int

const (
	RoleNone Role = iota
	RoleReader
	RoleEditor
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleEditor:
		return "editor"
	case RoleReader:
		return "reader"
	}
	return "none"
}

func parseProjectRole(s string) Role {
	switch s {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	case "editor":
		return RoleEditor
	case "reader":
		return RoleReader
	}
	return RoleNone
}

func parseOrgRole(s string) Role {
	switch s {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	case "member":
		return RoleEditor
	}
	return RoleNone
}

// orgRoleOnProject projects an org role onto a project the org owns.
// Org owners and admins administer every project; plain members only read.
func orgRoleOnProject(s string) Role {
	switch s {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	case "member":
		return RoleReader
	}
	return RoleNone
}

// Service resolves effective roles from the membership tables.
type Service struct {
	Repo repo.Repo
}

// RequireProfile fails with Unauthenticated when the caller has no profile.
func (s Service) RequireProfile(ctx context.Context, q repo.DBTX, callerID string) error {
	if callerID == "" {
		return fault.Unauthenticated("caller id required")
	}
	ok, err := s.Repo.ProfileExists(ctx, q, callerID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Unauthenticated("no profile for caller %s", callerID)
	}
	return nil
}

// OrgRole returns the caller's role on an organization, RoleNone if absent.
func (s Service) OrgRole(ctx context.Context, q repo.DBTX, orgID, callerID string) (Role, error) {
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM org_members WHERE org_id=? AND profile_id=?`, orgID, callerID).Scan(&role)
	if err == sql.ErrNoRows {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, err
	}
	return parseOrgRole(role), nil
}

// ProjectRole returns the caller's effective role on a project: the
// stronger of the direct project edge and the projected org edge. One
// query per source; no self-referential lookups.
func (s Service) ProjectRole(ctx context.Context, q repo.DBTX, projectID, callerID string) (Role, error) {
	role := RoleNone
	var direct string
	err := q.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND profile_id=?`, projectID, callerID).Scan(&direct)
	if err != nil && err != sql.ErrNoRows {
		return RoleNone, err
	}
	if err == nil {
		role = parseProjectRole(direct)
	}
	var viaOrg string
	err = q.QueryRowContext(ctx, `SELECT om.role FROM org_members om JOIN projects p ON p.org_id=om.org_id WHERE p.id=? AND om.profile_id=?`,
		projectID, callerID).Scan(&viaOrg)
	if err != nil && err != sql.ErrNoRows {
		return RoleNone, err
	}
	if err == nil {
		if mapped := orgRoleOnProject(viaOrg); mapped > role {
			role = mapped
		}
	}
	return role, nil
}

// RequireProjectRead fails with NotFound when the caller cannot see the
// project at all; missing and invisible are indistinguishable to callers.
func (s Service) RequireProjectRead(ctx context.Context, q repo.DBTX, projectID, callerID string) (Role, error) {
	role, err := s.ProjectRole(ctx, q, projectID, callerID)
	if err != nil {
		return RoleNone, err
	}
	if role < RoleReader {
		return RoleNone, fault.NotFound("project %s", projectID)
	}
	return role, nil
}

// RequireProjectRole fails with Forbidden when the caller's effective role
// is below min.
func (s Service) RequireProjectRole(ctx context.Context, q repo.DBTX, projectID, callerID string, min Role) error {
	role, err := s.ProjectRole(ctx, q, projectID, callerID)
	if err != nil {
		return err
	}
	if role < min {
		return fault.Forbidden("%s role required on project %s", min, projectID)
	}
	return nil
}

// RequireOrgRole fails with Forbidden when the caller's org role is below min.
func (s Service) RequireOrgRole(ctx context.Context, q repo.DBTX, orgID, callerID string, min Role) error {
	role, err := s.OrgRole(ctx, q, orgID, callerID)
	if err != nil {
		return err
	}
	if role < min {
		return fault.Forbidden("%s role required on organization %s", min, orgID)
	}
	return nil
}
