package repo

import (
	"context"
	"database/sql"

	"teamline/internal/domain"
)

// --- organizations ---

func (r Repo) InsertOrg(ctx context.Context, q DBTX, o domain.Organization) error {
	_, err := q.ExecContext(ctx, `INSERT INTO organizations(id,name,slug,created_by,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.Name, o.Slug, o.CreatedBy, o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, q DBTX, id string) (domain.Organization, error) {
	var o domain.Organization
	err := q.QueryRowContext(ctx, `SELECT id,name,slug,created_by,created_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedBy, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) SlugTaken(ctx context.Context, q DBTX, slug string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM organizations WHERE slug=? LIMIT 1`, slug).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) DeleteOrg(ctx context.Context, q DBTX, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM organizations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListOrgsForProfile(ctx context.Context, profileID string) ([]domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT o.id,o.name,o.slug,o.created_by,o.created_at
FROM organizations o JOIN org_members m ON m.org_id=o.id
WHERE m.profile_id=? ORDER BY o.created_at DESC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// --- org membership ---

func (r Repo) UpsertOrgMember(ctx context.Context, q DBTX, m domain.OrgMember) error {
	_, err := q.ExecContext(ctx, `INSERT INTO org_members(org_id,profile_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(org_id,profile_id) DO UPDATE SET role=excluded.role`,
		m.OrgID, m.ProfileID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) InsertOrgMember(ctx context.Context, q DBTX, m domain.OrgMember) error {
	_, err := q.ExecContext(ctx, `INSERT INTO org_members(org_id,profile_id,role,created_at) VALUES (?,?,?,?)`,
		m.OrgID, m.ProfileID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) DeleteOrgMember(ctx context.Context, q DBTX, orgID, profileID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM org_members WHERE org_id=? AND profile_id=?`, orgID, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOrgMemberRole(ctx context.Context, q DBTX, orgID, profileID string) (string, error) {
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM org_members WHERE org_id=? AND profile_id=?`, orgID, profileID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) CountOrgOwners(ctx context.Context, q DBTX, orgID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM org_members WHERE org_id=? AND role='owner'`, orgID).Scan(&n)
	return n, err
}

func (r Repo) ListOrgMembers(ctx context.Context, orgID string) ([]domain.OrgMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id,profile_id,role,created_at FROM org_members WHERE org_id=? ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrgMember
	for rows.Next() {
		var m domain.OrgMember
		if err := rows.Scan(&m.OrgID, &m.ProfileID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- teams ---

func (r Repo) InsertTeam(ctx context.Context, q DBTX, t domain.Team) error {
	_, err := q.ExecContext(ctx, `INSERT INTO teams(id,org_id,name,created_at) VALUES (?,?,?,?)`,
		t.ID, t.OrgID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, q DBTX, id string) (domain.Team, error) {
	var t domain.Team
	err := q.QueryRowContext(ctx, `SELECT id,org_id,name,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.OrgID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) UpsertTeamMember(ctx context.Context, q DBTX, m domain.TeamMember) error {
	_, err := q.ExecContext(ctx, `INSERT INTO team_members(team_id,profile_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(team_id,profile_id) DO UPDATE SET role=excluded.role`,
		m.TeamID, m.ProfileID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) DeleteTeamMember(ctx context.Context, q DBTX, teamID, profileID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM team_members WHERE team_id=? AND profile_id=?`, teamID, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTeams(ctx context.Context, orgID string) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,created_at FROM teams WHERE org_id=? ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
