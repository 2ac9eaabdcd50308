package repo

import (
	"context"
	"database/sql"

	"teamline/internal/domain"
)

func (r Repo) InsertProject(ctx context.Context, q DBTX, p domain.Project) error {
	_, err := q.ExecContext(ctx, `INSERT INTO projects(id,org_id,team_id,name,color,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, nullableStringPtr(p.TeamID), p.Name, nullable(p.Color), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, q DBTX, id string) (domain.Project, error) {
	var p domain.Project
	var teamID, color sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,org_id,team_id,name,color,created_by,created_at,updated_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.OrgID, &teamID, &p.Name, &color, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if teamID.Valid {
		p.TeamID = &teamID.String
	}
	p.Color = color.String
	return p, nil
}

func (r Repo) DeleteProject(ctx context.Context, q DBTX, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListProjectsForProfile(ctx context.Context, profileID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT p.id,p.org_id,p.team_id,p.name,p.color,p.created_by,p.created_at,p.updated_at
FROM projects p
LEFT JOIN project_members pm ON pm.project_id=p.id AND pm.profile_id=?
LEFT JOIN org_members om ON om.org_id=p.org_id AND om.profile_id=?
WHERE pm.profile_id IS NOT NULL OR om.profile_id IS NOT NULL
ORDER BY p.created_at DESC`, profileID, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var teamID, color sql.NullString
		if err := rows.Scan(&p.ID, &p.OrgID, &teamID, &p.Name, &color, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if teamID.Valid {
			p.TeamID = &teamID.String
		}
		p.Color = color.String
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- workflow stages ---

func (r Repo) InsertStage(ctx context.Context, q DBTX, s domain.Stage) error {
	_, err := q.ExecContext(ctx, `INSERT INTO project_stages(id,project_id,name,color,position,wip_limit,wip_limit_type,is_done) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, nullable(s.Color), s.Position, nullableIntPtr(s.WipLimit), nullable(s.WipLimitType), boolToInt(s.IsDone))
	return err
}

func (r Repo) UpdateStage(ctx context.Context, q DBTX, s domain.Stage) error {
	res, err := q.ExecContext(ctx, `UPDATE project_stages SET name=?, color=?, position=?, wip_limit=?, wip_limit_type=?, is_done=? WHERE id=? AND project_id=?`,
		s.Name, nullable(s.Color), s.Position, nullableIntPtr(s.WipLimit), nullable(s.WipLimitType), boolToInt(s.IsDone), s.ID, s.ProjectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteStage(ctx context.Context, q DBTX, projectID, stageID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM project_stages WHERE id=? AND project_id=?`, stageID, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStage(sc interface{ Scan(...any) error }) (domain.Stage, error) {
	var s domain.Stage
	var color, wipType sql.NullString
	var wip sql.NullInt64
	var isDone int
	err := sc.Scan(&s.ID, &s.ProjectID, &s.Name, &color, &s.Position, &wip, &wipType, &isDone)
	if err != nil {
		return s, err
	}
	s.Color = color.String
	if wip.Valid {
		v := int(wip.Int64)
		s.WipLimit = &v
	}
	s.WipLimitType = wipType.String
	s.IsDone = isDone != 0
	return s, nil
}

const stageCols = `id,project_id,name,color,position,wip_limit,wip_limit_type,is_done`

func (r Repo) GetStage(ctx context.Context, q DBTX, projectID, stageID string) (domain.Stage, error) {
	s, err := scanStage(q.QueryRowContext(ctx, `SELECT `+stageCols+` FROM project_stages WHERE id=? AND project_id=?`, stageID, projectID))
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListStages(ctx context.Context, q DBTX, projectID string) ([]domain.Stage, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+stageCols+` FROM project_stages WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// FirstNonDoneStage returns the lowest-position stage with is_done=0.
func (r Repo) FirstNonDoneStage(ctx context.Context, q DBTX, projectID string) (domain.Stage, error) {
	s, err := scanStage(q.QueryRowContext(ctx, `SELECT `+stageCols+` FROM project_stages WHERE project_id=? AND is_done=0 ORDER BY position ASC LIMIT 1`, projectID))
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// --- project membership ---

func (r Repo) UpsertProjectMember(ctx context.Context, q DBTX, m domain.ProjectMember) error {
	_, err := q.ExecContext(ctx, `INSERT INTO project_members(project_id,profile_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,profile_id) DO UPDATE SET role=excluded.role`,
		m.ProjectID, m.ProfileID, m.Role, m.CreatedAt)
	return err
}

func (r Repo) DeleteProjectMember(ctx context.Context, q DBTX, projectID, profileID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND profile_id=?`, projectID, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProjectMemberRole(ctx context.Context, q DBTX, projectID, profileID string) (string, error) {
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND profile_id=?`, projectID, profileID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) CountProjectOwners(ctx context.Context, q DBTX, projectID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM project_members WHERE project_id=? AND role='owner'`, projectID).Scan(&n)
	return n, err
}

func (r Repo) ListProjectMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,profile_id,role,created_at FROM project_members WHERE project_id=? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		var m domain.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.ProfileID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountTasksByStage returns counts of top-level tasks per stage.
func (r Repo) CountTasksByStage(ctx context.Context, q DBTX, projectID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT stage_id, count(*) FROM tasks WHERE project_id=? AND parent_id IS NULL GROUP BY stage_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		res[stage] = count
	}
	return res, rows.Err()
}
