package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"caseline/internal/domain"
	"caseline/internal/report"
)

const projectColumns = `id,name,COALESCE(description,''),manager_id,created_at,updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ManagerID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO projects(id,name,description,manager_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.ManagerID, p.CreatedAt, p.UpdatedAt)
	return classify(err)
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.conn().QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if isNoRows(err) {
		return p, notFound("project", id)
	}
	return p, err
}

func (r Repo) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	p, err := scanProject(r.conn().QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name=?`, name))
	if isNoRows(err) {
		return p, notFound("project", name)
	}
	return p, err
}

// ProjectNameTaken reports whether another project already uses name.
func (r Repo) ProjectNameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM projects WHERE name=? AND id<>?`, name, exceptID).Scan(&n)
	return n > 0, err
}

// SingleProject returns the only project, for CLI calls without --project.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx, "")
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// ListProjects lists projects, restricted to those the user is a member of
// when userID is set.
func (r Repo) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if userID != "" {
		query += ` WHERE id IN (SELECT project_id FROM project_members WHERE user_id=?)`
		args = append(args, userID)
	}
	query += ` ORDER BY name ASC`
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, id string, name, description *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.conn().ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return classify(err)
	}
	return rowsAffected(res, "project", id)
}

// ProjectCounts gathers the numbers shown on the project detail view.
func (r Repo) ProjectCounts(ctx context.Context, projectID string) (report.ProjectCounts, error) {
	c := report.ProjectCounts{BugsByStatus: map[string]int{}}
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"requirements", &c.Requirements},
		{"test_cases", &c.TestCases},
		{"bugs", &c.Bugs},
		{"test_plans", &c.TestPlans},
		{"test_suites", &c.TestSuites},
		{"test_runs", &c.TestRuns},
	} {
		if err := r.conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM `+q.table+` WHERE project_id=?`, projectID).Scan(q.dst); err != nil {
			return c, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	rows, err := r.conn().QueryContext(ctx, `SELECT status, COUNT(1) FROM bugs WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		c.BugsByStatus[status] = n
	}
	return c, rows.Err()
}

func (r Repo) InsertMember(ctx context.Context, m domain.Member) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,joined_at) VALUES (?,?,?,?)`,
		m.ProjectID, m.UserID, m.Role, m.JoinedAt)
	return classify(err)
}

func (r Repo) GetMember(ctx context.Context, projectID, userID string) (domain.Member, error) {
	var m domain.Member
	err := r.conn().QueryRowContext(ctx, `SELECT project_id,user_id,role,joined_at FROM project_members WHERE project_id=? AND user_id=?`,
		projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return m, notFound("member", userID)
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := r.conn().QueryContext(ctx, `
SELECT project_id,user_id,role,joined_at FROM project_members WHERE project_id=?
ORDER BY CASE role WHEN 'manager' THEN 0 WHEN 'editor' THEN 1 ELSE 2 END, user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r Repo) UpdateMemberRole(ctx context.Context, projectID, userID, role string) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE project_members SET role=? WHERE project_id=? AND user_id=?`, role, projectID, userID)
	if err != nil {
		return err
	}
	return rowsAffected(res, "member", userID)
}

func (r Repo) DeleteMember(ctx context.Context, projectID, userID string) error {
	res, err := r.conn().ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	return rowsAffected(res, "member", userID)
}
