package repo

import (
	"context"

	"caseline/internal/domain"
)

const planColumns = `id,project_id,name,COALESCE(milestone,''),COALESCE(platform,''),created_at,updated_at`

func scanPlan(row interface{ Scan(...any) error }) (domain.TestPlan, error) {
	var p domain.TestPlan
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Milestone, &p.Platform, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r Repo) InsertPlan(ctx context.Context, p domain.TestPlan) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO test_plans(id,project_id,name,milestone,platform,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.Name, nullable(p.Milestone), nullable(p.Platform), p.CreatedAt, p.UpdatedAt)
	return classify(err)
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.TestPlan, error) {
	p, err := scanPlan(r.conn().QueryRowContext(ctx, `SELECT `+planColumns+` FROM test_plans WHERE id=?`, id))
	if isNoRows(err) {
		return p, notFound("test plan", id)
	}
	return p, err
}

func (r Repo) ListPlans(ctx context.Context, projectID string) ([]domain.TestPlan, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT `+planColumns+` FROM test_plans WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TestPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) UpdatePlan(ctx context.Context, p domain.TestPlan) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE test_plans SET name=?,milestone=?,platform=?,updated_at=? WHERE id=?`,
		p.Name, nullable(p.Milestone), nullable(p.Platform), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return rowsAffected(res, "test plan", p.ID)
}

const suiteColumns = `id,project_id,name,COALESCE(description,''),created_at,updated_at`

func scanSuite(row interface{ Scan(...any) error }) (domain.TestSuite, error) {
	var s domain.TestSuite
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r Repo) InsertSuite(ctx context.Context, s domain.TestSuite) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO test_suites(id,project_id,name,description,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, nullable(s.Description), s.CreatedAt, s.UpdatedAt)
	return classify(err)
}

func (r Repo) GetSuite(ctx context.Context, id string) (domain.TestSuite, error) {
	s, err := scanSuite(r.conn().QueryRowContext(ctx, `SELECT `+suiteColumns+` FROM test_suites WHERE id=?`, id))
	if isNoRows(err) {
		return s, notFound("test suite", id)
	}
	return s, err
}

func (r Repo) ListSuites(ctx context.Context, projectID string) ([]domain.TestSuite, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT `+suiteColumns+` FROM test_suites WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TestSuite
	for rows.Next() {
		s, err := scanSuite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) UpdateSuite(ctx context.Context, s domain.TestSuite) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE test_suites SET name=?,description=?,updated_at=? WHERE id=?`,
		s.Name, nullable(s.Description), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	return rowsAffected(res, "test suite", s.ID)
}

// PlanMembers lists a plan's cases in membership order.
func (r Repo) PlanMembers(ctx context.Context, planID string) ([]domain.Membership, error) {
	return r.members(ctx, `
SELECT m.id,m.test_plan_id,m.test_case_id,t.title,t.sort_order,m.sort_order
FROM test_plan_cases m JOIN test_cases t ON t.id=m.test_case_id
WHERE m.test_plan_id=? ORDER BY m.sort_order ASC, m.rowid ASC`, planID)
}

// SuiteMembers lists a suite's cases in membership order.
func (r Repo) SuiteMembers(ctx context.Context, suiteID string) ([]domain.Membership, error) {
	return r.members(ctx, `
SELECT m.id,m.test_suite_id,m.test_case_id,t.title,t.sort_order,m.sort_order
FROM test_suite_cases m JOIN test_cases t ON t.id=m.test_case_id
WHERE m.test_suite_id=? ORDER BY m.sort_order ASC, m.rowid ASC`, suiteID)
}

func (r Repo) members(ctx context.Context, query, scopeID string) ([]domain.Membership, error) {
	rows, err := r.conn().QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ID, &m.ScopeID, &m.TestCaseID, &m.Title, &m.CaseOrder, &m.Order); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
