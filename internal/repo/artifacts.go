package repo

import (
	"context"
	"fmt"

	"caseline/internal/domain"
)

const requirementColumns = `id,project_id,title,COALESCE(description,''),type,priority,sort_order,created_at,updated_at`

func scanRequirement(row interface{ Scan(...any) error }) (domain.Requirement, error) {
	var q domain.Requirement
	err := row.Scan(&q.ID, &q.ProjectID, &q.Title, &q.Description, &q.Type, &q.Priority, &q.Order, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func (r Repo) InsertRequirement(ctx context.Context, q domain.Requirement) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO requirements(id,project_id,title,description,type,priority,sort_order,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		q.ID, q.ProjectID, q.Title, nullable(q.Description), q.Type, q.Priority, q.Order, q.CreatedAt, q.UpdatedAt)
	return classify(err)
}

func (r Repo) GetRequirement(ctx context.Context, id string) (domain.Requirement, error) {
	q, err := scanRequirement(r.conn().QueryRowContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE id=?`, id))
	if isNoRows(err) {
		return q, notFound("requirement", id)
	}
	return q, err
}

func (r Repo) ListRequirements(ctx context.Context, projectID string) ([]domain.Requirement, error) {
	return r.queryRequirements(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE project_id=? ORDER BY sort_order ASC, rowid ASC`, projectID)
}

// RequirementsForCase lists requirements linked to a test case, in requirement order.
func (r Repo) RequirementsForCase(ctx context.Context, caseID string) ([]domain.Requirement, error) {
	return r.queryRequirements(ctx, `
SELECT r.id,r.project_id,r.title,COALESCE(r.description,''),r.type,r.priority,r.sort_order,r.created_at,r.updated_at
FROM requirements r JOIN requirement_test_cases l ON l.requirement_id=r.id
WHERE l.test_case_id=? ORDER BY r.sort_order ASC, r.rowid ASC`, caseID)
}

func (r Repo) queryRequirements(ctx context.Context, query string, args ...any) ([]domain.Requirement, error) {
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Requirement
	for rows.Next() {
		q, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r Repo) UpdateRequirement(ctx context.Context, q domain.Requirement) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE requirements SET title=?,description=?,type=?,priority=?,updated_at=? WHERE id=?`,
		q.Title, nullable(q.Description), q.Type, q.Priority, q.UpdatedAt, q.ID)
	if err != nil {
		return classify(err)
	}
	return rowsAffected(res, "requirement", q.ID)
}

const testCaseColumns = `id,project_id,title,COALESCE(preconditions,''),COALESCE(steps,''),expected_result,is_functional,is_automated,sort_order,created_at,updated_at`

func scanTestCase(row interface{ Scan(...any) error }) (domain.TestCase, error) {
	var tc domain.TestCase
	err := row.Scan(&tc.ID, &tc.ProjectID, &tc.Title, &tc.Preconditions, &tc.Steps, &tc.ExpectedResult,
		&tc.IsFunctional, &tc.IsAutomated, &tc.Order, &tc.CreatedAt, &tc.UpdatedAt)
	return tc, err
}

func (r Repo) InsertTestCase(ctx context.Context, tc domain.TestCase) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO test_cases(id,project_id,title,preconditions,steps,expected_result,is_functional,is_automated,sort_order,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		tc.ID, tc.ProjectID, tc.Title, nullable(tc.Preconditions), nullable(tc.Steps), tc.ExpectedResult,
		boolInt(tc.IsFunctional), boolInt(tc.IsAutomated), tc.Order, tc.CreatedAt, tc.UpdatedAt)
	return classify(err)
}

func (r Repo) GetTestCase(ctx context.Context, id string) (domain.TestCase, error) {
	tc, err := scanTestCase(r.conn().QueryRowContext(ctx, `SELECT `+testCaseColumns+` FROM test_cases WHERE id=?`, id))
	if isNoRows(err) {
		return tc, notFound("test case", id)
	}
	return tc, err
}

func (r Repo) ListTestCases(ctx context.Context, projectID string) ([]domain.TestCase, error) {
	return r.queryTestCases(ctx, `SELECT `+testCaseColumns+` FROM test_cases WHERE project_id=? ORDER BY sort_order ASC, rowid ASC`, projectID)
}

// CasesForRequirement lists test cases linked to a requirement, in case order.
func (r Repo) CasesForRequirement(ctx context.Context, requirementID string) ([]domain.TestCase, error) {
	return r.queryTestCases(ctx, `
SELECT t.id,t.project_id,t.title,COALESCE(t.preconditions,''),COALESCE(t.steps,''),t.expected_result,t.is_functional,t.is_automated,t.sort_order,t.created_at,t.updated_at
FROM test_cases t JOIN requirement_test_cases l ON l.test_case_id=t.id
WHERE l.requirement_id=? ORDER BY t.sort_order ASC, t.rowid ASC`, requirementID)
}

// CasesForBug lists test cases linked to a bug, in case order.
func (r Repo) CasesForBug(ctx context.Context, bugID string) ([]domain.TestCase, error) {
	return r.queryTestCases(ctx, `
SELECT t.id,t.project_id,t.title,COALESCE(t.preconditions,''),COALESCE(t.steps,''),t.expected_result,t.is_functional,t.is_automated,t.sort_order,t.created_at,t.updated_at
FROM test_cases t JOIN bug_test_cases l ON l.test_case_id=t.id
WHERE l.bug_id=? ORDER BY t.sort_order ASC, t.rowid ASC`, bugID)
}

func (r Repo) queryTestCases(ctx context.Context, query string, args ...any) ([]domain.TestCase, error) {
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TestCase
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func (r Repo) UpdateTestCase(ctx context.Context, tc domain.TestCase) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE test_cases SET title=?,preconditions=?,steps=?,expected_result=?,is_functional=?,is_automated=?,updated_at=? WHERE id=?`,
		tc.Title, nullable(tc.Preconditions), nullable(tc.Steps), tc.ExpectedResult, boolInt(tc.IsFunctional), boolInt(tc.IsAutomated), tc.UpdatedAt, tc.ID)
	if err != nil {
		return classify(err)
	}
	return rowsAffected(res, "test case", tc.ID)
}

const bugColumns = `id,project_id,title,COALESCE(description,''),status,priority,sort_order,created_at,updated_at`

func scanBug(row interface{ Scan(...any) error }) (domain.Bug, error) {
	var b domain.Bug
	err := row.Scan(&b.ID, &b.ProjectID, &b.Title, &b.Description, &b.Status, &b.Priority, &b.Order, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r Repo) InsertBug(ctx context.Context, b domain.Bug) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO bugs(id,project_id,title,description,status,priority,sort_order,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		b.ID, b.ProjectID, b.Title, nullable(b.Description), b.Status, b.Priority, b.Order, b.CreatedAt, b.UpdatedAt)
	return classify(err)
}

func (r Repo) GetBug(ctx context.Context, id string) (domain.Bug, error) {
	b, err := scanBug(r.conn().QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id=?`, id))
	if isNoRows(err) {
		return b, notFound("bug", id)
	}
	return b, err
}

// BugFilters narrows ListBugs. Triage orders by status then priority before
// falling back to the bug order.
type BugFilters struct {
	ProjectID string
	Status    string
	Triage    bool
}

func (r Repo) ListBugs(ctx context.Context, f BugFilters) ([]domain.Bug, error) {
	query := `SELECT ` + bugColumns + ` FROM bugs WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.Triage {
		query += ` ORDER BY CASE status WHEN 'open' THEN 0 WHEN 'progress' THEN 1 ELSE 2 END,
CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, sort_order ASC, rowid ASC`
	} else {
		query += ` ORDER BY sort_order ASC, rowid ASC`
	}
	return r.queryBugs(ctx, query, args...)
}

// BugsForCase lists bugs linked to a test case, in bug order.
func (r Repo) BugsForCase(ctx context.Context, caseID string) ([]domain.Bug, error) {
	return r.queryBugs(ctx, `
SELECT b.id,b.project_id,b.title,COALESCE(b.description,''),b.status,b.priority,b.sort_order,b.created_at,b.updated_at
FROM bugs b JOIN bug_test_cases l ON l.bug_id=b.id
WHERE l.test_case_id=? ORDER BY b.sort_order ASC, b.rowid ASC`, caseID)
}

func (r Repo) queryBugs(ctx context.Context, query string, args ...any) ([]domain.Bug, error) {
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Bug
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r Repo) UpdateBug(ctx context.Context, b domain.Bug) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE bugs SET title=?,description=?,status=?,priority=?,updated_at=? WHERE id=?`,
		b.Title, nullable(b.Description), b.Status, b.Priority, b.UpdatedAt, b.ID)
	if err != nil {
		return classify(err)
	}
	return rowsAffected(res, "bug", b.ID)
}

// IDsByOrder resolves orders within a project-scoped table to ids. Orders with
// no matching row are absent from the result.
func (r Repo) IDsByOrder(ctx context.Context, table, projectID string, orders []int) (map[int]string, error) {
	out := map[int]string{}
	if len(orders) == 0 {
		return out, nil
	}
	switch table {
	case "requirements", "test_cases", "bugs":
	default:
		return nil, fmt.Errorf("table %s has no project order", table)
	}
	args := []any{projectID}
	for _, o := range orders {
		args = append(args, o)
	}
	rows, err := r.conn().QueryContext(ctx,
		fmt.Sprintf(`SELECT sort_order,id FROM %s WHERE project_id=? AND sort_order IN (%s) ORDER BY rowid ASC`, table, placeholders(len(orders))),
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var o int
		var id string
		if err := rows.Scan(&o, &id); err != nil {
			return nil, err
		}
		// first inserted wins when orders are not dense
		if _, ok := out[o]; !ok {
			out[o] = id
		}
	}
	return out, rows.Err()
}

// CaseRequirementOrders maps each test case of the project to the orders of
// its linked requirements, ascending.
func (r Repo) CaseRequirementOrders(ctx context.Context, projectID string) (map[string][]int, error) {
	return r.linkOrders(ctx, `
SELECT l.test_case_id, q.sort_order FROM requirement_test_cases l
JOIN requirements q ON q.id=l.requirement_id
WHERE q.project_id=? ORDER BY q.sort_order ASC, q.rowid ASC`, projectID)
}

// BugCaseOrders maps each bug of the project to the orders of its linked test
// cases, ascending.
func (r Repo) BugCaseOrders(ctx context.Context, projectID string) (map[string][]int, error) {
	return r.linkOrders(ctx, `
SELECT l.bug_id, t.sort_order FROM bug_test_cases l
JOIN test_cases t ON t.id=l.test_case_id
WHERE t.project_id=? ORDER BY t.sort_order ASC, t.rowid ASC`, projectID)
}

func (r Repo) linkOrders(ctx context.Context, query, projectID string) (map[string][]int, error) {
	rows, err := r.conn().QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]int{}
	for rows.Next() {
		var id string
		var o int
		if err := rows.Scan(&id, &o); err != nil {
			return nil, err
		}
		out[id] = append(out[id], o)
	}
	return out, rows.Err()
}
