package repo

import (
	"context"
	"fmt"
)

// Step deletes one table's rows that hang off the root id, bound as ?1.
type Step struct {
	Table string
	Query string
}

// Cascade is a deletion routine ordered links first, then leaf entities, then
// the root. The last step deletes the root row itself.
type Cascade struct {
	Kind  string
	Steps []Step
}

var (
	ProjectCascade = Cascade{Kind: "project", Steps: []Step{
		{"project_members", `DELETE FROM project_members WHERE project_id=?1`},
		{"requirement_test_cases", `DELETE FROM requirement_test_cases WHERE requirement_id IN (SELECT id FROM requirements WHERE project_id=?1) OR test_case_id IN (SELECT id FROM test_cases WHERE project_id=?1)`},
		{"bug_test_cases", `DELETE FROM bug_test_cases WHERE bug_id IN (SELECT id FROM bugs WHERE project_id=?1) OR test_case_id IN (SELECT id FROM test_cases WHERE project_id=?1)`},
		{"test_results", `DELETE FROM test_results WHERE test_run_id IN (SELECT id FROM test_runs WHERE project_id=?1) OR test_case_id IN (SELECT id FROM test_cases WHERE project_id=?1)`},
		{"test_runs", `DELETE FROM test_runs WHERE project_id=?1`},
		{"test_plan_cases", `DELETE FROM test_plan_cases WHERE test_plan_id IN (SELECT id FROM test_plans WHERE project_id=?1) OR test_case_id IN (SELECT id FROM test_cases WHERE project_id=?1)`},
		{"test_suite_cases", `DELETE FROM test_suite_cases WHERE test_suite_id IN (SELECT id FROM test_suites WHERE project_id=?1) OR test_case_id IN (SELECT id FROM test_cases WHERE project_id=?1)`},
		{"test_plans", `DELETE FROM test_plans WHERE project_id=?1`},
		{"test_suites", `DELETE FROM test_suites WHERE project_id=?1`},
		{"requirements", `DELETE FROM requirements WHERE project_id=?1`},
		{"bugs", `DELETE FROM bugs WHERE project_id=?1`},
		{"test_cases", `DELETE FROM test_cases WHERE project_id=?1`},
		{"projects", `DELETE FROM projects WHERE id=?1`},
	}}

	TestCaseCascade = Cascade{Kind: "test case", Steps: []Step{
		{"requirement_test_cases", `DELETE FROM requirement_test_cases WHERE test_case_id=?1`},
		{"bug_test_cases", `DELETE FROM bug_test_cases WHERE test_case_id=?1`},
		{"test_plan_cases", `DELETE FROM test_plan_cases WHERE test_case_id=?1`},
		{"test_suite_cases", `DELETE FROM test_suite_cases WHERE test_case_id=?1`},
		{"test_results", `DELETE FROM test_results WHERE test_case_id=?1`},
		{"test_cases", `DELETE FROM test_cases WHERE id=?1`},
	}}

	RequirementCascade = Cascade{Kind: "requirement", Steps: []Step{
		{"requirement_test_cases", `DELETE FROM requirement_test_cases WHERE requirement_id=?1`},
		{"requirements", `DELETE FROM requirements WHERE id=?1`},
	}}

	BugCascade = Cascade{Kind: "bug", Steps: []Step{
		{"bug_test_cases", `DELETE FROM bug_test_cases WHERE bug_id=?1`},
		{"bugs", `DELETE FROM bugs WHERE id=?1`},
	}}

	PlanCascade = Cascade{Kind: "test plan", Steps: []Step{
		{"test_results", `DELETE FROM test_results WHERE test_run_id IN (SELECT id FROM test_runs WHERE test_plan_id=?1)`},
		{"test_runs", `DELETE FROM test_runs WHERE test_plan_id=?1`},
		{"test_plan_cases", `DELETE FROM test_plan_cases WHERE test_plan_id=?1`},
		{"test_plans", `DELETE FROM test_plans WHERE id=?1`},
	}}

	SuiteCascade = Cascade{Kind: "test suite", Steps: []Step{
		{"test_suite_cases", `DELETE FROM test_suite_cases WHERE test_suite_id=?1`},
		{"test_suites", `DELETE FROM test_suites WHERE id=?1`},
	}}

	RunCascade = Cascade{Kind: "test run", Steps: []Step{
		{"test_results", `DELETE FROM test_results WHERE test_run_id=?1`},
		{"test_runs", `DELETE FROM test_runs WHERE id=?1`},
	}}
)

// Deleted counts removed rows per table.
type Deleted map[string]int64

// Cascade runs c against id. Bind the Repo to a transaction so a failing step
// leaves nothing half deleted.
func (r Repo) Cascade(ctx context.Context, c Cascade, id string) (Deleted, error) {
	out := Deleted{}
	for i, step := range c.Steps {
		res, err := r.conn().ExecContext(ctx, step.Query, id)
		if err != nil {
			return nil, fmt.Errorf("delete %s of %s %s: %w", step.Table, c.Kind, id, classify(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if i == len(c.Steps)-1 && n == 0 {
			return nil, notFound(c.Kind, id)
		}
		if n > 0 {
			out[step.Table] += n
		}
	}
	return out, nil
}
