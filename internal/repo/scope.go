package repo

import (
	"context"
	"fmt"
)

var projectScoped = map[string]string{
	"requirements": "requirement",
	"test_cases":   "test case",
	"bugs":         "bug",
	"test_plans":   "test plan",
	"test_suites":  "test suite",
	"test_runs":    "test run",
}

// ProjectOf returns the project owning the row id of a project-scoped table.
func (r Repo) ProjectOf(ctx context.Context, table, id string) (string, error) {
	kind, ok := projectScoped[table]
	if !ok {
		return "", fmt.Errorf("table %s is not project scoped", table)
	}
	var projectID string
	err := r.conn().QueryRowContext(ctx, `SELECT project_id FROM `+table+` WHERE id=?`, id).Scan(&projectID)
	if isNoRows(err) {
		return "", notFound(kind, id)
	}
	return projectID, err
}

// MissingInProject returns the ids that do not name a row of table in the
// project, in input order.
func (r Repo) MissingInProject(ctx context.Context, table, projectID string, ids []string) ([]string, error) {
	if _, ok := projectScoped[table]; !ok {
		return nil, fmt.Errorf("table %s is not project scoped", table)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	args := append([]any{projectID}, stringArgs(ids)...)
	rows, err := r.conn().QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE project_id=? AND id IN (%s)`, table, placeholders(len(ids))), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
