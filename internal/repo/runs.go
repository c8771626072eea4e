package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"caseline/internal/domain"
)

const runColumns = `id,project_id,test_plan_id,suite_ids_json,mode,COALESCE(label,''),status,created_by,created_at,finished_at`

func scanRun(row interface{ Scan(...any) error }) (domain.TestRun, error) {
	var run domain.TestRun
	var planID, finishedAt sql.NullString
	var suites string
	err := row.Scan(&run.ID, &run.ProjectID, &planID, &suites, &run.Mode, &run.Label, &run.Status, &run.CreatedBy, &run.CreatedAt, &finishedAt)
	if err != nil {
		return run, err
	}
	if planID.Valid {
		run.PlanID = &planID.String
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.String
	}
	if suites != "" {
		if err := json.Unmarshal([]byte(suites), &run.SuiteIDs); err != nil {
			return run, fmt.Errorf("decode suite ids of run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func (r Repo) InsertRun(ctx context.Context, run domain.TestRun) error {
	suites := run.SuiteIDs
	if suites == nil {
		suites = []string{}
	}
	data, err := json.Marshal(suites)
	if err != nil {
		return err
	}
	var planID any
	if run.PlanID != nil {
		planID = *run.PlanID
	}
	_, err = r.conn().ExecContext(ctx, `INSERT INTO test_runs(id,project_id,test_plan_id,suite_ids_json,mode,label,status,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ProjectID, planID, string(data), run.Mode, nullable(run.Label), run.Status, run.CreatedBy, run.CreatedAt)
	return classify(err)
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.TestRun, error) {
	run, err := scanRun(r.conn().QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs WHERE id=?`, id))
	if isNoRows(err) {
		return run, notFound("test run", id)
	}
	return run, err
}

// RunFilters narrows ListRuns.
type RunFilters struct {
	ProjectID string
	PlanID    string
	Status    string
}

func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.TestRun, error) {
	query := `SELECT ` + runColumns + ` FROM test_runs WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.PlanID != "" {
		query += ` AND test_plan_id=?`
		args = append(args, f.PlanID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// FinishRun moves an in-progress run to finished. It reports false when the
// run was already finished.
func (r Repo) FinishRun(ctx context.Context, id, finishedAt string) (bool, error) {
	res, err := r.conn().ExecContext(ctx, `UPDATE test_runs SET status='finished', finished_at=? WHERE id=? AND status='in_progress'`, finishedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const resultSelect = `
SELECT s.id,s.test_run_id,s.test_case_id,COALESCE(t.title,''),COALESCE(t.sort_order,0),s.position,
  s.status,s.executed_by,s.executed_at,COALESCE(s.notes,''),s.duration
FROM test_results s LEFT JOIN test_cases t ON t.id=s.test_case_id`

func scanResult(row interface{ Scan(...any) error }) (domain.TestResult, error) {
	var res domain.TestResult
	var status, executedBy, executedAt sql.NullString
	var duration sql.NullInt64
	err := row.Scan(&res.ID, &res.RunID, &res.TestCaseID, &res.CaseTitle, &res.CaseOrder, &res.Position,
		&status, &executedBy, &executedAt, &res.Notes, &duration)
	if err != nil {
		return res, err
	}
	if status.Valid {
		res.Status = &status.String
	}
	if executedBy.Valid {
		res.ExecutedBy = &executedBy.String
	}
	if executedAt.Valid {
		res.ExecutedAt = &executedAt.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		res.Duration = &d
	}
	return res, nil
}

func (r Repo) InsertResult(ctx context.Context, res domain.TestResult) error {
	var status, executedBy, executedAt, duration any
	if res.Status != nil {
		status = *res.Status
	}
	if res.ExecutedBy != nil {
		executedBy = *res.ExecutedBy
	}
	if res.ExecutedAt != nil {
		executedAt = *res.ExecutedAt
	}
	if res.Duration != nil {
		duration = *res.Duration
	}
	_, err := r.conn().ExecContext(ctx, `INSERT INTO test_results(id,test_run_id,test_case_id,position,status,executed_by,executed_at,notes,duration) VALUES (?,?,?,?,?,?,?,?,?)`,
		res.ID, res.RunID, res.TestCaseID, res.Position, status, executedBy, executedAt, nullable(res.Notes), duration)
	return classify(err)
}

func (r Repo) GetResult(ctx context.Context, id string) (domain.TestResult, error) {
	res, err := scanResult(r.conn().QueryRowContext(ctx, resultSelect+` WHERE s.id=?`, id))
	if isNoRows(err) {
		return res, notFound("test result", id)
	}
	return res, err
}

func (r Repo) GetResultByCase(ctx context.Context, runID, caseID string) (domain.TestResult, error) {
	res, err := scanResult(r.conn().QueryRowContext(ctx, resultSelect+` WHERE s.test_run_id=? AND s.test_case_id=?`, runID, caseID))
	if isNoRows(err) {
		return res, notFound("test result", caseID)
	}
	return res, err
}

// ListResults returns the run's results by position.
func (r Repo) ListResults(ctx context.Context, runID string) ([]domain.TestResult, error) {
	rows, err := r.conn().QueryContext(ctx, resultSelect+` WHERE s.test_run_id=? ORDER BY s.position ASC, s.rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TestResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// FirstPendingResult returns the lowest-position result not yet executed.
func (r Repo) FirstPendingResult(ctx context.Context, runID string) (domain.TestResult, error) {
	res, err := scanResult(r.conn().QueryRowContext(ctx,
		resultSelect+` WHERE s.test_run_id=? AND s.executed_at IS NULL ORDER BY s.position ASC, s.rowid ASC LIMIT 1`, runID))
	if isNoRows(err) {
		return res, notFound("pending result in run", runID)
	}
	return res, err
}

// CountResults returns how many result rows the run has and how many of them
// are still pending.
func (r Repo) CountResults(ctx context.Context, runID string) (total, pending int, err error) {
	err = r.conn().QueryRowContext(ctx,
		`SELECT COUNT(1), COUNT(1)-COUNT(executed_at) FROM test_results WHERE test_run_id=?`, runID).Scan(&total, &pending)
	return total, pending, err
}

// FinishedRunsWithCase counts the finished runs holding a result for the case.
func (r Repo) FinishedRunsWithCase(ctx context.Context, caseID string) (int, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `
SELECT COUNT(DISTINCT s.test_run_id) FROM test_results s JOIN test_runs u ON u.id=s.test_run_id
WHERE s.test_case_id=? AND u.status='finished'`, caseID).Scan(&n)
	return n, err
}

// MarkExecuted performs the first write of a result. It reports false when the
// result was executed already, leaving it untouched.
func (r Repo) MarkExecuted(ctx context.Context, id, status, executedBy, executedAt, notes string, duration *int) (bool, error) {
	var d any
	if duration != nil {
		d = *duration
	}
	res, err := r.conn().ExecContext(ctx, `UPDATE test_results SET status=?,executed_by=?,executed_at=?,notes=?,duration=? WHERE id=? AND executed_at IS NULL`,
		status, executedBy, executedAt, nullable(notes), d, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateOutcome rewrites status and notes of an executed result.
func (r Repo) UpdateOutcome(ctx context.Context, id, status, notes string) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE test_results SET status=?,notes=? WHERE id=?`, status, nullable(notes), id)
	if err != nil {
		return err
	}
	return rowsAffected(res, "test result", id)
}
