package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/report"
	"caseline/internal/repo"
)

// A run walks an ordered list of test cases in one of two modes.
//
// pull runs are started from a plan and create no result rows up front. The
// pending cases are the plan's live membership, in plan order, minus the cases
// already recorded in the run, and a result row is created when a case is
// recorded. Only the next pending case may be recorded for the first time.
//
// push runs pre-create one result row per case with executed_at NULL and a
// frozen position. Pending cases are the rows not yet executed, by position,
// and any of them may be recorded in any order.

// StartRunOptions selects the cases of a new run: either a plan, or a set of
// suites plus extra cases.
type StartRunOptions struct {
	ProjectID string
	PlanID    string
	SuiteIDs  []string
	CaseIDs   []string
	Mode      string
	Label     string
	ActorID   string
}

// Step is the position of a run: the next case to execute, or Finished.
type Step struct {
	Run      domain.TestRun     `json:"run"`
	Case     *domain.TestCase   `json:"case,omitempty"`
	Result   *domain.TestResult `json:"result,omitempty"`
	Position int                `json:"position,omitempty"`
	Total    int                `json:"total"`
	Pending  int                `json:"pending"`
	Finished bool               `json:"finished"`
}

func (e Engine) StartRun(ctx context.Context, opts StartRunOptions) (domain.TestRun, error) {
	mode, err := e.runMode(opts)
	if err != nil {
		return domain.TestRun{}, err
	}
	var run domain.TestRun
	var total int
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		projectID := opts.ProjectID
		run = domain.TestRun{
			ID:        domain.NewID(),
			Mode:      mode,
			Label:     strings.TrimSpace(opts.Label),
			Status:    domain.RunStatusInProgress,
			CreatedBy: opts.ActorID,
			CreatedAt: e.stamp(),
		}
		if run.CreatedBy == "" {
			run.CreatedBy = "system"
		}
		var caseIDs []string
		if opts.PlanID != "" {
			plan, err := r.GetPlan(ctx, opts.PlanID)
			if err != nil {
				return err
			}
			if projectID == "" {
				projectID = plan.ProjectID
			}
			if plan.ProjectID != projectID {
				return fmt.Errorf("test plan %s: %w", plan.ID, domain.ErrNotFound)
			}
			members, err := r.PlanMembers(ctx, plan.ID)
			if err != nil {
				return err
			}
			for _, m := range members {
				caseIDs = append(caseIDs, m.TestCaseID)
			}
			run.PlanID = &plan.ID
		} else {
			if projectID == "" {
				return invalid("project is required")
			}
			if caseIDs, err = e.suiteCases(ctx, r, projectID, opts.SuiteIDs, opts.CaseIDs); err != nil {
				return err
			}
			run.SuiteIDs = opts.SuiteIDs
		}
		if _, err := r.GetProject(ctx, projectID); err != nil {
			return err
		}
		if len(caseIDs) == 0 {
			return fmt.Errorf("start run: %w", domain.ErrEmptyList)
		}
		run.ProjectID = projectID
		if err := r.InsertRun(ctx, run); err != nil {
			return err
		}
		if mode == domain.RunModePush {
			for i, caseID := range caseIDs {
				res := domain.TestResult{ID: domain.NewID(), RunID: run.ID, TestCaseID: caseID, Position: i + 1}
				if err := r.InsertResult(ctx, res); err != nil {
					return fmt.Errorf("prepare result %d: %w", i+1, err)
				}
			}
		}
		total = len(caseIDs)
		return e.Events.Append(ctx, tx, "run.started", projectID, "test_run", run.ID, opts.ActorID,
			events.EventPayload{"mode": mode, "cases": total})
	})
	if err != nil {
		return domain.TestRun{}, err
	}
	e.Metrics.RunStarted(mode)
	e.log().Info("run started", zap.String("run_id", run.ID), zap.String("mode", mode), zap.Int("cases", total))
	return run, nil
}

func (e Engine) runMode(opts StartRunOptions) (string, error) {
	hasPlan := opts.PlanID != ""
	hasSuites := len(opts.SuiteIDs) > 0 || len(opts.CaseIDs) > 0
	switch {
	case hasPlan && hasSuites:
		return "", invalid("start a run from a plan or from suites, not both")
	case !hasPlan && !hasSuites:
		return "", fmt.Errorf("start run: %w", domain.ErrEmptyList)
	}
	mode := opts.Mode
	if !hasPlan {
		if mode == domain.RunModePull {
			return "", invalid("suite runs are push only")
		}
		return domain.RunModePush, nil
	}
	if mode == "" {
		mode = e.cfg().Execution.PlanMode
	}
	if mode != domain.RunModePull && mode != domain.RunModePush {
		return "", invalid("mode must be pull or push")
	}
	return mode, nil
}

// suiteCases merges the suites' memberships, then the extra cases, keeping
// the first occurrence of each case.
func (e Engine) suiteCases(ctx context.Context, r repo.Repo, projectID string, suiteIDs, extra []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, suiteID := range suiteIDs {
		s, err := r.GetSuite(ctx, suiteID)
		if err != nil {
			return nil, err
		}
		if s.ProjectID != projectID {
			return nil, fmt.Errorf("test suite %s: %w", suiteID, domain.ErrNotFound)
		}
		members, err := r.SuiteMembers(ctx, suiteID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			add(m.TestCaseID)
		}
	}
	missing, err := r.MissingInProject(ctx, "test_cases", projectID, extra)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("test case %s: %w", strings.Join(missing, ", "), domain.ErrNotFound)
	}
	for _, id := range extra {
		add(id)
	}
	return out, nil
}

type progress struct {
	next     string
	result   *domain.TestResult
	position int
	total    int
	pending  int
}

func (e Engine) progressOf(ctx context.Context, r repo.Repo, run domain.TestRun) (progress, error) {
	if run.Mode == domain.RunModePush {
		var p progress
		var err error
		if p.total, p.pending, err = r.CountResults(ctx, run.ID); err != nil || p.pending == 0 {
			return p, err
		}
		res, err := r.FirstPendingResult(ctx, run.ID)
		if err != nil {
			return progress{}, err
		}
		p.next, p.result, p.position = res.TestCaseID, &res, res.Position
		return p, nil
	}

	results, err := r.ListResults(ctx, run.ID)
	if err != nil {
		return progress{}, err
	}
	recorded := make(map[string]bool, len(results))
	for _, res := range results {
		recorded[res.TestCaseID] = true
	}
	var members []domain.Membership
	if run.PlanID != nil {
		if members, err = r.PlanMembers(ctx, *run.PlanID); err != nil {
			return progress{}, err
		}
	}
	p := progress{total: len(results), position: len(results) + 1}
	for _, m := range members {
		if recorded[m.TestCaseID] {
			continue
		}
		if p.pending == 0 {
			p.next = m.TestCaseID
		}
		p.pending++
	}
	p.total += p.pending
	return p, nil
}

func (e Engine) stepOf(ctx context.Context, r repo.Repo, run domain.TestRun, p progress) (Step, error) {
	st := Step{Run: run, Total: p.total, Pending: p.pending}
	if p.pending == 0 || run.Status == domain.RunStatusFinished {
		st.Finished = true
		st.Pending = 0
		return st, nil
	}
	tc, err := r.GetTestCase(ctx, p.next)
	if err != nil {
		return Step{}, err
	}
	tc.Code = e.caseCode(tc.Order)
	st.Case = &tc
	st.Result = p.result
	if st.Result != nil {
		st.Result.CaseCode = tc.Code
	}
	st.Position = p.position
	return st, nil
}

// NextPendingCase reports the next case to execute. A run still in progress
// with nothing left pending, e.g. after its last pending case was deleted, is
// finished the way ResumeRun does it, so Finished always matches the status.
func (e Engine) NextPendingCase(ctx context.Context, runID string) (Step, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return Step{}, err
	}
	p, err := e.progressOf(ctx, e.Repo, run)
	if err != nil {
		return Step{}, err
	}
	if run.Status == domain.RunStatusInProgress && p.pending == 0 {
		return e.ResumeRun(ctx, runID, "")
	}
	return e.stepOf(ctx, e.Repo, run, p)
}

// ResumeRun returns the next pending case. A run left in progress with nothing
// pending is finished on the way.
func (e Engine) ResumeRun(ctx context.Context, runID, actorID string) (Step, error) {
	var st Step
	var healed bool
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		run, err := r.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		p, err := e.progressOf(ctx, r, run)
		if err != nil {
			return err
		}
		if run.Status == domain.RunStatusInProgress && p.pending == 0 {
			if healed, err = e.finishRunTx(ctx, tx, r, &run, actorID); err != nil {
				return err
			}
		}
		st, err = e.stepOf(ctx, r, run, p)
		return err
	})
	if err != nil {
		return Step{}, err
	}
	if healed {
		e.Metrics.RunFinished(st.Run.Mode)
		e.log().Info("run finished on resume", zap.String("run_id", runID))
	}
	return st, nil
}

func (e Engine) finishRunTx(ctx context.Context, tx *sql.Tx, r repo.Repo, run *domain.TestRun, actorID string) (bool, error) {
	finishedAt := e.stamp()
	ok, err := r.FinishRun(ctx, run.ID, finishedAt)
	if err != nil || !ok {
		return false, err
	}
	run.Status = domain.RunStatusFinished
	run.FinishedAt = &finishedAt
	return true, e.Events.Append(ctx, tx, "run.finished", run.ProjectID, "test_run", run.ID, actorID, nil)
}

// RecordOptions are parameters for recording a case's outcome.
type RecordOptions struct {
	RunID      string
	TestCaseID string
	Status     string
	Notes      string
	Duration   *int
	ActorID    string
}

// RecordOutcome is the stored result and where the run stands afterwards.
type RecordOutcome struct {
	Result domain.TestResult `json:"result"`
	First  bool              `json:"first"`
	Next   Step              `json:"next"`
}

// RecordResult stores the outcome of one case. The first write of a case sets
// executed_at, executed_by and duration; later writes change status and notes
// only. Recording the last pending case finishes the run.
func (e Engine) RecordResult(ctx context.Context, opts RecordOptions) (RecordOutcome, error) {
	switch opts.Status {
	case domain.ResultPass, domain.ResultFail, domain.ResultSkip:
	default:
		return RecordOutcome{}, invalid("status must be pass, fail or skip")
	}
	if opts.Duration != nil && *opts.Duration < 0 {
		return RecordOutcome{}, invalid("duration must not be negative")
	}
	var out RecordOutcome
	var finished bool
	var mode string
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		run, err := r.GetRun(ctx, opts.RunID)
		if err != nil {
			return err
		}
		mode = run.Mode
		if run.Status == domain.RunStatusFinished {
			return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyFinished)
		}
		if _, err := r.GetTestCase(ctx, opts.TestCaseID); err != nil {
			return err
		}
		resultID, first, err := e.writeResult(ctx, r, run, opts)
		if err != nil {
			return err
		}
		out.First = first
		if out.Result, err = r.GetResult(ctx, resultID); err != nil {
			return err
		}
		out.Result.CaseCode = e.caseCode(out.Result.CaseOrder)
		if err := e.Events.Append(ctx, tx, "result.recorded", run.ProjectID, "test_result", resultID, opts.ActorID,
			events.EventPayload{"run_id": run.ID, "test_case_id": opts.TestCaseID, "status": opts.Status, "first": first}); err != nil {
			return err
		}
		p, err := e.progressOf(ctx, r, run)
		if err != nil {
			return err
		}
		if p.pending == 0 {
			if finished, err = e.finishRunTx(ctx, tx, r, &run, opts.ActorID); err != nil {
				return err
			}
		}
		out.Next, err = e.stepOf(ctx, r, run, p)
		return err
	})
	if err != nil {
		return RecordOutcome{}, err
	}
	e.Metrics.ResultRecorded(opts.Status, out.First)
	if finished {
		e.Metrics.RunFinished(mode)
		e.log().Info("run finished", zap.String("run_id", opts.RunID))
	}
	return out, nil
}

func (e Engine) writeResult(ctx context.Context, r repo.Repo, run domain.TestRun, opts RecordOptions) (string, bool, error) {
	executedBy := opts.ActorID
	if executedBy == "" {
		executedBy = "system"
	}
	existing, err := r.GetResultByCase(ctx, run.ID, opts.TestCaseID)
	switch {
	case err == nil && existing.Executed():
		return existing.ID, false, r.UpdateOutcome(ctx, existing.ID, opts.Status, opts.Notes)
	case err == nil:
		ok, err := r.MarkExecuted(ctx, existing.ID, opts.Status, executedBy, e.stamp(), opts.Notes, opts.Duration)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return existing.ID, false, r.UpdateOutcome(ctx, existing.ID, opts.Status, opts.Notes)
		}
		return existing.ID, true, nil
	case !errors.Is(err, domain.ErrNotFound):
		return "", false, err
	}

	if run.Mode == domain.RunModePush {
		return "", false, fmt.Errorf("test case %s in run %s: %w", opts.TestCaseID, run.ID, domain.ErrNotFound)
	}
	p, err := e.progressOf(ctx, r, run)
	if err != nil {
		return "", false, err
	}
	if p.next != opts.TestCaseID {
		return "", false, invalid("test case %s is not the next pending case", opts.TestCaseID)
	}
	executedAt := e.stamp()
	status := opts.Status
	res := domain.TestResult{
		ID:         domain.NewID(),
		RunID:      run.ID,
		TestCaseID: opts.TestCaseID,
		Position:   p.position,
		Status:     &status,
		ExecutedBy: &executedBy,
		ExecutedAt: &executedAt,
		Notes:      opts.Notes,
		Duration:   opts.Duration,
	}
	if err := r.InsertResult(ctx, res); err != nil {
		return "", false, err
	}
	return res.ID, true, nil
}

// RunSummary aggregates the executed results of a run. Pending counts the
// cases still to execute.
func (e Engine) RunSummary(ctx context.Context, runID string) (report.Summary, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return report.Summary{}, err
	}
	results, err := e.Repo.ListResults(ctx, runID)
	if err != nil {
		return report.Summary{}, err
	}
	var outcomes []report.Outcome
	for _, res := range results {
		if !res.Executed() || res.Status == nil {
			continue
		}
		outcomes = append(outcomes, report.Outcome{Status: *res.Status, Duration: res.Duration})
	}
	s := report.Summarize(outcomes)
	if run.Status != domain.RunStatusFinished {
		p, err := e.progressOf(ctx, e.Repo, run)
		if err != nil {
			return report.Summary{}, err
		}
		s.Pending = p.pending
	}
	return s, nil
}

// DeleteRun removes a run and its results.
func (e Engine) DeleteRun(ctx context.Context, runID, actorID string) error {
	return e.deleteScoped(ctx, runID, actorID, "test_runs", repo.RunCascade, "run.deleted")
}

func (e Engine) GetRun(ctx context.Context, runID string) (domain.TestRun, error) {
	return e.Repo.GetRun(ctx, runID)
}

func (e Engine) ListRuns(ctx context.Context, f repo.RunFilters) ([]domain.TestRun, error) {
	switch f.Status {
	case "", domain.RunStatusInProgress, domain.RunStatusFinished:
	default:
		return nil, invalid("invalid run status %q", f.Status)
	}
	return e.Repo.ListRuns(ctx, f)
}

// ListResults returns the run's results by position, pending rows included.
func (e Engine) ListResults(ctx context.Context, runID string) ([]domain.TestResult, error) {
	if _, err := e.Repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	results, err := e.Repo.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].CaseCode = e.caseCode(results[i].CaseOrder)
	}
	return results, nil
}

// ReportBugOptions are parameters for filing a bug against a result.
type ReportBugOptions struct {
	ResultID    string
	Title       string
	Description string
	Priority    string
	ActorID     string
}

// ReportBug files a bug in the run's project linked to the result's case.
func (e Engine) ReportBug(ctx context.Context, opts ReportBugOptions) (domain.Bug, error) {
	var b domain.Bug
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		res, err := r.GetResult(ctx, opts.ResultID)
		if err != nil {
			return err
		}
		run, err := r.GetRun(ctx, res.RunID)
		if err != nil {
			return err
		}
		b, err = e.insertBugTx(ctx, tx, r, BugCreateOptions{
			ProjectID:   run.ProjectID,
			Title:       opts.Title,
			Description: opts.Description,
			Priority:    opts.Priority,
			TestCaseIDs: []string{res.TestCaseID},
			ActorID:     opts.ActorID,
		})
		return err
	})
	return b, err
}
