package engine_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

func intPtr(v int) *int { return &v }

func TestSwapRenumberThenRunScenario(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "one", "two", "three")
	assert.Equal(t, []int{1, 2, 3}, env.caseOrders(t, tcs))

	require.NoError(t, env.Engine.SwapTestCases(env.Ctx, tcs[0].ID, tcs[2].ID, manager))
	assert.Equal(t, []int{3, 2, 1}, env.caseOrders(t, tcs))

	items, err := env.Engine.RenumberTestCases(env.Ctx, env.Project.ID, manager)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, i+1, it.Order)
	}
	assert.Equal(t, []string{tcs[2].ID, tcs[1].ID, tcs[0].ID}, []string{items[0].ID, items[1].ID, items[2].ID})

	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "Release", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID, ActorID: manager})
	require.NoError(t, err)
	assert.Equal(t, domain.RunModePull, run.Mode)

	var last engine.RecordOutcome
	for i, status := range []string{"pass", "fail", "skip"} {
		step, err := env.Engine.NextPendingCase(env.Ctx, run.ID)
		require.NoError(t, err)
		require.False(t, step.Finished)
		assert.Equal(t, tcs[i].ID, step.Case.ID)
		assert.Equal(t, i+1, step.Position)
		last, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{
			RunID: run.ID, TestCaseID: step.Case.ID, Status: status, Duration: intPtr(60), ActorID: manager,
		})
		require.NoError(t, err)
		assert.True(t, last.First)
	}
	assert.True(t, last.Next.Finished)

	got, err := env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, got.Status)
	require.NotNil(t, got.FinishedAt)

	sum, err := env.Engine.RunSummary(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 33.33, sum.PercentPassed)
	assert.Equal(t, 180, sum.TotalDuration)
	assert.Equal(t, 3, sum.TotalDurationMinutes)

	expected := `
# HELP caseline_runs_finished_total Test runs that reached finished, by execution mode.
# TYPE caseline_runs_finished_total counter
caseline_runs_finished_total{mode="pull"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(env.Engine.Metrics.Registry(), strings.NewReader(expected), "caseline_runs_finished_total"))
}

func TestStartRunOnEmptyPlan(t *testing.T) {
	env := newTestEnv(t)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "Empty"})
	require.NoError(t, err)

	_, err = env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID, ActorID: manager})
	assert.ErrorIs(t, err, domain.ErrEmptyList)

	runs, err := env.Engine.ListRuns(env.Ctx, repo.RunFilters{ProjectID: env.Project.ID})
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.StartRun(env.Ctx, engine.StartRunOptions{ProjectID: env.Project.ID})
	assert.ErrorIs(t, err, domain.ErrEmptyList)
}

func TestPullRunRequiresNextPendingCase(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b")
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID, ActorID: manager})
	require.NoError(t, err)

	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[1].ID, Status: "pass"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	results, err := env.Engine.ListResults(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFirstWriteWinsOnExecutionMetadata(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b")
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID, ActorID: manager})
	require.NoError(t, err)

	first, err := env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "fail", Notes: "broken", Duration: intPtr(30), ActorID: "alice"})
	require.NoError(t, err)
	require.True(t, first.First)

	second, err := env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "pass", Notes: "flaky", Duration: intPtr(99), ActorID: "bob"})
	require.NoError(t, err)
	assert.False(t, second.First)
	assert.Equal(t, first.Result.ID, second.Result.ID)
	assert.Equal(t, "pass", *second.Result.Status)
	assert.Equal(t, "flaky", second.Result.Notes)
	assert.Equal(t, "alice", *second.Result.ExecutedBy)
	assert.Equal(t, 30, *second.Result.Duration)
	assert.Equal(t, "TC-001", second.Result.CaseCode)

	assert.False(t, second.Next.Finished)
	assert.Equal(t, tcs[1].ID, second.Next.Case.ID)
}

func TestPushRunFromSuitesDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b", "c", "d")
	s1, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s1", TestCaseIDs: []string{tcs[1].ID, tcs[0].ID}})
	require.NoError(t, err)
	s2, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s2", TestCaseIDs: []string{tcs[0].ID, tcs[2].ID}})
	require.NoError(t, err)

	_, err = env.Engine.StartRun(env.Ctx, engine.StartRunOptions{ProjectID: env.Project.ID, SuiteIDs: []string{s1.ID}, Mode: domain.RunModePull})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{
		ProjectID: env.Project.ID,
		SuiteIDs:  []string{s1.ID, s2.ID},
		CaseIDs:   []string{tcs[3].ID, tcs[2].ID},
		Label:     "nightly",
		ActorID:   manager,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RunModePush, run.Mode)
	assert.Equal(t, []string{s1.ID, s2.ID}, run.SuiteIDs)

	results, err := env.Engine.ListResults(env.Ctx, run.ID)
	require.NoError(t, err)
	var order []string
	for _, res := range results {
		assert.Nil(t, res.ExecutedAt)
		order = append(order, res.TestCaseID)
	}
	assert.Equal(t, []string{tcs[1].ID, tcs[0].ID, tcs[2].ID, tcs[3].ID}, order)

	// push runs accept any pending case
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[3].ID, Status: "pass"})
	require.NoError(t, err)
	step, err := env.Engine.NextPendingCase(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, tcs[1].ID, step.Case.ID)
	assert.Equal(t, 3, step.Pending)
	assert.Equal(t, 4, step.Total)

	outsider := env.cases(t, "e")[0]
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: outsider.ID, Status: "pass"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sum, err := env.Engine.RunSummary(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 3, sum.Pending)
	assert.Equal(t, 100.0, sum.PercentPassed)

	for _, tc := range []domain.TestCase{tcs[2], tcs[0], tcs[1]} {
		_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tc.ID, Status: "skip"})
		require.NoError(t, err)
	}
	got, err := env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, got.Status)

	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "pass"})
	assert.ErrorIs(t, err, domain.ErrAlreadyFinished)
}

func TestPlanModeFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.PlanMode = domain.RunModePush
	env := newTestEnvWithConfig(t, cfg)
	tcs := env.cases(t, "a", "b")
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)

	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RunModePush, run.Mode)
	results, err := env.Engine.ListResults(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// positions are frozen at start
	require.NoError(t, env.Engine.SwapTestCases(env.Ctx, tcs[0].ID, tcs[1].ID, manager))
	members, err := env.Engine.PlanCases(env.Ctx, plan.ID)
	require.NoError(t, err)
	require.NoError(t, env.Engine.SwapPlanCases(env.Ctx, members[0].ID, members[1].ID, manager))
	step, err := env.Engine.NextPendingCase(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, tcs[0].ID, step.Case.ID)

	explicit, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID, Mode: domain.RunModePull})
	require.NoError(t, err)
	assert.Equal(t, domain.RunModePull, explicit.Mode)
}

func TestPullRunFollowsLivePlanOrder(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b", "c")
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID})
	require.NoError(t, err)
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "pass"})
	require.NoError(t, err)

	members, err := env.Engine.PlanCases(env.Ctx, plan.ID)
	require.NoError(t, err)
	require.NoError(t, env.Engine.SwapPlanCases(env.Ctx, members[1].ID, members[2].ID, manager))

	step, err := env.Engine.NextPendingCase(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, tcs[2].ID, step.Case.ID)
	assert.Equal(t, 2, step.Position)

	// moving a recorded case never makes it pending again
	require.NoError(t, env.Engine.SwapPlanCases(env.Ctx, members[0].ID, members[2].ID, manager))
	step, err = env.Engine.NextPendingCase(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, step.Pending)
}

func TestResumeHealsStaleRun(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b")
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID})
	require.NoError(t, err)
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "pass"})
	require.NoError(t, err)

	// the remaining case leaves the plan, so nothing is pending any more
	_, err = env.Engine.SetPlanCases(env.Ctx, plan.ID, []string{tcs[0].ID}, manager)
	require.NoError(t, err)

	got, err := env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInProgress, got.Status)

	step, err := env.Engine.ResumeRun(env.Ctx, run.ID, manager)
	require.NoError(t, err)
	assert.True(t, step.Finished)
	assert.Equal(t, domain.RunStatusFinished, step.Run.Status)

	got, err = env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, got.Status)
}

func TestReportBugAndDeleteRun(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a")
	suite, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{ProjectID: env.Project.ID, SuiteIDs: []string{suite.ID}})
	require.NoError(t, err)
	out, err := env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "fail", Notes: "500 on submit"})
	require.NoError(t, err)

	bug, err := env.Engine.ReportBug(env.Ctx, engine.ReportBugOptions{ResultID: out.Result.ID, Title: "Submit fails", Description: out.Result.Notes, Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, "BUG-001", bug.Code)
	linked, err := env.Engine.Links(env.Ctx, engine.LinkBugCases, bug.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{tcs[0].ID}, linked)

	require.NoError(t, env.Engine.DeleteRun(env.Ctx, run.ID, manager))
	_, err = env.Engine.GetRun(env.Ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var n int
	require.NoError(t, env.Engine.DB.QueryRow(`SELECT COUNT(1) FROM test_results WHERE test_run_id=?`, run.ID).Scan(&n))
	assert.Zero(t, n)
	assert.ErrorIs(t, env.Engine.DeleteRun(env.Ctx, run.ID, manager), domain.ErrNotFound)
}

func TestNextPendingCaseFinishesRunWhenLastCaseIsDeleted(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b")
	suite, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{ProjectID: env.Project.ID, SuiteIDs: []string{suite.ID}})
	require.NoError(t, err)
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[0].ID, Status: "pass"})
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteTestCase(env.Ctx, tcs[1].ID, manager))

	step, err := env.Engine.NextPendingCase(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, step.Finished)
	assert.Equal(t, domain.RunStatusFinished, step.Run.Status)
	got, err := env.Engine.GetRun(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, got.Status)
	assert.NotNil(t, got.FinishedAt)

	sum, err := env.Engine.RunSummary(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 0, sum.Pending)
}

func TestDeleteTestCaseKeepsFinishedRunsIntact(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b", "c")
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID})
	require.NoError(t, err)
	for i, status := range []string{"pass", "fail", "skip"} {
		_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[i].ID, Status: status})
		require.NoError(t, err)
	}
	before, err := env.Engine.RunSummary(env.Ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 3, before.Total)

	err = env.Engine.DeleteTestCase(env.Ctx, tcs[1].ID, manager)
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	after, err := env.Engine.RunSummary(env.Ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = env.Engine.GetTestCase(env.Ctx, tcs[1].ID)
	require.NoError(t, err)

	// a case only recorded in unfinished runs can still go
	other := env.cases(t, "d")[0]
	live, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{ProjectID: env.Project.ID, CaseIDs: []string{other.ID, tcs[0].ID}})
	require.NoError(t, err)
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: live.ID, TestCaseID: other.ID, Status: "fail"})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteTestCase(env.Ctx, other.ID, manager))
	results, err := env.Engine.ListResults(env.Ctx, live.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tcs[0].ID, results[0].TestCaseID)
}
