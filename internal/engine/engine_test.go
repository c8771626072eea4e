package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/metrics"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

const manager = "u-manager"

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, config.Default())
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Metrics = metrics.New()
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{Name: "Alpha", ActorID: manager})
	require.NoError(t, err, "create project")
	return testEnv{Engine: eng, Ctx: ctx, Project: p}
}

func (env testEnv) cases(t *testing.T, titles ...string) []domain.TestCase {
	t.Helper()
	var out []domain.TestCase
	for _, title := range titles {
		tc, err := env.Engine.CreateTestCase(env.Ctx, engine.TestCaseCreateOptions{
			ProjectID:      env.Project.ID,
			Title:          title,
			ExpectedResult: "works",
			IsFunctional:   true,
			ActorID:        manager,
		})
		require.NoError(t, err)
		out = append(out, tc)
	}
	return out
}

func caseIDs(cases []domain.TestCase) []string {
	out := make([]string, len(cases))
	for i, tc := range cases {
		out[i] = tc.ID
	}
	return out
}

func (env testEnv) caseOrders(t *testing.T, cases []domain.TestCase) []int {
	t.Helper()
	out := make([]int, len(cases))
	for i, tc := range cases {
		got, err := env.Engine.GetTestCase(env.Ctx, tc.ID)
		require.NoError(t, err)
		out[i] = got.Order
	}
	return out
}

func TestCreateProjectMakesCreatorManager(t *testing.T) {
	env := newTestEnv(t)
	detail, err := env.Engine.ProjectDetail(env.Ctx, env.Project.ID)
	require.NoError(t, err)
	require.Len(t, detail.Members, 1)
	assert.Equal(t, manager, detail.Members[0].UserID)
	assert.Equal(t, "manager", detail.Members[0].Role)
	assert.Equal(t, manager, detail.Project.ManagerID)

	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: " Alpha ", ActorID: "other"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	_, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "", ActorID: "other"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateProjectRejectsTakenName(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Beta", ActorID: manager})
	require.NoError(t, err)

	taken := "Beta"
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: env.Project.ID, Name: &taken, ActorID: manager})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	same := "Alpha"
	desc := "core"
	p, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: env.Project.ID, Name: &same, Description: &desc, ActorID: manager})
	require.NoError(t, err)
	assert.Equal(t, "core", p.Description)

	resolved, err := env.Engine.ResolveProject(env.Ctx, "Alpha")
	require.NoError(t, err)
	assert.Equal(t, env.Project.ID, resolved.ID)
}

func TestMembers(t *testing.T) {
	env := newTestEnv(t)
	pid := env.Project.ID

	_, err := env.Engine.AddMember(env.Ctx, pid, "u-editor", "editor", manager)
	require.NoError(t, err)
	_, err = env.Engine.AddMember(env.Ctx, pid, "u-editor", "viewer", manager)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
	_, err = env.Engine.AddMember(env.Ctx, pid, "u-x", "manager", manager)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	m, err := env.Engine.SetMemberRole(env.Ctx, pid, "u-editor", "viewer", manager)
	require.NoError(t, err)
	assert.Equal(t, "viewer", m.Role)

	_, err = env.Engine.SetMemberRole(env.Ctx, pid, manager, "viewer", manager)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.ErrorIs(t, env.Engine.RemoveMember(env.Ctx, pid, manager, manager), domain.ErrInvalidArgument)

	require.NoError(t, env.Engine.RemoveMember(env.Ctx, pid, "u-editor", manager))
	assert.ErrorIs(t, env.Engine.RemoveMember(env.Ctx, pid, "u-editor", manager), domain.ErrNotFound)
}

func TestNormalizeSteps(t *testing.T) {
	got := engine.NormalizeSteps("1. open the app\n\n2) log in,\n  3- check the banner!\nsubmit the form...")
	assert.Equal(t, "1. open the app.\n2. log in.\n3. check the banner!\n4. submit the form.", got)
	assert.Equal(t, "", engine.NormalizeSteps(" \n "))
}

func TestCreateDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)
	pid := env.Project.ID

	q, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: pid, Title: "Login", ActorID: manager})
	require.NoError(t, err)
	assert.Equal(t, "REQ-001", q.Code)
	assert.Equal(t, "functional", q.Type)
	assert.Equal(t, "high", q.Priority)

	b, err := env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{ProjectID: pid, Title: "Crash", ActorID: manager})
	require.NoError(t, err)
	assert.Equal(t, "BUG-001", b.Code)
	assert.Equal(t, "open", b.Status)
	assert.Equal(t, "medium", b.Priority)

	_, err = env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: pid, Title: "x", Type: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = env.Engine.CreateTestCase(env.Ctx, engine.TestCaseCreateOptions{ProjectID: pid, Title: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: "missing", Title: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBugTriageOrder(t *testing.T) {
	env := newTestEnv(t)
	pid := env.Project.ID
	mk := func(title, status, priority string) {
		_, err := env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{ProjectID: pid, Title: title, Status: status, Priority: priority})
		require.NoError(t, err)
	}
	mk("closed-high", "closed", "high")
	mk("open-low", "open", "low")
	mk("progress-high", "progress", "high")
	mk("open-high", "open", "high")

	bugs, err := env.Engine.ListBugs(env.Ctx, repo.BugFilters{ProjectID: pid, Triage: true})
	require.NoError(t, err)
	var titles []string
	for _, b := range bugs {
		titles = append(titles, b.Title)
	}
	assert.Equal(t, []string{"open-high", "open-low", "progress-high", "closed-high"}, titles)
}

func TestDeleteTestCaseCascadesAndRenumbers(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b", "c")
	q, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: env.Project.ID, Title: "r"})
	require.NoError(t, err)
	_, err = env.Engine.SetRequirementCases(env.Ctx, q.ID, caseIDs(tcs), manager)
	require.NoError(t, err)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteTestCase(env.Ctx, tcs[1].ID, manager))

	_, err = env.Engine.GetTestCase(env.Ctx, tcs[1].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []int{1, 2}, env.caseOrders(t, []domain.TestCase{tcs[0], tcs[2]}))

	linked, err := env.Engine.Links(env.Ctx, engine.LinkRequirementCases, q.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{tcs[0].ID, tcs[2].ID}, linked)

	members, err := env.Engine.PlanCases(env.Ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "TC-002", members[1].Code)

	assert.ErrorIs(t, env.Engine.DeleteTestCase(env.Ctx, tcs[1].ID, manager), domain.ErrNotFound)
}

func TestDeleteProjectRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b")
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	suite, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	_, err = env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID, ActorID: manager})
	require.NoError(t, err)
	_, err = env.Engine.StartRun(env.Ctx, engine.StartRunOptions{ProjectID: env.Project.ID, SuiteIDs: []string{suite.ID}, ActorID: manager})
	require.NoError(t, err)
	_, err = env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{ProjectID: env.Project.ID, Title: "b", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)

	deleted, err := env.Engine.DeleteProject(env.Ctx, env.Project.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted["projects"])
	assert.Equal(t, int64(2), deleted["test_cases"])
	assert.Equal(t, int64(2), deleted["test_runs"])
	assert.Equal(t, int64(2), deleted["test_results"])

	for _, table := range []string{"projects", "project_members", "test_cases", "test_plan_cases", "test_suite_cases", "test_runs", "test_results", "bug_test_cases", "bugs"} {
		var n int
		require.NoError(t, env.Engine.DB.QueryRow(`SELECT COUNT(1) FROM `+table).Scan(&n))
		assert.Zero(t, n, table)
	}

	_, err = env.Engine.DeleteProject(env.Ctx, env.Project.ID, manager)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventsAppendedOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	env.cases(t, "a")
	evts, err := env.Engine.Events.Tail(env.Ctx, env.Project.ID, 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "project.created", evts[0].Type)
	assert.Equal(t, "test_case.created", evts[1].Type)
	assert.Equal(t, manager, evts[1].ActorID)
	assert.Contains(t, evts[1].PayloadJSON, "TC-001")
}
