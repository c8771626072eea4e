package engine_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/exchange"
)

func TestSetLinksConverges(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b", "c")
	q, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: env.Project.ID, Title: "r"})
	require.NoError(t, err)

	diff, err := env.Engine.SetRequirementCases(env.Ctx, q.ID, []string{tcs[0].ID, tcs[1].ID, tcs[0].ID}, manager)
	require.NoError(t, err)
	assert.Equal(t, []string{tcs[0].ID, tcs[1].ID}, diff.Added)

	diff, err = env.Engine.SetRequirementCases(env.Ctx, q.ID, []string{tcs[1].ID, tcs[2].ID}, manager)
	require.NoError(t, err)
	assert.Equal(t, []string{tcs[2].ID}, diff.Added)
	assert.Equal(t, []string{tcs[0].ID}, diff.Removed)

	diff, err = env.Engine.SetRequirementCases(env.Ctx, q.ID, []string{tcs[1].ID, tcs[2].ID}, manager)
	require.NoError(t, err)
	assert.True(t, diff.Empty())

	// the same table seen from the case side
	reqs, err := env.Engine.Links(env.Ctx, engine.LinkCaseRequirements, tcs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{q.ID}, reqs)

	diff, err = env.Engine.SetRequirementCases(env.Ctx, q.ID, nil, manager)
	require.NoError(t, err)
	assert.Len(t, diff.Removed, 2)
}

func TestSetLinksRejectsForeignMembers(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a")
	other, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Other", ActorID: manager})
	require.NoError(t, err)
	foreign, err := env.Engine.CreateTestCase(env.Ctx, engine.TestCaseCreateOptions{ProjectID: other.ID, Title: "x", ExpectedResult: "y"})
	require.NoError(t, err)
	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p"})
	require.NoError(t, err)

	_, err = env.Engine.SetPlanCases(env.Ctx, plan.ID, []string{tcs[0].ID, foreign.ID}, manager)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	members, err := env.Engine.PlanCases(env.Ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = env.Engine.SetPlanCases(env.Ctx, "missing", []string{tcs[0].ID}, manager)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.AddLink(env.Ctx, engine.LinkPlanCases, plan.ID, foreign.ID, manager)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	added, err := env.Engine.AddLink(env.Ctx, engine.LinkPlanCases, plan.ID, tcs[0].ID, manager)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = env.Engine.AddLink(env.Ctx, engine.LinkPlanCases, plan.ID, tcs[0].ID, manager)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestOrderedLinksAppend(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b", "c")
	suite, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s", TestCaseIDs: []string{tcs[2].ID, tcs[0].ID}})
	require.NoError(t, err)

	_, err = env.Engine.SetSuiteCases(env.Ctx, suite.ID, []string{tcs[0].ID, tcs[1].ID}, manager)
	require.NoError(t, err)
	members, err := env.Engine.SuiteCases(env.Ctx, suite.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, tcs[0].ID, members[0].TestCaseID)
	assert.Equal(t, 2, members[0].Order)
	assert.Equal(t, tcs[1].ID, members[1].TestCaseID)
	assert.Equal(t, 3, members[1].Order)
	assert.Equal(t, "TC-002", members[1].Code)

	items, err := env.Engine.RenumberSuiteCases(env.Ctx, suite.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, 1, items[0].Order)
	assert.Equal(t, 2, items[1].Order)
}

func TestLinkByCodes(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a")
	for _, title := range []string{"r1", "r2", "r3"} {
		_, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: env.Project.ID, Title: title})
		require.NoError(t, err)
	}

	diff, err := env.Engine.LinkByCodes(env.Ctx, engine.LinkCaseRequirements, tcs[0].ID, "REQ-003, req-001, junk, REQ-003", manager)
	require.NoError(t, err)
	assert.Len(t, diff.Added, 2)

	reqs, err := env.Engine.Repo.RequirementsForCase(env.Ctx, tcs[0].ID)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "r1", reqs[0].Title)
	assert.Equal(t, "r3", reqs[1].Title)

	_, err = env.Engine.LinkByCodes(env.Ctx, engine.LinkCaseRequirements, tcs[0].ID, "REQ-001, REQ-009", manager)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "REQ-009")
}

func TestSwapAcrossScopesIsRejected(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a")
	other, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Other", ActorID: manager})
	require.NoError(t, err)
	foreign, err := env.Engine.CreateTestCase(env.Ctx, engine.TestCaseCreateOptions{ProjectID: other.ID, Title: "x", ExpectedResult: "y"})
	require.NoError(t, err)

	err = env.Engine.SwapTestCases(env.Ctx, tcs[0].ID, foreign.ID, manager)
	assert.ErrorIs(t, err, domain.ErrScopeMismatch)
	err = env.Engine.SwapTestCases(env.Ctx, tcs[0].ID, "missing", manager)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.Renumber(env.Ctx, engine.Collection("widgets"), env.Project.ID, manager)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = env.Engine.RenumberPlanCases(env.Ctx, "missing", manager)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	pid := env.Project.ID
	r1, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: pid, Title: "Login", Priority: "low"})
	require.NoError(t, err)
	_, err = env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: pid, Title: "Logout"})
	require.NoError(t, err)
	tcs := env.cases(t, "a", "b")
	_, err = env.Engine.SetRequirementCases(env.Ctx, r1.ID, []string{tcs[1].ID}, manager)
	require.NoError(t, err)
	_, err = env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{ProjectID: pid, Title: "Crash", TestCaseIDs: []string{tcs[0].ID, tcs[1].ID}})
	require.NoError(t, err)

	var csvBuf bytes.Buffer
	require.NoError(t, env.Engine.ExportCasesCSV(env.Ctx, &csvBuf, pid))
	assert.Contains(t, csvBuf.String(), "TC-002,b,REQ-001,,,works,Functional,No")

	doc, err := env.Engine.ExportProject(env.Ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "REQ-001", doc.TestCases["TC-002"].Requirements)
	assert.Equal(t, "TC-001, TC-002", doc.Bugs["BUG-001"].TestCases)

	_, err = env.Engine.ImportProject(env.Ctx, doc, manager)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	doc.Name = "Alpha copy"
	var jsonBuf bytes.Buffer
	require.NoError(t, exchange.Encode(&jsonBuf, doc))
	decoded, err := exchange.Decode(&jsonBuf)
	require.NoError(t, err)
	imported, err := env.Engine.ImportProject(env.Ctx, decoded, "u-importer")
	require.NoError(t, err)

	again, err := env.Engine.ExportProject(env.Ctx, imported.ID)
	require.NoError(t, err)
	doc.Name = again.Name
	assert.Equal(t, doc, again)

	detail, err := env.Engine.ProjectDetail(env.Ctx, imported.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-importer", detail.Project.ManagerID)
	assert.Equal(t, 2, detail.Counts.Requirements)
	assert.Equal(t, 1, detail.Counts.OpenBugs())
}

func TestImportResequencesSparseCodes(t *testing.T) {
	env := newTestEnv(t)
	doc := exchange.ProjectDocument{
		Name:         "Sparse",
		Requirements: map[string]exchange.RequirementDoc{"REQ-010": {Title: "ten"}, "REQ-004": {Title: "four"}},
		TestCases: map[string]exchange.TestCaseDoc{
			"TC-007": {Title: "seven", Requirements: "REQ-010, REQ-099", ExpectedResult: "ok"},
		},
	}
	p, err := env.Engine.ImportProject(env.Ctx, doc, manager)
	require.NoError(t, err)

	reqs, err := env.Engine.ListRequirements(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "four", reqs[0].Title)
	assert.Equal(t, "REQ-001", reqs[0].Code)
	assert.Equal(t, "ten", reqs[1].Title)

	cases, err := env.Engine.ListTestCases(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "TC-001", cases[0].Code)
	linked, err := env.Engine.Repo.RequirementsForCase(env.Ctx, cases[0].ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "ten", linked[0].Title)
}

func TestExportRunCSV(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b")
	suite, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	run, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{ProjectID: env.Project.ID, SuiteIDs: []string{suite.ID}})
	require.NoError(t, err)
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: run.ID, TestCaseID: tcs[1].ID, Status: "pass", Duration: intPtr(12), ActorID: "alice"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.Engine.ExportRunCSV(env.Ctx, &buf, run.ID))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "TC-001,,,,,", lines[1])
	assert.Equal(t, "TC-002,pass,alice,2024-01-01T00:00:00Z,12,", lines[2])

	plan, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: env.Project.ID, Name: "p", Milestone: "2.0", Platform: "android", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	planRun, err := env.Engine.StartRun(env.Ctx, engine.StartRunOptions{PlanID: plan.ID})
	require.NoError(t, err)
	_, err = env.Engine.RecordResult(env.Ctx, engine.RecordOptions{RunID: planRun.ID, TestCaseID: tcs[0].ID, Status: "fail", Notes: "crash", ActorID: "bob"})
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, env.Engine.ExportRunCSV(env.Ctx, &buf, planRun.ID))
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Milestone,Platform,Test Case,Status,Executed By,Executed At,Duration,Notes", lines[0])
	assert.Equal(t, "2.0,android,TC-001,fail,bob,2024-01-01T00:00:00Z,,crash", lines[1])
}

func TestLinkedReaders(t *testing.T) {
	env := newTestEnv(t)
	tcs := env.cases(t, "a", "b", "c")
	q1, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: env.Project.ID, Title: "r1"})
	require.NoError(t, err)
	q2, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: env.Project.ID, Title: "r2"})
	require.NoError(t, err)
	b, err := env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{ProjectID: env.Project.ID, Title: "crash"})
	require.NoError(t, err)

	_, err = env.Engine.SetCaseRequirements(env.Ctx, tcs[1].ID, []string{q2.ID, q1.ID}, manager)
	require.NoError(t, err)
	_, err = env.Engine.SetBugCases(env.Ctx, b.ID, []string{tcs[2].ID, tcs[1].ID}, manager)
	require.NoError(t, err)

	links, err := env.Engine.TestCaseLinks(env.Ctx, tcs[1].ID)
	require.NoError(t, err)
	require.Len(t, links.Requirements, 2)
	assert.Equal(t, "REQ-001", links.Requirements[0].Code)
	assert.Equal(t, "REQ-002", links.Requirements[1].Code)
	require.Len(t, links.Bugs, 1)
	assert.Equal(t, "BUG-001", links.Bugs[0].Code)

	cases, err := env.Engine.BugCases(env.Ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "TC-002", cases[0].Code)
	assert.Equal(t, "TC-003", cases[1].Code)

	cases, err = env.Engine.RequirementCases(env.Ctx, q1.ID)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, tcs[1].ID, cases[0].ID)

	empty, err := env.Engine.TestCaseLinks(env.Ctx, tcs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, empty.Requirements)
	assert.Empty(t, empty.Bugs)

	_, err = env.Engine.BugCases(env.Ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSwapAndRenumberPerCollection(t *testing.T) {
	env := newTestEnv(t)
	var reqs []domain.Requirement
	for _, title := range []string{"r1", "r2"} {
		q, err := env.Engine.CreateRequirement(env.Ctx, engine.RequirementCreateOptions{ProjectID: env.Project.ID, Title: title})
		require.NoError(t, err)
		reqs = append(reqs, q)
	}
	require.NoError(t, env.Engine.SwapRequirements(env.Ctx, reqs[0].ID, reqs[1].ID, manager))
	got, err := env.Engine.GetRequirement(env.Ctx, reqs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "REQ-002", got.Code)
	items, err := env.Engine.RenumberRequirements(env.Ctx, env.Project.ID, manager)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, reqs[1].ID, items[0].ID)

	var bugs []domain.Bug
	for _, title := range []string{"b1", "b2", "b3"} {
		b, err := env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{ProjectID: env.Project.ID, Title: title})
		require.NoError(t, err)
		bugs = append(bugs, b)
	}
	require.NoError(t, env.Engine.SwapBugs(env.Ctx, bugs[0].ID, bugs[2].ID, manager))
	require.NoError(t, env.Engine.SwapBugs(env.Ctx, bugs[0].ID, bugs[2].ID, manager))
	items, err = env.Engine.RenumberBugs(env.Ctx, env.Project.ID, manager)
	require.NoError(t, err)
	for i, it := range items {
		assert.Equal(t, bugs[i].ID, it.ID)
		assert.Equal(t, i+1, it.Order)
	}

	tcs := env.cases(t, "a", "b")
	suite, err := env.Engine.CreateSuite(env.Ctx, engine.SuiteCreateOptions{ProjectID: env.Project.ID, Name: "s", TestCaseIDs: caseIDs(tcs)})
	require.NoError(t, err)
	members, err := env.Engine.SuiteCases(env.Ctx, suite.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.NoError(t, env.Engine.SwapSuiteCases(env.Ctx, members[0].ID, members[1].ID, manager))
	members, err = env.Engine.SuiteCases(env.Ctx, suite.ID)
	require.NoError(t, err)
	assert.Equal(t, tcs[1].ID, members[0].TestCaseID)
}
