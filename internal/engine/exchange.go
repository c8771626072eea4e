package engine

import (
	"context"
	"database/sql"
	"io"

	"go.uber.org/zap"

	"caseline/internal/code"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/exchange"
	"caseline/internal/repo"
)

// ExportCasesCSV writes the project's test cases in case order.
func (e Engine) ExportCasesCSV(ctx context.Context, w io.Writer, projectID string) error {
	cases, err := e.ListTestCases(ctx, projectID)
	if err != nil {
		return err
	}
	reqOrders, err := e.Repo.CaseRequirementOrders(ctx, projectID)
	if err != nil {
		return err
	}
	rows := make([]exchange.CaseRow, 0, len(cases))
	for _, tc := range cases {
		rows = append(rows, exchange.CaseRow{
			Code:           tc.Code,
			Title:          tc.Title,
			Requirements:   code.Join(e.cfg().Codes.Requirement, reqOrders[tc.ID]),
			Preconditions:  tc.Preconditions,
			Steps:          tc.Steps,
			ExpectedResult: tc.ExpectedResult,
			IsFunctional:   tc.IsFunctional,
			IsAutomated:    tc.IsAutomated,
		})
	}
	return exchange.WriteCasesCSV(w, rows)
}

// ExportRunCSV writes the run's results by position. Plan runs lead each row
// with the plan's milestone and platform.
func (e Engine) ExportRunCSV(ctx context.Context, w io.Writer, runID string) error {
	results, err := e.ListResults(ctx, runID)
	if err != nil {
		return err
	}
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	var plan *exchange.PlanColumns
	if run.PlanID != nil {
		p, err := e.Repo.GetPlan(ctx, *run.PlanID)
		if err != nil {
			return err
		}
		plan = &exchange.PlanColumns{Milestone: p.Milestone, Platform: p.Platform}
	}
	rows := make([]exchange.ResultRow, 0, len(results))
	for _, res := range results {
		row := exchange.ResultRow{TestCase: res.CaseCode, Duration: res.Duration, Notes: res.Notes}
		if res.Status != nil {
			row.Status = *res.Status
		}
		if res.ExecutedBy != nil {
			row.ExecutedBy = *res.ExecutedBy
		}
		if res.ExecutedAt != nil {
			row.ExecutedAt = *res.ExecutedAt
		}
		rows = append(rows, row)
	}
	return exchange.WriteResultsCSV(w, plan, rows)
}

// ExportProject builds the JSON document of a project.
func (e Engine) ExportProject(ctx context.Context, projectID string) (exchange.ProjectDocument, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return exchange.ProjectDocument{}, err
	}
	reqs, err := e.ListRequirements(ctx, projectID)
	if err != nil {
		return exchange.ProjectDocument{}, err
	}
	cases, err := e.ListTestCases(ctx, projectID)
	if err != nil {
		return exchange.ProjectDocument{}, err
	}
	bugs, err := e.ListBugs(ctx, repo.BugFilters{ProjectID: projectID})
	if err != nil {
		return exchange.ProjectDocument{}, err
	}
	reqOrders, err := e.Repo.CaseRequirementOrders(ctx, projectID)
	if err != nil {
		return exchange.ProjectDocument{}, err
	}
	caseOrders, err := e.Repo.BugCaseOrders(ctx, projectID)
	if err != nil {
		return exchange.ProjectDocument{}, err
	}

	cfg := e.cfg()
	doc := exchange.ProjectDocument{
		Name:         p.Name,
		Description:  p.Description,
		Requirements: make(map[string]exchange.RequirementDoc, len(reqs)),
		TestCases:    make(map[string]exchange.TestCaseDoc, len(cases)),
		Bugs:         make(map[string]exchange.BugDoc, len(bugs)),
	}
	for _, q := range reqs {
		doc.Requirements[q.Code] = exchange.RequirementDoc{Title: q.Title, Description: q.Description, Type: q.Type, Priority: q.Priority}
	}
	for _, tc := range cases {
		doc.TestCases[tc.Code] = exchange.TestCaseDoc{
			Title:          tc.Title,
			Requirements:   code.Join(cfg.Codes.Requirement, reqOrders[tc.ID]),
			Preconditions:  tc.Preconditions,
			Steps:          tc.Steps,
			ExpectedResult: tc.ExpectedResult,
			IsFunctional:   tc.IsFunctional,
			IsAutomated:    tc.IsAutomated,
		}
	}
	for _, b := range bugs {
		doc.Bugs[b.Code] = exchange.BugDoc{
			Title:       b.Title,
			Description: b.Description,
			Status:      b.Status,
			Priority:    b.Priority,
			TestCases:   code.Join(cfg.Codes.TestCase, caseOrders[b.ID]),
		}
	}
	return doc, nil
}

// ImportProject creates a new project from doc in one transaction. Entities
// are appended in code order, so their new orders are dense regardless of the
// codes in the document. Link codes that name nothing in the document are
// dropped.
func (e Engine) ImportProject(ctx context.Context, doc exchange.ProjectDocument, actorID string) (domain.Project, error) {
	cfg := e.cfg()
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if p, err = e.createProjectTx(ctx, tx, r, ProjectCreateOptions{Name: doc.Name, Description: doc.Description, ActorID: actorID}); err != nil {
			return err
		}

		reqIDs := map[int]string{}
		for _, key := range exchange.SortedCodes(cfg.Codes.Requirement, doc.Requirements) {
			d := doc.Requirements[key]
			opts := RequirementCreateOptions{ProjectID: p.ID, Title: d.Title, Description: d.Description, Type: d.Type, Priority: d.Priority, ActorID: actorID}
			if opts.Type == "" {
				opts.Type = "functional"
			}
			if opts.Priority == "" {
				opts.Priority = "high"
			}
			if !requirementTypes[opts.Type] || !priorities[opts.Priority] {
				return invalid("requirement %s: invalid type or priority", key)
			}
			q, err := e.insertRequirementTx(ctx, tx, r, opts)
			if err != nil {
				return err
			}
			if n, ok := code.Parse(cfg.Codes.Requirement, key); ok {
				reqIDs[n] = q.ID
			}
		}

		caseIDs := map[int]string{}
		for _, key := range exchange.SortedCodes(cfg.Codes.TestCase, doc.TestCases) {
			d := doc.TestCases[key]
			tc, err := e.insertTestCaseTx(ctx, tx, r, TestCaseCreateOptions{
				ProjectID:      p.ID,
				Title:          d.Title,
				Preconditions:  d.Preconditions,
				Steps:          d.Steps,
				ExpectedResult: d.ExpectedResult,
				IsFunctional:   d.IsFunctional,
				IsAutomated:    d.IsAutomated,
				ActorID:        actorID,
			})
			if err != nil {
				return err
			}
			if n, ok := code.Parse(cfg.Codes.TestCase, key); ok {
				caseIDs[n] = tc.ID
			}
			linked := lookup(reqIDs, code.ParseList(cfg.Codes.Requirement, d.Requirements))
			if len(linked) > 0 {
				if _, err := e.setLinksTx(ctx, tx, r, LinkCaseRequirements, tc.ID, linked); err != nil {
					return err
				}
			}
		}

		for _, key := range exchange.SortedCodes(cfg.Codes.Bug, doc.Bugs) {
			d := doc.Bugs[key]
			if _, err := e.insertBugTx(ctx, tx, r, BugCreateOptions{
				ProjectID:   p.ID,
				Title:       d.Title,
				Description: d.Description,
				Status:      d.Status,
				Priority:    d.Priority,
				TestCaseIDs: lookup(caseIDs, code.ParseList(cfg.Codes.TestCase, d.TestCases)),
				ActorID:     actorID,
			}); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, "project.imported", p.ID, "project", p.ID, actorID, events.EventPayload{
			"requirements": len(doc.Requirements), "test_cases": len(doc.TestCases), "bugs": len(doc.Bugs),
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.log().Info("project imported", zap.String("project_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

func lookup(ids map[int]string, orders []int) []string {
	var out []string
	for _, o := range orders {
		if id, ok := ids[o]; ok {
			out = append(out, id)
		}
	}
	return out
}
