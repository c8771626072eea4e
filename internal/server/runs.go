package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/report"
	"caseline/internal/repo"
)

func registerRuns(api huma.API, e engine.Engine, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-run",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/runs",
		Summary:       "Start a test run",
		Description:   "Give either plan_id or suite_ids. Plan runs default to the configured mode; suite runs are always push.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      StartRunRequest
	}) (*output[domain.TestRun], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		run, err := e.StartRun(ctx, engine.StartRunOptions{
			ProjectID: input.ProjectID,
			PlanID:    input.Body.PlanID,
			SuiteIDs:  input.Body.SuiteIDs,
			CaseIDs:   input.Body.CaseIDs,
			Mode:      input.Body.Mode,
			Label:     input.Body.Label,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(run), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/runs",
		Summary:     "List test runs",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		PlanID    string `query:"plan_id"`
		Status    string `query:"status" enum:"in_progress,finished"`
	}) (*output[[]domain.TestRun], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListRuns(ctx, repo.RunFilters{ProjectID: input.ProjectID, PlanID: input.PlanID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Get test run",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.TestRun], error) {
		if _, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		run, err := e.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(run), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "next-case",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/next",
		Summary:     "Next pending case with progress",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[engine.Step], error) {
		if _, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		st, err := e.NextPendingCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-run",
		Method:      http.MethodPost,
		Path:        "/runs/{id}/resume",
		Summary:     "Resume a run, finishing it if nothing is pending",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*output[engine.Step], error) {
		actorID, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := e.ResumeRun(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-result",
		Method:      http.MethodPost,
		Path:        "/runs/{id}/results",
		Summary:     "Record a case outcome",
		Description: "Pull runs accept only the next pending case first; re-recording an executed case overwrites its outcome.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body RecordResultRequest
	}) (*output[engine.RecordOutcome], error) {
		actorID, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.RecordResult(ctx, engine.RecordOptions{
			RunID:      input.ID,
			TestCaseID: input.Body.TestCaseID,
			Status:     input.Body.Status,
			Notes:      input.Body.Notes,
			Duration:   input.Body.Duration,
			ActorID:    actorID,
		})
		if errors.Is(err, domain.ErrAlreadyFinished) {
			return nil, newAPIError(http.StatusConflict, "already_finished", err.Error(), map[string]any{
				"summary": path.Join(basePath, "runs", input.ID, "summary"),
			})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-results",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/results",
		Summary:     "List results by position",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[[]domain.TestResult], error) {
		if _, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListResults(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-summary",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/summary",
		Summary:     "Aggregate executed results",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[report.Summary], error) {
		if _, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		s, err := e.RunSummary(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-run-csv",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/results.csv",
		Summary:     "Export results as CSV",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*csvOutput, error) {
		if _, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := e.ExportRunCSV(ctx, &buf, input.ID); err != nil {
			return nil, handleError(err)
		}
		return csvReply("run_"+input.ID+".csv", buf.Bytes()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-run",
		Method:        http.MethodDelete,
		Path:          "/runs/{id}",
		Summary:       "Delete test run and its results",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, err := authorizeRow(ctx, e, "test_runs", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteRun(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "report-bug",
		Method:        http.MethodPost,
		Path:          "/results/{id}/bugs",
		Summary:       "File a bug linked to the result's case",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ReportBugRequest
	}) (*output[domain.Bug], error) {
		res, err := e.Repo.GetResult(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, err := authorizeRow(ctx, e, "test_runs", res.RunID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.ReportBug(ctx, engine.ReportBugOptions{
			ResultID:    input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})
}
