package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

type idPath struct {
	ID string `path:"id"`
}

func registerRequirements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-requirement",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/requirements",
		Summary:       "Create requirement",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateRequirementRequest
	}) (*output[domain.Requirement], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		q, err := e.CreateRequirement(ctx, engine.RequirementCreateOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Type:        input.Body.Type,
			Priority:    input.Body.Priority,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requirements",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/requirements",
		Summary:     "List requirements in order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Requirement], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListRequirements(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-requirement",
		Method:      http.MethodGet,
		Path:        "/requirements/{id}",
		Summary:     "Get requirement",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.Requirement], error) {
		if _, err := authorizeRow(ctx, e, "requirements", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		q, err := e.GetRequirement(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-requirement",
		Method:      http.MethodPatch,
		Path:        "/requirements/{id}",
		Summary:     "Update requirement",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateRequirementRequest
	}) (*output[domain.Requirement], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := authorizeRow(ctx, e, "requirements", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		q, err := e.UpdateRequirement(ctx, engine.RequirementUpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Type:        input.Body.Type,
			Priority:    input.Body.Priority,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-requirement",
		Method:        http.MethodDelete,
		Path:          "/requirements/{id}",
		Summary:       "Delete requirement and renumber the rest",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, err := authorizeRow(ctx, e, "requirements", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteRequirement(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requirement-cases",
		Method:      http.MethodGet,
		Path:        "/requirements/{id}/cases",
		Summary:     "List test cases covering a requirement",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[[]domain.TestCase], error) {
		if _, err := authorizeRow(ctx, e, "requirements", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.RequirementCases(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerTestCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-test-case",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/cases",
		Summary:       "Create test case",
		Description:   "Steps are normalized into a numbered list.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateTestCaseRequest
	}) (*output[domain.TestCase], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		functional := true
		if input.Body.IsFunctional != nil {
			functional = *input.Body.IsFunctional
		}
		tc, err := e.CreateTestCase(ctx, engine.TestCaseCreateOptions{
			ProjectID:      input.ProjectID,
			Title:          input.Body.Title,
			Preconditions:  input.Body.Preconditions,
			Steps:          input.Body.Steps,
			ExpectedResult: input.Body.ExpectedResult,
			IsFunctional:   functional,
			IsAutomated:    input.Body.IsAutomated,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-test-cases",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/cases",
		Summary:     "List test cases in order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.TestCase], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListTestCases(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-test-case",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get test case",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.TestCase], error) {
		if _, err := authorizeRow(ctx, e, "test_cases", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		tc, err := e.GetTestCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-test-case",
		Method:      http.MethodPatch,
		Path:        "/cases/{id}",
		Summary:     "Update test case",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateTestCaseRequest
	}) (*output[domain.TestCase], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := authorizeRow(ctx, e, "test_cases", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		tc, err := e.UpdateTestCase(ctx, engine.TestCaseUpdateOptions{
			ID:             input.ID,
			Title:          input.Body.Title,
			Preconditions:  input.Body.Preconditions,
			Steps:          input.Body.Steps,
			ExpectedResult: input.Body.ExpectedResult,
			IsFunctional:   input.Body.IsFunctional,
			IsAutomated:    input.Body.IsAutomated,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-test-case",
		Method:        http.MethodDelete,
		Path:          "/cases/{id}",
		Summary:       "Delete test case and renumber the rest",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, err := authorizeRow(ctx, e, "test_cases", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTestCase(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-test-case-links",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/links",
		Summary:     "List requirements and bugs linked to a test case",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[engine.CaseLinks], error) {
		if _, err := authorizeRow(ctx, e, "test_cases", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.TestCaseLinks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items), nil
	})
}

func registerBugs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-bug",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/bugs",
		Summary:       "Create bug",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateBugRequest
	}) (*output[domain.Bug], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.CreateBug(ctx, engine.BugCreateOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			TestCaseIDs: input.Body.TestCaseIDs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bugs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/bugs",
		Summary:     "List bugs",
		Description: "triage=true lists open and in-progress bugs by priority.",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"open,progress,closed"`
		Triage    bool   `query:"triage"`
	}) (*output[[]domain.Bug], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListBugs(ctx, repo.BugFilters{ProjectID: input.ProjectID, Status: input.Status, Triage: input.Triage})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bug",
		Method:      http.MethodGet,
		Path:        "/bugs/{id}",
		Summary:     "Get bug",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.Bug], error) {
		if _, err := authorizeRow(ctx, e, "bugs", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		b, err := e.GetBug(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-bug",
		Method:      http.MethodPatch,
		Path:        "/bugs/{id}",
		Summary:     "Update bug",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateBugRequest
	}) (*output[domain.Bug], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := authorizeRow(ctx, e, "bugs", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.UpdateBug(ctx, engine.BugUpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-bug",
		Method:        http.MethodDelete,
		Path:          "/bugs/{id}",
		Summary:       "Delete bug and renumber the rest",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, err := authorizeRow(ctx, e, "bugs", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteBug(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bug-cases",
		Method:      http.MethodGet,
		Path:        "/bugs/{id}/cases",
		Summary:     "List test cases linked to a bug",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[[]domain.TestCase], error) {
		if _, err := authorizeRow(ctx, e, "bugs", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.BugCases(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}
