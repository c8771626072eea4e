package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/exchange"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

// csvOutput carries a CSV download.
type csvOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func csvReply(name string, data []byte) *csvOutput {
	return &csvOutput{
		ContentType:        "text/csv; charset=utf-8",
		ContentDisposition: `attachment; filename="` + name + `"`,
		Body:               data,
	}
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		Description:   "The caller becomes the project manager.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects the caller is a member of",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Project overview with counts and members",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*output[engine.ProjectDetail], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		detail, err := e.ProjectDetail(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		detail.Members = nonNilSlice(detail.Members)
		return reply(detail), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      UpdateProjectRequest
	}) (*output[domain.Project], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Manage)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:          input.ProjectID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project and everything it owns",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *projectPath) (*output[DeletedResponse], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Manage)
		if err != nil {
			return nil, handleError(err)
		}
		deleted, err := e.DeleteProject(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DeletedResponse{Rows: deleted}), nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	type memberPath struct {
		ProjectID string `path:"project_id"`
		UserID    string `path:"user_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List members",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Member], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMembers(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/members",
		Summary:       "Add member",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      AddMemberRequest
	}) (*output[domain.Member], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Manage)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.AddMember(ctx, input.ProjectID, input.Body.UserID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-member-role",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/members/{user_id}",
		Summary:     "Change member role",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		UserID    string `path:"user_id"`
		Body      MemberRoleRequest
	}) (*output[domain.Member], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Manage)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.SetMemberRole(ctx, input.ProjectID, input.UserID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-member",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/members/{user_id}",
		Summary:       "Remove member",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *memberPath) (*struct{}, error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Manage)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.RemoveMember(ctx, input.ProjectID, input.UserID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*output[[]domain.Event], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Events.Tail(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerExchange(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/export",
		Summary:     "Export project as a JSON document",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*output[exchange.ProjectDocument], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		doc, err := e.ExportProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(doc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-project",
		Method:        http.MethodPost,
		Path:          "/projects/import",
		Summary:       "Create a project from a JSON document",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body exchange.ProjectDocument
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		p, err := e.ImportProject(ctx, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-cases-csv",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/cases.csv",
		Summary:     "Export test cases as CSV",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*csvOutput, error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := e.ExportCasesCSV(ctx, &buf, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return csvReply("test_cases.csv", buf.Bytes()), nil
	})
}
