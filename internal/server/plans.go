package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
)

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-plan",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/plans",
		Summary:       "Create test plan",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreatePlanRequest
	}) (*output[domain.TestPlan], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreatePlan(ctx, engine.PlanCreateOptions{
			ProjectID:   input.ProjectID,
			Name:        input.Body.Name,
			Milestone:   input.Body.Milestone,
			Platform:    input.Body.Platform,
			TestCaseIDs: input.Body.TestCaseIDs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/plans",
		Summary:     "List test plans",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.TestPlan], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListPlans(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{id}",
		Summary:     "Get test plan",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.TestPlan], error) {
		if _, err := authorizeRow(ctx, e, "test_plans", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plan-cases",
		Method:      http.MethodGet,
		Path:        "/plans/{id}/cases",
		Summary:     "List plan memberships in plan order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[[]domain.Membership], error) {
		if _, err := authorizeRow(ctx, e, "test_plans", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.PlanCases(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-plan",
		Method:      http.MethodPatch,
		Path:        "/plans/{id}",
		Summary:     "Update test plan",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdatePlanRequest
	}) (*output[domain.TestPlan], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := authorizeRow(ctx, e, "test_plans", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.UpdatePlan(ctx, engine.PlanUpdateOptions{
			ID:        input.ID,
			Name:      input.Body.Name,
			Milestone: input.Body.Milestone,
			Platform:  input.Body.Platform,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-plan",
		Method:        http.MethodDelete,
		Path:          "/plans/{id}",
		Summary:       "Delete test plan",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, err := authorizeRow(ctx, e, "test_plans", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeletePlan(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSuites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-suite",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/suites",
		Summary:       "Create test suite",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateSuiteRequest
	}) (*output[domain.TestSuite], error) {
		actorID, err := authorize(ctx, e, input.ProjectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateSuite(ctx, engine.SuiteCreateOptions{
			ProjectID:   input.ProjectID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			TestCaseIDs: input.Body.TestCaseIDs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suites",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/suites",
		Summary:     "List test suites",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.TestSuite], error) {
		if _, err := authorize(ctx, e, input.ProjectID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListSuites(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-suite",
		Method:      http.MethodGet,
		Path:        "/suites/{id}",
		Summary:     "Get test suite",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[domain.TestSuite], error) {
		if _, err := authorizeRow(ctx, e, "test_suites", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		s, err := e.GetSuite(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suite-cases",
		Method:      http.MethodGet,
		Path:        "/suites/{id}/cases",
		Summary:     "List suite memberships in suite order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *idPath) (*output[[]domain.Membership], error) {
		if _, err := authorizeRow(ctx, e, "test_suites", input.ID, auth.View); err != nil {
			return nil, handleError(err)
		}
		items, err := e.SuiteCases(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-suite",
		Method:      http.MethodPatch,
		Path:        "/suites/{id}",
		Summary:     "Update test suite",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateSuiteRequest
	}) (*output[domain.TestSuite], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := authorizeRow(ctx, e, "test_suites", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateSuite(ctx, engine.SuiteUpdateOptions{
			ID:          input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-suite",
		Method:        http.MethodDelete,
		Path:          "/suites/{id}",
		Summary:       "Delete test suite",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		actorID, err := authorizeRow(ctx, e, "test_suites", input.ID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteSuite(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type linkPath struct {
	Kind    string `path:"kind" enum:"requirement_cases,case_requirements,bug_cases,case_bugs,plan_cases,suite_cases"`
	OwnerID string `path:"owner_id"`
}

// authorizeLink parses the link kind and checks the caller on the owner's project.
func authorizeLink(ctx context.Context, e engine.Engine, in linkPath, need auth.Verdict) (engine.LinkKind, string, error) {
	kind, err := engine.ParseLinkKind(in.Kind)
	if err != nil {
		return "", "", err
	}
	projectID, err := e.LinkOwnerProject(ctx, kind, in.OwnerID)
	if err != nil {
		return "", "", err
	}
	actorID, err := authorize(ctx, e, projectID, need)
	return kind, actorID, err
}

func registerLinks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-links",
		Method:      http.MethodGet,
		Path:        "/links/{kind}/{owner_id}",
		Summary:     "List linked ids in order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *linkPath) (*output[LinksResponse], error) {
		kind, _, err := authorizeLink(ctx, e, *input, auth.View)
		if err != nil {
			return nil, handleError(err)
		}
		ids, err := e.Links(ctx, kind, input.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(LinksResponse{Kind: input.Kind, OwnerID: input.OwnerID, MemberIDs: nonNilSlice(ids)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-links",
		Method:      http.MethodPut,
		Path:        "/links/{kind}/{owner_id}",
		Summary:     "Replace the linked set",
		Description: "Links in the new set are kept; the rest are removed and new ones appended in request order.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		linkPath
		Body SetLinksRequest
	}) (*output[DiffResponse], error) {
		kind, actorID, err := authorizeLink(ctx, e, input.linkPath, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		diff, err := e.SetLinks(ctx, kind, input.OwnerID, input.Body.MemberIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(diffResponse(diff)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-links-by-codes",
		Method:      http.MethodPut,
		Path:        "/links/{kind}/{owner_id}/codes",
		Summary:     "Replace the linked set from a code list",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		linkPath
		Body LinkCodesRequest
	}) (*output[DiffResponse], error) {
		kind, actorID, err := authorizeLink(ctx, e, input.linkPath, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		diff, err := e.LinkByCodes(ctx, kind, input.OwnerID, input.Body.Codes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(diffResponse(diff)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-link",
		Method:      http.MethodPost,
		Path:        "/links/{kind}/{owner_id}/members/{member_id}",
		Summary:     "Append one link",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		linkPath
		MemberID string `path:"member_id"`
	}) (*output[map[string]bool], error) {
		kind, actorID, err := authorizeLink(ctx, e, input.linkPath, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		added, err := e.AddLink(ctx, kind, input.OwnerID, input.MemberID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(map[string]bool{"added": added}), nil
	})
}

func registerOrdering(api huma.API, e engine.Engine) {
	const collections = "requirements,test_cases,bugs,plan_cases,suite_cases"

	huma.Register(api, huma.Operation{
		OperationID: "renumber",
		Method:      http.MethodPost,
		Path:        "/order/{collection}/{scope_id}/renumber",
		Summary:     "Compact a collection to 1..N",
		Description: "scope_id is the project for requirements, test_cases and bugs, otherwise the plan or suite.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Collection string `path:"collection" enum:"requirements,test_cases,bugs,plan_cases,suite_cases"`
		ScopeID    string `path:"scope_id"`
	}) (*output[[]OrderItemResponse], error) {
		c, err := engine.ParseCollection(input.Collection)
		if err != nil {
			return nil, handleError(err)
		}
		projectID, err := e.CollectionProject(ctx, c, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, err := authorize(ctx, e, projectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Renumber(ctx, c, input.ScopeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(orderItems(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "swap",
		Method:        http.MethodPost,
		Path:          "/order/{collection}/swap",
		Summary:       "Swap the order of two items of one scope",
		Description:   "Plan and suite collections take membership ids. Valid collections: " + collections + ".",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Collection string `path:"collection" enum:"requirements,test_cases,bugs,plan_cases,suite_cases"`
		Body       SwapRequest
	}) (*struct{}, error) {
		c, err := engine.ParseCollection(input.Collection)
		if err != nil {
			return nil, handleError(err)
		}
		projectID, err := e.ItemProject(ctx, c, input.Body.A)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, err := authorize(ctx, e, projectID, auth.Edit)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Swap(ctx, c, input.Body.A, input.Body.B, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
