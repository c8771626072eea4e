package engine

import (
	"context"
	"database/sql"
	"strings"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// PlanCreateOptions are parameters for creating a test plan.
type PlanCreateOptions struct {
	ProjectID   string
	Name        string
	Milestone   string
	Platform    string
	TestCaseIDs []string
	ActorID     string
}

func (e Engine) CreatePlan(ctx context.Context, opts PlanCreateOptions) (domain.TestPlan, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.TestPlan{}, invalid("name is required")
	}
	now := e.stamp()
	p := domain.TestPlan{
		ID:        domain.NewID(),
		ProjectID: opts.ProjectID,
		Name:      name,
		Milestone: opts.Milestone,
		Platform:  opts.Platform,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetProject(ctx, opts.ProjectID); err != nil {
			return err
		}
		if err := r.InsertPlan(ctx, p); err != nil {
			return err
		}
		if len(opts.TestCaseIDs) > 0 {
			if _, err := e.setLinksTx(ctx, tx, r, LinkPlanCases, p.ID, opts.TestCaseIDs); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, "test_plan.created", p.ProjectID, "test_plan", p.ID, opts.ActorID, events.EventPayload{"name": p.Name})
	})
	if err != nil {
		return domain.TestPlan{}, err
	}
	return p, nil
}

// PlanUpdateOptions carries the fields to change; nil fields are kept.
type PlanUpdateOptions struct {
	ID        string
	Name      *string
	Milestone *string
	Platform  *string
	ActorID   string
}

func (e Engine) UpdatePlan(ctx context.Context, opts PlanUpdateOptions) (domain.TestPlan, error) {
	var p domain.TestPlan
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if p, err = r.GetPlan(ctx, opts.ID); err != nil {
			return err
		}
		if opts.Name != nil {
			if strings.TrimSpace(*opts.Name) == "" {
				return invalid("name is required")
			}
			p.Name = strings.TrimSpace(*opts.Name)
		}
		if opts.Milestone != nil {
			p.Milestone = *opts.Milestone
		}
		if opts.Platform != nil {
			p.Platform = *opts.Platform
		}
		p.UpdatedAt = e.stamp()
		if err := r.UpdatePlan(ctx, p); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "test_plan.updated", p.ProjectID, "test_plan", p.ID, opts.ActorID, nil)
	})
	return p, err
}

func (e Engine) GetPlan(ctx context.Context, id string) (domain.TestPlan, error) {
	return e.Repo.GetPlan(ctx, id)
}

func (e Engine) ListPlans(ctx context.Context, projectID string) ([]domain.TestPlan, error) {
	return e.Repo.ListPlans(ctx, projectID)
}

// PlanCases lists the plan's memberships in plan order.
func (e Engine) PlanCases(ctx context.Context, planID string) ([]domain.Membership, error) {
	if _, err := e.Repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	members, err := e.Repo.PlanMembers(ctx, planID)
	if err != nil {
		return nil, err
	}
	return e.withMembershipCodes(members), nil
}

// DeletePlan removes the plan, its memberships and every run against it.
func (e Engine) DeletePlan(ctx context.Context, id, actorID string) error {
	return e.deleteScoped(ctx, id, actorID, "test_plans", repo.PlanCascade, "test_plan.deleted")
}

// SuiteCreateOptions are parameters for creating a test suite.
type SuiteCreateOptions struct {
	ProjectID   string
	Name        string
	Description string
	TestCaseIDs []string
	ActorID     string
}

func (e Engine) CreateSuite(ctx context.Context, opts SuiteCreateOptions) (domain.TestSuite, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.TestSuite{}, invalid("name is required")
	}
	now := e.stamp()
	s := domain.TestSuite{
		ID:          domain.NewID(),
		ProjectID:   opts.ProjectID,
		Name:        name,
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetProject(ctx, opts.ProjectID); err != nil {
			return err
		}
		if err := r.InsertSuite(ctx, s); err != nil {
			return err
		}
		if len(opts.TestCaseIDs) > 0 {
			if _, err := e.setLinksTx(ctx, tx, r, LinkSuiteCases, s.ID, opts.TestCaseIDs); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, "test_suite.created", s.ProjectID, "test_suite", s.ID, opts.ActorID, events.EventPayload{"name": s.Name})
	})
	if err != nil {
		return domain.TestSuite{}, err
	}
	return s, nil
}

// SuiteUpdateOptions carries the fields to change; nil fields are kept.
type SuiteUpdateOptions struct {
	ID          string
	Name        *string
	Description *string
	ActorID     string
}

func (e Engine) UpdateSuite(ctx context.Context, opts SuiteUpdateOptions) (domain.TestSuite, error) {
	var s domain.TestSuite
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if s, err = r.GetSuite(ctx, opts.ID); err != nil {
			return err
		}
		if opts.Name != nil {
			if strings.TrimSpace(*opts.Name) == "" {
				return invalid("name is required")
			}
			s.Name = strings.TrimSpace(*opts.Name)
		}
		if opts.Description != nil {
			s.Description = *opts.Description
		}
		s.UpdatedAt = e.stamp()
		if err := r.UpdateSuite(ctx, s); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "test_suite.updated", s.ProjectID, "test_suite", s.ID, opts.ActorID, nil)
	})
	return s, err
}

func (e Engine) GetSuite(ctx context.Context, id string) (domain.TestSuite, error) {
	return e.Repo.GetSuite(ctx, id)
}

func (e Engine) ListSuites(ctx context.Context, projectID string) ([]domain.TestSuite, error) {
	return e.Repo.ListSuites(ctx, projectID)
}

// SuiteCases lists the suite's memberships in suite order.
func (e Engine) SuiteCases(ctx context.Context, suiteID string) ([]domain.Membership, error) {
	if _, err := e.Repo.GetSuite(ctx, suiteID); err != nil {
		return nil, err
	}
	members, err := e.Repo.SuiteMembers(ctx, suiteID)
	if err != nil {
		return nil, err
	}
	return e.withMembershipCodes(members), nil
}

// DeleteSuite removes the suite and its memberships. Runs started from the
// suite keep their results.
func (e Engine) DeleteSuite(ctx context.Context, id, actorID string) error {
	return e.deleteScoped(ctx, id, actorID, "test_suites", repo.SuiteCascade, "test_suite.deleted")
}

func (e Engine) deleteScoped(ctx context.Context, id, actorID, table string, c repo.Cascade, evtType string) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		projectID, err := r.ProjectOf(ctx, table, id)
		if err != nil {
			return err
		}
		deleted, err := r.Cascade(ctx, c, id)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, evtType, projectID, c.Kind, id, actorID, events.EventPayload{"deleted": deleted})
	})
}

func (e Engine) withMembershipCodes(members []domain.Membership) []domain.Membership {
	for i := range members {
		members[i].Code = e.caseCode(members[i].CaseOrder)
	}
	return members
}
