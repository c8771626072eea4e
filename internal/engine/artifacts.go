package engine

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
	"caseline/internal/sequence"
)

var (
	requirementTypes = map[string]bool{"functional": true, "quality": true, "constraint": true}
	priorities       = map[string]bool{"high": true, "medium": true, "low": true}
	bugStatuses      = map[string]bool{"open": true, "progress": true, "closed": true}
)

// RequirementCreateOptions are parameters for creating a requirement.
type RequirementCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Type        string
	Priority    string
	ActorID     string
}

func (e Engine) CreateRequirement(ctx context.Context, opts RequirementCreateOptions) (domain.Requirement, error) {
	if opts.Type == "" {
		opts.Type = "functional"
	}
	if opts.Priority == "" {
		opts.Priority = "high"
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Requirement{}, invalid("title is required")
	}
	if !requirementTypes[opts.Type] {
		return domain.Requirement{}, invalid("invalid requirement type %q", opts.Type)
	}
	if !priorities[opts.Priority] {
		return domain.Requirement{}, invalid("invalid priority %q", opts.Priority)
	}
	var q domain.Requirement
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		q, err = e.insertRequirementTx(ctx, tx, r, opts)
		return err
	})
	return q, err
}

func (e Engine) insertRequirementTx(ctx context.Context, tx *sql.Tx, r repo.Repo, opts RequirementCreateOptions) (domain.Requirement, error) {
	if _, err := r.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Requirement{}, err
	}
	next, err := sequence.NextOrder(ctx, tx, sequence.Requirements, opts.ProjectID)
	if err != nil {
		return domain.Requirement{}, err
	}
	now := e.stamp()
	q := domain.Requirement{
		ID:          domain.NewID(),
		ProjectID:   opts.ProjectID,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Type:        opts.Type,
		Priority:    opts.Priority,
		Order:       next,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.InsertRequirement(ctx, q); err != nil {
		return domain.Requirement{}, err
	}
	q.Code = e.requirementCode(q.Order)
	if err := e.Events.Append(ctx, tx, "requirement.created", q.ProjectID, "requirement", q.ID, opts.ActorID, events.EventPayload{"code": q.Code}); err != nil {
		return domain.Requirement{}, err
	}
	return q, nil
}

// RequirementUpdateOptions carries the fields to change; nil fields are kept.
type RequirementUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Type        *string
	Priority    *string
	ActorID     string
}

func (e Engine) UpdateRequirement(ctx context.Context, opts RequirementUpdateOptions) (domain.Requirement, error) {
	var q domain.Requirement
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if q, err = r.GetRequirement(ctx, opts.ID); err != nil {
			return err
		}
		if opts.Title != nil {
			if strings.TrimSpace(*opts.Title) == "" {
				return invalid("title is required")
			}
			q.Title = strings.TrimSpace(*opts.Title)
		}
		if opts.Description != nil {
			q.Description = *opts.Description
		}
		if opts.Type != nil {
			if !requirementTypes[*opts.Type] {
				return invalid("invalid requirement type %q", *opts.Type)
			}
			q.Type = *opts.Type
		}
		if opts.Priority != nil {
			if !priorities[*opts.Priority] {
				return invalid("invalid priority %q", *opts.Priority)
			}
			q.Priority = *opts.Priority
		}
		q.UpdatedAt = e.stamp()
		if err := r.UpdateRequirement(ctx, q); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "requirement.updated", q.ProjectID, "requirement", q.ID, opts.ActorID, nil)
	})
	if err != nil {
		return domain.Requirement{}, err
	}
	q.Code = e.requirementCode(q.Order)
	return q, nil
}

func (e Engine) GetRequirement(ctx context.Context, id string) (domain.Requirement, error) {
	q, err := e.Repo.GetRequirement(ctx, id)
	if err != nil {
		return q, err
	}
	q.Code = e.requirementCode(q.Order)
	return q, nil
}

func (e Engine) ListRequirements(ctx context.Context, projectID string) ([]domain.Requirement, error) {
	items, err := e.Repo.ListRequirements(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.withRequirementCodes(items), nil
}

func (e Engine) withRequirementCodes(items []domain.Requirement) []domain.Requirement {
	for i := range items {
		items[i].Code = e.requirementCode(items[i].Order)
	}
	return items
}

// DeleteRequirement removes the requirement and its links, then closes the
// gap in the project's requirement order.
func (e Engine) DeleteRequirement(ctx context.Context, id, actorID string) error {
	return e.deleteOrdered(ctx, id, actorID, repo.RequirementCascade, sequence.Requirements, "requirement.deleted", nil)
}

// TestCaseCreateOptions are parameters for creating a test case.
type TestCaseCreateOptions struct {
	ProjectID      string
	Title          string
	Preconditions  string
	Steps          string
	ExpectedResult string
	IsFunctional   bool
	IsAutomated    bool
	ActorID        string
}

func (e Engine) CreateTestCase(ctx context.Context, opts TestCaseCreateOptions) (domain.TestCase, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.TestCase{}, invalid("title is required")
	}
	if strings.TrimSpace(opts.ExpectedResult) == "" {
		return domain.TestCase{}, invalid("expected result is required")
	}
	var tc domain.TestCase
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		tc, err = e.insertTestCaseTx(ctx, tx, r, opts)
		return err
	})
	return tc, err
}

func (e Engine) insertTestCaseTx(ctx context.Context, tx *sql.Tx, r repo.Repo, opts TestCaseCreateOptions) (domain.TestCase, error) {
	if _, err := r.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.TestCase{}, err
	}
	next, err := sequence.NextOrder(ctx, tx, sequence.TestCases, opts.ProjectID)
	if err != nil {
		return domain.TestCase{}, err
	}
	now := e.stamp()
	tc := domain.TestCase{
		ID:             domain.NewID(),
		ProjectID:      opts.ProjectID,
		Title:          strings.TrimSpace(opts.Title),
		Preconditions:  opts.Preconditions,
		Steps:          NormalizeSteps(opts.Steps),
		ExpectedResult: opts.ExpectedResult,
		IsFunctional:   opts.IsFunctional,
		IsAutomated:    opts.IsAutomated,
		Order:          next,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.InsertTestCase(ctx, tc); err != nil {
		return domain.TestCase{}, err
	}
	tc.Code = e.caseCode(tc.Order)
	if err := e.Events.Append(ctx, tx, "test_case.created", tc.ProjectID, "test_case", tc.ID, opts.ActorID, events.EventPayload{"code": tc.Code}); err != nil {
		return domain.TestCase{}, err
	}
	return tc, nil
}

// TestCaseUpdateOptions carries the fields to change; nil fields are kept.
type TestCaseUpdateOptions struct {
	ID             string
	Title          *string
	Preconditions  *string
	Steps          *string
	ExpectedResult *string
	IsFunctional   *bool
	IsAutomated    *bool
	ActorID        string
}

func (e Engine) UpdateTestCase(ctx context.Context, opts TestCaseUpdateOptions) (domain.TestCase, error) {
	var tc domain.TestCase
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if tc, err = r.GetTestCase(ctx, opts.ID); err != nil {
			return err
		}
		if opts.Title != nil {
			if strings.TrimSpace(*opts.Title) == "" {
				return invalid("title is required")
			}
			tc.Title = strings.TrimSpace(*opts.Title)
		}
		if opts.Preconditions != nil {
			tc.Preconditions = *opts.Preconditions
		}
		if opts.Steps != nil {
			tc.Steps = NormalizeSteps(*opts.Steps)
		}
		if opts.ExpectedResult != nil {
			if strings.TrimSpace(*opts.ExpectedResult) == "" {
				return invalid("expected result is required")
			}
			tc.ExpectedResult = *opts.ExpectedResult
		}
		if opts.IsFunctional != nil {
			tc.IsFunctional = *opts.IsFunctional
		}
		if opts.IsAutomated != nil {
			tc.IsAutomated = *opts.IsAutomated
		}
		tc.UpdatedAt = e.stamp()
		if err := r.UpdateTestCase(ctx, tc); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "test_case.updated", tc.ProjectID, "test_case", tc.ID, opts.ActorID, nil)
	})
	if err != nil {
		return domain.TestCase{}, err
	}
	tc.Code = e.caseCode(tc.Order)
	return tc, nil
}

func (e Engine) GetTestCase(ctx context.Context, id string) (domain.TestCase, error) {
	tc, err := e.Repo.GetTestCase(ctx, id)
	if err != nil {
		return tc, err
	}
	tc.Code = e.caseCode(tc.Order)
	return tc, nil
}

func (e Engine) ListTestCases(ctx context.Context, projectID string) ([]domain.TestCase, error) {
	items, err := e.Repo.ListTestCases(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.withCaseCodes(items), nil
}

func (e Engine) withCaseCodes(items []domain.TestCase) []domain.TestCase {
	for i := range items {
		items[i].Code = e.caseCode(items[i].Order)
	}
	return items
}

// DeleteTestCase removes the case with its links, memberships and the results
// of unfinished runs, then closes the gap in the project's case order. A case
// recorded in a finished run is kept so the run's results stay as they were.
func (e Engine) DeleteTestCase(ctx context.Context, id, actorID string) error {
	return e.deleteOrdered(ctx, id, actorID, repo.TestCaseCascade, sequence.TestCases, "test_case.deleted",
		func(r repo.Repo) error {
			n, err := r.FinishedRunsWithCase(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("test case %s is recorded in %d finished run(s): %w", id, n, domain.ErrIntegrity)
			}
			return nil
		})
}

// BugCreateOptions are parameters for creating a bug.
type BugCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Status      string
	Priority    string
	TestCaseIDs []string
	ActorID     string
}

func (e Engine) CreateBug(ctx context.Context, opts BugCreateOptions) (domain.Bug, error) {
	var b domain.Bug
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		b, err = e.insertBugTx(ctx, tx, r, opts)
		return err
	})
	return b, err
}

func (e Engine) insertBugTx(ctx context.Context, tx *sql.Tx, r repo.Repo, opts BugCreateOptions) (domain.Bug, error) {
	if opts.Status == "" {
		opts.Status = "open"
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Bug{}, invalid("title is required")
	}
	if !bugStatuses[opts.Status] {
		return domain.Bug{}, invalid("invalid bug status %q", opts.Status)
	}
	if !priorities[opts.Priority] {
		return domain.Bug{}, invalid("invalid priority %q", opts.Priority)
	}
	if _, err := r.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Bug{}, err
	}
	next, err := sequence.NextOrder(ctx, tx, sequence.Bugs, opts.ProjectID)
	if err != nil {
		return domain.Bug{}, err
	}
	now := e.stamp()
	b := domain.Bug{
		ID:          domain.NewID(),
		ProjectID:   opts.ProjectID,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Status:      opts.Status,
		Priority:    opts.Priority,
		Order:       next,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.InsertBug(ctx, b); err != nil {
		return domain.Bug{}, err
	}
	b.Code = e.bugCode(b.Order)
	if len(opts.TestCaseIDs) > 0 {
		if _, err := e.setLinksTx(ctx, tx, r, LinkBugCases, b.ID, opts.TestCaseIDs); err != nil {
			return domain.Bug{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "bug.created", b.ProjectID, "bug", b.ID, opts.ActorID, events.EventPayload{"code": b.Code}); err != nil {
		return domain.Bug{}, err
	}
	return b, nil
}

// BugUpdateOptions carries the fields to change; nil fields are kept.
type BugUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	ActorID     string
}

func (e Engine) UpdateBug(ctx context.Context, opts BugUpdateOptions) (domain.Bug, error) {
	var b domain.Bug
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if b, err = r.GetBug(ctx, opts.ID); err != nil {
			return err
		}
		prevStatus := b.Status
		if opts.Title != nil {
			if strings.TrimSpace(*opts.Title) == "" {
				return invalid("title is required")
			}
			b.Title = strings.TrimSpace(*opts.Title)
		}
		if opts.Description != nil {
			b.Description = *opts.Description
		}
		if opts.Status != nil {
			if !bugStatuses[*opts.Status] {
				return invalid("invalid bug status %q", *opts.Status)
			}
			b.Status = *opts.Status
		}
		if opts.Priority != nil {
			if !priorities[*opts.Priority] {
				return invalid("invalid priority %q", *opts.Priority)
			}
			b.Priority = *opts.Priority
		}
		b.UpdatedAt = e.stamp()
		if err := r.UpdateBug(ctx, b); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "bug.updated", b.ProjectID, "bug", b.ID, opts.ActorID, events.EventPayload{"from": prevStatus, "to": b.Status})
	})
	if err != nil {
		return domain.Bug{}, err
	}
	b.Code = e.bugCode(b.Order)
	return b, nil
}

func (e Engine) GetBug(ctx context.Context, id string) (domain.Bug, error) {
	b, err := e.Repo.GetBug(ctx, id)
	if err != nil {
		return b, err
	}
	b.Code = e.bugCode(b.Order)
	return b, nil
}

func (e Engine) ListBugs(ctx context.Context, f repo.BugFilters) ([]domain.Bug, error) {
	if f.Status != "" && !bugStatuses[f.Status] {
		return nil, invalid("invalid bug status %q", f.Status)
	}
	items, err := e.Repo.ListBugs(ctx, f)
	if err != nil {
		return nil, err
	}
	return e.withBugCodes(items), nil
}

func (e Engine) withBugCodes(items []domain.Bug) []domain.Bug {
	for i := range items {
		items[i].Code = e.bugCode(items[i].Order)
	}
	return items
}

func (e Engine) DeleteBug(ctx context.Context, id, actorID string) error {
	return e.deleteOrdered(ctx, id, actorID, repo.BugCascade, sequence.Bugs, "bug.deleted", nil)
}

func (e Engine) deleteOrdered(ctx context.Context, id, actorID string, c repo.Cascade, t sequence.Table, evtType string, guard func(r repo.Repo) error) error {
	var projectID string
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if projectID, err = r.ProjectOf(ctx, t.Name, id); err != nil {
			return err
		}
		if guard != nil {
			if err := guard(r); err != nil {
				return err
			}
		}
		deleted, err := r.Cascade(ctx, c, id)
		if err != nil {
			return err
		}
		if _, err := sequence.Renumber(ctx, tx, t, projectID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, evtType, projectID, c.Kind, id, actorID, events.EventPayload{"deleted": deleted})
	})
	if err != nil {
		return err
	}
	e.Metrics.Renumbered(t.Name)
	e.log().Debug("deleted", zap.String("kind", c.Kind), zap.String("id", id), zap.String("project_id", projectID))
	return nil
}

var (
	leadingNumber = regexp.MustCompile(`(?m)^[ \t]*\d+[.\-)]?[ \t]*`)
	trailingJunk  = regexp.MustCompile(`[.\s,]+$`)
	sentenceEnd   = regexp.MustCompile(`[.?!]$`)
)

// NormalizeSteps strips any existing numbering, ends every step with
// punctuation and renumbers the non-empty lines as "1. ...".
func NormalizeSteps(steps string) string {
	stripped := leadingNumber.ReplaceAllString(steps, "")
	var out []string
	for _, line := range strings.Split(stripped, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(trailingJunk.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		if !sentenceEnd.MatchString(line) {
			line += "."
		}
		out = append(out, strconv.Itoa(len(out)+1)+". "+line)
	}
	return strings.Join(out, "\n")
}

// RequirementCases lists the test cases linked to a requirement, in case order.
func (e Engine) RequirementCases(ctx context.Context, requirementID string) ([]domain.TestCase, error) {
	if _, err := e.Repo.GetRequirement(ctx, requirementID); err != nil {
		return nil, err
	}
	items, err := e.Repo.CasesForRequirement(ctx, requirementID)
	if err != nil {
		return nil, err
	}
	return e.withCaseCodes(items), nil
}

// BugCases lists the test cases a bug was reported against, in case order.
func (e Engine) BugCases(ctx context.Context, bugID string) ([]domain.TestCase, error) {
	if _, err := e.Repo.GetBug(ctx, bugID); err != nil {
		return nil, err
	}
	items, err := e.Repo.CasesForBug(ctx, bugID)
	if err != nil {
		return nil, err
	}
	return e.withCaseCodes(items), nil
}

// CaseLinks is what a test case is linked to.
type CaseLinks struct {
	Requirements []domain.Requirement `json:"requirements"`
	Bugs         []domain.Bug         `json:"bugs"`
}

func (e Engine) TestCaseLinks(ctx context.Context, caseID string) (CaseLinks, error) {
	if _, err := e.Repo.GetTestCase(ctx, caseID); err != nil {
		return CaseLinks{}, err
	}
	reqs, err := e.Repo.RequirementsForCase(ctx, caseID)
	if err != nil {
		return CaseLinks{}, err
	}
	bugs, err := e.Repo.BugsForCase(ctx, caseID)
	if err != nil {
		return CaseLinks{}, err
	}
	if reqs == nil {
		reqs = []domain.Requirement{}
	}
	if bugs == nil {
		bugs = []domain.Bug{}
	}
	return CaseLinks{Requirements: e.withRequirementCodes(reqs), Bugs: e.withBugCodes(bugs)}, nil
}
