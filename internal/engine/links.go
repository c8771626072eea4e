package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"caseline/internal/assoc"
	"caseline/internal/code"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// LinkKind names an editable association, seen from its owner.
type LinkKind string

const (
	LinkRequirementCases LinkKind = "requirement_cases"
	LinkCaseRequirements LinkKind = "case_requirements"
	LinkBugCases         LinkKind = "bug_cases"
	LinkCaseBugs         LinkKind = "case_bugs"
	LinkPlanCases        LinkKind = "plan_cases"
	LinkSuiteCases       LinkKind = "suite_cases"
)

type linkSpec struct {
	link   assoc.Link
	owner  string
	member string
}

var linkSpecs = map[LinkKind]linkSpec{
	LinkRequirementCases: {link: assoc.RequirementCases, owner: "requirements", member: "test_cases"},
	LinkCaseRequirements: {link: assoc.CaseRequirements, owner: "test_cases", member: "requirements"},
	LinkBugCases:         {link: assoc.BugCases, owner: "bugs", member: "test_cases"},
	LinkCaseBugs:         {link: assoc.CaseBugs, owner: "test_cases", member: "bugs"},
	LinkPlanCases:        {link: assoc.PlanCases, owner: "test_plans", member: "test_cases"},
	LinkSuiteCases:       {link: assoc.SuiteCases, owner: "test_suites", member: "test_cases"},
}

// ParseLinkKind maps a link name onto a LinkKind.
func ParseLinkKind(name string) (LinkKind, error) {
	k := LinkKind(name)
	if _, ok := linkSpecs[k]; !ok {
		return "", invalid("unknown link %q", name)
	}
	return k, nil
}

func (e Engine) linkSpec(kind LinkKind) (linkSpec, error) {
	spec, ok := linkSpecs[kind]
	if !ok {
		return linkSpec{}, invalid("unknown link %q", kind)
	}
	return spec, nil
}

func (e Engine) memberPrefix(table string) string {
	switch table {
	case "requirements":
		return e.cfg().Codes.Requirement
	case "bugs":
		return e.cfg().Codes.Bug
	default:
		return e.cfg().Codes.TestCase
	}
}

// Links returns the member ids currently linked to the owner.
func (e Engine) Links(ctx context.Context, kind LinkKind, ownerID string) ([]string, error) {
	spec, err := e.linkSpec(kind)
	if err != nil {
		return nil, err
	}
	if _, err := e.Repo.ProjectOf(ctx, spec.owner, ownerID); err != nil {
		return nil, err
	}
	return assoc.Current(ctx, e.DB, spec.link, ownerID)
}

// SetLinks makes the owner's links equal to memberIDs. Every id must name a
// member in the owner's project.
func (e Engine) SetLinks(ctx context.Context, kind LinkKind, ownerID string, memberIDs []string, actorID string) (assoc.Diff, error) {
	var diff assoc.Diff
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if diff, err = e.setLinksTx(ctx, tx, r, kind, ownerID, memberIDs); err != nil {
			return err
		}
		if diff.Empty() {
			return nil
		}
		projectID, err := r.ProjectOf(ctx, linkSpecs[kind].owner, ownerID)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "links.changed", projectID, string(kind), ownerID, actorID,
			events.EventPayload{"added": diff.Added, "removed": diff.Removed})
	})
	if err != nil {
		return assoc.Diff{}, err
	}
	e.Metrics.LinksChanged(string(kind), len(diff.Added), len(diff.Removed))
	return diff, nil
}

func (e Engine) setLinksTx(ctx context.Context, tx *sql.Tx, r repo.Repo, kind LinkKind, ownerID string, memberIDs []string) (assoc.Diff, error) {
	spec, err := e.linkSpec(kind)
	if err != nil {
		return assoc.Diff{}, err
	}
	projectID, err := r.ProjectOf(ctx, spec.owner, ownerID)
	if err != nil {
		return assoc.Diff{}, err
	}
	missing, err := r.MissingInProject(ctx, spec.member, projectID, memberIDs)
	if err != nil {
		return assoc.Diff{}, err
	}
	if len(missing) > 0 {
		return assoc.Diff{}, fmt.Errorf("%s %s: %w", spec.member, strings.Join(missing, ", "), domain.ErrNotFound)
	}
	return assoc.Reconcile(ctx, tx, spec.link, ownerID, memberIDs)
}

// LinkByCodes resolves a comma-separated code list such as "REQ-001, REQ-004"
// against the owner's project and reconciles the links to it.
func (e Engine) LinkByCodes(ctx context.Context, kind LinkKind, ownerID, codes, actorID string) (assoc.Diff, error) {
	spec, err := e.linkSpec(kind)
	if err != nil {
		return assoc.Diff{}, err
	}
	projectID, err := e.Repo.ProjectOf(ctx, spec.owner, ownerID)
	if err != nil {
		return assoc.Diff{}, err
	}
	ids, err := e.resolveCodes(ctx, e.Repo, spec.member, projectID, codes)
	if err != nil {
		return assoc.Diff{}, err
	}
	return e.SetLinks(ctx, kind, ownerID, ids, actorID)
}

func (e Engine) resolveCodes(ctx context.Context, r repo.Repo, table, projectID, codes string) ([]string, error) {
	prefix := e.memberPrefix(table)
	orders := code.ParseList(prefix, codes)
	byOrder, err := r.IDsByOrder(ctx, table, projectID, orders)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(orders))
	var unknown []int
	for _, o := range orders {
		id, ok := byOrder[o]
		if !ok {
			unknown = append(unknown, o)
			continue
		}
		ids = append(ids, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%s: %w", code.Join(prefix, unknown), domain.ErrNotFound)
	}
	return ids, nil
}

// AddLink links a single member, leaving existing links alone.
func (e Engine) AddLink(ctx context.Context, kind LinkKind, ownerID, memberID, actorID string) (bool, error) {
	spec, err := e.linkSpec(kind)
	if err != nil {
		return false, err
	}
	var added bool
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		projectID, err := r.ProjectOf(ctx, spec.owner, ownerID)
		if err != nil {
			return err
		}
		memberProject, err := r.ProjectOf(ctx, spec.member, memberID)
		if err != nil {
			return err
		}
		if memberProject != projectID {
			return fmt.Errorf("%s %s: %w", spec.member, memberID, domain.ErrNotFound)
		}
		if added, err = assoc.Add(ctx, tx, spec.link, ownerID, memberID); err != nil || !added {
			return err
		}
		return e.Events.Append(ctx, tx, "links.changed", projectID, string(kind), ownerID, actorID,
			events.EventPayload{"added": []string{memberID}})
	})
	if err != nil {
		return false, err
	}
	if added {
		e.Metrics.LinksChanged(string(kind), 1, 0)
	}
	return added, nil
}

func (e Engine) SetRequirementCases(ctx context.Context, requirementID string, caseIDs []string, actorID string) (assoc.Diff, error) {
	return e.SetLinks(ctx, LinkRequirementCases, requirementID, caseIDs, actorID)
}

func (e Engine) SetCaseRequirements(ctx context.Context, caseID string, requirementIDs []string, actorID string) (assoc.Diff, error) {
	return e.SetLinks(ctx, LinkCaseRequirements, caseID, requirementIDs, actorID)
}

func (e Engine) SetBugCases(ctx context.Context, bugID string, caseIDs []string, actorID string) (assoc.Diff, error) {
	return e.SetLinks(ctx, LinkBugCases, bugID, caseIDs, actorID)
}

func (e Engine) SetPlanCases(ctx context.Context, planID string, caseIDs []string, actorID string) (assoc.Diff, error) {
	return e.SetLinks(ctx, LinkPlanCases, planID, caseIDs, actorID)
}

func (e Engine) SetSuiteCases(ctx context.Context, suiteID string, caseIDs []string, actorID string) (assoc.Diff, error) {
	return e.SetLinks(ctx, LinkSuiteCases, suiteID, caseIDs, actorID)
}

// LinkOwnerProject returns the project owning the link owner.
func (e Engine) LinkOwnerProject(ctx context.Context, kind LinkKind, ownerID string) (string, error) {
	spec, err := e.linkSpec(kind)
	if err != nil {
		return "", err
	}
	return e.Repo.ProjectOf(ctx, spec.owner, ownerID)
}
