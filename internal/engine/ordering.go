package engine

import (
	"context"
	"database/sql"
	"fmt"

	"caseline/internal/events"
	"caseline/internal/repo"
	"caseline/internal/sequence"
)

// Collection names an ordered scope that can be renumbered or swapped.
type Collection string

const (
	CollectionRequirements Collection = "requirements"
	CollectionTestCases    Collection = "test_cases"
	CollectionBugs         Collection = "bugs"
	CollectionPlanCases    Collection = "plan_cases"
	CollectionSuiteCases   Collection = "suite_cases"
)

type collectionSpec struct {
	table sequence.Table
	// owner is the project-scoped table holding the scope id.
	owner string
}

var collections = map[Collection]collectionSpec{
	CollectionRequirements: {table: sequence.Requirements},
	CollectionTestCases:    {table: sequence.TestCases},
	CollectionBugs:         {table: sequence.Bugs},
	CollectionPlanCases:    {table: sequence.PlanCases, owner: "test_plans"},
	CollectionSuiteCases:   {table: sequence.SuiteCases, owner: "test_suites"},
}

// ParseCollection maps a collection name onto a Collection.
func ParseCollection(name string) (Collection, error) {
	c := Collection(name)
	if _, ok := collections[c]; !ok {
		return "", invalid("unknown collection %q", name)
	}
	return c, nil
}

func (e Engine) collection(c Collection) (collectionSpec, error) {
	spec, ok := collections[c]
	if !ok {
		return collectionSpec{}, invalid("unknown collection %q", c)
	}
	return spec, nil
}

// scopeProject resolves the project owning a collection scope, failing with
// ErrNotFound when the scope does not exist.
func scopeProject(ctx context.Context, r repo.Repo, spec collectionSpec, scopeID string) (string, error) {
	if spec.owner == "" {
		if _, err := r.GetProject(ctx, scopeID); err != nil {
			return "", err
		}
		return scopeID, nil
	}
	return r.ProjectOf(ctx, spec.owner, scopeID)
}

// Renumber compacts the scope to 1..N keeping relative order.
func (e Engine) Renumber(ctx context.Context, c Collection, scopeID, actorID string) ([]sequence.Item, error) {
	spec, err := e.collection(c)
	if err != nil {
		return nil, err
	}
	var items []sequence.Item
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		projectID, err := scopeProject(ctx, r, spec, scopeID)
		if err != nil {
			return err
		}
		if items, err = sequence.Renumber(ctx, tx, spec.table, scopeID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "order.renumbered", projectID, string(c), scopeID, actorID, events.EventPayload{"count": len(items)})
	})
	if err != nil {
		return nil, err
	}
	e.Metrics.Renumbered(spec.table.Name)
	return items, nil
}

// Swap exchanges the order of two items of the same scope.
func (e Engine) Swap(ctx context.Context, c Collection, idA, idB, actorID string) error {
	spec, err := e.collection(c)
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		a, err := sequence.Get(ctx, tx, spec.table, idA)
		if err != nil {
			return err
		}
		if err := sequence.Swap(ctx, tx, spec.table, idA, idB); err != nil {
			return err
		}
		projectID, err := scopeProject(ctx, r, spec, a.ScopeID)
		if err != nil {
			return fmt.Errorf("swap %s: %w", c, err)
		}
		return e.Events.Append(ctx, tx, "order.swapped", projectID, string(c), a.ScopeID, actorID, events.EventPayload{"a": idA, "b": idB})
	})
}

func (e Engine) RenumberRequirements(ctx context.Context, projectID, actorID string) ([]sequence.Item, error) {
	return e.Renumber(ctx, CollectionRequirements, projectID, actorID)
}

func (e Engine) RenumberTestCases(ctx context.Context, projectID, actorID string) ([]sequence.Item, error) {
	return e.Renumber(ctx, CollectionTestCases, projectID, actorID)
}

func (e Engine) RenumberBugs(ctx context.Context, projectID, actorID string) ([]sequence.Item, error) {
	return e.Renumber(ctx, CollectionBugs, projectID, actorID)
}

func (e Engine) RenumberPlanCases(ctx context.Context, planID, actorID string) ([]sequence.Item, error) {
	return e.Renumber(ctx, CollectionPlanCases, planID, actorID)
}

func (e Engine) RenumberSuiteCases(ctx context.Context, suiteID, actorID string) ([]sequence.Item, error) {
	return e.Renumber(ctx, CollectionSuiteCases, suiteID, actorID)
}

func (e Engine) SwapRequirements(ctx context.Context, idA, idB, actorID string) error {
	return e.Swap(ctx, CollectionRequirements, idA, idB, actorID)
}

func (e Engine) SwapTestCases(ctx context.Context, idA, idB, actorID string) error {
	return e.Swap(ctx, CollectionTestCases, idA, idB, actorID)
}

func (e Engine) SwapBugs(ctx context.Context, idA, idB, actorID string) error {
	return e.Swap(ctx, CollectionBugs, idA, idB, actorID)
}

// SwapPlanCases swaps two plan memberships, identified by membership id.
func (e Engine) SwapPlanCases(ctx context.Context, idA, idB, actorID string) error {
	return e.Swap(ctx, CollectionPlanCases, idA, idB, actorID)
}

// SwapSuiteCases swaps two suite memberships, identified by membership id.
func (e Engine) SwapSuiteCases(ctx context.Context, idA, idB, actorID string) error {
	return e.Swap(ctx, CollectionSuiteCases, idA, idB, actorID)
}

// CollectionProject returns the project owning the scope of c.
func (e Engine) CollectionProject(ctx context.Context, c Collection, scopeID string) (string, error) {
	spec, err := e.collection(c)
	if err != nil {
		return "", err
	}
	return scopeProject(ctx, e.Repo, spec, scopeID)
}

// ItemProject returns the project owning an ordered item of c.
func (e Engine) ItemProject(ctx context.Context, c Collection, itemID string) (string, error) {
	spec, err := e.collection(c)
	if err != nil {
		return "", err
	}
	item, err := sequence.Get(ctx, e.DB, spec.table, itemID)
	if err != nil {
		return "", err
	}
	return scopeProject(ctx, e.Repo, spec, item.ScopeID)
}
