// Package assoc reconciles many-to-many link tables against a desired set.
package assoc

import (
	"context"
	"fmt"

	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/sequence"
)

// Link describes one side of a link table. OwnerColumn is the side being
// edited; MemberColumn holds the ids supplied as the desired set. Ordered
// links carry a sort_order scoped by the owner.
type Link struct {
	Name         string
	Table        string
	OwnerColumn  string
	MemberColumn string
	Ordered      bool
}

var (
	RequirementCases = Link{Name: "requirement_cases", Table: "requirement_test_cases", OwnerColumn: "requirement_id", MemberColumn: "test_case_id"}
	CaseRequirements = Link{Name: "case_requirements", Table: "requirement_test_cases", OwnerColumn: "test_case_id", MemberColumn: "requirement_id"}
	BugCases         = Link{Name: "bug_cases", Table: "bug_test_cases", OwnerColumn: "bug_id", MemberColumn: "test_case_id"}
	CaseBugs         = Link{Name: "case_bugs", Table: "bug_test_cases", OwnerColumn: "test_case_id", MemberColumn: "bug_id"}
	PlanCases        = Link{Name: "plan_cases", Table: "test_plan_cases", OwnerColumn: "test_plan_id", MemberColumn: "test_case_id", Ordered: true}
	SuiteCases       = Link{Name: "suite_cases", Table: "test_suite_cases", OwnerColumn: "test_suite_id", MemberColumn: "test_case_id", Ordered: true}
)

// Diff lists the member ids inserted and deleted by a reconcile.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

func (l Link) sequenceTable() sequence.Table {
	return sequence.Table{Name: l.Table, ScopeColumn: l.OwnerColumn}
}

// Current lists the member ids linked to owner. Ordered links are returned in
// membership order.
func Current(ctx context.Context, tx db.DBTX, l Link, ownerID string) ([]string, error) {
	orderBy := "rowid ASC"
	if l.Ordered {
		orderBy = "sort_order ASC, rowid ASC"
	}
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s=? ORDER BY %s`, l.MemberColumn, l.Table, l.OwnerColumn, orderBy), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Reconcile makes the owner's links equal to desired. Duplicates in desired
// are collapsed and additions are processed in the given order; for ordered
// links each addition is appended after the current maximum. Removals do not
// renumber the remaining members.
func Reconcile(ctx context.Context, tx db.DBTX, l Link, ownerID string, desired []string) (Diff, error) {
	current, err := Current(ctx, tx, l, ownerID)
	if err != nil {
		return Diff{}, fmt.Errorf("load %s: %w", l.Name, err)
	}
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	want := make(map[string]bool, len(desired))
	var diff Diff
	for _, id := range desired {
		if id == "" || want[id] {
			continue
		}
		want[id] = true
		if !have[id] {
			diff.Added = append(diff.Added, id)
		}
	}
	for _, id := range current {
		if !want[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}

	del := fmt.Sprintf(`DELETE FROM %s WHERE %s=? AND %s=?`, l.Table, l.OwnerColumn, l.MemberColumn)
	for _, id := range diff.Removed {
		if _, err := tx.ExecContext(ctx, del, ownerID, id); err != nil {
			return Diff{}, fmt.Errorf("unlink %s: %w", l.Name, err)
		}
	}
	for _, id := range diff.Added {
		if err := insert(ctx, tx, l, ownerID, id); err != nil {
			return Diff{}, err
		}
	}
	return diff, nil
}

// Add links a single member, appending it for ordered links. Existing links
// are left alone and reported as not added.
func Add(ctx context.Context, tx db.DBTX, l Link, ownerID, memberID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE %s=? AND %s=?`, l.Table, l.OwnerColumn, l.MemberColumn), ownerID, memberID).Scan(&n)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	return true, insert(ctx, tx, l, ownerID, memberID)
}

func insert(ctx context.Context, tx db.DBTX, l Link, ownerID, memberID string) error {
	if l.Ordered {
		next, err := sequence.NextOrder(ctx, tx, l.sequenceTable(), ownerID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s(id,%s,%s,sort_order) VALUES (?,?,?,?)`, l.Table, l.OwnerColumn, l.MemberColumn),
			domain.NewID(), ownerID, memberID, next)
		if err != nil {
			return fmt.Errorf("link %s: %w", l.Name, err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(id,%s,%s) VALUES (?,?,?)`, l.Table, l.OwnerColumn, l.MemberColumn),
		domain.NewID(), ownerID, memberID)
	if err != nil {
		return fmt.Errorf("link %s: %w", l.Name, err)
	}
	return nil
}
