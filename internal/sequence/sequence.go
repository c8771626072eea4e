// Package sequence keeps ordered items dense (1..N) within their scope.
//
// Every operation runs on a caller-supplied transaction so a renumber or swap
// commits or rolls back together with the change that triggered it.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caseline/internal/db"
	"caseline/internal/domain"
)

// Table names an ordered table and the column that scopes its order.
type Table struct {
	Name        string
	ScopeColumn string
}

var (
	Requirements = Table{Name: "requirements", ScopeColumn: "project_id"}
	TestCases    = Table{Name: "test_cases", ScopeColumn: "project_id"}
	Bugs         = Table{Name: "bugs", ScopeColumn: "project_id"}
	PlanCases    = Table{Name: "test_plan_cases", ScopeColumn: "test_plan_id"}
	SuiteCases   = Table{Name: "test_suite_cases", ScopeColumn: "test_suite_id"}
)

type Item struct {
	ID      string
	ScopeID string
	Order   int
}

// Get loads one item.
func Get(ctx context.Context, tx db.DBTX, t Table, id string) (Item, error) {
	var it Item
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id,%s,sort_order FROM %s WHERE id=?`, t.ScopeColumn, t.Name), id).
		Scan(&it.ID, &it.ScopeID, &it.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%s %s: %w", t.Name, id, domain.ErrNotFound)
	}
	return it, err
}

// List returns the scope in display order; ties fall back to insertion order.
func List(ctx context.Context, tx db.DBTX, t Table, scopeID string) ([]Item, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT id,%s,sort_order FROM %s WHERE %s=? ORDER BY sort_order ASC, rowid ASC`, t.ScopeColumn, t.Name, t.ScopeColumn),
		scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ScopeID, &it.Order); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Renumber rewrites the scope's orders to 1..N keeping relative order.
// Rows already at their dense position are left untouched.
func Renumber(ctx context.Context, tx db.DBTX, t Table, scopeID string) ([]Item, error) {
	items, err := List(ctx, tx, t, scopeID)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET sort_order=? WHERE id=?`, t.Name)
	for i := range items {
		want := i + 1
		if items[i].Order == want {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt, want, items[i].ID); err != nil {
			return nil, fmt.Errorf("renumber %s: %w", t.Name, err)
		}
		items[i].Order = want
	}
	return items, nil
}

// Swap exchanges the orders of two items of the same scope.
func Swap(ctx context.Context, tx db.DBTX, t Table, idA, idB string) error {
	if idA == idB {
		if _, err := Get(ctx, tx, t, idA); err != nil {
			return err
		}
		return nil
	}
	a, err := Get(ctx, tx, t, idA)
	if err != nil {
		return err
	}
	b, err := Get(ctx, tx, t, idB)
	if err != nil {
		return err
	}
	if a.ScopeID != b.ScopeID {
		return fmt.Errorf("swap %s %s/%s: %w", t.Name, idA, idB, domain.ErrScopeMismatch)
	}
	stmt := fmt.Sprintf(`UPDATE %s SET sort_order=? WHERE id=?`, t.Name)
	if _, err := tx.ExecContext(ctx, stmt, b.Order, a.ID); err != nil {
		return fmt.Errorf("swap %s: %w", t.Name, err)
	}
	if _, err := tx.ExecContext(ctx, stmt, a.Order, b.ID); err != nil {
		return fmt.Errorf("swap %s: %w", t.Name, err)
	}
	return nil
}

// NextOrder returns max(order)+1 for the scope, 1 when empty.
func NextOrder(ctx context.Context, tx db.DBTX, t Table, scopeID string) (int, error) {
	var maxOrder sql.NullInt64
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT MAX(sort_order) FROM %s WHERE %s=?`, t.Name, t.ScopeColumn), scopeID).Scan(&maxOrder)
	if err != nil {
		return 0, err
	}
	if !maxOrder.Valid {
		return 1, nil
	}
	return int(maxOrder.Int64) + 1, nil
}
