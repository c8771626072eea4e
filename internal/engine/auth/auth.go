package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caseline/internal/db"
)

// Verdict is the access level a user holds on a project.
type Verdict int

const (
	Denied Verdict = iota
	View
	Edit
	Manage
)

func (v Verdict) String() string {
	switch v {
	case View:
		return "view"
	case Edit:
		return "edit"
	case Manage:
		return "manage"
	default:
		return "denied"
	}
}

// Allows reports whether v satisfies the required level.
func (v Verdict) Allows(required Verdict) bool {
	return v >= required && v != Denied
}

// VerdictForRole maps a member role to its verdict.
func VerdictForRole(role string) Verdict {
	switch role {
	case "manager":
		return Manage
	case "editor":
		return Edit
	case "viewer":
		return View
	default:
		return Denied
	}
}

// ForbiddenError indicates the caller lacks the required level.
type ForbiddenError struct {
	Required Verdict
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s access required", e.Required)
}

// Service resolves verdicts from project membership.
type Service struct {
	DB *sql.DB
}

func (s Service) Verdict(ctx context.Context, q db.DBTX, projectID, userID string) (Verdict, error) {
	if userID == "" {
		return Denied, nil
	}
	if q == nil {
		q = s.DB
	}
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return Denied, nil
	}
	if err != nil {
		return Denied, err
	}
	return VerdictForRole(role), nil
}

// Require returns ForbiddenError unless the user holds at least required.
func (s Service) Require(ctx context.Context, projectID, userID string, required Verdict) error {
	v, err := s.Verdict(ctx, nil, projectID, userID)
	if err != nil {
		return err
	}
	if !v.Allows(required) {
		return ForbiddenError{Required: required}
	}
	return nil
}
