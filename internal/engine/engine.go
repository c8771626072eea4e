package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"caseline/internal/code"
	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/metrics"
	"caseline/internal/report"
	"caseline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Logger: zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// inTx runs fn in one transaction, committing only if fn succeeds.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx, r repo.Repo) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx, e.Repo.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func (e Engine) requirementCode(order int) string { return code.Format(e.cfg().Codes.Requirement, order) }
func (e Engine) caseCode(order int) string        { return code.Format(e.cfg().Codes.TestCase, order) }
func (e Engine) bugCode(order int) string         { return code.Format(e.cfg().Codes.Bug, order) }

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name        string
	Description string
	ActorID     string
}

// CreateProject creates a project managed by the actor.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		p, err = e.createProjectTx(ctx, tx, r, opts)
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.log().Info("project created", zap.String("project_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

func (e Engine) createProjectTx(ctx context.Context, tx *sql.Tx, r repo.Repo, opts ProjectCreateOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, invalid("name is required")
	}
	if opts.ActorID == "" {
		return domain.Project{}, invalid("actor is required")
	}
	taken, err := r.ProjectNameTaken(ctx, name, "")
	if err != nil {
		return domain.Project{}, err
	}
	if taken {
		return domain.Project{}, fmt.Errorf("project %q: %w", name, domain.ErrDuplicateName)
	}
	now := e.stamp()
	p := domain.Project{
		ID:          domain.NewID(),
		Name:        name,
		Description: opts.Description,
		ManagerID:   opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.InsertProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := r.InsertMember(ctx, domain.Member{ProjectID: p.ID, UserID: opts.ActorID, Role: "manager", JoinedAt: now}); err != nil {
		return domain.Project{}, fmt.Errorf("insert manager: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectUpdateOptions carries the fields to change; nil fields are kept.
type ProjectUpdateOptions struct {
	ID          string
	Name        *string
	Description *string
	ActorID     string
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetProject(ctx, opts.ID); err != nil {
			return err
		}
		if opts.Name != nil {
			name := strings.TrimSpace(*opts.Name)
			if name == "" {
				return invalid("name is required")
			}
			taken, err := r.ProjectNameTaken(ctx, name, opts.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("project %q: %w", name, domain.ErrDuplicateName)
			}
			opts.Name = &name
		}
		if err := r.UpdateProject(ctx, opts.ID, opts.Name, opts.Description, e.stamp()); err != nil {
			return err
		}
		var err error
		if p, err = r.GetProject(ctx, opts.ID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.updated", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name})
	})
	return p, err
}

// DeleteProject removes the project and everything it owns.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) (repo.Deleted, error) {
	var deleted repo.Deleted
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if deleted, err = r.Cascade(ctx, repo.ProjectCascade, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.deleted", id, "project", id, actorID, events.EventPayload{"deleted": deleted})
	})
	if err != nil {
		return nil, err
	}
	e.log().Info("project deleted", zap.String("project_id", id), zap.Any("rows", deleted))
	return deleted, nil
}

// ProjectDetail is the project overview.
type ProjectDetail struct {
	Project domain.Project       `json:"project"`
	Counts  report.ProjectCounts `json:"counts"`
	Members []domain.Member      `json:"members"`
}

func (e Engine) ProjectDetail(ctx context.Context, id string) (ProjectDetail, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return ProjectDetail{}, err
	}
	counts, err := e.Repo.ProjectCounts(ctx, id)
	if err != nil {
		return ProjectDetail{}, err
	}
	members, err := e.Repo.ListMembers(ctx, id)
	if err != nil {
		return ProjectDetail{}, err
	}
	return ProjectDetail{Project: p, Counts: counts, Members: members}, nil
}

// ResolveProject finds a project by id, falling back to its name.
func (e Engine) ResolveProject(ctx context.Context, ref string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return e.Repo.GetProjectByName(ctx, ref)
	}
	return p, err
}

const roleManager = "manager"

func validMemberRole(role string) bool {
	return role == "editor" || role == "viewer"
}

// AddMember grants a user an editor or viewer role on the project.
func (e Engine) AddMember(ctx context.Context, projectID, userID, role, actorID string) (domain.Member, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Member{}, invalid("user is required")
	}
	if !validMemberRole(role) {
		return domain.Member{}, invalid("role must be editor or viewer")
	}
	m := domain.Member{ProjectID: projectID, UserID: userID, Role: role, JoinedAt: e.stamp()}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetProject(ctx, projectID); err != nil {
			return err
		}
		if _, err := r.GetMember(ctx, projectID, userID); err == nil {
			return fmt.Errorf("member %s: %w", userID, domain.ErrDuplicateName)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := r.InsertMember(ctx, m); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "member.added", projectID, "member", userID, actorID, events.EventPayload{"role": role})
	})
	return m, err
}

// SetMemberRole changes a non-manager member's role.
func (e Engine) SetMemberRole(ctx context.Context, projectID, userID, role, actorID string) (domain.Member, error) {
	if !validMemberRole(role) {
		return domain.Member{}, invalid("role must be editor or viewer")
	}
	var m domain.Member
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		cur, err := r.GetMember(ctx, projectID, userID)
		if err != nil {
			return err
		}
		if cur.Role == roleManager {
			return invalid("the project manager's role cannot be changed")
		}
		if err := r.UpdateMemberRole(ctx, projectID, userID, role); err != nil {
			return err
		}
		cur.Role = role
		m = cur
		return e.Events.Append(ctx, tx, "member.role_changed", projectID, "member", userID, actorID, events.EventPayload{"role": role})
	})
	return m, err
}

// RemoveMember revokes a non-manager member.
func (e Engine) RemoveMember(ctx context.Context, projectID, userID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		cur, err := r.GetMember(ctx, projectID, userID)
		if err != nil {
			return err
		}
		if cur.Role == roleManager {
			return invalid("the project manager cannot be removed")
		}
		if err := r.DeleteMember(ctx, projectID, userID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "member.removed", projectID, "member", userID, actorID, nil)
	})
}
