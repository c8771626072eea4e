// Package app wires a workspace into a ready engine for the CLI and server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/metrics"
	"caseline/internal/migrate"
)

type Options struct {
	Workspace string
	// Project is a project id or name; empty picks the only project.
	Project string
	Verbose bool
	// Metrics attaches a Prometheus recorder to the engine.
	Metrics bool
}

// Context holds an open workspace.
type Context struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Logger  *zap.Logger
	project string
}

// Open opens and migrates the workspace database and loads caseline.yml,
// falling back to defaults when the file is missing.
func Open(ctx context.Context, opts Options) (*Context, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Log.Level, opts.Verbose)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	if opts.Metrics {
		e.Metrics = metrics.New()
	}
	logger.Debug("workspace opened", zap.String("db", db.Path(opts.Workspace)))
	return &Context{DB: conn, Config: cfg, Engine: e, Logger: logger, project: opts.Project}, nil
}

func (c *Context) Close() error {
	_ = c.Logger.Sync()
	return c.DB.Close()
}

// Project resolves the active project by id or name. Without a reference the
// workspace must hold exactly one project.
func (c *Context) Project(ctx context.Context) (domain.Project, error) {
	if c.project != "" {
		p, err := c.Engine.ResolveProject(ctx, c.project)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("project %q not found", c.project)
		}
		return p, err
	}
	p, err := c.Engine.Repo.SingleProject(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Project{}, fmt.Errorf("no project yet; create one with cl project create")
	}
	return p, err
}

// NewLogger builds a console logger at level; verbose forces debug.
func NewLogger(level string, verbose bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}
