package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/code"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline manages requirements, test cases, bugs, plans, suites and test runs.
- Workspace: a directory holding caseline.yml and the .caseline database.
- Codes: items are shown as PREFIX-NNN (REQ-001, TC-004, BUG-002) from their current
  order; deleting an item renumbers the rest, so codes shift.
- Plans run in pull mode by default: results are created as cases are executed, in
  the plan's live order. Suites, and plans started with --mode push, pre-create one
  pending result per case.
- Event log: every change is recorded; view it with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project id or name (defaults to the only project)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(reqCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(bugCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(suiteCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	logs := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				events, err := a.Engine.Events.Tail(ctx, p.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("TS", "Type", "Entity", "Actor", "Payload")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityKind + " " + evt.EntityID, evt.ActorID, evt.PayloadJSON})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	logs.AddCommand(tail)
	return logs
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id (uses CASELINE_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("CASELINE_JWT_SECRET is required")
			}
			token, err := server.SignToken(secret, viper.GetString("actor-id"), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

// --- helpers ---

func openApp(cmd *cobra.Command, withMetrics bool) (*app.Context, error) {
	return app.Open(cmd.Context(), app.Options{
		Workspace: viper.GetString("workspace"),
		Project:   viper.GetString("project"),
		Verbose:   viper.GetBool("verbose"),
		Metrics:   withMetrics,
	})
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app.Context) error) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func withProject(cmd *cobra.Command, fn func(context.Context, *app.Context, domain.Project) error) error {
	return withApp(cmd, func(ctx context.Context, a *app.Context) error {
		p, err := a.Project(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, a, p)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

// resolveRef maps a code such as TC-004 onto the item's id; anything else is
// taken as an id.
func resolveRef(ctx context.Context, a *app.Context, table, projectID, ref string) (string, error) {
	prefix := map[string]string{
		"requirements": a.Config.Codes.Requirement,
		"test_cases":   a.Config.Codes.TestCase,
		"bugs":         a.Config.Codes.Bug,
	}[table]
	n, ok := code.Parse(prefix, ref)
	if !ok {
		return strings.TrimSpace(ref), nil
	}
	ids, err := a.Engine.Repo.IDsByOrder(ctx, table, projectID, []int{n})
	if err != nil {
		return "", err
	}
	id, ok := ids[n]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, domain.ErrNotFound)
	}
	return id, nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, flag string, v string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}

func optionalBool(cmd *cobra.Command, flag string, v bool) *bool {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
