package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/report"
	"caseline/internal/repo"
)

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Execute test runs"}
	run.AddCommand(runStartCmd())
	run.AddCommand(runListCmd())
	run.AddCommand(runNextCmd())
	run.AddCommand(runResumeCmd())
	run.AddCommand(runRecordCmd())
	run.AddCommand(runExecCmd())
	run.AddCommand(runResultsCmd())
	run.AddCommand(runSummaryCmd())
	run.AddCommand(runCSVCmd())
	run.AddCommand(runReportBugCmd())
	run.AddCommand(runDeleteCmd())
	return run
}

func runStartCmd() *cobra.Command {
	var plan, mode, label, cases string
	var suites []string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run from a plan, or from suites and cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				opts := engine.StartRunOptions{ProjectID: p.ID, Mode: mode, Label: label, ActorID: actorID()}
				if plan != "" {
					id, err := resolvePlan(ctx, a, p.ID, plan)
					if err != nil {
						return err
					}
					opts.PlanID = id
				}
				for _, s := range suites {
					id, err := resolveSuite(ctx, a, p.ID, s)
					if err != nil {
						return err
					}
					opts.SuiteIDs = append(opts.SuiteIDs, id)
				}
				for _, ref := range strings.Split(cases, ",") {
					if strings.TrimSpace(ref) == "" {
						continue
					}
					id, err := resolveRef(ctx, a, "test_cases", p.ID, ref)
					if err != nil {
						return err
					}
					opts.CaseIDs = append(opts.CaseIDs, id)
				}
				r, err := a.Engine.StartRun(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("Started %s run %s\n", r.Mode, r.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "plan id or name")
	cmd.Flags().StringSliceVar(&suites, "suite", nil, "suite id or name (repeatable)")
	cmd.Flags().StringVar(&cases, "cases", "", "extra test case codes for a suite run")
	cmd.Flags().StringVar(&mode, "mode", "", "pull|push (plans only; default from config)")
	cmd.Flags().StringVar(&label, "label", "", "run label")
	return cmd
}

func runListCmd() *cobra.Command {
	var plan, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				f := repo.RunFilters{ProjectID: p.ID, Status: status}
				if plan != "" {
					id, err := resolvePlan(ctx, a, p.ID, plan)
					if err != nil {
						return err
					}
					f.PlanID = id
				}
				items, err := a.Engine.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Mode", "Status", "Label", "Started", "By")
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Mode, r.Status, r.Label, r.CreatedAt, r.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "filter by plan")
	cmd.Flags().StringVar(&status, "status", "", "in_progress|finished")
	return cmd
}

func runNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next <run>",
		Short: "Show the next pending case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				step, err := a.Engine.NextPendingCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printStep(step)
			})
		},
	}
}

func runResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run>",
		Short: "Resume a run at its next pending case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				step, err := a.Engine.ResumeRun(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printStep(step)
			})
		},
	}
}

func runRecordCmd() *cobra.Command {
	var status, notes string
	var duration int
	cmd := &cobra.Command{
		Use:   "record <run> <case>",
		Short: "Record a result for a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				r, err := a.Engine.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				caseID, err := resolveRef(ctx, a, "test_cases", r.ProjectID, args[1])
				if err != nil {
					return err
				}
				var d *int
				if cmd.Flags().Changed("duration") {
					d = &duration
				}
				out, err := a.Engine.RecordResult(ctx, engine.RecordOptions{
					RunID: r.ID, TestCaseID: caseID, Status: status, Notes: notes, Duration: d, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("%s %s\n", out.Result.CaseCode, status)
				return printStep(out.Next)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pass|fail|skip")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in seconds")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func runExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <run>",
		Short: "Walk the run interactively, one case at a time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				return execRun(ctx, a, args[0], os.Stdin, os.Stdout)
			})
		},
	}
}

func execRun(ctx context.Context, a *app.Context, runID string, in io.Reader, out io.Writer) error {
	step, err := a.Engine.ResumeRun(ctx, runID, actorID())
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(in)
	prompt := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}
	for !step.Finished && step.Case != nil {
		c := step.Case
		fmt.Fprintf(out, "\n[%d/%d] %s %s\n", step.Position, step.Total, c.Code, c.Title)
		if c.Preconditions != "" {
			fmt.Fprintf(out, "Preconditions:\n%s\n", c.Preconditions)
		}
		if c.Steps != "" {
			fmt.Fprintf(out, "Steps:\n%s\n", c.Steps)
		}
		fmt.Fprintf(out, "Expected:\n%s\n", c.ExpectedResult)

		answer, ok := prompt("(p)ass, (f)ail, (s)kip, (q)uit: ")
		if !ok || answer == "q" {
			fmt.Fprintf(out, "Paused; continue with cl run exec %s\n", runID)
			return nil
		}
		status := map[string]string{"p": domain.ResultPass, "f": domain.ResultFail, "s": domain.ResultSkip}[answer]
		if status == "" {
			fmt.Fprintln(out, "unknown answer")
			continue
		}
		notes, _ := prompt("notes: ")
		var d *int
		if v, _ := prompt("duration (s): "); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("duration: %w", err)
			}
			d = &n
		}
		res, err := a.Engine.RecordResult(ctx, engine.RecordOptions{
			RunID: runID, TestCaseID: c.ID, Status: status, Notes: notes, Duration: d, ActorID: actorID(),
		})
		if err != nil {
			return err
		}
		step = res.Next
	}
	sum, err := a.Engine.RunSummary(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nRun finished.")
	renderSummary(out, sum)
	return nil
}

func runResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <run>",
		Short: "List results in execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListResults(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("#", "Case", "Title", "Status", "By", "Duration", "Notes")
				for _, r := range items {
					tw.AppendRow(table.Row{r.Position, r.CaseCode, r.CaseTitle, deref(r.Status, "pending"), deref(r.ExecutedBy, ""), durationCell(r.Duration), r.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func runSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <run>",
		Short: "Pass/fail/skip totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				sum, err := a.Engine.RunSummary(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				renderSummary(os.Stdout, sum)
				return nil
			})
		},
	}
}

func runCSVCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "csv <run>",
		Short: "Export run results as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				return writeOutput(out, func(w io.Writer) error {
					return a.Engine.ExportRunCSV(ctx, w, args[0])
				})
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func runReportBugCmd() *cobra.Command {
	var title, desc, priority string
	cmd := &cobra.Command{
		Use:   "report-bug <run> <case>",
		Short: "File a bug against a case's result in this run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				r, err := a.Engine.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				caseID, err := resolveRef(ctx, a, "test_cases", r.ProjectID, args[1])
				if err != nil {
					return err
				}
				results, err := a.Engine.ListResults(ctx, r.ID)
				if err != nil {
					return err
				}
				var resultID string
				for _, res := range results {
					if res.TestCaseID == caseID {
						resultID = res.ID
					}
				}
				if resultID == "" {
					return fmt.Errorf("no result for %s in run %s: %w", args[1], r.ID, domain.ErrNotFound)
				}
				b, err := a.Engine.ReportBug(ctx, engine.ReportBugOptions{
					ResultID: resultID, Title: title, Description: desc, Priority: priority, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(b)
				}
				fmt.Printf("Filed %s %s\n", b.Code, b.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "bug title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "high|medium|low")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func runDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run>",
		Short: "Delete run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				return a.Engine.DeleteRun(ctx, args[0], actorID())
			})
		},
	}
}

func printStep(step engine.Step) error {
	if viper.GetBool("json") {
		return printJSON(step)
	}
	if step.Finished || step.Case == nil {
		fmt.Printf("Run %s is finished (%d cases)\n", step.Run.ID, step.Total)
		return nil
	}
	fmt.Printf("Next [%d/%d, %d pending]: %s %s\n", step.Position, step.Total, step.Pending, step.Case.Code, step.Case.Title)
	return nil
}

func renderSummary(w io.Writer, s report.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Total", "Passed", "Failed", "Skipped", "Pending", "% Passed", "Minutes"})
	tw.AppendRow(table.Row{s.Total, s.Passed, s.Failed, s.Skipped, s.Pending, fmt.Sprintf("%.2f", s.PercentPassed), s.TotalDurationMinutes})
	tw.Render()
}

func writeOutput(path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func durationCell(d *int) string {
	if d == nil {
		return ""
	}
	return strconv.Itoa(*d) + "s"
}
