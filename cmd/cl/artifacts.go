package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

func reqCmd() *cobra.Command {
	req := &cobra.Command{Use: "req", Aliases: []string{"requirement"}, Short: "Manage requirements"}

	var title, desc, typ, priority string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add requirement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				q, err := a.Engine.CreateRequirement(ctx, engine.RequirementCreateOptions{
					ProjectID: p.ID, Title: title, Description: desc, Type: typ, Priority: priority, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(q)
				}
				fmt.Printf("%s %s\n", q.Code, q.Title)
				return nil
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "title")
	add.Flags().StringVar(&desc, "description", "", "description")
	add.Flags().StringVar(&typ, "type", "", "functional|quality|constraint")
	add.Flags().StringVar(&priority, "priority", "", "high|medium|low")
	_ = add.MarkFlagRequired("title")
	req.AddCommand(add)

	req.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List requirements in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				items, err := a.Engine.ListRequirements(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Code", "Title", "Type", "Priority")
				for _, q := range items {
					tw.AppendRow(table.Row{q.Code, q.Title, q.Type, q.Priority})
				}
				tw.Render()
				return nil
			})
		},
	})

	req.AddCommand(&cobra.Command{
		Use:   "show <code|id>",
		Short: "Show requirement and its cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveRef(ctx, a, "requirements", p.ID, args[0])
				if err != nil {
					return err
				}
				q, err := a.Engine.GetRequirement(ctx, id)
				if err != nil {
					return err
				}
				cases, err := a.Engine.RequirementCases(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"requirement": q, "test_cases": cases})
				}
				fmt.Printf("%s %s [%s, %s]\n", q.Code, q.Title, q.Type, q.Priority)
				if q.Description != "" {
					fmt.Println(q.Description)
				}
				return printCaseRefs(cases)
			})
		},
	})

	var uTitle, uDesc, uType, uPriority string
	update := &cobra.Command{
		Use:   "update <code|id>",
		Short: "Update requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveRef(ctx, a, "requirements", p.ID, args[0])
				if err != nil {
					return err
				}
				q, err := a.Engine.UpdateRequirement(ctx, engine.RequirementUpdateOptions{
					ID:          id,
					Title:       optionalString(cmd, "title", uTitle),
					Description: optionalString(cmd, "description", uDesc),
					Type:        optionalString(cmd, "type", uType),
					Priority:    optionalString(cmd, "priority", uPriority),
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
	update.Flags().StringVar(&uTitle, "title", "", "title")
	update.Flags().StringVar(&uDesc, "description", "", "description")
	update.Flags().StringVar(&uType, "type", "", "functional|quality|constraint")
	update.Flags().StringVar(&uPriority, "priority", "", "high|medium|low")
	req.AddCommand(update)

	req.AddCommand(deleteRefCmd("requirements", "requirement", func(ctx context.Context, a *app.Context, id string) error {
		return a.Engine.DeleteRequirement(ctx, id, actorID())
	}))
	return req
}

func caseCmd() *cobra.Command {
	tc := &cobra.Command{Use: "case", Short: "Manage test cases"}

	var title, pre, steps, expected string
	var functional, automated bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Add test case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				c, err := a.Engine.CreateTestCase(ctx, engine.TestCaseCreateOptions{
					ProjectID:      p.ID,
					Title:          title,
					Preconditions:  pre,
					Steps:          steps,
					ExpectedResult: expected,
					IsFunctional:   functional,
					IsAutomated:    automated,
					ActorID:        actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%s %s\n", c.Code, c.Title)
				return nil
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "title")
	add.Flags().StringVar(&pre, "preconditions", "", "preconditions")
	add.Flags().StringVar(&steps, "steps", "", "steps")
	add.Flags().StringVar(&expected, "expected", "", "expected result")
	add.Flags().BoolVar(&functional, "functional", true, "functional case")
	add.Flags().BoolVar(&automated, "automated", false, "automated case")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("expected")
	tc.AddCommand(add)

	tc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List test cases in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				items, err := a.Engine.ListTestCases(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Code", "Title", "Functional", "Automated")
				for _, c := range items {
					tw.AppendRow(table.Row{c.Code, c.Title, yesNo(c.IsFunctional), yesNo(c.IsAutomated)})
				}
				tw.Render()
				return nil
			})
		},
	})

	tc.AddCommand(&cobra.Command{
		Use:   "show <code|id>",
		Short: "Show test case with linked requirements and bugs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveRef(ctx, a, "test_cases", p.ID, args[0])
				if err != nil {
					return err
				}
				c, err := a.Engine.GetTestCase(ctx, id)
				if err != nil {
					return err
				}
				links, err := a.Engine.TestCaseLinks(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"test_case": c, "requirements": links.Requirements, "bugs": links.Bugs})
				}
				fmt.Printf("%s %s\n", c.Code, c.Title)
				for _, row := range [][2]string{
					{"Preconditions", c.Preconditions},
					{"Steps", c.Steps},
					{"Expected", c.ExpectedResult},
				} {
					if row[1] != "" {
						fmt.Printf("%s:\n%s\n", row[0], row[1])
					}
				}
				fmt.Printf("functional: %s  automated: %s\n", yesNo(c.IsFunctional), yesNo(c.IsAutomated))
				reqCodes := make([]string, 0, len(links.Requirements))
				for _, q := range links.Requirements {
					reqCodes = append(reqCodes, q.Code)
				}
				bugCodes := make([]string, 0, len(links.Bugs))
				for _, b := range links.Bugs {
					bugCodes = append(bugCodes, b.Code+" ("+b.Status+")")
				}
				fmt.Printf("requirements: %s\n", orNone(strings.Join(reqCodes, ", ")))
				fmt.Printf("bugs: %s\n", orNone(strings.Join(bugCodes, ", ")))
				return nil
			})
		},
	})

	var uTitle, uPre, uSteps, uExpected string
	var uFunctional, uAutomated bool
	update := &cobra.Command{
		Use:   "update <code|id>",
		Short: "Update test case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveRef(ctx, a, "test_cases", p.ID, args[0])
				if err != nil {
					return err
				}
				c, err := a.Engine.UpdateTestCase(ctx, engine.TestCaseUpdateOptions{
					ID:             id,
					Title:          optionalString(cmd, "title", uTitle),
					Preconditions:  optionalString(cmd, "preconditions", uPre),
					Steps:          optionalString(cmd, "steps", uSteps),
					ExpectedResult: optionalString(cmd, "expected", uExpected),
					IsFunctional:   optionalBool(cmd, "functional", uFunctional),
					IsAutomated:    optionalBool(cmd, "automated", uAutomated),
					ActorID:        actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	update.Flags().StringVar(&uTitle, "title", "", "title")
	update.Flags().StringVar(&uPre, "preconditions", "", "preconditions")
	update.Flags().StringVar(&uSteps, "steps", "", "steps")
	update.Flags().StringVar(&uExpected, "expected", "", "expected result")
	update.Flags().BoolVar(&uFunctional, "functional", true, "functional case")
	update.Flags().BoolVar(&uAutomated, "automated", false, "automated case")
	tc.AddCommand(update)

	tc.AddCommand(deleteRefCmd("test_cases", "test case", func(ctx context.Context, a *app.Context, id string) error {
		return a.Engine.DeleteTestCase(ctx, id, actorID())
	}))
	return tc
}

func bugCmd() *cobra.Command {
	bug := &cobra.Command{Use: "bug", Short: "Manage bugs"}

	var title, desc, status, priority, cases string
	add := &cobra.Command{
		Use:   "add",
		Short: "Report bug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				b, err := a.Engine.CreateBug(ctx, engine.BugCreateOptions{
					ProjectID: p.ID, Title: title, Description: desc, Status: status, Priority: priority, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if cases != "" {
					if _, err := a.Engine.LinkByCodes(ctx, engine.LinkBugCases, b.ID, cases, actorID()); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(b)
				}
				fmt.Printf("%s %s\n", b.Code, b.Title)
				return nil
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "title")
	add.Flags().StringVar(&desc, "description", "", "description")
	add.Flags().StringVar(&status, "status", "", "open|progress|closed")
	add.Flags().StringVar(&priority, "priority", "", "high|medium|low")
	add.Flags().StringVar(&cases, "cases", "", "linked test case codes, e.g. TC-001,TC-004")
	_ = add.MarkFlagRequired("title")
	bug.AddCommand(add)

	var fStatus string
	var triage bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List bugs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				items, err := a.Engine.ListBugs(ctx, repo.BugFilters{ProjectID: p.ID, Status: fStatus, Triage: triage})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Code", "Title", "Status", "Priority")
				for _, b := range items {
					tw.AppendRow(table.Row{b.Code, b.Title, b.Status, b.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&fStatus, "status", "", "filter by status")
	list.Flags().BoolVar(&triage, "triage", false, "order by priority, open bugs first")
	bug.AddCommand(list)

	bug.AddCommand(&cobra.Command{
		Use:   "show <code|id>",
		Short: "Show bug and its cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveRef(ctx, a, "bugs", p.ID, args[0])
				if err != nil {
					return err
				}
				b, err := a.Engine.GetBug(ctx, id)
				if err != nil {
					return err
				}
				cases, err := a.Engine.BugCases(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"bug": b, "test_cases": cases})
				}
				fmt.Printf("%s %s [%s, %s]\n", b.Code, b.Title, b.Status, b.Priority)
				if b.Description != "" {
					fmt.Println(b.Description)
				}
				return printCaseRefs(cases)
			})
		},
	})

	var uTitle, uDesc, uStatus, uPriority string
	update := &cobra.Command{
		Use:   "update <code|id>",
		Short: "Update bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveRef(ctx, a, "bugs", p.ID, args[0])
				if err != nil {
					return err
				}
				b, err := a.Engine.UpdateBug(ctx, engine.BugUpdateOptions{
					ID:          id,
					Title:       optionalString(cmd, "title", uTitle),
					Description: optionalString(cmd, "description", uDesc),
					Status:      optionalString(cmd, "status", uStatus),
					Priority:    optionalString(cmd, "priority", uPriority),
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	update.Flags().StringVar(&uTitle, "title", "", "title")
	update.Flags().StringVar(&uDesc, "description", "", "description")
	update.Flags().StringVar(&uStatus, "status", "", "open|progress|closed")
	update.Flags().StringVar(&uPriority, "priority", "", "high|medium|low")
	bug.AddCommand(update)

	bug.AddCommand(deleteRefCmd("bugs", "bug", func(ctx context.Context, a *app.Context, id string) error {
		return a.Engine.DeleteBug(ctx, id, actorID())
	}))
	return bug
}

func deleteRefCmd(tableName, noun string, del func(context.Context, *app.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code|id>",
		Short: fmt.Sprintf("Delete %s; later codes shift down", noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveRef(ctx, a, tableName, p.ID, args[0])
				if err != nil {
					return err
				}
				if err := del(ctx, a, id); err != nil {
					return err
				}
				fmt.Printf("Deleted %s %s\n", noun, args[0])
				return nil
			})
		},
	}
}

func printCaseRefs(cases []domain.TestCase) error {
	if len(cases) == 0 {
		fmt.Println("no linked test cases")
		return nil
	}
	tw := newTable("Case", "Title")
	for _, c := range cases {
		tw.AppendRow(table.Row{c.Code, c.Title})
	}
	tw.Render()
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
