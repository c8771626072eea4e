package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/assoc"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Manage test plans"}

	var name, milestone, platform, cases string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create test plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				tp, err := a.Engine.CreatePlan(ctx, engine.PlanCreateOptions{
					ProjectID: p.ID, Name: name, Milestone: milestone, Platform: platform, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if cases != "" {
					if _, err := a.Engine.LinkByCodes(ctx, engine.LinkPlanCases, tp.ID, cases, actorID()); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(tp)
				}
				fmt.Printf("Created plan %s (%s)\n", tp.Name, tp.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "plan name")
	create.Flags().StringVar(&milestone, "milestone", "", "milestone")
	create.Flags().StringVar(&platform, "platform", "", "platform")
	create.Flags().StringVar(&cases, "cases", "", "test case codes, e.g. TC-001,TC-003")
	_ = create.MarkFlagRequired("name")
	plan.AddCommand(create)

	plan.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List test plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				items, err := a.Engine.ListPlans(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Milestone", "Platform")
				for _, tp := range items {
					tw.AppendRow(table.Row{tp.ID, tp.Name, tp.Milestone, tp.Platform})
				}
				tw.Render()
				return nil
			})
		},
	})

	plan.AddCommand(&cobra.Command{
		Use:   "cases <plan>",
		Short: "List the plan's cases in plan order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolvePlan(ctx, a, p.ID, args[0])
				if err != nil {
					return err
				}
				members, err := a.Engine.PlanCases(ctx, id)
				if err != nil {
					return err
				}
				return printMemberships(members)
			})
		},
	})

	var uName, uMilestone, uPlatform string
	update := &cobra.Command{
		Use:   "update <plan>",
		Short: "Update test plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolvePlan(ctx, a, p.ID, args[0])
				if err != nil {
					return err
				}
				tp, err := a.Engine.UpdatePlan(ctx, engine.PlanUpdateOptions{
					ID:        id,
					Name:      optionalString(cmd, "name", uName),
					Milestone: optionalString(cmd, "milestone", uMilestone),
					Platform:  optionalString(cmd, "platform", uPlatform),
					ActorID:   actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(tp)
			})
		},
	}
	update.Flags().StringVar(&uName, "name", "", "plan name")
	update.Flags().StringVar(&uMilestone, "milestone", "", "milestone")
	update.Flags().StringVar(&uPlatform, "platform", "", "platform")
	plan.AddCommand(update)

	plan.AddCommand(&cobra.Command{
		Use:   "delete <plan>",
		Short: "Delete plan and its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolvePlan(ctx, a, p.ID, args[0])
				if err != nil {
					return err
				}
				return a.Engine.DeletePlan(ctx, id, actorID())
			})
		},
	})
	return plan
}

func suiteCmd() *cobra.Command {
	suite := &cobra.Command{Use: "suite", Short: "Manage test suites"}

	var name, desc, cases string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create test suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				s, err := a.Engine.CreateSuite(ctx, engine.SuiteCreateOptions{
					ProjectID: p.ID, Name: name, Description: desc, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if cases != "" {
					if _, err := a.Engine.LinkByCodes(ctx, engine.LinkSuiteCases, s.ID, cases, actorID()); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Created suite %s (%s)\n", s.Name, s.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "suite name")
	create.Flags().StringVar(&desc, "description", "", "description")
	create.Flags().StringVar(&cases, "cases", "", "test case codes, e.g. TC-001,TC-003")
	_ = create.MarkFlagRequired("name")
	suite.AddCommand(create)

	suite.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List test suites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				items, err := a.Engine.ListSuites(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Description")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Description})
				}
				tw.Render()
				return nil
			})
		},
	})

	suite.AddCommand(&cobra.Command{
		Use:   "cases <suite>",
		Short: "List the suite's cases in suite order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveSuite(ctx, a, p.ID, args[0])
				if err != nil {
					return err
				}
				members, err := a.Engine.SuiteCases(ctx, id)
				if err != nil {
					return err
				}
				return printMemberships(members)
			})
		},
	})

	var uName, uDesc string
	update := &cobra.Command{
		Use:   "update <suite>",
		Short: "Update test suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveSuite(ctx, a, p.ID, args[0])
				if err != nil {
					return err
				}
				s, err := a.Engine.UpdateSuite(ctx, engine.SuiteUpdateOptions{
					ID:          id,
					Name:        optionalString(cmd, "name", uName),
					Description: optionalString(cmd, "description", uDesc),
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	update.Flags().StringVar(&uName, "name", "", "suite name")
	update.Flags().StringVar(&uDesc, "description", "", "description")
	suite.AddCommand(update)

	suite.AddCommand(&cobra.Command{
		Use:   "delete <suite>",
		Short: "Delete suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				id, err := resolveSuite(ctx, a, p.ID, args[0])
				if err != nil {
					return err
				}
				return a.Engine.DeleteSuite(ctx, id, actorID())
			})
		},
	})
	return suite
}

var linkKinds = strings.Join([]string{
	string(engine.LinkRequirementCases), string(engine.LinkCaseRequirements),
	string(engine.LinkBugCases), string(engine.LinkCaseBugs),
	string(engine.LinkPlanCases), string(engine.LinkSuiteCases),
}, "|")

func linkCmd() *cobra.Command {
	link := &cobra.Command{Use: "link", Short: "Edit associations (" + linkKinds + ")"}

	link.AddCommand(&cobra.Command{
		Use:   "show <kind> <owner>",
		Short: "Show linked items",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(cmd, args, func(ctx context.Context, a *app.Context, p domain.Project, kind engine.LinkKind, ownerID string) error {
				ids, err := a.Engine.Links(ctx, kind, ownerID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"kind": kind, "owner_id": ownerID, "member_ids": nonNil(ids)})
			})
		},
	})

	link.AddCommand(&cobra.Command{
		Use:   "set <kind> <owner> <codes>",
		Short: "Replace links with the given codes, e.g. \"TC-001, TC-004\"; empty clears",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(cmd, args, func(ctx context.Context, a *app.Context, p domain.Project, kind engine.LinkKind, ownerID string) error {
				diff, err := a.Engine.LinkByCodes(ctx, kind, ownerID, args[2], actorID())
				if err != nil {
					return err
				}
				return printDiff(diff)
			})
		},
	})

	link.AddCommand(&cobra.Command{
		Use:   "add <kind> <owner> <member>",
		Short: "Link one more item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(cmd, args, func(ctx context.Context, a *app.Context, p domain.Project, kind engine.LinkKind, ownerID string) error {
				memberID, err := resolveRef(ctx, a, linkMemberTable(kind), p.ID, args[2])
				if err != nil {
					return err
				}
				added, err := a.Engine.AddLink(ctx, kind, ownerID, memberID, actorID())
				if err != nil {
					return err
				}
				if added {
					fmt.Println("linked")
				} else {
					fmt.Println("already linked")
				}
				return nil
			})
		},
	})
	return link
}

func withLink(cmd *cobra.Command, args []string, fn func(context.Context, *app.Context, domain.Project, engine.LinkKind, string) error) error {
	kind, err := engine.ParseLinkKind(args[0])
	if err != nil {
		return err
	}
	return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
		var ownerID string
		switch kind {
		case engine.LinkPlanCases:
			ownerID, err = resolvePlan(ctx, a, p.ID, args[1])
		case engine.LinkSuiteCases:
			ownerID, err = resolveSuite(ctx, a, p.ID, args[1])
		case engine.LinkRequirementCases:
			ownerID, err = resolveRef(ctx, a, "requirements", p.ID, args[1])
		case engine.LinkBugCases:
			ownerID, err = resolveRef(ctx, a, "bugs", p.ID, args[1])
		default:
			ownerID, err = resolveRef(ctx, a, "test_cases", p.ID, args[1])
		}
		if err != nil {
			return err
		}
		return fn(ctx, a, p, kind, ownerID)
	})
}

func linkMemberTable(kind engine.LinkKind) string {
	switch kind {
	case engine.LinkCaseRequirements:
		return "requirements"
	case engine.LinkCaseBugs:
		return "bugs"
	default:
		return "test_cases"
	}
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{Use: "order", Short: "Renumber or swap ordered items"}

	var scope string
	renumber := &cobra.Command{
		Use:   "renumber <collection>",
		Short: "Close gaps in a collection's order (requirements|test_cases|bugs|plan_cases|suite_cases)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := engine.ParseCollection(args[0])
			if err != nil {
				return err
			}
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				scopeID, err := collectionScope(ctx, a, p.ID, c, scope)
				if err != nil {
					return err
				}
				items, err := a.Engine.Renumber(ctx, c, scopeID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				fmt.Printf("Renumbered %d items\n", len(items))
				return nil
			})
		},
	}
	renumber.Flags().StringVar(&scope, "scope", "", "plan or suite for plan_cases/suite_cases")
	order.AddCommand(renumber)

	var swapScope string
	swap := &cobra.Command{
		Use:   "swap <collection> <a> <b>",
		Short: "Swap the positions of two items",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := engine.ParseCollection(args[0])
			if err != nil {
				return err
			}
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				idA, idB, err := swapTargets(ctx, a, p.ID, c, swapScope, args[1], args[2])
				if err != nil {
					return err
				}
				if err := a.Engine.Swap(ctx, c, idA, idB, actorID()); err != nil {
					return err
				}
				fmt.Printf("Swapped %s and %s\n", args[1], args[2])
				return nil
			})
		},
	}
	swap.Flags().StringVar(&swapScope, "scope", "", "plan or suite for plan_cases/suite_cases")
	order.AddCommand(swap)
	return order
}

func collectionScope(ctx context.Context, a *app.Context, projectID string, c engine.Collection, scope string) (string, error) {
	switch c {
	case engine.CollectionPlanCases:
		return resolvePlan(ctx, a, projectID, scope)
	case engine.CollectionSuiteCases:
		return resolveSuite(ctx, a, projectID, scope)
	default:
		return projectID, nil
	}
}

// swapTargets resolves two references to item ids. Plan and suite items are
// named by the case code they hold.
func swapTargets(ctx context.Context, a *app.Context, projectID string, c engine.Collection, scope, refA, refB string) (string, string, error) {
	var members []domain.Membership
	switch c {
	case engine.CollectionPlanCases, engine.CollectionSuiteCases:
		scopeID, err := collectionScope(ctx, a, projectID, c, scope)
		if err != nil {
			return "", "", err
		}
		if c == engine.CollectionPlanCases {
			members, err = a.Engine.PlanCases(ctx, scopeID)
		} else {
			members, err = a.Engine.SuiteCases(ctx, scopeID)
		}
		if err != nil {
			return "", "", err
		}
	default:
		idA, err := resolveRef(ctx, a, string(c), projectID, refA)
		if err != nil {
			return "", "", err
		}
		idB, err := resolveRef(ctx, a, string(c), projectID, refB)
		return idA, idB, err
	}
	find := func(ref string) (string, error) {
		for _, m := range members {
			if strings.EqualFold(m.Code, ref) || m.TestCaseID == ref || m.ID == ref {
				return m.ID, nil
			}
		}
		return "", fmt.Errorf("%s: %w", ref, domain.ErrNotFound)
	}
	idA, err := find(refA)
	if err != nil {
		return "", "", err
	}
	idB, err := find(refB)
	return idA, idB, err
}

func resolvePlan(ctx context.Context, a *app.Context, projectID, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("plan is required")
	}
	if tp, err := a.Engine.GetPlan(ctx, ref); err == nil && tp.ProjectID == projectID {
		return tp.ID, nil
	}
	plans, err := a.Engine.ListPlans(ctx, projectID)
	if err != nil {
		return "", err
	}
	for _, tp := range plans {
		if strings.EqualFold(tp.Name, ref) {
			return tp.ID, nil
		}
	}
	return "", fmt.Errorf("plan %q: %w", ref, domain.ErrNotFound)
}

func resolveSuite(ctx context.Context, a *app.Context, projectID, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("suite is required")
	}
	if s, err := a.Engine.GetSuite(ctx, ref); err == nil && s.ProjectID == projectID {
		return s.ID, nil
	}
	suites, err := a.Engine.ListSuites(ctx, projectID)
	if err != nil {
		return "", err
	}
	for _, s := range suites {
		if strings.EqualFold(s.Name, ref) {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("suite %q: %w", ref, domain.ErrNotFound)
}

func printMemberships(members []domain.Membership) error {
	if viper.GetBool("json") {
		return printJSON(members)
	}
	tw := newTable("#", "Case", "Title")
	for _, m := range members {
		tw.AppendRow(table.Row{m.Order, m.Code, m.Title})
	}
	tw.Render()
	return nil
}

func printDiff(d assoc.Diff) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"added": nonNil(d.Added), "removed": nonNil(d.Removed)})
	}
	fmt.Printf("added %d, removed %d\n", len(d.Added), len(d.Removed))
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
