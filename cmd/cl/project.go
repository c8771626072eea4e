package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				userID := ""
				if mine {
					userID = actorID()
				}
				items, err := a.Engine.Repo.ListProjects(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Manager", "Created")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.ManagerID, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only projects the actor is a member of")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project; the actor becomes its manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.CreateProject(ctx, engine.ProjectCreateOptions{Name: name, Description: desc, ActorID: actorID()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Created project %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Project overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				detail, err := a.Engine.ProjectDetail(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				c := detail.Counts
				tw := newTable("Project", "Requirements", "Cases", "Bugs (open)", "Plans", "Suites", "Runs")
				tw.AppendRow(table.Row{
					p.Name, c.Requirements, c.TestCases,
					fmt.Sprintf("%d (%d)", c.Bugs, c.OpenBugs()), c.TestPlans, c.TestSuites, c.TestRuns,
				})
				tw.Render()
				return nil
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rename or describe the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				updated, err := a.Engine.UpdateProject(ctx, engine.ProjectUpdateOptions{
					ID:          p.ID,
					Name:        optionalString(cmd, "name", name),
					Description: optionalString(cmd, "description", desc),
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the project and everything it owns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				deleted, err := a.Engine.DeleteProject(ctx, p.ID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deleted)
				}
				fmt.Printf("Deleted project %s\n", p.Name)
				return nil
			})
		},
	}
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage project members"}
	m.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				items, err := a.Engine.Repo.ListMembers(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("User", "Role", "Joined")
				for _, mem := range items {
					tw.AppendRow(table.Row{mem.UserID, mem.Role, mem.JoinedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "add <user> <editor|viewer>",
		Short: "Add member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				mem, err := a.Engine.AddMember(ctx, p.ID, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSON(mem)
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "role <user> <editor|viewer>",
		Short: "Change member role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				mem, err := a.Engine.SetMemberRole(ctx, p.ID, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSON(mem)
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "remove <user>",
		Short: "Remove member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				return a.Engine.RemoveMember(ctx, p.ID, args[0], actorID())
			})
		},
	})
	return m
}
