package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/exchange"
)

func exportCmd() *cobra.Command {
	var out string
	var csv bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the project as JSON, or its test cases as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, func(ctx context.Context, a *app.Context, p domain.Project) error {
				return writeOutput(out, func(w io.Writer) error {
					if csv {
						return a.Engine.ExportCasesCSV(ctx, w, p.ID)
					}
					doc, err := a.Engine.ExportProject(ctx, p.ID)
					if err != nil {
						return err
					}
					return exchange.Encode(w, doc)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&csv, "csv", false, "export test cases as CSV")
	return cmd
}

func importCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a project from an exported JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := exchange.Decode(f)
			if err != nil {
				return err
			}
			if name != "" {
				doc.Name = name
			}
			return withApp(cmd, func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.ImportProject(ctx, doc, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Imported project %s (%s): %d requirements, %d cases, %d bugs\n",
					p.Name, p.ID, len(doc.Requirements), len(doc.TestCases), len(doc.Bugs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "override the project name")
	return cmd
}
