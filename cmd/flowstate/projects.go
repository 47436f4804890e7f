package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"example.com/flowstate/internal/domain"
	persistence "example.com/flowstate/internal/persistence/postgres"
)

func newProjectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Maintain project names in the activity log",
	}
	cmd.AddCommand(newProjectsNormalizeCmd(a))
	return cmd
}

func newProjectsNormalizeCmd(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Merge project names that differ only in spelling into their canonical form",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			tables, err := a.tables()
			if err != nil {
				return err
			}
			normalizer := domain.NewProjectNormalizer(persistence.NewRepository(pool), tables)
			return a.normalizeProjects(cmd, normalizer, apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "perform the renames instead of printing the plan")
	return cmd
}

func (a *app) normalizeProjects(cmd *cobra.Command, normalizer *domain.ProjectNormalizer, apply bool) error {
	renames, invalid, err := normalizer.Plan(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FROM\tTO\tACTIVITIES")
	for _, r := range renames {
		fmt.Fprintf(w, "%s\t%s\t%d\n", r.From, r.To, r.Activities)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, p := range invalid {
		fmt.Fprintf(a.stdout, "not a project: %q (%d activities)\n", p.ProjectName, p.Activities)
	}

	if !apply {
		if len(renames) > 0 {
			fmt.Fprintln(a.stdout, "dry run; pass --apply to rename")
		}
		return nil
	}

	applied, err := normalizer.Apply(cmd.Context(), renames)
	for _, r := range applied {
		fmt.Fprintf(a.stdout, "renamed %q -> %q (%d rows)\n", r.From, r.To, r.Updated)
	}
	return err
}
