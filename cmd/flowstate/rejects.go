package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/flowstate/internal/rejectlog"
)

func newRejectsCmd(a *app) *cobra.Command {
	var reason string
	var limit int
	cmd := &cobra.Command{
		Use:   "rejects",
		Short: "List records rejected by local classify and collect runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rejectlog.Open(a.cfg.RejectLogPath)
			if err != nil {
				return err
			}
			defer store.Close()

			rejects, err := store.List(cmd.Context(), reason, limit)
			if err != nil {
				return err
			}
			if len(rejects) == 0 {
				fmt.Fprintln(a.stdout, "no rejects")
				return nil
			}

			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REJECTED_AT\tKIND\tRAW_ID\tREASON\tDETAIL")
			for _, r := range rejects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RejectedAt.Format(time.RFC3339), r.RawKind, r.RawID, r.Reason, r.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "only show rejects with this reason")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rejects to show")
	return cmd
}
