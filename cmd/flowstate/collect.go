package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/flowstate/internal/collector/gitlog"
	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/rejectlog"
)

func newCollectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a local collector",
	}
	cmd.AddCommand(newCollectGitCmd(a))
	return cmd
}

func newCollectGitCmd(a *app) *cobra.Command {
	var (
		repoPath string
		since    time.Duration
		dryRun   bool
		ignore   []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "git",
		Short: "Collect commits from a local git repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			collector, err := gitlog.New(repoPath,
				gitlog.WithIgnore(append(gitlog.DefaultIgnore, ignore...)),
				gitlog.WithMachine(a.cfg.Machine),
				gitlog.WithLimit(limit),
			)
			if err != nil {
				return err
			}

			records, err := collector.Collect(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}

			if dryRun {
				store, err := rejectlog.Open(a.cfg.RejectLogPath)
				if err != nil {
					return err
				}
				defer store.Close()

				assembler, err := a.assembler()
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.stdout)
				for _, raw := range records {
					result, err := classifyOne(ctx, assembler, raw, store)
					if err != nil {
						return err
					}
					if err := enc.Encode(result); err != nil {
						return err
					}
				}
				return nil
			}

			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			service, err := a.service(pool)
			if err != nil {
				return err
			}

			counts := map[domain.Outcome]int{}
			for _, raw := range records {
				res, err := service.Ingest(ctx, raw)
				if err != nil && res.Outcome != domain.OutcomeInvalid {
					return fmt.Errorf("ingest %s: %w", raw.ID, err)
				}
				counts[res.Outcome]++
			}
			fmt.Fprintf(a.stdout, "collected=%d created=%d replayed=%d rejected=%d invalid=%d\n",
				len(records), counts[domain.OutcomeCreated], counts[domain.OutcomeReplay],
				counts[domain.OutcomeRejected], counts[domain.OutcomeInvalid])
			return nil
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "path inside the git repository")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "collect commits newer than this")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print normalized records without writing to Postgres")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "extra doublestar globs; commits touching only ignored paths are skipped")
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum commits per run")
	return cmd
}
