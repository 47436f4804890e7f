package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"example.com/flowstate/internal/config"
	persistence "example.com/flowstate/internal/persistence/postgres"
	"example.com/flowstate/internal/syncloop"
)

func newSyncCmd(a *app) *cobra.Command {
	var once bool
	var schedule string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync collector source tables into the activity log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			service, err := a.service(pool)
			if err != nil {
				return err
			}

			checkpoints, closeCheckpoints, err := a.checkpointStore(pool)
			if err != nil {
				return err
			}
			defer closeCheckpoints()

			loop := syncloop.NewLoop(service, checkpoints,
				[]syncloop.Source{persistence.NewMemorySource(pool), persistence.NewEmbeddingSource(pool)},
				syncloop.WithBatchSize(a.cfg.SyncBatchSize),
				syncloop.WithLogger(a.logger("[sync] ")),
			)

			if once {
				reports, err := loop.RunOnce(ctx)
				for _, r := range reports {
					fmt.Fprintf(a.stdout, "%s: fetched=%d synced=%d replayed=%d rejected=%d invalid=%d failed=%d\n",
						r.Source, r.Fetched, r.Synced, r.Replayed, r.Rejected, r.Invalid, r.Failed)
				}
				return err
			}

			scheduler, err := syncloop.NewScheduler(loop, schedule, timeout)
			if err != nil {
				return err
			}
			scheduler.Start(ctx)
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return scheduler.Stop(stopCtx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().StringVar(&schedule, "schedule", a.cfg.SyncSchedule, "cron spec for recurring passes")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "upper bound for a single pass")
	return cmd
}

func (a *app) checkpointStore(pool *pgxpool.Pool) (syncloop.CheckpointStore, func(), error) {
	switch a.cfg.SyncCheckpointBackend {
	case config.CheckpointBackendRedis:
		store, err := syncloop.NewRedisCheckpointStore(a.cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.CheckpointBackendPostgres, "":
		return persistence.NewCheckpointStore(pool), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", a.cfg.SyncCheckpointBackend)
	}
}
