package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"example.com/flowstate/internal/config"
	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
	persistence "example.com/flowstate/internal/persistence/postgres"
)

// app carries configuration and streams shared by every subcommand so tests
// can run commands without touching the process environment.
type app struct {
	cfg    config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	tablesPath string
}

func newApp() *app {
	return &app{
		cfg:    config.Load(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "flowstate",
		Short:         "flowstate - normalize and sync developer activity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.tablesPath, "tables", a.cfg.TablesPath, "YAML file overriding the lookup tables")

	root.AddCommand(
		newClassifyCmd(a),
		newSyncCmd(a),
		newCollectCmd(a),
		newProjectsCmd(a),
		newRejectsCmd(a),
	)
	return root
}

func main() {
	a := newApp()
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(a.stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) logger(prefix string) *log.Logger {
	return log.New(a.stderr, prefix, log.LstdFlags)
}

func (a *app) tables() (normalize.TableSource, error) {
	if a.tablesPath == "" {
		return normalize.StaticTables(nil), nil
	}
	t, err := normalize.LoadTables(a.tablesPath)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	return normalize.StaticTables(t), nil
}

func (a *app) assembler() (*normalize.Assembler, error) {
	tables, err := a.tables()
	if err != nil {
		return nil, err
	}
	return normalize.NewAssembler(
		normalize.WithTables(tables),
		normalize.WithUserID(a.cfg.UserID),
		normalize.WithFallbackMachine(a.cfg.Machine),
	), nil
}

func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, a.cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// service wires the activity service against Postgres, rejects included.
func (a *app) service(pool *pgxpool.Pool) (*domain.Service, error) {
	assembler, err := a.assembler()
	if err != nil {
		return nil, err
	}
	return domain.NewService(persistence.NewRepository(pool), assembler,
		domain.WithRejectLog(persistence.NewRejectLog(pool, a.cfg.UserID)),
		domain.WithLogger(a.logger("[ingest] ")),
	), nil
}
