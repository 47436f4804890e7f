package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/flowstate/internal/api"
	"example.com/flowstate/internal/auth"
	"example.com/flowstate/internal/config"
	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
	"example.com/flowstate/internal/outbox"
	persistence "example.com/flowstate/internal/persistence/postgres"
	httptransport "example.com/flowstate/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	tables, err := loadTables(ctx, cfg.TablesPath)
	if err != nil {
		log.Fatalf("failed to load lookup tables: %v", err)
	}

	repo := persistence.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	go dispatcher.Start(ctx)

	assembler := normalize.NewAssembler(
		normalize.WithTables(tables),
		normalize.WithUserID(cfg.UserID),
		normalize.WithFallbackMachine(cfg.Machine),
	)
	service := domain.NewService(repo, assembler, domain.WithRejectLog(persistence.NewRejectLog(pool, cfg.UserID)))

	handler := api.NewHandler(service, api.WithWebhookSecret(cfg.GitHubWebhookSecret))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	requestLog := log.New(os.Stderr, "[http] ", log.LstdFlags)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.RequestLogger(requestLog, httptransport.CORS(authMiddleware.Wrap(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("flowstate api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}

// loadTables returns the built-in tables, or a watcher over the override file
// that reloads it until ctx is cancelled.
func loadTables(ctx context.Context, path string) (normalize.TableSource, error) {
	if path == "" {
		return normalize.StaticTables(nil), nil
	}
	watcher, err := normalize.NewTableWatcher(path)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("table watcher stopped: %v", err)
		}
	}()
	return watcher, nil
}
