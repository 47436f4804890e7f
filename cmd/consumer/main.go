package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/flowstate/internal/config"
	"example.com/flowstate/internal/consumer"
	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
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

	var tables normalize.TableSource = normalize.StaticTables(nil)
	if cfg.TablesPath != "" {
		watcher, err := normalize.NewTableWatcher(cfg.TablesPath)
		if err != nil {
			log.Fatalf("failed to load lookup tables: %v", err)
		}
		go func() { _ = watcher.Run(ctx) }()
		tables = watcher
	}

	assembler := normalize.NewAssembler(
		normalize.WithTables(tables),
		normalize.WithUserID(cfg.UserID),
		normalize.WithFallbackMachine(cfg.Machine),
	)
	service := domain.NewService(persistence.NewRepository(pool), assembler,
		domain.WithRejectLog(persistence.NewRejectLog(pool, cfg.UserID)))
	handler := consumer.NewIngestHandler(service, log.New(os.Stderr, "[ingest] ", log.LstdFlags))

	metricsSrv := httptransport.NewMetricsServer(cfg.MetricsAddress)
	log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
	metricsErr := httptransport.Serve(ctx, metricsSrv, 10*time.Second)

	var (
		wg       sync.WaitGroup
		exitCode int
	)
	failed := make(chan error, len(cfg.RawTopics))
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for _, topic := range cfg.RawTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("consumer started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("consumer stopped with error (topic=%s): %v", topic, err)
				failed <- err
			}
		}(topic, reader)
	}

	select {
	case <-stop:
		log.Println("consumer shutdown requested")
	case err := <-metricsErr:
		log.Printf("metrics server error: %v", err)
	case <-failed:
		// Uncommitted offsets are redelivered once the group rebalances.
		exitCode = 1
	}
	cancel()

	for err := range metricsErr {
		log.Printf("metrics server shutdown error: %v", err)
	}
	wg.Wait()
	if exitCode != 0 {
		pool.Close()
		os.Exit(exitCode)
	}
}
