// Command indexer starts the chunking worker.
//
// It consumes ingest events, splits each document into overlapping token
// windows, replaces the document's chunks in PostgreSQL, and announces the
// result on the index-complete topic so searchers rebuild their snapshots.
// Only health and metrics endpoints are served over HTTP.
//
// Usage:
//
//	go run ./cmd/indexer [--config configs/development.yaml] [--port 8083]
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/postgres"
)

const (
	analyticsBatchSize     = 50
	analyticsFlushInterval = 2 * time.Second
)

func main() {
	flags := pflag.NewFlagSet("indexer", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config")
	port := flags.IntP("port", "p", 0, "health port (overrides server.port)")
	metricsPort := flags.Int("metrics-port", 0, "metrics port (overrides metrics.port)")
	_ = flags.Parse(os.Args[1:])

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort > 0 {
		cfg.Metrics.Port = *metricsPort
	}

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service",
		"chunk_size", cfg.Indexer.ChunkSize,
		"chunk_overlap", cfg.Indexer.ChunkOverlap,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	stopMetrics, err := metrics.StartServer(cfg.Metrics)
	if err != nil {
		slog.Error("failed to start metrics server", "error", err)
		os.Exit(1)
	}

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	docs := store.New(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	completeProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer completeProducer.Close()

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	batch := collector.NewBatchCollector(analyticsProducer, analyticsBatchSize, analyticsFlushInterval)
	batch.Start(ctx)

	ix := consumer.New(docs, completeProducer, batch, cfg.Indexer, m)
	group := cfg.Kafka.ConsumerGroup + "-indexer"
	ingestConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest,
		ix.HandleMessage(),
		kafka.WithGroupID(group),
		kafka.FromEarliest(),
		// Handle already retries storage and publish steps.
		kafka.WithHandlerAttempts(2),
	)
	defer ingestConsumer.Close()

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDown))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server error", "error", err)
		}
	}()

	slog.Info("indexer ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", group,
	)
	if err := ingestConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}
	stop()
	batch.Close()
	if err := stopMetrics(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}
	slog.Info("indexer service stopped")
}
