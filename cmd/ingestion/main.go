// Command ingestion starts the document ingestion service.
//
// It accepts plain-text documents over HTTP, records them in PostgreSQL, and
// publishes an ingest event so the indexer can chunk and store them:
//
//	POST /api/v1/documents                     upload a document
//	GET  /api/v1/documents/{id}                document metadata and status
//	POST /api/v1/documents/{id}/index          queue a re-index
//	GET  /api/v1/documents/{id}/index/status   index readiness
//
// Usage:
//
//	go run ./cmd/ingestion [--config configs/development.yaml] [--port 8081]
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

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/postgres"
)

func main() {
	flags := pflag.NewFlagSet("ingestion", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config")
	port := flags.IntP("port", "p", 0, "HTTP port (overrides server.port)")
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

	logger.Setup("ingestion", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

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

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()

	pub := publisher.New(docs, producer)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDown))

	mux := http.NewServeMux()
	handler.New(pub).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if err := stopMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}()

	slog.Info("ingestion service listening", "addr", server.Addr, "topic", cfg.Kafka.Topics.DocumentIngest)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
