// Command analytics starts the standalone analytics aggregation service.
//
// It consumes question and indexing events from Kafka, aggregates them in
// memory, and periodically persists the totals to PostgreSQL so a restart
// resumes from the last snapshot:
//
//	GET /api/v1/analytics             live statistics
//	GET /api/v1/analytics/snapshots   persisted history (?limit=, newest first)
//
// Usage:
//
//	go run ./cmd/analytics [--config configs/development.yaml] [--port 8084]
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

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/postgres"
)

func main() {
	flags := pflag.NewFlagSet("analytics", pflag.ExitOnError)
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

	logger.Setup("analytics", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service",
		"port", cfg.Server.Port,
		"snapshot_interval", cfg.Analytics.SnapshotInterval,
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

	history := aggregator.NewStore(db, cfg.Analytics.SnapshotRetention)
	if err := history.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply analytics schema", "error", err)
		os.Exit(1)
	}

	agg := analytics.NewAggregator()
	prev, err := history.LatestSnapshot(ctx)
	switch {
	case err != nil:
		slog.Warn("could not load previous snapshot, starting from zero", "error", err)
	case prev != nil:
		agg.Restore(*prev)
		slog.Info("restored analytics totals", "captured_at", prev.CapturedAt, "total_questions", prev.TotalQuestions)
	}
	saved := history.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)

	eventConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents,
		analytics.HandleEvent(agg),
		kafka.WithGroupID(cfg.Kafka.ConsumerGroup+"-analytics"),
	)
	go func() {
		if err := eventConsumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	h := analytics.NewHandler(agg, history)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-saved
	slog.Info("analytics service stopped")
}
