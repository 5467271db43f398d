// Command searcher starts the document QA service.
//
// It keeps one immutable BM25 index per document in memory, built on demand
// from the chunks stored in PostgreSQL, and answers questions over HTTP:
//
//	POST /api/v1/qa/ask              extractive answer from the top-ranked chunks
//	GET  /api/v1/search              raw ranked chunk list
//	GET  /api/v1/cache/stats         result-cache counters
//	POST /api/v1/cache/invalidate    drop cached results (optionally ?doc_id=)
//	GET  /api/v1/analytics           live question statistics
//
// Index-complete events from the indexer trigger a rebuild of the affected
// document. Ranked results are cached in Redis when it is reachable.
//
// Usage:
//
//	go run ./cmd/searcher [--config configs/development.yaml] [--port 8082]
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
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/refresher"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/redis"
)

func main() {
	flags := pflag.NewFlagSet("searcher", pflag.ExitOnError)
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

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"k1", cfg.Search.K1,
		"b", cfg.Search.B,
		"default_top_n", cfg.Search.DefaultTopN,
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
	engine := indexer.NewEngine(docs, m)

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	params := ranker.Params{K1: cfg.Search.K1, B: cfg.Search.B}
	if err := params.Validate(); err != nil {
		slog.Error("invalid ranking parameters", "error", err)
		os.Exit(1)
	}
	rank := retriever.New(ranker.NewScorer(params), retriever.WithParallelThreshold(cfg.Search.ParallelThreshold))

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, cfg.Analytics.BufferSize)
	collector.Start(ctx)
	defer collector.Close()

	// every replica must see every refresh, so each host gets its own group
	host, _ := os.Hostname()
	refreshGroup := fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, host)
	var invalidator refresher.Invalidator
	if queryCache != nil {
		invalidator = queryCache
	}
	refreshConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete,
		refresher.New(engine, invalidator).HandleMessage(),
		kafka.WithGroupID(refreshGroup),
	)
	go func() {
		if err := refreshConsumer.Start(ctx); err != nil {
			slog.Error("refresh consumer error", "error", err)
		}
	}()
	slog.Info("index refresh consumer started", "topic", cfg.Kafka.Topics.IndexComplete, "group", refreshGroup)

	aggregator := analytics.NewAggregator()
	analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents,
		analytics.HandleEvent(aggregator),
		kafka.WithGroupID(fmt.Sprintf("%s-searcher-analytics-%s", cfg.Kafka.ConsumerGroup, host)),
	)
	go func() {
		if err := analyticsConsumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	analyticsHandler := analytics.NewHandler(aggregator, nil)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDown))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.PingCheck(redisClient.Ping, health.StatusDegraded)(ctx)
	})
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents published", engine.DocumentCount()),
		}
	})

	h := handler.New(engine, rank, queryCache, collector, cfg.Search, m)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/qa/ask", h.Ask)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
