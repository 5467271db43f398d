// Command gateway starts the API gateway, the single entry point for
// clients. It applies CORS and per-client rate limiting and proxies each
// route to the ingestion, search or analytics service.
//
// Usage:
//
//	go run ./cmd/gateway [--config configs/development.yaml] [--port 8080]
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

	gwhandler "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/metrics"
)

func main() {
	flags := pflag.NewFlagSet("gateway", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config")
	port := flags.IntP("port", "p", 0, "HTTP port (overrides gateway.port)")
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
		cfg.Gateway.Port = *port
	}
	if *metricsPort > 0 {
		cfg.Metrics.Port = *metricsPort
	}

	logger.Setup("gateway", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"ingestion_url", cfg.Gateway.IngestionURL,
		"searcher_url", cfg.Gateway.SearcherURL,
		"analytics_url", cfg.Gateway.AnalyticsURL,
		"requests_per_minute", cfg.Gateway.RequestsPerMinute,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	stopMetrics, err := metrics.StartServer(cfg.Metrics)
	if err != nil {
		slog.Error("failed to start metrics server", "error", err)
		os.Exit(1)
	}

	h, err := gwhandler.New(gwhandler.Config{
		IngestionURL: cfg.Gateway.IngestionURL,
		SearcherURL:  cfg.Gateway.SearcherURL,
		AnalyticsURL: cfg.Gateway.AnalyticsURL,
	})
	if err != nil {
		slog.Error("invalid gateway configuration", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	h.RegisterChecks(checker)

	limiter := ratelimit.New(cfg.Gateway.RequestsPerMinute, time.Minute)
	limiter.StartCleanup(ctx, 5*time.Minute)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      router.New(h, checker, limiter, gwmw.DefaultCORSConfig(cfg.Gateway.AllowOrigins), m),
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

	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway service stopped")
}
