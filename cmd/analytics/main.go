// Command analytics aggregates the parse events emitted by every parser and
// worker replica.
//
// It consumes the parse-events topic in a consumer group of its own, keeps
// outcome counts and latency percentiles in memory and serves them at
// GET /api/v1/analytics. With PostgreSQL available it also snapshots the
// aggregate every minute, restores it on start and serves
// GET /api/v1/analytics/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
)

const snapshotInterval = time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	stopMetrics := metrics.StartServer(cfg.Metrics)

	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	var snapshots analytics.SnapshotLister
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		checker.Register("postgres", health.PingCheck(nil, true))
	} else {
		defer db.Close()
		store := aggregator.NewStore(db)
		if err := store.RestoreInto(ctx, agg); err != nil {
			slog.Warn("could not restore analytics totals", "error", err)
		}
		snapshots = store
		go store.Run(ctx, agg, snapshotInterval)
		checker.Register("postgres", health.PingCheck(db, true))
	}

	// A group of its own so every event reaches this service regardless of
	// the other consumers of the topic.
	kafkaCfg := cfg.Kafka
	kafkaCfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-analytics"
	eventsConsumer := kafka.NewConsumer(kafkaCfg, cfg.Kafka.Topics.ParseEvents, analytics.HandleEvent(agg))
	go func() {
		if err := eventsConsumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started",
		"topic", cfg.Kafka.Topics.ParseEvents,
		"group", kafkaCfg.ConsumerGroup,
	)

	analyticsHandler := analytics.NewHandler(agg, snapshots)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", analyticsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.AccessLog(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.CORS(cfg.Server.AllowedOrigins)(chain)

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

	slog.Info("analytics service stopped")
}
