// Command parser serves the CCG chart decoder over HTTP.
//
// It loads the instantiated rules and tag vocabulary, builds the decoder and
// exposes POST /api/v1/parse, /api/v1/parse/batch and /api/v1/sanity. Redis
// caches responses when reachable. Every request emits a parse event to
// Kafka for the analytics service.
//
// Usage:
//
//	go run ./cmd/parser [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/grammar"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/cache"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/handler"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting parser service", "port", cfg.Server.Port, "grammar_source", cfg.Grammar.Source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	stopMetrics := metrics.StartServer(cfg.Metrics)

	var (
		ruleSource grammar.RuleSource
		dbPinger   health.Pinger
	)
	if cfg.Grammar.Source == config.GrammarSourcePostgres {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("postgres is required for the grammar source", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		ruleSource = grammar.NewStore(db)
		dbPinger = db
	}
	dec, err := grammar.NewDecoder(ctx, cfg, ruleSource, m)
	if err != nil {
		slog.Error("failed to build decoder", "error", err)
		os.Exit(1)
	}

	var parseCache *cache.ParseCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, parse caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		parseCache = cache.New(redisClient, cfg.Redis, dec.Fingerprint(), m)
		slog.Info("parse cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ParseEvents)
	defer eventsProducer.Close()
	collector := analytics.NewCollector(eventsProducer, 10000, 100, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()

	service := parsing.NewService(dec, cfg.Parsing, m, collector)
	parseHandler := handler.New(service, parseCache, cfg.Parsing)

	checker := health.NewChecker()
	checker.SetGrammar(dec.Fingerprint())
	checker.Register("grammar", health.GrammarCheck(dec))
	if redisClient != nil {
		checker.Register("redis", redisCheck(redisClient))
	} else {
		checker.Register("redis", health.PingCheck(nil, true))
	}
	if dbPinger != nil {
		checker.Register("postgres", health.PingCheck(dbPinger, false))
	}

	mux := http.NewServeMux()
	parseHandler.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
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

	slog.Info("parser service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("parser service stopped")
}

func redisCheck(client *pkgredis.Client) health.Check {
	ping := health.PingCheck(client, true)
	return func(ctx context.Context) health.ComponentHealth {
		h := ping(ctx)
		if h.Status == health.StatusUp {
			total, idle := client.PoolStats()
			h.Message = fmt.Sprintf("%d connections, %d idle", total, idle)
		}
		return h
	}
}
