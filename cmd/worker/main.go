// Command worker decodes batches of sentences from the parse-requests topic
// and publishes one result event per batch to the parse-results topic.
// Results are also written to PostgreSQL when parsing.persistResults is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/grammar"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/consumer"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/store"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/validator"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/resilience"
)

const storeTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting parse worker",
		"workers", cfg.Decoder.Workers,
		"persist_results", cfg.Parsing.PersistResults,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	stopMetrics := metrics.StartServer(cfg.Metrics)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := stopMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}()

	var db *postgres.Client
	if cfg.Parsing.PersistResults || cfg.Grammar.Source == config.GrammarSourcePostgres {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var ruleSource grammar.RuleSource
	if db != nil {
		ruleSource = grammar.NewStore(db)
	}
	dec, err := grammar.NewDecoder(ctx, cfg, ruleSource, m)
	if err != nil {
		slog.Error("failed to build decoder", "error", err)
		os.Exit(1)
	}

	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ParseEvents)
	defer eventsProducer.Close()
	collector := analytics.NewCollector(eventsProducer, 10000, 100, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()

	resultsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ParseResults)
	defer resultsProducer.Close()

	service := parsing.NewService(dec, cfg.Parsing, m, collector)

	opts := consumer.Options{
		Limits: validator.Limits{
			MaxTokens:      cfg.Parsing.MaxTokens,
			MaxBatchSize:   cfg.Parsing.MaxBatchSize,
			VocabularySize: service.VocabularySize(),
		},
		Retry:   resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond},
		Metrics: m,
	}
	if db != nil && cfg.Parsing.PersistResults {
		opts.Store = store.New(db, storeTimeout, m)
	}

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.ParseRequests,
		consumer.HandleMessage(service, resultsProducer, opts),
	)
	parseConsumer := consumer.New(kafkaConsumer)

	slog.Info("parse worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.ParseRequests,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := parseConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("parse worker stopped")
}
