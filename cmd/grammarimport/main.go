// Command grammarimport copies the instantiated rule files named in the
// config into PostgreSQL, replacing whatever rules are stored there. The
// rules are compiled first so a malformed file never reaches the database.
//
// Usage:
//
//	go run ./cmd/grammarimport [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/grammar"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unary, err := grammar.LoadUnaryRules(cfg.Grammar.UnaryRulesPath)
	if err != nil {
		slog.Error("failed to load unary rules", "path", cfg.Grammar.UnaryRulesPath, "error", err)
		os.Exit(1)
	}
	binary, err := grammar.LoadBinaryRules(cfg.Grammar.BinaryRulesPath)
	if err != nil {
		slog.Error("failed to load binary rules", "path", cfg.Grammar.BinaryRulesPath, "error", err)
		os.Exit(1)
	}
	tables, err := decoder.NewRuleTables(unary, binary)
	if err != nil {
		slog.Error("rules do not compile", "error", err)
		os.Exit(1)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := grammar.NewStore(db).Replace(ctx, unary, binary); err != nil {
		slog.Error("failed to import rules", "error", err)
		os.Exit(1)
	}
	slog.Info("grammar imported",
		"unary_rules", tables.UnaryCount(),
		"binary_rules", tables.BinaryCount(),
	)
}
