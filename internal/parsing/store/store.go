// Package store persists parse results to PostgreSQL behind a circuit
// breaker.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/resilience"
)

const breakerName = "parse-results"

// ResultStore writes one row per sentence of a batch:
//
//	CREATE TABLE parse_results (
//	    batch_id    TEXT NOT NULL,
//	    position    INT NOT NULL,
//	    tokens      TEXT[] NOT NULL,
//	    status      TEXT NOT NULL,
//	    category    TEXT,
//	    score       DOUBLE PRECISION,
//	    tree        TEXT,
//	    elapsed_ms  BIGINT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (batch_id, position)
//	);
type ResultStore struct {
	db      *postgres.Client
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(db *postgres.Client, timeout time.Duration, m *metrics.Metrics) *ResultStore {
	breaker := resilience.NewCircuitBreaker(breakerName, resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			m.ObserveBreaker(name, int(to))
		},
	})
	return &ResultStore{
		db:      db,
		breaker: breaker,
		timeout: timeout,
		metrics: m,
		logger:  slog.Default().With("component", "result-store"),
	}
}

// SaveBatch stores results in one transaction. A batch that was already
// stored, as happens when Kafka redelivers a request, is left untouched.
func (s *ResultStore) SaveBatch(ctx context.Context, batchID string, reqs []parsing.ParseRequest, results []parsing.ParseResponse) error {
	if len(reqs) != len(results) {
		return fmt.Errorf("batch %s: %d requests but %d results", batchID, len(reqs), len(results))
	}
	duplicate := false
	err := s.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, s.timeout, "save-parse-results", func(ctx context.Context) error {
			err := s.db.InTx(ctx, func(tx *sql.Tx) error {
				return insertResults(ctx, tx, batchID, reqs, results)
			})
			if postgres.IsUniqueViolation(err) {
				duplicate = true
				return nil
			}
			return err
		})
	})
	if err != nil {
		var deadline *resilience.DeadlineError
		if errors.As(err, &deadline) {
			s.logger.Warn("parse result insert timed out", "batch_id", batchID, "limit", deadline.Limit)
		}
		return fmt.Errorf("saving parse results of batch %s: %w", batchID, err)
	}
	if duplicate {
		s.logger.Info("parse results already stored", "batch_id", batchID)
		return nil
	}
	for status, n := range countByStatus(results) {
		s.metrics.ObservePersisted(status, n)
	}
	s.logger.Debug("parse results stored", "batch_id", batchID, "sentences", len(results))
	return nil
}

func insertResults(ctx context.Context, tx *sql.Tx, batchID string, reqs []parsing.ParseRequest, results []parsing.ParseResponse) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO parse_results (batch_id, position, tokens, status, category, score, tree, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("preparing parse result insert: %w", err)
	}
	defer stmt.Close()

	for i, res := range results {
		var category, tree sql.NullString
		var score sql.NullFloat64
		if res.Best != nil {
			category = sql.NullString{String: res.Best.Category, Valid: true}
			tree = sql.NullString{String: res.Best.Tree, Valid: true}
			score = sql.NullFloat64{Float64: res.Best.Score, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			batchID, i, pq.Array(reqs[i].Sentence), res.Status, category, score, tree, res.ElapsedMs,
		); err != nil {
			return fmt.Errorf("inserting result %d: %w", i, err)
		}
	}
	return nil
}

func countByStatus(results []parsing.ParseResponse) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
