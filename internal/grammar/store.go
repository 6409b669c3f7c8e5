package grammar

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	apperrors "github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
)

// Store keeps instantiated rules in PostgreSQL.
//
// It requires two tables:
//
//	CREATE TABLE unary_rules (
//	    id          BIGSERIAL PRIMARY KEY,
//	    initial_cat TEXT NOT NULL,
//	    final_cat   TEXT NOT NULL,
//	    rule_name   TEXT NOT NULL
//	);
//	CREATE TABLE binary_rules (
//	    id          BIGSERIAL PRIMARY KEY,
//	    left_cat    TEXT NOT NULL,
//	    right_cat   TEXT NOT NULL,
//	    result_cats TEXT[] NOT NULL DEFAULT '{}',
//	    rule_names  TEXT[] NOT NULL DEFAULT '{}'
//	);
//
// Rows are read back in id order so rule order survives a round trip.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "grammar-store"),
	}
}

func (s *Store) UnaryRules(ctx context.Context) ([]decoder.UnaryRule, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT initial_cat, final_cat, rule_name FROM unary_rules ORDER BY id`)
	if err != nil {
		return nil, storeError("querying unary rules", err)
	}
	defer rows.Close()

	var rules []decoder.UnaryRule
	for rows.Next() {
		var r decoder.UnaryRule
		if err := rows.Scan(&r.Initial, &r.Final, &r.Name); err != nil {
			return nil, fmt.Errorf("scanning unary rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unary rules: %w", err)
	}
	return rules, nil
}

func (s *Store) BinaryRules(ctx context.Context) ([]decoder.BinaryRule, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT left_cat, right_cat, result_cats, rule_names FROM binary_rules ORDER BY id`)
	if err != nil {
		return nil, storeError("querying binary rules", err)
	}
	defer rows.Close()

	var rules []decoder.BinaryRule
	for rows.Next() {
		var (
			r       decoder.BinaryRule
			results []string
			names   []string
		)
		if err := rows.Scan(&r.Left, &r.Right, pq.Array(&results), pq.Array(&names)); err != nil {
			return nil, fmt.Errorf("scanning binary rule: %w", err)
		}
		if len(results) != len(names) {
			return nil, fmt.Errorf("binary rule %s %s: %d results but %d rule names: %w",
				r.Left, r.Right, len(results), len(names), apperrors.ErrMalformedGrammar)
		}
		r.Results = zipResults(results, names)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating binary rules: %w", err)
	}
	return rules, nil
}

// Replace swaps the stored rules for the given ones in one transaction.
func (s *Store) Replace(ctx context.Context, unary []decoder.UnaryRule, binary []decoder.BinaryRule) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unary_rules`); err != nil {
			return fmt.Errorf("clearing unary rules: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM binary_rules`); err != nil {
			return fmt.Errorf("clearing binary rules: %w", err)
		}
		for _, r := range unary {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unary_rules (initial_cat, final_cat, rule_name) VALUES ($1, $2, $3)`,
				r.Initial, r.Final, r.Name,
			); err != nil {
				return fmt.Errorf("inserting unary rule %s => %s: %w", r.Initial, r.Final, err)
			}
		}
		for _, r := range binary {
			results, names := unzipResults(r.Results)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO binary_rules (left_cat, right_cat, result_cats, rule_names) VALUES ($1, $2, $3, $4)`,
				r.Left, r.Right, pq.Array(results), pq.Array(names),
			); err != nil {
				return fmt.Errorf("inserting binary rule %s %s: %w", r.Left, r.Right, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("grammar rules replaced", "unary", len(unary), "binary", len(binary))
	return nil
}

func zipResults(cats, names []string) []decoder.RuleResult {
	out := make([]decoder.RuleResult, len(cats))
	for i := range cats {
		out[i] = decoder.RuleResult{Category: cats[i], Name: names[i]}
	}
	return out
}

func unzipResults(results []decoder.RuleResult) (cats, names []string) {
	cats = make([]string, len(results))
	names = make([]string, len(results))
	for i, r := range results {
		cats[i] = r.Category
		names[i] = r.Name
	}
	return cats, names
}

func storeError(op string, err error) error {
	if postgres.IsUndefinedTable(err) {
		return fmt.Errorf("%s: %v: %w", op, err, apperrors.ErrGrammarNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
