// Package aggregator snapshots the analytics aggregator's stats into
// PostgreSQL on an interval so totals survive restarts of the parser.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
)

// Store persists aggregated parse statistics.
//
// It requires an `analytics_snapshots` table:
//
//	CREATE TABLE analytics_snapshots (
//	    id          BIGSERIAL PRIMARY KEY,
//	    data        JSONB NOT NULL,
//	    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding analytics snapshot: %w", err)
	}
	if _, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("inserting analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved",
		"total_sentences", stats.TotalSentences,
		"parsed", stats.ByStatus["parsed"],
	)
	return nil
}

// LatestSnapshot returns nil, nil before the first snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("querying latest analytics snapshot: %w", err)
	}
	stats, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListSnapshots implements analytics.SnapshotLister. Corrupt rows are
// skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing analytics snapshots: %w", err)
	}
	defer rows.Close()

	var out []analytics.AggregatedStats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning analytics snapshot: %w", err)
		}
		stats, err := decodeSnapshot(data)
		if err != nil {
			s.logger.Warn("skipping corrupt analytics snapshot", "error", err)
			continue
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

// RestoreInto seeds agg from the latest snapshot, if there is one. Call it
// before agg starts receiving events.
func (s *Store) RestoreInto(ctx context.Context, agg *analytics.Aggregator) error {
	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if latest != nil {
		agg.Restore(*latest)
		s.logger.Info("analytics totals restored", "total_sentences", latest.TotalSentences)
	}
	return nil
}

// Run saves a snapshot of agg every interval and once more when ctx ends.
// It blocks until then.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic analytics snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
				s.logger.Error("final analytics snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}

func decodeSnapshot(data []byte) (analytics.AggregatedStats, error) {
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return stats, fmt.Errorf("decoding analytics snapshot: %w", err)
	}
	return stats, nil
}
