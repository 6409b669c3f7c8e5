//go:build integration

// Run with:
//
//	go test -v -tags=integration ./internal/parsing/store/...
package store

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	port, err := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	require.NoError(t, err)
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "ccgparser_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "ccgparser"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.DB.Exec(`CREATE TABLE IF NOT EXISTS parse_results (
		batch_id    TEXT NOT NULL,
		position    INT NOT NULL,
		tokens      TEXT[] NOT NULL,
		status      TEXT NOT NULL,
		category    TEXT,
		score       DOUBLE PRECISION,
		tree        TEXT,
		elapsed_ms  BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (batch_id, position)
	)`)
	require.NoError(t, err)
	return db
}

func TestResultStore_SaveBatch(t *testing.T) {
	db := skipIfNoPostgres(t)
	s := New(db, 5*time.Second, nil)
	ctx := context.Background()
	batchID := uuid.NewString()

	reqs := []parsing.ParseRequest{
		{Sentence: []string{"the", "cat", "sat"}},
		{Sentence: []string{"cat", "the"}},
	}
	results := []parsing.ParseResponse{
		{Status: "parsed", Best: &parsing.Derivation{Category: "S", Score: -0.5, Tree: "(S ...)"}, ElapsedMs: 3},
		{Status: "no_derivation", ElapsedMs: 1},
	}
	require.NoError(t, s.SaveBatch(ctx, batchID, reqs, results))
	// redelivered batches are ignored
	require.NoError(t, s.SaveBatch(ctx, batchID, reqs, results))

	rows, err := db.DB.QueryContext(ctx,
		`SELECT tokens, status, category FROM parse_results WHERE batch_id = $1 ORDER BY position`, batchID)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var tokens []string
		var status string
		var category *string
		require.NoError(t, rows.Scan(pq.Array(&tokens), &status, &category))
		got = append(got, status)
		if status == "parsed" {
			assert.Equal(t, []string{"the", "cat", "sat"}, tokens)
			require.NotNil(t, category)
			assert.Equal(t, "S", *category)
		} else {
			assert.Nil(t, category)
		}
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"parsed", "no_derivation"}, got)
}
