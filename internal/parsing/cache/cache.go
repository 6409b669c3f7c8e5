// Package cache stores parse responses in Redis, keyed by the sentence, its
// score table and the decoder fingerprint, and collapses concurrent decodes
// of the same request into one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/redis"
)

const keyPrefix = "parse:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type ParseCache struct {
	store       Store
	ttl         time.Duration
	fingerprint string
	group       singleflight.Group
	metrics     *metrics.Metrics
	logger      *slog.Logger
	hits        atomic.Int64
	misses      atomic.Int64
}

func New(store Store, cfg config.RedisConfig, fingerprint string, m *metrics.Metrics) *ParseCache {
	return &ParseCache{
		store:       store,
		ttl:         cfg.CacheTTL,
		fingerprint: fingerprint,
		metrics:     m,
		logger:      slog.Default().With("component", "parse-cache"),
	}
}

func (c *ParseCache) Get(ctx context.Context, req parsing.ParseRequest) (*parsing.ParseResponse, bool) {
	key := c.Key(req)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp parsing.ParseResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.ObserveCache(true)
	resp.Cached = true
	return &resp, true
}

// Set stores parsed and no_derivation responses only.
func (c *ParseCache) Set(ctx context.Context, req parsing.ParseRequest, resp *parsing.ParseResponse) {
	if resp.Status != "parsed" && resp.Status != "no_derivation" {
		return
	}
	key := c.Key(req)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response or runs computeFn once per key
// among concurrent callers. The bool reports a cache hit.
func (c *ParseCache) GetOrCompute(
	ctx context.Context,
	req parsing.ParseRequest,
	computeFn func() (*parsing.ParseResponse, error),
) (*parsing.ParseResponse, bool, error) {
	if resp, ok := c.Get(ctx, req); ok {
		return resp, true, nil
	}
	key := c.Key(req)
	val, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	// shared between singleflight callers
	resp := *val.(*parsing.ParseResponse)
	return &resp, false, nil
}

// Invalidate drops every cached response, whatever its fingerprint.
func (c *ParseCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("invalidating parse cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *ParseCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key hashes the fingerprint, the tokens and the exact bits of every score.
func (c *ParseCache) Key(req parsing.ParseRequest) string {
	h := sha256.New()
	h.Write([]byte(c.fingerprint))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(req.Sentence)))
	h.Write(buf[:])
	for _, tok := range req.Sentence {
		binary.BigEndian.PutUint64(buf[:], uint64(len(tok)))
		h.Write(buf[:])
		h.Write([]byte(tok))
	}
	for _, row := range req.Scores {
		binary.BigEndian.PutUint64(buf[:], uint64(len(row)))
		h.Write(buf[:])
		for _, p := range row {
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(p))
			h.Write(buf[:])
		}
	}
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:16])
}

func (c *ParseCache) miss() {
	c.misses.Add(1)
	c.metrics.ObserveCache(false)
}
