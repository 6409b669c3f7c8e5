package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/cache"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
)

var vocabulary = map[int]string{0: "NP/N", 1: "N", 2: "VP"}

func newService(t *testing.T) *parsing.Service {
	t.Helper()
	g := decoder.Grammar{
		Unary: []decoder.UnaryRule{{Initial: "N", Final: "NP", Name: "lex"}},
		Binary: []decoder.BinaryRule{
			{Left: "NP", Right: "VP", Results: []decoder.RuleResult{{Category: "S", Name: "ba"}}},
			{Left: "NP/N", Right: "N", Results: []decoder.RuleResult{{Category: "NP", Name: "fa"}}},
		},
		Vocabulary: vocabulary,
	}
	dec, err := decoder.New(config.Default().Decoder, g)
	require.NoError(t, err)
	return parsing.NewService(dec, config.Default().Parsing, nil, nil)
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, redis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) FlushByPattern(_ context.Context, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string][]byte{}
	return n, nil
}

func newServer(t *testing.T, withCache bool) http.Handler {
	t.Helper()
	svc := newService(t)
	var pc *cache.ParseCache
	if withCache {
		pc = cache.New(&memoryStore{data: map[string][]byte{}}, config.RedisConfig{CacheTTL: time.Minute}, svc.Fingerprint(), nil)
	}
	cfg := config.Default().Parsing
	cfg.MaxBatchSize = 2
	mux := http.NewServeMux()
	New(svc, pc, cfg).Register(mux)
	return mux
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, &buf))
	return rec
}

func theCatSat() parsing.ParseRequest {
	return parsing.ParseRequest{
		Sentence: []string{"the", "cat", "sat"},
		Scores:   [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

func TestParse(t *testing.T) {
	srv := newServer(t, true)

	rec := post(t, srv, "/api/v1/parse", theCatSat())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp parsing.ParseResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "parsed", resp.Status)
	require.NotNil(t, resp.Best)
	assert.Equal(t, "S", resp.Best.Category)
	assert.False(t, resp.Cached)

	rec = post(t, srv, "/api/v1/parse", theCatSat())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Cached)
}

func TestParse_BadRequests(t *testing.T) {
	srv := newServer(t, false)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, srv, "/api/v1/parse", parsing.ParseRequest{Sentence: []string{"cat"}, Scores: [][]float64{{1}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Contains(t, body.Fields, "scores[0]")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/parse", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseBatch(t *testing.T) {
	srv := newServer(t, false)

	rec := post(t, srv, "/api/v1/parse/batch", parsing.BatchParseRequest{Sentences: []parsing.ParseRequest{
		theCatSat(),
		{Sentence: []string{"cat", "the"}, Scores: [][]float64{{0, 1, 0}, {1, 0, 0}}},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp parsing.BatchParseResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "parsed", resp.Results[0].Status)
	assert.Equal(t, "no_derivation", resp.Results[1].Status)

	rec = post(t, srv, "/api/v1/parse/batch", parsing.BatchParseRequest{Sentences: []parsing.ParseRequest{
		theCatSat(), theCatSat(), theCatSat(),
	}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSanity(t *testing.T) {
	srv := newServer(t, false)

	rec := post(t, srv, "/api/v1/sanity", parsing.SanityRequest{
		Sentence:  []string{"the", "cat", "sat"},
		Supertags: []string{"NP/N", "N", "VP"},
		Mode:      "sanity",
		Trace:     true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp parsing.SanityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "parsed", resp.Status)
	assert.Len(t, resp.Trace, 6)

	rec = post(t, srv, "/api/v1/sanity", parsing.SanityRequest{
		Sentence:  []string{"cat"},
		Supertags: []string{"N/"},
		Mode:      "sanity",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, srv, "/api/v1/sanity", parsing.SanityRequest{Sentence: []string{"cat"}, Mode: "train"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newServer(t, false)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "disabled")

		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		srv := newServer(t, true)
		post(t, srv, "/api/v1/parse", theCatSat())
		post(t, srv, "/api/v1/parse", theCatSat())

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var stats map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
		assert.Equal(t, 1.0, stats["hits"])
		assert.Equal(t, 1.0, stats["misses"])
		assert.Equal(t, "50.0%", stats["hit_rate"])

		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"keys_deleted":1`)
	})
}
