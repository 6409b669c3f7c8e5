package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func TestRun_WorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("decoder", up)
	c.Register("redis", PingCheck(pinger{err: errors.New("refused")}, true))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "refused", report.Components["redis"].Message)
	assert.NotEmpty(t, report.Components["decoder"].Latency)

	c.Register("postgres", PingCheck(pinger{err: errors.New("timeout")}, false))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
}

func TestPingCheck_NotConfigured(t *testing.T) {
	got := PingCheck(nil, true)(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "not configured", got.Message)

	got = PingCheck(pinger{}, false)(context.Background())
	assert.Equal(t, StatusUp, got.Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("decoder", up)
	c.Register("redis", PingCheck(nil, true))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("postgres", PingCheck(nil, false))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

type rules struct{ unary, binary int }

func (r rules) RuleCounts() (int, int) { return r.unary, r.binary }

func TestGrammarCheck(t *testing.T) {
	got := GrammarCheck(rules{unary: 2, binary: 40})(context.Background())
	assert.Equal(t, StatusUp, got.Status)
	assert.Equal(t, "2 unary, 40 binary rules", got.Message)

	got = GrammarCheck(rules{})(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
}

func TestReadyHandler_ReportsGrammar(t *testing.T) {
	c := NewChecker()
	c.SetGrammar("3f9a")
	c.Register("grammar", GrammarCheck(rules{unary: 1}))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUp, report.Status)
	assert.Equal(t, "3f9a", report.Grammar)
	assert.Equal(t, "1 unary, 0 binary rules", report.Components["grammar"].Message)
}

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusDegraded, worse(StatusUp, StatusDegraded))
	assert.Equal(t, StatusDown, worse(StatusDown, StatusDegraded))
	assert.Equal(t, StatusUp, worse(StatusUp, StatusUp))
	assert.Equal(t, StatusUp, NewChecker().Run(context.Background()).Status)
}
