package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Decoder.TopK)
	assert.Equal(t, 4*time.Second, cfg.Decoder.Timeout)
	assert.True(t, cfg.Decoder.SupertaggingPruning)
	assert.InDelta(t, 1e-5, cfg.Decoder.Beta, 1e-12)
	assert.False(t, cfg.Decoder.CategoryFiltering)
	assert.Equal(t, PruningMultiplicative, cfg.Decoder.PruningRule)
	assert.Equal(t, 600, cfg.Server.RateLimit)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yml := `
decoder:
  beamWidth: 32
  topK: 5
  timeout: 1500ms
  pruningRule: additive
grammar:
  source: postgres
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("CCG_DECODER_TOP_K", "7")
	t.Setenv("CCG_SERVER_RATE_LIMIT", "0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Decoder.BeamWidth)
	assert.Equal(t, 7, cfg.Decoder.TopK)
	assert.Equal(t, 1500*time.Millisecond, cfg.Decoder.Timeout)
	assert.Equal(t, PruningAdditive, cfg.Decoder.PruningRule)
	assert.Equal(t, GrammarSourcePostgres, cfg.Grammar.Source)
	// untouched sections keep defaults
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Zero(t, cfg.Server.RateLimit)
}

func TestLoad_RejectsInvalidDecoder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("decoder:\n  beamWidth: 0\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beamWidth")
}

func TestDecoderConfig_Validate(t *testing.T) {
	d := Default().Decoder
	require.NoError(t, d.Validate())

	d.PruningRule = "exponential"
	d.TopK = 0
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pruningRule")
	assert.Contains(t, err.Error(), "topK")
}

func TestPostgresDSN(t *testing.T) {
	p := Default().Postgres
	assert.Equal(t,
		"host=localhost port=5432 user=ccgparser password=localdev dbname=ccgparser sslmode=disable",
		p.DSN())
}
