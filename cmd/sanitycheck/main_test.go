package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
)

func TestSplitGold(t *testing.T) {
	words, tags, err := splitGold("the|NP/N  cat|N sat|S\\NP")
	require.NoError(t, err)
	assert.Equal(t, []string{"the", "cat", "sat"}, words)
	assert.Equal(t, []string{"NP/N", "N", "S\\NP"}, tags)

	words, tags, err = splitGold("a|b|N")
	require.NoError(t, err)
	assert.Equal(t, []string{"a|b"}, words)
	assert.Equal(t, []string{"N"}, tags)

	for _, bad := range []string{"cat", "|N", "cat|"} {
		_, _, err := splitGold(bad)
		assert.Error(t, err, bad)
	}
}

func newDecoder(t *testing.T) *decoder.Decoder {
	t.Helper()
	dec, err := decoder.New(config.Default().Decoder, decoder.Grammar{
		Unary: []decoder.UnaryRule{{Initial: "N", Final: "NP", Name: "lex"}},
		Binary: []decoder.BinaryRule{
			{Left: "NP", Right: "VP", Results: []decoder.RuleResult{{Category: "S", Name: "ba"}}},
			{Left: "NP/N", Right: "N", Results: []decoder.RuleResult{{Category: "NP", Name: "fa"}}},
		},
		Vocabulary: map[int]string{0: "NP/N", 1: "N", 2: "VP"},
	})
	require.NoError(t, err)
	return dec
}

func TestRun(t *testing.T) {
	corpus := strings.Join([]string{
		"the|NP/N cat|N sat|VP",
		"",
		"cat|N the|NP/N",
		"broken",
		"cat|N sat|ADV",
	}, "\n")

	t.Run("sanity", func(t *testing.T) {
		var trace bytes.Buffer
		s, err := run(context.Background(), newDecoder(t), decoder.ModeSanity, strings.NewReader(corpus), &trace)
		require.NoError(t, err)
		assert.Equal(t, 4, s.total)
		assert.Equal(t, 1, s.parsed)
		assert.Equal(t, 2, s.noDerivation)
		assert.Equal(t, 1, s.skipped)
		assert.Contains(t, trace.String(), "# line 1: the cat sat")
		assert.Contains(t, trace.String(), "span[0][3] [S]")
	})

	t.Run("decode", func(t *testing.T) {
		s, err := run(context.Background(), newDecoder(t), decoder.ModeDecode, strings.NewReader(corpus), nil)
		require.NoError(t, err)
		assert.Equal(t, 4, s.total)
		assert.Equal(t, 1, s.parsed)
		assert.Equal(t, 1, s.noDerivation)
		// malformed line and out-of-vocabulary ADV
		assert.Equal(t, 2, s.skipped)
	})
}
