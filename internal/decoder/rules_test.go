package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
)

func TestRuleTables(t *testing.T) {
	tables, err := NewRuleTables(
		[]UnaryRule{
			{Initial: "N", Final: "NP", Name: "lex"},
			{Initial: "N", Final: `S/(S\NP)`, Name: "tr"},
		},
		[]BinaryRule{
			{Left: "NP", Right: `S\NP`, Results: []RuleResult{{Category: "S", Name: "ba"}}},
			{Left: "(NP)", Right: `(S\NP)`, Results: []RuleResult{{Category: "S[dcl]", Name: "ba"}}},
			{Left: "conj", Right: "NP"},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, tables.UnaryCount())
	assert.Equal(t, 2, tables.BinaryCount())

	unary := tables.Unary(ccg.MustParse("N"))
	require.Len(t, unary, 2)
	assert.Equal(t, RuleEntry{Category: ccg.MustParse("NP"), Rule: "lex"}, unary[0])
	assert.Equal(t, "NP", unary[0].Category.String())
	assert.Equal(t, "tr", unary[1].Rule)
	assert.Empty(t, tables.Unary(ccg.MustParse("NP")))

	// bracketing differences intern to the same pair
	results, ok := tables.Binary(ccg.MustParse("NP"), ccg.MustParse(`S\NP`))
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, "S[dcl]", results[1].Category.String())

	results, ok = tables.Binary(ccg.MustParse("conj"), ccg.MustParse("NP"))
	assert.True(t, ok)
	assert.Empty(t, results)

	_, ok = tables.Binary(ccg.MustParse("NP"), ccg.MustParse("NP"))
	assert.False(t, ok)
}

func TestRuleTables_MalformedEntries(t *testing.T) {
	_, err := BuildBinaryRules([]BinaryRule{{Left: "NP", Right: "N", Results: []RuleResult{{Category: "S\\", Name: "x"}}}})
	assert.ErrorIs(t, err, ccg.ErrMalformedCategory)

	_, err = BuildUnaryRules([]UnaryRule{{Initial: "", Final: "NP"}})
	assert.ErrorIs(t, err, ccg.ErrMalformedCategory)
}

func TestVocabulary(t *testing.T) {
	v, err := NewVocabulary(map[int]string{0: "N", 1: "NP", 2: "N"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Len())
	idx, ok := v.Index("N")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Same(t, v.Category(0), v.Category(2))

	_, err = NewVocabulary(map[int]string{0: "N", 2: "NP"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChartCellBounds(t *testing.T) {
	ch := NewChart(3, nil)
	assert.Nil(t, ch.Cell(1, 1))
	assert.Nil(t, ch.Cell(2, 4))
	assert.Nil(t, ch.Cell(-1, 2))
	require.NotNil(t, ch.Cell(0, 3))
	assert.False(t, ch.Cell(0, 3).Filled())
	assert.False(t, ch.Parsed())

	require.NoError(t, ch.fill(0, 3, nil))
	assert.True(t, ch.Top().Filled())
	assert.ErrorIs(t, ch.fill(0, 3, nil), ErrInvariantViolation)
	assert.ErrorIs(t, ch.fill(2, 1, nil), ErrInvariantViolation)
}
