package decoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
)

// stepClock advances by step on every reading.
type stepClock struct {
	ticks atomic.Int64
	step  time.Duration
}

func (c *stepClock) Now() time.Time {
	return time.Unix(0, 0).Add(time.Duration(c.ticks.Add(1)) * c.step)
}

var toyVocabulary = map[int]string{0: "NP/N", 1: "N", 2: "VP", 3: "V", 4: "NP"}

func toyGrammar() Grammar {
	return Grammar{
		Unary: []UnaryRule{{Initial: "N", Final: "NP", Name: "lex"}},
		Binary: []BinaryRule{
			{Left: "NP", Right: "VP", Results: []RuleResult{{Category: "S", Name: "ba"}}},
			{Left: "NP/N", Right: "N", Results: []RuleResult{{Category: "NP", Name: "fa"}}},
		},
		Vocabulary: toyVocabulary,
	}
}

func testConfig() config.DecoderConfig {
	cfg := config.Default().Decoder
	cfg.Workers = 2
	return cfg
}

func newDecoder(t *testing.T, cfg config.DecoderConfig, g Grammar, opts ...Option) *Decoder {
	t.Helper()
	d, err := New(cfg, g, opts...)
	require.NoError(t, err)
	return d
}

// row builds a probability row over the toy vocabulary.
func row(probs map[int]float64) []float64 {
	r := make([]float64, len(toyVocabulary))
	for idx, p := range probs {
		r[idx] = p
	}
	return r
}

func theCatSat() ([]string, [][]float64) {
	return []string{"the", "cat", "sat"}, [][]float64{
		row(map[int]float64{0: 1}),
		row(map[int]float64{1: 1}),
		row(map[int]float64{2: 1}),
	}
}

func TestDecode_TheCatSat(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	sentence, scores := theCatSat()

	chart, err := d.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)
	require.NotNil(t, chart)
	require.True(t, chart.Parsed())

	top := chart.Top().Items()
	require.Len(t, top, 1)
	assert.Same(t, ccg.MustParse("S"), top[0].Constituent.Tag)
	assert.InDelta(t, 0.0, top[0].Score, 1e-12)
	assert.Equal(t, "(S (NP (NP/N the) (N cat)) (VP sat))", top[0].Constituent.String())

	// cat gets its lexical N plus the unary NP
	cat := chart.Cell(1, 2).Items()
	require.Len(t, cat, 2)
	assert.Equal(t, "N", cat[0].Constituent.Tag.String())
	assert.Equal(t, "NP", cat[1].Constituent.Tag.String())
	assert.Equal(t, "lex", cat[1].Constituent.Rule)
	assert.Equal(t, StatusParsed, Classify(chart, err))
}

func TestDecode_Deterministic(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	sentence, scores := theCatSat()
	render := func(ch *Chart) string {
		var b strings.Builder
		for i := 0; i < ch.Len; i++ {
			for k := i + 1; k <= ch.Len; k++ {
				for _, it := range ch.Cell(i, k).Items() {
					fmt.Fprintf(&b, "%d %d %s %.12f\n", i, k, it.Constituent, it.Score)
				}
			}
		}
		return b.String()
	}
	first, err := d.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)
	for n := 0; n < 5; n++ {
		again, err := d.Decode(context.Background(), sentence, scores)
		require.NoError(t, err)
		assert.Equal(t, render(first), render(again))
	}
}

// ambiguousGrammar lets every pair of A combine into A by several rules.
func ambiguousGrammar(rules int) Grammar {
	results := make([]RuleResult, rules)
	for i := range results {
		results[i] = RuleResult{Category: "A", Name: fmt.Sprintf("r%d", i)}
	}
	return Grammar{
		Unary: []UnaryRule{{Initial: "A", Final: "B", Name: "up"}},
		Binary: []BinaryRule{
			{Left: "A", Right: "A", Results: results},
			{Left: "A", Right: "B", Results: []RuleResult{{Category: "A", Name: "ab"}}},
		},
		Vocabulary: map[int]string{0: "A", 1: "B"},
	}
}

func TestDecode_SpanCoverageAndScoreAdditivity(t *testing.T) {
	cfg := testConfig()
	cfg.BeamWidth = 50
	cfg.SupertaggingPruning = false
	d := newDecoder(t, cfg, ambiguousGrammar(2))

	sentence := []string{"w0", "w1", "w2", "w3"}
	probs := []float64{0.9, 0.6, 0.3, 0.8}
	scores := make([][]float64, len(sentence))
	logp := map[string]float64{}
	for i, p := range probs {
		scores[i] = []float64{p, 1 - p}
		logp[sentence[i]+"|A"] = math.Log(p)
		logp[sentence[i]+"|B"] = math.Log(1 - p)
	}

	chart, err := d.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)
	for i := 0; i < chart.Len; i++ {
		for k := i + 1; k <= chart.Len; k++ {
			for _, it := range chart.Cell(i, k).Items() {
				leaves := it.Constituent.Leaves()
				require.Len(t, leaves, k-i)
				want := 0.0
				for n, leaf := range leaves {
					assert.Equal(t, sentence[i+n], leaf.Contents)
					want += logp[leaf.Contents+"|"+leaf.Tag.String()]
				}
				assert.InDelta(t, want, it.Score, 1e-9, "cell[%d][%d] %s", i, k, it.Constituent)
			}
		}
	}
}

func TestDecode_BeamBound(t *testing.T) {
	cfg := testConfig()
	cfg.BeamWidth = 3
	cfg.SupertaggingPruning = false
	d := newDecoder(t, cfg, ambiguousGrammar(5))

	sentence := []string{"a", "b", "c", "d", "e"}
	scores := [][]float64{{0.9, 0}, {0.5, 0}, {0.7, 0}, {0.2, 0}, {0.6, 0}}
	chart, err := d.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)

	for i := 0; i < chart.Len; i++ {
		for k := i + 2; k <= chart.Len; k++ {
			items := chart.Cell(i, k).Items()
			var beam []CellItem
			for _, it := range items {
				if it.Constituent.IsUnary() {
					continue
				}
				beam = append(beam, it)
			}
			assert.LessOrEqual(t, len(beam), cfg.BeamWidth, "cell[%d][%d]", i, k)
			for n := 1; n < len(beam); n++ {
				assert.GreaterOrEqual(t, beam[n-1].Score, beam[n].Score)
			}
			// every kept A is closed under the unary A => B exactly once
			assert.Len(t, items, 2*len(beam))
		}
	}
}

func TestDecode_EmptyCandidatesMeansNoDerivation(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	sentence, scores := theCatSat()
	scores[1] = row(nil)

	chart, err := d.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Empty(t, chart.Cell(1, 2).Items())
	assert.Empty(t, chart.Cell(0, 2).Items())
	assert.Empty(t, chart.Cell(1, 3).Items())
	assert.False(t, chart.Parsed())
	_, ok := chart.Best()
	assert.False(t, ok)
	assert.Equal(t, StatusNoDerivation, Classify(chart, err))
}

func TestDecode_CategoryFilter(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryFiltering = true
	g := toyGrammar()
	g.CategoryDict = map[string][]string{"bank": {"N"}}
	d := newDecoder(t, cfg, g)

	sentence := []string{"Bank"}
	scores := [][]float64{row(map[int]float64{3: 0.7, 1: 0.3})}
	cands, err := d.Candidates(sentence, scores)
	require.NoError(t, err)
	require.Len(t, cands[0], 1)
	assert.Same(t, ccg.MustParse("N"), cands[0][0].Category)
	assert.InDelta(t, math.Log(0.3), cands[0][0].LogProb, 1e-12)
	// the caller's table is left alone
	assert.Equal(t, 0.7, scores[0][3])

	filtered := d.FilterCategories([][]string{sentence}, [][][]float64{scores})
	assert.Equal(t, 0.0, filtered[0][0][3])
	assert.Equal(t, 0.3, filtered[0][0][1])
	assert.Equal(t, 0.7, scores[0][3])
}

func TestFilterRow(t *testing.T) {
	masks := map[string][]bool{"bank": {false, true, false}}
	r := []float64{0.5, 0.3, 0.2}

	assert.Equal(t, []float64{0, 0.3, 0}, filterRow("Bank", r, masks))
	assert.Equal(t, []float64{0.5, 0.3, 0.2}, r)

	unfiltered := filterRow("river", r, masks)
	assert.Same(t, &r[0], &unfiltered[0])
}

func TestCandidates_PruningAndTopK(t *testing.T) {
	vocab, err := NewVocabulary(map[int]string{0: "A", 1: "B", 2: "C", 3: "D", 4: "((bad"}, nil)
	require.NoError(t, err)
	r := []float64{0.25, 0.6, 0.15, 0.25, 0.9}

	mult := pruneRow(r, 0.5, config.PruningMultiplicative)
	assert.Equal(t, []float64{0, 0.6, 0, 0, 0.9}, mult)
	add := pruneRow(r, 0.7, config.PruningAdditive)
	assert.Equal(t, []float64{0.25, 0.6, 0, 0.25, 0.9}, add)

	// column 4 has no category; equal probabilities keep column order
	top := topK(r, 3, vocab)
	require.Len(t, top, 3)
	assert.Equal(t, "B", top[0].Category.String())
	assert.Equal(t, "A", top[1].Category.String())
	assert.Equal(t, "D", top[2].Category.String())
	assert.InDelta(t, math.Log(0.6), top[0].LogProb, 1e-12)

	assert.Empty(t, topK([]float64{0, 0, 0, 0, 0}, 3, vocab))
}

func TestDecode_UnaryIsSinglePass(t *testing.T) {
	g := toyGrammar()
	g.Unary = append(g.Unary, UnaryRule{Initial: "NP", Final: `S/(S\NP)`, Name: "tr"})
	d := newDecoder(t, testConfig(), g)

	chart, err := d.Decode(context.Background(), []string{"cat"}, [][]float64{row(map[int]float64{1: 1})})
	require.NoError(t, err)
	tags := []string{}
	for _, it := range chart.Cell(0, 1).Items() {
		tags = append(tags, it.Constituent.Tag.String())
	}
	assert.Equal(t, []string{"N", "NP"}, tags)
}

func TestDecode_FillOnce(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	chart := NewChart(2, d.Vocabulary())
	leaves := [][]leafCandidate{
		{{token: &ccg.Token{Contents: "the", Tag: ccg.MustParse("NP/N")}}},
		{{token: &ccg.Token{Contents: "cat", Tag: ccg.MustParse("N")}}},
	}
	require.NoError(t, d.applyTokenOps(chart, leaves, 0))
	require.NoError(t, d.applyTokenOps(chart, leaves, 1))
	require.NoError(t, d.applySpanOps(chart, 0, 2))

	err := d.applyTokenOps(chart, leaves, 0)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	err = d.applySpanOps(chart, 0, 2)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Len(t, chart.Top().Items(), 1)
}

func TestDecode_Timeout(t *testing.T) {
	sentence, scores := theCatSat()
	cases := []struct {
		timeout     time.Duration
		wantTimeout bool
	}{
		{0, false},
		{time.Hour, false},
		{10 * time.Second, false},
		{2 * time.Second, true},
		{time.Nanosecond, true},
	}
	for _, tc := range cases {
		cfg := testConfig()
		cfg.Timeout = tc.timeout
		clock := &stepClock{step: time.Second}
		d := newDecoder(t, cfg, toyGrammar(), WithClock(clock.Now))

		chart, err := d.Decode(context.Background(), sentence, scores)
		if tc.wantTimeout {
			assert.ErrorIs(t, err, ErrTimeout, "timeout %v", tc.timeout)
			assert.Nil(t, chart)
			assert.Equal(t, StatusTimeout, Classify(chart, err))
		} else {
			assert.NoError(t, err, "timeout %v", tc.timeout)
			assert.True(t, chart.Parsed())
		}
	}
}

func TestDecode_ContextCancelled(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sentence, scores := theCatSat()
	chart, err := d.Decode(ctx, sentence, scores)
	assert.Nil(t, chart)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecode_InvalidInput(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	_, err := d.Decode(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = d.Decode(context.Background(), []string{"a", "b"}, [][]float64{row(nil)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = d.Decode(context.Background(), []string{"a"}, [][]float64{{1, 0}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecode_Constraints(t *testing.T) {
	g := Grammar{
		Binary: []BinaryRule{
			{Left: "NP", Right: ",", Results: []RuleResult{{Category: "NP", Name: "rp"}}},
			{Left: "NP", Right: "N", Results: []RuleResult{{Category: "NP", Name: "rp"}}},
		},
		Vocabulary: map[int]string{0: "NP", 1: ",", 2: "N"},
	}
	d := newDecoder(t, testConfig(), g)
	chart, err := d.Decode(context.Background(), []string{"it", ","}, [][]float64{{1, 0, 0}, {0, 1, 0}})
	require.NoError(t, err)
	assert.True(t, chart.Parsed())

	chart, err = d.Decode(context.Background(), []string{"it", "cat"}, [][]float64{{1, 0, 0}, {0, 0, 1}})
	require.NoError(t, err)
	assert.False(t, chart.Parsed(), "rp needs punctuation on the right")

	permissive := newDecoder(t, testConfig(), g, WithConstraints(Constraints{}))
	chart, err = permissive.Decode(context.Background(), []string{"it", "cat"}, [][]float64{{1, 0, 0}, {0, 0, 1}})
	require.NoError(t, err)
	assert.True(t, chart.Parsed())
}

func TestDecode_GenericRules(t *testing.T) {
	g := Grammar{Vocabulary: map[int]string{0: "S[X]/NP", 1: "NP"}}
	sentence := []string{"go", "home"}
	scores := [][]float64{{1, 0}, {0, 1}}

	off := newDecoder(t, testConfig(), g)
	chart, err := off.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)
	assert.False(t, chart.Parsed())

	cfg := testConfig()
	cfg.GenericRules = true
	on := newDecoder(t, cfg, g)
	chart, err = on.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)
	require.True(t, chart.Parsed())
	best, _ := chart.Best()
	assert.Equal(t, "S[X]", best.Constituent.Tag.String())
	assert.Equal(t, "fa", best.Constituent.Rule)
}

func TestNew_RejectsMalformedRules(t *testing.T) {
	g := toyGrammar()
	g.Binary = append(g.Binary, BinaryRule{Left: "(S", Right: "NP"})
	_, err := New(testConfig(), g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ccg.ErrMalformedCategory))

	g = toyGrammar()
	g.Unary = append(g.Unary, UnaryRule{Initial: "N", Final: "NP[", Name: "lex"})
	_, err = New(testConfig(), g)
	assert.ErrorIs(t, err, ccg.ErrMalformedCategory)

	cfg := testConfig()
	cfg.BeamWidth = 0
	_, err = New(cfg, toyGrammar())
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := newDecoder(t, testConfig(), toyGrammar())
	b := newDecoder(t, testConfig(), toyGrammar())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	cfg := testConfig()
	cfg.BeamWidth = 2
	c := newDecoder(t, cfg, toyGrammar())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func BenchmarkDecode_Ambiguous(b *testing.B) {
	cfg := testConfig()
	cfg.BeamWidth = 16
	d, err := New(cfg, ambiguousGrammar(4))
	require.NoError(b, err)
	sentence := make([]string, 20)
	scores := make([][]float64, 20)
	for i := range sentence {
		sentence[i] = fmt.Sprintf("w%d", i)
		scores[i] = []float64{0.5 + float64(i%5)/10, 0.1}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.Decode(context.Background(), sentence, scores); err != nil {
			b.Fatal(err)
		}
	}
}
