package decoder

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
)

func TestBatchDecode_PreservesOrderAndIsolatesFailures(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	good, goodScores := theCatSat()
	_, emptyScores := theCatSat()
	emptyScores[2] = row(nil)

	sentences := [][]string{
		good,
		{"too", "few", "rows"},
		good,
		{"orphan"},
	}
	tables := [][][]float64{
		goodScores,
		goodScores[:1],
		emptyScores,
	}

	results := d.BatchDecode(context.Background(), sentences, tables)
	require.Len(t, results, 4)

	assert.Equal(t, StatusParsed, results[0].Status)
	require.NotNil(t, results[0].Chart)
	best, ok := results[0].Chart.Best()
	require.True(t, ok)
	assert.Equal(t, "S", best.Constituent.Tag.String())

	assert.Equal(t, StatusFailed, results[1].Status)
	assert.ErrorIs(t, results[1].Err, ErrInvalidInput)
	assert.Nil(t, results[1].Chart)

	assert.Equal(t, StatusNoDerivation, results[2].Status)
	assert.NoError(t, results[2].Err)
	require.NotNil(t, results[2].Chart)
	assert.Empty(t, results[2].Chart.Top().Items())

	assert.Equal(t, StatusFailed, results[3].Status)
	assert.ErrorIs(t, results[3].Err, ErrInvalidInput)
}

func TestBatchDecode_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = time.Nanosecond
	clock := &stepClock{step: time.Millisecond}
	d := newDecoder(t, cfg, toyGrammar(), WithClock(clock.Now))

	sentence, scores := theCatSat()
	results := d.BatchDecode(context.Background(),
		[][]string{sentence, sentence, sentence},
		[][][]float64{scores, scores, scores})
	for i, r := range results {
		assert.Equal(t, StatusTimeout, r.Status, "sentence %d", i)
		assert.ErrorIs(t, r.Err, ErrTimeout)
		assert.Nil(t, r.Chart)
		assert.Positive(t, r.Elapsed)
	}
}

func TestBatchDecode_MatchesDecode(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryFiltering = true
	g := toyGrammar()
	g.CategoryDict = map[string][]string{"sat": {"VP"}}
	d := newDecoder(t, cfg, g)

	sentence, scores := theCatSat()
	// without the dictionary "sat" would prefer V
	scores[2] = row(map[int]float64{3: 0.9, 2: 0.1})

	single, err := d.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)
	batch := d.BatchDecode(context.Background(), [][]string{sentence}, [][][]float64{scores})
	require.Len(t, batch, 1)
	require.Equal(t, StatusParsed, batch[0].Status)

	a, _ := single.Best()
	b, _ := batch[0].Chart.Best()
	assert.Equal(t, a.Constituent.String(), b.Constituent.String())
	assert.InDelta(t, a.Score, b.Score, 1e-12)
}

func TestSanityCheck_TracesFilledCells(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = time.Nanosecond
	clock := &stepClock{step: time.Second}
	d := newDecoder(t, cfg, toyGrammar(), WithClock(clock.Now))

	var trace bytes.Buffer
	chart, err := d.SanityCheck(context.Background(),
		[]string{"the", "cat", "sat"}, []string{"NP/N", "N", "VP"}, &trace)
	require.NoError(t, err)
	require.True(t, chart.Parsed())

	want := "span[0][1] [NP/N]\n" +
		"span[1][2] [N NP]\n" +
		"span[0][2] [NP]\n" +
		"span[2][3] [VP]\n" +
		"span[1][3] [S]\n" +
		"span[0][3] [S]\n"
	assert.Equal(t, want, trace.String())

	best, ok := chart.Best()
	require.True(t, ok)
	assert.Equal(t, 0.0, best.Score)
}

func TestSanityCheck_RejectsBadInput(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())

	_, err := d.SanityCheck(context.Background(), []string{"a", "b"}, []string{"N"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = d.SanityCheck(context.Background(), []string{"a"}, []string{"(N"}, nil)
	assert.ErrorIs(t, err, ccg.ErrMalformedCategory)

	chart, err := d.SanityCheck(context.Background(), []string{"a", "b"}, []string{"VP", "NP"}, nil)
	require.NoError(t, err)
	assert.False(t, chart.Parsed())
}

func TestSanityCheck_UnknownGoldTagsAreNotInterned(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	before := ccg.InternedCount()

	for i := 0; i < 1000; i++ {
		tags := []string{"NP/N", fmt.Sprintf(`(GOLD%d[g%d]\NP)/N`, i, i)}
		chart, err := d.SanityCheck(context.Background(), []string{"the", "cat"}, tags, nil)
		require.NoError(t, err)
		assert.False(t, chart.Parsed())
	}
	assert.Equal(t, before, ccg.InternedCount())

	// a known gold tag still resolves to the rule-table category
	chart, err := d.SanityCheck(context.Background(), []string{"the", "cat"}, []string{"(NP/N)", "N"}, nil)
	require.NoError(t, err)
	assert.True(t, chart.Parsed())
	assert.Equal(t, before, ccg.InternedCount())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Sanity ")
	require.NoError(t, err)
	assert.Equal(t, ModeSanity, m)

	m, err = ParseMode("decode")
	require.NoError(t, err)
	assert.Equal(t, ModeDecode, m)

	_, err = ParseMode("train")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestInsertByScoreKeepsInsertionOrderOnTies(t *testing.T) {
	mk := func(rule string, score float64) CellItem {
		return CellItem{Constituent: &ccg.Constituent{Rule: rule}, Score: score}
	}
	var items []CellItem
	for _, it := range []CellItem{mk("a", -1), mk("b", -2), mk("c", -1), mk("d", 0)} {
		items = insertByScore(items, it)
	}
	rules := func(xs []CellItem) []string {
		out := make([]string, len(xs))
		for i, x := range xs {
			out[i] = x.Constituent.Rule
		}
		return out
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, rules(items))
	assert.Equal(t, []string{"d", "c", "a"}, rules(keepBest(items, 3)))
	assert.Len(t, keepBest(items, 10), 4)
}

// BenchmarkBatchDecode_Parallel measures batch throughput on the worker pool
// for 32 ambiguous sentences.
func BenchmarkBatchDecode_Parallel(b *testing.B) {
	cfg := testConfig()
	cfg.BeamWidth = 16
	cfg.Workers = 4
	d, err := New(cfg, ambiguousGrammar(4))
	require.NoError(b, err)

	sentences := make([][]string, 32)
	tables := make([][][]float64, 32)
	for s := range sentences {
		sentences[s] = make([]string, 12)
		tables[s] = make([][]float64, 12)
		for i := range sentences[s] {
			sentences[s][i] = "w"
			tables[s][i] = []float64{0.5 + float64((s+i)%5)/10, 0.1}
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, r := range d.BatchDecode(context.Background(), sentences, tables) {
			if r.Status == StatusFailed {
				b.Fatal(r.Err)
			}
		}
	}
}

func TestClassify(t *testing.T) {
	d := newDecoder(t, testConfig(), toyGrammar())
	sentence, scores := theCatSat()
	chart, err := d.Decode(context.Background(), sentence, scores)
	require.NoError(t, err)

	assert.Equal(t, StatusParsed, Classify(chart, nil))
	assert.Equal(t, StatusNoDerivation, Classify(nil, nil))
	assert.Equal(t, StatusNoDerivation, Classify(nil, fmt.Errorf("sentence 3: %w", ErrNoDerivation)))
	assert.Equal(t, StatusTimeout, Classify(nil, fmt.Errorf("after 2 of 9 tokens: %w", ErrTimeout)))
	assert.Equal(t, StatusFailed, Classify(nil, ErrInvalidInput))
	assert.Equal(t, StatusFailed, Classify(nil, context.Canceled))
}
