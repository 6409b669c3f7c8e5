package decoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status classifies the outcome of one sentence.
type Status string

const (
	StatusParsed       Status = "parsed"
	StatusNoDerivation Status = "no_derivation"
	StatusTimeout      Status = "timeout"
	StatusFailed       Status = "failed"
)

// Result is the outcome of decoding one sentence of a batch. Chart is nil
// unless Status is StatusParsed or StatusNoDerivation.
type Result struct {
	Chart   *Chart
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Classify maps a Decode return pair to a Status. ErrNoDerivation is
// accepted for callers that report an empty top cell as an error.
func Classify(chart *Chart, err error) Status {
	switch {
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrNoDerivation):
		return StatusNoDerivation
	case err != nil:
		return StatusFailed
	case chart == nil || !chart.Parsed():
		return StatusNoDerivation
	default:
		return StatusParsed
	}
}

// FilterCategories returns a copy of tables in which every token found in
// the category dictionary keeps only the probabilities of its allowed
// categories. The input tables are not modified; rows of tokens without a
// dictionary entry are shared with the input.
func (d *Decoder) FilterCategories(sentences [][]string, tables [][][]float64) [][][]float64 {
	out := make([][][]float64, len(tables))
	for s, table := range tables {
		if s >= len(sentences) {
			out[s] = table
			continue
		}
		out[s] = d.filterTable(sentences[s], table)
	}
	return out
}

func (d *Decoder) filterTable(sentence []string, table [][]float64) [][]float64 {
	if len(d.masks) == 0 {
		return table
	}
	out := make([][]float64, len(table))
	for i, row := range table {
		if i < len(sentence) {
			out[i] = filterRow(sentence[i], row, d.masks)
		} else {
			out[i] = row
		}
	}
	return out
}

// BatchDecode decodes every sentence independently on a bounded pool of
// workers and returns one Result per sentence in input order. A sentence
// that fails, times out or has no derivation never affects the others.
func (d *Decoder) BatchDecode(ctx context.Context, sentences [][]string, tables [][][]float64) []Result {
	results := make([]Result, len(sentences))
	if d.cfg.CategoryFiltering {
		tables = d.FilterCategories(sentences, tables)
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for idx := range sentences {
		idx := idx
		if idx >= len(tables) {
			results[idx] = Result{
				Status: StatusFailed,
				Err:    fmt.Errorf("sentence %d has no score table: %w", idx, ErrInvalidInput),
			}
			continue
		}
		g.Go(func() error {
			start := d.now()
			var chart *Chart
			err := d.validate(sentences[idx], tables[idx])
			if err == nil {
				chart, err = d.decodeFiltered(ctx, start, sentences[idx], tables[idx])
			}
			results[idx] = Result{
				Chart:   chart,
				Status:  Classify(chart, err),
				Err:     err,
				Elapsed: d.now().Sub(start),
			}
			if err != nil && !errors.Is(err, ErrTimeout) {
				d.logger.Warn("sentence decode failed",
					"index", idx,
					"tokens", len(sentences[idx]),
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
