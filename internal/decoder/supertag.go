package decoder

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
)

// Vocabulary maps score-table columns to categories.
type Vocabulary struct {
	tags  []string
	cats  []*ccg.Category
	index map[string]int
}

// NewVocabulary builds a vocabulary from an index->category-string map. The
// indices must be exactly 0..n-1. Strings that do not parse keep their
// column but never yield a candidate.
func NewVocabulary(idx2tag map[int]string, logger *slog.Logger) (*Vocabulary, error) {
	n := len(idx2tag)
	v := &Vocabulary{
		tags:  make([]string, n),
		cats:  make([]*ccg.Category, n),
		index: make(map[string]int, n),
	}
	for idx, tag := range idx2tag {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("vocabulary index %d outside [0, %d): %w", idx, n, ErrInvalidInput)
		}
		v.tags[idx] = tag
	}
	skipped := 0
	for idx, tag := range v.tags {
		if _, dup := v.index[tag]; !dup {
			v.index[tag] = idx
		}
		cat, err := ccg.Parse(tag)
		if err != nil {
			skipped++
			if logger != nil {
				logger.Warn("skipping unparsable vocabulary category", "index", idx, "category", tag, "error", err)
			}
			continue
		}
		v.cats[idx] = cat
	}
	if logger != nil && skipped > 0 {
		logger.Warn("vocabulary contains unparsable categories", "skipped", skipped, "size", n)
	}
	return v, nil
}

// Len is the number of columns.
func (v *Vocabulary) Len() int { return len(v.tags) }

// Tag returns the category string of column idx.
func (v *Vocabulary) Tag(idx int) string { return v.tags[idx] }

// Category returns the parsed category of column idx, nil if it failed to
// parse.
func (v *Vocabulary) Category(idx int) *ccg.Category { return v.cats[idx] }

// Index returns the column of a category string.
func (v *Vocabulary) Index(tag string) (int, bool) {
	idx, ok := v.index[tag]
	return idx, ok
}

// Candidate is a leaf category proposed for a token.
type Candidate struct {
	Category *ccg.Category
	LogProb  float64
}

// categoryMasks turns the word->categories dictionary into per-word column
// masks. Categories missing from the vocabulary are ignored.
func categoryMasks(dict map[string][]string, vocab *Vocabulary, logger *slog.Logger) map[string][]bool {
	masks := make(map[string][]bool, len(dict))
	for word, cats := range dict {
		mask := make([]bool, vocab.Len())
		for _, cat := range cats {
			idx, ok := vocab.Index(cat)
			if !ok {
				if logger != nil {
					logger.Debug("category dictionary entry not in vocabulary", "word", word, "category", cat)
				}
				continue
			}
			mask[idx] = true
		}
		masks[strings.ToLower(word)] = mask
	}
	return masks
}

// filterRow returns a copy of row where every column outside the word's
// allowed set is zero. A word with no dictionary entry gets row itself.
func filterRow(word string, row []float64, masks map[string][]bool) []float64 {
	mask, ok := masks[strings.ToLower(word)]
	if !ok {
		return row
	}
	out := make([]float64, len(row))
	for i, p := range row {
		if i < len(mask) && mask[i] {
			out[i] = p
		}
	}
	return out
}

// pruneRow zeroes every probability that falls outside the beta margin of
// the row's best probability.
//
//	multiplicative: keep p >= beta * p_max
//	additive:       keep p >= p_max - beta
func pruneRow(row []float64, beta float64, rule string) []float64 {
	top := 0.0
	for _, p := range row {
		if p > top {
			top = p
		}
	}
	cutoff := top * beta
	if rule == config.PruningAdditive {
		cutoff = top - beta
	}
	out := make([]float64, len(row))
	for i, p := range row {
		if p >= cutoff {
			out[i] = p
		}
	}
	return out
}

// topK returns the k most probable positive columns of row, highest first.
// Equal probabilities keep column order. Columns without a parsed category
// are skipped.
func topK(row []float64, k int, vocab *Vocabulary) []Candidate {
	type col struct {
		idx int
		p   float64
	}
	best := make([]col, 0, k+1)
	for idx, p := range row {
		if p <= 0 || vocab.Category(idx) == nil {
			continue
		}
		if len(best) == k && p <= best[k-1].p {
			continue
		}
		pos := len(best)
		for pos > 0 && best[pos-1].p < p {
			pos--
		}
		best = append(best, col{})
		copy(best[pos+1:], best[pos:])
		best[pos] = col{idx: idx, p: p}
		if len(best) > k {
			best = best[:k]
		}
	}
	out := make([]Candidate, len(best))
	for i, c := range best {
		out[i] = Candidate{Category: vocab.Category(c.idx), LogProb: math.Log(c.p)}
	}
	return out
}
