// Package decoder implements the CKY chart decoder for CCG. It seeds the
// chart from per-token supertag probabilities, combines adjacent spans with
// instantiated binary rules, closes each cell under instantiated unary rules
// and keeps at most BeamWidth items per span cell.
package decoder

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
)

// Grammar is everything a decoder is built from besides its configuration.
type Grammar struct {
	Unary      []UnaryRule
	Binary     []BinaryRule
	Vocabulary map[int]string
	// CategoryDict maps a lower-case word to the only categories it may
	// receive when category filtering is enabled.
	CategoryDict map[string][]string
}

// Decoder decodes sentences into charts. A Decoder is immutable after New
// and safe for concurrent use.
type Decoder struct {
	cfg         config.DecoderConfig
	rules       *RuleTables
	vocab       *Vocabulary
	masks       map[string][]bool
	constraints Constraints
	now         func() time.Time
	logger      *slog.Logger
	fingerprint string
}

// Option customises a Decoder.
type Option func(*Decoder)

// WithConstraints replaces the default rule constraints.
func WithConstraints(cs Constraints) Option {
	return func(d *Decoder) { d.constraints = cs }
}

// WithClock replaces time.Now for timeout accounting.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) { d.now = now }
}

// New validates cfg, parses every rule and vocabulary entry and returns a
// ready decoder. Any malformed rule aborts construction.
func New(cfg config.DecoderConfig, g Grammar, opts ...Option) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("decoder config: %w", err)
	}
	logger := slog.Default().With("component", "decoder")
	rules, err := NewRuleTables(g.Unary, g.Binary)
	if err != nil {
		return nil, fmt.Errorf("building rule tables: %w", err)
	}
	vocab, err := NewVocabulary(g.Vocabulary, logger)
	if err != nil {
		return nil, fmt.Errorf("building vocabulary: %w", err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	d := &Decoder{
		cfg:         cfg,
		rules:       rules,
		vocab:       vocab,
		masks:       categoryMasks(g.CategoryDict, vocab, logger),
		constraints: DefaultConstraints(),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.fingerprint = fingerprint(cfg, g)
	logger.Info("decoder ready",
		"unary_rules", rules.UnaryCount(),
		"binary_rules", rules.BinaryCount(),
		"vocabulary", vocab.Len(),
		"beam_width", cfg.BeamWidth,
		"top_k", cfg.TopK,
		"timeout", cfg.Timeout,
	)
	return d, nil
}

// Config returns the effective configuration.
func (d *Decoder) Config() config.DecoderConfig { return d.cfg }

// Rules returns the shared rule tables.
func (d *Decoder) Rules() *RuleTables { return d.rules }

// RuleCounts is the number of unary entries and binary results loaded.
func (d *Decoder) RuleCounts() (unary, binary int) {
	return d.rules.UnaryCount(), d.rules.BinaryCount()
}

// Vocabulary returns the tag vocabulary.
func (d *Decoder) Vocabulary() *Vocabulary { return d.vocab }

// Fingerprint identifies the configuration and grammar; two decoders with
// the same fingerprint produce identical charts.
func (d *Decoder) Fingerprint() string { return d.fingerprint }

// Decode parses one pre-tokenised sentence. scores[i][c] is the probability
// of vocabulary column c for token i. On timeout it returns ErrTimeout and no
// chart. A chart whose top cell is empty is a valid result.
func (d *Decoder) Decode(ctx context.Context, sentence []string, scores [][]float64) (*Chart, error) {
	start := d.now()
	if err := d.validate(sentence, scores); err != nil {
		return nil, err
	}
	if d.cfg.CategoryFiltering {
		scores = d.filterTable(sentence, scores)
	}
	return d.decodeFiltered(ctx, start, sentence, scores)
}

func (d *Decoder) decodeFiltered(ctx context.Context, start time.Time, sentence []string, scores [][]float64) (*Chart, error) {
	leaves := make([][]leafCandidate, len(sentence))
	for i, word := range sentence {
		for _, c := range d.candidates(scores[i]) {
			leaves[i] = append(leaves[i], leafCandidate{
				token: &ccg.Token{Contents: word, Tag: c.Category},
				score: c.LogProb,
			})
		}
	}
	return d.run(ctx, len(sentence), leaves, start, true, nil)
}

// candidates applies pruning and top-k selection to one token's row.
func (d *Decoder) candidates(row []float64) []Candidate {
	if d.cfg.SupertaggingPruning {
		row = pruneRow(row, d.cfg.Beta, d.cfg.PruningRule)
	}
	return topK(row, d.cfg.TopK, d.vocab)
}

// Candidates exposes leaf candidate selection for a whole sentence,
// including category filtering when enabled.
func (d *Decoder) Candidates(sentence []string, scores [][]float64) ([][]Candidate, error) {
	if err := d.validate(sentence, scores); err != nil {
		return nil, err
	}
	if d.cfg.CategoryFiltering {
		scores = d.filterTable(sentence, scores)
	}
	out := make([][]Candidate, len(sentence))
	for i := range sentence {
		out[i] = d.candidates(scores[i])
	}
	return out, nil
}

func (d *Decoder) validate(sentence []string, scores [][]float64) error {
	if len(sentence) == 0 {
		return fmt.Errorf("empty sentence: %w", ErrInvalidInput)
	}
	if len(scores) != len(sentence) {
		return fmt.Errorf("%d score rows for %d tokens: %w", len(scores), len(sentence), ErrInvalidInput)
	}
	for i, row := range scores {
		if len(row) != d.vocab.Len() {
			return fmt.Errorf("score row %d has %d columns, vocabulary has %d: %w",
				i, len(row), d.vocab.Len(), ErrInvalidInput)
		}
	}
	return nil
}

type leafCandidate struct {
	token *ccg.Token
	score float64
}

// cellHook observes every cell right after it is filled.
type cellHook func(start, end int, cell *Cell)

// run fills the chart in CKY order: for each end position the token cell,
// then every span ending there from the shortest to the longest.
func (d *Decoder) run(ctx context.Context, n int, leaves [][]leafCandidate, start time.Time, timed bool, hook cellHook) (*Chart, error) {
	chart := NewChart(n, d.vocab)
	for i := 0; i < n; i++ {
		if err := d.applyTokenOps(chart, leaves, i); err != nil {
			return nil, err
		}
		if hook != nil {
			hook(i, i+1, chart.Cell(i, i+1))
		}
		for k := i - 1; k >= 0; k-- {
			if err := d.applySpanOps(chart, k, i+1); err != nil {
				return nil, err
			}
			if hook != nil {
				hook(k, i+1, chart.Cell(k, i+1))
			}
		}
		if timed && d.cfg.Timeout > 0 {
			if elapsed := d.now().Sub(start); elapsed >= d.cfg.Timeout {
				d.logger.Debug("decode timed out",
					"tokens", n,
					"completed", i+1,
					"elapsed", elapsed,
				)
				return nil, fmt.Errorf("after %d of %d tokens (%v): %w", i+1, n, elapsed, ErrTimeout)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return chart, nil
}

// applyTokenOps fills the length-one cell at position i with one leaf per
// candidate followed by a single unary pass.
func (d *Decoder) applyTokenOps(chart *Chart, leaves [][]leafCandidate, i int) error {
	if cell := chart.Cell(i, i+1); cell != nil && cell.filled {
		return fmt.Errorf("token cell[%d][%d] has already been filled: %w", i, i+1, ErrInvariantViolation)
	}
	items := make([]CellItem, 0, len(leaves[i]))
	for _, leaf := range leaves[i] {
		items = append(items, CellItem{
			Constituent: ccg.NewLeaf(leaf.token),
			Score:       leaf.score,
		})
	}
	items = append(items, d.applyUnaryRules(items)...)
	return chart.fill(i, i+1, items)
}

// applySpanOps fills cell [i, k) from every split point. Candidates are kept
// sorted ascending by score while they are collected; the best BeamWidth are
// then kept in descending order and closed under a single unary pass.
func (d *Decoder) applySpanOps(chart *Chart, i, k int) error {
	if cell := chart.Cell(i, k); cell != nil && cell.filled {
		return fmt.Errorf("span cell[%d][%d] has already been filled: %w", i, k, ErrInvariantViolation)
	}
	var results []CellItem
	for j := i + 1; j < k; j++ {
		for _, left := range chart.cells[i][j].items {
			for _, right := range chart.cells[j][k].items {
				for _, item := range d.applyBinaryRules(left, right) {
					results = insertByScore(results, item)
				}
			}
		}
	}
	kept := keepBest(results, d.cfg.BeamWidth)
	kept = append(kept, d.applyUnaryRules(kept)...)
	return chart.fill(i, k, kept)
}

// insertByScore inserts item after every item with a score <= its own.
func insertByScore(items []CellItem, item CellItem) []CellItem {
	pos := sort.Search(len(items), func(n int) bool {
		return items[n].Score > item.Score
	})
	return slices.Insert(items, pos, item)
}

// keepBest returns the last beam items of an ascending slice, reversed.
func keepBest(ascending []CellItem, beam int) []CellItem {
	n := min(len(ascending), beam)
	out := make([]CellItem, n)
	for x := 0; x < n; x++ {
		out[x] = ascending[len(ascending)-1-x]
	}
	return out
}

// applyUnaryRules returns one new item per matching unary rule, each with the
// score of the item it extends. Results are not fed back in.
func (d *Decoder) applyUnaryRules(items []CellItem) []CellItem {
	var out []CellItem
	for _, it := range items {
		for _, r := range d.rules.Unary(it.Constituent.Tag) {
			out = append(out, CellItem{
				Constituent: ccg.NewUnary(r.Category, it.Constituent, r.Rule),
				Score:       it.Score,
			})
		}
	}
	return out
}

// applyBinaryRules combines left and right through every instantiated rule
// whose constraint holds. With GenericRules enabled, a pair missing from the
// instantiated table falls back to the schematic combinators when either
// side carries the wildcard feature.
func (d *Decoder) applyBinaryRules(left, right CellItem) []CellItem {
	l, r := left.Constituent, right.Constituent
	score := left.Score + right.Score
	results, ok := d.rules.Binary(l.Tag, r.Tag)
	if ok {
		var out []CellItem
		for _, res := range results {
			if !d.constraints.Allows(res.Rule, l, r) {
				continue
			}
			out = append(out, CellItem{
				Constituent: ccg.NewBinary(res.Category, l, r, res.Rule),
				Score:       score,
			})
		}
		return out
	}
	if !d.cfg.GenericRules || !(l.Tag.ContainsWildcard() || r.Tag.ContainsWildcard()) {
		return nil
	}
	var out []CellItem
	for _, comb := range ccg.Combinators {
		cat := comb.Combine(l.Tag, r.Tag)
		if cat == nil || !d.constraints.Allows(comb.Name, l, r) {
			continue
		}
		out = append(out, CellItem{
			Constituent: ccg.NewBinary(cat, l, r, comb.Name),
			Score:       score,
		})
	}
	return out
}

func fingerprint(cfg config.DecoderConfig, g Grammar) string {
	h := sha256.New()
	fmt.Fprintf(h, "beam=%d topk=%d prune=%t beta=%g rule=%s timeout=%s filter=%t generic=%t\n",
		cfg.BeamWidth, cfg.TopK, cfg.SupertaggingPruning, cfg.Beta, cfg.PruningRule,
		cfg.Timeout, cfg.CategoryFiltering, cfg.GenericRules)
	for _, u := range g.Unary {
		fmt.Fprintf(h, "u %s %s %s\n", u.Initial, u.Final, u.Name)
	}
	for _, b := range g.Binary {
		fmt.Fprintf(h, "b %s %s", b.Left, b.Right)
		for _, r := range b.Results {
			fmt.Fprintf(h, " %s:%s", r.Category, r.Name)
		}
		h.Write([]byte{'\n'})
	}
	for i := 0; i < len(g.Vocabulary); i++ {
		fmt.Fprintf(h, "v %d %s\n", i, g.Vocabulary[i])
	}
	words := make([]string, 0, len(g.CategoryDict))
	for w := range g.CategoryDict {
		words = append(words, w)
	}
	sort.Strings(words)
	for _, w := range words {
		fmt.Fprintf(h, "d %s %v\n", w, g.CategoryDict[w])
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:12])
}
