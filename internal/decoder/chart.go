package decoder

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
)

// CellItem is one derivation candidate in a chart cell. Score is the sum of
// supertag log-probabilities over the derivation's leaves.
type CellItem struct {
	Constituent *ccg.Constituent
	Score       float64
}

// Cell holds the candidates for one span. A cell is filled exactly once.
type Cell struct {
	items  []CellItem
	filled bool
}

// Items returns the cell's candidates, best first for span cells.
func (c *Cell) Items() []CellItem { return c.items }

// Filled reports whether the decoder has visited the cell.
func (c *Cell) Filled() bool { return c.filled }

// Chart is the triangular CKY table over a sentence of Len tokens. Cell(i, j)
// covers tokens i..j-1.
type Chart struct {
	Len   int
	cells [][]Cell
	vocab *Vocabulary
}

// NewChart allocates an empty chart for a sentence of n tokens.
func NewChart(n int, vocab *Vocabulary) *Chart {
	cells := make([][]Cell, n)
	for i := range cells {
		cells[i] = make([]Cell, n+1)
	}
	return &Chart{Len: n, cells: cells, vocab: vocab}
}

// Cell returns the cell for span [start, end), or nil when the span is
// outside the upper triangle.
func (ch *Chart) Cell(start, end int) *Cell {
	if start < 0 || end > ch.Len || start >= end {
		return nil
	}
	return &ch.cells[start][end]
}

// Vocabulary is the tag vocabulary the chart was decoded against.
func (ch *Chart) Vocabulary() *Vocabulary { return ch.vocab }

// Top returns the full-sentence cell.
func (ch *Chart) Top() *Cell {
	return ch.Cell(0, ch.Len)
}

// Parsed reports whether the top cell holds at least one derivation.
func (ch *Chart) Parsed() bool {
	top := ch.Top()
	return top != nil && len(top.items) > 0
}

// Best returns the highest-scoring full-sentence item.
func (ch *Chart) Best() (CellItem, bool) {
	top := ch.Top()
	if top == nil || len(top.items) == 0 {
		return CellItem{}, false
	}
	best := top.items[0]
	for _, it := range top.items[1:] {
		if it.Score > best.Score {
			best = it
		}
	}
	return best, true
}

func (ch *Chart) fill(start, end int, items []CellItem) error {
	cell := ch.Cell(start, end)
	if cell == nil {
		return fmt.Errorf("cell[%d][%d] outside chart of length %d: %w", start, end, ch.Len, ErrInvariantViolation)
	}
	if cell.filled {
		return fmt.Errorf("cell[%d][%d] has already been filled: %w", start, end, ErrInvariantViolation)
	}
	cell.items = items
	cell.filled = true
	return nil
}
