package decoder

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
)

// UnaryRule is one instantiated unary rule as supplied by a rule file:
// Initial => Final by rule Name.
type UnaryRule struct {
	Initial string
	Final   string
	Name    string
}

// BinaryRule lists every instantiated result for the pair Left Right.
type BinaryRule struct {
	Left    string
	Right   string
	Results []RuleResult
}

// RuleResult is one result category and the rule that produces it.
type RuleResult struct {
	Category string
	Name     string
}

// RuleEntry is a parsed rule outcome stored in the lookup tables.
type RuleEntry struct {
	Category *ccg.Category
	Rule     string
}

// RuleTables holds the instantiated rule lookups. They are built once and
// only read afterwards, so one RuleTables is safe to share between
// goroutines.
type RuleTables struct {
	unary  map[*ccg.Category][]RuleEntry
	binary map[*ccg.Category]map[*ccg.Category][]RuleEntry

	unaryCount  int
	binaryCount int
}

// NewRuleTables builds both lookup tables. A malformed category in any entry
// aborts construction.
func NewRuleTables(unary []UnaryRule, binary []BinaryRule) (*RuleTables, error) {
	u, err := BuildUnaryRules(unary)
	if err != nil {
		return nil, err
	}
	b, err := BuildBinaryRules(binary)
	if err != nil {
		return nil, err
	}
	t := &RuleTables{unary: u, binary: b, unaryCount: len(unary)}
	for _, byRight := range b {
		for _, results := range byRight {
			t.binaryCount += len(results)
		}
	}
	return t, nil
}

// BuildUnaryRules groups unary entries by initial category, keeping the
// given order within each group.
func BuildUnaryRules(entries []UnaryRule) (map[*ccg.Category][]RuleEntry, error) {
	table := make(map[*ccg.Category][]RuleEntry)
	for i, e := range entries {
		initial, err := ccg.Parse(e.Initial)
		if err != nil {
			return nil, fmt.Errorf("unary rule %d: initial category: %w", i, err)
		}
		final, err := ccg.Parse(e.Final)
		if err != nil {
			return nil, fmt.Errorf("unary rule %d: final category: %w", i, err)
		}
		table[initial] = append(table[initial], RuleEntry{Category: final, Rule: e.Name})
	}
	return table, nil
}

// BuildBinaryRules groups binary entries by left then right category.
func BuildBinaryRules(entries []BinaryRule) (map[*ccg.Category]map[*ccg.Category][]RuleEntry, error) {
	table := make(map[*ccg.Category]map[*ccg.Category][]RuleEntry)
	for i, e := range entries {
		left, err := ccg.Parse(e.Left)
		if err != nil {
			return nil, fmt.Errorf("binary rule %d: left category: %w", i, err)
		}
		right, err := ccg.Parse(e.Right)
		if err != nil {
			return nil, fmt.Errorf("binary rule %d: right category: %w", i, err)
		}
		byRight, ok := table[left]
		if !ok {
			byRight = make(map[*ccg.Category][]RuleEntry)
			table[left] = byRight
		}
		for _, r := range e.Results {
			cat, err := ccg.Parse(r.Category)
			if err != nil {
				return nil, fmt.Errorf("binary rule %d: result category: %w", i, err)
			}
			byRight[right] = append(byRight[right], RuleEntry{Category: cat, Rule: r.Name})
		}
		if _, ok := byRight[right]; !ok {
			byRight[right] = nil
		}
	}
	return table, nil
}

// Unary returns the unary results for cat.
func (t *RuleTables) Unary(cat *ccg.Category) []RuleEntry {
	return t.unary[cat]
}

// Binary returns the binary results for left right. ok is false when the
// pair has no instantiated entry at all.
func (t *RuleTables) Binary(left, right *ccg.Category) (results []RuleEntry, ok bool) {
	byRight, ok := t.binary[left]
	if !ok {
		return nil, false
	}
	results, ok = byRight[right]
	return results, ok
}

// UnaryCount is the number of unary entries the tables were built from.
func (t *RuleTables) UnaryCount() int { return t.unaryCount }

// BinaryCount is the number of binary results across all pairs.
func (t *RuleTables) BinaryCount() int { return t.binaryCount }
