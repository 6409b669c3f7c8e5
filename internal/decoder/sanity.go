package decoder

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
)

// Mode selects a diagnostic entry point.
type Mode string

const (
	// ModeSanity decodes gold supertags to check rule coverage.
	ModeSanity Mode = "sanity"
	// ModeDecode decodes model scores.
	ModeDecode Mode = "decode"
)

// ParseMode validates a mode string before any work starts.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSanity, ModeDecode:
		return m, nil
	default:
		return "", fmt.Errorf("%w %q: expected %q or %q", ErrInvalidMode, s, ModeSanity, ModeDecode)
	}
}

// SanityCheck decodes a sentence whose words each carry exactly one gold
// category with score 0. Gold categories are parsed without interning, so
// unknown tags cost nothing once the call returns. There is no pruning and
// no timeout. When trace is
// not nil every non-empty cell is written to it as it is filled.
func (d *Decoder) SanityCheck(ctx context.Context, sentence []string, goldTags []string, trace io.Writer) (*Chart, error) {
	if len(sentence) == 0 {
		return nil, fmt.Errorf("empty sentence: %w", ErrInvalidInput)
	}
	if len(goldTags) != len(sentence) {
		return nil, fmt.Errorf("%d gold supertags for %d tokens: %w", len(goldTags), len(sentence), ErrInvalidInput)
	}
	leaves := make([][]leafCandidate, len(sentence))
	for i, word := range sentence {
		cat, err := ccg.ParseTransient(goldTags[i])
		if err != nil {
			return nil, fmt.Errorf("gold supertag %d for %q: %w", i, word, err)
		}
		leaves[i] = []leafCandidate{{
			token: &ccg.Token{Contents: word, Tag: cat},
			score: 0,
		}}
	}

	var hook cellHook
	if trace != nil {
		hook = func(start, end int, cell *Cell) {
			if len(cell.Items()) == 0 {
				return
			}
			tags := make([]string, len(cell.Items()))
			for i, it := range cell.Items() {
				tags[i] = it.Constituent.Tag.String()
			}
			fmt.Fprintf(trace, "span[%d][%d] [%s]\n", start, end, strings.Join(tags, " "))
		}
	}
	return d.run(ctx, len(sentence), leaves, d.now(), false, hook)
}
