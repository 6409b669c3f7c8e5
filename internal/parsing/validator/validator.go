// Package validator checks parse requests before they reach the decoder and
// returns per-field error details.
package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
)

// Limits bounds a single request. VocabularySize is the width every score
// row must have.
type Limits struct {
	MaxTokens      int
	MaxBatchSize   int
	VocabularySize int
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, field := range keys {
		parts[i] = fmt.Sprintf("%s: %s", field, e.Fields[field])
	}
	return strings.Join(parts, "; ")
}

func ValidateParseRequest(req *parsing.ParseRequest, limits Limits) error {
	errs := make(map[string]string)
	checkSentence(errs, "", req.Sentence, limits)
	checkScores(errs, "", req.Scores, len(req.Sentence), limits.VocabularySize)
	return asError(errs)
}

// ValidateBatch reports errors of individual sentences under keys like
// "sentences[2].scores".
func ValidateBatch(req *parsing.BatchParseRequest, limits Limits) error {
	errs := make(map[string]string)
	switch {
	case len(req.Sentences) == 0:
		errs["sentences"] = "at least one sentence is required"
	case limits.MaxBatchSize > 0 && len(req.Sentences) > limits.MaxBatchSize:
		errs["sentences"] = fmt.Sprintf("at most %d sentences per batch", limits.MaxBatchSize)
	}
	for i, s := range req.Sentences {
		prefix := fmt.Sprintf("sentences[%d].", i)
		checkSentence(errs, prefix, s.Sentence, limits)
		checkScores(errs, prefix, s.Scores, len(s.Sentence), limits.VocabularySize)
	}
	return asError(errs)
}

func ValidateSanityRequest(req *parsing.SanityRequest, limits Limits) error {
	errs := make(map[string]string)
	checkSentence(errs, "", req.Sentence, limits)
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "sanity":
		if len(req.Supertags) != len(req.Sentence) {
			errs["supertags"] = fmt.Sprintf("expected %d supertags, got %d", len(req.Sentence), len(req.Supertags))
		}
		for i, tag := range req.Supertags {
			if strings.TrimSpace(tag) == "" {
				errs[fmt.Sprintf("supertags[%d]", i)] = "supertag must not be empty"
			}
		}
	case "decode":
		checkScores(errs, "", req.Scores, len(req.Sentence), limits.VocabularySize)
	default:
		errs["mode"] = `mode must be "sanity" or "decode"`
	}
	return asError(errs)
}

func checkSentence(errs map[string]string, prefix string, sentence []string, limits Limits) {
	switch {
	case len(sentence) == 0:
		errs[prefix+"sentence"] = "sentence is required and must not be empty"
		return
	case limits.MaxTokens > 0 && len(sentence) > limits.MaxTokens:
		errs[prefix+"sentence"] = fmt.Sprintf("sentence must have at most %d tokens", limits.MaxTokens)
		return
	}
	for i, tok := range sentence {
		if strings.TrimSpace(tok) == "" {
			errs[fmt.Sprintf("%ssentence[%d]", prefix, i)] = "token must not be empty"
		}
	}
}

func checkScores(errs map[string]string, prefix string, scores [][]float64, tokens, width int) {
	field := prefix + "scores"
	if len(scores) != tokens {
		errs[field] = fmt.Sprintf("expected %d score rows, got %d", tokens, len(scores))
		return
	}
	for i, row := range scores {
		if width > 0 && len(row) != width {
			errs[fmt.Sprintf("%s[%d]", field, i)] = fmt.Sprintf("expected %d columns, got %d", width, len(row))
			continue
		}
		for _, p := range row {
			if math.IsNaN(p) || p < 0 || p > 1 {
				errs[fmt.Sprintf("%s[%d]", field, i)] = "probabilities must be within [0, 1]"
				break
			}
		}
	}
}

func asError(errs map[string]string) error {
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
