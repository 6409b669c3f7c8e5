// Package grammar loads the resources a decoder is built from: instantiated
// unary and binary rules, the supertag vocabulary and the lexical category
// dictionary. Rules come from JSON or YAML files or from PostgreSQL.
package grammar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	apperrors "github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/errors"
)

// decodeFile unmarshals a JSON or YAML file into v, picking the format from
// the extension.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	default:
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %v: %w", path, err, apperrors.ErrMalformedGrammar)
	}
	return nil
}

// LoadUnaryRules reads a list of [initial, final, rule] tuples.
func LoadUnaryRules(path string) ([]decoder.UnaryRule, error) {
	var raw []any
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}
	rules, err := UnaryFromTuples(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// LoadBinaryRules reads a list of [left, right, [[result, rule], ...]]
// tuples.
func LoadBinaryRules(path string) ([]decoder.BinaryRule, error) {
	var raw []any
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}
	rules, err := BinaryFromTuples(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// LoadVocabulary reads a category-to-index map and inverts it into the
// index-to-category form the decoder takes.
func LoadVocabulary(path string) (map[int]string, error) {
	var cat2idx map[string]int
	if err := decodeFile(path, &cat2idx); err != nil {
		return nil, err
	}
	idx2cat := make(map[int]string, len(cat2idx))
	for cat, idx := range cat2idx {
		if prev, dup := idx2cat[idx]; dup {
			return nil, fmt.Errorf("%s: index %d used by %q and %q: %w", path, idx, prev, cat, apperrors.ErrMalformedGrammar)
		}
		idx2cat[idx] = cat
	}
	return idx2cat, nil
}

// LoadCategoryDictionary reads a word-to-categories map. Words are
// lower-cased; entries that collide after lower-casing are merged.
func LoadCategoryDictionary(path string) (map[string][]string, error) {
	var raw map[string][]string
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}
	dict := make(map[string][]string, len(raw))
	for word, cats := range raw {
		key := strings.ToLower(word)
		dict[key] = append(dict[key], cats...)
	}
	return dict, nil
}

// UnaryFromTuples converts generically decoded tuples into unary rules.
func UnaryFromTuples(raw []any) ([]decoder.UnaryRule, error) {
	rules := make([]decoder.UnaryRule, 0, len(raw))
	for i, entry := range raw {
		fields, ok := entry.([]any)
		if !ok || len(fields) != 3 {
			return nil, tupleError("unary", i, "want [initial, final, rule]")
		}
		strs, ok := stringsOf(fields)
		if !ok {
			return nil, tupleError("unary", i, "fields must be strings")
		}
		rules = append(rules, decoder.UnaryRule{Initial: strs[0], Final: strs[1], Name: strs[2]})
	}
	return rules, nil
}

// BinaryFromTuples converts generically decoded tuples into binary rules.
func BinaryFromTuples(raw []any) ([]decoder.BinaryRule, error) {
	rules := make([]decoder.BinaryRule, 0, len(raw))
	for i, entry := range raw {
		fields, ok := entry.([]any)
		if !ok || len(fields) != 3 {
			return nil, tupleError("binary", i, "want [left, right, results]")
		}
		pair, ok := stringsOf(fields[:2])
		if !ok {
			return nil, tupleError("binary", i, "left and right must be strings")
		}
		results, ok := fields[2].([]any)
		if !ok && fields[2] != nil {
			return nil, tupleError("binary", i, "results must be a list")
		}
		rule := decoder.BinaryRule{Left: pair[0], Right: pair[1]}
		for _, r := range results {
			rf, ok := r.([]any)
			if !ok || len(rf) != 2 {
				return nil, tupleError("binary", i, "each result must be [category, rule]")
			}
			res, ok := stringsOf(rf)
			if !ok {
				return nil, tupleError("binary", i, "result fields must be strings")
			}
			rule.Results = append(rule.Results, decoder.RuleResult{Category: res[0], Name: res[1]})
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func stringsOf(fields []any) ([]string, bool) {
	out := make([]string, len(fields))
	for i, f := range fields {
		s, ok := f.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func tupleError(kind string, i int, msg string) error {
	return fmt.Errorf("%s rule %d: %s: %w", kind, i, msg, apperrors.ErrMalformedGrammar)
}
