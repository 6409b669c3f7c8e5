package grammar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
)

// RuleSource supplies instantiated rules from somewhere other than files.
type RuleSource interface {
	UnaryRules(ctx context.Context) ([]decoder.UnaryRule, error)
	BinaryRules(ctx context.Context) ([]decoder.BinaryRule, error)
}

// Load assembles a decoder.Grammar. Rules come from files or from source,
// depending on cfg.Source; the vocabulary and category dictionary always
// come from files. An empty CategoryDictPath leaves the dictionary empty.
func Load(ctx context.Context, cfg config.GrammarConfig, source RuleSource) (decoder.Grammar, error) {
	var (
		g   decoder.Grammar
		err error
	)
	switch cfg.Source {
	case config.GrammarSourceFile, "":
		if g.Unary, err = LoadUnaryRules(cfg.UnaryRulesPath); err != nil {
			return g, fmt.Errorf("loading unary rules: %w", err)
		}
		if g.Binary, err = LoadBinaryRules(cfg.BinaryRulesPath); err != nil {
			return g, fmt.Errorf("loading binary rules: %w", err)
		}
	case config.GrammarSourcePostgres:
		if source == nil {
			return g, fmt.Errorf("grammar source %q needs a rule store", cfg.Source)
		}
		if g.Unary, err = source.UnaryRules(ctx); err != nil {
			return g, fmt.Errorf("loading unary rules: %w", err)
		}
		if g.Binary, err = source.BinaryRules(ctx); err != nil {
			return g, fmt.Errorf("loading binary rules: %w", err)
		}
	default:
		return g, fmt.Errorf("unknown grammar source %q", cfg.Source)
	}

	if g.Vocabulary, err = LoadVocabulary(cfg.VocabularyPath); err != nil {
		return g, fmt.Errorf("loading vocabulary: %w", err)
	}
	if cfg.CategoryDictPath != "" {
		if g.CategoryDict, err = LoadCategoryDictionary(cfg.CategoryDictPath); err != nil {
			return g, fmt.Errorf("loading category dictionary: %w", err)
		}
	}

	slog.Default().With("component", "grammar").Info("grammar loaded",
		"source", cfg.Source,
		"unary_rules", len(g.Unary),
		"binary_pairs", len(g.Binary),
		"vocabulary", len(g.Vocabulary),
		"dictionary_words", len(g.CategoryDict),
	)
	return g, nil
}

// NewDecoder loads the grammar and builds a decoder from it, publishing the
// rule counts to m. source may be nil unless rules live in PostgreSQL.
func NewDecoder(ctx context.Context, cfg *config.Config, source RuleSource, m *metrics.Metrics, opts ...decoder.Option) (*decoder.Decoder, error) {
	g, err := Load(ctx, cfg.Grammar, source)
	if err != nil {
		return nil, err
	}
	dec, err := decoder.New(cfg.Decoder, g, opts...)
	if err != nil {
		return nil, err
	}
	unary, binary := dec.RuleCounts()
	m.ObserveGrammar(unary, binary, dec.Vocabulary().Len())
	slog.Default().With("component", "grammar").Info("decoder ready",
		"fingerprint", dec.Fingerprint(),
		"interned_categories", ccg.InternedCount(),
	)
	return dec, nil
}
