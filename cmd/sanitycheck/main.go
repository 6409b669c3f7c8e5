// Command sanitycheck measures how much of a gold-tagged corpus the loaded
// rules can derive.
//
// Each non-empty line of the gold file is one sentence of word|CATEGORY
// pairs separated by spaces. In sanity mode the gold categories are decoded
// directly; in decode mode they are turned into one-hot score rows over the
// tag vocabulary and run through the scored decoder.
//
// Usage:
//
//	go run ./cmd/sanitycheck -gold data/dev.gold [-mode sanity] [-trace]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/grammar"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/postgres"
)

type summary struct {
	total        int
	parsed       int
	noDerivation int
	timeout      int
	failed       int
	skipped      int
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	modeFlag := flag.String("mode", "sanity", "sanity or decode")
	goldPath := flag.String("gold", "", "gold supertagged corpus, one sentence per line")
	trace := flag.Bool("trace", false, "print every filled chart cell (sanity mode)")
	flag.Parse()

	mode, err := decoder.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	if *goldPath == "" {
		fmt.Fprintln(os.Stderr, "-gold is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source grammar.RuleSource
	if cfg.Grammar.Source == config.GrammarSourcePostgres {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		source = grammar.NewStore(db)
	}
	dec, err := grammar.NewDecoder(ctx, cfg, source, nil)
	if err != nil {
		slog.Error("failed to build decoder", "error", err)
		os.Exit(1)
	}

	f, err := os.Open(*goldPath)
	if err != nil {
		slog.Error("failed to open gold file", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	var traceOut io.Writer
	if *trace {
		traceOut = os.Stdout
	}
	s, err := run(ctx, dec, mode, f, traceOut)
	if err != nil {
		slog.Error("sanity check aborted", "error", err)
		os.Exit(1)
	}
	printReport(mode, s)
}

func run(ctx context.Context, dec *decoder.Decoder, mode decoder.Mode, r io.Reader, trace io.Writer) (summary, error) {
	var s summary
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		s.total++

		words, tags, err := splitGold(line)
		if err != nil {
			slog.Warn("skipping malformed line", "line", lineNo, "error", err)
			s.skipped++
			continue
		}

		var chart *decoder.Chart
		switch mode {
		case decoder.ModeSanity:
			if trace != nil {
				fmt.Fprintf(trace, "# line %d: %s\n", lineNo, strings.Join(words, " "))
			}
			chart, err = dec.SanityCheck(ctx, words, tags, trace)
		case decoder.ModeDecode:
			scores, ok := oneHot(dec.Vocabulary(), tags)
			if !ok {
				slog.Debug("gold category outside the tag vocabulary", "line", lineNo)
				s.skipped++
				continue
			}
			chart, err = dec.Decode(ctx, words, scores)
		}

		switch decoder.Classify(chart, err) {
		case decoder.StatusParsed:
			s.parsed++
		case decoder.StatusNoDerivation:
			s.noDerivation++
		case decoder.StatusTimeout:
			s.timeout++
		default:
			if errors.Is(err, context.Canceled) {
				return s, err
			}
			slog.Warn("sentence failed", "line", lineNo, "error", err)
			s.failed++
		}
	}
	return s, scanner.Err()
}

// splitGold splits "word|CAT word|CAT" into words and categories. The last
// '|' of each pair separates the word from its category.
func splitGold(line string) (words, tags []string, err error) {
	for _, pair := range strings.Fields(line) {
		i := strings.LastIndexByte(pair, '|')
		if i <= 0 || i == len(pair)-1 {
			return nil, nil, fmt.Errorf("pair %q is not word|CATEGORY", pair)
		}
		words = append(words, pair[:i])
		tags = append(tags, pair[i+1:])
	}
	return words, tags, nil
}

func oneHot(vocab *decoder.Vocabulary, tags []string) ([][]float64, bool) {
	scores := make([][]float64, len(tags))
	for i, tag := range tags {
		idx, ok := vocab.Index(tag)
		if !ok {
			return nil, false
		}
		scores[i] = make([]float64, vocab.Len())
		scores[i][idx] = 1
	}
	return scores, true
}

func printReport(mode decoder.Mode, s summary) {
	fmt.Println()
	fmt.Printf("=== Sanity Check (%s) ===\n", mode)
	fmt.Printf("Sentences:      %d\n", s.total)
	fmt.Printf("Parsed:         %d\n", s.parsed)
	fmt.Printf("No derivation:  %d\n", s.noDerivation)
	fmt.Printf("Timed out:      %d\n", s.timeout)
	fmt.Printf("Failed:         %d\n", s.failed)
	fmt.Printf("Skipped:        %d\n", s.skipped)
	if decoded := s.total - s.skipped; decoded > 0 {
		fmt.Printf("Coverage:       %.2f%%\n", float64(s.parsed)/float64(decoded)*100)
	}
}
