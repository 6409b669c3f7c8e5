package parsing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/decoder"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
)

// Tracker receives one telemetry event per decoded sentence.
type Tracker interface {
	Track(event analytics.ParseEvent)
}

// Service decodes sentences and renders charts as responses. Metrics and
// tracker may be nil.
type Service struct {
	decoder        *decoder.Decoder
	maxDerivations int
	metrics        *metrics.Metrics
	tracker        Tracker
	logger         *slog.Logger
}

func NewService(dec *decoder.Decoder, cfg config.ParsingConfig, m *metrics.Metrics, tracker Tracker) *Service {
	maxDerivations := cfg.MaxDerivations
	if maxDerivations <= 0 {
		maxDerivations = 1
	}
	return &Service{
		decoder:        dec,
		maxDerivations: maxDerivations,
		metrics:        m,
		tracker:        tracker,
		logger:         logger.WithComponent("parse-service"),
	}
}

// Fingerprint identifies the decoder configuration and grammar; cached
// responses are only valid for the same fingerprint.
func (s *Service) Fingerprint() string { return s.decoder.Fingerprint() }

func (s *Service) VocabularySize() int { return s.decoder.Vocabulary().Len() }

// Parse decodes one sentence. Timeouts and sentences without a derivation
// are reported through ParseResponse.Status; only unusable input and
// internal failures return an error.
func (s *Service) Parse(ctx context.Context, req ParseRequest) (*ParseResponse, error) {
	start := time.Now()
	chart, err := s.decoder.Decode(ctx, req.Sentence, req.Scores)
	status := decoder.Classify(chart, err)
	elapsed := time.Since(start)
	if status == decoder.StatusFailed {
		s.metrics.ObserveDecode(string(decoder.ModeDecode), string(status), len(req.Sentence), 0, elapsed)
		return nil, classifyError(err)
	}
	resp := s.respond(chart, status, len(req.Sentence), elapsed)
	s.observe(ctx, analytics.EventParse, decoder.ModeDecode, resp)
	return resp, nil
}

// ParseBatch decodes every sentence on the decoder's worker pool. A failed
// sentence is reported in its own response and never fails the batch.
func (s *Service) ParseBatch(ctx context.Context, reqs []ParseRequest) []ParseResponse {
	sentences := make([][]string, len(reqs))
	tables := make([][][]float64, len(reqs))
	for i, r := range reqs {
		sentences[i] = r.Sentence
		tables[i] = r.Scores
	}
	results := s.decoder.BatchDecode(ctx, sentences, tables)

	out := make([]ParseResponse, len(results))
	for i, res := range results {
		resp := s.respond(res.Chart, res.Status, len(reqs[i].Sentence), res.Elapsed)
		if res.Err != nil && res.Status == decoder.StatusFailed {
			resp.Error = res.Err.Error()
		}
		s.observe(ctx, analytics.EventBatch, decoder.ModeDecode, resp)
		out[i] = *resp
	}
	s.logger.Debug("batch decoded", "sentences", len(reqs))
	return out
}

// Sanity runs a diagnostic decode. In sanity mode every word is forced to
// its gold supertag; in decode mode the model scores are decoded as usual.
func (s *Service) Sanity(ctx context.Context, req SanityRequest) (*SanityResponse, error) {
	mode, err := decoder.ParseMode(req.Mode)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
	}

	var trace bytes.Buffer
	var w io.Writer
	if req.Trace {
		w = &trace
	}
	start := time.Now()
	var chart *decoder.Chart
	if mode == decoder.ModeSanity {
		chart, err = s.decoder.SanityCheck(ctx, req.Sentence, req.Supertags, w)
	} else {
		chart, err = s.decoder.Decode(ctx, req.Sentence, req.Scores)
	}
	status := decoder.Classify(chart, err)
	elapsed := time.Since(start)
	if status == decoder.StatusFailed {
		s.metrics.ObserveDecode(string(mode), string(status), len(req.Sentence), 0, elapsed)
		return nil, classifyError(err)
	}

	resp := &SanityResponse{
		ParseResponse: *s.respond(chart, status, len(req.Sentence), elapsed),
		Mode:          string(mode),
	}
	if trace.Len() > 0 {
		resp.Trace = strings.Split(strings.TrimRight(trace.String(), "\n"), "\n")
	}
	s.observe(ctx, analytics.EventSanity, mode, &resp.ParseResponse)
	return resp, nil
}

// RecordCached reports a response served from the cache.
func (s *Service) RecordCached(ctx context.Context, resp *ParseResponse) {
	if s.tracker == nil {
		return
	}
	event := s.event(ctx, analytics.EventParse, resp)
	event.CacheHit = true
	s.tracker.Track(event)
}

func (s *Service) respond(chart *decoder.Chart, status decoder.Status, tokens int, elapsed time.Duration) *ParseResponse {
	resp := &ParseResponse{
		Status:      string(status),
		Tokens:      tokens,
		Derivations: []Derivation{},
		ElapsedMs:   elapsed.Milliseconds(),
	}
	if status != decoder.StatusParsed || chart == nil {
		return resp
	}
	items := append([]decoder.CellItem(nil), chart.Top().Items()...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > s.maxDerivations {
		items = items[:s.maxDerivations]
	}
	for _, it := range items {
		resp.Derivations = append(resp.Derivations, Derivation{
			Category: it.Constituent.Tag.String(),
			Score:    it.Score,
			Tree:     it.Constituent.String(),
		})
	}
	best := resp.Derivations[0]
	resp.Best = &best
	return resp
}

func (s *Service) observe(ctx context.Context, typ analytics.EventType, mode decoder.Mode, resp *ParseResponse) {
	s.metrics.ObserveDecode(string(mode), resp.Status, resp.Tokens, len(resp.Derivations), time.Duration(resp.ElapsedMs)*time.Millisecond)
	if resp.Status == string(decoder.StatusTimeout) {
		logger.FromContext(ctx).Warn("decode timed out",
			"tokens", resp.Tokens,
			"elapsed_ms", resp.ElapsedMs,
		)
	}
	if s.tracker != nil {
		s.tracker.Track(s.event(ctx, typ, resp))
	}
}

func (s *Service) event(ctx context.Context, typ analytics.EventType, resp *ParseResponse) analytics.ParseEvent {
	event := analytics.ParseEvent{
		Type:        typ,
		Status:      resp.Status,
		Tokens:      resp.Tokens,
		Derivations: len(resp.Derivations),
		LatencyMs:   resp.ElapsedMs,
		Timestamp:   time.Now().UTC(),
	}
	if resp.Best != nil {
		event.Category = resp.Best.Category
	}
	if id, ok := logger.RequestID(ctx); ok {
		event.RequestID = id
	}
	return event
}

// classifyError maps decoder and category errors onto service errors.
func classifyError(err error) error {
	switch {
	case errors.Is(err, decoder.ErrInvalidInput),
		errors.Is(err, decoder.ErrInvalidMode),
		errors.Is(err, ccg.ErrMalformedCategory):
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("decode abandoned: %w", apperrors.ErrTimeout)
	default:
		return fmt.Errorf("decode failed: %v: %w", err, apperrors.ErrInternal)
	}
}
