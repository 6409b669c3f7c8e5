// Package metrics defines the Prometheus collectors used by the parser
// services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the parser.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	DecodesTotal         *prometheus.CounterVec
	DecodeLatency        *prometheus.HistogramVec
	SentenceTokens       prometheus.Histogram
	TopCellItems         prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	KafkaMessagesTotal   *prometheus.CounterVec
	ResultsPersisted     *prometheus.CounterVec
	GrammarRules         *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg, or with the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DecodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccg_decodes_total",
				Help: "Sentences decoded by outcome (parsed, no_derivation, timeout, failed).",
			},
			[]string{"status"},
		),
		DecodeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccg_decode_latency_seconds",
				Help:    "Per-sentence decode latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
			[]string{"mode"},
		),
		SentenceTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ccg_sentence_tokens",
				Help:    "Number of tokens per decoded sentence.",
				Buckets: []float64{1, 5, 10, 20, 30, 50, 80, 120, 250},
			},
		),
		TopCellItems: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ccg_top_cell_items",
				Help:    "Number of full-sentence derivations kept in the top chart cell.",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of parse cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of parse cache misses.",
			},
		),
		KafkaMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_processed_total",
				Help: "Kafka messages handled by topic and result.",
			},
			[]string{"topic", "result"},
		),
		ResultsPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccg_results_persisted_total",
				Help: "Parse results written to PostgreSQL by status.",
			},
			[]string{"status"},
		),
		GrammarRules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ccg_grammar_rules",
				Help: "Loaded instantiated rules by kind (unary, binary, vocabulary).",
			},
			[]string{"kind"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DecodesTotal,
		m.DecodeLatency,
		m.SentenceTokens,
		m.TopCellItems,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.KafkaMessagesTotal,
		m.ResultsPersisted,
		m.GrammarRules,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
