package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/config"
)

// StartServer serves /metrics on its own port. When metrics are disabled it
// starts nothing and the returned shutdown is a no-op.
func StartServer(cfg config.MetricsConfig) (shutdown func(context.Context) error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>CCG Parser Metrics</h1><p><a href="/metrics">/metrics</a></p></body></html>`)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger := slog.Default().With("component", "metrics")
	go func() {
		logger.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}

// ObserveDecode records one decoded sentence. A nil receiver records
// nothing so callers may run without metrics.
func (m *Metrics) ObserveDecode(mode, status string, tokens, topItems int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DecodesTotal.WithLabelValues(status).Inc()
	m.DecodeLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.SentenceTokens.Observe(float64(tokens))
	m.TopCellItems.Observe(float64(topItems))
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// ObserveGrammar publishes the size of the loaded grammar.
func (m *Metrics) ObserveGrammar(unary, binary, vocabulary int) {
	if m == nil {
		return
	}
	m.GrammarRules.WithLabelValues("unary").Set(float64(unary))
	m.GrammarRules.WithLabelValues("binary").Set(float64(binary))
	m.GrammarRules.WithLabelValues("vocabulary").Set(float64(vocabulary))
}

// ObserveKafka counts one handled message; result is "ok", "retry" or
// "skipped".
func (m *Metrics) ObserveKafka(topic, result string) {
	if m == nil {
		return
	}
	m.KafkaMessagesTotal.WithLabelValues(topic, result).Inc()
}

// ObservePersisted counts parse results written to the result store.
func (m *Metrics) ObservePersisted(status string, n int) {
	if m == nil {
		return
	}
	m.ResultsPersisted.WithLabelValues(status).Add(float64(n))
}

// ObserveBreaker publishes a breaker state (0 closed, 1 open, 2 half-open).
func (m *Metrics) ObserveBreaker(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
