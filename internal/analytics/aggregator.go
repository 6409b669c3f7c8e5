package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/kafka"
)

// maxLatencies bounds the latency window used for percentiles.
const maxLatencies = 10000

type AggregatedStats struct {
	TotalSentences     int64            `json:"total_sentences"`
	ByStatus           map[string]int64 `json:"by_status"`
	ByType             map[string]int64 `json:"by_type"`
	CacheHits          int64            `json:"cache_hits"`
	CacheMisses        int64            `json:"cache_misses"`
	AvgTokens          float64          `json:"avg_tokens"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	P50LatencyMs       int64            `json:"p50_latency_ms"`
	P95LatencyMs       int64            `json:"p95_latency_ms"`
	P99LatencyMs       int64            `json:"p99_latency_ms"`
	TopCategories      []CategoryCount  `json:"top_categories"`
	SentencesPerMinute float64          `json:"sentences_per_minute"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// Aggregator keeps running totals over consumed ParseEvents.
type Aggregator struct {
	mu          sync.RWMutex
	total       int64
	byStatus    map[string]int64
	byType      map[string]int64
	cacheHits   int64
	cacheMisses int64
	tokens      int64
	latencies   []int64
	next        int
	categories  map[string]int64
	startTime   time.Time
	now         func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byStatus:   make(map[string]int64),
		byType:     make(map[string]int64),
		latencies:  make([]int64, 0, 1024),
		categories: make(map[string]int64),
		startTime:  time.Now(),
		now:        time.Now,
		logger:     slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes ParseEvents for a kafka.Consumer. Undecodable messages
// are logged and skipped so they never block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := kafka.DecodeJSON[ParseEvent](msg.Value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event",
				"offset", msg.Offset,
				"error", err,
			)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

func (a *Aggregator) Record(event ParseEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.byStatus[event.Status]++
	a.byType[string(event.Type)]++
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.tokens += int64(event.Tokens)
	if event.Category != "" {
		a.categories[event.Category]++
	}
	// ring buffer once the window is full
	if len(a.latencies) < maxLatencies {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencies
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSentences: a.total,
		ByStatus:       copyCounts(a.byStatus),
		ByType:         copyCounts(a.byType),
		CacheHits:      a.cacheHits,
		CacheMisses:    a.cacheMisses,
	}
	if a.total > 0 {
		stats.AvgTokens = float64(a.tokens) / float64(a.total)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopCategories = topN(a.categories, 10)
	elapsed := a.now().Sub(a.startTime).Minutes()
	if elapsed > 0 {
		stats.SentencesPerMinute = float64(stats.TotalSentences) / elapsed
	}

	return stats
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then by category so equal counts are stable.
func topN(counts map[string]int64, n int) []CategoryCount {
	result := make([]CategoryCount, 0, len(counts))
	for cat, count := range counts {
		result = append(result, CategoryCount{Category: cat, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Category < result[j].Category
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

// Restore seeds the counters from a persisted snapshot. Latency percentiles
// start empty again.
func (a *Aggregator) Restore(s AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = s.TotalSentences
	a.byStatus = copyCounts(s.ByStatus)
	a.byType = copyCounts(s.ByType)
	a.cacheHits = s.CacheHits
	a.cacheMisses = s.CacheMisses
	a.tokens = int64(s.AvgTokens*float64(s.TotalSentences) + 0.5)
	a.categories = make(map[string]int64, len(s.TopCategories))
	for _, c := range s.TopCategories {
		a.categories[c.Category] = c.Count
	}
}
