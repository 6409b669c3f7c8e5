// Command loadtest drives POST /api/v1/parse with generated sentences and
// reports throughput, latency percentiles, status codes and decode outcomes.
//
// Sentences are drawn from a fixed pool so repeated requests exercise the
// parse cache. Score rows put most of the mass on a random column.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Bodies      [][]byte
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
	outcomes      map[string]*atomic.Int64
	outcomesMu    sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
		outcomes:    make(map[string]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func (s *Stats) RecordOutcome(status string, cached bool) {
	if cached {
		s.cacheHits.Add(1)
	}
	s.outcomesMu.Lock()
	if _, ok := s.outcomes[status]; !ok {
		s.outcomes[status] = &atomic.Int64{}
	}
	s.outcomes[status].Add(1)
	s.outcomesMu.Unlock()
}

type parseRequest struct {
	Sentence []string    `json:"sentence"`
	Scores   [][]float64 `json:"scores"`
}

type parseResponse struct {
	Status string `json:"status"`
	Cached bool   `json:"cached"`
}

var words = []string{
	"the", "a", "cat", "dog", "sat", "saw", "on", "mat", "quickly", "and",
	"parser", "reads", "every", "sentence", "with", "care", "birds", "fly",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the parser service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	vocabSize := flag.Int("vocab", 425, "number of supertag columns the service expects")
	pool := flag.Int("sentences", 50, "distinct sentences to cycle through")
	maxLen := flag.Int("max-tokens", 20, "maximum sentence length")
	seed := flag.Int64("seed", 1, "random seed for generated sentences")
	flag.Parse()

	if *vocabSize <= 0 || *pool <= 0 || *maxLen <= 0 {
		fmt.Fprintln(os.Stderr, "-vocab, -sentences and -max-tokens must be positive")
		os.Exit(2)
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Bodies:      generateBodies(rand.New(rand.NewSource(*seed)), *pool, *maxLen, *vocabSize),
	}

	fmt.Println("=== CCG Parser Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Sentences:   %d unique, up to %d tokens\n", len(cfg.Bodies), *maxLen)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func generateBodies(rng *rand.Rand, n, maxLen, vocabSize int) [][]byte {
	bodies := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		length := 1 + rng.Intn(maxLen)
		req := parseRequest{
			Sentence: make([]string, length),
			Scores:   make([][]float64, length),
		}
		for t := 0; t < length; t++ {
			req.Sentence[t] = words[rng.Intn(len(words))]
			req.Scores[t] = scoreRow(rng, vocabSize)
		}
		body, err := json.Marshal(req)
		if err != nil {
			panic(fmt.Sprintf("encoding request: %v", err))
		}
		bodies = append(bodies, body)
	}
	return bodies
}

// scoreRow puts 0.7 on one column and spreads the rest over two others.
func scoreRow(rng *rand.Rand, vocabSize int) []float64 {
	row := make([]float64, vocabSize)
	row[rng.Intn(vocabSize)] += 0.7
	row[rng.Intn(vocabSize)] += 0.2
	row[rng.Intn(vocabSize)] += 0.1
	return row
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	parseURL := cfg.BaseURL + "/api/v1/parse"
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			bodyIdx := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				body := cfg.Bodies[bodyIdx%len(cfg.Bodies)]
				bodyIdx++

				start := time.Now()
				resp, err := client.Do(mustNewRequest(ctx, parseURL, body))
				duration := time.Since(start)

				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(duration, 0, err)
					}
					continue
				}
				var parsed parseResponse
				if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&parsed) == nil {
					stats.RecordOutcome(parsed.Status, parsed.Cached)
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func mustNewRequest(ctx context.Context, rawURL string, body []byte) *http.Request {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	fmt.Println()
	fmt.Println("=== Decode Outcomes ===")
	stats.outcomesMu.Lock()
	outcomes := make([]string, 0, len(stats.outcomes))
	for status := range stats.outcomes {
		outcomes = append(outcomes, status)
	}
	sort.Strings(outcomes)
	for _, status := range outcomes {
		fmt.Printf("  %s: %d\n", status, stats.outcomes[status].Load())
	}
	stats.outcomesMu.Unlock()
	if success > 0 {
		fmt.Printf("  cache hits: %d (%.1f%%)\n", stats.cacheHits.Load(), float64(stats.cacheHits.Load())/float64(success)*100)
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
