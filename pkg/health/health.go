// Package health answers liveness and readiness probes for the parser
// services. Readiness runs every registered dependency check at once and
// echoes the fingerprint of the grammar the replica decodes with, so a
// rollout can confirm that all replicas loaded the same rules.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status is the state of one dependency or of the whole service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

var severity = map[Status]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}

// worse returns whichever of a and b is further from up.
func worse(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth is the outcome of one Check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the body of a readiness response.
type Report struct {
	Status     Status                     `json:"status"`
	Grammar    string                     `json:"grammar,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker holds the checks of one service.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	grammar string
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker returns a Checker with no checks and a 5s readiness budget.
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetGrammar records the decoder fingerprint reported by readiness.
func (c *Checker) SetGrammar(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grammar = fingerprint
}

type outcome struct {
	name   string
	health ComponentHealth
}

// Run executes every check concurrently. The report status is the worst
// component status; an empty Checker is up.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	grammar := c.grammar
	c.mu.RUnlock()

	results := make(chan outcome, len(checks))
	var wg sync.WaitGroup
	for name, check := range checks {
		name, check := name, check
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			h := check(ctx)
			h.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- outcome{name: name, health: h}
		}()
	}
	wg.Wait()
	close(results)

	report := Report{
		Status:     StatusUp,
		Grammar:    grammar,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for o := range results {
		report.Components[o.name] = o.health
		report.Status = worse(report.Status, o.health.Status)
		if o.health.Status == StatusDown {
			c.logger.Warn("dependency down", "name", o.name, "message", o.health.Message)
		}
	}
	return report
}

// LiveHandler answers 200 while the process is serving at all.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 200 unless a required dependency is down. A degraded
// report, such as one with the cache unreachable, still takes traffic.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()
		report := c.Run(ctx)
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
