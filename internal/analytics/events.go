// Package analytics collects parse telemetry. The parse service publishes a
// ParseEvent per sentence to Kafka; the aggregator consumes the topic and
// serves running totals and latency percentiles.
package analytics

import "time"

type EventType string

const (
	EventParse  EventType = "parse"
	EventBatch  EventType = "batch"
	EventSanity EventType = "sanity"
)

// ParseEvent describes one decoded sentence.
type ParseEvent struct {
	Type        EventType `json:"type"`
	Status      string    `json:"status"`
	Tokens      int       `json:"tokens"`
	Derivations int       `json:"derivations"`
	Category    string    `json:"category,omitempty"`
	LatencyMs   int64     `json:"latency_ms"`
	CacheHit    bool      `json:"cache_hit"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}
