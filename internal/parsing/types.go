// Package parsing defines the request/response types and Kafka event schemas
// of the parse service, and the Service that turns decoder charts into
// responses.
package parsing

import "time"

// ParseRequest is one pre-tokenised sentence and its supertagger output:
// Scores[i][c] is the probability of vocabulary column c for token i.
type ParseRequest struct {
	Sentence []string    `json:"sentence"`
	Scores   [][]float64 `json:"scores"`
}

// BatchParseRequest is the JSON body of POST /api/v1/parse/batch.
type BatchParseRequest struct {
	Sentences []ParseRequest `json:"sentences"`
}

// SanityRequest decodes gold supertags (mode "sanity") or model scores
// (mode "decode").
type SanityRequest struct {
	Sentence  []string    `json:"sentence"`
	Supertags []string    `json:"supertags,omitempty"`
	Scores    [][]float64 `json:"scores,omitempty"`
	Mode      string      `json:"mode"`
	Trace     bool        `json:"trace,omitempty"`
}

// Derivation is one full-sentence analysis from the top chart cell.
type Derivation struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Tree     string  `json:"tree"`
}

// ParseResponse is the outcome of one sentence.
type ParseResponse struct {
	Status      string       `json:"status"`
	Tokens      int          `json:"tokens"`
	Best        *Derivation  `json:"best,omitempty"`
	Derivations []Derivation `json:"derivations"`
	ElapsedMs   int64        `json:"elapsed_ms"`
	Cached      bool         `json:"cached"`
	Error       string       `json:"error,omitempty"`
}

type BatchParseResponse struct {
	Results   []ParseResponse `json:"results"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

type SanityResponse struct {
	ParseResponse
	Mode  string   `json:"mode"`
	Trace []string `json:"trace,omitempty"`
}

// RequestEvent is the Kafka payload consumed by the parse worker.
type RequestEvent struct {
	BatchID     string         `json:"batch_id"`
	Sentences   []ParseRequest `json:"sentences"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// ResultEvent is published once every sentence of a RequestEvent has been
// decoded. Results keep the order of RequestEvent.Sentences.
type ResultEvent struct {
	BatchID     string          `json:"batch_id"`
	Results     []ParseResponse `json:"results"`
	CompletedAt time.Time       `json:"completed_at"`
}
