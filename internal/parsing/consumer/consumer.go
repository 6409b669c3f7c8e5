// Package consumer reads batch parse requests from Kafka, decodes them on
// the decoder's worker pool and publishes the results, optionally storing
// them in PostgreSQL.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/parsing/validator"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/pkg/tracing"
)

// ResultStore persists the results of one request batch.
type ResultStore interface {
	SaveBatch(ctx context.Context, batchID string, reqs []parsing.ParseRequest, results []parsing.ParseResponse) error
}

// ParseConsumer wraps a Kafka consumer to drive the parse worker.
type ParseConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *ParseConsumer {
	return &ParseConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("parse-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (pc *ParseConsumer) Start(ctx context.Context) error {
	pc.logger.Info("parse consumer starting")
	return pc.consumer.Start(ctx)
}

// Options configures HandleMessage. Store and Metrics may be nil.
type Options struct {
	Limits  validator.Limits
	Retry   resilience.RetryConfig
	Store   ResultStore
	Metrics *metrics.Metrics
}

// HandleMessage returns a MessageHandler that decodes every sentence of a
// RequestEvent and publishes one ResultEvent. Sentences that fail
// validation are reported as failed without being decoded. The message is
// retried by Kafka only when the result cannot be published.
func HandleMessage(svc *parsing.Service, results kafka.Publisher, opts Options) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		log := logger.FromContext(ctx).With("component", "parse-consumer")
		event, err := kafka.DecodeJSON[parsing.RequestEvent](msg.Value)
		if err != nil {
			log.Error("failed to decode parse request",
				"error", err,
				"offset", msg.Offset,
			)
			opts.Metrics.ObserveKafka(msg.Topic, "skipped")
			return nil
		}
		if event.BatchID == "" {
			event.BatchID = uuid.NewString()
		}

		ctx, root := tracing.StartSpan(ctx, "parse-batch", event.BatchID)
		defer func() {
			root.End()
			root.Log(log)
		}()

		_, span := tracing.StartChild(ctx, "decode")
		out := decodeBatch(ctx, svc, event.Sentences, opts.Limits)
		span.SetAttr("sentences", len(out))
		span.End()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result := parsing.ResultEvent{
			BatchID:     event.BatchID,
			Results:     out,
			CompletedAt: time.Now().UTC(),
		}
		_, span = tracing.StartChild(ctx, "publish")
		err = resilience.Retry(ctx, "publish-parse-results", opts.Retry, func() error {
			return results.Publish(ctx, kafka.Event{Key: event.BatchID, Value: result})
		})
		span.End()
		if err != nil {
			opts.Metrics.ObserveKafka(msg.Topic, "retry")
			return fmt.Errorf("publishing results of batch %s: %w", event.BatchID, err)
		}

		if opts.Store != nil {
			_, span = tracing.StartChild(ctx, "store")
			if err := opts.Store.SaveBatch(ctx, event.BatchID, event.Sentences, out); err != nil {
				span.SetAttr("error", err.Error())
				log.Error("failed to store parse results",
					"batch_id", event.BatchID,
					"error", err,
				)
			}
			span.End()
		}

		opts.Metrics.ObserveKafka(msg.Topic, "ok")
		log.Info("parse batch processed",
			"batch_id", event.BatchID,
			"sentences", len(out),
		)
		return nil
	}
}

// decodeBatch validates each sentence on its own and decodes the valid ones
// together, keeping input order.
func decodeBatch(ctx context.Context, svc *parsing.Service, reqs []parsing.ParseRequest, limits validator.Limits) []parsing.ParseResponse {
	out := make([]parsing.ParseResponse, len(reqs))
	valid := make([]parsing.ParseRequest, 0, len(reqs))
	positions := make([]int, 0, len(reqs))
	for i := range reqs {
		err := validator.ValidateParseRequest(&reqs[i], limits)
		if err != nil {
			out[i] = failed(len(reqs[i].Sentence), err)
			continue
		}
		valid = append(valid, reqs[i])
		positions = append(positions, i)
	}
	for j, resp := range svc.ParseBatch(ctx, valid) {
		out[positions[j]] = resp
	}
	return out
}

func failed(tokens int, err error) parsing.ParseResponse {
	var validationErr *validator.ValidationError
	msg := err.Error()
	if errors.As(err, &validationErr) {
		msg = "validation failed: " + validationErr.Error()
	}
	return parsing.ParseResponse{
		Status:      "failed",
		Tokens:      tokens,
		Derivations: []parsing.Derivation{},
		Error:       msg,
	}
}
