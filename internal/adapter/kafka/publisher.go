// Package kafka publishes composite summaries to a sink topic so
// downstream consumers learn about new artifacts without polling the
// filesystem.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/atmos-regrid/internal/aggregate"
	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// Summary is the wire form of one finalized composite.
type Summary struct {
	Bucket     string    `json:"bucket"`
	Period     string    `json:"period"`
	Start      time.Time `json:"start"`
	Path       string    `json:"path"`
	Frames     int       `json:"frames"`
	ValidCells int       `json:"valid_cells"`
}

// Publisher produces composite summaries to a Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a producer for the configured sink topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish emits one message per written composite in a single
// WriteMessages call. Skipped and failed buckets produce no message.
func (p *Publisher) Publish(ctx context.Context, results []aggregate.Result) error {
	msgs := make([]kafkago.Message, 0, len(results))
	for _, r := range results {
		if r.Skipped || r.Err != nil {
			continue
		}
		msg, err := serializeResult(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	p.logger.Info("composite summaries published", "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeResult marshals a finalized composite into a Kafka message
// keyed by bucket so repeated runs for the same bucket land on the
// same partition.
func serializeResult(r aggregate.Result) (kafkago.Message, error) {
	s := Summary{
		Bucket:     r.Bucket.Key(),
		Period:     string(r.Bucket.Period),
		Start:      r.Bucket.Start,
		Path:       r.Path,
		Frames:     r.Frames,
		ValidCells: r.ValidCells,
	}
	data, err := json.Marshal(s)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize composite summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(r.Bucket.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "period", Value: []byte(r.Bucket.Period)},
			{Key: "published_at", Value: []byte(domain.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}
