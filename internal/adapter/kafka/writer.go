// Package kafka publishes cycle recommendations to a Kafka topic for
// downstream consumers. The sink is optional and feature-flagged in config.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-watch-service/internal/config"
	"github.com/couchcryptid/quake-watch-service/internal/domain"
)

// Writer produces recommendation messages to a Kafka topic.
// It implements orchestrator.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishRecommendations serializes and publishes all of a snapshot's
// recommendations in a single WriteMessages call.
func (w *Writer) PublishRecommendations(ctx context.Context, snap *domain.Snapshot) error {
	if len(snap.Recommendations) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(snap.Recommendations))
	for i := range snap.Recommendations {
		msg, err := serializeRecommendation(snap.Recommendations[i], snap.Sequence)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeRecommendation marshals a Recommendation into a Kafka message.
func serializeRecommendation(rec domain.Recommendation, sequence uint64) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize recommendation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "rule", Value: []byte(rec.Rule)},
			{Key: "severity", Value: []byte(rec.Severity.String())},
			{Key: "cycle_sequence", Value: []byte(strconv.FormatUint(sequence, 10))},
			{Key: "generated_at", Value: []byte(rec.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
