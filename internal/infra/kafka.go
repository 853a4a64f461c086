package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/segmentio/kafka-go"
)

// Message is one outbox event bound for Kafka.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// EventMessage renders an outbox row as a Kafka message. The key is the
// row's partition key, and the headers let consumers route on the event
// without decoding the body. Headers stored on the row are kept.
func EventMessage(row domain.OutboxRow) (Message, error) {
	value, err := json.Marshal(map[string]any{
		"event_id":       row.EventID,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID,
		"event_type":     row.EventType,
		"payload":        json.RawMessage(row.Payload),
		"occurred_at":    row.OccurredAt,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal event %s: %w", row.EventID, err)
	}

	headers := map[string]string{}
	if len(row.Headers) > 0 {
		if err := json.Unmarshal(row.Headers, &headers); err != nil {
			return Message{}, fmt.Errorf("decode headers of event %s: %w", row.EventID, err)
		}
	}
	headers["event_id"] = row.EventID.String()
	headers["event_type"] = string(row.EventType)
	headers["aggregate_type"] = string(row.AggregateType)
	headers["aggregate_id"] = row.AggregateID
	headers["content_type"] = "application/json"

	return Message{
		Topic:   Topic(row.AggregateType, row.EventType),
		Key:     row.PartitionKey,
		Value:   value,
		Headers: headers,
	}, nil
}

// KafkaProducer wraps a kafka-go writer for publishing outbox events.
type KafkaProducer struct {
	writer  *kafka.Writer
	logger  *slog.Logger
	enabled bool
}

// NewKafkaProducer creates a Kafka producer. If brokers is empty or disabled, writes are no-ops.
// Messages are hash-partitioned by key so events for one player stay ordered.
func NewKafkaProducer(brokers string, enabled bool, logger *slog.Logger) *KafkaProducer {
	if !enabled || brokers == "" {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{enabled: false, logger: logger}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	logger.Info("kafka producer initialized", "brokers", brokers)
	return &KafkaProducer{writer: w, logger: logger, enabled: true}
}

// Publish sends msg. No-op if disabled.
func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	if !p.enabled {
		return nil
	}
	return p.writer.WriteMessages(ctx, toKafka(msg))
}

func toKafka(msg Message) kafka.Message {
	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	slices.Sort(names)

	headers := make([]kafka.Header, 0, len(names))
	for _, name := range names {
		headers = append(headers, kafka.Header{Key: name, Value: []byte(msg.Headers[name])})
	}
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	}
}

// Close shuts down the Kafka writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
