package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
)

// TopicPrefix namespaces every Kafka topic the relay publishes to.
const TopicPrefix = "gamecallback"

// OutboxStore reads and acknowledges event_outbox rows.
type OutboxStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxRow, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// Publisher sends one message to its topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// OutboxPoller polls the event_outbox table and publishes events to Kafka.
type OutboxPoller struct {
	store     OutboxStore
	producer  Publisher
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(store OutboxStore, producer Publisher, metrics *Metrics, interval time.Duration, batchSize int, logger *slog.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxPoller{
		store:     store,
		producer:  producer,
		metrics:   metrics,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// Poll publishes one batch and returns how many events were acknowledged.
// Events that fail to publish stay in the outbox for the next poll.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	rows, err := p.store.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(rows))
	for _, row := range rows {
		msg, err := EventMessage(row)
		if err != nil {
			p.logger.Error("outbox marshal failed", "event_id", row.EventID, "error", err)
			continue
		}

		if err := p.producer.Publish(ctx, msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", row.EventID, "topic", msg.Topic, "error", err)
			continue
		}
		published = append(published, row.SeqID)
	}

	if len(published) == 0 {
		return 0, nil
	}
	if err := p.store.MarkPublished(ctx, published); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}

	p.metrics.ObserveOutboxPublished(len(published))
	p.logger.Debug("outbox poll complete", "published", len(published))
	return len(published), nil
}

// Topic returns the Kafka topic for an aggregate/event pair.
func Topic(aggregate domain.AggregateType, event domain.EventType) string {
	return TopicPrefix + "." + string(aggregate) + "." + string(event)
}
