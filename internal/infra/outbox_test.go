package infra

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutboxStore struct {
	rows   []domain.OutboxRow
	marked []int64
	err    error
}

func (s *fakeOutboxStore) FetchUnpublished(_ context.Context, limit int) ([]domain.OutboxRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *fakeOutboxStore) MarkPublished(_ context.Context, ids []int64) error {
	s.marked = append(s.marked, ids...)
	return nil
}

type fakePublisher struct {
	topics []string
	sent   []Message
	failOn map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, msg Message) error {
	if p.failOn[msg.Key] {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, msg.Topic)
	p.sent = append(p.sent, msg)
	return nil
}

func outboxRow(seq int64, key string) domain.OutboxRow {
	return domain.OutboxRow{
		SeqID: seq,
		OutboxDraft: domain.OutboxDraft{
			EventID:       uuid.New(),
			AggregateType: domain.AggregateWallet,
			AggregateID:   key,
			EventType:     domain.EventWalletEntryPosted,
			PartitionKey:  key,
			Payload:       []byte(`{}`),
			OccurredAt:    time.Now(),
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOutboxPoller_PublishesAndMarks(t *testing.T) {
	store := &fakeOutboxStore{rows: []domain.OutboxRow{outboxRow(1, "p1"), outboxRow(2, "p2")}}
	pub := &fakePublisher{}
	p := NewOutboxPoller(store, pub, NewMetrics(prometheus.NewRegistry()), time.Second, 10, discardLogger())

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, store.marked)
	assert.Equal(t, "gamecallback.wallet.wallet.entry.posted", pub.topics[0])
}

func TestOutboxPoller_FailedPublishStaysUnmarked(t *testing.T) {
	store := &fakeOutboxStore{rows: []domain.OutboxRow{outboxRow(1, "p1"), outboxRow(2, "bad")}}
	pub := &fakePublisher{failOn: map[string]bool{"bad": true}}
	p := NewOutboxPoller(store, pub, nil, time.Second, 10, discardLogger())

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.marked)
}

func TestOutboxPoller_FetchError(t *testing.T) {
	store := &fakeOutboxStore{err: errors.New("db down")}
	p := NewOutboxPoller(store, &fakePublisher{}, nil, time.Second, 10, discardLogger())

	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.marked)
}

func TestOutboxPoller_RespectsBatchSize(t *testing.T) {
	store := &fakeOutboxStore{rows: []domain.OutboxRow{outboxRow(1, "a"), outboxRow(2, "b"), outboxRow(3, "c")}}
	p := NewOutboxPoller(store, &fakePublisher{}, nil, time.Second, 2, discardLogger())

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestKafkaProducer_DisabledIsNoop(t *testing.T) {
	p := NewKafkaProducer("", false, discardLogger())
	require.NoError(t, p.Publish(context.Background(), Message{Topic: "t"}))
	require.NoError(t, p.Close())
}

func TestEventMessage_KeysAndHeaders(t *testing.T) {
	row := outboxRow(7, "player-1")
	row.AggregateType = domain.AggregateCallback
	row.EventType = domain.EventCallbackFinalized
	row.Payload = []byte(`{"outcome":"InsufficientFunds"}`)

	msg, err := EventMessage(row)
	require.NoError(t, err)
	assert.Equal(t, "gamecallback.callback.callback.finalized", msg.Topic)
	assert.Equal(t, "player-1", msg.Key)
	assert.Equal(t, "callback.finalized", msg.Headers["event_type"])
	assert.Equal(t, row.EventID.String(), msg.Headers["event_id"])
	assert.Contains(t, string(msg.Value), `"payload":{"outcome":"InsufficientFunds"}`)

	km := toKafka(msg)
	assert.Equal(t, []byte("player-1"), km.Key)
	require.Len(t, km.Headers, 5)
	assert.Equal(t, "aggregate_id", km.Headers[0].Key)
	assert.Equal(t, "event_type", km.Headers[4].Key)
}
