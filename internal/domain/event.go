package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventWalletEntryPosted EventType = "wallet.entry.posted"
	EventCallbackFinalized EventType = "callback.finalized"
	EventRoundCompensated  EventType = "round.compensated"
	EventSessionRevoked    EventType = "session.revoked"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateWallet   AggregateType = "wallet"
	AggregateCallback AggregateType = "callback"
	AggregateRound    AggregateType = "round"
	AggregateSession  AggregateType = "session"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// OutboxRow is an event_outbox row as read back by the relay.
type OutboxRow struct {
	SeqID int64
	OutboxDraft
}
