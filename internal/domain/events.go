package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewWalletEntryPostedEvent creates the standard wallet event for a ledger entry.
func NewWalletEntryPostedEvent(entry *WalletEntry) OutboxDraft {
	payload, _ := json.Marshal(entry)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateWallet,
		AggregateID:   entry.PlayerID.String(),
		EventType:     EventWalletEntryPosted,
		PartitionKey:  entry.PlayerID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewCallbackFinalizedEvent records the final outcome of a deduplicated callback.
func NewCallbackFinalizedEvent(key CallbackKey, kind ErrorKind, success bool) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"provider":       key.Provider,
		"action":         key.Action,
		"transaction_id": key.TransactionID,
		"success":        success,
		"error_kind":     kind,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateCallback,
		AggregateID:   key.String(),
		EventType:     EventCallbackFinalized,
		PartitionKey:  key.TransactionID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewRoundCompensatedEvent records a bet voided after a failed debit.
func NewRoundCompensatedEvent(bet *Bet, reason string) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"provider":       bet.Provider,
		"round_id":       bet.RoundID,
		"transaction_id": bet.TransactionID,
		"player_id":      bet.PlayerID.String(),
		"stake":          FormatMoney(bet.Stake),
		"reason":         reason,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateRound,
		AggregateID:   bet.RoundID,
		EventType:     EventRoundCompensated,
		PartitionKey:  bet.PlayerID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewSessionRevokedEvent records a provider-initiated logout.
func NewSessionRevokedEvent(sessionID, playerID uuid.UUID, clientID int64) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"session_id": sessionID.String(),
		"player_id":  playerID.String(),
		"client_id":  clientID,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateSession,
		AggregateID:   sessionID.String(),
		EventType:     EventSessionRevoked,
		PartitionKey:  playerID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}
