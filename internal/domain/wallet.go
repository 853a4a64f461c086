package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind enumerates wallet ledger entry kinds.
type EntryKind string

const (
	EntryDebit  EntryKind = "debit"
	EntryCredit EntryKind = "credit"
	EntryRefund EntryKind = "refund"
)

// WalletEntry is the before/after balance snapshot of one debit or credit.
type WalletEntry struct {
	ID                    uuid.UUID       `json:"id"`
	PlayerID              uuid.UUID       `json:"player_id"`
	ClientID              int64           `json:"client_id"`
	Kind                  EntryKind       `json:"kind"`
	Amount                decimal.Decimal `json:"amount"`
	BalanceBefore         decimal.Decimal `json:"balance_before"`
	BalanceAfter          decimal.Decimal `json:"balance_after"`
	Provider              Provider        `json:"provider"`
	ExternalTransactionID string          `json:"external_transaction_id"`
	RoundID               string          `json:"round_id,omitempty"`
	Metadata              json.RawMessage `json:"metadata"`
	CreatedAt             time.Time       `json:"created_at"`
}

// WalletKey is the composite key the wallet deduplicates on.
type WalletKey struct {
	PlayerID              uuid.UUID
	Provider              Provider
	ExternalTransactionID string
	Kind                  EntryKind
}

// WalletCommand is the input to Debit and Credit.
type WalletCommand struct {
	PlayerID      uuid.UUID
	ClientID      int64
	Amount        decimal.Decimal
	Provider      Provider
	TransactionID string
	RoundID       string
	GameID        string
	Kind          EntryKind
}

// Key returns the wallet deduplication key for the command.
func (c WalletCommand) Key() WalletKey {
	return WalletKey{
		PlayerID:              c.PlayerID,
		Provider:              c.Provider,
		ExternalTransactionID: c.TransactionID,
		Kind:                  c.Kind,
	}
}

// Metadata renders the audit metadata stored with a wallet entry.
func (c WalletCommand) Metadata() json.RawMessage {
	out, _ := json.Marshal(map[string]string{
		"game_id":  c.GameID,
		"round_id": c.RoundID,
	})
	return out
}

// WalletResult is returned by every wallet command.
type WalletResult struct {
	Entry   *WalletEntry
	Balance decimal.Decimal
	// Idempotent is true when the command matched an existing entry.
	Idempotent bool
}
