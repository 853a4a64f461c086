package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundStatus tracks a game round through the bet ledger.
type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundWon       RoundStatus = "won"
	RoundLost      RoundStatus = "lost"
	RoundCancelled RoundStatus = "cancelled"
)

// BetStatus tracks one bet transaction inside a round.
type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetSettled   BetStatus = "settled"
	BetCancelled BetStatus = "cancelled"
)

// GameRound is one play unit. It accumulates bets and settlements until it
// is closed. Closed is monotonic: once true it is never reset, and no bet,
// settlement or cancellation applies to it afterwards.
type GameRound struct {
	ID       uuid.UUID
	Provider Provider
	RoundID  string
	PlayerID uuid.UUID
	ClientID int64
	GameID   string
	// Stake is the sum of the round's bets that are not cancelled.
	Stake    decimal.Decimal
	Winnings decimal.Decimal
	Status   RoundStatus
	Closed   bool
	// Settlements lists the win transactions already applied to the round.
	Settlements []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SettledBy reports whether the win transaction was applied to the round.
func (r *GameRound) SettledBy(txID string) bool {
	return slices.Contains(r.Settlements, txID)
}

// Bet is one bet transaction of a round, keyed by its transaction id.
type Bet struct {
	ID            uuid.UUID
	Provider      Provider
	RoundID       string
	TransactionID string
	PlayerID      uuid.UUID
	ClientID      int64
	GameID        string
	Stake         decimal.Decimal
	Status        BetStatus
	// RoundClosed mirrors the owning round's closed flag at read time.
	RoundClosed bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlaceBetParams is the input to the bet collaborator's PlaceBet.
type PlaceBetParams struct {
	Provider      Provider
	TransactionID string
	RoundID       string
	PlayerID      uuid.UUID
	ClientID      int64
	GameID        string
	Stake         decimal.Decimal
}

// SettleBetParams is the input to the bet collaborator's SettleBet.
type SettleBetParams struct {
	Provider      Provider
	RoundID       string
	TransactionID string
	Winnings      decimal.Decimal
	CloseRound    bool
}
