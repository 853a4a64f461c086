package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a game provider family the engine speaks to.
type Provider string

const (
	ProviderPragmatic    Provider = "pragmatic"
	ProviderBetSolutions Provider = "betsolutions"
)

// ParseProvider validates a provider name taken from a route or config.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderPragmatic, ProviderBetSolutions:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", s)
	}
}

// Action is the canonical callback action, independent of provider wording.
type Action string

const (
	ActionAuthenticate Action = "authenticate"
	ActionBalance      Action = "balance"
	ActionBet          Action = "bet"
	ActionWin          Action = "win"
	ActionRefund       Action = "refund"
	ActionLogout       Action = "logout"
)

// Mutating reports whether the action moves money and therefore goes
// through the idempotency ledger.
func (a Action) Mutating() bool {
	switch a {
	case ActionBet, ActionWin, ActionRefund:
		return true
	}
	return false
}

// CallbackEvent is one inbound provider delivery normalised by an adapter.
// It is never mutated after Parse returns it.
type CallbackEvent struct {
	Provider      Provider
	Action        Action
	ClientID      int64
	TransactionID string
	RoundID       string
	PlayerToken   string
	GameID        string
	Currency      string
	Amount        decimal.Decimal
	// RoundClosed is set when the provider signals the round is complete.
	RoundClosed bool
	RawPayload  []byte
	ReceivedAt  time.Time
}

// Key returns the idempotency key for the event.
func (e *CallbackEvent) Key() CallbackKey {
	return CallbackKey{Provider: e.Provider, Action: e.Action, TransactionID: e.TransactionID}
}

// CallbackKey is the unique (provider, action, transactionId) tuple.
type CallbackKey struct {
	Provider      Provider
	Action        Action
	TransactionID string
}

func (k CallbackKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Provider, k.Action, k.TransactionID)
}

// CallbackLog is the durable idempotency record for one CallbackKey.
// Once Terminal is true, ResponsePayload never changes.
type CallbackLog struct {
	ID              int64
	Provider        Provider
	Action          Action
	TransactionID   string
	RequestPayload  []byte
	ResponsePayload []byte
	// Outcome is the error kind the response carries; empty for success.
	Outcome   ErrorKind
	Terminal  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the log row's idempotency key.
func (l *CallbackLog) Key() CallbackKey {
	return CallbackKey{Provider: l.Provider, Action: l.Action, TransactionID: l.TransactionID}
}
