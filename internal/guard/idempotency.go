package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
)

// ErrInFlight is returned by Await when another worker still holds the key
// after the replay wait elapsed.
var ErrInFlight = errors.New("callback still in flight")

// CallbackLogStore is the durable backing of the idempotency ledger.
type CallbackLogStore interface {
	Claim(ctx context.Context, key domain.CallbackKey, request []byte, lease time.Duration) (bool, *domain.CallbackLog, error)
	Find(ctx context.Context, key domain.CallbackKey) (*domain.CallbackLog, error)
	Finalize(ctx context.Context, key domain.CallbackKey, response []byte, outcome domain.ErrorKind, event domain.OutboxDraft) (bool, error)
	Release(ctx context.Context, key domain.CallbackKey) error
}

// ClaimStatus is the outcome of Claim.
type ClaimStatus int

const (
	// ClaimFresh means the caller owns the key and must process it.
	ClaimFresh ClaimStatus = iota
	// ClaimExisting means another delivery holds or has finished the key.
	ClaimExisting
)

// Claim is returned by IdempotencyLedger.Claim. Log is the existing row
// when Status is ClaimExisting.
type Claim struct {
	Status ClaimStatus
	Log    *domain.CallbackLog
}

// Stored is the finalized response of a key and the outcome it carries.
type Stored struct {
	Payload []byte
	Kind    domain.ErrorKind
}

func storedFrom(row *domain.CallbackLog) Stored {
	return Stored{Payload: row.ResponsePayload, Kind: row.Outcome}
}

// IdempotencyLedger gives at-most-once processing per CallbackKey.
type IdempotencyLedger struct {
	store        CallbackLogStore
	lease        time.Duration
	wait         time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewIdempotencyLedger creates a ledger over store.
func NewIdempotencyLedger(store CallbackLogStore, lease, wait, pollInterval time.Duration, logger *slog.Logger) *IdempotencyLedger {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &IdempotencyLedger{
		store:        store,
		lease:        lease,
		wait:         wait,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Claim atomically registers key. Exactly one concurrent caller gets ClaimFresh.
func (l *IdempotencyLedger) Claim(ctx context.Context, key domain.CallbackKey, request []byte) (Claim, error) {
	claimed, row, err := l.store.Claim(ctx, key, request, l.lease)
	if err != nil {
		return Claim{}, fmt.Errorf("claim %s: %w", key, err)
	}
	if claimed {
		return Claim{Status: ClaimFresh, Log: row}, nil
	}
	if row == nil {
		// The row vanished between insert and read; treat as held.
		return Claim{Status: ClaimExisting, Log: &domain.CallbackLog{
			Provider: key.Provider, Action: key.Action, TransactionID: key.TransactionID,
		}}, nil
	}
	return Claim{Status: ClaimExisting, Log: row}, nil
}

// Finalize stores response as the immutable outcome for key and returns what
// every later delivery will see. If the row was already terminal the stored
// response wins.
func (l *IdempotencyLedger) Finalize(ctx context.Context, key domain.CallbackKey, response []byte, kind domain.ErrorKind) (Stored, error) {
	event := domain.NewCallbackFinalizedEvent(key, kind, kind == "")
	ok, err := l.store.Finalize(ctx, key, response, kind, event)
	if err != nil {
		return Stored{}, fmt.Errorf("finalize %s: %w", key, err)
	}
	mine := Stored{Payload: response, Kind: kind}
	if ok {
		return mine, nil
	}

	row, err := l.store.Find(ctx, key)
	if err != nil {
		return Stored{}, fmt.Errorf("finalize %s: %w", key, err)
	}
	if row != nil && row.Terminal {
		l.logger.Warn("callback already finalized, serving stored response", "key", key.String())
		return storedFrom(row), nil
	}
	return mine, nil
}

// Release gives up a claim after a transient failure so a retry can run the
// full orchestration again.
func (l *IdempotencyLedger) Release(ctx context.Context, key domain.CallbackKey) error {
	if err := l.store.Release(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Await returns the stored response of row, polling while it is still in
// flight. It gives up with ErrInFlight after the configured replay wait.
func (l *IdempotencyLedger) Await(ctx context.Context, row *domain.CallbackLog) (Stored, error) {
	if row.Terminal {
		return storedFrom(row), nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	key := row.Key()
	for {
		select {
		case <-ctx.Done():
			return Stored{}, ErrInFlight
		case <-ticker.C:
			current, err := l.store.Find(ctx, key)
			if err != nil {
				if ctx.Err() != nil {
					return Stored{}, ErrInFlight
				}
				return Stored{}, fmt.Errorf("await %s: %w", key, err)
			}
			if current != nil && current.Terminal {
				return storedFrom(current), nil
			}
		}
	}
}
