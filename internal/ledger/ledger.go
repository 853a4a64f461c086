package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Engine provides the 3 foundational wallet operations:
//  1. LockPlayerForUpdate: row-level pessimistic lock
//  2. FindExistingEntry: idempotency check on (player, provider, tx id, kind)
//  3. PostEntry: atomic balance update + append-only insert + outbox event
type Engine struct {
	players repository.PlayerRepository
	entries repository.WalletEntryRepository
	outbox  repository.OutboxRepository
}

// NewEngine creates a wallet engine with the given repositories.
func NewEngine(
	players repository.PlayerRepository,
	entries repository.WalletEntryRepository,
	outbox repository.OutboxRepository,
) *Engine {
	return &Engine{
		players: players,
		entries: entries,
		outbox:  outbox,
	}
}

// LockPlayerForUpdate acquires a row-level lock and returns the player.
// Must be called within a transaction.
func (e *Engine) LockPlayerForUpdate(ctx context.Context, tx pgx.Tx, playerID uuid.UUID) (*domain.Player, error) {
	player, err := e.players.LockForUpdate(ctx, tx, playerID)
	if err != nil {
		return nil, fmt.Errorf("lock player: %w", err)
	}
	if player == nil {
		return nil, domain.ErrIncorrectIdentifier(fmt.Sprintf("player %s not found", playerID))
	}
	return player, nil
}

// FindExistingEntry returns the entry already posted under key, or nil.
func (e *Engine) FindExistingEntry(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.WalletEntry, error) {
	existing, err := e.entries.FindExisting(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("find existing entry: %w", err)
	}
	return existing, nil
}

// PostEntry applies delta to the locked player's balance and appends the
// entry with its before/after snapshot. Both steps plus the outbox event run
// in the caller's transaction.
func (e *Engine) PostEntry(ctx context.Context, tx pgx.Tx, player *domain.Player, cmd domain.WalletCommand, delta decimal.Decimal) (*domain.WalletEntry, *domain.Player, error) {
	updated, err := e.players.AdjustBalance(ctx, tx, player.ID, delta)
	if err != nil {
		return nil, nil, fmt.Errorf("update balance: %w", err)
	}

	entry, err := e.entries.Insert(ctx, tx, &domain.WalletEntry{
		PlayerID:              cmd.PlayerID,
		ClientID:              cmd.ClientID,
		Kind:                  cmd.Kind,
		Amount:                cmd.Amount,
		BalanceBefore:         player.Balance,
		BalanceAfter:          updated.Balance,
		Provider:              cmd.Provider,
		ExternalTransactionID: cmd.TransactionID,
		RoundID:               cmd.RoundID,
		Metadata:              ensureJSON(cmd.Metadata()),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("insert entry: %w", err)
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewWalletEntryPostedEvent(entry)); err != nil {
		return nil, nil, fmt.Errorf("insert outbox event: %w", err)
	}

	return entry, updated, nil
}

// execute is the lock, dedupe, post sequence shared by every command.
func (e *Engine) execute(ctx context.Context, tx pgx.Tx, cmd domain.WalletCommand, sign int) (*domain.WalletResult, error) {
	cmd.Amount = domain.RoundMoney(cmd.Amount)
	if err := domain.ValidatePositiveAmount(cmd.Amount); err != nil {
		return nil, domain.ErrMalformedRequest(err.Error())
	}

	player, err := e.LockPlayerForUpdate(ctx, tx, cmd.PlayerID)
	if err != nil {
		return nil, err
	}

	existing, err := e.FindExistingEntry(ctx, tx, cmd.Key())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.WalletResult{Entry: existing, Balance: player.Balance, Idempotent: true}, nil
	}

	delta, err := planDelta(player.Balance, cmd.Amount, sign)
	if err != nil {
		return nil, err
	}

	entry, updated, err := e.PostEntry(ctx, tx, player, cmd, delta)
	if err != nil {
		return nil, err
	}
	return &domain.WalletResult{Entry: entry, Balance: updated.Balance}, nil
}

// planDelta returns the signed balance change for amount, rejecting debits
// that would take the balance below zero.
func planDelta(balance, amount decimal.Decimal, sign int) (decimal.Decimal, error) {
	if sign < 0 {
		if domain.RoundMoney(balance).LessThan(amount) {
			return decimal.Zero, domain.ErrInsufficientFunds()
		}
		return amount.Neg(), nil
	}
	return amount, nil
}
