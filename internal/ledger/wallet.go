package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Wallet runs each engine command in its own read-committed transaction.
type Wallet struct {
	pool   *pgxpool.Pool
	engine *Engine
}

// NewWallet creates a pool-backed wallet.
func NewWallet(pool *pgxpool.Pool, engine *Engine) *Wallet {
	return &Wallet{pool: pool, engine: engine}
}

// Debit removes cmd.Amount from the player's balance.
func (w *Wallet) Debit(ctx context.Context, cmd domain.WalletCommand) (*domain.WalletResult, error) {
	return w.inTx(ctx, func(tx pgx.Tx) (*domain.WalletResult, error) {
		return w.engine.ExecuteDebit(ctx, tx, cmd)
	})
}

// Credit adds cmd.Amount to the player's balance.
func (w *Wallet) Credit(ctx context.Context, cmd domain.WalletCommand) (*domain.WalletResult, error) {
	return w.inTx(ctx, func(tx pgx.Tx) (*domain.WalletResult, error) {
		return w.engine.ExecuteCredit(ctx, tx, cmd)
	})
}

// GetBalance reads the current balance without locking.
func (w *Wallet) GetBalance(ctx context.Context, playerID uuid.UUID) (decimal.Decimal, error) {
	player, err := w.engine.players.FindByID(ctx, w.pool, playerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	if player == nil {
		return decimal.Zero, domain.ErrIncorrectIdentifier(fmt.Sprintf("player %s not found", playerID))
	}
	return player.Balance, nil
}

// FindEntry returns the entry already posted under key, or nil. It lets a
// retried command see that an earlier attempt committed.
func (w *Wallet) FindEntry(ctx context.Context, key domain.WalletKey) (*domain.WalletEntry, error) {
	entry, err := w.engine.entries.FindExisting(ctx, w.pool, key)
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return entry, nil
}

func (w *Wallet) inTx(ctx context.Context, fn func(pgx.Tx) (*domain.WalletResult, error)) (*domain.WalletResult, error) {
	var res *domain.WalletResult
	err := pgx.BeginTxFunc(ctx, w.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var err error
		res, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
