package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ExecuteDebit deducts a stake from the player's balance.
func (e *Engine) ExecuteDebit(ctx context.Context, tx pgx.Tx, cmd domain.WalletCommand) (*domain.WalletResult, error) {
	cmd.Kind = domain.EntryDebit
	res, err := e.execute(ctx, tx, cmd, -1)
	if err != nil {
		return nil, fmt.Errorf("debit: %w", err)
	}
	return res, nil
}
