package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ExecuteCredit adds winnings or a refunded stake to the player's balance.
// cmd.Kind selects credit or refund; anything else is treated as credit.
func (e *Engine) ExecuteCredit(ctx context.Context, tx pgx.Tx, cmd domain.WalletCommand) (*domain.WalletResult, error) {
	if cmd.Kind != domain.EntryRefund {
		cmd.Kind = domain.EntryCredit
	}
	res, err := e.execute(ctx, tx, cmd, 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Kind, err)
	}
	return res, nil
}
