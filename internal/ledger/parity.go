package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ParityResult holds the outcome of a wallet consistency check.
type ParityResult struct {
	PlayerID   uuid.UUID
	EntryCount int
	Invariants []InvariantCheck
	AllPassed  bool
}

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name   string
	Passed bool
	Detail string
}

// CheckParity locks the player and validates the wallet invariants:
//  1. Balance non-negativity
//  2. Ledger parity: the latest entry's balance_after matches the player row
func (w *Wallet) CheckParity(ctx context.Context, playerID uuid.UUID) (*ParityResult, error) {
	var (
		player *domain.Player
		last   *domain.WalletEntry
		count  int
	)
	err := pgx.BeginTxFunc(ctx, w.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var err error
		player, err = w.engine.LockPlayerForUpdate(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if last, err = w.engine.entries.Latest(ctx, tx, playerID); err != nil {
			return err
		}
		count, err = w.engine.entries.Count(ctx, tx, playerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("parity fetch state: %w", err)
	}

	checks := validateInvariants(player, last)
	allPassed := true
	for _, c := range checks {
		if !c.Passed {
			allPassed = false
		}
	}
	return &ParityResult{
		PlayerID:   playerID,
		EntryCount: count,
		Invariants: checks,
		AllPassed:  allPassed,
	}, nil
}

func validateInvariants(player *domain.Player, last *domain.WalletEntry) []InvariantCheck {
	checks := make([]InvariantCheck, 0, 2)

	checks = append(checks, InvariantCheck{
		Name:   "balance_non_negative",
		Passed: !player.Balance.IsNegative(),
		Detail: fmt.Sprintf("balance=%s", domain.FormatMoney(player.Balance)),
	})

	if last == nil {
		checks = append(checks, InvariantCheck{
			Name:   "ledger_parity",
			Passed: true,
			Detail: "no entries (empty ledger)",
		})
		return checks
	}
	checks = append(checks, InvariantCheck{
		Name:   "ledger_parity",
		Passed: last.BalanceAfter.Equal(player.Balance),
		Detail: fmt.Sprintf("player=%s last_entry=%s",
			domain.FormatMoney(player.Balance), domain.FormatMoney(last.BalanceAfter)),
	})
	return checks
}
