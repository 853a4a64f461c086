// Package rounds is the bet collaborator. It owns game_rounds, round_bets
// and round_settlements, and enforces that a closed round takes no further
// bet, settlement or cancellation.
package rounds

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("round not found")
	ErrRoundClosed    = errors.New("round closed")
	ErrAlreadyExists  = errors.New("bet already exists")
	ErrTxTaken        = errors.New("transaction id used by another round")
	ErrPlayerMismatch = errors.New("round belongs to another player")
)

// Ledger handles game round lifecycle operations.
type Ledger struct {
	pool        *pgxpool.Pool
	rounds      repository.RoundRepository
	bets        repository.BetRepository
	settlements repository.SettlementRepository
	outbox      repository.OutboxRepository
}

// NewLedger creates a round ledger.
func NewLedger(
	pool *pgxpool.Pool,
	rounds repository.RoundRepository,
	bets repository.BetRepository,
	settlements repository.SettlementRepository,
	outbox repository.OutboxRepository,
) *Ledger {
	return &Ledger{pool: pool, rounds: rounds, bets: bets, settlements: settlements, outbox: outbox}
}

// GetRound returns the round with the provider's round id and the win
// transactions applied to it.
func (l *Ledger) GetRound(ctx context.Context, provider domain.Provider, roundID string) (*domain.GameRound, error) {
	round, err := l.rounds.FindByRoundID(ctx, l.pool, provider, roundID)
	if err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}
	if round == nil {
		return nil, ErrNotFound
	}
	if round.Settlements, err = l.settlements.ListByRound(ctx, l.pool, provider, roundID); err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}
	return round, nil
}

// GetBet returns the bet recorded under a bet transaction id.
func (l *Ledger) GetBet(ctx context.Context, provider domain.Provider, txID string) (*domain.Bet, error) {
	bet, err := l.bets.FindByTransactionID(ctx, l.pool, provider, txID)
	if err != nil {
		return nil, fmt.Errorf("get bet: %w", err)
	}
	if bet == nil {
		return nil, ErrNotFound
	}
	return bet, nil
}

// PlaceBet adds a pending bet to its round, opening the round on the first
// bet. A retry of a bet transaction that is still pending on the same round
// returns the existing record.
func (l *Ledger) PlaceBet(ctx context.Context, params domain.PlaceBetParams) (*domain.Bet, error) {
	if err := domain.ValidatePositiveAmount(params.Stake); err != nil {
		return nil, err
	}
	var placed *domain.Bet
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if err := l.rounds.Open(ctx, tx, params); err != nil {
			return err
		}
		round, err := l.rounds.LockByRoundID(ctx, tx, params.Provider, params.RoundID)
		if err != nil {
			return err
		}
		if round == nil {
			return ErrNotFound
		}

		bet, err := l.bets.Insert(ctx, tx, params)
		if err != nil {
			return err
		}
		if bet == nil {
			existing, err := l.bets.FindByTransactionID(ctx, tx, params.Provider, params.TransactionID)
			if err != nil {
				return err
			}
			placed, err = resumeBet(existing, round, params)
			return err
		}

		if err := applyBet(round, params); err != nil {
			return err
		}
		placed = bet
		return l.rounds.Update(ctx, tx, round)
	})
	if err != nil {
		return nil, fmt.Errorf("place bet: %w", err)
	}
	return placed, nil
}

// SettleBet applies a win transaction to an open round. Applying the same
// win transaction again changes nothing.
func (l *Ledger) SettleBet(ctx context.Context, params domain.SettleBetParams) (*domain.GameRound, error) {
	var settled *domain.GameRound
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		round, err := l.rounds.LockByRoundID(ctx, tx, params.Provider, params.RoundID)
		if err != nil {
			return err
		}
		if round == nil {
			return ErrNotFound
		}
		if round.Settlements, err = l.settlements.ListByRound(ctx, tx, params.Provider, params.RoundID); err != nil {
			return err
		}
		changed, err := applySettlement(round, params)
		if err != nil || !changed {
			settled = round
			return err
		}

		inserted, err := l.settlements.Insert(ctx, tx, params.Provider, params.RoundID, params.TransactionID, params.Winnings)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrTxTaken
		}
		if err := l.bets.SettlePending(ctx, tx, params.Provider, params.RoundID); err != nil {
			return err
		}
		if err := l.rounds.Update(ctx, tx, round); err != nil {
			return err
		}
		settled = round
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settle bet: %w", err)
	}
	return settled, nil
}

// CancelBet marks the bet cancelled. The round is cancelled and closed once
// none of its bets is left active. Cancelling a cancelled bet returns it
// unchanged.
func (l *Ledger) CancelBet(ctx context.Context, provider domain.Provider, txID string) (*domain.Bet, error) {
	var cancelled *domain.Bet
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		bet, round, err := l.lockBet(ctx, tx, provider, txID)
		if err != nil {
			return err
		}
		if bet.Status == domain.BetCancelled {
			cancelled = bet
			return nil
		}
		if err := applyCancel(bet, round); err != nil {
			return err
		}
		if err := l.bets.SetStatus(ctx, tx, bet.ID, bet.Status); err != nil {
			return err
		}
		active, err := l.bets.CountActive(ctx, tx, provider, round.RoundID)
		if err != nil {
			return err
		}
		if active == 0 {
			round.Status = domain.RoundCancelled
			round.Closed = true
		}
		if err := l.rounds.Update(ctx, tx, round); err != nil {
			return err
		}
		bet.RoundClosed = round.Closed
		cancelled = bet
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel bet: %w", err)
	}
	return cancelled, nil
}

// VoidBet removes a pending bet whose stake was never debited, and the round
// with it when nothing else was recorded there. Voiding a bet that does not
// exist is a no-op.
func (l *Ledger) VoidBet(ctx context.Context, provider domain.Provider, txID, reason string) error {
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		bet, round, err := l.lockBet(ctx, tx, provider, txID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if round.Closed {
			return ErrRoundClosed
		}
		deleted, err := l.bets.DeletePending(ctx, tx, bet.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrRoundClosed
		}
		round.Stake = round.Stake.Sub(bet.Stake)
		if err := l.rounds.Update(ctx, tx, round); err != nil {
			return err
		}
		if err := l.rounds.DeleteEmpty(ctx, tx, round.ID); err != nil {
			return err
		}
		return l.outbox.Insert(ctx, tx, domain.NewRoundCompensatedEvent(bet, reason))
	})
	if err != nil {
		return fmt.Errorf("void bet: %w", err)
	}
	return nil
}

// lockBet loads the bet for txID and locks its round.
func (l *Ledger) lockBet(ctx context.Context, tx pgx.Tx, provider domain.Provider, txID string) (*domain.Bet, *domain.GameRound, error) {
	bet, err := l.bets.FindByTransactionID(ctx, tx, provider, txID)
	if err != nil {
		return nil, nil, err
	}
	if bet == nil {
		return nil, nil, ErrNotFound
	}
	round, err := l.rounds.LockByRoundID(ctx, tx, provider, bet.RoundID)
	if err != nil {
		return nil, nil, err
	}
	if round == nil {
		return nil, nil, ErrNotFound
	}
	return bet, round, nil
}

// resumeBet decides what an insert conflict on the bet transaction id means.
func resumeBet(existing *domain.Bet, round *domain.GameRound, params domain.PlaceBetParams) (*domain.Bet, error) {
	switch {
	case existing == nil:
		return nil, ErrAlreadyExists
	case existing.RoundID != params.RoundID:
		return nil, ErrTxTaken
	case round.Closed:
		return nil, ErrRoundClosed
	case existing.Status == domain.BetPending:
		return existing, nil
	}
	return nil, ErrAlreadyExists
}

// applyBet adds a new bet's stake to round.
func applyBet(round *domain.GameRound, params domain.PlaceBetParams) error {
	if round.Closed {
		return ErrRoundClosed
	}
	if round.PlayerID != params.PlayerID {
		return ErrPlayerMismatch
	}
	round.Stake = domain.RoundMoney(round.Stake.Add(params.Stake))
	return nil
}

// applySettlement mutates round for a win. It reports false when the win
// transaction was already applied.
func applySettlement(round *domain.GameRound, params domain.SettleBetParams) (bool, error) {
	if round.SettledBy(params.TransactionID) {
		return false, nil
	}
	if round.Closed {
		return false, ErrRoundClosed
	}

	round.Winnings = domain.RoundMoney(round.Winnings.Add(params.Winnings))
	if round.Winnings.IsPositive() {
		round.Status = domain.RoundWon
	} else {
		round.Status = domain.RoundLost
	}
	if params.CloseRound {
		round.Closed = true
	}
	round.Settlements = append(round.Settlements, params.TransactionID)
	return true, nil
}

// applyCancel cancels bet. Settled bets and closed rounds are final.
func applyCancel(bet *domain.Bet, round *domain.GameRound) error {
	if round.Closed || bet.Status == domain.BetSettled {
		return ErrRoundClosed
	}
	bet.Status = domain.BetCancelled
	round.Stake = domain.RoundMoney(round.Stake.Sub(bet.Stake))
	return nil
}
