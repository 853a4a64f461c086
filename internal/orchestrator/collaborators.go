package orchestrator

import (
	"context"
	"errors"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/rounds"
	"github.com/shopspring/decimal"
)

func (o *Orchestrator) callBets(ctx context.Context, fn func(context.Context) error) error {
	return o.deps.Breaker.Call(ctx, breakerBets, o.deps.Timeout, isInfraError, fn)
}

// findRound returns the round or nil when it does not exist.
func (o *Orchestrator) findRound(ctx context.Context, p domain.Provider, roundID string) (*domain.GameRound, error) {
	return lookup(ctx, o, func(ctx context.Context) (*domain.GameRound, error) {
		return o.deps.Bets.GetRound(ctx, p, roundID)
	})
}

// findBet returns the bet recorded under txID or nil.
func (o *Orchestrator) findBet(ctx context.Context, p domain.Provider, txID string) (*domain.Bet, error) {
	return lookup(ctx, o, func(ctx context.Context) (*domain.Bet, error) {
		return o.deps.Bets.GetBet(ctx, p, txID)
	})
}

// lookup runs a bet collaborator read and turns rounds.ErrNotFound into nil.
func lookup[T any](ctx context.Context, o *Orchestrator, fn func(context.Context) (*T, error)) (*T, error) {
	var found *T
	err := o.callBets(ctx, func(ctx context.Context) error {
		var err error
		found, err = fn(ctx)
		return err
	})
	if errors.Is(err, rounds.ErrNotFound) {
		return nil, nil
	}
	return found, err
}

// findDebit returns the wallet entry an earlier attempt posted for the
// stake of ev, or nil.
func (o *Orchestrator) findDebit(ctx context.Context, ev *domain.CallbackEvent, ident *domain.PlayerIdentity) (*domain.WalletEntry, error) {
	key := walletCommand(ev, ident, decimal.Zero, domain.EntryDebit).Key()
	var entry *domain.WalletEntry
	err := o.deps.Breaker.Call(ctx, breakerWallet, o.deps.Timeout, isInfraError, func(ctx context.Context) error {
		var err error
		entry, err = o.deps.Wallet.FindEntry(ctx, key)
		return err
	})
	if err != nil {
		return nil, walletError(err)
	}
	return entry, nil
}

func (o *Orchestrator) callWallet(ctx context.Context, fn func(context.Context) (*domain.WalletResult, error)) (*domain.WalletResult, error) {
	var res *domain.WalletResult
	err := o.deps.Breaker.Call(ctx, breakerWallet, o.deps.Timeout, isInfraError, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx)
		return err
	})
	return res, err
}

func (o *Orchestrator) getBalance(ctx context.Context, ident *domain.PlayerIdentity) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := o.deps.Breaker.Call(ctx, breakerWallet, o.deps.Timeout, isInfraError, func(ctx context.Context) error {
		var err error
		bal, err = o.deps.Wallet.GetBalance(ctx, ident.PlayerID)
		return err
	})
	if err != nil {
		return decimal.Zero, walletError(err)
	}
	return bal, nil
}

// isInfraError reports whether err should count against a circuit.
func isInfraError(err error) bool {
	for _, business := range []error{
		rounds.ErrNotFound,
		rounds.ErrRoundClosed,
		rounds.ErrAlreadyExists,
		rounds.ErrTxTaken,
		rounds.ErrPlayerMismatch,
	} {
		if errors.Is(err, business) {
			return false
		}
	}
	var ce *domain.CallbackError
	if errors.As(err, &ce) {
		return !ce.Kind.Terminal()
	}
	return true
}

// betError maps bet collaborator failures onto the callback taxonomy.
func betError(err error, roundID, txID string) error {
	switch {
	case errors.Is(err, rounds.ErrNotFound):
		return domain.ErrGameCycleNotExist(roundID)
	case errors.Is(err, rounds.ErrRoundClosed):
		return domain.ErrGameCycleClosed(roundID)
	case errors.Is(err, rounds.ErrAlreadyExists):
		return domain.ErrGameCycleExist(roundID)
	case errors.Is(err, rounds.ErrTxTaken):
		return domain.ErrTransactionExist(txID)
	case errors.Is(err, rounds.ErrPlayerMismatch):
		return domain.ErrIncorrectIdentifier("round belongs to another player")
	}
	var ce *domain.CallbackError
	if errors.As(err, &ce) {
		return ce
	}
	return domain.ErrServiceUnavailable("bets", err)
}

// walletError keeps wallet business outcomes and marks everything else
// transient.
func walletError(err error) error {
	var ce *domain.CallbackError
	if errors.As(err, &ce) {
		return ce
	}
	return domain.ErrServiceUnavailable("wallet", err)
}
