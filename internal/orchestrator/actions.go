package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/provider"
	"github.com/attaboy/gamecallback/internal/response"
	"github.com/shopspring/decimal"
)

func (o *Orchestrator) process(ctx context.Context, r *run, adapter provider.Adapter, ev *domain.CallbackEvent, client *domain.ProviderClient) (*response.Result, error) {
	switch ev.Action {
	case domain.ActionAuthenticate:
		return o.authenticate(ctx, r, ev)
	case domain.ActionBalance:
		return o.balance(ctx, r, ev)
	case domain.ActionLogout:
		return o.logout(ctx, r, ev)
	case domain.ActionBet:
		return o.bet(ctx, r, ev)
	case domain.ActionWin:
		return o.win(ctx, r, ev)
	case domain.ActionRefund:
		return o.refund(ctx, r, adapter, ev, client)
	}
	return nil, domain.ErrInternal(fmt.Sprintf("unsupported action %q", ev.Action), nil)
}

func (o *Orchestrator) authenticate(ctx context.Context, r *run, ev *domain.CallbackEvent) (*response.Result, error) {
	ident, err := o.deps.Sessions.Login(ctx, ev.PlayerToken, ev.ClientID)
	if err != nil {
		return nil, err
	}
	r.to(StateSessionResolved)

	bal, err := o.getBalance(ctx, ident)
	if err != nil {
		return nil, err
	}
	res := balanceResult(ident, bal, ev)
	res.Token = ident.Token
	return res, nil
}

func (o *Orchestrator) balance(ctx context.Context, r *run, ev *domain.CallbackEvent) (*response.Result, error) {
	ident, err := o.deps.Sessions.Resolve(ctx, ev.PlayerToken, ev.ClientID)
	if err != nil {
		return nil, err
	}
	r.to(StateSessionResolved)

	bal, err := o.getBalance(ctx, ident)
	if err != nil {
		return nil, err
	}
	return balanceResult(ident, bal, ev), nil
}

func (o *Orchestrator) logout(ctx context.Context, r *run, ev *domain.CallbackEvent) (*response.Result, error) {
	ident, err := o.deps.Sessions.Resolve(ctx, ev.PlayerToken, ev.ClientID)
	if err != nil {
		return nil, err
	}
	r.to(StateSessionResolved)

	if err := o.deps.Sessions.Logout(ctx, ident); err != nil {
		return nil, err
	}
	bal, err := o.getBalance(ctx, ident)
	if err != nil {
		return nil, err
	}
	return balanceResult(ident, bal, ev), nil
}

// bet records the pending bet and then debits the stake. A failed debit
// voids the bet before the error is returned.
func (o *Orchestrator) bet(ctx context.Context, r *run, ev *domain.CallbackEvent) (*response.Result, error) {
	ident, err := o.deps.Sessions.Resolve(ctx, ev.PlayerToken, ev.ClientID)
	if err != nil {
		return nil, err
	}
	r.to(StateSessionResolved)

	stake := domain.RoundMoney(ev.Amount)
	resume, err := o.checkBet(ctx, ev, ident)
	if err != nil {
		return nil, err
	}
	if !resume {
		// A debit already posted under this transaction means an earlier
		// attempt committed it; the balance no longer covers the stake twice.
		debited, err := o.findDebit(ctx, ev, ident)
		if err != nil {
			return nil, err
		}
		resume = debited != nil
	}
	if !resume {
		bal, err := o.getBalance(ctx, ident)
		if err != nil {
			return nil, err
		}
		if domain.RoundMoney(bal).LessThan(stake) {
			return nil, domain.ErrInsufficientFunds()
		}
	}
	r.to(StateRulesChecked)

	err = o.callBets(ctx, func(ctx context.Context) error {
		_, err := o.deps.Bets.PlaceBet(ctx, domain.PlaceBetParams{
			Provider:      ev.Provider,
			TransactionID: ev.TransactionID,
			RoundID:       ev.RoundID,
			PlayerID:      ident.PlayerID,
			ClientID:      ident.ClientID,
			GameID:        ev.GameID,
			Stake:         stake,
		})
		return err
	})
	if err != nil {
		return nil, betError(err, ev.RoundID, ev.TransactionID)
	}
	r.to(StateLedgerApplied)

	debit, err := o.callWallet(ctx, func(ctx context.Context) (*domain.WalletResult, error) {
		return o.deps.Wallet.Debit(ctx, walletCommand(ev, ident, stake, domain.EntryDebit))
	})
	if err != nil {
		return nil, o.compensate(ctx, r, ev, ident, err)
	}
	r.to(StateWalletApplied)

	res := balanceResult(ident, debit.Balance, ev)
	res.TransactionID = ev.TransactionID
	return res, nil
}

// checkBet applies the existence rules. A round takes any number of bets
// from its player until it closes; only the bet transaction id itself must
// be new. It reports true when the same transaction already holds a pending
// bet on this round, which happens when an earlier attempt failed
// transiently after the bet was placed.
func (o *Orchestrator) checkBet(ctx context.Context, ev *domain.CallbackEvent, ident *domain.PlayerIdentity) (bool, error) {
	round, err := o.findRound(ctx, ev.Provider, ev.RoundID)
	if err != nil {
		return false, betError(err, ev.RoundID, ev.TransactionID)
	}
	if round != nil {
		switch {
		case round.Closed:
			return false, domain.ErrGameCycleClosed(ev.RoundID)
		case round.PlayerID != ident.PlayerID:
			return false, domain.ErrIncorrectIdentifier("round belongs to another player")
		}
	}

	bet, err := o.findBet(ctx, ev.Provider, ev.TransactionID)
	if err != nil {
		return false, betError(err, ev.RoundID, ev.TransactionID)
	}
	switch {
	case bet == nil:
		return false, nil
	case bet.RoundID != ev.RoundID:
		return false, domain.ErrTransactionExist(ev.TransactionID)
	case bet.Status == domain.BetPending:
		return true, nil
	}
	return false, domain.ErrGameCycleExist(ev.RoundID)
}

// compensate voids the bet placed for ev after the debit failed. A transient
// debit failure may still have committed; when the wallet shows the debit
// the bet is kept pending and the callback fails transiently so the next
// delivery resumes it. The same happens when the void itself fails.
func (o *Orchestrator) compensate(ctx context.Context, r *run, ev *domain.CallbackEvent, ident *domain.PlayerIdentity, debitErr error) error {
	cause := walletError(debitErr)
	reason := string(domain.KindOf(cause))
	ctx = context.WithoutCancel(ctx)

	if domain.IsTransient(cause) {
		debited, err := o.findDebit(ctx, ev, ident)
		if err != nil || debited != nil {
			o.deps.Metrics.ObserveCompensation(string(ev.Provider), "kept")
			r.logger.Warn("debit outcome unknown or committed, bet left pending",
				"transaction_id", ev.TransactionID,
				"round_id", ev.RoundID,
				"debit_error", debitErr,
				"error", err)
			return domain.ErrServiceUnavailable("debit outcome", errors.Join(debitErr, err))
		}
	}

	err := o.callBets(ctx, func(ctx context.Context) error {
		return o.deps.Bets.VoidBet(ctx, ev.Provider, ev.TransactionID, reason)
	})
	if err != nil {
		o.deps.Metrics.ObserveCompensation(string(ev.Provider), "failed")
		r.logger.Error("compensation failed, bet left pending",
			"transaction_id", ev.TransactionID,
			"round_id", ev.RoundID,
			"debit_error", debitErr,
			"error", err)
		return domain.ErrServiceUnavailable("compensate bet", errors.Join(debitErr, err))
	}
	o.deps.Metrics.ObserveCompensation(string(ev.Provider), "ok")
	r.logger.Warn("bet compensated", "transaction_id", ev.TransactionID, "round_id", ev.RoundID, "reason", reason)
	return cause
}

// win settles the round, and with it every pending bet of the round, and
// credits the winnings. A zero win still settles.
func (o *Orchestrator) win(ctx context.Context, r *run, ev *domain.CallbackEvent) (*response.Result, error) {
	ident, err := o.deps.Sessions.Resolve(ctx, ev.PlayerToken, ev.ClientID)
	if err != nil {
		return nil, err
	}
	r.to(StateSessionResolved)

	round, err := o.findRound(ctx, ev.Provider, ev.RoundID)
	if err != nil {
		return nil, betError(err, ev.RoundID, ev.TransactionID)
	}
	switch {
	case round == nil:
		return nil, domain.ErrGameCycleNotExist(ev.RoundID)
	case round.PlayerID != ident.PlayerID:
		return nil, domain.ErrIncorrectIdentifier("round belongs to another player")
	case round.Closed && !round.SettledBy(ev.TransactionID):
		return nil, domain.ErrGameCycleClosed(ev.RoundID)
	}
	r.to(StateRulesChecked)

	winnings := domain.RoundMoney(ev.Amount)
	err = o.callBets(ctx, func(ctx context.Context) error {
		_, err := o.deps.Bets.SettleBet(ctx, domain.SettleBetParams{
			Provider:      ev.Provider,
			RoundID:       ev.RoundID,
			TransactionID: ev.TransactionID,
			Winnings:      winnings,
			CloseRound:    ev.RoundClosed,
		})
		return err
	})
	if err != nil {
		return nil, betError(err, ev.RoundID, ev.TransactionID)
	}
	r.to(StateLedgerApplied)

	var bal decimal.Decimal
	if winnings.IsZero() {
		if bal, err = o.getBalance(ctx, ident); err != nil {
			return nil, err
		}
	} else {
		credit, err := o.callWallet(ctx, func(ctx context.Context) (*domain.WalletResult, error) {
			return o.deps.Wallet.Credit(ctx, walletCommand(ev, ident, winnings, domain.EntryCredit))
		})
		if err != nil {
			return nil, walletError(err)
		}
		bal = credit.Balance
	}
	r.to(StateWalletApplied)

	res := balanceResult(ident, bal, ev)
	res.TransactionID = ev.TransactionID
	return res, nil
}

// refund cancels the bet referenced by the transaction id and returns its
// stake. A bet already cancelled by an earlier attempt only gets the
// credit replayed.
func (o *Orchestrator) refund(ctx context.Context, r *run, adapter provider.Adapter, ev *domain.CallbackEvent, client *domain.ProviderClient) (*response.Result, error) {
	var session *domain.PlayerIdentity
	if !adapter.SignsRequests() {
		var err error
		session, err = o.deps.Sessions.Resolve(ctx, ev.PlayerToken, ev.ClientID)
		if domain.KindOf(err) == domain.KindIncorrectIdentifier {
			return nil, unauthenticated("refund session", err)
		}
		if err != nil {
			return nil, err
		}
	}

	bet, err := o.findBet(ctx, ev.Provider, ev.TransactionID)
	if err != nil {
		return nil, betError(err, ev.RoundID, ev.TransactionID)
	}
	if bet == nil {
		return nil, domain.ErrTransactionNotExist(ev.TransactionID)
	}

	ident := session
	if ident == nil {
		// Signed refunds may outlive the session, so the player comes from
		// the bet.
		ident = &domain.PlayerIdentity{PlayerID: bet.PlayerID, ClientID: bet.ClientID, Currency: client.Currency}
	} else if ident.PlayerID != bet.PlayerID {
		r.logger.Warn("refund session does not own the bet",
			"transaction_id", ev.TransactionID, "session_player", ident.PlayerID, "bet_player", bet.PlayerID)
		return nil, unauthenticated("bet belongs to another player", nil)
	}
	r.to(StateSessionResolved)

	cancelled := bet.Status == domain.BetCancelled
	if !cancelled && (bet.RoundClosed || bet.Status == domain.BetSettled) {
		return nil, domain.ErrGameCycleClosed(bet.RoundID)
	}
	r.to(StateRulesChecked)

	if !cancelled {
		err = o.callBets(ctx, func(ctx context.Context) error {
			_, err := o.deps.Bets.CancelBet(ctx, ev.Provider, ev.TransactionID)
			return err
		})
		if err != nil {
			return nil, betError(err, bet.RoundID, ev.TransactionID)
		}
	}
	r.to(StateLedgerApplied)

	refundEv := *ev
	refundEv.RoundID = bet.RoundID
	credit, err := o.callWallet(ctx, func(ctx context.Context) (*domain.WalletResult, error) {
		return o.deps.Wallet.Credit(ctx, walletCommand(&refundEv, ident, bet.Stake, domain.EntryRefund))
	})
	if err != nil {
		return nil, walletError(err)
	}
	r.to(StateWalletApplied)

	res := balanceResult(ident, credit.Balance, ev)
	res.TransactionID = ev.TransactionID
	return res, nil
}

// errUnauthenticated marks a refund whose session does not prove who sent
// it. Such failures are answered but never cached, so a forged request
// cannot decide the outcome of the real one.
var errUnauthenticated = errors.New("request not authenticated")

func unauthenticated(msg string, cause error) error {
	return &domain.CallbackError{
		Kind:    domain.KindIncorrectIdentifier,
		Message: msg,
		Cause:   errors.Join(errUnauthenticated, cause),
	}
}

func walletCommand(ev *domain.CallbackEvent, ident *domain.PlayerIdentity, amount decimal.Decimal, kind domain.EntryKind) domain.WalletCommand {
	return domain.WalletCommand{
		PlayerID:      ident.PlayerID,
		ClientID:      ident.ClientID,
		Amount:        amount,
		Provider:      ev.Provider,
		TransactionID: ev.TransactionID,
		RoundID:       ev.RoundID,
		GameID:        ev.GameID,
		Kind:          kind,
	}
}

func balanceResult(ident *domain.PlayerIdentity, bal decimal.Decimal, ev *domain.CallbackEvent) *response.Result {
	currency := ident.Currency
	if currency == "" {
		currency = ev.Currency
	}
	return &response.Result{Balance: bal, HasBalance: true, Currency: currency}
}
