package provider

import "github.com/attaboy/gamecallback/internal/domain"

// validateEvent checks the fields each action needs before any collaborator
// is consulted.
func validateEvent(ev *domain.CallbackEvent) error {
	if ev.Currency != "" {
		if err := domain.ValidateCurrency(ev.Currency); err != nil {
			return domain.ErrMalformedRequest(err.Error())
		}
	}

	switch ev.Action {
	case domain.ActionAuthenticate, domain.ActionBalance, domain.ActionLogout:
		return requireFields([2]string{"token", ev.PlayerToken})
	case domain.ActionBet:
		if err := requireFields(
			[2]string{"token", ev.PlayerToken},
			[2]string{"transaction id", ev.TransactionID},
			[2]string{"round id", ev.RoundID},
		); err != nil {
			return err
		}
		if err := domain.ValidatePositiveAmount(domain.RoundMoney(ev.Amount)); err != nil {
			return domain.ErrMalformedRequest(err.Error())
		}
	case domain.ActionWin:
		return requireFields(
			[2]string{"token", ev.PlayerToken},
			[2]string{"transaction id", ev.TransactionID},
			[2]string{"round id", ev.RoundID},
		)
	case domain.ActionRefund:
		return requireFields([2]string{"transaction id", ev.TransactionID})
	}
	return nil
}
