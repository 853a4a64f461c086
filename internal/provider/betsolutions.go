package provider

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/response"
	"github.com/shopspring/decimal"
)

const (
	headerWalletSession = "Wallet-Session"
	headerPassKey       = "Pass-Key"
)

// BetSolutionsAdapter handles BetSolutions wallet callbacks. Requests carry
// no signature; authenticity comes from resolving the session token.
type BetSolutionsAdapter struct {
	logger *slog.Logger
}

// NewBetSolutionsAdapter creates a new BetSolutions adapter.
func NewBetSolutionsAdapter(logger *slog.Logger) *BetSolutionsAdapter {
	return &BetSolutionsAdapter{logger: logger}
}

func (a *BetSolutionsAdapter) Provider() domain.Provider { return domain.ProviderBetSolutions }

func (a *BetSolutionsAdapter) FingerprintPolicy() response.FingerprintPolicy {
	return response.FingerprintCached
}

// SignsRequests is false: the pass key names the operator, not the body.
func (a *BetSolutionsAdapter) SignsRequests() bool { return false }

// BetSolutionsRequest is the common request shape from BetSolutions.
type BetSolutionsRequest struct {
	Token         string          `json:"token"`
	TransactionID string          `json:"transactionId"`
	RoundID       string          `json:"roundId"`
	GameID        string          `json:"gameId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	RoundClosed   *bool           `json:"roundClosed,omitempty"`
}

var betSolutionsActions = map[string]domain.Action{
	"auth":         domain.ActionAuthenticate,
	"authenticate": domain.ActionAuthenticate,
	"balance":      domain.ActionBalance,
	"bet":          domain.ActionBet,
	"win":          domain.ActionWin,
	"rollback":     domain.ActionRefund,
	"refund":       domain.ActionRefund,
	"logout":       domain.ActionLogout,
}

// Parse decodes the JSON body. The session token may come from the
// Wallet-Session header instead of the body.
func (a *BetSolutionsAdapter) Parse(raw *RawRequest) (*domain.CallbackEvent, error) {
	action, ok := betSolutionsActions[raw.Action]
	if !ok {
		return nil, domain.ErrMalformedRequest(fmt.Sprintf("unknown action %q", raw.Action))
	}

	var req BetSolutionsRequest
	dec := json.NewDecoder(bytes.NewReader(raw.Body))
	if err := dec.Decode(&req); err != nil {
		return nil, domain.ErrMalformedRequest("invalid JSON body")
	}

	token := req.Token
	if token == "" && raw.Header != nil {
		token = raw.Header.Get(headerWalletSession)
	}
	if req.Amount.IsNegative() {
		return nil, domain.ErrMalformedRequest(fmt.Sprintf("amount must not be negative, got %s", req.Amount))
	}

	ev := &domain.CallbackEvent{
		Provider:      domain.ProviderBetSolutions,
		Action:        action,
		ClientID:      raw.ClientID,
		TransactionID: req.TransactionID,
		RoundID:       req.RoundID,
		PlayerToken:   token,
		GameID:        req.GameID,
		Currency:      strings.ToUpper(req.Currency),
		Amount:        req.Amount,
		RoundClosed:   req.RoundClosed != nil && *req.RoundClosed,
		RawPayload:    raw.Body,
		ReceivedAt:    raw.ReceivedAt,
	}
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	if ev.Action == domain.ActionRefund {
		// Unsigned refunds are tied to the bet's player through the session.
		if err := requireFields([2]string{"token", ev.PlayerToken}); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// Verify checks the Pass-Key header when the client has one configured.
func (a *BetSolutionsAdapter) Verify(_ context.Context, raw *RawRequest, _ *domain.CallbackEvent, client *domain.ProviderClient) error {
	if client.PassKey == "" {
		return nil
	}
	var supplied string
	if raw.Header != nil {
		supplied = raw.Header.Get(headerPassKey)
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(client.PassKey)) != 1 {
		a.logger.Warn("betsolutions pass key mismatch", "client_id", client.ClientID)
		return domain.ErrInvalidSecureToken()
	}
	return nil
}

// BuildResponse renders the envelope with its MD5 fingerprint over
// status + message + balance + transactionId + secret.
func (a *BetSolutionsAdapter) BuildResponse(r *response.Result, client *domain.ProviderClient) ([]byte, error) {
	env := response.NewEnvelope(r)
	if env.Data == nil {
		env.Data = &response.Data{TransactionID: r.TransactionID}
	}
	env.Data.Fingerprint = response.MD5Fingerprint([]string{
		fmt.Sprintf("%d", env.Status),
		env.Message,
		env.Data.Balance,
		env.Data.TransactionID,
	}, client.SecretKey)
	return json.Marshal(env)
}
