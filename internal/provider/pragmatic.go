package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/response"
)

const pragmaticHashField = "hash"

// PragmaticAdapter handles Pragmatic Play wallet callbacks: form-encoded
// bodies signed with an MD5 digest over the sorted fields plus the client
// secret.
type PragmaticAdapter struct {
	logger *slog.Logger
}

// NewPragmaticAdapter creates a new Pragmatic Play adapter.
func NewPragmaticAdapter(logger *slog.Logger) *PragmaticAdapter {
	return &PragmaticAdapter{logger: logger}
}

func (a *PragmaticAdapter) Provider() domain.Provider { return domain.ProviderPragmatic }

func (a *PragmaticAdapter) FingerprintPolicy() response.FingerprintPolicy {
	return response.FingerprintFresh
}

// SignsRequests is true: every body carries the client's hash.
func (a *PragmaticAdapter) SignsRequests() bool { return true }

var pragmaticActions = map[string]domain.Action{
	"authenticate": domain.ActionAuthenticate,
	"balance":      domain.ActionBalance,
	"bet":          domain.ActionBet,
	"result":       domain.ActionWin,
	"win":          domain.ActionWin,
	"refund":       domain.ActionRefund,
	"logout":       domain.ActionLogout,
}

// Parse decodes the form body.
func (a *PragmaticAdapter) Parse(raw *RawRequest) (*domain.CallbackEvent, error) {
	action, ok := pragmaticActions[raw.Action]
	if !ok {
		return nil, domain.ErrMalformedRequest(fmt.Sprintf("unknown action %q", raw.Action))
	}

	values, err := url.ParseQuery(string(raw.Body))
	if err != nil {
		return nil, domain.ErrMalformedRequest("invalid form body")
	}
	if err := requireFields([2]string{pragmaticHashField, values.Get(pragmaticHashField)}); err != nil {
		return nil, err
	}

	ev := &domain.CallbackEvent{
		Provider:      domain.ProviderPragmatic,
		Action:        action,
		ClientID:      raw.ClientID,
		TransactionID: values.Get("reference"),
		RoundID:       values.Get("roundId"),
		PlayerToken:   values.Get("token"),
		GameID:        values.Get("gameId"),
		Currency:      strings.ToUpper(values.Get("currency")),
		RawPayload:    raw.Body,
		ReceivedAt:    raw.ReceivedAt,
	}

	if ev.Amount, err = domain.ParseAmount(values.Get("amount")); err != nil {
		return nil, domain.ErrMalformedRequest(err.Error())
	}
	// A result call ends the round unless the provider says otherwise.
	if ev.RoundClosed, err = parseBool(values.Get("roundClosed"), action == domain.ActionWin); err != nil {
		return nil, domain.ErrMalformedRequest(err.Error())
	}

	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Verify recomputes the MD5 digest with the client secret.
func (a *PragmaticAdapter) Verify(_ context.Context, raw *RawRequest, _ *domain.CallbackEvent, client *domain.ProviderClient) error {
	values, err := url.ParseQuery(string(raw.Body))
	if err != nil {
		return domain.ErrMalformedRequest("invalid form body")
	}
	supplied := values.Get(pragmaticHashField)
	if err := domain.ValidateDigest(supplied); err != nil {
		return domain.ErrInvalidSecureToken()
	}
	if !VerifyMD5(values, pragmaticHashField, client.SecretKey, supplied) {
		a.logger.Warn("pragmatic signature mismatch", "client_id", client.ClientID)
		return domain.ErrInvalidSecureToken()
	}
	return nil
}

// BuildResponse renders the unsigned envelope. Seal adds the timestamp and
// fingerprint on every serve.
func (a *PragmaticAdapter) BuildResponse(r *response.Result, _ *domain.ProviderClient) ([]byte, error) {
	return json.Marshal(response.NewEnvelope(r))
}

// Seal stamps the payload with the serve time and an HMAC-SHA256
// fingerprint over success|status|balance|currency|timestamp.
func (a *PragmaticAdapter) Seal(payload []byte, client *domain.ProviderClient, now time.Time) ([]byte, error) {
	var env response.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("seal pragmatic response: %w", err)
	}
	if env.Data == nil {
		env.Data = &response.Data{}
	}
	env.Data.Timestamp = now.Unix()
	env.Data.Fingerprint = response.HMACFingerprint(pragmaticFingerprintParts(&env), client.SecretKey)
	return json.Marshal(&env)
}

func pragmaticFingerprintParts(env *response.Envelope) []string {
	return []string{
		strconv.FormatBool(env.Success),
		strconv.Itoa(env.Status),
		env.Data.Balance,
		env.Data.Currency,
		strconv.FormatInt(env.Data.Timestamp, 10),
	}
}

// SignRequest computes the hash field for a form body. Used by test clients.
func SignRequest(values url.Values, secret string) string {
	return SignMD5(values, pragmaticHashField, secret)
}
