//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/provider"
	"github.com/attaboy/gamecallback/internal/repository"
	"github.com/attaboy/gamecallback/internal/response"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TestClientID = int64(1)
	TestSecret   = "test-client-secret"
	TestPassKey  = "test-pass-key"
)

// Reply is a decoded callback response.
type Reply struct {
	HTTPStatus int
	Raw        []byte
	Envelope   response.Envelope
}

// CreateClient registers the test client for both providers.
func (env *TestEnv) CreateClient() {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, p := range []domain.Provider{domain.ProviderPragmatic, domain.ProviderBetSolutions} {
		_, err := env.Pool.Exec(ctx, `
			INSERT INTO provider_clients (client_id, provider, secret_key, pass_key, currency)
			VALUES ($1, $2, $3, $4, 'EUR')`, TestClientID, string(p), TestSecret, TestPassKey)
		if err != nil {
			env.t.Fatalf("CreateClient: %v", err)
		}
	}
}

// CreatePlayer inserts a player with the given opening balance.
func (env *TestEnv) CreatePlayer(balance string) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	player := &domain.Player{
		ID:       uuid.New(),
		ClientID: TestClientID,
		Username: "player-" + uuid.NewString()[:8],
		Currency: "EUR",
		Balance:  decimal.RequireFromString(balance),
	}
	if err := repository.NewPlayerRepository().Create(ctx, env.Pool, player); err != nil {
		env.t.Fatalf("CreatePlayer: %v", err)
	}
	return player.ID
}

// IssueAuthCode opens a session and returns its one-time code.
func (env *TestEnv) IssueAuthCode(playerID uuid.UUID) string {
	env.t.Helper()
	code, err := env.Components.Identity.IssueAuthCode(context.Background(), playerID, TestClientID)
	if err != nil {
		env.t.Fatalf("IssueAuthCode: %v", err)
	}
	return code
}

// Login exchanges a fresh auth code for a session token.
func (env *TestEnv) Login(playerID uuid.UUID) string {
	env.t.Helper()
	ident, err := env.Components.Identity.Login(context.Background(), env.IssueAuthCode(playerID), TestClientID)
	if err != nil {
		env.t.Fatalf("Login: %v", err)
	}
	return ident.Token
}

// Balance reads the player's stored balance.
func (env *TestEnv) Balance(playerID uuid.UUID) decimal.Decimal {
	env.t.Helper()
	bal, err := env.Components.Wallet.GetBalance(context.Background(), playerID)
	if err != nil {
		env.t.Fatalf("Balance: %v", err)
	}
	return bal
}

// AssertParity fails the test when the wallet invariants do not hold.
func (env *TestEnv) AssertParity(playerID uuid.UUID) {
	env.t.Helper()
	res, err := env.Components.Wallet.CheckParity(context.Background(), playerID)
	if err != nil {
		env.t.Fatalf("CheckParity: %v", err)
	}
	if !res.AllPassed {
		env.t.Errorf("wallet parity failed: %+v", res.Invariants)
	}
}

// CountRows counts rows in table matching the optional where clause.
func (env *TestEnv) CountRows(table, where string, args ...any) int {
	env.t.Helper()
	q := "SELECT count(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := env.Pool.QueryRow(context.Background(), q, args...).Scan(&n); err != nil {
		env.t.Fatalf("CountRows: %v", err)
	}
	return n
}

// Pragmatic posts a signed form callback.
func (env *TestEnv) Pragmatic(action string, values url.Values) Reply {
	env.t.Helper()
	values.Set("hash", provider.SignRequest(values, TestSecret))
	return env.post(domain.ProviderPragmatic, action, "application/x-www-form-urlencoded", []byte(values.Encode()), nil)
}

// PragmaticRaw posts a form body as given.
func (env *TestEnv) PragmaticRaw(action string, values url.Values) Reply {
	env.t.Helper()
	return env.post(domain.ProviderPragmatic, action, "application/x-www-form-urlencoded", []byte(values.Encode()), nil)
}

// BetSolutions posts a JSON callback with the client's pass key.
func (env *TestEnv) BetSolutions(action string, body any) Reply {
	env.t.Helper()
	return env.BetSolutionsPassKey(action, TestPassKey, body)
}

// BetSolutionsPassKey posts a JSON callback carrying passKey.
func (env *TestEnv) BetSolutionsPassKey(action, passKey string, body any) Reply {
	env.t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		env.t.Fatalf("marshal: %v", err)
	}
	header := http.Header{}
	header.Set("Pass-Key", passKey)
	return env.post(domain.ProviderBetSolutions, action, "application/json", payload, header)
}

func (env *TestEnv) post(p domain.Provider, action, contentType string, body []byte, header http.Header) Reply {
	env.t.Helper()
	u := fmt.Sprintf("%s/callbacks/%s/%d/%s", env.Server.URL, p, TestClientID, action)
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		env.t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("post %s: %v", u, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		env.t.Fatalf("read body: %v", err)
	}
	reply := Reply{HTTPStatus: resp.StatusCode, Raw: raw}
	if err := json.Unmarshal(raw, &reply.Envelope); err != nil {
		env.t.Fatalf("decode %s: %v", raw, err)
	}
	return reply
}
