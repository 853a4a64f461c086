// Package orchestrator runs one provider callback end to end: verify, claim,
// resolve the session, apply bet and wallet effects with compensation, and
// finalize the provider response.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/guard"
	"github.com/attaboy/gamecallback/internal/infra"
	"github.com/attaboy/gamecallback/internal/provider"
	"github.com/attaboy/gamecallback/internal/response"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	breakerBets    = "bets"
	breakerWallet  = "wallet"
	breakerClients = "clients"
)

// Clients looks up per-client provider credentials.
type Clients interface {
	Find(ctx context.Context, p domain.Provider, clientID int64) (*domain.ProviderClient, error)
}

// Idempotency is the callback log contract.
type Idempotency interface {
	Claim(ctx context.Context, key domain.CallbackKey, request []byte) (guard.Claim, error)
	Finalize(ctx context.Context, key domain.CallbackKey, response []byte, kind domain.ErrorKind) (guard.Stored, error)
	Release(ctx context.Context, key domain.CallbackKey) error
	Await(ctx context.Context, row *domain.CallbackLog) (guard.Stored, error)
}

// Sessions resolves provider tokens to players.
type Sessions interface {
	Login(ctx context.Context, authCode string, clientID int64) (*domain.PlayerIdentity, error)
	Resolve(ctx context.Context, token string, clientID int64) (*domain.PlayerIdentity, error)
	Logout(ctx context.Context, ident *domain.PlayerIdentity) error
}

// Bets is the bet collaborator contract.
type Bets interface {
	GetRound(ctx context.Context, p domain.Provider, roundID string) (*domain.GameRound, error)
	GetBet(ctx context.Context, p domain.Provider, txID string) (*domain.Bet, error)
	PlaceBet(ctx context.Context, params domain.PlaceBetParams) (*domain.Bet, error)
	SettleBet(ctx context.Context, params domain.SettleBetParams) (*domain.GameRound, error)
	CancelBet(ctx context.Context, p domain.Provider, txID string) (*domain.Bet, error)
	VoidBet(ctx context.Context, p domain.Provider, txID, reason string) error
}

// Wallet is the wallet collaborator contract.
type Wallet interface {
	GetBalance(ctx context.Context, playerID uuid.UUID) (decimal.Decimal, error)
	FindEntry(ctx context.Context, key domain.WalletKey) (*domain.WalletEntry, error)
	Debit(ctx context.Context, cmd domain.WalletCommand) (*domain.WalletResult, error)
	Credit(ctx context.Context, cmd domain.WalletCommand) (*domain.WalletResult, error)
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Adapters *provider.Registry
	Clients  Clients
	Ledger   Idempotency
	Sessions Sessions
	Bets     Bets
	Wallet   Wallet
	Breaker  *guard.CircuitBreaker
	Metrics  *infra.Metrics
	// Timeout bounds every bet, wallet and client lookup call.
	Timeout time.Duration
}

// Outcome is what goes back on the wire.
type Outcome struct {
	Body       []byte
	HTTPStatus int
	Kind       domain.ErrorKind
	Replayed   bool
	States     []State
}

// Orchestrator is the transaction orchestrator for provider callbacks.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, logger *slog.Logger) *Orchestrator {
	if deps.Timeout <= 0 {
		deps.Timeout = 3 * time.Second
	}
	return &Orchestrator{deps: deps, logger: logger, now: time.Now}
}

// Handle processes one raw delivery for provider p. The returned error is
// set only when no provider response could be rendered at all.
func (o *Orchestrator) Handle(ctx context.Context, p domain.Provider, raw *provider.RawRequest) (*Outcome, error) {
	start := o.now()
	adapter, err := o.deps.Adapters.Get(p)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With("provider", p, "action", raw.Action, "client_id", raw.ClientID)
	r := newRun(logger)

	out, ev, err := o.handle(ctx, r, adapter, raw)
	if err != nil {
		return nil, err
	}
	out.States = r.states

	elapsed := o.now().Sub(start)
	attrs := []any{"outcome", outcomeLabel(out.Kind), "replayed", out.Replayed, "duration_ms", elapsed.Milliseconds()}
	if ev != nil {
		attrs = append(attrs, "transaction_id", ev.TransactionID, "round_id", ev.RoundID)
	}
	logger.Info("callback handled", attrs...)

	action := raw.Action
	if ev != nil {
		action = string(ev.Action)
	}
	o.deps.Metrics.ObserveCallback(string(p), action, outcomeLabel(out.Kind), elapsed)
	return out, nil
}

// Refuse answers a delivery that is not admitted (rate limited) with the
// provider's transient error shape. Nothing is claimed or cached.
func (o *Orchestrator) Refuse(p domain.Provider, raw *provider.RawRequest, reason string) (*Outcome, error) {
	adapter, err := o.deps.Adapters.Get(p)
	if err != nil {
		return nil, err
	}
	o.logger.Warn("callback refused", "provider", p, "client_id", raw.ClientID, "reason", reason)
	o.deps.Metrics.ObserveCallback(string(p), raw.Action, "refused", 0)
	return o.render(adapter, placeholderClient(p, raw.ClientID), response.Failed(domain.ErrServiceUnavailable(reason, nil), ""))
}

func (o *Orchestrator) handle(ctx context.Context, r *run, adapter provider.Adapter, raw *provider.RawRequest) (*Outcome, *domain.CallbackEvent, error) {
	p := adapter.Provider()

	client, err := o.lookupClient(ctx, p, raw.ClientID)
	if err != nil {
		r.fail(err)
		out, rerr := o.render(adapter, placeholderClient(p, raw.ClientID), response.Failed(err, ""))
		return out, nil, rerr
	}

	ev, err := adapter.Parse(raw)
	if err != nil {
		r.fail(err)
		out, rerr := o.render(adapter, client, response.Failed(err, ""))
		return out, nil, rerr
	}
	if err := adapter.Verify(ctx, raw, ev, client); err != nil {
		r.fail(err)
		out, rerr := o.render(adapter, client, response.Failed(err, ev.TransactionID))
		return out, ev, rerr
	}
	r.to(StateVerified)

	if !ev.Action.Mutating() {
		res, err := o.process(ctx, r, adapter, ev, client)
		if err != nil {
			r.fail(err)
			res = response.Failed(err, ev.TransactionID)
		}
		if err == nil || !domain.IsTransient(err) {
			r.to(StateFinalized)
		}
		out, rerr := o.render(adapter, client, res)
		return out, ev, rerr
	}

	key := ev.Key()
	claim, err := o.deps.Ledger.Claim(ctx, key, raw.Body)
	if err != nil {
		unavailable := domain.ErrServiceUnavailable("claim", err)
		r.fail(unavailable)
		out, rerr := o.render(adapter, client, response.Failed(unavailable, ev.TransactionID))
		return out, ev, rerr
	}
	if claim.Status == guard.ClaimExisting {
		out, rerr := o.replay(ctx, r, adapter, client, ev, claim.Log)
		return out, ev, rerr
	}
	r.to(StateDedupClaimed)

	res, err := o.process(ctx, r, adapter, ev, client)
	if err != nil {
		r.fail(err)
		if domain.IsTransient(err) || errors.Is(err, errUnauthenticated) {
			o.release(ctx, r, key)
			out, rerr := o.render(adapter, client, response.Failed(err, ev.TransactionID))
			return out, ev, rerr
		}
		res = response.Failed(err, ev.TransactionID)
	}

	payload, err := adapter.BuildResponse(res, client)
	if err != nil {
		o.release(ctx, r, key)
		return nil, ev, fmt.Errorf("build %s response: %w", p, err)
	}
	finalizeCtx, cancel := context.WithTimeout(ctx, o.deps.Timeout)
	stored, err := o.deps.Ledger.Finalize(finalizeCtx, key, payload, res.Kind)
	cancel()
	if err != nil {
		r.logger.Error("finalize failed", "key", key.String(), "error", err)
		o.release(ctx, r, key)
		unavailable := domain.ErrServiceUnavailable("finalize", err)
		r.fail(unavailable)
		out, rerr := o.render(adapter, client, response.Failed(unavailable, ev.TransactionID))
		return out, ev, rerr
	}
	r.to(StateFinalized)

	out, err := o.seal(adapter, client, stored.Payload, stored.Kind)
	return out, ev, err
}

// replay serves a duplicate delivery from the callback log.
func (o *Orchestrator) replay(ctx context.Context, r *run, adapter provider.Adapter, client *domain.ProviderClient, ev *domain.CallbackEvent, row *domain.CallbackLog) (*Outcome, error) {
	stored, err := o.deps.Ledger.Await(ctx, row)
	if err != nil {
		o.deps.Metrics.ObserveReplay(string(ev.Provider), "in_flight")
		if !errors.Is(err, guard.ErrInFlight) {
			r.logger.Warn("replay lookup failed", "error", err)
		}
		busy := domain.ErrServiceUnavailable("callback in flight", err)
		r.fail(busy)
		return o.render(adapter, client, response.Failed(busy, ev.TransactionID))
	}
	o.deps.Metrics.ObserveReplay(string(ev.Provider), "cached")
	r.logger.Debug("serving cached response",
		"transaction_id", ev.TransactionID,
		"outcome", outcomeLabel(stored.Kind),
		"fingerprint", adapter.FingerprintPolicy().String())

	out, err := o.seal(adapter, client, stored.Payload, stored.Kind)
	if err != nil {
		return nil, err
	}
	out.Replayed = true
	return out, nil
}

func (o *Orchestrator) release(ctx context.Context, r *run, key domain.CallbackKey) {
	if err := o.deps.Ledger.Release(context.WithoutCancel(ctx), key); err != nil {
		r.logger.Error("release claim failed", "key", key.String(), "error", err)
	}
}

// render builds and seals a response that is not cached.
func (o *Orchestrator) render(adapter provider.Adapter, client *domain.ProviderClient, res *response.Result) (*Outcome, error) {
	payload, err := adapter.BuildResponse(res, client)
	if err != nil {
		return nil, fmt.Errorf("build %s response: %w", adapter.Provider(), err)
	}
	return o.seal(adapter, client, payload, res.Kind)
}

// seal signs payload when the protocol fingerprints every serve. Payloads
// of the other policies go out as stored.
func (o *Orchestrator) seal(adapter provider.Adapter, client *domain.ProviderClient, payload []byte, kind domain.ErrorKind) (*Outcome, error) {
	body := payload
	switch adapter.FingerprintPolicy() {
	case response.FingerprintFresh:
		sealer, ok := adapter.(provider.Sealer)
		if !ok {
			return nil, fmt.Errorf("%s adapter fingerprints fresh but cannot seal", adapter.Provider())
		}
		var err error
		if body, err = sealer.Seal(payload, client, o.now()); err != nil {
			return nil, err
		}
	case response.FingerprintCached, response.FingerprintNone:
	}
	status := http.StatusOK
	if kind != "" && !kind.Terminal() {
		status = http.StatusServiceUnavailable
	}
	return &Outcome{Body: body, HTTPStatus: status, Kind: kind}, nil
}

func (o *Orchestrator) lookupClient(ctx context.Context, p domain.Provider, clientID int64) (*domain.ProviderClient, error) {
	var client *domain.ProviderClient
	err := o.deps.Breaker.Call(ctx, breakerClients, o.deps.Timeout, nil, func(ctx context.Context) error {
		var err error
		client, err = o.deps.Clients.Find(ctx, p, clientID)
		return err
	})
	if err != nil {
		return nil, domain.ErrServiceUnavailable("client lookup", err)
	}
	if client == nil || !client.Active {
		return nil, domain.ErrInvalidSecureToken()
	}
	return client, nil
}

// placeholderClient stands in when the real client is unknown. Its empty
// secret yields fingerprints the provider cannot verify.
func placeholderClient(p domain.Provider, clientID int64) *domain.ProviderClient {
	return &domain.ProviderClient{ClientID: clientID, Provider: p}
}

func outcomeLabel(kind domain.ErrorKind) string {
	if kind == "" {
		return "ok"
	}
	return string(kind)
}
