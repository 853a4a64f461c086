package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/guard"
	"github.com/attaboy/gamecallback/internal/infra"
	"github.com/attaboy/gamecallback/internal/provider"
	"github.com/attaboy/gamecallback/internal/response"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	clientID = int64(7)
	secret   = "secret"
	token    = "tok"
)

type harness struct {
	o        *Orchestrator
	store    *memStore
	sessions *fakeSessions
	bets     *fakeBets
	wallet   *fakeWallet
	player   uuid.UUID
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	player := uuid.New()
	h := &harness{
		sessions: &fakeSessions{
			idents: map[string]*domain.PlayerIdentity{
				token: {PlayerID: player, ClientID: clientID, Currency: "EUR", SessionID: uuid.New()},
			},
			codes: map[string]string{"code-1": token},
		},
		bets:   newFakeBets(),
		wallet: newFakeWallet(),
		player: player,
		clock:  time.Unix(1700000000, 0),
	}
	h.store = newMemStore(func() time.Time { return h.clock })
	h.wallet.balances[player] = decimal.NewFromInt(100)

	clients := fakeClients{
		domain.ProviderPragmatic:    {ClientID: clientID, Provider: domain.ProviderPragmatic, SecretKey: secret, Currency: "EUR", Active: true},
		domain.ProviderBetSolutions: {ClientID: clientID, Provider: domain.ProviderBetSolutions, SecretKey: secret, Currency: "EUR", Active: true},
	}

	h.o = New(Deps{
		Adapters: provider.NewRegistry(provider.NewPragmaticAdapter(testLogger), provider.NewBetSolutionsAdapter(testLogger)),
		Clients:  clients,
		Ledger:   guard.NewIdempotencyLedger(h.store, 30*time.Second, 100*time.Millisecond, 5*time.Millisecond, testLogger),
		Sessions: h.sessions,
		Bets:     h.bets,
		Wallet:   h.wallet,
		Breaker:  guard.NewCircuitBreaker(1000, time.Minute, testLogger),
		Metrics:  infra.NewMetrics(prometheus.NewRegistry()),
		Timeout:  time.Second,
	}, testLogger)
	h.o.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) bs(t *testing.T, action, body string) *Outcome {
	t.Helper()
	out, err := h.o.Handle(context.Background(), domain.ProviderBetSolutions, &provider.RawRequest{
		Action: action, ClientID: clientID, Body: []byte(body), ReceivedAt: h.clock,
	})
	require.NoError(t, err)
	return out
}

func (h *harness) pp(t *testing.T, action string, values url.Values) *Outcome {
	t.Helper()
	values.Set("hash", provider.SignRequest(values, secret))
	out, err := h.o.Handle(context.Background(), domain.ProviderPragmatic, &provider.RawRequest{
		Action: action, ClientID: clientID, Body: []byte(values.Encode()), ReceivedAt: h.clock,
	})
	require.NoError(t, err)
	return out
}

func envelope(t *testing.T, out *Outcome) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(out.Body, &env))
	return env
}

func betBody(tx, round, amount string) string {
	return `{"token":"tok","transactionId":"` + tx + `","roundId":"` + round + `","gameId":"g1","amount":` + amount + `}`
}

func betBodyAs(tok, tx, round, amount string) string {
	return `{"token":"` + tok + `","transactionId":"` + tx + `","roundId":"` + round + `","gameId":"g1","amount":` + amount + `}`
}

func refundBody(tok, tx string) string {
	return `{"token":"` + tok + `","transactionId":"` + tx + `"}`
}

// addPlayer registers a second player with its own session token.
func (h *harness) addPlayer(tok string, balance int64) uuid.UUID {
	id := uuid.New()
	h.sessions.idents[tok] = &domain.PlayerIdentity{PlayerID: id, ClientID: clientID, Currency: "EUR", SessionID: uuid.New()}
	h.wallet.balances[id] = decimal.NewFromInt(balance)
	return id
}

func winBody(tx, round, amount string) string {
	return `{"token":"tok","transactionId":"` + tx + `","roundId":"` + round + `","amount":` + amount + `,"roundClosed":true}`
}

func betKey(tx string) domain.CallbackKey {
	return domain.CallbackKey{Provider: domain.ProviderBetSolutions, Action: domain.ActionBet, TransactionID: tx}
}

// --- Example scenarios ---

func TestBetWinRefundScenario(t *testing.T) {
	h := newHarness(t)

	bet := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	env := envelope(t, bet)
	assert.True(t, env.Success)
	assert.Equal(t, http.StatusOK, bet.HTTPStatus)
	assert.Equal(t, "80.00", env.Data.Balance)
	assert.Equal(t, domain.RoundPending, h.bets.round("r1").Status)
	assert.Equal(t, []State{
		StateReceived, StateVerified, StateDedupClaimed, StateSessionResolved,
		StateRulesChecked, StateLedgerApplied, StateWalletApplied, StateFinalized,
	}, bet.States)

	win := h.bs(t, "win", winBody("w-1", "r1", "50"))
	env = envelope(t, win)
	assert.True(t, env.Success)
	assert.Equal(t, "130.00", env.Data.Balance)
	round := h.bets.round("r1")
	assert.Equal(t, domain.RoundWon, round.Status)
	assert.True(t, round.Closed)

	refund := h.bs(t, "rollback", refundBody(token, "tx-1"))
	env = envelope(t, refund)
	assert.False(t, env.Success)
	assert.Equal(t, http.StatusGone, env.Status)
	assert.Equal(t, domain.KindGameCycleClosed, refund.Kind)
	assert.True(t, h.wallet.balance(h.player).Equal(decimal.NewFromInt(130)))
}

func TestBet_RedeliveryReplaysCachedResponse(t *testing.T) {
	h := newHarness(t)

	first := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	second := h.bs(t, "bet", betBody("tx-1", "r1", "20"))

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, h.wallet.debits)
	assert.NotContains(t, second.States, StateDedupClaimed)
}

func TestBet_ConcurrentDeliveriesDebitOnce(t *testing.T) {
	h := newHarness(t)
	h.wallet.delay = 20 * time.Millisecond

	const n = 10
	outs := make([]*Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.o.Handle(context.Background(), domain.ProviderBetSolutions, &provider.RawRequest{
				Action: "bet", ClientID: clientID, Body: []byte(betBody("tx-1", "r1", "20")),
			})
			if err == nil {
				outs[i] = out
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.wallet.debits)
	assert.Equal(t, 1, h.bets.placed)

	final, err := h.o.Handle(context.Background(), domain.ProviderBetSolutions, &provider.RawRequest{
		Action: "bet", ClientID: clientID, Body: []byte(betBody("tx-1", "r1", "20")),
	})
	require.NoError(t, err)

	claimed := 0
	for _, out := range outs {
		require.NotNil(t, out)
		if containsState(out.States, StateDedupClaimed) {
			claimed++
		}
		if out.HTTPStatus == http.StatusOK {
			assert.Equal(t, final.Body, out.Body)
		} else {
			assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestPragmatic_TamperedSignatureRejected(t *testing.T) {
	h := newHarness(t)
	values := url.Values{"token": {token}, "roundId": {"r1"}, "reference": {"tx-1"}, "amount": {"20.00"}}
	values.Set("hash", provider.SignRequest(values, secret))
	values.Set("amount", "2000.00")

	out, err := h.o.Handle(context.Background(), domain.ProviderPragmatic, &provider.RawRequest{
		Action: "bet", ClientID: clientID, Body: []byte(values.Encode()),
	})
	require.NoError(t, err)

	env := envelope(t, out)
	assert.Equal(t, http.StatusUnauthorized, env.Status)
	assert.Equal(t, domain.KindInvalidSecureToken, out.Kind)
	assert.Nil(t, h.bets.round("r1"))
	assert.Equal(t, 0, h.wallet.debits)
	assert.Equal(t, 0, h.store.size())
}

func TestPragmatic_BalanceFingerprintIsFresh(t *testing.T) {
	h := newHarness(t)

	first := envelope(t, h.pp(t, "balance", url.Values{"token": {token}}))
	assert.True(t, first.Success)
	assert.Equal(t, "100.00", first.Data.Balance)
	assert.Equal(t, int64(1700000000), first.Data.Timestamp)

	h.clock = h.clock.Add(time.Second)
	second := envelope(t, h.pp(t, "balance", url.Values{"token": {token}}))
	assert.NotEqual(t, first.Data.Fingerprint, second.Data.Fingerprint)
	assert.Equal(t, 0, h.store.size())
}

func TestPragmatic_ReplayResealed(t *testing.T) {
	h := newHarness(t)
	bet := url.Values{"token": {token}, "roundId": {"r1"}, "reference": {"tx-1"}, "amount": {"20.00"}}

	first := envelope(t, h.pp(t, "bet", bet))
	h.clock = h.clock.Add(5 * time.Second)
	replayed := h.pp(t, "bet", url.Values{"token": {token}, "roundId": {"r1"}, "reference": {"tx-1"}, "amount": {"20.00"}})
	second := envelope(t, replayed)

	assert.True(t, replayed.Replayed)
	assert.Equal(t, first.Data.Balance, second.Data.Balance)
	assert.Equal(t, first.Data.Timestamp+5, second.Data.Timestamp)
	assert.NotEqual(t, first.Data.Fingerprint, second.Data.Fingerprint)
	assert.Equal(t, 1, h.wallet.debits)
}

// --- Bet rules ---

func TestBet_InsufficientFundsNoMutation(t *testing.T) {
	h := newHarness(t)

	out := h.bs(t, "bet", betBody("tx-1", "r1", "200"))
	assert.Equal(t, domain.KindInsufficientFunds, out.Kind)
	assert.Equal(t, http.StatusOK, out.HTTPStatus)
	assert.Equal(t, 0, h.bets.placed)
	assert.Equal(t, 0, h.wallet.debits)
	assert.True(t, h.store.terminal(betKey("tx-1")))
}

func TestBet_ExistingRounds(t *testing.T) {
	h := newHarness(t)
	h.bs(t, "bet", betBody("tx-1", "r1", "10"))

	// Bets recorded outside the callback log: one settled on a closed round,
	// one settled on a round that is still open.
	h.bets.rounds["r5"] = &domain.GameRound{RoundID: "r5", PlayerID: h.player, Status: domain.RoundWon, Closed: true}
	h.bets.bets["tx-9"] = &domain.Bet{RoundID: "r5", TransactionID: "tx-9", PlayerID: h.player, Status: domain.BetSettled}
	h.bets.rounds["r7"] = &domain.GameRound{RoundID: "r7", PlayerID: h.player, Status: domain.RoundWon}
	h.bets.bets["tx-8"] = &domain.Bet{RoundID: "r7", TransactionID: "tx-8", PlayerID: h.player, Status: domain.BetSettled}

	out := h.bs(t, "bet", betBody("tx-9", "r6", "10"))
	assert.Equal(t, domain.KindTransactionExist, out.Kind)

	out = h.bs(t, "bet", betBody("tx-8", "r7", "10"))
	assert.Equal(t, domain.KindGameCycleExist, out.Kind)

	out = h.bs(t, "bet", betBody("tx-9", "r5", "10"))
	assert.True(t, out.Replayed)

	h.bs(t, "win", winBody("w-1", "r1", "0"))
	out = h.bs(t, "bet", betBody("tx-3", "r1", "10"))
	assert.Equal(t, domain.KindGameCycleClosed, out.Kind)
	assert.Equal(t, 1, h.wallet.debits)
}

func TestBet_SeveralBetsPerRound(t *testing.T) {
	h := newHarness(t)

	first := envelope(t, h.bs(t, "bet", betBody("tx-1", "r1", "10")))
	second := envelope(t, h.bs(t, "bet", betBody("tx-2", "r1", "15")))
	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Equal(t, "75.00", second.Data.Balance)
	assert.Equal(t, 2, h.wallet.debits)
	assert.Equal(t, "25", h.bets.round("r1").Stake.String())

	other := h.addPlayer("tok-2", 100)
	out := h.bs(t, "bet", betBodyAs("tok-2", "tx-3", "r1", "5"))
	assert.Equal(t, domain.KindIncorrectIdentifier, out.Kind)
	assert.True(t, h.wallet.balance(other).Equal(decimal.NewFromInt(100)))

	win := envelope(t, h.bs(t, "win", winBody("w-1", "r1", "30")))
	assert.Equal(t, "105.00", win.Data.Balance)
	assert.Equal(t, domain.BetSettled, h.bets.bet("tx-1").Status)
	assert.Equal(t, domain.BetSettled, h.bets.bet("tx-2").Status)

	out = h.bs(t, "rollback", refundBody(token, "tx-2"))
	assert.Equal(t, domain.KindGameCycleClosed, out.Kind)
	assert.True(t, h.wallet.balance(h.player).Equal(decimal.NewFromInt(105)))
}

func TestBet_UnknownSessionIsCached(t *testing.T) {
	h := newHarness(t)

	out := h.bs(t, "bet", `{"token":"nope","transactionId":"tx-1","roundId":"r1","amount":5}`)
	assert.Equal(t, domain.KindIncorrectIdentifier, out.Kind)
	assert.True(t, h.store.terminal(betKey("tx-1")))
}

func TestBet_SessionOutageIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.sessions.resolveErr = domain.ErrServiceUnavailable("identity resolve", errors.New("timeout"))

	out := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.False(t, h.store.terminal(betKey("tx-1")))

	h.sessions.resolveErr = nil
	out = h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Equal(t, http.StatusOK, out.HTTPStatus)
	assert.True(t, envelope(t, out).Success)
}

// --- Compensation ---

func TestBet_DebitFailureCompensates(t *testing.T) {
	h := newHarness(t)
	h.wallet.setDebitErr(errors.New("wallet unavailable"))

	out := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.Equal(t, domain.KindServiceUnavailable, out.Kind)
	assert.Nil(t, h.bets.round("r1"), "round must not be left pending")
	assert.Equal(t, 1, h.bets.voided)
	assert.False(t, h.store.terminal(betKey("tx-1")))

	h.wallet.setDebitErr(nil)
	out = h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	env := envelope(t, out)
	assert.True(t, env.Success)
	assert.Equal(t, "80.00", env.Data.Balance)
	assert.Equal(t, 1, h.wallet.debits)
}

func TestBet_CommittedDebitWithLostReplyResumes(t *testing.T) {
	h := newHarness(t)
	h.wallet.lostReplies = 1

	out := h.bs(t, "bet", betBody("tx-1", "r1", "60"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.Equal(t, 0, h.bets.voided, "a committed debit keeps its bet")
	require.NotNil(t, h.bets.bet("tx-1"))
	assert.Equal(t, domain.BetPending, h.bets.bet("tx-1").Status)
	assert.False(t, h.store.terminal(betKey("tx-1")))

	out = h.bs(t, "bet", betBody("tx-1", "r1", "60"))
	env := envelope(t, out)
	assert.True(t, env.Success, "retry must not be refused for funds it already paid")
	assert.Equal(t, "40.00", env.Data.Balance)
	assert.Equal(t, 1, h.wallet.debits)
	assert.Equal(t, 1, h.bets.placed)
}

func TestBet_DebitCommittedAfterVoidSkipsBalanceGuard(t *testing.T) {
	h := newHarness(t)
	// The debit of an earlier attempt landed after its bet was voided.
	_, err := h.wallet.Debit(context.Background(), domain.WalletCommand{
		PlayerID: h.player, ClientID: clientID, Amount: decimal.NewFromInt(60),
		Provider: domain.ProviderBetSolutions, TransactionID: "tx-1", RoundID: "r1",
	})
	require.NoError(t, err)

	out := h.bs(t, "bet", betBody("tx-1", "r1", "60"))
	env := envelope(t, out)
	assert.True(t, env.Success)
	assert.Equal(t, "40.00", env.Data.Balance)
	assert.Equal(t, 1, h.wallet.debits)
	assert.Equal(t, domain.BetPending, h.bets.bet("tx-1").Status)
}

func TestBet_UnknownDebitOutcomeKeepsBet(t *testing.T) {
	h := newHarness(t)
	h.wallet.setDebitErr(errors.New("wallet unavailable"))
	// The lookup before the bet works; the one after the failed debit does not.
	h.wallet.findErrs = []error{nil, errors.New("wallet unavailable")}

	out := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.Equal(t, 0, h.bets.voided)
	assert.NotNil(t, h.bets.bet("tx-1"))
}

func TestBet_DebitRejectedCompensatesAndCaches(t *testing.T) {
	h := newHarness(t)
	h.wallet.setDebitErr(domain.ErrInsufficientFunds())

	out := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Equal(t, domain.KindInsufficientFunds, out.Kind)
	assert.Nil(t, h.bets.round("r1"))
	assert.True(t, h.store.terminal(betKey("tx-1")))
}

func TestBet_FailedCompensationResumesOnRetry(t *testing.T) {
	h := newHarness(t)
	h.wallet.setDebitErr(errors.New("wallet unavailable"))
	h.bets.voidErr = errors.New("bets unavailable")

	out := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.Equal(t, domain.RoundPending, h.bets.round("r1").Status)

	h.wallet.setDebitErr(nil)
	h.bets.voidErr = nil
	out = h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.True(t, envelope(t, out).Success)
	assert.Equal(t, 1, h.bets.placed)
	assert.Equal(t, 1, h.wallet.debits)
}

// --- Win rules ---

func TestWin_Rules(t *testing.T) {
	h := newHarness(t)

	out := h.bs(t, "win", winBody("w-1", "missing", "5"))
	assert.Equal(t, domain.KindGameCycleNotExist, out.Kind)

	h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	out = h.bs(t, "win", winBody("w-1", "r1", "0"))
	env := envelope(t, out)
	assert.True(t, env.Success)
	assert.Equal(t, "80.00", env.Data.Balance)
	assert.Equal(t, 0, h.wallet.credits)
	round := h.bets.round("r1")
	assert.True(t, round.Closed)
	assert.Equal(t, domain.RoundLost, round.Status)

	out = h.bs(t, "win", winBody("w-2", "r1", "5"))
	assert.Equal(t, domain.KindGameCycleClosed, out.Kind)
}

func TestWin_CreditFailureRetriesWithoutDoubleCredit(t *testing.T) {
	h := newHarness(t)
	h.bs(t, "bet", betBody("tx-1", "r1", "20"))

	h.wallet.setCreditErr(errors.New("wallet unavailable"))
	out := h.bs(t, "win", winBody("w-1", "r1", "50"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.True(t, h.bets.round("r1").Closed)

	h.wallet.setCreditErr(nil)
	out = h.bs(t, "win", winBody("w-1", "r1", "50"))
	assert.Equal(t, "130.00", envelope(t, out).Data.Balance)
	assert.Equal(t, 1, h.wallet.credits)
}

// --- Refund rules ---

func TestRefund(t *testing.T) {
	h := newHarness(t)

	out := h.bs(t, "rollback", refundBody(token, "missing"))
	assert.Equal(t, domain.KindTransactionNotExist, out.Kind)

	h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	out = h.bs(t, "rollback", refundBody(token, "tx-1"))
	env := envelope(t, out)
	assert.True(t, env.Success)
	assert.Equal(t, "100.00", env.Data.Balance)
	assert.Equal(t, domain.RoundCancelled, h.bets.round("r1").Status)

	out = h.bs(t, "win", winBody("w-1", "r1", "10"))
	assert.Equal(t, domain.KindGameCycleClosed, out.Kind)
}

func TestRefund_OneOfSeveralBetsKeepsRoundOpen(t *testing.T) {
	h := newHarness(t)
	h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	h.bs(t, "bet", betBody("tx-2", "r1", "30"))

	out := h.bs(t, "rollback", refundBody(token, "tx-1"))
	assert.Equal(t, "70.00", envelope(t, out).Data.Balance)
	round := h.bets.round("r1")
	assert.False(t, round.Closed)
	assert.Equal(t, domain.RoundPending, round.Status)

	out = h.bs(t, "rollback", refundBody(token, "tx-2"))
	assert.Equal(t, "100.00", envelope(t, out).Data.Balance)
	assert.Equal(t, domain.RoundCancelled, h.bets.round("r1").Status)
}

func TestRefund_UnsignedNeedsTheBettorsSession(t *testing.T) {
	h := newHarness(t)
	h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	h.addPlayer("tok-2", 100)

	out := h.bs(t, "rollback", refundBody("forged", "tx-1"))
	assert.Equal(t, domain.KindIncorrectIdentifier, out.Kind)

	out = h.bs(t, "rollback", refundBody("tok-2", "tx-1"))
	assert.Equal(t, domain.KindIncorrectIdentifier, out.Kind)
	assert.True(t, h.wallet.balance(h.player).Equal(decimal.NewFromInt(80)))
	assert.Equal(t, domain.BetPending, h.bets.bet("tx-1").Status)
	assert.Equal(t, 0, h.wallet.credits)

	refundKey := domain.CallbackKey{Provider: domain.ProviderBetSolutions, Action: domain.ActionRefund, TransactionID: "tx-1"}
	assert.False(t, h.store.terminal(refundKey), "a forged refund must not decide the real one")

	out = h.bs(t, "rollback", refundBody(token, "tx-1"))
	assert.True(t, envelope(t, out).Success)
	assert.Equal(t, "100.00", envelope(t, out).Data.Balance)
}

func TestRefund_SignedNeedsNoSession(t *testing.T) {
	h := newHarness(t)
	h.pp(t, "bet", url.Values{"token": {token}, "roundId": {"r1"}, "reference": {"tx-1"}, "amount": {"20.00"}})
	delete(h.sessions.idents, token)

	out := h.pp(t, "refund", url.Values{"reference": {"tx-1"}})
	env := envelope(t, out)
	assert.True(t, env.Success)
	assert.Equal(t, "100.00", env.Data.Balance)
}

func TestRefund_CreditFailureResumes(t *testing.T) {
	h := newHarness(t)
	h.bs(t, "bet", betBody("tx-1", "r1", "20"))

	h.wallet.setCreditErr(errors.New("wallet unavailable"))
	out := h.bs(t, "rollback", refundBody(token, "tx-1"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.Equal(t, domain.RoundCancelled, h.bets.round("r1").Status)

	h.wallet.setCreditErr(nil)
	out = h.bs(t, "rollback", refundBody(token, "tx-1"))
	assert.Equal(t, "100.00", envelope(t, out).Data.Balance)
	assert.Equal(t, 1, h.wallet.credits)
}

// --- Lease ---

func TestClaim_LiveRunIsNotTakenOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Another worker holds the claim and is still inside its run.
	held, err := h.o.deps.Ledger.Claim(ctx, betKey("tx-1"), []byte(betBody("tx-1", "r1", "20")))
	require.NoError(t, err)
	require.Equal(t, guard.ClaimFresh, held.Status)

	h.clock = h.clock.Add(10 * time.Second)
	out := h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.NotContains(t, out.States, StateDedupClaimed)
	assert.Equal(t, 0, h.wallet.debits)

	h.clock = h.clock.Add(25 * time.Second)
	out = h.bs(t, "bet", betBody("tx-1", "r1", "20"))
	assert.Contains(t, out.States, StateDedupClaimed)
	assert.True(t, envelope(t, out).Success)
	assert.Equal(t, 1, h.wallet.debits)
}

func TestReplay_ReportsStoredOutcome(t *testing.T) {
	h := newHarness(t)

	first := h.bs(t, "bet", betBody("tx-1", "r1", "500"))
	require.Equal(t, domain.KindInsufficientFunds, first.Kind)

	second := h.bs(t, "bet", betBody("tx-1", "r1", "500"))
	assert.True(t, second.Replayed)
	assert.Equal(t, domain.KindInsufficientFunds, second.Kind)
	assert.Equal(t, first.Body, second.Body)
}

// --- Session actions ---

func TestAuthenticateAndLogout(t *testing.T) {
	h := newHarness(t)

	out := h.bs(t, "auth", `{"token":"code-1"}`)
	env := envelope(t, out)
	assert.True(t, env.Success)
	assert.Equal(t, token, env.Data.Token)
	assert.Equal(t, "100.00", env.Data.Balance)

	out = h.bs(t, "auth", `{"token":"code-1"}`)
	assert.Equal(t, domain.KindIncorrectIdentifier, out.Kind)

	out = h.bs(t, "logout", `{"token":"tok"}`)
	assert.True(t, envelope(t, out).Success)
	assert.Len(t, h.sessions.loggedOut, 1)
}

// --- Admission ---

func TestUnknownClientRejectedBeforeClaim(t *testing.T) {
	h := newHarness(t)

	out, err := h.o.Handle(context.Background(), domain.ProviderBetSolutions, &provider.RawRequest{
		Action: "bet", ClientID: 99, Body: []byte(betBody("tx-1", "r1", "20")),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindInvalidSecureToken, out.Kind)
	assert.Equal(t, 0, h.store.size())
}

func TestMalformedRequestNotCached(t *testing.T) {
	h := newHarness(t)

	out := h.bs(t, "bet", `{"token":"tok","roundId":"r1","amount":5}`)
	assert.Equal(t, domain.KindMalformedRequest, out.Kind)
	assert.Equal(t, http.StatusBadRequest, envelope(t, out).Status)
	assert.Equal(t, 0, h.store.size())
}

func TestRefuse(t *testing.T) {
	h := newHarness(t)

	out, err := h.o.Refuse(domain.ProviderBetSolutions, &provider.RawRequest{Action: "bet", ClientID: clientID}, "rate limited")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)
	assert.False(t, envelope(t, out).Success)
}

func TestUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.Handle(context.Background(), domain.Provider("nope"), &provider.RawRequest{})
	require.Error(t, err)
}

func containsState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
