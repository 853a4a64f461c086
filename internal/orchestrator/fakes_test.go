package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/rounds"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- callback log store ---

// memStore keeps callback_logs in memory. A non-terminal row is taken over
// once now is more than the lease past its last touch, like the SQL store.
type memStore struct {
	mu     sync.Mutex
	rows   map[domain.CallbackKey]*domain.CallbackLog
	events []domain.OutboxDraft
	now    func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{rows: make(map[domain.CallbackKey]*domain.CallbackLog), now: now}
}

func (s *memStore) Claim(_ context.Context, key domain.CallbackKey, request []byte, lease time.Duration) (bool, *domain.CallbackLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if row, ok := s.rows[key]; ok {
		if !row.Terminal && now.Sub(row.UpdatedAt) > lease {
			row.RequestPayload = request
			row.UpdatedAt = now
			cp := *row
			return true, &cp, nil
		}
		cp := *row
		return false, &cp, nil
	}
	row := &domain.CallbackLog{
		Provider: key.Provider, Action: key.Action, TransactionID: key.TransactionID,
		RequestPayload: request, CreatedAt: now, UpdatedAt: now,
	}
	s.rows[key] = row
	cp := *row
	return true, &cp, nil
}

func (s *memStore) Find(_ context.Context, key domain.CallbackKey) (*domain.CallbackLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *memStore) Finalize(_ context.Context, key domain.CallbackKey, response []byte, outcome domain.ErrorKind, event domain.OutboxDraft) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok || row.Terminal {
		return false, nil
	}
	row.Terminal = true
	row.ResponsePayload = response
	row.Outcome = outcome
	row.UpdatedAt = s.now()
	s.events = append(s.events, event)
	return true, nil
}

func (s *memStore) Release(_ context.Context, key domain.CallbackKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[key]; ok && !row.Terminal {
		row.UpdatedAt = time.Unix(0, 0)
	}
	return nil
}

func (s *memStore) terminal(key domain.CallbackKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	return ok && row.Terminal
}

func (s *memStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// --- clients ---

type fakeClients map[domain.Provider]*domain.ProviderClient

func (f fakeClients) Find(_ context.Context, p domain.Provider, clientID int64) (*domain.ProviderClient, error) {
	c, ok := f[p]
	if !ok || c.ClientID != clientID {
		return nil, nil
	}
	return c, nil
}

// --- sessions ---

type fakeSessions struct {
	mu         sync.Mutex
	idents     map[string]*domain.PlayerIdentity
	codes      map[string]string
	loggedOut  []uuid.UUID
	resolveErr error
}

func (f *fakeSessions) Login(_ context.Context, code string, _ int64) (*domain.PlayerIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.codes[code]
	if !ok {
		return nil, domain.ErrIncorrectIdentifier("invalid auth code")
	}
	delete(f.codes, code)
	ident := *f.idents[token]
	ident.Token = token
	return &ident, nil
}

func (f *fakeSessions) Resolve(_ context.Context, token string, _ int64) (*domain.PlayerIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	ident, ok := f.idents[token]
	if !ok {
		return nil, domain.ErrIncorrectIdentifier("unknown session")
	}
	cp := *ident
	return &cp, nil
}

func (f *fakeSessions) Logout(_ context.Context, ident *domain.PlayerIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, ident.SessionID)
	return nil
}

// --- bets ---

// fakeBets mirrors the rounds ledger: rounds keyed by round id, bets keyed
// by transaction id.
type fakeBets struct {
	mu        sync.Mutex
	rounds    map[string]*domain.GameRound
	bets      map[string]*domain.Bet
	voidErr   error
	cancelErr error
	placed    int
	voided    int
}

func newFakeBets() *fakeBets {
	return &fakeBets{
		rounds: make(map[string]*domain.GameRound),
		bets:   make(map[string]*domain.Bet),
	}
}

func (f *fakeBets) GetRound(_ context.Context, _ domain.Provider, roundID string) (*domain.GameRound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rounds[roundID]
	if !ok {
		return nil, rounds.ErrNotFound
	}
	return cloneRound(r), nil
}

func (f *fakeBets) GetBet(_ context.Context, _ domain.Provider, txID string) (*domain.Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bets[txID]
	if !ok {
		return nil, rounds.ErrNotFound
	}
	return f.viewBet(b), nil
}

func (f *fakeBets) PlaceBet(_ context.Context, params domain.PlaceBetParams) (*domain.Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bets[params.TransactionID]; ok {
		switch {
		case b.RoundID != params.RoundID:
			return nil, rounds.ErrTxTaken
		case f.rounds[b.RoundID].Closed:
			return nil, rounds.ErrRoundClosed
		case b.Status == domain.BetPending:
			return f.viewBet(b), nil
		}
		return nil, rounds.ErrAlreadyExists
	}
	r, ok := f.rounds[params.RoundID]
	switch {
	case !ok:
		r = &domain.GameRound{
			ID: uuid.New(), Provider: params.Provider, RoundID: params.RoundID,
			PlayerID: params.PlayerID, ClientID: params.ClientID, GameID: params.GameID,
			Status: domain.RoundPending,
		}
		f.rounds[params.RoundID] = r
	case r.Closed:
		return nil, rounds.ErrRoundClosed
	case r.PlayerID != params.PlayerID:
		return nil, rounds.ErrPlayerMismatch
	}
	b := &domain.Bet{
		ID: uuid.New(), Provider: params.Provider, RoundID: params.RoundID, TransactionID: params.TransactionID,
		PlayerID: params.PlayerID, ClientID: params.ClientID, GameID: params.GameID,
		Stake: params.Stake, Status: domain.BetPending,
	}
	f.bets[params.TransactionID] = b
	r.Stake = r.Stake.Add(params.Stake)
	f.placed++
	return f.viewBet(b), nil
}

func (f *fakeBets) SettleBet(_ context.Context, params domain.SettleBetParams) (*domain.GameRound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rounds[params.RoundID]
	if !ok {
		return nil, rounds.ErrNotFound
	}
	if r.SettledBy(params.TransactionID) {
		return cloneRound(r), nil
	}
	if r.Closed {
		return nil, rounds.ErrRoundClosed
	}
	r.Winnings = r.Winnings.Add(params.Winnings)
	r.Status = domain.RoundLost
	if r.Winnings.IsPositive() {
		r.Status = domain.RoundWon
	}
	r.Closed = r.Closed || params.CloseRound
	r.Settlements = append(r.Settlements, params.TransactionID)
	for _, b := range f.bets {
		if b.RoundID == r.RoundID && b.Status == domain.BetPending {
			b.Status = domain.BetSettled
		}
	}
	return cloneRound(r), nil
}

func (f *fakeBets) CancelBet(_ context.Context, _ domain.Provider, txID string) (*domain.Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	b, ok := f.bets[txID]
	if !ok {
		return nil, rounds.ErrNotFound
	}
	if b.Status == domain.BetCancelled {
		return f.viewBet(b), nil
	}
	r := f.rounds[b.RoundID]
	if r.Closed || b.Status == domain.BetSettled {
		return nil, rounds.ErrRoundClosed
	}
	b.Status = domain.BetCancelled
	r.Stake = r.Stake.Sub(b.Stake)
	active := 0
	for _, other := range f.bets {
		if other.RoundID == r.RoundID && other.Status != domain.BetCancelled {
			active++
		}
	}
	if active == 0 {
		r.Status = domain.RoundCancelled
		r.Closed = true
	}
	return f.viewBet(b), nil
}

func (f *fakeBets) VoidBet(_ context.Context, _ domain.Provider, txID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voidErr != nil {
		return f.voidErr
	}
	b, ok := f.bets[txID]
	if !ok {
		return nil
	}
	r := f.rounds[b.RoundID]
	if r.Closed || b.Status != domain.BetPending {
		return rounds.ErrRoundClosed
	}
	delete(f.bets, txID)
	r.Stake = r.Stake.Sub(b.Stake)
	empty := len(r.Settlements) == 0
	for _, other := range f.bets {
		if other.RoundID == r.RoundID {
			empty = false
		}
	}
	if empty {
		delete(f.rounds, r.RoundID)
	}
	f.voided++
	return nil
}

// viewBet copies b with its round's closed flag. Callers hold f.mu.
func (f *fakeBets) viewBet(b *domain.Bet) *domain.Bet {
	cp := *b
	if r, ok := f.rounds[b.RoundID]; ok {
		cp.RoundClosed = r.Closed
	}
	return &cp
}

func (f *fakeBets) round(roundID string) *domain.GameRound {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rounds[roundID]
	if !ok {
		return nil
	}
	return cloneRound(r)
}

func (f *fakeBets) bet(txID string) *domain.Bet {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bets[txID]
	if !ok {
		return nil
	}
	return f.viewBet(b)
}

func cloneRound(r *domain.GameRound) *domain.GameRound {
	cp := *r
	cp.Settlements = append([]string(nil), r.Settlements...)
	return &cp
}

// --- wallet ---

type fakeWallet struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]decimal.Decimal
	seen      map[domain.WalletKey]decimal.Decimal
	debitErr  error
	creditErr error
	// findErrs is consumed one per FindEntry call.
	findErrs []error
	// lostReplies makes that many debits commit and then fail, the way a
	// commit whose reply times out looks to the caller.
	lostReplies int
	delay       time.Duration
	debits      int
	credits     int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balances: make(map[uuid.UUID]decimal.Decimal),
		seen:     make(map[domain.WalletKey]decimal.Decimal),
	}
}

func (f *fakeWallet) GetBalance(_ context.Context, playerID uuid.UUID) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[playerID]
	if !ok {
		return decimal.Zero, domain.ErrIncorrectIdentifier("player not found")
	}
	return bal, nil
}

func (f *fakeWallet) FindEntry(_ context.Context, key domain.WalletKey) (*domain.WalletEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.findErrs) > 0 {
		err := f.findErrs[0]
		f.findErrs = f.findErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	bal, ok := f.seen[key]
	if !ok {
		return nil, nil
	}
	return &domain.WalletEntry{
		PlayerID: key.PlayerID, Provider: key.Provider, ExternalTransactionID: key.ExternalTransactionID,
		Kind: key.Kind, BalanceAfter: bal,
	}, nil
}

func (f *fakeWallet) Debit(ctx context.Context, cmd domain.WalletCommand) (*domain.WalletResult, error) {
	cmd.Kind = domain.EntryDebit
	res, err := f.apply(ctx, cmd, true)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lostReplies > 0 {
		f.lostReplies--
		return nil, context.DeadlineExceeded
	}
	return res, nil
}

func (f *fakeWallet) Credit(ctx context.Context, cmd domain.WalletCommand) (*domain.WalletResult, error) {
	return f.apply(ctx, cmd, false)
}

func (f *fakeWallet) apply(ctx context.Context, cmd domain.WalletCommand, debit bool) (*domain.WalletResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	injected, delta, counter := f.creditErr, cmd.Amount, &f.credits
	if debit {
		injected, delta, counter = f.debitErr, cmd.Amount.Neg(), &f.debits
	}
	if injected != nil {
		return nil, injected
	}
	if bal, ok := f.seen[cmd.Key()]; ok {
		return &domain.WalletResult{Balance: bal, Idempotent: true}, nil
	}
	bal, ok := f.balances[cmd.PlayerID]
	if !ok {
		return nil, domain.ErrIncorrectIdentifier("player not found")
	}
	next := bal.Add(delta)
	if next.IsNegative() {
		return nil, domain.ErrInsufficientFunds()
	}
	f.balances[cmd.PlayerID] = next
	f.seen[cmd.Key()] = next
	*counter++
	return &domain.WalletResult{Balance: next}, nil
}

func (f *fakeWallet) balance(id uuid.UUID) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[id]
}

func (f *fakeWallet) setDebitErr(err error) {
	f.mu.Lock()
	f.debitErr = err
	f.mu.Unlock()
}

func (f *fakeWallet) setCreditErr(err error) {
	f.mu.Lock()
	f.creditErr = err
	f.mu.Unlock()
}
