package orchestrator

import (
	"log/slog"

	"github.com/attaboy/gamecallback/internal/domain"
)

// State is a step of one callback's orchestration run.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateVerified        State = "VERIFIED"
	StateDedupClaimed    State = "DEDUP_CLAIMED"
	StateSessionResolved State = "SESSION_RESOLVED"
	StateRulesChecked    State = "RULES_CHECKED"
	StateLedgerApplied   State = "LEDGER_APPLIED"
	StateWalletApplied   State = "WALLET_APPLIED"
	StateFinalized       State = "FINALIZED"
	StateFailed          State = "FAILED"
)

// run tracks the state machine of a single delivery.
type run struct {
	logger *slog.Logger
	states []State
}

func newRun(logger *slog.Logger) *run {
	return &run{logger: logger, states: []State{StateReceived}}
}

func (r *run) current() State { return r.states[len(r.states)-1] }

func (r *run) to(s State) {
	r.logger.Debug("callback state", "from", r.current(), "to", s)
	r.states = append(r.states, s)
}

func (r *run) fail(err error) {
	r.logger.Debug("callback state", "from", r.current(), "to", StateFailed, "kind", domain.KindOf(err), "error", err)
	r.states = append(r.states, StateFailed)
}
