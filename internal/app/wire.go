package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/attaboy/gamecallback/internal/auth"
	"github.com/attaboy/gamecallback/internal/guard"
	"github.com/attaboy/gamecallback/internal/infra"
	"github.com/attaboy/gamecallback/internal/ledger"
	"github.com/attaboy/gamecallback/internal/orchestrator"
	"github.com/attaboy/gamecallback/internal/provider"
	"github.com/attaboy/gamecallback/internal/repository"
	"github.com/attaboy/gamecallback/internal/rounds"
	"github.com/attaboy/gamecallback/internal/session"
	"github.com/attaboy/gamecallback/internal/walletserver"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps holds everything needed to assemble the callback engine.
type Deps struct {
	Pool    *pgxpool.Pool
	Config  *infra.Config
	Metrics *infra.Metrics
	// MetricsHandler serves /metrics; nil disables the route.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Components exposes the assembled collaborators.
type Components struct {
	Orchestrator *orchestrator.Orchestrator
	Identity     *auth.Identity
	Wallet       *ledger.Wallet
	Rounds       *rounds.Ledger
}

// Build wires repositories, collaborators and the orchestrator.
func Build(deps Deps) *Components {
	pool, cfg, logger := deps.Pool, deps.Config, deps.Logger

	// Repositories
	playerRepo := repository.NewPlayerRepository()
	entryRepo := repository.NewWalletEntryRepository()
	roundRepo := repository.NewRoundRepository()
	sessionRepo := repository.NewSessionRepository()
	outboxRepo := repository.NewOutboxRepository()
	callbackRepo := repository.NewCallbackLogRepository()

	// Collaborators
	wallet := ledger.NewWallet(pool, ledger.NewEngine(playerRepo, entryRepo, outboxRepo))
	roundLedger := rounds.NewLedger(pool, roundRepo, repository.NewBetRepository(), repository.NewSettlementRepository(), outboxRepo)
	identity := auth.NewIdentity(pool, sessionRepo, playerRepo, outboxRepo,
		auth.NewTokenIssuer(cfg.SessionTokenSecret, cfg.SessionTokenTTL), cfg.AuthCodeTTL)

	breaker := guard.NewCircuitBreaker(cfg.CircuitFailThreshold, cfg.CircuitResetTimeout, logger)
	resolver := session.NewResolver(identity, breaker, cfg.CollaboratorTimeout, logger)
	idempotency := guard.NewIdempotencyLedger(
		repository.NewCallbackLogStore(pool, callbackRepo, outboxRepo),
		cfg.ClaimLease, cfg.ReplayWait, cfg.ReplayPollInterval, logger)

	adapters := provider.NewRegistry(
		provider.NewPragmaticAdapter(logger),
		provider.NewBetSolutionsAdapter(logger),
	)

	orch := orchestrator.New(orchestrator.Deps{
		Adapters: adapters,
		Clients:  repository.NewClientDirectory(pool),
		Ledger:   idempotency,
		Sessions: resolver,
		Bets:     roundLedger,
		Wallet:   wallet,
		Breaker:  breaker,
		Metrics:  deps.Metrics,
		Timeout:  cfg.CollaboratorTimeout,
	}, logger)

	return &Components{
		Orchestrator: orch,
		Identity:     identity,
		Wallet:       wallet,
		Rounds:       roundLedger,
	}
}

// NewRouter assembles the callback server router.
func NewRouter(deps Deps) (chi.Router, *Components) {
	c := Build(deps)
	limiter := guard.NewRateLimiter(deps.Config.RateLimitRequests, deps.Config.RateLimitWindow, providerLimits(deps)...)
	health := func(ctx context.Context) error { return infra.HealthCheck(ctx, deps.Pool) }
	return walletserver.NewRouter(c.Orchestrator, limiter, health, deps.MetricsHandler, deps.Logger), c
}

// providerLimits turns RATE_LIMIT_PROVIDERS into limiter options. Config
// validation has already rejected unknown providers.
func providerLimits(deps Deps) []guard.RateLimitOption {
	limits, err := deps.Config.ProviderRateLimits()
	if err != nil {
		deps.Logger.Warn("ignoring provider rate limits", "error", err)
		return nil
	}
	opts := make([]guard.RateLimitOption, 0, len(limits))
	for p, n := range limits {
		opts = append(opts, guard.WithProviderLimit(p, n))
	}
	return opts
}
