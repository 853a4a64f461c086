package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/attaboy/gamecallback/internal/auth"
	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/guard"
	"github.com/google/uuid"
)

const breakerKey = "identity"

// Identity is the identity collaborator contract.
type Identity interface {
	Login(ctx context.Context, authCode string, clientID int64) (*domain.PlayerIdentity, error)
	ResolveSession(ctx context.Context, token string, clientID int64) (*domain.PlayerIdentity, error)
	Logout(ctx context.Context, sessionID uuid.UUID) error
}

// Resolver exchanges provider-supplied tokens for player identities.
type Resolver struct {
	identity Identity
	breaker  *guard.CircuitBreaker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewResolver creates a session resolver.
func NewResolver(identity Identity, breaker *guard.CircuitBreaker, timeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{identity: identity, breaker: breaker, timeout: timeout, logger: logger}
}

// Login exchanges a one-time auth code for a session.
func (r *Resolver) Login(ctx context.Context, authCode string, clientID int64) (*domain.PlayerIdentity, error) {
	if authCode == "" {
		return nil, domain.ErrIncorrectIdentifier("missing auth code")
	}
	var ident *domain.PlayerIdentity
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		ident, err = r.identity.Login(ctx, authCode, clientID)
		return err
	})
	if err != nil {
		return nil, r.classify("login", err)
	}
	return ident, nil
}

// Resolve validates a session token and returns the player behind it.
func (r *Resolver) Resolve(ctx context.Context, token string, clientID int64) (*domain.PlayerIdentity, error) {
	if token == "" {
		return nil, domain.ErrIncorrectIdentifier("missing session token")
	}
	var ident *domain.PlayerIdentity
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		ident, err = r.identity.ResolveSession(ctx, token, clientID)
		return err
	})
	if err != nil {
		return nil, r.classify("resolve", err)
	}
	return ident, nil
}

// Logout revokes the identity's session.
func (r *Resolver) Logout(ctx context.Context, ident *domain.PlayerIdentity) error {
	err := r.call(ctx, func(ctx context.Context) error {
		return r.identity.Logout(ctx, ident.SessionID)
	})
	if err != nil {
		return r.classify("logout", err)
	}
	return nil
}

func (r *Resolver) call(ctx context.Context, fn func(context.Context) error) error {
	return r.breaker.Call(ctx, breakerKey, r.timeout, func(err error) bool { return !isIdentityFailure(err) }, fn)
}

func (r *Resolver) classify(op string, err error) error {
	if isIdentityFailure(err) {
		return domain.ErrIncorrectIdentifier(err.Error())
	}
	r.logger.Warn("identity collaborator unavailable", "op", op, "error", err)
	return domain.ErrServiceUnavailable("identity "+op, err)
}

func isIdentityFailure(err error) bool {
	return errors.Is(err, auth.ErrInvalidAuthCode) ||
		errors.Is(err, auth.ErrSessionNotFound) ||
		errors.Is(err, auth.ErrSessionExpired)
}
