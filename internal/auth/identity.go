package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInvalidAuthCode = errors.New("invalid or expired auth code")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired or revoked")
)

// Identity is the identity collaborator: it turns one-time launch codes into
// session tokens and resolves tokens back to players.
type Identity struct {
	pool        *pgxpool.Pool
	sessions    repository.SessionRepository
	players     repository.PlayerRepository
	outbox      repository.OutboxRepository
	tokens      *TokenIssuer
	authCodeTTL time.Duration
	now         func() time.Time
}

// NewIdentity creates an identity collaborator.
func NewIdentity(
	pool *pgxpool.Pool,
	sessions repository.SessionRepository,
	players repository.PlayerRepository,
	outbox repository.OutboxRepository,
	tokens *TokenIssuer,
	authCodeTTL time.Duration,
) *Identity {
	return &Identity{
		pool:        pool,
		sessions:    sessions,
		players:     players,
		outbox:      outbox,
		tokens:      tokens,
		authCodeTTL: authCodeTTL,
		now:         time.Now,
	}
}

// IssueAuthCode opens a session for the player and returns the one-time
// code the game launcher hands to the provider.
func (s *Identity) IssueAuthCode(ctx context.Context, playerID uuid.UUID, clientID int64) (string, error) {
	player, err := s.players.FindByID(ctx, s.pool, playerID)
	if err != nil {
		return "", fmt.Errorf("issue auth code: %w", err)
	}
	if player == nil || player.ClientID != clientID {
		return "", fmt.Errorf("issue auth code: player %s not found for client %d", playerID, clientID)
	}

	now := s.now()
	session := &domain.Session{
		ID:                uuid.New(),
		PlayerID:          playerID,
		ClientID:          clientID,
		AuthCode:          strings.ReplaceAll(uuid.NewString(), "-", ""),
		AuthCodeExpiresAt: now.Add(s.authCodeTTL),
		ExpiresAt:         now.Add(s.authCodeTTL),
		CreatedAt:         now,
	}
	if err := s.sessions.Create(ctx, s.pool, session); err != nil {
		return "", fmt.Errorf("issue auth code: %w", err)
	}
	return session.AuthCode, nil
}

// Login consumes an auth code and issues a session token.
func (s *Identity) Login(ctx context.Context, authCode string, clientID int64) (*domain.PlayerIdentity, error) {
	now := s.now()
	session, err := s.sessions.ConsumeAuthCode(ctx, s.pool, authCode, clientID, now, now.Add(s.tokens.Expiry()))
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if session == nil {
		return nil, ErrInvalidAuthCode
	}

	ident, err := s.identityFor(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	ident.Token, err = s.tokens.GenerateToken(session.ID, session.PlayerID, clientID, now)
	if err != nil {
		return nil, fmt.Errorf("login: sign token: %w", err)
	}
	return ident, nil
}

// ResolveSession maps a session token to the player behind it.
func (s *Identity) ResolveSession(ctx context.Context, token string, clientID int64) (*domain.PlayerIdentity, error) {
	claims, err := s.tokens.ValidateTokenForClient(token, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	sessionID, err := claims.SessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}

	session, err := s.sessions.FindByID(ctx, s.pool, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if err := checkSession(session, clientID, s.now()); err != nil {
		return nil, err
	}

	ident, err := s.identityFor(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	ident.Token = token
	return ident, nil
}

// Logout revokes the session. Revoking twice is not an error.
func (s *Identity) Logout(ctx context.Context, sessionID uuid.UUID) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		session, err := s.sessions.FindByID(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrSessionNotFound
		}
		revoked, err := s.sessions.Revoke(ctx, tx, sessionID, s.now())
		if err != nil {
			return err
		}
		if !revoked {
			return nil
		}
		return s.outbox.Insert(ctx, tx, domain.NewSessionRevokedEvent(session.ID, session.PlayerID, session.ClientID))
	})
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Identity) identityFor(ctx context.Context, session *domain.Session) (*domain.PlayerIdentity, error) {
	player, err := s.players.FindByID(ctx, s.pool, session.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, ErrSessionNotFound
	}
	return &domain.PlayerIdentity{
		PlayerID:  player.ID,
		ClientID:  player.ClientID,
		Username:  player.Username,
		Currency:  player.Currency,
		Balance:   player.Balance,
		SessionID: session.ID,
		Group:     player.Group,
	}, nil
}

func checkSession(session *domain.Session, clientID int64, now time.Time) error {
	if session == nil || session.ClientID != clientID {
		return ErrSessionNotFound
	}
	if !session.Active(now) {
		return ErrSessionExpired
	}
	return nil
}
