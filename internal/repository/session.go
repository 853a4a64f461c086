package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, player_id, client_id, auth_code, auth_code_expires_at,
		       used_at, revoked_at, expires_at, created_at`

type sessionRepo struct{}

// NewSessionRepository returns a pgx-backed SessionRepository.
func NewSessionRepository() SessionRepository {
	return &sessionRepo{}
}

func (r *sessionRepo) Create(ctx context.Context, db DBTX, s *domain.Session) error {
	_, err := db.Exec(ctx, `
		INSERT INTO player_sessions
		  (id, player_id, client_id, auth_code, auth_code_expires_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.PlayerID, s.ClientID, s.AuthCode, s.AuthCodeExpiresAt, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Session, error) {
	row := db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM player_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *sessionRepo) ConsumeAuthCode(ctx context.Context, db DBTX, code string, clientID int64, now, expiresAt time.Time) (*domain.Session, error) {
	row := db.QueryRow(ctx, `
		UPDATE player_sessions SET used_at = $2, expires_at = $3
		WHERE auth_code = $1 AND client_id = $4 AND used_at IS NULL AND revoked_at IS NULL
		  AND auth_code_expires_at > $2
		RETURNING `+sessionColumns, code, now, expiresAt, clientID)
	return scanSession(row)
}

func (r *sessionRepo) Revoke(ctx context.Context, db DBTX, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE player_sessions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`, id, now)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.PlayerID, &s.ClientID, &s.AuthCode, &s.AuthCodeExpiresAt,
		&s.UsedAt, &s.RevokedAt, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}
