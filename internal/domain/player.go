package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlayerIdentity is the player view resolved from a session token. It is
// owned by the identity collaborator and never persisted by the engine.
type PlayerIdentity struct {
	PlayerID  uuid.UUID
	ClientID  int64
	Username  string
	Currency  string
	Balance   decimal.Decimal
	SessionID uuid.UUID
	Group     string
	// Token is set on login and carries the freshly issued session token.
	Token string
}

// Player represents a players row.
type Player struct {
	ID        uuid.UUID       `json:"id"`
	ClientID  int64           `json:"client_id"`
	Username  string          `json:"username"`
	Currency  string          `json:"currency"`
	Group     string          `json:"group"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Session represents a player_sessions row.
type Session struct {
	ID                uuid.UUID
	PlayerID          uuid.UUID
	ClientID          int64
	AuthCode          string
	AuthCodeExpiresAt time.Time
	UsedAt            *time.Time
	RevokedAt         *time.Time
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// Active reports whether the session can still authenticate callbacks.
func (s *Session) Active(now time.Time) bool {
	return s.UsedAt != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// ProviderClient holds the per-client credentials for one provider.
type ProviderClient struct {
	ClientID  int64
	Provider  Provider
	SecretKey string
	PassKey   string
	Currency  string
	Active    bool
}
