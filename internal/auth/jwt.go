package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "gamecallback"

// Claims holds the custom JWT claims of a player session token. Subject is
// the session id.
type Claims struct {
	jwt.RegisteredClaims
	PlayerID string `json:"pid"`
	ClientID string `json:"cid"`
}

// SessionID parses the subject as a session id.
func (c *Claims) SessionID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TokenIssuer handles session token generation and validation.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer creates a token issuer with the given HMAC secret and lifetime.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// Expiry returns the lifetime of issued tokens.
func (m *TokenIssuer) Expiry() time.Duration { return m.expiry }

// GenerateToken creates a signed HS256 token for the session.
func (m *TokenIssuer) GenerateToken(sessionID, playerID uuid.UUID, clientID int64, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			ID:        uuid.New().String(),
		},
		PlayerID: playerID.String(),
		ClientID: strconv.FormatInt(clientID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a token, returning claims if valid.
func (m *TokenIssuer) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ValidateTokenForClient validates a token and ensures it was issued for clientID.
func (m *TokenIssuer) ValidateTokenForClient(tokenString string, clientID int64) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.ClientID != strconv.FormatInt(clientID, 10) {
		return nil, fmt.Errorf("expected client %d, got %s", clientID, claims.ClientID)
	}
	return claims, nil
}
