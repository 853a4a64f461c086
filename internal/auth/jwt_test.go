package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer("test-secret-key", 12*time.Hour)
}

func TestGenerateAndValidateToken(t *testing.T) {
	mgr := newTestIssuer()
	sessionID, playerID := uuid.New(), uuid.New()

	token, err := mgr.GenerateToken(sessionID, playerID, 42, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := mgr.ValidateTokenForClient(token, 42)
	require.NoError(t, err)
	got, err := claims.SessionID()
	require.NoError(t, err)
	assert.Equal(t, sessionID, got)
	assert.Equal(t, playerID.String(), claims.PlayerID)
}

func TestClientMismatchRejected(t *testing.T) {
	mgr := newTestIssuer()

	token, err := mgr.GenerateToken(uuid.New(), uuid.New(), 42, time.Now())
	require.NoError(t, err)

	_, err = mgr.ValidateTokenForClient(token, 7)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expected client 7")
}

func TestInvalidSecretRejected(t *testing.T) {
	mgr1 := NewTokenIssuer("secret-1", time.Hour)
	mgr2 := NewTokenIssuer("secret-2", time.Hour)

	token, err := mgr1.GenerateToken(uuid.New(), uuid.New(), 1, time.Now())
	require.NoError(t, err)

	_, err = mgr2.ValidateToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	mgr := newTestIssuer()

	token, err := mgr.GenerateToken(uuid.New(), uuid.New(), 1, time.Now().Add(-13*time.Hour))
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestGarbageTokenRejected(t *testing.T) {
	_, err := newTestIssuer().ValidateToken("not-a-jwt")
	assert.Error(t, err)
}
