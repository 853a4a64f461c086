package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig_BoundsStatementsByCollaboratorTimeout(t *testing.T) {
	cfg := &Config{
		PGUser: "u", PGPassword: "p", PGHost: "db", PGPort: 5432, PGDatabase: "cb",
		PGMaxConns:          12,
		CollaboratorTimeout: 2500 * time.Millisecond,
	}

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(12), poolCfg.MaxConns)
	assert.Equal(t, int32(4), poolCfg.MinConns)

	params := poolCfg.ConnConfig.RuntimeParams
	assert.Equal(t, "gamecallback", params["application_name"])
	assert.Equal(t, "2500", params["statement_timeout"])
	assert.Equal(t, "2500", params["lock_timeout"])
}

func TestPoolConfig_KeepsApplicationNameFromURL(t *testing.T) {
	cfg := &Config{
		DatabaseURL: "postgres://u:p@db:5432/cb?application_name=relay",
		PGMaxConns:  2,
	}

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), poolCfg.MinConns)
	assert.Equal(t, "relay", poolCfg.ConnConfig.RuntimeParams["application_name"])
	assert.NotContains(t, poolCfg.ConnConfig.RuntimeParams, "statement_timeout")
}
