package engineconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineConfigDefaults(t *testing.T) {
	c := NewEngineConfig()
	assert.Equal(t, 50, c.Cache().MaxEntries)
	assert.Equal(t, int32(10), c.Pool().MaxSize)
}

func TestSetPoolRejectsInvalidSizes(t *testing.T) {
	c := NewEngineConfig()
	require.Error(t, c.SetPool(PoolConfig{MaxSize: 0}))
	require.Error(t, c.SetPool(PoolConfig{MaxSize: 2, MinIdle: 3}))
	require.NoError(t, c.SetPool(PoolConfig{MaxSize: 5, MinIdle: 1}))
	assert.Equal(t, int32(5), c.Pool().MaxSize)
}

func TestConnectOptionsValidate(t *testing.T) {
	require.Error(t, ConnectOptions{}.Validate())
	require.Error(t, ConnectOptions{ConnectionString: "dsn=x", ResultBufferCap: -1}.Validate())
	require.NoError(t, ConnectOptions{ConnectionString: "dsn=x"}.Validate())
}
