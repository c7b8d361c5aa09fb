package models

import (
	"testing"

	"github.com/sisoputnfrba/tp-kosh/utils/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigFile(t *testing.T) {
	serverConfig := DefaultServerConfig()

	require.NoError(t, config.LoadConfig("../configs/memoria.json", &serverConfig))

	assert.Equal(t, 8002, serverConfig.PortMemory)
	assert.True(t, serverConfig.Memory.UseMmap)
	assert.Equal(t, "CLOCK", serverConfig.Memory.SwapAlgorithm)
	require.Len(t, serverConfig.Memory.SwapDevices, 2)
	assert.Equal(t, "ram0", serverConfig.Memory.SwapDevices[0].Path)
	assert.False(t, serverConfig.Memory.SwapDevices[1].Enabled)
}

func TestDefaultServerConfig(t *testing.T) {
	serverConfig := DefaultServerConfig()

	assert.Equal(t, DefaultConfig(), serverConfig.Memory)
	assert.GreaterOrEqual(t, serverConfig.Memory.MemorySize, uint64(MinMemorySize))
}
