package models

import (
	"encoding/json"
	"testing"

	"github.com/sisoputnfrba/tp-kosh/utils/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessState_Transitions(t *testing.T) {
	cases := []struct {
		from, to ProcessState
		allowed  bool
	}{
		{Creating, Ready, true},
		{Creating, Running, false},
		{Ready, Running, true},
		{Running, Ready, true},
		{Running, Blocked(WaitingForIo), true},
		{Running, Blocked(NotBlocked), false},
		{Ready, Blocked(WaitingForIo), false},
		{Blocked(WaitingForChild), Ready, true},
		{Blocked(WaitingForChild), Running, false},
		{Blocked(WaitingForMemory), Zombie, true},
		{Zombie, Zombie, false},
		{Zombie, Ready, false},
		{Ready, Creating, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.allowed, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestProcessState_Runnable(t *testing.T) {
	assert.True(t, Ready.IsRunnable())
	assert.True(t, Running.IsRunnable())
	assert.False(t, Creating.IsRunnable())
	assert.False(t, Blocked(WaitingForIo).IsRunnable())
	assert.False(t, Zombie.IsRunnable())
}

func TestProcessState_String(t *testing.T) {
	assert.Equal(t, "READY", Ready.String())
	assert.Equal(t, "BLOCKED(WAITING_FOR_MESSAGE)", Blocked(WaitingForMessage).String())

	reason, err := ParseBlockReason("waiting_for_io")
	require.NoError(t, err)
	assert.Equal(t, WaitingForIo, reason)
	_, err = ParseBlockReason("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestProcessPriority_BoostAndReduce(t *testing.T) {
	assert.Equal(t, PriorityInteractive, PriorityNormal.Boost(1))
	assert.Equal(t, PrioritySystem, PriorityBackground.Boost(10))
	assert.Equal(t, PriorityBackground, PriorityInteractive.Reduce(2))
	assert.Equal(t, PriorityBackground, PriorityBackground.Reduce(1))
	assert.Equal(t, PriorityNormal, PriorityNormal.Boost(0))
}

func TestProcessPriority_NegativeLevelsStayInRange(t *testing.T) {
	assert.Equal(t, PriorityBackground, PriorityNormal.Boost(-5))
	assert.Equal(t, PrioritySystem, PriorityNormal.Reduce(-5))
	assert.Equal(t, PriorityBackground, PrioritySystem.Boost(-1_000_000))
	for _, priority := range Priorities {
		for levels := -10; levels <= 10; levels++ {
			assert.Contains(t, Priorities, priority.Boost(levels))
			assert.Contains(t, Priorities, priority.Reduce(levels))
		}
	}
}

func TestProcessPriority_JSON(t *testing.T) {
	var request struct {
		Priority ProcessPriority `json:"priority"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"priority":"interactive"}`), &request))
	assert.Equal(t, PriorityInteractive, request.Priority)

	encoded, err := json.Marshal(request)
	require.NoError(t, err)
	assert.JSONEq(t, `{"priority":"INTERACTIVE"}`, string(encoded))

	assert.Error(t, json.Unmarshal([]byte(`{"priority":"urgent"}`), &request))
}

func TestSchedulingAlgorithm_Parse(t *testing.T) {
	algorithm, err := ParseSchedulingAlgorithm("cfs")
	require.NoError(t, err)
	assert.Equal(t, CompletelyFair, algorithm)
	assert.Equal(t, "PRIORITY", PriorityScheduling.String())

	_, err = ParseSchedulingAlgorithm("FIFO")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSyscallNumber_Names(t *testing.T) {
	assert.Equal(t, "send_message", SysSendMessage.Name())
	assert.Equal(t, "unknown", SyscallNumber(15).Name())
	assert.True(t, SysListCapabilities.IsValid())
	assert.False(t, SyscallNumber(0).IsValid())
	assert.False(t, SyscallNumber(64).IsValid())
}

func TestConfig_DefaultsAndValidation(t *testing.T) {
	kernelConfig := Config{SchedulerAlgorithm: "priority"}.WithDefaults()

	assert.Equal(t, DefaultMaxProcesses, kernelConfig.MaxProcesses)
	assert.Equal(t, DefaultTimeSliceMs, kernelConfig.TimeSliceMs)
	assert.Equal(t, "priority", kernelConfig.SchedulerAlgorithm)
	assert.NotZero(t, kernelConfig.Memory.MemorySize)
	assert.NoError(t, kernelConfig.Validate())

	kernelConfig.QueueMaxBytes = MessageHeaderSize - 1
	assert.ErrorIs(t, kernelConfig.Validate(), ErrInvalidArgument)

	kernelConfig = DefaultConfig()
	kernelConfig.MaxProcesses = -1
	assert.ErrorIs(t, kernelConfig.Validate(), ErrInvalidArgument)
}

func TestConfigFile(t *testing.T) {
	kernelConfig := DefaultConfig()

	require.NoError(t, config.LoadConfig("../configs/kernel.json", &kernelConfig))

	assert.Equal(t, 8001, kernelConfig.PortKernel)
	assert.Equal(t, "PRIORITY", kernelConfig.SchedulerAlgorithm)
	assert.Equal(t, "LRU", kernelConfig.Memory.SwapAlgorithm)
	assert.NoError(t, kernelConfig.Validate())
}
