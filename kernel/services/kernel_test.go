package services

import (
	"context"
	"testing"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func testKernelConfig() models.Config {
	config := models.DefaultConfig()
	config.MaxProcesses = 16
	config.QueueMaxMessages = 8
	config.Memory.MemorySize = 8 * 1024 * 1024
	config.Memory.HeapPages = 16
	return config
}

// newTestKernel arranca un kernel con init en ejecución.
func newTestKernel(t *testing.T) (*Kernel, *ManualClock) {
	clock := NewManualClock(0)
	kernel, err := NewKernel(testKernelConfig(), clock)
	require.NoError(t, err)
	pid, err := kernel.Boot()
	require.NoError(t, err)
	require.Equal(t, models.InitPID, pid)
	return kernel, clock
}

type kernelTestSuite struct {
	suite.Suite
	assert *assert.Assertions
	clock  *ManualClock
	kernel *Kernel
	init   models.ProcessID
}

func (s *kernelTestSuite) SetupTest() {
	s.assert = assert.New(s.T())
	s.kernel, s.clock = newTestKernel(s.T())
	s.init = models.InitPID
}

func (s *kernelTestSuite) TearDownTest() {
	if s.kernel != nil {
		s.assert.NoError(s.kernel.Shutdown())
	}
}

func (s *kernelTestSuite) create(name string, parent models.ProcessID, priority models.ProcessPriority) models.ProcessID {
	pid, err := s.kernel.CreateProcess(name, &parent, priority)
	s.Require().NoError(err)
	return pid
}

func (s *kernelTestSuite) TestBootRunsInit() {
	current, ok := s.kernel.Processes.Current()
	s.Require().True(ok)
	s.assert.Equal(s.init, current)

	info, _ := s.kernel.Processes.Get(s.init)
	s.assert.Equal(models.PrioritySystem, info.Priority)
	s.assert.NotZero(info.ASID)
	s.assert.True(s.kernel.Capabilities.Check(s.init, models.CapProcessManagement, models.ProcessResource(42)))
	_, hasQueue := s.kernel.Queues.Queue(s.init)
	s.assert.True(hasQueue)
}

func (s *kernelTestSuite) TestNewKernelRejectsBadConfig() {
	config := testKernelConfig()
	config.SchedulerAlgorithm = "LOTTERY"

	_, err := NewKernel(config, nil)

	s.assert.ErrorIs(err, models.ErrInvalidArgument)
}

func (s *kernelTestSuite) TestProcessLifecycleScenario() {
	server := s.create("server", s.init, models.PrioritySystem)
	client := s.create("client", s.init, models.PriorityNormal)

	initInfo, _ := s.kernel.Processes.Get(s.init)
	s.assert.Equal([]models.ProcessID{server, client}, initInfo.Children)

	s.Require().NoError(s.kernel.Security.CreateSecureChannel(server, client))
	id, err := s.kernel.IPC.Send(models.NewMessage(server, client, models.MessageServiceRequest, models.TextData("hola")))
	s.Require().NoError(err)
	received, err := s.kernel.IPC.Receive(context.Background(), client, 0)
	s.Require().NoError(err)
	s.assert.Equal(id, received.Header.ID)
	s.assert.Equal("hola", received.Data.Text)

	child, err := s.kernel.Fork(server)
	s.Require().NoError(err)
	childInfo, _ := s.kernel.Processes.Get(child)
	s.assert.Equal(models.PriorityNormal, childInfo.Priority)
	serverInfo, _ := s.kernel.Processes.Get(server)
	s.assert.Equal([]models.ProcessID{child}, serverInfo.Children)

	s.Require().NoError(s.kernel.Exit(server, 0))
	state, err := s.kernel.Processes.State(server)
	s.Require().NoError(err)
	s.assert.Equal(models.Zombie, state)
	s.assert.Empty(s.kernel.Capabilities.Capabilities(server))

	reaped := s.kernel.ReapZombies()

	s.assert.ElementsMatch([]models.ProcessID{server, child}, reaped)
	_, found := s.kernel.Processes.Get(child)
	s.assert.False(found)
	initInfo, _ = s.kernel.Processes.Get(s.init)
	s.assert.Equal([]models.ProcessID{client}, initInfo.Children)
	s.assert.Len(s.kernel.Memory.AddressSpaceIDs(), 3)
}

func (s *kernelTestSuite) TestForkedChildGetsUserCapabilities() {
	child, err := s.kernel.Fork(s.init)
	s.Require().NoError(err)

	s.assert.True(s.kernel.Capabilities.Check(child, models.CapSystemCall, UserSyscallsResource))
	s.assert.False(s.kernel.Capabilities.Check(child, models.CapProcessManagement, models.ProcessResource(s.init)))
}

func (s *kernelTestSuite) TestWait() {
	lonely := s.create("lonely", s.init, models.PriorityNormal)
	_, _, err := s.kernel.Wait(lonely)
	s.assert.ErrorIs(err, models.ErrProcessNotFound)

	child := s.create("worker", s.init, models.PriorityNormal)
	_, _, err = s.kernel.Wait(s.init)
	s.assert.ErrorIs(err, models.ErrWouldBlock)

	s.Require().NoError(s.kernel.Exit(child, 7))
	pid, code, err := s.kernel.Wait(s.init)

	s.Require().NoError(err)
	s.assert.Equal(child, pid)
	s.assert.Equal(int32(7), code)
	_, found := s.kernel.Processes.Get(child)
	s.assert.False(found)
}

func (s *kernelTestSuite) TestKill() {
	parent := s.create("parent", s.init, models.PriorityNormal)
	child := s.create("child", parent, models.PriorityNormal)
	stranger := s.create("stranger", s.init, models.PriorityNormal)

	s.assert.ErrorIs(s.kernel.Kill(stranger, child, 9), models.ErrPermissionDenied)
	s.Require().NoError(s.kernel.Kill(parent, child, 9))

	info, _ := s.kernel.Processes.Get(child)
	s.Require().NotNil(info.ExitCode)
	s.assert.Equal(int32(137), *info.ExitCode)
	s.assert.ErrorIs(s.kernel.Kill(parent, child, 9), models.ErrProcessNotFound)

	s.Require().NoError(s.kernel.Kill(s.init, stranger, 15))
	info, _ = s.kernel.Processes.Get(stranger)
	s.assert.Equal(int32(143), *info.ExitCode)
}

func (s *kernelTestSuite) TestKillRejectsOutOfRangeSignal() {
	child := s.create("child", s.init, models.PriorityNormal)

	for _, signal := range []uint64{0, models.MaxSignal + 1, 1<<32 - 128} {
		s.assert.ErrorIs(s.kernel.Kill(s.init, child, signal), models.ErrInvalidArgument, "señal %d", signal)
	}
	state, err := s.kernel.Processes.State(child)
	s.Require().NoError(err)
	s.assert.NotEqual(models.Zombie, state)

	s.Require().NoError(s.kernel.Kill(s.init, child, models.MaxSignal))
	info, _ := s.kernel.Processes.Get(child)
	s.assert.Equal(int32(128+models.MaxSignal), *info.ExitCode)
}

func (s *kernelTestSuite) TestExitOfRunningProcessReschedules() {
	other := s.create("other", s.init, models.PriorityNormal)

	s.Require().NoError(s.kernel.Exit(s.init, 0))

	current, ok := s.kernel.Processes.Current()
	s.Require().True(ok)
	s.assert.Equal(other, current)
}

func (s *kernelTestSuite) TestExitReleasesDriversAndQueue() {
	driver := s.create("disk", s.init, models.PrioritySystem)
	_, err := s.kernel.Drivers.Register(driver, "disk0", models.DriverTypeStorage,
		[]models.DriverCapabilityType{{Kind: models.DriverIpc}}, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.kernel.Exit(driver, 0))

	_, found := s.kernel.Drivers.Get("disk0")
	s.assert.False(found)
	_, hasQueue := s.kernel.Queues.Queue(driver)
	s.assert.False(hasQueue)
}

func (s *kernelTestSuite) TestTickPreemptsAfterTimeSlice() {
	other := s.create("other", s.init, models.PriorityNormal)

	pid, ok := s.kernel.Tick(models.DefaultTimeSliceMs)

	s.Require().True(ok)
	s.assert.Equal(other, pid)
	info, _ := s.kernel.Processes.Get(s.init)
	s.assert.Equal(models.DefaultTimeSliceMs, info.CpuTimeMs)
}

func (s *kernelTestSuite) TestStats() {
	s.create("app", s.init, models.PriorityNormal)
	s.clock.Advance(250)

	stats := s.kernel.Stats()

	s.assert.Equal(uint64(250), stats.UptimeMs)
	s.assert.Equal(2, stats.Processes.TotalProcesses)
	s.assert.Equal(models.RoundRobin, stats.Scheduler.Algorithm)
	s.assert.Equal(2, stats.Ipc.Queues.ActiveQueues)
	s.assert.Zero(stats.Drivers)
	s.assert.NotZero(stats.Memory.Frames.TotalPages)
}

func (s *kernelTestSuite) TestShutdownReapsEverything() {
	s.create("app", s.init, models.PriorityNormal)

	s.Require().NoError(s.kernel.Shutdown())

	s.assert.Zero(s.kernel.Processes.Count())
	s.assert.Empty(s.kernel.Capabilities.Holders())
	s.kernel = nil
}

func TestKernelTestSuite(t *testing.T) {
	suite.Run(t, new(kernelTestSuite))
}
