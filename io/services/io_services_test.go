package services

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sisoputnfrba/tp-kosh/io/models"
	kernelhandlers "github.com/sisoputnfrba/tp-kosh/kernel/handlers"
	kernelmodels "github.com/sisoputnfrba/tp-kosh/kernel/models"
	kernelservices "github.com/sisoputnfrba/tp-kosh/kernel/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type driverTestSuite struct {
	suite.Suite
	assert *assert.Assertions
	kernel *kernelservices.Kernel
	server *httptest.Server
	config models.Config
}

func (s *driverTestSuite) SetupTest() {
	s.assert = assert.New(s.T())

	kernelConfig := kernelmodels.DefaultConfig()
	kernelConfig.MaxProcesses = 8
	kernelConfig.Memory.MemorySize = 8 * 1024 * 1024
	kernelConfig.Memory.HeapPages = 16
	kernel, err := kernelservices.NewKernel(kernelConfig, kernelservices.NewManualClock(0))
	s.Require().NoError(err)
	_, err = kernel.Boot()
	s.Require().NoError(err)
	s.kernel = kernel

	mux := http.NewServeMux()
	kernelhandlers.RegisterHandlers(mux, kernel)
	s.server = httptest.NewServer(mux)

	address := s.server.Listener.Addr().(*net.TCPAddr)
	s.config = models.DefaultConfig()
	s.config.IpKernel = address.IP.String()
	s.config.PortKernel = address.Port
	s.config.PollTimeoutMs = 20
	s.config.ServiceTimeMs = 5
}

func (s *driverTestSuite) TearDownTest() {
	s.server.Close()
	s.assert.NoError(s.kernel.Shutdown())
}

func (s *driverTestSuite) connect(name string) *Driver {
	driver := NewDriver(name, s.config)
	s.Require().NoError(driver.Connect())
	return driver
}

func (s *driverTestSuite) TestConnectRegistersDriver() {
	driver := s.connect("disk0")

	status := driver.Status()
	s.assert.True(status.Registered)
	s.assert.NotZero(status.PID)
	s.assert.True(status.Granted.Contains(kernelmodels.FlagIpcSend | kernelmodels.FlagIpcReceive))

	registered, found := s.kernel.Drivers.Get("disk0")
	s.Require().True(found)
	s.assert.Equal(status.PID, registered.PID)
	s.assert.Equal(kernelmodels.DriverTypeStorage, registered.Type)

	info, _ := s.kernel.Processes.Get(status.PID)
	s.assert.Equal(kernelmodels.PrioritySystem, info.Priority)
	s.Require().NotNil(info.ParentPID)
	s.assert.Equal(kernelmodels.InitPID, *info.ParentPID)
}

func (s *driverTestSuite) TestDuplicateNameFails() {
	s.connect("disk0")

	err := NewDriver("disk0", s.config).Connect()

	var syscallErr *SyscallError
	s.Require().ErrorAs(err, &syscallErr)
	s.assert.Equal(kernelservices.EEXIST, syscallErr.Errno)
}

func (s *driverTestSuite) TestServeAnswersRequests() {
	driver := s.connect("disk0")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- driver.Serve(ctx) }()

	requestID, err := s.kernel.Drivers.Request(kernelmodels.InitPID, "disk0",
		kernelmodels.SystemCallData(uint32(kernelmodels.SysDriverRequest), [6]uint64{3}))
	s.Require().NoError(err)

	var response kernelmodels.Message
	s.Require().Eventually(func() bool {
		message, err := s.kernel.IPC.Receive(context.Background(), kernelmodels.InitPID, 0)
		if err != nil {
			return false
		}
		response = message
		return true
	}, 2*time.Second, 10*time.Millisecond)

	s.assert.Equal(kernelmodels.MessageResponse, response.Header.Type)
	s.Require().NotNil(response.Header.ReplyTo)
	s.assert.Equal(requestID, *response.Header.ReplyTo)
	s.assert.Equal("Fin de IO", response.Data.Text)

	cancel()
	select {
	case err := <-done:
		s.assert.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		s.Fail("Serve no terminó después de cancelar")
	}
	s.assert.Equal(uint64(1), driver.Status().Served)
}

func (s *driverTestSuite) TestServeIgnoresOtherMessages() {
	driver := s.connect("disk0")
	_, err := s.kernel.IPC.Send(kernelmodels.NewMessage(kernelmodels.InitPID, driver.Status().PID,
		kernelmodels.MessageSignal, kernelmodels.TextData("ping")))
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- driver.Serve(ctx) }()

	s.Eventually(func() bool { return driver.Status().Ignored == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	s.assert.Zero(driver.Status().Served)
}

func (s *driverTestSuite) TestDisconnectUnregistersAndExits() {
	driver := s.connect("disk0")
	pid := driver.Status().PID

	driver.Disconnect()

	_, found := s.kernel.Drivers.Get("disk0")
	s.assert.False(found)
	s.assert.False(driver.Status().Registered)
	state, err := s.kernel.Processes.State(pid)
	s.Require().NoError(err)
	s.assert.Equal(kernelmodels.Zombie, state)
}

func (s *driverTestSuite) TestConnectWithoutKernelFails() {
	s.config.PortKernel = 1
	s.assert.Error(NewDriver("disk0", s.config).Connect())
}

func TestDriverTestSuite(t *testing.T) {
	suite.Run(t, new(driverTestSuite))
}
