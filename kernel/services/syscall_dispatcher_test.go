package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	memmodels "github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type syscallDispatcherTestSuite struct {
	suite.Suite
	assert *assert.Assertions
	clock  *ManualClock
	kernel *Kernel
	system models.ProcessID
	user   models.ProcessID
}

func (s *syscallDispatcherTestSuite) SetupTest() {
	s.assert = assert.New(s.T())
	s.kernel, s.clock = newTestKernel(s.T())

	root := models.InitPID
	var err error
	s.system, err = s.kernel.CreateProcess("daemon", &root, models.PrioritySystem)
	s.Require().NoError(err)
	s.user, err = s.kernel.CreateProcess("app", &root, models.PriorityNormal)
	s.Require().NoError(err)
}

func (s *syscallDispatcherTestSuite) TearDownTest() {
	s.assert.NoError(s.kernel.Shutdown())
}

func (s *syscallDispatcherTestSuite) call(pid models.ProcessID, number models.SyscallNumber, data string, args ...uint64) models.SyscallResult {
	request := models.SyscallRequest{PID: pid, Number: uint64(number), Data: data}
	copy(request.Args[:], args)
	return s.kernel.Dispatch(context.Background(), request)
}

func (s *syscallDispatcherTestSuite) ok(pid models.ProcessID, number models.SyscallNumber, data string, args ...uint64) models.SyscallResult {
	result := s.call(pid, number, data, args...)
	s.Require().Zero(result.Errno, "%s: %s", number.Name(), result.Error)
	return result
}

func (s *syscallDispatcherTestSuite) TestErrnoFor() {
	cases := []struct {
		err   error
		errno int32
	}{
		{nil, 0},
		{models.ErrInvalidSyscall, EPERM},
		{models.ErrSenderNotFound, ESRCH},
		{models.ErrDriverNotRegistered, ENOENT},
		{models.ErrDriverAlreadyExists, EEXIST},
		{models.ErrPermissionDenied, EACCES},
		{models.ErrNotSupported, EOPNOTSUPP},
		{models.ErrNoMessage, EAGAIN},
		{models.ErrTimeout, ETIMEDOUT},
		{context.Canceled, EINTR},
		{models.ErrMessageTooLarge, EMSGSIZE},
		{models.ErrQueueFull, ENOBUFS},
		{memmodels.ErrOutOfMemory, ENOMEM},
		{fmt.Errorf("envuelto: %w", models.ErrInvalidArgument), EINVAL},
		{&memmodels.UnmapError{Addr: 0x1000, Err: memmodels.ErrPageNotMapped}, EINVAL},
		{errors.New("otra cosa"), EIO},
	}
	for _, c := range cases {
		s.assert.Equal(c.errno, ErrnoFor(c.err), "%v", c.err)
	}
}

func (s *syscallDispatcherTestSuite) TestInvalidAndUnsupportedNumbers() {
	s.assert.Equal(EPERM, s.call(s.user, 0, "").Errno)
	s.assert.Equal(EPERM, s.call(s.user, 99, "").Errno)
	s.assert.Equal(EPERM, s.call(s.user, 15, "").Errno)
	s.assert.Equal(EOPNOTSUPP, s.call(s.user, models.SysExec, "").Errno)
	s.assert.Equal(EOPNOTSUPP, s.call(s.user, models.SysOpen, "").Errno)
	s.assert.Equal(EOPNOTSUPP, s.call(s.user, models.SysBrk, "").Errno)
}

func (s *syscallDispatcherTestSuite) TestCallerMustExistAndHoldSystemCall() {
	s.assert.Equal(ESRCH, s.call(77, models.SysGetPID, "").Errno)

	s.kernel.Capabilities.RevokeAll(s.user)
	result := s.call(s.user, models.SysGetPID, "")

	s.assert.Equal(EACCES, result.Errno)
	s.assert.NotEmpty(result.Error)
}

func (s *syscallDispatcherTestSuite) TestProcessIdentity() {
	s.assert.Equal(uint64(s.user), s.ok(s.user, models.SysGetPID, "").Value)
	s.assert.Equal(uint64(models.InitPID), s.ok(s.user, models.SysGetPPID, "").Value)
	s.assert.Zero(s.ok(models.InitPID, models.SysGetPPID, "").Value)
}

func (s *syscallDispatcherTestSuite) TestForkWaitExit() {
	child := models.ProcessID(s.ok(s.user, models.SysFork, "").Value)
	info, found := s.kernel.Processes.Get(child)
	s.Require().True(found)
	s.assert.Equal(s.user, *info.ParentPID)

	s.assert.Equal(EAGAIN, s.call(s.user, models.SysWait, "").Errno)

	s.ok(child, models.SysExit, "", 3)
	result := s.ok(s.user, models.SysWait, "")

	s.assert.Equal(uint64(child), result.Value)
	s.assert.Equal(map[string]any{"pid": child, "exit_code": int32(3)}, result.Data)
	s.assert.Equal(ESRCH, s.call(s.system, models.SysWait, "").Errno)
}

func (s *syscallDispatcherTestSuite) TestKill() {
	s.assert.Equal(EACCES, s.call(s.user, models.SysKill, "", uint64(s.system), 9).Errno)

	s.ok(s.system, models.SysKill, "", uint64(s.user), 9)

	info, _ := s.kernel.Processes.Get(s.user)
	s.assert.Equal(models.Zombie, info.State)
	s.assert.Equal(int32(137), *info.ExitCode)
	s.assert.Equal(ESRCH, s.call(s.user, models.SysGetPID, "").Errno)
}

func (s *syscallDispatcherTestSuite) TestKillRejectsHugeSignal() {
	s.assert.Equal(EINVAL, s.call(s.system, models.SysKill, "", uint64(s.user), 1<<32-128).Errno)

	info, _ := s.kernel.Processes.Get(s.user)
	s.assert.NotEqual(models.Zombie, info.State)
}

func (s *syscallDispatcherTestSuite) TestMmapAndMunmap() {
	const addr = uint64(0x1000_0000)

	result := s.ok(s.user, models.SysMmap, "", addr, 2*memmodels.PageSize, protRead|protWrite)
	s.assert.Equal(addr, result.Value)

	info, _ := s.kernel.Processes.Get(s.user)
	virt := memmodels.VirtualAddress(addr + memmodels.PageSize - 2)
	s.Require().NoError(s.kernel.Memory.Write(info.ASID, virt, []byte("kosh")))
	data, err := s.kernel.Memory.Read(info.ASID, virt, 4)
	s.Require().NoError(err)
	s.assert.Equal([]byte("kosh"), data)

	s.assert.Equal(EEXIST, s.call(s.user, models.SysMmap, "", addr, 1, protRead).Errno)
	s.ok(s.user, models.SysMunmap, "", addr, 2*memmodels.PageSize)
	s.assert.Equal(EINVAL, s.call(s.user, models.SysMunmap, "", addr, memmodels.PageSize).Errno)
}

func (s *syscallDispatcherTestSuite) TestMmapArgumentValidation() {
	s.assert.Equal(EINVAL, s.call(s.user, models.SysMmap, "", 0, memmodels.PageSize, protRead).Errno)
	s.assert.Equal(EINVAL, s.call(s.user, models.SysMmap, "", 0x1000_0010, memmodels.PageSize, protRead).Errno)
	s.assert.Equal(EINVAL, s.call(s.user, models.SysMmap, "", 0x1000_0000, 0, protRead).Errno)
	s.assert.Equal(EINVAL, s.call(s.user, models.SysMmap, "", 0x1000_0000, memmodels.PageSize, 8).Errno)
}

func (s *syscallDispatcherTestSuite) TestReadOnlyMappingRejectsWrites() {
	const addr = uint64(0x2000_0000)
	s.ok(s.user, models.SysMmap, "", addr, memmodels.PageSize, protRead)

	info, _ := s.kernel.Processes.Get(s.user)
	err := s.kernel.Memory.Write(info.ASID, memmodels.VirtualAddress(addr), []byte{1})

	s.assert.ErrorIs(err, memmodels.ErrAccessViolation)
	s.assert.Equal(EACCES, ErrnoFor(err))
}

func (s *syscallDispatcherTestSuite) TestWrite() {
	s.assert.Equal(uint64(5), s.ok(s.user, models.SysWrite, "hola!", 1, 0).Value)
	s.assert.Equal(uint64(2), s.ok(s.user, models.SysWrite, "hola!", 2, 2).Value)
	s.assert.Equal(EOPNOTSUPP, s.call(s.user, models.SysWrite, "hola!", 3, 0).Errno)
}

func (s *syscallDispatcherTestSuite) TestMessaging() {
	id := s.ok(s.system, models.SysSendMessage, "ping", uint64(s.user), uint64(models.MessageServiceRequest), 10).Value

	result := s.ok(s.user, models.SysReceiveMessage, "", 0)
	s.Require().NotNil(result.Message)
	s.assert.Equal(id, result.Value)
	s.assert.Equal("ping", result.Message.Data.Text)
	s.assert.Equal(uint8(10), result.Message.Header.Priority)
	s.assert.Equal(EAGAIN, s.call(s.user, models.SysReceiveMessage, "", 0).Errno)

	s.assert.Equal(EACCES, s.call(s.user, models.SysSendMessage, "pong", uint64(s.system), 0, 0).Errno)

	reply := s.ok(s.user, models.SysReplyMessage, "pong", id).Value
	answer := s.ok(s.system, models.SysReceiveMessage, "", 0)
	s.assert.Equal(reply, answer.Value)
	s.assert.Equal("pong", answer.Message.Data.Text)
}

func (s *syscallDispatcherTestSuite) TestSendValidation() {
	s.assert.Equal(EINVAL, s.call(s.system, models.SysSendMessage, "", uint64(s.user), 42, 0).Errno)
	s.assert.Equal(EINVAL, s.call(s.system, models.SysSendMessage, "", uint64(s.user), 0, 256).Errno)
	s.assert.Equal(EINVAL, s.call(s.system, models.SysSendMessage, "", 1<<40, 0, 0).Errno)
	s.assert.Equal(ESRCH, s.call(s.system, models.SysSendMessage, "", 99, 0, 0).Errno)
}

func (s *syscallDispatcherTestSuite) TestReceiveTimeout() {
	s.assert.Equal(ETIMEDOUT, s.call(s.user, models.SysReceiveMessage, "", 5).Errno)
}

func (s *syscallDispatcherTestSuite) TestChannels() {
	s.assert.Equal(EACCES, s.call(s.user, models.SysCreateChannel, "", uint64(s.system)).Errno)
	s.assert.Equal(ESRCH, s.call(s.system, models.SysCreateChannel, "", uint64(s.system)).Errno)

	s.ok(s.system, models.SysCreateChannel, "", uint64(s.user))
	s.ok(s.user, models.SysSendMessage, "hola", uint64(s.system), 0, 0)

	s.assert.Equal(uint64(2), s.ok(s.system, models.SysDestroyChannel, "", uint64(s.user)).Value)
	s.assert.Equal(EACCES, s.call(s.user, models.SysSendMessage, "chau", uint64(s.system), 0, 0).Errno)
}

func (s *syscallDispatcherTestSuite) TestDriverSyscalls() {
	mask := uint64(1) << uint(models.DriverIpc)
	result := s.ok(s.system, models.SysDriverRegister, "disk0", uint64(models.DriverTypeStorage), mask)
	s.assert.Equal(uint64(models.FlagIpcSend|models.FlagIpcReceive), result.Value)
	s.assert.Equal(EEXIST, s.call(s.system, models.SysDriverRegister, "disk0", uint64(models.DriverTypeStorage), mask).Errno)
	s.assert.Equal(EACCES, s.call(s.user, models.SysDriverRegister, "usb0", uint64(models.DriverTypeInput), mask).Errno)
	s.assert.Equal(EINVAL, s.call(s.system, models.SysDriverRegister, "x", 99, mask).Errno)

	request := s.ok(models.InitPID, models.SysDriverRequest, "disk0", 512, 1).Value
	delivered := s.ok(s.system, models.SysReceiveMessage, "", 0)
	s.assert.Equal(request, delivered.Value)
	s.assert.Equal(uint64(512), delivered.Message.Data.Args[0])

	s.ok(s.system, models.SysDriverResponse, "listo", request)
	response := s.ok(models.InitPID, models.SysReceiveMessage, "", 0)
	s.assert.Equal("listo", response.Message.Data.Text)

	s.assert.Equal(ENOENT, s.call(models.InitPID, models.SysDriverRequest, "nope").Errno)
	s.assert.Equal(EACCES, s.call(models.InitPID, models.SysDriverUnregister, "disk0").Errno)
	s.ok(s.system, models.SysDriverUnregister, "disk0")
	s.assert.Empty(s.kernel.Drivers.List())
}

func (s *syscallDispatcherTestSuite) TestSystemInformation() {
	s.clock.Advance(5500)

	uname := s.ok(s.user, models.SysUname, "")
	s.assert.Equal("kosh", uname.Data.(map[string]string)["sysname"])
	s.assert.Equal(uint64(5), s.ok(s.user, models.SysTime, "").Value)
	s.assert.Equal(uint64(5500), s.ok(s.user, models.SysClockGettime, "").Value)

	sysinfo := s.ok(s.user, models.SysSysinfo, "")
	s.assert.Equal(uint64(5500), sysinfo.Value)
	s.assert.Equal(3, sysinfo.Data.(KernelStatistics).Processes.TotalProcesses)
}

func (s *syscallDispatcherTestSuite) TestGrantCheckRevoke() {
	target := uint64(s.system)
	resourceKind := uint64(models.ResourceProcess)

	s.assert.Zero(s.ok(s.user, models.SysCheckCapability, "", uint64(models.CapSendMessage), resourceKind, target).Value)

	id := s.ok(s.system, models.SysGrantCapability, "", uint64(s.user), uint64(models.CapSendMessage), resourceKind, target, 0, 0).Value
	s.assert.Equal(uint64(1), s.ok(s.user, models.SysCheckCapability, "", uint64(models.CapSendMessage), resourceKind, target).Value)

	capability, found := s.kernel.Capabilities.Get(s.user, models.CapabilityID(id))
	s.Require().True(found)
	s.assert.Equal(s.system, *capability.Granter)

	s.assert.Equal(EACCES, s.call(models.InitPID, models.SysRevokeCapability, "", uint64(s.user), id).Errno)
	s.ok(s.system, models.SysRevokeCapability, "", uint64(s.user), id)
	s.assert.Equal(ENOENT, s.call(s.system, models.SysRevokeCapability, "", uint64(s.user), id).Errno)
}

func (s *syscallDispatcherTestSuite) TestGrantRules() {
	s.assert.Equal(EACCES, s.call(s.system, models.SysGrantCapability, "", uint64(s.user), uint64(models.CapAdmin), 0, 0, 0, 0).Errno)
	s.assert.Equal(EACCES, s.call(s.user, models.SysGrantCapability, "", uint64(s.system), uint64(models.CapNetwork), 0, 0, 0, 0).Errno)
	s.assert.Equal(EINVAL, s.call(s.system, models.SysGrantCapability, "", uint64(s.user), uint64(models.CapFileSystem), uint64(models.ResourceFile), 0, 0, 0).Errno)
	s.assert.Equal(ESRCH, s.call(s.system, models.SysGrantCapability, "", 99, uint64(models.CapFileSystem), 0, 0, 0, 0).Errno)

	id := s.ok(s.system, models.SysGrantCapability, "/srv", uint64(s.user), uint64(models.CapFileSystem), uint64(models.ResourceFile), 0, 1, 100).Value
	capability, _ := s.kernel.Capabilities.Get(s.user, models.CapabilityID(id))
	s.assert.True(capability.Delegatable)
	s.assert.Equal(models.FileResource("/srv"), capability.Resource)
	s.assert.Equal(uint64(100), *capability.ExpiresAtMs)

	s.clock.Advance(101)
	s.assert.Zero(s.ok(s.user, models.SysCheckCapability, "/srv", uint64(models.CapFileSystem), uint64(models.ResourceFile)).Value)
}

func (s *syscallDispatcherTestSuite) TestListCapabilities() {
	result := s.ok(s.user, models.SysListCapabilities, "")

	s.assert.Equal(uint64(3), result.Value)
	s.assert.Len(result.Data, 3)
}

func TestSyscallDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(syscallDispatcherTestSuite))
}
