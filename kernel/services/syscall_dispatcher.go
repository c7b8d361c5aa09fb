package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	memmodels "github.com/sisoputnfrba/tp-kosh/memoria/models"
)

// Valores de errno que retornan las syscalls.
const (
	EPERM      int32 = -1
	ENOENT     int32 = -2
	ESRCH      int32 = -3
	EINTR      int32 = -4
	EIO        int32 = -5
	EAGAIN     int32 = -11
	ENOMEM     int32 = -12
	EACCES     int32 = -13
	EEXIST     int32 = -17
	EINVAL     int32 = -22
	EMSGSIZE   int32 = -90
	EOPNOTSUPP int32 = -95
	ENOBUFS    int32 = -105
	ETIMEDOUT  int32 = -110
)

// Bits de protección de mmap.
const (
	protRead  uint64 = 1
	protWrite uint64 = 2
	protExec  uint64 = 4
)

const (
	stdout = 1
	stderr = 2
)

// ErrnoFor traduce un error del kernel al errno de la syscall.
func ErrnoFor(err error) int32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, models.ErrInvalidSyscall):
		return EPERM
	case errors.Is(err, models.ErrProcessNotFound):
		return ESRCH
	case errors.Is(err, models.ErrDriverNotRegistered), errors.Is(err, models.ErrCapabilityNotFound):
		return ENOENT
	case errors.Is(err, models.ErrDriverAlreadyExists), errors.Is(err, memmodels.ErrPageAlreadyMapped):
		return EEXIST
	case errors.Is(err, models.ErrPermissionDenied), errors.Is(err, models.ErrCapabilityExpired),
		errors.Is(err, models.ErrNotDelegatable), errors.Is(err, memmodels.ErrAccessViolation):
		return EACCES
	case errors.Is(err, models.ErrNotSupported):
		return EOPNOTSUPP
	case errors.Is(err, models.ErrWouldBlock), errors.Is(err, models.ErrNoMessage):
		return EAGAIN
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ETIMEDOUT
	case errors.Is(err, context.Canceled):
		return EINTR
	case errors.Is(err, models.ErrMessageTooLarge):
		return EMSGSIZE
	case errors.Is(err, models.ErrQueueFull), errors.Is(err, models.ErrProcessTableFull), errors.Is(err, models.ErrResourceExhausted):
		return ENOBUFS
	case errors.Is(err, memmodels.ErrOutOfMemory), errors.Is(err, memmodels.ErrFrameAllocationFailed),
		errors.Is(err, memmodels.ErrNoSpace), errors.Is(err, models.ErrAddressSpaceUnavailable):
		return ENOMEM
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, models.ErrInvalidStateTransition),
		errors.Is(err, memmodels.ErrInvalidAddress), errors.Is(err, memmodels.ErrPageNotMapped),
		errors.Is(err, memmodels.ErrRegionOverlap), errors.Is(err, memmodels.ErrAddressSpaceNotFound):
		return EINVAL
	default:
		return EIO
	}
}

type syscallHandler func(ctx context.Context, request models.SyscallRequest) (models.SyscallResult, error)

func (k *Kernel) syscallHandlers() map[models.SyscallNumber]syscallHandler {
	return map[models.SyscallNumber]syscallHandler{
		models.SysExit:    k.sysExit,
		models.SysFork:    k.sysFork,
		models.SysWait:    k.sysWait,
		models.SysGetPID:  k.sysGetPID,
		models.SysGetPPID: k.sysGetPPID,
		models.SysKill:    k.sysKill,

		models.SysMmap:   k.sysMmap,
		models.SysMunmap: k.sysMunmap,

		models.SysWrite: k.sysWrite,

		models.SysSendMessage:    k.sysSendMessage,
		models.SysReceiveMessage: k.sysReceiveMessage,
		models.SysReplyMessage:   k.sysReplyMessage,
		models.SysCreateChannel:  k.sysCreateChannel,
		models.SysDestroyChannel: k.sysDestroyChannel,

		models.SysDriverRegister:   k.sysDriverRegister,
		models.SysDriverUnregister: k.sysDriverUnregister,
		models.SysDriverRequest:    k.sysDriverRequest,
		models.SysDriverResponse:   k.sysDriverResponse,

		models.SysUname:        k.sysUname,
		models.SysSysinfo:      k.sysSysinfo,
		models.SysTime:         k.sysTime,
		models.SysClockGettime: k.sysClockGettime,

		models.SysGrantCapability:  k.sysGrantCapability,
		models.SysRevokeCapability: k.sysRevokeCapability,
		models.SysCheckCapability:  k.sysCheckCapability,
		models.SysListCapabilities: k.sysListCapabilities,
	}
}

// Dispatch ejecuta la syscall pedida por request.PID. Las syscalls de archivos,
// exec, mprotect, brk y sbrk responden EOPNOTSUPP.
func (k *Kernel) Dispatch(ctx context.Context, request models.SyscallRequest) models.SyscallResult {
	number := models.SyscallNumber(request.Number)
	slog.Info(fmt.Sprintf("## (%d) - Solicitó syscall: %s", request.PID, number.Name()))

	result, err := k.dispatch(ctx, number, request)
	if err != nil {
		result = models.SyscallResult{Errno: ErrnoFor(err), Error: err.Error()}
		slog.Debug(fmt.Sprintf("## (%d) - Syscall %s falló: %v", request.PID, number.Name(), err))
	}
	return result
}

func (k *Kernel) dispatch(ctx context.Context, number models.SyscallNumber, request models.SyscallRequest) (models.SyscallResult, error) {
	if !number.IsValid() || number.Name() == "unknown" {
		return models.SyscallResult{}, fmt.Errorf("%w: %d", models.ErrInvalidSyscall, request.Number)
	}
	if !k.Processes.Exists(request.PID) {
		return models.SyscallResult{}, fmt.Errorf("%w: PID %d", models.ErrProcessNotFound, request.PID)
	}
	if !k.Capabilities.Check(request.PID, models.CapSystemCall, UserSyscallsResource) {
		return models.SyscallResult{}, fmt.Errorf("%w: PID %d no puede hacer syscalls", models.ErrPermissionDenied, request.PID)
	}

	handler, ok := k.syscallHandlers()[number]
	if !ok {
		return models.SyscallResult{}, fmt.Errorf("%w: %s", models.ErrNotSupported, number.Name())
	}
	return handler(ctx, request)
}

func value(v uint64) models.SyscallResult {
	return models.SyscallResult{Value: v}
}

func (k *Kernel) sysExit(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	return value(0), k.Exit(request.PID, int32(request.Args[0]))
}

func (k *Kernel) sysFork(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	child, err := k.Fork(request.PID)
	return value(uint64(child)), err
}

func (k *Kernel) sysWait(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	child, exitCode, err := k.Wait(request.PID)
	if err != nil {
		return models.SyscallResult{}, err
	}
	result := value(uint64(child))
	result.Data = map[string]any{"pid": child, "exit_code": exitCode}
	return result, nil
}

func (k *Kernel) sysGetPID(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	return value(uint64(request.PID)), nil
}

func (k *Kernel) sysGetPPID(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	info, _ := k.Processes.Get(request.PID)
	if info.ParentPID == nil {
		return value(0), nil
	}
	return value(uint64(*info.ParentPID)), nil
}

func (k *Kernel) sysKill(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	target, err := pidArg(request.Args[0])
	if err != nil {
		return models.SyscallResult{}, err
	}
	return value(0), k.Kill(request.PID, target, request.Args[1])
}

// mmap: args = addr, length, prot. La dirección tiene que estar alineada a página.
func (k *Kernel) sysMmap(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	addr, length, prot := request.Args[0], request.Args[1], request.Args[2]
	pages, err := pageRange(addr, length)
	if err != nil {
		return models.SyscallResult{}, err
	}
	if prot&^(protRead|protWrite|protExec) != 0 {
		return models.SyscallResult{}, fmt.Errorf("%w: prot %#x", models.ErrInvalidArgument, prot)
	}

	protection := memmodels.ProtUser
	if prot&protRead != 0 {
		protection |= memmodels.ProtRead
	}
	if prot&protWrite != 0 {
		protection |= memmodels.ProtWrite
	}
	if prot&protExec != 0 {
		protection |= memmodels.ProtExecute
	}

	info, _ := k.Processes.Get(request.PID)
	if err := k.Memory.AllocatePages(info.ASID, memmodels.VirtualAddress(addr), pages, protection); err != nil {
		return models.SyscallResult{}, err
	}
	return value(addr), nil
}

// munmap: args = addr, length.
func (k *Kernel) sysMunmap(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	addr, length := request.Args[0], request.Args[1]
	pages, err := pageRange(addr, length)
	if err != nil {
		return models.SyscallResult{}, err
	}
	info, _ := k.Processes.Get(request.PID)
	return value(0), k.Memory.FreePages(info.ASID, memmodels.VirtualAddress(addr), pages)
}

func pageRange(addr, length uint64) (int, error) {
	if addr == 0 || addr%memmodels.PageSize != 0 {
		return 0, fmt.Errorf("%w: dirección %#x", models.ErrInvalidArgument, addr)
	}
	if length == 0 {
		return 0, fmt.Errorf("%w: longitud 0", models.ErrInvalidArgument)
	}
	return int((length + memmodels.PageSize - 1) / memmodels.PageSize), nil
}

// write: args = fd, count. Sólo stdout y stderr, que van al log.
func (k *Kernel) sysWrite(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	fd, count := request.Args[0], request.Args[1]
	if fd != stdout && fd != stderr {
		return models.SyscallResult{}, fmt.Errorf("%w: fd %d", models.ErrNotSupported, fd)
	}
	data := request.Data
	if count != 0 && count < uint64(len(data)) {
		data = data[:count]
	}
	slog.Info(fmt.Sprintf("## (%d) - Escribe en fd %d: %s", request.PID, fd, data))
	return value(uint64(len(data))), nil
}

// send_message: args = receptor, tipo, prioridad. Data es el contenido.
func (k *Kernel) sysSendMessage(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	receiver, err := pidArg(request.Args[0])
	if err != nil {
		return models.SyscallResult{}, err
	}
	messageType := models.MessageType(request.Args[1])
	if messageType < models.MessageSystemCall || messageType > models.MessageError {
		return models.SyscallResult{}, fmt.Errorf("%w: tipo de mensaje %d", models.ErrInvalidArgument, request.Args[1])
	}
	if request.Args[2] > 255 {
		return models.SyscallResult{}, fmt.Errorf("%w: prioridad %d", models.ErrInvalidArgument, request.Args[2])
	}

	message := models.NewMessage(request.PID, receiver, messageType, textData(request.Data))
	message.Header.Priority = uint8(request.Args[2])
	id, err := k.IPC.Send(message)
	return value(uint64(id)), err
}

// receive_message: args = timeout en milisegundos, 0 no espera.
func (k *Kernel) sysReceiveMessage(ctx context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	timeout := time.Duration(request.Args[0]) * time.Millisecond
	message, err := k.IPC.Receive(ctx, request.PID, timeout)
	if err != nil {
		return models.SyscallResult{}, err
	}
	result := value(uint64(message.Header.ID))
	result.Message = &message
	return result, nil
}

// reply_message: args = mensaje a responder. Data es el contenido.
func (k *Kernel) sysReplyMessage(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	id, err := k.IPC.Reply(request.PID, models.MessageID(request.Args[0]), textData(request.Data))
	return value(uint64(id)), err
}

// create_channel: args = otro proceso. Hace falta ProcessManagement sobre él.
func (k *Kernel) sysCreateChannel(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	other, err := k.managedPeer(request)
	if err != nil {
		return models.SyscallResult{}, err
	}
	return value(0), k.Security.CreateSecureChannel(request.PID, other)
}

func (k *Kernel) sysDestroyChannel(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	other, err := k.managedPeer(request)
	if err != nil {
		return models.SyscallResult{}, err
	}
	return value(uint64(k.Security.DestroySecureChannel(request.PID, other))), nil
}

func (k *Kernel) managedPeer(request models.SyscallRequest) (models.ProcessID, error) {
	other, err := pidArg(request.Args[0])
	if err != nil {
		return 0, err
	}
	if other == request.PID || !k.Processes.Exists(other) {
		return 0, fmt.Errorf("%w: PID %d", models.ErrProcessNotFound, other)
	}
	if !k.Capabilities.Check(request.PID, models.CapProcessManagement, models.ProcessResource(other)) {
		return 0, fmt.Errorf("%w: PID %d no administra a PID %d", models.ErrPermissionDenied, request.PID, other)
	}
	return other, nil
}

// driver_register: args = tipo de driver, máscara de DriverCapabilityKind
// requeridas (bit i = tipo i). Data es el nombre.
func (k *Kernel) sysDriverRegister(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	driverType := models.DriverType(request.Args[0])
	if driverType < models.DriverTypeStorage || driverType > models.DriverTypeCustom {
		return models.SyscallResult{}, fmt.Errorf("%w: tipo de driver %d", models.ErrInvalidArgument, request.Args[0])
	}
	var required []models.DriverCapabilityType
	for kind := models.DriverHardware; kind <= models.DriverCustom; kind++ {
		if request.Args[1]&(1<<uint(kind)) != 0 {
			required = append(required, models.DriverCapabilityType{Kind: kind})
		}
	}
	if request.Args[1]>>uint(models.DriverCustom+1) != 0 {
		return models.SyscallResult{}, fmt.Errorf("%w: capacidades %#x", models.ErrInvalidArgument, request.Args[1])
	}

	driver, err := k.Drivers.Register(request.PID, request.Data, driverType, required, nil)
	if err != nil {
		return models.SyscallResult{}, err
	}
	result := value(uint64(driver.Granted))
	result.Data = driver
	return result, nil
}

func (k *Kernel) sysDriverUnregister(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	return value(0), k.Drivers.Unregister(request.PID, request.Data)
}

// driver_request: Data es el nombre del driver; los args viajan en el mensaje.
func (k *Kernel) sysDriverRequest(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	id, err := k.Drivers.Request(request.PID, request.Data, models.SystemCallData(uint32(models.SysDriverRequest), request.Args))
	return value(uint64(id)), err
}

// driver_response: args = pedido a responder. Data es el contenido.
func (k *Kernel) sysDriverResponse(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	id, err := k.Drivers.Respond(request.PID, models.MessageID(request.Args[0]), textData(request.Data))
	return value(uint64(id)), err
}

func (k *Kernel) sysUname(_ context.Context, _ models.SyscallRequest) (models.SyscallResult, error) {
	result := value(0)
	result.Data = map[string]string{
		"sysname": "kosh",
		"release": "0.1.0",
		"machine": "x86_64",
	}
	return result, nil
}

func (k *Kernel) sysSysinfo(_ context.Context, _ models.SyscallRequest) (models.SyscallResult, error) {
	stats := k.Stats()
	result := value(stats.UptimeMs)
	result.Data = stats
	return result, nil
}

// time retorna segundos desde el arranque.
func (k *Kernel) sysTime(_ context.Context, _ models.SyscallRequest) (models.SyscallResult, error) {
	return value(k.Clock.NowMs() / 1000), nil
}

// clock_gettime retorna milisegundos desde el arranque.
func (k *Kernel) sysClockGettime(_ context.Context, _ models.SyscallRequest) (models.SyscallResult, error) {
	return value(k.Clock.NowMs()), nil
}

// grant_capability: args = destinatario, tipo, tipo de recurso, pid del
// recurso, delegable (0/1), vencimiento en ms (0 sin vencimiento). Data es el
// nombre del recurso cuando no es un proceso.
func (k *Kernel) sysGrantCapability(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	target, err := pidArg(request.Args[0])
	if err != nil {
		return models.SyscallResult{}, err
	}
	if !k.Processes.Exists(target) {
		return models.SyscallResult{}, fmt.Errorf("%w: PID %d", models.ErrProcessNotFound, target)
	}
	capabilityType := models.CapabilityType(request.Args[1])
	resource, err := resourceArg(request.Args[2], request.Args[3], request.Data)
	if err != nil {
		return models.SyscallResult{}, err
	}
	if !k.Security.ValidateCapabilityRequest(request.PID, capabilityType, resource) {
		return models.SyscallResult{}, fmt.Errorf("%w: PID %d no puede otorgar %s sobre %s", models.ErrPermissionDenied, request.PID, capabilityType, resource)
	}

	granter := request.PID
	options := models.GrantOptions{Granter: &granter, Delegatable: request.Args[4] != 0}
	if request.Args[5] != 0 {
		expires := k.Clock.NowMs() + request.Args[5]
		options.ExpiresAtMs = &expires
	}
	id, err := k.Capabilities.Grant(target, capabilityType, resource, options)
	return value(uint64(id)), err
}

// revoke_capability: args = dueño, capacidad. Puede revocarla el dueño, quien
// la otorgó o un proceso con Admin.
func (k *Kernel) sysRevokeCapability(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	owner, err := pidArg(request.Args[0])
	if err != nil {
		return models.SyscallResult{}, err
	}
	id := models.CapabilityID(request.Args[1])
	capability, found := k.Capabilities.Get(owner, id)
	if !found {
		return models.SyscallResult{}, fmt.Errorf("%w: %d de PID %d", models.ErrCapabilityNotFound, id, owner)
	}

	grantedByCaller := capability.Granter != nil && *capability.Granter == request.PID
	if owner != request.PID && !grantedByCaller && !k.Capabilities.Check(request.PID, models.CapAdmin, models.AnyResource()) {
		return models.SyscallResult{}, fmt.Errorf("%w: PID %d no puede revocar %d", models.ErrPermissionDenied, request.PID, id)
	}
	return value(0), k.Capabilities.Revoke(owner, id)
}

// check_capability: args = tipo, tipo de recurso, pid del recurso. Retorna 1 si
// el proceso tiene la capacidad.
func (k *Kernel) sysCheckCapability(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	resource, err := resourceArg(request.Args[1], request.Args[2], request.Data)
	if err != nil {
		return models.SyscallResult{}, err
	}
	if k.Capabilities.Check(request.PID, models.CapabilityType(request.Args[0]), resource) {
		return value(1), nil
	}
	return value(0), nil
}

func (k *Kernel) sysListCapabilities(_ context.Context, request models.SyscallRequest) (models.SyscallResult, error) {
	capabilities := k.Capabilities.Capabilities(request.PID)
	result := value(uint64(len(capabilities)))
	result.Data = capabilities
	return result, nil
}

func pidArg(arg uint64) (models.ProcessID, error) {
	if arg > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: PID %d", models.ErrInvalidArgument, arg)
	}
	return models.ProcessID(arg), nil
}

func resourceArg(kind, pid uint64, name string) (models.ResourceID, error) {
	switch models.ResourceKind(kind) {
	case models.ResourceAny:
		return models.AnyResource(), nil
	case models.ResourceProcess:
		processID, err := pidArg(pid)
		if err != nil {
			return models.ResourceID{}, err
		}
		return models.ProcessResource(processID), nil
	case models.ResourceDevice, models.ResourceFile, models.ResourceNetwork, models.ResourceSystem:
		if name == "" {
			return models.ResourceID{}, fmt.Errorf("%w: recurso sin nombre", models.ErrInvalidArgument)
		}
		return models.ResourceID{Kind: models.ResourceKind(kind), Name: name}, nil
	default:
		return models.ResourceID{}, fmt.Errorf("%w: tipo de recurso %d", models.ErrInvalidArgument, kind)
	}
}

func textData(text string) models.MessageData {
	if text == "" {
		return models.EmptyData()
	}
	return models.TextData(text)
}
