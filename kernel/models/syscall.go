package models

type SyscallNumber uint64

// MaxSignal es el número de señal más alto que acepta kill.
const MaxSignal = 64

// Números de syscall.
const (
	SysExit    SyscallNumber = 1
	SysFork    SyscallNumber = 2
	SysExec    SyscallNumber = 3
	SysWait    SyscallNumber = 4
	SysGetPID  SyscallNumber = 5
	SysGetPPID SyscallNumber = 6
	SysKill    SyscallNumber = 7

	SysMmap     SyscallNumber = 10
	SysMunmap   SyscallNumber = 11
	SysMprotect SyscallNumber = 12
	SysBrk      SyscallNumber = 13
	SysSbrk     SyscallNumber = 14

	SysOpen   SyscallNumber = 20
	SysClose  SyscallNumber = 21
	SysRead   SyscallNumber = 22
	SysWrite  SyscallNumber = 23
	SysLseek  SyscallNumber = 24
	SysStat   SyscallNumber = 25
	SysFstat  SyscallNumber = 26
	SysMkdir  SyscallNumber = 27
	SysRmdir  SyscallNumber = 28
	SysUnlink SyscallNumber = 29

	SysSendMessage    SyscallNumber = 30
	SysReceiveMessage SyscallNumber = 31
	SysReplyMessage   SyscallNumber = 32
	SysCreateChannel  SyscallNumber = 33
	SysDestroyChannel SyscallNumber = 34

	SysDriverRegister   SyscallNumber = 40
	SysDriverUnregister SyscallNumber = 41
	SysDriverRequest    SyscallNumber = 42
	SysDriverResponse   SyscallNumber = 43

	SysUname        SyscallNumber = 50
	SysSysinfo      SyscallNumber = 51
	SysTime         SyscallNumber = 52
	SysClockGettime SyscallNumber = 53

	SysGrantCapability  SyscallNumber = 60
	SysRevokeCapability SyscallNumber = 61
	SysCheckCapability  SyscallNumber = 62
	SysListCapabilities SyscallNumber = 63

	MaxSyscallNumber = SysListCapabilities
)

var syscallNames = map[SyscallNumber]string{
	SysExit:    "exit",
	SysFork:    "fork",
	SysExec:    "exec",
	SysWait:    "wait",
	SysGetPID:  "getpid",
	SysGetPPID: "getppid",
	SysKill:    "kill",

	SysMmap:     "mmap",
	SysMunmap:   "munmap",
	SysMprotect: "mprotect",
	SysBrk:      "brk",
	SysSbrk:     "sbrk",

	SysOpen:   "open",
	SysClose:  "close",
	SysRead:   "read",
	SysWrite:  "write",
	SysLseek:  "lseek",
	SysStat:   "stat",
	SysFstat:  "fstat",
	SysMkdir:  "mkdir",
	SysRmdir:  "rmdir",
	SysUnlink: "unlink",

	SysSendMessage:    "send_message",
	SysReceiveMessage: "receive_message",
	SysReplyMessage:   "reply_message",
	SysCreateChannel:  "create_channel",
	SysDestroyChannel: "destroy_channel",

	SysDriverRegister:   "driver_register",
	SysDriverUnregister: "driver_unregister",
	SysDriverRequest:    "driver_request",
	SysDriverResponse:   "driver_response",

	SysUname:        "uname",
	SysSysinfo:      "sysinfo",
	SysTime:         "time",
	SysClockGettime: "clock_gettime",

	SysGrantCapability:  "grant_capability",
	SysRevokeCapability: "revoke_capability",
	SysCheckCapability:  "check_capability",
	SysListCapabilities: "list_capabilities",
}

// IsValid indica si el número está en el rango de syscalls.
func (n SyscallNumber) IsValid() bool {
	return n > 0 && n <= MaxSyscallNumber
}

// Name retorna el nombre de la syscall o "unknown".
func (n SyscallNumber) Name() string {
	if name, ok := syscallNames[n]; ok {
		return name
	}
	return "unknown"
}

// SyscallRequest es una syscall que llega por HTTP.
type SyscallRequest struct {
	PID    ProcessID `json:"pid"`
	Number uint64    `json:"number"`
	Args   [6]uint64 `json:"args"`
	// Data acompaña a las syscalls que llevan un buffer (write, send_message).
	Data string `json:"data,omitempty"`
}

// SyscallResult es la respuesta de una syscall. Errno vale 0 si tuvo éxito.
type SyscallResult struct {
	Value   uint64   `json:"value"`
	Errno   int32    `json:"errno"`
	Error   string   `json:"error,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
}
