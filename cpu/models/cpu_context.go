package models

// Selectores de segmento de la GDT.
const (
	KernelCodeSelector uint16 = 0x08
	KernelDataSelector uint16 = 0x10
	UserCodeSelector   uint16 = 0x1B
	UserDataSelector   uint16 = 0x23

	// DefaultRflags deja habilitadas las interrupciones (IF) y el bit reservado 1.
	DefaultRflags uint64 = 0x202
)

// CpuContext es el estado de registros que se guarda en cada cambio de contexto.
type CpuContext struct {
	Rax    uint64 `json:"rax"`
	Rbx    uint64 `json:"rbx"`
	Rcx    uint64 `json:"rcx"`
	Rdx    uint64 `json:"rdx"`
	Rsi    uint64 `json:"rsi"`
	Rdi    uint64 `json:"rdi"`
	Rbp    uint64 `json:"rbp"`
	Rsp    uint64 `json:"rsp"`
	R8     uint64 `json:"r8"`
	R9     uint64 `json:"r9"`
	R10    uint64 `json:"r10"`
	R11    uint64 `json:"r11"`
	R12    uint64 `json:"r12"`
	R13    uint64 `json:"r13"`
	R14    uint64 `json:"r14"`
	R15    uint64 `json:"r15"`
	Rip    uint64 `json:"rip"`
	Rflags uint64 `json:"rflags"`
	Cs     uint16 `json:"cs"`
	Ds     uint16 `json:"ds"`
	Es     uint16 `json:"es"`
	Fs     uint16 `json:"fs"`
	Gs     uint16 `json:"gs"`
	Ss     uint16 `json:"ss"`
}

// NewCpuContext retorna un contexto vacío con segmentos de kernel.
func NewCpuContext() CpuContext {
	return CpuContext{
		Rflags: DefaultRflags,
		Cs:     KernelCodeSelector,
		Ds:     KernelDataSelector,
		Es:     KernelDataSelector,
		Fs:     KernelDataSelector,
		Gs:     KernelDataSelector,
		Ss:     KernelDataSelector,
	}
}

// NewKernelThreadContext prepara un hilo de kernel que arranca en entry.
func NewKernelThreadContext(entry, stack uint64) CpuContext {
	ctx := NewCpuContext()
	ctx.SetInstructionPointer(entry)
	ctx.SetStackPointer(stack)
	return ctx
}

// NewUserProcessContext prepara un proceso de usuario (ring 3) que arranca en entry.
func NewUserProcessContext(entry, stack uint64) CpuContext {
	ctx := NewKernelThreadContext(entry, stack)
	ctx.Cs = UserCodeSelector
	ctx.Ds = UserDataSelector
	ctx.Es = UserDataSelector
	ctx.Fs = UserDataSelector
	ctx.Gs = UserDataSelector
	ctx.Ss = UserDataSelector
	return ctx
}

func (c *CpuContext) SetInstructionPointer(rip uint64) {
	c.Rip = rip
}

// SetStackPointer fija rsp y rbp al tope de la pila.
func (c *CpuContext) SetStackPointer(stack uint64) {
	c.Rsp = stack
	c.Rbp = stack
}

// IsUserMode indica si el contexto corre en ring 3.
func (c CpuContext) IsUserMode() bool {
	return c.Cs&0x3 == 0x3
}
