package models

import (
	"fmt"
	"strings"

	cpumodels "github.com/sisoputnfrba/tp-kosh/cpu/models"
	"github.com/sisoputnfrba/tp-kosh/utils/list"
)

// ProcessID identifica un proceso. El 0 es el kernel y los procesos creados
// arrancan en 1 (init).
type ProcessID uint32

const (
	KernelPID ProcessID = 0
	InitPID   ProcessID = 1
)

// Direcciones iniciales de los contextos nuevos.
const (
	UserEntryPoint   uint64 = 0x400000
	UserStackTop     uint64 = 0x7FFF_FFFF_F000
	KernelEntryPoint uint64 = 0xFFFF_8000_0000_0000
	KernelStackTop   uint64 = 0xFFFF_8000_0020_0000
)

func (p ProcessID) String() string {
	return fmt.Sprintf("%d", uint32(p))
}

type StateKind int

const (
	StateCreating StateKind = iota
	StateReady
	StateRunning
	StateBlocked
	StateZombie
)

var stateNames = map[StateKind]string{
	StateCreating: "CREATING",
	StateReady:    "READY",
	StateRunning:  "RUNNING",
	StateBlocked:  "BLOCKED",
	StateZombie:   "ZOMBIE",
}

func (k StateKind) String() string {
	if name, ok := stateNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// BlockReason indica qué espera un proceso bloqueado.
type BlockReason int

const (
	NotBlocked BlockReason = iota
	WaitingForIo
	WaitingForMessage
	WaitingForChild
	WaitingForMemory
	WaitingForResource
)

var blockReasonNames = map[BlockReason]string{
	NotBlocked:         "",
	WaitingForIo:       "WAITING_FOR_IO",
	WaitingForMessage:  "WAITING_FOR_MESSAGE",
	WaitingForChild:    "WAITING_FOR_CHILD",
	WaitingForMemory:   "WAITING_FOR_MEMORY",
	WaitingForResource: "WAITING_FOR_RESOURCE",
}

func (r BlockReason) String() string {
	return blockReasonNames[r]
}

// ParseBlockReason convierte un nombre como "WAITING_FOR_IO" en su BlockReason.
func ParseBlockReason(name string) (BlockReason, error) {
	for reason, reasonName := range blockReasonNames {
		if reason != NotBlocked && reasonName == strings.ToUpper(name) {
			return reason, nil
		}
	}
	return NotBlocked, fmt.Errorf("%w: motivo de bloqueo %q", ErrInvalidArgument, name)
}

// ProcessState es el estado de un proceso. Reason sólo se usa en StateBlocked.
type ProcessState struct {
	Kind   StateKind
	Reason BlockReason
}

var (
	Creating = ProcessState{Kind: StateCreating}
	Ready    = ProcessState{Kind: StateReady}
	Running  = ProcessState{Kind: StateRunning}
	Zombie   = ProcessState{Kind: StateZombie}
)

func Blocked(reason BlockReason) ProcessState {
	return ProcessState{Kind: StateBlocked, Reason: reason}
}

// IsRunnable indica si el planificador puede elegir al proceso.
func (s ProcessState) IsRunnable() bool {
	return s.Kind == StateReady || s.Kind == StateRunning
}

// CanTransitionTo valida el diagrama de estados:
// Creating → Ready ⇄ Running, Running → Blocked → Ready y cualquiera → Zombie.
func (s ProcessState) CanTransitionTo(next ProcessState) bool {
	switch next.Kind {
	case StateZombie:
		return s.Kind != StateZombie
	case StateReady:
		return s.Kind == StateCreating || s.Kind == StateRunning || s.Kind == StateBlocked
	case StateRunning:
		return s.Kind == StateReady
	case StateBlocked:
		return s.Kind == StateRunning && next.Reason != NotBlocked
	default:
		return false
	}
}

func (s ProcessState) String() string {
	if s.Kind == StateBlocked {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
	}
	return s.Kind.String()
}

func (s ProcessState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ProcessPriority ordena las clases de planificación: un valor menor es más prioritario.
type ProcessPriority int

const (
	PrioritySystem ProcessPriority = iota
	PriorityInteractive
	PriorityNormal
	PriorityBackground
)

// Priorities lista las clases de mayor a menor prioridad.
var Priorities = []ProcessPriority{PrioritySystem, PriorityInteractive, PriorityNormal, PriorityBackground}

var priorityNames = map[ProcessPriority]string{
	PrioritySystem:      "SYSTEM",
	PriorityInteractive: "INTERACTIVE",
	PriorityNormal:      "NORMAL",
	PriorityBackground:  "BACKGROUND",
}

func (p ProcessPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

func (p ProcessPriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ProcessPriority) UnmarshalText(text []byte) error {
	priority, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = priority
	return nil
}

func ParsePriority(name string) (ProcessPriority, error) {
	for priority, priorityName := range priorityNames {
		if priorityName == strings.ToUpper(name) {
			return priority, nil
		}
	}
	return PriorityNormal, fmt.Errorf("%w: prioridad %q", ErrInvalidArgument, name)
}

// Boost sube la prioridad levels clases. El resultado queda entre System y Background.
func (p ProcessPriority) Boost(levels int) ProcessPriority {
	return clampPriority(int(p) - levels)
}

// Reduce baja la prioridad levels clases. El resultado queda entre System y Background.
func (p ProcessPriority) Reduce(levels int) ProcessPriority {
	return clampPriority(int(p) + levels)
}

func clampPriority(value int) ProcessPriority {
	return ProcessPriority(min(max(value, int(PrioritySystem)), int(PriorityBackground)))
}

// Process es el bloque de control de un proceso.
type Process struct {
	PID             ProcessID
	ParentPID       *ProcessID
	Name            string
	State           ProcessState
	Priority        ProcessPriority
	ASID            uint32
	Context         cpumodels.CpuContext
	CpuTimeMs       uint64
	CreationTimeMs  uint64
	LastScheduledMs uint64
	ExitCode        *int32
	Children        *list.ArrayList[ProcessID]
}

// ProcessInfo es una copia del estado visible de un proceso.
type ProcessInfo struct {
	PID            ProcessID       `json:"pid"`
	ParentPID      *ProcessID      `json:"parent_pid,omitempty"`
	Name           string          `json:"name"`
	State          ProcessState    `json:"state"`
	Priority       ProcessPriority `json:"priority"`
	ASID           uint32          `json:"asid"`
	CpuTimeMs      uint64          `json:"cpu_time_ms"`
	CreationTimeMs uint64          `json:"creation_time_ms"`
	ExitCode       *int32          `json:"exit_code,omitempty"`
	Children       []ProcessID     `json:"children"`
}

func (p *Process) Info() ProcessInfo {
	info := ProcessInfo{
		PID:            p.PID,
		Name:           p.Name,
		State:          p.State,
		Priority:       p.Priority,
		ASID:           p.ASID,
		CpuTimeMs:      p.CpuTimeMs,
		CreationTimeMs: p.CreationTimeMs,
		Children:       p.Children.GetAll(),
	}
	if p.ParentPID != nil {
		parent := *p.ParentPID
		info.ParentPID = &parent
	}
	if p.ExitCode != nil {
		code := *p.ExitCode
		info.ExitCode = &code
	}
	return info
}

// ProcessTableStatistics resume la tabla de procesos.
type ProcessTableStatistics struct {
	TotalProcesses int            `json:"total_processes"`
	MaxProcesses   int            `json:"max_processes"`
	ByState        map[string]int `json:"by_state"`
	ByPriority     map[string]int `json:"by_priority"`
	CurrentPID     *ProcessID     `json:"current_pid,omitempty"`
	NextPID        ProcessID      `json:"next_pid"`
}
