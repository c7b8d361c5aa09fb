package services

import (
	"errors"
	"fmt"
	"log/slog"

	cpuservices "github.com/sisoputnfrba/tp-kosh/cpu/services"
	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	memservices "github.com/sisoputnfrba/tp-kosh/memoria/services"
)

// Kernel reúne los subsistemas del núcleo. Hay una sola instancia por kernel
// y se pasa explícitamente a quien la necesite.
type Kernel struct {
	Config       models.Config
	Clock        Clock
	Memory       *memservices.MemoryManager
	Switcher     *cpuservices.ContextSwitcher
	Processes    *ProcessTable
	Scheduler    *Scheduler
	Queues       *MessageQueueManager
	Capabilities *CapabilityManager
	Security     *SecurityPolicy
	IPC          *IPCService
	Drivers      *DriverService
}

// KernelStatistics es la foto completa que expone /kernel y sysinfo.
type KernelStatistics struct {
	UptimeMs  uint64                        `json:"uptime_ms"`
	Processes models.ProcessTableStatistics `json:"processes"`
	Scheduler models.SchedulerStatistics    `json:"scheduler"`
	Ipc       models.IpcStatistics          `json:"ipc"`
	Drivers   int                           `json:"drivers"`
	Memory    memservices.MemorySnapshot    `json:"memory"`
}

// NewKernel arma el kernel a partir de config. clock nil usa StubClock.
func NewKernel(config models.Config, clock Clock) (*Kernel, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	algorithm, err := models.ParseSchedulingAlgorithm(config.SchedulerAlgorithm)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = StubClock{}
	}

	memory, err := memservices.NewMemoryManager(config.Memory)
	if err != nil {
		return nil, fmt.Errorf("inicializando memoria: %w", err)
	}

	switcher := cpuservices.NewContextSwitcher()
	processes := NewProcessTable(config.MaxProcesses, clock, memory)
	queues := NewMessageQueueManager(config.QueueMaxMessages, config.QueueMaxBytes)
	capabilities := NewCapabilityManager(clock)
	ipc := NewIPCService(processes, queues, capabilities, clock)

	kernel := &Kernel{
		Config:       config,
		Clock:        clock,
		Memory:       memory,
		Switcher:     switcher,
		Processes:    processes,
		Scheduler:    NewScheduler(processes, switcher, clock, algorithm, config.TimeSliceMs),
		Queues:       queues,
		Capabilities: capabilities,
		Security:     NewSecurityPolicy(capabilities),
		IPC:          ipc,
		Drivers:      NewDriverService(processes, capabilities, ipc),
	}
	slog.Info("Kernel inicializado", "algoritmo", algorithm, "quantum_ms", config.TimeSliceMs, "max_procesos", config.MaxProcesses)
	return kernel, nil
}

// Boot crea init con capacidades de sistema y lo pone a ejecutar.
func (k *Kernel) Boot() (models.ProcessID, error) {
	pid, err := k.CreateProcess("init", nil, models.PrioritySystem)
	if err != nil {
		return 0, fmt.Errorf("creando init: %w", err)
	}
	k.Scheduler.Schedule()
	return pid, nil
}

// CreateProcess crea un proceso con su cola de mensajes y las capacidades por
// defecto de su clase: System recibe las de sistema y el resto las de usuario.
func (k *Kernel) CreateProcess(name string, parent *models.ProcessID, priority models.ProcessPriority) (models.ProcessID, error) {
	pid, err := k.Processes.CreateProcess(name, parent, priority)
	if err != nil {
		return 0, err
	}
	if err := k.setup(pid, priority == models.PrioritySystem); err != nil {
		return 0, err
	}
	return pid, nil
}

// Fork duplica parent. El hijo es Normal y recibe capacidades de usuario.
func (k *Kernel) Fork(parent models.ProcessID) (models.ProcessID, error) {
	child, err := k.Processes.Fork(parent)
	if err != nil {
		return 0, err
	}
	if err := k.setup(child, false); err != nil {
		return 0, err
	}
	return child, nil
}

func (k *Kernel) setup(pid models.ProcessID, system bool) error {
	k.Queues.CreateQueue(pid)

	grant := k.Security.GrantUserCapabilities
	if system {
		grant = k.Security.GrantSystemCapabilities
	}
	if _, err := grant(pid); err != nil {
		k.release(pid)
		if _, removeErr := k.Processes.Remove(pid); removeErr != nil {
			err = errors.Join(err, removeErr)
		}
		return err
	}
	return nil
}

// Exit termina pid con exitCode, libera sus mensajes, capacidades y drivers, y
// replanifica si era el proceso en ejecución. La entrada queda Zombie hasta
// que el padre la espere o se cosechen los zombies.
func (k *Kernel) Exit(pid models.ProcessID, exitCode int32) error {
	if err := k.Processes.Terminate(pid, exitCode); err != nil {
		return err
	}
	k.release(pid)
	if _, running := k.Processes.Current(); !running {
		k.Scheduler.Schedule()
	}
	return nil
}

func (k *Kernel) release(pid models.ProcessID) {
	k.IPC.ForgetProcess(pid)
	k.Drivers.ForgetProcess(pid)
	k.Security.RevokeProcessCapabilities(pid)
}

// Wait cosecha un hijo Zombie de parent y retorna su PID y código de salida.
// Sin hijos falla con ErrProcessNotFound; si ninguno terminó, con ErrWouldBlock.
func (k *Kernel) Wait(parent models.ProcessID) (models.ProcessID, int32, error) {
	info, ok := k.Processes.Get(parent)
	if !ok {
		return 0, 0, fmt.Errorf("%w: PID %d", models.ErrProcessNotFound, parent)
	}
	if len(info.Children) == 0 {
		return 0, 0, fmt.Errorf("%w: PID %d no tiene hijos", models.ErrProcessNotFound, parent)
	}

	for _, child := range info.Children {
		childInfo, ok := k.Processes.Get(child)
		if !ok || childInfo.State.Kind != models.StateZombie {
			continue
		}
		removed, err := k.Processes.Remove(child)
		if err != nil {
			return 0, 0, err
		}
		var exitCode int32
		if removed.ExitCode != nil {
			exitCode = *removed.ExitCode
		}
		return child, exitCode, nil
	}
	return 0, 0, fmt.Errorf("%w: ningún hijo de PID %d terminó", models.ErrWouldBlock, parent)
}

// Kill termina target con código 128+signal. Puede hacerlo su padre o quien
// tenga ProcessManagement sobre él. signal va de 1 a MaxSignal.
func (k *Kernel) Kill(caller, target models.ProcessID, signal uint64) error {
	if signal == 0 || signal > models.MaxSignal {
		return fmt.Errorf("%w: señal %d", models.ErrInvalidArgument, signal)
	}
	info, ok := k.Processes.Get(target)
	if !ok || info.State.Kind == models.StateZombie {
		return fmt.Errorf("%w: PID %d", models.ErrProcessNotFound, target)
	}
	isParent := info.ParentPID != nil && *info.ParentPID == caller
	if !isParent && !k.Capabilities.Check(caller, models.CapProcessManagement, models.ProcessResource(target)) {
		return fmt.Errorf("%w: PID %d no puede terminar a PID %d", models.ErrPermissionDenied, caller, target)
	}
	slog.Info(fmt.Sprintf("## PID %d envía la señal %d a PID %d", caller, signal, target))
	return k.Exit(target, int32(128+signal))
}

// ReapZombies elimina todos los Zombie, incluidos los hijos que quedaron
// huérfanos, y retorna sus PIDs.
func (k *Kernel) ReapZombies() []models.ProcessID {
	reaped := k.Processes.CleanupZombies()
	for _, pid := range reaped {
		k.release(pid)
	}
	return reaped
}

// Tick avanza el temporizador elapsedMs milisegundos.
func (k *Kernel) Tick(elapsedMs uint64) (models.ProcessID, bool) {
	return k.Scheduler.TimerTick(elapsedMs)
}

func (k *Kernel) Stats() KernelStatistics {
	return KernelStatistics{
		UptimeMs:  k.Clock.NowMs(),
		Processes: k.Processes.Statistics(),
		Scheduler: k.Scheduler.Statistics(),
		Ipc:       k.IPC.Stats(),
		Drivers:   len(k.Drivers.List()),
		Memory:    k.Memory.Stats(),
	}
}

// Shutdown termina los procesos vivos y libera la memoria.
func (k *Kernel) Shutdown() error {
	for _, process := range k.Processes.List() {
		if process.State.Kind == models.StateZombie {
			continue
		}
		if err := k.Processes.Terminate(process.PID, 0); err != nil {
			slog.Warn("No se pudo terminar el proceso", "pid", process.PID, "error", err)
		}
	}
	reaped := k.ReapZombies()
	slog.Info("Kernel detenido", "procesos_finalizados", len(reaped))
	return k.Memory.Close()
}
