package services

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	cpumodels "github.com/sisoputnfrba/tp-kosh/cpu/models"
	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/sisoputnfrba/tp-kosh/utils/list"
	"golang.org/x/exp/maps"
)

// AddressSpaceProvider crea y destruye los espacios de direcciones de los procesos.
// *memoria/services.MemoryManager lo implementa.
type AddressSpaceProvider interface {
	CreateAddressSpace() (uint32, error)
	DestroyAddressSpace(asid uint32) error
}

// ProcessTable guarda los bloques de control de todos los procesos y cuál está
// corriendo. Las entradas Zombie ocupan lugar hasta que se cosechan.
type ProcessTable struct {
	mu           sync.RWMutex
	processes    map[models.ProcessID]*models.Process
	nextPID      models.ProcessID
	current      *models.ProcessID
	maxProcesses int
	clock        Clock
	spaces       AddressSpaceProvider
}

// NewProcessTable crea una tabla para maxProcesses procesos. spaces puede ser
// nil: en ese caso los procesos no reciben espacio de direcciones propio.
func NewProcessTable(maxProcesses int, clock Clock, spaces AddressSpaceProvider) *ProcessTable {
	return &ProcessTable{
		processes:    make(map[models.ProcessID]*models.Process),
		nextPID:      models.InitPID,
		maxProcesses: maxProcesses,
		clock:        clock,
		spaces:       spaces,
	}
}

// CreateProcess da de alta un proceso y lo deja en Ready. Si parent no es nil
// el proceso se agrega a sus hijos.
func (t *ProcessTable) CreateProcess(name string, parent *models.ProcessID, priority models.ProcessPriority) (models.ProcessID, error) {
	if priority < models.PrioritySystem || priority > models.PriorityBackground {
		return 0, fmt.Errorf("%w: prioridad %d", models.ErrInvalidArgument, priority)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.processes) >= t.maxProcesses {
		return 0, fmt.Errorf("%w: %d procesos", models.ErrProcessTableFull, len(t.processes))
	}

	var parentProcess *models.Process
	if parent != nil {
		found, ok := t.processes[*parent]
		if !ok || found.State.Kind == models.StateZombie {
			return 0, fmt.Errorf("%w: padre %d", models.ErrProcessNotFound, *parent)
		}
		parentProcess = found
	}

	var asid uint32
	if t.spaces != nil {
		created, err := t.spaces.CreateAddressSpace()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", models.ErrAddressSpaceUnavailable, err)
		}
		asid = created
	}

	pid := t.nextPID
	t.nextPID++

	context := cpumodels.NewUserProcessContext(models.UserEntryPoint, models.UserStackTop)
	if priority == models.PrioritySystem {
		context = cpumodels.NewKernelThreadContext(models.KernelEntryPoint, models.KernelStackTop)
	}

	process := &models.Process{
		PID:            pid,
		Name:           name,
		State:          models.Creating,
		Priority:       priority,
		ASID:           asid,
		Context:        context,
		CreationTimeMs: t.clock.NowMs(),
		Children:       &list.ArrayList[models.ProcessID]{},
	}
	if parentProcess != nil {
		parentPID := parentProcess.PID
		process.ParentPID = &parentPID
		parentProcess.Children.Add(pid)
	}
	t.processes[pid] = process

	slog.Info(fmt.Sprintf("## PID %d Se crea el proceso - Estado : %s", pid, process.State))
	if err := t.transition(process, models.Ready); err != nil {
		return 0, err
	}
	return pid, nil
}

// Fork crea un hijo de parent con prioridad Normal y una copia de sus registros.
// El hijo ve rax en 0.
func (t *ProcessTable) Fork(parent models.ProcessID) (models.ProcessID, error) {
	t.mu.RLock()
	parentProcess, ok := t.processes[parent]
	var name string
	var context cpumodels.CpuContext
	if ok {
		name = parentProcess.Name
		context = parentProcess.Context
	}
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", models.ErrProcessNotFound, parent)
	}

	child, err := t.CreateProcess(name, &parent, models.PriorityNormal)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if process, ok := t.processes[child]; ok {
		context.Rax = 0
		process.Context = context
	}
	return child, nil
}

func (t *ProcessTable) transition(process *models.Process, next models.ProcessState) error {
	if !process.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: PID %d de %s a %s", models.ErrInvalidStateTransition, process.PID, process.State, next)
	}
	previous := process.State
	process.State = next
	if previous.Kind == models.StateRunning && t.current != nil && *t.current == process.PID {
		t.current = nil
	}
	slog.Info(fmt.Sprintf("## (%d) Pasa del estado %s al estado %s", process.PID, previous, next))
	return nil
}

func (t *ProcessTable) lookup(pid models.ProcessID) (*models.Process, error) {
	process, ok := t.processes[pid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProcessNotFound, pid)
	}
	return process, nil
}

// SetState cambia el estado de pid validando la transición.
func (t *ProcessTable) SetState(pid models.ProcessID, state models.ProcessState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	process, err := t.lookup(pid)
	if err != nil {
		return err
	}
	return t.transition(process, state)
}

// Block pasa un proceso en ejecución a Blocked(reason).
func (t *ProcessTable) Block(pid models.ProcessID, reason models.BlockReason) error {
	return t.SetState(pid, models.Blocked(reason))
}

// Unblock devuelve a Ready un proceso bloqueado.
func (t *ProcessTable) Unblock(pid models.ProcessID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	process, err := t.lookup(pid)
	if err != nil {
		return err
	}
	if process.State.Kind != models.StateBlocked {
		return fmt.Errorf("%w: PID %d no está bloqueado (%s)", models.ErrInvalidStateTransition, pid, process.State)
	}
	return t.transition(process, models.Ready)
}

// Terminate pasa pid a Zombie con exitCode. Sus hijos se resuelven al cosecharlo.
func (t *ProcessTable) Terminate(pid models.ProcessID, exitCode int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	process, err := t.lookup(pid)
	if err != nil {
		return err
	}
	if err := t.transition(process, models.Zombie); err != nil {
		return err
	}
	process.ExitCode = &exitCode
	slog.Info(fmt.Sprintf("## PID %d Finaliza el proceso - Código de salida: %d", pid, exitCode))
	return nil
}

// Remove saca a pid de la tabla: lo quita de la lista de hijos de su padre,
// termina a sus hijos vivos con código -1 y destruye su espacio de direcciones.
func (t *ProcessTable) Remove(pid models.ProcessID) (models.ProcessInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remove(pid)
}

func (t *ProcessTable) remove(pid models.ProcessID) (models.ProcessInfo, error) {
	process, err := t.lookup(pid)
	if err != nil {
		return models.ProcessInfo{}, err
	}

	if process.ParentPID != nil {
		if parent, ok := t.processes[*process.ParentPID]; ok {
			parent.Children.RemoveWhere(func(child models.ProcessID) bool { return child == pid })
		}
	}

	const orphanExitCode int32 = -1
	process.Children.ForEach(func(childPID models.ProcessID) {
		child, ok := t.processes[childPID]
		if !ok || child.State.Kind == models.StateZombie {
			return
		}
		if err := t.transition(child, models.Zombie); err == nil {
			code := orphanExitCode
			child.ExitCode = &code
		}
	})

	if t.current != nil && *t.current == pid {
		t.current = nil
	}
	delete(t.processes, pid)

	if t.spaces != nil && process.ASID != 0 {
		if err := t.spaces.DestroyAddressSpace(process.ASID); err != nil {
			slog.Warn("No se pudo destruir el espacio de direcciones", "pid", pid, "asid", process.ASID, "error", err)
		}
	}
	slog.Debug("Proceso eliminado de la tabla", "pid", pid)
	return process.Info(), nil
}

// CleanupZombies cosecha todos los procesos Zombie, incluidos los hijos que
// quedan Zombie al cosechar a su padre. Retorna los PID eliminados en orden.
func (t *ProcessTable) CleanupZombies() []models.ProcessID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var reaped []models.ProcessID
	for {
		zombies := t.pidsWhere(func(p *models.Process) bool { return p.State.Kind == models.StateZombie })
		if len(zombies) == 0 {
			break
		}
		for _, pid := range zombies {
			if _, err := t.remove(pid); err == nil {
				reaped = append(reaped, pid)
			}
		}
	}
	if len(reaped) > 0 {
		slog.Debug("Procesos zombie cosechados", "pids", reaped)
	}
	return reaped
}

// pidsWhere retorna, ordenados, los PID que cumplen match. Requiere el lock tomado.
func (t *ProcessTable) pidsWhere(match func(*models.Process) bool) []models.ProcessID {
	pids := maps.Keys(t.processes)
	slices.Sort(pids)
	return slices.DeleteFunc(pids, func(pid models.ProcessID) bool {
		return !match(t.processes[pid])
	})
}

// SetCurrent marca a pid como el proceso en ejecución. El anterior, si seguía
// en Running, vuelve a Ready.
func (t *ProcessTable) SetCurrent(pid models.ProcessID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	process, err := t.lookup(pid)
	if err != nil {
		return err
	}
	if t.current != nil && *t.current == pid && process.State.Kind == models.StateRunning {
		return nil
	}
	if !process.State.IsRunnable() {
		return fmt.Errorf("%w: PID %d no es planificable (%s)", models.ErrInvalidStateTransition, pid, process.State)
	}

	if t.current != nil {
		if previous, ok := t.processes[*t.current]; ok && previous.State.Kind == models.StateRunning {
			if err := t.transition(previous, models.Ready); err != nil {
				return err
			}
		}
	}
	if process.State.Kind != models.StateRunning {
		if err := t.transition(process, models.Running); err != nil {
			return err
		}
	}
	process.LastScheduledMs = t.clock.NowMs()
	current := pid
	t.current = &current
	return nil
}

// ClearCurrent deja la CPU ociosa. Un proceso que seguía en Running vuelve a Ready.
func (t *ProcessTable) ClearCurrent() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return
	}
	if previous, ok := t.processes[*t.current]; ok && previous.State.Kind == models.StateRunning {
		if err := t.transition(previous, models.Ready); err != nil {
			slog.Warn("No se pudo desalojar al proceso actual", "pid", previous.PID, "error", err)
		}
	}
	t.current = nil
}

// Current retorna el proceso en ejecución.
func (t *ProcessTable) Current() (models.ProcessID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == nil {
		return 0, false
	}
	return *t.current, true
}

func (t *ProcessTable) Get(pid models.ProcessID) (models.ProcessInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	process, ok := t.processes[pid]
	if !ok {
		return models.ProcessInfo{}, false
	}
	return process.Info(), true
}

// Exists indica si pid está en la tabla y no es Zombie.
func (t *ProcessTable) Exists(pid models.ProcessID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	process, ok := t.processes[pid]
	return ok && process.State.Kind != models.StateZombie
}

func (t *ProcessTable) State(pid models.ProcessID) (models.ProcessState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	process, err := t.lookup(pid)
	if err != nil {
		return models.ProcessState{}, err
	}
	return process.State, nil
}

// Context retorna los registros guardados de pid.
func (t *ProcessTable) Context(pid models.ProcessID) (cpumodels.CpuContext, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	process, err := t.lookup(pid)
	if err != nil {
		return cpumodels.CpuContext{}, err
	}
	return process.Context, nil
}

// SaveContext guarda los registros de pid al sacarlo de la CPU.
func (t *ProcessTable) SaveContext(pid models.ProcessID, context cpumodels.CpuContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	process, err := t.lookup(pid)
	if err != nil {
		return err
	}
	process.Context = context
	return nil
}

// AddCpuTime suma ms al tiempo de CPU consumido por pid.
func (t *ProcessTable) AddCpuTime(pid models.ProcessID, ms uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	process, err := t.lookup(pid)
	if err != nil {
		return err
	}
	process.CpuTimeMs += ms
	return nil
}

func (t *ProcessTable) SetPriority(pid models.ProcessID, priority models.ProcessPriority) error {
	return t.updatePriority(pid, func(models.ProcessPriority) models.ProcessPriority { return priority })
}

// BoostPriority sube levels clases la prioridad de pid, sin pasar de System.
func (t *ProcessTable) BoostPriority(pid models.ProcessID, levels int) error {
	return t.updatePriority(pid, func(p models.ProcessPriority) models.ProcessPriority { return p.Boost(levels) })
}

// ReducePriority baja levels clases la prioridad de pid, sin pasar de Background.
func (t *ProcessTable) ReducePriority(pid models.ProcessID, levels int) error {
	return t.updatePriority(pid, func(p models.ProcessPriority) models.ProcessPriority { return p.Reduce(levels) })
}

func (t *ProcessTable) updatePriority(pid models.ProcessID, update func(models.ProcessPriority) models.ProcessPriority) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	process, err := t.lookup(pid)
	if err != nil {
		return err
	}
	previous := process.Priority
	process.Priority = update(previous)
	if previous != process.Priority {
		slog.Debug("Prioridad actualizada", "pid", pid, "anterior", previous, "nueva", process.Priority)
	}
	return nil
}

// List retorna todos los procesos ordenados por PID.
func (t *ProcessTable) List() []models.ProcessInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.infos(t.pidsWhere(func(*models.Process) bool { return true }))
}

// Runnable retorna los procesos en Ready o Running ordenados por PID.
func (t *ProcessTable) Runnable() []models.ProcessInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.infos(t.pidsWhere(func(p *models.Process) bool { return p.State.IsRunnable() }))
}

func (t *ProcessTable) infos(pids []models.ProcessID) []models.ProcessInfo {
	infos := make([]models.ProcessInfo, 0, len(pids))
	for _, pid := range pids {
		infos = append(infos, t.processes[pid].Info())
	}
	return infos
}

func (t *ProcessTable) ProcessesByState(kind models.StateKind) []models.ProcessID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.pidsWhere(func(p *models.Process) bool { return p.State.Kind == kind })
}

func (t *ProcessTable) ProcessesByPriority(priority models.ProcessPriority) []models.ProcessID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.pidsWhere(func(p *models.Process) bool { return p.Priority == priority })
}

func (t *ProcessTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.processes)
}

func (t *ProcessTable) Statistics() models.ProcessTableStatistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := models.ProcessTableStatistics{
		TotalProcesses: len(t.processes),
		MaxProcesses:   t.maxProcesses,
		ByState:        make(map[string]int),
		ByPriority:     make(map[string]int),
		NextPID:        t.nextPID,
	}
	for _, process := range t.processes {
		stats.ByState[process.State.Kind.String()]++
		stats.ByPriority[process.Priority.String()]++
	}
	if t.current != nil {
		current := *t.current
		stats.CurrentPID = &current
	}
	return stats
}
