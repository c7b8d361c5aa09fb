package services

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	cpumodels "github.com/sisoputnfrba/tp-kosh/cpu/models"
	cpuservices "github.com/sisoputnfrba/tp-kosh/cpu/services"
	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/sisoputnfrba/tp-kosh/utils/list"
)

// Scheduler elige el próximo proceso a ejecutar según el algoritmo activo y
// hace el cambio de contexto en la CPU simulada.
type Scheduler struct {
	mu          sync.Mutex
	table       *ProcessTable
	switcher    *cpuservices.ContextSwitcher
	clock       Clock
	algorithm   models.SchedulingAlgorithm
	timeSliceMs uint64

	// Proceso cuyos registros están cargados en la CPU.
	loaded *models.ProcessID
	// Round robin: último PID elegido.
	lastPID *models.ProcessID
	// Prioridades: una cola por clase, el elegido pasa al final de la suya.
	classQueues map[models.ProcessPriority]*list.ArrayList[models.ProcessID]

	sliceUsedMs     uint64
	contextSwitches uint64
	decisions       uint64
	overheadMs      uint64
}

func NewScheduler(table *ProcessTable, switcher *cpuservices.ContextSwitcher, clock Clock, algorithm models.SchedulingAlgorithm, timeSliceMs uint64) *Scheduler {
	if timeSliceMs == 0 {
		timeSliceMs = models.DefaultTimeSliceMs
	}
	return &Scheduler{
		table:       table,
		switcher:    switcher,
		clock:       clock,
		algorithm:   algorithm,
		timeSliceMs: timeSliceMs,
		classQueues: newClassQueues(),
	}
}

func newClassQueues() map[models.ProcessPriority]*list.ArrayList[models.ProcessID] {
	queues := make(map[models.ProcessPriority]*list.ArrayList[models.ProcessID], len(models.Priorities))
	for _, priority := range models.Priorities {
		queues[priority] = &list.ArrayList[models.ProcessID]{}
	}
	return queues
}

// Schedule elige el próximo proceso y lo deja como actual. Si no hay ninguno
// planificable deja la CPU ociosa y retorna false.
func (s *Scheduler) Schedule() (models.ProcessID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.schedule()
}

func (s *Scheduler) schedule() (models.ProcessID, bool) {
	start := s.clock.NowMs()
	s.decisions++
	defer func() { s.overheadMs += s.clock.NowMs() - start }()

	runnable := s.table.Runnable()

	var candidates []models.ProcessID
	switch s.algorithm {
	case models.PriorityScheduling:
		candidates = s.priorityCandidates(runnable)
	case models.CompletelyFair:
		candidates = fairCandidates(runnable)
	default:
		candidates = s.roundRobinCandidates(runnable)
	}

	// Un candidato pudo dejar de ser planificable desde la foto: se prueba el siguiente.
	for _, pid := range candidates {
		if err := s.table.SetCurrent(pid); err != nil {
			slog.Debug("Candidato descartado", "pid", pid, "error", err)
			continue
		}
		s.selected(pid)
		s.sliceUsedMs = 0
		if s.loaded == nil || *s.loaded != pid {
			s.switchTo(pid)
		}
		return pid, true
	}

	s.table.ClearCurrent()
	s.sliceUsedMs = 0
	slog.Debug("No hay procesos planificables, CPU ociosa")
	return 0, false
}

// selected actualiza el estado propio del algoritmo con el proceso elegido.
func (s *Scheduler) selected(pid models.ProcessID) {
	switch s.algorithm {
	case models.PriorityScheduling:
		for _, queue := range s.classQueues {
			if queue.RemoveWhere(func(queued models.ProcessID) bool { return queued == pid }) {
				queue.Add(pid)
				break
			}
		}
	default:
		last := pid
		s.lastPID = &last
	}
}

func (s *Scheduler) switchTo(next models.ProcessID) {
	nextContext, err := s.table.Context(next)
	if err != nil {
		slog.Warn("No se pudo cargar el contexto", "pid", next, "error", err)
		return
	}

	var saved cpumodels.CpuContext
	if s.loaded == nil {
		s.switcher.Switch(nil, nextContext)
	} else {
		s.switcher.Switch(&saved, nextContext)
		// El saliente pudo haber sido cosechado mientras no estaba en la CPU.
		if err := s.table.SaveContext(*s.loaded, saved); err != nil {
			slog.Debug("No se guardó el contexto saliente", "pid", *s.loaded, "error", err)
		}
	}

	loaded := next
	s.loaded = &loaded
	s.contextSwitches++
	slog.Debug(fmt.Sprintf("## Cambio de contexto - Algoritmo %s - PID %d", s.algorithm, next))
}

// roundRobinCandidates ordena los planificables a partir del PID siguiente al
// último elegido, dando la vuelta una vez.
func (s *Scheduler) roundRobinCandidates(runnable []models.ProcessInfo) []models.ProcessID {
	pids := make([]models.ProcessID, 0, len(runnable))
	for _, info := range runnable {
		pids = append(pids, info.PID)
	}
	if s.lastPID == nil || len(pids) == 0 {
		return pids
	}

	start, _ := slices.BinarySearch(pids, *s.lastPID+1)
	if start == len(pids) {
		return pids
	}
	return append(pids[start:], pids[:start]...)
}

// priorityCandidates sincroniza las colas de clase con los planificables y
// retorna el orden: clase más prioritaria primero y, dentro de ella, orden de cola.
func (s *Scheduler) priorityCandidates(runnable []models.ProcessInfo) []models.ProcessID {
	classOf := make(map[models.ProcessID]models.ProcessPriority, len(runnable))
	for _, info := range runnable {
		classOf[info.PID] = info.Priority
	}

	var candidates []models.ProcessID
	for _, priority := range models.Priorities {
		queue := s.classQueues[priority]
		stale := queue.FindAll(func(pid models.ProcessID) bool {
			class, ok := classOf[pid]
			return !ok || class != priority
		})
		stale.ForEach(func(pid models.ProcessID) {
			queue.RemoveWhere(func(queued models.ProcessID) bool { return queued == pid })
		})

		for _, info := range runnable {
			if info.Priority != priority {
				continue
			}
			if _, _, queued := queue.Find(func(pid models.ProcessID) bool { return pid == info.PID }); !queued {
				queue.Add(info.PID)
			}
		}
		candidates = append(candidates, queue.GetAll()...)
	}
	return candidates
}

// fairCandidates ordena por tiempo de CPU acumulado y, ante empate, por PID.
func fairCandidates(runnable []models.ProcessInfo) []models.ProcessID {
	ordered := slices.Clone(runnable)
	slices.SortStableFunc(ordered, func(a, b models.ProcessInfo) int {
		return cmp.Or(cmp.Compare(a.CpuTimeMs, b.CpuTimeMs), cmp.Compare(a.PID, b.PID))
	})
	pids := make([]models.ProcessID, 0, len(ordered))
	for _, info := range ordered {
		pids = append(pids, info.PID)
	}
	return pids
}

// TimerTick imputa elapsedMs al proceso actual y replanifica si se le terminó
// el quantum o si la CPU estaba ociosa.
func (s *Scheduler) TimerTick(elapsedMs uint64) (models.ProcessID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.table.Current()
	if !ok {
		return s.schedule()
	}
	if err := s.table.AddCpuTime(current, elapsedMs); err != nil {
		slog.Warn("No se pudo imputar tiempo de CPU", "pid", current, "error", err)
	}
	s.sliceUsedMs += elapsedMs
	if s.sliceUsedMs < s.timeSliceMs {
		return current, true
	}
	slog.Debug(fmt.Sprintf("## (%d) - Desalojado por fin de quantum", current))
	return s.schedule()
}

// SetAlgorithm cambia el algoritmo y reinicia su estado.
func (s *Scheduler) SetAlgorithm(algorithm models.SchedulingAlgorithm) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.algorithm != algorithm {
		slog.Info("Algoritmo de planificación cambiado", "anterior", s.algorithm, "nuevo", algorithm)
	}
	s.algorithm = algorithm
	s.lastPID = nil
	s.classQueues = newClassQueues()
}

func (s *Scheduler) Algorithm() models.SchedulingAlgorithm {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.algorithm
}

func (s *Scheduler) SetTimeSlice(ms uint64) error {
	if ms == 0 {
		return fmt.Errorf("%w: quantum 0", models.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeSliceMs = ms
	return nil
}

func (s *Scheduler) Statistics() models.SchedulerStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.SchedulerStatistics{
		ContextSwitches:     s.contextSwitches,
		SchedulingDecisions: s.decisions,
		OverheadMs:          s.overheadMs,
		Algorithm:           s.algorithm,
		TimeSliceMs:         s.timeSliceMs,
	}
	if current, ok := s.table.Current(); ok {
		stats.CurrentPID = &current
	}
	return stats
}
