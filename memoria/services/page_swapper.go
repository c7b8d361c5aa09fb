package services

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
)

// FrameStore da acceso al contenido de los frames físicos.
type FrameStore interface {
	ReadFrame(frame models.PageFrame, buffer []byte) error
	WriteFrame(frame models.PageFrame, data []byte) error
}

// EvictionListener se entera de cada página desalojada. Tiene que guardar entry
// en la tabla de páginas que la mapeaba y liberar el frame. Si falla, la página
// sigue residente y el slot se descarta.
type EvictionListener interface {
	PageEvicted(info models.PageAccessInfo, entry models.SwapEntry) error
}

// PageSwapper registra los accesos a páginas residentes, elige víctimas con el
// algoritmo activo y las manda a swap cuando se supera el umbral de presión.
// Todos los algoritmos se mantienen al día, por lo que cambiar de algoritmo no
// pierde historia.
type PageSwapper struct {
	mu        sync.Mutex
	algorithm models.ReplacementAlgorithm
	replacers map[models.ReplacementAlgorithm]Replacer
	pageInfo  map[models.PageFrame]*models.PageAccessInfo
	timestamp uint64
	threshold int
	stats     models.SwapperStats
	swap      *SwapManager
	store     FrameStore
	listener  EvictionListener
}

// NewPageSwapper crea el swapper. threshold es la cantidad máxima de páginas
// residentes antes de desalojar.
func NewPageSwapper(swap *SwapManager, store FrameStore, algorithm models.ReplacementAlgorithm, threshold int) *PageSwapper {
	pageInfo := make(map[models.PageFrame]*models.PageAccessInfo)
	return &PageSwapper{
		algorithm: algorithm,
		replacers: map[models.ReplacementAlgorithm]Replacer{
			models.ReplacementLRU:   NewLRUReplacer(),
			models.ReplacementFIFO:  NewFIFOReplacer(),
			models.ReplacementClock: NewClockReplacer(),
			models.ReplacementLFU:   NewLFUReplacer(pageInfo),
		},
		pageInfo:  pageInfo,
		threshold: threshold,
		swap:      swap,
		store:     store,
	}
}

// SetListener registra quién recibe las páginas desalojadas.
func (s *PageSwapper) SetListener(listener EvictionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = listener
}

// SetAlgorithm cambia la política de reemplazo. Sólo cuenta como cambio si es distinta.
func (s *PageSwapper) SetAlgorithm(algorithm models.ReplacementAlgorithm) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if algorithm == s.algorithm {
		return
	}
	slog.Info(fmt.Sprintf("## Algoritmo de reemplazo: %s -> %s", s.algorithm, algorithm))
	s.algorithm = algorithm
	s.stats.AlgorithmSwitches++
}

func (s *PageSwapper) Algorithm() models.ReplacementAlgorithm {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.algorithm
}

// SetMemoryPressureThreshold cambia la cantidad máxima de páginas residentes.
func (s *PageSwapper) SetMemoryPressureThreshold(threshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threshold = threshold
}

// AccessPage registra un acceso a la página residente en frame.
func (s *PageSwapper) AccessPage(virt models.VirtualAddress, frame models.PageFrame, isWrite bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access(virt, frame, isWrite)
}

func (s *PageSwapper) access(virt models.VirtualAddress, frame models.PageFrame, isWrite bool) {
	s.timestamp++

	info, ok := s.pageInfo[frame]
	if !ok {
		info = &models.PageAccessInfo{Virtual: virt, Frame: frame}
		s.pageInfo[frame] = info
	}
	info.Virtual = virt
	info.UpdateAccess(s.timestamp, isWrite)

	for _, replacer := range s.replacers {
		replacer.Access(frame)
	}
}

// HandlePageFault trae la página entry desde swap al frame recién asignado y
// registra el acceso que provocó el fallo.
func (s *PageSwapper) HandlePageFault(virt models.VirtualAddress, entry models.SwapEntry, frame models.PageFrame, isWrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.PageFaults++
	buffer := make([]byte, models.PageSize)
	if err := s.swap.SwapInEntry(entry, buffer); err != nil {
		return err
	}
	if err := s.store.WriteFrame(frame, buffer); err != nil {
		return err
	}

	s.stats.PagesSwappedIn++
	s.access(virt, frame, isWrite)
	slog.Debug("Page fault resuelto desde swap", "virtual", virt, "entrada", entry, "frame", frame)
	return nil
}

// CheckMemoryPressure desaloja las páginas que sobran por encima del umbral.
func (s *PageSwapper) CheckMemoryPressure() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.pageInfo) - s.threshold
	if excess <= 0 {
		return 0, nil
	}
	return s.swapOut(excess)
}

// SwapOutPages desaloja hasta count páginas. Ante el primer error se detiene y
// retorna cuántas alcanzó a desalojar junto con el error.
func (s *PageSwapper) SwapOutPages(count int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.swapOut(count)
}

func (s *PageSwapper) swapOut(count int) (int, error) {
	swapped := 0
	buffer := make([]byte, models.PageSize)

	for swapped < count {
		victim, ok := s.replacers[s.algorithm].Victim()
		if !ok {
			break
		}
		info, tracked := s.pageInfo[victim]
		if !tracked {
			s.forget(victim)
			continue
		}

		if err := s.store.ReadFrame(victim, buffer); err != nil {
			return swapped, err
		}
		if _, err := s.swap.SwapOutPage(victim, buffer); err != nil {
			slog.Warn("No se pudo desalojar la página", "frame", victim, "error", err)
			return swapped, err
		}
		entry, err := s.swap.Detach(victim)
		if err != nil {
			if discardErr := s.swap.DiscardPage(victim); discardErr != nil {
				slog.Error("No se pudo liberar el slot", "frame", victim, "error", discardErr)
			}
			return swapped, err
		}
		s.forget(victim)

		if s.listener != nil {
			if err := s.listener.PageEvicted(*info, entry); err != nil {
				slog.Warn("La página desalojada no tenía mapeo, sigue residente", "frame", victim, "error", err)
				if discardErr := s.swap.DiscardEntry(entry); discardErr != nil {
					slog.Error("No se pudo liberar el slot", "entrada", entry, "error", discardErr)
				}
				continue
			}
		}

		slog.Info(fmt.Sprintf("## Página desalojada (%s) - Virtual: %s - Frame: %d - Entrada: %d", s.algorithm, info.Virtual, victim, entry))
		s.stats.PagesSwappedOut++
		swapped++
	}
	return swapped, nil
}

// Forget deja de seguir la página, por ejemplo porque se desmapeó.
func (s *PageSwapper) Forget(frame models.PageFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forget(frame)
}

func (s *PageSwapper) forget(frame models.PageFrame) {
	for _, replacer := range s.replacers {
		replacer.Remove(frame)
	}
	delete(s.pageInfo, frame)
}

// PageInfo retorna la información de acceso de una página residente.
func (s *PageSwapper) PageInfo(frame models.PageFrame) (models.PageAccessInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.pageInfo[frame]
	if !ok {
		return models.PageAccessInfo{}, false
	}
	return *info, true
}

// ResidentCount retorna la cantidad de páginas residentes seguidas.
func (s *PageSwapper) ResidentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pageInfo)
}

// Victim retorna la próxima víctima del algoritmo activo sin desalojarla ni
// tocar el estado del algoritmo.
func (s *PageSwapper) Victim() (models.PageFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replacers[s.algorithm].Peek()
}

func (s *PageSwapper) Stats() models.SwapperStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Algorithm = s.algorithm.String()
	stats.ResidentPages = len(s.pageInfo)
	stats.PressureThreshold = s.threshold
	return stats
}
