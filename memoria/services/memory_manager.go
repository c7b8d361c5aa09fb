package services

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	cpumodels "github.com/sisoputnfrba/tp-kosh/cpu/models"
	cpuservices "github.com/sisoputnfrba/tp-kosh/cpu/services"
	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"golang.org/x/exp/maps"
)

// KernelASID es el espacio de direcciones del kernel.
const KernelASID uint32 = 0

type pageOwner struct {
	space *AddressSpace
	virt  models.VirtualAddress
}

// MemoryManager reúne la RAM simulada, el frame allocator, el heap, la memoria
// virtual y el swap. Es el único punto de entrada que usa el kernel.
type MemoryManager struct {
	config      models.Config
	phys        *PhysicalMemory
	frames      *FrameAllocator
	heap        *KernelHeap
	tlb         *cpuservices.TLB
	kernelSpace *AddressSpace
	swap        *SwapManager
	swapConfigs *SwapConfigManager
	swapper     *PageSwapper

	mu       sync.RWMutex
	spaces   map[uint32]*AddressSpace
	nextASID uint32

	ownersMu sync.Mutex
	owners   map[models.PageFrame]pageOwner
}

// MemorySnapshot es el estado de todos los subsistemas de memoria.
type MemorySnapshot struct {
	Frames        models.MemoryStats     `json:"frames"`
	Heap          models.AllocationStats `json:"heap"`
	Swap          models.SwapStats       `json:"swap"`
	Swapper       models.SwapperStats    `json:"swapper"`
	TLB           cpumodels.TLBStats     `json:"tlb"`
	AddressSpaces int                    `json:"address_spaces"`
}

// NewMemoryManager inicializa la memoria según config: reserva la RAM, arma el
// espacio del kernel con sus regiones, mapea el heap y activa el swap configurado.
// Un dispositivo de swap que no se puede activar sólo se registra en el log.
func NewMemoryManager(config models.Config) (*MemoryManager, error) {
	algorithm, err := models.ParseReplacementAlgorithm(config.SwapAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	phys, err := NewPhysicalMemory(config.MemorySize, config.UseMmap)
	if err != nil {
		return nil, err
	}
	frames, err := NewFrameAllocator(phys, nil)
	if err != nil {
		phys.Close()
		return nil, err
	}

	tlb := cpuservices.NewTLB(config.TLBEntries, config.TLBReplacement)
	kernelSpace, err := NewAddressSpace(KernelASID, phys, frames, tlb)
	if err != nil {
		phys.Close()
		return nil, err
	}

	heap, err := NewKernelHeap(phys, frames, config.HeapPages)
	if err != nil {
		phys.Close()
		return nil, err
	}

	threshold := config.MaxResidentPages
	if threshold <= 0 {
		threshold = frames.Stats().TotalPages
	}

	swap := NewSwapManager()
	manager := &MemoryManager{
		config:      config,
		phys:        phys,
		frames:      frames,
		heap:        heap,
		tlb:         tlb,
		kernelSpace: kernelSpace,
		swap:        swap,
		swapConfigs: NewSwapConfigManager(swap),
		swapper:     NewPageSwapper(swap, phys, algorithm, threshold),
		spaces:      map[uint32]*AddressSpace{KernelASID: kernelSpace},
		nextASID:    KernelASID + 1,
		owners:      make(map[models.PageFrame]pageOwner),
	}
	manager.swapper.SetListener(manager)

	if err := manager.setupKernelLayout(); err != nil {
		manager.Close()
		return nil, err
	}

	for _, swapConfig := range config.SwapDevices {
		if _, err := manager.swapConfigs.AddConfig(swapConfig); err != nil {
			slog.Warn("Configuración de swap ignorada", "path", swapConfig.Path, "error", err)
		}
	}
	if _, err := manager.swapConfigs.InitializeAll(); err != nil {
		slog.Warn("Algunos dispositivos de swap no se activaron", "error", err)
	}

	stats := frames.Stats()
	slog.Info(fmt.Sprintf("## Memoria inicializada - Total: %d MB - Libre: %d MB - Heap: %d páginas",
		stats.TotalMB(), stats.FreeMB(), config.HeapPages))
	return manager, nil
}

// setupKernelLayout registra las regiones de código, datos y heap del kernel
// y mapea el heap sobre sus frames físicos.
func (m *MemoryManager) setupKernelLayout() error {
	regions := []models.VirtualMemoryRegion{
		{Start: models.KernelCodeStart, Size: models.KernelCodeSize, Protection: models.ProtReadExecute, Name: "kernel_code"},
		{Start: models.KernelDataStart, Size: models.KernelDataSize, Protection: models.ProtReadWrite, Name: "kernel_data"},
		{Start: models.KernelHeapStart, Size: models.KernelHeapSize, Protection: models.ProtReadWrite, Name: "kernel_heap"},
	}
	for _, region := range regions {
		if err := m.kernelSpace.AddRegion(region); err != nil {
			return err
		}
	}
	return m.kernelSpace.MapRange(models.KernelHeapStart, m.heap.base, uint64(len(m.heap.mem)), models.ProtReadWrite)
}

func (m *MemoryManager) Physical() *PhysicalMemory       { return m.phys }
func (m *MemoryManager) Frames() *FrameAllocator         { return m.frames }
func (m *MemoryManager) Heap() *KernelHeap               { return m.heap }
func (m *MemoryManager) KernelSpace() *AddressSpace      { return m.kernelSpace }
func (m *MemoryManager) Swap() *SwapManager              { return m.swap }
func (m *MemoryManager) SwapConfigs() *SwapConfigManager { return m.swapConfigs }
func (m *MemoryManager) Swapper() *PageSwapper           { return m.swapper }
func (m *MemoryManager) TLB() *cpuservices.TLB           { return m.tlb }

// CreateAddressSpace crea un espacio de direcciones vacío y retorna su ASID.
func (m *MemoryManager) CreateAddressSpace() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	asid := m.nextASID
	space, err := NewAddressSpace(asid, m.phys, m.frames, m.tlb)
	if err != nil {
		return 0, err
	}
	m.spaces[asid] = space
	m.nextASID++
	slog.Debug("Espacio de direcciones creado", "asid", asid)
	return asid, nil
}

// DestroyAddressSpace libera los frames de datos, los slots de swap y las tablas
// del espacio asid. El espacio del kernel no se puede destruir.
func (m *MemoryManager) DestroyAddressSpace(asid uint32) error {
	if asid == KernelASID {
		return fmt.Errorf("%w: el espacio del kernel no se destruye", models.ErrInvalidAddress)
	}

	m.mu.Lock()
	space, ok := m.spaces[asid]
	delete(m.spaces, asid)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrAddressSpaceNotFound, asid)
	}

	for _, mapping := range space.Mappings() {
		if mapping.Swapped {
			m.discardEntry(mapping.SwapEntry)
		} else {
			m.releaseFrame(mapping.Frame)
		}
	}
	space.Destroy()
	slog.Debug("Espacio de direcciones destruido", "asid", asid)
	return nil
}

// AddressSpace retorna el espacio asid.
func (m *MemoryManager) AddressSpace(asid uint32) (*AddressSpace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	space, ok := m.spaces[asid]
	return space, ok
}

// AddressSpaceIDs retorna los ASID existentes ordenados.
func (m *MemoryManager) AddressSpaceIDs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := maps.Keys(m.spaces)
	slices.Sort(ids)
	return ids
}

func (m *MemoryManager) space(asid uint32) (*AddressSpace, error) {
	space, ok := m.AddressSpace(asid)
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrAddressSpaceNotFound, asid)
	}
	return space, nil
}

// AllocatePages reserva count frames y los mapea a partir de virt. Si no quedan
// frames libres desaloja páginas a swap. Si un mapeo falla se deshace lo hecho
// en esta llamada. Al final se controla la presión de memoria.
func (m *MemoryManager) AllocatePages(asid uint32, virt models.VirtualAddress, count int, prot models.MemoryProtection) error {
	if count <= 0 {
		return fmt.Errorf("%w: cantidad de páginas %d", models.ErrInvalidLayout, count)
	}
	space, err := m.space(asid)
	if err != nil {
		return err
	}

	start := virt.AlignDown(models.PageSize)
	for i := 0; i < count; i++ {
		page := start + models.VirtualAddress(i*models.PageSize)
		frame, err := m.allocateFrame()
		if err != nil {
			m.rollback(asid, start, i)
			return fmt.Errorf("%w: página %s del ASID %d", err, page, asid)
		}
		if err := space.MapPage(page, frame, prot); err != nil {
			m.frames.DeallocateFrame(frame)
			m.rollback(asid, start, i)
			return err
		}

		m.setOwner(frame, space, page)
		m.swapper.AccessPage(page, frame, false)
	}

	if _, err := m.swapper.CheckMemoryPressure(); err != nil {
		slog.Warn("No se pudo aliviar la presión de memoria", "error", err)
	}
	return nil
}

// allocateFrame reserva un frame. Si no hay, desaloja páginas de a una hasta
// conseguirlo o hasta que no quede nada que desalojar.
func (m *MemoryManager) allocateFrame() (models.PageFrame, error) {
	for {
		if frame, ok := m.frames.AllocateFrame(); ok {
			return frame, nil
		}
		evicted, err := m.swapper.SwapOutPages(1)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", models.ErrOutOfMemory, err)
		}
		if evicted == 0 {
			return 0, models.ErrOutOfMemory
		}
	}
}

func (m *MemoryManager) setOwner(frame models.PageFrame, space *AddressSpace, page models.VirtualAddress) {
	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()

	m.owners[frame] = pageOwner{space: space, virt: page}
}

func (m *MemoryManager) rollback(asid uint32, start models.VirtualAddress, count int) {
	if count == 0 {
		return
	}
	if err := m.FreePages(asid, start, count); err != nil {
		slog.Error("No se pudo deshacer la asignación", "asid", asid, "error", err)
	}
}

// FreePages desmapea count páginas a partir de virt y libera sus frames y slots.
func (m *MemoryManager) FreePages(asid uint32, virt models.VirtualAddress, count int) error {
	space, err := m.space(asid)
	if err != nil {
		return err
	}

	start := virt.AlignDown(models.PageSize)
	for i := 0; i < count; i++ {
		page := start + models.VirtualAddress(i*models.PageSize)
		entry, ok := space.Entry(page)
		if !ok {
			return &models.UnmapError{Addr: page, Err: models.ErrPageNotMapped}
		}
		if _, err := space.UnmapPage(page); err != nil {
			return err
		}
		if entry.IsSwapped() {
			m.discardEntry(entry.SwapEntry())
		} else {
			m.releaseFrame(entry.Frame())
		}
	}
	return nil
}

func (m *MemoryManager) discardEntry(entry models.SwapEntry) {
	if err := m.swap.DiscardEntry(entry); err != nil {
		slog.Warn("Slot de swap ya liberado", "entrada", entry, "error", err)
	}
}

func (m *MemoryManager) releaseFrame(frame models.PageFrame) {
	m.swapper.Forget(frame)

	m.ownersMu.Lock()
	delete(m.owners, frame)
	m.ownersMu.Unlock()

	m.frames.DeallocateFrame(frame)
}

// Access traduce virt para una lectura o escritura. Si la página está en swap
// atiende el fallo de página primero. Registra un único acceso para el reemplazo.
func (m *MemoryManager) Access(asid uint32, virt models.VirtualAddress, isWrite bool) (uint64, error) {
	space, err := m.space(asid)
	if err != nil {
		return 0, err
	}

	entry, ok := space.Entry(virt)
	if !ok {
		return 0, &models.MapError{Addr: virt, Err: models.ErrPageNotMapped}
	}
	if isWrite && !entry.Flags().Has(models.FlagWritable) {
		return 0, fmt.Errorf("%w: escritura en %s", models.ErrAccessViolation, virt)
	}

	if !entry.IsSwapped() {
		physical, ok := space.Translate(virt)
		if !ok {
			return 0, &models.MapError{Addr: virt, Err: models.ErrPageNotMapped}
		}
		m.swapper.AccessPage(virt.AlignDown(models.PageSize), models.FrameContaining(physical), isWrite)
		return physical, nil
	}

	if err := m.faultIn(space, virt.AlignDown(models.PageSize), entry, isWrite); err != nil {
		return 0, err
	}
	if _, err := m.swapper.CheckMemoryPressure(); err != nil {
		slog.Warn("No se pudo aliviar la presión de memoria", "error", err)
	}
	// La página recién traída pudo volver a salir si el umbral es muy bajo.
	physical, ok := space.Translate(virt)
	if !ok {
		return 0, &models.MapError{Addr: virt, Err: models.ErrPageNotMapped}
	}
	return physical, nil
}

// HandlePageFault trae de swap la página de virt a un frame nuevo y la vuelve
// a marcar presente.
func (m *MemoryManager) HandlePageFault(asid uint32, virt models.VirtualAddress) error {
	space, err := m.space(asid)
	if err != nil {
		return err
	}

	page := virt.AlignDown(models.PageSize)
	entry, ok := space.Entry(page)
	if !ok {
		return &models.MapError{Addr: page, Err: models.ErrPageNotMapped}
	}
	if entry.IsPresent() {
		return nil
	}
	return m.faultIn(space, page, entry, false)
}

func (m *MemoryManager) faultIn(space *AddressSpace, page models.VirtualAddress, entry models.PageTableEntry, isWrite bool) error {
	frame, err := m.allocateFrame()
	if err != nil {
		return err
	}
	// El dueño se registra antes de que el swapper pueda elegir el frame.
	m.setOwner(frame, space, page)

	if err := m.swapper.HandlePageFault(page, entry.SwapEntry(), frame, isWrite); err != nil {
		m.releaseFrame(frame)
		return err
	}
	if err := space.MarkResident(page, frame); err != nil {
		m.releaseFrame(frame)
		return err
	}
	return nil
}

// Read copia length bytes desde virt, atravesando páginas si hace falta.
func (m *MemoryManager) Read(asid uint32, virt models.VirtualAddress, length int) ([]byte, error) {
	data := make([]byte, 0, length)
	err := m.forEachChunk(asid, virt, length, false, func(chunk []byte) {
		data = append(data, chunk...)
	})
	return data, err
}

// Write copia data a partir de virt.
func (m *MemoryManager) Write(asid uint32, virt models.VirtualAddress, data []byte) error {
	written := 0
	return m.forEachChunk(asid, virt, len(data), true, func(chunk []byte) {
		written += copy(chunk, data[written:])
	})
}

func (m *MemoryManager) forEachChunk(asid uint32, virt models.VirtualAddress, length int, isWrite bool, apply func([]byte)) error {
	for done := 0; done < length; {
		current := virt + models.VirtualAddress(done)
		physical, err := m.Access(asid, current, isWrite)
		if err != nil {
			return err
		}
		size := min(length-done, int(models.PageSize-current.PageOffset()))
		chunk, err := m.phys.Slice(physical, uint64(size))
		if err != nil {
			return err
		}
		apply(chunk)
		done += size
	}
	return nil
}

// PageEvicted guarda entry en la entrada que mapeaba la página desalojada y
// devuelve su frame al allocator, borrado.
func (m *MemoryManager) PageEvicted(info models.PageAccessInfo, entry models.SwapEntry) error {
	m.ownersMu.Lock()
	owner, ok := m.owners[info.Frame]
	m.ownersMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: frame %d sin dueño", models.ErrPageNotMapped, info.Frame)
	}
	if err := owner.space.MarkSwapped(owner.virt, info.Frame, entry); err != nil {
		return err
	}

	m.ownersMu.Lock()
	delete(m.owners, info.Frame)
	m.ownersMu.Unlock()
	clear(m.phys.Frame(info.Frame))
	m.frames.DeallocateFrame(info.Frame)
	return nil
}

// CheckMemoryPressure desaloja páginas si hay más residentes que el umbral.
func (m *MemoryManager) CheckMemoryPressure() (int, error) {
	return m.swapper.CheckMemoryPressure()
}

// SetReplacementAlgorithm cambia el algoritmo de reemplazo por nombre.
func (m *MemoryManager) SetReplacementAlgorithm(name string) error {
	algorithm, err := models.ParseReplacementAlgorithm(name)
	if err != nil {
		return err
	}
	m.swapper.SetAlgorithm(algorithm)
	return nil
}

// AddSwapDevice registra config y, si está habilitada, activa su dispositivo.
// Retorna el índice de la configuración.
func (m *MemoryManager) AddSwapDevice(config models.SwapConfig) (int, error) {
	index, err := m.swapConfigs.AddConfig(config)
	if err != nil {
		return 0, err
	}
	if !config.Enabled {
		return index, nil
	}
	if err := m.swapConfigs.EnableConfig(index); err != nil {
		if _, removeErr := m.swapConfigs.RemoveConfig(index); removeErr != nil {
			slog.Error("No se pudo descartar la configuración de swap", "index", index, "error", removeErr)
		}
		return 0, err
	}
	slog.Info("Dispositivo de swap agregado", "path", config.Path, "type", config.Type, "index", index)
	return index, nil
}

// RemoveSwapDevice retira la configuración index y su dispositivo. Falla si el
// dispositivo todavía guarda páginas.
func (m *MemoryManager) RemoveSwapDevice(index int) error {
	config, err := m.swapConfigs.RemoveConfig(index)
	if err != nil {
		return err
	}
	slog.Info("Dispositivo de swap retirado", "path", config.Path, "index", index)
	return nil
}

// Stats retorna el estado de todos los subsistemas.
func (m *MemoryManager) Stats() MemorySnapshot {
	m.mu.RLock()
	spaces := len(m.spaces)
	m.mu.RUnlock()

	return MemorySnapshot{
		Frames:        m.frames.Stats(),
		Heap:          m.heap.Stats(),
		Swap:          m.swap.Stats(),
		Swapper:       m.swapper.Stats(),
		TLB:           m.tlb.Stats(),
		AddressSpaces: spaces,
	}
}

// Close cierra los dispositivos de swap y libera la RAM.
func (m *MemoryManager) Close() error {
	return errors.Join(m.swap.Close(), m.phys.Close())
}
