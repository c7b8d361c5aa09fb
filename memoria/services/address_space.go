package services

import (
	"fmt"
	"log/slog"
	"sync"

	cpuservices "github.com/sisoputnfrba/tp-kosh/cpu/services"
	"github.com/sisoputnfrba/tp-kosh/memoria/models"
)

const pageTableLevels = 4

// AddressSpace es un espacio de direcciones con tablas de páginas de 4 niveles
// guardadas en frames de la RAM simulada. Cada tabla tiene 512 entradas de 64 bits.
type AddressSpace struct {
	mu      sync.Mutex
	asid    uint32
	phys    *PhysicalMemory
	frames  *FrameAllocator
	tlb     *cpuservices.TLB
	root    models.PageFrame
	tables  []models.PageFrame
	regions []models.VirtualMemoryRegion
}

// NewAddressSpace reserva la tabla raíz (PML4) y retorna el espacio vacío.
func NewAddressSpace(asid uint32, phys *PhysicalMemory, frames *FrameAllocator, tlb *cpuservices.TLB) (*AddressSpace, error) {
	root, ok := frames.AllocateFrame()
	if !ok {
		return nil, fmt.Errorf("%w: tabla raíz del ASID %d", models.ErrFrameAllocationFailed, asid)
	}
	return &AddressSpace{
		asid:   asid,
		phys:   phys,
		frames: frames,
		tlb:    tlb,
		root:   root,
		tables: []models.PageFrame{root},
	}, nil
}

func (as *AddressSpace) ASID() uint32 {
	return as.asid
}

// Root retorna el frame de la tabla de nivel 4, lo que se cargaría en CR3.
func (as *AddressSpace) Root() models.PageFrame {
	return as.root
}

// MapPage mapea la página que contiene virt al frame con los permisos dados.
//
// Ejemplo:
//
//	frame, _ := frames.AllocateFrame()
//	err := space.MapPage(0x400000, frame, models.ProtUserRW)
func (as *AddressSpace) MapPage(virt models.VirtualAddress, frame models.PageFrame, prot models.MemoryProtection) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.mapPage(virt.AlignDown(models.PageSize), frame, prot)
}

func (as *AddressSpace) mapPage(page models.VirtualAddress, frame models.PageFrame, prot models.MemoryProtection) error {
	if !page.IsCanonical() || as.phys.Frame(frame) == nil {
		return &models.MapError{Addr: page, Err: models.ErrInvalidAddress}
	}

	entryAddr, err := as.walk(page, true, prot.UserAccessible())
	if err != nil {
		return &models.MapError{Addr: page, Err: err}
	}

	entry := models.PageTableEntry(as.phys.ReadU64(entryAddr))
	if !entry.IsUnused() {
		return &models.MapError{Addr: page, Err: models.ErrPageAlreadyMapped}
	}

	as.phys.WriteU64(entryAddr, uint64(models.NewPageTableEntry(frame, prot.PageTableFlags())))
	as.tlb.Flush(as.asid, page.PageNumber())
	return nil
}

// UnmapPage elimina el mapeo de la página que contiene virt y retorna el frame
// que tenía asignado, o 0 si estaba en swap. Ni el frame ni el slot se liberan.
func (as *AddressSpace) UnmapPage(virt models.VirtualAddress) (models.PageFrame, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.unmapPage(virt.AlignDown(models.PageSize))
}

func (as *AddressSpace) unmapPage(page models.VirtualAddress) (models.PageFrame, error) {
	if !page.IsCanonical() {
		return 0, &models.UnmapError{Addr: page, Err: models.ErrInvalidAddress}
	}
	entryAddr, err := as.walk(page, false, false)
	if err != nil {
		return 0, &models.UnmapError{Addr: page, Err: err}
	}

	entry := models.PageTableEntry(as.phys.ReadU64(entryAddr))
	if entry.IsUnused() {
		return 0, &models.UnmapError{Addr: page, Err: models.ErrPageNotMapped}
	}

	as.phys.WriteU64(entryAddr, 0)
	as.tlb.Flush(as.asid, page.PageNumber())
	if entry.IsSwapped() {
		return 0, nil
	}
	return entry.Frame(), nil
}

// MapRange mapea size bytes a partir de virtStart sobre los frames contiguos que
// empiezan en physStart. Si falla a mitad de camino las páginas ya mapeadas quedan.
func (as *AddressSpace) MapRange(virtStart models.VirtualAddress, physStart uint64, size uint64, prot models.MemoryProtection) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	page := virtStart.AlignDown(models.PageSize)
	frame := models.FrameContaining(physStart)
	for i := uint64(0); i < models.BytesToPages(size); i++ {
		offset := models.VirtualAddress(i * models.PageSize)
		if err := as.mapPage(page+offset, frame+models.PageFrame(i), prot); err != nil {
			return err
		}
	}
	return nil
}

// UnmapRange desmapea size bytes a partir de virtStart. Se detiene en el primer error.
func (as *AddressSpace) UnmapRange(virtStart models.VirtualAddress, size uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	page := virtStart.AlignDown(models.PageSize)
	for i := uint64(0); i < models.BytesToPages(size); i++ {
		if _, err := as.unmapPage(page + models.VirtualAddress(i*models.PageSize)); err != nil {
			return err
		}
	}
	return nil
}

// Translate traduce virt a dirección física. Consulta la TLB antes de recorrer las tablas.
func (as *AddressSpace) Translate(virt models.VirtualAddress) (uint64, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !virt.IsCanonical() {
		return 0, false
	}
	if frame, _, ok := as.tlb.Lookup(as.asid, virt.PageNumber()); ok {
		return models.PageFrame(frame).Address() + virt.PageOffset(), true
	}

	entry, ok := as.entry(virt)
	if !ok || !entry.IsPresent() {
		return 0, false
	}
	as.tlb.Insert(as.asid, virt.PageNumber(), uint64(entry.Frame()), uint64(entry.Flags()))
	return entry.Frame().Address() + virt.PageOffset(), true
}

// IsMapped indica si la página de virt está presente.
func (as *AddressSpace) IsMapped(virt models.VirtualAddress) bool {
	_, ok := as.Translate(virt)
	return ok
}

// Entry retorna la entrada de la tabla de nivel 1 de virt, presente o en swap.
func (as *AddressSpace) Entry(virt models.VirtualAddress) (models.PageTableEntry, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()

	entry, ok := as.entry(virt)
	if !ok || entry.IsUnused() {
		return 0, false
	}
	return entry, true
}

// MarkSwapped reemplaza el frame de la página por entry y la deja no presente.
// Falla si la página no está presente sobre frame.
func (as *AddressSpace) MarkSwapped(virt models.VirtualAddress, frame models.PageFrame, entry models.SwapEntry) error {
	return as.updateEntry(virt, func(current models.PageTableEntry) (models.PageTableEntry, error) {
		if !current.IsPresent() || current.Frame() != frame {
			return 0, models.ErrPageNotMapped
		}
		return models.NewSwappedEntry(entry, current.Flags()), nil
	})
}

// MarkResident vuelve a mapear sobre frame una página que estaba en swap.
func (as *AddressSpace) MarkResident(virt models.VirtualAddress, frame models.PageFrame) error {
	return as.updateEntry(virt, func(current models.PageTableEntry) (models.PageTableEntry, error) {
		if !current.IsSwapped() {
			return 0, models.ErrPageNotMapped
		}
		flags := current.Flags()&^models.FlagSwapped | models.FlagPresent
		return models.NewPageTableEntry(frame, flags), nil
	})
}

func (as *AddressSpace) updateEntry(virt models.VirtualAddress, update func(models.PageTableEntry) (models.PageTableEntry, error)) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	page := virt.AlignDown(models.PageSize)
	entryAddr, err := as.walk(page, false, false)
	if err != nil {
		return &models.UnmapError{Addr: page, Err: err}
	}
	entry, err := update(models.PageTableEntry(as.phys.ReadU64(entryAddr)))
	if err != nil {
		return &models.UnmapError{Addr: page, Err: err}
	}
	as.phys.WriteU64(entryAddr, uint64(entry))
	as.tlb.Flush(as.asid, page.PageNumber())
	return nil
}

// AddRegion registra una región. Falla si se superpone con otra.
func (as *AddressSpace) AddRegion(region models.VirtualMemoryRegion) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if region.Size == 0 || !region.Start.IsCanonical() {
		return fmt.Errorf("%w: región %s", models.ErrInvalidAddress, region.Name)
	}
	for _, existing := range as.regions {
		if existing.Overlaps(region) {
			return fmt.Errorf("%w: %s y %s", models.ErrRegionOverlap, region.Name, existing.Name)
		}
	}
	as.regions = append(as.regions, region)
	slog.Debug("Región agregada", "asid", as.asid, "nombre", region.Name, "inicio", region.Start, "bytes", region.Size)
	return nil
}

// FindRegion retorna la región que contiene virt.
func (as *AddressSpace) FindRegion(virt models.VirtualAddress) (models.VirtualMemoryRegion, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()

	for _, region := range as.regions {
		if region.Contains(virt) {
			return region, true
		}
	}
	return models.VirtualMemoryRegion{}, false
}

// Regions retorna una copia de las regiones registradas.
func (as *AddressSpace) Regions() []models.VirtualMemoryRegion {
	as.mu.Lock()
	defer as.mu.Unlock()

	return append([]models.VirtualMemoryRegion(nil), as.regions...)
}

// Mappings recorre las tablas y retorna las páginas mapeadas, presentes o en swap.
func (as *AddressSpace) Mappings() []models.Mapping {
	as.mu.Lock()
	defer as.mu.Unlock()

	var mappings []models.Mapping
	as.collect(as.root, pageTableLevels, 0, &mappings)
	return mappings
}

func (as *AddressSpace) collect(table models.PageFrame, level int, base uint64, mappings *[]models.Mapping) {
	for index := uint64(0); index < models.EntriesPerTable; index++ {
		entry := models.PageTableEntry(as.phys.ReadU64(table.Address() + index*8))
		if entry.IsUnused() {
			continue
		}
		virt := base | index<<(models.PageShift+9*uint(level-1))
		if level == 1 {
			mapping := models.Mapping{
				Virtual:    models.VirtualAddress(signExtend(virt)),
				Protection: entry.Flags().Protection(),
			}
			if entry.IsSwapped() {
				mapping.Swapped = true
				mapping.SwapEntry = entry.SwapEntry()
			} else {
				mapping.Frame = entry.Frame()
			}
			*mappings = append(*mappings, mapping)
			continue
		}
		as.collect(entry.Frame(), level-1, virt, mappings)
	}
}

// TableFrames retorna la cantidad de frames usados por las tablas de páginas.
func (as *AddressSpace) TableFrames() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return len(as.tables)
}

// Destroy libera los frames de las tablas e invalida la TLB del espacio.
// Los frames de datos pertenecen a quien los mapeó.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()

	for _, table := range as.tables {
		as.frames.DeallocateFrame(table)
	}
	as.tables = nil
	as.regions = nil
	as.tlb.FlushAddressSpace(as.asid)
}

// entry lee la entrada de nivel 1 sin crear tablas intermedias.
func (as *AddressSpace) entry(virt models.VirtualAddress) (models.PageTableEntry, bool) {
	entryAddr, err := as.walk(virt.AlignDown(models.PageSize), false, false)
	if err != nil {
		return 0, false
	}
	return models.PageTableEntry(as.phys.ReadU64(entryAddr)), true
}

// walk recorre los niveles 4 a 2 y retorna la dirección física de la entrada de
// nivel 1. Con create reserva las tablas intermedias que falten.
func (as *AddressSpace) walk(page models.VirtualAddress, create bool, user bool) (uint64, error) {
	table := as.root
	for level := pageTableLevels; level > 1; level-- {
		entryAddr := table.Address() + uint64(page.TableIndex(level))*8
		entry := models.PageTableEntry(as.phys.ReadU64(entryAddr))

		if !entry.IsPresent() {
			if !create {
				return 0, models.ErrPageNotMapped
			}
			next, ok := as.frames.AllocateFrame()
			if !ok {
				return 0, models.ErrFrameAllocationFailed
			}
			as.tables = append(as.tables, next)
			flags := models.FlagPresent | models.FlagWritable
			if user {
				flags |= models.FlagUser
			}
			entry = models.NewPageTableEntry(next, flags)
			as.phys.WriteU64(entryAddr, uint64(entry))
		} else if create && user && !entry.Flags().Has(models.FlagUser) {
			entry |= models.PageTableEntry(models.FlagUser)
			as.phys.WriteU64(entryAddr, uint64(entry))
		}

		table = entry.Frame()
	}
	return table.Address() + uint64(page.TableIndex(1))*8, nil
}

func signExtend(virt uint64) uint64 {
	if virt&(1<<47) != 0 {
		return virt | 0xFFFF000000000000
	}
	return virt
}
