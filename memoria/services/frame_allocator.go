package services

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/utils/bits"
)

// FrameAllocator administra los frames físicos con un bit por frame (1 = ocupado).
// Los frames reservados (memoria baja, región del bitmap, áreas no disponibles)
// nunca se entregan ni se liberan.
type FrameAllocator struct {
	mu             sync.Mutex
	phys           *PhysicalMemory
	bitmap         bits.Bitmap
	reserved       bits.Bitmap
	totalFrames    int
	freeFrames     int
	usedFrames     int
	reservedFrames int
}

// NewFrameAllocator arma el allocator a partir del mapa de memoria. Si areas es
// vacío toda la RAM se considera disponible.
//
// Ejemplo:
//
//	func main() {
//		phys, _ := services.NewPhysicalMemory(16*1024*1024, false)
//		frames, err := services.NewFrameAllocator(phys, nil)
//		frame, ok := frames.AllocateFrame()
//	}
func NewFrameAllocator(phys *PhysicalMemory, areas []models.MemoryArea) (*FrameAllocator, error) {
	total := phys.FrameCount()
	allocator := &FrameAllocator{
		phys:        phys,
		bitmap:      bits.NewBitmap(total, true),
		reserved:    bits.NewBitmap(total, true),
		totalFrames: total,
	}

	bitmapEnd := uint64(models.BitmapStart) + bits.AlignUp(uint64(allocator.bitmap.SizeBytes()), models.PageSize)
	if bitmapEnd > phys.Size() {
		return nil, fmt.Errorf("%w: el bitmap de frames no entra en la memoria física", models.ErrInvalidConfig)
	}

	if len(areas) == 0 {
		areas = []models.MemoryArea{{Start: 0, Length: phys.Size(), Kind: models.AreaAvailable}}
	}

	for _, area := range areas {
		if area.Kind != models.AreaAvailable {
			continue
		}
		first := bits.AlignUp(area.Start, models.PageSize) / models.PageSize
		last := bits.AlignDown(area.Start+area.Length, models.PageSize) / models.PageSize
		for index := first; index < last && index < uint64(total); index++ {
			addr := index * models.PageSize
			if addr < models.ReservedLowMemory || (addr >= models.BitmapStart && addr < bitmapEnd) {
				continue
			}
			if !allocator.bitmap.Test(int(index)) {
				continue
			}
			allocator.bitmap.Clear(int(index))
			allocator.reserved.Clear(int(index))
			allocator.freeFrames++
		}
	}
	allocator.reservedFrames = total - allocator.freeFrames

	slog.Debug("Frame allocator inicializado",
		"total", allocator.totalFrames,
		"libres", allocator.freeFrames,
		"reservados", allocator.reservedFrames)
	return allocator, nil
}

// AllocateFrame entrega el primer frame libre. Retorna false si no hay frames.
func (a *FrameAllocator) AllocateFrame() (models.PageFrame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.allocateRun(1)
}

// AllocateFrames entrega count frames físicamente contiguos (first-fit) y retorna
// el primero. Retorna false si count es 0 o no existe una corrida libre.
func (a *FrameAllocator) AllocateFrames(count int) (models.PageFrame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if count <= 0 {
		return 0, false
	}
	return a.allocateRun(count)
}

func (a *FrameAllocator) allocateRun(count int) (models.PageFrame, bool) {
	if a.freeFrames < count {
		return 0, false
	}

	var start int
	if count == 1 {
		start = a.bitmap.FirstClear(0)
	} else {
		start = a.bitmap.FirstClearRun(count)
	}
	if start < 0 {
		return 0, false
	}

	for index := start; index < start+count; index++ {
		a.bitmap.Set(index)
	}
	a.freeFrames -= count
	a.usedFrames += count

	slog.Debug("Frames asignados", "frame", start, "cantidad", count)
	return models.PageFrame(start), true
}

// DeallocateFrame devuelve un frame al allocator y lo pone en cero. Liberar un
// frame fuera de rango, reservado o ya libre se ignora con un warning.
func (a *FrameAllocator) DeallocateFrame(frame models.PageFrame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.deallocate(frame)
}

// DeallocateFrames libera count frames a partir de start.
func (a *FrameAllocator) DeallocateFrames(start models.PageFrame, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < count; i++ {
		a.deallocate(start + models.PageFrame(i))
	}
}

func (a *FrameAllocator) deallocate(frame models.PageFrame) {
	index := int(frame)
	if index < 0 || index >= a.totalFrames {
		slog.Warn("Intento de liberar un frame fuera de rango", "frame", frame)
		return
	}
	if a.reserved.Test(index) {
		slog.Warn("Intento de liberar un frame reservado", "frame", frame)
		return
	}
	if !a.bitmap.Test(index) {
		slog.Warn("Intento de liberar un frame ya libre", "frame", frame)
		return
	}

	a.bitmap.Clear(index)
	a.freeFrames++
	a.usedFrames--
	a.phys.ZeroFrames(frame, 1)
}

// IsFrameFree indica si el frame está libre.
func (a *FrameAllocator) IsFrameFree(frame models.PageFrame) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return !a.bitmap.Test(int(frame))
}

// Stats retorna el estado actual del allocator.
func (a *FrameAllocator) Stats() models.MemoryStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return models.MemoryStats{
		TotalPages:    a.totalFrames,
		UsedPages:     a.usedFrames,
		FreePages:     a.freeFrames,
		ReservedPages: a.reservedFrames,
	}
}
