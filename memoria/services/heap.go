package services

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/utils/bits"
)

// Formato del encabezado de bloque dentro de la RAM simulada (little-endian):
//
//	0  magic     u32
//	4  flags     u32 (bit 0 = libre)
//	8  size      u64 tamaño útil
//	16 next      i64 siguiente libre (offset en el heap, -1 = ninguno)
//	24 prev      i64 anterior libre
//	32 physPrev  i64 bloque físicamente anterior
//	40 allocID   u64
const (
	blockHeaderSize = 48
	nilOffset       = -1
	maxFreeListWalk = 10000
	heapAlignment   = models.HeapMinAllocation
)

type blockHeader struct {
	magic    uint32
	free     bool
	size     uint64
	next     int64
	prev     int64
	physPrev int64
	allocID  uint64
}

// KernelHeap es el allocator first-fit del kernel sobre frames contiguos.
// La lista de libres está enlazada por offsets dentro del propio heap y se
// inserta siempre por la cabeza.
type KernelHeap struct {
	mu          sync.Mutex
	frames      *FrameAllocator
	firstFrame  models.PageFrame
	pages       int
	base        uint64
	mem         []byte
	freeHead    int64
	nextAllocID uint64
	stats       models.AllocationStats
}

// NewKernelHeap toma pages frames contiguos del allocator y arma un único bloque libre.
func NewKernelHeap(phys *PhysicalMemory, frames *FrameAllocator, pages int) (*KernelHeap, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("%w: el heap necesita al menos una página", models.ErrInvalidConfig)
	}

	first, ok := frames.AllocateFrames(pages)
	if !ok {
		return nil, fmt.Errorf("%w: no hay %d frames contiguos para el heap", models.ErrOutOfMemory, pages)
	}

	size := uint64(pages) * models.PageSize
	mem, err := phys.Slice(first.Address(), size)
	if err != nil {
		frames.DeallocateFrames(first, pages)
		return nil, err
	}
	clear(mem)

	heap := &KernelHeap{
		frames:     frames,
		firstFrame: first,
		pages:      pages,
		base:       first.Address(),
		mem:        mem,
		freeHead:   0,
	}
	heap.writeHeader(0, blockHeader{
		magic:    models.HeapBlockMagic,
		free:     true,
		size:     size - blockHeaderSize,
		next:     nilOffset,
		prev:     nilOffset,
		physPrev: nilOffset,
	})
	heap.stats.HeapSize = size
	heap.stats.FreeBytes = size - blockHeaderSize

	slog.Debug("Heap del kernel inicializado", "base", fmt.Sprintf("%#x", heap.base), "bytes", size)
	return heap, nil
}

// Allocate reserva un bloque para layout y retorna la dirección física de sus datos.
// Los datos nuevos quedan rellenos con 0xAA.
func (h *KernelHeap) Allocate(layout models.Layout) (uint64, error) {
	align := layout.Align
	if align == 0 {
		align = heapAlignment
	}
	if !bits.IsPowerOfTwo(align) || align > models.PageSize {
		return 0, fmt.Errorf("%w: alineación %d", models.ErrInvalidLayout, layout.Align)
	}
	if layout.Size > models.HeapMaxAllocation {
		return 0, fmt.Errorf("%w: %d bytes", models.ErrAllocationTooLarge, layout.Size)
	}
	size := bits.Max(bits.AlignUp(layout.Size, heapAlignment), models.HeapMinAllocation)

	h.mu.Lock()
	defer h.mu.Unlock()

	offset, header, err := h.findFit(size, align)
	if err != nil {
		return 0, err
	}

	h.unlink(offset, header)
	h.stats.FreeBytes -= header.size

	if header.size > size+blockHeaderSize+models.HeapMinAllocation {
		h.split(offset, &header, size)
	}

	h.nextAllocID++
	header.free = false
	header.next, header.prev = nilOffset, nilOffset
	header.allocID = h.nextAllocID
	h.writeHeader(offset, header)
	fill(h.payload(offset, header.size), models.HeapAllocPattern)

	h.stats.TotalAllocations++
	h.stats.CurrentAllocations++
	h.stats.BytesAllocated += header.size
	h.stats.CurrentBytes += header.size
	h.stats.PeakBytes = bits.Max(h.stats.PeakBytes, h.stats.CurrentBytes)

	return h.base + uint64(offset) + blockHeaderSize, nil
}

func (h *KernelHeap) findFit(size, align uint64) (int64, blockHeader, error) {
	walked := 0
	for offset := h.freeHead; offset != nilOffset; walked++ {
		if walked > maxFreeListWalk {
			return 0, blockHeader{}, fmt.Errorf("%w: posible lista de libres circular", models.ErrHeapCorruption)
		}
		header, err := h.checkedHeader(offset)
		if err != nil {
			return 0, blockHeader{}, err
		}
		data := h.base + uint64(offset) + blockHeaderSize
		if header.free && header.size >= size && bits.IsAligned(data, align) {
			return offset, header, nil
		}
		offset = header.next
	}
	return 0, blockHeader{}, fmt.Errorf("%w: no hay un bloque libre de %d bytes", models.ErrOutOfMemory, size)
}

// split corta header a size bytes y agrega el resto como bloque libre.
func (h *KernelHeap) split(offset int64, header *blockHeader, size uint64) {
	restOffset := offset + blockHeaderSize + int64(size)
	rest := blockHeader{
		magic:    models.HeapBlockMagic,
		free:     true,
		size:     header.size - size - blockHeaderSize,
		physPrev: offset,
	}
	h.setPhysPrev(h.physNext(restOffset, rest.size), restOffset)
	header.size = size
	h.pushFront(restOffset, rest)
	h.stats.FreeBytes += rest.size
}

// Deallocate libera el bloque cuyo dato empieza en addr y lo fusiona con sus vecinos libres.
func (h *KernelHeap) Deallocate(addr uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	offset, err := h.offsetOf(addr)
	if err != nil {
		return err
	}
	header, err := h.checkedHeader(offset)
	if err != nil {
		return err
	}
	if header.free {
		return fmt.Errorf("%w: %#x", models.ErrDoubleFree, addr)
	}

	fill(h.payload(offset, header.size), models.HeapFreePattern)

	h.stats.TotalDeallocations++
	h.stats.CurrentAllocations--
	h.stats.BytesDeallocated += header.size
	h.stats.CurrentBytes -= header.size
	h.stats.FreeBytes += header.size

	header.free = true
	h.pushFront(offset, header)
	h.coalesce(offset)
	return nil
}

// coalesce fusiona el bloque libre offset con el siguiente y el anterior físicos.
func (h *KernelHeap) coalesce(offset int64) {
	header := h.readHeader(offset)

	if next := h.physNext(offset, header.size); next != nilOffset {
		nextHeader := h.readHeader(next)
		if nextHeader.magic == models.HeapBlockMagic && nextHeader.free {
			h.unlink(next, nextHeader)
			header = h.readHeader(offset)
			header.size += blockHeaderSize + nextHeader.size
			h.writeHeader(offset, header)
			h.setPhysPrev(h.physNext(offset, header.size), offset)
			h.stats.FreeBytes += blockHeaderSize
		}
	}

	if header.physPrev == nilOffset {
		return
	}
	prevOffset := header.physPrev
	prevHeader := h.readHeader(prevOffset)
	if prevHeader.magic != models.HeapBlockMagic || !prevHeader.free {
		return
	}
	h.unlink(offset, header)
	prevHeader = h.readHeader(prevOffset)
	prevHeader.size += blockHeaderSize + header.size
	h.writeHeader(prevOffset, prevHeader)
	h.setPhysPrev(h.physNext(prevOffset, prevHeader.size), prevOffset)
	h.stats.FreeBytes += blockHeaderSize
}

// Bytes retorna los primeros length bytes del bloque asignado en addr.
func (h *KernelHeap) Bytes(addr uint64, length uint64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	offset, err := h.offsetOf(addr)
	if err != nil {
		return nil, err
	}
	header, err := h.checkedHeader(offset)
	if err != nil {
		return nil, err
	}
	if header.free || length > header.size {
		return nil, fmt.Errorf("%w: %#x no es un bloque asignado de al menos %d bytes", models.ErrInvalidPointer, addr, length)
	}
	return h.payload(offset, length), nil
}

// Validate recorre la lista de libres y los bloques en orden de direcciones y
// retorna ErrHeapCorruption ante cualquier inconsistencia.
func (h *KernelHeap) Validate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	listed := 0
	previous := int64(nilOffset)
	for offset := h.freeHead; offset != nilOffset; listed++ {
		if listed > maxFreeListWalk {
			return fmt.Errorf("%w: posible lista de libres circular", models.ErrHeapCorruption)
		}
		header, err := h.checkedHeader(offset)
		if err != nil {
			return err
		}
		if !header.free {
			return fmt.Errorf("%w: bloque %d ocupado en la lista de libres", models.ErrHeapCorruption, offset)
		}
		if header.prev != previous {
			return fmt.Errorf("%w: enlace anterior inconsistente en %d", models.ErrHeapCorruption, offset)
		}
		previous, offset = offset, header.next
	}

	freeBlocks := 0
	lastFree := false
	physPrev := int64(nilOffset)
	for offset := int64(0); offset != nilOffset; {
		header, err := h.checkedHeader(offset)
		if err != nil {
			return err
		}
		if header.physPrev != physPrev {
			return fmt.Errorf("%w: vecino físico inconsistente en %d", models.ErrHeapCorruption, offset)
		}
		if uint64(offset)+blockHeaderSize+header.size > uint64(len(h.mem)) {
			return fmt.Errorf("%w: el bloque %d excede el heap", models.ErrHeapCorruption, offset)
		}
		if header.free {
			if lastFree {
				return fmt.Errorf("%w: bloques libres contiguos sin fusionar en %d", models.ErrHeapCorruption, offset)
			}
			freeBlocks++
		}
		lastFree = header.free
		physPrev, offset = offset, h.physNext(offset, header.size)
	}

	if freeBlocks != listed {
		return fmt.Errorf("%w: %d bloques libres pero %d en la lista", models.ErrHeapCorruption, freeBlocks, listed)
	}
	return nil
}

// Blocks retorna los bloques en orden de direcciones.
func (h *KernelHeap) Blocks() []models.HeapBlockInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	var blocks []models.HeapBlockInfo
	for offset := int64(0); offset != nilOffset && len(blocks) <= maxFreeListWalk; {
		header := h.readHeader(offset)
		if header.magic != models.HeapBlockMagic {
			break
		}
		blocks = append(blocks, models.HeapBlockInfo{
			Address: h.base + uint64(offset) + blockHeaderSize,
			Size:    header.size,
			Free:    header.free,
		})
		offset = h.physNext(offset, header.size)
	}
	return blocks
}

// Stats retorna los contadores del heap.
func (h *KernelHeap) Stats() models.AllocationStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stats
}

// Contains indica si addr cae dentro del heap.
func (h *KernelHeap) Contains(addr uint64) bool {
	return addr >= h.base && addr < h.base+uint64(len(h.mem))
}

// Release devuelve los frames del heap. El heap no se puede usar después.
func (h *KernelHeap) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.frames.DeallocateFrames(h.firstFrame, h.pages)
	h.mem = nil
	h.freeHead = nilOffset
}

func (h *KernelHeap) offsetOf(addr uint64) (int64, error) {
	if addr < h.base+blockHeaderSize || addr >= h.base+uint64(len(h.mem)) {
		return 0, fmt.Errorf("%w: %#x fuera del heap", models.ErrInvalidPointer, addr)
	}
	offset := addr - h.base - blockHeaderSize
	if !bits.IsAligned(offset, heapAlignment) {
		return 0, fmt.Errorf("%w: %#x no está alineado", models.ErrInvalidPointer, addr)
	}
	return int64(offset), nil
}

func (h *KernelHeap) checkedHeader(offset int64) (blockHeader, error) {
	if offset < 0 || uint64(offset)+blockHeaderSize > uint64(len(h.mem)) {
		return blockHeader{}, fmt.Errorf("%w: offset %d fuera del heap", models.ErrHeapCorruption, offset)
	}
	header := h.readHeader(offset)
	if header.magic != models.HeapBlockMagic {
		return blockHeader{}, fmt.Errorf("%w: magic %#x inválido en %d", models.ErrHeapCorruption, header.magic, offset)
	}
	return header, nil
}

func (h *KernelHeap) physNext(offset int64, size uint64) int64 {
	next := offset + blockHeaderSize + int64(size)
	if uint64(next)+blockHeaderSize > uint64(len(h.mem)) {
		return nilOffset
	}
	return next
}

func (h *KernelHeap) setPhysPrev(offset int64, physPrev int64) {
	if offset == nilOffset {
		return
	}
	header := h.readHeader(offset)
	header.physPrev = physPrev
	h.writeHeader(offset, header)
}

func (h *KernelHeap) pushFront(offset int64, header blockHeader) {
	header.prev = nilOffset
	header.next = h.freeHead
	if h.freeHead != nilOffset {
		head := h.readHeader(h.freeHead)
		head.prev = offset
		h.writeHeader(h.freeHead, head)
	}
	h.freeHead = offset
	h.writeHeader(offset, header)
}

func (h *KernelHeap) unlink(offset int64, header blockHeader) {
	if header.prev != nilOffset {
		prev := h.readHeader(header.prev)
		prev.next = header.next
		h.writeHeader(header.prev, prev)
	} else if h.freeHead == offset {
		h.freeHead = header.next
	}
	if header.next != nilOffset {
		next := h.readHeader(header.next)
		next.prev = header.prev
		h.writeHeader(header.next, next)
	}
}

func (h *KernelHeap) payload(offset int64, length uint64) []byte {
	start := uint64(offset) + blockHeaderSize
	return h.mem[start : start+length]
}

func (h *KernelHeap) readHeader(offset int64) blockHeader {
	raw := h.mem[offset : offset+blockHeaderSize]
	return blockHeader{
		magic:    binary.LittleEndian.Uint32(raw[0:]),
		free:     binary.LittleEndian.Uint32(raw[4:])&1 == 1,
		size:     binary.LittleEndian.Uint64(raw[8:]),
		next:     int64(binary.LittleEndian.Uint64(raw[16:])),
		prev:     int64(binary.LittleEndian.Uint64(raw[24:])),
		physPrev: int64(binary.LittleEndian.Uint64(raw[32:])),
		allocID:  binary.LittleEndian.Uint64(raw[40:]),
	}
}

func (h *KernelHeap) writeHeader(offset int64, header blockHeader) {
	raw := h.mem[offset : offset+blockHeaderSize]
	var flags uint32
	if header.free {
		flags = 1
	}
	binary.LittleEndian.PutUint32(raw[0:], header.magic)
	binary.LittleEndian.PutUint32(raw[4:], flags)
	binary.LittleEndian.PutUint64(raw[8:], header.size)
	binary.LittleEndian.PutUint64(raw[16:], uint64(header.next))
	binary.LittleEndian.PutUint64(raw[24:], uint64(header.prev))
	binary.LittleEndian.PutUint64(raw[32:], uint64(header.physPrev))
	binary.LittleEndian.PutUint64(raw[40:], header.allocID)
}

func fill(data []byte, pattern byte) {
	for i := range data {
		data[i] = pattern
	}
}
