package models

import (
	"fmt"

	"github.com/sisoputnfrba/tp-kosh/utils/bits"
)

const (
	PageSize        = 4096
	PageShift       = 12
	EntriesPerTable = 512
	BytesPerMB      = 1024 * 1024

	// ReservedLowMemory es la memoria baja que nunca se entrega (BIOS, VGA, etc.).
	ReservedLowMemory = 0x100000
	// BitmapStart es la dirección física donde se ubica el bitmap de frames.
	BitmapStart = 0x200000
)

// Layout virtual del kernel (higher half).
const (
	KernelCodeStart VirtualAddress = 0xFFFFFFFF80000000
	KernelCodeSize                 = 16 * BytesPerMB
	KernelDataStart VirtualAddress = 0xFFFFFFFF81000000
	KernelDataSize                 = 16 * BytesPerMB
	KernelHeapStart VirtualAddress = 0xFFFFFFFF82000000
	KernelHeapSize                 = 64 * BytesPerMB
	PhysOffset      VirtualAddress = 0xFFFF800000000000
)

// PageFrame identifica un frame físico de 4 KiB por su índice.
type PageFrame uint64

// Address retorna la dirección física donde empieza el frame.
func (f PageFrame) Address() uint64 {
	return uint64(f) * PageSize
}

// FrameContaining retorna el frame que contiene la dirección física addr.
func FrameContaining(addr uint64) PageFrame {
	return PageFrame(bits.AlignDown(addr, PageSize) / PageSize)
}

// VirtualAddress es una dirección virtual de 64 bits.
type VirtualAddress uint64

func (v VirtualAddress) AlignDown(align uint64) VirtualAddress {
	return VirtualAddress(bits.AlignDown(uint64(v), align))
}

func (v VirtualAddress) AlignUp(align uint64) VirtualAddress {
	return VirtualAddress(bits.AlignUp(uint64(v), align))
}

func (v VirtualAddress) IsAligned(align uint64) bool {
	return bits.IsAligned(uint64(v), align)
}

// PageNumber retorna el número de página virtual.
func (v VirtualAddress) PageNumber() uint64 {
	return uint64(v) >> PageShift
}

// PageOffset retorna el desplazamiento dentro de la página.
func (v VirtualAddress) PageOffset() uint64 {
	return uint64(v) & (PageSize - 1)
}

// IsCanonical indica si los bits 48 a 63 replican el bit 47.
func (v VirtualAddress) IsCanonical() bool {
	top := uint64(v) >> 47
	return top == 0 || top == 0x1FFFF
}

// TableIndex retorna el índice en la tabla del nivel dado (4 = PML4, 1 = PT).
func (v VirtualAddress) TableIndex(level int) int {
	shift := PageShift + 9*uint(level-1)
	return int((uint64(v) >> shift) & (EntriesPerTable - 1))
}

func (v VirtualAddress) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// MemoryAreaKind clasifica las áreas del mapa de memoria de arranque.
type MemoryAreaKind int

const (
	AreaAvailable MemoryAreaKind = iota
	AreaReserved
)

// MemoryArea es una entrada del mapa de memoria física.
type MemoryArea struct {
	Start  uint64
	Length uint64
	Kind   MemoryAreaKind
}

// MemoryStats resume el estado del frame allocator.
type MemoryStats struct {
	TotalPages    int `json:"total_pages"`
	UsedPages     int `json:"used_pages"`
	FreePages     int `json:"free_pages"`
	ReservedPages int `json:"reserved_pages"`
}

func (s MemoryStats) TotalMB() int { return s.TotalPages * PageSize / BytesPerMB }
func (s MemoryStats) UsedMB() int  { return s.UsedPages * PageSize / BytesPerMB }
func (s MemoryStats) FreeMB() int  { return s.FreePages * PageSize / BytesPerMB }

// BytesToPages retorna cuántas páginas hacen falta para size bytes.
func BytesToPages(size uint64) uint64 {
	return bits.DivRoundUp(size, PageSize)
}

// PagesToBytes retorna el tamaño en bytes de pages páginas.
func PagesToBytes(pages uint64) uint64 {
	return pages * PageSize
}
