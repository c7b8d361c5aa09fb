package models

// Constantes del heap del kernel.
const (
	HeapMinAllocation = 16
	HeapMaxAllocation = 1024 * 1024
	HeapBlockMagic    = 0xDEADBEEF
	HeapAllocPattern  = 0xAA
	HeapFreePattern   = 0xDD
)

// Layout describe un pedido de memoria dinámica. Align 0 equivale a 16.
type Layout struct {
	Size  uint64
	Align uint64
}

// AllocationStats son los contadores del heap.
type AllocationStats struct {
	TotalAllocations   uint64 `json:"total_allocations"`
	TotalDeallocations uint64 `json:"total_deallocations"`
	CurrentAllocations uint64 `json:"current_allocations"`
	BytesAllocated     uint64 `json:"bytes_allocated"`
	BytesDeallocated   uint64 `json:"bytes_deallocated"`
	CurrentBytes       uint64 `json:"current_bytes"`
	PeakBytes          uint64 `json:"peak_bytes"`
	HeapSize           uint64 `json:"heap_size"`
	FreeBytes          uint64 `json:"free_bytes"`
}

// HeapBlockInfo describe un bloque del heap en orden de direcciones.
type HeapBlockInfo struct {
	Address uint64 `json:"address"`
	Size    uint64 `json:"size"`
	Free    bool   `json:"free"`
}
