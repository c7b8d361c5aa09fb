package models

import (
	"fmt"
	"strings"
)

// SwapSlot identifica una página de 4 KiB dentro de un dispositivo de swap.
type SwapSlot uint64

// Offset retorna el desplazamiento en bytes del slot dentro del dispositivo.
func (s SwapSlot) Offset() uint64 {
	return uint64(s) * PageSize
}

// SwapEntry identifica una página desalojada que ya no ocupa frame. Se guarda
// en los bits de dirección de la entrada de tabla mientras la página está en swap.
type SwapEntry uint64

// MaxSwapEntry es el mayor SwapEntry que entra en una entrada de tabla.
const MaxSwapEntry = SwapEntry(EntryAddressMask >> PageShift)

// SwapDeviceKind es la variante de un dispositivo de swap.
type SwapDeviceKind int

const (
	SwapFile SwapDeviceKind = iota
	SwapPartition
	SwapMemory
)

func (k SwapDeviceKind) String() string {
	switch k {
	case SwapFile:
		return "file"
	case SwapPartition:
		return "partition"
	case SwapMemory:
		return "memory"
	default:
		return fmt.Sprintf("desconocido(%d)", int(k))
	}
}

// ParseSwapDeviceKind convierte el tipo del archivo de configuración.
func ParseSwapDeviceKind(value string) (SwapDeviceKind, error) {
	switch strings.ToLower(value) {
	case "file":
		return SwapFile, nil
	case "partition":
		return SwapPartition, nil
	case "memory":
		return SwapMemory, nil
	default:
		return 0, fmt.Errorf("tipo de dispositivo de swap desconocido: %s", value)
	}
}

// SwapStats cuenta slots de uno o más dispositivos.
type SwapStats struct {
	TotalSlots int `json:"total_slots"`
	UsedSlots  int `json:"used_slots"`
	FreeSlots  int `json:"free_slots"`
}

func (s SwapStats) TotalBytes() uint64 { return uint64(s.TotalSlots) * PageSize }
func (s SwapStats) UsedBytes() uint64  { return uint64(s.UsedSlots) * PageSize }
func (s SwapStats) FreeBytes() uint64  { return uint64(s.FreeSlots) * PageSize }
func (s SwapStats) TotalMB() uint64    { return s.TotalBytes() / BytesPerMB }
func (s SwapStats) UsedMB() uint64     { return s.UsedBytes() / BytesPerMB }

// UsagePercent retorna el porcentaje de slots usados, 0 si no hay slots.
func (s SwapStats) UsagePercent() float64 {
	if s.TotalSlots == 0 {
		return 0
	}
	return float64(s.UsedSlots) / float64(s.TotalSlots) * 100
}

func (s SwapStats) Add(other SwapStats) SwapStats {
	return SwapStats{
		TotalSlots: s.TotalSlots + other.TotalSlots,
		UsedSlots:  s.UsedSlots + other.UsedSlots,
		FreeSlots:  s.FreeSlots + other.FreeSlots,
	}
}

// DeviceStats describe un dispositivo activo.
type DeviceStats struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Available bool      `json:"available"`
	Stats     SwapStats `json:"stats"`
}

// ReplacementAlgorithm es la política de reemplazo de páginas residentes.
type ReplacementAlgorithm int

const (
	ReplacementLRU ReplacementAlgorithm = iota
	ReplacementFIFO
	ReplacementClock
	ReplacementLFU
)

func (a ReplacementAlgorithm) String() string {
	switch a {
	case ReplacementLRU:
		return "LRU"
	case ReplacementFIFO:
		return "FIFO"
	case ReplacementClock:
		return "CLOCK"
	case ReplacementLFU:
		return "LFU"
	default:
		return fmt.Sprintf("desconocido(%d)", int(a))
	}
}

// ParseReplacementAlgorithm convierte el algoritmo del archivo de configuración.
func ParseReplacementAlgorithm(value string) (ReplacementAlgorithm, error) {
	switch strings.ToUpper(value) {
	case "LRU", "":
		return ReplacementLRU, nil
	case "FIFO":
		return ReplacementFIFO, nil
	case "CLOCK":
		return ReplacementClock, nil
	case "LFU":
		return ReplacementLFU, nil
	default:
		return 0, fmt.Errorf("algoritmo de reemplazo desconocido: %s", value)
	}
}

// PageAccessInfo registra el uso de una página residente.
type PageAccessInfo struct {
	Virtual     VirtualAddress `json:"virtual"`
	Frame       PageFrame      `json:"frame"`
	LastAccess  uint64         `json:"last_access"`
	AccessCount uint64         `json:"access_count"`
	Referenced  bool           `json:"referenced"`
	Dirty       bool           `json:"dirty"`
}

// UpdateAccess registra un acceso en el instante timestamp.
func (p *PageAccessInfo) UpdateAccess(timestamp uint64, isWrite bool) {
	p.LastAccess = timestamp
	p.AccessCount++
	p.Referenced = true
	if isWrite {
		p.Dirty = true
	}
}

// SwapperStats son los contadores del page swapper.
type SwapperStats struct {
	PagesSwappedOut   uint64 `json:"pages_swapped_out"`
	PagesSwappedIn    uint64 `json:"pages_swapped_in"`
	PageFaults        uint64 `json:"page_faults"`
	AlgorithmSwitches uint64 `json:"algorithm_switches"`
	Algorithm         string `json:"algorithm"`
	ResidentPages     int    `json:"resident_pages"`
	PressureThreshold int    `json:"pressure_threshold"`
}

// SwapConfig describe un dispositivo de swap en el archivo de configuración.
type SwapConfig struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	PartitionID uint32 `json:"partition_id,omitempty"`
	SizeMB      uint64 `json:"size_mb"`
	Priority    uint32 `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

// Kind retorna la variante del dispositivo configurado.
func (c SwapConfig) Kind() (SwapDeviceKind, error) {
	return ParseSwapDeviceKind(c.Type)
}
