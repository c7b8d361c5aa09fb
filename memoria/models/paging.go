package models

import "strings"

// MemoryProtection es el conjunto de permisos de una página o región.
type MemoryProtection uint8

const (
	ProtRead MemoryProtection = 1 << iota
	ProtWrite
	ProtExecute
	ProtUser
)

const (
	ProtNone        MemoryProtection = 0
	ProtReadOnly                     = ProtRead
	ProtReadWrite                    = ProtRead | ProtWrite
	ProtReadExecute                  = ProtRead | ProtExecute
	ProtUserRW                       = ProtRead | ProtWrite | ProtUser
	ProtAll                          = ProtRead | ProtWrite | ProtExecute | ProtUser
)

func (p MemoryProtection) Readable() bool       { return p&ProtRead != 0 }
func (p MemoryProtection) Writable() bool       { return p&ProtWrite != 0 }
func (p MemoryProtection) Executable() bool     { return p&ProtExecute != 0 }
func (p MemoryProtection) UserAccessible() bool { return p&ProtUser != 0 }

// Contains indica si p incluye todos los permisos de other.
func (p MemoryProtection) Contains(other MemoryProtection) bool {
	return p&other == other
}

// PageTableFlags traduce los permisos a bits de una entrada de tabla de páginas.
// PRESENT siempre se marca y NO_EXECUTE se marca cuando no es ejecutable.
func (p MemoryProtection) PageTableFlags() PageTableFlags {
	flags := FlagPresent
	if p.Writable() {
		flags |= FlagWritable
	}
	if !p.Executable() {
		flags |= FlagNoExecute
	}
	if p.UserAccessible() {
		flags |= FlagUser
	}
	return flags
}

func (p MemoryProtection) String() string {
	var sb strings.Builder
	for _, c := range []struct {
		flag MemoryProtection
		char byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExecute, 'x'}, {ProtUser, 'u'}} {
		if p&c.flag != 0 {
			sb.WriteByte(c.char)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// PageTableFlags son los bits de una entrada de tabla de páginas x86-64.
type PageTableFlags uint64

const (
	FlagPresent      PageTableFlags = 1 << 0
	FlagWritable     PageTableFlags = 1 << 1
	FlagUser         PageTableFlags = 1 << 2
	FlagWriteThrough PageTableFlags = 1 << 3
	FlagNoCache      PageTableFlags = 1 << 4
	FlagAccessed     PageTableFlags = 1 << 5
	FlagDirty        PageTableFlags = 1 << 6
	FlagHugePage     PageTableFlags = 1 << 7
	FlagGlobal       PageTableFlags = 1 << 8
	// FlagSwapped es un bit libre para el sistema operativo: la página no está
	// presente pero su contenido está en swap.
	FlagSwapped   PageTableFlags = 1 << 9
	FlagNoExecute PageTableFlags = 1 << 63

	// EntryAddressMask selecciona la dirección física de una entrada.
	EntryAddressMask uint64 = 0x000FFFFFFFFFF000
)

func (f PageTableFlags) Has(flag PageTableFlags) bool {
	return f&flag == flag
}

// Protection reconstruye los permisos a partir de los bits de la entrada.
func (f PageTableFlags) Protection() MemoryProtection {
	prot := ProtRead
	if f.Has(FlagWritable) {
		prot |= ProtWrite
	}
	if !f.Has(FlagNoExecute) {
		prot |= ProtExecute
	}
	if f.Has(FlagUser) {
		prot |= ProtUser
	}
	return prot
}

// PageTableEntry es una entrada de 64 bits: dirección física más flags.
type PageTableEntry uint64

func NewPageTableEntry(frame PageFrame, flags PageTableFlags) PageTableEntry {
	return PageTableEntry(frame.Address()&EntryAddressMask | uint64(flags))
}

func (e PageTableEntry) Frame() PageFrame {
	return FrameContaining(uint64(e) & EntryAddressMask)
}

func (e PageTableEntry) Flags() PageTableFlags {
	return PageTableFlags(uint64(e) &^ EntryAddressMask)
}

// NewSwappedEntry arma una entrada no presente que guarda entry en lugar de un frame.
func NewSwappedEntry(entry SwapEntry, flags PageTableFlags) PageTableEntry {
	flags = flags&^FlagPresent | FlagSwapped
	return PageTableEntry(uint64(entry)<<PageShift&EntryAddressMask | uint64(flags))
}

// SwapEntry retorna la página en swap de una entrada marcada con FlagSwapped.
func (e PageTableEntry) SwapEntry() SwapEntry {
	return SwapEntry(uint64(e) & EntryAddressMask >> PageShift)
}

func (e PageTableEntry) IsPresent() bool {
	return e.Flags().Has(FlagPresent)
}

func (e PageTableEntry) IsSwapped() bool {
	return e.Flags().Has(FlagSwapped)
}

func (e PageTableEntry) IsUnused() bool {
	return e == 0
}

// VirtualMemoryRegion es un rango virtual con nombre y permisos.
type VirtualMemoryRegion struct {
	Start      VirtualAddress   `json:"start"`
	Size       uint64           `json:"size"`
	Protection MemoryProtection `json:"protection"`
	Name       string           `json:"name"`
}

// End retorna la primera dirección fuera de la región.
func (r VirtualMemoryRegion) End() VirtualAddress {
	return r.Start + VirtualAddress(r.Size)
}

func (r VirtualMemoryRegion) Contains(addr VirtualAddress) bool {
	return addr >= r.Start && addr < r.End()
}

func (r VirtualMemoryRegion) PageCount() uint64 {
	return BytesToPages(r.Size)
}

func (r VirtualMemoryRegion) Overlaps(other VirtualMemoryRegion) bool {
	return r.Start < other.End() && other.Start < r.End()
}

// Mapping describe una página mapeada, usada por el dump y el handler HTTP.
type Mapping struct {
	Virtual    VirtualAddress   `json:"virtual"`
	Frame      PageFrame        `json:"frame"`
	Protection MemoryProtection `json:"protection"`
	Swapped    bool             `json:"swapped"`
	// SwapEntry sólo vale si Swapped; en ese caso Frame es 0.
	SwapEntry SwapEntry `json:"swap_entry,omitempty"`
}
