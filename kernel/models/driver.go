package models

import (
	"fmt"
	"strings"
)

// CapabilityFlags es el conjunto de permisos de bajo nivel que se le conceden a un driver.
type CapabilityFlags uint64

const (
	FlagReadMemory CapabilityFlags = 1 << iota
	FlagWriteMemory
	FlagExecute
	FlagHardwareAccess
	FlagIpcSend
	FlagIpcReceive
	FlagFileRead
	FlagFileWrite
	FlagNetworkAccess
)

var flagNames = []struct {
	flag CapabilityFlags
	name string
}{
	{FlagReadMemory, "READ_MEMORY"},
	{FlagWriteMemory, "WRITE_MEMORY"},
	{FlagExecute, "EXECUTE"},
	{FlagHardwareAccess, "HARDWARE_ACCESS"},
	{FlagIpcSend, "IPC_SEND"},
	{FlagIpcReceive, "IPC_RECEIVE"},
	{FlagFileRead, "FILE_READ"},
	{FlagFileWrite, "FILE_WRITE"},
	{FlagNetworkAccess, "NETWORK_ACCESS"},
}

func (f CapabilityFlags) Union(other CapabilityFlags) CapabilityFlags     { return f | other }
func (f CapabilityFlags) Intersect(other CapabilityFlags) CapabilityFlags { return f & other }

// Contains indica si f incluye todos los permisos de other.
func (f CapabilityFlags) Contains(other CapabilityFlags) bool { return f&other == other }

func (f CapabilityFlags) IsEmpty() bool { return f == 0 }

func (f CapabilityFlags) String() string {
	var names []string
	for _, entry := range flagNames {
		if f.Contains(entry.flag) {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

type DriverCapabilityKind int

const (
	DriverHardware DriverCapabilityKind = iota
	DriverMemory
	DriverIpc
	DriverFileSystem
	DriverNetwork
	DriverMemoryAccess
	DriverHardwareAccess
	DriverTextOutput
	DriverGraphicsOutput
	DriverCustom
)

var driverCapabilityNames = map[DriverCapabilityKind]string{
	DriverHardware:       "HARDWARE",
	DriverMemory:         "MEMORY",
	DriverIpc:            "IPC",
	DriverFileSystem:     "FILE_SYSTEM",
	DriverNetwork:        "NETWORK",
	DriverMemoryAccess:   "MEMORY_ACCESS",
	DriverHardwareAccess: "HARDWARE_ACCESS",
	DriverTextOutput:     "TEXT_OUTPUT",
	DriverGraphicsOutput: "GRAPHICS_OUTPUT",
	DriverCustom:         "CUSTOM",
}

func (k DriverCapabilityKind) String() string {
	if name, ok := driverCapabilityNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

func (k DriverCapabilityKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *DriverCapabilityKind) UnmarshalText(text []byte) error {
	for kind, name := range driverCapabilityNames {
		if strings.EqualFold(name, string(text)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: capacidad de driver %q", ErrInvalidArgument, text)
}

// HardwareKind detalla una capacidad DriverHardware.
type HardwareKind int

const (
	HardwareGeneric HardwareKind = iota
	HardwareIoPort
	HardwareMemoryMappedIo
	HardwareInterrupt
	HardwareDma
	HardwarePciDevice
)

// MemoryKind detalla una capacidad DriverMemory.
type MemoryKind int

const (
	MemoryPhysicalAlloc MemoryKind = iota
	MemoryMapping
	MemoryRegion
	MemoryDma
)

// DriverCapabilityType es una capacidad que un driver requiere o provee.
// Kind decide qué campos valen:
//   - DriverHardware: Hardware y, según el caso, Start/End (puertos o MMIO),
//     Number (IRQ o canal DMA), VendorID/DeviceID (PCI)
//   - DriverMemory: Memory y Start/End para MemoryRegion
//   - DriverIpc, DriverFileSystem, DriverNetwork, DriverCustom: Name
type DriverCapabilityType struct {
	Kind     DriverCapabilityKind `json:"kind"`
	Hardware HardwareKind         `json:"hardware,omitempty"`
	Memory   MemoryKind           `json:"memory,omitempty"`
	Start    uint64               `json:"start,omitempty"`
	End      uint64               `json:"end,omitempty"`
	Number   uint32               `json:"number,omitempty"`
	VendorID uint32               `json:"vendor_id,omitempty"`
	DeviceID uint32               `json:"device_id,omitempty"`
	Name     string               `json:"name,omitempty"`
}

func IoPortCapability(start, end uint16) DriverCapabilityType {
	return DriverCapabilityType{Kind: DriverHardware, Hardware: HardwareIoPort, Start: uint64(start), End: uint64(end)}
}

func InterruptCapability(irq uint32) DriverCapabilityType {
	return DriverCapabilityType{Kind: DriverHardware, Hardware: HardwareInterrupt, Number: irq}
}

func PciDeviceCapability(vendorID, deviceID uint32) DriverCapabilityType {
	return DriverCapabilityType{Kind: DriverHardware, Hardware: HardwarePciDevice, VendorID: vendorID, DeviceID: deviceID}
}

func MemoryCapability(kind MemoryKind) DriverCapabilityType {
	return DriverCapabilityType{Kind: DriverMemory, Memory: kind}
}

func CustomCapability(name string) DriverCapabilityType {
	return DriverCapabilityType{Kind: DriverCustom, Name: name}
}

// Flags traduce la capacidad del driver a permisos de bajo nivel.
func (c DriverCapabilityType) Flags() CapabilityFlags {
	switch c.Kind {
	case DriverHardware, DriverHardwareAccess, DriverTextOutput, DriverGraphicsOutput:
		return FlagHardwareAccess
	case DriverMemory, DriverMemoryAccess:
		return FlagReadMemory | FlagWriteMemory
	case DriverIpc:
		return FlagIpcSend | FlagIpcReceive
	case DriverFileSystem:
		return FlagFileRead | FlagFileWrite
	case DriverNetwork:
		return FlagNetworkAccess
	default:
		return 0
	}
}

// KernelCapabilityTypes retorna los tipos de capacidad del kernel que el
// proceso del driver debe tener para que se le conceda c.
func (c DriverCapabilityType) KernelCapabilityTypes() []CapabilityType {
	switch c.Kind {
	case DriverHardware, DriverHardwareAccess, DriverTextOutput, DriverGraphicsOutput:
		return []CapabilityType{CapDeviceAccess}
	case DriverMemory, DriverMemoryAccess:
		return []CapabilityType{CapMemoryManagement}
	case DriverIpc:
		return []CapabilityType{CapSendMessage}
	case DriverFileSystem:
		return []CapabilityType{CapFileSystem}
	case DriverNetwork:
		return []CapabilityType{CapNetwork}
	default:
		return nil
	}
}

func (c DriverCapabilityType) String() string {
	if c.Name != "" {
		return fmt.Sprintf("%s(%s)", c.Kind, c.Name)
	}
	return c.Kind.String()
}

type DriverType int

const (
	DriverTypeStorage DriverType = iota
	DriverTypeNetwork
	DriverTypeGraphics
	DriverTypeAudio
	DriverTypeInput
	DriverTypePower
	DriverTypeSystem
	DriverTypeCustom
)

var driverTypeNames = map[DriverType]string{
	DriverTypeStorage:  "STORAGE",
	DriverTypeNetwork:  "NETWORK",
	DriverTypeGraphics: "GRAPHICS",
	DriverTypeAudio:    "AUDIO",
	DriverTypeInput:    "INPUT",
	DriverTypePower:    "POWER",
	DriverTypeSystem:   "SYSTEM",
	DriverTypeCustom:   "CUSTOM",
}

func (t DriverType) String() string {
	if name, ok := driverTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

func (t DriverType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DriverType) UnmarshalText(text []byte) error {
	for driverType, name := range driverTypeNames {
		if strings.EqualFold(name, string(text)) {
			*t = driverType
			return nil
		}
	}
	return fmt.Errorf("%w: tipo de driver %q", ErrInvalidArgument, text)
}

// Vendors PCI de placas de red aceptadas.
const (
	VendorIntel   uint32 = 0x8086
	VendorRealtek uint32 = 0x10EC
)

// ValidateDriverCapabilities rechaza pedidos que no corresponden al tipo de driver.
func ValidateDriverCapabilities(required []DriverCapabilityType, driverType DriverType) error {
	for _, capability := range required {
		switch {
		case driverType == DriverTypeStorage && capability.Kind == DriverNetwork:
			return fmt.Errorf("%w: un driver de almacenamiento no usa red", ErrPermissionDenied)
		case driverType == DriverTypeNetwork && capability.Kind == DriverHardware && capability.Hardware == HardwarePciDevice:
			if capability.VendorID != VendorIntel && capability.VendorID != VendorRealtek {
				return fmt.Errorf("%w: vendor PCI %#x no admitido", ErrPermissionDenied, capability.VendorID)
			}
		}
	}
	return nil
}

// DriverInfo describe un driver registrado.
type DriverInfo struct {
	PID      ProcessID              `json:"pid"`
	Name     string                 `json:"name"`
	Type     DriverType             `json:"type"`
	Required []DriverCapabilityType `json:"required"`
	Provided []DriverCapabilityType `json:"provided"`
	Granted  CapabilityFlags        `json:"granted"`
}
