package models

import (
	"fmt"
	"strconv"
	"strings"
)

type CapabilityID uint64

// CapabilitySize es lo que ocupa una capacidad adjunta a un mensaje.
const CapabilitySize = 64

type CapabilityType int

const (
	CapRead CapabilityType = iota
	CapWrite
	CapExecute
	CapCreate
	CapDelete
	CapSendMessage
	CapReceiveMessage
	CapSystemCall
	CapDeviceAccess
	CapMemoryManagement
	CapProcessManagement
	CapFileSystem
	CapNetwork
	CapAdmin
)

var capabilityTypeNames = map[CapabilityType]string{
	CapRead:              "Read",
	CapWrite:             "Write",
	CapExecute:           "Execute",
	CapCreate:            "Create",
	CapDelete:            "Delete",
	CapSendMessage:       "SendMessage",
	CapReceiveMessage:    "ReceiveMessage",
	CapSystemCall:        "SystemCall",
	CapDeviceAccess:      "DeviceAccess",
	CapMemoryManagement:  "MemoryManagement",
	CapProcessManagement: "ProcessManagement",
	CapFileSystem:        "FileSystem",
	CapNetwork:           "Network",
	CapAdmin:             "Admin",
}

func (t CapabilityType) String() string {
	if name, ok := capabilityTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

func (t CapabilityType) IsValid() bool {
	_, ok := capabilityTypeNames[t]
	return ok
}

func (t CapabilityType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *CapabilityType) UnmarshalText(text []byte) error {
	parsed, err := ParseCapabilityType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseCapabilityType(name string) (CapabilityType, error) {
	for capabilityType, typeName := range capabilityTypeNames {
		if strings.EqualFold(typeName, name) {
			return capabilityType, nil
		}
	}
	return 0, fmt.Errorf("%w: tipo de capacidad %q", ErrInvalidArgument, name)
}

type ResourceKind int

const (
	ResourceAny ResourceKind = iota
	ResourceProcess
	ResourceDevice
	ResourceFile
	ResourceNetwork
	ResourceSystem
)

var resourcePrefixes = map[ResourceKind]string{
	ResourceProcess: "process",
	ResourceDevice:  "device",
	ResourceFile:    "file",
	ResourceNetwork: "network",
	ResourceSystem:  "system",
}

// ResourceID es el recurso al que aplica una capacidad. ResourceAny es el
// comodín: una capacidad sobre él vale para cualquier recurso de su tipo.
type ResourceID struct {
	Kind ResourceKind
	PID  ProcessID
	Name string
}

func AnyResource() ResourceID {
	return ResourceID{Kind: ResourceAny}
}

func ProcessResource(pid ProcessID) ResourceID {
	return ResourceID{Kind: ResourceProcess, PID: pid}
}

func DeviceResource(name string) ResourceID {
	return ResourceID{Kind: ResourceDevice, Name: name}
}

func FileResource(path string) ResourceID {
	return ResourceID{Kind: ResourceFile, Name: path}
}

func NetworkResource(endpoint string) ResourceID {
	return ResourceID{Kind: ResourceNetwork, Name: endpoint}
}

func SystemResource(name string) ResourceID {
	return ResourceID{Kind: ResourceSystem, Name: name}
}

func (r ResourceID) IsAny() bool {
	return r.Kind == ResourceAny
}

func (r ResourceID) String() string {
	switch r.Kind {
	case ResourceAny:
		return "*"
	case ResourceProcess:
		return fmt.Sprintf("process:%d", r.PID)
	default:
		return resourcePrefixes[r.Kind] + ":" + r.Name
	}
}

func (r ResourceID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ResourceID) UnmarshalText(text []byte) error {
	parsed, err := ParseResourceID(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseResourceID interpreta "*", "process:<pid>" o "<tipo>:<nombre>".
func ParseResourceID(text string) (ResourceID, error) {
	if text == "*" {
		return AnyResource(), nil
	}
	prefix, name, found := strings.Cut(text, ":")
	if !found || name == "" {
		return ResourceID{}, fmt.Errorf("%w: recurso %q", ErrInvalidArgument, text)
	}
	for kind, kindPrefix := range resourcePrefixes {
		if kindPrefix != prefix {
			continue
		}
		if kind == ResourceProcess {
			pid, err := strconv.ParseUint(name, 10, 32)
			if err != nil {
				return ResourceID{}, fmt.Errorf("%w: pid %q", ErrInvalidArgument, name)
			}
			return ProcessResource(ProcessID(pid)), nil
		}
		return ResourceID{Kind: kind, Name: name}, nil
	}
	return ResourceID{}, fmt.Errorf("%w: tipo de recurso %q", ErrInvalidArgument, prefix)
}

// Capability otorga a Owner el permiso Type sobre Resource. Granter es nil
// cuando la otorgó el sistema.
type Capability struct {
	ID          CapabilityID   `json:"id"`
	Type        CapabilityType `json:"type"`
	Resource    ResourceID     `json:"resource"`
	Owner       ProcessID      `json:"owner"`
	Granter     *ProcessID     `json:"granter,omitempty"`
	Delegatable bool           `json:"delegatable"`
	ExpiresAtMs *uint64        `json:"expires_at_ms,omitempty"`
	CreatedAtMs uint64         `json:"created_at_ms"`
}

// IsExpired indica si la capacidad venció en el instante nowMs.
func (c Capability) IsExpired(nowMs uint64) bool {
	return c.ExpiresAtMs != nil && nowMs > *c.ExpiresAtMs
}

// Matches indica si la capacidad autoriza capabilityType sobre resource.
func (c Capability) Matches(capabilityType CapabilityType, resource ResourceID, nowMs uint64) bool {
	if c.IsExpired(nowMs) || c.Type != capabilityType {
		return false
	}
	return c.Resource.IsAny() || c.Resource == resource
}

func (c Capability) String() string {
	return fmt.Sprintf("Cap[%d] %s sobre %s (dueño: %d)", c.ID, c.Type, c.Resource, c.Owner)
}

// GrantOptions son los atributos opcionales de una capacidad nueva.
type GrantOptions struct {
	Granter     *ProcessID
	Delegatable bool
	ExpiresAtMs *uint64
}

type CapabilityStatistics struct {
	TotalCapabilities         int    `json:"total_capabilities"`
	ExpiredCapabilities       int    `json:"expired_capabilities"`
	ProcessesWithCapabilities int    `json:"processes_with_capabilities"`
	TotalCapabilitiesCreated  uint64 `json:"total_capabilities_created"`
	ChecksPerformed           uint64 `json:"checks_performed"`
	ChecksFailed              uint64 `json:"checks_failed"`
}
