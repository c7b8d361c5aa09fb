package services

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
)

// Recursos de sistema que reciben los procesos de usuario.
var (
	ServicesResource     = models.SystemResource("services")
	UserSyscallsResource = models.SystemResource("user_syscalls")
)

type capabilityGrant struct {
	capabilityType models.CapabilityType
	resource       models.ResourceID
}

// SecurityPolicy decide qué capacidades recibe cada proceso al crearse y qué
// pedidos de capacidades se aceptan.
type SecurityPolicy struct {
	capabilities *CapabilityManager
	system       []capabilityGrant
	user         []capabilityGrant
	restricted   []models.CapabilityType
}

func NewSecurityPolicy(capabilities *CapabilityManager) *SecurityPolicy {
	return &SecurityPolicy{
		capabilities: capabilities,
		system: []capabilityGrant{
			{models.CapSendMessage, models.AnyResource()},
			{models.CapReceiveMessage, models.AnyResource()},
			{models.CapSystemCall, models.AnyResource()},
			{models.CapMemoryManagement, models.AnyResource()},
			{models.CapProcessManagement, models.AnyResource()},
			{models.CapFileSystem, models.AnyResource()},
		},
		user: []capabilityGrant{
			{models.CapSendMessage, ServicesResource},
			{models.CapReceiveMessage, models.AnyResource()},
			{models.CapSystemCall, UserSyscallsResource},
		},
		restricted: []models.CapabilityType{
			models.CapAdmin,
			models.CapDeviceAccess,
			models.CapProcessManagement,
			models.CapMemoryManagement,
		},
	}
}

func (p *SecurityPolicy) GrantSystemCapabilities(pid models.ProcessID) ([]models.CapabilityID, error) {
	slog.Debug("Otorgando capacidades de sistema", "pid", pid)
	return p.grantAll(pid, p.system)
}

func (p *SecurityPolicy) GrantUserCapabilities(pid models.ProcessID) ([]models.CapabilityID, error) {
	slog.Debug("Otorgando capacidades de usuario", "pid", pid)
	return p.grantAll(pid, p.user)
}

func (p *SecurityPolicy) grantAll(pid models.ProcessID, grants []capabilityGrant) ([]models.CapabilityID, error) {
	ids := make([]models.CapabilityID, 0, len(grants))
	for _, grant := range grants {
		id, err := p.capabilities.Grant(pid, grant.capabilityType, grant.resource, models.GrantOptions{})
		if err != nil {
			return ids, fmt.Errorf("otorgando %s a PID %d: %w", grant.capabilityType, pid, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IsRestricted indica si capabilityType requiere Admin para pedirse.
func (p *SecurityPolicy) IsRestricted(capabilityType models.CapabilityType) bool {
	return slices.Contains(p.restricted, capabilityType)
}

// ValidateCapabilityRequest indica si requester puede pedir capabilityType
// sobre resource.
func (p *SecurityPolicy) ValidateCapabilityRequest(requester models.ProcessID, capabilityType models.CapabilityType, resource models.ResourceID) bool {
	if p.IsRestricted(capabilityType) {
		slog.Info("Pedido de operación restringida", "pid", requester, "capacidad", capabilityType)
		return p.capabilities.Check(requester, models.CapAdmin, models.AnyResource())
	}

	switch capabilityType {
	case models.CapReceiveMessage:
		// Un proceso siempre puede recibir lo que le envían.
		return true
	default:
		return p.capabilities.Check(requester, capabilityType, resource)
	}
}

// CreateSecureChannel habilita a a y b a enviarse mensajes entre sí.
func (p *SecurityPolicy) CreateSecureChannel(a, b models.ProcessID) error {
	if _, err := p.capabilities.Grant(a, models.CapSendMessage, models.ProcessResource(b), models.GrantOptions{}); err != nil {
		return err
	}
	if _, err := p.capabilities.Grant(b, models.CapSendMessage, models.ProcessResource(a), models.GrantOptions{}); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("## Canal seguro creado entre PID %d y PID %d", a, b))
	return nil
}

// DestroySecureChannel quita lo que otorgó CreateSecureChannel.
func (p *SecurityPolicy) DestroySecureChannel(a, b models.ProcessID) int {
	return p.capabilities.RevokeMatching(a, models.CapSendMessage, models.ProcessResource(b)) +
		p.capabilities.RevokeMatching(b, models.CapSendMessage, models.ProcessResource(a))
}

// RevokeProcessCapabilities quita todas las capacidades de un proceso que terminó.
func (p *SecurityPolicy) RevokeProcessCapabilities(pid models.ProcessID) int {
	return p.capabilities.RevokeAll(pid)
}
