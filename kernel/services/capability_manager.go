package services

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"golang.org/x/exp/maps"
)

// CapabilityManager guarda las capacidades de cada proceso. La verificación
// recorre linealmente las capacidades del proceso.
type CapabilityManager struct {
	mu           sync.Mutex
	clock        Clock
	capabilities map[models.ProcessID][]models.Capability
	nextID       models.CapabilityID
	created      uint64
	checks       uint64
	failed       uint64
}

func NewCapabilityManager(clock Clock) *CapabilityManager {
	return &CapabilityManager{
		clock:        clock,
		capabilities: make(map[models.ProcessID][]models.Capability),
		nextID:       1,
	}
}

// Grant otorga a owner el permiso capabilityType sobre resource.
func (m *CapabilityManager) Grant(owner models.ProcessID, capabilityType models.CapabilityType, resource models.ResourceID, options models.GrantOptions) (models.CapabilityID, error) {
	if !capabilityType.IsValid() {
		return 0, fmt.Errorf("%w: tipo de capacidad %d", models.ErrInvalidArgument, capabilityType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.grant(owner, capabilityType, resource, options), nil
}

func (m *CapabilityManager) grant(owner models.ProcessID, capabilityType models.CapabilityType, resource models.ResourceID, options models.GrantOptions) models.CapabilityID {
	capability := models.Capability{
		ID:          m.nextID,
		Type:        capabilityType,
		Resource:    resource,
		Owner:       owner,
		Granter:     options.Granter,
		Delegatable: options.Delegatable,
		ExpiresAtMs: options.ExpiresAtMs,
		CreatedAtMs: m.clock.NowMs(),
	}
	m.nextID++
	m.created++
	m.capabilities[owner] = append(m.capabilities[owner], capability)
	slog.Debug("Capacidad otorgada", "capacidad", capability.String())
	return capability.ID
}

// Check indica si pid tiene una capacidad vigente de tipo capabilityType sobre
// resource o sobre cualquier recurso.
func (m *CapabilityManager) Check(pid models.ProcessID, capabilityType models.CapabilityType, resource models.ResourceID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks++
	now := m.clock.NowMs()
	for _, capability := range m.capabilities[pid] {
		if capability.Matches(capabilityType, resource, now) {
			return true
		}
	}
	m.failed++
	return false
}

// Delegate copia la capacidad id de from a to. Sólo se delegan capacidades
// delegables y vigentes; la copia conserva vencimiento y delegabilidad.
func (m *CapabilityManager) Delegate(from, to models.ProcessID, id models.CapabilityID) (models.CapabilityID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := slices.IndexFunc(m.capabilities[from], func(capability models.Capability) bool {
		return capability.ID == id
	})
	if index < 0 {
		return 0, fmt.Errorf("%w: %d de PID %d", models.ErrCapabilityNotFound, id, from)
	}
	original := m.capabilities[from][index]
	if !original.Delegatable {
		return 0, fmt.Errorf("%w: %d", models.ErrNotDelegatable, id)
	}
	if original.IsExpired(m.clock.NowMs()) {
		return 0, fmt.Errorf("%w: %d", models.ErrCapabilityExpired, id)
	}

	granter := from
	return m.grant(to, original.Type, original.Resource, models.GrantOptions{
		Granter:     &granter,
		Delegatable: original.Delegatable,
		ExpiresAtMs: original.ExpiresAtMs,
	}), nil
}

// Revoke quita la capacidad id a owner.
func (m *CapabilityManager) Revoke(owner models.ProcessID, id models.CapabilityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	capabilities := m.capabilities[owner]
	remaining := slices.DeleteFunc(capabilities, func(capability models.Capability) bool {
		return capability.ID == id
	})
	if len(remaining) == len(capabilities) {
		return fmt.Errorf("%w: %d de PID %d", models.ErrCapabilityNotFound, id, owner)
	}
	m.store(owner, remaining)
	return nil
}

// RevokeMatching quita a owner las capacidades de tipo capabilityType sobre
// resource y retorna cuántas quitó.
func (m *CapabilityManager) RevokeMatching(owner models.ProcessID, capabilityType models.CapabilityType, resource models.ResourceID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	capabilities := m.capabilities[owner]
	before := len(capabilities)
	remaining := slices.DeleteFunc(capabilities, func(capability models.Capability) bool {
		return capability.Type == capabilityType && capability.Resource == resource
	})
	m.store(owner, remaining)
	return before - len(remaining)
}

// RevokeAll quita todas las capacidades de owner.
func (m *CapabilityManager) RevokeAll(owner models.ProcessID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := len(m.capabilities[owner])
	delete(m.capabilities, owner)
	if revoked > 0 {
		slog.Debug("Capacidades revocadas", "pid", owner, "cantidad", revoked)
	}
	return revoked
}

// CleanupExpired descarta las capacidades vencidas y retorna cuántas eran.
func (m *CapabilityManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.NowMs()
	removed := 0
	for owner, capabilities := range m.capabilities {
		before := len(capabilities)
		remaining := slices.DeleteFunc(capabilities, func(capability models.Capability) bool {
			return capability.IsExpired(now)
		})
		removed += before - len(remaining)
		m.store(owner, remaining)
	}
	return removed
}

func (m *CapabilityManager) store(owner models.ProcessID, capabilities []models.Capability) {
	if len(capabilities) == 0 {
		delete(m.capabilities, owner)
		return
	}
	m.capabilities[owner] = capabilities
}

// Get busca una capacidad de owner por id.
func (m *CapabilityManager) Get(owner models.ProcessID, id models.CapabilityID) (models.Capability, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, capability := range m.capabilities[owner] {
		if capability.ID == id {
			return capability, true
		}
	}
	return models.Capability{}, false
}

// Capabilities retorna una copia de las capacidades de owner.
func (m *CapabilityManager) Capabilities(owner models.ProcessID) []models.Capability {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.capabilities[owner])
}

// Holders retorna, ordenados, los procesos que tienen alguna capacidad.
func (m *CapabilityManager) Holders() []models.ProcessID {
	m.mu.Lock()
	defer m.mu.Unlock()

	holders := maps.Keys(m.capabilities)
	slices.Sort(holders)
	return holders
}

func (m *CapabilityManager) Statistics() models.CapabilityStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.NowMs()
	stats := models.CapabilityStatistics{
		ProcessesWithCapabilities: len(m.capabilities),
		TotalCapabilitiesCreated:  m.created,
		ChecksPerformed:           m.checks,
		ChecksFailed:              m.failed,
	}
	for _, capabilities := range m.capabilities {
		stats.TotalCapabilities += len(capabilities)
		for _, capability := range capabilities {
			if capability.IsExpired(now) {
				stats.ExpiredCapabilities++
			}
		}
	}
	return stats
}
