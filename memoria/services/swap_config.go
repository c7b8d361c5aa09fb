package services

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
)

// SwapConfigManager guarda las configuraciones de swap y activa sus dispositivos
// en el SwapManager.
type SwapConfigManager struct {
	mu      sync.Mutex
	configs []models.SwapConfig
	active  map[int]*SwapDevice
	swap    *SwapManager
}

func NewSwapConfigManager(swap *SwapManager) *SwapConfigManager {
	return &SwapConfigManager{active: make(map[int]*SwapDevice), swap: swap}
}

// DefaultSwapConfig es el archivo de swap por defecto: 16 MiB, prioridad 10.
func DefaultSwapConfig() models.SwapConfig {
	return models.SwapConfig{Type: "file", Path: "/swap/swapfile", SizeMB: 16, Priority: 10, Enabled: true}
}

// DetectSwapDevices retorna los dispositivos conocidos, todos deshabilitados.
func DetectSwapDevices() []models.SwapConfig {
	return []models.SwapConfig{
		{Type: "file", Path: "/var/swap/swapfile", SizeMB: 64, Priority: 5, Enabled: false},
		{Type: "partition", Path: "/dev/sda2", PartitionID: 2, SizeMB: 128, Priority: 10, Enabled: false},
	}
}

// AddConfig agrega una configuración y retorna su índice. No la activa.
func (m *SwapConfigManager) AddConfig(config models.SwapConfig) (int, error) {
	if _, err := config.Kind(); err != nil {
		return 0, err
	}
	if config.SizeMB == 0 {
		return 0, fmt.Errorf("%w: %s sin tamaño", models.ErrInvalidSlot, config.Path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs = append(m.configs, config)
	return len(m.configs) - 1, nil
}

// RemoveConfig desactiva (si hace falta) y elimina la configuración index.
func (m *SwapConfigManager) RemoveConfig(index int) (models.SwapConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.configs) {
		return models.SwapConfig{}, fmt.Errorf("%w: %d", models.ErrConfigNotFound, index)
	}
	if err := m.deactivate(index); err != nil {
		return models.SwapConfig{}, err
	}

	removed := m.configs[index]
	m.configs = slices.Delete(m.configs, index, index+1)

	active := make(map[int]*SwapDevice, len(m.active))
	for i, device := range m.active {
		if i > index {
			i--
		}
		active[i] = device
	}
	m.active = active
	return removed, nil
}

// EnableConfig habilita la configuración y activa su dispositivo.
func (m *SwapConfigManager) EnableConfig(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.configs) {
		return fmt.Errorf("%w: %d", models.ErrConfigNotFound, index)
	}
	m.configs[index].Enabled = true
	return m.activate(index)
}

// DisableConfig deshabilita la configuración y retira su dispositivo. Falla con
// ErrSlotInUse si el dispositivo todavía guarda páginas.
func (m *SwapConfigManager) DisableConfig(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.configs) {
		return fmt.Errorf("%w: %d", models.ErrConfigNotFound, index)
	}
	if err := m.deactivate(index); err != nil {
		return err
	}
	m.configs[index].Enabled = false
	return nil
}

// ActivateDevice crea el dispositivo de la configuración index y lo agrega al swap.
func (m *SwapConfigManager) ActivateDevice(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.configs) {
		return fmt.Errorf("%w: %d", models.ErrConfigNotFound, index)
	}
	return m.activate(index)
}

// InitializeAll activa las configuraciones habilitadas de mayor a menor
// prioridad. Sigue ante errores y retorna cuántas activó.
func (m *SwapConfigManager) InitializeAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := make([]int, 0, len(m.configs))
	for i, config := range m.configs {
		if config.Enabled {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(m.configs[b].Priority, m.configs[a].Priority)
	})

	activated := 0
	var errs []error
	for _, index := range order {
		if err := m.activate(index); err != nil {
			slog.Error("No se pudo activar el dispositivo de swap", "path", m.configs[index].Path, "error", err)
			errs = append(errs, err)
			continue
		}
		activated++
	}
	slog.Info(fmt.Sprintf("## Swap inicializado - Dispositivos activos: %d/%d", activated, len(order)))
	return activated, errors.Join(errs...)
}

func (m *SwapConfigManager) activate(index int) error {
	if _, ok := m.active[index]; ok {
		return nil
	}

	config := m.configs[index]
	kind, err := config.Kind()
	if err != nil {
		return err
	}

	var device *SwapDevice
	switch kind {
	case models.SwapFile:
		device, err = NewFileSwapDevice(config.Path, config.SizeMB)
	case models.SwapPartition:
		device, err = NewPartitionSwapDevice(config.Path, config.PartitionID, config.SizeMB)
	case models.SwapMemory:
		device, err = NewMemorySwapDevice(config.Path, config.SizeMB)
	}
	if err != nil {
		return err
	}

	if _, err := m.swap.AddDevice(device); err != nil {
		device.Close()
		return err
	}
	m.active[index] = device
	return nil
}

func (m *SwapConfigManager) deactivate(index int) error {
	device, ok := m.active[index]
	if !ok {
		return nil
	}
	if position := m.swap.IndexOf(device); position >= 0 {
		if _, err := m.swap.RemoveDevice(position); err != nil {
			return err
		}
	}
	delete(m.active, index)
	return device.Close()
}

func (m *SwapConfigManager) ConfigCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.configs)
}

func (m *SwapConfigManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

func (m *SwapConfigManager) GetConfig(index int) (models.SwapConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.configs) {
		return models.SwapConfig{}, false
	}
	return m.configs[index], true
}

// Configs retorna una copia de las configuraciones.
func (m *SwapConfigManager) Configs() []models.SwapConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.configs)
}
